package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"sync/atomic"
	"time"

	amerrors "github.com/Aman-CERP/amanwatch/internal/errors"
)

// Client talks to a running daemon.
type Client struct {
	socketPath string
	timeout    time.Duration
	requestID  atomic.Uint64
}

// NewClient creates a new daemon client.
func NewClient(cfg Config) *Client {
	return &Client{
		socketPath: cfg.SocketPath,
		timeout:    cfg.Timeout,
	}
}

// Connect establishes a connection to the daemon.
// Failures are retryable: the daemon may still be starting.
func (c *Client) Connect() (net.Conn, error) {
	conn, err := net.DialTimeout("unix", c.socketPath, c.timeout)
	if err != nil {
		return nil, amerrors.DaemonError("failed to connect to daemon", err).
			WithDetail("socket", c.socketPath)
	}
	return conn, nil
}

// IsRunning checks if the daemon is accepting connections.
func (c *Client) IsRunning() bool {
	conn, err := c.Connect()
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}

// Ping checks if the daemon is responsive.
func (c *Client) Ping(ctx context.Context) error {
	var result PingResult
	return c.call(ctx, MethodPing, nil, &result)
}

// Status retrieves daemon status.
func (c *Client) Status(ctx context.Context) (*StatusResult, error) {
	var status StatusResult
	if err := c.call(ctx, MethodStatus, nil, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// Watch asks the daemon to start watching path.
func (c *Client) Watch(ctx context.Context, path string) error {
	params := PathParams{Path: path}
	if err := params.Validate(); err != nil {
		return fmt.Errorf("invalid params: %w", err)
	}
	var result PathResult
	return c.call(ctx, MethodWatch, params, &result)
}

// Unwatch asks the daemon to stop watching path.
func (c *Client) Unwatch(ctx context.Context, path string) error {
	params := PathParams{Path: path}
	if err := params.Validate(); err != nil {
		return fmt.Errorf("invalid params: %w", err)
	}
	var result PathResult
	return c.call(ctx, MethodUnwatch, params, &result)
}

// Recent returns up to limit recently changed paths, newest first.
func (c *Client) Recent(ctx context.Context, limit int) ([]RecentChange, error) {
	var changes []RecentChange
	if err := c.call(ctx, MethodRecent, RecentParams{Limit: limit}, &changes); err != nil {
		return nil, err
	}
	return changes, nil
}

// Shutdown asks the daemon to stop. It returns once the request is
// acknowledged, not when the daemon has exited.
func (c *Client) Shutdown(ctx context.Context) error {
	var result PingResult
	return c.call(ctx, MethodShutdown, nil, &result)
}

// call sends one request on a fresh connection and decodes the result.
func (c *Client) call(ctx context.Context, method string, params any, result any) error {
	conn, err := c.Connect()
	if err != nil {
		return err
	}
	defer conn.Close()

	// Set deadline from context or timeout
	deadline := time.Now().Add(c.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := conn.SetDeadline(deadline); err != nil {
		return fmt.Errorf("failed to set deadline: %w", err)
	}

	req := Request{
		JSONRPC: "2.0",
		Method:  method,
		Params:  params,
		ID:      c.nextID(),
	}

	if err := c.send(conn, req); err != nil {
		return err
	}

	resp, err := c.receive(conn)
	if err != nil {
		return err
	}

	if resp.Error != nil {
		return remoteError(method, resp.Error)
	}

	resultData, err := json.Marshal(resp.Result)
	if err != nil {
		return fmt.Errorf("failed to marshal result: %w", err)
	}
	if err := json.Unmarshal(resultData, result); err != nil {
		return fmt.Errorf("failed to decode %s result: %w", method, err)
	}
	return nil
}

// remoteError rebuilds the daemon's error so errors.Is works on the
// client side.
func remoteError(method string, e *Error) error {
	if code, ok := e.Data.(string); ok && code != "" {
		return amerrors.New(code, e.Message, nil)
	}
	return fmt.Errorf("%s failed: %s (code: %d)", method, e.Message, e.Code)
}

// send encodes and writes a request to the connection.
func (c *Client) send(conn net.Conn, req Request) error {
	encoder := json.NewEncoder(conn)
	if err := encoder.Encode(req); err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	return nil
}

// receive reads and decodes a response from the connection.
func (c *Client) receive(conn net.Conn) (*Response, error) {
	decoder := json.NewDecoder(conn)
	var resp Response
	if err := decoder.Decode(&resp); err != nil {
		if errors.Is(err, os.ErrDeadlineExceeded) {
			return nil, amerrors.New(amerrors.ErrCodeDaemonTimeout, "daemon did not answer in time", err)
		}
		return nil, fmt.Errorf("failed to receive response: %w", err)
	}
	return &resp, nil
}

// nextID generates a unique request ID.
func (c *Client) nextID() string {
	id := c.requestID.Add(1)
	return fmt.Sprintf("req-%d", id)
}
