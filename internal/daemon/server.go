package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"

	amerrors "github.com/Aman-CERP/amanwatch/internal/errors"
)

// RequestHandler handles incoming RPC requests.
type RequestHandler interface {
	Watch(path string) error
	Unwatch(path string) error
	Recent(limit int) []RecentChange
	GetStatus() StatusResult
	Shutdown()
}

// Server listens on a Unix socket and handles RPC requests.
type Server struct {
	socketPath string
	listener   net.Listener
	handler    RequestHandler
	started    time.Time

	mu       sync.Mutex
	shutdown bool
	wg       sync.WaitGroup
}

// NewServer creates a new server that listens on the given socket path.
func NewServer(socketPath string) (*Server, error) {
	return &Server{
		socketPath: socketPath,
	}, nil
}

// SetHandler sets the request handler.
func (s *Server) SetHandler(h RequestHandler) {
	s.handler = h
}

// ListenAndServe starts the server and blocks until context is cancelled.
// A cancelled context is a clean stop and returns nil.
func (s *Server) ListenAndServe(ctx context.Context) error {
	listener, err := s.Listen()
	if err != nil {
		return err
	}
	return s.Serve(ctx, listener)
}

// Listen binds the socket, replacing a stale one left by a crashed daemon.
func (s *Server) Listen() (net.Listener, error) {
	_ = os.Remove(s.socketPath)

	listener, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", s.socketPath, err)
	}
	return listener, nil
}

// Serve accepts connections on listener until ctx is cancelled, then waits
// for in-flight requests. The socket file is removed on return.
func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	s.mu.Lock()
	s.listener = listener
	s.started = time.Now()
	s.mu.Unlock()

	defer func() {
		_ = listener.Close()
		_ = os.Remove(s.socketPath)
	}()

	slog.Info("Server listening", slog.String("socket", s.socketPath))

	stop := context.AfterFunc(ctx, func() {
		s.mu.Lock()
		s.shutdown = true
		s.mu.Unlock()
		_ = listener.Close()
	})
	defer stop()

	for {
		conn, err := listener.Accept()
		if err != nil {
			s.mu.Lock()
			shutdown := s.shutdown
			s.mu.Unlock()
			if shutdown {
				break
			}
			slog.Error("Accept error", slog.String("error", err.Error()))
			continue
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConnection(conn)
		}()
	}

	// Wait for active connections to finish
	s.wg.Wait()
	return nil
}

// handleConnection processes a single client connection.
func (s *Server) handleConnection(conn net.Conn) {
	defer conn.Close()

	if err := conn.SetDeadline(time.Now().Add(30 * time.Second)); err != nil {
		slog.Warn("Failed to set connection deadline", slog.String("error", err.Error()))
	}

	decoder := json.NewDecoder(conn)
	encoder := json.NewEncoder(conn)

	var req Request
	if err := decoder.Decode(&req); err != nil {
		resp := NewErrorResponse("", ErrCodeParseError, "failed to parse request")
		_ = encoder.Encode(resp)
		return
	}

	resp := s.handleRequest(req)
	_ = encoder.Encode(resp)

	// Reply first so the client sees the acknowledgement.
	if req.Method == MethodShutdown && resp.Error == nil {
		s.handler.Shutdown()
	}
}

// handleRequest dispatches a request to the appropriate handler.
func (s *Server) handleRequest(req Request) Response {
	if req.JSONRPC != "2.0" {
		return NewErrorResponse(req.ID, ErrCodeInvalidRequest, "jsonrpc must be \"2.0\"")
	}

	switch req.Method {
	case MethodPing:
		return NewSuccessResponse(req.ID, PingResult{Pong: true})

	case MethodStatus:
		return NewSuccessResponse(req.ID, s.getStatus())
	}

	if s.handler == nil {
		return NewErrorResponse(req.ID, ErrCodeInternalError, "no handler configured")
	}

	switch req.Method {
	case MethodWatch:
		return s.handlePath(req, s.handler.Watch)

	case MethodUnwatch:
		return s.handlePath(req, s.handler.Unwatch)

	case MethodRecent:
		var params RecentParams
		if err := decodeParams(req.Params, &params); err != nil {
			return NewErrorResponse(req.ID, ErrCodeInvalidParams, err.Error())
		}
		_ = params.Validate()
		return NewSuccessResponse(req.ID, s.handler.Recent(params.Limit))

	case MethodShutdown:
		return NewSuccessResponse(req.ID, PingResult{Pong: true})

	default:
		return NewErrorResponse(req.ID, ErrCodeMethodNotFound, fmt.Sprintf("method not found: %s", req.Method))
	}
}

// handlePath processes a watch or unwatch request.
func (s *Server) handlePath(req Request, fn func(string) error) Response {
	var params PathParams
	if err := decodeParams(req.Params, &params); err != nil {
		return NewErrorResponse(req.ID, ErrCodeInvalidParams, err.Error())
	}
	if err := params.Validate(); err != nil {
		return NewErrorResponse(req.ID, ErrCodeInvalidParams, err.Error())
	}

	if err := fn(params.Path); err != nil {
		resp := NewErrorResponse(req.ID, rpcCode(err), err.Error())
		var ae *amerrors.AmanError
		if errors.As(err, &ae) {
			resp.Error.Message = ae.Message
			resp.Error.Data = ae.Code
		}
		return resp
	}
	return NewSuccessResponse(req.ID, PathResult{Path: params.Path})
}

// decodeParams re-decodes the generic params into dst.
func decodeParams(params any, dst any) error {
	if params == nil {
		return nil
	}
	data, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("failed to encode params")
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("failed to decode params")
	}
	return nil
}

// rpcCode maps a watch engine error to its JSON-RPC error code.
func rpcCode(err error) int {
	switch {
	case errors.Is(err, amerrors.ErrAlreadyWatching):
		return ErrCodeAlreadyWatching
	case errors.Is(err, amerrors.ErrNotWatching):
		return ErrCodeNotWatching
	case errors.Is(err, amerrors.ErrServerClosed):
		return ErrCodeServerClosed
	default:
		return ErrCodeWatchFailed
	}
}

// getStatus returns the current server status.
func (s *Server) getStatus() StatusResult {
	s.mu.Lock()
	started := s.started
	s.mu.Unlock()

	status := StatusResult{}
	if s.handler != nil {
		status = s.handler.GetStatus()
	}

	status.Running = true
	status.PID = os.Getpid()
	status.Uptime = time.Since(started).Round(time.Second).String()
	return status
}

// Close stops the server.
func (s *Server) Close() error {
	s.mu.Lock()
	s.shutdown = true
	listener := s.listener
	s.mu.Unlock()

	if listener != nil {
		return listener.Close()
	}
	return nil
}
