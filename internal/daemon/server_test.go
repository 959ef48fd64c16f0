package daemon

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	amerrors "github.com/Aman-CERP/amanwatch/internal/errors"
)

// testSocketPath creates a unique socket path that's short enough for Unix sockets.
func testSocketPath(t *testing.T) string {
	t.Helper()
	socketPath := filepath.Join("/tmp", fmt.Sprintf("amanwatch-test-%d.sock", time.Now().UnixNano()))
	t.Cleanup(func() { os.Remove(socketPath) })
	return socketPath
}

// mockHandler records calls and answers from canned values.
type mockHandler struct {
	mu        sync.Mutex
	watched   map[string]bool
	watchErr  error
	recent    []RecentChange
	shutdowns int
}

func newMockHandler() *mockHandler {
	return &mockHandler{watched: make(map[string]bool)}
}

func (m *mockHandler) Watch(path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.watchErr != nil {
		return m.watchErr
	}
	if m.watched[path] {
		return amerrors.AlreadyWatching(path)
	}
	m.watched[path] = true
	return nil
}

func (m *mockHandler) Unwatch(path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.watched[path] {
		return amerrors.NotWatching(path)
	}
	delete(m.watched, path)
	return nil
}

func (m *mockHandler) Recent(limit int) []RecentChange {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.recent[:min(limit, len(m.recent))]
}

func (m *mockHandler) GetStatus() StatusResult {
	m.mu.Lock()
	defer m.mu.Unlock()
	status := StatusResult{Watching: []string{}, EventsDelivered: 42}
	for p := range m.watched {
		status.Watching = append(status.Watching, p)
	}
	return status
}

func (m *mockHandler) Shutdown() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.shutdowns++
}

func (m *mockHandler) shutdownCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.shutdowns
}

// startServer runs a server with h until the test ends.
func startServer(t *testing.T, h RequestHandler) string {
	t.Helper()
	socketPath := testSocketPath(t)

	srv, err := NewServer(socketPath)
	require.NoError(t, err)
	if h != nil {
		srv.SetHandler(h)
	}
	listener, err := srv.Listen()
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, listener) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return socketPath
}

// roundTrip sends one raw request line and decodes the response.
func roundTrip(t *testing.T, socketPath string, req any) Response {
	t.Helper()
	conn, err := net.Dial("unix", socketPath)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, json.NewEncoder(conn).Encode(req))

	var resp Response
	require.NoError(t, json.NewDecoder(conn).Decode(&resp))
	return resp
}

func TestNewServer(t *testing.T) {
	socketPath := testSocketPath(t)

	srv, err := NewServer(socketPath)
	require.NoError(t, err)
	assert.NotNil(t, srv)
	assert.Equal(t, socketPath, srv.socketPath)
}

func TestServer_ListenAndServe(t *testing.T) {
	socketPath := testSocketPath(t)
	// A stale socket from a crashed daemon is replaced.
	require.NoError(t, os.WriteFile(socketPath, nil, 0o600))

	srv, err := NewServer(socketPath)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe(ctx)
	}()

	require.Eventually(t, func() bool {
		conn, err := net.Dial("unix", socketPath)
		if err != nil {
			return false
		}
		_ = conn.Close()
		return true
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("server did not stop")
	}

	_, err = os.Stat(socketPath)
	assert.True(t, os.IsNotExist(err), "socket should be removed on exit")
}

func TestServer_HandlePing(t *testing.T) {
	socketPath := startServer(t, nil)

	resp := roundTrip(t, socketPath, Request{JSONRPC: "2.0", Method: MethodPing, ID: "1"})

	assert.Equal(t, "1", resp.ID)
	assert.Nil(t, resp.Error)
	assert.Equal(t, map[string]any{"pong": true}, resp.Result)
}

func TestServer_HandleStatus(t *testing.T) {
	h := newMockHandler()
	h.watched["/srv"] = true
	socketPath := startServer(t, h)

	resp := roundTrip(t, socketPath, Request{JSONRPC: "2.0", Method: MethodStatus, ID: "s"})

	require.Nil(t, resp.Error)
	result := resp.Result.(map[string]any)
	assert.Equal(t, true, result["running"])
	assert.Equal(t, float64(os.Getpid()), result["pid"])
	assert.Equal(t, []any{"/srv"}, result["watching"])
	assert.Equal(t, float64(42), result["events_delivered"])
}

func TestServer_HandleStatus_NoHandler(t *testing.T) {
	socketPath := startServer(t, nil)

	resp := roundTrip(t, socketPath, Request{JSONRPC: "2.0", Method: MethodStatus, ID: "s"})

	require.Nil(t, resp.Error)
	assert.Equal(t, true, resp.Result.(map[string]any)["running"])
}

func TestServer_WatchAndUnwatch(t *testing.T) {
	h := newMockHandler()
	socketPath := startServer(t, h)

	// Given: a fresh path
	resp := roundTrip(t, socketPath, Request{JSONRPC: "2.0", Method: MethodWatch, Params: PathParams{Path: "/srv"}, ID: "1"})
	require.Nil(t, resp.Error)
	assert.Equal(t, map[string]any{"path": "/srv"}, resp.Result)

	// When: watching it again
	resp = roundTrip(t, socketPath, Request{JSONRPC: "2.0", Method: MethodWatch, Params: PathParams{Path: "/srv"}, ID: "2"})

	// Then: the duplicate is reported with its own code
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodeAlreadyWatching, resp.Error.Code)
	assert.Equal(t, amerrors.ErrCodeAlreadyWatching, resp.Error.Data)
	assert.Equal(t, "already watching path", resp.Error.Message)

	resp = roundTrip(t, socketPath, Request{JSONRPC: "2.0", Method: MethodUnwatch, Params: PathParams{Path: "/srv"}, ID: "3"})
	require.Nil(t, resp.Error)

	resp = roundTrip(t, socketPath, Request{JSONRPC: "2.0", Method: MethodUnwatch, Params: PathParams{Path: "/srv"}, ID: "4"})
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodeNotWatching, resp.Error.Code)
}

func TestServer_WatchErrorCodes(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code int
	}{
		{"cannot open", amerrors.CannotOpen("/x", os.ErrNotExist), ErrCodeWatchFailed},
		{"cannot arm", amerrors.CannotArm("/x", os.ErrInvalid), ErrCodeWatchFailed},
		{"server closed", amerrors.ServerClosed(), ErrCodeServerClosed},
		{"plain error", fmt.Errorf("boom"), ErrCodeWatchFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newMockHandler()
			h.watchErr = tt.err
			socketPath := startServer(t, h)

			resp := roundTrip(t, socketPath, Request{JSONRPC: "2.0", Method: MethodWatch, Params: PathParams{Path: "/x"}, ID: "1"})

			require.NotNil(t, resp.Error)
			assert.Equal(t, tt.code, resp.Error.Code)
		})
	}
}

func TestServer_WatchMissingPath(t *testing.T) {
	socketPath := startServer(t, newMockHandler())

	resp := roundTrip(t, socketPath, Request{JSONRPC: "2.0", Method: MethodWatch, ID: "1"})

	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodeInvalidParams, resp.Error.Code)
}

func TestServer_WatchWithoutHandler(t *testing.T) {
	socketPath := startServer(t, nil)

	resp := roundTrip(t, socketPath, Request{JSONRPC: "2.0", Method: MethodWatch, Params: PathParams{Path: "/x"}, ID: "1"})

	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodeInternalError, resp.Error.Code)
}

func TestServer_HandleRecent(t *testing.T) {
	h := newMockHandler()
	h.recent = []RecentChange{{Path: "/a", Kind: "CREATED"}, {Path: "/b", Kind: "REMOVED"}}
	socketPath := startServer(t, h)

	resp := roundTrip(t, socketPath, Request{JSONRPC: "2.0", Method: MethodRecent, Params: RecentParams{Limit: 1}, ID: "1"})

	require.Nil(t, resp.Error)
	changes := resp.Result.([]any)
	require.Len(t, changes, 1)
	assert.Equal(t, "/a", changes[0].(map[string]any)["path"])
}

func TestServer_HandleShutdown(t *testing.T) {
	h := newMockHandler()
	socketPath := startServer(t, h)

	resp := roundTrip(t, socketPath, Request{JSONRPC: "2.0", Method: MethodShutdown, ID: "1"})

	require.Nil(t, resp.Error)
	assert.Eventually(t, func() bool { return h.shutdownCount() == 1 }, 2*time.Second, 10*time.Millisecond)
}

func TestServer_UnknownMethod(t *testing.T) {
	socketPath := startServer(t, newMockHandler())

	resp := roundTrip(t, socketPath, Request{JSONRPC: "2.0", Method: "search", ID: "1"})

	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodeMethodNotFound, resp.Error.Code)
	assert.Contains(t, resp.Error.Message, "search")
}

func TestServer_WrongVersion(t *testing.T) {
	socketPath := startServer(t, nil)

	resp := roundTrip(t, socketPath, Request{JSONRPC: "1.0", Method: MethodPing, ID: "1"})

	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodeInvalidRequest, resp.Error.Code)
}

func TestServer_MalformedRequest(t *testing.T) {
	socketPath := startServer(t, nil)

	conn, err := net.Dial("unix", socketPath)
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte("this is not json\n"))
	require.NoError(t, err)

	var resp Response
	require.NoError(t, json.NewDecoder(conn).Decode(&resp))
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodeParseError, resp.Error.Code)
}

func TestServer_Close(t *testing.T) {
	srv, err := NewServer(testSocketPath(t))
	require.NoError(t, err)

	// Close before listening is a no-op.
	assert.NoError(t, srv.Close())
}
