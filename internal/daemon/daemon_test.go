package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	amerrors "github.com/Aman-CERP/amanwatch/internal/errors"
	"github.com/Aman-CERP/amanwatch/internal/watcher"
)

// daemonTestConfig creates a test configuration with unique paths.
func daemonTestConfig(t *testing.T) Config {
	t.Helper()
	socketPath := filepath.Join("/tmp", fmt.Sprintf("amanwatch-daemon-test-%d.sock", time.Now().UnixNano()))
	t.Cleanup(func() { os.Remove(socketPath) })

	return Config{
		SocketPath:          socketPath,
		PIDPath:             filepath.Join(t.TempDir(), "daemon.pid"),
		EventsAddr:          "127.0.0.1:0",
		Timeout:             5 * time.Second,
		ShutdownGracePeriod: 2 * time.Second,
		RecentSize:          16,
		Watcher: watcher.Options{
			BufferSize: watcher.MinBufferSize,
			Logger:     slog.New(slog.DiscardHandler),
		},
	}
}

// runDaemon starts d and waits until it accepts requests.
func runDaemon(t *testing.T, d *Daemon) (context.CancelFunc, <-chan error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- d.Run(ctx) }()

	select {
	case <-d.Ready():
	case err := <-errCh:
		cancel()
		t.Fatalf("daemon exited early: %v", err)
	case <-time.After(5 * time.Second):
		cancel()
		t.Fatal("daemon did not start")
	}
	t.Cleanup(cancel)
	return cancel, errCh
}

func awaitExit(t *testing.T, errCh <-chan error) error {
	t.Helper()
	select {
	case err := <-errCh:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("daemon did not stop")
		return nil
	}
}

func TestNewDaemon_InvalidConfig(t *testing.T) {
	cfg := daemonTestConfig(t)
	cfg.RecentSize = 0

	_, err := NewDaemon(cfg)

	require.Error(t, err)
	assert.Equal(t, amerrors.ErrCodeConfigInvalid, amerrors.GetCode(err))
}

func TestDaemon_HandlerBeforeRun(t *testing.T) {
	d, err := NewDaemon(daemonTestConfig(t))
	require.NoError(t, err)

	assert.ErrorIs(t, d.Watch(t.TempDir()), amerrors.ErrServerClosed)
	assert.ErrorIs(t, d.Unwatch(t.TempDir()), amerrors.ErrServerClosed)
	assert.Equal(t, []string{}, d.GetStatus().Watching)
	assert.Empty(t, d.EventsAddr())
}

func TestDaemon_EndToEnd(t *testing.T) {
	// Given: a running daemon with event streaming
	cfg := daemonTestConfig(t)
	d, err := NewDaemon(cfg)
	require.NoError(t, err)
	_, errCh := runDaemon(t, d)

	client := NewClient(cfg)
	ctx := context.Background()
	require.NoError(t, client.Ping(ctx))

	pid, err := NewPIDFile(cfg.PIDPath).Read()
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), pid)

	conn, _, err := websocket.DefaultDialer.Dial("ws://"+d.EventsAddr()+"/events", nil)
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return d.broadcaster.Subscribers() == 1 }, 2*time.Second, 5*time.Millisecond)

	// When: a directory is watched and a file appears in it
	dir := t.TempDir()
	require.NoError(t, client.Watch(ctx, dir))
	assert.ErrorIs(t, client.Watch(ctx, dir), amerrors.ErrAlreadyWatching)

	file := filepath.Join(dir, "hello.txt")
	require.NoError(t, os.WriteFile(file, []byte("hi"), 0o644))

	// Then: subscribers see it
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	for {
		var msg EventMessage
		require.NoError(t, conn.ReadJSON(&msg))
		if msg.Type == MessageEvent && msg.Kind == "CREATED" && msg.Path == file {
			break
		}
	}

	// And: it is remembered as a recent change
	require.Eventually(t, func() bool {
		changes, err := client.Recent(ctx, 10)
		if err != nil {
			return false
		}
		for _, c := range changes {
			if c.Path == file {
				return true
			}
		}
		return false
	}, 5*time.Second, 20*time.Millisecond)

	status, err := client.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{dir}, status.Watching)
	assert.Equal(t, uint64(1), status.WatchesStarted)
	assert.NotZero(t, status.EventsDelivered)
	assert.Equal(t, d.EventsAddr(), status.EventsAddr)
	assert.Equal(t, 1, status.Subscribers)

	// And: unwatching produces a finalize notice
	require.NoError(t, client.Unwatch(ctx, dir))
	for {
		var msg EventMessage
		require.NoError(t, conn.ReadJSON(&msg))
		if msg.Type == MessageFinalized {
			assert.Equal(t, dir, msg.Path)
			break
		}
	}
	assert.ErrorIs(t, client.Unwatch(ctx, dir), amerrors.ErrNotWatching)

	// Finally: a shutdown request stops the daemon and cleans up
	require.NoError(t, client.Shutdown(ctx))
	assert.NoError(t, awaitExit(t, errCh))

	_, err = os.Stat(cfg.PIDPath)
	assert.True(t, os.IsNotExist(err), "pid file should be removed")
	_, err = os.Stat(cfg.SocketPath)
	assert.True(t, os.IsNotExist(err), "socket should be removed")
	held, err := IsHeld(cfg.LockPath())
	require.NoError(t, err)
	assert.False(t, held)
	assert.False(t, client.IsRunning())
}

func TestDaemon_WatchesConfiguredPaths(t *testing.T) {
	cfg := daemonTestConfig(t)
	cfg.EventsAddr = ""
	good := t.TempDir()
	cfg.Paths = []string{good, filepath.Join(t.TempDir(), "missing")}

	d, err := NewDaemon(cfg)
	require.NoError(t, err)
	cancel, errCh := runDaemon(t, d)

	// The missing path is logged and skipped.
	status, err := NewClient(cfg).Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{good}, status.Watching)
	assert.Empty(t, status.EventsAddr)

	cancel()
	assert.NoError(t, awaitExit(t, errCh))
}

func TestDaemon_SingleInstance(t *testing.T) {
	cfg := daemonTestConfig(t)
	first, err := NewDaemon(cfg)
	require.NoError(t, err)
	cancel, errCh := runDaemon(t, first)

	held, err := IsHeld(cfg.LockPath())
	require.NoError(t, err)
	assert.True(t, held)

	// A second daemon on the same state directory is refused.
	second, err := NewDaemon(cfg)
	require.NoError(t, err)
	assert.ErrorIs(t, second.Run(context.Background()), ErrAlreadyRunning)

	// The first keeps serving.
	require.NoError(t, NewClient(cfg).Ping(context.Background()))

	cancel()
	assert.NoError(t, awaitExit(t, errCh))
}

func TestDaemon_EventsAddrInUse(t *testing.T) {
	cfg := daemonTestConfig(t)
	first, err := NewDaemon(cfg)
	require.NoError(t, err)
	cancel, errCh := runDaemon(t, first)
	defer func() {
		cancel()
		_ = awaitExit(t, errCh)
	}()

	// Same events address, separate state directory.
	other := daemonTestConfig(t)
	other.EventsAddr = first.EventsAddr()
	second, err := NewDaemon(other)
	require.NoError(t, err)

	err = second.Run(context.Background())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to listen")
	_, statErr := os.Stat(other.PIDPath)
	assert.True(t, os.IsNotExist(statErr), "pid file should be removed after a failed start")
}

func TestDaemon_SinkRecordsAndBroadcasts(t *testing.T) {
	d, err := NewDaemon(daemonTestConfig(t))
	require.NoError(t, err)
	ch, cancel := d.broadcaster.Subscribe()
	defer cancel()

	d.OnEvent(watcher.Event{Kind: watcher.EventModified, Path: "/srv/a"})
	d.OnWatchFinalized("/srv")

	changes := d.Recent(5)
	require.Len(t, changes, 1)
	assert.Equal(t, "MODIFIED", changes[0].Kind)

	assert.Equal(t, MessageEvent, (<-ch).Type)
	assert.Equal(t, MessageFinalized, (<-ch).Type)
}
