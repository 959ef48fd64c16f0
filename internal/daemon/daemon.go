package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	amerrors "github.com/Aman-CERP/amanwatch/internal/errors"
	"github.com/Aman-CERP/amanwatch/internal/watcher"
)

// Daemon owns a watch engine and exposes it over the RPC socket and the
// event stream.
type Daemon struct {
	cfg    Config
	logger *slog.Logger

	rpc         *Server
	recent      *RecentChanges
	broadcaster *Broadcaster
	lock        *InstanceLock
	pidFile     *PIDFile

	mu         sync.Mutex
	watcher    *watcher.Server
	eventsAddr string

	ready    chan struct{}
	stop     chan struct{}
	stopOnce sync.Once
}

// NewDaemon creates a daemon. Nothing is started until Run.
func NewDaemon(cfg Config) (*Daemon, error) {
	if err := cfg.Validate(); err != nil {
		return nil, amerrors.ConfigError("invalid daemon configuration", err)
	}

	recent, err := NewRecentChanges(cfg.RecentSize)
	if err != nil {
		return nil, err
	}

	rpc, err := NewServer(cfg.SocketPath)
	if err != nil {
		return nil, err
	}

	logger := cfg.Watcher.Logger
	if logger == nil {
		logger = slog.Default()
	}

	d := &Daemon{
		cfg:         cfg,
		logger:      logger,
		rpc:         rpc,
		recent:      recent,
		broadcaster: NewBroadcaster(),
		lock:        NewInstanceLock(cfg.LockPath()),
		pidFile:     NewPIDFile(cfg.PIDPath),
		ready:       make(chan struct{}),
		stop:        make(chan struct{}),
	}
	rpc.SetHandler(d)
	return d, nil
}

// Run starts the daemon and blocks until ctx is cancelled or a client asks
// it to shut down. Returns ErrAlreadyRunning if another daemon holds the lock.
func (d *Daemon) Run(ctx context.Context) error {
	if err := d.cfg.EnsureDir(); err != nil {
		return err
	}
	if err := d.lock.TryLock(); err != nil {
		return err
	}
	defer func() { _ = d.lock.Unlock() }()

	if err := d.pidFile.Write(); err != nil {
		return err
	}
	defer func() { _ = d.pidFile.Remove() }()

	srv, err := watcher.NewServer(d, d.cfg.Watcher)
	if err != nil {
		return err
	}
	d.mu.Lock()
	d.watcher = srv
	d.mu.Unlock()
	// Listeners are closed by the time this runs, so no request races it.
	defer srv.Shutdown()

	for _, path := range d.cfg.Paths {
		if err := srv.StartWatching(path); err != nil {
			d.logger.Warn("failed to watch configured path",
				slog.String("path", path),
				slog.String("error", err.Error()))
		}
	}

	rpcListener, err := d.rpc.Listen()
	if err != nil {
		return err
	}

	var events net.Listener
	if d.cfg.EventsAddr != "" {
		events, err = net.Listen("tcp", d.cfg.EventsAddr)
		if err != nil {
			_ = rpcListener.Close()
			return fmt.Errorf("failed to listen on %s: %w", d.cfg.EventsAddr, err)
		}
		d.mu.Lock()
		d.eventsAddr = events.Addr().String()
		d.mu.Unlock()
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return d.rpc.Serve(gctx, rpcListener)
	})

	if events != nil {
		mux := http.NewServeMux()
		mux.Handle("/events", d.broadcaster)
		httpSrv := &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}

		g.Go(func() error {
			d.logger.Info("event stream listening", slog.String("addr", events.Addr().String()))
			if err := httpSrv.Serve(events); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("event stream failed: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			// Ends the hijacked websocket connections, which Shutdown ignores.
			d.broadcaster.Close()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), d.cfg.ShutdownGracePeriod)
			defer cancel()
			return httpSrv.Shutdown(shutdownCtx)
		})
	}

	g.Go(func() error {
		select {
		case <-gctx.Done():
		case <-d.stop:
			d.logger.Info("shutdown requested")
		}
		cancel()
		return nil
	})

	d.logger.Info("daemon started",
		slog.Int("pid", os.Getpid()),
		slog.String("socket", d.cfg.SocketPath),
		slog.Int("watching", len(srv.Watching())))
	close(d.ready)

	err = g.Wait()
	d.broadcaster.Close()
	d.logger.Info("daemon stopping")
	return err
}

// Ready is closed once the daemon accepts requests.
func (d *Daemon) Ready() <-chan struct{} {
	return d.ready
}

// EventsAddr returns the address the event stream listens on, or "" if
// streaming is disabled.
func (d *Daemon) EventsAddr() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.eventsAddr
}

func (d *Daemon) server() (*watcher.Server, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.watcher == nil {
		return nil, amerrors.ServerClosed()
	}
	return d.watcher, nil
}

// Watch implements RequestHandler.
func (d *Daemon) Watch(path string) error {
	srv, err := d.server()
	if err != nil {
		return err
	}
	return srv.StartWatching(path)
}

// Unwatch implements RequestHandler.
func (d *Daemon) Unwatch(path string) error {
	srv, err := d.server()
	if err != nil {
		return err
	}
	return srv.StopWatching(path)
}

// Recent implements RequestHandler.
func (d *Daemon) Recent(limit int) []RecentChange {
	return d.recent.List(limit)
}

// GetStatus implements RequestHandler.
func (d *Daemon) GetStatus() StatusResult {
	status := StatusResult{
		Watching:    []string{},
		EventsAddr:  d.EventsAddr(),
		Subscribers: d.broadcaster.Subscribers(),
	}

	srv, err := d.server()
	if err != nil {
		return status
	}
	m := srv.Metrics()
	status.Watching = srv.Watching()
	status.WatchesStarted = m.WatchesStarted
	status.WatchesFinished = m.WatchesFinished
	status.EventsDelivered = m.EventsDelivered
	status.Overflows = m.Overflows
	return status
}

// Shutdown implements RequestHandler. It only signals Run to stop.
func (d *Daemon) Shutdown() {
	d.stopOnce.Do(func() { close(d.stop) })
}

// OnEvent implements watcher.Sink. It runs on the engine goroutine.
func (d *Daemon) OnEvent(ev watcher.Event) {
	d.logger.Debug("change",
		slog.String("kind", ev.Kind.String()),
		slog.String("path", ev.Path))
	d.recent.Record(ev)
	d.broadcaster.BroadcastEvent(ev)
}

// OnWatchFinalized implements watcher.Sink. It runs on the engine goroutine.
func (d *Daemon) OnWatchFinalized(path string) {
	d.logger.Info("watch finalized", slog.String("path", path))
	d.broadcaster.BroadcastFinalized(path)
}
