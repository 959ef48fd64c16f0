package watcher

import (
	"log/slog"
	"runtime"
	"sync/atomic"

	amerrors "github.com/Aman-CERP/amanwatch/internal/errors"
	"github.com/Aman-CERP/amanwatch/internal/pathnorm"
)

type commandKind int

const (
	cmdStart commandKind = iota
	cmdStop
	cmdTerminate
)

// command is a request marshaled onto the engine goroutine. Only cmdStart
// carries an ack; it is buffered so the engine never blocks on it.
type command struct {
	kind commandKind
	path string
	ack  chan error
}

// Metrics is a point-in-time snapshot of engine counters.
type Metrics struct {
	ActiveWatches   int
	WatchesStarted  uint64
	WatchesFinished uint64
	EventsDelivered uint64
	// Overflows counts reads that completed empty because the change
	// buffer could not hold every record.
	Overflows uint64
}

type counters struct {
	started   atomic.Uint64
	finalized atomic.Uint64
	events    atomic.Uint64
	overflows atomic.Uint64
}

// engine is the single owner of the port, the registry and every watch
// point. Everything but submit and the counters runs on the engine goroutine.
type engine struct {
	port     port
	registry *registry
	sink     Sink
	opts     Options
	logger   *slog.Logger

	commands    chan command
	terminating bool
	stats       counters

	// stopping is closed when the loop ends, before the port is closed.
	// done is closed once the engine has fully exited.
	stopping chan struct{}
	done     chan struct{}
}

func newEngine(p port, sink Sink, opts Options) *engine {
	return &engine{
		port:     p,
		registry: newRegistry(),
		sink:     sink,
		opts:     opts,
		logger:   opts.Logger,
		commands: make(chan command, opts.CommandQueueSize),
		stopping: make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// submit queues a command and wakes the engine. It fails once the engine
// loop has ended.
func (e *engine) submit(cmd command) error {
	select {
	case <-e.stopping:
		return amerrors.ServerClosed()
	default:
	}

	select {
	case e.commands <- cmd:
	case <-e.stopping:
		return amerrors.ServerClosed()
	}

	if err := e.port.wake(); err != nil {
		// The port is only closed after stopping, so a wake that fails
		// while stopping is the engine going away.
		select {
		case <-e.stopping:
			return amerrors.ServerClosed()
		default:
		}
		e.logger.Error("couldn't wake watcher engine", slog.String("error", err.Error()))
		return amerrors.InternalError("failed to wake watcher engine", err)
	}
	return nil
}

// run is the engine loop. It returns once termination was requested and
// every watch point has been finalized, or when the port fails.
func (e *engine) run() {
	// Reads can only be cancelled from the thread that issued them.
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	defer close(e.done)

	e.logger.Debug("watcher engine started")

	for !e.terminating || e.registry.len() > 0 {
		c, err := e.port.wait()
		if err != nil {
			e.logger.Error("waiting for completions failed, abandoning all watches",
				slog.String("error", err.Error()))
			e.abandon()
			break
		}

		if c.key == wakeKey {
			e.drainCommands()
			continue
		}
		e.dispatch(c)
	}

	close(e.stopping)
	e.rejectPending()
	if err := e.port.close(); err != nil {
		e.logger.Warn("couldn't close completion port", slog.String("error", err.Error()))
	}
	e.logger.Debug("watcher engine stopped")
}

func (e *engine) drainCommands() {
	for {
		select {
		case cmd := <-e.commands:
			e.handle(cmd)
		default:
			return
		}
	}
}

func (e *engine) handle(cmd command) {
	switch cmd.kind {
	case cmdStart:
		cmd.ack <- e.handleStart(cmd.path)
	case cmdStop:
		e.handleStop(cmd.path)
	case cmdTerminate:
		e.handleTerminate()
	}
}

func (e *engine) handleStart(path string) error {
	if e.terminating {
		return amerrors.ServerClosed()
	}

	normalized := pathnorm.ToExtended(path)
	if _, ok := e.registry.lookupPath(normalized); ok {
		return amerrors.AlreadyWatching(path)
	}

	key := e.registry.allocKey()
	dir, err := e.port.open(normalized, key)
	if err != nil {
		e.logger.Error("couldn't open directory",
			slog.String("path", normalized),
			slog.String("error", err.Error()))
		return amerrors.CannotOpen(path, err)
	}

	w := newWatchPoint(key, normalized, dir, e.opts.BufferSize, e.port.separator(), e.logger)
	if err := w.arm(); err != nil {
		w.release()
		return amerrors.CannotArm(path, err)
	}

	e.registry.add(w)
	e.stats.started.Add(1)
	e.logger.Info("started watching", slog.String("path", normalized))
	return nil
}

func (e *engine) handleStop(path string) {
	normalized := pathnorm.ToExtended(path)
	w, ok := e.registry.lookupPath(normalized)
	if !ok {
		// The watch finalized between the caller's check and now.
		e.logger.Warn("stop requested for path that is not watched", slog.String("path", normalized))
		return
	}
	e.logger.Info("stopping watch", slog.String("path", normalized))
	if w.close() {
		e.finalize(w)
	}
}

func (e *engine) handleTerminate() {
	if e.terminating {
		return
	}
	e.terminating = true
	e.logger.Info("terminating watcher engine", slog.Int("active_watches", e.registry.len()))

	for _, w := range e.registry.all() {
		if w.close() {
			e.finalize(w)
		}
	}
}

func (e *engine) dispatch(c completion) {
	w, ok := e.registry.lookupKey(c.key)
	if !ok {
		e.logger.Debug("completion for finalized watch", slog.Uint64("key", c.key))
		return
	}
	// Only a clean empty completion is a buffer overflow. Read errors and
	// malformed buffers invalidate too but are not counted here.
	if c.err == nil && (c.n == 0 || int(c.n) > len(w.buffer)) {
		e.stats.overflows.Add(1)
	}
	if w.handleCompletion(c.n, c.err, e.emit) {
		e.finalize(w)
	}
}

func (e *engine) emit(ev Event) {
	e.stats.events.Add(1)
	e.sink.OnEvent(ev)
}

// finalize releases the handle, unregisters the watch point and reports it.
// It runs exactly once per registered watch point.
func (e *engine) finalize(w *watchPoint) {
	w.release()
	w.status = StatusClosed
	e.registry.remove(w)
	e.stats.finalized.Add(1)

	e.logger.Info("stopped watching", slog.String("path", w.path))
	e.sink.OnWatchFinalized(w.displayPath())
}

// abandon finalizes every watch point without waiting for completions,
// which will never arrive once the port has failed.
func (e *engine) abandon() {
	e.terminating = true
	for _, w := range e.registry.all() {
		w.closing = true
		e.finalize(w)
	}
}

// rejectPending fails commands that arrived after the loop ended.
func (e *engine) rejectPending() {
	for {
		select {
		case cmd := <-e.commands:
			if cmd.kind == cmdStart {
				cmd.ack <- amerrors.ServerClosed()
			}
		default:
			return
		}
	}
}

func (e *engine) metrics() Metrics {
	return Metrics{
		ActiveWatches:   len(e.registry.snapshot()),
		WatchesStarted:  e.stats.started.Load(),
		WatchesFinished: e.stats.finalized.Load(),
		EventsDelivered: e.stats.events.Load(),
		Overflows:       e.stats.overflows.Load(),
	}
}
