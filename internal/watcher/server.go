package watcher

import (
	"log/slog"
	"sync"

	amerrors "github.com/Aman-CERP/amanwatch/internal/errors"
	"github.com/Aman-CERP/amanwatch/internal/pathnorm"
)

// Server is the entry point of the watch engine. Its methods are safe for
// concurrent use; the engine itself runs on one dedicated goroutine.
type Server struct {
	sink   Sink
	engine *engine

	shutdownOnce sync.Once
}

// NewServer starts a watch engine that reports to sink.
func NewServer(sink Sink, opts Options) (*Server, error) {
	opts = opts.WithDefaults()
	if err := opts.Validate(); err != nil {
		return nil, amerrors.ValidationError("invalid watcher options", err)
	}

	p, err := newPort(opts)
	if err != nil {
		return nil, amerrors.InternalError("failed to create completion port", err)
	}
	return newServerWithPort(sink, opts, p), nil
}

func newServerWithPort(sink Sink, opts Options, p port) *Server {
	if sink == nil {
		sink = SinkFuncs{}
	}
	s := &Server{sink: sink}
	s.engine = newEngine(p, s, opts)
	go s.engine.run()
	return s
}

// StartWatching starts watching the directory tree at path. It returns once
// the first change read is armed. Errors match ErrAlreadyWatching,
// ErrCannotOpen, ErrCannotArm or ErrServerClosed.
func (s *Server) StartWatching(path string) error {
	ack := make(chan error, 1)
	if err := s.engine.submit(command{kind: cmdStart, path: path, ack: ack}); err != nil {
		return err
	}

	select {
	case err := <-ack:
		return err
	case <-s.engine.done:
		// The engine may have answered just before exiting.
		select {
		case err := <-ack:
			return err
		default:
			return amerrors.ServerClosed()
		}
	}
}

// StopWatching stops watching path. The watch is gone once its finalize
// notice reaches the sink. Returns ErrNotWatching if path is not watched.
func (s *Server) StopWatching(path string) error {
	if !s.IsWatching(path) {
		return amerrors.NotWatching(path)
	}
	return s.engine.submit(command{kind: cmdStop, path: path})
}

// Shutdown stops every watch and waits until each one has been finalized
// and the engine has exited. It is safe to call more than once.
func (s *Server) Shutdown() {
	s.shutdownOnce.Do(func() {
		if err := s.engine.submit(command{kind: cmdTerminate}); err != nil {
			s.engine.logger.Debug("terminate not queued", slog.String("error", err.Error()))
		}
	})
	<-s.engine.done
}

// IsWatching reports whether path is currently registered.
func (s *Server) IsWatching(path string) bool {
	return s.engine.registry.contains(pathnorm.ToExtended(path))
}

// Watching returns the registered roots as callers passed them, sorted.
func (s *Server) Watching() []string {
	paths := s.engine.registry.snapshot()
	for i, p := range paths {
		paths[i] = pathnorm.StripExtended(p)
	}
	return paths
}

// Metrics returns a snapshot of the engine counters.
func (s *Server) Metrics() Metrics {
	return s.engine.metrics()
}

// OnEvent forwards an engine event to the sink.
func (s *Server) OnEvent(e Event) {
	s.sink.OnEvent(e)
}

// OnWatchFinalized forwards a finalize notice to the sink.
func (s *Server) OnWatchFinalized(path string) {
	s.sink.OnWatchFinalized(path)
}
