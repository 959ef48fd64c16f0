package watcher

import (
	"errors"
	"log/slog"

	"github.com/Aman-CERP/amanwatch/internal/pathnorm"
)

// Status is the state of a watch point.
type Status int

const (
	// StatusUninitialized is a created watch point that was never armed.
	StatusUninitialized Status = iota
	// StatusListening means a read is outstanding.
	StatusListening
	// StatusNotListening means a completion is being processed.
	StatusNotListening
	// StatusFailedToListen means arming a read failed.
	StatusFailedToListen
	// StatusClosed is terminal: the handle is released.
	StatusClosed
)

// String returns a human-readable representation of the status.
func (s Status) String() string {
	switch s {
	case StatusUninitialized:
		return "uninitialized"
	case StatusListening:
		return "listening"
	case StatusNotListening:
		return "not-listening"
	case StatusFailedToListen:
		return "failed-to-listen"
	case StatusClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// watchPoint is one watched directory. It is only ever touched by the engine
// goroutine.
type watchPoint struct {
	key    uint64
	path   string // normalized, possibly extended-length
	dir    directory
	buffer []byte
	sep    string
	status Status
	logger *slog.Logger

	// closing is set once cancellation was requested; the next completion
	// finishes the watch instead of re-arming it.
	closing bool
	// released is set once the handle was closed.
	released bool
}

func newWatchPoint(key uint64, path string, dir directory, bufferSize int, sep string, logger *slog.Logger) *watchPoint {
	return &watchPoint{
		key:    key,
		path:   path,
		dir:    dir,
		buffer: make([]byte, bufferSize),
		sep:    sep,
		status: StatusUninitialized,
		logger: logger,
	}
}

// displayPath is the root as callers know it, without the extended prefix.
func (w *watchPoint) displayPath() string {
	return pathnorm.StripExtended(w.path)
}

// arm issues one asynchronous change read.
func (w *watchPoint) arm() error {
	if err := w.dir.read(w.buffer); err != nil {
		w.status = StatusFailedToListen
		w.logger.Warn("couldn't start watching",
			slog.String("path", w.path),
			slog.String("error", err.Error()))
		return err
	}
	w.status = StatusListening
	return nil
}

// handleCompletion processes the completion of the outstanding read and
// reports whether the watch is finished and must be finalized.
func (w *watchPoint) handleCompletion(n uint32, err error, emit func(Event)) bool {
	if errors.Is(err, errCancelled) {
		w.logger.Debug("finished watching", slog.String("path", w.path))
		return true
	}

	w.status = StatusNotListening

	if err != nil {
		// Reported like an overflow: the subtree is stale, and the re-arm
		// below decides whether the watch survives.
		w.logger.Warn("change read failed",
			slog.String("path", w.path),
			slog.String("error", err.Error()))
	}

	if n == 0 || int(n) > len(w.buffer) {
		w.logger.Info("detected overflow", slog.String("path", w.path))
		emit(Event{Kind: EventInvalidate, Path: w.displayPath()})
	} else {
		w.emitRecords(w.buffer[:n], emit)
	}

	if w.closing {
		return true
	}
	return w.arm() != nil
}

func (w *watchPoint) emitRecords(buf []byte, emit func(Event)) {
	records, err := DecodeRecords(buf)
	for _, r := range records {
		emit(w.eventFor(r))
	}
	if err != nil {
		w.logger.Warn("couldn't decode change buffer, invalidating",
			slog.String("path", w.path),
			slog.String("error", err.Error()))
		emit(Event{Kind: EventInvalidate, Path: w.displayPath()})
	}
}

func (w *watchPoint) eventFor(r Record) Event {
	changed := w.path
	// An empty name is reported as the root itself.
	if r.Name != "" {
		changed = w.path + w.sep + r.Name
	}

	kind := eventKindForAction(r.Action)
	if kind == EventUnknown {
		w.logger.Warn("unknown change action",
			slog.Int("action", int(r.Action)),
			slog.String("path", changed))
	} else {
		w.logger.Debug("change detected",
			slog.Int("action", int(r.Action)),
			slog.String("name", r.Name))
	}

	return Event{Kind: kind, Path: pathnorm.StripExtended(changed)}
}

// close requests cancellation of the outstanding read. It never fails; it
// reports whether the watch must be finalized right away because no
// completion will follow.
func (w *watchPoint) close() bool {
	if w.closing {
		return false
	}
	w.closing = true

	if err := w.dir.cancel(); err == nil {
		return false
	} else {
		w.logger.Error("couldn't cancel I/O",
			slog.String("path", w.path),
			slog.String("error", err.Error()))
	}

	// Closing the handle aborts the read as well.
	if w.release() {
		return false
	}
	return true
}

// release closes the handle once and reports whether that succeeded.
func (w *watchPoint) release() bool {
	if w.released {
		return true
	}
	w.released = true
	if err := w.dir.close(); err != nil {
		w.logger.Error("couldn't close handle",
			slog.String("path", w.path),
			slog.String("error", err.Error()))
		return false
	}
	return true
}
