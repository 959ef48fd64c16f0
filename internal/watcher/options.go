package watcher

import (
	"fmt"
	"log/slog"
)

const (
	// MinBufferSize is the smallest accepted read buffer.
	MinBufferSize = 4 * 1024
	// MaxBufferSize is the largest accepted read buffer.
	MaxBufferSize = 1024 * 1024
)

// Options configures the watch engine.
type Options struct {
	// BufferSize is the size in bytes of each directory's read buffer.
	// A burst of changes larger than this is reported as EventInvalidate.
	// Must be a multiple of 4. 64K is the largest size that works on
	// network shares.
	// Default: 65536
	BufferSize int

	// CommandQueueSize is the capacity of the engine's command queue.
	// Default: 64
	CommandQueueSize int

	// Logger receives engine diagnostics.
	// Default: slog.Default()
	Logger *slog.Logger
}

// DefaultOptions returns the default watcher options.
func DefaultOptions() Options {
	return Options{
		BufferSize:       64 * 1024,
		CommandQueueSize: 64,
	}
}

// WithDefaults returns options with defaults applied for zero values.
func (o Options) WithDefaults() Options {
	defaults := DefaultOptions()
	if o.BufferSize == 0 {
		o.BufferSize = defaults.BufferSize
	}
	if o.CommandQueueSize == 0 {
		o.CommandQueueSize = defaults.CommandQueueSize
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

// Validate validates the options and returns an error if invalid.
func (o Options) Validate() error {
	if o.BufferSize < MinBufferSize || o.BufferSize > MaxBufferSize {
		return fmt.Errorf("buffer size must be between %d and %d bytes, got %d", MinBufferSize, MaxBufferSize, o.BufferSize)
	}
	if o.BufferSize%4 != 0 {
		return fmt.Errorf("buffer size must be a multiple of 4, got %d", o.BufferSize)
	}
	if o.CommandQueueSize < 1 {
		return fmt.Errorf("command queue size must be positive, got %d", o.CommandQueueSize)
	}
	return nil
}
