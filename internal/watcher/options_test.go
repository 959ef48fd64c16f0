package watcher

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDefaultOptions(t *testing.T) {
	opts := DefaultOptions()

	assert.Equal(t, 64*1024, opts.BufferSize)
	assert.Equal(t, 64, opts.CommandQueueSize)
	assert.NoError(t, opts.WithDefaults().Validate())
}

func TestOptions_WithDefaults(t *testing.T) {
	opts := Options{}.WithDefaults()

	assert.Equal(t, DefaultOptions().BufferSize, opts.BufferSize)
	assert.Equal(t, DefaultOptions().CommandQueueSize, opts.CommandQueueSize)
	assert.Same(t, slog.Default(), opts.Logger)
}

func TestOptions_WithDefaults_KeepsExplicitValues(t *testing.T) {
	logger := slog.New(slog.DiscardHandler)
	opts := Options{BufferSize: 8192, CommandQueueSize: 3, Logger: logger}.WithDefaults()

	assert.Equal(t, 8192, opts.BufferSize)
	assert.Equal(t, 3, opts.CommandQueueSize)
	assert.Same(t, logger, opts.Logger)
}

func TestOptions_Validate(t *testing.T) {
	tests := []struct {
		name    string
		opts    Options
		wantErr string
	}{
		{"minimum buffer", Options{BufferSize: MinBufferSize, CommandQueueSize: 1}, ""},
		{"maximum buffer", Options{BufferSize: MaxBufferSize, CommandQueueSize: 1}, ""},
		{"buffer too small", Options{BufferSize: MinBufferSize - 4, CommandQueueSize: 1}, "between"},
		{"buffer too large", Options{BufferSize: MaxBufferSize + 4, CommandQueueSize: 1}, "between"},
		{"unaligned buffer", Options{BufferSize: MinBufferSize + 2, CommandQueueSize: 1}, "multiple of 4"},
		{"no command queue", Options{BufferSize: MinBufferSize, CommandQueueSize: 0}, "command queue"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.opts.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}
