// Package daemon runs the watch engine as a background service. Clients
// add and remove watched directories over a Unix socket, and subscribers
// receive decoded changes as they happen over a websocket.
package daemon

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/Aman-CERP/amanwatch/internal/config"
	"github.com/Aman-CERP/amanwatch/internal/watcher"
)

// Config holds configuration for the daemon service.
type Config struct {
	// SocketPath is the Unix domain socket path for IPC.
	// Default: ~/.amanwatch/daemon.sock
	SocketPath string

	// PIDPath is the file path for storing the daemon's process ID.
	// The single-instance lock lives next to it.
	// Default: ~/.amanwatch/daemon.pid
	PIDPath string

	// EventsAddr is the TCP address serving the /events websocket.
	// Empty disables event streaming.
	EventsAddr string

	// Timeout is the maximum duration for client-daemon communication.
	// Default: 30s
	Timeout time.Duration

	// ShutdownGracePeriod is the time to wait for graceful shutdown.
	// Default: 10s
	ShutdownGracePeriod time.Duration

	// RecentSize is how many recently changed paths are remembered.
	// Default: 256
	RecentSize int

	// Paths are watched as soon as the daemon starts.
	Paths []string

	// Watcher configures the watch engine.
	Watcher watcher.Options
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	dir := stateDir()

	return Config{
		SocketPath:          filepath.Join(dir, "daemon.sock"),
		PIDPath:             filepath.Join(dir, "daemon.pid"),
		Timeout:             30 * time.Second,
		ShutdownGracePeriod: 10 * time.Second,
		RecentSize:          256,
		Watcher:             watcher.DefaultOptions(),
	}
}

// FromConfig builds the daemon configuration from the application config.
// Empty paths fall back to the defaults under ~/.amanwatch.
func FromConfig(cfg *config.Config) Config {
	c := DefaultConfig()
	if cfg.Daemon.SocketPath != "" {
		c.SocketPath = cfg.Daemon.SocketPath
	}
	if cfg.Daemon.PIDPath != "" {
		c.PIDPath = cfg.Daemon.PIDPath
	}
	c.EventsAddr = cfg.Daemon.EventsAddr
	c.Timeout = cfg.Daemon.Timeout
	c.ShutdownGracePeriod = cfg.Daemon.ShutdownGracePeriod
	c.RecentSize = cfg.Daemon.RecentSize
	c.Paths = append([]string(nil), cfg.Watch.Paths...)
	c.Watcher.BufferSize = cfg.Watch.BufferSize
	c.Watcher.CommandQueueSize = cfg.Watch.CommandQueue
	return c
}

func stateDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".amanwatch")
	}
	return filepath.Join(home, ".amanwatch")
}

// LockPath returns the path of the single-instance lock file.
func (c Config) LockPath() string {
	return c.PIDPath + ".lock"
}

// Validate checks that the configuration is valid.
func (c Config) Validate() error {
	if c.SocketPath == "" {
		return fmt.Errorf("socket path cannot be empty")
	}
	if c.PIDPath == "" {
		return fmt.Errorf("PID path cannot be empty")
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	if c.ShutdownGracePeriod <= 0 {
		return fmt.Errorf("shutdown grace period must be positive")
	}
	if c.RecentSize <= 0 {
		return fmt.Errorf("recent size must be positive")
	}
	if err := c.Watcher.WithDefaults().Validate(); err != nil {
		return fmt.Errorf("invalid watcher options: %w", err)
	}
	return nil
}

// EnsureDir creates the directory for socket and PID files if it doesn't exist.
func (c Config) EnsureDir() error {
	socketDir := filepath.Dir(c.SocketPath)
	if err := os.MkdirAll(socketDir, 0755); err != nil {
		return fmt.Errorf("failed to create socket directory: %w", err)
	}

	// Might be different
	pidDir := filepath.Dir(c.PIDPath)
	if pidDir != socketDir {
		if err := os.MkdirAll(pidDir, 0755); err != nil {
			return fmt.Errorf("failed to create PID directory: %w", err)
		}
	}

	return nil
}
