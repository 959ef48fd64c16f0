package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// ProjectConfigName is the project-level configuration file.
	ProjectConfigName = ".amanwatch.yaml"
	// ProjectConfigAltName is accepted when ProjectConfigName is absent.
	ProjectConfigAltName = ".amanwatch.yml"
)

// Config represents the complete amanwatch configuration.
type Config struct {
	Version int           `yaml:"version" json:"version"`
	Watch   WatchConfig   `yaml:"watch" json:"watch"`
	Logging LoggingConfig `yaml:"logging" json:"logging"`
	Daemon  DaemonConfig  `yaml:"daemon" json:"daemon"`
}

// WatchConfig configures the watch engine.
type WatchConfig struct {
	// Paths are the directories the daemon watches when it starts.
	Paths []string `yaml:"paths" json:"paths"`

	// BufferSize is the per-directory read buffer in bytes.
	// A burst of changes larger than this is reported as an invalidation.
	BufferSize int `yaml:"buffer_size" json:"buffer_size"`

	// CommandQueue is the capacity of the engine's command queue.
	CommandQueue int `yaml:"command_queue" json:"command_queue"`
}

// LoggingConfig configures file logging.
type LoggingConfig struct {
	Level string `yaml:"level" json:"level"`
	// File is the log file. Empty uses ~/.amanwatch/logs/watcher.log.
	File      string `yaml:"file" json:"file"`
	MaxSizeMB int    `yaml:"max_size_mb" json:"max_size_mb"`
	MaxFiles  int    `yaml:"max_files" json:"max_files"`
}

// DaemonConfig configures the background daemon.
type DaemonConfig struct {
	// SocketPath is the Unix socket for JSON-RPC. Empty uses ~/.amanwatch/daemon.sock.
	SocketPath string `yaml:"socket_path" json:"socket_path"`
	// PIDPath is the PID file. Empty uses ~/.amanwatch/daemon.pid.
	PIDPath string `yaml:"pid_path" json:"pid_path"`
	// EventsAddr is the websocket listen address for event streaming.
	// Empty disables streaming.
	EventsAddr          string        `yaml:"events_addr" json:"events_addr"`
	Timeout             time.Duration `yaml:"timeout" json:"timeout"`
	ShutdownGracePeriod time.Duration `yaml:"shutdown_grace_period" json:"shutdown_grace_period"`
	// RecentSize is how many recently changed paths the daemon remembers.
	RecentSize int `yaml:"recent_size" json:"recent_size"`
}

// NewConfig creates a new Config with sensible defaults.
func NewConfig() *Config {
	return &Config{
		Version: 1,
		Watch: WatchConfig{
			Paths:        []string{},
			BufferSize:   64 * 1024, // Largest size that works on network shares
			CommandQueue: 64,
		},
		Logging: LoggingConfig{
			Level:     "info",
			MaxSizeMB: 10,
			MaxFiles:  5,
		},
		Daemon: DaemonConfig{
			Timeout:             30 * time.Second,
			ShutdownGracePeriod: 10 * time.Second,
			RecentSize:          256,
		},
	}
}

// GetUserConfigPath returns the path to the user/global configuration file.
// It follows XDG Base Directory specification:
//   - $XDG_CONFIG_HOME/amanwatch/config.yaml (if XDG_CONFIG_HOME is set)
//   - ~/.config/amanwatch/config.yaml (default)
func GetUserConfigPath() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "amanwatch", "config.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".config", "amanwatch", "config.yaml")
	}
	return filepath.Join(home, ".config", "amanwatch", "config.yaml")
}

// GetUserConfigDir returns the directory containing the user configuration.
func GetUserConfigDir() string {
	return filepath.Dir(GetUserConfigPath())
}

// UserConfigExists returns true if the user configuration file exists.
func UserConfigExists() bool {
	return fileExists(GetUserConfigPath())
}

// LoadUserConfig loads the user configuration file over the defaults.
// Returns nil config and nil error if the file doesn't exist.
func LoadUserConfig() (*Config, error) {
	configPath := GetUserConfigPath()
	if !fileExists(configPath) {
		return nil, nil
	}

	cfg := NewConfig()
	if err := cfg.loadYAML(configPath); err != nil {
		return nil, fmt.Errorf("failed to load user config from %s: %w", configPath, err)
	}
	return cfg, nil
}

// Load loads configuration for the given working directory.
// It applies configuration in order of increasing precedence:
//  1. Hardcoded defaults
//  2. User/global config (~/.config/amanwatch/config.yaml)
//  3. Project config (.amanwatch.yaml in dir)
//  4. Environment variables (AMANWATCH_*)
func Load(dir string) (*Config, error) {
	cfg := NewConfig()

	if userCfg, err := LoadUserConfig(); err != nil {
		return nil, err
	} else if userCfg != nil {
		cfg.mergeWith(userCfg)
	}

	if err := cfg.loadFromDir(dir); err != nil {
		return nil, err
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// LoadFile loads an explicit configuration file over the defaults, then
// applies environment overrides. Used for --config.
func LoadFile(path string) (*Config, error) {
	cfg := NewConfig()
	if err := cfg.loadYAML(path); err != nil {
		return nil, err
	}
	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// loadFromDir loads .amanwatch.yaml or .amanwatch.yml from dir if present.
func (c *Config) loadFromDir(dir string) error {
	for _, name := range []string{ProjectConfigName, ProjectConfigAltName} {
		path := filepath.Join(dir, name)
		if fileExists(path) {
			return c.loadYAML(path)
		}
	}
	return nil
}

// loadYAML loads and merges configuration from a YAML file.
func (c *Config) loadYAML(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var parsed Config
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	c.mergeWith(&parsed)
	return nil
}

// mergeWith merges non-zero values from other into c.
func (c *Config) mergeWith(other *Config) {
	if other.Version != 0 {
		c.Version = other.Version
	}

	// Watch
	if len(other.Watch.Paths) > 0 {
		c.Watch.Paths = other.Watch.Paths
	}
	if other.Watch.BufferSize != 0 {
		c.Watch.BufferSize = other.Watch.BufferSize
	}
	if other.Watch.CommandQueue != 0 {
		c.Watch.CommandQueue = other.Watch.CommandQueue
	}

	// Logging
	if other.Logging.Level != "" {
		c.Logging.Level = other.Logging.Level
	}
	if other.Logging.File != "" {
		c.Logging.File = other.Logging.File
	}
	if other.Logging.MaxSizeMB != 0 {
		c.Logging.MaxSizeMB = other.Logging.MaxSizeMB
	}
	if other.Logging.MaxFiles != 0 {
		c.Logging.MaxFiles = other.Logging.MaxFiles
	}

	// Daemon
	if other.Daemon.SocketPath != "" {
		c.Daemon.SocketPath = other.Daemon.SocketPath
	}
	if other.Daemon.PIDPath != "" {
		c.Daemon.PIDPath = other.Daemon.PIDPath
	}
	if other.Daemon.EventsAddr != "" {
		c.Daemon.EventsAddr = other.Daemon.EventsAddr
	}
	if other.Daemon.Timeout != 0 {
		c.Daemon.Timeout = other.Daemon.Timeout
	}
	if other.Daemon.ShutdownGracePeriod != 0 {
		c.Daemon.ShutdownGracePeriod = other.Daemon.ShutdownGracePeriod
	}
	if other.Daemon.RecentSize != 0 {
		c.Daemon.RecentSize = other.Daemon.RecentSize
	}
}

// applyEnvOverrides applies AMANWATCH_* environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("AMANWATCH_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("AMANWATCH_BUFFER_SIZE"); v != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			c.Watch.BufferSize = n
		}
	}
	if v := os.Getenv("AMANWATCH_SOCKET"); v != "" {
		c.Daemon.SocketPath = v
	}
	if v := os.Getenv("AMANWATCH_EVENTS_ADDR"); v != "" {
		c.Daemon.EventsAddr = v
	}
	// List separated like PATH: ':' on Unix, ';' on Windows.
	if v := os.Getenv("AMANWATCH_WATCH_PATHS"); v != "" {
		var paths []string
		for _, p := range filepath.SplitList(v) {
			if p = strings.TrimSpace(p); p != "" {
				paths = append(paths, p)
			}
		}
		c.Watch.Paths = paths
	}
}

// Validate validates the configuration and returns an error if invalid.
func (c *Config) Validate() error {
	if c.Watch.BufferSize < 4*1024 || c.Watch.BufferSize > 1024*1024 {
		return fmt.Errorf("watch.buffer_size must be between 4096 and 1048576, got %d", c.Watch.BufferSize)
	}
	// Change records are DWORD aligned.
	if c.Watch.BufferSize%4 != 0 {
		return fmt.Errorf("watch.buffer_size must be a multiple of 4, got %d", c.Watch.BufferSize)
	}
	if c.Watch.CommandQueue < 1 {
		return fmt.Errorf("watch.command_queue must be positive, got %d", c.Watch.CommandQueue)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Logging.Level)] {
		return fmt.Errorf("logging.level must be 'debug', 'info', 'warn', or 'error', got %s", c.Logging.Level)
	}
	if c.Logging.MaxSizeMB < 0 {
		return fmt.Errorf("logging.max_size_mb must be non-negative, got %d", c.Logging.MaxSizeMB)
	}
	if c.Logging.MaxFiles < 0 {
		return fmt.Errorf("logging.max_files must be non-negative, got %d", c.Logging.MaxFiles)
	}

	if c.Daemon.Timeout <= 0 {
		return fmt.Errorf("daemon.timeout must be positive, got %s", c.Daemon.Timeout)
	}
	if c.Daemon.ShutdownGracePeriod <= 0 {
		return fmt.Errorf("daemon.shutdown_grace_period must be positive, got %s", c.Daemon.ShutdownGracePeriod)
	}
	if c.Daemon.RecentSize < 1 {
		return fmt.Errorf("daemon.recent_size must be positive, got %d", c.Daemon.RecentSize)
	}
	return nil
}

// WriteYAML writes the configuration to a YAML file.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// fileExists checks if a file exists and is not a directory.
func fileExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return !info.IsDir()
}
