package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// isolate points the user config at an empty temp dir and clears env overrides.
func isolate(t *testing.T) string {
	t.Helper()
	xdg := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", xdg)
	for _, k := range []string{
		"AMANWATCH_LOG_LEVEL", "AMANWATCH_BUFFER_SIZE", "AMANWATCH_SOCKET",
		"AMANWATCH_EVENTS_ADDR", "AMANWATCH_WATCH_PATHS",
	} {
		t.Setenv(k, "")
	}
	return xdg
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func TestNewConfig_ReturnsDefaults(t *testing.T) {
	// Given: no configuration file exists
	cfg := NewConfig()

	// Then: all defaults should be applied
	require.NotNil(t, cfg)
	assert.Equal(t, 1, cfg.Version)

	assert.Empty(t, cfg.Watch.Paths)
	assert.Equal(t, 65536, cfg.Watch.BufferSize)
	assert.Equal(t, 64, cfg.Watch.CommandQueue)

	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Empty(t, cfg.Logging.File)
	assert.Equal(t, 10, cfg.Logging.MaxSizeMB)
	assert.Equal(t, 5, cfg.Logging.MaxFiles)

	assert.Empty(t, cfg.Daemon.SocketPath)
	assert.Empty(t, cfg.Daemon.EventsAddr)
	assert.Equal(t, 30*time.Second, cfg.Daemon.Timeout)
	assert.Equal(t, 10*time.Second, cfg.Daemon.ShutdownGracePeriod)
	assert.Equal(t, 256, cfg.Daemon.RecentSize)

	assert.NoError(t, cfg.Validate())
}

func TestLoad_NoFiles_UsesDefaults(t *testing.T) {
	isolate(t)

	cfg, err := Load(t.TempDir())

	require.NoError(t, err)
	assert.Equal(t, NewConfig(), cfg)
}

func TestLoad_ProjectConfigOverridesDefaults(t *testing.T) {
	// Given: a project config
	isolate(t)
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, ".amanwatch.yaml"), `
watch:
  paths: [/srv/data, /srv/logs]
  buffer_size: 8192
logging:
  level: debug
daemon:
  timeout: 5s
  events_addr: 127.0.0.1:7777
`)

	// When: loading
	cfg, err := Load(dir)

	// Then: project values win, untouched fields keep their defaults
	require.NoError(t, err)
	assert.Equal(t, []string{"/srv/data", "/srv/logs"}, cfg.Watch.Paths)
	assert.Equal(t, 8192, cfg.Watch.BufferSize)
	assert.Equal(t, 64, cfg.Watch.CommandQueue)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, 5*time.Second, cfg.Daemon.Timeout)
	assert.Equal(t, "127.0.0.1:7777", cfg.Daemon.EventsAddr)
	assert.Equal(t, 10*time.Second, cfg.Daemon.ShutdownGracePeriod)
}

func TestLoad_YmlFallback(t *testing.T) {
	isolate(t)
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, ".amanwatch.yml"), "watch:\n  command_queue: 8\n")

	cfg, err := Load(dir)

	require.NoError(t, err)
	assert.Equal(t, 8, cfg.Watch.CommandQueue)
}

func TestLoad_YamlTakesPrecedenceOverYml(t *testing.T) {
	isolate(t)
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, ".amanwatch.yaml"), "watch:\n  command_queue: 8\n")
	writeFile(t, filepath.Join(dir, ".amanwatch.yml"), "watch:\n  command_queue: 9\n")

	cfg, err := Load(dir)

	require.NoError(t, err)
	assert.Equal(t, 8, cfg.Watch.CommandQueue)
}

func TestLoad_Precedence(t *testing.T) {
	// Given: user config, project config and env all set the log level
	xdg := isolate(t)
	writeFile(t, filepath.Join(xdg, "amanwatch", "config.yaml"), `
logging:
  level: warn
  max_files: 9
watch:
  buffer_size: 16384
`)
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, ".amanwatch.yaml"), "logging:\n  level: error\n")
	t.Setenv("AMANWATCH_LOG_LEVEL", "debug")

	// When: loading
	cfg, err := Load(dir)

	// Then: env beats project beats user beats defaults
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, 9, cfg.Logging.MaxFiles)
	assert.Equal(t, 16384, cfg.Watch.BufferSize)
}

func TestLoad_EnvOverrides(t *testing.T) {
	isolate(t)
	t.Setenv("AMANWATCH_BUFFER_SIZE", " 32768 ")
	t.Setenv("AMANWATCH_SOCKET", "/tmp/aw.sock")
	t.Setenv("AMANWATCH_EVENTS_ADDR", ":9000")
	t.Setenv("AMANWATCH_WATCH_PATHS", strings.Join([]string{"/a", " ", "/b"}, string(os.PathListSeparator)))

	cfg, err := Load(t.TempDir())

	require.NoError(t, err)
	assert.Equal(t, 32768, cfg.Watch.BufferSize)
	assert.Equal(t, "/tmp/aw.sock", cfg.Daemon.SocketPath)
	assert.Equal(t, ":9000", cfg.Daemon.EventsAddr)
	assert.Equal(t, []string{"/a", "/b"}, cfg.Watch.Paths)
}

func TestLoad_InvalidEnvNumberIsIgnored(t *testing.T) {
	isolate(t)
	t.Setenv("AMANWATCH_BUFFER_SIZE", "lots")

	cfg, err := Load(t.TempDir())

	require.NoError(t, err)
	assert.Equal(t, 65536, cfg.Watch.BufferSize)
}

func TestLoad_MalformedYAML(t *testing.T) {
	isolate(t)
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, ".amanwatch.yaml"), "watch: [unclosed\n")

	_, err := Load(dir)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse config file")
}

func TestLoad_InvalidValuesAreRejected(t *testing.T) {
	isolate(t)
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, ".amanwatch.yaml"), "watch:\n  buffer_size: 5000\n")

	_, err := Load(dir)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid configuration")
	assert.Contains(t, err.Error(), "multiple of 4")
}

func TestLoadFile(t *testing.T) {
	isolate(t)
	path := filepath.Join(t.TempDir(), "custom.yaml")
	writeFile(t, path, "daemon:\n  recent_size: 12\n")

	cfg, err := LoadFile(path)

	require.NoError(t, err)
	assert.Equal(t, 12, cfg.Daemon.RecentSize)
}

func TestLoadFile_Missing(t *testing.T) {
	isolate(t)

	_, err := LoadFile(filepath.Join(t.TempDir(), "nope.yaml"))

	assert.Error(t, err)
}

func TestGetUserConfigPath_HonorsXDG(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "/custom/xdg")

	assert.Equal(t, filepath.Join("/custom/xdg", "amanwatch", "config.yaml"), GetUserConfigPath())
	assert.Equal(t, filepath.Join("/custom/xdg", "amanwatch"), GetUserConfigDir())
}

func TestUserConfigExists(t *testing.T) {
	xdg := isolate(t)
	assert.False(t, UserConfigExists())

	writeFile(t, filepath.Join(xdg, "amanwatch", "config.yaml"), "version: 1\n")

	assert.True(t, UserConfigExists())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"defaults", func(c *Config) {}, ""},
		{"buffer too small", func(c *Config) { c.Watch.BufferSize = 1024 }, "between"},
		{"buffer too large", func(c *Config) { c.Watch.BufferSize = 2 * 1024 * 1024 }, "between"},
		{"buffer unaligned", func(c *Config) { c.Watch.BufferSize = 4098 }, "multiple of 4"},
		{"no command queue", func(c *Config) { c.Watch.CommandQueue = 0 }, "command_queue"},
		{"bad log level", func(c *Config) { c.Logging.Level = "verbose" }, "logging.level"},
		{"uppercase log level", func(c *Config) { c.Logging.Level = "WARN" }, ""},
		{"negative max size", func(c *Config) { c.Logging.MaxSizeMB = -1 }, "max_size_mb"},
		{"zero timeout", func(c *Config) { c.Daemon.Timeout = 0 }, "daemon.timeout"},
		{"negative grace", func(c *Config) { c.Daemon.ShutdownGracePeriod = -time.Second }, "shutdown_grace_period"},
		{"no recent size", func(c *Config) { c.Daemon.RecentSize = 0 }, "recent_size"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewConfig()
			tt.mutate(cfg)

			err := cfg.Validate()

			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestWriteYAML_RoundTrips(t *testing.T) {
	// Given: a customized config
	isolate(t)
	cfg := NewConfig()
	cfg.Watch.Paths = []string{"/data"}
	cfg.Daemon.ShutdownGracePeriod = 3 * time.Second
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	// When: writing and loading it back
	require.NoError(t, cfg.WriteYAML(path))
	loaded, err := LoadFile(path)

	// Then: nothing is lost
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "shutdown_grace_period: 3s")
}
