package logging

import (
	"log/slog"
)

// SetupDaemonMode initializes logging for the detached daemon and installs
// it as the default logger. A daemon has no terminal, so it logs to the
// file only.
func SetupDaemonMode(cfg Config) (func(), error) {
	cfg.WriteToStderr = false
	if cfg.FilePath == "" {
		cfg.FilePath = DefaultLogPath()
	}

	logger, cleanup, err := Setup(cfg)
	if err != nil {
		return nil, err
	}

	slog.SetDefault(logger)
	slog.Info("daemon logging initialized",
		slog.String("log_file", cfg.FilePath),
		slog.String("level", cfg.Level))

	return cleanup, nil
}
