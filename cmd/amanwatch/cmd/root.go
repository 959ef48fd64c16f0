// Package cmd provides the CLI commands for amanwatch.
package cmd

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/amanwatch/internal/config"
	amerrors "github.com/Aman-CERP/amanwatch/internal/errors"
	"github.com/Aman-CERP/amanwatch/internal/logging"
	"github.com/Aman-CERP/amanwatch/internal/profiling"
	"github.com/Aman-CERP/amanwatch/pkg/version"
)

// rootOptions carries the persistent flags and the state they set up.
type rootOptions struct {
	debug      bool
	configPath string
	profile    profiling.Options

	profiler       *profiling.Profiler
	loggingCleanup func()
	prevLogger     *slog.Logger
}

// NewRootCmd creates the root command for the amanwatch CLI.
func NewRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "amanwatch",
		Short: "Recursive directory change notifications",
		Long: `amanwatch reports files and directories created, removed and modified
under the directories you point it at.

Run 'amanwatch watch <dir>' to stream changes to the terminal, or start the
daemon and manage its watches with 'amanwatch daemon add/remove'.`,
		Version:       version.Version,
		SilenceErrors: true,
		SilenceUsage:  true,
	}

	cmd.SetVersionTemplate("amanwatch version {{.Version}}\n")

	cmd.PersistentFlags().BoolVar(&opts.debug, "debug", false, "Enable debug logging to ~/.amanwatch/logs/")
	cmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "Use this config file instead of the user and project files")
	cmd.PersistentFlags().StringVar(&opts.profile.CPU, "profile-cpu", "", "Write CPU profile to file")
	cmd.PersistentFlags().StringVar(&opts.profile.Mem, "profile-mem", "", "Write memory profile to file")
	cmd.PersistentFlags().StringVar(&opts.profile.Trace, "profile-trace", "", "Write execution trace to file")

	cmd.PersistentPreRunE = opts.start
	cmd.PersistentPostRunE = opts.stop

	cmd.AddCommand(newWatchCmd())
	cmd.AddCommand(newDaemonCmd())
	cmd.AddCommand(newConfigCmd())
	cmd.AddCommand(newLogsCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// start sets up logging from the loaded configuration and starts profiling.
func (o *rootOptions) start(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	logCfg := logging.Config{
		Level:     cfg.Logging.Level,
		FilePath:  cfg.Logging.File,
		MaxSizeMB: cfg.Logging.MaxSizeMB,
		MaxFiles:  cfg.Logging.MaxFiles,
	}
	// Without a log file, routine info lines would interleave with command output.
	if logCfg.FilePath == "" && strings.EqualFold(logCfg.Level, "info") {
		logCfg.Level = "warn"
	}
	if o.debug {
		logCfg = logging.DebugConfig()
	}

	logger, cleanup, err := logging.Setup(logCfg)
	if err != nil {
		return fmt.Errorf("failed to setup logging: %w", err)
	}
	o.loggingCleanup = cleanup
	o.prevLogger = slog.Default()
	slog.SetDefault(logger)
	if o.debug {
		slog.Info("Debug logging enabled",
			slog.String("log_file", logCfg.FilePath),
			slog.String("version", version.Version))
	}

	if o.profile.Enabled() {
		p, err := profiling.Start(o.profile)
		if err != nil {
			return err
		}
		o.profiler = p
	}
	return nil
}

// stop finishes profiling and flushes the log file.
func (o *rootOptions) stop(_ *cobra.Command, _ []string) error {
	var err error
	if o.profiler != nil {
		err = o.profiler.Stop()
		o.profiler = nil
	}

	if o.loggingCleanup != nil {
		if o.debug {
			slog.Info("Debug logging stopped")
		}
		slog.SetDefault(o.prevLogger)
		o.loggingCleanup()
		o.loggingCleanup = nil
	}
	return err
}

// loadConfig returns the configuration named by --config, or the user and
// project configuration for the working directory.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	if path, _ := cmd.Flags().GetString("config"); path != "" {
		cfg, err := config.LoadFile(path)
		if err != nil {
			return nil, amerrors.ConfigError("failed to load config", err).WithDetail("path", path)
		}
		return cfg, nil
	}

	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("failed to get working directory: %w", err)
	}
	cfg, err := config.Load(cwd)
	if err != nil {
		return nil, amerrors.ConfigError("failed to load config", err)
	}
	return cfg, nil
}

// Execute runs the root command and reports any error on stderr.
func Execute() error {
	root := NewRootCmd()
	err := root.Execute()
	if err != nil {
		debug, _ := root.PersistentFlags().GetBool("debug")
		reportError(root.ErrOrStderr(), err, debug)
	}
	return err
}

// reportError prints err, with code and hint for structured errors.
func reportError(w io.Writer, err error, debug bool) {
	var ae *amerrors.AmanError
	if errors.As(err, &ae) {
		_, _ = fmt.Fprintln(w, amerrors.FormatForUser(err, debug))
		return
	}
	_, _ = fmt.Fprintf(w, "Error: %v\n", err)
}
