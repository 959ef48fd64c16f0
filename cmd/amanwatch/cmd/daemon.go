package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/amanwatch/internal/config"
	"github.com/Aman-CERP/amanwatch/internal/daemon"
	amerrors "github.com/Aman-CERP/amanwatch/internal/errors"
	"github.com/Aman-CERP/amanwatch/internal/logging"
	"github.com/Aman-CERP/amanwatch/internal/output"
)

func newDaemonCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Manage the background watch daemon",
		Long: `The daemon keeps directory watches running in the background.

Commands:
  start   Start the daemon (runs in background by default)
  stop    Stop the running daemon
  status  Show daemon status and watched directories
  add     Start watching a directory
  remove  Stop watching a directory
  recent  Show recently changed paths

Changes are streamed as JSON over a websocket at /events when
daemon.events_addr is set in the configuration.

Examples:
  amanwatch daemon start        # Start daemon in background
  amanwatch daemon start -f     # Run in foreground (for debugging)
  amanwatch daemon add ~/src    # Watch a directory
  amanwatch daemon recent -n 5  # Last five changed paths
  amanwatch daemon stop         # Stop the daemon`,
	}

	cmd.AddCommand(newDaemonStartCmd())
	cmd.AddCommand(newDaemonStopCmd())
	cmd.AddCommand(newDaemonStatusCmd())
	cmd.AddCommand(newDaemonAddCmd())
	cmd.AddCommand(newDaemonRemoveCmd())
	cmd.AddCommand(newDaemonRecentCmd())

	return cmd
}

func newDaemonStartCmd() *cobra.Command {
	var foreground, detached bool

	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start the background daemon",
		Long: `Start the watch daemon in the background.

The directories listed under watch.paths are watched at startup.
Use --foreground for debugging or to see logs in real-time.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if foreground {
				return runDaemonForeground(cmd.Context(), cmd, cfg, detached)
			}
			return runDaemonStart(cmd.Context(), cmd, cfg)
		},
	}

	cmd.Flags().BoolVarP(&foreground, "foreground", "f", false, "Run in foreground (don't daemonize)")
	// Set by the background launcher; logs go to the file only.
	cmd.Flags().BoolVar(&detached, "detached", false, "")
	_ = cmd.Flags().MarkHidden("detached")
	return cmd
}

func newDaemonStopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Stop the running daemon",
		Long: `Stop the running watch daemon.

Asks the daemon to shut down over its socket. If it does not answer,
SIGTERM is sent to the process in the PID file.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			return runDaemonStop(cmd.Context(), cmd, daemon.FromConfig(cfg))
		},
	}
}

func newDaemonStatusCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show daemon status",
		Long: `Show the current status of the watch daemon.

Displays whether the daemon is running, its process ID, uptime, the
watched directories and event counters.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			return runDaemonStatus(cmd.Context(), cmd, daemon.FromConfig(cfg), jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}

func newDaemonAddCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "add <dir>",
		Short: "Start watching a directory in the daemon",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			return runDaemonPath(cmd.Context(), cmd, daemon.FromConfig(cfg), args[0], true)
		},
	}
}

func newDaemonRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <dir>",
		Short: "Stop watching a directory in the daemon",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			return runDaemonPath(cmd.Context(), cmd, daemon.FromConfig(cfg), args[0], false)
		},
	}
}

func newDaemonRecentCmd() *cobra.Command {
	var limit int
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "recent",
		Short: "Show recently changed paths",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			return runDaemonRecent(cmd.Context(), cmd, daemon.FromConfig(cfg), limit, jsonOutput)
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", daemon.DefaultRecentLimit, "Maximum number of paths")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}

// daemonLogConfig maps the logging section onto the daemon's file logger.
func daemonLogConfig(cfg *config.Config, toStderr bool) logging.Config {
	logCfg := logging.DefaultConfig()
	logCfg.Level = cfg.Logging.Level
	if cfg.Logging.File != "" {
		logCfg.FilePath = cfg.Logging.File
	}
	logCfg.MaxSizeMB = cfg.Logging.MaxSizeMB
	logCfg.MaxFiles = cfg.Logging.MaxFiles
	logCfg.WriteToStderr = toStderr
	return logCfg
}

func runDaemonForeground(ctx context.Context, cmd *cobra.Command, cfg *config.Config, detached bool) error {
	out := output.New(cmd.OutOrStdout())
	dcfg := daemon.FromConfig(cfg)

	logCfg := daemonLogConfig(cfg, !detached)
	if detached {
		cleanup, err := logging.SetupDaemonMode(logCfg)
		if err != nil {
			return fmt.Errorf("failed to setup daemon logging: %w", err)
		}
		defer cleanup()
	} else {
		logger, cleanup, err := logging.Setup(logCfg)
		if err != nil {
			return fmt.Errorf("failed to setup daemon logging: %w", err)
		}
		defer cleanup()
		slog.SetDefault(logger)

		out.Status("", "Starting daemon in foreground...")
		out.Statusf("", "Socket: %s", dcfg.SocketPath)
		out.Statusf("", "Logs: %s", logCfg.FilePath)
		if dcfg.EventsAddr != "" {
			out.Statusf("", "Events: ws://%s/events", dcfg.EventsAddr)
		}
		out.Status("", "Press Ctrl+C to stop")
		out.Newline()
	}
	dcfg.Watcher.Logger = slog.Default()

	slog.Info("Daemon starting",
		slog.String("socket", dcfg.SocketPath),
		slog.Bool("detached", detached),
		slog.Int("paths", len(dcfg.Paths)))

	d, err := daemon.NewDaemon(dcfg)
	if err != nil {
		slog.Error("Failed to create daemon", amerrors.LogAttrs(err)...)
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := d.Run(ctx); err != nil {
		if errors.Is(err, daemon.ErrAlreadyRunning) {
			out.Status("", "Daemon is already running")
			return nil
		}
		slog.Error("Daemon failed", amerrors.LogAttrs(err)...)
		return err
	}
	return nil
}

func runDaemonStart(ctx context.Context, cmd *cobra.Command, cfg *config.Config) error {
	out := output.New(cmd.OutOrStdout())
	dcfg := daemon.FromConfig(cfg)

	client := daemon.NewClient(dcfg)
	if client.IsRunning() {
		out.Status("", "Daemon is already running")
		return nil
	}

	out.Status("", "Starting daemon in background...")

	execPath, err := os.Executable()
	if err != nil {
		return fmt.Errorf("failed to get executable path: %w", err)
	}

	args := []string{"daemon", "start", "--foreground", "--detached"}
	if path, _ := cmd.Flags().GetString("config"); path != "" {
		abs, err := filepath.Abs(path)
		if err != nil {
			return fmt.Errorf("failed to resolve %s: %w", path, err)
		}
		args = append(args, "--config", abs)
	}
	if debug, _ := cmd.Flags().GetBool("debug"); debug {
		args = append(args, "--debug")
	}

	bgCmd := exec.Command(execPath, args...)
	bgCmd.Stdout = nil
	bgCmd.Stderr = nil
	bgCmd.Stdin = nil
	detach(bgCmd)

	if err := bgCmd.Start(); err != nil {
		return fmt.Errorf("failed to start daemon: %w", err)
	}

	// Reaps the child and reports an early exit.
	done := make(chan error, 1)
	go func() { done <- bgCmd.Wait() }()

	err = amerrors.Retry(ctx, amerrors.DefaultRetryConfig(), func() error {
		select {
		case err := <-done:
			if err != nil {
				return fmt.Errorf("daemon process exited unexpectedly: %w", err)
			}
			return fmt.Errorf("daemon process exited unexpectedly with code 0")
		default:
		}
		return client.Ping(ctx)
	})
	if err != nil {
		return fmt.Errorf("daemon failed to start: %w", err)
	}

	out.Successf("Daemon started (pid: %d)", bgCmd.Process.Pid)
	return nil
}

func runDaemonStop(ctx context.Context, cmd *cobra.Command, cfg daemon.Config) error {
	out := output.New(cmd.OutOrStdout())

	held, err := daemon.IsHeld(cfg.LockPath())
	if err != nil {
		return fmt.Errorf("failed to check daemon lock: %w", err)
	}
	if !held {
		out.Status("", "Daemon is not running")
		return nil
	}

	pidFile := daemon.NewPIDFile(cfg.PIDPath)
	pid, _ := pidFile.Read()

	if err := daemon.NewClient(cfg).Shutdown(ctx); err != nil {
		slog.Debug("Shutdown request failed, signalling", slog.String("error", err.Error()))
		if err := pidFile.Signal(syscall.SIGTERM); err != nil {
			return fmt.Errorf("failed to stop daemon: %w", err)
		}
	}

	for i := 0; i < 50; i++ {
		time.Sleep(100 * time.Millisecond)
		if held, _ := daemon.IsHeld(cfg.LockPath()); !held {
			out.Successf("Daemon stopped (was pid: %d)", pid)
			return nil
		}
	}

	out.Status("", "Daemon not responding, sending SIGKILL...")
	if err := pidFile.Signal(syscall.SIGKILL); err != nil {
		return fmt.Errorf("failed to kill daemon: %w", err)
	}

	out.Success("Daemon killed")
	return nil
}

func runDaemonStatus(ctx context.Context, cmd *cobra.Command, cfg daemon.Config, jsonOutput bool) error {
	out := output.New(cmd.OutOrStdout())
	client := daemon.NewClient(cfg)

	if !client.IsRunning() {
		if jsonOutput {
			return writeJSON(cmd, daemon.StatusResult{Running: false, Watching: []string{}})
		}
		out.Status("", "Daemon is not running")
		out.Status("", "Run 'amanwatch daemon start' to start it")
		return nil
	}

	status, err := client.Status(ctx)
	if err != nil {
		return fmt.Errorf("failed to get status: %w", err)
	}

	if jsonOutput {
		return writeJSON(cmd, status)
	}

	out.Success("Daemon is running")
	out.KeyValue("PID", status.PID)
	out.KeyValue("Uptime", status.Uptime)
	out.KeyValue("Socket", cfg.SocketPath)
	if status.EventsAddr != "" {
		out.KeyValue("Events", fmt.Sprintf("ws://%s/events (%d subscribers)", status.EventsAddr, status.Subscribers))
	}
	out.KeyValue("Watches started", status.WatchesStarted)
	out.KeyValue("Watches finished", status.WatchesFinished)
	out.KeyValue("Events delivered", status.EventsDelivered)
	out.KeyValue("Overflows", status.Overflows)
	out.Newline()
	out.Statusf("", "Watching %d directories:", len(status.Watching))
	out.List(status.Watching, "(none)")
	return nil
}

func runDaemonPath(ctx context.Context, cmd *cobra.Command, cfg daemon.Config, dir string, add bool) error {
	out := output.New(cmd.OutOrStdout())

	abs, err := filepath.Abs(dir)
	if err != nil {
		return fmt.Errorf("failed to resolve %s: %w", dir, err)
	}

	client := daemon.NewClient(cfg)
	if add {
		if err := client.Watch(ctx, abs); err != nil {
			return err
		}
		out.Successf("Watching %s", abs)
		return nil
	}

	if err := client.Unwatch(ctx, abs); err != nil {
		return err
	}
	out.Successf("Stopped watching %s", abs)
	return nil
}

func runDaemonRecent(ctx context.Context, cmd *cobra.Command, cfg daemon.Config, limit int, jsonOutput bool) error {
	changes, err := daemon.NewClient(cfg).Recent(ctx, limit)
	if err != nil {
		return err
	}

	if jsonOutput {
		return writeJSON(cmd, changes)
	}

	out := output.New(cmd.OutOrStdout())
	if len(changes) == 0 {
		out.Status("", "No changes recorded yet")
		return nil
	}
	for _, c := range changes {
		out.Event(c.Kind, fmt.Sprintf("%s  %s", c.Time.Local().Format(time.TimeOnly), c.Path))
	}
	return nil
}

func writeJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
