package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/amanwatch/internal/config"
	"github.com/Aman-CERP/amanwatch/internal/daemon"
	"github.com/Aman-CERP/amanwatch/internal/output"
	"github.com/Aman-CERP/amanwatch/internal/watcher"
)

func newWatchCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "watch [dir...]",
		Short: "Print changes under directories until interrupted",
		Long: `Watch one or more directory trees and print every change as it happens.

Without arguments the directories listed under watch.paths in the
configuration are watched. The command exits on Ctrl+C, or once every
watched directory has gone away.

Examples:
  amanwatch watch .              # Watch the current directory
  amanwatch watch src docs       # Watch two trees
  amanwatch watch --json /data   # One JSON object per change`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runWatch(ctx, cmd, cfg, args, jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Print changes as JSON lines")
	return cmd
}

// watchPrinter writes engine notifications to the command output. It runs
// on the engine goroutine.
type watchPrinter struct {
	out        *output.Writer
	enc        *json.Encoder
	remaining  atomic.Int64
	allStopped context.CancelFunc
}

func (p *watchPrinter) OnEvent(ev watcher.Event) {
	if p.enc != nil {
		_ = p.enc.Encode(daemon.EventMessage{
			Type:      daemon.MessageEvent,
			Kind:      ev.Kind.String(),
			Path:      ev.Path,
			Timestamp: time.Now().UTC(),
		})
		return
	}
	p.out.Event(ev.Kind.String(), ev.Path)
}

func (p *watchPrinter) OnWatchFinalized(path string) {
	if p.enc != nil {
		_ = p.enc.Encode(daemon.EventMessage{
			Type:      daemon.MessageFinalized,
			Path:      path,
			Timestamp: time.Now().UTC(),
		})
	} else {
		p.out.Warningf("Stopped watching %s", path)
	}
	if p.remaining.Add(-1) == 0 {
		p.allStopped()
	}
}

func runWatch(ctx context.Context, cmd *cobra.Command, cfg *config.Config, args []string, jsonOutput bool) error {
	status := output.New(cmd.ErrOrStderr())

	paths := args
	if len(paths) == 0 {
		paths = cfg.Watch.Paths
	}
	if len(paths) == 0 {
		return fmt.Errorf("no directories to watch: pass one or set watch.paths in the config")
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	printer := &watchPrinter{
		out:        output.New(cmd.OutOrStdout()),
		allStopped: cancel,
	}
	if jsonOutput {
		printer.enc = json.NewEncoder(cmd.OutOrStdout())
	}

	opts := watcher.Options{
		BufferSize:       cfg.Watch.BufferSize,
		CommandQueueSize: cfg.Watch.CommandQueue,
		Logger:           slog.Default(),
	}
	srv, err := watcher.NewServer(printer, opts)
	if err != nil {
		return err
	}
	defer srv.Shutdown()

	for _, p := range paths {
		abs, err := filepath.Abs(p)
		if err != nil {
			return fmt.Errorf("failed to resolve %s: %w", p, err)
		}
		// Counted before starting so an immediate finalize cannot reach zero early.
		printer.remaining.Add(1)
		if err := srv.StartWatching(abs); err != nil {
			printer.remaining.Add(-1)
			return err
		}
		status.Successf("Watching %s", abs)
	}

	<-ctx.Done()
	srv.Shutdown()

	m := srv.Metrics()
	slog.Debug("Watch finished",
		slog.Uint64("events", m.EventsDelivered),
		slog.Uint64("overflows", m.Overflows))
	if m.Overflows > 0 {
		status.Warningf("%d change buffer overflows; some directories were reported as INVALIDATE", m.Overflows)
	}
	return nil
}
