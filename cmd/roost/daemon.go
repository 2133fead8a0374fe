package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/pelican-ai/roost/internal/server"
	"github.com/pelican-ai/roost/internal/statesync"
	"github.com/pelican-ai/roost/internal/utils"
	"github.com/pelican-ai/roost/internal/version"
)

func init() {
	rootCmd.AddCommand(newDaemonCmd())
}

func newDaemonCmd() *cobra.Command {
	var restoreFirst bool

	daemonCmd := &cobra.Command{
		Use:   "daemon",
		Short: "Run the admin server and the periodic backup trigger",
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			slog.Info("roost", "version", version.Version, "revision", version.Revision)

			cfg := buildConfig()
			engine, mounter := buildEngine(cfg)

			// One daemon per container; a second instance would race the
			// mount and the mirror copies.
			lock, err := acquireDaemonLock(filepath.Join(home, ".roost"))
			if err != nil {
				return err
			}
			defer lock.Unlock()

			ctx := cmd.Context()

			if restoreFirst {
				if _, err := engine.Restore(ctx); err != nil {
					if errors.Is(err, statesync.ErrNoBackup) {
						slog.Info("no backup in store yet, starting fresh")
					} else {
						slog.Error("boot restore failed", "error", err)
					}
				}
			}

			srv := server.New(cfg, engine, mounter)

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				return srv.Start(gctx)
			})
			g.Go(func() error {
				return runSyncLoop(gctx, engine, cfg.SyncInterval)
			})

			defer slog.Info("Bye!")
			if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		},
	}

	daemonCmd.Flags().BoolVar(&restoreFirst, "restore", true, "Restore from the store before serving")

	return daemonCmd
}

// acquireDaemonLock takes the single-instance lock under dir, creating dir
// first. On a fresh container nothing else has made ~/.roost yet (credentials
// may arrive via env alone, with no config file ever written).
func acquireDaemonLock(dir string) (*flock.Flock, error) {
	if err := utils.EnsureDir(dir); err != nil {
		return nil, fmt.Errorf("daemon lock: %w", err)
	}
	lock := flock.New(filepath.Join(dir, "daemon.lock"))
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("daemon lock: %w", err)
	}
	if !locked {
		return nil, errors.New("another roost daemon is already running")
	}
	return lock, nil
}

// runSyncLoop is the scheduled trigger: it invokes sync on a fixed cadence
// and surfaces failures in the log. No internal retries; the next tick is
// the retry.
func runSyncLoop(ctx context.Context, engine *statesync.Engine, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			res, err := engine.Sync(ctx)
			switch {
			case errors.Is(err, statesync.ErrNotConfigured):
				slog.Debug("periodic sync: store not configured")
			case errors.Is(err, statesync.ErrRestoreRequired):
				slog.Warn("periodic sync: restore has not run yet")
			case err != nil:
				slog.Error("periodic sync failed", "error", err)
			case res.Skipped:
				slog.Debug("periodic sync: no changes")
			default:
				slog.Info("periodic sync complete", "last_sync", res.LastSync)
			}
		}
	}
}
