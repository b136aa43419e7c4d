package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"gitlab.bluewillows.net/root/coderlink/internal/health"
	"gitlab.bluewillows.net/root/coderlink/internal/reconciler"
	"gitlab.bluewillows.net/root/coderlink/internal/watcher"
	"gitlab.bluewillows.net/root/coderlink/pkg/sshconfig"
)

// shutdownTimeout bounds the health server's graceful shutdown.
const shutdownTimeout = 5 * time.Second

func newWatchCommand(a *app) *cobra.Command {
	var (
		filter         filterFlags
		workspacesFile string
		listen         string
		noDownload     bool
		wcfg           = watcher.DefaultConfig()
	)

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Keep the CLI and SSH config in sync with a workspace list file",
		Long: "Poll a workspace list file and, whenever it changes, make sure the cached\n" +
			"CLI is current and rewrite the managed SSH config block. Runs until\n" +
			"interrupted. With --listen, serves /health, /ready and /metrics.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if workspacesFile == "" {
				return errors.New("--workspaces is required")
			}

			match, err := filter.matcher()
			if err != nil {
				return err
			}

			m, err := a.manager()
			if err != nil {
				return err
			}

			rec := reconciler.New(m,
				reconciler.WithLogger(a.logger),
				reconciler.WithConfig(reconciler.Config{
					BinarySource: a.cfg.BinarySource,
					SkipDownload: noDownload,
				}),
			)

			ctx := cmd.Context()

			if listen != "" {
				srv := health.New(listen, health.WithLogger(a.logger))
				srv.RegisterChecker("cli", rec.CheckReady)
				srv.RegisterDegradedChecker("sync", rec.CheckDegraded)
				if err := srv.Start(); err != nil {
					return fmt.Errorf("starting health server: %w", err)
				}
				defer func() {
					sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
					defer cancel()
					if err := srv.Shutdown(sctx); err != nil {
						a.logger.Warn("health server shutdown failed", slog.String("error", err.Error()))
					}
				}()
			}

			w := watcher.New(workspacesFile,
				func(ctx context.Context, hosts []sshconfig.WorkspaceHost) {
					if _, err := rec.Reconcile(ctx, match.Filter(hosts)); err != nil {
						a.logger.Error("sync failed", slog.String("error", err.Error()))
					}
				},
				watcher.WithConfig(wcfg),
				watcher.WithLogger(a.logger),
			)
			if err := w.Start(ctx); err != nil {
				return err
			}
			defer w.Stop()

			<-ctx.Done()
			a.logger.Info("shutting down")
			return nil
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&workspacesFile, "workspaces", "w", "", "YAML, TOML or JSON file listing workspaces")
	flags.StringVar(&listen, "listen", "", "Address for /health, /ready and /metrics (e.g. :9090)")
	flags.BoolVar(&noDownload, "no-download", false, "Only rewrite SSH config, never download the CLI")
	flags.DurationVar(&wcfg.PollInterval, "poll-interval", wcfg.PollInterval, "How often to re-read the workspace list")
	flags.DurationVar(&wcfg.DebounceInterval, "debounce", wcfg.DebounceInterval, "Wait this long after a change before syncing")
	flags.DurationVar(&wcfg.ResyncInterval, "resync-interval", wcfg.ResyncInterval, "Force a sync this often even without changes (0 disables)")
	filter.register(cmd)
	return cmd
}
