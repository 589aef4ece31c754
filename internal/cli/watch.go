package cli

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"github.com/engramhq/engram/internal/observability"
	"github.com/engramhq/engram/pkg/reconcile"
)

var watchFlags struct {
	verifySchedule string
	repair         bool
	metricsAddr    string
	pollInterval   time.Duration
}

// watchCmd runs the background reconciler: a filesystem watcher notices
// notes refs written by other processes and triggers an incremental sync,
// while a cron schedule runs periodic consistency verification.
var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Watch the repository and keep the index in sync",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		watcher, err := reconcile.NewRefWatcher(a.cfg.RepoPath, a.logger.With().Str("component", "watcher").Logger())
		if err != nil {
			return err
		}
		defer watcher.Stop()

		scheduler := cron.New()
		_, err = scheduler.AddFunc(watchFlags.verifySchedule, func() {
			runScheduledVerify(ctx, a)
		})
		if err != nil {
			return err
		}
		scheduler.Start()
		defer scheduler.Stop()

		var metricsSrv *http.Server
		if watchFlags.metricsAddr != "" {
			mux := http.NewServeMux()
			mux.Handle("/metrics", observability.MetricsHandler())
			metricsSrv = &http.Server{Addr: watchFlags.metricsAddr, Handler: mux}
			go func() {
				if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					a.logger.Error().Err(err).Msg("Metrics server failed")
				}
			}()
			defer metricsSrv.Close()
		}

		a.logger.Info().
			Str("repo", a.cfg.RepoPath).
			Str("verify_schedule", watchFlags.verifySchedule).
			Msg("Watching for note changes")

		ticker := time.NewTicker(watchFlags.pollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				a.logger.Info().Msg("Watch stopped")
				return nil
			case <-ticker.C:
				if !watcher.Dirty() {
					continue
				}
				watcher.ClearDirty()
				if _, err := a.reconcile.RepairIndex(ctx); err != nil {
					a.logger.Error().Err(err).Msg("Sync after ref change failed")
					continue
				}
				a.optimizer.InvalidateAll()
			}
		}
	},
}

func runScheduledVerify(ctx context.Context, a *app) {
	report, err := a.reconcile.VerifyIndex(ctx)
	if err != nil {
		a.logger.Error().Err(err).Msg("Scheduled verify failed")
		return
	}
	if report.Consistent {
		a.logger.Debug().Msg("Scheduled verify: consistent")
		return
	}
	a.logger.Warn().
		Int("missing", len(report.MissingInIndex)).
		Int("orphaned", len(report.OrphanedInIndex)).
		Msg("Scheduled verify found divergence")
	if !watchFlags.repair {
		return
	}
	if _, err := a.reconcile.RepairIndex(ctx); err != nil {
		a.logger.Error().Err(err).Msg("Scheduled repair failed")
		return
	}
	a.optimizer.InvalidateAll()
}

func init() {
	watchCmd.Flags().StringVar(&watchFlags.verifySchedule, "verify-schedule", "@every 15m", "cron schedule for consistency verification")
	watchCmd.Flags().BoolVar(&watchFlags.repair, "repair", true, "repair automatically when verification finds divergence")
	watchCmd.Flags().StringVar(&watchFlags.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address, e.g. :9190")
	watchCmd.Flags().DurationVar(&watchFlags.pollInterval, "poll-interval", 2*time.Second, "how often to act on pending ref changes")

	rootCmd.AddCommand(watchCmd)
}
