package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/thejerf/suture/v4"
	"go.uber.org/zap"

	"pickleball-calendar/backfill"
	"pickleball-calendar/server"
)

func serveCmd() *cobra.Command {
	var noScheduler bool
	var noStartup bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the calendar API with the daily backfill scheduler",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			scheduler := backfill.NewScheduler(a.orch, backfill.SchedulerOptions{
				Spec:      a.cfg.Scheduler.Cron,
				Location:  a.cfg.Location(),
				Backfill:  backfill.OptionsFromConfig(a.cfg.Backfill),
				AutoStart: a.cfg.Scheduler.Enabled && !noScheduler,
			}, a.logger)

			srv := server.New(a.cfg, a.logger, server.Deps{
				Store:        a.store,
				Orchestrator: a.orch,
				Scheduler:    scheduler,
				Sessions:     a.sessions,
				History:      a.history,
			})

			sup := suture.New("pickleball", suture.Spec{
				EventHook: func(e suture.Event) {
					a.logger.Warn("supervisor event", zap.String("event", e.String()))
				},
				Timeout: 15 * time.Second,
			})
			sup.Add(server.NewService(srv, 10*time.Second))
			sup.Add(scheduler)
			if a.cfg.Backfill.OnStartup && !noStartup {
				sup.Add(&startupRefresh{
					orch:   a.orch,
					opts:   backfill.OptionsFromConfig(a.cfg.Backfill),
					today:  func() string { return a.store.Today().Format("2006-01-02") },
					logger: a.logger,
				})
			}

			a.logger.Info("serving",
				zap.String("addr", srv.Addr()),
				zap.String("data_dir", a.cfg.DataDir),
				zap.Int("facility_groups", len(a.cfg.FacilityGroups)),
			)
			if err := sup.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("supervisor: %w", err)
			}
			a.logger.Info("stopped")
			return nil
		},
	}

	cmd.Flags().BoolVar(&noScheduler, "no-scheduler", false, "Do not start the cron scheduler")
	cmd.Flags().BoolVar(&noStartup, "no-startup-refresh", false, "Skip the refresh and backfill run at startup")
	return cmd
}

// startupRefresh refreshes today, then backfills the configured window once.
type startupRefresh struct {
	orch   *backfill.Orchestrator
	opts   backfill.Options
	today  func() string
	logger *zap.Logger
}

func (s *startupRefresh) Serve(ctx context.Context) error {
	date := s.today()
	result, err := s.orch.RunForDate(ctx, date)
	switch {
	case err != nil:
		s.logger.Warn("startup refresh skipped", zap.String("date", date), zap.Error(err))
	case !result.Succeeded():
		s.logger.Warn("startup refresh failed", zap.String("date", date), zap.Any("errors", result.Errors))
	default:
		s.logger.Info("startup refresh complete", zap.String("date", date), zap.Int("parks", result.Parks))
	}

	opts := s.opts
	opts.Source = backfill.SourceStartup
	if _, err := s.orch.RunBackfill(ctx, opts); err != nil {
		s.logger.Warn("startup backfill skipped", zap.Error(err))
	}
	return suture.ErrDoNotRestart
}

func (s *startupRefresh) String() string {
	return "startup-refresh"
}
