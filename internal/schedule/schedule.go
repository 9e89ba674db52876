// Package schedule runs the periodic jobs of the review workflow: the
// expiration sweep and configured recurring commands.
package schedule

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/robfig/cron/v3"

	"github.com/stagegate/stagegate/internal/config"
	"github.com/stagegate/stagegate/internal/dispatch"
	"github.com/stagegate/stagegate/internal/intercept"
	"github.com/stagegate/stagegate/internal/staging"
	"github.com/stagegate/stagegate/pkg/models"
)

// Runner owns the cron loop. Scheduled commands are attributed to the
// system actor; they go through the normal staging path unless marked
// direct, so night-window auto-approval applies to them too.
type Runner struct {
	c          *cron.Cron
	engine     *staging.Engine
	gate       *intercept.Gate
	dispatcher dispatch.Dispatcher
	logger     *slog.Logger
}

// NewRunner builds the cron entries from cfg. Invalid specs fail
// construction rather than being skipped silently. When gate is non-nil,
// non-direct commands are submitted through it, so the critical-command
// list applies to scheduled commands the same way it applies to live
// requests.
func NewRunner(cfg config.SchedulerConfig, engine *staging.Engine, gate *intercept.Gate, dispatcher dispatch.Dispatcher, logger *slog.Logger) (*Runner, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if dispatcher == nil {
		dispatcher = dispatch.NewLogDispatcher(logger)
	}

	r := &Runner{
		c:          cron.New(),
		engine:     engine,
		gate:       gate,
		dispatcher: dispatcher,
		logger:     logger,
	}

	ctx := context.Background()
	if _, err := r.c.AddFunc(cfg.PruneSpec, func() {
		if n := r.engine.PruneExpired(ctx); n > 0 {
			r.logger.Info("expiration sweep removed pending commands", "count", n)
		}
	}); err != nil {
		return nil, fmt.Errorf("invalid prune spec %q: %w", cfg.PruneSpec, err)
	}

	for _, sc := range cfg.Commands {
		sc := sc
		job := r.stageJob(ctx, sc)
		if _, err := r.c.AddFunc(sc.Spec, job); err != nil {
			return nil, fmt.Errorf("invalid schedule spec %q: %w", sc.Spec, err)
		}
	}

	return r, nil
}

func (r *Runner) stageJob(ctx context.Context, sc config.ScheduledCommand) func() {
	if sc.Direct {
		return func() {
			r.logger.Info("dispatching scheduled command", "command", sc.Command)
			r.dispatcher.Dispatch(models.System, sc.Command)
		}
	}
	return func() {
		if r.gate != nil {
			if _, err := r.gate.Submit(ctx, models.System, sc.Command); err != nil {
				r.logger.Warn("failed to submit scheduled command",
					"command", sc.Command,
					"error", err)
			}
			return
		}
		if _, err := r.engine.Stage(ctx, models.System, sc.Command, true); err != nil {
			r.logger.Warn("failed to stage scheduled command",
				"command", sc.Command,
				"error", err)
		}
	}
}

// Start begins executing jobs on their schedules.
func (r *Runner) Start() {
	r.c.Start()
	r.logger.Info("scheduler started", "entries", len(r.c.Entries()))
}

// Stop halts scheduling and waits for running jobs to finish.
func (r *Runner) Stop() {
	ctx := r.c.Stop()
	<-ctx.Done()
	r.logger.Info("scheduler stopped")
}
