// Package scheduler runs the month-end job that applies next month's
// templates ahead of time.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"opsboard/internal/calendar"
	"opsboard/internal/config"
	"opsboard/internal/engine"
)

// Runner fires on a cron schedule in the board timezone.
type Runner struct {
	Engine engine.Engine
	Spec   string
	Log    *slog.Logger

	schedule cron.Schedule
}

// New parses spec with the 5-field parser used by the board config.
func New(e engine.Engine, spec string, logger *slog.Logger) (*Runner, error) {
	sched, err := config.ParseCron(spec)
	if err != nil {
		return nil, fmt.Errorf("scheduler cron %q: %w", spec, err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{Engine: e, Spec: spec, Log: logger.With("component", "scheduler"), schedule: sched}, nil
}

// Next returns the first fire time after t, evaluated in the board timezone.
func (r *Runner) Next(t time.Time) time.Time {
	return r.schedule.Next(t.In(r.Engine.Config.Location()))
}

// Run blocks until ctx is done, ticking at every fire time.
func (r *Runner) Run(ctx context.Context) {
	for {
		next := r.Next(time.Now())
		r.Log.Debug("next run", "at", next.Format(time.RFC3339))
		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
		if _, _, err := r.Tick(ctx); err != nil {
			r.Log.Error("month apply failed", "err", err)
		}
	}
}

// Tick applies next month when today is the last day of the month. It
// reports whether an apply ran; repeated ticks on the same day are no-ops
// because applying is idempotent.
func (r *Runner) Tick(ctx context.Context) (engine.ApplyResult, bool, error) {
	today := r.Engine.Today()
	if !calendar.IsLastDayOfMonth(today) {
		return engine.ApplyResult{}, false, nil
	}
	month := calendar.NextMonthKey(today)
	res, err := r.Engine.ApplyMonthScheduled(ctx, month)
	if err != nil {
		return engine.ApplyResult{}, true, err
	}
	r.Log.Info("month applied", "month", res.Month, "created", len(res.Created), "skipped", res.Skipped)
	return res, true, nil
}
