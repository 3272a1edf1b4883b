package seasons

import (
	"context"

	"github.com/robfig/cron/v3"

	"github.com/trivianft/core/pkg/logger"
)

// DefaultSchedule fires at midnight UTC on the first day of each quarter.
const DefaultSchedule = "0 0 1 1,4,7,10 *"

// Runner drives season transitions on a cron schedule. Transition is
// idempotent and skips while the season is still running, so an extra firing
// is harmless.
type Runner struct {
	svc      *Service
	schedule string
	cron     *cron.Cron
	log      *logger.Logger
}

// NewRunner constructs the scheduler. An empty schedule uses DefaultSchedule.
func NewRunner(svc *Service, schedule string, log *logger.Logger) *Runner {
	if schedule == "" {
		schedule = DefaultSchedule
	}
	if log == nil {
		log = logger.NewDefault("season-scheduler")
	}
	return &Runner{svc: svc, schedule: schedule, log: log}
}

func (r *Runner) Name() string { return "season-scheduler" }

func (r *Runner) Start(_ context.Context) error {
	c := cron.New()
	if _, err := c.AddFunc(r.schedule, r.tick); err != nil {
		return err
	}
	r.cron = c
	c.Start()
	r.log.WithField("schedule", r.schedule).Info("season scheduler started")
	return nil
}

func (r *Runner) Stop(ctx context.Context) error {
	if r.cron == nil {
		return nil
	}
	done := r.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

func (r *Runner) tick() {
	if err := r.svc.Transition(context.Background()); err != nil {
		r.log.WithError(err).Error("season transition failed; will retry next firing")
	}
}
