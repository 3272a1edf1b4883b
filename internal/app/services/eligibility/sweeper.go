package eligibility

import (
	"context"
	"sync"
	"time"

	"github.com/trivianft/core/pkg/logger"
)

// Sweeper is the best-effort background reaper for expired eligibilities.
// Reads filter expiry themselves, so the sweep only tidies rows.
type Sweeper struct {
	svc      *Service
	interval time.Duration
	log      *logger.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewSweeper creates a sweeper. interval <= 0 defaults to one minute.
func NewSweeper(svc *Service, interval time.Duration, log *logger.Logger) *Sweeper {
	if interval <= 0 {
		interval = time.Minute
	}
	if log == nil {
		log = logger.NewDefault("eligibility-sweeper")
	}
	return &Sweeper{svc: svc, interval: interval, log: log}
}

func (w *Sweeper) Name() string { return "eligibility-sweeper" }

func (w *Sweeper) Start(context.Context) error {
	ctx, cancel := context.WithCancel(context.Background())
	w.cancel = cancel
	w.wg.Add(1)
	go w.loop(ctx)
	return nil
}

func (w *Sweeper) Stop(context.Context) error {
	if w.cancel != nil {
		w.cancel()
	}
	w.wg.Wait()
	return nil
}

func (w *Sweeper) loop(ctx context.Context) {
	defer w.wg.Done()
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := w.svc.SweepExpired(ctx); err != nil {
				w.log.WithError(err).Warn("eligibility sweep failed")
			}
		}
	}
}
