package leaderboard

import (
	"context"
	"sync"
	"time"

	"github.com/trivianft/core/internal/app/storage"
	"github.com/trivianft/core/pkg/logger"
)

// Reconciler periodically rebuilds the active season's global ladder from
// SQL, closing the gap left by KV writes that failed after commit.
type Reconciler struct {
	svc      *Service
	seasons  storage.SeasonStore
	interval time.Duration
	log      *logger.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewReconciler creates a reconciler. interval <= 0 defaults to 30 seconds.
func NewReconciler(svc *Service, seasons storage.SeasonStore, interval time.Duration, log *logger.Logger) *Reconciler {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if log == nil {
		log = logger.NewDefault("leaderboard-reconciler")
	}
	return &Reconciler{svc: svc, seasons: seasons, interval: interval, log: log}
}

func (r *Reconciler) Name() string { return "leaderboard-reconciler" }

func (r *Reconciler) Start(context.Context) error {
	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	r.wg.Add(1)
	go r.loop(ctx)
	return nil
}

func (r *Reconciler) Stop(context.Context) error {
	if r.cancel != nil {
		r.cancel()
	}
	r.wg.Wait()
	return nil
}

func (r *Reconciler) loop(ctx context.Context) {
	defer r.wg.Done()
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.runOnce(ctx)
		}
	}
}

func (r *Reconciler) runOnce(ctx context.Context) {
	active, err := r.seasons.ActiveSeason(ctx)
	if err != nil {
		r.log.WithError(err).Debug("no active season to reconcile")
		return
	}
	if err := r.svc.Reconcile(ctx, active.ID); err != nil {
		r.log.WithError(err).WithField("season_id", active.ID).Warn("ladder reconcile failed")
	}
}
