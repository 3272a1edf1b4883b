package workflow

import (
	"context"
	"sync"
	"time"

	"github.com/trivianft/core/internal/app/storage"
	"github.com/trivianft/core/pkg/logger"
)

// Recovery periodically resumes pending operations that stopped advancing,
// typically after a process crash. Resumed instances skip steps whose durable
// artifacts already exist.
type Recovery struct {
	mint   *Mint
	forge  *Forge
	mints  storage.MintStore
	forges storage.ForgeStore
	clock  Clock
	cfg    Config
	log    *logger.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewRecovery constructs the recovery scanner.
func NewRecovery(mint *Mint, forge *Forge, mints storage.MintStore, forges storage.ForgeStore, clock Clock, cfg Config, log *logger.Logger) *Recovery {
	if log == nil {
		log = logger.NewDefault("workflow-recovery")
	}
	return &Recovery{
		mint: mint, forge: forge, mints: mints, forges: forges,
		clock: clock, cfg: cfg.withDefaults(), log: log,
	}
}

func (r *Recovery) Name() string { return "workflow-recovery" }

func (r *Recovery) Start(_ context.Context) error {
	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	r.wg.Add(1)
	go r.loop(ctx)
	r.log.Info("workflow recovery scanner started")
	return nil
}

func (r *Recovery) Stop(_ context.Context) error {
	if r.cancel != nil {
		r.cancel()
	}
	r.wg.Wait()
	return nil
}

func (r *Recovery) loop(ctx context.Context) {
	defer r.wg.Done()
	ticker := time.NewTicker(r.cfg.ScanInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Scan(ctx)
		}
	}
}

// Scan resumes every stale pending operation once, sequentially.
func (r *Recovery) Scan(ctx context.Context) {
	cutoff := r.clock.Now().UTC().Add(-r.cfg.StaleAfter)

	stale, err := r.mints.ListStaleMintOperations(ctx, cutoff)
	if err != nil {
		r.log.WithError(err).Error("stale mint scan failed")
	}
	for _, op := range stale {
		r.log.WithField("mint_id", op.ID).WithField("cursor", op.StepCursor).Info("resuming stale mint")
		if err := r.mint.Resume(ctx, op.ID); err != nil {
			r.log.WithError(err).WithField("mint_id", op.ID).Error("mint resume failed")
		}
	}

	staleForges, err := r.forges.ListStaleForgeOperations(ctx, cutoff)
	if err != nil {
		r.log.WithError(err).Error("stale forge scan failed")
	}
	for _, op := range staleForges {
		r.log.WithField("forge_id", op.ID).WithField("cursor", op.StepCursor).Info("resuming stale forge")
		if err := r.forge.Resume(ctx, op.ID); err != nil {
			r.log.WithError(err).WithField("forge_id", op.ID).Error("forge resume failed")
		}
	}
}
