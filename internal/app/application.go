package app

import (
	"context"
	"time"

	eligsvc "github.com/trivianft/core/internal/app/services/eligibility"
	"github.com/trivianft/core/internal/app/services/leaderboard"
	"github.com/trivianft/core/internal/app/services/seasons"
	"github.com/trivianft/core/internal/app/services/sessions"
	"github.com/trivianft/core/internal/app/services/workflow"
	"github.com/trivianft/core/internal/app/storage"
	"github.com/trivianft/core/internal/app/storage/memory"
	"github.com/trivianft/core/internal/app/system"
	"github.com/trivianft/core/internal/chain"
	"github.com/trivianft/core/internal/kv"
	"github.com/trivianft/core/pkg/logger"
)

// Stores encapsulates persistence dependencies. Nil stores default to a
// shared in-memory implementation.
type Stores struct {
	Players       storage.PlayerStore
	Categories    storage.CategoryStore
	Flags         storage.QuestionFlagStore
	Sessions      storage.SessionStore
	Eligibilities storage.EligibilityStore
	Catalog       storage.CatalogStore
	Assets        storage.AssetStore
	Mints         storage.MintStore
	Forges        storage.ForgeStore
	Seasons       storage.SeasonStore
	Points        storage.PointsStore
	Snapshots     storage.SnapshotStore
}

// Deps carries the capabilities the application wires into its services.
// Nil fields fall back to in-process defaults where one exists; without a
// chain client the mint and forge surfaces stay disabled.
type Deps struct {
	Stores    Stores
	KV        kv.Store
	Questions sessions.QuestionSource
	Chain     chain.Blockchain
	Blobs     workflow.BlobStore
	Pins      workflow.ContentAddressing
	Clock     Clock
	RNG       sessions.RNG

	SessionConfig  sessions.Config
	WorkflowConfig workflow.Config
	SeasonSchedule string

	SweeperInterval   time.Duration
	ReconcileInterval time.Duration
}

// Clock supplies the wall clock shared across services.
type Clock interface {
	Now() time.Time
}

type sysClock struct{}

func (sysClock) Now() time.Time { return time.Now() }

// Probe is one health check run by the /health endpoint.
type Probe struct {
	Name  string
	Check func(ctx context.Context) error
}

// Application ties the game services together and manages their lifecycle.
type Application struct {
	manager *system.Manager
	log     *logger.Logger
	probes  []Probe

	Players     storage.PlayerStore
	Sessions    *sessions.Service
	Eligibility *eligsvc.Service
	Leaderboard *leaderboard.Service
	Seasons     *seasons.Service
	Mint        *workflow.Mint
	Forge       *workflow.Forge
}

// New builds a fully initialised application with the provided stores and
// capabilities.
func New(deps Deps, log *logger.Logger) (*Application, error) {
	if log == nil {
		log = logger.NewDefault("app")
	}

	mem := memory.New()
	st := &deps.Stores
	if st.Players == nil {
		st.Players = mem
	}
	if st.Categories == nil {
		st.Categories = mem
	}
	if st.Flags == nil {
		st.Flags = mem
	}
	if st.Sessions == nil {
		st.Sessions = mem
	}
	if st.Eligibilities == nil {
		st.Eligibilities = mem
	}
	if st.Catalog == nil {
		st.Catalog = mem
	}
	if st.Assets == nil {
		st.Assets = mem
	}
	if st.Mints == nil {
		st.Mints = mem
	}
	if st.Forges == nil {
		st.Forges = mem
	}
	if st.Seasons == nil {
		st.Seasons = mem
	}
	if st.Points == nil {
		st.Points = mem
	}
	if st.Snapshots == nil {
		st.Snapshots = mem
	}
	if deps.KV == nil {
		deps.KV = kv.NewMemory()
	}
	if deps.Questions == nil {
		deps.Questions = mem
	}
	if deps.Clock == nil {
		deps.Clock = sysClock{}
	}
	if deps.RNG == nil {
		deps.RNG = sessions.NewRNG()
	}
	if deps.SweeperInterval <= 0 {
		deps.SweeperInterval = time.Minute
	}
	if deps.ReconcileInterval <= 0 {
		deps.ReconcileInterval = 30 * time.Second
	}

	ledger := eligsvc.New(st.Eligibilities, st.Catalog, deps.Clock, log)
	ladder := leaderboard.New(st.Points, st.Players, st.Snapshots, deps.KV, deps.Clock, log)
	sessionSvc := sessions.New(st.Sessions, deps.KV, deps.Questions, ledger, ladder, st.Seasons, deps.Clock, deps.RNG, deps.SessionConfig, log)
	seasonSvc := seasons.New(st.Seasons, st.Points, st.Players, st.Categories, st.Assets, ladder, ledger, deps.Clock, log)

	manager := system.NewManager(log)
	manager.Register(
		eligsvc.NewSweeper(ledger, deps.SweeperInterval, log),
		leaderboard.NewReconciler(ladder, st.Seasons, deps.ReconcileInterval, log),
		seasons.NewRunner(seasonSvc, deps.SeasonSchedule, log),
	)

	appl := &Application{
		manager:     manager,
		log:         log,
		Players:     st.Players,
		Sessions:    sessionSvc,
		Eligibility: ledger,
		Leaderboard: ladder,
		Seasons:     seasonSvc,
	}

	if deps.Chain == nil || deps.Blobs == nil || deps.Pins == nil {
		log.Warn("chain, blob store or pinner not configured; mint and forge disabled")
		return appl, nil
	}

	appl.Mint = workflow.NewMint(st.Mints, st.Catalog, st.Categories, st.Seasons, ledger, ladder,
		deps.Chain, deps.Blobs, deps.Pins, deps.Clock, deps.WorkflowConfig, log)
	appl.Forge = workflow.NewForge(st.Forges, st.Assets, st.Categories, st.Seasons,
		deps.Chain, deps.Clock, deps.WorkflowConfig, log)
	manager.Register(workflow.NewRecovery(appl.Mint, appl.Forge, st.Mints, st.Forges,
		deps.Clock, deps.WorkflowConfig, log))
	return appl, nil
}

// Attach registers an additional lifecycle-managed service. Call before
// Start.
func (a *Application) Attach(svcs ...system.Service) {
	a.manager.Register(svcs...)
}

// AddProbe registers a health check served by the HTTP boundary.
func (a *Application) AddProbe(name string, check func(ctx context.Context) error) {
	a.probes = append(a.probes, Probe{Name: name, Check: check})
}

// Health runs every registered probe. The map carries per-probe outcomes;
// the bool is the overall verdict.
func (a *Application) Health(ctx context.Context) (map[string]string, bool) {
	out := make(map[string]string, len(a.probes))
	ok := true
	for _, p := range a.probes {
		if err := p.Check(ctx); err != nil {
			out[p.Name] = err.Error()
			ok = false
			continue
		}
		out[p.Name] = "ok"
	}
	return out, ok
}

// Start begins all registered background services.
func (a *Application) Start(ctx context.Context) error {
	return a.manager.Start(ctx)
}

// Stop stops all background services.
func (a *Application) Stop(ctx context.Context) {
	a.manager.Stop(ctx)
}
