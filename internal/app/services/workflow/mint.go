package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/trivianft/core/internal/app/domain/apperr"
	"github.com/trivianft/core/internal/app/domain/nft"
	"github.com/trivianft/core/internal/app/domain/player"
	"github.com/trivianft/core/internal/app/metrics"
	eligsvc "github.com/trivianft/core/internal/app/services/eligibility"
	"github.com/trivianft/core/internal/app/services/leaderboard"
	"github.com/trivianft/core/internal/app/storage"
	"github.com/trivianft/core/internal/assetname"
	"github.com/trivianft/core/internal/chain"
	"github.com/trivianft/core/pkg/logger"
)

// Mint executes the eligibility-to-asset pipeline. Consuming the eligibility
// reserves catalog stock transactionally; every later step is checkpointed so
// a crashed instance resumes instead of double-minting.
type Mint struct {
	mints      storage.MintStore
	catalog    storage.CatalogStore
	categories storage.CategoryStore
	seasons    storage.SeasonStore
	ledger     *eligsvc.Service
	ladder     *leaderboard.Service
	chain      chain.Blockchain
	blobs      BlobStore
	pins       ContentAddressing
	clock      Clock
	cfg        Config
	log        *logger.Logger

	wg sync.WaitGroup
}

// NewMint constructs the mint workflow service.
func NewMint(mints storage.MintStore, catalog storage.CatalogStore, categories storage.CategoryStore, seasons storage.SeasonStore, ledger *eligsvc.Service, ladder *leaderboard.Service, bc chain.Blockchain, blobs BlobStore, pins ContentAddressing, clock Clock, cfg Config, log *logger.Logger) *Mint {
	if log == nil {
		log = logger.NewDefault("mint")
	}
	return &Mint{
		mints: mints, catalog: catalog, categories: categories, seasons: seasons,
		ledger: ledger, ladder: ladder, chain: bc, blobs: blobs, pins: pins,
		clock: clock, cfg: cfg.withDefaults(), log: log,
	}
}

// Start consumes the eligibility, reserving one catalog item, and launches
// the pipeline in the background. The returned pending operation is the
// client's handle for status polling.
func (m *Mint) Start(ctx context.Context, eligID string, p player.Player) (nft.MintOperation, error) {
	if p.Stake == "" {
		return nft.MintOperation{}, apperr.New(apperr.KindForbidden, apperr.CodeStakeRequired, "minting requires a connected wallet")
	}
	op, item, err := m.ledger.Consume(ctx, eligID, nft.MintOperation{
		EligibilityID: eligID,
		PlayerID:      p.ID,
		Stake:         p.Stake,
		PolicyID:      m.cfg.PolicyID,
	})
	if err != nil {
		return nft.MintOperation{}, err
	}

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		// Detached from the request context; the operation row carries the
		// outcome.
		m.execute(context.Background(), op, item)
	}()
	return op, nil
}

// Get returns the operation for status polling.
func (m *Mint) Get(ctx context.Context, opID string) (nft.MintOperation, error) {
	return m.mints.GetMintOperation(ctx, opID)
}

// Resume re-runs a pending operation from its last durable artifact. The
// recovery scanner calls it for stale instances.
func (m *Mint) Resume(ctx context.Context, opID string) error {
	op, err := m.mints.GetMintOperation(ctx, opID)
	if err != nil {
		return err
	}
	if op.Status != nft.OpPending {
		return nil
	}
	item, err := m.catalog.GetCatalogItem(ctx, op.CatalogID)
	if err != nil {
		return fmt.Errorf("load reserved item: %w", err)
	}
	m.execute(ctx, op, item)
	return nil
}

// Wait blocks until all in-flight pipelines finish. Used on shutdown and in
// tests.
func (m *Mint) Wait() { m.wg.Wait() }

func (m *Mint) execute(ctx context.Context, op nft.MintOperation, item nft.CatalogItem) {
	started := m.clock.Now()
	log := m.log.WithField("mint_id", op.ID).WithField("catalog_id", item.ID)

	err := runSteps(ctx, m.cfg, m.steps(&op, &item), func(ctx context.Context, cursor string) error {
		op.StepCursor = cursor
		updated, err := m.mints.UpdateMintOperation(ctx, op)
		if err != nil {
			return fmt.Errorf("checkpoint %s: %w", cursor, err)
		}
		op = updated
		return nil
	})
	if err != nil {
		// A concurrent instance already finished this operation.
		if apperr.CodeOf(err) == "OPERATION_TERMINAL" {
			return
		}
		log.WithError(err).WithField("cursor", op.StepCursor).Error("mint failed; releasing reservation")
		if ferr := m.mints.FailMint(ctx, op.ID, err.Error(), op.CatalogID); ferr != nil {
			log.WithError(ferr).Error("mint failure record failed")
		}
		metrics.RecordWorkflowOutcome("mint", "failed", m.clock.Now().Sub(started))
		return
	}

	metrics.RecordWorkflowOutcome("mint", "confirmed", m.clock.Now().Sub(started))
	log.WithField("tx_hash", op.TxHash).Info("mint confirmed")
	m.awardPoints(ctx, op, item)
}

func (m *Mint) steps(op *nft.MintOperation, item *nft.CatalogItem) []step {
	env := &chain.TxEnvelope{
		Type:      chain.TxMint,
		Stake:     op.Stake,
		PolicyID:  op.PolicyID,
		AssetName: item.Name,
	}

	return []step{
		{
			name: "upload_content",
			skip: func() bool { return item.ContentCID != "" },
			run: func(ctx context.Context) error {
				data, err := m.blobs.Get(ctx, item.ArtworkKey)
				if err != nil {
					return apperr.External("artwork blob unavailable", true, err)
				}
				cid, err := m.pins.Pin(ctx, data)
				if err != nil {
					return apperr.External("content pin failed", true, err)
				}
				if err := m.catalog.SetCatalogCID(ctx, item.ID, cid); err != nil {
					return fmt.Errorf("record content id: %w", err)
				}
				item.ContentCID = cid
				return nil
			},
		},
		{
			name: "build_tx",
			run: func(ctx context.Context) error {
				// item.Name goes on chain verbatim; a malformed catalog row
				// must fail here, not at the node.
				if !assetname.Validate(item.Name) {
					return apperr.Newf(apperr.KindInput, apperr.CodeInvalidAssetName, "catalog item %s has malformed asset name %q", item.ID, item.Name)
				}
				meta, err := m.assetMetadata(ctx, *item)
				if err != nil {
					return err
				}
				env.Metadata = meta
				return m.chain.BuildTx(ctx, env)
			},
		},
		{
			name: "sign_tx",
			run: func(ctx context.Context) error {
				return m.chain.Sign(ctx, env, m.cfg.SigningKeyRef)
			},
		},
		{
			name: "submit_tx",
			skip: func() bool { return op.TxHash != "" },
			run: func(ctx context.Context) error {
				txHash, err := m.chain.Submit(ctx, env.Signed)
				if err != nil {
					return err
				}
				// Persist the hash before anything else so a crash here
				// resumes at confirmation instead of re-submitting.
				op.TxHash = txHash
				updated, err := m.mints.UpdateMintOperation(ctx, *op)
				if err != nil {
					return fmt.Errorf("record tx hash: %w", err)
				}
				*op = updated
				return nil
			},
		},
		{
			name: "await_confirmations",
			run: func(ctx context.Context) error {
				n, err := m.chain.GetConfirmations(ctx, op.TxHash)
				if err != nil {
					return err
				}
				if n < 1 {
					return apperr.External("transaction not yet confirmed", true, nil)
				}
				return nil
			},
		},
		{
			name: "record_asset",
			run: func(ctx context.Context) error {
				fp, err := m.chain.GetAssetFingerprint(ctx, op.PolicyID, item.Name)
				if err != nil {
					return err
				}
				tier := item.Tier
				if tier == "" {
					tier = nft.TierCategory
				}
				asset := nft.OwnedAsset{
					Stake:       op.Stake,
					PolicyID:    op.PolicyID,
					Fingerprint: fp,
					AssetName:   item.Name,
					Source:      nft.SourceMint,
					CategoryID:  item.CategoryID,
					Tier:        tier,
					Status:      nft.AssetConfirmed,
					MintedAt:    m.clock.Now().UTC(),
					Metadata:    env.Metadata,
				}
				return m.mints.CompleteMint(ctx, *op, asset)
			},
		},
	}
}

func (m *Mint) assetMetadata(ctx context.Context, item nft.CatalogItem) ([]byte, error) {
	cat, err := m.categories.GetCategory(ctx, item.CategoryID)
	if err != nil {
		return nil, fmt.Errorf("load category: %w", err)
	}
	tier := item.Tier
	if tier == "" {
		tier = nft.TierCategory
	}
	return json.Marshal(map[string]string{
		"name":     item.Name,
		"image":    "ipfs://" + item.ContentCID,
		"category": cat.Code,
		"tier":     string(tier),
	})
}

// awardPoints credits the mint into the active season's ladder. The asset is
// already owned; a miss here is repaired by reconciliation, not rolled back.
func (m *Mint) awardPoints(ctx context.Context, op nft.MintOperation, item nft.CatalogItem) {
	active, err := m.seasons.ActiveSeason(ctx)
	if err != nil {
		m.log.WithError(err).Debug("no active season; mint award skipped")
		return
	}
	if _, err := m.ladder.AwardMint(ctx, active.ID, item.CategoryID, op.Stake); err != nil {
		m.log.WithError(err).WithField("mint_id", op.ID).Error("mint ladder award failed")
	}
}
