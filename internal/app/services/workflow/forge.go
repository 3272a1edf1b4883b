package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"

	"github.com/trivianft/core/internal/app/domain/apperr"
	"github.com/trivianft/core/internal/app/domain/nft"
	"github.com/trivianft/core/internal/app/metrics"
	"github.com/trivianft/core/internal/app/storage"
	"github.com/trivianft/core/internal/assetname"
	"github.com/trivianft/core/internal/chain"
	"github.com/trivianft/core/pkg/logger"
)

// Forge executes the burn-and-mint upgrade pipeline: a validated input set is
// burned on chain, then the ultimate asset is minted and recorded. Once the
// burn is in flight a failure flips the operation to needs-operator instead
// of auto-compensating; burned inputs cannot be restored mechanically.
type Forge struct {
	forges     storage.ForgeStore
	assets     storage.AssetStore
	categories storage.CategoryStore
	seasons    storage.SeasonStore
	chain      chain.Blockchain
	clock      Clock
	cfg        Config
	log        *logger.Logger

	wg sync.WaitGroup
}

// NewForge constructs the forge workflow service.
func NewForge(forges storage.ForgeStore, assets storage.AssetStore, categories storage.CategoryStore, seasons storage.SeasonStore, bc chain.Blockchain, clock Clock, cfg Config, log *logger.Logger) *Forge {
	if log == nil {
		log = logger.NewDefault("forge")
	}
	return &Forge{
		forges: forges, assets: assets, categories: categories, seasons: seasons,
		chain: bc, clock: clock, cfg: cfg.withDefaults(), log: log,
	}
}

// Start validates the input set against the forge shape rules, records the
// pending operation and launches the pipeline in the background.
func (f *Forge) Start(ctx context.Context, typ nft.ForgeType, stake, categoryID string, fingerprints []string) (nft.ForgeOperation, error) {
	if stake == "" {
		return nft.ForgeOperation{}, apperr.New(apperr.KindForbidden, apperr.CodeStakeRequired, "forging requires a connected wallet")
	}
	seasonID, err := f.validateInputs(ctx, typ, stake, categoryID, fingerprints)
	if err != nil {
		return nft.ForgeOperation{}, err
	}

	op, err := f.forges.CreateForgeOperation(ctx, nft.ForgeOperation{
		Type:              typ,
		Stake:             stake,
		CategoryID:        categoryID,
		SeasonID:          seasonID,
		InputFingerprints: fingerprints,
	})
	if err != nil {
		return nft.ForgeOperation{}, fmt.Errorf("create forge operation: %w", err)
	}

	f.wg.Add(1)
	go func() {
		defer f.wg.Done()
		f.execute(context.Background(), op)
	}()
	return op, nil
}

// Get returns the operation for status polling.
func (f *Forge) Get(ctx context.Context, opID string) (nft.ForgeOperation, error) {
	return f.forges.GetForgeOperation(ctx, opID)
}

// Resume re-runs a pending operation from its last durable artifact.
func (f *Forge) Resume(ctx context.Context, opID string) error {
	op, err := f.forges.GetForgeOperation(ctx, opID)
	if err != nil {
		return err
	}
	if op.Status != nft.OpPending {
		return nil
	}
	f.execute(ctx, op)
	return nil
}

// Wait blocks until all in-flight pipelines finish.
func (f *Forge) Wait() { f.wg.Wait() }

// validateInputs enforces the set shape for the forge type. Every input must
// be a confirmed asset owned by the caller; duplicates are rejected. Returns
// the season id bound to a season forge.
func (f *Forge) validateInputs(ctx context.Context, typ nft.ForgeType, stake, categoryID string, fingerprints []string) (string, error) {
	seen := make(map[string]bool, len(fingerprints))
	inputs := make([]nft.OwnedAsset, 0, len(fingerprints))
	for _, fp := range fingerprints {
		if seen[fp] {
			return "", apperr.Newf(apperr.KindInput, apperr.CodeInvalidForgeSet, "duplicate input %s", fp)
		}
		seen[fp] = true
		a, err := f.assets.GetAssetByFingerprint(ctx, fp)
		if err != nil {
			if apperr.IsKind(err, apperr.KindNotFound) {
				return "", apperr.Newf(apperr.KindInput, apperr.CodeInvalidForgeSet, "unknown asset %s", fp)
			}
			return "", err
		}
		if a.Stake != stake {
			return "", apperr.Newf(apperr.KindForbidden, apperr.CodeOwnershipMismatch, "asset %s is not owned by caller", fp)
		}
		if a.Status != nft.AssetConfirmed {
			return "", apperr.Newf(apperr.KindInput, apperr.CodeInvalidForgeSet, "asset %s is %s", fp, a.Status)
		}
		inputs = append(inputs, a)
	}

	switch typ {
	case nft.ForgeCategory:
		if len(inputs) != nft.CategoryForgeInputs {
			return "", apperr.Newf(apperr.KindInput, apperr.CodeInvalidForgeSet, "category forge needs %d inputs, got %d", nft.CategoryForgeInputs, len(inputs))
		}
		for _, a := range inputs {
			if a.Tier != nft.TierCategory || a.CategoryID != categoryID {
				return "", apperr.Newf(apperr.KindInput, apperr.CodeInvalidForgeSet, "asset %s is not a tier-1 %s asset", a.Fingerprint, categoryID)
			}
		}
		return "", nil

	case nft.ForgeMaster:
		if len(inputs) != nft.CategoryForgeInputs {
			return "", apperr.Newf(apperr.KindInput, apperr.CodeInvalidForgeSet, "master forge needs %d inputs, got %d", nft.CategoryForgeInputs, len(inputs))
		}
		cats := make(map[string]bool, len(inputs))
		for _, a := range inputs {
			if a.Tier != nft.TierCategory {
				return "", apperr.Newf(apperr.KindInput, apperr.CodeInvalidForgeSet, "asset %s is not a tier-1 asset", a.Fingerprint)
			}
			if cats[a.CategoryID] {
				return "", apperr.Newf(apperr.KindInput, apperr.CodeInvalidForgeSet, "two inputs from category %s", a.CategoryID)
			}
			cats[a.CategoryID] = true
		}
		return "", nil

	case nft.ForgeSeason:
		// The inputs name the season; a just-closed season stays forgeable
		// through its grace window.
		if len(inputs) == 0 || inputs[0].SeasonID == "" {
			return "", apperr.New(apperr.KindInput, apperr.CodeInvalidForgeSet, "season forge needs season-tagged inputs")
		}
		sid := inputs[0].SeasonID
		sn, err := f.seasons.GetSeason(ctx, sid)
		if err != nil {
			if apperr.IsKind(err, apperr.KindNotFound) {
				return "", apperr.Newf(apperr.KindInput, apperr.CodeInvalidForgeSet, "unknown season %s", sid)
			}
			return "", err
		}
		if now := f.clock.Now().UTC(); !sn.Active && !sn.InGrace(now) {
			return "", apperr.Newf(apperr.KindInput, apperr.CodeInvalidForgeSet, "season %s is past its grace window", sid)
		}
		cats, err := f.categories.ListActiveCategories(ctx)
		if err != nil {
			return "", fmt.Errorf("list categories: %w", err)
		}
		want := len(cats) * nft.SeasonForgePerCategory
		if len(inputs) != want {
			return "", apperr.Newf(apperr.KindInput, apperr.CodeInvalidForgeSet, "season forge needs %d inputs (%d per active category), got %d", want, nft.SeasonForgePerCategory, len(inputs))
		}
		perCat := make(map[string]int, len(cats))
		for _, a := range inputs {
			if a.Tier != nft.TierCategory || a.SeasonID != sid {
				return "", apperr.Newf(apperr.KindInput, apperr.CodeInvalidForgeSet, "asset %s was not minted in season %s", a.Fingerprint, sid)
			}
			perCat[a.CategoryID]++
		}
		for _, c := range cats {
			if perCat[c.ID] != nft.SeasonForgePerCategory {
				return "", apperr.Newf(apperr.KindInput, apperr.CodeInvalidForgeSet, "category %s contributes %d assets, need %d", c.Slug, perCat[c.ID], nft.SeasonForgePerCategory)
			}
		}
		return sid, nil

	default:
		return "", apperr.Newf(apperr.KindInput, apperr.CodeInvalidForgeSet, "unknown forge type %q", typ)
	}
}

func (f *Forge) execute(ctx context.Context, op nft.ForgeOperation) {
	started := f.clock.Now()
	log := f.log.WithField("forge_id", op.ID).WithField("type", string(op.Type))

	name, tier, err := f.outputName(ctx, op)
	if err != nil {
		log.WithError(err).Error("forge output name derivation failed")
		f.fail(ctx, op, err)
		metrics.RecordWorkflowOutcome("forge", "failed", f.clock.Now().Sub(started))
		return
	}

	err = runSteps(ctx, f.cfg, f.steps(&op, name, tier), func(ctx context.Context, cursor string) error {
		op.StepCursor = cursor
		updated, err := f.forges.UpdateForgeOperation(ctx, op)
		if err != nil {
			return fmt.Errorf("checkpoint %s: %w", cursor, err)
		}
		op = updated
		return nil
	})
	if err != nil {
		if apperr.CodeOf(err) == "OPERATION_TERMINAL" {
			return
		}
		log.WithError(err).WithField("cursor", op.StepCursor).Error("forge failed")
		f.fail(ctx, op, err)
		metrics.RecordWorkflowOutcome("forge", "failed", f.clock.Now().Sub(started))
		return
	}

	metrics.RecordWorkflowOutcome("forge", "confirmed", f.clock.Now().Sub(started))
	log.WithField("output", name).Info("forge confirmed")
}

// fail records the terminal failure. After the burn transaction exists the
// inputs may already be destroyed on chain, so the operation is flagged for
// operator resolution instead of silently compensating.
func (f *Forge) fail(ctx context.Context, op nft.ForgeOperation, cause error) {
	needsOperator := op.BurnTxHash != ""
	if err := f.forges.FailForge(ctx, op.ID, cause.Error(), needsOperator); err != nil {
		f.log.WithError(err).WithField("forge_id", op.ID).Error("forge failure record failed")
	}
}

// outputName derives the ultimate asset's name. The hex id comes from the
// operation id, so a resumed run targets the same name.
func (f *Forge) outputName(ctx context.Context, op nft.ForgeOperation) (string, nft.Tier, error) {
	id := opHexID(op.ID)
	switch op.Type {
	case nft.ForgeCategory:
		cat, err := f.categories.GetCategory(ctx, op.CategoryID)
		if err != nil {
			return "", "", fmt.Errorf("load category: %w", err)
		}
		name, err := assetname.Build(nft.TierCategoryUltimate, cat.Code, "", id)
		return name, nft.TierCategoryUltimate, err
	case nft.ForgeMaster:
		name, err := assetname.Build(nft.TierMasterUltimate, "", "", id)
		return name, nft.TierMasterUltimate, err
	case nft.ForgeSeason:
		code, err := assetname.SeasonCodeFromID(op.SeasonID)
		if err != nil {
			return "", "", apperr.Wrap(apperr.KindInput, apperr.CodeInvalidAssetName, "season code", err)
		}
		name, err := assetname.Build(nft.TierSeasonalUltimate, "", code, id)
		return name, nft.TierSeasonalUltimate, err
	default:
		return "", "", apperr.Newf(apperr.KindInput, apperr.CodeInvalidForgeSet, "unknown forge type %q", op.Type)
	}
}

func (f *Forge) steps(op *nft.ForgeOperation, outputName string, tier nft.Tier) []step {
	burnEnv := &chain.TxEnvelope{
		Type:             chain.TxBurn,
		Stake:            op.Stake,
		PolicyID:         f.cfg.PolicyID,
		BurnFingerprints: op.InputFingerprints,
	}
	metadata, _ := json.Marshal(map[string]string{
		"name":        outputName,
		"tier":        string(tier),
		"forged_from": strconv.Itoa(len(op.InputFingerprints)),
	})
	mintEnv := &chain.TxEnvelope{
		Type:      chain.TxMint,
		Stake:     op.Stake,
		PolicyID:  f.cfg.PolicyID,
		AssetName: outputName,
		Metadata:  metadata,
	}

	submit := func(env *chain.TxEnvelope, record func(string) nft.ForgeOperation) func(ctx context.Context) error {
		return func(ctx context.Context) error {
			if err := f.chain.BuildTx(ctx, env); err != nil {
				return err
			}
			if err := f.chain.Sign(ctx, env, f.cfg.SigningKeyRef); err != nil {
				return err
			}
			txHash, err := f.chain.Submit(ctx, env.Signed)
			if err != nil {
				return err
			}
			// Persist the hash immediately; a crash past this point resumes
			// at confirmation instead of re-submitting.
			updated, err := f.forges.UpdateForgeOperation(ctx, record(txHash))
			if err != nil {
				return fmt.Errorf("record tx hash: %w", err)
			}
			*op = updated
			return nil
		}
	}
	await := func(txHash *string) func(ctx context.Context) error {
		return func(ctx context.Context) error {
			n, err := f.chain.GetConfirmations(ctx, *txHash)
			if err != nil {
				return err
			}
			if n < 1 {
				return apperr.External("transaction not yet confirmed", true, nil)
			}
			return nil
		}
	}

	return []step{
		{
			name: "burn_inputs",
			skip: func() bool { return op.BurnTxHash != "" },
			run: submit(burnEnv, func(txHash string) nft.ForgeOperation {
				next := *op
				next.BurnTxHash = txHash
				return next
			}),
		},
		{
			name: "await_burn",
			run:  await(&op.BurnTxHash),
		},
		{
			name: "mint_output",
			skip: func() bool { return op.MintTxHash != "" },
			run: submit(mintEnv, func(txHash string) nft.ForgeOperation {
				next := *op
				next.MintTxHash = txHash
				return next
			}),
		},
		{
			name: "await_mint",
			run:  await(&op.MintTxHash),
		},
		{
			name: "record_output",
			run: func(ctx context.Context) error {
				fp, err := f.chain.GetAssetFingerprint(ctx, f.cfg.PolicyID, outputName)
				if err != nil {
					return err
				}
				now := f.clock.Now().UTC()
				output := nft.OwnedAsset{
					Stake:       op.Stake,
					PolicyID:    f.cfg.PolicyID,
					Fingerprint: fp,
					AssetName:   outputName,
					Source:      nft.SourceForge,
					CategoryID:  op.CategoryID,
					SeasonID:    op.SeasonID,
					Tier:        tier,
					Status:      nft.AssetConfirmed,
					MintedAt:    now,
					Metadata:    metadata,
				}
				next := *op
				next.OutputFingerprint = fp
				if err := f.forges.CompleteForge(ctx, next, output, now); err != nil {
					return err
				}
				*op = next
				return nil
			},
		},
	}
}
