package workflow

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/trivianft/core/internal/app/domain/apperr"
	"github.com/trivianft/core/internal/app/domain/category"
	"github.com/trivianft/core/internal/app/domain/eligibility"
	"github.com/trivianft/core/internal/app/domain/nft"
	"github.com/trivianft/core/internal/app/domain/player"
	"github.com/trivianft/core/internal/app/domain/season"
	"github.com/trivianft/core/internal/app/domain/session"
	eligsvc "github.com/trivianft/core/internal/app/services/eligibility"
	"github.com/trivianft/core/internal/app/services/leaderboard"
	"github.com/trivianft/core/internal/app/storage/memory"
	"github.com/trivianft/core/internal/chain"
	"github.com/trivianft/core/internal/kv"
	"github.com/trivianft/core/pkg/testutil"
)

const testItemName = "TNFT_V1_SCI_REG_0a1b2c3d"

func fastConfig() Config {
	return Config{
		PolicyID:      "policy-1",
		SigningKeyRef: "keys/policy",
		RetryInitial:  time.Millisecond,
		RetryMax:      2 * time.Millisecond,
	}
}

type mintFixture struct {
	mint   *Mint
	ledger *eligsvc.Service
	store  *memory.Store
	chain  *testutil.Chain
	clock  *testutil.Clock
	cat    category.Category
	item   nft.CatalogItem
	season season.Season
}

func newMintFixture(t *testing.T) *mintFixture {
	t.Helper()
	store := memory.New()
	clock := testutil.NewClock(time.Now().UTC())
	bc := &testutil.Chain{}
	blobs := testutil.NewBlobStore(map[string][]byte{"art/sci.png": []byte("png-bytes")})
	pins := &testutil.Pinner{}

	cat := store.SeedCategory(category.Category{Slug: "science", Name: "Science", Code: "SCI", Active: true})
	item, err := store.CreateCatalogItem(context.Background(), nft.CatalogItem{
		CategoryID:  cat.ID,
		Name:        testItemName,
		ArtworkKey:  "art/sci.png",
		MetadataKey: "meta/sci.json",
	})
	if err != nil {
		t.Fatalf("seed catalog: %v", err)
	}
	sn, err := store.CreateSeason(context.Background(), season.Season{ID: "winter-s1", Name: "Winter", Active: true})
	if err != nil {
		t.Fatalf("seed season: %v", err)
	}

	ledger := eligsvc.New(store, store, clock, nil)
	ladder := leaderboard.New(store, store, store, kv.NewMemory().WithClock(clock.Now), clock, nil)
	mint := NewMint(store, store, store, store, ledger, ladder, bc, blobs, pins, clock, fastConfig(), nil)
	return &mintFixture{mint: mint, ledger: ledger, store: store, chain: bc, clock: clock, cat: cat, item: item, season: sn}
}

func (f *mintFixture) issueEligibility(t *testing.T) eligibility.Eligibility {
	t.Helper()
	e, err := f.ledger.IssueOnPerfect(context.Background(), session.Session{
		ID: "sess-1", PlayerID: "p1", Stake: "stake1abc", CategoryID: f.cat.ID,
		Status: session.StatusWon, Score: 10,
	})
	if err != nil {
		t.Fatalf("issue eligibility: %v", err)
	}
	return e
}

func connectedPlayer() player.Player { return player.Player{ID: "p1", Stake: "stake1abc"} }

func TestMintHappyPath(t *testing.T) {
	f := newMintFixture(t)
	e := f.issueEligibility(t)

	op, err := f.mint.Start(context.Background(), e.ID, connectedPlayer())
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if op.Status != nft.OpPending {
		t.Fatalf("initial status = %s, want pending", op.Status)
	}
	f.mint.Wait()

	got, err := f.mint.Get(context.Background(), op.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != nft.OpConfirmed || got.TxHash != "tx-1" {
		t.Fatalf("op = %+v", got)
	}
	if got.ConfirmedAt == nil {
		t.Fatal("confirmed operation missing timestamp")
	}

	fp, err := chain.Fingerprint("policy-1", testItemName)
	if err != nil {
		t.Fatalf("Fingerprint: %v", err)
	}
	asset, err := f.store.GetAssetByFingerprint(context.Background(), fp)
	if err != nil {
		t.Fatalf("asset not recorded: %v", err)
	}
	if asset.Stake != "stake1abc" || asset.Source != nft.SourceMint || asset.Tier != nft.TierCategory {
		t.Fatalf("asset = %+v", asset)
	}

	item, err := f.store.GetCatalogItem(context.Background(), f.item.ID)
	if err != nil {
		t.Fatalf("GetCatalogItem: %v", err)
	}
	if item.State != nft.CatalogMinted || item.ContentCID == "" {
		t.Fatalf("catalog item = %+v", item)
	}

	pts, err := f.store.GetPoints(context.Background(), f.season.ID, "stake1abc")
	if err != nil {
		t.Fatalf("GetPoints: %v", err)
	}
	if pts.NFTsMinted != 1 {
		t.Fatalf("nfts minted = %d, want 1", pts.NFTsMinted)
	}
}

func TestMintRequiresConnectedWallet(t *testing.T) {
	f := newMintFixture(t)
	e := f.issueEligibility(t)

	_, err := f.mint.Start(context.Background(), e.ID, player.Player{ID: "g1", AnonID: "anon-1"})
	if apperr.CodeOf(err) != apperr.CodeStakeRequired {
		t.Fatalf("guest mint: %v", err)
	}
	// The rejection happened before consumption.
	if _, err := f.ledger.Validate(context.Background(), e.ID); err != nil {
		t.Fatalf("eligibility should remain active: %v", err)
	}
}

func TestMintRetriesTransientSubmit(t *testing.T) {
	f := newMintFixture(t)
	f.chain.SubmitErrs = []error{apperr.External("mempool congested", true, nil)}
	e := f.issueEligibility(t)

	op, err := f.mint.Start(context.Background(), e.ID, connectedPlayer())
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	f.mint.Wait()

	got, err := f.mint.Get(context.Background(), op.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != nft.OpConfirmed {
		t.Fatalf("status after transient fault = %s (%s)", got.Status, got.Error)
	}
	if f.chain.SubmitCount() != 1 {
		t.Fatalf("accepted submits = %d, want 1", f.chain.SubmitCount())
	}
}

func TestMintFailureReleasesReservation(t *testing.T) {
	f := newMintFixture(t)
	f.chain.SubmitErrs = []error{apperr.External("script rejected", false, nil)}
	e := f.issueEligibility(t)

	op, err := f.mint.Start(context.Background(), e.ID, connectedPlayer())
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	f.mint.Wait()

	got, err := f.mint.Get(context.Background(), op.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != nft.OpFailed || got.Error == "" {
		t.Fatalf("op = %+v", got)
	}
	// The reserved item is back in stock for the next winner.
	if n, _ := f.store.CountAvailable(context.Background(), f.cat.ID); n != 1 {
		t.Fatalf("available after failure = %d, want 1", n)
	}
}

func TestConfirmedMintStaysConfirmed(t *testing.T) {
	f := newMintFixture(t)
	e := f.issueEligibility(t)

	op, err := f.mint.Start(context.Background(), e.ID, connectedPlayer())
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	f.mint.Wait()

	// A later scan must not touch the confirmed row or its asset.
	f.clock.Advance(10 * time.Minute)
	forge := NewForge(f.store, f.store, f.store, f.store, f.chain, f.clock, fastConfig(), nil)
	rec := NewRecovery(f.mint, forge, f.store, f.store, f.clock, fastConfig(), nil)
	rec.Scan(context.Background())

	got, err := f.mint.Get(context.Background(), op.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != nft.OpConfirmed || got.ConfirmedAt == nil {
		t.Fatalf("op after scan = %+v", got)
	}
	if f.chain.SubmitCount() != 1 {
		t.Fatalf("submits after scan = %d, want 1", f.chain.SubmitCount())
	}

	// A late checkpoint from a concurrent instance cannot regress it either.
	stale := got
	stale.Status = nft.OpPending
	stale.StepCursor = "await_confirmations"
	if _, err := f.store.UpdateMintOperation(context.Background(), stale); apperr.CodeOf(err) != "OPERATION_TERMINAL" {
		t.Fatalf("stale checkpoint: %v", err)
	}
	item, err := f.store.GetCatalogItem(context.Background(), f.item.ID)
	if err != nil {
		t.Fatalf("GetCatalogItem: %v", err)
	}
	if item.State != nft.CatalogMinted {
		t.Fatalf("catalog item = %+v", item)
	}
}

func TestMintRejectsMalformedCatalogName(t *testing.T) {
	f := newMintFixture(t)
	cat := f.store.SeedCategory(category.Category{Slug: "geography", Name: "Geography", Code: "GEO", Active: true})
	if _, err := f.store.CreateCatalogItem(context.Background(), nft.CatalogItem{
		CategoryID: cat.ID, Name: "not a chain name", ArtworkKey: "art/sci.png",
	}); err != nil {
		t.Fatalf("seed catalog: %v", err)
	}
	e, err := f.ledger.IssueOnPerfect(context.Background(), session.Session{
		ID: "sess-geo", PlayerID: "p1", Stake: "stake1abc", CategoryID: cat.ID,
		Status: session.StatusWon, Score: 10,
	})
	if err != nil {
		t.Fatalf("issue eligibility: %v", err)
	}

	op, err := f.mint.Start(context.Background(), e.ID, connectedPlayer())
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	f.mint.Wait()

	got, err := f.mint.Get(context.Background(), op.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != nft.OpFailed || !strings.Contains(got.Error, "asset name") {
		t.Fatalf("op = %+v", got)
	}
	// Nothing reached the chain and the item went back to stock.
	if f.chain.SubmitCount() != 0 {
		t.Fatalf("submits = %d, want 0", f.chain.SubmitCount())
	}
	if n, _ := f.store.CountAvailable(context.Background(), cat.ID); n != 1 {
		t.Fatalf("available = %d, want 1", n)
	}
}

func TestRecoveryResumesAfterSubmittedCrash(t *testing.T) {
	f := newMintFixture(t)
	e := f.issueEligibility(t)

	// Simulate a crash after submit: the operation row has the tx hash but
	// the process died before confirmation.
	op, _, err := f.ledger.Consume(context.Background(), e.ID, nft.MintOperation{
		PlayerID: "p1", Stake: "stake1abc", PolicyID: "policy-1",
	})
	if err != nil {
		t.Fatalf("Consume: %v", err)
	}
	op.TxHash = "tx-crashed"
	op.StepCursor = "submit_tx"
	if _, err := f.store.UpdateMintOperation(context.Background(), op); err != nil {
		t.Fatalf("UpdateMintOperation: %v", err)
	}

	f.clock.Advance(3 * time.Minute)
	forge := NewForge(f.store, f.store, f.store, f.store, f.chain, f.clock, fastConfig(), nil)
	rec := NewRecovery(f.mint, forge, f.store, f.store, f.clock, fastConfig(), nil)
	rec.Scan(context.Background())

	got, err := f.mint.Get(context.Background(), op.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != nft.OpConfirmed || got.TxHash != "tx-crashed" {
		t.Fatalf("op after recovery = %+v", got)
	}
	// The resumed run polled the existing hash; it never re-submitted.
	if f.chain.SubmitCount() != 0 {
		t.Fatalf("submits during recovery = %d, want 0", f.chain.SubmitCount())
	}

	fp, _ := chain.Fingerprint("policy-1", testItemName)
	if _, err := f.store.GetAssetByFingerprint(context.Background(), fp); err != nil {
		t.Fatalf("asset not recorded after recovery: %v", err)
	}
}
