package seasons

import (
	"context"
	"testing"
	"time"

	"github.com/trivianft/core/internal/app/domain/apperr"
	"github.com/trivianft/core/internal/app/domain/category"
	"github.com/trivianft/core/internal/app/domain/eligibility"
	"github.com/trivianft/core/internal/app/domain/nft"
	"github.com/trivianft/core/internal/app/domain/player"
	"github.com/trivianft/core/internal/app/domain/season"
	eligsvc "github.com/trivianft/core/internal/app/services/eligibility"
	"github.com/trivianft/core/internal/app/services/leaderboard"
	"github.com/trivianft/core/internal/app/storage"
	"github.com/trivianft/core/internal/app/storage/memory"
	"github.com/trivianft/core/internal/kv"
	"github.com/trivianft/core/pkg/testutil"
)

type seasonFixture struct {
	svc   *Service
	store *memory.Store
	clock *testutil.Clock
}

func newSeasonFixture(t *testing.T) *seasonFixture {
	t.Helper()
	store := memory.New()
	clock := testutil.NewClock(time.Now().UTC())
	ladder := leaderboard.New(store, store, store, kv.NewMemory().WithClock(clock.Now), clock, nil)
	ledger := eligsvc.New(store, store, clock, nil)
	svc := New(store, store, store, store, store, ladder, ledger, clock, nil)
	return &seasonFixture{svc: svc, store: store, clock: clock}
}

func TestTransitionRotatesAndAwardsPrize(t *testing.T) {
	f := newSeasonFixture(t)
	now := f.clock.Now()

	if _, err := f.store.CreateSeason(context.Background(), season.Season{
		ID:       "winter-s1",
		Name:     "Winter",
		StartsAt: now.Add(-91 * 24 * time.Hour),
		EndsAt:   now.Add(-time.Hour),
		Active:   true,
	}); err != nil {
		t.Fatalf("seed season: %v", err)
	}

	alice, err := f.store.UpsertPlayer(context.Background(), player.Player{Stake: "stake1alice", Username: "alice"})
	if err != nil {
		t.Fatalf("seed alice: %v", err)
	}
	// Bob leads on points but never registered a username, so the prize
	// falls through to alice.
	if _, err := f.store.UpsertPlayer(context.Background(), player.Player{Stake: "stake1bob"}); err != nil {
		t.Fatalf("seed bob: %v", err)
	}
	for stake, points := range map[string]int64{"stake1alice": 40, "stake1bob": 75} {
		if _, err := f.store.ApplySessionResult(context.Background(), "winter-s1", stake, storage.PointsDelta{
			Points: points, AvgAnswerMs: 4000, CompletedAt: now.Add(-2 * time.Hour),
		}); err != nil {
			t.Fatalf("seed points: %v", err)
		}
	}

	if err := f.svc.Transition(context.Background()); err != nil {
		t.Fatalf("Transition: %v", err)
	}

	old, err := f.store.GetSeason(context.Background(), "winter-s1")
	if err != nil {
		t.Fatalf("GetSeason: %v", err)
	}
	if old.Active {
		t.Fatal("closed season still active")
	}
	active, err := f.store.ActiveSeason(context.Background())
	if err != nil {
		t.Fatalf("ActiveSeason: %v", err)
	}
	if active.ID != "spring-s1" {
		t.Fatalf("next season = %s, want spring-s1", active.ID)
	}
	if !active.StartsAt.Equal(old.EndsAt) {
		t.Fatalf("spring starts %v, want %v", active.StartsAt, old.EndsAt)
	}

	date := now.Format("2006-01-02")
	if ok, _ := f.store.HasSnapshot(context.Background(), "winter-s1", date); !ok {
		t.Fatal("final snapshot missing")
	}

	prizes, err := f.store.ListActiveEligibilities(context.Background(), alice.ID, now)
	if err != nil {
		t.Fatalf("ListActiveEligibilities: %v", err)
	}
	if len(prizes) != 1 || prizes[0].Type != eligibility.TypeSeason || prizes[0].SeasonID != "winter-s1" {
		t.Fatalf("prize = %+v", prizes)
	}

	// Both recently active stakes are pre-registered in the new standings.
	rows, err := f.store.ListPoints(context.Background(), "spring-s1")
	if err != nil {
		t.Fatalf("ListPoints: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("seeded standings = %d rows, want 2", len(rows))
	}

	// A repeat firing is a no-op while spring is running.
	if err := f.svc.Transition(context.Background()); err != nil {
		t.Fatalf("replay: %v", err)
	}
	active, _ = f.store.ActiveSeason(context.Background())
	if active.ID != "spring-s1" {
		t.Fatalf("replay rotated again: %s", active.ID)
	}
	prizes, _ = f.store.ListActiveEligibilities(context.Background(), alice.ID, now)
	if len(prizes) != 1 {
		t.Fatalf("replay minted another prize: %d", len(prizes))
	}
}

func TestNextSeasonCycle(t *testing.T) {
	ends := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	cases := []struct {
		id   string
		want string
	}{
		{"winter-s1", "spring-s1"},
		{"spring-s1", "summer-s1"},
		{"summer-s1", "fall-s1"},
		{"fall-s1", "winter-s2"},
		{"fall-s9", "winter-s10"},
	}
	for _, tc := range cases {
		next, err := nextSeason(season.Season{ID: tc.id, EndsAt: ends})
		if err != nil {
			t.Fatalf("nextSeason(%s): %v", tc.id, err)
		}
		if next.ID != tc.want {
			t.Fatalf("nextSeason(%s) = %s, want %s", tc.id, next.ID, tc.want)
		}
		if !next.EndsAt.Equal(ends.AddDate(0, 3, 0)) {
			t.Fatalf("nextSeason(%s) ends %v", tc.id, next.EndsAt)
		}
	}
	if _, err := nextSeason(season.Season{ID: "christmas"}); apperr.KindOf(err) != apperr.KindInput {
		t.Fatalf("malformed id: %v", err)
	}
}

func TestCurrentReportsGrace(t *testing.T) {
	f := newSeasonFixture(t)
	now := f.clock.Now()
	if _, err := f.store.CreateSeason(context.Background(), season.Season{
		ID: "winter-s1", Name: "Winter", EndsAt: now.Add(-24 * time.Hour), Active: true,
	}); err != nil {
		t.Fatalf("seed season: %v", err)
	}

	st, err := f.svc.Current(context.Background())
	if err != nil {
		t.Fatalf("Current: %v", err)
	}
	if !st.Ended || !st.InGrace {
		t.Fatalf("status one day past end = %+v", st)
	}
}

func TestForgeProgress(t *testing.T) {
	f := newSeasonFixture(t)
	sci := f.store.SeedCategory(category.Category{Slug: "science", Name: "Science", Code: "SCI", Active: true})
	hist := f.store.SeedCategory(category.Category{Slug: "history", Name: "History", Code: "HIST", Active: true})
	if _, err := f.store.CreateSeason(context.Background(), season.Season{ID: "winter-s1", Name: "Winter", EndsAt: f.clock.Now().Add(time.Hour), Active: true}); err != nil {
		t.Fatalf("seed season: %v", err)
	}

	seed := func(i int, catID string, tier nft.Tier, seasonID string) {
		t.Helper()
		if _, err := f.store.SeedAsset(nft.OwnedAsset{
			Stake: "stake1abc", PolicyID: "policy-1",
			Fingerprint: "asset1" + catID + string(tier) + string(rune('a'+i)),
			AssetName:   "TNFT_V1_SCI_REG_0000000" + string(rune('0'+i)),
			CategoryID:  catID, SeasonID: seasonID, Tier: tier,
			Status: nft.AssetConfirmed,
		}); err != nil {
			t.Fatalf("seed asset: %v", err)
		}
	}
	// Ten science tier-1s, two of them this season; one history tier-1; one
	// science ultimate, which counts toward no forge shape.
	for i := 0; i < 10; i++ {
		seasonID := ""
		if i < 2 {
			seasonID = "winter-s1"
		}
		seed(i, sci.ID, nft.TierCategory, seasonID)
	}
	seed(0, hist.ID, nft.TierCategory, "")
	seed(0, sci.ID, nft.TierCategoryUltimate, "")

	got, err := f.svc.ForgeProgress(context.Background(), "stake1abc")
	if err != nil {
		t.Fatalf("ForgeProgress: %v", err)
	}

	byCat := make(map[string]SetProgress)
	for _, p := range got.Category {
		byCat[p.Slug] = p
	}
	if p := byCat["science"]; p.Have != 10 || !p.Ready {
		t.Fatalf("science progress = %+v", p)
	}
	if p := byCat["history"]; p.Have != 1 || p.Ready {
		t.Fatalf("history progress = %+v", p)
	}
	// Two categories hold at least one tier-1 asset.
	if got.Master.Have != 2 || got.Master.Need != nft.CategoryForgeInputs || got.Master.Ready {
		t.Fatalf("master progress = %+v", got.Master)
	}
	if got.SeasonID != "winter-s1" {
		t.Fatalf("season id = %s", got.SeasonID)
	}
	bySeason := make(map[string]SetProgress)
	for _, p := range got.Season {
		bySeason[p.Slug] = p
	}
	if p := bySeason["science"]; p.Have != 2 || !p.Ready {
		t.Fatalf("season science progress = %+v", p)
	}
	if p := bySeason["history"]; p.Have != 0 || p.Ready {
		t.Fatalf("season history progress = %+v", p)
	}

	if _, err := f.svc.ForgeProgress(context.Background(), ""); apperr.CodeOf(err) != apperr.CodeStakeRequired {
		t.Fatalf("guest progress: %v", err)
	}
}
