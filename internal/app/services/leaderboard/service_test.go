package leaderboard

import (
	"context"
	"testing"
	"time"

	"github.com/trivianft/core/internal/app/domain/season"
	"github.com/trivianft/core/internal/app/storage"
	"github.com/trivianft/core/internal/app/storage/memory"
	"github.com/trivianft/core/internal/kv"
)

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

func newTestService(t *testing.T) (*Service, *memory.Store, kv.Store) {
	t.Helper()
	store := memory.New()
	mem := kv.NewMemory()
	clock := fixedClock{now: time.Date(2026, 2, 10, 12, 0, 0, 0, time.UTC)}
	return New(store, store, store, mem, clock, nil), store, mem
}

func TestRankMemberOrdering(t *testing.T) {
	base := season.Points{Stake: "stakeA", Points: 150, NFTsMinted: 5, PerfectScores: 10, AvgAnswerMs: 5000, SessionsUsed: 40}

	cases := []struct {
		name   string
		better func(season.Points) season.Points
	}{
		{"more points", func(p season.Points) season.Points { p.Points++; return p }},
		{"more nfts", func(p season.Points) season.Points { p.NFTsMinted++; return p }},
		{"more perfects", func(p season.Points) season.Points { p.PerfectScores++; return p }},
		{"lower avg", func(p season.Points) season.Points { p.AvgAnswerMs--; return p }},
		{"fewer sessions", func(p season.Points) season.Points { p.SessionsUsed--; return p }},
	}
	for _, tc := range cases {
		better := tc.better(base)
		if rankMember(better) <= rankMember(base) {
			t.Errorf("%s: expected %q > %q", tc.name, rankMember(better), rankMember(base))
		}
		if !Less(base, better) || Less(better, base) {
			t.Errorf("%s: Less disagrees with member order", tc.name)
		}
	}

	// Higher-priority counters dominate lower ones, even at point totals far
	// beyond float64 integer precision.
	worseAvg := base
	worseAvg.Points = 4_000_000
	worseAvg.NFTsMinted++
	worseAvg.AvgAnswerMs = 999_999
	big := base
	big.Points = 4_000_000
	if rankMember(worseAvg) <= rankMember(big) {
		t.Error("an extra NFT must outrank any answer-time disadvantage")
	}

	if memberStake(rankMember(base)) != "stakeA" {
		t.Fatalf("stake round-trip = %q", memberStake(rankMember(base)))
	}
}

func TestSessionsUsedOrdersAcrossPages(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	completed := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)

	// Identical totals except sessions used: A earns 820 points in one
	// session, B in two. The point total is large enough that a float score
	// would collapse the sessions bucket.
	if _, err := svc.UpdatePoints(ctx, "winter-s1", "", "stakeA", storage.PointsDelta{Points: 820, AvgAnswerMs: 5000, CompletedAt: completed}); err != nil {
		t.Fatalf("UpdatePoints A: %v", err)
	}
	for i := 0; i < 2; i++ {
		if _, err := svc.UpdatePoints(ctx, "winter-s1", "", "stakeB", storage.PointsDelta{Points: 410, AvgAnswerMs: 5000, CompletedAt: completed}); err != nil {
			t.Fatalf("UpdatePoints B: %v", err)
		}
	}

	top, err := svc.GetPage(ctx, "winter-s1", "", 1, 0)
	if err != nil {
		t.Fatalf("GetPage page 0: %v", err)
	}
	if len(top.Entries) != 1 || top.Entries[0].Stake != "stakeA" || top.Total != 2 {
		t.Fatalf("page 0 = %+v, want stakeA of 2", top)
	}
	second, err := svc.GetPage(ctx, "winter-s1", "", 1, 1)
	if err != nil {
		t.Fatalf("GetPage page 1: %v", err)
	}
	if len(second.Entries) != 1 || second.Entries[0].Stake != "stakeB" || second.Entries[0].Rank != 2 {
		t.Fatalf("page 1 = %+v, want stakeB rank 2", second)
	}
}

func TestTieBreakRanksLowerAvgFirst(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()
	completed := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)

	// Both stakes: 150 points, 5 NFTs, 10 perfects; A answers 1ms faster on
	// average over an identical session history.
	for i := 0; i < 10; i++ {
		if _, err := svc.UpdatePoints(ctx, "winter-s1", "", "stakeA", storage.PointsDelta{Points: 15, Perfect: true, AvgAnswerMs: 5000, CompletedAt: completed}); err != nil {
			t.Fatalf("UpdatePoints A: %v", err)
		}
		if _, err := svc.UpdatePoints(ctx, "winter-s1", "", "stakeB", storage.PointsDelta{Points: 15, Perfect: true, AvgAnswerMs: 5001, CompletedAt: completed}); err != nil {
			t.Fatalf("UpdatePoints B: %v", err)
		}
	}
	for i := 0; i < 5; i++ {
		store.IncrementNFTCount(ctx, "winter-s1", "stakeA")
		store.IncrementNFTCount(ctx, "winter-s1", "stakeB")
	}
	if err := svc.Reconcile(ctx, "winter-s1"); err != nil {
		t.Fatalf("Reconcile: %v", err)
	}

	page, err := svc.GetPage(ctx, "winter-s1", "", 10, 0)
	if err != nil {
		t.Fatalf("GetPage: %v", err)
	}
	if len(page.Entries) != 2 {
		t.Fatalf("entries = %d, want 2", len(page.Entries))
	}
	if page.Entries[0].Stake != "stakeA" || page.Entries[1].Stake != "stakeB" {
		t.Fatalf("order = %s, %s; want stakeA above stakeB", page.Entries[0].Stake, page.Entries[1].Stake)
	}
	if page.Entries[0].Rank != 1 || page.Entries[1].Rank != 2 {
		t.Fatalf("ranks = %d, %d", page.Entries[0].Rank, page.Entries[1].Rank)
	}

	// Pagination: limit=1 pages walk the same order.
	top, err := svc.GetPage(ctx, "winter-s1", "", 1, 0)
	if err != nil {
		t.Fatalf("GetPage limit=1: %v", err)
	}
	if top.Entries[0].Stake != "stakeA" || !top.HasMore || top.Total != 2 {
		t.Fatalf("page 0 = %+v", top)
	}
	second, err := svc.GetPage(ctx, "winter-s1", "", 1, 1)
	if err != nil {
		t.Fatalf("GetPage offset=1: %v", err)
	}
	if second.Entries[0].Stake != "stakeB" || second.HasMore {
		t.Fatalf("page 1 = %+v", second)
	}
}

func TestGetPageValidatesLimit(t *testing.T) {
	svc, _, _ := newTestService(t)
	for _, limit := range []int{0, -1, 101} {
		if _, err := svc.GetPage(context.Background(), "winter-s1", "", limit, 0); err == nil {
			t.Errorf("limit %d: expected error", limit)
		}
	}
	if _, err := svc.GetPage(context.Background(), "winter-s1", "", 10, -1); err == nil {
		t.Error("negative offset: expected error")
	}
}

func TestSnapshotIsIdempotentPerDay(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()
	completed := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)

	svc.UpdatePoints(ctx, "winter-s1", "", "stakeA", storage.PointsDelta{Points: 20, Perfect: true, AvgAnswerMs: 4000, CompletedAt: completed})
	svc.UpdatePoints(ctx, "winter-s1", "", "stakeB", storage.PointsDelta{Points: 7, AvgAnswerMs: 6000, CompletedAt: completed})

	if err := svc.Snapshot(ctx, "winter-s1"); err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if err := svc.Snapshot(ctx, "winter-s1"); err != nil {
		t.Fatalf("Snapshot replay: %v", err)
	}

	rows, err := store.ListSnapshot(ctx, "winter-s1", "2026-02-10", 100, 0)
	if err != nil {
		t.Fatalf("ListSnapshot: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("snapshot rows = %d, want 2", len(rows))
	}
	if rows[0].Stake != "stakeA" || rows[0].Rank != 1 {
		t.Fatalf("top row = %+v, want stakeA rank 1", rows[0])
	}
}

func TestReconcileRebuildsLadderAfterKVLoss(t *testing.T) {
	svc, _, mem := newTestService(t)
	ctx := context.Background()
	completed := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)

	svc.UpdatePoints(ctx, "winter-s1", "", "stakeA", storage.PointsDelta{Points: 20, Perfect: true, AvgAnswerMs: 4000, CompletedAt: completed})
	svc.UpdatePoints(ctx, "winter-s1", "", "stakeB", storage.PointsDelta{Points: 7, AvgAnswerMs: 6000, CompletedAt: completed})

	// Simulate a cleared cache.
	if err := mem.Del(ctx, "ladder:global:winter-s1"); err != nil {
		t.Fatalf("Del: %v", err)
	}
	if n, _ := mem.ZCard(ctx, "ladder:global:winter-s1"); n != 0 {
		t.Fatalf("ladder not cleared: %d", n)
	}

	if err := svc.Reconcile(ctx, "winter-s1"); err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	page, err := svc.GetPage(ctx, "winter-s1", "", 10, 0)
	if err != nil {
		t.Fatalf("GetPage: %v", err)
	}
	if len(page.Entries) != 2 || page.Entries[0].Stake != "stakeA" {
		t.Fatalf("page after reconcile = %+v", page)
	}
}
