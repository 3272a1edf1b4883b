package eligibility

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/trivianft/core/internal/app/domain/apperr"
	"github.com/trivianft/core/internal/app/domain/category"
	"github.com/trivianft/core/internal/app/domain/eligibility"
	"github.com/trivianft/core/internal/app/domain/nft"
	"github.com/trivianft/core/internal/app/domain/session"
	"github.com/trivianft/core/internal/app/storage/memory"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestService(t *testing.T) (*Service, *memory.Store, *testClock) {
	t.Helper()
	store := memory.New()
	clock := &testClock{now: time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)}
	return New(store, store, clock, nil), store, clock
}

func seedCategoryWithStock(t *testing.T, store *memory.Store, slug string, stock int) category.Category {
	t.Helper()
	cat := store.SeedCategory(category.Category{Slug: slug, Name: slug, Code: "SCI", Active: true})
	for i := 0; i < stock; i++ {
		if _, err := store.CreateCatalogItem(context.Background(), nft.CatalogItem{
			CategoryID:  cat.ID,
			Name:        "TNFT_V1_SCI_REG_0a1b2c3d",
			ArtworkKey:  "art/sci.png",
			MetadataKey: "meta/sci.json",
		}); err != nil {
			t.Fatalf("seed catalog: %v", err)
		}
	}
	return cat
}

func perfectSession(catID string) session.Session {
	return session.Session{ID: "sess-1", PlayerID: "p1", Stake: "stake1abc", CategoryID: catID, Status: session.StatusWon, Score: 10}
}

func TestIssueOnPerfectWindows(t *testing.T) {
	svc, store, clock := newTestService(t)
	cat := seedCategoryWithStock(t, store, "science", 1)

	connected, err := svc.IssueOnPerfect(context.Background(), perfectSession(cat.ID))
	if err != nil {
		t.Fatalf("IssueOnPerfect: %v", err)
	}
	if got := connected.ExpiresAt.Sub(clock.Now()); got != eligibility.ConnectedWindow {
		t.Fatalf("connected window = %v, want %v", got, eligibility.ConnectedWindow)
	}
	if connected.Type != eligibility.TypeCategory || connected.CategoryID != cat.ID {
		t.Fatalf("eligibility = %+v", connected)
	}

	guest := session.Session{ID: "sess-2", PlayerID: "p2", AnonID: "anon-1", CategoryID: cat.ID, Status: session.StatusWon, Score: 10}
	g, err := svc.IssueOnPerfect(context.Background(), guest)
	if err != nil {
		t.Fatalf("IssueOnPerfect guest: %v", err)
	}
	if got := g.ExpiresAt.Sub(clock.Now()); got != eligibility.GuestWindow {
		t.Fatalf("guest window = %v, want %v", got, eligibility.GuestWindow)
	}
}

func TestIssueOnPerfectIdempotentOnSession(t *testing.T) {
	svc, store, _ := newTestService(t)
	cat := seedCategoryWithStock(t, store, "science", 1)

	first, err := svc.IssueOnPerfect(context.Background(), perfectSession(cat.ID))
	if err != nil {
		t.Fatalf("IssueOnPerfect: %v", err)
	}
	replay, err := svc.IssueOnPerfect(context.Background(), perfectSession(cat.ID))
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if replay.ID != first.ID {
		t.Fatalf("replay issued a second eligibility: %s != %s", replay.ID, first.ID)
	}
	active, err := svc.ListActive(context.Background(), "p1")
	if err != nil {
		t.Fatalf("ListActive: %v", err)
	}
	if len(active) != 1 {
		t.Fatalf("active count = %d, want 1", len(active))
	}
}

func TestValidateLifecycle(t *testing.T) {
	svc, store, clock := newTestService(t)
	cat := seedCategoryWithStock(t, store, "science", 1)

	if _, err := svc.Validate(context.Background(), "missing"); apperr.CodeOf(err) != apperr.CodeEligibilityNotFound {
		t.Fatalf("missing: %v", err)
	}

	e, _ := svc.IssueOnPerfect(context.Background(), perfectSession(cat.ID))
	if _, err := svc.Validate(context.Background(), e.ID); err != nil {
		t.Fatalf("active should validate: %v", err)
	}

	clock.Advance(61 * time.Minute)
	if _, err := svc.Validate(context.Background(), e.ID); apperr.CodeOf(err) != apperr.CodeEligibilityExpired {
		t.Fatalf("expired: %v", err)
	}
	// Expired rows never come back.
	if _, err := svc.SweepExpired(context.Background()); err != nil {
		t.Fatalf("sweep: %v", err)
	}
	active, _ := svc.ListActive(context.Background(), "p1")
	if len(active) != 0 {
		t.Fatalf("active after expiry = %d, want 0", len(active))
	}
}

func TestConsumeReservesStockOnce(t *testing.T) {
	svc, store, _ := newTestService(t)
	cat := seedCategoryWithStock(t, store, "science", 1)
	e, _ := svc.IssueOnPerfect(context.Background(), perfectSession(cat.ID))

	op, item, err := svc.Consume(context.Background(), e.ID, nft.MintOperation{PlayerID: "p1", Stake: "stake1abc", PolicyID: "policy-1"})
	if err != nil {
		t.Fatalf("Consume: %v", err)
	}
	if op.Status != nft.OpPending || op.CatalogID != item.ID {
		t.Fatalf("op = %+v", op)
	}
	if item.State != nft.CatalogPending {
		t.Fatalf("item state = %s, want pending", item.State)
	}
	if ok, _ := svc.CheckStock(context.Background(), cat.ID); ok {
		t.Fatal("stock should be exhausted after reservation")
	}

	// Second consumption of the same eligibility fails without touching stock.
	if _, _, err := svc.Consume(context.Background(), e.ID, nft.MintOperation{}); apperr.CodeOf(err) != apperr.CodeEligibilityUsed {
		t.Fatalf("second consume: %v", err)
	}
}

func TestConsumeConcurrentSingleWinner(t *testing.T) {
	svc, store, _ := newTestService(t)
	cat := seedCategoryWithStock(t, store, "science", 1)
	e, _ := svc.IssueOnPerfect(context.Background(), perfectSession(cat.ID))

	const racers = 8
	var wg sync.WaitGroup
	errs := make([]error, racers)
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _, errs[i] = svc.Consume(context.Background(), e.ID, nft.MintOperation{PlayerID: "p1", Stake: "stake1abc"})
		}(i)
	}
	wg.Wait()

	wins := 0
	for _, err := range errs {
		if err == nil {
			wins++
			continue
		}
		switch apperr.CodeOf(err) {
		case apperr.CodeEligibilityUsed, apperr.CodeNoStock:
		default:
			t.Fatalf("unexpected race error: %v", err)
		}
	}
	if wins != 1 {
		t.Fatalf("winners = %d, want exactly 1", wins)
	}
	if n, _ := store.CountAvailable(context.Background(), cat.ID); n != 0 {
		t.Fatalf("available after race = %d, want 0", n)
	}
}

func TestReleaseReservationReturnsStock(t *testing.T) {
	svc, store, _ := newTestService(t)
	cat := seedCategoryWithStock(t, store, "science", 1)
	e, _ := svc.IssueOnPerfect(context.Background(), perfectSession(cat.ID))

	_, item, err := svc.Consume(context.Background(), e.ID, nft.MintOperation{PlayerID: "p1", Stake: "stake1abc"})
	if err != nil {
		t.Fatalf("Consume: %v", err)
	}
	if err := svc.ReleaseReservation(context.Background(), item.ID); err != nil {
		t.Fatalf("ReleaseReservation: %v", err)
	}
	if n, _ := store.CountAvailable(context.Background(), cat.ID); n != 1 {
		t.Fatalf("available after release = %d, want 1", n)
	}
}

func TestConsumeNoStock(t *testing.T) {
	svc, store, _ := newTestService(t)
	cat := seedCategoryWithStock(t, store, "science", 0)
	e, _ := svc.IssueOnPerfect(context.Background(), perfectSession(cat.ID))

	if _, _, err := svc.Consume(context.Background(), e.ID, nft.MintOperation{}); apperr.CodeOf(err) != apperr.CodeNoStock {
		t.Fatalf("no stock: %v", err)
	}
	// The failed attempt must not consume the eligibility.
	if _, err := svc.Validate(context.Background(), e.ID); err != nil {
		t.Fatalf("eligibility should remain active: %v", err)
	}
}
