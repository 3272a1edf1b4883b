package kv

import (
	"context"
	"testing"
	"time"
)

func TestMemoryStringsAndTTL(t *testing.T) {
	now := time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)
	store := NewMemory().WithClock(func() time.Time { return now })
	ctx := context.Background()

	if err := store.Set(ctx, "k", "v", time.Minute); err != nil {
		t.Fatalf("set: %v", err)
	}
	if v, ok, _ := store.Get(ctx, "k"); !ok || v != "v" {
		t.Fatalf("get: %q %v", v, ok)
	}

	now = now.Add(2 * time.Minute)
	if _, ok, _ := store.Get(ctx, "k"); ok {
		t.Fatal("key should have expired")
	}

	ok, err := store.SetNX(ctx, "lock", "1", time.Minute)
	if err != nil || !ok {
		t.Fatalf("setnx first: %v %v", ok, err)
	}
	if ok, _ := store.SetNX(ctx, "lock", "1", time.Minute); ok {
		t.Fatal("setnx should not acquire held lock")
	}
	now = now.Add(2 * time.Minute)
	if ok, _ := store.SetNX(ctx, "lock", "1", time.Minute); !ok {
		t.Fatal("setnx should acquire after expiry")
	}
}

func TestMemoryCounterTTLOnFirstCreate(t *testing.T) {
	now := time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)
	store := NewMemory().WithClock(func() time.Time { return now })
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		n, err := store.Incr(ctx, "limit", time.Hour)
		if err != nil || n != int64(i) {
			t.Fatalf("incr %d: got %d, %v", i, n, err)
		}
	}
	now = now.Add(2 * time.Hour)
	if n, _ := store.Incr(ctx, "limit", time.Hour); n != 1 {
		t.Fatalf("counter should restart after ttl, got %d", n)
	}
}

func TestMemorySortedSet(t *testing.T) {
	store := NewMemory()
	ctx := context.Background()

	for member, score := range map[string]float64{"a": 10, "b": 30, "c": 20} {
		if err := store.ZAdd(ctx, "z", member, score); err != nil {
			t.Fatalf("zadd: %v", err)
		}
	}
	// Absolute rewrite, not increment.
	if err := store.ZAdd(ctx, "z", "a", 40); err != nil {
		t.Fatalf("zadd rewrite: %v", err)
	}

	members, err := store.ZRevRange(ctx, "z", 0, -1)
	if err != nil {
		t.Fatalf("zrevrange: %v", err)
	}
	want := []string{"a", "b", "c"}
	if len(members) != len(want) {
		t.Fatalf("got %d members", len(members))
	}
	for i, w := range want {
		if members[i].Member != w {
			t.Fatalf("rank %d: got %q want %q", i, members[i].Member, w)
		}
	}

	page, err := store.ZRevRange(ctx, "z", 1, 1)
	if err != nil || len(page) != 1 || page[0].Member != "b" {
		t.Fatalf("paged range: %+v, %v", page, err)
	}

	if n, _ := store.ZCard(ctx, "z"); n != 3 {
		t.Fatalf("zcard: %d", n)
	}

	if err := store.ZRem(ctx, "z", "b", "missing"); err != nil {
		t.Fatalf("zrem: %v", err)
	}
	if n, _ := store.ZCard(ctx, "z"); n != 2 {
		t.Fatalf("zcard after zrem: %d", n)
	}
	if err := store.ZRem(ctx, "absent", "x"); err != nil {
		t.Fatalf("zrem absent key: %v", err)
	}
}

func TestMemorySetsAndHashes(t *testing.T) {
	now := time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)
	store := NewMemory().WithClock(func() time.Time { return now })
	ctx := context.Background()

	if err := store.SAdd(ctx, "seen", 24*time.Hour, "q1", "q2"); err != nil {
		t.Fatalf("sadd: %v", err)
	}
	members, _ := store.SMembers(ctx, "seen")
	if len(members) != 2 {
		t.Fatalf("members: %v", members)
	}
	now = now.Add(25 * time.Hour)
	if members, _ := store.SMembers(ctx, "seen"); len(members) != 0 {
		t.Fatalf("set should expire, got %v", members)
	}

	if err := store.HSet(ctx, "h", map[string]string{"f1": "v1", "f2": "v2"}); err != nil {
		t.Fatalf("hset: %v", err)
	}
	if v, ok, _ := store.HGet(ctx, "h", "f1"); !ok || v != "v1" {
		t.Fatalf("hget: %q %v", v, ok)
	}
	all, _ := store.HGetAll(ctx, "h")
	if len(all) != 2 {
		t.Fatalf("hgetall: %v", all)
	}

	if err := store.Del(ctx, "h"); err != nil {
		t.Fatalf("del: %v", err)
	}
	if all, _ := store.HGetAll(ctx, "h"); len(all) != 0 {
		t.Fatal("hash should be gone")
	}
}
