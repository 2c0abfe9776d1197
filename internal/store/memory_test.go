package store

import (
	"context"
	"testing"
	"time"
)

func TestMemory_SortedSet(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	_ = m.ZAdd(ctx, "k", 1, "a")
	_ = m.ZAdd(ctx, "k", 2, "b")
	_ = m.ZAdd(ctx, "k", 3, "c")

	n, _ := m.ZCard(ctx, "k")
	if n != 3 {
		t.Fatalf("card = %d, want 3", n)
	}

	// Remove scores <= 2.
	_ = m.ZRemRangeByScore(ctx, "k", 0, 2)
	n, _ = m.ZCard(ctx, "k")
	if n != 1 {
		t.Fatalf("card after removal = %d, want 1", n)
	}

	// Re-adding the same member is idempotent on cardinality.
	_ = m.ZAdd(ctx, "k", 4, "c")
	n, _ = m.ZCard(ctx, "k")
	if n != 1 {
		t.Fatalf("card after re-add = %d, want 1", n)
	}
}

func TestMemory_SetExpiry(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	now := time.Now()
	m.now = func() time.Time { return now }

	_ = m.ZAdd(ctx, "k", 1, "a")
	_ = m.Expire(ctx, "k", time.Second)

	now = now.Add(2 * time.Second)
	n, _ := m.ZCard(ctx, "k")
	if n != 0 {
		t.Fatalf("expired set card = %d, want 0", n)
	}
}

func TestMemory_KVTTL(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	now := time.Now()
	m.now = func() time.Time { return now }

	_ = m.Set(ctx, "k", []byte("v"), time.Minute)
	v, ok, _ := m.Get(ctx, "k")
	if !ok || string(v) != "v" {
		t.Fatalf("get = %q, %v; want v, true", v, ok)
	}

	now = now.Add(2 * time.Minute)
	if _, ok, _ := m.Get(ctx, "k"); ok {
		t.Fatal("expected expired value to be absent")
	}

	// No TTL means no expiry.
	_ = m.Set(ctx, "p", []byte("v"), 0)
	now = now.Add(24 * time.Hour)
	if _, ok, _ := m.Get(ctx, "p"); !ok {
		t.Fatal("expected persistent value to survive")
	}
}

func TestMemory_Del(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	_ = m.Set(ctx, "k", []byte("v"), 0)
	_ = m.Del(ctx, "k")
	if _, ok, _ := m.Get(ctx, "k"); ok {
		t.Fatal("expected deleted value to be absent")
	}
}
