package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/apigw/gateway/internal/model"
	"github.com/apigw/gateway/internal/store"
)

func TestLimiter_WindowExact(t *testing.T) {
	l := New(store.NewMemory())
	now := time.Now()
	l.now = func() time.Time { return now }
	ctx := context.Background()

	rule := &model.RateLimitRule{ID: "r1", Limit: 3, WindowSeconds: 60}

	// N requests within the window are all allowed.
	for i := 0; i < 3; i++ {
		allowed, info, err := l.Check(ctx, "k", rule)
		require.NoError(t, err)
		require.True(t, allowed, "request %d", i)
		require.Equal(t, i+1, info.Current)
	}

	// The (N+1)th is denied and not recorded.
	allowed, info, err := l.Check(ctx, "k", rule)
	require.NoError(t, err)
	require.False(t, allowed)
	require.Equal(t, 3, info.Current)
	require.Equal(t, 0, info.Remaining())

	// Denied requests leave the count unchanged, so the deny repeats.
	allowed, _, err = l.Check(ctx, "k", rule)
	require.NoError(t, err)
	require.False(t, allowed)

	// Once the window slides past the oldest request, one slot opens.
	now = now.Add(61 * time.Second)
	allowed, _, err = l.Check(ctx, "k", rule)
	require.NoError(t, err)
	require.True(t, allowed)
}

func TestLimiter_BurstAllowance(t *testing.T) {
	l := New(store.NewMemory())
	ctx := context.Background()

	rule := &model.RateLimitRule{ID: "r1", Limit: 2, Burst: 1, WindowSeconds: 60}
	for i := 0; i < 3; i++ {
		allowed, _, err := l.Check(ctx, "k", rule)
		require.NoError(t, err)
		require.True(t, allowed, "request %d should fit limit+burst", i)
	}
	allowed, _, err := l.Check(ctx, "k", rule)
	require.NoError(t, err)
	require.False(t, allowed)
}

func TestLimiter_IndependentKeys(t *testing.T) {
	l := New(store.NewMemory())
	ctx := context.Background()
	rule := &model.RateLimitRule{ID: "r1", Limit: 1, WindowSeconds: 60}

	allowed, _, _ := l.Check(ctx, "a", rule)
	require.True(t, allowed)
	allowed, _, _ = l.Check(ctx, "a", rule)
	require.False(t, allowed)

	allowed, _, _ = l.Check(ctx, "b", rule)
	require.True(t, allowed, "keys must not share windows")
}

func TestLimiter_WindowFromQuotaType(t *testing.T) {
	r := &model.RateLimitRule{Quota: model.QuotaPerHour}
	require.Equal(t, time.Hour, r.Window())

	r = &model.RateLimitRule{Quota: model.QuotaPerMinute, WindowSeconds: 10}
	require.Equal(t, 10*time.Second, r.Window(), "explicit window wins")
}

func TestLimiter_Acquire(t *testing.T) {
	l := New(store.NewMemory())

	ok1, rel1 := l.Acquire("k", 2)
	ok2, rel2 := l.Acquire("k", 2)
	require.True(t, ok1)
	require.True(t, ok2)

	ok3, _ := l.Acquire("k", 2)
	require.False(t, ok3)

	rel1()
	ok4, rel4 := l.Acquire("k", 2)
	require.True(t, ok4, "released slot must be reusable")
	rel2()
	rel4()
}

func TestGuard_Allow(t *testing.T) {
	g := NewGuard(1, 1)

	require.True(t, g.Allow("10.0.0.1"))
	require.False(t, g.Allow("10.0.0.1"), "burst of 1 is spent")
	require.True(t, g.Allow("10.0.0.2"), "clients are independent")
}
