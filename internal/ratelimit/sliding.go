// Package ratelimit enforces per-key request quotas. Rule-based quotas
// use an exact sliding-window counter over the shared store; the Guard
// type is a lighter token-bucket front door for the gateway itself.
package ratelimit

import (
	"context"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/apigw/gateway/internal/model"
	"github.com/apigw/gateway/internal/store"
)

// Info reports the state of a rule evaluation.
type Info struct {
	Current int           // requests counted in the current window
	Limit   int           // configured limit (burst excluded)
	Window  time.Duration // window size
	Reset   time.Time     // when a denied caller may retry
}

// Remaining is the number of requests left in the window, floored at 0.
func (i Info) Remaining() int {
	if r := i.Limit - i.Current; r > 0 {
		return r
	}
	return 0
}

// Limiter is a sliding-window counter. Per key it keeps a set of
// request timestamps in the store; a check discards timestamps older
// than the window, counts the rest, and only records the new request
// when it is allowed. Exact by construction: no fixed-bucket boundary
// bursts.
type Limiter struct {
	store store.Store
	seq   atomic.Uint64 // disambiguates same-nanosecond members
	now   func() time.Time

	mu       sync.Mutex
	inflight map[string]*int64 // max_concurrent accounting, local only
}

// New returns a limiter backed by s.
func New(s store.Store) *Limiter {
	return &Limiter{
		store:    s,
		now:      time.Now,
		inflight: make(map[string]*int64),
	}
}

// Check evaluates rule for key. Allowed requests are recorded; denied
// ones are not. A store failure is returned to the caller, which is
// expected to fail open.
func (l *Limiter) Check(ctx context.Context, key string, rule *model.RateLimitRule) (bool, Info, error) {
	window := rule.Window()
	now := l.now()
	info := Info{
		Limit:  rule.Limit,
		Window: window,
		Reset:  now.Add(window),
	}

	cutoff := float64(now.Add(-window).UnixNano())
	if err := l.store.ZRemRangeByScore(ctx, key, 0, cutoff); err != nil {
		return false, info, err
	}
	n, err := l.store.ZCard(ctx, key)
	if err != nil {
		return false, info, err
	}
	info.Current = int(n)

	allowed := rule.Limit + rule.Burst
	if int(n) >= allowed {
		return false, info, nil
	}

	member := strconv.FormatInt(now.UnixNano(), 10) + "-" + strconv.FormatUint(l.seq.Add(1), 10)
	if err := l.store.ZAdd(ctx, key, float64(now.UnixNano()), member); err != nil {
		return false, info, err
	}
	// Keep abandoned keys from living forever in the shared store.
	if err := l.store.Expire(ctx, key, window); err != nil {
		return false, info, err
	}
	info.Current++
	return true, info, nil
}

// Acquire reserves one in-flight slot for key under a max_concurrent
// rule. On success the returned release must be called when the
// request finishes; it is nil when denied.
func (l *Limiter) Acquire(key string, limit int) (bool, func()) {
	l.mu.Lock()
	c, ok := l.inflight[key]
	if !ok {
		c = new(int64)
		l.inflight[key] = c
	}
	l.mu.Unlock()

	if atomic.AddInt64(c, 1) > int64(limit) {
		atomic.AddInt64(c, -1)
		return false, nil
	}
	return true, func() { atomic.AddInt64(c, -1) }
}
