package ratelimit

import (
	"sync"

	ratelib "golang.org/x/time/rate"
)

// Guard is a per-client token-bucket protecting the gateway itself,
// ahead of any rule evaluation. Keyed by client IP.
type Guard struct {
	mu       sync.RWMutex
	limiters map[string]*ratelib.Limiter

	rps   float64
	burst int
}

// NewGuard builds a guard allowing rps sustained requests per client
// with the given burst.
func NewGuard(rps float64, burst int) *Guard {
	return &Guard{
		limiters: make(map[string]*ratelib.Limiter),
		rps:      rps,
		burst:    burst,
	}
}

// Allow reports whether the client identified by key may proceed.
func (g *Guard) Allow(key string) bool {
	g.mu.RLock()
	lim, ok := g.limiters[key]
	g.mu.RUnlock()

	if !ok {
		g.mu.Lock()
		// Double-check under the write lock.
		lim, ok = g.limiters[key]
		if !ok {
			lim = ratelib.NewLimiter(ratelib.Limit(g.rps), g.burst)
			g.limiters[key] = lim
		}
		g.mu.Unlock()
	}
	return lim.Allow()
}

// Remove drops the limiter for key.
func (g *Guard) Remove(key string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.limiters, key)
}
