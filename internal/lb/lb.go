// Package lb chooses one upstream instance from a service's pool.
//
// Selection first filters the pool to healthy instances; if none
// remain, it degrades to the full pool rather than failing closed.
// Only a truly empty pool yields no instance.
package lb

import (
	"hash/fnv"
	"math/rand"
	"net"
	"sync"

	"github.com/apigw/gateway/internal/model"
)

// Selector picks an instance from a non-empty pool. Implementations
// must be safe for concurrent calls on the same service.
type Selector interface {
	Select(service string, pool []*model.UpstreamInstance, rc *model.RequestContext) *model.UpstreamInstance
}

// Balancer dispatches to the selector for an endpoint's strategy.
// Per-service counters live inside the stateful selectors and persist
// across calls.
type Balancer struct {
	selectors map[model.Strategy]Selector
}

// New builds the strategy table.
func New() *Balancer {
	return &Balancer{
		selectors: map[model.Strategy]Selector{
			model.RoundRobin:         &roundRobin{counters: make(map[string]*uint64)},
			model.WeightedRoundRobin: &weightedRoundRobin{counters: make(map[string]*uint64)},
			model.LeastConnections:   leastConnections{},
			model.IPHash:             ipHash{},
			model.Random:             random{},
		},
	}
}

// Pick applies the healthy filter and strategy dispatch. Returns nil
// only when the pool is empty.
func (b *Balancer) Pick(strategy model.Strategy, service string, pool []*model.UpstreamInstance, rc *model.RequestContext) *model.UpstreamInstance {
	if len(pool) == 0 {
		return nil
	}
	healthy := make([]*model.UpstreamInstance, 0, len(pool))
	for _, u := range pool {
		if u.Health() == model.Healthy {
			healthy = append(healthy, u)
		}
	}
	// Availability over strict health enforcement: an all-unhealthy
	// pool is still served.
	if len(healthy) == 0 {
		healthy = pool
	}
	sel, ok := b.selectors[strategy]
	if !ok {
		return healthy[0]
	}
	return sel.Select(service, healthy, rc)
}

type roundRobin struct {
	mu       sync.Mutex
	counters map[string]*uint64
}

func (s *roundRobin) Select(service string, pool []*model.UpstreamInstance, _ *model.RequestContext) *model.UpstreamInstance {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.counters[service]
	if !ok {
		c = new(uint64)
		s.counters[service] = c
	}
	i := *c % uint64(len(pool))
	*c++
	return pool[i]
}

type weightedRoundRobin struct {
	mu       sync.Mutex
	counters map[string]*uint64
}

func (s *weightedRoundRobin) Select(service string, pool []*model.UpstreamInstance, _ *model.RequestContext) *model.UpstreamInstance {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.counters[service]
	if !ok {
		c = new(uint64)
		s.counters[service] = c
	}

	total := 0
	for _, u := range pool {
		total += u.Weight
	}
	if total <= 0 {
		i := *c % uint64(len(pool))
		*c++
		return pool[i]
	}

	// Walk the pool accumulating weight until the counter falls inside
	// an instance's band.
	pos := int(*c % uint64(total))
	*c++
	acc := 0
	for _, u := range pool {
		acc += u.Weight
		if pos < acc {
			return u
		}
	}
	return pool[len(pool)-1]
}

type leastConnections struct{}

func (leastConnections) Select(_ string, pool []*model.UpstreamInstance, _ *model.RequestContext) *model.UpstreamInstance {
	best := pool[0]
	for _, u := range pool[1:] {
		if u.OpenConns() < best.OpenConns() {
			best = u
		}
	}
	return best
}

type ipHash struct{}

func (ipHash) Select(_ string, pool []*model.UpstreamInstance, rc *model.RequestContext) *model.UpstreamInstance {
	addr := ""
	if rc != nil && rc.Request != nil {
		addr = rc.Request.ClientAddr
	}
	if host, _, err := net.SplitHostPort(addr); err == nil {
		addr = host
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(addr))
	return pool[h.Sum32()%uint32(len(pool))]
}

type random struct{}

func (random) Select(_ string, pool []*model.UpstreamInstance, _ *model.RequestContext) *model.UpstreamInstance {
	return pool[rand.Intn(len(pool))]
}
