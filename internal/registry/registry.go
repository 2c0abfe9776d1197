// Package registry owns the endpoint, upstream, and rate-rule tables.
// Reads dominate: every request matches an endpoint and walks rules,
// while registration is a rare administrative upsert.
package registry

import (
	"sort"
	"strings"
	"sync"

	"github.com/apigw/gateway/internal/model"
)

type endpointEntry struct {
	ep       *model.Endpoint
	segments []string
}

// Registry holds the three tables behind one RW lock. All upserts are
// idempotent and keyed by id.
type Registry struct {
	mu        sync.RWMutex
	endpoints map[string]endpointEntry
	order     []string // endpoint ids, sorted, for deterministic matching
	services  map[string][]*model.UpstreamInstance
	rules     map[string]*model.RateLimitRule
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{
		endpoints: make(map[string]endpointEntry),
		services:  make(map[string][]*model.UpstreamInstance),
		rules:     make(map[string]*model.RateLimitRule),
	}
}

// RegisterEndpoint upserts an endpoint by id.
func (r *Registry) RegisterEndpoint(ep *model.Endpoint) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.endpoints[ep.ID]; !exists {
		r.order = append(r.order, ep.ID)
		sort.Strings(r.order)
	}
	r.endpoints[ep.ID] = endpointEntry{
		ep:       ep,
		segments: splitPath(ep.Path),
	}
}

// RegisterUpstream upserts an instance into its service pool, keyed by
// instance id.
func (r *Registry) RegisterUpstream(service string, inst *model.UpstreamInstance) {
	r.mu.Lock()
	defer r.mu.Unlock()
	pool := r.services[service]
	for i, u := range pool {
		if u.ID == inst.ID {
			pool[i] = inst
			return
		}
	}
	r.services[service] = append(pool, inst)
}

// RegisterRule upserts a rate-limit rule by id.
func (r *Registry) RegisterRule(rule *model.RateLimitRule) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rules[rule.ID] = rule
}

// Match resolves method+path to an endpoint. A {name} segment matches
// any single non-empty path segment; segment counts must be equal.
// Returns the captured path parameters alongside the endpoint.
func (r *Registry) Match(method, path string) (*model.Endpoint, map[string]string) {
	segs := splitPath(path)

	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, id := range r.order {
		entry := r.endpoints[id]
		if !entry.ep.HasMethod(method) {
			continue
		}
		if params, ok := matchSegments(entry.segments, segs); ok {
			return entry.ep, params
		}
	}
	return nil, nil
}

// Instances returns a copy of the service's pool. The bool reports
// whether the service has any registered pool at all.
func (r *Registry) Instances(service string) ([]*model.UpstreamInstance, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	pool, ok := r.services[service]
	if !ok {
		return nil, false
	}
	out := make([]*model.UpstreamInstance, len(pool))
	copy(out, pool)
	return out, true
}

// AllInstances returns every registered instance across services.
func (r *Registry) AllInstances() []*model.UpstreamInstance {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*model.UpstreamInstance
	for _, pool := range r.services {
		out = append(out, pool...)
	}
	return out
}

// RulesFor returns the rules applicable to an endpoint, in stable id
// order. An endpoint with explicit rule ids gets exactly those.
func (r *Registry) RulesFor(ep *model.Endpoint) []*model.RateLimitRule {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*model.RateLimitRule
	if len(ep.RuleIDs) > 0 {
		for _, id := range ep.RuleIDs {
			if rule, ok := r.rules[id]; ok {
				out = append(out, rule)
			}
		}
		return out
	}
	ids := make([]string, 0, len(r.rules))
	for id := range r.rules {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		if rule := r.rules[id]; rule.AppliesTo(ep.ID) {
			out = append(out, rule)
		}
	}
	return out
}

// Counts returns table sizes for the metrics snapshot.
func (r *Registry) Counts() (endpoints, upstreams, healthy, rules int) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	endpoints = len(r.endpoints)
	rules = len(r.rules)
	for _, pool := range r.services {
		upstreams += len(pool)
		for _, u := range pool {
			if u.Health() == model.Healthy {
				healthy++
			}
		}
	}
	return
}

func splitPath(p string) []string {
	p = strings.Trim(p, "/")
	if p == "" {
		return nil
	}
	return strings.Split(p, "/")
}

func matchSegments(pattern, actual []string) (map[string]string, bool) {
	if len(pattern) != len(actual) {
		return nil, false
	}
	var params map[string]string
	for i, ps := range pattern {
		if strings.HasPrefix(ps, "{") && strings.HasSuffix(ps, "}") {
			if actual[i] == "" {
				return nil, false
			}
			if params == nil {
				params = make(map[string]string)
			}
			params[ps[1:len(ps)-1]] = actual[i]
			continue
		}
		if ps != actual[i] {
			return nil, false
		}
	}
	return params, true
}
