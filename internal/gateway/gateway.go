// Package gateway composes the request pipeline: match, authenticate,
// rate-limit, cache, transform, balance, forward, record.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/apigw/gateway/internal/auth"
	"github.com/apigw/gateway/internal/cache"
	"github.com/apigw/gateway/internal/forward"
	"github.com/apigw/gateway/internal/lb"
	"github.com/apigw/gateway/internal/model"
	"github.com/apigw/gateway/internal/ratelimit"
	"github.com/apigw/gateway/internal/registry"
	"github.com/apigw/gateway/internal/transform"
)

// Gateway owns the registries and wires every pipeline stage. One
// instance serves all requests concurrently.
type Gateway struct {
	registry *registry.Registry
	limiter  *ratelimit.Limiter
	cache    *cache.Cache
	auth     *auth.Handler
	balancer *lb.Balancer
	fwd      *forward.Forwarder
	metrics  *Metrics
	log      *zap.Logger
}

// New assembles a gateway. A nil logger is replaced with a nop one.
func New(reg *registry.Registry, limiter *ratelimit.Limiter, c *cache.Cache, a *auth.Handler, b *lb.Balancer, f *forward.Forwarder, log *zap.Logger) *Gateway {
	if log == nil {
		log = zap.NewNop()
	}
	return &Gateway{
		registry: reg,
		limiter:  limiter,
		cache:    c,
		auth:     a,
		balancer: b,
		fwd:      f,
		metrics:  NewMetrics(),
		log:      log,
	}
}

// Registry exposes the administrative registration surface.
func (g *Gateway) Registry() *registry.Registry { return g.registry }

// GetMetrics returns a point-in-time snapshot.
func (g *Gateway) GetMetrics() Snapshot {
	requests, errs, avg := g.metrics.snapshot()
	eps, ups, healthy, rules := g.registry.Counts()
	s := Snapshot{
		TotalRequests:       requests,
		TotalErrors:         errs,
		AvgResponseTimeMS:   avg,
		RegisteredEndpoints: eps,
		UpstreamCount:       ups,
		HealthyUpstreams:    healthy,
		RateRuleCount:       rules,
	}
	if requests > 0 {
		s.ErrorRate = float64(errs) / float64(requests)
	}
	return s
}

// ProcessRequest runs the full pipeline. It never panics outward:
// any internal fault becomes a structured 500.
func (g *Gateway) ProcessRequest(ctx context.Context, req *model.Request) (res *model.Response) {
	start := time.Now()
	pipelineFault := false
	defer func() {
		if r := recover(); r != nil {
			g.log.Error("pipeline panic", zap.Any("panic", r))
			res = errorResponse(http.StatusInternalServerError, "Internal server error")
			pipelineFault = true
		}
		g.metrics.Record(time.Since(start), pipelineFault)
		g.logAccess(req, res, time.Since(start))
	}()

	rc := &model.RequestContext{
		Request:   req,
		Auth:      make(map[string]string),
		RequestID: requestID(req),
	}

	// 1. Match.
	ep, params := g.registry.Match(req.Method, req.Path)
	if ep == nil {
		pipelineFault = true
		return errorResponse(http.StatusNotFound, "Endpoint not found")
	}
	rc.Endpoint = ep
	rc.PathParams = params
	rc.Timeout = ep.Timeout

	// 2. Authenticate.
	if ar := g.auth.Authenticate(rc); !ar.OK {
		pipelineFault = true
		return errorResponse(http.StatusUnauthorized, ar.Reason)
	}

	// 3. Rate-limit. First denial wins; a rule whose key dimension
	// does not resolve is skipped, and a store failure fails open.
	for _, rule := range g.registry.RulesFor(ep) {
		key := g.resolveKey(rc, rule)
		if key == "" {
			continue
		}
		rc.RateLimitKey = key

		if rule.Quota == model.QuotaMaxConcurrent {
			ok, release := g.limiter.Acquire(key, rule.Limit)
			if !ok {
				pipelineFault = true
				return rateLimited(ratelimit.Info{Limit: rule.Limit, Current: rule.Limit, Window: rule.Window(), Reset: time.Now().Add(rule.Window())})
			}
			defer release()
			continue
		}

		allowed, info, err := g.limiter.Check(ctx, key, rule)
		if err != nil {
			g.log.Warn("rate limit store failure, failing open",
				zap.String("rule", rule.ID), zap.Error(err))
			continue
		}
		if !allowed {
			pipelineFault = true
			return rateLimited(info)
		}
	}

	// 4. Cache lookup.
	var fingerprint string
	if ep.CacheEnabled {
		fingerprint = cache.Fingerprint(req)
		if entry, ok, err := g.cache.Get(ctx, fingerprint); err == nil && ok {
			h := entry.Header.Clone()
			if h == nil {
				h = make(http.Header)
			}
			h.Set("X-Gateway-Cache", "hit")
			h.Set("X-Gateway-Request-ID", rc.RequestID)
			return &model.Response{Status: entry.Status, Header: h, Body: entry.Body, FromCache: true}
		} else if err != nil {
			g.log.Warn("cache read failure", zap.Error(err))
		}
	}

	// 5. Transform.
	transform.Apply(rc, ep.Transforms)

	// 6. Select upstream.
	pool, registered := g.registry.Instances(ep.Service)
	if !registered || len(pool) == 0 {
		pipelineFault = true
		if !registered {
			return errorResponse(http.StatusServiceUnavailable, "No upstream services available")
		}
		return errorResponse(http.StatusServiceUnavailable, "No healthy upstream services")
	}
	inst := g.balancer.Pick(ep.Strategy, ep.Service, pool, rc)
	if inst == nil {
		pipelineFault = true
		return errorResponse(http.StatusServiceUnavailable, "No healthy upstream services")
	}
	rc.Instance = inst

	// 7. Forward.
	res, err := g.fwd.Do(ctx, rc)
	if err != nil {
		pipelineFault = true
		if errors.Is(err, forward.ErrTimeout) {
			return errorResponse(http.StatusGatewayTimeout, "Upstream timeout")
		}
		g.log.Warn("upstream transport fault",
			zap.String("instance", inst.ID), zap.Error(err))
		return errorResponse(http.StatusBadGateway, "Upstream unreachable")
	}
	if res.Header == nil {
		res.Header = make(http.Header)
	}
	res.Header.Set("X-Gateway-Upstream", inst.ID)
	res.Header.Set("X-Gateway-Request-ID", rc.RequestID)
	res.Header.Set("X-Gateway-Cache", "miss")

	// 8. Cache store: best-effort, never fails the request.
	if ep.CacheEnabled && cache.Cacheable(req.Method, res.Status) {
		entry := &model.CachedResponse{Status: res.Status, Header: res.Header.Clone(), Body: res.Body}
		if err := g.cache.Set(ctx, fingerprint, entry, ep.CacheTTL); err != nil {
			g.log.Warn("cache write failure", zap.Error(err))
		}
	}
	return res
}

// resolveKey maps a rule's dimension to a concrete string for this
// request, or "" when the dimension does not resolve.
func (g *Gateway) resolveKey(rc *model.RequestContext, rule *model.RateLimitRule) string {
	var v string
	switch rule.Dimension {
	case model.KeyBySourceIP:
		v = rc.Request.ClientAddr
		if host, _, err := net.SplitHostPort(v); err == nil {
			v = host
		}
	case model.KeyByCredential:
		v = rc.Auth["credential"]
	case model.KeyByIdentity:
		v = rc.Auth["identity"]
	case model.KeyByCustom:
		v = rc.Request.Header.Get(rule.CustomHeader)
	}
	if v == "" {
		return ""
	}
	return "ratelimit:" + rule.ID + ":" + v
}

func (g *Gateway) logAccess(req *model.Request, res *model.Response, d time.Duration) {
	status := 0
	if res != nil {
		status = res.Status
	}
	g.log.Info("request",
		zap.String("method", req.Method),
		zap.String("path", req.Path),
		zap.Int("status", status),
		zap.Duration("duration", d),
		zap.String("client", req.ClientAddr),
	)
}

func requestID(req *model.Request) string {
	if id := req.Header.Get("X-Gateway-Request-ID"); id != "" {
		return id
	}
	if id := req.Header.Get("X-Request-ID"); id != "" {
		return id
	}
	return uuid.New().String()
}

func errorResponse(status int, msg string) *model.Response {
	body, _ := json.Marshal(map[string]string{"error": msg})
	h := make(http.Header)
	h.Set("Content-Type", "application/json")
	return &model.Response{Status: status, Header: h, Body: body}
}

func rateLimited(info ratelimit.Info) *model.Response {
	res := errorResponse(http.StatusTooManyRequests, "Rate limit exceeded")
	res.Header.Set("X-RateLimit-Limit", strconv.Itoa(info.Limit))
	res.Header.Set("X-RateLimit-Remaining", strconv.Itoa(info.Remaining()))
	res.Header.Set("X-RateLimit-Reset", strconv.FormatInt(info.Reset.Unix(), 10))
	return res
}
