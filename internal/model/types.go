package model

import (
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// AuthScheme selects how an endpoint authenticates callers.
type AuthScheme string

const (
	AuthNone   AuthScheme = "none"
	AuthAPIKey AuthScheme = "api_key"
	AuthJWT    AuthScheme = "jwt"
	AuthOAuth2 AuthScheme = "oauth2"
	AuthBasic  AuthScheme = "basic"
)

// Strategy selects the upstream balancing algorithm for an endpoint.
type Strategy string

const (
	RoundRobin         Strategy = "round_robin"
	WeightedRoundRobin Strategy = "weighted_round_robin"
	LeastConnections   Strategy = "least_connections"
	IPHash             Strategy = "ip_hash"
	Random             Strategy = "random"
)

// KeyDimension is the axis a rate-limit rule counts along.
type KeyDimension string

const (
	KeyBySourceIP   KeyDimension = "source_ip"
	KeyByCredential KeyDimension = "credential"
	KeyByIdentity   KeyDimension = "identity"
	KeyByCustom     KeyDimension = "custom"
)

// QuotaType is the kind of quota a rate-limit rule enforces.
type QuotaType string

const (
	QuotaPerSecond     QuotaType = "requests_per_second"
	QuotaPerMinute     QuotaType = "requests_per_minute"
	QuotaPerHour       QuotaType = "requests_per_hour"
	QuotaPerDay        QuotaType = "requests_per_day"
	QuotaMaxConcurrent QuotaType = "max_concurrent"
)

// HealthState of an upstream instance.
type HealthState string

const (
	Healthy   HealthState = "healthy"
	Unhealthy HealthState = "unhealthy"
	Unknown   HealthState = "unknown"
)

// TransformSpec is one declarative request mutation. Fields are
// interpreted per Type; unused fields are ignored.
type TransformSpec struct {
	Type        string        `json:"type" yaml:"type"`
	Header      string        `json:"header,omitempty" yaml:"header"`
	Value       string        `json:"value,omitempty" yaml:"value"`
	Pattern     string        `json:"pattern,omitempty" yaml:"pattern"`
	Replacement string        `json:"replacement,omitempty" yaml:"replacement"`
	Param       string        `json:"param,omitempty" yaml:"param"`
	Field       string        `json:"field,omitempty" yaml:"field"`
	Timeout     time.Duration `json:"timeout,omitempty" yaml:"timeout"`
}

// Endpoint is a routable API surface. Immutable once registered;
// re-registration under the same ID replaces it wholesale.
type Endpoint struct {
	ID            string
	Path          string // literal segments and {param} wildcards
	Methods       []string
	Service       string
	Auth          AuthScheme
	RuleIDs       []string // empty => every applicable rule
	CacheEnabled  bool
	CacheTTL      time.Duration // 0 => cache default
	Transforms    []TransformSpec
	Timeout       time.Duration
	RetryAttempts int
	Strategy      Strategy
}

// HasMethod reports whether the endpoint accepts the HTTP method.
func (e *Endpoint) HasMethod(m string) bool {
	for _, v := range e.Methods {
		if strings.EqualFold(v, m) {
			return true
		}
	}
	return false
}

// UpstreamInstance is one backend of a service pool. Health fields are
// written by the health checker and read by the load balancer; the
// open-connection count is touched on every forward.
type UpstreamInstance struct {
	ID        string
	BaseURL   string
	HealthURL string
	Weight    int
	MaxConns  int64

	open atomic.Int64

	mu          sync.Mutex
	health      HealthState
	lastCheck   time.Time
	lastLatency time.Duration
	lastErr     string
}

// NewUpstreamInstance returns an instance in the Unknown health state.
func NewUpstreamInstance(id, baseURL, healthURL string, weight int, maxConns int64) *UpstreamInstance {
	if weight <= 0 {
		weight = 1
	}
	u := &UpstreamInstance{
		ID:        id,
		BaseURL:   baseURL,
		HealthURL: healthURL,
		Weight:    weight,
		MaxConns:  maxConns,
	}
	u.health = Unknown
	return u
}

// AcquireConn increments the open-connection count.
func (u *UpstreamInstance) AcquireConn() { u.open.Add(1) }

// ReleaseConn decrements the open-connection count.
func (u *UpstreamInstance) ReleaseConn() { u.open.Add(-1) }

// OpenConns returns the current open-connection count.
func (u *UpstreamInstance) OpenConns() int64 { return u.open.Load() }

// Health returns the current health state.
func (u *UpstreamInstance) Health() HealthState {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.health
}

// SetHealth records a probe outcome.
func (u *UpstreamInstance) SetHealth(s HealthState, at time.Time, latency time.Duration, probeErr string) {
	u.mu.Lock()
	u.health = s
	u.lastCheck = at
	u.lastLatency = latency
	u.lastErr = probeErr
	u.mu.Unlock()
}

// LastCheck returns the time of the most recent health probe.
func (u *UpstreamInstance) LastCheck() time.Time {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.lastCheck
}

// LastProbe returns the latency and error of the most recent probe.
func (u *UpstreamInstance) LastProbe() (time.Duration, string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.lastLatency, u.lastErr
}

// RateLimitRule is a quota over a sliding window, keyed by one request
// dimension. A rule whose dimension does not resolve for a request is
// skipped for that request.
type RateLimitRule struct {
	ID            string
	Dimension     KeyDimension
	CustomHeader  string // header consulted when Dimension == KeyByCustom
	Quota         QuotaType
	Limit         int
	WindowSeconds int
	Burst         int
	Endpoints     []string // empty => applies to every endpoint
}

// Window returns the sliding window size, deriving one from the quota
// type when WindowSeconds is unset.
func (r *RateLimitRule) Window() time.Duration {
	if r.WindowSeconds > 0 {
		return time.Duration(r.WindowSeconds) * time.Second
	}
	switch r.Quota {
	case QuotaPerMinute:
		return time.Minute
	case QuotaPerHour:
		return time.Hour
	case QuotaPerDay:
		return 24 * time.Hour
	default:
		return time.Second
	}
}

// AppliesTo reports whether the rule covers the given endpoint.
func (r *RateLimitRule) AppliesTo(endpointID string) bool {
	if len(r.Endpoints) == 0 {
		return true
	}
	for _, id := range r.Endpoints {
		if id == endpointID {
			return true
		}
	}
	return false
}

// Request is a parsed inbound call as delivered by the transport layer.
type Request struct {
	Method     string
	Path       string
	Query      url.Values
	Header     http.Header
	Body       []byte
	ClientAddr string
}

// Response is the structured pipeline outcome. Every failure path
// produces one; the orchestrator never propagates a fault upward.
type Response struct {
	Status    int
	Header    http.Header
	Body      []byte
	FromCache bool
}

// CachedResponse is the stored form of a cache-eligible response.
type CachedResponse struct {
	Status int         `json:"status"`
	Header http.Header `json:"header"`
	Body   []byte      `json:"body"`
}

// RequestContext is the per-request pipeline state. Owned exclusively
// by the handling goroutine; never shared or persisted.
type RequestContext struct {
	Request      *Request
	Endpoint     *Endpoint
	Instance     *UpstreamInstance
	PathParams   map[string]string
	RateLimitKey string
	Auth         map[string]string
	Applied      []string      // transformation types applied, in order
	Timeout      time.Duration // effective forward timeout
	RequestID    string
}
