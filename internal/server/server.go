// Package server adapts net/http to the gateway pipeline and exposes
// the administrative surface.
package server

import (
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/apigw/gateway/internal/gateway"
	"github.com/apigw/gateway/internal/model"
	"github.com/apigw/gateway/internal/ratelimit"
)

// Proxy is the front door: it converts an http.Request into the
// pipeline's request form and writes the structured response back.
type Proxy struct {
	gw    *gateway.Gateway
	guard *ratelimit.Guard // nil disables the front-door guard
	log   *zap.Logger
}

// NewProxy builds the front door handler.
func NewProxy(gw *gateway.Gateway, guard *ratelimit.Guard, log *zap.Logger) *Proxy {
	if log == nil {
		log = zap.NewNop()
	}
	return &Proxy{gw: gw, guard: guard, log: log}
}

var _ http.Handler = (*Proxy)(nil)

func (p *Proxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if p.guard != nil && !p.guard.Allow(clientIP(r.RemoteAddr)) {
		writeJSONError(w, http.StatusTooManyRequests, "Too many requests")
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "Unreadable request body")
		return
	}

	req := &model.Request{
		Method:     r.Method,
		Path:       r.URL.Path,
		Query:      r.URL.Query(),
		Header:     r.Header.Clone(),
		Body:       body,
		ClientAddr: r.RemoteAddr,
	}
	res := p.gw.ProcessRequest(r.Context(), req)

	for k, vv := range res.Header {
		for _, v := range vv {
			w.Header().Add(k, v)
		}
	}
	w.WriteHeader(res.Status)
	_, _ = w.Write(res.Body)
}

// Admin serves registration and metrics endpoints.
type Admin struct {
	gw     *gateway.Gateway
	router *chi.Mux
}

// NewAdmin wires the admin routes.
func NewAdmin(gw *gateway.Gateway) *Admin {
	a := &Admin{gw: gw, router: chi.NewRouter()}
	a.router.Use(middleware.Recoverer)
	a.router.Use(RequestID)

	a.router.Post("/admin/endpoints", a.handleRegisterEndpoint)
	a.router.Post("/admin/upstreams", a.handleRegisterUpstream)
	a.router.Post("/admin/rules", a.handleRegisterRule)
	a.router.Get("/admin/metrics", a.handleMetrics)
	a.router.Get("/healthz", a.handleHealthz)
	return a
}

func (a *Admin) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	a.router.ServeHTTP(w, r)
}

// endpointPayload is the wire form of an endpoint registration.
type endpointPayload struct {
	ID            string                `json:"id"`
	Path          string                `json:"path"`
	Methods       []string              `json:"methods"`
	Service       string                `json:"service"`
	Auth          string                `json:"auth"`
	RuleIDs       []string              `json:"rule_ids"`
	CacheEnabled  bool                  `json:"cache_enabled"`
	CacheTTLSecs  int                   `json:"cache_ttl_seconds"`
	Transforms    []model.TransformSpec `json:"transforms"`
	TimeoutSecs   int                   `json:"timeout_seconds"`
	RetryAttempts int                   `json:"retry_attempts"`
	Strategy      string                `json:"strategy"`
}

func (a *Admin) handleRegisterEndpoint(w http.ResponseWriter, r *http.Request) {
	var p endpointPayload
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	if p.ID == "" || p.Path == "" || p.Service == "" || len(p.Methods) == 0 {
		writeJSONError(w, http.StatusBadRequest, "id, path, service and methods are required")
		return
	}
	scheme := model.AuthScheme(p.Auth)
	if p.Auth == "" {
		scheme = model.AuthNone
	}
	a.gw.Registry().RegisterEndpoint(&model.Endpoint{
		ID:            p.ID,
		Path:          p.Path,
		Methods:       p.Methods,
		Service:       p.Service,
		Auth:          scheme,
		RuleIDs:       p.RuleIDs,
		CacheEnabled:  p.CacheEnabled,
		CacheTTL:      time.Duration(p.CacheTTLSecs) * time.Second,
		Transforms:    p.Transforms,
		Timeout:       time.Duration(p.TimeoutSecs) * time.Second,
		RetryAttempts: p.RetryAttempts,
		Strategy:      model.Strategy(p.Strategy),
	})
	w.WriteHeader(http.StatusNoContent)
}

type upstreamPayload struct {
	ID        string `json:"id"`
	Service   string `json:"service"`
	BaseURL   string `json:"base_url"`
	HealthURL string `json:"health_url"`
	Weight    int    `json:"weight"`
	MaxConns  int64  `json:"max_connections"`
}

func (a *Admin) handleRegisterUpstream(w http.ResponseWriter, r *http.Request) {
	var p upstreamPayload
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	if p.ID == "" || p.Service == "" || p.BaseURL == "" {
		writeJSONError(w, http.StatusBadRequest, "id, service and base_url are required")
		return
	}
	inst := model.NewUpstreamInstance(p.ID, p.BaseURL, p.HealthURL, p.Weight, p.MaxConns)
	a.gw.Registry().RegisterUpstream(p.Service, inst)
	w.WriteHeader(http.StatusNoContent)
}

type rulePayload struct {
	ID            string   `json:"id"`
	Dimension     string   `json:"dimension"`
	CustomHeader  string   `json:"custom_header"`
	Quota         string   `json:"quota"`
	Limit         int      `json:"limit"`
	WindowSeconds int      `json:"window_seconds"`
	Burst         int      `json:"burst"`
	Endpoints     []string `json:"endpoints"`
}

func (a *Admin) handleRegisterRule(w http.ResponseWriter, r *http.Request) {
	var p rulePayload
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	if p.ID == "" || p.Limit <= 0 {
		writeJSONError(w, http.StatusBadRequest, "id and a positive limit are required")
		return
	}
	a.gw.Registry().RegisterRule(&model.RateLimitRule{
		ID:            p.ID,
		Dimension:     model.KeyDimension(p.Dimension),
		CustomHeader:  p.CustomHeader,
		Quota:         model.QuotaType(p.Quota),
		Limit:         p.Limit,
		WindowSeconds: p.WindowSeconds,
		Burst:         p.Burst,
		Endpoints:     p.Endpoints,
	})
	w.WriteHeader(http.StatusNoContent)
}

func (a *Admin) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(a.gw.GetMetrics())
}

func (a *Admin) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
