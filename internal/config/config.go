// Package config loads the gateway's YAML configuration: listen
// addresses, backend selection, health-check cadence, and optional
// preloaded endpoints, upstreams, and rate rules.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/apigw/gateway/internal/model"
)

type rawConfig struct {
	Listen      string `yaml:"listen"`
	AdminListen string `yaml:"admin_listen"`
	RedisAddr   string `yaml:"redis_addr"`
	JWTSecret   string `yaml:"jwt_secret"`

	Guard struct {
		RequestsPerSecond float64 `yaml:"requests_per_second"`
		Burst             int     `yaml:"burst"`
	} `yaml:"guard"`

	HealthCheck struct {
		Interval     string `yaml:"interval"`
		ProbeTimeout string `yaml:"probe_timeout"`
	} `yaml:"health_check"`

	APIKeys map[string]string `yaml:"api_keys"` // key -> identity

	Endpoints []struct {
		ID            string                `yaml:"id"`
		Path          string                `yaml:"path"`
		Methods       []string              `yaml:"methods"`
		Service       string                `yaml:"service"`
		Auth          string                `yaml:"auth"`
		RuleIDs       []string              `yaml:"rule_ids"`
		CacheEnabled  bool                  `yaml:"cache_enabled"`
		CacheTTL      string                `yaml:"cache_ttl"`
		Transforms    []model.TransformSpec `yaml:"transforms"`
		Timeout       string                `yaml:"timeout"`
		RetryAttempts int                   `yaml:"retry_attempts"`
		Strategy      string                `yaml:"strategy"`
	} `yaml:"endpoints"`

	Upstreams []struct {
		ID        string `yaml:"id"`
		Service   string `yaml:"service"`
		BaseURL   string `yaml:"base_url"`
		HealthURL string `yaml:"health_url"`
		Weight    int    `yaml:"weight"`
		MaxConns  int64  `yaml:"max_connections"`
	} `yaml:"upstreams"`

	Rules []struct {
		ID            string   `yaml:"id"`
		Dimension     string   `yaml:"dimension"`
		CustomHeader  string   `yaml:"custom_header"`
		Quota         string   `yaml:"quota"`
		Limit         int      `yaml:"limit"`
		WindowSeconds int      `yaml:"window_seconds"`
		Burst         int      `yaml:"burst"`
		Endpoints     []string `yaml:"endpoints"`
	} `yaml:"rules"`
}

// Config is the validated runtime configuration.
type Config struct {
	Listen      string
	AdminListen string
	RedisAddr   string // empty => in-memory backends
	JWTSecret   string

	GuardRPS   float64
	GuardBurst int

	HealthInterval time.Duration
	ProbeTimeout   time.Duration

	APIKeys map[string]string

	Endpoints []*model.Endpoint
	Upstreams []Upstream
	Rules     []*model.RateLimitRule
}

// Upstream pairs an instance with its service pool.
type Upstream struct {
	Service  string
	Instance *model.UpstreamInstance
}

// Load reads and validates the YAML file at path.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(b)
}

// Parse validates raw YAML bytes.
func Parse(b []byte) (*Config, error) {
	var rc rawConfig
	if err := yaml.Unmarshal(b, &rc); err != nil {
		return nil, fmt.Errorf("yaml: %w", err)
	}

	c := &Config{
		Listen:      ":8080",
		AdminListen: ":9090",
		RedisAddr:   strings.TrimSpace(rc.RedisAddr),
		JWTSecret:   rc.JWTSecret,
		GuardRPS:    rc.Guard.RequestsPerSecond,
		GuardBurst:  rc.Guard.Burst,
		APIKeys:     rc.APIKeys,
	}
	if v := strings.TrimSpace(rc.Listen); v != "" {
		c.Listen = v
	}
	if v := strings.TrimSpace(rc.AdminListen); v != "" {
		c.AdminListen = v
	}

	if rc.HealthCheck.Interval != "" {
		d, err := time.ParseDuration(rc.HealthCheck.Interval)
		if err != nil {
			return nil, fmt.Errorf("health_check.interval: %v", err)
		}
		c.HealthInterval = d
	}
	if rc.HealthCheck.ProbeTimeout != "" {
		d, err := time.ParseDuration(rc.HealthCheck.ProbeTimeout)
		if err != nil {
			return nil, fmt.Errorf("health_check.probe_timeout: %v", err)
		}
		c.ProbeTimeout = d
	}
	if c.HealthInterval > 0 && c.ProbeTimeout >= c.HealthInterval {
		return nil, fmt.Errorf("health_check: probe_timeout must be shorter than interval")
	}

	for i, e := range rc.Endpoints {
		if strings.TrimSpace(e.ID) == "" {
			return nil, fmt.Errorf("endpoints[%d]: id is required", i)
		}
		if !strings.HasPrefix(e.Path, "/") {
			return nil, fmt.Errorf("endpoints[%d]: path must start with '/'", i)
		}
		if len(e.Methods) == 0 {
			return nil, fmt.Errorf("endpoints[%d]: methods is empty", i)
		}
		if strings.TrimSpace(e.Service) == "" {
			return nil, fmt.Errorf("endpoints[%d]: service is required", i)
		}
		ep := &model.Endpoint{
			ID:            e.ID,
			Path:          e.Path,
			Methods:       e.Methods,
			Service:       e.Service,
			Auth:          model.AuthNone,
			RuleIDs:       e.RuleIDs,
			CacheEnabled:  e.CacheEnabled,
			Transforms:    e.Transforms,
			RetryAttempts: e.RetryAttempts,
			Strategy:      model.Strategy(e.Strategy),
		}
		if e.Auth != "" {
			ep.Auth = model.AuthScheme(e.Auth)
		}
		if e.CacheTTL != "" {
			d, err := time.ParseDuration(e.CacheTTL)
			if err != nil {
				return nil, fmt.Errorf("endpoints[%d].cache_ttl: %v", i, err)
			}
			ep.CacheTTL = d
		}
		if e.Timeout != "" {
			d, err := time.ParseDuration(e.Timeout)
			if err != nil {
				return nil, fmt.Errorf("endpoints[%d].timeout: %v", i, err)
			}
			ep.Timeout = d
		}
		c.Endpoints = append(c.Endpoints, ep)
	}

	for i, u := range rc.Upstreams {
		if strings.TrimSpace(u.ID) == "" || strings.TrimSpace(u.Service) == "" {
			return nil, fmt.Errorf("upstreams[%d]: id and service are required", i)
		}
		parsed, err := url.Parse(strings.TrimSpace(u.BaseURL))
		if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
			return nil, fmt.Errorf("upstreams[%d]: base_url must be an http(s) URL with host", i)
		}
		c.Upstreams = append(c.Upstreams, Upstream{
			Service:  u.Service,
			Instance: model.NewUpstreamInstance(u.ID, u.BaseURL, u.HealthURL, u.Weight, u.MaxConns),
		})
	}

	for i, r := range rc.Rules {
		if strings.TrimSpace(r.ID) == "" {
			return nil, fmt.Errorf("rules[%d]: id is required", i)
		}
		if r.Limit <= 0 {
			return nil, fmt.Errorf("rules[%d]: limit must be positive", i)
		}
		c.Rules = append(c.Rules, &model.RateLimitRule{
			ID:            r.ID,
			Dimension:     model.KeyDimension(r.Dimension),
			CustomHeader:  r.CustomHeader,
			Quota:         model.QuotaType(r.Quota),
			Limit:         r.Limit,
			WindowSeconds: r.WindowSeconds,
			Burst:         r.Burst,
			Endpoints:     r.Endpoints,
		})
	}

	return c, nil
}
