// Package health polls every registered upstream in the background and
// updates its health state for the load balancer.
package health

import (
	"context"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/apigw/gateway/internal/model"
)

const (
	// DefaultInterval between probe cycles.
	DefaultInterval = 30 * time.Second
	// DefaultProbeTimeout bounds one probe; always shorter than the
	// polling interval.
	DefaultProbeTimeout = 10 * time.Second
)

// Source yields the instances to probe each cycle.
type Source interface {
	AllInstances() []*model.UpstreamInstance
}

// Checker is the background prober. Run blocks until the context is
// cancelled.
type Checker struct {
	source   Source
	client   *http.Client
	interval time.Duration
	timeout  time.Duration
	log      *zap.Logger
}

// New builds a checker. Zero interval/timeout take the defaults; a nil
// logger is replaced with a nop one.
func New(source Source, interval, timeout time.Duration, log *zap.Logger) *Checker {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if timeout <= 0 {
		timeout = DefaultProbeTimeout
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Checker{
		source:   source,
		client:   &http.Client{},
		interval: interval,
		timeout:  timeout,
		log:      log,
	}
}

// Run probes on every tick until ctx is cancelled, then exits cleanly.
func (c *Checker) Run(ctx context.Context) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	c.RunCycle(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.RunCycle(ctx)
		}
	}
}

// RunCycle probes all instances concurrently and waits for the cycle
// to finish. A slow or failed probe never delays the others.
func (c *Checker) RunCycle(ctx context.Context) {
	instances := c.source.AllInstances()
	var wg sync.WaitGroup
	for _, inst := range instances {
		wg.Add(1)
		go func(u *model.UpstreamInstance) {
			defer wg.Done()
			c.probe(ctx, u)
		}(inst)
	}
	wg.Wait()
}

func (c *Checker) probe(ctx context.Context, u *model.UpstreamInstance) {
	probeCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	state := model.Unhealthy
	probeErr := ""

	req, err := http.NewRequestWithContext(probeCtx, http.MethodGet, u.HealthURL, nil)
	if err != nil {
		probeErr = err.Error()
	} else {
		res, err := c.client.Do(req)
		if err != nil {
			probeErr = err.Error()
		} else {
			_ = res.Body.Close()
			if res.StatusCode == http.StatusOK {
				state = model.Healthy
			} else {
				probeErr = res.Status
			}
		}
	}

	latency := time.Since(start)
	u.SetHealth(state, time.Now(), latency, probeErr)
	if state != model.Healthy {
		c.log.Warn("upstream unhealthy",
			zap.String("instance", u.ID),
			zap.String("url", u.HealthURL),
			zap.String("error", probeErr),
		)
	}
}
