package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/apigw/gateway/internal/auth"
	"github.com/apigw/gateway/internal/cache"
	cfg "github.com/apigw/gateway/internal/config"
	"github.com/apigw/gateway/internal/forward"
	"github.com/apigw/gateway/internal/gateway"
	"github.com/apigw/gateway/internal/health"
	"github.com/apigw/gateway/internal/lb"
	"github.com/apigw/gateway/internal/ratelimit"
	"github.com/apigw/gateway/internal/registry"
	"github.com/apigw/gateway/internal/server"
	"github.com/apigw/gateway/internal/store"
	"github.com/apigw/gateway/internal/version"
)

func main() {
	configPath := flag.String("config", "./cmd/config.yaml", "path to YAML config")
	flag.Parse()

	log, err := zap.NewProduction()
	if err != nil {
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	c, err := cfg.Load(*configPath)
	if err != nil {
		log.Fatal("config", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var backend store.Store
	if c.RedisAddr != "" {
		r, err := store.NewRedis(ctx, c.RedisAddr)
		if err != nil {
			log.Fatal("redis", zap.String("addr", c.RedisAddr), zap.Error(err))
		}
		defer func() { _ = r.Close() }()
		backend = r
	} else {
		backend = store.NewMemory()
	}

	reg := registry.New()
	for _, ep := range c.Endpoints {
		reg.RegisterEndpoint(ep)
	}
	for _, u := range c.Upstreams {
		reg.RegisterUpstream(u.Service, u.Instance)
	}
	for _, r := range c.Rules {
		reg.RegisterRule(r)
	}

	gw := gateway.New(
		reg,
		ratelimit.New(backend),
		cache.New(backend),
		auth.NewHandler(c.APIKeys, []byte(c.JWTSecret)),
		lb.New(),
		forward.New(forward.DefaultOptions()),
		log,
	)

	checker := health.New(reg, c.HealthInterval, c.ProbeTimeout, log)
	go checker.Run(ctx)

	var guard *ratelimit.Guard
	if c.GuardRPS > 0 {
		guard = ratelimit.NewGuard(c.GuardRPS, c.GuardBurst)
	}

	proxySrv := &http.Server{
		Addr:              c.Listen,
		Handler:           server.RequestID(server.NewProxy(gw, guard, log)),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	adminSrv := &http.Server{
		Addr:              c.AdminListen,
		Handler:           server.NewAdmin(gw),
		ReadHeaderTimeout: 10 * time.Second,
	}

	log.Info("gateway starting",
		zap.String("version", version.Value),
		zap.String("listen", c.Listen),
		zap.String("admin", c.AdminListen),
		zap.Int("endpoints", len(c.Endpoints)),
		zap.Int("upstreams", len(c.Upstreams)),
	)

	go func() {
		if err := proxySrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("listen", zap.Error(err))
		}
	}()
	go func() {
		if err := adminSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("admin listen", zap.Error(err))
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = proxySrv.Shutdown(shutdownCtx)
	_ = adminSrv.Shutdown(shutdownCtx)
}
