package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/splax/tenantedge/internal/app/bootstrap"
	"github.com/splax/tenantedge/internal/domain"
	httpx "github.com/splax/tenantedge/internal/http"
	"github.com/splax/tenantedge/internal/service/provision"
	"github.com/splax/tenantedge/internal/service/verify"
	"github.com/splax/tenantedge/internal/ws"
	"github.com/splax/tenantedge/pkg/config"
	"github.com/splax/tenantedge/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.New("api", logger.ParseLevel("info")).Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	log := logger.New("api", logger.ParseLevel(cfg.LogLevel))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, repo, err := bootstrap.Database(ctx, cfg, log)
	if err != nil {
		log.Error("database unavailable", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	rdb := bootstrap.Redis(ctx, cfg, log)
	if rdb != nil {
		defer rdb.Close()
	}

	res, local, err := bootstrap.Resolver(cfg, repo, rdb, log)
	if err != nil {
		log.Error("failed to configure resolver", "error", err)
		os.Exit(1)
	}
	go func() {
		if err := res.Listen(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Warn("resolver invalidation listener stopped", "error", err)
		}
	}()

	provider, err := bootstrap.Provider(ctx, cfg, log)
	if err != nil {
		log.Error("failed to configure dns provider", "error", err)
		os.Exit(1)
	}
	provisioner := provision.New(repo, repo, repo, repo, provider, provision.Settings{
		BaseDomain:      cfg.BaseDomain,
		IngressIP:       cfg.IngressIP,
		ProviderTimeout: cfg.ProviderTimeout,
		VerifyInterval:  cfg.VerifyInterval,
		MaxAttempts:     cfg.VerifyMaxAttempts,
	}, log)

	hub := ws.NewHub(log)
	opts := []verify.Option{
		verify.WithMetrics(verify.NewMetrics()),
		verify.WithListeners(hub, verify.ListenerFunc(func(ctx context.Context, t verify.Transition) {
			if err := res.Invalidate(ctx, t.Zone.Domain); err != nil {
				log.Warn("resolver invalidation failed", "domain", t.Zone.Domain, "error", err)
			}
		})),
	}
	if rdb != nil {
		opts = append(opts, verify.WithLeaderLock(verify.NewRedisLock(rdb)))
	}

	if dir := strings.TrimSpace(cfg.NginxConfigPath); dir != "" {
		ingressSvc, err := newIngress(cfg, log)
		if err != nil {
			log.Error("failed to configure ingress", "error", err)
			os.Exit(1)
		}
		defer ingressSvc.Close()
		active, err := repo.ListZonesByStatus(ctx, domain.ZoneActive)
		if err != nil {
			log.Warn("active zones unavailable for ingress sync", "error", err)
		} else if err := ingressSvc.Sync(ctx, active); err != nil {
			log.Warn("ingress sync failed", "error", err)
		}
		opts = append(opts, verify.WithListeners(ingressSvc))
	}

	poller := verify.New(repo, bootstrap.Checker(cfg), bootstrap.PollerSettings(cfg, bootstrap.Signature(cfg, provider)), log, opts...)
	if cfg.VerifyEmbedded {
		go poller.Run(ctx)
	}
	sites := verify.NewSiteVerifier(repo, cfg.SiteCheckTimeout, res, log)

	limiter := httpx.NewMemoryRateLimiter()
	checks := map[string]func(context.Context) error{"database": pool.Ping}
	if rdb != nil {
		limiter = httpx.NewRedisRateLimiter(rdb, log)
		checks["redis"] = func(ctx context.Context) error { return rdb.Ping(ctx).Err() }
	}

	router, err := httpx.NewRouter(httpx.Deps{
		Logger:         log,
		Policy:         bootstrap.Policy(cfg),
		Resolver:       res,
		Local:          local,
		Provisioner:    provisioner,
		Verifier:       poller,
		Sites:          sites,
		Hub:            hub,
		Limiter:        limiter,
		CronToken:      cfg.CronToken,
		AdminToken:     cfg.AdminToken,
		AllowedOrigins: cfg.AllowedOrigins,
		SiteBackendURL: cfg.SiteBackendURL,
		HealthChecks:   checks,
	})
	if err != nil {
		log.Error("failed to configure router", "error", err)
		os.Exit(1)
	}
	defer router.Close()

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errorCh := make(chan error, 1)
	go func() {
		log.Info("api server starting", "addr", cfg.Addr, "environment", cfg.Environment, "verifier_embedded", cfg.VerifyEmbedded)
		errorCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("graceful shutdown failed", "error", err)
		}
		log.Info("api server stopped")
	case err := <-errorCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}
}
