// Package bootstrap builds the shared infrastructure used by the commands.
package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/splax/tenantedge/internal/app/migrate"
	"github.com/splax/tenantedge/internal/dnsprovider"
	"github.com/splax/tenantedge/internal/hostname"
	"github.com/splax/tenantedge/internal/nscheck"
	"github.com/splax/tenantedge/internal/repository"
	"github.com/splax/tenantedge/internal/repository/postgres"
	"github.com/splax/tenantedge/internal/service/resolver"
	"github.com/splax/tenantedge/internal/service/verify"
	"github.com/splax/tenantedge/pkg/config"
)

// Database opens the pool, verifies connectivity and applies pending migrations.
func Database(ctx context.Context, cfg config.Config, log *slog.Logger) (*pgxpool.Pool, *postgres.Repository, error) {
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to database: %w", err)
	}
	runner, err := migrate.New(pool, cfg.DatabaseURL, cfg.MigrationsDir, log)
	if err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("configure migrations: %w", err)
	}
	if err := runner.Ping(ctx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("database ping: %w", err)
	}
	if err := runner.Ensure(ctx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("apply migrations: %w", err)
	}
	return pool, postgres.New(pool), nil
}

// Redis returns a client when REDIS_ADDR is set and reachable, otherwise nil.
func Redis(ctx context.Context, cfg config.Config, log *slog.Logger) redis.UniversalClient {
	addr := strings.TrimSpace(cfg.RedisAddr)
	if addr == "" {
		return nil
	}
	client := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:    strings.Split(addr, ","),
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		log.Warn("redis unavailable, continuing with process-local state", "addr", addr, "error", err)
		_ = client.Close()
		return nil
	}
	return client
}

// Provider builds the configured DNS provider. A nil provider with a nil error means
// custom domains fall back to manual configuration.
func Provider(ctx context.Context, cfg config.Config, log *slog.Logger) (dnsprovider.Provider, error) {
	switch cfg.DNSProvider {
	case "digitalocean":
		if strings.TrimSpace(cfg.DOAccessToken) == "" {
			log.Warn("DO_ACCESS_TOKEN not set, custom domains use manual configuration")
			return nil, nil
		}
		do, err := dnsprovider.NewDigitalOcean(cfg.DOAPIURL, cfg.DOAccessToken, &http.Client{Timeout: cfg.ProviderTimeout})
		if err != nil {
			return nil, err
		}
		return do, nil
	case "route53":
		r53, err := dnsprovider.NewRoute53(ctx, cfg.AWSRegion)
		if err != nil {
			return nil, err
		}
		return r53, nil
	case "memory":
		return dnsprovider.NewMemory(), nil
	default:
		return nil, nil
	}
}

// Signature picks the nameserver substring that proves delegation to provider.
func Signature(cfg config.Config, provider dnsprovider.Provider) string {
	if sig := strings.TrimSpace(cfg.ProviderSignature); sig != "" {
		return sig
	}
	if provider != nil {
		return provider.Signature()
	}
	return ""
}

// Checker builds the NS lookup client.
func Checker(cfg config.Config) nscheck.Checker {
	if cfg.NSCheckMode == "dns" {
		return nscheck.NewWire(cfg.DNSServer, cfg.NSLookupTimeout)
	}
	return nscheck.NewDoH(cfg.DoHURL, &http.Client{Timeout: cfg.NSLookupTimeout})
}

// PollerSettings maps configuration onto the verifier.
func PollerSettings(cfg config.Config, signature string) verify.Settings {
	return verify.Settings{
		Signature:     signature,
		MaxAttempts:   cfg.VerifyMaxAttempts,
		Interval:      cfg.VerifyInterval,
		ZoneDelay:     cfg.VerifyZoneDelay,
		LookupTimeout: cfg.NSLookupTimeout,
		LockTTL:       cfg.VerifyLockTTL,
	}
}

// Policy returns the host classification rules.
func Policy(cfg config.Config) hostname.Policy {
	return hostname.Policy{
		BaseDomain:     cfg.BaseDomain,
		ReservedLabels: cfg.ReservedLabels,
		DevSuffixes:    cfg.DevHostSuffixes,
	}
}

// Store is the repository surface the resolver needs.
type Store interface {
	repository.TenantRepository
	repository.BindingRepository
}

// Resolver builds the host resolver. The remote strategy is consulted first outside
// development; a non-nil rdb adds the shared cache and cross-replica invalidation.
func Resolver(cfg config.Config, store Store, rdb redis.UniversalClient, log *slog.Logger) (*resolver.Resolver, resolver.Strategy, error) {
	local := resolver.NewLocal(store, store, cfg.LocalResolverTimeout)
	strategies := make([]resolver.Strategy, 0, 2)
	if url := strings.TrimSpace(cfg.RemoteResolverURL); url != "" && cfg.Environment != "development" {
		remote, err := resolver.NewRemote(url, cfg.RemoteResolverToken, cfg.RemoteResolverTimeout, nil)
		if err != nil {
			return nil, nil, fmt.Errorf("configure remote resolver: %w", err)
		}
		strategies = append(strategies, remote)
	}
	strategies = append(strategies, local)

	opts := []resolver.Option{
		resolver.WithTTL(cfg.ResolverCacheTTL),
		resolver.WithLogger(log),
		resolver.WithMetrics(resolver.NewMetrics()),
	}
	if rdb != nil {
		shared := resolver.NewRedisCache(rdb, log)
		opts = append(opts, resolver.WithSharedCache(shared), resolver.WithInvalidations(shared))
	}
	return resolver.New(Policy(cfg), strategies, opts...), local, nil
}
