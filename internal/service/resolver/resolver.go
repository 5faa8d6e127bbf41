// Package resolver maps request hosts to tenants through a TTL cache and a chain of
// lookup strategies. It fails closed: when no strategy can answer, no tenant is returned.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/splax/tenantedge/internal/domain"
	"github.com/splax/tenantedge/internal/hostname"
)

const sharedCacheTimeout = 250 * time.Millisecond

// Source values reported in Resolution.Source besides strategy names.
const (
	SourceClassifier  = "classifier"
	SourceCache       = "cache"
	SourceSharedCache = "shared_cache"
)

// Resolution is the answer for one request host.
type Resolution struct {
	Host     hostname.Host
	TenantID string
	Found    bool
	Source   string
}

// Resolver resolves hosts to tenant ids.
type Resolver struct {
	policy        hostname.Policy
	strategies    []Strategy
	cache         *Cache
	shared        SharedCache
	invalidations Invalidations
	group         singleflight.Group
	metrics       *Metrics
	log           *slog.Logger

	ttl   time.Duration
	clock func() time.Time
}

// Option customises a Resolver.
type Option func(*Resolver)

// WithTTL sets the cache freshness window.
func WithTTL(ttl time.Duration) Option {
	return func(r *Resolver) { r.ttl = ttl }
}

// WithClock injects the time source used for cache expiry.
func WithClock(now func() time.Time) Option {
	return func(r *Resolver) { r.clock = now }
}

// WithSharedCache adds a cache level shared between replicas.
func WithSharedCache(shared SharedCache) Option {
	return func(r *Resolver) { r.shared = shared }
}

// WithInvalidations broadcasts Invalidate and Clear to other replicas.
func WithInvalidations(inv Invalidations) Option {
	return func(r *Resolver) { r.invalidations = inv }
}

// WithLogger sets the logger.
func WithLogger(log *slog.Logger) Option {
	return func(r *Resolver) { r.log = log }
}

// WithMetrics records lookups on m.
func WithMetrics(m *Metrics) Option {
	return func(r *Resolver) { r.metrics = m }
}

// New constructs a Resolver trying strategies in order.
func New(policy hostname.Policy, strategies []Strategy, opts ...Option) *Resolver {
	r := &Resolver{
		policy:     policy,
		strategies: strategies,
		ttl:        defaultTTL,
		clock:      time.Now,
		log:        slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.cache = NewCache(r.ttl, r.clock)
	r.log = r.log.With("component", "resolver")
	return r
}

// Cache exposes the process-local cache.
func (r *Resolver) Cache() *Cache { return r.cache }

// Resolve returns the tenant serving rawHost. Reserved, platform and development hosts
// resolve to no tenant without any lookup. The returned error is always
// domain.ErrResolutionFailure and the resolution then carries no tenant.
func (r *Resolver) Resolve(ctx context.Context, rawHost string) (Resolution, error) {
	host := hostname.Classify(rawHost, r.policy)
	if !host.MayHaveTenant() {
		r.metrics.observe(SourceClassifier, "skipped")
		return Resolution{Host: host, Source: SourceClassifier}, nil
	}

	if entry, ok := r.cache.Get(host.Name); ok {
		r.metrics.observe(SourceCache, outcome(entry.Found))
		return resolutionFrom(host, entry, SourceCache), nil
	}

	// The shared lookup must outlive whichever caller started it; strategy timeouts bound it.
	lookupCtx := context.WithoutCancel(ctx)
	ch := r.group.DoChan(host.Name, func() (any, error) {
		return r.lookup(lookupCtx, host)
	})
	select {
	case <-ctx.Done():
		return Resolution{Host: host}, domain.NewError(domain.CodeResolutionFailure, "resolution of "+host.Name+" abandoned", ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return Resolution{Host: host}, res.Err
		}
		return res.Val.(Resolution), nil
	}
}

func (r *Resolver) lookup(ctx context.Context, host hostname.Host) (Resolution, error) {
	if entry, ok := r.cache.Get(host.Name); ok {
		return resolutionFrom(host, entry, SourceCache), nil
	}

	if entry, ok := r.sharedGet(ctx, host.Name); ok {
		r.cache.Set(host.Name, entry)
		r.metrics.observe(SourceSharedCache, outcome(entry.Found))
		return resolutionFrom(host, entry, SourceSharedCache), nil
	}

	var errs []error
	for _, strategy := range r.strategies {
		started := time.Now()
		res, err := strategy.Lookup(ctx, host)
		if err != nil {
			r.metrics.observe(strategy.Name(), "error")
			r.log.Warn("resolution strategy failed", "strategy", strategy.Name(), "host", host.Name, "duration_ms", time.Since(started).Milliseconds(), "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", strategy.Name(), err))
			continue
		}

		entry := Entry{TenantID: res.TenantID, Found: res.Found, StoredAt: r.clock()}
		r.cache.Set(host.Name, entry)
		r.sharedSet(ctx, host.Name, entry)
		r.metrics.observe(strategy.Name(), outcome(res.Found))
		r.log.Debug("host resolved", "strategy", strategy.Name(), "host", host.Name, "tenant_id", res.TenantID, "found", res.Found)
		return resolutionFrom(host, entry, strategy.Name()), nil
	}

	r.log.Error("tenant resolution exhausted every strategy", "host", host.Name, "error", errors.Join(errs...))
	return Resolution{}, domain.NewError(domain.CodeResolutionFailure, "no resolution strategy could answer for "+host.Name, errors.Join(errs...))
}

// Invalidate drops rawHost, and its www alias, from every cache level.
func (r *Resolver) Invalidate(ctx context.Context, rawHost string) error {
	name := hostname.Clean(rawHost)
	if name == "" {
		return nil
	}
	hosts := []string{name, "www." + name}
	for _, h := range hosts {
		r.cache.Delete(h)
	}
	var errs []error
	if r.shared != nil {
		if err := r.shared.Delete(ctx, hosts...); err != nil {
			errs = append(errs, fmt.Errorf("shared cache delete: %w", err))
		}
	}
	if r.invalidations != nil {
		if err := r.invalidations.Publish(ctx, name); err != nil {
			errs = append(errs, fmt.Errorf("publish invalidation: %w", err))
		}
	}
	r.log.Info("resolver cache invalidated", "host", name)
	return errors.Join(errs...)
}

// Clear drops every cached resolution.
func (r *Resolver) Clear(ctx context.Context) error {
	r.cache.Clear()
	var errs []error
	if r.shared != nil {
		if err := r.shared.Clear(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shared cache clear: %w", err))
		}
	}
	if r.invalidations != nil {
		if err := r.invalidations.Publish(ctx, clearAllMessage); err != nil {
			errs = append(errs, fmt.Errorf("publish invalidation: %w", err))
		}
	}
	r.log.Info("resolver cache cleared")
	return errors.Join(errs...)
}

// Listen applies invalidations published by other replicas to the local cache until ctx is done.
func (r *Resolver) Listen(ctx context.Context) error {
	if r.invalidations == nil {
		return nil
	}
	return r.invalidations.Subscribe(ctx, func(host string) {
		if host == clearAllMessage {
			r.cache.Clear()
			return
		}
		r.cache.Delete(host)
		r.cache.Delete("www." + host)
	})
}

func (r *Resolver) sharedGet(ctx context.Context, host string) (Entry, bool) {
	if r.shared == nil {
		return Entry{}, false
	}
	ctx, cancel := context.WithTimeout(ctx, sharedCacheTimeout)
	defer cancel()
	entry, ok, err := r.shared.Get(ctx, host)
	if err != nil {
		r.log.Warn("shared cache read failed", "host", host, "error", err)
		return Entry{}, false
	}
	if !ok || r.clock().Sub(entry.StoredAt) >= r.ttl {
		return Entry{}, false
	}
	return entry, true
}

func (r *Resolver) sharedSet(ctx context.Context, host string, entry Entry) {
	if r.shared == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, sharedCacheTimeout)
	defer cancel()
	if err := r.shared.Set(ctx, host, entry, r.ttl); err != nil {
		r.log.Warn("shared cache write failed", "host", host, "error", err)
	}
}

func resolutionFrom(host hostname.Host, entry Entry, source string) Resolution {
	return Resolution{Host: host, TenantID: entry.TenantID, Found: entry.Found, Source: source}
}

func outcome(found bool) string {
	if found {
		return "found"
	}
	return "not_found"
}
