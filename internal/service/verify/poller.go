// Package verify advances custom-domain zones from verifying to active or failed by
// checking whether the registrar has delegated them to the provider's nameservers.
package verify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/splax/tenantedge/internal/domain"
	"github.com/splax/tenantedge/internal/nscheck"
	"github.com/splax/tenantedge/internal/repository"
)

const (
	defaultMaxAttempts   = 288
	defaultInterval      = 5 * time.Minute
	defaultZoneDelay     = time.Second
	defaultLookupTimeout = 5 * time.Second
	defaultLockTTL       = 10 * time.Minute
)

// Outcome classifies what one verification attempt did to a zone.
type Outcome string

const (
	OutcomeActivated Outcome = "activated"
	OutcomePending   Outcome = "pending"
	OutcomeFailed    Outcome = "failed"
	// OutcomeErrored means the lookup itself failed; the zone was left untouched.
	OutcomeErrored Outcome = "errored"
	// OutcomeStale means another sweep moved the zone first.
	OutcomeStale Outcome = "stale"
	// OutcomeTerminal means the zone was already active or failed.
	OutcomeTerminal Outcome = "terminal"
)

// Summary reports one sweep.
type Summary struct {
	Verified int  `json:"verified"`
	Failed   int  `json:"failed"`
	Pending  int  `json:"pending"`
	Errored  int  `json:"errored"`
	Total    int  `json:"total"`
	Skipped  bool `json:"skipped,omitempty"`
}

// Transition is emitted whenever a zone leaves verifying.
type Transition struct {
	Zone domain.DomainZone
	From domain.ZoneStatus
	To   domain.ZoneStatus
}

// Listener reacts to zone transitions.
type Listener interface {
	ZoneTransitioned(ctx context.Context, t Transition)
}

// ListenerFunc adapts a function to Listener.
type ListenerFunc func(ctx context.Context, t Transition)

// ZoneTransitioned implements Listener.
func (f ListenerFunc) ZoneTransitioned(ctx context.Context, t Transition) { f(ctx, t) }

// Settings tunes the poller.
type Settings struct {
	// Signature is matched as a substring of the NS answers, e.g. "digitalocean.com".
	Signature     string
	MaxAttempts   int
	Interval      time.Duration
	// ZoneDelay spaces consecutive lookups. Zero disables pacing.
	ZoneDelay     time.Duration
	LookupTimeout time.Duration
	LockTTL       time.Duration
}

// Poller runs nameserver verification sweeps.
type Poller struct {
	zones     repository.ZoneRepository
	checker   nscheck.Checker
	lock      LeaderLock
	listeners []Listener
	metrics   *Metrics
	logger    *slog.Logger

	settings Settings
	limiter  *rate.Limiter
	running  sync.Mutex
	// resumeAfter is the list position of the last zone handled by an interrupted sweep;
	// guarded by running.
	resumeAfter *sweepCursor

	now func() time.Time
}

// Option customises a Poller.
type Option func(*Poller)

// WithLeaderLock gates sweeps across replicas.
func WithLeaderLock(lock LeaderLock) Option {
	return func(p *Poller) { p.lock = lock }
}

// WithListeners registers transition listeners.
func WithListeners(listeners ...Listener) Option {
	return func(p *Poller) { p.listeners = append(p.listeners, listeners...) }
}

// WithMetrics records outcomes on m.
func WithMetrics(m *Metrics) Option {
	return func(p *Poller) { p.metrics = m }
}

// WithClock injects the time source stamped on verification attempts.
func WithClock(now func() time.Time) Option {
	return func(p *Poller) { p.now = now }
}

// New constructs a poller.
func New(zones repository.ZoneRepository, checker nscheck.Checker, settings Settings, logger *slog.Logger, opts ...Option) *Poller {
	if settings.MaxAttempts <= 0 {
		settings.MaxAttempts = defaultMaxAttempts
	}
	if settings.Interval <= 0 {
		settings.Interval = defaultInterval
	}
	if settings.ZoneDelay < 0 {
		settings.ZoneDelay = defaultZoneDelay
	}
	if settings.LookupTimeout <= 0 {
		settings.LookupTimeout = defaultLookupTimeout
	}
	if settings.LockTTL <= 0 {
		settings.LockTTL = defaultLockTTL
	}
	if logger == nil {
		logger = slog.Default()
	}

	limit := rate.Inf
	if settings.ZoneDelay > 0 {
		limit = rate.Every(settings.ZoneDelay)
	}
	p := &Poller{
		zones:    zones,
		checker:  checker,
		logger:   logger.With("component", "verifier"),
		settings: settings,
		limiter:  rate.NewLimiter(limit, 1),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// AddListener registers l after construction.
func (p *Poller) AddListener(l Listener) {
	p.listeners = append(p.listeners, l)
}

// Run sweeps on every interval tick until ctx is cancelled.
func (p *Poller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.settings.Interval)
	defer ticker.Stop()

	p.logger.Info("nameserver verifier started", "interval", p.settings.Interval, "max_attempts", p.settings.MaxAttempts)
	p.runIteration(ctx)

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("nameserver verifier stopped")
			return
		case <-ticker.C:
			p.runIteration(ctx)
		}
	}
}

func (p *Poller) runIteration(parent context.Context) {
	opCtx, cancel := context.WithTimeout(parent, p.settings.LockTTL)
	defer cancel()
	if _, err := p.Sweep(opCtx); err != nil && !errors.Is(err, context.Canceled) {
		p.logger.Warn("verification sweep failed", "error", err)
	}
}

// Sweep checks every verifying zone once, sequentially, pacing DNS queries by the
// configured zone delay. Overlapping calls return a skipped summary. A sweep cut short
// by ctx is resumed by the next one after the last zone it handled, so a backlog
// larger than one LockTTL of pacing still reaches every zone.
func (p *Poller) Sweep(ctx context.Context) (Summary, error) {
	if !p.running.TryLock() {
		p.logger.Info("verification sweep already running in this process")
		return Summary{Skipped: true}, nil
	}
	defer p.running.Unlock()

	if p.lock != nil {
		release, acquired, err := p.lock.Acquire(ctx, p.settings.LockTTL)
		if err != nil {
			return Summary{}, fmt.Errorf("acquire sweep lock: %w", err)
		}
		if !acquired {
			p.logger.Info("verification sweep held by another replica")
			return Summary{Skipped: true}, nil
		}
		defer release()
	}

	started := time.Now()
	zones, err := p.zones.ListZonesByStatus(ctx, domain.ZoneVerifying)
	if err != nil {
		return Summary{}, fmt.Errorf("list verifying zones: %w", err)
	}

	zones = resumeOrder(zones, p.resumeAfter)
	summary := Summary{Total: len(zones)}
	for i, zone := range zones {
		if err := p.limiter.Wait(ctx); err != nil {
			if i > 0 {
				p.resumeAfter = cursorOf(zones[i-1])
			}
			resumeID := ""
			if p.resumeAfter != nil {
				resumeID = p.resumeAfter.id
			}
			p.logger.Warn("verification sweep interrupted, resuming on next tick",
				"processed", i, "remaining", len(zones)-i, "resume_after", resumeID)
			return summary, fmt.Errorf("sweep interrupted: %w", err)
		}
		switch p.verify(ctx, zone) {
		case OutcomeActivated:
			summary.Verified++
		case OutcomeFailed:
			summary.Failed++
		case OutcomePending:
			summary.Pending++
		case OutcomeErrored:
			summary.Errored++
		}
	}

	p.resumeAfter = nil
	p.metrics.observeSweep(time.Since(started))
	p.logger.Info("verification sweep complete",
		"total", summary.Total,
		"verified", summary.Verified,
		"failed", summary.Failed,
		"pending", summary.Pending,
		"errored", summary.Errored,
		"duration_ms", time.Since(started).Milliseconds(),
	)
	return summary, nil
}

// sweepCursor is a position in the (created_at, id) order zones are listed in.
type sweepCursor struct {
	createdAt time.Time
	id        string
}

func cursorOf(z domain.DomainZone) *sweepCursor {
	return &sweepCursor{createdAt: z.CreatedAt, id: z.ID}
}

// before reports whether c sorts strictly before z.
func (c *sweepCursor) before(z domain.DomainZone) bool {
	if !c.createdAt.Equal(z.CreatedAt) {
		return c.createdAt.Before(z.CreatedAt)
	}
	return c.id < z.ID
}

// resumeOrder rotates zones, listed by (created_at, id), so the first zone after the
// cursor comes first. The cursor zone itself need not be in the list any more, since it
// usually left verifying when it was checked. Past the end, the list starts over.
func resumeOrder(zones []domain.DomainZone, after *sweepCursor) []domain.DomainZone {
	if after == nil {
		return zones
	}
	for i, z := range zones {
		if after.before(z) {
			out := make([]domain.DomainZone, 0, len(zones))
			out = append(out, zones[i:]...)
			return append(out, zones[:i]...)
		}
	}
	return zones
}

// VerifyZone checks a single zone on demand. A zone that already failed returns
// domain.ErrVerificationExhausted together with the zone.
func (p *Poller) VerifyZone(ctx context.Context, name string) (*domain.DomainZone, Outcome, error) {
	zone, err := p.zones.GetZoneByDomain(ctx, name)
	if err != nil {
		return nil, "", err
	}
	outcome := OutcomeTerminal
	if zone.Status == domain.ZoneVerifying {
		outcome = p.verify(ctx, *zone)
		if refreshed, err := p.zones.GetZoneByDomain(ctx, name); err == nil {
			zone = refreshed
		}
	}
	if zone.Status == domain.ZoneFailed {
		return zone, outcome, domain.NewError(domain.CodeVerificationExhausted,
			fmt.Sprintf("%s was not delegated after %d attempts; recheck the registrar nameserver configuration", zone.Domain, zone.VerificationAttempts), nil)
	}
	return zone, outcome, nil
}

func (p *Poller) verify(ctx context.Context, zone domain.DomainZone) Outcome {
	log := p.logger.With("zone_id", zone.ID, "domain", zone.Domain)
	if zone.Status.IsTerminal() {
		return OutcomeTerminal
	}

	lookupCtx, cancel := context.WithTimeout(ctx, p.settings.LookupTimeout)
	answer, err := p.checker.LookupNS(lookupCtx, zone.Domain)
	cancel()
	if err != nil {
		log.Warn("nameserver lookup failed", "error", err)
		p.metrics.observe(OutcomeErrored)
		return OutcomeErrored
	}

	now := p.now().UTC()
	update := domain.ZoneVerificationUpdate{
		ZoneID:             zone.ID,
		Status:             domain.ZoneVerifying,
		Attempts:           zone.VerificationAttempts,
		LastVerificationAt: now,
	}
	outcome := OutcomePending
	switch {
	case answer.OK() && answer.Matches(p.settings.Signature, zone.Nameservers):
		update.Status = domain.ZoneActive
		update.ActivatedAt = &now
		outcome = OutcomeActivated
	case answer.NXDomain() || answer.OK():
		update.Attempts++
		if update.Attempts >= p.settings.MaxAttempts {
			update.Status = domain.ZoneFailed
			outcome = OutcomeFailed
		}
	default:
		log.Warn("nameserver lookup returned an unexpected status", "dns_status", answer.Status)
		p.metrics.observe(OutcomeErrored)
		return OutcomeErrored
	}

	if update.Status != zone.Status && !zone.Status.CanTransitionTo(update.Status) {
		log.Error("refusing illegal zone transition", "from", zone.Status, "to", update.Status, "known_status", zone.Status.IsValid())
		p.metrics.observe(OutcomeTerminal)
		return OutcomeTerminal
	}
	if err := p.zones.UpdateZoneVerification(ctx, update); err != nil {
		if errors.Is(err, repository.ErrStaleZone) {
			log.Info("zone already left verifying, skipping")
			p.metrics.observe(OutcomeStale)
			return OutcomeStale
		}
		log.Error("failed to record verification attempt", "error", err)
		p.metrics.observe(OutcomeErrored)
		return OutcomeErrored
	}
	p.metrics.observe(outcome)

	switch outcome {
	case OutcomeActivated:
		log.Info("zone activated", "attempts", update.Attempts, "answers", answer.Records)
	case OutcomeFailed:
		log.Warn("zone verification exhausted", "attempts", update.Attempts)
	default:
		log.Debug("zone not delegated yet", "attempts", update.Attempts, "dns_status", answer.Status, "answers", answer.Records)
	}

	if update.Status != domain.ZoneVerifying {
		zone.Status = update.Status
		zone.VerificationAttempts = update.Attempts
		zone.LastVerificationAt = &now
		zone.ActivatedAt = update.ActivatedAt
		p.notify(ctx, Transition{Zone: zone, From: domain.ZoneVerifying, To: update.Status})
	}
	return outcome
}

func (p *Poller) notify(ctx context.Context, t Transition) {
	for _, l := range p.listeners {
		l.ZoneTransitioned(ctx, t)
	}
}
