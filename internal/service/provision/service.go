// Package provision registers tenant custom domains, either as a provider-hosted zone
// awaiting nameserver delegation or as a manually configured domain.
package provision

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/splax/tenantedge/internal/dnsprovider"
	"github.com/splax/tenantedge/internal/domain"
	"github.com/splax/tenantedge/internal/hostname"
	"github.com/splax/tenantedge/internal/repository"
)

// Settings carries platform constants used while provisioning.
type Settings struct {
	BaseDomain      string
	IngressIP       string
	ProviderTimeout time.Duration
	VerifyInterval  time.Duration
	MaxAttempts     int
}

// Result is returned by Provision and Configure.
type Result struct {
	ZoneID       string       `json:"zone_id,omitempty"`
	Domain       string       `json:"domain"`
	Nameservers  []string     `json:"nameservers,omitempty"`
	Records      []DNSRecord  `json:"records,omitempty"`
	Manual       bool         `json:"manual"`
	Instructions Instructions `json:"instructions"`
}

// Service orchestrates custom-domain provisioning.
type Service struct {
	tenants       repository.TenantRepository
	zones         repository.ZoneRepository
	verifications repository.VerificationRepository
	records       repository.RecordRepository
	provider      dnsprovider.Provider
	settings      Settings
	logger        *slog.Logger
	now           func() time.Time
}

// New returns a provisioning service. A nil provider routes every request to the manual path.
func New(
	tenants repository.TenantRepository,
	zones repository.ZoneRepository,
	verifications repository.VerificationRepository,
	records repository.RecordRepository,
	provider dnsprovider.Provider,
	settings Settings,
	logger *slog.Logger,
) *Service {
	if settings.ProviderTimeout <= 0 {
		settings.ProviderTimeout = 15 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		tenants:       tenants,
		zones:         zones,
		verifications: verifications,
		records:       records,
		provider:      provider,
		settings:      settings,
		logger:        logger.With("component", "provisioner"),
		now:           time.Now,
	}
}

// Provision creates a provider zone for rawDomain and records it as verifying.
// No zone row is written unless the provider zone exists. A zone of the same tenant
// whose verification failed is reset and verified from scratch.
func (s *Service) Provision(ctx context.Context, tenantID, rawDomain string) (*Result, error) {
	if s.provider == nil {
		s.logger.Warn("dns provider not configured, using manual configuration", "tenant_id", tenantID)
		return s.Configure(ctx, tenantID, rawDomain)
	}

	name, failed, err := s.prepare(ctx, tenantID, rawDomain, true)
	if err != nil {
		return nil, err
	}
	log := s.logger.With("tenant_id", tenantID, "domain", name, "provider", s.provider.Name())

	var zone *domain.DomainZone
	if failed != nil {
		zone, err = s.restart(ctx, *failed, log)
	} else {
		zone, err = s.create(ctx, tenantID, name, log)
	}
	if err != nil {
		return nil, err
	}

	if err := s.tenants.SetCustomDomain(ctx, tenantID, &name); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return nil, domain.NewError(domain.CodeDuplicateDomain, name+" is already in use by another tenant", err)
		}
		return nil, fmt.Errorf("bind custom domain: %w", err)
	}

	log.Info("zone provisioned", "zone_id", zone.ID, "nameservers", zone.Nameservers, "retry", failed != nil)
	return &Result{
		ZoneID:       zone.ID,
		Domain:       name,
		Nameservers:  zone.Nameservers,
		Instructions: nameserverInstructions(zone.Nameservers, s.settings.VerifyInterval),
	}, nil
}

func (s *Service) create(ctx context.Context, tenantID, name string, log *slog.Logger) (*domain.DomainZone, error) {
	pctx, cancel := context.WithTimeout(ctx, s.settings.ProviderTimeout)
	defer cancel()

	zone, err := s.provider.CreateZone(pctx, name, s.settings.IngressIP)
	if err != nil {
		if zone.ProviderID != "" {
			s.deleteProviderZone(ctx, zone, log)
		}
		log.Error("provider zone creation failed", "error", err)
		msg := "the DNS provider rejected the zone for " + name
		if errors.Is(err, dnsprovider.ErrZoneExists) {
			msg = name + " is already hosted at the DNS provider"
		}
		return nil, domain.NewError(domain.CodeProviderError, msg, err)
	}
	s.addSupportingRecords(pctx, zone, log)

	record := &domain.DomainZone{
		ID:                   uuid.NewString(),
		TenantID:             tenantID,
		Domain:               name,
		Status:               domain.ZoneVerifying,
		ProviderID:           zone.ProviderID,
		Nameservers:          zone.Nameservers,
		VerificationAttempts: 0,
		CreatedAt:            s.now().UTC(),
	}
	if err := s.zones.CreateZone(ctx, record); err != nil {
		log.Error("zone persistence failed after provider zone was created", "error", err)
		s.deleteProviderZone(ctx, zone, log)
		if errors.Is(err, repository.ErrConflict) {
			return nil, domain.NewError(domain.CodeDuplicateDomain, name+" is already registered", err)
		}
		return nil, fmt.Errorf("persist zone: %w", err)
	}
	return record, nil
}

// restart resets a failed zone to verifying. The provider zone is recreated when it was
// removed and reused when it still exists. A recreated zone with a new provider id
// replaces the previous one, which is deleted.
func (s *Service) restart(ctx context.Context, failed domain.DomainZone, log *slog.Logger) (*domain.DomainZone, error) {
	pctx, cancel := context.WithTimeout(ctx, s.settings.ProviderTimeout)
	defer cancel()

	zone, err := s.provider.CreateZone(pctx, failed.Domain, s.settings.IngressIP)
	created := err == nil
	switch {
	case created:
		s.addSupportingRecords(pctx, zone, log)
	case errors.Is(err, dnsprovider.ErrZoneExists):
		log.Info("provider zone still exists, reusing it", "provider_id", failed.ProviderID)
		zone = dnsprovider.Zone{Domain: failed.Domain, ProviderID: failed.ProviderID, Nameservers: failed.Nameservers}
	default:
		if zone.ProviderID != "" {
			s.deleteProviderZone(ctx, zone, log)
		}
		log.Error("provider zone creation failed", "error", err)
		return nil, domain.NewError(domain.CodeProviderError, "the DNS provider rejected the zone for "+failed.Domain, err)
	}

	reset := &domain.DomainZone{ID: failed.ID, ProviderID: zone.ProviderID, Nameservers: zone.Nameservers}
	if err := s.zones.RetryZone(ctx, reset); err != nil {
		if created {
			s.deleteProviderZone(ctx, zone, log)
		}
		if errors.Is(err, repository.ErrStaleZone) {
			return nil, domain.NewError(domain.CodeDuplicateDomain, failed.Domain+" is already provisioned for this tenant", err)
		}
		return nil, fmt.Errorf("reset zone: %w", err)
	}
	// Providers that allow duplicate zones hand out a new zone; the old one would stay
	// hosted with its own nameservers, so it must not outlive the reset.
	if created && failed.ProviderID != "" && zone.ProviderID != failed.ProviderID {
		s.deleteProviderZone(ctx, dnsprovider.Zone{Domain: failed.Domain, ProviderID: failed.ProviderID, Nameservers: failed.Nameservers}, log)
	}
	log.Info("failed zone reset to verifying", "zone_id", reset.ID, "previous_attempts", failed.VerificationAttempts)
	return reset, nil
}

func (s *Service) addSupportingRecords(ctx context.Context, zone dnsprovider.Zone, log *slog.Logger) {
	for _, rec := range dnsprovider.SupportingRecords(s.settings.BaseDomain) {
		if err := s.provider.AddRecord(ctx, zone, rec); err != nil {
			log.Warn("supporting record not created", "type", rec.Type, "name", rec.Name, "error", err)
		}
	}
}

// Configure binds rawDomain without a provider zone. The tenant creates the DNS records
// themselves and the domain serves traffic once a site check marks it valid.
func (s *Service) Configure(ctx context.Context, tenantID, rawDomain string) (*Result, error) {
	name, _, err := s.prepare(ctx, tenantID, rawDomain, false)
	if err != nil {
		return nil, err
	}

	if err := s.tenants.SetCustomDomain(ctx, tenantID, &name); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return nil, domain.NewError(domain.CodeDuplicateDomain, name+" is already in use by another tenant", err)
		}
		return nil, fmt.Errorf("bind custom domain: %w", err)
	}
	record := &domain.DomainVerificationRecord{
		ID:       uuid.NewString(),
		TenantID: tenantID,
		Domain:   name,
		IsValid:  false,
	}
	if err := s.verifications.UpsertVerification(ctx, record); err != nil {
		return nil, fmt.Errorf("record manual verification: %w", err)
	}

	records := manualRecords(s.settings.BaseDomain, s.settings.IngressIP)
	s.logger.Info("custom domain configured manually", "tenant_id", tenantID, "domain", name)
	return &Result{
		Domain:       name,
		Records:      records,
		Manual:       true,
		Instructions: manualInstructions(name, records),
	}, nil
}

// prepare normalizes and validates rawDomain and checks every precondition in order.
// With allowRetry, the tenant's own failed zone is returned instead of a conflict.
func (s *Service) prepare(ctx context.Context, tenantID, rawDomain string, allowRetry bool) (string, *domain.DomainZone, error) {
	name := hostname.Normalize(rawDomain)
	if err := hostname.Validate(name, s.settings.BaseDomain); err != nil {
		return "", nil, err
	}

	if strings.TrimSpace(tenantID) == "" {
		return "", nil, domain.NewError(domain.CodeTenantNotFound, "tenant id is required", nil)
	}
	tenant, err := s.tenants.GetTenantByID(ctx, tenantID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return "", nil, domain.NewError(domain.CodeTenantNotFound, "tenant "+tenantID+" does not exist", err)
		}
		return "", nil, fmt.Errorf("load tenant: %w", err)
	}
	if !tenant.Active {
		return "", nil, domain.NewError(domain.CodeTenantInactive, "tenant "+tenantID+" is not active", nil)
	}

	failed, err := s.ensureAvailable(ctx, tenantID, name, allowRetry)
	if err != nil {
		return "", nil, err
	}
	return name, failed, nil
}

func (s *Service) ensureAvailable(ctx context.Context, tenantID, name string, allowRetry bool) (*domain.DomainZone, error) {
	var failed *domain.DomainZone
	zone, err := s.zones.GetZoneByDomain(ctx, name)
	switch {
	case err == nil:
		if zone.TenantID != tenantID {
			return nil, domain.NewError(domain.CodeDuplicateDomain, name+" is already in use by another tenant", nil)
		}
		if !allowRetry || !zone.Status.CanTransitionTo(domain.ZoneVerifying) {
			return nil, domain.NewError(domain.CodeDuplicateDomain, name+" is already provisioned for this tenant", nil)
		}
		failed = zone
	case !errors.Is(err, repository.ErrNotFound):
		return nil, fmt.Errorf("check existing zone: %w", err)
	}

	owner, err := s.tenants.FindTenantByCustomDomain(ctx, name)
	switch {
	case err == nil:
		if owner.ID != tenantID {
			return nil, domain.NewError(domain.CodeDuplicateDomain, name+" is already in use by another tenant", nil)
		}
	case !errors.Is(err, repository.ErrNotFound):
		return nil, fmt.Errorf("check domain owner: %w", err)
	}
	return failed, nil
}

func (s *Service) deleteProviderZone(ctx context.Context, zone dnsprovider.Zone, log *slog.Logger) {
	dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.settings.ProviderTimeout)
	defer cancel()
	if err := s.provider.DeleteZone(dctx, zone); err != nil {
		log.Error("orphaned provider zone could not be deleted", "provider_id", zone.ProviderID, "error", err)
		return
	}
	log.Info("provider zone rolled back", "provider_id", zone.ProviderID)
}
