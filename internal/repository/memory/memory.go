// Package memory is an in-process repository used by tests and local development.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/splax/tenantedge/internal/domain"
	"github.com/splax/tenantedge/internal/repository"
)

// Store keeps tenants, zones, records and manual verifications in maps.
type Store struct {
	mu            sync.RWMutex
	tenants       map[string]domain.Tenant
	zones         map[string]domain.DomainZone
	records       []domain.DNSRecord
	verifications map[string]domain.DomainVerificationRecord
	now           func() time.Time
}

var (
	_ repository.TenantRepository       = (*Store)(nil)
	_ repository.ZoneRepository         = (*Store)(nil)
	_ repository.VerificationRepository = (*Store)(nil)
	_ repository.BindingRepository      = (*Store)(nil)
	_ repository.RecordRepository       = (*Store)(nil)
)

// New returns an empty store.
func New() *Store {
	return &Store{
		tenants:       make(map[string]domain.Tenant),
		zones:         make(map[string]domain.DomainZone),
		verifications: make(map[string]domain.DomainVerificationRecord),
		now:           time.Now,
	}
}

// PutTenant inserts or replaces a tenant.
func (s *Store) PutTenant(t domain.Tenant) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tenants[t.ID] = t
}

// PutZone inserts or replaces a zone without any guard.
func (s *Store) PutZone(z domain.DomainZone) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.zones[z.ID] = z
}

// Zone returns a copy of the zone registered for name.
func (s *Store) Zone(name string) (domain.DomainZone, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, z := range s.zones {
		if z.Domain == name {
			return z, true
		}
	}
	return domain.DomainZone{}, false
}

// ZoneCount reports how many zones exist.
func (s *Store) ZoneCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.zones)
}

func (s *Store) GetTenantByID(_ context.Context, id string) (*domain.Tenant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tenants[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &t, nil
}

func (s *Store) GetTenantBySlug(_ context.Context, slug string) (*domain.Tenant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, t := range s.tenants {
		if t.Slug == slug {
			return &t, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (s *Store) FindTenantByCustomDomain(_ context.Context, name string) (*domain.Tenant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, t := range s.tenants {
		if strings.EqualFold(t.CustomDomainValue(), name) {
			return &t, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (s *Store) SetCustomDomain(_ context.Context, tenantID string, name *string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tenants[tenantID]
	if !ok {
		return repository.ErrNotFound
	}
	if name != nil {
		for _, other := range s.tenants {
			if other.ID != tenantID && strings.EqualFold(other.CustomDomainValue(), *name) {
				return repository.ErrConflict
			}
		}
		v := *name
		name = &v
	}
	t.CustomDomain = name
	t.UpdatedAt = s.now().UTC()
	s.tenants[tenantID] = t
	return nil
}

func (s *Store) CreateZone(_ context.Context, zone *domain.DomainZone) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, z := range s.zones {
		if z.Domain == zone.Domain {
			return repository.ErrConflict
		}
	}
	if _, ok := s.tenants[zone.TenantID]; !ok {
		return repository.ErrNotFound
	}
	now := s.now().UTC()
	zone.CreatedAt, zone.UpdatedAt = now, now
	stored := *zone
	stored.Nameservers = append([]string(nil), zone.Nameservers...)
	s.zones[zone.ID] = stored
	return nil
}

func (s *Store) GetZoneByDomain(_ context.Context, name string) (*domain.DomainZone, error) {
	z, ok := s.Zone(name)
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &z, nil
}

func (s *Store) ListZonesByTenant(_ context.Context, tenantID string) ([]domain.DomainZone, error) {
	return s.listZones(func(z domain.DomainZone) bool { return z.TenantID == tenantID }), nil
}

func (s *Store) ListZonesByStatus(_ context.Context, status domain.ZoneStatus) ([]domain.DomainZone, error) {
	return s.listZones(func(z domain.DomainZone) bool { return z.Status == status }), nil
}

func (s *Store) listZones(keep func(domain.DomainZone) bool) []domain.DomainZone {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.DomainZone, 0)
	for _, z := range s.zones {
		if keep(z) {
			out = append(out, z)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

func (s *Store) UpdateZoneVerification(_ context.Context, update domain.ZoneVerificationUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	z, ok := s.zones[update.ZoneID]
	if !ok {
		return repository.ErrNotFound
	}
	if z.Status != domain.ZoneVerifying {
		return repository.ErrStaleZone
	}
	z.Status = update.Status
	z.VerificationAttempts = update.Attempts
	checked := update.LastVerificationAt
	z.LastVerificationAt = &checked
	if update.ActivatedAt != nil {
		activated := *update.ActivatedAt
		z.ActivatedAt = &activated
	}
	z.UpdatedAt = s.now().UTC()
	s.zones[z.ID] = z
	return nil
}

func (s *Store) RetryZone(_ context.Context, zone *domain.DomainZone) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	z, ok := s.zones[zone.ID]
	if !ok {
		return repository.ErrNotFound
	}
	if z.Status != domain.ZoneFailed {
		return repository.ErrStaleZone
	}
	z.Status = domain.ZoneVerifying
	z.VerificationAttempts = 0
	z.LastVerificationAt = nil
	z.ActivatedAt = nil
	z.ProviderID = zone.ProviderID
	z.Nameservers = append([]string(nil), zone.Nameservers...)
	z.UpdatedAt = s.now().UTC()
	s.zones[z.ID] = z
	*zone = z
	zone.Nameservers = append([]string(nil), z.Nameservers...)
	return nil
}

func (s *Store) CreateRecord(_ context.Context, record *domain.DNSRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.zones[record.ZoneID]; !ok {
		return repository.ErrNotFound
	}
	record.CreatedAt = s.now().UTC()
	stored := *record
	if record.Priority != nil {
		p := *record.Priority
		stored.Priority = &p
	}
	s.records = append(s.records, stored)
	return nil
}

// ListRecords returns a zone's records, newest first.
func (s *Store) ListRecords(_ context.Context, zoneID string) ([]domain.DNSRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.DNSRecord, 0)
	for i := len(s.records) - 1; i >= 0; i-- {
		if s.records[i].ZoneID == zoneID {
			out = append(out, s.records[i])
		}
	}
	return out, nil
}

func verificationKey(tenantID, name string) string { return tenantID + "|" + name }

func (s *Store) UpsertVerification(_ context.Context, record *domain.DomainVerificationRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := verificationKey(record.TenantID, record.Domain)
	if existing, ok := s.verifications[key]; ok {
		record.ID = existing.ID
		record.CreatedAt = existing.CreatedAt
	} else {
		record.CreatedAt = s.now().UTC()
	}
	s.verifications[key] = *record
	return nil
}

func (s *Store) GetVerification(_ context.Context, tenantID, name string) (*domain.DomainVerificationRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.verifications[verificationKey(tenantID, name)]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &rec, nil
}

func (s *Store) ListVerificationsByTenant(_ context.Context, tenantID string) ([]domain.DomainVerificationRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.DomainVerificationRecord, 0)
	for _, rec := range s.verifications {
		if rec.TenantID == tenantID {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Domain < out[j].Domain })
	return out, nil
}

func (s *Store) MarkVerification(_ context.Context, tenantID, name string, valid bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := verificationKey(tenantID, name)
	rec, ok := s.verifications[key]
	if !ok {
		return repository.ErrNotFound
	}
	checked := s.now().UTC()
	rec.IsValid = valid
	rec.LastChecked = &checked
	s.verifications[key] = rec
	return nil
}

// FindBinding mirrors the postgres join: an active zone or a valid manual record,
// and the tenant's custom_domain still naming the domain.
func (s *Store) FindBinding(_ context.Context, name string) (*domain.DomainBinding, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, z := range s.zones {
		if z.Domain != name {
			continue
		}
		if t, ok := s.tenants[z.TenantID]; ok && domain.BindingLive(domain.Tenant{ID: t.ID, CustomDomain: t.CustomDomain, Active: true}, &z) {
			return &domain.DomainBinding{Domain: name, TenantID: t.ID, Source: domain.BindingSourceZone}, nil
		}
	}
	for _, rec := range s.verifications {
		if rec.Domain != name || !rec.IsValid {
			continue
		}
		if t, ok := s.tenants[rec.TenantID]; ok && strings.EqualFold(t.CustomDomainValue(), name) {
			return &domain.DomainBinding{Domain: name, TenantID: t.ID, Source: domain.BindingSourceManual}, nil
		}
	}
	return nil, repository.ErrNotFound
}
