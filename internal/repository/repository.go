package repository

import (
	"context"

	"github.com/splax/tenantedge/internal/domain"
)

// TenantRepository reads and binds tenants.
type TenantRepository interface {
	GetTenantByID(ctx context.Context, id string) (*domain.Tenant, error)
	GetTenantBySlug(ctx context.Context, slug string) (*domain.Tenant, error)
	// FindTenantByCustomDomain returns the tenant whose custom_domain equals domain, active or not.
	FindTenantByCustomDomain(ctx context.Context, domain string) (*domain.Tenant, error)
	SetCustomDomain(ctx context.Context, tenantID string, domain *string) error
}

// ZoneRepository persists provider-managed DNS zones.
type ZoneRepository interface {
	CreateZone(ctx context.Context, zone *domain.DomainZone) error
	GetZoneByDomain(ctx context.Context, domain string) (*domain.DomainZone, error)
	ListZonesByTenant(ctx context.Context, tenantID string) ([]domain.DomainZone, error)
	ListZonesByStatus(ctx context.Context, status domain.ZoneStatus) ([]domain.DomainZone, error)
	// UpdateZoneVerification applies update only while the zone is still verifying.
	// It returns ErrStaleZone when the zone already left that state.
	UpdateZoneVerification(ctx context.Context, update domain.ZoneVerificationUpdate) error
	// RetryZone resets a failed zone to verifying with zero attempts and the given provider
	// details. It returns ErrStaleZone when the zone is not failed.
	RetryZone(ctx context.Context, zone *domain.DomainZone) error
}

// RecordRepository persists tenant-managed records of active zones.
type RecordRepository interface {
	CreateRecord(ctx context.Context, record *domain.DNSRecord) error
	ListRecords(ctx context.Context, zoneID string) ([]domain.DNSRecord, error)
}

// VerificationRepository persists manually configured domains.
type VerificationRepository interface {
	UpsertVerification(ctx context.Context, record *domain.DomainVerificationRecord) error
	GetVerification(ctx context.Context, tenantID, domain string) (*domain.DomainVerificationRecord, error)
	ListVerificationsByTenant(ctx context.Context, tenantID string) ([]domain.DomainVerificationRecord, error)
	MarkVerification(ctx context.Context, tenantID, domain string, valid bool) error
}

// BindingRepository answers host lookups for tenant resolution.
type BindingRepository interface {
	// FindBinding returns the tenant bound to a custom domain through an active zone or a
	// valid manual verification. The tenant may be inactive; callers recheck.
	FindBinding(ctx context.Context, domain string) (*domain.DomainBinding, error)
}
