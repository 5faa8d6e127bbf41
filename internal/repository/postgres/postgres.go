package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/splax/tenantedge/internal/domain"
	"github.com/splax/tenantedge/internal/repository"
)

// Repository implements persistence interfaces on PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// New constructs a Repository.
func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// ensure Repository satisfies interfaces.
var (
	_ repository.TenantRepository       = (*Repository)(nil)
	_ repository.ZoneRepository         = (*Repository)(nil)
	_ repository.VerificationRepository = (*Repository)(nil)
	_ repository.BindingRepository      = (*Repository)(nil)
	_ repository.RecordRepository       = (*Repository)(nil)
)

const tenantColumns = `id, slug, custom_domain, active, created_at, updated_at`

// GetTenantByID fetches a tenant by identifier.
func (r *Repository) GetTenantByID(ctx context.Context, id string) (*domain.Tenant, error) {
	const query = `SELECT ` + tenantColumns + ` FROM tenants WHERE id = $1`
	return scanTenant(r.pool.QueryRow(ctx, query, id))
}

// GetTenantBySlug fetches a tenant by its subdomain label.
func (r *Repository) GetTenantBySlug(ctx context.Context, slug string) (*domain.Tenant, error) {
	const query = `SELECT ` + tenantColumns + ` FROM tenants WHERE slug = $1`
	return scanTenant(r.pool.QueryRow(ctx, query, slug))
}

// FindTenantByCustomDomain fetches the tenant claiming domain.
func (r *Repository) FindTenantByCustomDomain(ctx context.Context, name string) (*domain.Tenant, error) {
	const query = `SELECT ` + tenantColumns + ` FROM tenants WHERE lower(custom_domain) = lower($1)`
	return scanTenant(r.pool.QueryRow(ctx, query, name))
}

// SetCustomDomain binds or clears the tenant's custom domain.
func (r *Repository) SetCustomDomain(ctx context.Context, tenantID string, name *string) error {
	const query = `UPDATE tenants SET custom_domain = $2, updated_at = NOW() WHERE id = $1`
	tag, err := r.pool.Exec(ctx, query, tenantID, name)
	if err != nil {
		return mapWriteError(err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func scanTenant(row pgx.Row) (*domain.Tenant, error) {
	var t domain.Tenant
	if err := row.Scan(&t.ID, &t.Slug, &t.CustomDomain, &t.Active, &t.CreatedAt, &t.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return &t, nil
}

const zoneColumns = `id, tenant_id, domain, status, provider_id, nameservers, verification_attempts,
	last_verification_at, activated_at, created_at, updated_at`

// CreateZone inserts a zone. A zone already registered for the domain yields ErrConflict.
func (r *Repository) CreateZone(ctx context.Context, zone *domain.DomainZone) error {
	if zone == nil {
		return fmt.Errorf("zone required")
	}
	const query = `INSERT INTO dns_zones (id, tenant_id, domain, status, provider_id, nameservers, verification_attempts)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at, updated_at`
	nameservers := zone.Nameservers
	if nameservers == nil {
		nameservers = []string{}
	}
	err := r.pool.QueryRow(ctx, query,
		zone.ID,
		zone.TenantID,
		zone.Domain,
		string(zone.Status),
		zone.ProviderID,
		nameservers,
		zone.VerificationAttempts,
	).Scan(&zone.CreatedAt, &zone.UpdatedAt)
	if err != nil {
		return mapWriteError(err)
	}
	return nil
}

// GetZoneByDomain fetches the zone registered for domain.
func (r *Repository) GetZoneByDomain(ctx context.Context, name string) (*domain.DomainZone, error) {
	const query = `SELECT ` + zoneColumns + ` FROM dns_zones WHERE domain = $1`
	zone, err := scanZone(r.pool.QueryRow(ctx, query, name))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return zone, nil
}

// ListZonesByTenant returns every zone a tenant has provisioned, newest first.
func (r *Repository) ListZonesByTenant(ctx context.Context, tenantID string) ([]domain.DomainZone, error) {
	const query = `SELECT ` + zoneColumns + ` FROM dns_zones WHERE tenant_id = $1 ORDER BY created_at DESC`
	return r.queryZones(ctx, query, tenantID)
}

// ListZonesByStatus returns zones in status ordered by (created_at, id).
func (r *Repository) ListZonesByStatus(ctx context.Context, status domain.ZoneStatus) ([]domain.DomainZone, error) {
	const query = `SELECT ` + zoneColumns + ` FROM dns_zones WHERE status = $1 ORDER BY created_at ASC, id ASC`
	return r.queryZones(ctx, query, string(status))
}

func (r *Repository) queryZones(ctx context.Context, query string, args ...any) ([]domain.DomainZone, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	zones := make([]domain.DomainZone, 0)
	for rows.Next() {
		zone, err := scanZone(rows)
		if err != nil {
			return nil, err
		}
		zones = append(zones, *zone)
	}
	return zones, rows.Err()
}

// UpdateZoneVerification records one verification outcome. The status guard keeps
// concurrent sweeps from reviving a zone that already reached a terminal state.
func (r *Repository) UpdateZoneVerification(ctx context.Context, update domain.ZoneVerificationUpdate) error {
	const query = `UPDATE dns_zones
		SET status = $2,
			verification_attempts = $3,
			last_verification_at = $4,
			activated_at = COALESCE($5, activated_at),
			updated_at = NOW()
		WHERE id = $1 AND status = 'verifying'`
	tag, err := r.pool.Exec(ctx, query,
		update.ZoneID,
		string(update.Status),
		update.Attempts,
		update.LastVerificationAt,
		update.ActivatedAt,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrStaleZone
	}
	return nil
}

// RetryZone resets a failed zone so verification starts over.
func (r *Repository) RetryZone(ctx context.Context, zone *domain.DomainZone) error {
	if zone == nil {
		return fmt.Errorf("zone required")
	}
	const query = `UPDATE dns_zones
		SET status = 'verifying',
			verification_attempts = 0,
			last_verification_at = NULL,
			activated_at = NULL,
			provider_id = $2,
			nameservers = $3,
			updated_at = NOW()
		WHERE id = $1 AND status = 'failed'
		RETURNING ` + zoneColumns
	nameservers := zone.Nameservers
	if nameservers == nil {
		nameservers = []string{}
	}
	updated, err := scanZone(r.pool.QueryRow(ctx, query, zone.ID, zone.ProviderID, nameservers))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return repository.ErrStaleZone
		}
		return err
	}
	*zone = *updated
	return nil
}

func scanZone(row pgx.Row) (*domain.DomainZone, error) {
	var (
		zone   domain.DomainZone
		status string
	)
	if err := row.Scan(
		&zone.ID,
		&zone.TenantID,
		&zone.Domain,
		&status,
		&zone.ProviderID,
		&zone.Nameservers,
		&zone.VerificationAttempts,
		&zone.LastVerificationAt,
		&zone.ActivatedAt,
		&zone.CreatedAt,
		&zone.UpdatedAt,
	); err != nil {
		return nil, err
	}
	zone.Status = domain.ZoneStatus(status)
	return &zone, nil
}

// UpsertVerification records a manual domain configuration, resetting its validity.
func (r *Repository) UpsertVerification(ctx context.Context, record *domain.DomainVerificationRecord) error {
	if record == nil {
		return fmt.Errorf("verification record required")
	}
	const query = `INSERT INTO domain_verifications (id, tenant_id, domain, is_valid, last_checked)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (tenant_id, domain) DO UPDATE
			SET is_valid = EXCLUDED.is_valid, last_checked = EXCLUDED.last_checked
		RETURNING id, created_at`
	err := r.pool.QueryRow(ctx, query,
		record.ID,
		record.TenantID,
		record.Domain,
		record.IsValid,
		record.LastChecked,
	).Scan(&record.ID, &record.CreatedAt)
	if err != nil {
		return mapWriteError(err)
	}
	return nil
}

// GetVerification fetches the manual record for a tenant domain.
func (r *Repository) GetVerification(ctx context.Context, tenantID, name string) (*domain.DomainVerificationRecord, error) {
	const query = `SELECT id, tenant_id, domain, is_valid, last_checked, created_at
		FROM domain_verifications WHERE tenant_id = $1 AND domain = $2`
	var rec domain.DomainVerificationRecord
	err := r.pool.QueryRow(ctx, query, tenantID, name).
		Scan(&rec.ID, &rec.TenantID, &rec.Domain, &rec.IsValid, &rec.LastChecked, &rec.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return &rec, nil
}

// ListVerificationsByTenant returns manual records for a tenant.
func (r *Repository) ListVerificationsByTenant(ctx context.Context, tenantID string) ([]domain.DomainVerificationRecord, error) {
	const query = `SELECT id, tenant_id, domain, is_valid, last_checked, created_at
		FROM domain_verifications WHERE tenant_id = $1 ORDER BY created_at DESC`
	rows, err := r.pool.Query(ctx, query, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := make([]domain.DomainVerificationRecord, 0)
	for rows.Next() {
		var rec domain.DomainVerificationRecord
		if err := rows.Scan(&rec.ID, &rec.TenantID, &rec.Domain, &rec.IsValid, &rec.LastChecked, &rec.CreatedAt); err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// MarkVerification stores a site check outcome.
func (r *Repository) MarkVerification(ctx context.Context, tenantID, name string, valid bool) error {
	const query = `UPDATE domain_verifications SET is_valid = $3, last_checked = $4
		WHERE tenant_id = $1 AND domain = $2`
	tag, err := r.pool.Exec(ctx, query, tenantID, name, valid, time.Now().UTC())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// FindBinding joins tenants against active zones first, then valid manual records.
// Both paths require the tenant's custom_domain to still name the domain.
func (r *Repository) FindBinding(ctx context.Context, name string) (*domain.DomainBinding, error) {
	const query = `SELECT t.id, 'zone' AS source
		FROM dns_zones z
		INNER JOIN tenants t ON t.id = z.tenant_id
		WHERE z.domain = $1 AND z.status = 'active' AND lower(t.custom_domain) = $1
		UNION ALL
		SELECT t.id, 'manual' AS source
		FROM domain_verifications v
		INNER JOIN tenants t ON t.id = v.tenant_id
		WHERE v.domain = $1 AND v.is_valid AND lower(t.custom_domain) = $1
		LIMIT 1`
	var (
		binding = domain.DomainBinding{Domain: name}
		source  string
	)
	if err := r.pool.QueryRow(ctx, query, name).Scan(&binding.TenantID, &source); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	binding.Source = domain.BindingSource(source)
	return &binding, nil
}

const recordColumns = `id, zone_id, record_type, name, value, priority, ttl, created_at`

// CreateRecord stores a record already accepted by the provider.
func (r *Repository) CreateRecord(ctx context.Context, record *domain.DNSRecord) error {
	if record == nil {
		return fmt.Errorf("record required")
	}
	const query = `INSERT INTO dns_records (id, zone_id, record_type, name, value, priority, ttl)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at`
	err := r.pool.QueryRow(ctx, query,
		record.ID,
		record.ZoneID,
		string(record.Type),
		record.Name,
		record.Value,
		record.Priority,
		record.TTL,
	).Scan(&record.CreatedAt)
	if err != nil {
		return mapWriteError(err)
	}
	return nil
}

// ListRecords returns a zone's records, newest first.
func (r *Repository) ListRecords(ctx context.Context, zoneID string) ([]domain.DNSRecord, error) {
	const query = `SELECT ` + recordColumns + ` FROM dns_records WHERE zone_id = $1 ORDER BY created_at DESC`
	rows, err := r.pool.Query(ctx, query, zoneID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := make([]domain.DNSRecord, 0)
	for rows.Next() {
		var (
			rec        domain.DNSRecord
			recordType string
		)
		if err := rows.Scan(&rec.ID, &rec.ZoneID, &recordType, &rec.Name, &rec.Value, &rec.Priority, &rec.TTL, &rec.CreatedAt); err != nil {
			return nil, err
		}
		rec.Type = domain.RecordType(recordType)
		records = append(records, rec)
	}
	return records, rows.Err()
}

func mapWriteError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505":
			return fmt.Errorf("%w: %s", repository.ErrConflict, pgErr.ConstraintName)
		case "23503":
			return repository.ErrNotFound
		}
	}
	return err
}
