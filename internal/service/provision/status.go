package provision

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/splax/tenantedge/internal/domain"
	"github.com/splax/tenantedge/internal/repository"
)

// DomainStatus is one row of the admin domain-status view.
type DomainStatus struct {
	Domain        string     `json:"domain"`
	Kind          string     `json:"kind"`
	Status        string     `json:"status"`
	Attempts      int        `json:"attempts,omitempty"`
	MaxAttempts   int        `json:"max_attempts,omitempty"`
	Nameservers   []string   `json:"nameservers,omitempty"`
	LastCheckedAt *time.Time `json:"last_checked_at,omitempty"`
	ActivatedAt   *time.Time `json:"activated_at,omitempty"`
	Guidance      string     `json:"guidance"`
}

// Manual verification states.
const (
	ManualVerified = "verified"
	ManualFailed   = "failed"
	ManualPending  = "pending"
)

// Status lists a tenant's zones and manual domains with guidance for each state.
func (s *Service) Status(ctx context.Context, tenantID string) ([]DomainStatus, error) {
	if _, err := s.tenants.GetTenantByID(ctx, tenantID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, domain.NewError(domain.CodeTenantNotFound, "tenant "+tenantID+" does not exist", err)
		}
		return nil, fmt.Errorf("load tenant: %w", err)
	}

	zones, err := s.zones.ListZonesByTenant(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("list zones: %w", err)
	}
	records, err := s.verifications.ListVerificationsByTenant(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("list manual domains: %w", err)
	}

	out := make([]DomainStatus, 0, len(zones)+len(records))
	for _, z := range zones {
		out = append(out, s.zoneStatus(z))
	}
	for _, rec := range records {
		out = append(out, manualStatus(rec))
	}
	return out, nil
}

func (s *Service) zoneStatus(z domain.DomainZone) DomainStatus {
	st := DomainStatus{
		Domain:        z.Domain,
		Kind:          string(domain.BindingSourceZone),
		Status:        string(z.Status),
		Attempts:      z.VerificationAttempts,
		MaxAttempts:   s.settings.MaxAttempts,
		Nameservers:   z.Nameservers,
		LastCheckedAt: z.LastVerificationAt,
		ActivatedAt:   z.ActivatedAt,
	}
	switch z.Status {
	case domain.ZoneActive:
		st.Guidance = "Domain is live."
	case domain.ZoneFailed:
		st.Guidance = "Nameserver verification attempts exhausted. Recheck the nameserver configuration at your registrar, then provision the domain again."
	default:
		st.Guidance = fmt.Sprintf("Waiting for the registrar to delegate to %d nameservers. This is checked automatically every %s.",
			len(z.Nameservers), humanInterval(s.settings.VerifyInterval))
	}
	return st
}

func manualStatus(rec domain.DomainVerificationRecord) DomainStatus {
	st := DomainStatus{
		Domain:        rec.Domain,
		Kind:          string(domain.BindingSourceManual),
		LastCheckedAt: rec.LastChecked,
	}
	switch {
	case rec.IsValid:
		st.Status = ManualVerified
		st.Guidance = "Domain is live."
	case rec.LastChecked != nil:
		st.Status = ManualFailed
		st.Guidance = "The site did not answer on this domain. Check the DNS records and run the check again."
	default:
		st.Status = ManualPending
		st.Guidance = "Create the DNS records, then run the domain check."
	}
	return st
}
