package provision

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/miekg/dns"

	"github.com/splax/tenantedge/internal/dnsprovider"
	"github.com/splax/tenantedge/internal/domain"
	"github.com/splax/tenantedge/internal/hostname"
	"github.com/splax/tenantedge/internal/repository"
)

// RecordInput is a DNS record a tenant asks to add to its zone.
type RecordInput struct {
	Type     string `json:"type"`
	Name     string `json:"name"`
	Value    string `json:"value"`
	Priority *int   `json:"priority,omitempty"`
	TTL      int    `json:"ttl,omitempty"`
}

// ZoneRecord is the admin view of a stored DNS record.
type ZoneRecord struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	Name      string    `json:"name"`
	Value     string    `json:"value"`
	Priority  *int      `json:"priority,omitempty"`
	TTL       int       `json:"ttl"`
	CreatedAt time.Time `json:"created_at"`
}

// RecordList lists a zone together with its tenant-managed records.
type RecordList struct {
	ZoneID      string       `json:"zone_id"`
	Domain      string       `json:"domain"`
	Status      string       `json:"status"`
	Nameservers []string     `json:"nameservers"`
	ActivatedAt *time.Time   `json:"activated_at,omitempty"`
	Records     []ZoneRecord `json:"records"`
	Count       int          `json:"count"`
}

// AddRecord creates a record at the provider, then stores it. Records can only be added
// once the zone is active.
func (s *Service) AddRecord(ctx context.Context, tenantID, rawDomain string, in RecordInput) (*ZoneRecord, error) {
	if s.provider == nil {
		return nil, domain.ErrProviderUnavailable
	}
	zone, err := s.tenantZone(ctx, tenantID, rawDomain)
	if err != nil {
		return nil, err
	}
	if zone.Status != domain.ZoneActive {
		return nil, domain.NewError(domain.CodeZoneNotActive,
			zone.Domain+" is "+string(zone.Status)+"; wait for the nameservers to propagate before adding records", nil)
	}
	rec, err := normalizeRecord(in, zone.Domain)
	if err != nil {
		return nil, err
	}
	rec.ID = uuid.NewString()
	rec.ZoneID = zone.ID

	log := s.logger.With("tenant_id", tenantID, "domain", zone.Domain, "type", rec.Type, "name", rec.Name)
	pctx, cancel := context.WithTimeout(ctx, s.settings.ProviderTimeout)
	defer cancel()
	target := dnsprovider.Zone{Domain: zone.Domain, ProviderID: zone.ProviderID, Nameservers: zone.Nameservers}
	if err := s.provider.AddRecord(pctx, target, providerRecord(rec)); err != nil {
		log.Error("provider rejected record", "error", err)
		return nil, domain.NewError(domain.CodeProviderError, "the DNS provider rejected the "+string(rec.Type)+" record for "+zone.Domain, err)
	}
	if err := s.records.CreateRecord(ctx, &rec); err != nil {
		log.Error("record created at provider but not stored", "error", err)
		return nil, fmt.Errorf("persist record: %w", err)
	}

	log.Info("dns record added", "record_id", rec.ID)
	view := recordView(rec)
	return &view, nil
}

// ListRecords returns the tenant-managed records of a zone, newest first.
func (s *Service) ListRecords(ctx context.Context, tenantID, rawDomain string) (*RecordList, error) {
	zone, err := s.tenantZone(ctx, tenantID, rawDomain)
	if err != nil {
		return nil, err
	}
	stored, err := s.records.ListRecords(ctx, zone.ID)
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	out := &RecordList{
		ZoneID:      zone.ID,
		Domain:      zone.Domain,
		Status:      string(zone.Status),
		Nameservers: zone.Nameservers,
		ActivatedAt: zone.ActivatedAt,
		Records:     make([]ZoneRecord, 0, len(stored)),
		Count:       len(stored),
	}
	for _, rec := range stored {
		out.Records = append(out.Records, recordView(rec))
	}
	return out, nil
}

// tenantZone loads the zone for rawDomain. Zones of other tenants read as not found.
func (s *Service) tenantZone(ctx context.Context, tenantID, rawDomain string) (*domain.DomainZone, error) {
	name := hostname.Normalize(rawDomain)
	zone, err := s.zones.GetZoneByDomain(ctx, name)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("zone %s: %w", name, repository.ErrNotFound)
		}
		return nil, fmt.Errorf("load zone: %w", err)
	}
	if zone.TenantID != tenantID {
		return nil, fmt.Errorf("zone %s: %w", name, repository.ErrNotFound)
	}
	return zone, nil
}

func normalizeRecord(in RecordInput, zoneDomain string) (domain.DNSRecord, error) {
	rec := domain.DNSRecord{
		Type:  domain.RecordType(strings.ToUpper(strings.TrimSpace(in.Type))),
		Name:  strings.ToLower(strings.TrimSpace(in.Name)),
		Value: strings.TrimSpace(in.Value),
		TTL:   in.TTL,
	}
	if !rec.Type.IsValid() {
		return rec, domain.NewError(domain.CodeInvalidRecord, "record type must be one of A, AAAA, CNAME, MX or TXT", nil)
	}

	rec.Name = strings.TrimSuffix(rec.Name, ".")
	switch {
	case rec.Name == "" || rec.Name == "@" || rec.Name == zoneDomain:
		rec.Name = "@"
	case strings.HasSuffix(rec.Name, "."+zoneDomain):
		rec.Name = strings.TrimSuffix(rec.Name, "."+zoneDomain)
	}
	if rec.Name != "@" && !recordHost(rec.Name, true) {
		return rec, domain.NewError(domain.CodeInvalidRecord, "record name "+in.Name+" is not a valid DNS name", nil)
	}

	if rec.Value == "" {
		return rec, domain.NewError(domain.CodeInvalidRecord, "record value is required", nil)
	}
	switch rec.Type {
	case domain.RecordA, domain.RecordAAAA:
		addr, err := netip.ParseAddr(rec.Value)
		if err != nil || (rec.Type == domain.RecordA) != addr.Is4() {
			return rec, domain.NewError(domain.CodeInvalidRecord, rec.Value+" is not a valid "+string(rec.Type)+" address", err)
		}
	case domain.RecordCNAME, domain.RecordMX:
		if !recordHost(rec.Value, false) {
			return rec, domain.NewError(domain.CodeInvalidRecord, rec.Value+" is not a valid target host", nil)
		}
	case domain.RecordTXT:
		if len(rec.Value) > 2048 {
			return rec, domain.NewError(domain.CodeInvalidRecord, "TXT value is too long", nil)
		}
	}

	if rec.Type == domain.RecordMX {
		if in.Priority == nil || *in.Priority < 0 || *in.Priority > 65535 {
			return rec, domain.NewError(domain.CodeInvalidRecord, "MX records require a priority between 0 and 65535", nil)
		}
		priority := *in.Priority
		rec.Priority = &priority
	}

	switch {
	case rec.TTL == 0:
		rec.TTL = domain.DefaultRecordTTL
	case rec.TTL < 30:
		return rec, domain.NewError(domain.CodeInvalidRecord, "ttl must be at least 30 seconds", nil)
	}
	return rec, nil
}

// recordHost accepts letters, digits, hyphens and underscores in every label. A leading
// "*" label is allowed when wildcard is set.
func recordHost(name string, wildcard bool) bool {
	name = strings.TrimSuffix(strings.ToLower(name), ".")
	if _, ok := dns.IsDomainName(name); !ok || name == "" {
		return false
	}
	for i, label := range strings.Split(name, ".") {
		if label == "" || len(label) > 63 {
			return false
		}
		if wildcard && i == 0 && label == "*" {
			continue
		}
		for _, c := range label {
			if (c < 'a' || c > 'z') && (c < '0' || c > '9') && c != '-' && c != '_' {
				return false
			}
		}
	}
	return true
}

func providerRecord(rec domain.DNSRecord) dnsprovider.Record {
	out := dnsprovider.Record{Type: string(rec.Type), Name: rec.Name, Data: rec.Value, TTL: rec.TTL}
	if rec.Priority != nil {
		out.Priority = *rec.Priority
	}
	return out
}

func recordView(rec domain.DNSRecord) ZoneRecord {
	return ZoneRecord{
		ID:        rec.ID,
		Type:      string(rec.Type),
		Name:      rec.Name,
		Value:     rec.Value,
		Priority:  rec.Priority,
		TTL:       rec.TTL,
		CreatedAt: rec.CreatedAt,
	}
}
