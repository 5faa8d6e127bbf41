package domain

import "time"

// ZoneStatus is the activation lifecycle state of a DomainZone.
type ZoneStatus string

const (
	ZoneVerifying ZoneStatus = "verifying"
	ZoneActive    ZoneStatus = "active"
	ZoneFailed    ZoneStatus = "failed"
)

// zoneTransitions lists the only legal edges. A failed zone may only be reset to
// verifying when its owner provisions it again.
var zoneTransitions = map[ZoneStatus][]ZoneStatus{
	ZoneVerifying: {ZoneActive, ZoneFailed},
	ZoneActive:    nil,
	ZoneFailed:    {ZoneVerifying},
}

// CanTransitionTo reports whether moving from s to next is permitted.
func (s ZoneStatus) CanTransitionTo(next ZoneStatus) bool {
	for _, allowed := range zoneTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// IsTerminal reports whether the verifier never re-evaluates the status.
func (s ZoneStatus) IsTerminal() bool {
	return s == ZoneActive || s == ZoneFailed
}

// IsValid reports whether s is a known status.
func (s ZoneStatus) IsValid() bool {
	_, ok := zoneTransitions[s]
	return ok
}

// DomainZone is the provider-side DNS zone for a tenant custom domain.
type DomainZone struct {
	ID                   string
	TenantID             string
	Domain               string
	Status               ZoneStatus
	// ProviderID is the provider's zone identifier, e.g. a Route 53 hosted zone ID.
	ProviderID           string
	Nameservers          []string
	VerificationAttempts int
	LastVerificationAt   *time.Time
	ActivatedAt          *time.Time
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// ZoneVerificationUpdate records the outcome of one verification attempt.
type ZoneVerificationUpdate struct {
	ZoneID             string
	Status             ZoneStatus
	Attempts           int
	LastVerificationAt time.Time
	ActivatedAt        *time.Time
}

// DomainVerificationRecord tracks a manually configured custom domain.
type DomainVerificationRecord struct {
	ID          string
	TenantID    string
	Domain      string
	IsValid     bool
	LastChecked *time.Time
	CreatedAt   time.Time
}

// RecordType is a DNS record type tenants may add to an active zone.
type RecordType string

const (
	RecordA     RecordType = "A"
	RecordAAAA  RecordType = "AAAA"
	RecordCNAME RecordType = "CNAME"
	RecordMX    RecordType = "MX"
	RecordTXT   RecordType = "TXT"
)

// DefaultRecordTTL applies when a record is added without a TTL.
const DefaultRecordTTL = 3600

// IsValid reports whether t is a supported record type.
func (t RecordType) IsValid() bool {
	switch t {
	case RecordA, RecordAAAA, RecordCNAME, RecordMX, RecordTXT:
		return true
	}
	return false
}

// DNSRecord is a tenant-managed record inside an active zone.
type DNSRecord struct {
	ID        string
	ZoneID    string
	Type      RecordType
	Name      string
	Value     string
	Priority  *int
	TTL       int
	CreatedAt time.Time
}
