package domain

import "time"

// Tenant is an isolated customer account reachable by slug subdomain or custom domain.
type Tenant struct {
	ID           string
	Slug         string
	CustomDomain *string
	Active       bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// CustomDomainValue returns the configured custom domain or an empty string.
func (t Tenant) CustomDomainValue() string {
	if t.CustomDomain == nil {
		return ""
	}
	return *t.CustomDomain
}

// BindingSource names where a custom-domain binding was found.
type BindingSource string

const (
	BindingSourceZone   BindingSource = "zone"
	BindingSourceManual BindingSource = "manual"
)

// DomainBinding links a custom domain to the tenant that owns it.
type DomainBinding struct {
	Domain   string
	TenantID string
	Source   BindingSource
}
