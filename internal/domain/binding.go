package domain

import "strings"

// BindingLive reports whether routing may treat domain as served by tenant.
//
// tenant.CustomDomain is written when a zone is provisioned, before the registrar
// delegates the domain, so it is never sufficient on its own: the zone for the same
// domain must belong to the tenant and be active.
func BindingLive(tenant Tenant, zone *DomainZone) bool {
	if !tenant.Active || zone == nil {
		return false
	}
	if zone.TenantID != tenant.ID || zone.Status != ZoneActive {
		return false
	}
	return strings.EqualFold(tenant.CustomDomainValue(), zone.Domain)
}
