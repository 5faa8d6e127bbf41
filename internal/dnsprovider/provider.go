// Package dnsprovider creates and tears down authoritative DNS zones at a hosting provider.
package dnsprovider

import (
	"context"
	"errors"
	"fmt"
)

// Zone is a zone as created at the provider.
type Zone struct {
	Domain      string
	ProviderID  string
	Nameservers []string
}

// Record is a resource record to add to a zone. Name is relative to the zone apex
// ("@", "www", "*"). Priority only applies to MX records.
type Record struct {
	Type     string
	Name     string
	Data     string
	Priority int
	TTL      int
}

// Provider is a DNS hosting API.
type Provider interface {
	// Name identifies the provider in logs and metrics.
	Name() string
	// Signature is a substring present in every nameserver the provider assigns.
	Signature() string
	CreateZone(ctx context.Context, domain, ip string) (Zone, error)
	AddRecord(ctx context.Context, zone Zone, record Record) error
	DeleteZone(ctx context.Context, zone Zone) error
}

// ErrZoneExists indicates the provider already hosts a zone for the domain.
var ErrZoneExists = errors.New("dnsprovider: zone already exists")

// Error is a failed provider call.
type Error struct {
	Provider string
	Op       string
	Status   int
	Err      error
}

func (e *Error) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s %s: status %d: %v", e.Provider, e.Op, e.Status, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Provider, e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// SupportingRecords are added after zone creation so the www alias and every
// tenant-chosen subdomain follow the platform.
func SupportingRecords(baseDomain string) []Record {
	target := baseDomain + "."
	return []Record{
		{Type: "CNAME", Name: "www", Data: target, TTL: 3600},
		{Type: "CNAME", Name: "*", Data: target, TTL: 3600},
	}
}
