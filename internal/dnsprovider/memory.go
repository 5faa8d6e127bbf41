package dnsprovider

import (
	"context"
	"fmt"
	"sync"
)

// Memory is an in-process provider for development and tests.
type Memory struct {
	mu          sync.Mutex
	nameservers []string
	zones       map[string]*memoryZone
}

type memoryZone struct {
	ip      string
	records []Record
}

// NewMemory creates a provider that hands out nameservers, or ns1/ns2.memory.test when none are given.
func NewMemory(nameservers ...string) *Memory {
	if len(nameservers) == 0 {
		nameservers = []string{"ns1.memory.test", "ns2.memory.test"}
	}
	return &Memory{nameservers: nameservers, zones: make(map[string]*memoryZone)}
}

// Name implements Provider.
func (m *Memory) Name() string { return "memory" }

// Signature implements Provider.
func (m *Memory) Signature() string { return "memory.test" }

// CreateZone implements Provider.
func (m *Memory) CreateZone(_ context.Context, domain, ip string) (Zone, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.zones[domain]; ok {
		return Zone{}, &Error{Provider: m.Name(), Op: "create_zone", Err: fmt.Errorf("%w: %s", ErrZoneExists, domain)}
	}
	m.zones[domain] = &memoryZone{ip: ip}
	return Zone{Domain: domain, ProviderID: domain, Nameservers: append([]string(nil), m.nameservers...)}, nil
}

// AddRecord implements Provider.
func (m *Memory) AddRecord(_ context.Context, zone Zone, record Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	z, ok := m.zones[zone.Domain]
	if !ok {
		return &Error{Provider: m.Name(), Op: "add_record", Status: 404, Err: fmt.Errorf("zone %s not found", zone.Domain)}
	}
	z.records = append(z.records, record)
	return nil
}

// DeleteZone implements Provider.
func (m *Memory) DeleteZone(_ context.Context, zone Zone) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.zones, zone.Domain)
	return nil
}

// Records returns the records added to domain and whether the zone exists.
func (m *Memory) Records(domain string) ([]Record, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	z, ok := m.zones[domain]
	if !ok {
		return nil, false
	}
	return append([]Record(nil), z.records...), true
}
