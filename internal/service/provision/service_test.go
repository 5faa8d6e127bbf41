package provision

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/splax/tenantedge/internal/dnsprovider"
	"github.com/splax/tenantedge/internal/domain"
	"github.com/splax/tenantedge/internal/repository"
	"github.com/splax/tenantedge/internal/repository/memory"
	"github.com/splax/tenantedge/pkg/logger"
)

var settings = Settings{
	BaseDomain:      "platform.com",
	IngressIP:       "162.159.140.98",
	ProviderTimeout: time.Second,
	VerifyInterval:  5 * time.Minute,
	MaxAttempts:     288,
}

func newStore() *memory.Store {
	store := memory.New()
	store.PutTenant(domain.Tenant{ID: "t1", Slug: "acme", Active: true})
	store.PutTenant(domain.Tenant{ID: "t2", Slug: "rival", Active: true})
	store.PutTenant(domain.Tenant{ID: "t3", Slug: "dormant", Active: false})
	return store
}

func newService(store *memory.Store, provider dnsprovider.Provider) *Service {
	return New(store, store, store, store, provider, settings, logger.Discard())
}

func TestProvisionCreatesVerifyingZone(t *testing.T) {
	store := newStore()
	provider := dnsprovider.NewMemory("ns1.digitalocean.com", "ns2.digitalocean.com", "ns3.digitalocean.com")
	svc := newService(store, provider)

	res, err := svc.Provision(context.Background(), "t1", "HTTPS://WWW.Realty.Example/")
	require.NoError(t, err)
	assert.Equal(t, "realty.example", res.Domain)
	assert.NotEmpty(t, res.ZoneID)
	assert.Equal(t, []string{"ns1.digitalocean.com", "ns2.digitalocean.com", "ns3.digitalocean.com"}, res.Nameservers)
	assert.Equal(t, res.Nameservers, res.Instructions.NameserversList)
	assert.Len(t, res.Instructions.Steps, 4)
	assert.Contains(t, res.Instructions.AutoVerification, "5 minutes")
	assert.False(t, res.Manual)

	zone, ok := store.Zone("realty.example")
	require.True(t, ok)
	assert.Equal(t, domain.ZoneVerifying, zone.Status)
	assert.Zero(t, zone.VerificationAttempts)
	assert.Nil(t, zone.ActivatedAt)
	assert.Equal(t, "t1", zone.TenantID)

	tenant, err := store.GetTenantByID(context.Background(), "t1")
	require.NoError(t, err)
	assert.Equal(t, "realty.example", tenant.CustomDomainValue())

	records, ok := provider.Records("realty.example")
	require.True(t, ok)
	assert.Equal(t, dnsprovider.SupportingRecords("platform.com"), records)

	_, err = store.FindBinding(context.Background(), "realty.example")
	assert.ErrorIs(t, err, repository.ErrNotFound, "a verifying zone must not route traffic")
}

func TestProvisionRejectsDomainBoundToAnotherTenant(t *testing.T) {
	store := newStore()
	bound := "example.com"
	store.PutTenant(domain.Tenant{ID: "t2", Slug: "rival", Active: true, CustomDomain: &bound})
	provider := dnsprovider.NewMemory()
	svc := newService(store, provider)

	_, err := svc.Provision(context.Background(), "t1", "Example.COM/")
	require.ErrorIs(t, err, domain.ErrDuplicateDomain)
	assert.Zero(t, store.ZoneCount())
	_, hosted := provider.Records("example.com")
	assert.False(t, hosted, "no provider zone may be created for a duplicate")
}

func TestProvisionRejectsExistingZone(t *testing.T) {
	store := newStore()
	svc := newService(store, dnsprovider.NewMemory())

	_, err := svc.Provision(context.Background(), "t2", "realty.example")
	require.NoError(t, err)

	_, err = svc.Provision(context.Background(), "t1", "realty.example")
	require.ErrorIs(t, err, domain.ErrDuplicateDomain)
	_, err = svc.Provision(context.Background(), "t2", "www.realty.example")
	require.ErrorIs(t, err, domain.ErrDuplicateDomain)
	assert.Equal(t, 1, store.ZoneCount())
}

func TestProvisionPreconditions(t *testing.T) {
	store := newStore()
	svc := newService(store, dnsprovider.NewMemory())
	ctx := context.Background()

	_, err := svc.Provision(ctx, "t1", "not a domain")
	assert.ErrorIs(t, err, domain.ErrInvalidFormat)

	_, err = svc.Provision(ctx, "t1", "shop.platform.com")
	assert.ErrorIs(t, err, domain.ErrInvalidFormat)

	_, err = svc.Provision(ctx, "missing", "realty.example")
	assert.ErrorIs(t, err, domain.ErrTenantNotFound)

	_, err = svc.Provision(ctx, "t3", "realty.example")
	assert.ErrorIs(t, err, domain.ErrTenantInactive)

	assert.Zero(t, store.ZoneCount())
}

type failingProvider struct {
	*dnsprovider.Memory
	createErr error
	recordErr error
	leaked    dnsprovider.Zone
	deleted   []string
}

func (f *failingProvider) CreateZone(ctx context.Context, name, ip string) (dnsprovider.Zone, error) {
	if f.createErr != nil {
		return f.leaked, f.createErr
	}
	return f.Memory.CreateZone(ctx, name, ip)
}

func (f *failingProvider) AddRecord(ctx context.Context, zone dnsprovider.Zone, rec dnsprovider.Record) error {
	if f.recordErr != nil {
		return f.recordErr
	}
	return f.Memory.AddRecord(ctx, zone, rec)
}

func (f *failingProvider) DeleteZone(ctx context.Context, zone dnsprovider.Zone) error {
	f.deleted = append(f.deleted, zone.Domain)
	return f.Memory.DeleteZone(ctx, zone)
}

func TestProvisionProviderFailurePersistsNothing(t *testing.T) {
	store := newStore()
	provider := &failingProvider{
		Memory:    dnsprovider.NewMemory(),
		createErr: &dnsprovider.Error{Provider: "memory", Op: "create_zone", Status: 500, Err: errors.New("internal error")},
	}
	svc := newService(store, provider)

	_, err := svc.Provision(context.Background(), "t1", "realty.example")
	require.ErrorIs(t, err, domain.ErrProvider)
	assert.Zero(t, store.ZoneCount())

	tenant, err := store.GetTenantByID(context.Background(), "t1")
	require.NoError(t, err)
	assert.Nil(t, tenant.CustomDomain)
	assert.Empty(t, provider.deleted)
}

func TestProvisionDeletesPartiallyCreatedZone(t *testing.T) {
	store := newStore()
	provider := &failingProvider{
		Memory:    dnsprovider.NewMemory(),
		createErr: errors.New("apex record rejected"),
		leaked:    dnsprovider.Zone{Domain: "realty.example", ProviderID: "Z1"},
	}
	svc := newService(store, provider)

	_, err := svc.Provision(context.Background(), "t1", "realty.example")
	require.ErrorIs(t, err, domain.ErrProvider)
	assert.Equal(t, []string{"realty.example"}, provider.deleted)
}

func TestProvisionSupportingRecordFailureIsNotFatal(t *testing.T) {
	store := newStore()
	provider := &failingProvider{Memory: dnsprovider.NewMemory(), recordErr: errors.New("rate limited")}
	svc := newService(store, provider)

	res, err := svc.Provision(context.Background(), "t1", "realty.example")
	require.NoError(t, err)
	assert.NotEmpty(t, res.ZoneID)
	assert.Equal(t, 1, store.ZoneCount())
}

type conflictingZones struct {
	*memory.Store
}

func (c conflictingZones) CreateZone(context.Context, *domain.DomainZone) error {
	return repository.ErrConflict
}

func TestProvisionRollsBackProviderZoneWhenPersistenceFails(t *testing.T) {
	store := newStore()
	provider := &failingProvider{Memory: dnsprovider.NewMemory()}
	svc := New(store, conflictingZones{store}, store, store, provider, settings, logger.Discard())

	_, err := svc.Provision(context.Background(), "t1", "realty.example")
	require.ErrorIs(t, err, domain.ErrDuplicateDomain)
	assert.Equal(t, []string{"realty.example"}, provider.deleted)
	_, hosted := provider.Records("realty.example")
	assert.False(t, hosted)
}

func TestProvisionWithoutProviderFallsBackToManual(t *testing.T) {
	store := newStore()
	svc := newService(store, nil)

	res, err := svc.Provision(context.Background(), "t1", "realty.example")
	require.NoError(t, err)
	assert.True(t, res.Manual)
	assert.Empty(t, res.ZoneID)
	assert.Zero(t, store.ZoneCount())
}

func TestConfigureRecordsManualVerification(t *testing.T) {
	store := newStore()
	svc := newService(store, dnsprovider.NewMemory())
	ctx := context.Background()

	res, err := svc.Configure(ctx, "t1", "www.realty.example")
	require.NoError(t, err)
	assert.Equal(t, "realty.example", res.Domain)
	assert.Equal(t, []DNSRecord{
		{Type: "CNAME", Name: "www", Value: "platform.com"},
		{Type: "A", Name: "@", Value: "162.159.140.98"},
	}, res.Records)
	assert.Len(t, res.Instructions.Steps, 4)

	rec, err := store.GetVerification(ctx, "t1", "realty.example")
	require.NoError(t, err)
	assert.False(t, rec.IsValid)
	assert.Nil(t, rec.LastChecked)

	_, err = svc.Configure(ctx, "t2", "realty.example")
	require.ErrorIs(t, err, domain.ErrDuplicateDomain)
}

func TestStatusDescribesEveryDomain(t *testing.T) {
	store := newStore()
	svc := newService(store, dnsprovider.NewMemory())
	ctx := context.Background()

	_, err := svc.Provision(ctx, "t1", "realty.example")
	require.NoError(t, err)
	zone, _ := store.Zone("realty.example")
	require.NoError(t, store.UpdateZoneVerification(ctx, domain.ZoneVerificationUpdate{
		ZoneID: zone.ID, Status: domain.ZoneFailed, Attempts: 288, LastVerificationAt: time.Now(),
	}))
	_, err = svc.Configure(ctx, "t1", "manual.example")
	require.NoError(t, err)

	statuses, err := svc.Status(ctx, "t1")
	require.NoError(t, err)
	require.Len(t, statuses, 2)

	assert.Equal(t, "realty.example", statuses[0].Domain)
	assert.Equal(t, "failed", statuses[0].Status)
	assert.Equal(t, 288, statuses[0].Attempts)
	assert.Contains(t, statuses[0].Guidance, "Recheck the nameserver configuration")

	assert.Equal(t, "manual.example", statuses[1].Domain)
	assert.Equal(t, ManualPending, statuses[1].Status)

	_, err = svc.Status(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrTenantNotFound)
}

func failZone(t *testing.T, store *memory.Store, name string) {
	t.Helper()
	zone, ok := store.Zone(name)
	require.True(t, ok)
	require.NoError(t, store.UpdateZoneVerification(context.Background(), domain.ZoneVerificationUpdate{
		ZoneID: zone.ID, Status: domain.ZoneFailed, Attempts: 288, LastVerificationAt: time.Now(),
	}))
}

func TestProvisionRetriesFailedZone(t *testing.T) {
	store := newStore()
	provider := dnsprovider.NewMemory("ns1.digitalocean.com", "ns2.digitalocean.com")
	svc := newService(store, provider)
	ctx := context.Background()

	first, err := svc.Provision(ctx, "t1", "realty.example")
	require.NoError(t, err)
	failZone(t, store, "realty.example")

	_, err = svc.Provision(ctx, "t2", "realty.example")
	require.ErrorIs(t, err, domain.ErrDuplicateDomain, "another tenant cannot take over a failed zone")
	_, err = svc.Configure(ctx, "t1", "realty.example")
	require.ErrorIs(t, err, domain.ErrDuplicateDomain)

	res, err := svc.Provision(ctx, "t1", "www.realty.example")
	require.NoError(t, err)
	assert.Equal(t, first.ZoneID, res.ZoneID)
	assert.Equal(t, first.Nameservers, res.Nameservers)
	assert.Equal(t, 1, store.ZoneCount())

	zone, _ := store.Zone("realty.example")
	assert.Equal(t, domain.ZoneVerifying, zone.Status)
	assert.Zero(t, zone.VerificationAttempts)
	assert.Nil(t, zone.LastVerificationAt)
	assert.Equal(t, "realty.example", zone.ProviderID)

	_, err = svc.Provision(ctx, "t1", "realty.example")
	require.ErrorIs(t, err, domain.ErrDuplicateDomain, "a verifying zone is not reset")
}

func TestProvisionRetryRecreatesDeletedProviderZone(t *testing.T) {
	store := newStore()
	provider := dnsprovider.NewMemory()
	svc := newService(store, provider)
	ctx := context.Background()

	_, err := svc.Provision(ctx, "t1", "realty.example")
	require.NoError(t, err)
	failZone(t, store, "realty.example")
	require.NoError(t, provider.DeleteZone(ctx, dnsprovider.Zone{Domain: "realty.example"}))

	_, err = svc.Provision(ctx, "t1", "realty.example")
	require.NoError(t, err)
	records, hosted := provider.Records("realty.example")
	require.True(t, hosted)
	assert.Equal(t, dnsprovider.SupportingRecords("platform.com"), records)
}

// duplicatingProvider hands out a fresh zone id on every CreateZone, the way Route 53
// accepts several hosted zones with the same name.
type duplicatingProvider struct {
	mu    sync.Mutex
	next  int
	live  map[string]bool
	added map[string][]dnsprovider.Record
}

func newDuplicatingProvider() *duplicatingProvider {
	return &duplicatingProvider{live: make(map[string]bool), added: make(map[string][]dnsprovider.Record)}
}

func (d *duplicatingProvider) Name() string      { return "duplicating" }
func (d *duplicatingProvider) Signature() string { return "awsdns" }

func (d *duplicatingProvider) CreateZone(_ context.Context, name, _ string) (dnsprovider.Zone, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.next++
	id := fmt.Sprintf("/hostedzone/Z%d", d.next)
	d.live[id] = true
	return dnsprovider.Zone{
		Domain:      name,
		ProviderID:  id,
		Nameservers: []string{fmt.Sprintf("ns-%d.awsdns-01.com", d.next), fmt.Sprintf("ns-%d.awsdns-02.net", d.next)},
	}, nil
}

func (d *duplicatingProvider) AddRecord(_ context.Context, zone dnsprovider.Zone, rec dnsprovider.Record) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.live[zone.ProviderID] {
		return fmt.Errorf("zone %s not found", zone.ProviderID)
	}
	d.added[zone.ProviderID] = append(d.added[zone.ProviderID], rec)
	return nil
}

func (d *duplicatingProvider) DeleteZone(_ context.Context, zone dnsprovider.Zone) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.live, zone.ProviderID)
	return nil
}

func (d *duplicatingProvider) liveZones() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]string, 0, len(d.live))
	for id := range d.live {
		out = append(out, id)
	}
	return out
}

func TestProvisionRetryReplacesDuplicatedProviderZone(t *testing.T) {
	store := newStore()
	provider := newDuplicatingProvider()
	svc := newService(store, provider)
	ctx := context.Background()

	first, err := svc.Provision(ctx, "t1", "realty.example")
	require.NoError(t, err)
	failZone(t, store, "realty.example")

	res, err := svc.Provision(ctx, "t1", "realty.example")
	require.NoError(t, err)
	assert.Equal(t, first.ZoneID, res.ZoneID)
	assert.NotEqual(t, first.Nameservers, res.Nameservers)

	zone, _ := store.Zone("realty.example")
	assert.Equal(t, "/hostedzone/Z2", zone.ProviderID)
	assert.Equal(t, res.Nameservers, zone.Nameservers)
	assert.Equal(t, []string{"/hostedzone/Z2"}, provider.liveZones(), "the superseded provider zone is deleted")
}

type staleRetries struct {
	*memory.Store
}

func (s staleRetries) RetryZone(context.Context, *domain.DomainZone) error {
	return repository.ErrStaleZone
}

func TestProvisionRetryRollsBackRecreatedZoneWhenResetLosesRace(t *testing.T) {
	store := newStore()
	provider := &failingProvider{Memory: dnsprovider.NewMemory()}
	svc := New(store, staleRetries{store}, store, store, provider, settings, logger.Discard())
	ctx := context.Background()

	_, err := svc.Provision(ctx, "t1", "realty.example")
	require.NoError(t, err)
	failZone(t, store, "realty.example")
	require.NoError(t, provider.Memory.DeleteZone(ctx, dnsprovider.Zone{Domain: "realty.example"}))

	_, err = svc.Provision(ctx, "t1", "realty.example")
	require.ErrorIs(t, err, domain.ErrDuplicateDomain)
	assert.Equal(t, []string{"realty.example"}, provider.deleted)
	zone, _ := store.Zone("realty.example")
	assert.Equal(t, domain.ZoneFailed, zone.Status)
}
