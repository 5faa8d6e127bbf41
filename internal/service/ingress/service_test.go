package ingress

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/splax/tenantedge/internal/domain"
	"github.com/splax/tenantedge/internal/service/verify"
	"github.com/splax/tenantedge/pkg/logger"
)

type countingReloader struct {
	reloads int
	err     error
	closed  bool
}

func (r *countingReloader) Reload(context.Context) error {
	r.reloads++
	return r.err
}

func (r *countingReloader) Close() error {
	r.closed = true
	return nil
}

func newService(t *testing.T) (*Service, *countingReloader, string) {
	t.Helper()
	dir := t.TempDir()
	reloader := &countingReloader{}
	svc, err := New(dir, "http://site:3000", reloader, logger.Discard())
	require.NoError(t, err)
	return svc, reloader, dir
}

func TestApplyWritesServerBlockOnce(t *testing.T) {
	svc, reloader, dir := newService(t)
	ctx := context.Background()

	require.NoError(t, svc.Apply(ctx, "t1", "realty.example"))
	data, err := os.ReadFile(filepath.Join(dir, "realty.example.conf"))
	require.NoError(t, err)
	conf := string(data)
	assert.Contains(t, conf, "server_name realty.example www.realty.example;")
	assert.Contains(t, conf, "proxy_pass http://site:3000;")
	assert.Contains(t, conf, "tenant t1")
	assert.Equal(t, 1, reloader.reloads)

	require.NoError(t, svc.Apply(ctx, "t1", "realty.example"))
	assert.Equal(t, 1, reloader.reloads, "unchanged blocks do not reload nginx")

	domains, err := svc.Domains()
	require.NoError(t, err)
	assert.Equal(t, []string{"realty.example"}, domains)
}

func TestRemove(t *testing.T) {
	svc, reloader, dir := newService(t)
	ctx := context.Background()

	require.NoError(t, svc.Remove(ctx, "missing.example"))
	assert.Zero(t, reloader.reloads)

	require.NoError(t, svc.Apply(ctx, "t1", "realty.example"))
	require.NoError(t, svc.Remove(ctx, "realty.example"))
	assert.Equal(t, 2, reloader.reloads)
	_, err := os.Stat(filepath.Join(dir, "realty.example.conf"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestReloadFailureIsReported(t *testing.T) {
	svc, reloader, _ := newService(t)
	reloader.err = errors.New("nginx: [emerg] unexpected end of file")

	err := svc.Apply(context.Background(), "t1", "realty.example")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reload nginx")
}

func TestSyncKeepsOnlyActiveZones(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()
	require.NoError(t, svc.Apply(ctx, "t9", "stale.example"))

	err := svc.Sync(ctx, []domain.DomainZone{
		{TenantID: "t1", Domain: "live.example", Status: domain.ZoneActive},
		{TenantID: "t2", Domain: "pending.example", Status: domain.ZoneVerifying},
		{TenantID: "t3", Domain: "dead.example", Status: domain.ZoneFailed},
	})
	require.NoError(t, err)

	domains, err := svc.Domains()
	require.NoError(t, err)
	assert.Equal(t, []string{"live.example"}, domains)
}

func TestZoneTransitioned(t *testing.T) {
	svc, reloader, _ := newService(t)
	ctx := context.Background()
	zone := domain.DomainZone{TenantID: "t1", Domain: "realty.example"}

	svc.ZoneTransitioned(ctx, verify.Transition{Zone: zone, From: domain.ZoneVerifying, To: domain.ZoneActive})
	domains, _ := svc.Domains()
	assert.Equal(t, []string{"realty.example"}, domains)

	svc.ZoneTransitioned(ctx, verify.Transition{Zone: zone, From: domain.ZoneVerifying, To: domain.ZoneFailed})
	domains, _ = svc.Domains()
	assert.Empty(t, domains)
	assert.Equal(t, 2, reloader.reloads)

	require.NoError(t, svc.Close())
	assert.True(t, reloader.closed)
}

func TestNewValidation(t *testing.T) {
	_, err := New("", "http://site:3000", nil, nil)
	assert.Error(t, err)
	_, err = New(t.TempDir(), " ", nil, nil)
	assert.Error(t, err)
}

func TestCommandReloader(t *testing.T) {
	_, err := NewCommandReloader("  ")
	assert.Error(t, err)

	ok, err := NewCommandReloader("true")
	require.NoError(t, err)
	assert.NoError(t, ok.Reload(context.Background()))

	failing, err := NewCommandReloader("false")
	require.NoError(t, err)
	assert.Error(t, failing.Reload(context.Background()))
}
