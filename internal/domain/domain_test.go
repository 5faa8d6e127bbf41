package domain

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestZoneStatusTransitions(t *testing.T) {
	assert.True(t, ZoneVerifying.CanTransitionTo(ZoneActive))
	assert.True(t, ZoneVerifying.CanTransitionTo(ZoneFailed))
	assert.False(t, ZoneActive.CanTransitionTo(ZoneVerifying))
	assert.False(t, ZoneActive.CanTransitionTo(ZoneFailed))
	assert.False(t, ZoneFailed.CanTransitionTo(ZoneActive))
	assert.True(t, ZoneFailed.CanTransitionTo(ZoneVerifying), "owners may provision a failed zone again")
	assert.False(t, ZoneVerifying.CanTransitionTo(ZoneVerifying))

	assert.True(t, ZoneActive.IsTerminal())
	assert.True(t, ZoneFailed.IsTerminal())
	assert.False(t, ZoneVerifying.IsTerminal())
	assert.False(t, ZoneStatus("pending").IsValid())
}

func TestRecordTypeIsValid(t *testing.T) {
	for _, rt := range []RecordType{RecordA, RecordAAAA, RecordCNAME, RecordMX, RecordTXT} {
		assert.True(t, rt.IsValid(), rt)
	}
	assert.False(t, RecordType("SRV").IsValid())
	assert.False(t, RecordType("mx").IsValid())
}

func TestErrorMatchesByCode(t *testing.T) {
	err := fmt.Errorf("provision: %w", NewError(CodeDuplicateDomain, "example.com is taken", nil))
	require.True(t, errors.Is(err, ErrDuplicateDomain))
	require.False(t, errors.Is(err, ErrInvalidFormat))
	require.Equal(t, CodeDuplicateDomain, CodeOf(err))
	require.Equal(t, Code(""), CodeOf(errors.New("plain")))
}

func TestErrorUnwrapsCause(t *testing.T) {
	cause := errors.New("connection reset")
	err := NewError(CodeProviderError, "create zone", cause)
	require.ErrorIs(t, err, cause)
	require.Contains(t, err.Error(), "connection reset")
}

// A custom domain written on the tenant at provisioning time is not live until
// its zone has been verified; consumers must join through the zone status.
func TestBindingRequiresActiveZone(t *testing.T) {
	custom := "example.com"
	tenant := Tenant{ID: "t1", Slug: "acme", CustomDomain: &custom, Active: true}

	verifying := &DomainZone{TenantID: "t1", Domain: "example.com", Status: ZoneVerifying}
	require.False(t, BindingLive(tenant, verifying), "tenant custom_domain alone must not make the domain live")
	require.False(t, BindingLive(tenant, nil))

	active := &DomainZone{TenantID: "t1", Domain: "example.com", Status: ZoneActive}
	require.True(t, BindingLive(tenant, active))

	otherTenant := &DomainZone{TenantID: "t2", Domain: "example.com", Status: ZoneActive}
	require.False(t, BindingLive(tenant, otherTenant))

	tenant.Active = false
	require.False(t, BindingLive(tenant, active))

	tenant.Active = true
	tenant.CustomDomain = nil
	require.False(t, BindingLive(tenant, active))
}
