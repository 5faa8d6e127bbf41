package bootstrap

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/splax/tenantedge/internal/dnsprovider"
	"github.com/splax/tenantedge/internal/nscheck"
	"github.com/splax/tenantedge/pkg/config"
	"github.com/splax/tenantedge/pkg/logger"
)

func TestProviderSelection(t *testing.T) {
	ctx := context.Background()
	log := logger.Discard()

	p, err := Provider(ctx, config.Config{DNSProvider: "digitalocean"}, log)
	require.NoError(t, err)
	assert.Nil(t, p, "missing token falls back to manual configuration")

	p, err = Provider(ctx, config.Config{DNSProvider: "digitalocean", DOAccessToken: "tok", DOAPIURL: "https://api.digitalocean.com"}, log)
	require.NoError(t, err)
	assert.Equal(t, "digitalocean", p.Name())

	p, err = Provider(ctx, config.Config{DNSProvider: "memory"}, log)
	require.NoError(t, err)
	assert.IsType(t, &dnsprovider.Memory{}, p)

	p, err = Provider(ctx, config.Config{DNSProvider: "none"}, log)
	require.NoError(t, err)
	assert.Nil(t, p)
}

func TestSignature(t *testing.T) {
	assert.Equal(t, "memory.test", Signature(config.Config{}, dnsprovider.NewMemory()))
	assert.Equal(t, "custom-ns", Signature(config.Config{ProviderSignature: " custom-ns "}, dnsprovider.NewMemory()))
	assert.Empty(t, Signature(config.Config{}, nil))
}

func TestChecker(t *testing.T) {
	assert.IsType(t, &nscheck.Wire{}, Checker(config.Config{NSCheckMode: "dns", DNSServer: "8.8.8.8"}))
	assert.IsType(t, &nscheck.DoH{}, Checker(config.Config{NSCheckMode: "doh"}))
}

func TestRedisDisabledWithoutAddress(t *testing.T) {
	assert.Nil(t, Redis(context.Background(), config.Config{}, logger.Discard()))
}
