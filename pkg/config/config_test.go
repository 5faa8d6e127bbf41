package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("BASE_DOMAIN", " Example.SITE. ")
	t.Setenv("RESERVED_LABELS", "admin, API ,,")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, "example.site", cfg.BaseDomain)
	require.Equal(t, []string{"admin", "api"}, cfg.ReservedLabels)
	require.Equal(t, 288, cfg.VerifyMaxAttempts)
	require.Equal(t, 5*time.Minute, cfg.VerifyInterval)
	require.Equal(t, 5*time.Minute, cfg.ResolverCacheTTL)
	require.Equal(t, "doh", cfg.NSCheckMode)
}

func TestValidateRejectsBadValues(t *testing.T) {
	cfg := Config{BaseDomain: "", VerifyMaxAttempts: 0, NSCheckMode: "carrier-pigeon", DNSProvider: "godaddy"}
	err := cfg.Validate()
	require.Error(t, err)
	require.Contains(t, err.Error(), "BASE_DOMAIN")
	require.Contains(t, err.Error(), "VERIFY_MAX_ATTEMPTS")
	require.Contains(t, err.Error(), "NS_CHECK_MODE")
	require.Contains(t, err.Error(), "DNS_PROVIDER")
}
