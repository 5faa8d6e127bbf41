package hostname

import (
	"errors"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/splax/tenantedge/internal/domain"
)

var testPolicy = Policy{
	BaseDomain:     "platform.com",
	ReservedLabels: []string{"admin", "api"},
}

func TestClassify(t *testing.T) {
	cases := []struct {
		raw   string
		kind  Kind
		name  string
		label string
	}{
		{raw: "acme.platform.com", kind: KindSubdomain, name: "acme.platform.com", label: "acme"},
		{raw: "ACME.Platform.com:8443", kind: KindSubdomain, name: "acme.platform.com", label: "acme"},
		{raw: "acme.platform.com.", kind: KindSubdomain, name: "acme.platform.com", label: "acme"},
		{raw: "admin.platform.com", kind: KindReserved, name: "admin.platform.com", label: "admin"},
		{raw: "platform.com", kind: KindPlatform, name: "platform.com"},
		{raw: "www.platform.com", kind: KindPlatform, name: "www.platform.com"},
		{raw: "realty.example", kind: KindCustomDomain, name: "realty.example"},
		{raw: "shop.realty.example:443", kind: KindCustomDomain, name: "shop.realty.example"},
		{raw: "localhost:3000", kind: KindDev, name: "localhost"},
		{raw: "127.0.0.1:8080", kind: KindDev, name: "127.0.0.1"},
		{raw: "[::1]:8080", kind: KindDev, name: "::1"},
		{raw: "10.0.0.4", kind: KindDev, name: "10.0.0.4"},
		{raw: "fuzzy-space.app.github.dev", kind: KindDev, name: "fuzzy-space.app.github.dev"},
		{raw: "ws-1.gitpod.io", kind: KindDev, name: "ws-1.gitpod.io"},
		{raw: "", kind: KindDev},
		{raw: "bad host!", kind: KindDev, name: "bad host!"},
		{raw: "foo:bar:baz", kind: KindDev, name: "foo:bar:baz"},
	}
	for _, tc := range cases {
		t.Run(tc.raw, func(t *testing.T) {
			got := Classify(tc.raw, testPolicy)
			assert.Equal(t, tc.kind, got.Kind)
			assert.Equal(t, tc.name, got.Name)
			assert.Equal(t, tc.label, got.Label)
		})
	}
}

func TestClassifyOnlySubdomainsAndCustomDomainsMayHaveTenant(t *testing.T) {
	assert.True(t, Classify("acme.platform.com", testPolicy).MayHaveTenant())
	assert.True(t, Classify("realty.example", testPolicy).MayHaveTenant())
	assert.False(t, Classify("admin.platform.com", testPolicy).MayHaveTenant())
	assert.False(t, Classify("platform.com", testPolicy).MayHaveTenant())
	assert.False(t, Classify("localhost", testPolicy).MayHaveTenant())
}

func TestClassifyCustomDevSuffixes(t *testing.T) {
	p := testPolicy
	p.DevSuffixes = []string{"test.internal"}
	assert.Equal(t, KindDev, Classify("acme.test.internal", p).Kind)
	assert.Equal(t, KindCustomDomain, Classify("ws-1.gitpod.io", p).Kind)
}

func TestClassifyNeverPanics(t *testing.T) {
	inputs := []string{"[", "]:", ":", "...", "[::1", "a..b", "\x00", "::::", "%zz"}
	for _, in := range inputs {
		require.NotPanics(t, func() { Classify(in, testPolicy) }, in)
	}
}

func TestExtractHost(t *testing.T) {
	req := httptest.NewRequest("GET", "http://acme.platform.com/listings", nil)
	assert.Equal(t, "acme.platform.com", ExtractHost(req))

	req.Host = ""
	req.Header.Set("X-Forwarded-Host", "realty.example, proxy.internal")
	assert.Equal(t, "realty.example", ExtractHost(req))

	req.Header.Del("X-Forwarded-Host")
	req.Header.Set("X-Original-Host", "orig.example")
	assert.Equal(t, "orig.example", ExtractHost(req))

	assert.Equal(t, "", ExtractHost(nil))
}

func TestNormalize(t *testing.T) {
	cases := map[string]string{
		"HTTPS://WWW.Example.com/":        "example.com",
		"  example.com  ":                 "example.com",
		"http://example.com:8080/a?b=c#d": "example.com",
		"www.www.example.com":             "example.com",
		"example.com.":                    "example.com",
		"shop.example.com/":               "shop.example.com",
		"bücher.example":                  "xn--bcher-kva.example",
		"www..example.com":                "example.com",
		"ｗｗｗ.example.com":                 "example.com",
		".www.example.com.":               "example.com",
		"WWW.Bücher.Example":              "xn--bcher-kva.example",
		"":                                "",
	}
	for in, want := range cases {
		t.Run(in, func(t *testing.T) {
			got := Normalize(in)
			assert.Equal(t, want, got)
			assert.Equal(t, got, Normalize(got), "normalize must be idempotent")
		})
	}
}

func TestValidate(t *testing.T) {
	require.NoError(t, Validate("example.com", "platform.com"))
	require.NoError(t, Validate("shop.my-realty.co.uk", "platform.com"))
	require.NoError(t, Validate("xn--bcher-kva.example", "platform.com"))

	rejected := []string{
		"",
		"localhost",
		"192.168.1.1",
		"*.example.com",
		"-bad.example.com",
		"bad-.example.com",
		"exa_mple.com",
		"example..com",
		"example.123",
		"platform.com",
		"acme.platform.com",
	}
	for _, name := range rejected {
		t.Run(name, func(t *testing.T) {
			err := Validate(name, "platform.com")
			require.Error(t, err)
			require.True(t, errors.Is(err, domain.ErrInvalidFormat))
		})
	}
}

func TestValidateLengthLimits(t *testing.T) {
	long := make([]byte, 64)
	for i := range long {
		long[i] = 'a'
	}
	err := Validate(string(long)+".com", "")
	require.ErrorIs(t, err, domain.ErrInvalidFormat)
	require.Contains(t, err.Error(), "exceeds 63")
}
