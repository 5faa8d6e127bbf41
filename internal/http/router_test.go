package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/splax/tenantedge/internal/dnsprovider"
	"github.com/splax/tenantedge/internal/domain"
	"github.com/splax/tenantedge/internal/hostname"
	"github.com/splax/tenantedge/internal/nscheck"
	"github.com/splax/tenantedge/internal/repository/memory"
	"github.com/splax/tenantedge/internal/service/provision"
	"github.com/splax/tenantedge/internal/service/resolver"
	"github.com/splax/tenantedge/internal/service/verify"
	"github.com/splax/tenantedge/internal/ws"
	"github.com/splax/tenantedge/pkg/logger"
)

const (
	adminToken = "admin-secret"
	cronToken  = "cron-secret"
	apiHost    = "localhost"
)

var policy = hostname.Policy{BaseDomain: "platform.com", ReservedLabels: []string{"admin"}}

type nsStub struct {
	mu      sync.Mutex
	answers map[string]nscheck.Answer
}

func (s *nsStub) LookupNS(_ context.Context, name string) (nscheck.Answer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ans, ok := s.answers[name]; ok {
		return ans, nil
	}
	return nscheck.Answer{Status: 3}, nil
}

type rateLimiterStub struct {
	mu      sync.Mutex
	allowFn func(key string, limit int, window time.Duration) rateDecision
	calls   []string
}

func (s *rateLimiterStub) Allow(key string, limit int, window time.Duration) rateDecision {
	s.mu.Lock()
	s.calls = append(s.calls, key)
	s.mu.Unlock()
	if s.allowFn != nil {
		return s.allowFn(key, limit, window)
	}
	return rateDecision{allowed: true, count: 1}
}

func (s *rateLimiterStub) Close() {}

type fixture struct {
	store    *memory.Store
	checker  *nsStub
	resolver *resolver.Resolver
	hub      *ws.Hub
	limiter  *rateLimiterStub
	router   *Router
}

func newFixture(t *testing.T, mutate func(*Deps)) *fixture {
	t.Helper()
	store := memory.New()
	store.PutTenant(domain.Tenant{ID: "t1", Slug: "acme", Active: true})
	store.PutTenant(domain.Tenant{ID: "t2", Slug: "rival", Active: true})

	log := logger.Discard()
	local := resolver.NewLocal(store, store, time.Second)
	res := resolver.New(policy, []resolver.Strategy{local}, resolver.WithLogger(log))
	provider := dnsprovider.NewMemory("ns1.digitalocean.com", "ns2.digitalocean.com")
	prov := provision.New(store, store, store, store, provider, provision.Settings{
		BaseDomain: "platform.com", IngressIP: "162.159.140.98", MaxAttempts: 288, VerifyInterval: 5 * time.Minute,
	}, log)
	checker := &nsStub{answers: map[string]nscheck.Answer{}}
	poller := verify.New(store, checker, verify.Settings{Signature: "digitalocean.com"}, log)
	hub := ws.NewHub(log)
	poller.AddListener(hub)
	limiter := &rateLimiterStub{}

	deps := Deps{
		Logger:      log,
		Policy:      policy,
		Resolver:    res,
		Local:       local,
		Provisioner: prov,
		Verifier:    poller,
		Sites:       verify.NewSiteVerifier(store, time.Second, res, log),
		Hub:         hub,
		Limiter:     limiter,
		CronToken:   cronToken,
		AdminToken:  adminToken,
		HealthChecks: map[string]func(context.Context) error{
			"database": func(context.Context) error { return nil },
		},
	}
	if mutate != nil {
		mutate(&deps)
	}
	router, err := NewRouter(deps)
	require.NoError(t, err)
	t.Cleanup(router.Close)
	return &fixture{store: store, checker: checker, resolver: res, hub: hub, limiter: limiter, router: router}
}

func (f *fixture) do(method, host, target, token, body string) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	req.Host = host
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rr := httptest.NewRecorder()
	f.router.ServeHTTP(rr, req)
	return rr
}

func decode(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &out), rr.Body.String())
	return out
}

func TestHealthz(t *testing.T) {
	f := newFixture(t, nil)
	rr := f.do(http.MethodGet, apiHost, "/healthz", "", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "ok", decode(t, rr)["status"])

	degraded := newFixture(t, func(d *Deps) {
		d.HealthChecks["redis"] = func(context.Context) error { return errors.New("connection refused") }
	})
	rr = degraded.do(http.MethodGet, apiHost, "/healthz", "", "")
	require.Equal(t, http.StatusServiceUnavailable, rr.Code)
	assert.Equal(t, "degraded", decode(t, rr)["status"])
}

func TestResolveEndpoint(t *testing.T) {
	f := newFixture(t, nil)

	rr := f.do(http.MethodGet, apiHost, "/resolve?host=acme.platform.com", "", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "t1", decode(t, rr)["tenant_id"])

	for _, host := range []string{"nobody.platform.com", "admin.platform.com", "localhost:3000", "unknown.example"} {
		rr = f.do(http.MethodGet, apiHost, "/resolve?host="+host, "", "")
		require.Equal(t, http.StatusOK, rr.Code, host)
		body := decode(t, rr)
		assert.Contains(t, body, "tenant_id", host)
		assert.Nil(t, body["tenant_id"], host)
	}

	rr = f.do(http.MethodGet, apiHost, "/resolve", "", "")
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestCronRequiresToken(t *testing.T) {
	f := newFixture(t, nil)

	assert.Equal(t, http.StatusUnauthorized, f.do(http.MethodPost, apiHost, "/cron/verify-nameservers", "", "").Code)
	assert.Equal(t, http.StatusUnauthorized, f.do(http.MethodPost, apiHost, "/cron/verify-nameservers", "cron-secreT", "").Code)
	assert.Equal(t, http.StatusUnauthorized, f.do(http.MethodPost, apiHost, "/cron/verify-nameservers", adminToken, "").Code)

	unconfigured := newFixture(t, func(d *Deps) { d.CronToken = "" })
	assert.Equal(t, http.StatusServiceUnavailable, unconfigured.do(http.MethodPost, apiHost, "/cron/verify-nameservers", cronToken, "").Code)
}

func TestCronSweepReportsSummary(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.store.PutZone(domain.DomainZone{ID: "z1", TenantID: "t1", Domain: "live.example", Status: domain.ZoneVerifying, Nameservers: []string{"ns1.digitalocean.com"}})
	f.store.PutZone(domain.DomainZone{ID: "z2", TenantID: "t2", Domain: "pending.example", Status: domain.ZoneVerifying, Nameservers: []string{"ns1.digitalocean.com"}})
	f.checker.answers["live.example"] = nscheck.Answer{Status: 0, Records: []string{"ns1.digitalocean.com."}}
	require.NoError(t, f.store.SetCustomDomain(ctx, "t1", ptr("live.example")))

	events := &collector{}
	f.hub.Register("t1", events)

	rr := f.do(http.MethodPost, apiHost, "/cron/verify-nameservers", cronToken, "")
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	body := decode(t, rr)
	assert.EqualValues(t, 1, body["verified"])
	assert.EqualValues(t, 0, body["failed"])
	assert.EqualValues(t, 2, body["total"])

	require.Len(t, events.payloads(), 1)
	assert.Contains(t, string(events.payloads()[0]), `"status":"active"`)

	rr = f.do(http.MethodGet, "live.example", "/", "", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "t1", decode(t, rr)["tenant_id"])
}

func TestAdminProvisionFlow(t *testing.T) {
	f := newFixture(t, nil)

	rr := f.do(http.MethodPost, apiHost, "/admin/tenants/t1/domains", "", `{"domain":"realty.example"}`)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	rr = f.do(http.MethodPost, apiHost, "/admin/tenants/t1/domains", adminToken, `{"domain":"https://www.Realty.Example/"}`)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	body := decode(t, rr)
	assert.Equal(t, "realty.example", body["domain"])
	assert.Len(t, body["nameservers"], 2)

	rr = f.do(http.MethodPost, apiHost, "/admin/tenants/t2/domains", adminToken, `{"domain":"realty.example"}`)
	require.Equal(t, http.StatusConflict, rr.Code)
	assert.Equal(t, "duplicate_domain", decode(t, rr)["code"])

	rr = f.do(http.MethodPost, apiHost, "/admin/tenants/t1/domains", adminToken, `{"domain":"not a domain"}`)
	require.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "invalid_format", decode(t, rr)["code"])

	rr = f.do(http.MethodPost, apiHost, "/admin/tenants/missing/domains", adminToken, `{"domain":"other.example"}`)
	require.Equal(t, http.StatusNotFound, rr.Code)
	assert.Equal(t, "tenant_not_found", decode(t, rr)["code"])

	rr = f.do(http.MethodPost, apiHost, "/admin/tenants/t1/domains", adminToken, `{}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = f.do(http.MethodGet, apiHost, "/admin/tenants/t1/domains", adminToken, "")
	require.Equal(t, http.StatusOK, rr.Code)
	domains := decode(t, rr)["domains"].([]any)
	require.Len(t, domains, 1)
	assert.Equal(t, "verifying", domains[0].(map[string]any)["status"])

	// verifying zones never route traffic
	rr = f.do(http.MethodGet, "realty.example", "/", "", "")
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestAdminRecordsFlow(t *testing.T) {
	f := newFixture(t, nil)

	rr := f.do(http.MethodPost, apiHost, "/admin/tenants/t1/domains", adminToken, `{"domain":"realty.example"}`)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	mx := `{"type":"MX","name":"@","value":"mail.example.net","priority":10}`
	rr = f.do(http.MethodPost, apiHost, "/admin/tenants/t1/domains/realty.example/records", adminToken, mx)
	require.Equal(t, http.StatusConflict, rr.Code)
	assert.Equal(t, "zone_not_active", decode(t, rr)["code"])

	f.checker.mu.Lock()
	f.checker.answers["realty.example"] = nscheck.Answer{Status: 0, Records: []string{"ns1.digitalocean.com."}}
	f.checker.mu.Unlock()
	rr = f.do(http.MethodPost, apiHost, "/admin/zones/realty.example/verify", adminToken, "")
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	rr = f.do(http.MethodPost, apiHost, "/admin/tenants/t1/domains/realty.example/records", adminToken, `{"type":"MX","name":"@","value":"mail.example.net"}`)
	require.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "invalid_record", decode(t, rr)["code"])

	rr = f.do(http.MethodPost, apiHost, "/admin/tenants/t1/domains/realty.example/records", adminToken, mx)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	record := decode(t, rr)["record"].(map[string]any)
	assert.Equal(t, "MX", record["type"])
	assert.EqualValues(t, 10, record["priority"])
	assert.EqualValues(t, 3600, record["ttl"])

	rr = f.do(http.MethodGet, apiHost, "/admin/tenants/t1/domains/realty.example/records", adminToken, "")
	require.Equal(t, http.StatusOK, rr.Code)
	body := decode(t, rr)
	assert.Equal(t, "active", body["status"])
	assert.EqualValues(t, 1, body["count"])
	assert.Len(t, body["records"], 1)

	rr = f.do(http.MethodGet, apiHost, "/admin/tenants/t2/domains/realty.example/records", adminToken, "")
	assert.Equal(t, http.StatusNotFound, rr.Code)
	rr = f.do(http.MethodPost, apiHost, "/admin/tenants/t1/domains/realty.example/records", adminToken, `{`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestAdminVerifyZone(t *testing.T) {
	f := newFixture(t, nil)
	f.store.PutZone(domain.DomainZone{ID: "z1", TenantID: "t1", Domain: "dead.example", Status: domain.ZoneFailed, VerificationAttempts: 288})
	f.store.PutZone(domain.DomainZone{ID: "z2", TenantID: "t1", Domain: "slow.example", Status: domain.ZoneVerifying, VerificationAttempts: 4})

	rr := f.do(http.MethodPost, apiHost, "/admin/zones/dead.example/verify", adminToken, "")
	require.Equal(t, http.StatusConflict, rr.Code)
	assert.Equal(t, "verification_exhausted", decode(t, rr)["code"])

	rr = f.do(http.MethodPost, apiHost, "/admin/zones/slow.example/verify", adminToken, "")
	require.Equal(t, http.StatusOK, rr.Code)
	body := decode(t, rr)
	assert.Equal(t, "verifying", body["status"])
	assert.Equal(t, "pending", body["outcome"])
	assert.EqualValues(t, 5, body["verification_attempts"])

	rr = f.do(http.MethodPost, apiHost, "/admin/zones/none.example/verify", adminToken, "")
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestAdminManualDomainAndSiteCheck(t *testing.T) {
	f := newFixture(t, nil)

	rr := f.do(http.MethodPost, apiHost, "/admin/tenants/t1/domains/manual", adminToken, `{"domain":"manual.example"}`)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	body := decode(t, rr)
	assert.Equal(t, true, body["manual"])
	assert.Len(t, body["records"], 2)

	rr = f.do(http.MethodPost, apiHost, "/admin/tenants/t1/domains/other.example/check", adminToken, "")
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestAdminInvalidate(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	_, err := f.resolver.Resolve(ctx, "acme.platform.com")
	require.NoError(t, err)
	require.Equal(t, 1, f.resolver.Cache().Len())

	rr := f.do(http.MethodPost, apiHost, "/admin/resolver/invalidate", adminToken, `{"host":"acme.platform.com"}`)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Zero(t, f.resolver.Cache().Len())

	_, err = f.resolver.Resolve(ctx, "acme.platform.com")
	require.NoError(t, err)
	rr = f.do(http.MethodPost, apiHost, "/admin/resolver/invalidate", adminToken, `{"all":true}`)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Zero(t, f.resolver.Cache().Len())

	rr = f.do(http.MethodPost, apiHost, "/admin/resolver/invalidate", adminToken, `{}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestAdminCORSPreflightSkipsAuth(t *testing.T) {
	f := newFixture(t, func(d *Deps) { d.AllowedOrigins = []string{"https://dashboard.platform.com"} })
	req := httptest.NewRequest(http.MethodOptions, "/admin/tenants/t1/domains", nil)
	req.Host = apiHost
	req.Header.Set("Origin", "https://dashboard.platform.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	req.Header.Set("Access-Control-Request-Headers", "Authorization, Content-Type")
	rr := httptest.NewRecorder()
	f.router.ServeHTTP(rr, req)

	assert.Less(t, rr.Code, 300)
	assert.Equal(t, "https://dashboard.platform.com", rr.Header().Get("Access-Control-Allow-Origin"))
}

func TestAdminRateLimited(t *testing.T) {
	f := newFixture(t, nil)
	reset := time.Unix(1_950_000_000, 0)
	f.limiter.allowFn = func(key string, limit int, window time.Duration) rateDecision {
		return rateDecision{allowed: false, count: limit, windowEnd: reset}
	}

	rr := f.do(http.MethodGet, apiHost, "/admin/tenants/t1/domains", adminToken, "")
	require.Equal(t, http.StatusTooManyRequests, rr.Code)
	assert.Equal(t, "0", rr.Header().Get("X-RateLimit-Remaining"))
	assert.Equal(t, "1950000000", rr.Header().Get("X-RateLimit-Reset"))
	require.NotEmpty(t, f.limiter.calls)
	assert.True(t, strings.HasPrefix(f.limiter.calls[0], "admin:ip:"))
}

func TestPublicRouting(t *testing.T) {
	f := newFixture(t, nil)

	rr := f.do(http.MethodGet, "acme.platform.com", "/listings", "", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "t1", decode(t, rr)["tenant_id"])

	rr = f.do(http.MethodGet, "ghost.platform.com", "/", "", "")
	require.Equal(t, http.StatusNotFound, rr.Code)
	assert.Equal(t, "not found", decode(t, rr)["error"])

	// reserved and platform hosts reach the service routes
	rr = f.do(http.MethodGet, "admin.platform.com", "/healthz", "", "")
	assert.Equal(t, http.StatusOK, rr.Code)
	rr = f.do(http.MethodGet, "platform.com", "/healthz", "", "")
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestPublicRoutingProxiesWithTenantHeader(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("X-Tenant-ID"); got != "t1" {
			t.Fatalf("unexpected tenant header %q", got)
		}
		if got := r.Header.Get("X-Forwarded-Host"); got != "acme.platform.com" {
			t.Fatalf("unexpected forwarded host %q", got)
		}
		_, _ = io.WriteString(w, "site for "+r.URL.Path)
	}))
	defer backend.Close()

	f := newFixture(t, func(d *Deps) { d.SiteBackendURL = backend.URL })
	req := httptest.NewRequest(http.MethodGet, "/listings", nil)
	req.Host = "acme.platform.com"
	req.Header.Set("X-Tenant-ID", "t2")
	rr := httptest.NewRecorder()
	f.router.ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "site for /listings", rr.Body.String())
}

type failingResolver struct{}

func (failingResolver) Resolve(_ context.Context, raw string) (resolver.Resolution, error) {
	return resolver.Resolution{Host: hostname.Classify(raw, policy)}, domain.ErrResolutionFailure
}

func (failingResolver) Invalidate(context.Context, string) error { return nil }
func (failingResolver) Clear(context.Context) error              { return nil }

func TestPublicRoutingFailsClosed(t *testing.T) {
	f := newFixture(t, func(d *Deps) { d.Resolver = failingResolver{} })
	rr := f.do(http.MethodGet, "acme.platform.com", "/", "", "")
	require.Equal(t, http.StatusNotFound, rr.Code)
	assert.NotContains(t, rr.Body.String(), "t1")
}

func TestInvalidBackendURL(t *testing.T) {
	_, err := NewRouter(Deps{SiteBackendURL: "site:3000"})
	assert.ErrorIs(t, err, errInvalidBackend)
}

func TestZonesStreamRequiresTenant(t *testing.T) {
	f := newFixture(t, nil)
	rr := f.do(http.MethodGet, apiHost, "/admin/ws/zones", adminToken, "")
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	noHub := newFixture(t, func(d *Deps) { d.Hub = nil })
	rr = noHub.do(http.MethodGet, apiHost, "/admin/sse/zones?tenant_id=t1", adminToken, "")
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
}

func TestZonesSSEStreamsEvents(t *testing.T) {
	f := newFixture(t, nil)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Host = apiHost
		f.router.ServeHTTP(w, r)
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/admin/sse/zones?tenant_id=t1&token="+adminToken, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	require.Eventually(t, func() bool { return f.hub.Subscribers("t1") == 1 }, time.Second, 10*time.Millisecond)
	f.hub.Publish(domain.DomainZone{TenantID: "t1", Domain: "realty.example", Status: domain.ZoneActive}, domain.ZoneVerifying)

	buf := make([]byte, 512)
	n, err := resp.Body.Read(buf)
	require.NoError(t, err)
	assert.Contains(t, string(buf[:n]), `"domain":"realty.example"`)
}

type collector struct {
	mu   sync.Mutex
	msgs [][]byte
}

func (c *collector) Send(p []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.msgs = append(c.msgs, p)
	return nil
}

func (c *collector) Close() {}

func (c *collector) payloads() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.msgs
}

func ptr(s string) *string { return &s }
