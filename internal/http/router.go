// Package httpx exposes the admin, cron and resolution endpoints and routes
// tenant traffic by host.
package httpx

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/splax/tenantedge/internal/domain"
	"github.com/splax/tenantedge/internal/hostname"
	"github.com/splax/tenantedge/internal/service/provision"
	"github.com/splax/tenantedge/internal/service/resolver"
	"github.com/splax/tenantedge/internal/service/verify"
	"github.com/splax/tenantedge/internal/ws"
)

// HostResolver maps request hosts to tenants.
type HostResolver interface {
	Resolve(ctx context.Context, rawHost string) (resolver.Resolution, error)
	Invalidate(ctx context.Context, rawHost string) error
	Clear(ctx context.Context) error
}

// Provisioner registers custom domains.
type Provisioner interface {
	Provision(ctx context.Context, tenantID, rawDomain string) (*provision.Result, error)
	Configure(ctx context.Context, tenantID, rawDomain string) (*provision.Result, error)
	Status(ctx context.Context, tenantID string) ([]provision.DomainStatus, error)
	AddRecord(ctx context.Context, tenantID, rawDomain string, in provision.RecordInput) (*provision.ZoneRecord, error)
	ListRecords(ctx context.Context, tenantID, rawDomain string) (*provision.RecordList, error)
}

// Verifier runs nameserver verification.
type Verifier interface {
	Sweep(ctx context.Context) (verify.Summary, error)
	VerifyZone(ctx context.Context, name string) (*domain.DomainZone, verify.Outcome, error)
}

// SiteChecker checks manually configured domains.
type SiteChecker interface {
	Check(ctx context.Context, tenantID, rawDomain string) (*verify.SiteCheck, error)
}

// Deps carries everything the router serves. Nil services disable their routes' behaviour
// with a 503.
type Deps struct {
	Logger         *slog.Logger
	Policy         hostname.Policy
	Resolver       HostResolver
	Local          resolver.Strategy
	Provisioner    Provisioner
	Verifier       Verifier
	Sites          SiteChecker
	Hub            *ws.Hub
	Limiter        RateLimiter
	CronToken      string
	AdminToken     string
	AllowedOrigins []string
	SiteBackendURL string
	HealthChecks   map[string]func(context.Context) error
}

// Router wires HTTP endpoints to services.
type Router struct {
	mux         chi.Router
	public      http.Handler
	logger      *slog.Logger
	policy      hostname.Policy
	resolver    HostResolver
	local       resolver.Strategy
	provisioner Provisioner
	verifier    Verifier
	sites       SiteChecker
	hub         *ws.Hub
	limiter     RateLimiter
	proxy       *httputil.ReverseProxy
	upgrader    websocket.Upgrader
	metrics     *httpMetrics
	checks      map[string]func(context.Context) error
}

const (
	rateWindowDefault  = time.Minute
	rateLimitAdmin     = 120
	rateLimitCron      = 12
	rateLimitResolve   = 600
	healthCheckTimeout = 2 * time.Second
	cronSweepTimeout   = 15 * time.Minute
	sseHeartbeat       = 25 * time.Second
)

type tenantContextKey struct{}

var errInvalidBackend = errors.New("site backend must be an absolute URL")

// NewRouter assembles routes with dependencies.
func NewRouter(deps Deps) (*Router, error) {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	r := &Router{
		logger:      logger.With("component", "http"),
		policy:      deps.Policy,
		resolver:    deps.Resolver,
		local:       deps.Local,
		provisioner: deps.Provisioner,
		verifier:    deps.Verifier,
		sites:       deps.Sites,
		hub:         deps.Hub,
		limiter:     deps.Limiter,
		metrics:     newHTTPMetrics(),
		checks:      deps.HealthChecks,
	}
	origins := deps.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.upgrader = websocket.Upgrader{CheckOrigin: r.originChecker(origins)}
	if backend := strings.TrimSpace(deps.SiteBackendURL); backend != "" {
		proxy, err := r.newSiteProxy(backend)
		if err != nil {
			return nil, err
		}
		r.proxy = proxy
	}
	if r.limiter == nil {
		r.limiter = NewMemoryRateLimiter()
	}

	r.mux = r.routes(deps.CronToken, deps.AdminToken, origins)
	r.public = middleware.RequestID(r.audit(middleware.Recoverer(http.HandlerFunc(r.handlePublic))))
	return r, nil
}

// ServeHTTP sends hosts that may belong to a tenant to the public site and every
// other host to the service routes.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	if hostname.Classify(hostname.ExtractHost(req), r.policy).MayHaveTenant() {
		r.public.ServeHTTP(w, req)
		return
	}
	r.mux.ServeHTTP(w, req)
}

// Close releases background resources.
func (r *Router) Close() {
	if r.limiter != nil {
		r.limiter.Close()
	}
}

func (r *Router) routes(cronToken, adminToken string, origins []string) chi.Router {
	mux := chi.NewRouter()
	mux.Use(middleware.RequestID)
	mux.Use(middleware.RealIP)
	mux.Use(r.audit)
	mux.Use(middleware.Recoverer)
	mux.NotFound(func(w http.ResponseWriter, _ *http.Request) { r.notFound(w) })
	mux.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) { r.methodNotAllowed(w) })

	mux.Get("/healthz", r.handleHealthz)
	mux.Handle("/metrics", promhttp.Handler())
	mux.With(r.withRateLimit("resolve", rateLimitResolve, rateWindowDefault)).Get("/resolve", r.handleResolve)

	mux.With(
		r.withRateLimit("cron", rateLimitCron, rateWindowDefault),
		r.requireToken("cron", cronToken),
	).Post("/cron/verify-nameservers", r.handleCronVerify)

	mux.Route("/admin", func(ar chi.Router) {
		ar.Use(cors.Handler(cors.Options{
			AllowedOrigins: origins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders: []string{"Authorization", "Content-Type", "X-Request-ID"},
			MaxAge:         300,
		}))
		ar.Use(r.withRateLimit("admin", rateLimitAdmin, rateWindowDefault))
		ar.Use(r.requireToken("admin", adminToken))

		ar.Route("/tenants/{tenantID}/domains", func(dr chi.Router) {
			dr.Get("/", r.handleDomainStatus)
			dr.Post("/", r.handleProvision)
			dr.Post("/manual", r.handleConfigure)
			dr.Post("/{domain}/check", r.handleSiteCheck)
			dr.Get("/{domain}/records", r.handleListRecords)
			dr.Post("/{domain}/records", r.handleAddRecord)
		})
		ar.Post("/zones/{domain}/verify", r.handleVerifyZone)
		ar.Post("/resolver/invalidate", r.handleInvalidate)
		ar.Get("/ws/zones", r.handleZonesWS)
		ar.Get("/sse/zones", r.handleZonesSSE)
	})
	return mux
}

func (r *Router) handlePublic(w http.ResponseWriter, req *http.Request) {
	host := hostname.ExtractHost(req)
	if r.resolver == nil {
		r.notFound(w)
		return
	}
	res, err := r.resolver.Resolve(req.Context(), host)
	if err != nil {
		r.logger.Warn("tenant resolution failed, refusing request", "host", host, "error", err)
		r.notFound(w)
		return
	}
	if !res.Found {
		r.notFound(w)
		return
	}
	if r.proxy == nil {
		writeJSON(w, http.StatusOK, map[string]string{"tenant_id": res.TenantID, "host": res.Host.Name})
		return
	}
	ctx := context.WithValue(req.Context(), tenantContextKey{}, res.TenantID)
	r.proxy.ServeHTTP(w, req.WithContext(ctx))
}

func (r *Router) newSiteProxy(backend string) (*httputil.ReverseProxy, error) {
	target, err := url.Parse(backend)
	if err != nil || target.Scheme == "" || target.Host == "" {
		return nil, fmt.Errorf("%w: %q", errInvalidBackend, backend)
	}
	return &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.SetURL(target)
			pr.SetXForwarded()
			pr.Out.Header.Del("X-Tenant-ID")
			if tenantID, ok := pr.In.Context().Value(tenantContextKey{}).(string); ok {
				pr.Out.Header.Set("X-Tenant-ID", tenantID)
			}
		},
		ErrorHandler: func(w http.ResponseWriter, req *http.Request, err error) {
			r.logger.Error("site backend unavailable", "host", req.Host, "error", err)
			writeError(w, http.StatusBadGateway, "site temporarily unavailable")
		},
	}, nil
}

func (r *Router) handleHealthz(w http.ResponseWriter, req *http.Request) {
	components := make(map[string]any, len(r.checks))
	status := "ok"
	for name, check := range r.checks {
		ctx, cancel := context.WithTimeout(req.Context(), healthCheckTimeout)
		err := check(ctx)
		cancel()
		if err != nil {
			status = "degraded"
			components[name] = map[string]any{"status": "down", "error": err.Error()}
			continue
		}
		components[name] = map[string]any{"status": "up"}
	}
	code := http.StatusOK
	if status != "ok" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]any{
		"status":     status,
		"components": components,
		"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
	})
}

// handleResolve answers from the database only, so other replicas can use this
// service as their remote strategy.
func (r *Router) handleResolve(w http.ResponseWriter, req *http.Request) {
	raw := strings.TrimSpace(req.URL.Query().Get("host"))
	if raw == "" {
		raw = strings.TrimSpace(req.Header.Get("X-Forwarded-Host"))
	}
	if raw == "" {
		writeError(w, http.StatusBadRequest, "host query parameter required")
		return
	}
	host := hostname.Classify(raw, r.policy)
	if !host.MayHaveTenant() || r.local == nil {
		writeJSON(w, http.StatusOK, map[string]any{"tenant_id": nil})
		return
	}
	res, err := r.local.Lookup(req.Context(), host)
	if err != nil {
		r.logger.Error("local resolution failed", "host", host.Name, "error", err)
		writeDomainError(w, domain.NewError(domain.CodeResolutionFailure, "tenant resolution unavailable", err))
		return
	}
	if !res.Found {
		writeJSON(w, http.StatusOK, map[string]any{"tenant_id": nil})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tenant_id": res.TenantID})
}

func (r *Router) handleCronVerify(w http.ResponseWriter, req *http.Request) {
	if r.verifier == nil {
		writeError(w, http.StatusServiceUnavailable, "verifier not configured")
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(req.Context()), cronSweepTimeout)
	defer cancel()
	summary, err := r.verifier.Sweep(ctx)
	if err != nil {
		r.logger.Error("cron verification sweep failed", "error", err)
		writeError(w, http.StatusInternalServerError, "verification sweep failed")
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (r *Router) methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func (r *Router) notFound(w http.ResponseWriter) {
	writeError(w, http.StatusNotFound, "not found")
}

func (r *Router) originChecker(origins []string) func(*http.Request) bool {
	allowed := make(map[string]bool, len(origins))
	for _, o := range origins {
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
		allowed[normalizeOrigin(o)] = true
	}
	return func(req *http.Request) bool {
		origin := req.Header.Get("Origin")
		return origin == "" || allowed[normalizeOrigin(origin)]
	}
}

func normalizeOrigin(origin string) string {
	return strings.ToLower(strings.TrimSuffix(strings.TrimSpace(origin), "/"))
}
