package httpx

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/splax/tenantedge/internal/service/provision"
	"github.com/splax/tenantedge/internal/ws"
)

type domainRequest struct {
	Domain string `json:"domain"`
}

func decodeDomain(w http.ResponseWriter, req *http.Request) (string, bool) {
	var payload domainRequest
	if err := json.NewDecoder(io.LimitReader(req.Body, 1<<16)).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return "", false
	}
	payload.Domain = strings.TrimSpace(payload.Domain)
	if payload.Domain == "" {
		writeError(w, http.StatusBadRequest, "domain is required")
		return "", false
	}
	return payload.Domain, true
}

func (r *Router) handleProvision(w http.ResponseWriter, req *http.Request) {
	if r.provisioner == nil {
		writeError(w, http.StatusServiceUnavailable, "provisioning not configured")
		return
	}
	name, ok := decodeDomain(w, req)
	if !ok {
		return
	}
	res, err := r.provisioner.Provision(req.Context(), chi.URLParam(req, "tenantID"), name)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (r *Router) handleConfigure(w http.ResponseWriter, req *http.Request) {
	if r.provisioner == nil {
		writeError(w, http.StatusServiceUnavailable, "provisioning not configured")
		return
	}
	name, ok := decodeDomain(w, req)
	if !ok {
		return
	}
	res, err := r.provisioner.Configure(req.Context(), chi.URLParam(req, "tenantID"), name)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (r *Router) handleDomainStatus(w http.ResponseWriter, req *http.Request) {
	if r.provisioner == nil {
		writeError(w, http.StatusServiceUnavailable, "provisioning not configured")
		return
	}
	statuses, err := r.provisioner.Status(req.Context(), chi.URLParam(req, "tenantID"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"domains": statuses})
}

func (r *Router) handleAddRecord(w http.ResponseWriter, req *http.Request) {
	if r.provisioner == nil {
		writeError(w, http.StatusServiceUnavailable, "provisioning not configured")
		return
	}
	var in provision.RecordInput
	if err := json.NewDecoder(io.LimitReader(req.Body, 1<<16)).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	rec, err := r.provisioner.AddRecord(req.Context(), chi.URLParam(req, "tenantID"), chi.URLParam(req, "domain"), in)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"record": rec})
}

func (r *Router) handleListRecords(w http.ResponseWriter, req *http.Request) {
	if r.provisioner == nil {
		writeError(w, http.StatusServiceUnavailable, "provisioning not configured")
		return
	}
	list, err := r.provisioner.ListRecords(req.Context(), chi.URLParam(req, "tenantID"), chi.URLParam(req, "domain"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (r *Router) handleSiteCheck(w http.ResponseWriter, req *http.Request) {
	if r.sites == nil {
		writeError(w, http.StatusServiceUnavailable, "site checks not configured")
		return
	}
	res, err := r.sites.Check(req.Context(), chi.URLParam(req, "tenantID"), chi.URLParam(req, "domain"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (r *Router) handleVerifyZone(w http.ResponseWriter, req *http.Request) {
	if r.verifier == nil {
		writeError(w, http.StatusServiceUnavailable, "verifier not configured")
		return
	}
	zone, outcome, err := r.verifier.VerifyZone(req.Context(), chi.URLParam(req, "domain"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"domain":                zone.Domain,
		"status":                zone.Status,
		"outcome":               outcome,
		"verification_attempts": zone.VerificationAttempts,
		"last_verification_at":  zone.LastVerificationAt,
		"activated_at":          zone.ActivatedAt,
	})
}

func (r *Router) handleInvalidate(w http.ResponseWriter, req *http.Request) {
	if r.resolver == nil {
		writeError(w, http.StatusServiceUnavailable, "resolver not configured")
		return
	}
	var payload struct {
		Host string `json:"host"`
		All  bool   `json:"all"`
	}
	if err := json.NewDecoder(io.LimitReader(req.Body, 1<<16)).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	host := strings.TrimSpace(payload.Host)
	var err error
	switch {
	case payload.All:
		err = r.resolver.Clear(req.Context())
	case host != "":
		err = r.resolver.Invalidate(req.Context(), host)
	default:
		writeError(w, http.StatusBadRequest, "host or all is required")
		return
	}
	if err != nil {
		r.logger.Warn("resolver invalidation incomplete", "host", host, "all", payload.All, "error", err)
		writeError(w, http.StatusBadGateway, "invalidation was not propagated to every replica")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "invalidated", "host": host, "all": payload.All})
}

func (r *Router) handleZonesWS(w http.ResponseWriter, req *http.Request) {
	tenantID, ok := r.streamTenant(w, req)
	if !ok {
		return
	}
	conn, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.logger.Error("websocket upgrade failed", "error", err)
		return
	}
	client := ws.NewClient(conn, r.logger)
	r.hub.Register(tenantID, client)
	go func() {
		defer func() {
			r.hub.Unregister(tenantID, client)
			client.Close()
		}()
		client.Drain()
	}()
}

func (r *Router) handleZonesSSE(w http.ResponseWriter, req *http.Request) {
	tenantID, ok := r.streamTenant(w, req)
	if !ok {
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	client := ws.NewSSEClient(w, flusher, r.logger)
	r.hub.Register(tenantID, client)
	defer func() {
		r.hub.Unregister(tenantID, client)
		client.Close()
	}()

	ticker := time.NewTicker(sseHeartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-req.Context().Done():
			return
		case <-ticker.C:
			if err := client.Heartbeat(); err != nil {
				return
			}
		}
	}
}

func (r *Router) streamTenant(w http.ResponseWriter, req *http.Request) (string, bool) {
	if r.hub == nil {
		writeError(w, http.StatusServiceUnavailable, "status stream not configured")
		return "", false
	}
	tenantID := strings.TrimSpace(req.URL.Query().Get("tenant_id"))
	if tenantID == "" {
		writeError(w, http.StatusBadRequest, "tenant_id query parameter required")
		return "", false
	}
	return tenantID, true
}
