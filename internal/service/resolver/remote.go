package resolver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/splax/tenantedge/internal/hostname"
)

const (
	defaultRemoteTimeout = 2 * time.Second
	maxErrorBodySize     = 4096
)

// ErrRemoteInvalidResponse indicates the remote resolver answered with an undecodable body.
var ErrRemoteInvalidResponse = errors.New("remote resolver invalid response")

// Remote asks an authoritative resolver service over HTTP.
//
//	GET {baseURL}/resolve?host=acme.platform.com  ->  {"tenant_id": "t1"} | {"tenant_id": null}
type Remote struct {
	baseURL string
	token   string
	timeout time.Duration
	client  *http.Client
}

// NewRemote creates the remote strategy.
func NewRemote(baseURL, token string, timeout time.Duration, client *http.Client) (*Remote, error) {
	trimmed := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if trimmed == "" {
		return nil, errors.New("remote resolver url required")
	}
	if timeout <= 0 {
		timeout = defaultRemoteTimeout
	}
	if client == nil {
		client = &http.Client{}
	}
	return &Remote{baseURL: trimmed, token: strings.TrimSpace(token), timeout: timeout, client: client}, nil
}

// Name implements Strategy.
func (r *Remote) Name() string { return "remote" }

// Lookup implements Strategy.
func (r *Remote) Lookup(ctx context.Context, host hostname.Host) (Result, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	endpoint := r.baseURL + "/resolve?" + url.Values{"host": {host.Name}}.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return Result{}, fmt.Errorf("build remote resolve request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Forwarded-Host", host.Name)
	if r.token != "" {
		req.Header.Set("Authorization", "Bearer "+r.token)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("remote resolve: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusMultipleChoices {
		buf, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
		summary := strings.TrimSpace(string(buf))
		if summary == "" {
			summary = resp.Status
		}
		return Result{}, fmt.Errorf("remote resolve failed: %s", summary)
	}

	var payload struct {
		TenantID *string `json:"tenant_id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrRemoteInvalidResponse, err)
	}
	if payload.TenantID == nil || *payload.TenantID == "" {
		return Result{}, nil
	}
	return Result{TenantID: *payload.TenantID, Found: true}, nil
}
