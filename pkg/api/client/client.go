// Package client is a typed client for the tenantedge admin and cron endpoints.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client calls a tenantedge API with a bearer token.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// Option customises client instantiation.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		if h != nil {
			c.httpClient = h
		}
	}
}

// New constructs a Client for base. The token is sent on every request.
func New(base, token string, opts ...Option) (*Client, error) {
	trimmed := strings.TrimSpace(base)
	if trimmed == "" {
		trimmed = "http://localhost:4000"
	}
	if !strings.HasPrefix(trimmed, "http://") && !strings.HasPrefix(trimmed, "https://") {
		trimmed = "http://" + trimmed
	}
	if _, err := url.Parse(trimmed); err != nil {
		return nil, fmt.Errorf("invalid api base url: %w", err)
	}
	cli := &Client{
		baseURL:    strings.TrimRight(trimmed, "/"),
		token:      strings.TrimSpace(token),
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
	for _, opt := range opts {
		opt(cli)
	}
	return cli, nil
}

// APIError is a non-2xx answer. Code carries the machine-readable error code when present.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("api request failed with status %d", e.Status)
	}
	if e.Code != "" {
		return fmt.Sprintf("api request failed (%d %s): %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("api request failed (%d): %s", e.Status, e.Message)
}

func (c *Client) do(ctx context.Context, method, path string, body, v any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request body: %w", err)
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return decodeError(resp)
	}
	if v == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	apiErr := APIError{Status: resp.StatusCode}
	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err != nil || len(data) == 0 {
		return apiErr
	}
	var payload struct {
		Code  string `json:"code"`
		Error string `json:"error"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		apiErr.Message = strings.TrimSpace(string(data))
		return apiErr
	}
	apiErr.Code = payload.Code
	apiErr.Message = strings.TrimSpace(payload.Error)
	return apiErr
}

// Instructions tell the tenant how to point the domain at the platform.
type Instructions struct {
	Title            string   `json:"title"`
	Steps            []string `json:"steps"`
	NameserversList  []string `json:"nameservers_list,omitempty"`
	Note             string   `json:"note"`
	AutoVerification string   `json:"auto_verification,omitempty"`
}

// DNSRecord is a record the tenant creates for a manual domain.
type DNSRecord struct {
	Type  string `json:"type"`
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Provisioned is returned when a domain is registered.
type Provisioned struct {
	ZoneID       string       `json:"zone_id,omitempty"`
	Domain       string       `json:"domain"`
	Nameservers  []string     `json:"nameservers,omitempty"`
	Records      []DNSRecord  `json:"records,omitempty"`
	Manual       bool         `json:"manual"`
	Instructions Instructions `json:"instructions"`
}

// DomainStatus is one domain of a tenant.
type DomainStatus struct {
	Domain        string     `json:"domain"`
	Kind          string     `json:"kind"`
	Status        string     `json:"status"`
	Attempts      int        `json:"attempts,omitempty"`
	MaxAttempts   int        `json:"max_attempts,omitempty"`
	Nameservers   []string   `json:"nameservers,omitempty"`
	LastCheckedAt *time.Time `json:"last_checked_at,omitempty"`
	ActivatedAt   *time.Time `json:"activated_at,omitempty"`
	Guidance      string     `json:"guidance"`
}

// SiteCheck is the result of probing a manual domain.
type SiteCheck struct {
	Domain     string `json:"domain"`
	IsValid    bool   `json:"is_valid"`
	Status     string `json:"status"`
	Message    string `json:"message"`
	Suggestion string `json:"suggestion,omitempty"`
}

// ZoneVerification is the result of an on-demand zone check.
type ZoneVerification struct {
	Domain               string     `json:"domain"`
	Status               string     `json:"status"`
	Outcome              string     `json:"outcome"`
	VerificationAttempts int        `json:"verification_attempts"`
	LastVerificationAt   *time.Time `json:"last_verification_at"`
	ActivatedAt          *time.Time `json:"activated_at"`
}

// SweepSummary counts what one verification sweep did.
type SweepSummary struct {
	Verified int  `json:"verified"`
	Failed   int  `json:"failed"`
	Pending  int  `json:"pending"`
	Errored  int  `json:"errored"`
	Total    int  `json:"total"`
	Skipped  bool `json:"skipped,omitempty"`
}

// ZoneRecord is a tenant-managed record of an active zone. Priority is set for MX only.
type ZoneRecord struct {
	ID        string    `json:"id,omitempty"`
	Type      string    `json:"type"`
	Name      string    `json:"name"`
	Value     string    `json:"value"`
	Priority  *int      `json:"priority,omitempty"`
	TTL       int       `json:"ttl,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// RecordList is a zone with its records, newest first.
type RecordList struct {
	ZoneID      string       `json:"zone_id"`
	Domain      string       `json:"domain"`
	Status      string       `json:"status"`
	Nameservers []string     `json:"nameservers"`
	ActivatedAt *time.Time   `json:"activated_at,omitempty"`
	Records     []ZoneRecord `json:"records"`
	Count       int          `json:"count"`
}

func domainsPath(tenantID string) string {
	return "/admin/tenants/" + url.PathEscape(tenantID) + "/domains"
}

// Provision registers name as a provider-hosted zone for tenantID.
func (c *Client) Provision(ctx context.Context, tenantID, name string) (Provisioned, error) {
	var out Provisioned
	err := c.do(ctx, http.MethodPost, domainsPath(tenantID)+"/", map[string]string{"domain": name}, &out)
	return out, err
}

// Configure registers name for manual DNS configuration.
func (c *Client) Configure(ctx context.Context, tenantID, name string) (Provisioned, error) {
	var out Provisioned
	err := c.do(ctx, http.MethodPost, domainsPath(tenantID)+"/manual", map[string]string{"domain": name}, &out)
	return out, err
}

// Domains lists every domain of tenantID.
func (c *Client) Domains(ctx context.Context, tenantID string) ([]DomainStatus, error) {
	var out struct {
		Domains []DomainStatus `json:"domains"`
	}
	if err := c.do(ctx, http.MethodGet, domainsPath(tenantID)+"/", nil, &out); err != nil {
		return nil, err
	}
	return out.Domains, nil
}

// CheckSite checks a manual domain over HTTPS.
func (c *Client) CheckSite(ctx context.Context, tenantID, name string) (SiteCheck, error) {
	var out SiteCheck
	err := c.do(ctx, http.MethodPost, domainsPath(tenantID)+"/"+url.PathEscape(name)+"/check", nil, &out)
	return out, err
}

// AddRecord adds rec to the tenant's active zone for name.
func (c *Client) AddRecord(ctx context.Context, tenantID, name string, rec ZoneRecord) (ZoneRecord, error) {
	var out struct {
		Record ZoneRecord `json:"record"`
	}
	err := c.do(ctx, http.MethodPost, domainsPath(tenantID)+"/"+url.PathEscape(name)+"/records", rec, &out)
	return out.Record, err
}

// Records lists the records of the tenant's zone for name.
func (c *Client) Records(ctx context.Context, tenantID, name string) (RecordList, error) {
	var out RecordList
	err := c.do(ctx, http.MethodGet, domainsPath(tenantID)+"/"+url.PathEscape(name)+"/records", nil, &out)
	return out, err
}

// VerifyZone runs one nameserver check for name.
func (c *Client) VerifyZone(ctx context.Context, name string) (ZoneVerification, error) {
	var out ZoneVerification
	err := c.do(ctx, http.MethodPost, "/admin/zones/"+url.PathEscape(name)+"/verify", nil, &out)
	return out, err
}

// Invalidate drops cached resolutions for host, or every host when host is empty.
func (c *Client) Invalidate(ctx context.Context, host string) error {
	body := map[string]any{"host": host}
	if strings.TrimSpace(host) == "" {
		body = map[string]any{"all": true}
	}
	return c.do(ctx, http.MethodPost, "/admin/resolver/invalidate", body, nil)
}

// TriggerSweep runs a verification sweep through the cron endpoint.
func (c *Client) TriggerSweep(ctx context.Context) (SweepSummary, error) {
	var out SweepSummary
	err := c.do(ctx, http.MethodPost, "/cron/verify-nameservers", nil, &out)
	return out, err
}
