package dnsprovider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	defaultDigitalOceanURL = "https://api.digitalocean.com"
	defaultTimeout         = 15 * time.Second
	maxErrorBodySize       = 4096
)

// DigitalOceanNameservers are assigned to every zone DigitalOcean hosts.
var DigitalOceanNameservers = []string{
	"ns1.digitalocean.com",
	"ns2.digitalocean.com",
	"ns3.digitalocean.com",
}

// DigitalOcean manages zones through the DigitalOcean v2 domains API.
type DigitalOcean struct {
	baseURL string
	token   string
	client  *http.Client
}

// NewDigitalOcean creates a provider authenticated with token.
func NewDigitalOcean(baseURL, token string, client *http.Client) (*DigitalOcean, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, errors.New("digitalocean access token required")
	}
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = defaultDigitalOceanURL
	}
	if client == nil {
		client = &http.Client{Timeout: defaultTimeout}
	} else if client.Timeout == 0 {
		client.Timeout = defaultTimeout
	}
	return &DigitalOcean{baseURL: baseURL, token: token, client: client}, nil
}

// Name implements Provider.
func (d *DigitalOcean) Name() string { return "digitalocean" }

// Signature implements Provider.
func (d *DigitalOcean) Signature() string { return "digitalocean.com" }

// CreateZone creates the domain with an apex A record pointing at ip.
func (d *DigitalOcean) CreateZone(ctx context.Context, domain, ip string) (Zone, error) {
	payload := map[string]string{"name": domain, "ip_address": ip}
	var out struct {
		Domain struct {
			Name string `json:"name"`
		} `json:"domain"`
	}
	if err := d.do(ctx, "create_zone", http.MethodPost, "/v2/domains", payload, &out); err != nil {
		return Zone{}, err
	}
	name := out.Domain.Name
	if name == "" {
		name = domain
	}
	return Zone{
		Domain:      name,
		ProviderID:  name,
		Nameservers: append([]string(nil), DigitalOceanNameservers...),
	}, nil
}

// AddRecord implements Provider.
func (d *DigitalOcean) AddRecord(ctx context.Context, zone Zone, record Record) error {
	payload := map[string]any{
		"type": record.Type,
		"name": record.Name,
		"data": record.Data,
		"ttl":  record.TTL,
	}
	if strings.EqualFold(record.Type, "MX") {
		payload["priority"] = record.Priority
	}
	path := "/v2/domains/" + url.PathEscape(zone.Domain) + "/records"
	return d.do(ctx, "add_record", http.MethodPost, path, payload, nil)
}

// DeleteZone implements Provider.
func (d *DigitalOcean) DeleteZone(ctx context.Context, zone Zone) error {
	return d.do(ctx, "delete_zone", http.MethodDelete, "/v2/domains/"+url.PathEscape(zone.Domain), nil, nil)
}

func (d *DigitalOcean) do(ctx context.Context, op, method, path string, payload, out any) error {
	var body io.Reader
	if payload != nil {
		buf, err := json.Marshal(payload)
		if err != nil {
			return &Error{Provider: d.Name(), Op: op, Err: fmt.Errorf("marshal payload: %w", err)}
		}
		body = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, method, d.baseURL+path, body)
	if err != nil {
		return &Error{Provider: d.Name(), Op: op, Err: fmt.Errorf("build request: %w", err)}
	}
	req.Header.Set("Authorization", "Bearer "+d.token)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return &Error{Provider: d.Name(), Op: op, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusMultipleChoices {
		return &Error{Provider: d.Name(), Op: op, Status: resp.StatusCode, Err: errorForStatus(resp)}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &Error{Provider: d.Name(), Op: op, Status: resp.StatusCode, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}

func errorForStatus(resp *http.Response) error {
	buf, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
	var apiErr struct {
		ID      string `json:"id"`
		Message string `json:"message"`
	}
	summary := strings.TrimSpace(string(buf))
	if json.Unmarshal(buf, &apiErr) == nil && apiErr.Message != "" {
		summary = apiErr.Message
	}
	if summary == "" {
		summary = resp.Status
	}
	if resp.StatusCode == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(summary), "already") {
		return fmt.Errorf("%w: %s", ErrZoneExists, summary)
	}
	return errors.New(summary)
}
