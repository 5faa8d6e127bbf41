package nscheck

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
)

const (
	defaultDoHURL    = "https://dns.google/resolve"
	defaultTimeout   = 5 * time.Second
	maxErrorBodySize = 4096
)

// ErrInvalidResponse indicates the resolver returned a payload that could not be decoded.
var ErrInvalidResponse = errors.New("nscheck: invalid doh response")

// DoH queries a JSON DNS-over-HTTPS endpoint in the dns.google/resolve format.
type DoH struct {
	endpoint string
	client   *http.Client
}

type dohResponse struct {
	Status int `json:"Status"`
	Answer []struct {
		Name string `json:"name"`
		Type int    `json:"type"`
		Data string `json:"data"`
	} `json:"Answer"`
}

// NewDoH creates a DoH checker. An empty endpoint selects Google public DNS.
func NewDoH(endpoint string, client *http.Client) *DoH {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		endpoint = defaultDoHURL
	}
	if client == nil {
		client = &http.Client{Timeout: defaultTimeout}
	} else if client.Timeout == 0 {
		client.Timeout = defaultTimeout
	}
	return &DoH{endpoint: endpoint, client: client}
}

// LookupNS implements Checker.
func (d *DoH) LookupNS(ctx context.Context, domain string) (Answer, error) {
	u, err := url.Parse(d.endpoint)
	if err != nil {
		return Answer{}, fmt.Errorf("parse doh endpoint: %w", err)
	}
	q := u.Query()
	q.Set("name", domain)
	q.Set("type", "NS")
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return Answer{}, fmt.Errorf("build doh request: %w", err)
	}
	req.Header.Set("Accept", "application/dns-json")

	resp, err := d.client.Do(req)
	if err != nil {
		return Answer{}, fmt.Errorf("send doh request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		buf, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
		summary := strings.TrimSpace(string(buf))
		if summary == "" {
			summary = resp.Status
		}
		return Answer{}, fmt.Errorf("doh lookup failed: %s", summary)
	}

	var payload dohResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return Answer{}, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	answer := Answer{Status: payload.Status, Records: make([]string, 0, len(payload.Answer))}
	for _, rec := range payload.Answer {
		if data := strings.TrimSpace(rec.Data); data != "" {
			answer.Records = append(answer.Records, data)
		}
	}
	return answer, nil
}
