package verify

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/splax/tenantedge/internal/domain"
	"github.com/splax/tenantedge/internal/hostname"
	"github.com/splax/tenantedge/internal/repository"
)

// Site check states reported for manually configured domains.
const (
	SitePropagated    = "propagated"
	SiteNotPropagated = "not_propagated"
	SiteTimeout       = "timeout"
)

// Invalidator drops cached resolutions for a host.
type Invalidator interface {
	Invalidate(ctx context.Context, host string) error
}

// SiteCheck is the outcome of one manual-domain check.
type SiteCheck struct {
	Domain     string `json:"domain"`
	IsValid    bool   `json:"is_valid"`
	Status     string `json:"status"`
	Message    string `json:"message"`
	Suggestion string `json:"suggestion,omitempty"`
}

// SiteVerifier verifies manual domains by requesting the site over HTTPS. Any answer
// below 500 proves DNS already points at an HTTP server.
type SiteVerifier struct {
	verifications repository.VerificationRepository
	client        *http.Client
	invalidator   Invalidator
	logger        *slog.Logger
	urlFor        func(domain string) string
}

// NewSiteVerifier builds a site verifier with the given per-request timeout.
func NewSiteVerifier(verifications repository.VerificationRepository, timeout time.Duration, invalidator Invalidator, logger *slog.Logger) *SiteVerifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &SiteVerifier{
		verifications: verifications,
		client:        &http.Client{Timeout: timeout},
		invalidator:   invalidator,
		logger:        logger.With("component", "site_verifier"),
		urlFor:        func(d string) string { return "https://" + d },
	}
}

// Check requests rawDomain for tenantID and records the result.
func (p *SiteVerifier) Check(ctx context.Context, tenantID, rawDomain string) (*SiteCheck, error) {
	name := hostname.Normalize(rawDomain)
	if tenantID == "" || name == "" {
		return nil, domain.NewError(domain.CodeInvalidFormat, "tenant id and domain are required", nil)
	}
	if _, err := p.verifications.GetVerification(ctx, tenantID, name); err != nil {
		return nil, err
	}

	result := &SiteCheck{Domain: name}
	err := p.request(ctx, name)
	switch {
	case err == nil:
		result.IsValid = true
		result.Status = SitePropagated
		result.Message = "DNS is configured correctly and the domain is reachable."
	case isTimeout(err):
		result.Status = SiteTimeout
		result.Message = "Connection timed out. DNS may not be configured yet."
	default:
		result.Status = SiteNotPropagated
		result.Message = "DNS verification failed: " + err.Error()
	}
	if !result.IsValid {
		result.Suggestion = "Check the DNS records and allow up to 48 hours for propagation."
	}

	if err := p.verifications.MarkVerification(ctx, tenantID, name, result.IsValid); err != nil {
		return nil, fmt.Errorf("record site check: %w", err)
	}
	// Either outcome can change routing, so cached resolutions for the domain are dropped.
	if p.invalidator != nil {
		if err := p.invalidator.Invalidate(ctx, name); err != nil {
			p.logger.Warn("resolver cache invalidation failed", "domain", name, "error", err)
		}
	}
	p.logger.Info("manual domain checked", "tenant_id", tenantID, "domain", name, "status", result.Status)
	return result, nil
}

func (p *SiteVerifier) request(ctx context.Context, name string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, p.urlFor(name), nil)
	if err != nil {
		return err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode >= http.StatusInternalServerError {
		return fmt.Errorf("site answered %s", strings.ToLower(http.StatusText(resp.StatusCode)))
	}
	return nil
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var te interface{ Timeout() bool }
	return errors.As(err, &te) && te.Timeout()
}
