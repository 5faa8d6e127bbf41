package hostname

import (
	"fmt"
	"net"
	"strings"

	"github.com/miekg/dns"

	"github.com/splax/tenantedge/internal/domain"
)

const (
	maxDomainLength = 253
	maxLabelLength  = 63
)

// Validate checks a normalized domain before it is provisioned. Failures are
// *domain.Error values with code invalid_format and a message the tenant can act on.
func Validate(name, baseDomain string) error {
	if name == "" {
		return invalid("domain is required")
	}
	if len(name) > maxDomainLength {
		return invalid(fmt.Sprintf("domain must be at most %d characters", maxDomainLength))
	}
	if strings.Contains(name, "*") {
		return invalid("wildcard domains are not supported")
	}
	if net.ParseIP(name) != nil {
		return invalid("an IP address is not a domain")
	}
	if !strings.Contains(name, ".") {
		return invalid("domain must include a top-level domain, for example example.com")
	}

	labels := strings.Split(name, ".")
	for _, label := range labels {
		if err := validateLabel(label); err != nil {
			return err
		}
	}
	if tld := labels[len(labels)-1]; isNumeric(tld) {
		return invalid("top-level domain cannot be numeric")
	}

	base := strings.TrimSuffix(strings.ToLower(strings.TrimSpace(baseDomain)), ".")
	if base != "" && (name == base || strings.HasSuffix(name, "."+base)) {
		return invalid(fmt.Sprintf("subdomains of %s are assigned automatically and cannot be added as custom domains", base))
	}
	if _, ok := dns.IsDomainName(name); !ok {
		return invalid("domain is not a valid DNS name")
	}
	return nil
}

func validateLabel(label string) error {
	if label == "" {
		return invalid("domain contains an empty label")
	}
	if len(label) > maxLabelLength {
		return invalid(fmt.Sprintf("label %q exceeds %d characters", label, maxLabelLength))
	}
	if strings.HasPrefix(label, "-") || strings.HasSuffix(label, "-") {
		return invalid(fmt.Sprintf("label %q cannot start or end with a hyphen", label))
	}
	for _, c := range label {
		if (c < 'a' || c > 'z') && (c < '0' || c > '9') && c != '-' {
			return invalid(fmt.Sprintf("label %q contains %q; only letters, digits and hyphens are allowed", label, c))
		}
	}
	return nil
}

func isNumeric(s string) bool {
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return s != ""
}

func invalid(msg string) error {
	return domain.NewError(domain.CodeInvalidFormat, msg, nil)
}
