// Package hostname classifies inbound request hosts and cleans tenant-submitted domains.
// Everything here is pure; no function performs I/O.
package hostname

import (
	"net"
	"net/http"
	"strings"
)

// Kind is the routing class of a request host.
type Kind int

const (
	// KindDev covers development hosts and anything malformed. It never maps to a tenant.
	KindDev Kind = iota
	// KindSubdomain is "{label}.{base}".
	KindSubdomain
	// KindCustomDomain is any other well-formed host.
	KindCustomDomain
	// KindReserved is a subdomain whose label is reserved by the platform. It never maps to a tenant.
	KindReserved
	// KindPlatform is the bare base domain or its www alias.
	KindPlatform
)

func (k Kind) String() string {
	switch k {
	case KindSubdomain:
		return "subdomain"
	case KindCustomDomain:
		return "custom_domain"
	case KindReserved:
		return "reserved"
	case KindPlatform:
		return "platform"
	default:
		return "dev"
	}
}

// Host is a classified request host.
type Host struct {
	Name  string
	Kind  Kind
	Label string
}

// MayHaveTenant reports whether resolution should be attempted for the host.
func (h Host) MayHaveTenant() bool {
	return h.Kind == KindSubdomain || h.Kind == KindCustomDomain
}

// Policy carries the platform constants classification depends on.
type Policy struct {
	BaseDomain     string
	ReservedLabels []string
	DevSuffixes    []string
}

var devHosts = map[string]struct{}{
	"localhost": {},
	"127.0.0.1": {},
	"::1":       {},
	"0.0.0.0":   {},
}

var defaultDevSuffixes = []string{
	".localhost",
	".app.github.dev",
	".preview.app.github.dev",
	".gitpod.io",
	".codespaces.github.com",
}

// Classify maps a raw Host header value to its routing class. It never panics.
func Classify(rawHost string, p Policy) Host {
	name := Clean(rawHost)
	if name == "" || !wellFormed(name) {
		return Host{Name: name, Kind: KindDev}
	}
	if isDevHost(name, p.DevSuffixes) {
		return Host{Name: name, Kind: KindDev}
	}

	base := strings.TrimSuffix(strings.ToLower(strings.TrimSpace(p.BaseDomain)), ".")
	if base != "" {
		if name == base || name == "www."+base {
			return Host{Name: name, Kind: KindPlatform}
		}
		if label, ok := strings.CutSuffix(name, "."+base); ok {
			if isReserved(label, p.ReservedLabels) {
				return Host{Name: name, Kind: KindReserved, Label: label}
			}
			return Host{Name: name, Kind: KindSubdomain, Label: label}
		}
	}
	return Host{Name: name, Kind: KindCustomDomain}
}

// Clean lowercases a host and strips any port and trailing dot.
func Clean(rawHost string) string {
	h := strings.ToLower(strings.TrimSpace(rawHost))
	if h == "" {
		return ""
	}
	if strings.HasPrefix(h, "[") {
		if host, _, err := net.SplitHostPort(h); err == nil {
			h = host
		} else {
			h = strings.TrimSuffix(strings.TrimPrefix(h, "["), "]")
		}
	} else if strings.Count(h, ":") == 1 {
		h = h[:strings.IndexByte(h, ':')]
	}
	return strings.TrimRight(h, ".")
}

// ExtractHost returns the host a request was addressed to.
func ExtractHost(r *http.Request) string {
	if r == nil {
		return ""
	}
	if r.Host != "" {
		return r.Host
	}
	for _, header := range []string{"X-Forwarded-Host", "X-Original-Host"} {
		if v := r.Header.Get(header); v != "" {
			first, _, _ := strings.Cut(v, ",")
			return strings.TrimSpace(first)
		}
	}
	return ""
}

func isDevHost(name string, suffixes []string) bool {
	if _, ok := devHosts[name]; ok {
		return true
	}
	if ip := net.ParseIP(name); ip != nil {
		return true
	}
	if len(suffixes) == 0 {
		suffixes = defaultDevSuffixes
	}
	for _, suffix := range suffixes {
		if suffix == "" {
			continue
		}
		if !strings.HasPrefix(suffix, ".") {
			suffix = "." + suffix
		}
		if strings.HasSuffix(name, suffix) {
			return true
		}
	}
	return false
}

func isReserved(label string, reserved []string) bool {
	for _, r := range reserved {
		if strings.EqualFold(label, strings.TrimSpace(r)) {
			return true
		}
	}
	return false
}

// wellFormed accepts the hostname alphabet, or an IPv6 literal.
func wellFormed(name string) bool {
	if len(name) > 253 {
		return false
	}
	if strings.Contains(name, ":") {
		return net.ParseIP(name) != nil
	}
	for i := 0; i < len(name); i++ {
		c := name[i]
		switch {
		case c >= 'a' && c <= 'z', c >= '0' && c <= '9', c == '-', c == '.', c == '_':
		default:
			return false
		}
	}
	return !strings.Contains(name, "..")
}
