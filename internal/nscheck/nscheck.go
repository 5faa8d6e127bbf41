// Package nscheck looks up the NS records currently published for a domain.
package nscheck

import (
	"context"
	"strings"

	"github.com/miekg/dns"
)

// Answer is the outcome of one NS lookup. Status follows DNS RCODE numbering.
type Answer struct {
	Status  int
	Records []string
}

// NXDomain reports whether the domain does not exist in public DNS yet.
func (a Answer) NXDomain() bool { return a.Status == dns.RcodeNameError }

// OK reports whether the lookup completed with NOERROR.
func (a Answer) OK() bool { return a.Status == dns.RcodeSuccess }

// Checker queries public DNS for the NS records of a domain. Transport failures and
// timeouts are returned as errors, never as an Answer.
type Checker interface {
	LookupNS(ctx context.Context, domain string) (Answer, error)
}

// Matches reports whether any record points at the expected provider, either by
// containing signature or by equalling one of the expected nameservers.
func (a Answer) Matches(signature string, expected []string) bool {
	signature = strings.ToLower(strings.TrimSpace(signature))
	for _, rec := range a.Records {
		got := canonical(rec)
		if signature != "" && strings.Contains(got, signature) {
			return true
		}
		for _, ns := range expected {
			if got == canonical(ns) {
				return true
			}
		}
	}
	return false
}

func canonical(name string) string {
	return strings.TrimSuffix(strings.ToLower(strings.TrimSpace(name)), ".")
}
