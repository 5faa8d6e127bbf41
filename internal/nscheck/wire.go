package nscheck

import (
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/miekg/dns"
)

// Wire sends NS queries directly to a recursive resolver over UDP, retrying over
// TCP when the reply is truncated.
type Wire struct {
	server string
	udp    *dns.Client
	tcp    *dns.Client
}

// NewWire creates a checker for server ("host" or "host:port").
func NewWire(server string, timeout time.Duration) *Wire {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	server = strings.TrimSpace(server)
	if _, _, err := net.SplitHostPort(server); err != nil {
		server = net.JoinHostPort(server, "53")
	}
	return &Wire{
		server: server,
		udp:    &dns.Client{Net: "udp", Timeout: timeout},
		tcp:    &dns.Client{Net: "tcp", Timeout: timeout},
	}
}

// LookupNS implements Checker.
func (w *Wire) LookupNS(ctx context.Context, domain string) (Answer, error) {
	msg := new(dns.Msg)
	msg.SetQuestion(dns.Fqdn(domain), dns.TypeNS)
	msg.RecursionDesired = true

	reply, _, err := w.udp.ExchangeContext(ctx, msg, w.server)
	if err == nil && reply != nil && reply.Truncated {
		reply, _, err = w.tcp.ExchangeContext(ctx, msg, w.server)
	}
	if err != nil {
		return Answer{}, fmt.Errorf("dns exchange with %s: %w", w.server, err)
	}
	if reply == nil {
		return Answer{}, fmt.Errorf("dns exchange with %s: empty reply", w.server)
	}

	answer := Answer{Status: reply.Rcode}
	for _, rr := range reply.Answer {
		if ns, ok := rr.(*dns.NS); ok {
			answer.Records = append(answer.Records, ns.Ns)
		}
	}
	return answer, nil
}
