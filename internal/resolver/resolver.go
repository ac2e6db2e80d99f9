// Package resolver answers the public DNS questions certflow needs while
// proving DNS-01 challenges: the TXT values visible at a challenge name and
// the NS set delegated for a zone.
package resolver

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/miekg/dns"
)

type Resolver struct {
	addr string
	udp  *dns.Client
	tcp  *dns.Client
}

// New returns a resolver that queries the recursive server at addr (host:port).
func New(addr string) *Resolver {
	return &Resolver{
		addr: addr,
		udp:  &dns.Client{Net: "udp", Timeout: 5 * time.Second},
		tcp:  &dns.Client{Net: "tcp", Timeout: 5 * time.Second},
	}
}

// LookupTXT returns every TXT value at name. A name that does not exist
// yields nil, nil.
func (r *Resolver) LookupTXT(ctx context.Context, name string) ([]string, error) {
	resp, err := r.exchange(ctx, name, dns.TypeTXT)
	if err != nil {
		return nil, err
	}
	if resp == nil {
		return nil, nil
	}
	var out []string
	for _, rr := range resp.Answer {
		if txt, ok := rr.(*dns.TXT); ok {
			out = append(out, strings.Join(txt.Txt, ""))
		}
	}
	return out, nil
}

// LookupNS returns the lower-cased name servers for zone without the
// trailing dot.
func (r *Resolver) LookupNS(ctx context.Context, zone string) ([]string, error) {
	resp, err := r.exchange(ctx, zone, dns.TypeNS)
	if err != nil {
		return nil, err
	}
	if resp == nil {
		return nil, nil
	}
	var out []string
	for _, rr := range resp.Answer {
		if ns, ok := rr.(*dns.NS); ok {
			out = append(out, strings.ToLower(strings.TrimSuffix(ns.Ns, ".")))
		}
	}
	return out, nil
}

func (r *Resolver) exchange(ctx context.Context, name string, qtype uint16) (*dns.Msg, error) {
	m := new(dns.Msg)
	m.SetQuestion(dns.Fqdn(name), qtype)
	m.RecursionDesired = true

	resp, _, err := r.udp.ExchangeContext(ctx, m, r.addr)
	if err == nil && resp.Truncated {
		resp, _, err = r.tcp.ExchangeContext(ctx, m, r.addr)
	}
	if err != nil {
		return nil, fmt.Errorf("dns %s query for %s: %w", dns.TypeToString[qtype], name, err)
	}
	switch resp.Rcode {
	case dns.RcodeSuccess:
		return resp, nil
	case dns.RcodeNameError:
		return nil, nil
	default:
		return nil, fmt.Errorf("dns %s query for %s: %s", dns.TypeToString[qtype], name, dns.RcodeToString[resp.Rcode])
	}
}
