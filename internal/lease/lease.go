// Package lease provides per-domain mutual exclusion for DNS-01 issuance.
// Two workflows writing the TXT record set of the same challenge name would
// otherwise race each other's proofs, so the challenge name is leased for
// the lifetime of an order.
package lease

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

// ErrHeld is returned when another owner holds an unexpired lease.
var ErrHeld = errors.New("domain lease held by another owner")

// HeldError names the domain that could not be leased.
type HeldError struct {
	Domain string
}

func (e *HeldError) Error() string {
	return fmt.Sprintf("lease for %s held by another owner", e.Domain)
}

func (e *HeldError) Unwrap() error { return ErrHeld }

type Lease interface {
	// Acquire leases every domain for owner or none of them.
	Acquire(ctx context.Context, owner string, domains []string, ttl time.Duration) error
	// Release drops the leases owner holds on domains. Leases held by
	// others are left alone.
	Release(ctx context.Context, owner string, domains []string) error
}

// Key maps a requested name to the name whose challenge record it shares.
// "*.example.com" and "example.com" both prove at _acme-challenge.example.com.
func Key(domain string) string {
	return strings.TrimPrefix(strings.ToLower(strings.TrimSuffix(domain, ".")), "*.")
}

// Keys returns the sorted, de-duplicated lease keys for domains. A stable
// order keeps two owners from deadlocking on overlapping sets.
func Keys(domains []string) []string {
	seen := make(map[string]bool, len(domains))
	var out []string
	for _, d := range domains {
		k := Key(d)
		if k == "" || seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Noop never contends. Used when LEASE_BACKEND=none.
type Noop struct{}

func (Noop) Acquire(context.Context, string, []string, time.Duration) error { return nil }
func (Noop) Release(context.Context, string, []string) error                { return nil }
