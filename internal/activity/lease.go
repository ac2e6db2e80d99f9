package activity

import (
	"context"
	"errors"
	"time"

	"github.com/edvin/certflow/internal/lease"
	"github.com/edvin/certflow/internal/retry"
)

// Leases guards DNS-01 challenge records against concurrent orders. The
// lease is taken on the record the proof is written to, so two names that
// delegate _acme-challenge to the same target exclude each other.
type Leases struct {
	lease DomainLease
	names ChallengeNamer
	ttl   time.Duration
}

// NewLeases creates a new Leases activity struct. names may be nil, in
// which case the requested names are leased as given.
func NewLeases(l DomainLease, names ChallengeNamer, ttl time.Duration) *Leases {
	return &Leases{lease: l, names: names, ttl: ttl}
}

// DomainLeaseParams holds parameters for the lease activities.
type DomainLeaseParams struct {
	Owner       string   `json:"owner"`
	DomainNames []string `json:"domain_names"`
}

// AcquireDomainLeases leases the challenge record of every name for the
// owner and returns the leased keys. Release must be called with those
// keys. A record held by another order asks the caller to retry the whole
// order later.
func (a *Leases) AcquireDomainLeases(ctx context.Context, params DomainLeaseParams) ([]string, error) {
	keys := a.recordKeys(params.DomainNames)
	err := a.lease.Acquire(ctx, params.Owner, keys, a.ttl)
	switch {
	case err == nil:
		return keys, nil
	case errors.Is(err, lease.ErrHeld):
		return nil, retry.Restart("%v", err)
	default:
		return nil, retry.NotYet("acquire domain leases: %v", err)
	}
}

// ReleaseDomainLeases drops the owner's leases.
func (a *Leases) ReleaseDomainLeases(ctx context.Context, params DomainLeaseParams) error {
	if err := a.lease.Release(ctx, params.Owner, params.DomainNames); err != nil {
		return retry.NotYet("release domain leases: %v", err)
	}
	return nil
}

func (a *Leases) recordKeys(domains []string) []string {
	keys := lease.Keys(domains)
	if a.names == nil {
		return keys
	}
	records := make([]string, 0, len(keys))
	for _, k := range keys {
		records = append(records, a.names.ChallengeRecordName(k))
	}
	return lease.Keys(records)
}
