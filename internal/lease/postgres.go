package lease

import (
	"context"
	"fmt"
	"time"

	"github.com/edvin/certflow/internal/db"
)

// Postgres keeps leases in the certflow domain_leases table.
type Postgres struct {
	db db.DB
}

func NewPostgres(db db.DB) *Postgres {
	return &Postgres{db: db}
}

func (p *Postgres) Acquire(ctx context.Context, owner string, domains []string, ttl time.Duration) error {
	keys := Keys(domains)
	var acquired []string
	for _, k := range keys {
		tag, err := p.db.Exec(ctx,
			`INSERT INTO domain_leases (domain, owner, acquired_at, expires_at)
			 VALUES ($1, $2, now(), now() + make_interval(secs => $3))
			 ON CONFLICT (domain) DO UPDATE
			   SET owner = EXCLUDED.owner, acquired_at = EXCLUDED.acquired_at, expires_at = EXCLUDED.expires_at
			 WHERE domain_leases.expires_at < now() OR domain_leases.owner = EXCLUDED.owner`,
			k, owner, ttl.Seconds())
		if err != nil {
			p.rollback(ctx, owner, acquired)
			return fmt.Errorf("acquire lease for %s: %w", k, err)
		}
		if tag.RowsAffected() == 0 {
			p.rollback(ctx, owner, acquired)
			return &HeldError{Domain: k}
		}
		acquired = append(acquired, k)
	}
	return nil
}

func (p *Postgres) Release(ctx context.Context, owner string, domains []string) error {
	keys := Keys(domains)
	if len(keys) == 0 {
		return nil
	}
	if _, err := p.db.Exec(ctx,
		`DELETE FROM domain_leases WHERE domain = ANY($1) AND owner = $2`, keys, owner); err != nil {
		return fmt.Errorf("release leases: %w", err)
	}
	return nil
}

func (p *Postgres) rollback(ctx context.Context, owner string, keys []string) {
	if len(keys) == 0 {
		return
	}
	// Best effort; the rows expire on their own.
	_ = p.Release(ctx, owner, keys)
}
