// Package powerdns manages ACME challenge TXT records directly in the
// PowerDNS generic SQL backend (domains, records and comments tables).
//
// The correlation tag of the workflow that last wrote a TXT record set is
// kept as a PowerDNS comment on that name, owned by the "certflow" account.
package powerdns

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/edvin/certflow/internal/db"
	"github.com/edvin/certflow/internal/model"
)

const (
	commentAccount = "certflow"
	txtTTL         = 60
)

type Provider struct {
	db db.DB
}

func New(db db.DB) *Provider {
	return &Provider{db: db}
}

func (p *Provider) ListZones(ctx context.Context) ([]model.Zone, error) {
	rows, err := p.db.Query(ctx, `SELECT id, name FROM domains ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list dns zones: %w", err)
	}
	defer rows.Close()

	var zones []model.Zone
	for rows.Next() {
		var z model.Zone
		if err := rows.Scan(&z.ID, &z.Name); err != nil {
			return nil, fmt.Errorf("scan dns zone: %w", err)
		}
		zones = append(zones, z)
	}
	return zones, rows.Err()
}

// GetTXTRecord returns nil, nil when no TXT record exists at name.
func (p *Provider) GetTXTRecord(ctx context.Context, zone model.Zone, name string) (*model.TXTRecordSet, error) {
	rows, err := p.db.Query(ctx,
		`SELECT content FROM records WHERE domain_id = $1 AND name = $2 AND type = 'TXT' ORDER BY id`,
		zone.ID, name)
	if err != nil {
		return nil, fmt.Errorf("get txt record: %w", err)
	}
	var values []string
	for rows.Next() {
		var content string
		if err := rows.Scan(&content); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan txt record: %w", err)
		}
		values = append(values, unquote(content))
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("get txt record: %w", err)
	}
	if len(values) == 0 {
		return nil, nil
	}

	set := &model.TXTRecordSet{Zone: zone.Name, Name: name, Values: values}
	err = p.db.QueryRow(ctx,
		`SELECT comment FROM comments WHERE domain_id = $1 AND name = $2 AND type = 'TXT' AND account = $3
		 ORDER BY modified_at DESC LIMIT 1`,
		zone.ID, name, commentAccount,
	).Scan(&set.CorrelationTag)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("get txt correlation tag: %w", err)
	}
	return set, nil
}

// UpsertTXTRecord replaces the TXT record set at name with values and
// records correlationTag as its owner.
func (p *Provider) UpsertTXTRecord(ctx context.Context, zone model.Zone, name string, values []string, correlationTag string) error {
	if err := p.DeleteTXTRecord(ctx, zone, name); err != nil {
		return err
	}
	for _, v := range values {
		_, err := p.db.Exec(ctx,
			`INSERT INTO records (domain_id, name, type, content, ttl, prio, auth) VALUES ($1, $2, 'TXT', $3, $4, 0, true)`,
			zone.ID, name, quote(v), txtTTL)
		if err != nil {
			return fmt.Errorf("write txt record %s: %w", name, err)
		}
	}
	_, err := p.db.Exec(ctx,
		`INSERT INTO comments (domain_id, name, type, modified_at, account, comment) VALUES ($1, $2, 'TXT', $3, $4, $5)`,
		zone.ID, name, time.Now().Unix(), commentAccount, correlationTag)
	if err != nil {
		return fmt.Errorf("write txt correlation tag %s: %w", name, err)
	}
	return nil
}

func (p *Provider) DeleteTXTRecord(ctx context.Context, zone model.Zone, name string) error {
	if _, err := p.db.Exec(ctx,
		`DELETE FROM records WHERE domain_id = $1 AND name = $2 AND type = 'TXT'`, zone.ID, name); err != nil {
		return fmt.Errorf("delete txt record %s: %w", name, err)
	}
	if _, err := p.db.Exec(ctx,
		`DELETE FROM comments WHERE domain_id = $1 AND name = $2 AND type = 'TXT' AND account = $3`,
		zone.ID, name, commentAccount); err != nil {
		return fmt.Errorf("delete txt correlation tag %s: %w", name, err)
	}
	return nil
}

// QueryNameServers returns the NS records the provider serves at the zone apex.
func (p *Provider) QueryNameServers(ctx context.Context, zoneName string) ([]string, error) {
	rows, err := p.db.Query(ctx,
		`SELECT r.content FROM records r JOIN domains d ON d.id = r.domain_id
		 WHERE d.name = $1 AND r.name = $1 AND r.type = 'NS' ORDER BY r.content`, zoneName)
	if err != nil {
		return nil, fmt.Errorf("query name servers for %s: %w", zoneName, err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var ns string
		if err := rows.Scan(&ns); err != nil {
			return nil, fmt.Errorf("scan name server: %w", err)
		}
		out = append(out, strings.ToLower(strings.TrimSuffix(ns, ".")))
	}
	return out, rows.Err()
}

func quote(v string) string {
	return `"` + v + `"`
}

func unquote(v string) string {
	if len(v) >= 2 && strings.HasPrefix(v, `"`) && strings.HasSuffix(v, `"`) {
		return v[1 : len(v)-1]
	}
	return v
}
