// Package inventory reads and writes hosting resources, their TLS bindings
// and uploaded certificates in the hosting platform database.
//
// Tables (owned by the hosting platform):
//
//	resources              (id, name, slot, resource_group, kind text[], storage_path)
//	resource_bindings      (resource_id, host_name, thumbprint, ssl_state, position)
//	resource_virtual_paths (resource_id, virtual_path, physical_path)
//	certificates           (id, resource_group, subject_name, thumbprint unique, issuer,
//	                        expires_at, host_names text[], tags jsonb, pfx bytea,
//	                        pfx_password, created_at)
package inventory

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	pkcs12 "software.sslmate.com/src/go-pkcs12"

	"github.com/edvin/certflow/internal/db"
	"github.com/edvin/certflow/internal/model"
	"github.com/edvin/certflow/internal/platform"
)

type Inventory struct {
	db db.DB
}

func New(db db.DB) *Inventory {
	return &Inventory{db: db}
}

func (i *Inventory) ListResourceGroups(ctx context.Context) ([]string, error) {
	rows, err := i.db.Query(ctx, `SELECT DISTINCT resource_group FROM resources ORDER BY resource_group`)
	if err != nil {
		return nil, fmt.Errorf("list resource groups: %w", err)
	}
	defer rows.Close()

	var groups []string
	for rows.Next() {
		var g string
		if err := rows.Scan(&g); err != nil {
			return nil, fmt.Errorf("scan resource group: %w", err)
		}
		groups = append(groups, g)
	}
	return groups, rows.Err()
}

const resourceColumns = `id, name, COALESCE(slot, ''), resource_group, kind, COALESCE(storage_path, '')`

func scanResource(row pgx.Row, r *model.HostingResource) error {
	return row.Scan(&r.ID, &r.Name, &r.Slot, &r.ResourceGroup, &r.Kind, &r.StoragePath)
}

// ListResources returns every resource in group with its bindings and
// virtual paths.
func (i *Inventory) ListResources(ctx context.Context, group string) ([]model.HostingResource, error) {
	rows, err := i.db.Query(ctx,
		`SELECT `+resourceColumns+` FROM resources WHERE resource_group = $1 ORDER BY name, slot`, group)
	if err != nil {
		return nil, fmt.Errorf("list resources: %w", err)
	}
	var resources []model.HostingResource
	for rows.Next() {
		var r model.HostingResource
		if err := scanResource(rows, &r); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan resource: %w", err)
		}
		resources = append(resources, r)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list resources: %w", err)
	}

	for idx := range resources {
		if err := i.loadChildren(ctx, &resources[idx]); err != nil {
			return nil, err
		}
	}
	return resources, nil
}

// GetResource returns nil, nil when the resource does not exist.
func (i *Inventory) GetResource(ctx context.Context, id string) (*model.HostingResource, error) {
	var r model.HostingResource
	err := scanResource(i.db.QueryRow(ctx, `SELECT `+resourceColumns+` FROM resources WHERE id = $1`, id), &r)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get resource: %w", err)
	}
	if err := i.loadChildren(ctx, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

func (i *Inventory) loadChildren(ctx context.Context, r *model.HostingResource) error {
	rows, err := i.db.Query(ctx,
		`SELECT host_name, COALESCE(thumbprint, ''), ssl_state FROM resource_bindings
		 WHERE resource_id = $1 ORDER BY position`, r.ID)
	if err != nil {
		return fmt.Errorf("list bindings for %s: %w", r.ID, err)
	}
	for rows.Next() {
		var b model.HostBinding
		if err := rows.Scan(&b.HostName, &b.Thumbprint, &b.SSLState); err != nil {
			rows.Close()
			return fmt.Errorf("scan binding: %w", err)
		}
		r.Bindings = append(r.Bindings, b)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("list bindings for %s: %w", r.ID, err)
	}

	rows, err = i.db.Query(ctx,
		`SELECT virtual_path, physical_path FROM resource_virtual_paths WHERE resource_id = $1 ORDER BY virtual_path`, r.ID)
	if err != nil {
		return fmt.Errorf("list virtual paths for %s: %w", r.ID, err)
	}
	defer rows.Close()
	for rows.Next() {
		var vp model.VirtualPath
		if err := rows.Scan(&vp.Path, &vp.PhysicalPath); err != nil {
			return fmt.Errorf("scan virtual path: %w", err)
		}
		r.VirtualPaths = append(r.VirtualPaths, vp)
	}
	return rows.Err()
}

// UpdateBindings writes the thumbprint and SSL state of every binding on r.
// Bindings are matched by host name; rows for other host names are untouched.
func (i *Inventory) UpdateBindings(ctx context.Context, r model.HostingResource) error {
	for _, b := range r.Bindings {
		var thumb any
		if b.Thumbprint != "" {
			thumb = b.Thumbprint
		}
		_, err := i.db.Exec(ctx,
			`UPDATE resource_bindings SET thumbprint = $1, ssl_state = $2
			 WHERE resource_id = $3 AND host_name = $4`,
			thumb, string(b.SSLState), r.ID, b.HostName)
		if err != nil {
			return fmt.Errorf("update binding %s on %s: %w", b.HostName, r.ID, err)
		}
	}
	return nil
}

const certificateColumns = `id, resource_group, subject_name, thumbprint, issuer, expires_at, host_names,
	COALESCE(tags, '{}'::jsonb), COALESCE(pfx_password, ''), created_at`

func scanCertificate(row pgx.Row, c *model.CertificateRecord) error {
	return row.Scan(&c.ID, &c.ResourceGroup, &c.SubjectName, &c.Thumbprint, &c.Issuer,
		&c.ExpiresAt, &c.HostNames, &c.Tags, &c.PFXPassword, &c.CreatedAt)
}

func (i *Inventory) GetCertificates(ctx context.Context, filter model.CertificateFilter) ([]model.CertificateRecord, error) {
	query := `SELECT ` + certificateColumns + ` FROM certificates WHERE true`
	var args []any
	if !filter.ExpiringBefore.IsZero() {
		args = append(args, filter.ExpiringBefore)
		query += fmt.Sprintf(" AND expires_at < $%d", len(args))
	}
	if filter.Issuer != "" {
		args = append(args, filter.Issuer)
		query += fmt.Sprintf(" AND tags->>'%s' = $%d", model.TagIssuer, len(args))
	}
	query += " ORDER BY expires_at"

	rows, err := i.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("get certificates: %w", err)
	}
	defer rows.Close()

	var out []model.CertificateRecord
	for rows.Next() {
		var c model.CertificateRecord
		if err := scanCertificate(rows, &c); err != nil {
			return nil, fmt.Errorf("scan certificate: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// UploadCertificate stores a PKCS#12 blob for the resource's group. The
// record's metadata is read from the blob itself. Uploading the same
// certificate twice returns the existing record, stored tags included.
func (i *Inventory) UploadCertificate(ctx context.Context, resourceID string, pfx []byte, password string, tags map[string]string) (*model.CertificateRecord, error) {
	_, leaf, _, err := pkcs12.DecodeChain(pfx, password)
	if err != nil {
		return nil, fmt.Errorf("decode pfx: %w", err)
	}

	res, err := i.GetResource(ctx, resourceID)
	if err != nil {
		return nil, err
	}
	if res == nil {
		return nil, fmt.Errorf("upload certificate: resource %s not found", resourceID)
	}

	rec := model.CertificateRecord{
		ID:            platform.NewID(),
		ResourceGroup: res.ResourceGroup,
		SubjectName:   leaf.Subject.CommonName,
		Thumbprint:    platform.Thumbprint(leaf.Raw),
		Issuer:        leaf.Issuer.CommonName,
		ExpiresAt:     leaf.NotAfter.UTC(),
		HostNames:     leaf.DNSNames,
		Tags:          tags,
		PFXPassword:   password,
	}

	err = i.db.QueryRow(ctx,
		`INSERT INTO certificates (id, resource_group, subject_name, thumbprint, issuer, expires_at, host_names, tags, pfx, pfx_password)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 ON CONFLICT (thumbprint) DO UPDATE SET tags = certificates.tags
		 RETURNING id, tags, pfx_password, created_at`,
		rec.ID, rec.ResourceGroup, rec.SubjectName, rec.Thumbprint, rec.Issuer, rec.ExpiresAt,
		rec.HostNames, rec.Tags, pfx, password,
	).Scan(&rec.ID, &rec.Tags, &rec.PFXPassword, &rec.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert certificate: %w", err)
	}
	return &rec, nil
}

func (i *Inventory) DeleteCertificate(ctx context.Context, id string) error {
	if _, err := i.db.Exec(ctx, `DELETE FROM certificates WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete certificate %s: %w", id, err)
	}
	return nil
}

func (i *Inventory) SetVirtualPath(ctx context.Context, resourceID string, vp model.VirtualPath) error {
	_, err := i.db.Exec(ctx,
		`INSERT INTO resource_virtual_paths (resource_id, virtual_path, physical_path)
		 VALUES ($1, $2, $3) ON CONFLICT DO NOTHING`,
		resourceID, vp.Path, vp.PhysicalPath)
	if err != nil {
		return fmt.Errorf("set virtual path on %s: %w", resourceID, err)
	}
	return nil
}

// RemoveVirtualPath deletes vp only when both path and physical path match.
func (i *Inventory) RemoveVirtualPath(ctx context.Context, resourceID string, vp model.VirtualPath) error {
	_, err := i.db.Exec(ctx,
		`DELETE FROM resource_virtual_paths WHERE resource_id = $1 AND virtual_path = $2 AND physical_path = $3`,
		resourceID, vp.Path, vp.PhysicalPath)
	if err != nil {
		return fmt.Errorf("remove virtual path on %s: %w", resourceID, err)
	}
	return nil
}
