package model

import (
	"strings"
	"time"
)

// Tag keys written on every certificate certflow uploads.
const (
	TagIssuer       = "issuer"
	TagACMEEndpoint = "acme-endpoint"
	TagDNS01        = "dns01"

	IssuerMarker = "certflow"
)

// CertificateRecord is a previously issued certificate as stored by the
// resource manager.
type CertificateRecord struct {
	ID            string            `json:"id" db:"id"`
	ResourceGroup string            `json:"resource_group" db:"resource_group"`
	SubjectName   string            `json:"subject_name" db:"subject_name"`
	Thumbprint    string            `json:"thumbprint" db:"thumbprint"`
	Issuer        string            `json:"issuer" db:"issuer"`
	ExpiresAt     time.Time         `json:"expires_at" db:"expires_at"`
	HostNames     []string          `json:"host_names" db:"host_names"`
	Tags          map[string]string `json:"tags" db:"tags"`
	PFXPassword   string            `json:"-" db:"pfx_password"`
	CreatedAt     time.Time         `json:"created_at" db:"created_at"`
}

// CertificateFilter narrows a certificate inventory query. Zero fields do
// not filter.
type CertificateFilter struct {
	ExpiringBefore time.Time `json:"expiring_before"`
	Issuer         string    `json:"issuer"`
}

// NeedsRenewal reports whether the certificate expires within window of now.
func (c CertificateRecord) NeedsRenewal(now time.Time, window time.Duration) bool {
	return c.ExpiresAt.Sub(now) < window
}

// IssuedByCertflow reports whether the record carries the certflow issuer tag.
func (c CertificateRecord) IssuedByCertflow() bool {
	return c.Tags[TagIssuer] == IssuerMarker
}

// UsedDNS01 reports whether the certificate was last issued via DNS-01.
func (c CertificateRecord) UsedDNS01() bool {
	return strings.EqualFold(c.Tags[TagDNS01], "true")
}

// RenewalHostNames returns the host names to request on renewal. Entries
// decorated with a " (" suffix are display artifacts of punycode names and
// are not real DNS names.
func (c CertificateRecord) RenewalHostNames() []string {
	names := make([]string, 0, len(c.HostNames))
	seen := make(map[string]bool, len(c.HostNames))
	for _, n := range c.HostNames {
		if strings.Contains(n, " (") {
			continue
		}
		n = strings.ToLower(strings.TrimSpace(n))
		if n == "" || seen[n] {
			continue
		}
		seen[n] = true
		names = append(names, n)
	}
	return names
}
