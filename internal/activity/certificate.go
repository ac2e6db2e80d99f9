package activity

import (
	"context"
	"crypto"
	"crypto/x509"
	"fmt"
	"strconv"
	"time"

	"github.com/go-acme/lego/v4/certcrypto"
	pkcs12 "software.sslmate.com/src/go-pkcs12"

	"github.com/edvin/certflow/internal/metrics"
	"github.com/edvin/certflow/internal/model"
	"github.com/edvin/certflow/internal/platform"
	"github.com/edvin/certflow/internal/retry"
)

// pfxPasswordLength is the length of the random per-issuance PFX password.
const pfxPasswordLength = 32

// Certificates packages issued certificates and manages the certificate
// inventory.
type Certificates struct {
	acme      ACMEClient
	resources ResourceManager
	now       func() time.Time
}

// NewCertificates creates a new Certificates activity struct.
func NewCertificates(acme ACMEClient, resources ResourceManager) *Certificates {
	return &Certificates{acme: acme, resources: resources, now: time.Now}
}

// PackageCertificateParams holds parameters for the PackageCertificate activity.
type PackageCertificateParams struct {
	ResourceID string `json:"resource_id"`
	CertURL    string `json:"cert_url"`
	KeyPEM     []byte `json:"key_pem"`
	DNS01      bool   `json:"dns01"`
}

// PackageCertificate downloads the issued chain, bundles it with the key as
// a password-protected PKCS#12 file and uploads it to the resource manager.
// Uploading the same certificate again returns the existing record.
func (a *Certificates) PackageCertificate(ctx context.Context, params PackageCertificateParams) (*model.CertificateRecord, error) {
	chain, err := a.acme.DownloadCertificateChain(ctx, params.CertURL)
	if err != nil {
		return nil, acmeError("download certificate", err)
	}
	if len(chain) == 0 {
		return nil, retry.FinalizeInvalid("empty certificate chain at %s", params.CertURL)
	}

	key, err := certcrypto.ParsePEMPrivateKey(params.KeyPEM)
	if err != nil {
		return nil, retry.Fatal(fmt.Errorf("parse certificate key: %w", err))
	}
	leaf, cas, err := parseChain(chain)
	if err != nil {
		return nil, retry.FinalizeInvalid("%v", err)
	}
	if !publicKeyMatches(leaf, key) {
		return nil, retry.FinalizeInvalid("issued certificate %s does not match the generated key", leaf.Subject.CommonName)
	}

	password := platform.NewSecret(pfxPasswordLength)
	pfx, err := pkcs12.Modern.Encode(key, leaf, cas, password)
	if err != nil {
		return nil, retry.Fatal(fmt.Errorf("encode pfx: %w", err))
	}

	tags := map[string]string{
		model.TagIssuer:       model.IssuerMarker,
		model.TagACMEEndpoint: a.acme.DirectoryURL(),
		model.TagDNS01:        strconv.FormatBool(params.DNS01),
	}
	record, err := a.resources.UploadCertificate(ctx, params.ResourceID, pfx, password, tags)
	if err != nil {
		return nil, retry.NotYet("upload certificate for %s: %v", params.ResourceID, err)
	}

	challenge := model.ChallengeHTTP01
	if params.DNS01 {
		challenge = model.ChallengeDNS01
	}
	metrics.CertificatesIssued.WithLabelValues(challenge).Inc()
	return record, nil
}

func parseChain(chain [][]byte) (*x509.Certificate, []*x509.Certificate, error) {
	leaf, err := x509.ParseCertificate(chain[0])
	if err != nil {
		return nil, nil, fmt.Errorf("parse leaf certificate: %w", err)
	}
	var cas []*x509.Certificate
	for _, der := range chain[1:] {
		ca, err := x509.ParseCertificate(der)
		if err != nil {
			return nil, nil, fmt.Errorf("parse intermediate certificate: %w", err)
		}
		cas = append(cas, ca)
	}
	return leaf, cas, nil
}

func publicKeyMatches(cert *x509.Certificate, key crypto.PrivateKey) bool {
	signer, ok := key.(crypto.Signer)
	if !ok {
		return false
	}
	pub, ok := signer.Public().(interface{ Equal(crypto.PublicKey) bool })
	return ok && pub.Equal(cert.PublicKey)
}

// ExpiringCertificatesParams holds parameters for the GetExpiringCertificates activity.
type ExpiringCertificatesParams struct {
	RenewBefore time.Duration `json:"renew_before"`
}

// GetExpiringCertificates returns the certflow-issued certificates expiring
// within the renewal window. Purchased or uploaded certificates are left alone.
func (a *Certificates) GetExpiringCertificates(ctx context.Context, params ExpiringCertificatesParams) ([]model.CertificateRecord, error) {
	now := a.now()
	records, err := a.resources.GetCertificates(ctx, model.CertificateFilter{
		ExpiringBefore: now.Add(params.RenewBefore),
		Issuer:         model.IssuerMarker,
	})
	if err != nil {
		return nil, retry.NotYet("get expiring certificates: %v", err)
	}
	out := records[:0]
	for _, r := range records {
		if r.IssuedByCertflow() && r.NeedsRenewal(now, params.RenewBefore) {
			out = append(out, r)
		}
	}
	return out, nil
}

// GetIssuedCertificates returns every certificate certflow uploaded.
func (a *Certificates) GetIssuedCertificates(ctx context.Context) ([]model.CertificateRecord, error) {
	records, err := a.resources.GetCertificates(ctx, model.CertificateFilter{Issuer: model.IssuerMarker})
	if err != nil {
		return nil, retry.NotYet("get issued certificates: %v", err)
	}
	return records, nil
}

// DeleteCertificate removes a certificate from the inventory.
func (a *Certificates) DeleteCertificate(ctx context.Context, id string) error {
	if err := a.resources.DeleteCertificate(ctx, id); err != nil {
		return retry.NotYet("delete certificate %s: %v", id, err)
	}
	metrics.CertificatesPurged.Inc()
	return nil
}
