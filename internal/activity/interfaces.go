package activity

import (
	"context"
	"time"

	"github.com/edvin/certflow/internal/model"
)

// ResourceManager is the hosting platform's resource and certificate
// inventory. *inventory.Inventory satisfies it.
type ResourceManager interface {
	ListResourceGroups(ctx context.Context) ([]string, error)
	ListResources(ctx context.Context, group string) ([]model.HostingResource, error)
	// GetResource returns nil, nil when the resource does not exist.
	GetResource(ctx context.Context, id string) (*model.HostingResource, error)
	UpdateBindings(ctx context.Context, r model.HostingResource) error
	GetCertificates(ctx context.Context, filter model.CertificateFilter) ([]model.CertificateRecord, error)
	UploadCertificate(ctx context.Context, resourceID string, pfx []byte, password string, tags map[string]string) (*model.CertificateRecord, error)
	DeleteCertificate(ctx context.Context, id string) error
	SetVirtualPath(ctx context.Context, resourceID string, vp model.VirtualPath) error
	RemoveVirtualPath(ctx context.Context, resourceID string, vp model.VirtualPath) error
}

// DNSProvider manages records in the zones certflow is authoritative for.
// *powerdns.Provider satisfies it.
type DNSProvider interface {
	ListZones(ctx context.Context) ([]model.Zone, error)
	// GetTXTRecord returns nil, nil when no record set exists at name.
	GetTXTRecord(ctx context.Context, zone model.Zone, name string) (*model.TXTRecordSet, error)
	UpsertTXTRecord(ctx context.Context, zone model.Zone, name string, values []string, correlationTag string) error
	DeleteTXTRecord(ctx context.Context, zone model.Zone, name string) error
	QueryNameServers(ctx context.Context, zoneName string) ([]string, error)
}

// Resolver answers from public DNS. *resolver.Resolver satisfies it.
type Resolver interface {
	LookupTXT(ctx context.Context, name string) ([]string, error)
	LookupNS(ctx context.Context, zone string) ([]string, error)
}

// ACMEClient is an ACME client bound to a registered account.
// *acmeclient.Client satisfies it.
type ACMEClient interface {
	DirectoryURL() string
	CreateOrder(ctx context.Context, names []string) (*model.Order, error)
	GetOrder(ctx context.Context, orderURL string) (*model.Order, error)
	GetAuthorization(ctx context.Context, authzURL string) (*model.Authorization, error)
	HTTP01Proof(token string) (path, body string, err error)
	DNS01Proof(domain, token string) (name, value string, err error)
	AnswerChallenge(ctx context.Context, challengeURL string) error
	FinalizeOrder(ctx context.Context, order model.Order, csr []byte) (*model.Order, error)
	DownloadCertificateChain(ctx context.Context, certURL string) ([][]byte, error)
}

// FilePublisher writes into a resource's document root.
// *storage.S3Publisher satisfies it.
type FilePublisher interface {
	WriteFile(ctx context.Context, resource *model.HostingResource, path string, content []byte) error
	FileExists(ctx context.Context, resource *model.HostingResource, path string) (bool, error)
	DeleteFile(ctx context.Context, resource *model.HostingResource, path string) error
}

// Notifier delivers completion events. *notify.Webhook satisfies it.
type Notifier interface {
	Notify(ctx context.Context, event string, payload any) error
}

// ChallengeNamer resolves the TXT record name a DNS-01 proof for domain
// lands on. *acmeclient.Client satisfies it.
type ChallengeNamer interface {
	ChallengeRecordName(domain string) string
}

// DomainLease provides per-domain mutual exclusion for DNS-01 provisioning.
// lease.Postgres, lease.Redis and lease.Noop satisfy it.
type DomainLease interface {
	Acquire(ctx context.Context, owner string, domains []string, ttl time.Duration) error
	Release(ctx context.Context, owner string, domains []string) error
}
