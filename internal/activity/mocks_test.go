package activity

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/edvin/certflow/internal/model"
)

// --- ResourceManager ---

type mockResources struct {
	mock.Mock
}

func (m *mockResources) ListResourceGroups(ctx context.Context) ([]string, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

func (m *mockResources) ListResources(ctx context.Context, group string) ([]model.HostingResource, error) {
	args := m.Called(ctx, group)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.HostingResource), args.Error(1)
}

func (m *mockResources) GetResource(ctx context.Context, id string) (*model.HostingResource, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.HostingResource), args.Error(1)
}

func (m *mockResources) UpdateBindings(ctx context.Context, r model.HostingResource) error {
	return m.Called(ctx, r).Error(0)
}

func (m *mockResources) GetCertificates(ctx context.Context, filter model.CertificateFilter) ([]model.CertificateRecord, error) {
	args := m.Called(ctx, filter)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.CertificateRecord), args.Error(1)
}

func (m *mockResources) UploadCertificate(ctx context.Context, resourceID string, pfx []byte, password string, tags map[string]string) (*model.CertificateRecord, error) {
	args := m.Called(ctx, resourceID, pfx, password, tags)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.CertificateRecord), args.Error(1)
}

func (m *mockResources) DeleteCertificate(ctx context.Context, id string) error {
	return m.Called(ctx, id).Error(0)
}

func (m *mockResources) SetVirtualPath(ctx context.Context, resourceID string, vp model.VirtualPath) error {
	return m.Called(ctx, resourceID, vp).Error(0)
}

func (m *mockResources) RemoveVirtualPath(ctx context.Context, resourceID string, vp model.VirtualPath) error {
	return m.Called(ctx, resourceID, vp).Error(0)
}

// --- DNSProvider ---

type mockDNS struct {
	mock.Mock
}

func (m *mockDNS) ListZones(ctx context.Context) ([]model.Zone, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.Zone), args.Error(1)
}

func (m *mockDNS) GetTXTRecord(ctx context.Context, zone model.Zone, name string) (*model.TXTRecordSet, error) {
	args := m.Called(ctx, zone, name)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.TXTRecordSet), args.Error(1)
}

func (m *mockDNS) UpsertTXTRecord(ctx context.Context, zone model.Zone, name string, values []string, correlationTag string) error {
	return m.Called(ctx, zone, name, values, correlationTag).Error(0)
}

func (m *mockDNS) DeleteTXTRecord(ctx context.Context, zone model.Zone, name string) error {
	return m.Called(ctx, zone, name).Error(0)
}

func (m *mockDNS) QueryNameServers(ctx context.Context, zoneName string) ([]string, error) {
	args := m.Called(ctx, zoneName)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

// --- Resolver ---

type mockResolver struct {
	mock.Mock
}

func (m *mockResolver) LookupTXT(ctx context.Context, name string) ([]string, error) {
	args := m.Called(ctx, name)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

func (m *mockResolver) LookupNS(ctx context.Context, zone string) ([]string, error) {
	args := m.Called(ctx, zone)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

// --- ACMEClient ---

type mockACME struct {
	mock.Mock
}

func (m *mockACME) DirectoryURL() string {
	return m.Called().String(0)
}

func (m *mockACME) CreateOrder(ctx context.Context, names []string) (*model.Order, error) {
	args := m.Called(ctx, names)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Order), args.Error(1)
}

func (m *mockACME) GetOrder(ctx context.Context, orderURL string) (*model.Order, error) {
	args := m.Called(ctx, orderURL)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Order), args.Error(1)
}

func (m *mockACME) GetAuthorization(ctx context.Context, authzURL string) (*model.Authorization, error) {
	args := m.Called(ctx, authzURL)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Authorization), args.Error(1)
}

func (m *mockACME) HTTP01Proof(token string) (string, string, error) {
	args := m.Called(token)
	return args.String(0), args.String(1), args.Error(2)
}

func (m *mockACME) DNS01Proof(domain, token string) (string, string, error) {
	args := m.Called(domain, token)
	return args.String(0), args.String(1), args.Error(2)
}

func (m *mockACME) AnswerChallenge(ctx context.Context, challengeURL string) error {
	return m.Called(ctx, challengeURL).Error(0)
}

func (m *mockACME) FinalizeOrder(ctx context.Context, order model.Order, csr []byte) (*model.Order, error) {
	args := m.Called(ctx, order, csr)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Order), args.Error(1)
}

func (m *mockACME) DownloadCertificateChain(ctx context.Context, certURL string) ([][]byte, error) {
	args := m.Called(ctx, certURL)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([][]byte), args.Error(1)
}

// --- FilePublisher ---

type mockFiles struct {
	mock.Mock
}

func (m *mockFiles) WriteFile(ctx context.Context, resource *model.HostingResource, path string, content []byte) error {
	return m.Called(ctx, resource, path, content).Error(0)
}

func (m *mockFiles) FileExists(ctx context.Context, resource *model.HostingResource, path string) (bool, error) {
	args := m.Called(ctx, resource, path)
	return args.Bool(0), args.Error(1)
}

func (m *mockFiles) DeleteFile(ctx context.Context, resource *model.HostingResource, path string) error {
	return m.Called(ctx, resource, path).Error(0)
}

// --- Notifier ---

type mockNotifier struct {
	mock.Mock
}

func (m *mockNotifier) Notify(ctx context.Context, event string, payload any) error {
	return m.Called(ctx, event, payload).Error(0)
}

// --- DomainLease ---

type mockLease struct {
	mock.Mock
}

func (m *mockLease) Acquire(ctx context.Context, owner string, domains []string, ttl time.Duration) error {
	return m.Called(ctx, owner, domains, ttl).Error(0)
}

func (m *mockLease) Release(ctx context.Context, owner string, domains []string) error {
	return m.Called(ctx, owner, domains).Error(0)
}
