package activity

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.temporal.io/sdk/testsuite"

	"github.com/edvin/certflow/internal/model"
	"github.com/edvin/certflow/internal/retry"
)

var testZones = []model.Zone{
	{ID: 1, Name: "example.com"},
	{ID: 2, Name: "sub.example.com."},
	{ID: 3, Name: "other.org"},
}

func TestFindZone(t *testing.T) {
	tests := []struct {
		name   string
		want   string
		wantOK bool
	}{
		{"_acme-challenge.www.example.com", "example.com", true},
		{"_acme-challenge.sub.example.com.", "sub.example.com", true},
		{"_acme-challenge.deep.sub.example.com", "sub.example.com", true},
		{"example.com", "example.com", true},
		{"_acme-challenge.notexample.com", "", false},
		{"_acme-challenge.example.net", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			zone, ok := FindZone(testZones, tt.name)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, zone.Name)
		})
	}
}

func TestMergeTXTValues(t *testing.T) {
	assert.Equal(t, []string{"v1"}, MergeTXTValues(nil, "v1", "wf-1"))

	same := &model.TXTRecordSet{Values: []string{"v1"}, CorrelationTag: "wf-1"}
	assert.Equal(t, []string{"v1", "v2"}, MergeTXTValues(same, "v2", "wf-1"))
	assert.Equal(t, []string{"v1"}, MergeTXTValues(same, "v1", "wf-1"))
	assert.Equal(t, []string{"v1"}, same.Values)

	stale := &model.TXTRecordSet{Values: []string{"old-1", "old-2"}, CorrelationTag: "wf-0"}
	assert.Equal(t, []string{"v2"}, MergeTXTValues(stale, "v2", "wf-1"))
}

func TestChallengeFilePath(t *testing.T) {
	assert.Equal(t, "certflow-acme/.well-known/acme-challenge/tok",
		challengeFilePath("/.well-known/acme-challenge/tok"))
}

func pendingAuthz(url, domain string) *model.Authorization {
	return &model.Authorization{
		URL:        url,
		Identifier: domain,
		Status:     model.OrderPending,
		Challenges: []model.Challenge{
			{Type: model.ChallengeHTTP01, URL: url + "/http", Token: "tok-http", Status: model.OrderPending},
			{Type: model.ChallengeDNS01, URL: url + "/dns", Token: "tok-dns", Status: model.OrderPending},
		},
	}
}

func TestProveChallenge_HTTP01(t *testing.T) {
	ctx := context.Background()
	client, resources, files := &mockACME{}, &mockResources{}, &mockFiles{}
	a := NewChallenges(zerolog.Nop(), client, resources, &mockDNS{}, &mockResolver{}, files)
	res := &model.HostingResource{ID: "res-1", StoragePath: "sites/res-1/wwwroot"}

	client.On("GetAuthorization", ctx, "a1").Return(pendingAuthz("a1", "example.com"), nil)
	client.On("HTTP01Proof", "tok-http").Return("/.well-known/acme-challenge/tok-http", "tok-http.thumb", nil)
	resources.On("GetResource", ctx, "res-1").Return(res, nil)
	files.On("FileExists", ctx, res, "certflow-acme/.well-known/acme-challenge/tok-http").Return(false, nil).Once()
	files.On("WriteFile", ctx, res, "certflow-acme/.well-known/acme-challenge/tok-http", []byte("tok-http.thumb")).Return(nil).Once()

	proof, err := a.ProveChallenge(ctx, ProveChallengeParams{
		ResourceID: "res-1", AuthzURL: "a1", ChallengeType: model.ChallengeHTTP01, CorrelationID: "wf-1",
	})
	require.NoError(t, err)
	assert.Equal(t, "example.com", proof.Domain)
	assert.Equal(t, "a1/http", proof.ChallengeURL)
	assert.Equal(t, "/.well-known/acme-challenge/tok-http", proof.Path)
	assert.Equal(t, "tok-http.thumb", proof.Value)
	files.AssertExpectations(t)
}

func TestProveChallenge_HTTP01AlreadyPublished(t *testing.T) {
	ctx := context.Background()
	client, resources, files := &mockACME{}, &mockResources{}, &mockFiles{}
	a := NewChallenges(zerolog.Nop(), client, resources, &mockDNS{}, &mockResolver{}, files)
	res := &model.HostingResource{ID: "res-1", StoragePath: "sites/res-1/wwwroot"}

	client.On("GetAuthorization", ctx, "a1").Return(pendingAuthz("a1", "example.com"), nil)
	client.On("HTTP01Proof", "tok-http").Return("/.well-known/acme-challenge/tok-http", "tok-http.thumb", nil)
	resources.On("GetResource", ctx, "res-1").Return(res, nil)
	files.On("FileExists", ctx, res, "certflow-acme/.well-known/acme-challenge/tok-http").Return(true, nil).Once()

	proof, err := a.ProveChallenge(ctx, ProveChallengeParams{
		ResourceID: "res-1", AuthzURL: "a1", ChallengeType: model.ChallengeHTTP01, CorrelationID: "wf-1",
	})
	require.NoError(t, err)
	assert.Equal(t, "tok-http.thumb", proof.Value)
	files.AssertNotCalled(t, "WriteFile", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestProveChallenge_HTTP01StatFailureStillWrites(t *testing.T) {
	ctx := context.Background()
	client, resources, files := &mockACME{}, &mockResources{}, &mockFiles{}
	a := NewChallenges(zerolog.Nop(), client, resources, &mockDNS{}, &mockResolver{}, files)
	res := &model.HostingResource{ID: "res-1"}

	client.On("GetAuthorization", ctx, "a1").Return(pendingAuthz("a1", "example.com"), nil)
	client.On("HTTP01Proof", "tok-http").Return("/.well-known/acme-challenge/tok-http", "tok-http.thumb", nil)
	resources.On("GetResource", ctx, "res-1").Return(res, nil)
	files.On("FileExists", ctx, res, mock.Anything).Return(false, errors.New("access denied")).Once()
	files.On("WriteFile", ctx, res, "certflow-acme/.well-known/acme-challenge/tok-http", []byte("tok-http.thumb")).Return(nil).Once()

	_, err := a.ProveChallenge(ctx, ProveChallengeParams{
		ResourceID: "res-1", AuthzURL: "a1", ChallengeType: model.ChallengeHTTP01, CorrelationID: "wf-1",
	})
	require.NoError(t, err)
	files.AssertExpectations(t)
}

func TestProveChallenge_AuthorizationStates(t *testing.T) {
	ctx := context.Background()
	client := &mockACME{}
	a := NewChallenges(zerolog.Nop(), client, &mockResources{}, &mockDNS{}, &mockResolver{}, &mockFiles{})

	client.On("GetAuthorization", ctx, "valid").Return(&model.Authorization{Status: model.OrderValid}, nil)
	proof, err := a.ProveChallenge(ctx, ProveChallengeParams{AuthzURL: "valid", ChallengeType: model.ChallengeHTTP01})
	require.NoError(t, err)
	assert.Nil(t, proof)

	client.On("GetAuthorization", ctx, "expired").Return(&model.Authorization{Identifier: "x.example", Status: "expired"}, nil)
	_, err = a.ProveChallenge(ctx, ProveChallengeParams{AuthzURL: "expired", ChallengeType: model.ChallengeHTTP01})
	assert.Equal(t, retry.KindOrderInvalid, retry.KindOf(err))

	client.On("GetAuthorization", ctx, "dns-only").Return(&model.Authorization{
		Identifier: "*.example.com",
		Status:     model.OrderPending,
		Challenges: []model.Challenge{{Type: model.ChallengeDNS01, Status: model.OrderPending}},
	}, nil)
	_, err = a.ProveChallenge(ctx, ProveChallengeParams{AuthzURL: "dns-only", ChallengeType: model.ChallengeHTTP01})
	assert.Equal(t, retry.KindPrecondition, retry.KindOf(err))
}

func TestProveChallenge_DNS01(t *testing.T) {
	var ts testsuite.WorkflowTestSuite
	env := ts.NewTestActivityEnvironment()
	client, dns := &mockACME{}, &mockDNS{}
	a := NewChallenges(zerolog.Nop(), client, &mockResources{}, dns, &mockResolver{}, &mockFiles{})
	env.RegisterActivity(a)
	zone := model.Zone{ID: 1, Name: "example.com"}

	client.On("GetAuthorization", mock.Anything, "a1").Return(pendingAuthz("a1", "example.com"), nil)
	client.On("DNS01Proof", "example.com", "tok-dns").Return("_acme-challenge.example.com.", "value-2", nil)
	dns.On("ListZones", mock.Anything).Return(testZones, nil)
	dns.On("GetTXTRecord", mock.Anything, zone, "_acme-challenge.example.com.").
		Return(&model.TXTRecordSet{Values: []string{"value-1"}, CorrelationTag: "wf-1"}, nil)
	dns.On("UpsertTXTRecord", mock.Anything, zone, "_acme-challenge.example.com.", []string{"value-1", "value-2"}, "wf-1").
		Return(nil).Once()

	val, err := env.ExecuteActivity(a.ProveChallenge, ProveChallengeParams{
		AuthzURL: "a1", ChallengeType: model.ChallengeDNS01, CorrelationID: "wf-1",
	})
	require.NoError(t, err)
	var proof model.ChallengeProof
	require.NoError(t, val.Get(&proof))
	assert.Equal(t, "example.com", proof.Zone)
	assert.Equal(t, "value-2", proof.Value)
	assert.Equal(t, "wf-1", proof.CorrelationID)
	dns.AssertExpectations(t)
}

func TestVerifyChallenge_HTTP01(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/.well-known/acme-challenge/good":
			_, _ = w.Write([]byte("good.thumb"))
		case "/.well-known/acme-challenge/stale":
			_, _ = w.Write([]byte("good.thumb\n"))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()
	host := strings.TrimPrefix(srv.URL, "http://")
	a := NewChallenges(zerolog.Nop(), &mockACME{}, &mockResources{}, &mockDNS{}, &mockResolver{}, &mockFiles{})
	ctx := context.Background()

	proof := model.ChallengeProof{Type: model.ChallengeHTTP01, Domain: host, Path: "/.well-known/acme-challenge/good", Value: "good.thumb"}
	assert.NoError(t, a.VerifyChallenge(ctx, VerifyChallengeParams{Proof: proof}))

	proof.Path = "/.well-known/acme-challenge/stale"
	assert.Equal(t, retry.KindRetriableActivity, retry.KindOf(a.VerifyChallenge(ctx, VerifyChallengeParams{Proof: proof})))

	proof.Path = "/.well-known/acme-challenge/missing"
	assert.Equal(t, retry.KindRetriableActivity, retry.KindOf(a.VerifyChallenge(ctx, VerifyChallengeParams{Proof: proof})))
}

func TestVerifyChallenge_DNS01(t *testing.T) {
	ctx := context.Background()
	resolver := &mockResolver{}
	a := NewChallenges(zerolog.Nop(), &mockACME{}, &mockResources{}, &mockDNS{}, resolver, &mockFiles{})
	proof := model.ChallengeProof{Type: model.ChallengeDNS01, RecordName: "_acme-challenge.example.com", Value: "v2"}

	resolver.On("LookupTXT", ctx, "_acme-challenge.example.com").Return([]string{"v1"}, nil).Once()
	assert.Equal(t, retry.KindRetriableActivity, retry.KindOf(a.VerifyChallenge(ctx, VerifyChallengeParams{Proof: proof})))

	resolver.On("LookupTXT", ctx, "_acme-challenge.example.com").Return([]string{"v1", "v2"}, nil).Once()
	assert.NoError(t, a.VerifyChallenge(ctx, VerifyChallengeParams{Proof: proof}))

	resolver.On("LookupTXT", ctx, "_acme-challenge.example.com").Return(nil, errors.New("i/o timeout")).Once()
	assert.Equal(t, retry.KindRetriableActivity, retry.KindOf(a.VerifyChallenge(ctx, VerifyChallengeParams{Proof: proof})))
}

func TestCleanupChallenges_DNS01(t *testing.T) {
	var ts testsuite.WorkflowTestSuite
	env := ts.NewTestActivityEnvironment()
	dns := &mockDNS{}
	a := NewChallenges(zerolog.Nop(), &mockACME{}, &mockResources{}, dns, &mockResolver{}, &mockFiles{})
	env.RegisterActivity(a)
	zone := model.Zone{ID: 1, Name: "example.com"}

	proofs := []model.ChallengeProof{
		// Apex and wildcard share one record name.
		{Type: model.ChallengeDNS01, RecordName: "_acme-challenge.example.com", CorrelationID: "wf-1"},
		{Type: model.ChallengeDNS01, RecordName: "_acme-challenge.example.com", CorrelationID: "wf-1"},
		{Type: model.ChallengeDNS01, RecordName: "_acme-challenge.www.example.com", CorrelationID: "wf-1"},
	}
	dns.On("ListZones", mock.Anything).Return(testZones, nil).Once()
	dns.On("GetTXTRecord", mock.Anything, zone, "_acme-challenge.example.com").
		Return(&model.TXTRecordSet{Values: []string{"a", "b"}, CorrelationTag: "wf-1"}, nil).Once()
	dns.On("DeleteTXTRecord", mock.Anything, zone, "_acme-challenge.example.com").Return(nil).Once()
	dns.On("GetTXTRecord", mock.Anything, zone, "_acme-challenge.www.example.com").
		Return(&model.TXTRecordSet{Values: []string{"c"}, CorrelationTag: "wf-2"}, nil).Once()

	_, err := env.ExecuteActivity(a.CleanupChallenges, CleanupChallengesParams{ResourceID: "res-1", Proofs: proofs})
	require.NoError(t, err)
	dns.AssertExpectations(t)
	dns.AssertNotCalled(t, "DeleteTXTRecord", mock.Anything, zone, "_acme-challenge.www.example.com")
}

func TestCleanupChallenges_HTTP01(t *testing.T) {
	ctx := context.Background()
	resources, files := &mockResources{}, &mockFiles{}
	a := NewChallenges(zerolog.Nop(), &mockACME{}, resources, &mockDNS{}, &mockResolver{}, files)
	res := &model.HostingResource{ID: "res-1"}

	resources.On("GetResource", ctx, "res-1").Return(res, nil).Once()
	files.On("DeleteFile", ctx, res, "certflow-acme/.well-known/acme-challenge/t1").Return(nil).Once()
	files.On("DeleteFile", ctx, res, "certflow-acme/.well-known/acme-challenge/t2").Return(errors.New("s3 unavailable")).Once()

	err := a.CleanupChallenges(ctx, CleanupChallengesParams{ResourceID: "res-1", Proofs: []model.ChallengeProof{
		{Type: model.ChallengeHTTP01, Path: "/.well-known/acme-challenge/t1"},
		{Type: model.ChallengeHTTP01, Path: "/.well-known/acme-challenge/t2"},
	}})
	assert.Equal(t, retry.KindRetriableActivity, retry.KindOf(err))
	files.AssertExpectations(t)
}

func TestVerifyDNSDelegation(t *testing.T) {
	ctx := context.Background()

	t.Run("matching delegation", func(t *testing.T) {
		dns, resolver := &mockDNS{}, &mockResolver{}
		a := NewChallenges(zerolog.Nop(), &mockACME{}, &mockResources{}, dns, resolver, &mockFiles{})
		dns.On("ListZones", ctx).Return(testZones, nil)
		dns.On("QueryNameServers", ctx, "example.com").Return([]string{"ns1.host.test", "ns2.host.test"}, nil).Once()
		resolver.On("LookupNS", ctx, "example.com").Return([]string{"NS2.host.test.", "ns1.host.test"}, nil).Once()

		err := a.VerifyDNSDelegation(ctx, VerifyDNSDelegationParams{DomainNames: []string{"example.com", "*.example.com"}})
		require.NoError(t, err)
		dns.AssertExpectations(t)
	})

	t.Run("delegated elsewhere", func(t *testing.T) {
		dns, resolver := &mockDNS{}, &mockResolver{}
		a := NewChallenges(zerolog.Nop(), &mockACME{}, &mockResources{}, dns, resolver, &mockFiles{})
		dns.On("ListZones", ctx).Return(testZones, nil)
		dns.On("QueryNameServers", ctx, "other.org").Return([]string{"ns1.host.test"}, nil)
		resolver.On("LookupNS", ctx, "other.org").Return([]string{"ns1.elsewhere.test"}, nil)

		err := a.VerifyDNSDelegation(ctx, VerifyDNSDelegationParams{DomainNames: []string{"www.other.org"}})
		assert.Equal(t, retry.KindPrecondition, retry.KindOf(err))
	})

	t.Run("unmanaged zone", func(t *testing.T) {
		dns := &mockDNS{}
		a := NewChallenges(zerolog.Nop(), &mockACME{}, &mockResources{}, dns, &mockResolver{}, &mockFiles{})
		dns.On("ListZones", ctx).Return(testZones, nil)

		err := a.VerifyDNSDelegation(ctx, VerifyDNSDelegationParams{DomainNames: []string{"example.net"}})
		assert.Equal(t, retry.KindPrecondition, retry.KindOf(err))
	})
}
