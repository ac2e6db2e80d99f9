package activity

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/edvin/certflow/internal/metrics"
	"github.com/edvin/certflow/internal/model"
	"github.com/edvin/certflow/internal/retry"
)

// Challenges provisions, verifies and removes domain-control proofs.
type Challenges struct {
	logger    zerolog.Logger
	acme      ACMEClient
	resources ResourceManager
	dns       DNSProvider
	resolver  Resolver
	files     FilePublisher

	// verifyClient fetches HTTP-01 proofs. It skips certificate
	// verification because a site being renewed often still serves an
	// expired or self-signed certificate after the redirect to https.
	verifyClient *http.Client
}

// NewChallenges creates a new Challenges activity struct.
func NewChallenges(logger zerolog.Logger, acme ACMEClient, resources ResourceManager, dns DNSProvider, resolver Resolver, files FilePublisher) *Challenges {
	return &Challenges{
		logger:    logger.With().Str("activity", "challenges").Logger(),
		acme:      acme,
		resources: resources,
		dns:       dns,
		resolver:  resolver,
		files:     files,
		verifyClient: &http.Client{
			Timeout: 15 * time.Second,
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{InsecureSkipVerify: true}, //nolint:gosec // proof fetch only
			},
		},
	}
}

// ProveChallengeParams holds parameters for the ProveChallenge activity.
type ProveChallengeParams struct {
	ResourceID    string `json:"resource_id"`
	AuthzURL      string `json:"authz_url"`
	ChallengeType string `json:"challenge_type"`
	// CorrelationID identifies the order workflow that owns the proof.
	CorrelationID string `json:"correlation_id"`
}

// ProveChallenge provisions the proof for one authorization. It returns
// nil, nil when the CA already considers the authorization valid.
func (a *Challenges) ProveChallenge(ctx context.Context, params ProveChallengeParams) (*model.ChallengeProof, error) {
	authz, err := a.acme.GetAuthorization(ctx, params.AuthzURL)
	if err != nil {
		return nil, acmeError("get authorization", err)
	}
	if authz.Status == model.OrderValid {
		return nil, nil
	}
	if authz.Status != model.OrderPending {
		return nil, retry.OrderInvalid("authorization for %s is %s", authz.Identifier, authz.Status)
	}
	ch, ok := authz.Challenge(params.ChallengeType)
	if !ok {
		return nil, retry.Precondition("authorization for %s offers no %s challenge", authz.Identifier, params.ChallengeType)
	}

	proof := model.ChallengeProof{
		Type:          params.ChallengeType,
		Domain:        authz.Identifier,
		AuthzURL:      authz.URL,
		ChallengeURL:  ch.URL,
		CorrelationID: params.CorrelationID,
	}
	if proof.AuthzURL == "" {
		proof.AuthzURL = params.AuthzURL
	}

	switch params.ChallengeType {
	case model.ChallengeHTTP01:
		err = a.proveHTTP01(ctx, params.ResourceID, ch.Token, &proof)
	case model.ChallengeDNS01:
		err = a.proveDNS01(ctx, ch.Token, &proof)
	default:
		err = retry.Fatal(fmt.Errorf("unsupported challenge type %q", params.ChallengeType))
	}
	if err != nil {
		return nil, err
	}
	return &proof, nil
}

func (a *Challenges) proveHTTP01(ctx context.Context, resourceID, token string, proof *model.ChallengeProof) error {
	resource, err := a.resources.GetResource(ctx, resourceID)
	if err != nil {
		return retry.NotYet("get resource %s: %v", resourceID, err)
	}
	if resource == nil {
		return retry.NotFound("resource %s not found", resourceID)
	}
	urlPath, body, err := a.acme.HTTP01Proof(token)
	if err != nil {
		return retry.Fatal(err)
	}
	proof.Path = urlPath
	proof.Value = body

	// The body is fixed for a token, so a file already at the token's path
	// is from an earlier attempt of this activity.
	path := challengeFilePath(urlPath)
	if exists, err := a.files.FileExists(ctx, resource, path); err == nil && exists {
		return nil
	}
	if err := a.files.WriteFile(ctx, resource, path, []byte(body)); err != nil {
		return retry.NotYet("publish challenge file for %s: %v", proof.Domain, err)
	}
	return nil
}

// challengeFilePath maps the /.well-known URL path onto the physical
// directory behind the challenge virtual path.
func challengeFilePath(urlPath string) string {
	return model.ChallengePhysicalPath + strings.TrimPrefix(urlPath, model.ChallengeVirtualPath)
}

func (a *Challenges) proveDNS01(ctx context.Context, token string, proof *model.ChallengeProof) error {
	name, value, err := a.acme.DNS01Proof(proof.Domain, token)
	if err != nil {
		return retry.Fatal(err)
	}
	zones, err := a.dns.ListZones(ctx)
	if err != nil {
		return retry.NotYet("list dns zones: %v", err)
	}
	zone, ok := FindZone(zones, name)
	if !ok {
		return retry.Precondition("no managed dns zone for %s", name)
	}
	proof.Zone = zone.Name
	proof.RecordName = name
	proof.Value = value

	existing, err := a.dns.GetTXTRecord(ctx, zone, name)
	if err != nil {
		return retry.NotYet("read txt record %s: %v", name, err)
	}
	values := MergeTXTValues(existing, value, proof.CorrelationID)
	if err := a.dns.UpsertTXTRecord(ctx, zone, name, values, proof.CorrelationID); err != nil {
		return retry.NotYet("write txt record %s: %v", name, err)
	}
	a.logger.Info().Str("record", name).Str("zone", zone.Name).Int("values", len(values)).Msg("published dns-01 proof")
	return nil
}

// FindZone returns the zone with the longest name that name falls under.
func FindZone(zones []model.Zone, name string) (model.Zone, bool) {
	name = strings.ToLower(strings.TrimSuffix(name, "."))
	var best model.Zone
	found := false
	for _, z := range zones {
		zn := strings.ToLower(strings.TrimSuffix(z.Name, "."))
		if name != zn && !strings.HasSuffix(name, "."+zn) {
			continue
		}
		if !found || len(zn) > len(best.Name) {
			best = model.Zone{ID: z.ID, Name: zn}
			found = true
		}
	}
	return best, found
}

// MergeTXTValues returns the record set to write for a new proof value.
// Values left by the same correlation id are kept, anything else is
// replaced.
func MergeTXTValues(existing *model.TXTRecordSet, value, correlationID string) []string {
	if existing == nil || existing.CorrelationTag != correlationID {
		return []string{value}
	}
	if slices.Contains(existing.Values, value) {
		return slices.Clone(existing.Values)
	}
	return append(slices.Clone(existing.Values), value)
}

// VerifyChallengeParams holds parameters for the VerifyChallenge activity.
type VerifyChallengeParams struct {
	Proof model.ChallengeProof `json:"proof"`
}

// VerifyChallenge checks the proof is visible from outside the way the CA
// will look for it. A proof that is not visible yet is retried.
func (a *Challenges) VerifyChallenge(ctx context.Context, params VerifyChallengeParams) error {
	var err error
	switch params.Proof.Type {
	case model.ChallengeHTTP01:
		err = a.verifyHTTP01(ctx, params.Proof)
	case model.ChallengeDNS01:
		err = a.verifyDNS01(ctx, params.Proof)
	default:
		return retry.Fatal(fmt.Errorf("unsupported challenge type %q", params.Proof.Type))
	}
	result := "ok"
	if err != nil {
		result = "pending"
	}
	metrics.ChallengeVerifications.WithLabelValues(params.Proof.Type, result).Inc()
	return err
}

func (a *Challenges) verifyHTTP01(ctx context.Context, proof model.ChallengeProof) error {
	url := "http://" + proof.Domain + proof.Path
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return retry.Fatal(fmt.Errorf("build request for %s: %w", url, err))
	}
	resp, err := a.verifyClient.Do(req)
	if err != nil {
		return retry.NotYet("fetch %s: %v", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return retry.NotYet("fetch %s: status %d", url, resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return retry.NotYet("read %s: %v", url, err)
	}
	if !bytes.Equal(body, []byte(proof.Value)) {
		return retry.NotYet("%s does not serve the expected key authorization", url)
	}
	return nil
}

func (a *Challenges) verifyDNS01(ctx context.Context, proof model.ChallengeProof) error {
	values, err := a.resolver.LookupTXT(ctx, proof.RecordName)
	if err != nil {
		return retry.NotYet("lookup txt %s: %v", proof.RecordName, err)
	}
	if !slices.Contains(values, proof.Value) {
		return retry.NotYet("txt %s does not contain the expected value yet", proof.RecordName)
	}
	return nil
}

// CleanupChallengesParams holds parameters for the CleanupChallenges activity.
type CleanupChallengesParams struct {
	ResourceID string                 `json:"resource_id"`
	Proofs     []model.ChallengeProof `json:"proofs"`
}

// CleanupChallenges removes provisioned proofs. A TXT record set is deleted
// only while it still carries the proof's correlation id; HTTP-01 files are
// removed from the resource's content.
func (a *Challenges) CleanupChallenges(ctx context.Context, params CleanupChallengesParams) error {
	var errs []error
	var zones []model.Zone
	var resource *model.HostingResource
	done := make(map[string]bool)

	for _, p := range params.Proofs {
		switch p.Type {
		case model.ChallengeDNS01:
			if done[p.RecordName] {
				continue
			}
			done[p.RecordName] = true
			if zones == nil {
				var err error
				if zones, err = a.dns.ListZones(ctx); err != nil {
					return retry.NotYet("list dns zones: %v", err)
				}
			}
			if err := a.cleanupDNS01(ctx, zones, p); err != nil {
				errs = append(errs, err)
			}
		case model.ChallengeHTTP01:
			if resource == nil {
				r, err := a.resources.GetResource(ctx, params.ResourceID)
				if err != nil {
					return retry.NotYet("get resource %s: %v", params.ResourceID, err)
				}
				if r == nil {
					// Nothing left to clean.
					return nil
				}
				resource = r
			}
			if err := a.files.DeleteFile(ctx, resource, challengeFilePath(p.Path)); err != nil {
				errs = append(errs, err)
			}
		}
	}
	if err := errors.Join(errs...); err != nil {
		return retry.NotYet("cleanup challenges: %v", err)
	}
	return nil
}

func (a *Challenges) cleanupDNS01(ctx context.Context, zones []model.Zone, p model.ChallengeProof) error {
	zone, ok := FindZone(zones, p.RecordName)
	if !ok {
		return nil
	}
	existing, err := a.dns.GetTXTRecord(ctx, zone, p.RecordName)
	if err != nil {
		return retry.NotYet("read txt record %s: %v", p.RecordName, err)
	}
	if existing == nil {
		return nil
	}
	if existing.CorrelationTag != p.CorrelationID {
		a.logger.Info().Str("record", p.RecordName).Str("owner", existing.CorrelationTag).
			Msg("leaving txt record owned by another order")
		return nil
	}
	if err := a.dns.DeleteTXTRecord(ctx, zone, p.RecordName); err != nil {
		return retry.NotYet("delete txt record %s: %v", p.RecordName, err)
	}
	return nil
}

// VerifyDNSDelegationParams holds parameters for the VerifyDNSDelegation activity.
type VerifyDNSDelegationParams struct {
	DomainNames []string `json:"domain_names"`
}

// VerifyDNSDelegation checks every name falls under a managed zone whose
// public NS set matches the NS records the provider serves.
func (a *Challenges) VerifyDNSDelegation(ctx context.Context, params VerifyDNSDelegationParams) error {
	zones, err := a.dns.ListZones(ctx)
	if err != nil {
		return retry.NotYet("list dns zones: %v", err)
	}
	checked := make(map[string]bool)
	for _, name := range params.DomainNames {
		zone, ok := FindZone(zones, strings.TrimPrefix(name, "*."))
		if !ok {
			return retry.Precondition("%s is not in a managed dns zone", name)
		}
		if checked[zone.Name] {
			continue
		}
		checked[zone.Name] = true

		expected, err := a.dns.QueryNameServers(ctx, zone.Name)
		if err != nil {
			return retry.NotYet("query provider name servers for %s: %v", zone.Name, err)
		}
		if len(expected) == 0 {
			return retry.Precondition("zone %s has no NS records at the provider", zone.Name)
		}
		actual, err := a.resolver.LookupNS(ctx, zone.Name)
		if err != nil {
			return retry.NotYet("lookup ns %s: %v", zone.Name, err)
		}
		if !sameNameServers(expected, actual) {
			return retry.Precondition("zone %s is delegated to [%s], provider serves [%s]",
				zone.Name, strings.Join(actual, ", "), strings.Join(expected, ", "))
		}
	}
	return nil
}

func sameNameServers(a, b []string) bool {
	norm := func(in []string) []string {
		out := make([]string, 0, len(in))
		for _, s := range in {
			out = append(out, strings.ToLower(strings.TrimSuffix(s, ".")))
		}
		slices.Sort(out)
		return slices.Compact(out)
	}
	return slices.Equal(norm(a), norm(b))
}
