// Package acmeclient adapts golang.org/x/crypto/acme to the order and
// authorization model used by the certificate workflows.
package acmeclient

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-acme/lego/v4/challenge/dns01"
	"github.com/go-acme/lego/v4/challenge/http01"
	"golang.org/x/crypto/acme"

	"github.com/edvin/certflow/internal/model"
)

// Client is an ACME client bound to one registered account.
type Client struct {
	acme *acme.Client

	// finalizeWait bounds how long FinalizeOrder waits for the CA before
	// handing the order back for polling.
	finalizeWait time.Duration
}

func newClient(ac *acme.Client) *Client {
	return &Client{acme: ac, finalizeWait: 20 * time.Second}
}

func (c *Client) DirectoryURL() string {
	return c.acme.DirectoryURL
}

func (c *Client) CreateOrder(ctx context.Context, names []string) (*model.Order, error) {
	o, err := c.acme.AuthorizeOrder(ctx, acme.DomainIDs(names...))
	if err != nil {
		return nil, fmt.Errorf("authorize order: %w", err)
	}
	return toOrder(o), nil
}

func (c *Client) GetOrder(ctx context.Context, orderURL string) (*model.Order, error) {
	o, err := c.acme.GetOrder(ctx, orderURL)
	if err != nil {
		var oe *acme.OrderError
		if errors.As(err, &oe) {
			return &model.Order{URL: oe.OrderURL, Status: oe.Status}, nil
		}
		return nil, fmt.Errorf("get order: %w", err)
	}
	return toOrder(o), nil
}

func (c *Client) GetAuthorization(ctx context.Context, authzURL string) (*model.Authorization, error) {
	a, err := c.acme.GetAuthorization(ctx, authzURL)
	if err != nil {
		return nil, fmt.Errorf("get authorization: %w", err)
	}
	return toAuthorization(a), nil
}

// HTTP01Proof returns the URL path and exact body to serve for token.
func (c *Client) HTTP01Proof(token string) (string, string, error) {
	body, err := c.acme.HTTP01ChallengeResponse(token)
	if err != nil {
		return "", "", fmt.Errorf("compute key authorization: %w", err)
	}
	return http01.ChallengePath(token), body, nil
}

// DNS01Proof returns the TXT record name (following any _acme-challenge
// CNAME) and value for token.
func (c *Client) DNS01Proof(domain, token string) (string, string, error) {
	keyAuth, err := c.acme.HTTP01ChallengeResponse(token)
	if err != nil {
		return "", "", fmt.Errorf("compute key authorization: %w", err)
	}
	info := dns01.GetChallengeInfo(domain, keyAuth)
	return dns01.UnFqdn(info.EffectiveFQDN), info.Value, nil
}

// ChallengeRecordName returns the name DNS01Proof would write for domain,
// after following any _acme-challenge CNAME.
func (c *Client) ChallengeRecordName(domain string) string {
	return dns01.UnFqdn(dns01.GetChallengeInfo(domain, "").EffectiveFQDN)
}

func (c *Client) AnswerChallenge(ctx context.Context, challengeURL string) error {
	if _, err := c.acme.Accept(ctx, &acme.Challenge{URI: challengeURL}); err != nil {
		return fmt.Errorf("accept challenge: %w", err)
	}
	return nil
}

// FinalizeOrder submits csr for a ready order and returns the order state
// afterwards. If the CA is still processing when finalizeWait elapses the
// processing order is returned for the caller to poll.
func (c *Client) FinalizeOrder(ctx context.Context, order model.Order, csr []byte) (*model.Order, error) {
	fctx, cancel := context.WithTimeout(ctx, c.finalizeWait)
	defer cancel()

	_, _, err := c.acme.CreateOrderCert(fctx, order.FinalizeURL, csr, true)
	if err != nil {
		var oe *acme.OrderError
		timedOut := errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil
		if !errors.As(err, &oe) && !timedOut {
			return nil, fmt.Errorf("finalize order: %w", err)
		}
	}
	return c.GetOrder(ctx, order.URL)
}

// DownloadCertificateChain returns the DER chain, leaf first.
func (c *Client) DownloadCertificateChain(ctx context.Context, certURL string) ([][]byte, error) {
	der, err := c.acme.FetchCert(ctx, certURL, true)
	if err != nil {
		return nil, fmt.Errorf("fetch certificate: %w", err)
	}
	return der, nil
}

// StatusCode returns the HTTP status of an ACME problem response, or 0.
func StatusCode(err error) int {
	var ae *acme.Error
	if errors.As(err, &ae) {
		return ae.StatusCode
	}
	return 0
}

func toOrder(o *acme.Order) *model.Order {
	out := &model.Order{
		URL:         o.URI,
		Status:      o.Status,
		FinalizeURL: o.FinalizeURL,
		AuthzURLs:   o.AuthzURLs,
		CertURL:     o.CertURL,
	}
	for _, id := range o.Identifiers {
		out.Identifiers = append(out.Identifiers, id.Value)
	}
	if o.Error != nil {
		out.Error = toProblem(o.Error)
	}
	return out
}

func toAuthorization(a *acme.Authorization) *model.Authorization {
	out := &model.Authorization{
		URL:        a.URI,
		Identifier: a.Identifier.Value,
		Wildcard:   a.Wildcard,
		Status:     a.Status,
	}
	for _, ch := range a.Challenges {
		c := model.Challenge{
			Type:   ch.Type,
			URL:    ch.URI,
			Token:  ch.Token,
			Status: ch.Status,
		}
		if ch.Error != nil {
			var ae *acme.Error
			if errors.As(ch.Error, &ae) {
				c.Error = toProblem(ae)
			} else {
				c.Error = &model.Problem{Detail: ch.Error.Error()}
			}
		}
		out.Challenges = append(out.Challenges, c)
	}
	return out
}

func toProblem(e *acme.Error) *model.Problem {
	return &model.Problem{Type: e.ProblemType, Detail: e.Detail}
}
