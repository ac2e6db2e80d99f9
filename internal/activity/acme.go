package activity

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-acme/lego/v4/certcrypto"

	"github.com/edvin/certflow/internal/acmeclient"
	"github.com/edvin/certflow/internal/model"
	"github.com/edvin/certflow/internal/retry"
)

// ACME holds the order-level ACME activities. The client is bound to the
// account bootstrapped at worker start.
type ACME struct {
	client ACMEClient
}

// NewACME creates a new ACME activity struct.
func NewACME(client ACMEClient) *ACME {
	return &ACME{client: client}
}

// CreateOrderParams holds parameters for the CreateOrder activity.
type CreateOrderParams struct {
	DomainNames []string `json:"domain_names"`
}

// CreateOrder submits a new ACME order for the requested names.
func (a *ACME) CreateOrder(ctx context.Context, params CreateOrderParams) (*model.Order, error) {
	if len(params.DomainNames) == 0 {
		return nil, retry.Fatal(fmt.Errorf("create order: no domain names"))
	}
	order, err := a.client.CreateOrder(ctx, params.DomainNames)
	if err != nil {
		return nil, acmeError("create order", err)
	}
	if order.Status == model.OrderInvalid {
		return nil, retry.OrderInvalid("new order %s is already invalid", order.URL)
	}
	return order, nil
}

// AnswerChallengesParams holds parameters for the AnswerChallenges activity.
type AnswerChallengesParams struct {
	Proofs []model.ChallengeProof `json:"proofs"`
}

// AnswerChallenges tells the CA every verified proof is in place. Challenges
// the CA already moved past pending are skipped so a retried attempt does not
// answer twice.
func (a *ACME) AnswerChallenges(ctx context.Context, params AnswerChallengesParams) error {
	for _, p := range params.Proofs {
		authz, err := a.client.GetAuthorization(ctx, p.AuthzURL)
		if err != nil {
			return acmeError("get authorization "+p.Domain, err)
		}
		if authz.Status != model.OrderPending {
			continue
		}
		if ch, ok := authz.Challenge(p.Type); ok && ch.Status != model.OrderPending {
			continue
		}
		if err := a.client.AnswerChallenge(ctx, p.ChallengeURL); err != nil {
			return acmeError("answer challenge for "+p.Domain, err)
		}
	}
	return nil
}

// OrderParams identifies an existing order.
type OrderParams struct {
	OrderURL string `json:"order_url"`
}

// AwaitOrderReady is polled until the order leaves pending. An invalid
// order whose authorization problems are all connection or dns failures is
// reported as a restart request, anything else as OrderInvalid.
func (a *ACME) AwaitOrderReady(ctx context.Context, params OrderParams) (*model.Order, error) {
	order, err := a.client.GetOrder(ctx, params.OrderURL)
	if err != nil {
		return nil, acmeError("get order", err)
	}
	switch order.Status {
	case model.OrderReady, model.OrderProcessing, model.OrderValid:
		return order, nil
	case model.OrderPending:
		return nil, retry.NotYet("order %s is still pending", order.URL)
	}

	problems, err := a.orderProblems(ctx, order)
	if err != nil {
		return nil, err
	}
	kinds := make([]string, 0, len(problems))
	details := make([]string, 0, len(problems))
	for _, p := range problems {
		kinds = append(kinds, p.Kind())
		details = append(details, fmt.Sprintf("%s: %s", p.Kind(), p.Detail))
	}
	if retry.IsTransientProblem(kinds) {
		return nil, retry.Restart("order %s invalid with transient problems: %s", order.URL, strings.Join(details, "; "))
	}
	return nil, retry.OrderInvalid("order %s invalid: %s", order.URL, strings.Join(details, "; "))
}

func (a *ACME) orderProblems(ctx context.Context, order *model.Order) ([]model.Problem, error) {
	var problems []model.Problem
	for _, u := range order.AuthzURLs {
		authz, err := a.client.GetAuthorization(ctx, u)
		if err != nil {
			return nil, acmeError("get authorization", err)
		}
		problems = append(problems, authz.Problems()...)
	}
	if len(problems) == 0 && order.Error != nil {
		problems = append(problems, *order.Error)
	}
	return problems, nil
}

// CertificateKey is a fresh private key and a CSR covering every name.
type CertificateKey struct {
	KeyPEM []byte `json:"key_pem"`
	CSR    []byte `json:"csr"`
}

// GenerateKeyParams holds parameters for the GenerateCertificateKey activity.
type GenerateKeyParams struct {
	DomainNames []string `json:"domain_names"`
}

// GenerateCertificateKey creates an RSA-2048 key and a DER CSR whose common
// name is the first requested name. RSA is required by the hosting
// platform's PFX import.
func (a *ACME) GenerateCertificateKey(ctx context.Context, params GenerateKeyParams) (*CertificateKey, error) {
	if len(params.DomainNames) == 0 {
		return nil, retry.Fatal(fmt.Errorf("generate key: no domain names"))
	}
	key, err := certcrypto.GeneratePrivateKey(certcrypto.RSA2048)
	if err != nil {
		return nil, retry.Fatal(fmt.Errorf("generate certificate key: %w", err))
	}
	csr, err := certcrypto.GenerateCSR(key, params.DomainNames[0], params.DomainNames[1:], false)
	if err != nil {
		return nil, retry.Fatal(fmt.Errorf("generate csr: %w", err))
	}
	return &CertificateKey{KeyPEM: certcrypto.PEMEncode(key), CSR: csr}, nil
}

// FinalizeOrderParams holds parameters for the FinalizeOrder activity.
type FinalizeOrderParams struct {
	OrderURL string `json:"order_url"`
	CSR      []byte `json:"csr"`
}

// FinalizeOrder submits the CSR when the order is ready. An order that is
// already processing or valid is returned as is.
func (a *ACME) FinalizeOrder(ctx context.Context, params FinalizeOrderParams) (*model.Order, error) {
	order, err := a.client.GetOrder(ctx, params.OrderURL)
	if err != nil {
		return nil, acmeError("get order", err)
	}
	switch order.Status {
	case model.OrderProcessing, model.OrderValid:
		return order, nil
	case model.OrderInvalid:
		return nil, retry.FinalizeInvalid("order %s is invalid before finalize", order.URL)
	case model.OrderPending:
		return nil, retry.NotYet("order %s is not ready for finalize", order.URL)
	}

	order, err = a.client.FinalizeOrder(ctx, *order, params.CSR)
	if err != nil {
		return nil, acmeError("finalize order", err)
	}
	if order.Status == model.OrderInvalid {
		return nil, retry.FinalizeInvalid("order %s invalid after finalize: %s", order.URL, problemDetail(order.Error))
	}
	return order, nil
}

// AwaitOrderValid is polled until a finalized order becomes valid.
func (a *ACME) AwaitOrderValid(ctx context.Context, params OrderParams) (*model.Order, error) {
	order, err := a.client.GetOrder(ctx, params.OrderURL)
	if err != nil {
		return nil, acmeError("get order", err)
	}
	switch order.Status {
	case model.OrderValid:
		if order.CertURL == "" {
			return nil, retry.NotYet("order %s valid without certificate url", order.URL)
		}
		return order, nil
	case model.OrderInvalid:
		return nil, retry.FinalizeInvalid("order %s invalid after finalize: %s", order.URL, problemDetail(order.Error))
	default:
		return nil, retry.NotYet("order %s is %s", order.URL, order.Status)
	}
}

// acmeError tags CA failures: server errors, rate limiting and transport
// failures are worth another attempt, client errors are not.
func acmeError(op string, err error) error {
	code := acmeclient.StatusCode(err)
	switch {
	case code == 0, code >= http.StatusInternalServerError, code == http.StatusTooManyRequests:
		return retry.NotYet("%s: %v", op, err)
	default:
		return retry.Fatal(fmt.Errorf("%s: %w", op, err))
	}
}

func problemDetail(p *model.Problem) string {
	if p == nil {
		return "no detail"
	}
	return p.Kind() + ": " + p.Detail
}
