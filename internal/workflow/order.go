package workflow

import (
	"errors"
	"strings"
	"time"

	"go.temporal.io/sdk/workflow"

	"github.com/edvin/certflow/internal/activity"
	"github.com/edvin/certflow/internal/model"
	"github.com/edvin/certflow/internal/retry"
)

// OrderStageQuery is the query name reporting an order's current stage.
const OrderStageQuery = "order-stage"

// DefaultPropagationDelay is waited once per DNS-01 batch before the first
// verification attempt.
const DefaultPropagationDelay = 10 * time.Second

// OrderStage is the step an order workflow is executing. Completed steps
// are recorded in workflow history and are not re-executed on replay.
type OrderStage string

const (
	StageSelecting     OrderStage = "selecting"
	StagePrecondition  OrderStage = "precondition"
	StageOrdering      OrderStage = "ordering"
	StageAuthorizing   OrderStage = "authorizing"
	StageAnswering     OrderStage = "answering"
	StageAwaitingReady OrderStage = "awaiting-ready"
	StageFinalizing    OrderStage = "finalizing"
	StageAwaitingValid OrderStage = "awaiting-valid"
	StagePackaging     OrderStage = "packaging"
	StageDone          OrderStage = "done"
	StageFailed        OrderStage = "failed"
)

// OrderOptions are the deployment tunables every order carries.
type OrderOptions struct {
	PropagationDelay time.Duration `json:"propagation_delay"`
	// LeaseDomains guards DNS-01 challenge names with a domain lease.
	LeaseDomains bool `json:"lease_domains"`
}

// IssueCertificateParams holds the parameters for IssueCertificateWorkflow.
type IssueCertificateParams struct {
	ResourceID  string       `json:"resource_id"`
	DomainNames []string     `json:"domain_names"`
	ForceDNS01  bool         `json:"force_dns01"`
	Options     OrderOptions `json:"options"`
}

// UseDNS01 selects the challenge type for an order. Wildcards can only be
// proven over DNS, and container and Linux resources have no writable path
// to serve HTTP-01 proofs from.
func UseDNS01(force bool, names []string, resource model.HostingResource) bool {
	if force {
		return true
	}
	for _, n := range names {
		if strings.HasPrefix(n, "*") {
			return true
		}
	}
	return resource.HasKind(model.KindContainer) || resource.HasKind(model.KindLinux)
}

// IssueCertificateWorkflow drives one ACME order for a resource from
// challenge selection to an uploaded certificate. The HTTP-01 virtual path
// is left in place; removing it is the caller's job.
func IssueCertificateWorkflow(ctx workflow.Context, params IssueCertificateParams) (*model.CertificateRecord, error) {
	o := &orderRun{params: params, stage: StageSelecting}
	if err := workflow.SetQueryHandler(ctx, OrderStageQuery, func() (OrderStage, error) {
		return o.stage, nil
	}); err != nil {
		return nil, retry.Fatal(err)
	}

	record, err := o.run(ctx)
	if err != nil {
		o.stage = StageFailed
		workflow.GetLogger(ctx).Error("certificate order failed",
			"resource", params.ResourceID, "domains", params.DomainNames, "kind", retry.KindOf(err), "error", err)
		return nil, retry.Escalate(err)
	}
	o.stage = StageDone
	return record, nil
}

type orderRun struct {
	params        IssueCertificateParams
	stage         OrderStage
	challengeType string
	owner         string
	proofs        []model.ChallengeProof
	cleaned       bool
}

func (o *orderRun) run(ctx workflow.Context) (*model.CertificateRecord, error) {
	p := o.params
	if len(p.DomainNames) == 0 {
		return nil, retry.Fatal(errors.New("no domain names requested"))
	}
	ctx = workflow.WithActivityOptions(ctx, retry.ActivityOptions())
	o.owner = workflow.GetInfo(ctx).WorkflowExecution.ID

	var resource model.HostingResource
	if err := workflow.ExecuteActivity(ctx, "GetResource", p.ResourceID).Get(ctx, &resource); err != nil {
		return nil, err
	}
	dns01 := UseDNS01(p.ForceDNS01, p.DomainNames, resource)
	o.challengeType = model.ChallengeHTTP01
	if dns01 {
		o.challengeType = model.ChallengeDNS01
	}

	o.stage = StagePrecondition
	if dns01 {
		err := workflow.ExecuteActivity(ctx, "VerifyDNSDelegation", activity.VerifyDNSDelegationParams{
			DomainNames: p.DomainNames,
		}).Get(ctx, nil)
		if err != nil {
			return nil, err
		}
	} else {
		err := workflow.ExecuteActivity(ctx, "EnsureChallengeVirtualPath", activity.ResourceParams{
			ResourceID: p.ResourceID,
		}).Get(ctx, nil)
		if err != nil {
			return nil, err
		}
	}

	if dns01 && p.Options.LeaseDomains {
		var leased []string
		err := workflow.ExecuteActivity(ctx, "AcquireDomainLeases", activity.DomainLeaseParams{
			Owner:       o.owner,
			DomainNames: p.DomainNames,
		}).Get(ctx, &leased)
		if err != nil {
			return nil, err
		}
		defer func() {
			dctx, _ := workflow.NewDisconnectedContext(ctx)
			release := activity.DomainLeaseParams{Owner: o.owner, DomainNames: leased}
			if err := workflow.ExecuteActivity(dctx, "ReleaseDomainLeases", release).Get(dctx, nil); err != nil {
				workflow.GetLogger(ctx).Warn("failed to release domain leases", "records", leased, "error", err)
			}
		}()
	}
	defer o.cleanupOnFailure(ctx)

	o.stage = StageOrdering
	var order model.Order
	err := workflow.ExecuteActivity(ctx, "CreateOrder", activity.CreateOrderParams{
		DomainNames: p.DomainNames,
	}).Get(ctx, &order)
	if err != nil {
		return nil, err
	}

	if order.Status == model.OrderPending {
		if err := o.authorize(ctx, order); err != nil {
			return nil, err
		}
		o.stage = StageAwaitingReady
		rctx := workflow.WithActivityOptions(ctx, retry.ReadyOptions())
		if err := workflow.ExecuteActivity(rctx, "AwaitOrderReady", activity.OrderParams{
			OrderURL: order.URL,
		}).Get(ctx, &order); err != nil {
			return nil, err
		}
		o.cleanup(ctx)
	}

	o.stage = StageFinalizing
	var key activity.CertificateKey
	if err := workflow.ExecuteActivity(ctx, "GenerateCertificateKey", activity.GenerateKeyParams{
		DomainNames: p.DomainNames,
	}).Get(ctx, &key); err != nil {
		return nil, err
	}
	if err := workflow.ExecuteActivity(ctx, "FinalizeOrder", activity.FinalizeOrderParams{
		OrderURL: order.URL,
		CSR:      key.CSR,
	}).Get(ctx, &order); err != nil {
		return nil, err
	}
	if order.Status != model.OrderValid || order.CertURL == "" {
		o.stage = StageAwaitingValid
		vctx := workflow.WithActivityOptions(ctx, retry.ValidOptions())
		if err := workflow.ExecuteActivity(vctx, "AwaitOrderValid", activity.OrderParams{
			OrderURL: order.URL,
		}).Get(ctx, &order); err != nil {
			return nil, err
		}
	}

	o.stage = StagePackaging
	var record model.CertificateRecord
	if err := workflow.ExecuteActivity(ctx, "PackageCertificate", activity.PackageCertificateParams{
		ResourceID: p.ResourceID,
		CertURL:    order.CertURL,
		KeyPEM:     key.KeyPEM,
		DNS01:      dns01,
	}).Get(ctx, &record); err != nil {
		return nil, err
	}
	return &record, nil
}

// authorize proves every pending authorization, waits until each proof is
// independently visible and then answers them all at once.
func (o *orderRun) authorize(ctx workflow.Context, order model.Order) error {
	o.stage = StageAuthorizing
	for _, authzURL := range order.AuthzURLs {
		var proof *model.ChallengeProof
		err := workflow.ExecuteActivity(ctx, "ProveChallenge", activity.ProveChallengeParams{
			ResourceID:    o.params.ResourceID,
			AuthzURL:      authzURL,
			ChallengeType: o.challengeType,
			CorrelationID: o.owner,
		}).Get(ctx, &proof)
		if err != nil {
			return err
		}
		if proof != nil {
			o.proofs = append(o.proofs, *proof)
		}
	}
	if len(o.proofs) == 0 {
		return nil
	}

	if o.challengeType == model.ChallengeDNS01 {
		delay := o.params.Options.PropagationDelay
		if delay <= 0 {
			delay = DefaultPropagationDelay
		}
		if err := workflow.Sleep(ctx, delay); err != nil {
			return err
		}
	}

	vctx := workflow.WithActivityOptions(ctx, retry.VerifyOptions())
	errs := make([]error, len(o.proofs))
	wg := workflow.NewWaitGroup(ctx)
	for i, proof := range o.proofs {
		wg.Add(1)
		workflow.Go(vctx, func(gctx workflow.Context) {
			defer wg.Done()
			errs[i] = workflow.ExecuteActivity(gctx, "VerifyChallenge", activity.VerifyChallengeParams{
				Proof: proof,
			}).Get(gctx, nil)
		})
	}
	wg.Wait(ctx)
	for _, err := range errs {
		if err != nil {
			return err
		}
	}

	o.stage = StageAnswering
	return workflow.ExecuteActivity(ctx, "AnswerChallenges", activity.AnswerChallengesParams{
		Proofs: o.proofs,
	}).Get(ctx, nil)
}

func (o *orderRun) cleanup(ctx workflow.Context) {
	if o.cleaned || len(o.proofs) == 0 {
		return
	}
	o.cleaned = true
	err := workflow.ExecuteActivity(ctx, "CleanupChallenges", activity.CleanupChallengesParams{
		ResourceID: o.params.ResourceID,
		Proofs:     o.proofs,
	}).Get(ctx, nil)
	if err != nil {
		workflow.GetLogger(ctx).Warn("failed to clean up challenge proofs", "resource", o.params.ResourceID, "error", err)
	}
}

// cleanupOnFailure removes proofs left behind by a failed order, even when
// the workflow itself was cancelled.
func (o *orderRun) cleanupOnFailure(ctx workflow.Context) {
	if o.cleaned || len(o.proofs) == 0 {
		return
	}
	dctx, _ := workflow.NewDisconnectedContext(ctx)
	o.cleanup(dctx)
}
