package workflow

import (
	"fmt"
	"math/rand/v2"
	"time"

	"go.temporal.io/sdk/workflow"

	"github.com/edvin/certflow/internal/activity"
	"github.com/edvin/certflow/internal/model"
	"github.com/edvin/certflow/internal/retry"
)

// Renewal defaults used when a run is started without explicit settings.
const (
	DefaultRenewBefore        = 30 * 24 * time.Hour
	DefaultRenewalMaxJitter   = 600 * time.Second
	DefaultRenewalConcurrency = 4
)

// RenewalParams holds the parameters for RenewCertificatesWorkflow. Zero
// values fall back to the defaults; a negative MaxJitter disables the
// startup delay.
type RenewalParams struct {
	RenewBefore    time.Duration `json:"renew_before"`
	MaxJitter      time.Duration `json:"max_jitter"`
	Concurrency    int           `json:"concurrency"`
	ResourceGroups []string      `json:"resource_groups,omitempty"`
	Options        OrderOptions  `json:"options"`
}

// RenewCertificatesWorkflow renews every certificate that is about to
// expire and still bound to a resource. Resources are renewed by
// independent child workflows; one resource failing never stops the others.
// Only failing to read the inventory fails the run.
func RenewCertificatesWorkflow(ctx workflow.Context, params RenewalParams) (*model.RenewalReport, error) {
	if params.RenewBefore <= 0 {
		params.RenewBefore = DefaultRenewBefore
	}
	if params.MaxJitter == 0 {
		params.MaxJitter = DefaultRenewalMaxJitter
	}
	if params.Concurrency <= 0 {
		params.Concurrency = DefaultRenewalConcurrency
	}
	ctx = workflow.WithActivityOptions(ctx, retry.ActivityOptions())
	logger := workflow.GetLogger(ctx)
	report := &model.RenewalReport{StartedAt: workflow.Now(ctx)}

	var expiring []model.CertificateRecord
	if err := workflow.ExecuteActivity(ctx, "GetExpiringCertificates", activity.ExpiringCertificatesParams{
		RenewBefore: params.RenewBefore,
	}).Get(ctx, &expiring); err != nil {
		return nil, fmt.Errorf("get expiring certificates: %w", err)
	}
	report.Candidates = len(expiring)
	if len(expiring) == 0 {
		logger.Info("no certificates due for renewal")
		return report, nil
	}

	if params.MaxJitter > 0 {
		var jitter time.Duration
		if err := workflow.SideEffect(ctx, func(ctx workflow.Context) interface{} {
			return time.Duration(rand.Int64N(int64(params.MaxJitter) + 1))
		}).Get(&jitter); err != nil {
			return nil, err
		}
		logger.Info("delaying renewal run", "jitter", jitter, "candidates", len(expiring))
		if err := workflow.Sleep(ctx, jitter); err != nil {
			return nil, err
		}
	}

	var resources []model.HostingResource
	if err := workflow.ExecuteActivity(ctx, "ListAllResources", activity.ListAllResourcesParams{
		ResourceGroups: params.ResourceGroups,
	}).Get(ctx, &resources); err != nil {
		return nil, fmt.Errorf("list resources: %w", err)
	}

	var work []RenewResourceParams
	for _, r := range resources {
		records := MatchBoundRecords(r, expiring)
		if len(records) == 0 {
			continue
		}
		work = append(work, RenewResourceParams{ResourceID: r.ID, Records: records, Options: params.Options})
	}
	report.Resources = len(work)

	results := make([]RenewResourceResult, len(work))
	errs := make([]error, len(work))
	parentID := workflow.GetInfo(ctx).WorkflowExecution.ID
	wg := workflow.NewWaitGroup(ctx)
	sem := workflow.NewSemaphore(ctx, int64(params.Concurrency))
	for i, w := range work {
		if err := sem.Acquire(ctx, 1); err != nil {
			return nil, err
		}
		wg.Add(1)
		workflow.Go(ctx, func(gctx workflow.Context) {
			defer wg.Done()
			defer sem.Release(1)

			childCtx := workflow.WithChildOptions(gctx, workflow.ChildWorkflowOptions{
				WorkflowID: parentID + "/resource-" + w.ResourceID,
			})
			errs[i] = workflow.ExecuteChildWorkflow(childCtx, RenewResourceWorkflow, w).Get(gctx, &results[i])
		})
	}
	wg.Wait(ctx)

	for i, w := range work {
		switch {
		case errs[i] != nil:
			logger.Error("resource renewal failed", "resource", w.ResourceID, "thumbprints", thumbprints(w.Records), "error", errs[i])
			report.Failed = append(report.Failed, model.ResourceFailure{
				ResourceID:  w.ResourceID,
				Thumbprints: thumbprints(w.Records),
				Error:       errs[i].Error(),
			})
		case len(results[i].Failed) > 0:
			report.Renewed += results[i].Renewed
			report.Failed = append(report.Failed, model.ResourceFailure{
				ResourceID:  w.ResourceID,
				Thumbprints: results[i].Failed,
				Error:       results[i].Error,
			})
		default:
			report.Renewed += results[i].Renewed
		}
	}

	if err := workflow.ExecuteActivity(ctx, "NotifyRenewalReport", *report).Get(ctx, nil); err != nil {
		logger.Warn("renewal report notification failed", "error", err)
	}
	logger.Info("renewal run finished", "candidates", report.Candidates, "resources", report.Resources,
		"renewed", report.Renewed, "failed", len(report.Failed))
	return report, nil
}

// MatchBoundRecords returns the records whose thumbprint is bound to one of
// the resource's host names.
func MatchBoundRecords(resource model.HostingResource, records []model.CertificateRecord) []model.CertificateRecord {
	bound := resource.BoundThumbprints()
	var out []model.CertificateRecord
	for _, rec := range records {
		if bound[model.NormalizeThumbprint(rec.Thumbprint)] {
			out = append(out, rec)
		}
	}
	return out
}

// RenewResourceParams holds the parameters for RenewResourceWorkflow.
type RenewResourceParams struct {
	ResourceID string                    `json:"resource_id"`
	Records    []model.CertificateRecord `json:"records"`
	Options    OrderOptions              `json:"options"`
}

// RenewResourceResult reports which records of a resource were renewed.
type RenewResourceResult struct {
	ResourceID string   `json:"resource_id"`
	Renewed    int      `json:"renewed"`
	Failed     []string `json:"failed,omitempty"`
	Error      string   `json:"error,omitempty"`
}

// RenewResourceWorkflow renews and rebinds the given certificates of one
// resource. Per-record failures are logged and reported in the result; the
// workflow itself completes normally. The HTTP-01 virtual path is always
// removed at the end.
func RenewResourceWorkflow(ctx workflow.Context, params RenewResourceParams) (*RenewResourceResult, error) {
	ctx = workflow.WithActivityOptions(ctx, retry.ActivityOptions())
	logger := workflow.GetLogger(ctx)
	result := &RenewResourceResult{ResourceID: params.ResourceID}
	defer cleanupTemporaryConfig(ctx, params.ResourceID)

	fail := func(rec model.CertificateRecord, err error) {
		logger.Error("certificate renewal failed", "resource", params.ResourceID,
			"thumbprint", rec.Thumbprint, "host_names", rec.HostNames, "kind", retry.KindOf(err), "error", err)
		result.Failed = append(result.Failed, rec.Thumbprint)
		result.Error = err.Error()
	}

	var resource model.HostingResource
	if err := workflow.ExecuteActivity(ctx, "GetResource", params.ResourceID).Get(ctx, &resource); err != nil {
		for _, rec := range params.Records {
			fail(rec, err)
		}
		return result, nil
	}

	parentID := workflow.GetInfo(ctx).WorkflowExecution.ID
	for _, rec := range params.Records {
		names := rec.RenewalHostNames()
		if len(names) == 0 {
			fail(rec, retry.Fatal(fmt.Errorf("certificate %s has no renewable host names", rec.Thumbprint)))
			continue
		}

		issued, err := issueCertificate(ctx, IssueChildID(parentID, model.NormalizeThumbprint(rec.Thumbprint)), IssueCertificateParams{
			ResourceID:  params.ResourceID,
			DomainNames: names,
			ForceDNS01:  rec.UsedDNS01(),
			Options:     params.Options,
		})
		if err != nil {
			fail(rec, err)
			continue
		}

		if err := workflow.ExecuteActivity(ctx, "BindCertificate", activity.BindCertificateParams{
			ResourceID: params.ResourceID,
			HostNames:  names,
			Thumbprint: issued.Thumbprint,
		}).Get(ctx, nil); err != nil {
			fail(rec, err)
			continue
		}

		notifyCompletion(ctx, resource, issued, names)
		result.Renewed++
		logger.Info("certificate renewed", "resource", params.ResourceID,
			"old_thumbprint", rec.Thumbprint, "new_thumbprint", issued.Thumbprint)
	}
	return result, nil
}

func thumbprints(records []model.CertificateRecord) []string {
	out := make([]string, 0, len(records))
	for _, r := range records {
		out = append(out, r.Thumbprint)
	}
	return out
}
