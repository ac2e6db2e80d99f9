package workflow

import (
	"fmt"
	"time"

	"go.temporal.io/sdk/workflow"

	"github.com/edvin/certflow/internal/activity"
	"github.com/edvin/certflow/internal/model"
	"github.com/edvin/certflow/internal/retry"
)

// PurgeGracePeriod protects freshly uploaded certificates that an
// in-flight order has not bound yet.
const PurgeGracePeriod = 24 * time.Hour

// PurgeCertificatesWorkflow deletes certificates certflow issued that are
// no longer bound to any resource in any resource group.
func PurgeCertificatesWorkflow(ctx workflow.Context) (*model.PurgeReport, error) {
	ctx = workflow.WithActivityOptions(ctx, retry.ActivityOptions())
	logger := workflow.GetLogger(ctx)

	var issued []model.CertificateRecord
	if err := workflow.ExecuteActivity(ctx, "GetIssuedCertificates").Get(ctx, &issued); err != nil {
		return nil, fmt.Errorf("get issued certificates: %w", err)
	}
	report := &model.PurgeReport{Issued: len(issued)}
	if len(issued) == 0 {
		return report, nil
	}

	var resources []model.HostingResource
	if err := workflow.ExecuteActivity(ctx, "ListAllResources", activity.ListAllResourcesParams{}).Get(ctx, &resources); err != nil {
		return nil, fmt.Errorf("list resources: %w", err)
	}

	cutoff := workflow.Now(ctx).Add(-PurgeGracePeriod)
	for _, rec := range UnboundCertificates(issued, resources) {
		if rec.CreatedAt.After(cutoff) {
			continue
		}
		if err := workflow.ExecuteActivity(ctx, "DeleteCertificate", rec.ID).Get(ctx, nil); err != nil {
			logger.Error("failed to delete unbound certificate", "id", rec.ID, "thumbprint", rec.Thumbprint, "error", err)
			report.Failed = append(report.Failed, rec.ID)
			continue
		}
		logger.Info("deleted unbound certificate", "id", rec.ID, "thumbprint", rec.Thumbprint, "subject", rec.SubjectName)
		report.Deleted = append(report.Deleted, rec.ID)
	}
	return report, nil
}

// UnboundCertificates returns the records whose thumbprint is bound on none
// of the resources.
func UnboundCertificates(records []model.CertificateRecord, resources []model.HostingResource) []model.CertificateRecord {
	bound := make(map[string]bool)
	for _, r := range resources {
		for t := range r.BoundThumbprints() {
			bound[t] = true
		}
	}
	var out []model.CertificateRecord
	for _, rec := range records {
		if !bound[model.NormalizeThumbprint(rec.Thumbprint)] {
			out = append(out, rec)
		}
	}
	return out
}
