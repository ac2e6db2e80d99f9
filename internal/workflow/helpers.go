package workflow

import (
	"go.temporal.io/sdk/workflow"

	"github.com/edvin/certflow/internal/activity"
	"github.com/edvin/certflow/internal/model"
	"github.com/edvin/certflow/internal/retry"
)

// IssueChildID is the workflow ID of the order a parent workflow starts
// for one certificate. Callers query it for the order stage.
func IssueChildID(parentID, key string) string {
	return parentID + "/issue-" + key
}

// issueCertificate runs IssueCertificateWorkflow as a child that is rerun
// from scratch, hours later, when the CA invalidated the order for
// plausibly transient reasons.
func issueCertificate(ctx workflow.Context, childID string, params IssueCertificateParams) (*model.CertificateRecord, error) {
	childCtx := workflow.WithChildOptions(ctx, workflow.ChildWorkflowOptions{
		WorkflowID:  childID,
		RetryPolicy: retry.RestartPolicy(),
	})
	var record model.CertificateRecord
	if err := workflow.ExecuteChildWorkflow(childCtx, IssueCertificateWorkflow, params).Get(ctx, &record); err != nil {
		return nil, err
	}
	return &record, nil
}

// cleanupTemporaryConfig removes the HTTP-01 virtual path. It runs in a
// disconnected context so it also runs when the workflow was cancelled.
func cleanupTemporaryConfig(ctx workflow.Context, resourceID string) {
	dctx, _ := workflow.NewDisconnectedContext(ctx)
	dctx = workflow.WithActivityOptions(dctx, retry.ActivityOptions())
	err := workflow.ExecuteActivity(dctx, "CleanupTemporaryConfig", activity.ResourceParams{
		ResourceID: resourceID,
	}).Get(dctx, nil)
	if err != nil {
		workflow.GetLogger(ctx).Warn("failed to clean up temporary config", "resource", resourceID, "error", err)
	}
}

// notifyCompletion is best effort; a failed notification never fails the
// workflow.
func notifyCompletion(ctx workflow.Context, resource model.HostingResource, record *model.CertificateRecord, names []string) {
	err := workflow.ExecuteActivity(ctx, "NotifyCompletion", activity.NotifyCompletionParams{
		ResourceName: resource.Name,
		SlotName:     resource.Slot,
		ExpiresAt:    record.ExpiresAt,
		DomainNames:  names,
	}).Get(ctx, nil)
	if err != nil {
		workflow.GetLogger(ctx).Warn("completion notification failed", "resource", resource.ID, "error", err)
	}
}
