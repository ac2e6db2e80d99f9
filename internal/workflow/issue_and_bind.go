package workflow

import (
	"go.temporal.io/sdk/workflow"

	"github.com/edvin/certflow/internal/activity"
	"github.com/edvin/certflow/internal/model"
	"github.com/edvin/certflow/internal/retry"
)

// IssueAndBindParams holds the parameters for IssueAndBindWorkflow.
type IssueAndBindParams struct {
	ResourceID  string         `json:"resource_id"`
	DomainNames []string       `json:"domain_names"`
	ForceDNS01  bool           `json:"force_dns01"`
	SSLState    model.SSLState `json:"ssl_state,omitempty"`
	Options     OrderOptions   `json:"options"`
}

// IssueAndBindWorkflow handles a manual add-certificate request: issue a
// certificate for the names, bind it and announce it.
func IssueAndBindWorkflow(ctx workflow.Context, params IssueAndBindParams) (*model.CertificateRecord, error) {
	ctx = workflow.WithActivityOptions(ctx, retry.ActivityOptions())
	logger := workflow.GetLogger(ctx)

	var resource model.HostingResource
	if err := workflow.ExecuteActivity(ctx, "GetResource", params.ResourceID).Get(ctx, &resource); err != nil {
		return nil, retry.Escalate(err)
	}
	defer cleanupTemporaryConfig(ctx, params.ResourceID)

	childID := IssueChildID(workflow.GetInfo(ctx).WorkflowExecution.ID, "manual")
	record, err := issueCertificate(ctx, childID, IssueCertificateParams{
		ResourceID:  params.ResourceID,
		DomainNames: params.DomainNames,
		ForceDNS01:  params.ForceDNS01,
		Options:     params.Options,
	})
	if err != nil {
		return nil, retry.Escalate(err)
	}

	if err := workflow.ExecuteActivity(ctx, "BindCertificate", activity.BindCertificateParams{
		ResourceID: params.ResourceID,
		HostNames:  params.DomainNames,
		Thumbprint: record.Thumbprint,
		SSLState:   params.SSLState,
	}).Get(ctx, nil); err != nil {
		logger.Error("failed to bind issued certificate", "resource", params.ResourceID, "thumbprint", record.Thumbprint, "error", err)
		return nil, retry.Escalate(err)
	}

	notifyCompletion(ctx, resource, record, params.DomainNames)
	return record, nil
}
