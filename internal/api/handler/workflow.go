package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	enumspb "go.temporal.io/api/enums/v1"
	temporalclient "go.temporal.io/sdk/client"
	"go.temporal.io/sdk/temporal"

	"github.com/edvin/certflow/internal/api/response"
	"github.com/edvin/certflow/internal/model"
	"github.com/edvin/certflow/internal/workflow"
)

const stageQueryTimeout = 2 * time.Second

type Workflow struct {
	tc temporalclient.Client
}

func NewWorkflow(tc temporalclient.Client) *Workflow {
	return &Workflow{tc: tc}
}

// WorkflowStatus is the user-visible state of a started workflow.
type WorkflowStatus struct {
	WorkflowID string              `json:"workflow_id"`
	Status     string              `json:"status"`
	Stage      workflow.OrderStage `json:"stage,omitempty"`
	ErrorKind  string              `json:"error_kind,omitempty"`
	Message    string              `json:"message,omitempty"`
	Result     json.RawMessage     `json:"result,omitempty"`
}

// Get godoc
//
//	@Summary		Report the state of a certflow workflow
//	@Tags			Workflows
//	@Security		ApiKeyAuth
//	@Param			workflowID path string true "Workflow ID"
//	@Success		200 {object} WorkflowStatus
//	@Failure		404 {object} response.ErrorResponse
//	@Router			/workflows/{workflowID} [get]
func (h *Workflow) Get(w http.ResponseWriter, r *http.Request) {
	workflowID := chi.URLParam(r, "workflowID")
	if workflowID == "" {
		response.WriteError(w, http.StatusBadRequest, "missing workflow ID")
		return
	}

	desc, err := h.tc.DescribeWorkflowExecution(r.Context(), workflowID, "")
	if err != nil {
		writeTemporalError(w, err)
		return
	}

	status := WorkflowStatus{WorkflowID: workflowID}
	switch desc.GetWorkflowExecutionInfo().GetStatus() {
	case enumspb.WORKFLOW_EXECUTION_STATUS_RUNNING, enumspb.WORKFLOW_EXECUTION_STATUS_CONTINUED_AS_NEW:
		status.Status = model.RunStatusRunning
		status.Stage = h.orderStage(r.Context(), workflowID)
	case enumspb.WORKFLOW_EXECUTION_STATUS_COMPLETED:
		status.Status = model.RunStatusSucceeded
		var result json.RawMessage
		if err := h.tc.GetWorkflow(r.Context(), workflowID, "").Get(r.Context(), &result); err == nil {
			status.Result = result
		}
	case enumspb.WORKFLOW_EXECUTION_STATUS_FAILED:
		status.Status = model.RunStatusFailed
		err := h.tc.GetWorkflow(r.Context(), workflowID, "").Get(r.Context(), nil)
		status.ErrorKind, status.Message = failureOf(err)
		status.Stage = h.orderStage(r.Context(), workflowID)
	default:
		status.Status = model.RunStatusFailed
		status.Message = "workflow " + desc.GetWorkflowExecutionInfo().GetStatus().String()
	}

	response.WriteJSON(w, http.StatusOK, status)
}

// orderStage asks the order started on behalf of workflowID for its
// stage. Workflows that never started an order report no stage.
func (h *Workflow) orderStage(ctx context.Context, workflowID string) workflow.OrderStage {
	ctx, cancel := context.WithTimeout(ctx, stageQueryTimeout)
	defer cancel()

	val, err := h.tc.QueryWorkflow(ctx, workflow.IssueChildID(workflowID, "manual"), "", workflow.OrderStageQuery)
	if err != nil || val == nil || !val.HasValue() {
		return ""
	}
	var stage workflow.OrderStage
	if err := val.Get(&stage); err != nil {
		return ""
	}
	return stage
}

// failureOf extracts the error kind and message from a failed run.
func failureOf(err error) (kind, message string) {
	if err == nil {
		return "", ""
	}
	var appErr *temporal.ApplicationError
	if errors.As(err, &appErr) {
		return appErr.Type(), appErr.Message()
	}
	return "", err.Error()
}
