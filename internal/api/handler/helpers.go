package handler

import (
	"errors"
	"net/http"

	"go.temporal.io/api/serviceerror"
	temporalclient "go.temporal.io/sdk/client"

	"github.com/edvin/certflow/internal/api/response"
)

// startedResponse is returned when a workflow has been started.
type startedResponse struct {
	WorkflowID string `json:"workflow_id"`
	RunID      string `json:"run_id"`
}

// writeStarted answers 202 with the started run and points Location at its
// status endpoint.
func writeStarted(w http.ResponseWriter, run temporalclient.WorkflowRun) {
	w.Header().Set("Location", "/api/v1/workflows/"+run.GetID())
	response.WriteJSON(w, http.StatusAccepted, startedResponse{WorkflowID: run.GetID(), RunID: run.GetRunID()})
}

// writeTemporalError maps Temporal frontend errors to HTTP statuses.
func writeTemporalError(w http.ResponseWriter, err error) {
	var notFound *serviceerror.NotFound
	var started *serviceerror.WorkflowExecutionAlreadyStarted
	switch {
	case errors.As(err, &notFound):
		response.WriteError(w, http.StatusNotFound, err.Error())
	case errors.As(err, &started):
		response.WriteError(w, http.StatusConflict, err.Error())
	default:
		response.WriteError(w, http.StatusBadGateway, err.Error())
	}
}
