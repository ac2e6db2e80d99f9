package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	temporalclient "go.temporal.io/sdk/client"

	"github.com/edvin/certflow/internal/api/request"
	"github.com/edvin/certflow/internal/api/response"
	"github.com/edvin/certflow/internal/platform"
	"github.com/edvin/certflow/internal/workflow"
)

type Certificate struct {
	tc        temporalclient.Client
	taskQueue string
	options   workflow.OrderOptions
}

func NewCertificate(tc temporalclient.Client, taskQueue string, options workflow.OrderOptions) *Certificate {
	return &Certificate{tc: tc, taskQueue: taskQueue, options: options}
}

// Issue godoc
//
//	@Summary		Issue and bind a certificate for a resource
//	@Tags			Certificates
//	@Security		ApiKeyAuth
//	@Param			resourceID path string true "Resource ID"
//	@Param			body body request.IssueCertificate true "Host names"
//	@Success		202 {object} startedResponse
//	@Failure		400 {object} response.ErrorResponse
//	@Failure		502 {object} response.ErrorResponse
//	@Router			/resources/{resourceID}/certificates [post]
func (h *Certificate) Issue(w http.ResponseWriter, r *http.Request) {
	resourceID, err := request.RequireID(chi.URLParam(r, "resourceID"))
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req request.IssueCertificate
	if err := request.Decode(r, &req); err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	names, err := platform.NormalizeHostNames(req.DomainNames)
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	workflowID := "issue-and-bind-" + resourceID + "-" + platform.NewID()
	run, err := h.tc.ExecuteWorkflow(r.Context(), temporalclient.StartWorkflowOptions{
		ID:        workflowID,
		TaskQueue: h.taskQueue,
	}, workflow.IssueAndBindWorkflow, workflow.IssueAndBindParams{
		ResourceID:  resourceID,
		DomainNames: names,
		ForceDNS01:  req.ForceDNS01,
		SSLState:    req.SSLState,
		Options:     h.options,
	})
	if err != nil {
		writeTemporalError(w, err)
		return
	}

	zerolog.Ctx(r.Context()).Info().
		Str("resource_id", resourceID).
		Strs("domain_names", names).
		Str("workflow_id", run.GetID()).
		Msg("certificate order started")

	writeStarted(w, run)
}
