package handler

import (
	"errors"
	"io"
	"net/http"

	temporalclient "go.temporal.io/sdk/client"

	"github.com/edvin/certflow/internal/api/request"
	"github.com/edvin/certflow/internal/api/response"
	"github.com/edvin/certflow/internal/platform"
	"github.com/edvin/certflow/internal/workflow"
)

type Renewal struct {
	tc        temporalclient.Client
	taskQueue string
	params    workflow.RenewalParams
}

func NewRenewal(tc temporalclient.Client, taskQueue string, params workflow.RenewalParams) *Renewal {
	return &Renewal{tc: tc, taskQueue: taskQueue, params: params}
}

// Start godoc
//
//	@Summary		Run a certificate renewal pass now
//	@Tags			Renewals
//	@Security		ApiKeyAuth
//	@Param			body body request.StartRenewal false "Resource groups to scan"
//	@Success		202 {object} startedResponse
//	@Failure		400 {object} response.ErrorResponse
//	@Router			/renewals [post]
func (h *Renewal) Start(w http.ResponseWriter, r *http.Request) {
	var req request.StartRenewal
	if err := request.Decode(r, &req); err != nil && !errors.Is(err, io.EOF) {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	params := h.params
	if len(req.ResourceGroups) > 0 {
		params.ResourceGroups = req.ResourceGroups
	}
	// Startup jitter only spreads scheduled runs.
	params.MaxJitter = -1

	run, err := h.tc.ExecuteWorkflow(r.Context(), temporalclient.StartWorkflowOptions{
		ID:        "certificate-renewal-manual-" + platform.NewID(),
		TaskQueue: h.taskQueue,
	}, workflow.RenewCertificatesWorkflow, params)
	if err != nil {
		writeTemporalError(w, err)
		return
	}

	writeStarted(w, run)
}
