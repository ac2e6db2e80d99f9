package handler

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	temporalclient "go.temporal.io/sdk/client"
	temporalmocks "go.temporal.io/sdk/mocks"

	"github.com/edvin/certflow/internal/workflow"
)

func renewalDefaults() workflow.RenewalParams {
	return workflow.RenewalParams{
		RenewBefore:    30 * 24 * time.Hour,
		MaxJitter:      10 * time.Minute,
		Concurrency:    4,
		ResourceGroups: []string{"rg-a"},
	}
}

func TestRenewalStart_EmptyBody(t *testing.T) {
	tc := &temporalmocks.Client{}
	var started temporalclient.StartWorkflowOptions
	var params workflow.RenewalParams
	tc.On("ExecuteWorkflow", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			started = args.Get(1).(temporalclient.StartWorkflowOptions)
			params = args.Get(3).(workflow.RenewalParams)
		}).
		Return(mockRun("certificate-renewal-manual-x"), nil).Once()

	rec := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/renewals", nil)

	NewRenewal(tc, "certflow-tasks", renewalDefaults()).Start(rec, r)

	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.True(t, strings.HasPrefix(started.ID, "certificate-renewal-manual-"))
	assert.Equal(t, "certflow-tasks", started.TaskQueue)
	assert.Equal(t, []string{"rg-a"}, params.ResourceGroups)
	assert.Equal(t, 4, params.Concurrency)
	assert.Less(t, params.MaxJitter, time.Duration(0))
	tc.AssertExpectations(t)
}

func TestRenewalStart_ResourceGroups(t *testing.T) {
	tc := &temporalmocks.Client{}
	var params workflow.RenewalParams
	tc.On("ExecuteWorkflow", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) { params = args.Get(3).(workflow.RenewalParams) }).
		Return(mockRun("certificate-renewal-manual-y"), nil).Once()

	rec := httptest.NewRecorder()
	r := newRequest(http.MethodPost, "/renewals", map[string]any{"resource_groups": []string{"rg-b", "rg-c"}})

	defaults := renewalDefaults()
	NewRenewal(tc, "certflow-tasks", defaults).Start(rec, r)

	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, []string{"rg-b", "rg-c"}, params.ResourceGroups)
	assert.Equal(t, []string{"rg-a"}, defaults.ResourceGroups)
}

func TestRenewalStart_InvalidJSON(t *testing.T) {
	tc := &temporalmocks.Client{}

	rec := httptest.NewRecorder()
	NewRenewal(tc, "certflow-tasks", renewalDefaults()).Start(rec, newRequestRaw(http.MethodPost, "/renewals", "[1,"))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
