package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/edvin/certflow/internal/db/dbtest"
)

func TestAuditTarget(t *testing.T) {
	tests := []struct {
		name       string
		method     string
		path       string
		action     string
		resourceID string
	}{
		{"issue", http.MethodPost, "/api/v1/resources/site-1/certificates", ActionIssueCertificate, "site-1"},
		{"issue trailing slash", http.MethodPost, "/api/v1/resources/site-1/certificates/", ActionIssueCertificate, "site-1"},
		{"manual renewal", http.MethodPost, "/api/v1/renewals", ActionStartRenewal, ""},
		{"missing resource", http.MethodPost, "/api/v1/resources//certificates", ActionUnknown, ""},
		{"unknown route", http.MethodDelete, "/api/v1/resources/site-1", ActionUnknown, ""},
		{"wrong method", http.MethodPut, "/api/v1/renewals", ActionUnknown, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			action, id := auditTarget(tt.method, tt.path)
			assert.Equal(t, tt.action, action)
			if tt.resourceID == "" {
				assert.Nil(t, id)
				return
			}
			require.NotNil(t, id)
			assert.Equal(t, tt.resourceID, *id)
		})
	}
}

func TestStartedWorkflow(t *testing.T) {
	id := startedWorkflow("/api/v1/workflows/issue-and-bind-site-1-abc")
	require.NotNil(t, id)
	assert.Equal(t, "issue-and-bind-site-1-abc", *id)

	assert.Nil(t, startedWorkflow(""))
	assert.Nil(t, startedWorkflow("/api/v1/workflows/"))
	assert.Nil(t, startedWorkflow("/api/v1/resources/site-1"))
}

func TestSanitizeBody(t *testing.T) {
	body := []byte(`{
		"domain_names": ["a.example.com"],
		"pfx_password": "hunter2",
		"options": {"eab_hmac_key": "c2VjcmV0", "force_dns01": true},
		"uploads": [{"pfx": "MIIK...", "name": "legacy"}]
	}`)

	var result map[string]any
	require.NoError(t, json.Unmarshal(sanitizeBody(body), &result))
	assert.Equal(t, []any{"a.example.com"}, result["domain_names"])
	assert.Equal(t, "[REDACTED]", result["pfx_password"])

	opts := result["options"].(map[string]any)
	assert.Equal(t, "[REDACTED]", opts["eab_hmac_key"])
	assert.Equal(t, true, opts["force_dns01"])

	upload := result["uploads"].([]any)[0].(map[string]any)
	assert.Equal(t, "[REDACTED]", upload["pfx"])
	assert.Equal(t, "legacy", upload["name"])
}

func TestSanitizeBody_NotAnObject(t *testing.T) {
	assert.JSONEq(t, `["a.example.com"]`, string(sanitizeBody([]byte(`["a.example.com"]`))))
}

func TestAuditLogger_RecordsIssueAction(t *testing.T) {
	pool := &dbtest.MockDB{}
	var written []any
	pool.On("Exec", mock.Anything, dbtest.SQLContaining("INSERT INTO audit_logs", "workflow_id"), mock.Anything).
		Run(func(args mock.Arguments) { written = args.Get(2).([]any) }).
		Return(dbtest.Tag("INSERT 0 1"), nil).Once()

	al := NewAuditLogger(pool, zerolog.Nop())
	handler := al.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Location", "/api/v1/workflows/issue-and-bind-site-1-abc")
		w.WriteHeader(http.StatusAccepted)
	}))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/resources/site-1/certificates",
		strings.NewReader(`{"domain_names":["a.example.com"]}`))
	req = req.WithContext(context.WithValue(req.Context(), APIKeyIDKey, "key-1"))
	handler.ServeHTTP(httptest.NewRecorder(), req)

	// Reads are not audited.
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/v1/workflows/wf-1", nil))

	al.Close()

	require.Len(t, written, 8)
	assert.Equal(t, "key-1", *written[0].(*string))
	assert.Equal(t, ActionIssueCertificate, written[1])
	assert.Equal(t, http.MethodPost, written[2])
	assert.Equal(t, "site-1", *written[4].(*string))
	assert.Equal(t, "issue-and-bind-site-1-abc", *written[5].(*string))
	assert.Equal(t, http.StatusAccepted, written[6])
	assert.JSONEq(t, `{"domain_names":["a.example.com"]}`, string(written[7].(json.RawMessage)))
	pool.AssertExpectations(t)
}

func TestAuditLogger_FailedRenewalHasNoWorkflow(t *testing.T) {
	pool := &dbtest.MockDB{}
	var written []any
	pool.On("Exec", mock.Anything, mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) { written = args.Get(2).([]any) }).
		Return(dbtest.Tag("INSERT 0 1"), nil).Once()

	al := NewAuditLogger(pool, zerolog.Nop())
	handler := al.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/api/v1/renewals", nil))
	al.Close()

	require.Len(t, written, 8)
	assert.Nil(t, written[0].(*string))
	assert.Equal(t, ActionStartRenewal, written[1])
	assert.Nil(t, written[4].(*string))
	assert.Nil(t, written[5].(*string))
	assert.Equal(t, http.StatusBadGateway, written[6])
}
