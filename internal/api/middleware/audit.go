package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"path"
	"strings"

	"github.com/rs/zerolog"

	"github.com/edvin/certflow/internal/db"
)

// Audit actions recorded for the mutating certflow routes.
const (
	ActionIssueCertificate = "certificate.issue"
	ActionStartRenewal     = "renewal.start"
	ActionUnknown          = "unknown"
)

// AuditLogger records every mutating API call in audit_logs: who asked,
// which hosting resource it targeted and which workflow it started.
// Writes happen on a background goroutine.
type AuditLogger struct {
	pool   db.DB
	logger zerolog.Logger
	ch     chan auditEntry
	done   chan struct{}
}

type auditEntry struct {
	APIKeyID    *string
	Action      string
	Method      string
	Path        string
	ResourceID  *string
	WorkflowID  *string
	StatusCode  int
	RequestBody json.RawMessage
}

func NewAuditLogger(pool db.DB, logger zerolog.Logger) *AuditLogger {
	al := &AuditLogger{
		pool:   pool,
		logger: logger.With().Str("component", "audit").Logger(),
		ch:     make(chan auditEntry, 1024),
		done:   make(chan struct{}),
	}
	go al.drain()
	return al
}

func (al *AuditLogger) drain() {
	defer close(al.done)
	for e := range al.ch {
		_, err := al.pool.Exec(context.Background(),
			`INSERT INTO audit_logs (api_key_id, action, method, path, resource_id, workflow_id, status_code, request_body, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now())`,
			e.APIKeyID, e.Action, e.Method, e.Path, e.ResourceID, e.WorkflowID, e.StatusCode, e.RequestBody,
		)
		if err != nil {
			al.logger.Error().Err(err).Str("action", e.Action).Msg("failed to write audit log")
		}
	}
}

// Close stops accepting entries and waits for the buffered ones to be written.
func (al *AuditLogger) Close() {
	close(al.ch)
	<-al.done
}

// Middleware audits POST, PUT and DELETE requests. Reads pass straight through.
func (al *AuditLogger) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost && r.Method != http.MethodPut && r.Method != http.MethodDelete {
			next.ServeHTTP(w, r)
			return
		}

		var body []byte
		if r.Body != nil {
			body, _ = io.ReadAll(r.Body)
			r.Body = io.NopCloser(bytes.NewReader(body))
		}

		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)

		action, resourceID := auditTarget(r.Method, r.URL.Path)
		entry := auditEntry{
			Action:     action,
			Method:     r.Method,
			Path:       r.URL.Path,
			ResourceID: resourceID,
			WorkflowID: startedWorkflow(sw.Header().Get("Location")),
			StatusCode: sw.status,
		}
		if id, ok := r.Context().Value(APIKeyIDKey).(string); ok {
			entry.APIKeyID = &id
		}
		if len(body) > 0 && json.Valid(body) {
			entry.RequestBody = sanitizeBody(body)
		}

		select {
		case al.ch <- entry:
		default:
			al.logger.Warn().Str("action", action).Msg("audit log buffer full, dropping entry")
		}
	})
}

// auditTarget names the action behind a mutating request and the hosting
// resource it targets, if any.
func auditTarget(method, urlPath string) (string, *string) {
	parts := strings.Split(strings.Trim(strings.TrimPrefix(urlPath, "/api/v1"), "/"), "/")
	switch {
	case method == http.MethodPost && len(parts) == 3 && parts[0] == "resources" && parts[2] == "certificates" && parts[1] != "":
		id := parts[1]
		return ActionIssueCertificate, &id
	case method == http.MethodPost && len(parts) == 1 && parts[0] == "renewals":
		return ActionStartRenewal, nil
	}
	return ActionUnknown, nil
}

// startedWorkflow extracts the workflow ID from a 202 Location header of the
// form /api/v1/workflows/{id}.
func startedWorkflow(location string) *string {
	dir, id := path.Split(location)
	if id == "" || !strings.HasSuffix(dir, "/workflows/") {
		return nil
	}
	return &id
}

// sensitiveFields are redacted wherever they appear in a request body.
var sensitiveFields = map[string]bool{
	"pfx": true, "pfx_password": true, "key_pem": true, "private_key": true,
	"eab_hmac_key": true, "api_key": true, "password": true, "token": true,
}

func sanitizeBody(body []byte) json.RawMessage {
	var data any
	if err := json.Unmarshal(body, &data); err != nil {
		return body
	}
	sanitized, err := json.Marshal(redact(data))
	if err != nil {
		return nil
	}
	return sanitized
}

func redact(v any) any {
	switch t := v.(type) {
	case map[string]any:
		for k, val := range t {
			if sensitiveFields[strings.ToLower(k)] {
				t[k] = "[REDACTED]"
				continue
			}
			t[k] = redact(val)
		}
	case []any:
		for i := range t {
			t[i] = redact(t[i])
		}
	}
	return v
}
