package metrics

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewServer_Healthz(t *testing.T) {
	srv := NewServer(":0", nil)

	rec := httptest.NewRecorder()
	srv.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
}

func TestNewServer_Metrics(t *testing.T) {
	CertificatesIssued.WithLabelValues("dns-01").Inc()

	srv := NewServer(":0", nil)
	rec := httptest.NewRecorder()
	srv.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "certflow_certificates_issued_total")
}

func TestCounters(t *testing.T) {
	before := testutil.ToFloat64(CertificatesPurged)
	CertificatesPurged.Add(2)
	assert.Equal(t, before+2, testutil.ToFloat64(CertificatesPurged))
}

func TestNewServer_Readyz(t *testing.T) {
	ok := func(context.Context) error { return nil }
	srv := NewServer(":0", map[string]Check{"state_db": ok, "core_db": ok})

	rec := httptest.NewRecorder()
	srv.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, map[string]string{"state_db": "ok", "core_db": "ok"}, body)
}

func TestNewServer_ReadyzPowerDNSDown(t *testing.T) {
	srv := NewServer(":0", map[string]Check{
		"state_db":    func(context.Context) error { return nil },
		"powerdns_db": func(context.Context) error { return errors.New("connection refused") },
	})

	rec := httptest.NewRecorder()
	srv.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["state_db"])
	assert.Equal(t, "connection refused", body["powerdns_db"])
}
