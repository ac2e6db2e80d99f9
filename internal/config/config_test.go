package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"CERTFLOW_CONFIG", "TEMPORAL_ADDRESS", "HTTP_LISTEN_ADDR", "LOG_LEVEL",
		"CORE_DATABASE_URL", "CERTFLOW_DATABASE_URL", "POWERDNS_DATABASE_URL",
		"RENEW_BEFORE_EXPIRY_DAYS", "RENEWAL_MAX_JITTER", "RENEWAL_CONCURRENCY",
		"DNS_PROPAGATION_DELAY", "DNS_RESOLVER", "RESOURCE_GROUPS", "LEASE_BACKEND",
	} {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "localhost:7233", cfg.TemporalAddress)
	assert.Equal(t, ":8090", cfg.HTTPListenAddr)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "certflow-tasks", cfg.TemporalTaskQueue)
	assert.Equal(t, 30, cfg.RenewBeforeExpiryDays)
	assert.Equal(t, 30*24*time.Hour, cfg.RenewBefore())
	assert.Equal(t, 600*time.Second, cfg.RenewalMaxJitter)
	assert.Equal(t, 4, cfg.RenewalConcurrency)
	assert.Equal(t, 10*time.Second, cfg.DNSPropagationDelay)
	assert.Equal(t, "1.1.1.1:53", cfg.DNSResolver)
	assert.Equal(t, LeaseBackendPostgres, cfg.LeaseBackend)
	assert.Empty(t, cfg.ResourceGroups)
}

func TestLoad_AllEnvVars(t *testing.T) {
	clearEnv(t)
	t.Setenv("CORE_DATABASE_URL", "postgres://core:5432/coredb")
	t.Setenv("CERTFLOW_DATABASE_URL", "postgres://state:5432/certflow")
	t.Setenv("POWERDNS_DATABASE_URL", "postgres://pdns:5432/pdns")
	t.Setenv("TEMPORAL_ADDRESS", "temporal.example.com:7233")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("RENEW_BEFORE_EXPIRY_DAYS", "21")
	t.Setenv("RENEWAL_MAX_JITTER", "2m")
	t.Setenv("RENEWAL_CONCURRENCY", "8")
	t.Setenv("RESOURCE_GROUPS", "rg-web, rg-shop,")
	t.Setenv("LEASE_BACKEND", "redis")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres://core:5432/coredb", cfg.CoreDatabaseURL)
	assert.Equal(t, "postgres://state:5432/certflow", cfg.StateDatabaseURL)
	assert.Equal(t, "postgres://pdns:5432/pdns", cfg.PowerDNSDatabaseURL)
	assert.Equal(t, "temporal.example.com:7233", cfg.TemporalAddress)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 21, cfg.RenewBeforeExpiryDays)
	assert.Equal(t, 2*time.Minute, cfg.RenewalMaxJitter)
	assert.Equal(t, 8, cfg.RenewalConcurrency)
	assert.Equal(t, []string{"rg-web", "rg-shop"}, cfg.ResourceGroups)
	assert.Equal(t, LeaseBackendRedis, cfg.LeaseBackend)
}

func TestLoad_InvalidDuration(t *testing.T) {
	clearEnv(t)
	t.Setenv("RENEWAL_MAX_JITTER", "ten minutes")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "RENEWAL_MAX_JITTER")
}

func TestLoad_FileOverlay(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "certflow.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
resource_groups: [rg-a, rg-b]
renewal:
  before_expiry_days: 14
  max_jitter: 90s
  concurrency: 2
dns:
  propagation_delay: 20s
notify:
  webhook_url: https://hooks.example.com/certs
  headers:
    Authorization: Bearer abc
`), 0o600))
	t.Setenv("CERTFLOW_CONFIG", path)
	t.Setenv("RENEWAL_CONCURRENCY", "6")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, []string{"rg-a", "rg-b"}, cfg.ResourceGroups)
	assert.Equal(t, 14, cfg.RenewBeforeExpiryDays)
	assert.Equal(t, 90*time.Second, cfg.RenewalMaxJitter)
	assert.Equal(t, 20*time.Second, cfg.DNSPropagationDelay)
	assert.Equal(t, "https://hooks.example.com/certs", cfg.NotifyWebhookURL)
	assert.Equal(t, "Bearer abc", cfg.NotifyWebhookHeaders["Authorization"])
	// Environment wins over the file.
	assert.Equal(t, 6, cfg.RenewalConcurrency)
}

func TestLoad_FileMissing(t *testing.T) {
	clearEnv(t)
	t.Setenv("CERTFLOW_CONFIG", filepath.Join(t.TempDir(), "nope.yaml"))

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read config file")
}

func validWorkerConfig() *Config {
	return &Config{
		CoreDatabaseURL:       "postgres://localhost/core",
		StateDatabaseURL:      "postgres://localhost/certflow",
		PowerDNSDatabaseURL:   "postgres://localhost/pdns",
		TemporalAddress:       "localhost:7233",
		HTTPListenAddr:        ":8090",
		ACMEDirectoryURL:      "https://acme.example.com/directory",
		ACMEEmail:             "ops@example.com",
		S3Bucket:              "sites",
		LeaseBackend:          LeaseBackendPostgres,
		RenewBeforeExpiryDays: 30,
		RenewalConcurrency:    4,
	}
}

func TestValidate_Worker_MissingFields(t *testing.T) {
	cfg := &Config{}
	err := cfg.Validate("worker")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "CORE_DATABASE_URL")
	assert.Contains(t, err.Error(), "CERTFLOW_DATABASE_URL")
	assert.Contains(t, err.Error(), "POWERDNS_DATABASE_URL")
	assert.Contains(t, err.Error(), "TEMPORAL_ADDRESS")
	assert.Contains(t, err.Error(), "ACME_EMAIL")
}

func TestValidate_API_MissingFields(t *testing.T) {
	cfg := &Config{}
	err := cfg.Validate("api")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "TEMPORAL_ADDRESS")
	assert.Contains(t, err.Error(), "HTTP_LISTEN_ADDR")
	assert.Contains(t, err.Error(), "CERTFLOW_DATABASE_URL")
	assert.NotContains(t, err.Error(), "ACME_EMAIL")
}

func TestValidate_RedisLeaseNeedsURL(t *testing.T) {
	cfg := validWorkerConfig()
	cfg.LeaseBackend = LeaseBackendRedis
	err := cfg.Validate("worker")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "REDIS_URL")

	cfg.RedisURL = "redis://localhost:6379/0"
	assert.NoError(t, cfg.Validate("worker"))
}

func TestValidate_UnknownLeaseBackend(t *testing.T) {
	cfg := validWorkerConfig()
	cfg.LeaseBackend = "etcd"
	err := cfg.Validate("worker")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "LEASE_BACKEND")
}

func TestValidate_TLS_MismatchedCertKey(t *testing.T) {
	cfg := validWorkerConfig()
	cfg.TemporalTLSCert = "/path/to/cert.pem"
	err := cfg.Validate("worker")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "TEMPORAL_TLS_CERT and TEMPORAL_TLS_KEY must both be set")
}

func TestValidate_HTTPTLSHalfConfigured(t *testing.T) {
	cfg := validWorkerConfig()
	cfg.HTTPTLSKey = "/etc/certflow/api.key"
	err := cfg.Validate("api")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HTTP_TLS_CERT and HTTP_TLS_KEY must both be set")
}

func TestValidate_AllPresent(t *testing.T) {
	cfg := validWorkerConfig()
	cfg.TemporalTLSCert = "/path/to/cert.pem"
	cfg.TemporalTLSKey = "/path/to/key.pem"

	assert.NoError(t, cfg.Validate("worker"))
	assert.NoError(t, cfg.Validate("api"))
}
