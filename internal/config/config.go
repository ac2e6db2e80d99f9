package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Lease backends for per-domain DNS-01 mutual exclusion.
const (
	LeaseBackendPostgres = "postgres"
	LeaseBackendRedis    = "redis"
	LeaseBackendNone     = "none"
)

type Config struct {
	ServiceName string
	InstanceID  string
	LogLevel    string
	MetricsAddr string

	// StateDatabaseURL holds the certflow schema (ACME account, domain leases).
	StateDatabaseURL string
	// CoreDatabaseURL is the hosting platform database: resources, bindings
	// and uploaded certificates.
	CoreDatabaseURL     string
	PowerDNSDatabaseURL string

	TemporalAddress       string
	TemporalNamespace     string
	TemporalTaskQueue     string
	TemporalTLSCert       string
	TemporalTLSKey        string
	TemporalTLSCACert     string
	TemporalTLSServerName string

	HTTPListenAddr string
	// HTTPTLSCert and HTTPTLSKey switch the API to HTTPS. The files are
	// watched, so they can point at a certificate certflow itself renews.
	HTTPTLSCert string
	HTTPTLSKey  string

	ACMEDirectoryURL string
	ACMEEmail        string

	DNSResolver         string
	DNSPropagationDelay time.Duration

	RenewBeforeExpiryDays int
	RenewalMaxJitter      time.Duration
	RenewalConcurrency    int
	RenewalSchedule       string
	PurgeSchedule         string
	ResourceGroups        []string

	LeaseBackend string
	LeaseTTL     time.Duration
	RedisURL     string

	S3Endpoint  string
	S3Region    string
	S3AccessKey string
	S3SecretKey string
	S3Bucket    string

	NotifyWebhookURL     string
	NotifyWebhookHeaders map[string]string
}

// fileConfig is the optional YAML overlay pointed to by CERTFLOW_CONFIG.
// Environment variables take precedence over the file.
type fileConfig struct {
	ResourceGroups []string `yaml:"resource_groups"`
	Renewal        struct {
		BeforeExpiryDays int           `yaml:"before_expiry_days"`
		MaxJitter        time.Duration `yaml:"max_jitter"`
		Concurrency      int           `yaml:"concurrency"`
		Schedule         string        `yaml:"schedule"`
	} `yaml:"renewal"`
	Purge struct {
		Schedule string `yaml:"schedule"`
	} `yaml:"purge"`
	DNS struct {
		Resolver         string        `yaml:"resolver"`
		PropagationDelay time.Duration `yaml:"propagation_delay"`
	} `yaml:"dns"`
	Notify struct {
		WebhookURL string            `yaml:"webhook_url"`
		Headers    map[string]string `yaml:"headers"`
	} `yaml:"notify"`
}

func Load() (*Config, error) {
	cfg := &Config{
		ServiceName:           "certflow",
		LogLevel:              "info",
		MetricsAddr:           ":9090",
		TemporalAddress:       "localhost:7233",
		TemporalNamespace:     "default",
		TemporalTaskQueue:     "certflow-tasks",
		HTTPListenAddr:        ":8090",
		ACMEDirectoryURL:      "https://acme-v02.api.letsencrypt.org/directory",
		DNSResolver:           "1.1.1.1:53",
		DNSPropagationDelay:   10 * time.Second,
		RenewBeforeExpiryDays: 30,
		RenewalMaxJitter:      600 * time.Second,
		RenewalConcurrency:    4,
		RenewalSchedule:       "0 3 * * *",
		PurgeSchedule:         "30 4 * * *",
		LeaseBackend:          LeaseBackendPostgres,
		LeaseTTL:              30 * time.Minute,
		S3Region:              "us-east-1",
	}

	if path := os.Getenv("CERTFLOW_CONFIG"); path != "" {
		if err := cfg.applyFile(path); err != nil {
			return nil, err
		}
	}

	cfg.ServiceName = getEnv("SERVICE_NAME", cfg.ServiceName)
	cfg.InstanceID = getEnv("INSTANCE_ID", cfg.InstanceID)
	cfg.LogLevel = getEnv("LOG_LEVEL", cfg.LogLevel)
	cfg.MetricsAddr = getEnv("METRICS_ADDR", cfg.MetricsAddr)
	cfg.StateDatabaseURL = getEnv("CERTFLOW_DATABASE_URL", cfg.StateDatabaseURL)
	cfg.CoreDatabaseURL = getEnv("CORE_DATABASE_URL", cfg.CoreDatabaseURL)
	cfg.PowerDNSDatabaseURL = getEnv("POWERDNS_DATABASE_URL", cfg.PowerDNSDatabaseURL)
	cfg.TemporalAddress = getEnv("TEMPORAL_ADDRESS", cfg.TemporalAddress)
	cfg.TemporalNamespace = getEnv("TEMPORAL_NAMESPACE", cfg.TemporalNamespace)
	cfg.TemporalTaskQueue = getEnv("TEMPORAL_TASK_QUEUE", cfg.TemporalTaskQueue)
	cfg.TemporalTLSCert = getEnv("TEMPORAL_TLS_CERT", cfg.TemporalTLSCert)
	cfg.TemporalTLSKey = getEnv("TEMPORAL_TLS_KEY", cfg.TemporalTLSKey)
	cfg.TemporalTLSCACert = getEnv("TEMPORAL_TLS_CA_CERT", cfg.TemporalTLSCACert)
	cfg.TemporalTLSServerName = getEnv("TEMPORAL_TLS_SERVER_NAME", cfg.TemporalTLSServerName)
	cfg.HTTPListenAddr = getEnv("HTTP_LISTEN_ADDR", cfg.HTTPListenAddr)
	cfg.HTTPTLSCert = getEnv("HTTP_TLS_CERT", cfg.HTTPTLSCert)
	cfg.HTTPTLSKey = getEnv("HTTP_TLS_KEY", cfg.HTTPTLSKey)
	cfg.ACMEDirectoryURL = getEnv("ACME_DIRECTORY_URL", cfg.ACMEDirectoryURL)
	cfg.ACMEEmail = getEnv("ACME_EMAIL", cfg.ACMEEmail)
	cfg.DNSResolver = getEnv("DNS_RESOLVER", cfg.DNSResolver)
	cfg.RenewalSchedule = getEnv("RENEWAL_SCHEDULE", cfg.RenewalSchedule)
	cfg.PurgeSchedule = getEnv("PURGE_SCHEDULE", cfg.PurgeSchedule)
	cfg.LeaseBackend = getEnv("LEASE_BACKEND", cfg.LeaseBackend)
	cfg.RedisURL = getEnv("REDIS_URL", cfg.RedisURL)
	cfg.S3Endpoint = getEnv("S3_ENDPOINT", cfg.S3Endpoint)
	cfg.S3Region = getEnv("S3_REGION", cfg.S3Region)
	cfg.S3AccessKey = getEnv("S3_ACCESS_KEY", cfg.S3AccessKey)
	cfg.S3SecretKey = getEnv("S3_SECRET_KEY", cfg.S3SecretKey)
	cfg.S3Bucket = getEnv("S3_BUCKET", cfg.S3Bucket)
	cfg.NotifyWebhookURL = getEnv("NOTIFY_WEBHOOK_URL", cfg.NotifyWebhookURL)

	if v := os.Getenv("RESOURCE_GROUPS"); v != "" {
		cfg.ResourceGroups = splitList(v)
	}

	var err error
	if cfg.DNSPropagationDelay, err = getDuration("DNS_PROPAGATION_DELAY", cfg.DNSPropagationDelay); err != nil {
		return nil, err
	}
	if cfg.RenewalMaxJitter, err = getDuration("RENEWAL_MAX_JITTER", cfg.RenewalMaxJitter); err != nil {
		return nil, err
	}
	if cfg.LeaseTTL, err = getDuration("LEASE_TTL", cfg.LeaseTTL); err != nil {
		return nil, err
	}
	if cfg.RenewBeforeExpiryDays, err = getInt("RENEW_BEFORE_EXPIRY_DAYS", cfg.RenewBeforeExpiryDays); err != nil {
		return nil, err
	}
	if cfg.RenewalConcurrency, err = getInt("RENEWAL_CONCURRENCY", cfg.RenewalConcurrency); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) applyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}

	if len(fc.ResourceGroups) > 0 {
		c.ResourceGroups = fc.ResourceGroups
	}
	if fc.Renewal.BeforeExpiryDays > 0 {
		c.RenewBeforeExpiryDays = fc.Renewal.BeforeExpiryDays
	}
	if fc.Renewal.MaxJitter > 0 {
		c.RenewalMaxJitter = fc.Renewal.MaxJitter
	}
	if fc.Renewal.Concurrency > 0 {
		c.RenewalConcurrency = fc.Renewal.Concurrency
	}
	if fc.Renewal.Schedule != "" {
		c.RenewalSchedule = fc.Renewal.Schedule
	}
	if fc.Purge.Schedule != "" {
		c.PurgeSchedule = fc.Purge.Schedule
	}
	if fc.DNS.Resolver != "" {
		c.DNSResolver = fc.DNS.Resolver
	}
	if fc.DNS.PropagationDelay > 0 {
		c.DNSPropagationDelay = fc.DNS.PropagationDelay
	}
	if fc.Notify.WebhookURL != "" {
		c.NotifyWebhookURL = fc.Notify.WebhookURL
	}
	if len(fc.Notify.Headers) > 0 {
		c.NotifyWebhookHeaders = fc.Notify.Headers
	}
	return nil
}

// RenewBefore is the renewal window as a duration.
func (c *Config) RenewBefore() time.Duration {
	return time.Duration(c.RenewBeforeExpiryDays) * 24 * time.Hour
}

// Validate checks that the fields required by the given binary are set.
func (c *Config) Validate(role string) error {
	var missing []string
	require := func(value, name string) {
		if value == "" {
			missing = append(missing, name)
		}
	}

	require(c.TemporalAddress, "TEMPORAL_ADDRESS")

	switch role {
	case "worker":
		require(c.CoreDatabaseURL, "CORE_DATABASE_URL")
		require(c.StateDatabaseURL, "CERTFLOW_DATABASE_URL")
		require(c.PowerDNSDatabaseURL, "POWERDNS_DATABASE_URL")
		require(c.ACMEDirectoryURL, "ACME_DIRECTORY_URL")
		require(c.ACMEEmail, "ACME_EMAIL")
		require(c.S3Bucket, "S3_BUCKET")
		if c.LeaseBackend == LeaseBackendRedis {
			require(c.RedisURL, "REDIS_URL")
		}
	case "api":
		require(c.StateDatabaseURL, "CERTFLOW_DATABASE_URL")
		require(c.HTTPListenAddr, "HTTP_LISTEN_ADDR")
	}

	if len(missing) > 0 {
		return fmt.Errorf("missing required config: %s", strings.Join(missing, ", "))
	}

	if (c.TemporalTLSCert == "") != (c.TemporalTLSKey == "") {
		return fmt.Errorf("TEMPORAL_TLS_CERT and TEMPORAL_TLS_KEY must both be set")
	}
	if (c.HTTPTLSCert == "") != (c.HTTPTLSKey == "") {
		return fmt.Errorf("HTTP_TLS_CERT and HTTP_TLS_KEY must both be set")
	}

	switch c.LeaseBackend {
	case LeaseBackendPostgres, LeaseBackendRedis, LeaseBackendNone:
	default:
		return fmt.Errorf("unknown LEASE_BACKEND %q", c.LeaseBackend)
	}

	if c.RenewBeforeExpiryDays <= 0 {
		return fmt.Errorf("RENEW_BEFORE_EXPIRY_DAYS must be positive")
	}
	if c.RenewalConcurrency <= 0 {
		return fmt.Errorf("RENEWAL_CONCURRENCY must be positive")
	}

	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return d, nil
}

func getInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return n, nil
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
