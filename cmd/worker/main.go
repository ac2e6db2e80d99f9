package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	temporalclient "go.temporal.io/sdk/client"
	"go.temporal.io/sdk/interceptor"
	"go.temporal.io/sdk/worker"

	"github.com/edvin/certflow/internal/accountstore"
	"github.com/edvin/certflow/internal/acmeclient"
	"github.com/edvin/certflow/internal/activity"
	"github.com/edvin/certflow/internal/config"
	"github.com/edvin/certflow/internal/db"
	"github.com/edvin/certflow/internal/inventory"
	"github.com/edvin/certflow/internal/lease"
	"github.com/edvin/certflow/internal/logging"
	"github.com/edvin/certflow/internal/metrics"
	"github.com/edvin/certflow/internal/notify"
	"github.com/edvin/certflow/internal/powerdns"
	"github.com/edvin/certflow/internal/resolver"
	"github.com/edvin/certflow/internal/storage"
	"github.com/edvin/certflow/internal/workflow"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	if err := cfg.Validate("worker"); err != nil {
		fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.NewLogger(cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	statePool, err := db.NewStatePool(ctx, cfg.StateDatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to certflow database")
	}
	defer statePool.Close()
	metrics.RegisterPgxPoolMetrics("certflow", statePool)

	corePool, err := db.NewCorePool(ctx, cfg.CoreDatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to core database")
	}
	defer corePool.Close()
	metrics.RegisterPgxPoolMetrics("core", corePool)

	powerdnsPool, err := db.NewPowerDNSPool(ctx, cfg.PowerDNSDatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to powerdns database")
	}
	defer powerdnsPool.Close()
	metrics.RegisterPgxPoolMetrics("powerdns", powerdnsPool)

	// The ACME account is resolved once; every activity shares the client.
	acmeClient, err := acmeclient.Bootstrap(ctx, accountstore.New(statePool), cfg.ACMEDirectoryURL, cfg.ACMEEmail, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to bootstrap acme account")
	}

	domainLease, closeLease, err := newDomainLease(cfg, statePool)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to configure domain leases")
	}
	defer closeLease()

	resources := inventory.New(corePool)
	dnsProvider := powerdns.New(powerdnsPool)
	publicResolver := resolver.New(cfg.DNSResolver)
	files := storage.NewS3Publisher(logger, storage.Options{
		Endpoint:  cfg.S3Endpoint,
		Region:    cfg.S3Region,
		AccessKey: cfg.S3AccessKey,
		SecretKey: cfg.S3SecretKey,
		Bucket:    cfg.S3Bucket,
	})
	webhook := notify.NewWebhook(cfg.NotifyWebhookURL, cfg.NotifyWebhookHeaders)
	if !webhook.Enabled() {
		logger.Info().Msg("no notification webhook configured, completion events are dropped")
	}

	tlsConfig, err := cfg.TemporalTLS()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to configure temporal TLS")
	}
	dialOpts := temporalclient.Options{
		HostPort:  cfg.TemporalAddress,
		Namespace: cfg.TemporalNamespace,
		Logger:    logging.NewTemporalLogger(logger),
	}
	if tlsConfig != nil {
		dialOpts.ConnectionOptions = temporalclient.ConnectionOptions{TLS: tlsConfig}
		logger.Info().Msg("temporal mTLS enabled")
	}
	tc, err := temporalclient.Dial(dialOpts)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to temporal")
	}
	defer tc.Close()

	w := worker.New(tc, cfg.TemporalTaskQueue, worker.Options{
		Interceptors: []interceptor.WorkerInterceptor{&workflow.ErrorTypingInterceptor{}},
	})

	// Register activities
	w.RegisterActivity(activity.NewACME(acmeClient))
	w.RegisterActivity(activity.NewChallenges(logger, acmeClient, resources, dnsProvider, publicResolver, files))
	w.RegisterActivity(activity.NewBindings(logger, resources))
	w.RegisterActivity(activity.NewCertificates(acmeClient, resources))
	w.RegisterActivity(activity.NewResources(resources))
	w.RegisterActivity(activity.NewNotifications(webhook))
	w.RegisterActivity(activity.NewLeases(domainLease, acmeClient, cfg.LeaseTTL))

	// Register workflows
	w.RegisterWorkflow(workflow.IssueCertificateWorkflow)
	w.RegisterWorkflow(workflow.IssueAndBindWorkflow)
	w.RegisterWorkflow(workflow.RenewCertificatesWorkflow)
	w.RegisterWorkflow(workflow.RenewResourceWorkflow)
	w.RegisterWorkflow(workflow.PurgeCertificatesWorkflow)

	if cfg.MetricsAddr != "" {
		metricsSrv := metrics.NewServer(cfg.MetricsAddr, map[string]metrics.Check{
			"state_db":    statePool.Ping,
			"core_db":     corePool.Ping,
			"powerdns_db": powerdnsPool.Ping,
			"temporal": func(ctx context.Context) error {
				_, err := tc.CheckHealth(ctx, &temporalclient.CheckHealthRequest{})
				return err
			},
		})
		go func() {
			logger.Info().Str("addr", cfg.MetricsAddr).Msg("starting metrics server")
			if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error().Err(err).Msg("metrics server failed")
			}
		}()
	}

	go func() {
		logger.Info().Str("taskQueue", cfg.TemporalTaskQueue).Msg("starting temporal worker")
		if err := w.Run(worker.InterruptCh()); err != nil {
			logger.Fatal().Err(err).Msg("worker failed")
		}
	}()

	// Errors for already-existing schedules are ignored so that re-deploys
	// do not fail.
	registerCronSchedules(ctx, tc.ScheduleClient(), cfg, logger)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down worker")
	cancel()
}

func newDomainLease(cfg *config.Config, statePool db.DB) (activity.DomainLease, func(), error) {
	switch cfg.LeaseBackend {
	case config.LeaseBackendRedis:
		l, err := lease.NewRedisFromURL(cfg.RedisURL)
		if err != nil {
			return nil, nil, err
		}
		return l, func() { _ = l.Close() }, nil
	case config.LeaseBackendNone:
		return lease.Noop{}, func() {}, nil
	default:
		return lease.NewPostgres(statePool), func() {}, nil
	}
}
