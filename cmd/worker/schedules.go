package main

import (
	"context"
	"strings"

	"github.com/rs/zerolog"
	temporalclient "go.temporal.io/sdk/client"

	"github.com/edvin/certflow/internal/config"
	"github.com/edvin/certflow/internal/workflow"
)

// Schedule IDs double as the workflow ID prefix of every scheduled run.
const (
	renewalScheduleID = "certificate-renewal"
	purgeScheduleID   = "certificate-purge"
)

type cronSchedule struct {
	id       string
	cron     string
	workflow interface{}
	args     []interface{}
}

func cronSchedules(cfg *config.Config) []cronSchedule {
	return []cronSchedule{
		{
			id:       renewalScheduleID,
			cron:     cfg.RenewalSchedule,
			workflow: workflow.RenewCertificatesWorkflow,
			args:     []interface{}{workflow.RenewalParamsFromConfig(cfg)},
		},
		{
			id:       purgeScheduleID,
			cron:     cfg.PurgeSchedule,
			workflow: workflow.PurgeCertificatesWorkflow,
		},
	}
}

func registerCronSchedules(ctx context.Context, sc temporalclient.ScheduleClient, cfg *config.Config, logger zerolog.Logger) {
	for _, s := range cronSchedules(cfg) {
		_, err := sc.Create(ctx, temporalclient.ScheduleOptions{
			ID: s.id,
			Spec: temporalclient.ScheduleSpec{
				CronExpressions: []string{s.cron},
			},
			Action: &temporalclient.ScheduleWorkflowAction{
				ID:        s.id,
				Workflow:  s.workflow,
				Args:      s.args,
				TaskQueue: cfg.TemporalTaskQueue,
			},
		})
		if err != nil {
			if isAlreadyExists(err) {
				logger.Info().Str("id", s.id).Msg("cron schedule already exists, skipping")
			} else {
				logger.Fatal().Err(err).Str("id", s.id).Msg("failed to create cron schedule")
			}
		} else {
			logger.Info().Str("id", s.id).Str("cron", s.cron).Msg("created cron schedule")
		}
	}
}

func isAlreadyExists(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "already exists") || strings.Contains(msg, "AlreadyExists") || strings.Contains(msg, "already registered")
}
