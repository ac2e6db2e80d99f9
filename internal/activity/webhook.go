package activity

import (
	"context"
	"errors"
	"time"

	"go.temporal.io/sdk/activity"

	"github.com/edvin/certflow/internal/metrics"
	"github.com/edvin/certflow/internal/model"
	"github.com/edvin/certflow/internal/notify"
	"github.com/edvin/certflow/internal/retry"
)

// Notification event names.
const (
	EventCertificateIssued = "certificate.issued"
	EventRenewalCompleted  = "renewal.completed"
)

// Notifications sends completion events. Workflows treat every failure
// here as best effort.
type Notifications struct {
	notifier Notifier
}

// NewNotifications creates a new Notifications activity struct.
func NewNotifications(notifier Notifier) *Notifications {
	return &Notifications{notifier: notifier}
}

// NotifyCompletionParams holds parameters for the NotifyCompletion activity.
type NotifyCompletionParams struct {
	ResourceName string    `json:"resource_name"`
	SlotName     string    `json:"slot_name,omitempty"`
	ExpiresAt    time.Time `json:"expires_at"`
	DomainNames  []string  `json:"domain_names"`
}

// NotifyCompletion announces a certificate issued and bound.
func (a *Notifications) NotifyCompletion(ctx context.Context, params NotifyCompletionParams) error {
	return notifyError(a.notifier.Notify(ctx, EventCertificateIssued, params))
}

// NotifyRenewalReport records the run's counters and announces the report.
func (a *Notifications) NotifyRenewalReport(ctx context.Context, report model.RenewalReport) error {
	if activity.GetInfo(ctx).Attempt <= 1 {
		metrics.RenewalRuns.Inc()
		metrics.RenewalFailures.Add(float64(len(report.Failed)))
	}
	return notifyError(a.notifier.Notify(ctx, EventRenewalCompleted, report))
}

func notifyError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, notify.ErrRejected):
		return retry.Fatal(err)
	default:
		return retry.NotYet("%v", err)
	}
}
