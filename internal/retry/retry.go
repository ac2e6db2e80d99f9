// Package retry classifies certificate pipeline failures and holds the
// activity and workflow retry policies built on that classification.
//
// An error is only ever retried when the step that produced it tagged it
// with a retryable kind. Everything else is terminal for its unit of work.
package retry

import (
	"errors"
	"fmt"
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"
)

// Error kinds, carried as the Temporal application error type.
const (
	// KindRetriableActivity is transient lag expected to clear within
	// seconds to low minutes: propagation, CA still processing.
	KindRetriableActivity = "RetriableActivity"
	// KindRetriableOrchestrator means the whole order must be abandoned and
	// recreated after an hours-scale delay.
	KindRetriableOrchestrator = "RetriableOrchestrator"
	KindPrecondition          = "PreconditionFailed"
	KindOrderInvalid          = "OrderInvalid"
	KindFinalizeInvalid       = "FinalizeInvalid"
	KindNotFound              = "NotFound"
	KindFatal                 = "Fatal"
)

var knownKinds = map[string]bool{
	KindRetriableActivity:     true,
	KindRetriableOrchestrator: true,
	KindPrecondition:          true,
	KindOrderInvalid:          true,
	KindFinalizeInvalid:       true,
	KindNotFound:              true,
	KindFatal:                 true,
}

// terminalKinds never trigger a retry at any level.
var terminalKinds = []string{
	KindPrecondition,
	KindOrderInvalid,
	KindFinalizeInvalid,
	KindNotFound,
	KindFatal,
}

// activityNonRetryable stops activity-level retries for terminal kinds and
// for restart requests, which only the parent workflow's policy handles.
var activityNonRetryable = append([]string{KindRetriableOrchestrator}, terminalKinds...)

// Polling budgets for the asynchronous stages of an order.
const (
	VerifyInterval     = 5 * time.Second
	VerifyAttempts     = 12
	ReadyInterval      = 5 * time.Second
	ReadyAttempts      = 12
	ValidInterval      = 10 * time.Second
	ValidAttempts      = 6
	RestartInterval    = 2 * time.Hour
	RestartMaxAttempts = 3
)

// NotYet reports a condition that is expected to resolve by itself, such as
// a TXT record that is not resolvable yet.
func NotYet(format string, args ...interface{}) error {
	return temporal.NewApplicationError(fmt.Sprintf(format, args...), KindRetriableActivity)
}

// Restart asks the caller to rerun the whole order from scratch later.
func Restart(format string, args ...interface{}) error {
	return temporal.NewApplicationError(fmt.Sprintf(format, args...), KindRetriableOrchestrator)
}

// Precondition reports an environment mismatch that needs an operator.
func Precondition(format string, args ...interface{}) error {
	return temporal.NewNonRetryableApplicationError(fmt.Sprintf(format, args...), KindPrecondition, nil)
}

func OrderInvalid(format string, args ...interface{}) error {
	return temporal.NewNonRetryableApplicationError(fmt.Sprintf(format, args...), KindOrderInvalid, nil)
}

func FinalizeInvalid(format string, args ...interface{}) error {
	return temporal.NewNonRetryableApplicationError(fmt.Sprintf(format, args...), KindFinalizeInvalid, nil)
}

func NotFound(format string, args ...interface{}) error {
	return temporal.NewNonRetryableApplicationError(fmt.Sprintf(format, args...), KindNotFound, nil)
}

// Fatal wraps err as a terminal failure.
func Fatal(err error) error {
	if err == nil {
		return nil
	}
	return temporal.NewNonRetryableApplicationError(err.Error(), KindFatal, err)
}

// KindOf returns the kind of the first tagged error in err's chain, looking
// through activity and child workflow wrappers. It returns "" for errors
// that were never tagged.
func KindOf(err error) string {
	for err != nil {
		var appErr *temporal.ApplicationError
		if !errors.As(err, &appErr) {
			return ""
		}
		if knownKinds[appErr.Type()] {
			return appErr.Type()
		}
		err = appErr.Unwrap()
	}
	return ""
}

// Classify leaves tagged errors untouched and turns everything else into a
// Fatal error.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	if KindOf(err) != "" {
		return err
	}
	return Fatal(err)
}

// Escalate converts an error observed inside a workflow into the error that
// workflow returns to its parent. Only a restart request stays retryable;
// an exhausted activity-level retry becomes Fatal.
func Escalate(err error) error {
	if err == nil {
		return nil
	}
	switch kind := KindOf(err); kind {
	case KindRetriableOrchestrator:
		return temporal.NewApplicationErrorWithCause(err.Error(), KindRetriableOrchestrator, err)
	case "", KindRetriableActivity:
		return temporal.NewNonRetryableApplicationError(err.Error(), KindFatal, err)
	default:
		return temporal.NewNonRetryableApplicationError(err.Error(), kind, err)
	}
}

// IsTransientProblem reports whether every CA-reported problem kind is a
// connection or DNS failure. An empty list is not transient.
func IsTransientProblem(kinds []string) bool {
	if len(kinds) == 0 {
		return false
	}
	for _, k := range kinds {
		if k != "connection" && k != "dns" {
			return false
		}
	}
	return true
}

// ActivityOptions is the default for one-shot external calls.
func ActivityOptions() workflow.ActivityOptions {
	return workflow.ActivityOptions{
		StartToCloseTimeout: 2 * time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			MaximumAttempts:        3,
			InitialInterval:        1 * time.Second,
			MaximumInterval:        10 * time.Second,
			BackoffCoefficient:     2.0,
			NonRetryableErrorTypes: activityNonRetryable,
		},
	}
}

// PollOptions polls at a fixed interval with no backoff.
func PollOptions(interval time.Duration, attempts int32) workflow.ActivityOptions {
	return workflow.ActivityOptions{
		StartToCloseTimeout: 30 * time.Second,
		RetryPolicy: &temporal.RetryPolicy{
			MaximumAttempts:        attempts,
			InitialInterval:        interval,
			MaximumInterval:        interval,
			BackoffCoefficient:     1.0,
			NonRetryableErrorTypes: activityNonRetryable,
		},
	}
}

func VerifyOptions() workflow.ActivityOptions { return PollOptions(VerifyInterval, VerifyAttempts) }

func ReadyOptions() workflow.ActivityOptions { return PollOptions(ReadyInterval, ReadyAttempts) }

func ValidOptions() workflow.ActivityOptions { return PollOptions(ValidInterval, ValidAttempts) }

// RestartPolicy retries a whole order workflow only for KindRetriableOrchestrator.
func RestartPolicy() *temporal.RetryPolicy {
	return &temporal.RetryPolicy{
		MaximumAttempts:        RestartMaxAttempts,
		InitialInterval:        RestartInterval,
		MaximumInterval:        RestartInterval,
		BackoffCoefficient:     1.0,
		NonRetryableErrorTypes: append([]string{KindRetriableActivity}, terminalKinds...),
	}
}
