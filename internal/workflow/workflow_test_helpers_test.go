package workflow

import (
	"errors"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/testsuite"

	"github.com/edvin/certflow/internal/activity"
)

// registerActivities registers activity structs with the test workflow
// environment so that parameter and return types can be deserialized correctly
// by the Temporal test framework. In unit tests, all activities are mocked via
// OnActivity, but the framework still needs the type information for proper
// serialization/deserialization of activity parameters and return values.
func registerActivities(env *testsuite.TestWorkflowEnvironment) {
	env.RegisterActivity(&activity.ACME{})
	env.RegisterActivity(&activity.Challenges{})
	env.RegisterActivity(&activity.Bindings{})
	env.RegisterActivity(&activity.Certificates{})
	env.RegisterActivity(&activity.Resources{})
	env.RegisterActivity(&activity.Notifications{})
	env.RegisterActivity(&activity.Leases{})
}

// fatal returns an error no retry policy will retry.
func fatal(msg string) error {
	return temporal.NewNonRetryableApplicationError(msg, "Fatal", errors.New(msg))
}
