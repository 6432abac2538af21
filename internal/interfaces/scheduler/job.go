package scheduler

import "context"

// Job is a unit of work run by the worker pool.
type Job interface {
	// Execute runs the job. Implementations must honour ctx cancellation.
	Execute(ctx context.Context) error

	// Key identifies what the job acts on (a monitor or account) for logs.
	Key() string

	Description() string
}
