package engine

import (
	"context"
	"time"
)

// ActionInvoker is the sole boundary through which the engine touches the
// outside world. Implementations map action references to transports and
// tools; the engine never learns how an action is carried out.
type ActionInvoker interface {
	// Invoke runs one action attempt. A non-nil error means the attempt could
	// not be carried out at all (transport failure, unknown parameter shape);
	// a Result with StatusFailure means the action ran and did not reach its
	// desired state. The retry controller treats both as failed attempts.
	Invoke(ctx context.Context, actionRef string, params map[string]Value) (*Result, error)
}

// ReachabilityProbe verifies a host group answers before any task in it is
// dispatched. The inventory package supplies the SSH implementation.
type ReachabilityProbe interface {
	// Probe returns nil when the group's endpoints answer, or a
	// *UnreachableHostError once its bounded retries are exhausted.
	Probe(ctx context.Context) error
}

// EventSink receives run timeline events. Implementations must not block the
// engine for long; persistence failures are logged, never propagated into
// run outcomes.
type EventSink interface {
	Publish(ctx context.Context, event Event) error
}

// MetricsSink receives engine counters and timings. The telemetry package
// supplies the Prometheus implementation.
type MetricsSink interface {
	// TaskFinished records a task reaching a terminal state.
	TaskFinished(action string, state TaskState, duration time.Duration)

	// RetryScheduled records one re-attempt wait for an action.
	RetryScheduled(action string)

	// GroupFinished records a group reaching a terminal status.
	GroupFinished(group string, status GroupStatus, duration time.Duration)

	// ProbeFailed records a reachability probe giving up on a group.
	ProbeFailed(group string)
}
