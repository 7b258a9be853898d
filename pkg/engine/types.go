package engine

import "time"

// ResultStatus is the binary outcome of an action invocation.
type ResultStatus string

const (
	// StatusSuccess indicates the action achieved (or had already achieved)
	// its desired state.
	StatusSuccess ResultStatus = "success"

	// StatusFailure indicates the action did not achieve its desired state.
	StatusFailure ResultStatus = "failure"
)

// Result is what the Action Invoker returns for one invocation (or, after
// retries, the final attempt). The engine imposes no structure on Payload
// beyond the Value shape.
type Result struct {
	// Status is the binary outcome.
	Status ResultStatus `json:"status"`

	// Changed reports whether the action modified external state, as opposed
	// to finding it already in the desired condition.
	Changed bool `json:"changed"`

	// Payload carries action-specific structured output.
	Payload Value `json:"payload,omitempty"`

	// RawOutput is the unparsed tool output, kept for diagnostics.
	RawOutput string `json:"raw_output,omitempty"`

	// ExitCode is the exit status of the underlying tool, where one exists.
	// Actions without a process boundary report 0 on success, 1 on failure.
	ExitCode int `json:"exit_code"`

	// Attempts is how many invocations the retry controller made.
	Attempts int `json:"attempts"`

	// Duration is the total time across all attempts, delays included.
	Duration time.Duration `json:"duration"`
}

// FactValue renders the result as a map fact for RegisterAs storage, so that
// later guards can reference e.g. "install.status" or "install.exit_code".
func (r *Result) FactValue() Value {
	m := map[string]Value{
		"status":    String(string(r.Status)),
		"changed":   Bool(r.Changed),
		"exit_code": Number(float64(r.ExitCode)),
		"attempts":  Number(float64(r.Attempts)),
	}
	if !r.Payload.IsNull() {
		m["payload"] = r.Payload
	}
	if r.RawOutput != "" {
		m["raw_output"] = String(r.RawOutput)
	}
	return Map(m)
}

// TaskReport records the terminal state of one task within a group.
type TaskReport struct {
	// Index is the task's position in the ordered list.
	Index int `json:"index"`

	// TaskID identifies the task.
	TaskID string `json:"task_id"`

	// Action is the action reference the task dispatches.
	Action string `json:"action"`

	// State is the terminal task state.
	State TaskState `json:"state"`

	// Result is the final invocation result, when the task was dispatched.
	Result *Result `json:"result,omitempty"`

	// Error describes why the task failed, when it did.
	Error string `json:"error,omitempty"`
}

// GroupReport records the outcome of one host group's task list: where it
// stopped, why, and the full fact store snapshot for diagnostics.
type GroupReport struct {
	// Group is the host group name.
	Group string `json:"group"`

	// Status is the terminal group status.
	Status GroupStatus `json:"status"`

	// Tasks reports every task in list order.
	Tasks []TaskReport `json:"tasks"`

	// FailedIndex is the index of the task at which the group stopped,
	// or -1 when the group completed.
	FailedIndex int `json:"failed_index"`

	// ErrorKind classifies the error that stopped the group, if any.
	ErrorKind ErrorKind `json:"error_kind,omitempty"`

	// Error is the error that stopped the group, if any.
	Error string `json:"error,omitempty"`

	// Facts is the final fact store snapshot.
	Facts map[string]any `json:"facts"`

	// StartedAt is when the group began executing.
	StartedAt time.Time `json:"started_at"`

	// Duration is the group's total execution time.
	Duration time.Duration `json:"duration"`
}

// RunReport aggregates per-group outcomes. Errors never cross group
// boundaries implicitly; the aggregate status is the only place where one
// group's failure affects another's standing.
type RunReport struct {
	// RunID identifies the run.
	RunID string `json:"run_id"`

	// Status is the aggregate outcome.
	Status RunStatus `json:"status"`

	// Groups holds one report per targeted host group, in target order.
	Groups []GroupReport `json:"groups"`

	// StartedAt is when the run began.
	StartedAt time.Time `json:"started_at"`

	// Duration is the wall-clock run time.
	Duration time.Duration `json:"duration"`
}

// FirstError returns the first group error encountered in target order,
// or empty values when every group succeeded.
func (r *RunReport) FirstError() (group string, kind ErrorKind, msg string) {
	for _, g := range r.Groups {
		if g.ErrorKind != ErrKindNone {
			return g.Group, g.ErrorKind, g.Error
		}
	}
	return "", ErrKindNone, ""
}

// EventType identifies a run timeline event.
type EventType string

const (
	EventRunStarted     EventType = "run_started"
	EventRunCompleted   EventType = "run_completed"
	EventGroupStarted   EventType = "group_started"
	EventGroupCompleted EventType = "group_completed"
	EventTaskDispatched EventType = "task_dispatched"
	EventTaskCompleted  EventType = "task_completed"
	EventTaskSkipped    EventType = "task_skipped"
	EventTaskFailed     EventType = "task_failed"
	EventRetryScheduled EventType = "retry_scheduled"
)

// Event is one entry in the run timeline, consumed by the EventSink.
type Event struct {
	// RunID identifies the run the event belongs to.
	RunID string `json:"run_id"`

	// Group is the host group, when the event is group-scoped.
	Group string `json:"group,omitempty"`

	// TaskID identifies the task, when the event is task-scoped.
	TaskID string `json:"task_id,omitempty"`

	// TaskIndex is the task's list position, -1 when not task-scoped.
	TaskIndex int `json:"task_index"`

	// Type is the event type.
	Type EventType `json:"type"`

	// Message is a human-readable description.
	Message string `json:"message"`

	// Level is the log level (info, warning, error).
	Level string `json:"level"`

	// Timestamp is when the event occurred.
	Timestamp time.Time `json:"timestamp"`
}
