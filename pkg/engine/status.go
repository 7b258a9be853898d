package engine

import "fmt"

// TaskState tracks a task through the per-task state machine:
// Pending -> GuardEvaluated -> {Skipped | Dispatched} -> {Completed | Failed}.
// Tasks after a group-fatal error never leave NotAttempted.
type TaskState string

const (
	// TaskPending indicates the task has not been reached yet.
	TaskPending TaskState = "pending"

	// TaskGuardEvaluated indicates the guard condition has been evaluated
	// but the dispatch decision is not yet recorded. Transient.
	TaskGuardEvaluated TaskState = "guard_evaluated"

	// TaskSkipped indicates the guard evaluated to false; no side effects.
	TaskSkipped TaskState = "skipped"

	// TaskDispatched indicates the action is being invoked (with retries).
	TaskDispatched TaskState = "dispatched"

	// TaskCompleted indicates the task finished: the result succeeded, or it
	// failed and the task is marked ignorable.
	TaskCompleted TaskState = "completed"

	// TaskFailed indicates the result failed and the task halts its group.
	TaskFailed TaskState = "failed"

	// TaskNotAttempted indicates a prior task halted the group (or the group
	// was unreachable or cancelled) before this task was reached.
	TaskNotAttempted TaskState = "not_attempted"
)

// IsTerminal reports whether the state is final for a task.
func (s TaskState) IsTerminal() bool {
	return s == TaskSkipped || s == TaskCompleted || s == TaskFailed || s == TaskNotAttempted
}

// Validate checks the task state is one of the defined values.
func (s TaskState) Validate() error {
	switch s {
	case TaskPending, TaskGuardEvaluated, TaskSkipped, TaskDispatched,
		TaskCompleted, TaskFailed, TaskNotAttempted:
		return nil
	default:
		return fmt.Errorf("invalid task state: %s", s)
	}
}

// GroupStatus is the outcome of one host group's task list.
type GroupStatus string

const (
	// GroupPending indicates the group has not started executing.
	GroupPending GroupStatus = "pending"

	// GroupRunning indicates the group's task list is executing.
	GroupRunning GroupStatus = "running"

	// GroupSucceeded indicates every task completed or was skipped.
	GroupSucceeded GroupStatus = "succeeded"

	// GroupFailed indicates a task failed, or a guard or parameter could not
	// be resolved; the remainder of the task list was not attempted.
	GroupFailed GroupStatus = "failed"

	// GroupUnreachable indicates the reachability probe gave up before any
	// task was dispatched.
	GroupUnreachable GroupStatus = "unreachable"

	// GroupCancelled indicates run-level cancellation stopped the group.
	GroupCancelled GroupStatus = "cancelled"
)

// IsTerminal reports whether the status is final for a group.
func (s GroupStatus) IsTerminal() bool {
	return s == GroupSucceeded || s == GroupFailed ||
		s == GroupUnreachable || s == GroupCancelled
}

// Failed reports whether the group counts against overall run success.
func (s GroupStatus) Failed() bool {
	return s == GroupFailed || s == GroupUnreachable || s == GroupCancelled
}

// Validate checks the group status is one of the defined values.
func (s GroupStatus) Validate() error {
	switch s {
	case GroupPending, GroupRunning, GroupSucceeded, GroupFailed,
		GroupUnreachable, GroupCancelled:
		return nil
	default:
		return fmt.Errorf("invalid group status: %s", s)
	}
}

// RunStatus is the aggregate outcome across all host groups.
type RunStatus string

const (
	// RunRunning indicates at least one group is still executing.
	RunRunning RunStatus = "running"

	// RunSucceeded indicates every group succeeded.
	RunSucceeded RunStatus = "succeeded"

	// RunFailed indicates at least one group failed or was unreachable.
	RunFailed RunStatus = "failed"

	// RunCancelled indicates the run was stopped by cancellation.
	RunCancelled RunStatus = "cancelled"
)

// IsTerminal reports whether the run status is final.
func (s RunStatus) IsTerminal() bool {
	return s == RunSucceeded || s == RunFailed || s == RunCancelled
}

// Validate checks the run status is one of the defined values.
func (s RunStatus) Validate() error {
	switch s {
	case RunRunning, RunSucceeded, RunFailed, RunCancelled:
		return nil
	default:
		return fmt.Errorf("invalid run status: %s", s)
	}
}
