package engine

import (
	"errors"
	"fmt"
)

// ErrorKind classifies engine errors for reports and recovery decisions.
type ErrorKind string

const (
	// ErrKindMalformedTask indicates a static load-time defect in a task
	// definition. The run aborts before any dispatch.
	ErrKindMalformedTask ErrorKind = "malformed_task"

	// ErrKindUnknownGroup indicates a play references a host group with no
	// members. Load-time; aborts the run.
	ErrKindUnknownGroup ErrorKind = "unknown_group"

	// ErrKindUnreachableHost indicates the reachability probe exhausted its
	// retries. Fatal to the owning group only; no task in it is attempted.
	ErrKindUnreachableHost ErrorKind = "unreachable_host"

	// ErrKindUnresolvedFact indicates a guard or parameter referenced a fact
	// not yet registered. Fatal to the owning group; never a silent skip.
	ErrKindUnresolvedFact ErrorKind = "unresolved_fact"

	// ErrKindActionFailed indicates an action exhausted its retry policy with
	// a failed result and the task was not marked ignorable.
	ErrKindActionFailed ErrorKind = "action_failed"

	// ErrKindCancelled indicates the run-level cancellation signal stopped the
	// group before its task list completed.
	ErrKindCancelled ErrorKind = "cancelled"

	// ErrKindNone is reported for groups that completed without error.
	ErrKindNone ErrorKind = ""
)

// MalformedTaskError reports a task definition that cannot be loaded:
// an unknown action reference, or a retry policy with a non-positive
// attempt bound.
type MalformedTaskError struct {
	// Index is the task's position in the ordered task list.
	Index int

	// TaskID identifies the task, when one was assigned.
	TaskID string

	// Reason describes the defect.
	Reason string
}

func (e *MalformedTaskError) Error() string {
	if e.TaskID != "" {
		return fmt.Sprintf("malformed task %s (index %d): %s", e.TaskID, e.Index, e.Reason)
	}
	return fmt.Sprintf("malformed task at index %d: %s", e.Index, e.Reason)
}

// UnknownGroupError reports a play targeting a host group that does not exist
// or has no members.
type UnknownGroupError struct {
	Group string
}

func (e *UnknownGroupError) Error() string {
	return fmt.Sprintf("unknown host group %q", e.Group)
}

// UnreachableHostError reports an endpoint that stayed unreachable after the
// probe exhausted its bounded retries.
type UnreachableHostError struct {
	// Group is the host group the endpoint belongs to.
	Group string

	// Address is the endpoint address that failed to answer.
	Address string

	// Attempts is the number of probe attempts made.
	Attempts int

	// Err is the last probe error.
	Err error
}

func (e *UnreachableHostError) Error() string {
	return fmt.Sprintf("host %s in group %q unreachable after %d attempts: %v",
		e.Address, e.Group, e.Attempts, e.Err)
}

func (e *UnreachableHostError) Unwrap() error {
	return e.Err
}

// UnresolvedFactError reports a condition or parameter referencing a fact
// that is not present in the group's fact store. The engine treats this as
// fatal to the group rather than evaluating the condition to false: silently
// skipping a task that was meant to run is worse than stopping.
type UnresolvedFactError struct {
	// Fact is the dotted fact path that failed to resolve.
	Fact string

	// TaskID identifies the task whose guard or parameters referenced it.
	TaskID string
}

func (e *UnresolvedFactError) Error() string {
	if e.TaskID != "" {
		return fmt.Sprintf("task %s references unresolved fact %q", e.TaskID, e.Fact)
	}
	return fmt.Sprintf("unresolved fact %q", e.Fact)
}

// KindOf classifies an error into an ErrorKind for reporting.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ErrKindNone
	}
	var malformed *MalformedTaskError
	if errors.As(err, &malformed) {
		return ErrKindMalformedTask
	}
	var unknown *UnknownGroupError
	if errors.As(err, &unknown) {
		return ErrKindUnknownGroup
	}
	var unreachable *UnreachableHostError
	if errors.As(err, &unreachable) {
		return ErrKindUnreachableHost
	}
	var unresolved *UnresolvedFactError
	if errors.As(err, &unresolved) {
		return ErrKindUnresolvedFact
	}
	if errors.Is(err, ErrCancelled) {
		return ErrKindCancelled
	}
	return ErrKindActionFailed
}

// ErrCancelled marks a group stopped by run-level cancellation.
var ErrCancelled = errors.New("run cancelled")
