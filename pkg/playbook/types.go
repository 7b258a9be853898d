// Package playbook loads run definitions from CUE or YAML and converts them
// into engine task lists.
package playbook

import (
	"fmt"
	"time"
)

// Playbook is the top-level run definition: an ordered set of plays, each
// binding a task list to a host group.
type Playbook struct {
	// Name identifies the playbook in logs and run history.
	Name string `json:"name" yaml:"name" validate:"required"`

	// Plays bind task lists to host groups. Groups of different plays run
	// concurrently; tasks within a play run in order.
	Plays []Play `json:"plays" yaml:"plays" validate:"required,min=1,dive"`
}

// Play is one host group's ordered task list.
type Play struct {
	// Group names the inventory group the play targets.
	Group string `json:"group" yaml:"group" validate:"required"`

	// Tasks are executed in order against the group.
	Tasks []TaskConfig `json:"tasks" yaml:"tasks" validate:"required,min=1,dive"`
}

// TaskConfig is the on-disk shape of one task.
type TaskConfig struct {
	// Name is the human-readable description.
	Name string `json:"name,omitempty" yaml:"name,omitempty"`

	// Action is the action reference, e.g. "pkg.ensure".
	Action string `json:"action" yaml:"action" validate:"required"`

	// Params are the action parameters. String values of the form
	// "ref:fact.path" become fact references resolved at dispatch time.
	Params map[string]any `json:"params,omitempty" yaml:"params,omitempty"`

	// When gates dispatch; omitted means always.
	When *ConditionConfig `json:"when,omitempty" yaml:"when,omitempty"`

	// Retry bounds re-invocation on failure.
	Retry *RetryConfig `json:"retry,omitempty" yaml:"retry,omitempty"`

	// Register names the fact the result is stored under.
	Register string `json:"register,omitempty" yaml:"register,omitempty"`

	// OnError selects fail (default) or ignore semantics.
	OnError string `json:"on_error,omitempty" yaml:"on_error,omitempty" validate:"omitempty,oneof=fail ignore"`
}

// ConditionConfig is the on-disk condition shape. Exactly one of the leaf or
// composite fields must be set per node.
type ConditionConfig struct {
	// Fact is the dotted fact path for equals/not_equals/contains leaves.
	Fact string `json:"fact,omitempty" yaml:"fact,omitempty"`

	// Equals compares the fact against a literal.
	Equals any `json:"equals,omitempty" yaml:"equals,omitempty"`

	// NotEquals is the negated comparison.
	NotEquals any `json:"not_equals,omitempty" yaml:"not_equals,omitempty"`

	// Contains tests membership on a list, map or string fact.
	Contains any `json:"contains,omitempty" yaml:"contains,omitempty"`

	// Exists tests presence of the named fact.
	Exists string `json:"exists,omitempty" yaml:"exists,omitempty"`

	// Expr is a Starlark boolean expression over the fact snapshot.
	Expr string `json:"expr,omitempty" yaml:"expr,omitempty"`

	// Not negates its single term.
	Not *ConditionConfig `json:"not,omitempty" yaml:"not,omitempty"`

	// All is the conjunction of its terms.
	All []ConditionConfig `json:"all,omitempty" yaml:"all,omitempty"`

	// Any is the disjunction of its terms.
	Any []ConditionConfig `json:"any,omitempty" yaml:"any,omitempty"`
}

// RetryConfig is the on-disk retry policy.
type RetryConfig struct {
	// MaxAttempts is the total invocation bound.
	MaxAttempts int `json:"max_attempts" yaml:"max_attempts" validate:"required,min=1"`

	// Delay is the fixed wait between attempts, e.g. "5s".
	Delay string `json:"delay,omitempty" yaml:"delay,omitempty"`

	// Until overrides what counts as success.
	Until *UntilConfig `json:"until,omitempty" yaml:"until,omitempty"`
}

// UntilConfig is the on-disk success rule.
type UntilConfig struct {
	// MaxExitCode accepts results at or below this exit code.
	MaxExitCode *int `json:"max_exit_code,omitempty" yaml:"max_exit_code,omitempty"`
}

// parseDelay parses the retry delay, defaulting to zero when unset.
func (r *RetryConfig) parseDelay() (time.Duration, error) {
	if r.Delay == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(r.Delay)
	if err != nil {
		return 0, fmt.Errorf("invalid retry delay %q: %w", r.Delay, err)
	}
	return d, nil
}
