package playbook

import (
	"context"
	"fmt"
	"time"

	"go.starlark.net/starlark"
)

// StarlarkEvaluator evaluates guard expressions over the fact snapshot. It
// implements engine.ExprEvaluator; the facts appear as a predeclared `facts`
// dict, so guards read like `facts["deploy_type"] == "compact"`.
type StarlarkEvaluator struct {
	timeout time.Duration
}

// NewStarlarkEvaluator creates an evaluator. A zero timeout defaults to 10s;
// guards are expressions, not programs, and should be near-instant.
func NewStarlarkEvaluator(timeout time.Duration) *StarlarkEvaluator {
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &StarlarkEvaluator{timeout: timeout}
}

// EvalBool evaluates the expression against the fact snapshot. Any outcome
// other than a Starlark bool is an error; the engine treats evaluation errors
// as fatal to the owning group rather than guessing a truth value.
func (se *StarlarkEvaluator) EvalBool(ctx context.Context, expr string, facts map[string]any) (bool, error) {
	evalCtx, cancel := context.WithTimeout(ctx, se.timeout)
	defer cancel()

	type outcome struct {
		value bool
		err   error
	}
	done := make(chan outcome, 1)

	go func() {
		v, err := se.eval(expr, facts)
		done <- outcome{value: v, err: err}
	}()

	select {
	case <-evalCtx.Done():
		return false, fmt.Errorf("guard expression timed out after %v", se.timeout)
	case out := <-done:
		return out.value, out.err
	}
}

func (se *StarlarkEvaluator) eval(expr string, facts map[string]any) (bool, error) {
	factsDict, err := toStarlarkValue(facts)
	if err != nil {
		return false, fmt.Errorf("failed to convert facts: %w", err)
	}

	thread := &starlark.Thread{
		Name: "bosun-guard",
		Print: func(_ *starlark.Thread, _ string) {
			// Guards are pure; print output is discarded.
		},
	}
	predeclared := starlark.StringDict{"facts": factsDict}

	v, err := starlark.Eval(thread, "guard.star", expr, predeclared)
	if err != nil {
		return false, fmt.Errorf("guard expression failed: %w", err)
	}
	b, ok := v.(starlark.Bool)
	if !ok {
		return false, fmt.Errorf("guard expression returned %s, want bool", v.Type())
	}
	return bool(b), nil
}

// toStarlarkValue converts a plain Go value to a Starlark value.
func toStarlarkValue(v any) (starlark.Value, error) {
	if v == nil {
		return starlark.None, nil
	}
	switch val := v.(type) {
	case bool:
		return starlark.Bool(val), nil
	case int:
		return starlark.MakeInt(val), nil
	case int64:
		return starlark.MakeInt64(val), nil
	case float64:
		return starlark.Float(val), nil
	case string:
		return starlark.String(val), nil
	case []any:
		list := make([]starlark.Value, len(val))
		for i, item := range val {
			sv, err := toStarlarkValue(item)
			if err != nil {
				return nil, err
			}
			list[i] = sv
		}
		return starlark.NewList(list), nil
	case map[string]any:
		dict := starlark.NewDict(len(val))
		for k, item := range val {
			sv, err := toStarlarkValue(item)
			if err != nil {
				return nil, err
			}
			if err := dict.SetKey(starlark.String(k), sv); err != nil {
				return nil, err
			}
		}
		return dict, nil
	default:
		return nil, fmt.Errorf("unsupported fact type %T", v)
	}
}
