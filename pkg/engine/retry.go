package engine

import (
	"context"
	"fmt"
	"time"
)

// SuccessRule decides what counts as success for a retry policy, decoupled
// from how many times the action is attempted. The zero value accepts any
// Result with StatusSuccess.
type SuccessRule struct {
	// MaxExitCode, when set, accepts any result whose exit code is at or
	// below the threshold regardless of status. Mirrors tools that signal
	// benign conditions through small non-zero exits.
	MaxExitCode *int
}

// Satisfied reports whether the result meets the rule. Attempts that never
// reached the tool carry a negative exit code and satisfy nothing: a dead
// transport must not read as a benign exit.
func (r SuccessRule) Satisfied(res *Result) bool {
	if res == nil {
		return false
	}
	if r.MaxExitCode != nil {
		return res.ExitCode >= 0 && res.ExitCode <= *r.MaxExitCode
	}
	return res.Status == StatusSuccess
}

// RetryPolicy bounds re-invocation of a failing action. Delay is fixed
// between attempts, never exponential.
type RetryPolicy struct {
	// MaxAttempts is the total invocation bound. Must be positive.
	MaxAttempts int

	// Delay is the fixed wait between attempts.
	Delay time.Duration

	// Until decides what counts as success for each attempt.
	Until SuccessRule
}

// Validate rejects non-positive attempt bounds and negative delays.
func (p *RetryPolicy) Validate() error {
	if p.MaxAttempts <= 0 {
		return fmt.Errorf("retry policy requires positive max_attempts, got %d", p.MaxAttempts)
	}
	if p.Delay < 0 {
		return fmt.Errorf("retry policy delay must not be negative, got %s", p.Delay)
	}
	return nil
}

// singleAttempt is the default policy for tasks without one.
var singleAttempt = RetryPolicy{MaxAttempts: 1}

// RetryController wraps action invocation with bounded fixed-delay retry.
// It never inspects why an action failed; the boundary is purely
// attempt/outcome, with the success rule as the only judge.
type RetryController struct {
	// sleep waits between attempts; injected for tests. The default honours
	// context cancellation.
	sleep func(ctx context.Context, d time.Duration) error

	// onRetry is notified before each re-attempt wait; used for events and
	// metrics. May be nil.
	onRetry func(attempt int, last *Result)
}

// NewRetryController creates a controller with the real clock.
func NewRetryController() *RetryController {
	return &RetryController{sleep: sleepContext}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Invoke runs the action under the policy. Each attempt runs to completion
// even under cancellation (no dangling external side effects); cancellation
// is observed only between attempts. The final Result carries the attempt
// count and, once attempts are exhausted, StatusFailure.
func (c *RetryController) Invoke(
	ctx context.Context,
	invoker ActionInvoker,
	actionRef string,
	params map[string]Value,
	policy *RetryPolicy,
) (*Result, error) {
	if policy == nil {
		policy = &singleAttempt
	}
	started := time.Now()

	// Attempts run detached from run cancellation so an in-flight action is
	// never killed mid-mutation; the invoker's own timeouts still bound each
	// attempt. Cancellation is observed between attempts, below.
	attemptCtx := context.WithoutCancel(ctx)

	var last *Result
	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		res, err := invoker.Invoke(attemptCtx, actionRef, params)
		if err != nil {
			// Transport or adapter errors count as a failed attempt; the
			// controller does not distinguish them from tool failures.
			res = &Result{
				Status:    StatusFailure,
				RawOutput: err.Error(),
				ExitCode:  -1,
			}
		}
		if res == nil {
			res = &Result{Status: StatusFailure, RawOutput: "action returned no result", ExitCode: -1}
		}
		res.Attempts = attempt
		res.Duration = time.Since(started)
		last = res

		if policy.Until.Satisfied(res) {
			res.Status = StatusSuccess
			return res, nil
		}

		if attempt == policy.MaxAttempts {
			break
		}
		if err := ctx.Err(); err != nil {
			last.Status = StatusFailure
			return last, err
		}
		if c.onRetry != nil {
			c.onRetry(attempt, last)
		}
		if err := c.sleep(ctx, policy.Delay); err != nil {
			last.Status = StatusFailure
			return last, err
		}
	}

	last.Status = StatusFailure
	last.Duration = time.Since(started)
	return last, nil
}
