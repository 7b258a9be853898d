package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Options configures the cross-cutting collaborators of an Engine. All fields
// are optional; nil sinks are simply not notified.
type Options struct {
	// Expr evaluates scripted guard expressions. Required only when task
	// guards use expr conditions.
	Expr ExprEvaluator

	// Events receives the run timeline.
	Events EventSink

	// Metrics receives counters and timings.
	Metrics MetricsSink

	// Sleep overrides the retry delay clock. Tests inject a recording func.
	Sleep func(ctx context.Context, d time.Duration) error
}

// Engine executes provisioning runs: one sequential task list per host group,
// with independent groups running concurrently. Groups are fully isolated;
// the only cross-group interaction is the aggregate run status.
type Engine struct {
	opts Options
}

// New creates an engine with the given options.
func New(opts Options) *Engine {
	return &Engine{opts: opts}
}

// Run executes every group concurrently and blocks until all of them reach a
// terminal status. An empty runID is replaced with a fresh UUID. The returned
// report always covers every group in input order; the error is non-nil only
// when the run itself could not start.
func (e *Engine) Run(ctx context.Context, runID string, groups []GroupRun) (*RunReport, error) {
	if len(groups) == 0 {
		return nil, fmt.Errorf("run has no target groups")
	}
	seen := make(map[string]bool, len(groups))
	for _, g := range groups {
		if g.Group == "" {
			return nil, fmt.Errorf("run targets a group with no name")
		}
		if seen[g.Group] {
			return nil, fmt.Errorf("run targets group %q twice", g.Group)
		}
		seen[g.Group] = true
		if g.Invoker == nil {
			return nil, fmt.Errorf("group %q has no action invoker", g.Group)
		}
	}
	if runID == "" {
		runID = uuid.New().String()
	}

	report := &RunReport{
		RunID:     runID,
		Status:    RunRunning,
		Groups:    make([]GroupReport, len(groups)),
		StartedAt: time.Now(),
	}

	e.publish(ctx, runID, Event{
		Type: EventRunStarted, TaskIndex: -1,
		Message: fmt.Sprintf("run started across %d groups", len(groups)),
		Level:   "info",
	})

	var wg sync.WaitGroup
	for i := range groups {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			runner := newGroupRunner(runID, groups[i], e.opts)
			report.Groups[i] = runner.execute(ctx)
		}(i)
	}
	wg.Wait()

	report.Status = RunSucceeded
	for _, g := range report.Groups {
		switch {
		case g.Status == GroupCancelled:
			report.Status = RunCancelled
		case g.Status.Failed() && report.Status != RunCancelled:
			report.Status = RunFailed
		}
	}
	report.Duration = time.Since(report.StartedAt)

	level := "info"
	if report.Status != RunSucceeded {
		level = "error"
	}
	e.publish(ctx, runID, Event{
		Type: EventRunCompleted, TaskIndex: -1,
		Message: fmt.Sprintf("run %s %s in %s", runID, report.Status, report.Duration.Round(time.Millisecond)),
		Level:   level,
	})
	return report, nil
}

func (e *Engine) publish(ctx context.Context, runID string, ev Event) {
	if e.opts.Events == nil {
		return
	}
	ev.RunID = runID
	ev.Timestamp = time.Now()
	_ = e.opts.Events.Publish(ctx, ev)
}
