package engine

import (
	"context"
	"fmt"
	"time"
)

// GroupRun binds one host group's ordered task list to the invoker that
// carries its actions and the probe that verifies reachability. SeedFacts
// populate the group's fact store at start (topology selectors, extra vars).
type GroupRun struct {
	// Group is the host group name.
	Group string

	// Tasks is the ordered task list, as returned by LoadTasks.
	Tasks []Task

	// Invoker dispatches this group's actions.
	Invoker ActionInvoker

	// Probe verifies reachability before the first task. Nil skips probing.
	Probe ReachabilityProbe

	// SeedFacts are registered before the first task runs.
	SeedFacts map[string]Value
}

// groupRunner executes one group's task list sequentially. Exactly one
// goroutine owns a runner, its fact store included, so no locking is needed
// below the engine's fan-out.
type groupRunner struct {
	runID   string
	run     GroupRun
	facts   *FactStore
	retry   *RetryController
	exprs   ExprEvaluator
	events  EventSink
	metrics MetricsSink
}

func newGroupRunner(runID string, run GroupRun, opts Options) *groupRunner {
	retry := NewRetryController()
	if opts.Sleep != nil {
		retry.sleep = opts.Sleep
	}
	r := &groupRunner{
		runID:   runID,
		run:     run,
		facts:   NewFactStore(run.SeedFacts),
		retry:   retry,
		exprs:   opts.Expr,
		events:  opts.Events,
		metrics: opts.Metrics,
	}
	return r
}

// execute walks the task list and returns the group's terminal report.
// Errors are fatal to this group only; the caller decides what the aggregate
// run outcome becomes.
func (r *groupRunner) execute(ctx context.Context) GroupReport {
	report := GroupReport{
		Group:       r.run.Group,
		Status:      GroupRunning,
		Tasks:       make([]TaskReport, len(r.run.Tasks)),
		FailedIndex: -1,
		StartedAt:   time.Now(),
	}
	for i := range r.run.Tasks {
		report.Tasks[i] = TaskReport{
			Index:  i,
			TaskID: r.run.Tasks[i].ID,
			Action: r.run.Tasks[i].Action,
			State:  TaskPending,
		}
	}

	r.publish(ctx, Event{
		Type: EventGroupStarted, Group: r.run.Group, TaskIndex: -1,
		Message: fmt.Sprintf("group %s started with %d tasks", r.run.Group, len(r.run.Tasks)),
		Level:   "info",
	})

	if r.run.Probe != nil {
		if err := r.run.Probe.Probe(ctx); err != nil {
			if r.metrics != nil {
				r.metrics.ProbeFailed(r.run.Group)
			}
			return r.finish(ctx, report, GroupUnreachable, -1, err)
		}
	}

	for i := range r.run.Tasks {
		if err := ctx.Err(); err != nil {
			report.Tasks[i].State = TaskNotAttempted
			return r.finish(ctx, report, GroupCancelled, i, ErrCancelled)
		}

		task := &r.run.Tasks[i]
		taskStart := time.Now()

		pass, err := EvaluateCondition(ctx, task.Guard, r.facts, r.exprs)
		report.Tasks[i].State = TaskGuardEvaluated
		if err != nil {
			r.taskFatal(ctx, &report.Tasks[i], task, err)
			return r.finish(ctx, report, GroupFailed, i, err)
		}
		if !pass {
			report.Tasks[i].State = TaskSkipped
			r.recordTask(ctx, &report.Tasks[i], task, taskStart, EventTaskSkipped,
				fmt.Sprintf("task %s skipped: guard is false", task.ID), "info")
			continue
		}

		params, err := resolveParams(task, r.facts)
		if err != nil {
			r.taskFatal(ctx, &report.Tasks[i], task, err)
			return r.finish(ctx, report, GroupFailed, i, err)
		}

		report.Tasks[i].State = TaskDispatched
		r.publish(ctx, Event{
			Type: EventTaskDispatched, Group: r.run.Group,
			TaskID: task.ID, TaskIndex: i,
			Message: fmt.Sprintf("dispatching %s", task.Action),
			Level:   "info",
		})

		r.retry.onRetry = func(attempt int, last *Result) {
			if r.metrics != nil {
				r.metrics.RetryScheduled(task.Action)
			}
			r.publish(ctx, Event{
				Type: EventRetryScheduled, Group: r.run.Group,
				TaskID: task.ID, TaskIndex: i,
				Message: fmt.Sprintf("attempt %d of %s failed, retrying", attempt, task.Action),
				Level:   "warning",
			})
		}
		result, invokeErr := r.retry.Invoke(ctx, r.run.Invoker, task.Action, params, task.Retry)
		r.retry.onRetry = nil
		report.Tasks[i].Result = result

		if invokeErr != nil && ctx.Err() != nil {
			// Cancellation stopped the retry loop after the in-flight attempt.
			report.Tasks[i].State = TaskFailed
			report.Tasks[i].Error = ErrCancelled.Error()
			return r.finish(ctx, report, GroupCancelled, i, ErrCancelled)
		}

		if result.Status == StatusSuccess || task.OnError == OnErrorIgnore {
			report.Tasks[i].State = TaskCompleted
			if result.Status != StatusSuccess {
				report.Tasks[i].Error = fmt.Sprintf("failed after %d attempts (ignored)", result.Attempts)
			}
			if task.RegisterAs != "" {
				r.facts.Set(task.RegisterAs, result.FactValue())
			}
			r.recordTask(ctx, &report.Tasks[i], task, taskStart, EventTaskCompleted,
				fmt.Sprintf("task %s completed (changed=%t)", task.ID, result.Changed), "info")
			continue
		}

		report.Tasks[i].State = TaskFailed
		err = fmt.Errorf("task %s action %s failed after %d attempts", task.ID, task.Action, result.Attempts)
		r.recordTask(ctx, &report.Tasks[i], task, taskStart, EventTaskFailed, err.Error(), "error")
		report.Tasks[i].Error = err.Error()
		return r.finish(ctx, report, GroupFailed, i, err)
	}

	return r.finish(ctx, report, GroupSucceeded, -1, nil)
}

// taskFatal marks a task failed by a guard or resolution error, before any
// dispatch took place.
func (r *groupRunner) taskFatal(ctx context.Context, tr *TaskReport, task *Task, err error) {
	tr.State = TaskFailed
	tr.Error = err.Error()
	if r.metrics != nil {
		r.metrics.TaskFinished(task.Action, TaskFailed, 0)
	}
	r.publish(ctx, Event{
		Type: EventTaskFailed, Group: r.run.Group,
		TaskID: task.ID, TaskIndex: tr.Index,
		Message: err.Error(), Level: "error",
	})
}

func (r *groupRunner) recordTask(ctx context.Context, tr *TaskReport, task *Task, start time.Time, ev EventType, msg, level string) {
	if r.metrics != nil {
		r.metrics.TaskFinished(task.Action, tr.State, time.Since(start))
	}
	r.publish(ctx, Event{
		Type: ev, Group: r.run.Group,
		TaskID: task.ID, TaskIndex: tr.Index,
		Message: msg, Level: level,
	})
}

// finish seals the report: remaining tasks become NotAttempted, the fact
// snapshot is captured, and the terminal event is published.
func (r *groupRunner) finish(ctx context.Context, report GroupReport, status GroupStatus, failedAt int, err error) GroupReport {
	report.Status = status
	report.Duration = time.Since(report.StartedAt)
	report.Facts = r.facts.Snapshot()
	if err != nil {
		report.FailedIndex = failedAt
		report.ErrorKind = KindOf(err)
		report.Error = err.Error()
	}
	for i := range report.Tasks {
		if !report.Tasks[i].State.IsTerminal() {
			report.Tasks[i].State = TaskNotAttempted
		}
	}
	if r.metrics != nil {
		r.metrics.GroupFinished(report.Group, status, report.Duration)
	}
	level := "info"
	msg := fmt.Sprintf("group %s %s", report.Group, status)
	if status.Failed() {
		level = "error"
		msg = fmt.Sprintf("group %s %s: %s", report.Group, status, report.Error)
	}
	r.publish(ctx, Event{Type: EventGroupCompleted, Group: report.Group, TaskIndex: -1, Message: msg, Level: level})
	return report
}

// publish sends an event to the sink, stamping run identity and time. Sink
// errors never affect run outcomes.
func (r *groupRunner) publish(ctx context.Context, ev Event) {
	if r.events == nil {
		return
	}
	ev.RunID = r.runID
	ev.Timestamp = time.Now()
	_ = r.events.Publish(ctx, ev)
}
