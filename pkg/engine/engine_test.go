package engine

import (
	"context"
	"sync"
	"testing"
	"time"
)

// invocation records one call through the invoker boundary.
type invocation struct {
	action string
	params map[string]Value
}

// mockInvoker answers through a scripted respond func and records every call.
type mockInvoker struct {
	mu      sync.Mutex
	calls   []invocation
	respond func(action string, params map[string]Value) (*Result, error)
}

func (m *mockInvoker) Invoke(_ context.Context, action string, params map[string]Value) (*Result, error) {
	m.mu.Lock()
	m.calls = append(m.calls, invocation{action: action, params: params})
	m.mu.Unlock()
	if m.respond != nil {
		return m.respond(action, params)
	}
	return &Result{Status: StatusSuccess}, nil
}

func (m *mockInvoker) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

// mockProbe fails with the given error, or passes when nil.
type mockProbe struct {
	err    error
	probed int
}

func (p *mockProbe) Probe(context.Context) error {
	p.probed++
	return p.err
}

// mockEventSink collects published events.
type mockEventSink struct {
	mu     sync.Mutex
	events []Event
}

func (s *mockEventSink) Publish(_ context.Context, ev Event) error {
	s.mu.Lock()
	s.events = append(s.events, ev)
	s.mu.Unlock()
	return nil
}

func (s *mockEventSink) countType(t EventType) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, ev := range s.events {
		if ev.Type == t {
			n++
		}
	}
	return n
}

func noSleep(ctx context.Context, _ time.Duration) error { return ctx.Err() }

func runOneGroup(t *testing.T, group GroupRun, opts Options) *RunReport {
	t.Helper()
	if opts.Sleep == nil {
		opts.Sleep = noSleep
	}
	report, err := New(opts).Run(context.Background(), "test-run", []GroupRun{group})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	return report
}

func TestRunGuardFalseSkipsWithoutInvocation(t *testing.T) {
	inv := &mockInvoker{}
	report := runOneGroup(t, GroupRun{
		Group: "control",
		Tasks: []Task{
			{ID: "t0", Action: "pkg.ensure", Guard: FactEquals("deploy_type", String("standard"))},
			{ID: "t1", Action: "command.run"},
		},
		Invoker:   inv,
		SeedFacts: map[string]Value{"deploy_type": String("compact")},
	}, Options{})

	g := report.Groups[0]
	if g.Status != GroupSucceeded {
		t.Fatalf("group status = %s: %s", g.Status, g.Error)
	}
	if g.Tasks[0].State != TaskSkipped {
		t.Errorf("t0 state = %s, want skipped", g.Tasks[0].State)
	}
	if g.Tasks[1].State != TaskCompleted {
		t.Errorf("t1 state = %s, want completed", g.Tasks[1].State)
	}
	if inv.callCount() != 1 {
		t.Errorf("invocations = %d, want 1 (skipped task must not dispatch)", inv.callCount())
	}
}

func TestRunUnresolvedGuardFactIsFatalToGroup(t *testing.T) {
	inv := &mockInvoker{}
	report := runOneGroup(t, GroupRun{
		Group: "workers",
		Tasks: []Task{
			{ID: "t0", Action: "pkg.ensure", Guard: FactEquals("never_registered", Bool(true))},
			{ID: "t1", Action: "command.run"},
		},
		Invoker: inv,
	}, Options{})

	g := report.Groups[0]
	if g.Status != GroupFailed {
		t.Fatalf("group status = %s, want failed", g.Status)
	}
	if g.ErrorKind != ErrKindUnresolvedFact {
		t.Errorf("error kind = %s, want unresolved_fact", g.ErrorKind)
	}
	if g.FailedIndex != 0 {
		t.Errorf("FailedIndex = %d, want 0", g.FailedIndex)
	}
	if g.Tasks[1].State != TaskNotAttempted {
		t.Errorf("t1 state = %s, want not_attempted", g.Tasks[1].State)
	}
	if inv.callCount() != 0 {
		t.Errorf("invocations = %d, want 0", inv.callCount())
	}
}

func TestRunRegisteredFactsFlowToLaterTasks(t *testing.T) {
	inv := &mockInvoker{respond: func(action string, params map[string]Value) (*Result, error) {
		if action == "command.run" {
			return &Result{Status: StatusSuccess, Changed: true, ExitCode: 0,
				Payload: Map(map[string]Value{"version": String("1.28.3")})}, nil
		}
		return &Result{Status: StatusSuccess}, nil
	}}
	report := runOneGroup(t, GroupRun{
		Group: "control",
		Tasks: []Task{
			{ID: "detect", Action: "command.run", RegisterAs: "detect"},
			{
				ID: "install", Action: "pkg.ensure",
				Guard:  FactEquals("detect.status", String("success")),
				Params: map[string]Value{"version": Ref("detect.payload.version")},
			},
		},
		Invoker: inv,
	}, Options{})

	g := report.Groups[0]
	if g.Status != GroupSucceeded {
		t.Fatalf("group status = %s: %s", g.Status, g.Error)
	}
	if inv.callCount() != 2 {
		t.Fatalf("invocations = %d, want 2", inv.callCount())
	}
	v, err := inv.calls[1].params["version"].AsString()
	if err != nil || v != "1.28.3" {
		t.Errorf("resolved version param = %q, %v", v, err)
	}
}

func TestRunRetryExhaustionFailsGroup(t *testing.T) {
	inv := &mockInvoker{respond: func(string, map[string]Value) (*Result, error) {
		return &Result{Status: StatusFailure, ExitCode: 1}, nil
	}}
	events := &mockEventSink{}
	report := runOneGroup(t, GroupRun{
		Group: "workers",
		Tasks: []Task{
			{ID: "flaky", Action: "command.run", Retry: &RetryPolicy{MaxAttempts: 3, Delay: time.Second}},
			{ID: "after", Action: "pkg.ensure"},
		},
		Invoker: inv,
	}, Options{Events: events})

	g := report.Groups[0]
	if g.Status != GroupFailed {
		t.Fatalf("group status = %s, want failed", g.Status)
	}
	if g.ErrorKind != ErrKindActionFailed {
		t.Errorf("error kind = %s, want action_failed", g.ErrorKind)
	}
	if inv.callCount() != 3 {
		t.Errorf("invocations = %d, want exactly 3", inv.callCount())
	}
	if g.Tasks[0].Result == nil || g.Tasks[0].Result.Attempts != 3 {
		t.Errorf("result attempts = %+v, want 3", g.Tasks[0].Result)
	}
	if g.Tasks[1].State != TaskNotAttempted {
		t.Errorf("after state = %s, want not_attempted", g.Tasks[1].State)
	}
	if n := events.countType(EventRetryScheduled); n != 2 {
		t.Errorf("retry events = %d, want 2", n)
	}
}

func TestRunIgnoredFailureContinuesGroup(t *testing.T) {
	inv := &mockInvoker{respond: func(action string, _ map[string]Value) (*Result, error) {
		if action == "command.run" {
			return &Result{Status: StatusFailure, ExitCode: 1}, nil
		}
		return &Result{Status: StatusSuccess}, nil
	}}
	report := runOneGroup(t, GroupRun{
		Group: "workers",
		Tasks: []Task{
			{ID: "optional", Action: "command.run", OnError: OnErrorIgnore, RegisterAs: "optional"},
			{ID: "after", Action: "pkg.ensure", Guard: FactEquals("optional.status", String("failure"))},
		},
		Invoker: inv,
	}, Options{})

	g := report.Groups[0]
	if g.Status != GroupSucceeded {
		t.Fatalf("group status = %s: %s", g.Status, g.Error)
	}
	if g.Tasks[0].State != TaskCompleted {
		t.Errorf("optional state = %s, want completed", g.Tasks[0].State)
	}
	// The registered fact records the failure so later guards can see it.
	if g.Tasks[1].State != TaskCompleted {
		t.Errorf("after state = %s, want completed", g.Tasks[1].State)
	}
}

func TestRunUnreachableGroupDispatchesNothing(t *testing.T) {
	inv := &mockInvoker{}
	probe := &mockProbe{err: &UnreachableHostError{
		Group: "workers", Address: "10.0.0.5:22", Attempts: 3,
	}}
	report := runOneGroup(t, GroupRun{
		Group:   "workers",
		Tasks:   []Task{{ID: "t0", Action: "pkg.ensure"}},
		Invoker: inv,
		Probe:   probe,
	}, Options{})

	g := report.Groups[0]
	if g.Status != GroupUnreachable {
		t.Fatalf("group status = %s, want unreachable", g.Status)
	}
	if g.ErrorKind != ErrKindUnreachableHost {
		t.Errorf("error kind = %s, want unreachable_host", g.ErrorKind)
	}
	if g.Tasks[0].State != TaskNotAttempted {
		t.Errorf("t0 state = %s, want not_attempted", g.Tasks[0].State)
	}
	if inv.callCount() != 0 {
		t.Errorf("invocations = %d, want 0", inv.callCount())
	}
}

func TestRunGroupsAreIsolated(t *testing.T) {
	controlInv := &mockInvoker{respond: func(string, map[string]Value) (*Result, error) {
		return &Result{Status: StatusFailure, ExitCode: 1}, nil
	}}
	workerInv := &mockInvoker{}

	engine := New(Options{Sleep: noSleep})
	report, err := engine.Run(context.Background(), "", []GroupRun{
		{
			Group:   "control",
			Tasks:   []Task{{ID: "c0", Action: "pkg.ensure"}},
			Invoker: controlInv,
		},
		{
			Group: "workers",
			Tasks: []Task{
				{ID: "w0", Action: "pkg.ensure", RegisterAs: "install"},
				{ID: "w1", Action: "command.run", Guard: FactEquals("install.status", String("success"))},
			},
			Invoker: workerInv,
		},
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if report.RunID == "" {
		t.Error("empty run ID should be replaced")
	}
	if report.Status != RunFailed {
		t.Errorf("run status = %s, want failed", report.Status)
	}
	if report.Groups[0].Status != GroupFailed {
		t.Errorf("control status = %s, want failed", report.Groups[0].Status)
	}
	// The failing control group must not stop or taint the workers group.
	if report.Groups[1].Status != GroupSucceeded {
		t.Errorf("workers status = %s: %s", report.Groups[1].Status, report.Groups[1].Error)
	}
	if workerInv.callCount() != 2 {
		t.Errorf("worker invocations = %d, want 2", workerInv.callCount())
	}
	// Fact stores are per group: control never sees workers' registrations.
	if _, ok := report.Groups[0].Facts["install"]; ok {
		t.Error("install fact leaked across groups")
	}
}

func TestRunCancellationStopsAfterInFlightAttempt(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	inv := &mockInvoker{respond: func(string, map[string]Value) (*Result, error) {
		cancel()
		return &Result{Status: StatusSuccess}, nil
	}}
	report, err := New(Options{Sleep: noSleep}).Run(ctx, "test-run", []GroupRun{{
		Group: "control",
		Tasks: []Task{
			{ID: "t0", Action: "pkg.ensure"},
			{ID: "t1", Action: "command.run"},
		},
		Invoker: inv,
	}})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	g := report.Groups[0]
	if g.Status != GroupCancelled {
		t.Fatalf("group status = %s, want cancelled", g.Status)
	}
	// The in-flight task completed before the cancellation took effect.
	if g.Tasks[0].State != TaskCompleted {
		t.Errorf("t0 state = %s, want completed", g.Tasks[0].State)
	}
	if g.Tasks[1].State != TaskNotAttempted {
		t.Errorf("t1 state = %s, want not_attempted", g.Tasks[1].State)
	}
	if report.Status != RunCancelled {
		t.Errorf("run status = %s, want cancelled", report.Status)
	}
}

// doneWatchingInvoker behaves like a real transport: it aborts the attempt
// whenever the context it was handed is already cancelled.
type doneWatchingInvoker struct {
	cancel  context.CancelFunc
	sawDone bool
}

func (d *doneWatchingInvoker) Invoke(ctx context.Context, _ string, _ map[string]Value) (*Result, error) {
	d.cancel()
	if ctx.Err() != nil {
		d.sawDone = true
		return nil, ctx.Err()
	}
	return &Result{Status: StatusFailure, ExitCode: 1}, nil
}

func TestRunCancellationDoesNotAbortInFlightAttempt(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	inv := &doneWatchingInvoker{cancel: cancel}
	report, err := New(Options{Sleep: noSleep}).Run(ctx, "test-run", []GroupRun{{
		Group: "control",
		Tasks: []Task{
			{ID: "t0", Action: "command.run", Retry: &RetryPolicy{MaxAttempts: 3}},
			{ID: "t1", Action: "command.run"},
		},
		Invoker: inv,
	}})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	// The attempt must not see the run's cancellation mid-flight.
	if inv.sawDone {
		t.Error("attempt context was cancelled while the action was in flight")
	}
	g := report.Groups[0]
	if g.Status != GroupCancelled {
		t.Fatalf("group status = %s, want cancelled", g.Status)
	}
	if g.ErrorKind != ErrKindCancelled {
		t.Errorf("error kind = %s, want cancelled", g.ErrorKind)
	}
	if g.Tasks[1].State != TaskNotAttempted {
		t.Errorf("t1 state = %s, want not_attempted", g.Tasks[1].State)
	}
	if report.Status != RunCancelled {
		t.Errorf("run status = %s, want cancelled", report.Status)
	}
}

func TestRunRejectsBadTargets(t *testing.T) {
	engine := New(Options{})
	if _, err := engine.Run(context.Background(), "", nil); err == nil {
		t.Error("empty target list should be rejected")
	}
	if _, err := engine.Run(context.Background(), "", []GroupRun{
		{Group: "a", Invoker: &mockInvoker{}},
		{Group: "a", Invoker: &mockInvoker{}},
	}); err == nil {
		t.Error("duplicate group should be rejected")
	}
	if _, err := engine.Run(context.Background(), "", []GroupRun{{Group: "a"}}); err == nil {
		t.Error("missing invoker should be rejected")
	}
}

func TestRunEmitsLifecycleEvents(t *testing.T) {
	events := &mockEventSink{}
	runOneGroupForEvents := GroupRun{
		Group:   "control",
		Tasks:   []Task{{ID: "t0", Action: "pkg.ensure"}},
		Invoker: &mockInvoker{},
	}
	_, err := New(Options{Events: events, Sleep: noSleep}).
		Run(context.Background(), "evt-run", []GroupRun{runOneGroupForEvents})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	for _, typ := range []EventType{
		EventRunStarted, EventGroupStarted, EventTaskDispatched,
		EventTaskCompleted, EventGroupCompleted, EventRunCompleted,
	} {
		if events.countType(typ) != 1 {
			t.Errorf("event %s count = %d, want 1", typ, events.countType(typ))
		}
	}
	events.mu.Lock()
	defer events.mu.Unlock()
	for _, ev := range events.events {
		if ev.RunID != "evt-run" {
			t.Errorf("event %s missing run ID", ev.Type)
		}
	}
}
