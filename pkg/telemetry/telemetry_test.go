package telemetry

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/bosunhq/bosun/pkg/engine"
)

func TestConfigValidation(t *testing.T) {
	cases := map[string]func(*Config){
		"empty service name":  func(c *Config) { c.ServiceName = "" },
		"bad log level":       func(c *Config) { c.Logging.Level = "verbose" },
		"bad log format":      func(c *Config) { c.Logging.Format = "xml" },
		"bad trace exporter":  func(c *Config) { c.Tracing.Enabled = true; c.Tracing.Exporter = "jaeger" },
		"bad sampling rate":   func(c *Config) { c.Tracing.SamplingRate = 1.5 },
		"no metrics address":  func(c *Config) { c.Metrics.Enabled = true; c.Metrics.ListenAddress = "" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := DefaultConfig()
			mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}

	if err := DefaultConfig().Validate(); err != nil {
		t.Errorf("default config should validate: %v", err)
	}
	if err := ProductionConfig().Validate(); err != nil {
		t.Errorf("production config should validate: %v", err)
	}
}

func TestMetricsSinkCounters(t *testing.T) {
	m, err := NewMetrics(MetricsConfig{
		Enabled:   true,
		Namespace: "bosun",
	})
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	m.TaskFinished("pkg.ensure", engine.TaskCompleted, 2*time.Second)
	m.TaskFinished("pkg.ensure", engine.TaskCompleted, 3*time.Second)
	m.TaskFinished("service.ensure", engine.TaskFailed, time.Second)
	m.RetryScheduled("service.ensure")
	m.GroupFinished("control", engine.GroupSucceeded, 10*time.Second)
	m.ProbeFailed("workers")
	m.RecordRunCompleted(engine.RunFailed, 12*time.Second)

	if got := testutil.ToFloat64(m.tasksExecuted.WithLabelValues("pkg.ensure", "completed")); got != 2 {
		t.Errorf("tasks_executed{pkg.ensure,completed} = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.retriesTotal.WithLabelValues("service.ensure")); got != 1 {
		t.Errorf("task_retries_total = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.probeFailures.WithLabelValues("workers")); got != 1 {
		t.Errorf("probe_failures_total = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.groupsCompleted.WithLabelValues("control", "succeeded")); got != 1 {
		t.Errorf("groups_completed_total = %v, want 1", got)
	}
}

func TestMetricsDisabledIsNoOp(t *testing.T) {
	m, err := NewMetrics(MetricsConfig{Enabled: false})
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	// Must not panic.
	m.TaskFinished("command.run", engine.TaskCompleted, time.Second)
	m.RetryScheduled("command.run")
	m.GroupFinished("control", engine.GroupFailed, time.Second)
	m.ProbeFailed("control")
	m.RecordRunCompleted(engine.RunSucceeded, time.Second)
}

type recordingSink struct {
	mu     sync.Mutex
	events []engine.Event
	err    error
}

func (rs *recordingSink) Publish(_ context.Context, ev engine.Event) error {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	if rs.err != nil {
		return rs.err
	}
	rs.events = append(rs.events, ev)
	return nil
}

func (rs *recordingSink) count() int {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return len(rs.events)
}

func TestFanoutSinkDeliversToAll(t *testing.T) {
	a := &recordingSink{}
	b := &recordingSink{err: errors.New("sink down")}
	c := &recordingSink{}

	fs := NewFanoutSink(a, nil, b, c)
	err := fs.Publish(context.Background(), engine.Event{RunID: "r", Type: engine.EventRunStarted})

	if err == nil || !strings.Contains(err.Error(), "sink down") {
		t.Errorf("err = %v, want first sink error", err)
	}
	if a.count() != 1 || c.count() != 1 {
		t.Errorf("delivery counts = %d, %d, want 1, 1", a.count(), c.count())
	}
}

func TestAsyncSinkDrainsOnClose(t *testing.T) {
	inner := &recordingSink{}
	as := NewAsyncSink(inner, 16)

	for i := 0; i < 5; i++ {
		if err := as.Publish(context.Background(), engine.Event{RunID: "r", Type: engine.EventTaskCompleted}); err != nil {
			t.Fatalf("Publish %d: %v", i, err)
		}
	}
	as.Close()

	if inner.count() != 5 {
		t.Errorf("delivered = %d, want 5", inner.count())
	}

	if err := as.Publish(context.Background(), engine.Event{}); err == nil {
		t.Error("expected error publishing after close")
	}
}

func TestLogSinkWritesEvents(t *testing.T) {
	logger, err := NewLogger(LoggingConfig{Level: "info", Format: "json", Output: "stderr"})
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}

	ls := NewLogSink(logger)
	ev := engine.Event{
		RunID: "r", Group: "control", TaskID: "task-0",
		Type: engine.EventTaskFailed, Level: "error", Message: "exit status 1",
	}
	if err := ls.Publish(context.Background(), ev); err != nil {
		t.Errorf("Publish: %v", err)
	}
}

func TestNewTelemetryBundle(t *testing.T) {
	tel, err := NewTelemetry(DefaultConfig())
	if err != nil {
		t.Fatalf("NewTelemetry: %v", err)
	}

	ctx := tel.WithContext(context.Background())
	if TelemetryFromContext(ctx) != tel {
		t.Error("bundle not recoverable from context")
	}
	if FromContext(ctx) != tel.Logger {
		t.Error("logger not recoverable from context")
	}

	if err := tel.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown: %v", err)
	}
}
