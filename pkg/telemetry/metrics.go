package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/bosunhq/bosun/pkg/engine"
)

// Metrics provides Prometheus metrics for Bosun. It implements
// engine.MetricsSink; when metrics are disabled every method is a no-op so
// the engine can hold the sink unconditionally.
type Metrics struct {
	config MetricsConfig

	// Run metrics
	runsCompleted *prometheus.CounterVec
	runDuration   *prometheus.HistogramVec

	// Group metrics
	groupsCompleted *prometheus.CounterVec
	groupDuration   *prometheus.HistogramVec
	probeFailures   *prometheus.CounterVec

	// Task metrics
	tasksExecuted *prometheus.CounterVec
	taskDuration  *prometheus.HistogramVec
	retriesTotal  *prometheus.CounterVec

	// System metrics
	activeGroups prometheus.Gauge

	registry *prometheus.Registry
}

// NewMetrics creates a new metrics collector with the given configuration.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		// Return a no-op metrics instance
		return &Metrics{config: cfg}, nil
	}

	namespace := cfg.Namespace
	buckets := cfg.DefaultHistogramBuckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}

	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		runsCompleted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_completed_total",
				Help:      "Total number of runs completed",
			},
			[]string{"status"},
		),
		runDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "run_duration_seconds",
				Help:      "Duration of run execution in seconds",
				Buckets:   buckets,
			},
			[]string{"status"},
		),

		groupsCompleted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "groups_completed_total",
				Help:      "Total number of host groups completed",
			},
			[]string{"group", "status"},
		),
		groupDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "group_duration_seconds",
				Help:      "Duration of host group execution in seconds",
				Buckets:   buckets,
			},
			[]string{"group", "status"},
		),
		probeFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "probe_failures_total",
				Help:      "Total number of reachability probes that gave up",
			},
			[]string{"group"},
		),

		tasksExecuted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tasks_executed_total",
				Help:      "Total number of tasks reaching a terminal state",
			},
			[]string{"action", "state"},
		),
		taskDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "task_duration_seconds",
				Help:      "Duration of task execution in seconds",
				Buckets:   buckets,
			},
			[]string{"action", "state"},
		),
		retriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "task_retries_total",
				Help:      "Total number of scheduled task re-attempts",
			},
			[]string{"action"},
		),

		activeGroups: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_groups",
				Help:      "Current number of host groups executing",
			},
		),
	}

	registry.MustRegister(
		m.runsCompleted,
		m.runDuration,
		m.groupsCompleted,
		m.groupDuration,
		m.probeFailures,
		m.tasksExecuted,
		m.taskDuration,
		m.retriesTotal,
		m.activeGroups,
	)

	return m, nil
}

// TaskFinished records a task reaching a terminal state.
func (m *Metrics) TaskFinished(action string, state engine.TaskState, duration time.Duration) {
	if m.tasksExecuted == nil {
		return
	}
	m.tasksExecuted.WithLabelValues(action, string(state)).Inc()
	m.taskDuration.WithLabelValues(action, string(state)).Observe(duration.Seconds())
}

// RetryScheduled records one re-attempt wait for an action.
func (m *Metrics) RetryScheduled(action string) {
	if m.retriesTotal == nil {
		return
	}
	m.retriesTotal.WithLabelValues(action).Inc()
}

// GroupFinished records a group reaching a terminal status.
func (m *Metrics) GroupFinished(group string, status engine.GroupStatus, duration time.Duration) {
	if m.groupsCompleted == nil {
		return
	}
	m.groupsCompleted.WithLabelValues(group, string(status)).Inc()
	m.groupDuration.WithLabelValues(group, string(status)).Observe(duration.Seconds())
}

// ProbeFailed records a reachability probe giving up on a group.
func (m *Metrics) ProbeFailed(group string) {
	if m.probeFailures == nil {
		return
	}
	m.probeFailures.WithLabelValues(group).Inc()
}

// RecordRunCompleted records a completed run with its status and duration.
func (m *Metrics) RecordRunCompleted(status engine.RunStatus, duration time.Duration) {
	if m.runsCompleted == nil {
		return
	}
	m.runsCompleted.WithLabelValues(string(status)).Inc()
	m.runDuration.WithLabelValues(string(status)).Observe(duration.Seconds())
}

// GroupStarted increments the active group gauge.
func (m *Metrics) GroupStarted() {
	if m.activeGroups == nil {
		return
	}
	m.activeGroups.Inc()
}

// GroupStopped decrements the active group gauge.
func (m *Metrics) GroupStopped() {
	if m.activeGroups == nil {
		return
	}
	m.activeGroups.Dec()
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m.registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// StartMetricsServer starts an HTTP server to expose metrics.
func (m *Metrics) StartMetricsServer() error {
	if !m.config.Enabled {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle(m.config.Path, m.Handler())

	server := &http.Server{
		Addr:              m.config.ListenAddress,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("metrics server error")
		}
	}()

	return nil
}
