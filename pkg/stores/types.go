package stores

import (
	"context"
	"time"

	"github.com/bosunhq/bosun/pkg/engine"
)

// RunRecord is a persisted run header row.
type RunRecord struct {
	ID        string    `json:"id"`
	Playbook  string    `json:"playbook"`
	Status    string    `json:"status"`
	StartedAt time.Time `json:"started_at"`
	Duration  int64     `json:"duration_ms"`
	CreatedAt time.Time `json:"created_at"`
}

// GroupRecord is a persisted per-group outcome row.
type GroupRecord struct {
	ID          int64     `json:"id"`
	RunID       string    `json:"run_id"`
	GroupName   string    `json:"group_name"`
	Status      string    `json:"status"`
	FailedIndex int       `json:"failed_index"`
	ErrorKind   string    `json:"error_kind"`
	Error       *string   `json:"error,omitempty"`
	Facts       string    `json:"facts"` // JSON blob, the group's final fact snapshot
	StartedAt   time.Time `json:"started_at"`
	Duration    int64     `json:"duration_ms"`
}

// TaskRecord is a persisted per-task outcome row. Result fields are nil for
// tasks that were never dispatched (skipped, not attempted).
type TaskRecord struct {
	ID           int64   `json:"id"`
	RunID        string  `json:"run_id"`
	GroupName    string  `json:"group_name"`
	TaskIndex    int     `json:"task_index"`
	TaskID       string  `json:"task_id"`
	Action       string  `json:"action"`
	State        string  `json:"state"`
	ResultStatus *string `json:"result_status,omitempty"`
	Changed      *bool   `json:"changed,omitempty"`
	ExitCode     *int    `json:"exit_code,omitempty"`
	Attempts     *int    `json:"attempts,omitempty"`
	Duration     *int64  `json:"duration_ms,omitempty"`
	Error        *string `json:"error,omitempty"`
}

// EventRecord is a persisted execution event row.
type EventRecord struct {
	ID        int64     `json:"id"`
	RunID     string    `json:"run_id"`
	GroupName string    `json:"group_name"`
	TaskID    string    `json:"task_id"`
	Type      string    `json:"type"`
	Level     string    `json:"level"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// RunDetail bundles a run with its group and task rows for history display.
type RunDetail struct {
	Run    RunRecord     `json:"run"`
	Groups []GroupRecord `json:"groups"`
	Tasks  []TaskRecord  `json:"tasks"`
}

// Store defines the interface for the run history layer. SQLiteStore is the
// only implementation; the interface keeps commands decoupled from SQLite.
type Store interface {
	engine.EventSink

	// Lifecycle
	Init(ctx context.Context) error
	Migrate(ctx context.Context) error
	Close() error

	// Run history
	RecordRun(ctx context.Context, playbook string, report *engine.RunReport) error
	GetRun(ctx context.Context, id string) (*RunDetail, error)
	ListRuns(ctx context.Context, limit, offset int) ([]*RunRecord, error)
	EventsForRun(ctx context.Context, runID string, limit, offset int) ([]*EventRecord, error)
	DeleteRun(ctx context.Context, id string) error

	// Utility
	HealthCheck(ctx context.Context) error
}
