package stores

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/bosunhq/bosun/pkg/engine"

	// SQLite driver
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// Config holds SQLite store configuration
type Config struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// NewSQLiteStore creates a new SQLite store instance
func NewSQLiteStore(cfg Config) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	return &SQLiteStore{
		path: cfg.Path,
	}, nil
}

// Init initializes the database connection and enables WAL mode.
func (s *SQLiteStore) Init(ctx context.Context) error {
	dsn := fmt.Sprintf("%s?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL&_txlock=immediate", s.path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	// Ensure foreign keys are enabled (connection-level setting)
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	s.db = db
	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Migrate runs database migrations.
func (s *SQLiteStore) Migrate(_ context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	driver, err := sqlite3.WithInstance(s.db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// RecordRun persists a finished run, its group reports, and its task results
// in a single transaction.
func (s *SQLiteStore) RecordRun(ctx context.Context, playbook string, report *engine.RunReport) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO runs (id, playbook, status, started_at, duration_ms)
		VALUES (?, ?, ?, ?, ?)
	`, report.RunID, playbook, string(report.Status), report.StartedAt.UTC(), report.Duration.Milliseconds())
	if err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}

	for i := range report.Groups {
		if err := insertGroup(ctx, tx, report.RunID, &report.Groups[i]); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit run: %w", err)
	}
	return nil
}

func insertGroup(ctx context.Context, tx *sql.Tx, runID string, gr *engine.GroupReport) error {
	facts, err := json.Marshal(gr.Facts)
	if err != nil {
		return fmt.Errorf("failed to marshal facts for group %s: %w", gr.Group, err)
	}

	var errMsg *string
	if gr.Error != "" {
		errMsg = &gr.Error
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO group_reports (run_id, group_name, status, failed_index, error_kind, error, facts, started_at, duration_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, runID, gr.Group, string(gr.Status), gr.FailedIndex, string(gr.ErrorKind), errMsg,
		string(facts), gr.StartedAt.UTC(), gr.Duration.Milliseconds())
	if err != nil {
		return fmt.Errorf("failed to insert group report for %s: %w", gr.Group, err)
	}

	for i := range gr.Tasks {
		if err := insertTask(ctx, tx, runID, gr.Group, &gr.Tasks[i]); err != nil {
			return err
		}
	}
	return nil
}

func insertTask(ctx context.Context, tx *sql.Tx, runID, group string, tr *engine.TaskReport) error {
	var (
		resultStatus *string
		changed      *bool
		exitCode     *int
		attempts     *int
		durationMS   *int64
	)
	if tr.Result != nil {
		status := string(tr.Result.Status)
		resultStatus = &status
		changed = &tr.Result.Changed
		exitCode = &tr.Result.ExitCode
		attempts = &tr.Result.Attempts
		ms := tr.Result.Duration.Milliseconds()
		durationMS = &ms
	}

	var errMsg *string
	if tr.Error != "" {
		errMsg = &tr.Error
	}

	_, err := tx.ExecContext(ctx, `
		INSERT INTO task_results (run_id, group_name, task_index, task_id, action, state, result_status, changed, exit_code, attempts, duration_ms, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, runID, group, tr.Index, tr.TaskID, tr.Action, string(tr.State),
		resultStatus, changed, exitCode, attempts, durationMS, errMsg)
	if err != nil {
		return fmt.Errorf("failed to insert task result %s/%s: %w", group, tr.TaskID, err)
	}
	return nil
}

// Publish appends an execution event to the log. It implements
// engine.EventSink, so a store can be passed directly to the engine.
func (s *SQLiteStore) Publish(ctx context.Context, ev engine.Event) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO events (run_id, group_name, task_id, type, level, message, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, ev.RunID, ev.Group, ev.TaskID, string(ev.Type), ev.Level, ev.Message, ev.Timestamp.UTC())
	if err != nil {
		return fmt.Errorf("failed to append event: %w", err)
	}
	return nil
}

// GetRun retrieves a run with its group and task rows.
func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*RunDetail, error) {
	run := RunRecord{}
	err := s.db.QueryRowContext(ctx, `
		SELECT id, playbook, status, started_at, duration_ms, created_at
		FROM runs
		WHERE id = ?
	`, id).Scan(&run.ID, &run.Playbook, &run.Status, &run.StartedAt, &run.Duration, &run.CreatedAt)

	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("run not found: %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}

	groups, err := s.groupsForRun(ctx, id)
	if err != nil {
		return nil, err
	}
	tasks, err := s.tasksForRun(ctx, id)
	if err != nil {
		return nil, err
	}

	return &RunDetail{Run: run, Groups: groups, Tasks: tasks}, nil
}

func (s *SQLiteStore) groupsForRun(ctx context.Context, runID string) ([]GroupRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, run_id, group_name, status, failed_index, error_kind, error, facts, started_at, duration_ms
		FROM group_reports
		WHERE run_id = ?
		ORDER BY group_name ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list group reports: %w", err)
	}
	defer rows.Close()

	groups := []GroupRecord{}
	for rows.Next() {
		g := GroupRecord{}
		err := rows.Scan(&g.ID, &g.RunID, &g.GroupName, &g.Status, &g.FailedIndex,
			&g.ErrorKind, &g.Error, &g.Facts, &g.StartedAt, &g.Duration)
		if err != nil {
			return nil, fmt.Errorf("failed to scan group report: %w", err)
		}
		groups = append(groups, g)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating group reports: %w", err)
	}
	return groups, nil
}

func (s *SQLiteStore) tasksForRun(ctx context.Context, runID string) ([]TaskRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, run_id, group_name, task_index, task_id, action, state, result_status, changed, exit_code, attempts, duration_ms, error
		FROM task_results
		WHERE run_id = ?
		ORDER BY group_name ASC, task_index ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list task results: %w", err)
	}
	defer rows.Close()

	tasks := []TaskRecord{}
	for rows.Next() {
		tr := TaskRecord{}
		err := rows.Scan(&tr.ID, &tr.RunID, &tr.GroupName, &tr.TaskIndex, &tr.TaskID,
			&tr.Action, &tr.State, &tr.ResultStatus, &tr.Changed, &tr.ExitCode,
			&tr.Attempts, &tr.Duration, &tr.Error)
		if err != nil {
			return nil, fmt.Errorf("failed to scan task result: %w", err)
		}
		tasks = append(tasks, tr)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating task results: %w", err)
	}
	return tasks, nil
}

// ListRuns lists run headers, newest first, with pagination.
func (s *SQLiteStore) ListRuns(ctx context.Context, limit, offset int) ([]*RunRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, playbook, status, started_at, duration_ms, created_at
		FROM runs
		ORDER BY started_at DESC
		LIMIT ? OFFSET ?
	`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	runs := []*RunRecord{}
	for rows.Next() {
		run := &RunRecord{}
		err := rows.Scan(&run.ID, &run.Playbook, &run.Status, &run.StartedAt, &run.Duration, &run.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating runs: %w", err)
	}
	return runs, nil
}

// EventsForRun retrieves a run's event stream in emission order.
func (s *SQLiteStore) EventsForRun(ctx context.Context, runID string, limit, offset int) ([]*EventRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, run_id, group_name, task_id, type, level, message, timestamp
		FROM events
		WHERE run_id = ?
		ORDER BY id ASC
		LIMIT ? OFFSET ?
	`, runID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to get events: %w", err)
	}
	defer rows.Close()

	events := []*EventRecord{}
	for rows.Next() {
		ev := &EventRecord{}
		err := rows.Scan(&ev.ID, &ev.RunID, &ev.GroupName, &ev.TaskID, &ev.Type, &ev.Level, &ev.Message, &ev.Timestamp)
		if err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating events: %w", err)
	}
	return events, nil
}

// DeleteRun deletes a run; group and task rows cascade. Events are kept by
// run_id only, so they are removed explicitly.
func (s *SQLiteStore) DeleteRun(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM runs WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete run: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("run not found: %s", id)
	}

	if _, err := s.db.ExecContext(ctx, `DELETE FROM events WHERE run_id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete run events: %w", err)
	}
	return nil
}

// HealthCheck verifies the database connection is healthy
func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}
	return s.db.PingContext(ctx)
}
