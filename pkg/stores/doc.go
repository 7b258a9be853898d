// Package stores provides the run history persistence layer for Bosun.
// It includes SQLite-based storage with WAL mode and embedded migrations,
// recording runs, per-group reports, per-task results, and the execution
// event stream consumed by `bosun history`.
package stores
