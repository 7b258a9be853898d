// Package telemetry provides observability instrumentation for Bosun.
//
// It integrates structured logging (zerolog), distributed tracing
// (OpenTelemetry), and Prometheus metrics, and carries the event sink
// plumbing that fans the engine's execution events out to logs, the run
// history store, and any other subscriber.
package telemetry
