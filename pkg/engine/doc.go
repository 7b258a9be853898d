// Package engine implements the core provisioning orchestration engine:
// the task model, the condition evaluator, the fixed-delay retry controller,
// and the per-group execution engine that drives ordered task lists across
// host groups with isolated fact stores.
//
// The engine never talks to external tools itself. Package installs, firewall
// rules, file pushes and the like are reached through the ActionInvoker
// boundary; the engine only sequences invocations and interprets Result
// shapes.
package engine
