// Package invoker maps action references to concrete implementations carried
// over the SSH transport. It is the outward-facing side of the engine's
// ActionInvoker boundary.
package invoker

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/bosunhq/bosun/pkg/engine"
	"github.com/bosunhq/bosun/pkg/transports/ssh"
)

// Action is one named operation executable against a remote endpoint.
type Action interface {
	// Name is the action reference tasks dispatch on, e.g. "pkg.ensure".
	Name() string

	// Run performs the action against one endpoint. A returned error means
	// the action could not be carried out (transport failure, bad params);
	// an unfavorable outcome that the action observed is a Result with
	// StatusFailure instead.
	Run(ctx context.Context, remote ssh.Remote, params Params) (*engine.Result, error)
}

// Registry holds the known actions. It implements engine.ActionCatalog so
// the task loader can reject unknown references before anything runs.
type Registry struct {
	mu      sync.RWMutex
	actions map[string]Action
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{actions: make(map[string]Action)}
}

// NewDefaultRegistry creates a registry with all built-in actions.
func NewDefaultRegistry() *Registry {
	r := NewRegistry()
	for _, a := range []Action{
		&commandRun{},
		&pkgEnsure{},
		&filePush{},
		&fileTemplate{},
		&fileFetch{},
		&artifactFetch{},
		&serviceEnsure{},
		&firewallRule{},
		&vmLifecycle{},
	} {
		r.Register(a)
	}
	return r
}

// Register adds an action, replacing any prior action with the same name.
func (r *Registry) Register(a Action) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.actions[a.Name()] = a
}

// Known reports whether an action reference is registered.
func (r *Registry) Known(actionRef string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.actions[actionRef]
	return ok
}

// Get returns the named action.
func (r *Registry) Get(actionRef string) (Action, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.actions[actionRef]
	if !ok {
		return nil, fmt.Errorf("unknown action %q", actionRef)
	}
	return a, nil
}

// Names returns the registered action references, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.actions))
	for name := range r.actions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// shQuote single-quotes a string for safe interpolation into a remote shell
// command line.
func shQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// successResult builds a success result with optional payload fields.
func successResult(changed bool, raw string, payload map[string]engine.Value) *engine.Result {
	res := &engine.Result{
		Status:    engine.StatusSuccess,
		Changed:   changed,
		RawOutput: raw,
	}
	if len(payload) > 0 {
		res.Payload = engine.Map(payload)
	}
	return res
}

// failureResult builds a failure result carrying diagnostics.
func failureResult(exitCode int, raw string, payload map[string]engine.Value) *engine.Result {
	res := &engine.Result{
		Status:    engine.StatusFailure,
		ExitCode:  exitCode,
		RawOutput: raw,
	}
	if len(payload) > 0 {
		res.Payload = engine.Map(payload)
	}
	return res
}

// combinedOutput joins stdout and stderr for RawOutput diagnostics.
func combinedOutput(res *ssh.ExecResult) string {
	switch {
	case res.Stdout != "" && res.Stderr != "":
		return res.Stdout + "\n" + res.Stderr
	case res.Stderr != "":
		return res.Stderr
	default:
		return res.Stdout
	}
}
