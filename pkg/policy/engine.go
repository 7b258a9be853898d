package policy

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/open-policy-agent/opa/rego"
	"github.com/rs/zerolog"

	"github.com/bosunhq/bosun/pkg/playbook"
)

// Engine evaluates playbooks against loaded policies.
type Engine struct {
	mu       sync.RWMutex
	policies map[string]*Policy
	logger   zerolog.Logger
}

// NewEngine creates a policy engine preloaded with the built-in policies.
func NewEngine(logger zerolog.Logger) *Engine {
	e := &Engine{
		policies: make(map[string]*Policy),
		logger:   logger.With().Str("component", "policy-engine").Logger(),
	}
	for _, p := range GetBuiltinPolicies() {
		p := p
		e.policies[p.Name] = &p
	}
	return e
}

// LoadPolicies loads additional policies from .rego files or directories.
// A loaded policy with a built-in's name replaces the built-in.
func (e *Engine) LoadPolicies(ctx context.Context, paths []string) error {
	loader := NewLoader(e.logger)
	policies, err := loader.LoadFromPaths(ctx, paths)
	if err != nil {
		return fmt.Errorf("failed to load policies: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	for i := range policies {
		e.policies[policies[i].Name] = &policies[i]
	}

	e.logger.Info().Int("count", len(policies)).Msg("policies loaded")
	return nil
}

// EvaluatePlaybook runs every enabled policy against the playbook. A policy
// that fails to evaluate produces a warning, not a violation; the run is
// blocked only by violations of severity error or critical.
func (e *Engine) EvaluatePlaybook(ctx context.Context, pb *playbook.Playbook, pctx Context) (*Result, error) {
	input, err := buildInput(pb, pctx)
	if err != nil {
		return nil, err
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	result := &Result{
		Allowed:     true,
		EvaluatedAt: time.Now(),
	}

	for _, p := range e.policies {
		if !p.Enabled {
			continue
		}

		violations, err := e.evaluatePolicy(ctx, p, input)
		if err != nil {
			e.logger.Error().Err(err).Str("policy", p.Name).Msg("policy evaluation failed")
			result.Warnings = append(result.Warnings, fmt.Sprintf("policy %s evaluation failed: %v", p.Name, err))
			continue
		}
		result.Violations = append(result.Violations, violations...)
	}

	for i := range result.Violations {
		if result.Violations[i].Severity.Blocking() {
			result.Allowed = false
			break
		}
	}

	return result, nil
}

// buildInput converts the playbook to plain maps so policies see the same
// shape regardless of source format.
func buildInput(pb *playbook.Playbook, pctx Context) (map[string]any, error) {
	raw, err := json.Marshal(pb)
	if err != nil {
		return nil, fmt.Errorf("failed to encode playbook for policy input: %w", err)
	}
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode playbook for policy input: %w", err)
	}

	if pctx.Timestamp.IsZero() {
		pctx.Timestamp = time.Now()
	}

	return map[string]any{
		"playbook": doc,
		"context": map[string]any{
			"environment": pctx.Environment,
			"operation":   pctx.Operation,
			"timestamp":   pctx.Timestamp.Format(time.RFC3339),
		},
	}, nil
}

// evaluatePolicy queries the policy's deny set against the input.
func (e *Engine) evaluatePolicy(ctx context.Context, p *Policy, input map[string]any) ([]Violation, error) {
	query := fmt.Sprintf("data.%s.deny", extractPackageName(p.Rego))

	r := rego.New(
		rego.Module(p.Name, p.Rego),
		rego.Query(query),
		rego.Input(input),
	)

	results, err := r.Eval(ctx)
	if err != nil {
		return nil, fmt.Errorf("policy evaluation error: %w", err)
	}

	var violations []Violation
	for _, result := range results {
		for _, expr := range result.Expressions {
			denySet, ok := expr.Value.([]interface{})
			if !ok {
				continue
			}
			for _, d := range denySet {
				violations = append(violations, makeViolation(p, d))
			}
		}
	}
	return violations, nil
}

// extractPackageName extracts the package name from Rego code.
func extractPackageName(source string) string {
	for _, line := range strings.Split(source, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "package ") {
			parts := strings.Fields(trimmed)
			if len(parts) >= 2 {
				return parts[1]
			}
		}
	}
	return "bosun.policies"
}

// makeViolation converts a deny set entry into a Violation. Entries are
// either plain strings or objects with message/severity/group/task keys.
func makeViolation(p *Policy, result interface{}) Violation {
	v := Violation{
		Policy:   p.Name,
		Severity: p.Severity,
	}

	switch d := result.(type) {
	case string:
		v.Message = d
	case map[string]interface{}:
		if msg, ok := d["message"].(string); ok {
			v.Message = msg
		}
		if sev, ok := d["severity"].(string); ok {
			v.Severity = Severity(sev)
		}
		if group, ok := d["group"].(string); ok {
			v.Group = group
		}
		if task, ok := d["task"].(string); ok {
			v.Task = task
		}
	default:
		v.Message = fmt.Sprintf("%v", result)
	}

	return v
}

// GetPolicy returns a policy by name.
func (e *Engine) GetPolicy(name string) (*Policy, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	p, exists := e.policies[name]
	if !exists {
		return nil, fmt.Errorf("policy not found: %s", name)
	}
	return p, nil
}

// ListPolicies returns all loaded policies.
func (e *Engine) ListPolicies() []Policy {
	e.mu.RLock()
	defer e.mu.RUnlock()

	policies := make([]Policy, 0, len(e.policies))
	for _, p := range e.policies {
		policies = append(policies, *p)
	}
	return policies
}

// SetEnabled enables or disables a policy by name.
func (e *Engine) SetEnabled(name string, enabled bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	p, exists := e.policies[name]
	if !exists {
		return fmt.Errorf("policy not found: %s", name)
	}
	p.Enabled = enabled
	return nil
}
