package policy

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
)

// Loader handles loading policies from files and directories.
type Loader struct {
	logger zerolog.Logger
}

// NewLoader creates a new policy loader.
func NewLoader(logger zerolog.Logger) *Loader {
	return &Loader{
		logger: logger.With().Str("component", "policy-loader").Logger(),
	}
}

// LoadFromPaths loads policies from a list of file or directory paths.
func (l *Loader) LoadFromPaths(ctx context.Context, paths []string) ([]Policy, error) {
	var allPolicies []Policy

	for _, path := range paths {
		policies, err := l.loadFromPath(ctx, path)
		if err != nil {
			return nil, fmt.Errorf("failed to load from path %s: %w", path, err)
		}
		allPolicies = append(allPolicies, policies...)
	}

	l.logger.Debug().
		Int("total", len(allPolicies)).
		Int("sources", len(paths)).
		Msg("policies loaded from paths")

	return allPolicies, nil
}

// loadFromPath loads policies from a single path (file or directory).
func (l *Loader) loadFromPath(ctx context.Context, path string) ([]Policy, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat path: %w", err)
	}

	if info.IsDir() {
		return l.loadFromDir(ctx, path)
	}
	return l.loadFromFile(path)
}

// loadFromDir loads every .rego and .json file directly under dir.
func (l *Loader) loadFromDir(ctx context.Context, dir string) ([]Policy, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read directory: %w", err)
	}

	var policies []Policy
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := filepath.Ext(entry.Name())
		if ext != ".rego" && ext != ".json" {
			continue
		}
		loaded, err := l.loadFromFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, err
		}
		policies = append(policies, loaded...)
	}
	return policies, nil
}

// loadFromFile loads a single .rego policy or a .json policy bundle.
func (l *Loader) loadFromFile(path string) ([]Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read policy file: %w", err)
	}

	switch filepath.Ext(path) {
	case ".rego":
		return []Policy{regoFilePolicy(path, string(data))}, nil
	case ".json":
		var policies []Policy
		if err := json.Unmarshal(data, &policies); err != nil {
			return nil, fmt.Errorf("failed to parse policy bundle %s: %w", path, err)
		}
		for i := range policies {
			if policies[i].Name == "" {
				return nil, fmt.Errorf("policy %d in bundle %s has no name", i, path)
			}
			if policies[i].Severity == "" {
				policies[i].Severity = SeverityError
			}
		}
		return policies, nil
	default:
		return nil, fmt.Errorf("unsupported policy file: %s", path)
	}
}

// regoFilePolicy wraps a bare .rego file in a Policy. The name comes from
// the filename; optional "# severity:" and "# description:" header comments
// override the defaults.
func regoFilePolicy(path, source string) Policy {
	p := Policy{
		Name:     strings.TrimSuffix(filepath.Base(path), ".rego"),
		Rego:     source,
		Severity: SeverityError,
		Enabled:  true,
	}

	for _, line := range strings.Split(source, "\n") {
		trimmed := strings.TrimSpace(line)
		if !strings.HasPrefix(trimmed, "#") {
			if trimmed != "" {
				break
			}
			continue
		}
		comment := strings.TrimSpace(strings.TrimPrefix(trimmed, "#"))
		switch {
		case strings.HasPrefix(comment, "severity:"):
			p.Severity = Severity(strings.TrimSpace(strings.TrimPrefix(comment, "severity:")))
		case strings.HasPrefix(comment, "description:"):
			p.Description = strings.TrimSpace(strings.TrimPrefix(comment, "description:"))
		}
	}

	return p
}
