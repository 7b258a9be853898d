package invoker

import (
	"fmt"
	"strconv"

	"github.com/bosunhq/bosun/pkg/engine"
)

// Params wraps the resolved task parameters with typed access. Every getter
// rejects a kind mismatch; actions never coerce silently.
type Params map[string]engine.Value

// String returns a required string parameter.
func (p Params) String(key string) (string, error) {
	v, ok := p[key]
	if !ok {
		return "", fmt.Errorf("missing required parameter %q", key)
	}
	s, err := v.AsString()
	if err != nil {
		return "", fmt.Errorf("parameter %q: %w", key, err)
	}
	return s, nil
}

// StringOr returns an optional string parameter with a default.
func (p Params) StringOr(key, def string) (string, error) {
	v, ok := p[key]
	if !ok || v.IsNull() {
		return def, nil
	}
	s, err := v.AsString()
	if err != nil {
		return "", fmt.Errorf("parameter %q: %w", key, err)
	}
	return s, nil
}

// BoolOr returns an optional boolean parameter with a default.
func (p Params) BoolOr(key string, def bool) (bool, error) {
	v, ok := p[key]
	if !ok || v.IsNull() {
		return def, nil
	}
	b, err := v.AsBool()
	if err != nil {
		return false, fmt.Errorf("parameter %q: %w", key, err)
	}
	return b, nil
}

// MapOr returns an optional map parameter; absent means empty.
func (p Params) MapOr(key string) (map[string]engine.Value, error) {
	v, ok := p[key]
	if !ok || v.IsNull() {
		return map[string]engine.Value{}, nil
	}
	m, err := v.AsMap()
	if err != nil {
		return nil, fmt.Errorf("parameter %q: %w", key, err)
	}
	return m, nil
}

// FileMode returns an optional octal mode parameter ("0644") with a default.
func (p Params) FileMode(key string, def uint32) (uint32, error) {
	v, ok := p[key]
	if !ok || v.IsNull() {
		return def, nil
	}
	switch v.Kind() {
	case engine.KindString:
		s, _ := v.AsString()
		mode, err := strconv.ParseUint(s, 8, 32)
		if err != nil {
			return 0, fmt.Errorf("parameter %q: invalid octal mode %q", key, s)
		}
		return uint32(mode), nil
	case engine.KindNumber:
		n, _ := v.AsNumber()
		// Numeric modes in playbooks read as decimal-looking octal (644).
		mode, err := strconv.ParseUint(strconv.Itoa(int(n)), 8, 32)
		if err != nil {
			return 0, fmt.Errorf("parameter %q: invalid mode %v", key, n)
		}
		return uint32(mode), nil
	default:
		return 0, fmt.Errorf("parameter %q: mode must be a string or number, got %s", key, v.Kind())
	}
}
