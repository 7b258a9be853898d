package engine

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// ValueKind identifies the variant held by a Value.
type ValueKind string

const (
	// KindString holds a text value.
	KindString ValueKind = "string"

	// KindNumber holds a numeric value (stored as float64).
	KindNumber ValueKind = "number"

	// KindBool holds a boolean value.
	KindBool ValueKind = "bool"

	// KindList holds an ordered sequence of values.
	KindList ValueKind = "list"

	// KindMap holds a string-keyed mapping of values.
	KindMap ValueKind = "map"

	// KindRef holds a reference to a fact path, resolved at dispatch time.
	KindRef ValueKind = "ref"

	// KindNull holds no value.
	KindNull ValueKind = "null"
)

// Value is the tagged variant used for task parameters, fact store entries
// and condition operands. Parameters and conditions never carry raw
// interface{} data; every coercion is explicit and a kind mismatch is an
// error, never a silent false.
type Value struct {
	kind ValueKind
	str  string
	num  float64
	b    bool
	list []Value
	m    map[string]Value
}

// Null returns the null value.
func Null() Value {
	return Value{kind: KindNull}
}

// String returns a string value.
func String(s string) Value {
	return Value{kind: KindString, str: s}
}

// Number returns a numeric value.
func Number(n float64) Value {
	return Value{kind: KindNumber, num: n}
}

// Bool returns a boolean value.
func Bool(b bool) Value {
	return Value{kind: KindBool, b: b}
}

// List returns a list value.
func List(items ...Value) Value {
	return Value{kind: KindList, list: items}
}

// Map returns a map value. The input map is not copied; callers must not
// mutate it afterwards.
func Map(m map[string]Value) Value {
	return Value{kind: KindMap, m: m}
}

// Ref returns a fact reference. The path is a dotted fact path such as
// "install_result.exit_code"; it is resolved against the group's fact store
// immediately before dispatch and fails closed when absent.
func Ref(path string) Value {
	return Value{kind: KindRef, str: path}
}

// Kind reports the variant held by the value.
func (v Value) Kind() ValueKind {
	return v.kind
}

// IsNull reports whether the value is null.
func (v Value) IsNull() bool {
	return v.kind == KindNull || v.kind == ""
}

// RefPath returns the fact path of a reference value.
func (v Value) RefPath() string {
	if v.kind != KindRef {
		return ""
	}
	return v.str
}

// AsString returns the string content, failing on any other kind.
func (v Value) AsString() (string, error) {
	if v.kind != KindString {
		return "", fmt.Errorf("value is %s, not string", v.kind)
	}
	return v.str, nil
}

// AsNumber returns the numeric content, failing on any other kind.
func (v Value) AsNumber() (float64, error) {
	if v.kind != KindNumber {
		return 0, fmt.Errorf("value is %s, not number", v.kind)
	}
	return v.num, nil
}

// AsBool returns the boolean content, failing on any other kind. Strings,
// numbers and lists are never implicitly truthy.
func (v Value) AsBool() (bool, error) {
	if v.kind != KindBool {
		return false, fmt.Errorf("value is %s, not bool", v.kind)
	}
	return v.b, nil
}

// AsList returns the list content, failing on any other kind.
func (v Value) AsList() ([]Value, error) {
	if v.kind != KindList {
		return nil, fmt.Errorf("value is %s, not list", v.kind)
	}
	return v.list, nil
}

// AsMap returns the map content, failing on any other kind.
func (v Value) AsMap() (map[string]Value, error) {
	if v.kind != KindMap {
		return nil, fmt.Errorf("value is %s, not map", v.kind)
	}
	return v.m, nil
}

// Field returns the named entry of a map value.
func (v Value) Field(name string) (Value, bool) {
	if v.kind != KindMap {
		return Value{}, false
	}
	fv, ok := v.m[name]
	return fv, ok
}

// Equal compares two values of the same kind. Comparing values of different
// kinds is an error: the caller meant something else, and defaulting to false
// would silently skip work.
func (v Value) Equal(other Value) (bool, error) {
	if v.kind != other.kind {
		return false, fmt.Errorf("cannot compare %s with %s", v.kind, other.kind)
	}
	switch v.kind {
	case KindString:
		return v.str == other.str, nil
	case KindNumber:
		return v.num == other.num, nil
	case KindBool:
		return v.b == other.b, nil
	case KindNull:
		return true, nil
	case KindList:
		if len(v.list) != len(other.list) {
			return false, nil
		}
		for i := range v.list {
			eq, err := v.list[i].Equal(other.list[i])
			if err != nil || !eq {
				return false, err
			}
		}
		return true, nil
	case KindMap:
		if len(v.m) != len(other.m) {
			return false, nil
		}
		for k, mv := range v.m {
			ov, ok := other.m[k]
			if !ok {
				return false, nil
			}
			eq, err := mv.Equal(ov)
			if err != nil || !eq {
				return false, err
			}
		}
		return true, nil
	default:
		return false, fmt.Errorf("cannot compare values of kind %s", v.kind)
	}
}

// Contains reports membership: element of a list, key of a map, or substring
// of a string. Any other combination is an error.
func (v Value) Contains(member Value) (bool, error) {
	switch v.kind {
	case KindList:
		for _, item := range v.list {
			eq, err := item.Equal(member)
			if err != nil {
				continue // heterogeneous lists: non-comparable entries don't match
			}
			if eq {
				return true, nil
			}
		}
		return false, nil
	case KindMap:
		key, err := member.AsString()
		if err != nil {
			return false, fmt.Errorf("map membership needs a string key: %w", err)
		}
		_, ok := v.m[key]
		return ok, nil
	case KindString:
		sub, err := member.AsString()
		if err != nil {
			return false, fmt.Errorf("string membership needs a string operand: %w", err)
		}
		return strings.Contains(v.str, sub), nil
	default:
		return false, fmt.Errorf("kind %s does not support membership", v.kind)
	}
}

// FromGo converts a plain Go value (as produced by JSON/YAML/CUE decoding)
// into a Value. Unsupported types fail rather than degrade.
func FromGo(raw any) (Value, error) {
	switch t := raw.(type) {
	case nil:
		return Null(), nil
	case string:
		return String(t), nil
	case bool:
		return Bool(t), nil
	case float64:
		return Number(t), nil
	case float32:
		return Number(float64(t)), nil
	case int:
		return Number(float64(t)), nil
	case int64:
		return Number(float64(t)), nil
	case uint64:
		return Number(float64(t)), nil
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return Value{}, fmt.Errorf("invalid number %q: %w", t.String(), err)
		}
		return Number(f), nil
	case []any:
		items := make([]Value, 0, len(t))
		for i, item := range t {
			v, err := FromGo(item)
			if err != nil {
				return Value{}, fmt.Errorf("list index %d: %w", i, err)
			}
			items = append(items, v)
		}
		return List(items...), nil
	case map[string]any:
		m := make(map[string]Value, len(t))
		for k, item := range t {
			v, err := FromGo(item)
			if err != nil {
				return Value{}, fmt.Errorf("key %q: %w", k, err)
			}
			m[k] = v
		}
		return Map(m), nil
	default:
		return Value{}, fmt.Errorf("unsupported parameter type %T", raw)
	}
}

// ToGo converts a Value back to a plain Go value for diagnostics, expression
// evaluation and JSON serialization. References convert to their path string
// prefixed with "ref:"; resolved values should be converted instead.
func (v Value) ToGo() any {
	switch v.kind {
	case KindString:
		return v.str
	case KindNumber:
		return v.num
	case KindBool:
		return v.b
	case KindList:
		out := make([]any, len(v.list))
		for i, item := range v.list {
			out[i] = item.ToGo()
		}
		return out
	case KindMap:
		out := make(map[string]any, len(v.m))
		for k, item := range v.m {
			out[k] = item.ToGo()
		}
		return out
	case KindRef:
		return "ref:" + v.str
	default:
		return nil
	}
}

// GoString renders the value compactly for logs and error messages.
func (v Value) GoString() string {
	switch v.kind {
	case KindString:
		return fmt.Sprintf("%q", v.str)
	case KindNumber:
		return fmt.Sprintf("%g", v.num)
	case KindBool:
		return fmt.Sprintf("%t", v.b)
	case KindRef:
		return "ref:" + v.str
	case KindList:
		parts := make([]string, len(v.list))
		for i, item := range v.list {
			parts[i] = item.GoString()
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case KindMap:
		keys := make([]string, 0, len(v.m))
		for k := range v.m {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, len(keys))
		for i, k := range keys {
			parts[i] = k + ": " + v.m[k].GoString()
		}
		return "{" + strings.Join(parts, ", ") + "}"
	default:
		return "null"
	}
}

// MarshalJSON serializes the value as its plain Go representation.
func (v Value) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.ToGo())
}
