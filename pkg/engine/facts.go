package engine

import (
	"sort"
	"strings"
)

// FactStore is the per-run, per-group key/value memory of registered results.
// Entries are created when a task registers a result and are visible to all
// subsequent tasks in the same group; a later task registering the same name
// overwrites the earlier value. Fact stores never outlive a run and are never
// shared across groups, so the store needs no locking: exactly one group
// runner owns it.
type FactStore struct {
	values map[string]Value
}

// NewFactStore creates a fact store seeded with run-start facts (topology
// selectors, extra vars, connection facts).
func NewFactStore(seed map[string]Value) *FactStore {
	values := make(map[string]Value, len(seed))
	for k, v := range seed {
		values[k] = v
	}
	return &FactStore{values: values}
}

// Get resolves a dotted fact path. The first segment names a registered
// fact; remaining segments descend into map values, so "install.exit_code"
// reaches into a registered result.
func (s *FactStore) Get(path string) (Value, bool) {
	if path == "" {
		return Value{}, false
	}
	segments := strings.Split(path, ".")
	v, ok := s.values[segments[0]]
	if !ok {
		return Value{}, false
	}
	for _, seg := range segments[1:] {
		v, ok = v.Field(seg)
		if !ok {
			return Value{}, false
		}
	}
	return v, true
}

// Set registers a fact, overwriting any prior value under the same name.
// Readers that already evaluated are unaffected; there is no retroactive
// mutation of values handed out earlier.
func (s *FactStore) Set(name string, v Value) {
	s.values[name] = v
}

// Len reports the number of registered facts.
func (s *FactStore) Len() int {
	return len(s.values)
}

// Names returns the registered fact names in sorted order.
func (s *FactStore) Names() []string {
	names := make([]string, 0, len(s.values))
	for name := range s.values {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Snapshot returns the store as plain Go values. The snapshot is detached:
// mutating it never affects the store, and later Sets never affect earlier
// snapshots.
func (s *FactStore) Snapshot() map[string]any {
	out := make(map[string]any, len(s.values))
	for name, v := range s.values {
		out[name] = v.ToGo()
	}
	return out
}
