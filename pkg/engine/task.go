package engine

import "fmt"

// OnError selects what a failed result does to the rest of the group.
type OnError string

const (
	// OnErrorFail halts the remainder of the group's task list. Default.
	OnErrorFail OnError = "fail"

	// OnErrorIgnore records the failure and proceeds to the next task.
	OnErrorIgnore OnError = "ignore"
)

// Validate checks the on-error mode is one of the defined values.
func (o OnError) Validate() error {
	switch o {
	case OnErrorFail, OnErrorIgnore, "":
		return nil
	default:
		return fmt.Errorf("invalid on_error mode: %s", o)
	}
}

// Task is one guarded, retryable provisioning step. Tasks are immutable once
// loaded; identity is the position in the ordered task list plus the host
// group scope. Sequencing is entirely the execution engine's concern.
type Task struct {
	// ID identifies the task within its list. Assigned at load when empty.
	ID string

	// Name is the human-readable description shown in logs and reports.
	Name string

	// Action is the action reference dispatched through the invoker
	// boundary, e.g. "pkg.ensure" or "command.run".
	Action string

	// Params are the action parameters. Ref values resolve against the
	// group's fact store immediately before dispatch.
	Params map[string]Value

	// Guard gates dispatch. A nil guard is trivially true.
	Guard *Condition

	// Retry bounds re-invocation on failure. Nil means a single attempt.
	Retry *RetryPolicy

	// RegisterAs names the fact the result is stored under, overwriting any
	// prior value with the same name. Empty means the result is discarded.
	RegisterAs string

	// OnError selects fail or ignore semantics for a failed result.
	OnError OnError
}

// ActionCatalog answers whether an action reference is known. The invoker
// registry implements it; the loader consults it so unknown actions fail at
// load time instead of mid-run.
type ActionCatalog interface {
	Known(actionRef string) bool
}

// LoadTasks validates an ordered task list and returns the frozen sequence
// executed by the engine. It fails with *MalformedTaskError on the first
// unknown action reference, non-positive retry bound, or invalid guard.
func LoadTasks(defs []Task, catalog ActionCatalog) ([]Task, error) {
	tasks := make([]Task, len(defs))
	for i, def := range defs {
		if def.ID == "" {
			def.ID = fmt.Sprintf("task-%d", i)
		}
		if def.Action == "" {
			return nil, &MalformedTaskError{Index: i, TaskID: def.ID, Reason: "missing action reference"}
		}
		if catalog != nil && !catalog.Known(def.Action) {
			return nil, &MalformedTaskError{
				Index:  i,
				TaskID: def.ID,
				Reason: fmt.Sprintf("unknown action %q", def.Action),
			}
		}
		if def.Retry != nil {
			if err := def.Retry.Validate(); err != nil {
				return nil, &MalformedTaskError{Index: i, TaskID: def.ID, Reason: err.Error()}
			}
		}
		if def.Guard != nil {
			if err := def.Guard.Validate(); err != nil {
				return nil, &MalformedTaskError{
					Index:  i,
					TaskID: def.ID,
					Reason: fmt.Sprintf("invalid guard: %v", err),
				}
			}
		}
		if err := def.OnError.Validate(); err != nil {
			return nil, &MalformedTaskError{Index: i, TaskID: def.ID, Reason: err.Error()}
		}
		if def.OnError == "" {
			def.OnError = OnErrorFail
		}
		if def.Params == nil {
			def.Params = map[string]Value{}
		}
		tasks[i] = def
	}
	return tasks, nil
}

// resolveParams materializes Ref parameters against the fact store. A
// reference to an absent fact fails closed with *UnresolvedFactError.
func resolveParams(task *Task, facts *FactStore) (map[string]Value, error) {
	resolved := make(map[string]Value, len(task.Params))
	for name, v := range task.Params {
		rv, err := resolveValue(v, facts, task.ID)
		if err != nil {
			return nil, fmt.Errorf("param %q: %w", name, err)
		}
		resolved[name] = rv
	}
	return resolved, nil
}

func resolveValue(v Value, facts *FactStore, taskID string) (Value, error) {
	switch v.Kind() {
	case KindRef:
		fv, ok := facts.Get(v.RefPath())
		if !ok {
			return Value{}, &UnresolvedFactError{Fact: v.RefPath(), TaskID: taskID}
		}
		return fv, nil
	case KindList:
		items, _ := v.AsList()
		out := make([]Value, len(items))
		for i, item := range items {
			rv, err := resolveValue(item, facts, taskID)
			if err != nil {
				return Value{}, err
			}
			out[i] = rv
		}
		return List(out...), nil
	case KindMap:
		m, _ := v.AsMap()
		out := make(map[string]Value, len(m))
		for k, item := range m {
			rv, err := resolveValue(item, facts, taskID)
			if err != nil {
				return Value{}, err
			}
			out[k] = rv
		}
		return Map(out), nil
	default:
		return v, nil
	}
}
