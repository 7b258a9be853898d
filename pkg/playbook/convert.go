package playbook

import (
	"fmt"
	"strings"

	"github.com/bosunhq/bosun/pkg/engine"
)

// refPrefix marks string parameter values that resolve against the fact
// store at dispatch time.
const refPrefix = "ref:"

// EngineTasks converts a play's task configs into the engine Task model and
// runs them through LoadTasks, so malformed definitions surface here with
// index and reason.
func (p *Play) EngineTasks(catalog engine.ActionCatalog) ([]engine.Task, error) {
	defs := make([]engine.Task, len(p.Tasks))
	for i, tc := range p.Tasks {
		params, err := convertParams(tc.Params)
		if err != nil {
			return nil, &engine.MalformedTaskError{Index: i, Reason: err.Error()}
		}

		var guard *engine.Condition
		if tc.When != nil {
			guard, err = tc.When.engineCondition()
			if err != nil {
				return nil, &engine.MalformedTaskError{Index: i, Reason: err.Error()}
			}
		}

		var retry *engine.RetryPolicy
		if tc.Retry != nil {
			retry, err = tc.Retry.enginePolicy()
			if err != nil {
				return nil, &engine.MalformedTaskError{Index: i, Reason: err.Error()}
			}
		}

		defs[i] = engine.Task{
			Name:       tc.Name,
			Action:     tc.Action,
			Params:     params,
			Guard:      guard,
			Retry:      retry,
			RegisterAs: tc.Register,
			OnError:    engine.OnError(tc.OnError),
		}
	}
	return engine.LoadTasks(defs, catalog)
}

// convertParams maps raw decoded parameters to engine values, turning
// "ref:" strings into fact references at any nesting depth.
func convertParams(raw map[string]any) (map[string]engine.Value, error) {
	params := make(map[string]engine.Value, len(raw))
	for name, rv := range raw {
		v, err := convertValue(rv)
		if err != nil {
			return nil, fmt.Errorf("param %q: %w", name, err)
		}
		params[name] = v
	}
	return params, nil
}

func convertValue(raw any) (engine.Value, error) {
	switch t := raw.(type) {
	case string:
		if strings.HasPrefix(t, refPrefix) {
			path := strings.TrimPrefix(t, refPrefix)
			if path == "" {
				return engine.Value{}, fmt.Errorf("empty fact reference")
			}
			return engine.Ref(path), nil
		}
		return engine.String(t), nil
	case []any:
		items := make([]engine.Value, len(t))
		for i, item := range t {
			v, err := convertValue(item)
			if err != nil {
				return engine.Value{}, err
			}
			items[i] = v
		}
		return engine.List(items...), nil
	case map[string]any:
		m := make(map[string]engine.Value, len(t))
		for k, item := range t {
			v, err := convertValue(item)
			if err != nil {
				return engine.Value{}, err
			}
			m[k] = v
		}
		return engine.Map(m), nil
	default:
		return engine.FromGo(raw)
	}
}

// engineCondition maps the on-disk condition to the engine AST.
func (c *ConditionConfig) engineCondition() (*engine.Condition, error) {
	set := 0
	var out *engine.Condition
	var err error

	if c.Equals != nil {
		set++
		out, err = leafCondition(engine.CondEquals, c.Fact, c.Equals)
	}
	if c.NotEquals != nil {
		set++
		out, err = leafCondition(engine.CondNotEquals, c.Fact, c.NotEquals)
	}
	if c.Contains != nil {
		set++
		out, err = leafCondition(engine.CondContains, c.Fact, c.Contains)
	}
	if c.Exists != "" {
		set++
		out = engine.FactExists(c.Exists)
	}
	if c.Expr != "" {
		set++
		out = engine.Expr(c.Expr)
	}
	if c.Not != nil {
		set++
		inner, nerr := c.Not.engineCondition()
		if nerr != nil {
			return nil, nerr
		}
		out = &engine.Condition{Kind: engine.CondNot, Terms: []engine.Condition{*inner}}
	}
	if len(c.All) > 0 {
		set++
		terms, terr := convertTerms(c.All)
		if terr != nil {
			return nil, terr
		}
		out = &engine.Condition{Kind: engine.CondAll, Terms: terms}
	}
	if len(c.Any) > 0 {
		set++
		terms, terr := convertTerms(c.Any)
		if terr != nil {
			return nil, terr
		}
		out = &engine.Condition{Kind: engine.CondAny, Terms: terms}
	}

	if err != nil {
		return nil, err
	}
	if set != 1 {
		return nil, fmt.Errorf("condition must set exactly one of equals/not_equals/contains/exists/expr/not/all/any, got %d", set)
	}
	return out, nil
}

func leafCondition(kind engine.ConditionKind, fact string, operand any) (*engine.Condition, error) {
	if fact == "" {
		return nil, fmt.Errorf("%s condition requires a fact path", kind)
	}
	v, err := engine.FromGo(operand)
	if err != nil {
		return nil, fmt.Errorf("%s condition operand: %w", kind, err)
	}
	return &engine.Condition{Kind: kind, Fact: fact, Value: v}, nil
}

func convertTerms(configs []ConditionConfig) ([]engine.Condition, error) {
	terms := make([]engine.Condition, len(configs))
	for i := range configs {
		c, err := configs[i].engineCondition()
		if err != nil {
			return nil, err
		}
		terms[i] = *c
	}
	return terms, nil
}

// enginePolicy maps the on-disk retry config to the engine policy.
func (r *RetryConfig) enginePolicy() (*engine.RetryPolicy, error) {
	delay, err := r.parseDelay()
	if err != nil {
		return nil, err
	}
	policy := &engine.RetryPolicy{
		MaxAttempts: r.MaxAttempts,
		Delay:       delay,
	}
	if r.Until != nil {
		policy.Until = engine.SuccessRule{MaxExitCode: r.Until.MaxExitCode}
	}
	return policy, nil
}
