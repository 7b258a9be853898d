package engine

import (
	"context"
	"fmt"
)

// ConditionKind identifies a condition node.
type ConditionKind string

const (
	// CondEquals compares a fact against a literal value.
	CondEquals ConditionKind = "equals"

	// CondNotEquals is the negated comparison.
	CondNotEquals ConditionKind = "not_equals"

	// CondContains tests membership: element of a list fact, key of a map
	// fact, or substring of a string fact.
	CondContains ConditionKind = "contains"

	// CondExists tests fact presence without failing on absence. This is the
	// one condition that may reference an unregistered fact.
	CondExists ConditionKind = "exists"

	// CondNot negates its single term.
	CondNot ConditionKind = "not"

	// CondAll is the conjunction of its terms.
	CondAll ConditionKind = "all"

	// CondAny is the disjunction of its terms.
	CondAny ConditionKind = "any"

	// CondExpr evaluates a scripted boolean expression over the fact
	// snapshot through the pluggable ExprEvaluator.
	CondExpr ConditionKind = "expr"
)

// Condition is a boolean expression over the fact store, constructed once at
// load time and evaluated lazily, exactly once, immediately before dispatch.
// Evaluation is pure: no side effects beyond computing the boolean.
type Condition struct {
	// Kind selects the node type.
	Kind ConditionKind

	// Fact is the dotted fact path for leaf kinds.
	Fact string

	// Value is the comparison operand for equals/not_equals/contains.
	Value Value

	// Expr is the script source for expr nodes.
	Expr string

	// Terms are the operands of not/all/any nodes.
	Terms []Condition
}

// Validate checks the condition tree is well formed. Run separately from
// evaluation so defects surface at load time.
func (c *Condition) Validate() error {
	switch c.Kind {
	case CondEquals, CondNotEquals, CondContains:
		if c.Fact == "" {
			return fmt.Errorf("%s condition requires a fact path", c.Kind)
		}
		if c.Value.IsNull() && c.Kind != CondEquals {
			return fmt.Errorf("%s condition requires an operand", c.Kind)
		}
	case CondExists:
		if c.Fact == "" {
			return fmt.Errorf("exists condition requires a fact path")
		}
	case CondNot:
		if len(c.Terms) != 1 {
			return fmt.Errorf("not condition requires exactly one term, got %d", len(c.Terms))
		}
	case CondAll, CondAny:
		if len(c.Terms) == 0 {
			return fmt.Errorf("%s condition requires at least one term", c.Kind)
		}
	case CondExpr:
		if c.Expr == "" {
			return fmt.Errorf("expr condition requires an expression")
		}
	default:
		return fmt.Errorf("unknown condition kind %q", c.Kind)
	}
	for i := range c.Terms {
		if err := c.Terms[i].Validate(); err != nil {
			return err
		}
	}
	return nil
}

// ExprEvaluator evaluates scripted boolean expressions against a fact
// snapshot. The playbook package supplies a Starlark implementation.
type ExprEvaluator interface {
	EvalBool(ctx context.Context, expr string, facts map[string]any) (bool, error)
}

// EvaluateCondition computes the condition against the fact store. A
// reference to an absent fact yields *UnresolvedFactError: the engine treats
// that as a fatal evaluation error for the owning group, never as false.
func EvaluateCondition(ctx context.Context, c *Condition, facts *FactStore, exprs ExprEvaluator) (bool, error) {
	if c == nil {
		return true, nil
	}
	switch c.Kind {
	case CondEquals, CondNotEquals:
		fv, ok := facts.Get(c.Fact)
		if !ok {
			return false, &UnresolvedFactError{Fact: c.Fact}
		}
		eq, err := fv.Equal(c.Value)
		if err != nil {
			return false, fmt.Errorf("condition on fact %q: %w", c.Fact, err)
		}
		if c.Kind == CondNotEquals {
			return !eq, nil
		}
		return eq, nil

	case CondContains:
		fv, ok := facts.Get(c.Fact)
		if !ok {
			return false, &UnresolvedFactError{Fact: c.Fact}
		}
		has, err := fv.Contains(c.Value)
		if err != nil {
			return false, fmt.Errorf("condition on fact %q: %w", c.Fact, err)
		}
		return has, nil

	case CondExists:
		_, ok := facts.Get(c.Fact)
		return ok, nil

	case CondNot:
		inner, err := EvaluateCondition(ctx, &c.Terms[0], facts, exprs)
		if err != nil {
			return false, err
		}
		return !inner, nil

	case CondAll:
		for i := range c.Terms {
			ok, err := EvaluateCondition(ctx, &c.Terms[i], facts, exprs)
			if err != nil {
				return false, err
			}
			if !ok {
				return false, nil
			}
		}
		return true, nil

	case CondAny:
		for i := range c.Terms {
			ok, err := EvaluateCondition(ctx, &c.Terms[i], facts, exprs)
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
		}
		return false, nil

	case CondExpr:
		if exprs == nil {
			return false, fmt.Errorf("expr condition used but no expression evaluator configured")
		}
		ok, err := exprs.EvalBool(ctx, c.Expr, facts.Snapshot())
		if err != nil {
			// Fail closed: an expression that cannot be evaluated must not
			// silently skip (or run) the task.
			return false, fmt.Errorf("expr condition %q: %w", c.Expr, err)
		}
		return ok, nil

	default:
		return false, fmt.Errorf("unknown condition kind %q", c.Kind)
	}
}

// Convenience constructors used by the playbook loader and tests.

// FactEquals builds an equality condition over a fact path.
func FactEquals(fact string, v Value) *Condition {
	return &Condition{Kind: CondEquals, Fact: fact, Value: v}
}

// FactExists builds a presence condition over a fact path.
func FactExists(fact string) *Condition {
	return &Condition{Kind: CondExists, Fact: fact}
}

// AllOf builds the conjunction of the given conditions.
func AllOf(terms ...Condition) *Condition {
	return &Condition{Kind: CondAll, Terms: terms}
}

// AnyOf builds the disjunction of the given conditions.
func AnyOf(terms ...Condition) *Condition {
	return &Condition{Kind: CondAny, Terms: terms}
}

// Expr builds a scripted expression condition.
func Expr(src string) *Condition {
	return &Condition{Kind: CondExpr, Expr: src}
}
