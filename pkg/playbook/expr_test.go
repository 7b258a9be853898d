package playbook

import (
	"context"
	"testing"
	"time"
)

func TestEvalBool(t *testing.T) {
	se := NewStarlarkEvaluator(0)
	facts := map[string]any{
		"deploy_type": "compact",
		"etcd_size":   3.0,
		"roles":       []any{"control", "worker"},
		"install": map[string]any{
			"status":    "success",
			"exit_code": 0.0,
		},
	}

	cases := []struct {
		expr string
		want bool
	}{
		{`facts["deploy_type"] == "compact"`, true},
		{`facts["deploy_type"] == "standard"`, false},
		{`facts["etcd_size"] >= 3`, true},
		{`"control" in facts["roles"]`, true},
		{`facts["install"]["status"] == "success" and facts["install"]["exit_code"] == 0`, true},
		{`"skip" in facts`, false},
	}
	for _, tc := range cases {
		got, err := se.EvalBool(context.Background(), tc.expr, facts)
		if err != nil {
			t.Errorf("%s: %v", tc.expr, err)
			continue
		}
		if got != tc.want {
			t.Errorf("%s = %t, want %t", tc.expr, got, tc.want)
		}
	}
}

func TestEvalBoolRejectsNonBool(t *testing.T) {
	se := NewStarlarkEvaluator(0)
	if _, err := se.EvalBool(context.Background(), `facts["deploy_type"]`,
		map[string]any{"deploy_type": "compact"}); err == nil {
		t.Error("string result should be rejected, truthiness is not implicit")
	}
}

func TestEvalBoolUndefinedNameFails(t *testing.T) {
	se := NewStarlarkEvaluator(0)
	if _, err := se.EvalBool(context.Background(), `nonsense == 1`, nil); err == nil {
		t.Error("undefined name should fail, not evaluate to false")
	}
}

func TestEvalBoolSyntaxErrorFails(t *testing.T) {
	se := NewStarlarkEvaluator(0)
	if _, err := se.EvalBool(context.Background(), `==`, nil); err == nil {
		t.Error("syntax error should fail")
	}
}

func TestEvalBoolTimeout(t *testing.T) {
	se := NewStarlarkEvaluator(time.Millisecond)
	// Starlark has no loops in expressions, but a large comprehension burns
	// time; the evaluator must give up instead of hanging the group.
	expr := `len([x for x in range(5000000)]) > 0`
	if _, err := se.EvalBool(context.Background(), expr, nil); err == nil {
		t.Error("expected timeout or failure")
	}
}
