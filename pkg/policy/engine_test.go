package policy

import (
	"context"
	"testing"

	"github.com/rs/zerolog"

	"github.com/bosunhq/bosun/pkg/playbook"
)

func testEngine(t *testing.T) *Engine {
	t.Helper()
	return NewEngine(zerolog.Nop())
}

func cleanPlaybook() *playbook.Playbook {
	return &playbook.Playbook{
		Name: "etcd",
		Plays: []playbook.Play{{
			Group: "control",
			Tasks: []playbook.TaskConfig{
				{Name: "install etcd", Action: "pkg.ensure", Params: map[string]any{"name": "etcd"}},
				{Name: "start etcd", Action: "service.ensure", Params: map[string]any{"name": "etcd"}},
			},
		}},
	}
}

func TestCleanPlaybookAllowed(t *testing.T) {
	res, err := testEngine(t).EvaluatePlaybook(context.Background(), cleanPlaybook(), Context{Operation: "run"})
	if err != nil {
		t.Fatalf("EvaluatePlaybook: %v", err)
	}
	if !res.Allowed || len(res.Violations) != 0 {
		t.Errorf("result = %+v, want allowed with no violations", res)
	}
}

func TestLiteralSudoPasswordBlocked(t *testing.T) {
	pb := cleanPlaybook()
	pb.Plays[0].Tasks[0].Params["sudo_password"] = "hunter2"

	res, err := testEngine(t).EvaluatePlaybook(context.Background(), pb, Context{Operation: "run"})
	if err != nil {
		t.Fatalf("EvaluatePlaybook: %v", err)
	}
	if res.Allowed {
		t.Error("literal sudo_password should block the run")
	}

	found := false
	for _, v := range res.Violations {
		if v.Policy == "plaintext-secrets" && v.Group == "control" {
			found = true
		}
	}
	if !found {
		t.Errorf("violations = %+v, want plaintext-secrets", res.Violations)
	}
}

func TestRefSudoPasswordAllowed(t *testing.T) {
	pb := cleanPlaybook()
	pb.Plays[0].Tasks[0].Params["sudo_password"] = "ref:vault.sudo_password"

	res, err := testEngine(t).EvaluatePlaybook(context.Background(), pb, Context{Operation: "run"})
	if err != nil {
		t.Fatalf("EvaluatePlaybook: %v", err)
	}
	if !res.Allowed {
		t.Errorf("ref: sudo_password should be allowed, got %+v", res.Violations)
	}
}

func TestRetryBoundsBlocked(t *testing.T) {
	pb := cleanPlaybook()
	pb.Plays[0].Tasks[1].Retry = &playbook.RetryConfig{MaxAttempts: 50}

	res, err := testEngine(t).EvaluatePlaybook(context.Background(), pb, Context{Operation: "run"})
	if err != nil {
		t.Fatalf("EvaluatePlaybook: %v", err)
	}
	if res.Allowed {
		t.Error("max_attempts 50 should block the run")
	}
}

func TestUnnamedTaskWarnsOnlyInProduction(t *testing.T) {
	pb := cleanPlaybook()
	pb.Plays[0].Tasks[0].Name = ""

	eng := testEngine(t)

	dev, err := eng.EvaluatePlaybook(context.Background(), pb, Context{Operation: "run"})
	if err != nil {
		t.Fatalf("EvaluatePlaybook: %v", err)
	}
	if len(dev.Violations) != 0 {
		t.Errorf("dev violations = %+v, want none", dev.Violations)
	}

	prod, err := eng.EvaluatePlaybook(context.Background(), pb, Context{Operation: "run", Environment: "production"})
	if err != nil {
		t.Fatalf("EvaluatePlaybook: %v", err)
	}
	if !prod.Allowed {
		t.Error("a warning must not block the run")
	}
	if len(prod.Violations) != 1 || prod.Violations[0].Severity != SeverityWarning {
		t.Errorf("prod violations = %+v, want one warning", prod.Violations)
	}
}

func TestDestructiveVMBlockedInProduction(t *testing.T) {
	pb := cleanPlaybook()
	pb.Plays[0].Tasks = append(pb.Plays[0].Tasks, playbook.TaskConfig{
		Name:   "remove scratch vm",
		Action: "vm.lifecycle",
		Params: map[string]any{"name": "scratch", "state": "absent"},
	})

	eng := testEngine(t)
	pctx := Context{Operation: "run", Environment: "production"}

	res, err := eng.EvaluatePlaybook(context.Background(), pb, pctx)
	if err != nil {
		t.Fatalf("EvaluatePlaybook: %v", err)
	}
	if res.Allowed {
		t.Error("vm destroy without force should block in production")
	}

	pb.Plays[0].Tasks[2].Params["force"] = true
	res, err = eng.EvaluatePlaybook(context.Background(), pb, pctx)
	if err != nil {
		t.Fatalf("EvaluatePlaybook: %v", err)
	}
	if !res.Allowed {
		t.Errorf("forced destroy should pass, got %+v", res.Violations)
	}
}

func TestDisabledPolicySkipped(t *testing.T) {
	pb := cleanPlaybook()
	pb.Plays[0].Tasks[0].Params["sudo_password"] = "hunter2"

	eng := testEngine(t)
	if err := eng.SetEnabled("plaintext-secrets", false); err != nil {
		t.Fatalf("SetEnabled: %v", err)
	}

	res, err := eng.EvaluatePlaybook(context.Background(), pb, Context{Operation: "run"})
	if err != nil {
		t.Fatalf("EvaluatePlaybook: %v", err)
	}
	if !res.Allowed {
		t.Errorf("disabled policy still fired: %+v", res.Violations)
	}
}

func TestBrokenPolicyWarnsInsteadOfBlocking(t *testing.T) {
	eng := testEngine(t)
	eng.policies["broken"] = &Policy{
		Name:     "broken",
		Rego:     "package bosun.policies.broken\n\ndeny contains x if { x := ",
		Severity: SeverityError,
		Enabled:  true,
	}

	res, err := eng.EvaluatePlaybook(context.Background(), cleanPlaybook(), Context{Operation: "run"})
	if err != nil {
		t.Fatalf("EvaluatePlaybook: %v", err)
	}
	if !res.Allowed {
		t.Error("a broken policy must not block the run")
	}
	if len(res.Warnings) == 0 {
		t.Error("expected a warning about the broken policy")
	}
}

func TestGetAndListPolicies(t *testing.T) {
	eng := testEngine(t)

	if _, err := eng.GetPolicy("retry-bounds"); err != nil {
		t.Errorf("GetPolicy: %v", err)
	}
	if _, err := eng.GetPolicy("nope"); err == nil {
		t.Error("expected error for unknown policy")
	}
	if got := len(eng.ListPolicies()); got != len(GetBuiltinPolicies()) {
		t.Errorf("ListPolicies = %d, want %d", got, len(GetBuiltinPolicies()))
	}
}
