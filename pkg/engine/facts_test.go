package engine

import "testing"

func TestFactStoreGetDottedPath(t *testing.T) {
	facts := NewFactStore(nil)
	facts.Set("install", Map(map[string]Value{
		"status":    String("success"),
		"exit_code": Number(0),
	}))

	v, ok := facts.Get("install.status")
	if !ok {
		t.Fatal("install.status not found")
	}
	if s, _ := v.AsString(); s != "success" {
		t.Errorf("install.status = %q", s)
	}

	if _, ok := facts.Get("install.missing"); ok {
		t.Error("install.missing should not resolve")
	}
	if _, ok := facts.Get("absent.status"); ok {
		t.Error("absent.status should not resolve")
	}
	if _, ok := facts.Get(""); ok {
		t.Error("empty path should not resolve")
	}
}

func TestFactStoreOverwrite(t *testing.T) {
	facts := NewFactStore(map[string]Value{"check": String("first")})
	facts.Set("check", String("second"))

	v, _ := facts.Get("check")
	if s, _ := v.AsString(); s != "second" {
		t.Errorf("check = %q, want second", s)
	}
	if facts.Len() != 1 {
		t.Errorf("Len = %d, want 1", facts.Len())
	}
}

func TestFactStoreSnapshotDetached(t *testing.T) {
	facts := NewFactStore(map[string]Value{"deploy_type": String("compact")})
	snap := facts.Snapshot()

	facts.Set("deploy_type", String("standard"))
	if snap["deploy_type"] != "compact" {
		t.Errorf("snapshot mutated by later Set: %v", snap["deploy_type"])
	}

	snap["deploy_type"] = "edited"
	v, _ := facts.Get("deploy_type")
	if s, _ := v.AsString(); s != "standard" {
		t.Errorf("store mutated through snapshot: %q", s)
	}
}

func TestFactStoreNamesSorted(t *testing.T) {
	facts := NewFactStore(map[string]Value{
		"zeta":  Bool(true),
		"alpha": Bool(true),
	})
	names := facts.Names()
	if len(names) != 2 || names[0] != "alpha" || names[1] != "zeta" {
		t.Errorf("Names = %v", names)
	}
}
