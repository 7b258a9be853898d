package engine

import (
	"strings"
	"testing"
)

func TestValueEqualSameKind(t *testing.T) {
	cases := []struct {
		name string
		a, b Value
		want bool
	}{
		{"strings equal", String("web"), String("web"), true},
		{"strings differ", String("web"), String("db"), false},
		{"numbers equal", Number(3), Number(3), true},
		{"bools differ", Bool(true), Bool(false), false},
		{"lists equal", List(String("a"), Number(1)), List(String("a"), Number(1)), true},
		{"lists differ in length", List(String("a")), List(String("a"), String("b")), false},
		{"maps equal", Map(map[string]Value{"x": Number(1)}), Map(map[string]Value{"x": Number(1)}), true},
		{"maps differ in value", Map(map[string]Value{"x": Number(1)}), Map(map[string]Value{"x": Number(2)}), false},
		{"nulls equal", Null(), Null(), true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := tc.a.Equal(tc.b)
			if err != nil {
				t.Fatalf("Equal returned error: %v", err)
			}
			if got != tc.want {
				t.Errorf("Equal = %t, want %t", got, tc.want)
			}
		})
	}
}

func TestValueEqualCrossKindIsError(t *testing.T) {
	// A cross-kind comparison must surface as an error, never as false.
	_, err := String("3").Equal(Number(3))
	if err == nil {
		t.Fatal("expected error comparing string with number")
	}
	if !strings.Contains(err.Error(), "cannot compare") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestValueContains(t *testing.T) {
	list := List(String("nginx"), String("postgres"))
	if ok, err := list.Contains(String("nginx")); err != nil || !ok {
		t.Errorf("list Contains(nginx) = %t, %v; want true", ok, err)
	}
	if ok, _ := list.Contains(String("redis")); ok {
		t.Error("list Contains(redis) = true, want false")
	}

	m := Map(map[string]Value{"compact": Bool(true)})
	if ok, err := m.Contains(String("compact")); err != nil || !ok {
		t.Errorf("map Contains(compact) = %t, %v; want true", ok, err)
	}

	s := String("v1.28.3-rc1")
	if ok, err := s.Contains(String("rc")); err != nil || !ok {
		t.Errorf("string Contains(rc) = %t, %v; want true", ok, err)
	}

	if _, err := Number(3).Contains(Number(3)); err == nil {
		t.Error("expected error for membership on a number")
	}
}

func TestValueAccessorsRejectWrongKind(t *testing.T) {
	if _, err := Number(1).AsString(); err == nil {
		t.Error("AsString on number should fail")
	}
	if _, err := String("yes").AsBool(); err == nil {
		t.Error("AsBool on string should fail, truthiness is not implicit")
	}
	if _, err := Bool(true).AsList(); err == nil {
		t.Error("AsList on bool should fail")
	}
}

func TestFromGoRoundTrip(t *testing.T) {
	raw := map[string]any{
		"name":    "etcd",
		"port":    2379.0,
		"enabled": true,
		"peers":   []any{"a", "b"},
	}
	v, err := FromGo(raw)
	if err != nil {
		t.Fatalf("FromGo: %v", err)
	}
	if v.Kind() != KindMap {
		t.Fatalf("kind = %s, want map", v.Kind())
	}
	back, ok := v.ToGo().(map[string]any)
	if !ok {
		t.Fatalf("ToGo did not return a map, got %T", v.ToGo())
	}
	if back["name"] != "etcd" || back["port"] != 2379.0 || back["enabled"] != true {
		t.Errorf("round trip mismatch: %#v", back)
	}
	peers, ok := back["peers"].([]any)
	if !ok || len(peers) != 2 {
		t.Errorf("peers round trip mismatch: %#v", back["peers"])
	}
}

func TestFromGoRejectsUnsupportedType(t *testing.T) {
	if _, err := FromGo(struct{ X int }{1}); err == nil {
		t.Error("expected error for struct input")
	}
}

func TestRefValue(t *testing.T) {
	r := Ref("install.exit_code")
	if r.Kind() != KindRef {
		t.Fatalf("kind = %s, want ref", r.Kind())
	}
	if r.RefPath() != "install.exit_code" {
		t.Errorf("RefPath = %q", r.RefPath())
	}
	if String("x").RefPath() != "" {
		t.Error("RefPath on non-ref should be empty")
	}
}

func TestValueField(t *testing.T) {
	m := Map(map[string]Value{"status": String("success")})
	fv, ok := m.Field("status")
	if !ok {
		t.Fatal("Field(status) not found")
	}
	if s, _ := fv.AsString(); s != "success" {
		t.Errorf("Field value = %q", s)
	}
	if _, ok := m.Field("missing"); ok {
		t.Error("Field(missing) should not be found")
	}
	if _, ok := String("x").Field("y"); ok {
		t.Error("Field on non-map should not be found")
	}
}
