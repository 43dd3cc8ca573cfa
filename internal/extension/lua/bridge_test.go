package lua

import (
	"reflect"
	"testing"

	lua "github.com/yuin/gopher-lua"
)

func newBridge(t *testing.T) (*Bridge, *lua.LState) {
	t.Helper()
	L := lua.NewState()
	t.Cleanup(L.Close)
	return NewBridge(L), L
}

func TestBridgeScalarsRoundTrip(t *testing.T) {
	b, _ := newBridge(t)

	tests := []struct {
		in   any
		want any
	}{
		{true, true},
		{int(7), int64(7)},
		{int64(42), int64(42)},
		{3.5, 3.5},
		{"hello", "hello"},
		{nil, nil},
	}

	for _, tt := range tests {
		got := b.ToGoValue(b.ToLuaValue(tt.in))
		if !reflect.DeepEqual(got, tt.want) {
			t.Errorf("round trip %v (%T): got %v (%T), want %v", tt.in, tt.in, got, got, tt.want)
		}
	}
}

func TestBridgeMapToTable(t *testing.T) {
	b, _ := newBridge(t)

	in := map[string]any{
		"package": "demo",
		"version": "2.0",
		"files":   []string{"a.txt", "b.txt"},
		"nested":  map[string]any{"user_requested": true},
	}

	out, ok := b.ToGoValue(b.ToLuaValue(in)).(map[string]any)
	if !ok {
		t.Fatalf("expected map, got %T", b.ToGoValue(b.ToLuaValue(in)))
	}

	if out["package"] != "demo" {
		t.Errorf("package = %v", out["package"])
	}
	files, ok := out["files"].([]any)
	if !ok || len(files) != 2 || files[0] != "a.txt" {
		t.Errorf("files = %v", out["files"])
	}
	nested, ok := out["nested"].(map[string]any)
	if !ok || nested["user_requested"] != true {
		t.Errorf("nested = %v", out["nested"])
	}
}

func TestBridgeArrayDetection(t *testing.T) {
	b, L := newBridge(t)

	tbl := L.NewTable()
	tbl.RawSetInt(1, lua.LString("x"))
	tbl.RawSetInt(2, lua.LString("y"))

	got := b.ToGoValue(tbl)
	want := []any{"x", "y"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("array table = %v, want %v", got, want)
	}

	// A table with a string key is a map, not an array.
	tbl.RawSetString("k", lua.LString("v"))
	if _, ok := b.ToGoValue(tbl).(map[string]any); !ok {
		t.Errorf("mixed table should convert to map, got %T", b.ToGoValue(tbl))
	}
}

func TestBridgeCircularTable(t *testing.T) {
	b, L := newBridge(t)

	tbl := L.NewTable()
	tbl.RawSetString("self", tbl)

	out, ok := b.ToGoValue(tbl).(map[string]any)
	if !ok {
		t.Fatalf("expected map, got %T", b.ToGoValue(tbl))
	}
	if out["self"] != nil {
		t.Errorf("circular reference should break to nil, got %v", out["self"])
	}
}
