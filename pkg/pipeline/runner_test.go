package pipeline

import (
	"reflect"
	"testing"

	"github.com/karstvm/karst/pkg/kasm"
)

func TestRunnerOptimizes(t *testing.T) {
	r := &Runner{}
	res, err := r.Run(testUnit("demo"))
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if res.Cached {
		t.Error("Cached = true on a cacheless run")
	}
	if res.RunID == "" {
		t.Error("RunID is empty")
	}
	want := []kasm.Instr{
		kasm.FuncInfo{Mod: "demo", Name: "f", Arity: 1},
		kasm.Label{L: 1},
		kasm.Return{},
	}
	if !reflect.DeepEqual(res.Module.Functions[0].Code, want) {
		t.Errorf("unit not optimized:\n%s", kasm.Format(res.Module.Functions[0].Code))
	}
	if res.Stats.Functions != 1 {
		t.Errorf("Stats.Functions = %d, want 1", res.Stats.Functions)
	}
}

func TestRunnerLabelsOnly(t *testing.T) {
	r := &Runner{LabelsOnly: true}
	res, err := r.Run(testUnit("demo"))
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	// The jump survives a labels-only run; only unreferenced labels
	// would be swept, and label 2 is referenced.
	want := []kasm.Instr{
		kasm.FuncInfo{Mod: "demo", Name: "f", Arity: 1},
		kasm.Label{L: 1},
		kasm.Jump{To: kasm.Ref(2)},
		kasm.Label{L: 2},
		kasm.Return{},
	}
	if !reflect.DeepEqual(res.Module.Functions[0].Code, want) {
		t.Errorf("labels-only run rewrote jumps:\n%s", kasm.Format(res.Module.Functions[0].Code))
	}
}

func TestRunnerUsesCache(t *testing.T) {
	r := &Runner{Cache: openTestCache(t)}
	first, err := r.Run(testUnit("demo"))
	if err != nil {
		t.Fatalf("first Run() error: %v", err)
	}
	if first.Cached {
		t.Error("first run reported a cache hit")
	}
	second, err := r.Run(testUnit("demo"))
	if err != nil {
		t.Fatalf("second Run() error: %v", err)
	}
	if !second.Cached {
		t.Error("second run missed the cache")
	}
	if !reflect.DeepEqual(second.Module, first.Module) {
		t.Error("cached unit differs from the optimized one")
	}
}

func TestRunnerPropagatesErrors(t *testing.T) {
	m := &kasm.Module{
		Name: "broken",
		Functions: []kasm.Function{{
			Name: "f", Arity: 0, Entry: 1,
			Code: []kasm.Instr{kasm.Return{}},
		}},
	}
	r := &Runner{}
	if _, err := r.Run(m); err == nil {
		t.Error("Expected error, got nil")
	}
}
