package optimize

import (
	"reflect"
	"testing"

	"github.com/karstvm/karst/pkg/kasm"
)

func TestEliminateFallthroughs(t *testing.T) {
	is := []kasm.Instr{
		kasm.FuncInfo{Mod: "t", Name: "f", Arity: 0},
		kasm.Label{L: 1},
		kasm.Move{Src: kasm.X(0), Dst: kasm.X(1)},
		kasm.Label{L: 2},
		kasm.Return{},
	}
	rev := eliminateFallthroughs(is, nil)
	got := reversed(rev)
	want := []kasm.Instr{
		kasm.FuncInfo{Mod: "t", Name: "f", Arity: 0},
		kasm.Label{L: 1},
		kasm.Move{Src: kasm.X(0), Dst: kasm.X(1)},
		kasm.Jump{To: kasm.Ref(2)},
		kasm.Label{L: 2},
		kasm.Return{},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("fallthrough elimination:\ngot:\n%swant:\n%s", kasm.Format(got), kasm.Format(want))
	}
}

func TestShareTailsKeepsDistinctTails(t *testing.T) {
	is := []kasm.Instr{
		kasm.FuncInfo{Mod: "t", Name: "f", Arity: 0},
		kasm.Label{L: 1},
		kasm.Jump{To: kasm.Ref(2)},
		kasm.Label{L: 2},
		kasm.Move{Src: kasm.X(0), Dst: kasm.X(1)},
		kasm.Return{},
		kasm.Label{L: 3},
		kasm.Move{Src: kasm.X(0), Dst: kasm.X(2)},
		kasm.Return{},
	}
	got := shareTails(is, nil)
	if !reflect.DeepEqual(got, is) {
		t.Errorf("distinct tails were rewritten:\n%s", kasm.Format(got))
	}
}

func TestShareTailsCollapsesDuplicates(t *testing.T) {
	is := []kasm.Instr{
		kasm.FuncInfo{Mod: "t", Name: "f", Arity: 0},
		kasm.Label{L: 1},
		kasm.Jump{To: kasm.Ref(2)},
		kasm.Label{L: 2},
		kasm.Move{Src: kasm.X(0), Dst: kasm.X(1)},
		kasm.Return{},
		kasm.Label{L: 3},
		kasm.Move{Src: kasm.X(0), Dst: kasm.X(1)},
		kasm.Return{},
	}
	got := shareTails(is, nil)
	want := []kasm.Instr{
		kasm.FuncInfo{Mod: "t", Name: "f", Arity: 0},
		kasm.Label{L: 1},
		kasm.Jump{To: kasm.Ref(2)},
		kasm.Label{L: 2},
		kasm.Jump{To: kasm.Ref(3)},
		kasm.Label{L: 3},
		kasm.Move{Src: kasm.X(0), Dst: kasm.X(1)},
		kasm.Return{},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("tail sharing:\ngot:\n%swant:\n%s", kasm.Format(got), kasm.Format(want))
	}
}

func TestShareTailsDropsUnreachableAccumulation(t *testing.T) {
	// The move/return below the first return have no label and can
	// never run; tail accumulation discards them.
	is := []kasm.Instr{
		kasm.FuncInfo{Mod: "t", Name: "f", Arity: 0},
		kasm.Label{L: 1},
		kasm.Return{},
		kasm.Move{Src: kasm.X(0), Dst: kasm.X(1)},
		kasm.Return{},
	}
	got := shareTails(is, nil)
	want := []kasm.Instr{
		kasm.FuncInfo{Mod: "t", Name: "f", Arity: 0},
		kasm.Label{L: 1},
		kasm.Return{},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("unreachable accumulation:\ngot:\n%swant:\n%s", kasm.Format(got), kasm.Format(want))
	}
}
