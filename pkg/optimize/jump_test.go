package optimize

import (
	"reflect"
	"testing"

	"github.com/karstvm/karst/pkg/kasm"
)

// fun builds a function whose entry label is 1, in the canonical
// func_info/label layout.
func fun(body ...kasm.Instr) kasm.Function {
	code := append([]kasm.Instr{
		kasm.FuncInfo{Mod: "t", Name: "f", Arity: 1},
		kasm.Label{L: 1},
	}, body...)
	return kasm.Function{Name: "f", Arity: 1, Entry: 1, Code: code}
}

func optimizeOrFail(t *testing.T, fn kasm.Function) kasm.Function {
	t.Helper()
	out, err := Function(fn, Options{})
	if err != nil {
		t.Fatalf("Function() error: %v", err)
	}
	return out
}

func expectCode(t *testing.T, got kasm.Function, want []kasm.Instr) {
	t.Helper()
	if !reflect.DeepEqual(got.Code, want) {
		t.Errorf("optimized code mismatch\ngot:\n%swant:\n%s",
			kasm.Format(got.Code), kasm.Format(want))
	}
}

func TestBoundaryMinimalFunction(t *testing.T) {
	fn := fun(kasm.Return{})
	out := optimizeOrFail(t, fn)
	expectCode(t, out, fn.Code)
}

func TestTestJumpInversion(t *testing.T) {
	fn := fun(
		kasm.Test{Name: "is_eq", Fail: kasm.Ref(3), Args: []kasm.Arg{kasm.X(0), kasm.X(1)}},
		kasm.Jump{To: kasm.Ref(4)},
		kasm.Label{L: 3},
		kasm.Move{Src: kasm.X(0), Dst: kasm.X(1)},
		kasm.Return{},
		kasm.Label{L: 4},
		kasm.Move{Src: kasm.X(0), Dst: kasm.X(2)},
		kasm.Return{},
	)
	out := optimizeOrFail(t, fn)
	// The test inverts to branch where the jump went, the jump dies,
	// and label 3 (now only reached by fallthrough) is swept.
	expectCode(t, out, []kasm.Instr{
		kasm.FuncInfo{Mod: "t", Name: "f", Arity: 1},
		kasm.Label{L: 1},
		kasm.Test{Name: "is_ne", Fail: kasm.Ref(4), Args: []kasm.Arg{kasm.X(0), kasm.X(1)}},
		kasm.Move{Src: kasm.X(0), Dst: kasm.X(1)},
		kasm.Return{},
		kasm.Label{L: 4},
		kasm.Move{Src: kasm.X(0), Dst: kasm.X(2)},
		kasm.Return{},
	})
}

func TestTestJumpSameLabelCollapse(t *testing.T) {
	// Both the failure branch and the jump land on label 3: the pair
	// is dropped entirely. A select keeps label 3 alive so it is not
	// swept afterwards.
	fn := fun(
		kasm.SelectVal{Src: kasm.X(0), Fail: kasm.Ref(2), Cases: []kasm.Case{
			{Value: kasm.I(0), Target: kasm.Ref(3)},
		}},
		kasm.Label{L: 2},
		kasm.Test{Name: "is_atom", Fail: kasm.Ref(3), Args: []kasm.Arg{kasm.X(0)}},
		kasm.Jump{To: kasm.Ref(3)},
		kasm.Label{L: 3},
		kasm.Return{},
	)
	out := optimizeOrFail(t, fn)
	expectCode(t, out, []kasm.Instr{
		kasm.FuncInfo{Mod: "t", Name: "f", Arity: 1},
		kasm.Label{L: 1},
		kasm.SelectVal{Src: kasm.X(0), Fail: kasm.Ref(2), Cases: []kasm.Case{
			{Value: kasm.I(0), Target: kasm.Ref(3)},
		}},
		kasm.Label{L: 2},
		kasm.Label{L: 3},
		kasm.Return{},
	})
}

func TestJumpToNextLabelRemoved(t *testing.T) {
	fn := fun(
		kasm.Jump{To: kasm.Ref(2)},
		kasm.Label{L: 2},
		kasm.Return{},
	)
	out := optimizeOrFail(t, fn)
	// The jump falls away and label 2, now unreferenced, is swept.
	expectCode(t, out, []kasm.Instr{
		kasm.FuncInfo{Mod: "t", Name: "f", Arity: 1},
		kasm.Label{L: 1},
		kasm.Return{},
	})
}

func TestTailSharingEndToEnd(t *testing.T) {
	fn := fun(
		kasm.SelectVal{Src: kasm.X(0), Fail: kasm.Ref(2), Cases: []kasm.Case{
			{Value: kasm.I(0), Target: kasm.Ref(3)},
			{Value: kasm.I(1), Target: kasm.Ref(4)},
		}},
		kasm.Label{L: 3},
		kasm.Move{Src: kasm.X(0), Dst: kasm.X(1)},
		kasm.Return{},
		kasm.Label{L: 4},
		kasm.Deallocate{N: 0},
		kasm.Return{},
		kasm.Label{L: 2},
		kasm.Move{Src: kasm.X(0), Dst: kasm.X(1)},
		kasm.Return{},
	)
	out := optimizeOrFail(t, fn)
	// Labels 3 and 2 have identical tails; label 3 gives up its copy
	// and ends up co-located with label 2 after the merge settles.
	expectCode(t, out, []kasm.Instr{
		kasm.FuncInfo{Mod: "t", Name: "f", Arity: 1},
		kasm.Label{L: 1},
		kasm.SelectVal{Src: kasm.X(0), Fail: kasm.Ref(2), Cases: []kasm.Case{
			{Value: kasm.I(0), Target: kasm.Ref(3)},
			{Value: kasm.I(1), Target: kasm.Ref(4)},
		}},
		kasm.Label{L: 4},
		kasm.Deallocate{N: 0},
		kasm.Return{},
		kasm.Label{L: 3},
		kasm.Label{L: 2},
		kasm.Move{Src: kasm.X(0), Dst: kasm.X(1)},
		kasm.Return{},
	})
}

func TestExitSinkingEndToEnd(t *testing.T) {
	fn := fun(
		kasm.Test{Name: "is_eq_exact", Fail: kasm.Ref(2), Args: []kasm.Arg{kasm.X(0), kasm.A("ok")}},
		kasm.Test{Name: "is_lt", Fail: kasm.Ref(3), Args: []kasm.Arg{kasm.X(1), kasm.I(0)}},
		kasm.Return{},
		kasm.Label{L: 2},
		kasm.Block{Ops: []kasm.BlockOp{kasm.BlockSet{Dst: kasm.X(1), Src: kasm.X(0)}}},
		kasm.Badmatch{Val: kasm.X(1)},
		kasm.Label{L: 3},
		kasm.Move{Src: kasm.X(0), Dst: kasm.X(1)},
		kasm.Return{},
	)
	out := optimizeOrFail(t, fn)
	// The cold badmatch stub moves behind the hot tail.
	expectCode(t, out, []kasm.Instr{
		kasm.FuncInfo{Mod: "t", Name: "f", Arity: 1},
		kasm.Label{L: 1},
		kasm.Test{Name: "is_eq_exact", Fail: kasm.Ref(2), Args: []kasm.Arg{kasm.X(0), kasm.A("ok")}},
		kasm.Test{Name: "is_lt", Fail: kasm.Ref(3), Args: []kasm.Arg{kasm.X(1), kasm.I(0)}},
		kasm.Return{},
		kasm.Label{L: 3},
		kasm.Move{Src: kasm.X(0), Dst: kasm.X(1)},
		kasm.Return{},
		kasm.Label{L: 2},
		kasm.Block{Ops: []kasm.BlockOp{kasm.BlockSet{Dst: kasm.X(1), Src: kasm.X(0)}}},
		kasm.Badmatch{Val: kasm.X(1)},
	})
}

func TestUnreachableCodeRemoved(t *testing.T) {
	fn := fun(
		kasm.Return{},
		kasm.Move{Src: kasm.X(0), Dst: kasm.X(1)},
		kasm.Return{},
		kasm.Label{L: 9},
		kasm.Return{},
	)
	out := optimizeOrFail(t, fn)
	expectCode(t, out, []kasm.Instr{
		kasm.FuncInfo{Mod: "t", Name: "f", Arity: 1},
		kasm.Label{L: 1},
		kasm.Return{},
	})
}

func TestLabelMergeKeepsReferencedName(t *testing.T) {
	fn := fun(
		kasm.Test{Name: "is_nil", Fail: kasm.Ref(5), Args: []kasm.Arg{kasm.X(0)}},
		kasm.Return{},
		kasm.Label{L: 5},
		kasm.Jump{To: kasm.Ref(6)},
		kasm.Label{L: 6},
		kasm.Move{Src: kasm.X(0), Dst: kasm.X(1)},
		kasm.Return{},
	)
	out := optimizeOrFail(t, fn)
	// Label 5 is absorbed into label 6 and re-emitted there; label 6
	// itself loses its only reference (the dropped jump) and is swept.
	expectCode(t, out, []kasm.Instr{
		kasm.FuncInfo{Mod: "t", Name: "f", Arity: 1},
		kasm.Label{L: 1},
		kasm.Test{Name: "is_nil", Fail: kasm.Ref(5), Args: []kasm.Arg{kasm.X(0)}},
		kasm.Return{},
		kasm.Label{L: 5},
		kasm.Move{Src: kasm.X(0), Dst: kasm.X(1)},
		kasm.Return{},
	})
}

func TestFunctionClassTail(t *testing.T) {
	// Label 7's body is a jump back to the function-class label. The
	// absorbed name cannot be re-emitted at the prefix definition, so
	// it lands after the body.
	fn := fun(
		kasm.Test{Name: "is_nil", Fail: kasm.Ref(7), Args: []kasm.Arg{kasm.X(0)}},
		kasm.Return{},
		kasm.Label{L: 7},
		kasm.Jump{To: kasm.Ref(1)},
	)
	out := optimizeOrFail(t, fn)
	expectCode(t, out, []kasm.Instr{
		kasm.FuncInfo{Mod: "t", Name: "f", Arity: 1},
		kasm.Label{L: 1},
		kasm.Test{Name: "is_nil", Fail: kasm.Ref(7), Args: []kasm.Arg{kasm.X(0)}},
		kasm.Return{},
		kasm.Label{L: 7},
	})
}

func TestOptimizeIsIdempotent(t *testing.T) {
	fns := []kasm.Function{
		fun(kasm.Return{}),
		fun(
			kasm.Test{Name: "is_eq", Fail: kasm.Ref(3), Args: []kasm.Arg{kasm.X(0), kasm.X(1)}},
			kasm.Jump{To: kasm.Ref(4)},
			kasm.Label{L: 3},
			kasm.Move{Src: kasm.X(0), Dst: kasm.X(1)},
			kasm.Return{},
			kasm.Label{L: 4},
			kasm.Move{Src: kasm.X(0), Dst: kasm.X(2)},
			kasm.Return{},
		),
		fun(
			kasm.SelectVal{Src: kasm.X(0), Fail: kasm.Ref(2), Cases: []kasm.Case{
				{Value: kasm.I(0), Target: kasm.Ref(3)},
				{Value: kasm.I(1), Target: kasm.Ref(4)},
			}},
			kasm.Label{L: 3},
			kasm.Move{Src: kasm.X(0), Dst: kasm.X(1)},
			kasm.Return{},
			kasm.Label{L: 4},
			kasm.Deallocate{N: 0},
			kasm.Return{},
			kasm.Label{L: 2},
			kasm.Move{Src: kasm.X(0), Dst: kasm.X(1)},
			kasm.Return{},
		),
	}
	for _, fn := range fns {
		once := optimizeOrFail(t, fn)
		twice := optimizeOrFail(t, once)
		if !reflect.DeepEqual(once, twice) {
			t.Errorf("optimize not idempotent\nonce:\n%stwice:\n%s",
				kasm.Format(once.Code), kasm.Format(twice.Code))
		}
	}
}

func TestOptimizeInvariants(t *testing.T) {
	fn := fun(
		kasm.Test{Name: "is_eq", Fail: kasm.Ref(3), Args: []kasm.Arg{kasm.X(0), kasm.X(1)}},
		kasm.Jump{To: kasm.Ref(4)},
		kasm.Label{L: 3},
		kasm.Jump{To: kasm.Ref(4)},
		kasm.Label{L: 4},
		kasm.Move{Src: kasm.X(0), Dst: kasm.X(1)},
		kasm.Return{},
		kasm.Label{L: 5},
		kasm.Return{},
	)
	out := optimizeOrFail(t, fn)

	// Every referenced label is defined exactly once.
	defined := map[int]int{}
	for _, i := range out.Code {
		if l, ok := i.(kasm.Label); ok {
			defined[l.L]++
		}
	}
	inLabels := map[int]bool{}
	for _, i := range fn.Code {
		for _, l := range kasm.LabelsOf(i) {
			inLabels[l] = true
		}
	}
	for _, i := range out.Code {
		for _, l := range kasm.LabelsOf(i) {
			if defined[l] != 1 {
				t.Errorf("label L%d referenced but defined %d times", l, defined[l])
			}
			// No invented branch targets.
			if !inLabels[l] {
				t.Errorf("label L%d referenced in output but not in input", l)
			}
		}
	}

	// Every defined label is the entry or still referenced.
	for l := range defined {
		if l == out.Entry {
			continue
		}
		if !kasm.IsLabelUsedIn(l, out.Code) {
			t.Errorf("label L%d defined but unreferenced", l)
		}
	}

	// A second label sweep changes nothing.
	swept := removeUnusedLabels(out.Code, out.Entry, nil)
	if !reflect.DeepEqual(swept, out.Code) {
		t.Errorf("label sweep after optimize changed code\nbefore:\n%safter:\n%s",
			kasm.Format(out.Code), kasm.Format(swept))
	}
}

func TestOptimizeRejectsMalformedInput(t *testing.T) {
	tests := []struct {
		name string
		fn   kasm.Function
	}{
		{"empty body", kasm.Function{Name: "f", Arity: 0, Entry: 1}},
		{"no func_info", kasm.Function{Name: "f", Arity: 0, Entry: 1,
			Code: []kasm.Instr{kasm.Label{L: 1}, kasm.Return{}}}},
		{"duplicate label", fun(kasm.Label{L: 1})},
		{"undefined entry", kasm.Function{Name: "f", Arity: 0, Entry: 9,
			Code: []kasm.Instr{
				kasm.FuncInfo{Mod: "t", Name: "f", Arity: 0},
				kasm.Label{L: 1},
				kasm.Return{},
			}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Function(tt.fn, Options{}); err == nil {
				t.Error("Expected error, got nil")
			}
		})
	}
}

func TestModuleOptimize(t *testing.T) {
	m := kasm.Module{
		Name:         "demo",
		Exports:      []kasm.Export{{Name: "f", Arity: 1, Label: 1}},
		Functions:    []kasm.Function{fun(kasm.Jump{To: kasm.Ref(2)}, kasm.Label{L: 2}, kasm.Return{})},
		LiteralCount: 7,
	}
	out, err := Module(m, Options{})
	if err != nil {
		t.Fatalf("Module() error: %v", err)
	}
	if out.LiteralCount != 7 {
		t.Errorf("LiteralCount = %d, want 7", out.LiteralCount)
	}
	if out.Name != "demo" {
		t.Errorf("Name = %q, want %q", out.Name, "demo")
	}
	want := []kasm.Instr{
		kasm.FuncInfo{Mod: "t", Name: "f", Arity: 1},
		kasm.Label{L: 1},
		kasm.Return{},
	}
	if !reflect.DeepEqual(out.Functions[0].Code, want) {
		t.Errorf("function not optimized:\n%s", kasm.Format(out.Functions[0].Code))
	}
}

func TestCleanModuleLabels(t *testing.T) {
	m := kasm.Module{
		Name: "demo",
		Functions: []kasm.Function{fun(
			kasm.Return{},
			kasm.Label{L: 8},
			kasm.Move{Src: kasm.X(0), Dst: kasm.X(1)},
			kasm.Return{},
		)},
	}
	out, err := CleanModuleLabels(m, Options{})
	if err != nil {
		t.Fatalf("CleanModuleLabels() error: %v", err)
	}
	want := []kasm.Instr{
		kasm.FuncInfo{Mod: "t", Name: "f", Arity: 1},
		kasm.Label{L: 1},
		kasm.Return{},
	}
	if !reflect.DeepEqual(out.Functions[0].Code, want) {
		t.Errorf("labels not cleaned:\n%s", kasm.Format(out.Functions[0].Code))
	}
}
