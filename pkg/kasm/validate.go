package kasm

import "fmt"

// InvalidCodeError reports malformed input to the optimizer. Malformed
// code is a bug in an upstream pass, so optimization aborts with the
// offending instruction identified rather than attempting repair.
type InvalidCodeError struct {
	Name   string
	Arity  int
	Index  int
	Instr  Instr
	Reason string
}

func (e *InvalidCodeError) Error() string {
	if e.Instr == nil {
		return fmt.Sprintf("invalid code in %s/%d: %s", e.Name, e.Arity, e.Reason)
	}
	return fmt.Sprintf("invalid code in %s/%d at %d (%s): %s",
		e.Name, e.Arity, e.Index, InstrString(e.Instr), e.Reason)
}

// CheckFunction verifies the invariants the optimizer relies on: the
// func_info/label layout prefix, uniqueness of label definitions, a
// defined entry label, and positive label numbers. The forward-branch
// invariant is not checked; it cannot be validated locally without a
// reachability analysis and is owned by the lowering pass.
func CheckFunction(f Function) error {
	fail := func(index int, i Instr, reason string) error {
		return &InvalidCodeError{Name: f.Name, Arity: f.Arity, Index: index, Instr: i, Reason: reason}
	}
	if len(f.Code) < 2 {
		return fail(0, nil, "function body shorter than the func_info/label prefix")
	}
	if _, ok := f.Code[0].(FuncInfo); !ok {
		return fail(0, f.Code[0], "function must start with func_info")
	}
	if _, ok := f.Code[1].(Label); !ok {
		return fail(1, f.Code[1], "func_info must be followed by the function-class label")
	}

	defined := make(map[int]int)
	for k, i := range f.Code {
		switch i := i.(type) {
		case FuncInfo:
			if k != 0 {
				return fail(k, i, "func_info must appear exactly once, first")
			}
		case Label:
			if i.L <= 0 {
				return fail(k, i, "label numbers must be positive")
			}
			if prev, dup := defined[i.L]; dup {
				return fail(k, i, fmt.Sprintf("label L%d already defined at %d", i.L, prev))
			}
			defined[i.L] = k
		}
	}
	if _, ok := defined[f.Entry]; !ok {
		return fail(0, nil, fmt.Sprintf("entry label L%d is not defined", f.Entry))
	}
	return nil
}
