package kasm

// LabelsOf returns the function-local labels referenced by i. The
// sentinel NoLabel is filtered out, and the entry labels of local and
// external calls are excluded: those belong to other functions and are
// resolved by the unit loader, not by this function's label set.
func LabelsOf(i Instr) []int {
	var out []int
	add := func(refs ...LabelRef) {
		for _, r := range refs {
			if r.IsSet() {
				out = append(out, r.L)
			}
		}
	}
	switch i := i.(type) {
	case Test:
		add(i.Fail)
	case SelectVal:
		add(i.Fail)
		for _, c := range i.Cases {
			add(c.Target)
		}
	case SelectTupleArity:
		add(i.Fail)
		for _, c := range i.Cases {
			add(c.Target)
		}
	case Jump:
		add(i.To)
	case Try:
		add(i.L)
	case Catch:
		add(i.L)
	case LoopRec:
		add(i.L)
	case LoopRecEnd:
		add(i.L)
	case Wait:
		add(i.L)
	case WaitTimeout:
		add(i.L)
	case Bif:
		add(i.Fail)
	case GcBif:
		add(i.Fail)
	case BsInit2:
		add(i.Fail)
	case BsInitBits:
		add(i.Fail)
	case BsPutInteger:
		add(i.Fail)
	case BsPutFloat:
		add(i.Fail)
	case BsPutBinary:
		add(i.Fail)
	case BsPutUtf8:
		add(i.Fail)
	case BsPutUtf16:
		add(i.Fail)
	case BsPutUtf32:
		add(i.Fail)
	case BsAdd:
		add(i.Fail)
	case BsAppend:
		add(i.Fail)
	case BsUtf8Size:
		add(i.Fail)
	case BsUtf16Size:
		add(i.Fail)
	}
	return out
}

// IsLabelUsedIn reports whether label l is referenced anywhere in is,
// including by ops inside blocks. This is the one label query that must
// look through block boundaries; the optimizer passes themselves never
// need to, because blocks cannot define labels.
func IsLabelUsedIn(l int, is []Instr) bool {
	if l == 0 {
		return false
	}
	for _, i := range is {
		if b, ok := i.(Block); ok {
			if blockUsesLabel(l, b.Ops) {
				return true
			}
			continue
		}
		for _, used := range LabelsOf(i) {
			if used == l {
				return true
			}
		}
	}
	return false
}

func blockUsesLabel(l int, ops []BlockOp) bool {
	for _, op := range ops {
		switch op := op.(type) {
		case BlockBif:
			if op.Fail.L == l {
				return true
			}
		case BlockAlloc:
			if op.GC != nil && op.GC.Fail.L == l {
				return true
			}
		case BlockCatch:
			if op.Fail.L == l {
				return true
			}
		}
	}
	return false
}
