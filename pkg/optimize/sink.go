package optimize

import "github.com/karstvm/karst/pkg/kasm"

// sinkExits moves cold tail sequences that end in an always-raising
// instruction to the physical end of the function so they stop
// fragmenting the hot path. It runs after shareTails, when every label
// is preceded by a terminator, never a fallthrough.
//
// An exit is relocated together with its label and at most one
// straight-line instruction (a block or bs_context_to_binary) sitting
// between the label and the exit. The terminator that preceded the
// moved label is pushed back onto the input: if it is itself an exit it
// may be relocated by the next step, letting whole runs of error stubs
// cascade to the end.
func sinkExits(is []kasm.Instr, oracle kasm.ExitOracle) []kasm.Instr {
	var acc []kasm.Instr      // processed prefix, in code order
	var end [][]kasm.Instr    // relocated stubs, in relocation order
	var pending kasm.Instr

	k := 0
	for pending != nil || k < len(is) {
		var cur kasm.Instr
		if pending != nil {
			cur, pending = pending, nil
		} else {
			cur = is[k]
			k++
		}
		if !kasm.Exits(cur, oracle) {
			acc = append(acc, cur)
			continue
		}

		n := len(acc)
		switch {
		case n >= 3 && isMovable(acc[n-1]) && isLabel(acc[n-2]) && isFuncInfo(acc[n-3]):
			// The stub is the top of the function; leave it alone.
			acc = append(acc, cur)
		case n >= 3 && isMovable(acc[n-1]) && isLabel(acc[n-2]):
			end = append(end, []kasm.Instr{acc[n-2], acc[n-1], cur})
			pending = acc[n-3]
			acc = acc[:n-3]
		case n >= 2 && isLabel(acc[n-1]) && isFuncInfo(acc[n-2]):
			acc = append(acc, cur)
		case n >= 2 && isLabel(acc[n-1]):
			end = append(end, []kasm.Instr{acc[n-1], cur})
			pending = acc[n-2]
			acc = acc[:n-2]
		default:
			acc = append(acc, cur)
		}
	}

	for _, stub := range end {
		acc = append(acc, stub...)
	}
	return acc
}

// isMovable reports whether an instruction may travel with a relocated
// label: straight-line, label-free shapes only.
func isMovable(i kasm.Instr) bool {
	switch i.(type) {
	case kasm.Block, kasm.BsContextToBinary:
		return true
	}
	return false
}

func isLabel(i kasm.Instr) bool {
	_, ok := i.(kasm.Label)
	return ok
}

func isFuncInfo(i kasm.Instr) bool {
	_, ok := i.(kasm.FuncInfo)
	return ok
}
