// Package optimize implements the jump and unreachable-code optimizer
// for lowered Karst assembly. It collapses redundant branches, relocates
// cold error stubs out of the hot path, deletes unreachable
// instructions, and removes labels nothing references, while keeping
// every branch target that is still visible from surviving code.
package optimize

import (
	"strings"

	"github.com/karstvm/karst/pkg/kasm"
)

// shareTails replaces duplicated instruction tails with a jump to the
// last occurrence. Two labels whose bodies are identical up to a
// terminating instruction denote the same computation; all but the
// bottom-most copy become a single jump to it.
func shareTails(is []kasm.Instr, oracle kasm.ExitOracle) []kasm.Instr {
	rev := eliminateFallthroughs(is, oracle)

	seen := make(map[string]int)
	var seq []kasm.Instr      // current candidate tail, in code order
	var groups [][]kasm.Instr // emitted groups, bottom-most first

	for k, i := range rev {
		switch i := i.(type) {
		case kasm.Label:
			if len(seq) == 0 {
				groups = append(groups, []kasm.Instr{i})
				continue
			}
			key := seqKey(seq)
			if prev, ok := seen[key]; ok {
				groups = append(groups, []kasm.Instr{i, kasm.Jump{To: kasm.Ref(prev)}})
			} else {
				seen[key] = i.L
				groups = append(groups, append([]kasm.Instr{kasm.Instr(i)}, seq...))
			}
			seq = nil
		case kasm.FuncInfo:
			// The sentinel and everything above it are kept verbatim.
			head := reversed(rev[k+1:])
			return flattenGroups(append(head, i), groups)
		default:
			if kasm.Terminates(i, oracle) {
				// A terminator starts a fresh candidate tail. Whatever
				// was accumulating below it had no label and is
				// unreachable; drop it.
				seq = []kasm.Instr{i}
			} else {
				seq = append([]kasm.Instr{i}, seq...)
			}
		}
	}
	return flattenGroups(nil, groups)
}

// eliminateFallthroughs inserts an explicit jump between every
// non-terminating instruction and a following label, so that afterwards
// every label is reached only via a branch. Returns the stream reversed.
func eliminateFallthroughs(is []kasm.Instr, oracle kasm.ExitOracle) []kasm.Instr {
	out := make([]kasm.Instr, 0, len(is))
	for k, i := range is {
		out = append(out, i)
		if k+1 >= len(is) {
			continue
		}
		next, ok := is[k+1].(kasm.Label)
		if !ok {
			continue
		}
		if _, isLabel := i.(kasm.Label); isLabel {
			continue
		}
		if !kasm.Terminates(i, oracle) {
			out = append(out, kasm.Jump{To: kasm.Ref(next.L)})
		}
	}
	reverseInPlace(out)
	return out
}

func flattenGroups(prefix []kasm.Instr, groups [][]kasm.Instr) []kasm.Instr {
	out := prefix
	for k := len(groups) - 1; k >= 0; k-- {
		out = append(out, groups[k]...)
	}
	return out
}

func reversed(is []kasm.Instr) []kasm.Instr {
	out := make([]kasm.Instr, len(is))
	for k, i := range is {
		out[len(is)-1-k] = i
	}
	return out
}

func reverseInPlace(is []kasm.Instr) {
	for a, b := 0, len(is)-1; a < b; a, b = a+1, b-1 {
		is[a], is[b] = is[b], is[a]
	}
}

func seqKey(seq []kasm.Instr) string {
	parts := make([]string, len(seq))
	for i, s := range seq {
		parts[i] = kasm.InstrString(s)
	}
	return strings.Join(parts, "\n")
}
