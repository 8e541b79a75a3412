package optimize

import "github.com/karstvm/karst/pkg/kasm"

// removeUnusedLabels deletes every label definition no surviving
// instruction references, keeping the caller-visible prefix labels and
// the entry label. When the instruction before a deleted label
// terminates, the code after the label was reachable only through it,
// so everything up to the next label is deleted too.
//
// Blocks are not inspected. They cannot define labels, and the lowering
// pass only ever puts the no-label sentinel in the failure slot of
// in-block ops; a real failure label inside a block would have to be
// kept alive by an instruction outside it.
func removeUnusedLabels(is []kasm.Instr, entry int, oracle kasm.ExitOracle) []kasm.Instr {
	used := kasm.PrefixLabels(is)
	if entry != 0 {
		used[entry] = true
	}
	for _, i := range is {
		for _, l := range kasm.LabelsOf(i) {
			used[l] = true
		}
	}

	out := make([]kasm.Instr, 0, len(is))
	for k := 0; k < len(is); k++ {
		l, ok := is[k].(kasm.Label)
		if !ok || used[l.L] {
			out = append(out, is[k])
			continue
		}
		if n := len(out); n > 0 && kasm.Terminates(out[n-1], oracle) {
			for k+1 < len(is) {
				if _, isNext := is[k+1].(kasm.Label); isNext {
					break
				}
				k++
			}
		}
	}
	return out
}
