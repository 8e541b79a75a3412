package optimize

import (
	"reflect"

	"github.com/karstvm/karst/pkg/kasm"
)

// invertTest returns the opposite test opcode, or "" when the test has
// no inversion. Exactly the symmetric comparison tests are invertible.
func invertTest(name string) string {
	switch name {
	case "is_ge":
		return "is_lt"
	case "is_lt":
		return "is_ge"
	case "is_eq":
		return "is_ne"
	case "is_ne":
		return "is_eq"
	case "is_eq_exact":
		return "is_ne_exact"
	case "is_ne_exact":
		return "is_eq_exact"
	}
	return ""
}

// walker carries the state of one peephole pass over a function body.
type walker struct {
	fc     int
	entry  int
	oracle kasm.ExitOracle

	// reloc maps a label to the labels that have been absorbed into it.
	// An absorbed label's definition is dropped where it stood and
	// re-emitted at the definition of its target, so references to it
	// stay valid without rewriting any instruction operands.
	reloc map[int][]int

	// used holds every label known to be referenced by surviving code,
	// seeded with the caller-visible prefix labels.
	used map[int]bool

	rest []kasm.Instr
	out  []kasm.Instr
}

// peepholeFixpoint reruns the peephole walk until the output stops
// changing, and reports how many runs that took. Each iteration either
// merges labels, inverts a test, drops a redundant jump, or converges,
// so the number of iterations is bounded by the number of distinct
// labels.
func peepholeFixpoint(is []kasm.Instr, entry int, oracle kasm.ExitOracle) ([]kasm.Instr, int) {
	fc := 0
	if len(is) >= 2 {
		if _, ok := is[0].(kasm.FuncInfo); ok {
			if l, ok := is[1].(kasm.Label); ok {
				fc = l.L
			}
		}
	}
	for runs := 1; ; runs++ {
		w := &walker{
			fc:     fc,
			entry:  entry,
			oracle: oracle,
			reloc:  make(map[int][]int),
			used:   kasm.PrefixLabels(is),
			rest:   is,
		}
		w.used[entry] = true
		next := w.run()
		if reflect.DeepEqual(next, is) {
			return next, runs
		}
		is = next
	}
}

func (w *walker) run() []kasm.Instr {
	for len(w.rest) > 0 {
		i := w.rest[0]

		if t, ok := i.(kasm.Test); ok && len(w.rest) > 1 {
			if j, ok := w.rest[1].(kasm.Jump); ok && w.optTestJump(t, j) {
				continue
			}
		}

		switch i := i.(type) {
		case kasm.Label:
			w.optLabel(i)
		case kasm.Jump:
			w.optJump(i)
		default:
			w.emit(i)
			w.rest = w.rest[1:]
			if kasm.Terminates(i, w.oracle) {
				w.skipUnreachable()
			}
		}
	}

	w.emitFcTail()
	return w.out
}

// optTestJump handles a test directly followed by a jump. When the
// test's failure label is defined right after the jump, either the pair
// collapses entirely (both branches land on the label) or the test is
// inverted to branch where the jump went, making the jump redundant.
// Reports whether it consumed anything.
func (w *walker) optTestJump(t kasm.Test, j kasm.Jump) bool {
	if !labelDefinedFirst(w.rest[2:], t.Fail.L) {
		return false
	}
	if j.To == t.Fail {
		// Both the branch and the fallthrough reach the same label,
		// which is about to start: neither instruction is needed.
		w.rest = w.rest[2:]
		return true
	}
	inv := invertTest(t.Name)
	if inv == "" {
		w.emit(t)
		w.rest = w.rest[1:]
		return true
	}
	t.Name = inv
	t.Fail = j.To
	w.rest = append([]kasm.Instr{t}, w.rest[2:]...)
	return true
}

func (w *walker) optLabel(l kasm.Label) {
	// The entry label is sacred: never absorbed, never relocated.
	if l.L != w.entry && l.L != w.fc && len(w.rest) > 1 {
		if j, ok := w.rest[1].(kasm.Jump); ok {
			// A label whose entire body is a jump denotes the same
			// position as the jump's target. Record the merge and drop
			// the definition; it is re-emitted at the target.
			w.reloc[j.To.L] = append(w.reloc[j.To.L], l.L)
			w.rest = w.rest[1:]
			return
		}
	}
	if absorbed, ok := w.reloc[l.L]; ok {
		// Re-emit the labels merged into this one at its definition.
		// The key must be removed first: the labels are pushed back
		// onto the input and rescanned, which both applies the merge
		// closure transitively and lets a preceding jump to any of
		// them be dropped.
		delete(w.reloc, l.L)
		w.insertLabels(append([]int{l.L}, absorbed...))
		return
	}
	w.emit(l)
	w.rest = w.rest[1:]
}

// insertLabels pushes label definitions back onto the input for
// rescanning. A jump just emitted to one of these labels is dropped;
// the label now falls through from it.
func (w *walker) insertLabels(labels []int) {
	w.rest = w.rest[1:]
	for _, l := range labels {
		if n := len(w.out); n > 0 {
			if j, ok := w.out[n-1].(kasm.Jump); ok && j.To.L == l {
				w.out = w.out[:n-1]
			}
		}
		w.rest = append([]kasm.Instr{kasm.Label{L: l}}, w.rest...)
	}
}

func (w *walker) optJump(j kasm.Jump) {
	if len(w.rest) > 1 {
		if l, ok := w.rest[1].(kasm.Label); ok && l.L == j.To.L {
			// Jump to the label that starts right here.
			w.rest = w.rest[1:]
			return
		}
	}
	w.emit(j)
	w.rest = w.rest[1:]
	w.skipUnreachable()
}

// skipUnreachable drops instructions after a terminator until a label
// that is known to be referenced, or the target of the jump that was
// just emitted, and resumes the normal walk at that label.
func (w *walker) skipUnreachable() {
	for len(w.rest) > 0 {
		l, ok := w.rest[0].(kasm.Label)
		if !ok {
			w.rest = w.rest[1:]
			continue
		}
		if n := len(w.out); n > 0 {
			if j, ok := w.out[n-1].(kasm.Jump); ok && j.To.L == l.L {
				// The only way here was the jump; drop it and let the
				// label fall through from the code above.
				w.out = w.out[:n-1]
				return
			}
		}
		if w.used[l.L] {
			return
		}
		w.rest = w.rest[1:]
	}
}

// emitFcTail re-emits labels that were absorbed into the function-class
// label. Its definition sits in the untouched prefix, so the normal
// re-emission at the definition site never fires for it; the absorbed
// labels land after the body instead, keeping them addressable.
func (w *walker) emitFcTail() {
	absorbed, ok := w.reloc[w.fc]
	if !ok {
		return
	}
	delete(w.reloc, w.fc)
	w.appendLabels(absorbed)
}

func (w *walker) appendLabels(labels []int) {
	for _, l := range labels {
		w.out = append(w.out, kasm.Label{L: l})
		if more, ok := w.reloc[l]; ok {
			delete(w.reloc, l)
			w.appendLabels(more)
		}
	}
}

func (w *walker) emit(i kasm.Instr) {
	for _, l := range kasm.LabelsOf(i) {
		w.used[l] = true
	}
	w.out = append(w.out, i)
}

// labelDefinedFirst reports whether label l is defined at the very
// start of is, possibly after other label definitions. Intervening
// labels are skipped deliberately: co-located labels all denote the
// same position.
func labelDefinedFirst(is []kasm.Instr, l int) bool {
	for _, i := range is {
		lb, ok := i.(kasm.Label)
		if !ok {
			return false
		}
		if lb.L == l {
			return true
		}
	}
	return false
}
