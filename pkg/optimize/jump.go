package optimize

import "github.com/karstvm/karst/pkg/kasm"

// Options configures an optimizer run.
type Options struct {
	// Oracle decides whether an external call is guaranteed to raise.
	// Nil falls back to the runtime's builtin table.
	Oracle kasm.ExitOracle

	// Stats, when non-nil, accumulates counters across every function
	// optimized with these options.
	Stats *Stats
}

// Stats counts what the passes did.
type Stats struct {
	Functions     int
	InstrsIn      int
	InstrsOut     int
	RemovedLabels int
	PeepholeRuns  int
}

// Function runs the full pass pipeline over one function: tail sharing,
// exit sinking, the peephole/prune fixpoint, and unused-label removal.
// The input must satisfy the layout invariants; violations abort with a
// diagnostic and no partial result.
func Function(fn kasm.Function, opts Options) (kasm.Function, error) {
	if err := kasm.CheckFunction(fn); err != nil {
		return kasm.Function{}, err
	}
	is := shareTails(fn.Code, opts.Oracle)
	is = sinkExits(is, opts.Oracle)
	is, runs := peepholeFixpoint(is, fn.Entry, opts.Oracle)
	is = removeUnusedLabels(is, fn.Entry, opts.Oracle)

	if s := opts.Stats; s != nil {
		s.Functions++
		s.InstrsIn += len(fn.Code)
		s.InstrsOut += len(is)
		s.RemovedLabels += countLabels(fn.Code) - countLabels(is)
		s.PeepholeRuns += runs
	}
	fn.Code = is
	return fn, nil
}

// Module optimizes every function of a unit independently, in order.
// The literal count and everything else in the record are forwarded
// untouched.
func Module(m kasm.Module, opts Options) (kasm.Module, error) {
	fns := make([]kasm.Function, len(m.Functions))
	for k, fn := range m.Functions {
		ofn, err := Function(fn, opts)
		if err != nil {
			return kasm.Module{}, err
		}
		fns[k] = ofn
	}
	m.Functions = fns
	return m, nil
}

// CleanModuleLabels applies only unused-label removal to every function
// of a unit. Later back-end passes run this after they may have
// orphaned labels.
func CleanModuleLabels(m kasm.Module, opts Options) (kasm.Module, error) {
	fns := make([]kasm.Function, len(m.Functions))
	for k, fn := range m.Functions {
		if err := kasm.CheckFunction(fn); err != nil {
			return kasm.Module{}, err
		}
		fn.Code = removeUnusedLabels(fn.Code, fn.Entry, opts.Oracle)
		fns[k] = fn
	}
	m.Functions = fns
	return m, nil
}

func countLabels(is []kasm.Instr) int {
	n := 0
	for _, i := range is {
		if _, ok := i.(kasm.Label); ok {
			n++
		}
	}
	return n
}

