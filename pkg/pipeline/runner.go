package pipeline

import (
	"time"

	"github.com/google/uuid"
	"github.com/tliron/commonlog"

	"github.com/karstvm/karst/pkg/kasm"
	"github.com/karstvm/karst/pkg/optimize"
)

var log = commonlog.GetLogger("karst.pipeline")

// Runner applies the optimizer to whole units, with run logging and an
// optional cache. The zero value runs without cache and with the
// builtin exit oracle.
type Runner struct {
	Oracle kasm.ExitOracle
	Cache  *Cache

	// LabelsOnly restricts the run to unused-label removal, for the
	// pipeline stages that only need orphaned labels swept.
	LabelsOnly bool
}

// Result describes one unit run.
type Result struct {
	RunID    string
	Module   *kasm.Module
	Cached   bool
	Stats    optimize.Stats
	Duration time.Duration
}

// Run optimizes one unit. Cache hits skip the passes entirely; the
// optimized unit is stored back under the input's content hash.
func (r *Runner) Run(m *kasm.Module) (*Result, error) {
	start := time.Now()
	res := &Result{RunID: uuid.New().String()}
	log.Infof("run %s: unit %s (%d functions)", res.RunID, m.Name, len(m.Functions))

	var hash string
	if r.Cache != nil {
		h, err := UnitHash(m)
		if err != nil {
			return nil, err
		}
		hash = h
		if cached, err := r.Cache.Lookup(hash); err != nil {
			return nil, err
		} else if cached != nil {
			log.Debugf("run %s: cache hit %s", res.RunID, hash[:12])
			res.Module = cached
			res.Cached = true
			res.Duration = time.Since(start)
			return res, nil
		}
	}

	opts := optimize.Options{Oracle: r.Oracle, Stats: &res.Stats}
	var out kasm.Module
	var err error
	if r.LabelsOnly {
		out, err = optimize.CleanModuleLabels(*m, opts)
	} else {
		out, err = optimize.Module(*m, opts)
	}
	if err != nil {
		log.Errorf("run %s: %v", res.RunID, err)
		return nil, err
	}
	res.Module = &out
	res.Duration = time.Since(start)

	if r.Cache != nil {
		if err := r.Cache.Store(hash, res.Module); err != nil {
			// The cache is an accelerator; a failed store never fails
			// the run.
			log.Errorf("run %s: %v", res.RunID, err)
		}
	}

	log.Infof("run %s: %d -> %d instructions in %s",
		res.RunID, res.Stats.InstrsIn, res.Stats.InstrsOut, res.Duration)
	return res, nil
}
