// Karstopt - the back-end jump optimizer for Karst unit files
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"

	"github.com/karstvm/karst/manifest"
	"github.com/karstvm/karst/pkg/kasm"
	"github.com/karstvm/karst/pkg/pipeline"
)

func main() {
	output := flag.String("o", "", "Output unit file (default: overwrite input)")
	labelsOnly := flag.Bool("labels-only", false, "Only remove unused labels")
	dump := flag.Bool("d", false, "Dump function listings before and after")
	stats := flag.Bool("stats", false, "Print per-run pass statistics")
	verbose := flag.Bool("v", false, "Verbose output")
	noCache := flag.Bool("no-cache", false, "Skip the unit cache even if configured")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: karstopt [options] unit.kbu\n\n")
		fmt.Fprintf(os.Stderr, "Optimizes the jumps of every function in a Karst unit file.\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  karstopt app.kbu                 # Optimize in place\n")
		fmt.Fprintf(os.Stderr, "  karstopt -o app.opt.kbu app.kbu  # Optimize to a new file\n")
		fmt.Fprintf(os.Stderr, "  karstopt -labels-only app.kbu    # Sweep orphaned labels only\n")
	}
	flag.Parse()

	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(2)
	}
	input := flag.Arg(0)

	verbosity := 0
	if *verbose {
		verbosity = 2
	}
	commonlog.Initialize(verbosity, "")

	if err := run(input, *output, *labelsOnly, *dump, *stats, *noCache); err != nil {
		fmt.Fprintf(os.Stderr, "karstopt: %v\n", err)
		os.Exit(1)
	}
}

func run(input, output string, labelsOnly, dump, stats, noCache bool) error {
	data, err := os.ReadFile(input)
	if err != nil {
		return err
	}
	m, err := kasm.UnmarshalModule(data)
	if err != nil {
		return err
	}

	if dump {
		for _, fn := range m.Functions {
			fmt.Print(fn.Listing())
		}
		fmt.Println(";; ---- after ----")
	}

	runner := &pipeline.Runner{LabelsOnly: labelsOnly}
	if !noCache {
		if mf, err := manifest.FindAndLoad("."); err == nil && mf != nil && mf.CachePath() != "" {
			cache, err := pipeline.OpenCache(mf.CachePath())
			if err != nil {
				return err
			}
			defer cache.Close()
			runner.Cache = cache
		}
	}

	res, err := runner.Run(m)
	if err != nil {
		return err
	}

	if dump {
		for _, fn := range res.Module.Functions {
			fmt.Print(fn.Listing())
		}
	}
	if stats {
		s := res.Stats
		if res.Cached {
			fmt.Printf("run %s: cache hit\n", res.RunID)
		} else {
			fmt.Printf("run %s: %d functions, %d -> %d instructions, %d labels removed, %d peephole runs, %s\n",
				res.RunID, s.Functions, s.InstrsIn, s.InstrsOut, s.RemovedLabels, s.PeepholeRuns, res.Duration)
		}
	}

	out, err := kasm.MarshalModule(res.Module)
	if err != nil {
		return err
	}
	if output == "" {
		output = input
	}
	return os.WriteFile(output, out, 0o644)
}
