// Command demiurge-synth is the CLI surface of spec.md §6: it reads an
// AIGER safety specification, computes its winning region, and - unless
// run in realisability-only mode - extracts and writes a safe
// implementation back out in AIGER.
package main

import (
	"context"
	"os"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/operator-framework/demiurge-synth/internal/aiger"
	"github.com/operator-framework/demiurge-synth/internal/bridge"
	"github.com/operator-framework/demiurge-synth/internal/extract"
	"github.com/operator-framework/demiurge-synth/internal/metrics"
	"github.com/operator-framework/demiurge-synth/internal/optimizer"
	"github.com/operator-framework/demiurge-synth/internal/region"
	"github.com/operator-framework/demiurge-synth/internal/registry"
	"github.com/operator-framework/demiurge-synth/internal/sat"
)

// Exit codes per spec.md §6.
const (
	exitRealisable           = 0
	exitRealisableAndWritten = 10
	exitUnrealisable         = 20
	exitError                = 1
)

var (
	inPath            string
	outPath           string
	backendFlag       string
	extractMethod     string
	realisabilityOnly bool
	parallelPortfolio bool
	gracePeriod       time.Duration
	expansionMaxKB    int
	optimizerPath     string
	optimizerArgs     []string
	verbose           bool
	topologicalOrder  bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "demiurge-synth",
		Short: "demiurge-synth",
		Long:  `A reactive safety synthesiser: computes a winning region for an AIGER safety specification and extracts an implementation that keeps it invariant.`,

		PreRunE: func(cmd *cobra.Command, args []string) error {
			if debug, _ := cmd.Flags().GetBool("debug"); debug {
				logrus.SetLevel(logrus.DebugLevel)
			}
			return nil
		},
		RunE: runSynth,
	}

	rootCmd.Flags().StringVarP(&inPath, "input", "i", "", "path to the input AIGER specification")
	rootCmd.Flags().StringVarP(&outPath, "output", "o", "", "path to write the synthesised AIGER circuit (required unless --realisability-only)")
	rootCmd.Flags().StringVar(&backendFlag, "backend", "plain", "winning-region back-end: one of plain, reachability-refined, expansion, dependency")
	rootCmd.Flags().StringVar(&extractMethod, "extract-method", "sat", "extraction method: one of sat, dependency-aware, qbf, parallel")
	rootCmd.Flags().BoolVar(&realisabilityOnly, "realisability-only", false, "stop after computing the winning region; do not extract or write a circuit")
	rootCmd.Flags().BoolVar(&parallelPortfolio, "parallel", false, "race the sat and dependency-aware extraction methods and keep the smaller result")
	rootCmd.Flags().DurationVar(&gracePeriod, "parallel-grace-period", 2*time.Second, "how long slower portfolio workers get to finish once one has already succeeded")
	rootCmd.Flags().IntVar(&expansionMaxKB, "expansion-max-kb", 0, "size limit, in kilobytes, for the expansion back-end's expanded formula; 0 means unbounded")
	rootCmd.Flags().StringVar(&optimizerPath, "optimizer", "", "path to an external AIG optimiser binary; omit to skip optimisation")
	rootCmd.Flags().StringSliceVar(&optimizerArgs, "optimizer-args", nil, "extra arguments passed to the external optimiser before its input/output paths")
	rootCmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "log per-signal learning statistics (iteration and clause counts) after extraction")
	rootCmd.Flags().BoolVar(&topologicalOrder, "topological-order", false, "synthesise controllables in dependency-aware topological order instead of registry allocation order")

	if err := rootCmd.MarkFlagRequired("input"); err != nil {
		logrus.Panic(err.Error())
	}

	rootCmd.Flags().Bool("debug", false, "enable debug logging")
	if err := rootCmd.Flags().MarkHidden("debug"); err != nil {
		logrus.Panic(err.Error())
	}

	if err := rootCmd.Execute(); err != nil {
		logrus.WithError(err).Error("demiurge-synth: failed")
		os.Exit(exitError)
	}
}

// regionConfig translates --backend into the region engine's toggles.
// "dependency" has no single corresponding engine field: it is treated as
// the heaviest combination, reachability refinement plus expansion, since
// the CLI surface lists it alongside the other back-ends without further
// definition (see DESIGN.md).
func regionConfig() (region.Config, error) {
	cfg := region.DefaultConfig()
	cfg.ExpansionMaxLiterals = expansionMaxKB * 1024 / 8 // heuristic literals-per-KB estimate, not correctness-affecting
	switch backendFlag {
	case "plain":
	case "reachability-refined":
		cfg.UseReachabilityRefinement = true
	case "expansion":
		cfg.UseExpansion = true
	case "dependency":
		cfg.UseReachabilityRefinement = true
		cfg.UseExpansion = true
	default:
		return region.Config{}, errors.Errorf("demiurge-synth: unknown --backend %q", backendFlag)
	}
	return cfg, nil
}

func runSynth(cmd *cobra.Command, args []string) error {
	log := logrus.StandardLogger()

	if !realisabilityOnly && outPath == "" {
		return errors.New("demiurge-synth: --output is required unless --realisability-only is set")
	}

	in, err := os.Open(inPath)
	if err != nil {
		return errors.Wrap(err, "demiurge-synth: open input")
	}
	defer in.Close()

	g, err := aiger.Parse(in)
	if err != nil {
		return errors.Wrap(err, "demiurge-synth: parse input")
	}

	reg := registry.New()
	br := bridge.Build(reg, g)

	rcfg, err := regionConfig()
	if err != nil {
		return err
	}

	m := metrics.NewCollectors()
	m.MustRegister(prometheus.DefaultRegisterer)

	engine := region.New(reg, br, rcfg, sat.NewGini, log, m)
	res := engine.ComputeWinningRegion()

	log.WithFields(logrus.Fields{
		"outcome":    res.Outcome,
		"iterations": res.Iterations,
		"restarts":   res.Restarts,
	}).Info("demiurge-synth: winning region computed")

	switch res.Outcome {
	case region.Unrealisable:
		log.Warn("demiurge-synth: specification is unrealisable")
		os.Exit(exitUnrealisable)
	case region.Realisable:
		// fall through
	default:
		return errors.Errorf("demiurge-synth: engine returned outcome %s", res.Outcome)
	}

	if realisabilityOnly {
		os.Exit(exitRealisable)
	}

	signals, err := extractSignals(reg, br, res, m)
	if err != nil {
		return errors.Wrap(err, "demiurge-synth: extraction")
	}

	out := extract.NewAssembler(reg, g).Assemble(signals)

	var opt optimizer.Optimizer = optimizer.NoOp{}
	if optimizerPath != "" {
		opt = optimizer.External{Path: optimizerPath, Args: optimizerArgs}
	}
	out, err = opt.Optimize(out)
	if err != nil {
		return errors.Wrap(err, "demiurge-synth: optimise output circuit")
	}

	outFile, err := os.Create(outPath)
	if err != nil {
		return errors.Wrap(err, "demiurge-synth: create output")
	}
	if err := aiger.Write(outFile, out); err != nil {
		outFile.Close()
		return errors.Wrap(err, "demiurge-synth: write output")
	}
	if err := outFile.Close(); err != nil {
		return errors.Wrap(err, "demiurge-synth: close output")
	}

	os.Exit(exitRealisableAndWritten)
	return nil
}

func extractSignals(reg *registry.Registry, br *bridge.Bridge, res region.Result, m *metrics.Collectors) ([]extract.Signal, error) {
	log := logrus.StandardLogger()

	if parallelPortfolio || extractMethod == "parallel" {
		pcfg := extract.ParallelConfig{GracePeriod: gracePeriod, Metrics: m}
		result, err := extract.RunParallel(context.Background(), reg, br, res.W, sat.NewGini, log, pcfg)
		if err != nil {
			return nil, err
		}
		log.WithFields(logrus.Fields{
			"method": result.Method,
			"worker": result.WorkerIndex,
		}).Info("demiurge-synth: portfolio extraction finished")
		return result.Signals, nil
	}

	cfg := extract.Config{}
	switch extractMethod {
	case "sat":
	case "dependency-aware":
		cfg.DependencyAware = true
	case "qbf":
		return nil, errors.New("demiurge-synth: no qbf back-end is wired into this build")
	default:
		return nil, errors.Errorf("demiurge-synth: unknown --extract-method %q", extractMethod)
	}
	if topologicalOrder {
		cfg.Order = br.Deps.TopologicalOrder(reg)
	}

	ex := extract.New(reg, br, res.W, cfg, sat.NewGini, log).WithMetrics(m)
	signals, err := ex.Extract()
	if err != nil {
		return nil, err
	}
	if verbose {
		logSignalStats(log, ex.Stats())
	}
	return signals, nil
}

// logSignalStats reports the SPEC_FULL.md §5 LearningExtractorStatistics
// equivalent: one log line per synthesised signal with its learning-round
// and final-clause-count tallies.
func logSignalStats(log *logrus.Logger, stats extract.Stats) {
	for _, s := range stats.Signals {
		log.WithFields(logrus.Fields{
			"signal":          s.Name,
			"iterations":      s.Iterations,
			"learned_clauses": s.LearnedClauses,
		}).Info("demiurge-synth: signal learned")
	}
}
