// Package metrics wires the prometheus collectors the winning-region engine
// and the extractor publish: a gauge tracking the shrinking winning region
// and counters for restarts/iterations, following the client_golang usage
// already present in the teacher's operator metrics packages.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Collectors groups every metric one synthesis run publishes. The zero value
// is not usable; construct with NewCollectors.
type Collectors struct {
	WinningRegionClauses prometheus.Gauge
	FixpointIterations   prometheus.Counter
	SolverERestarts      prometheus.Counter
	BlockingClauses      prometheus.Counter
	ExtractedSignals     prometheus.Counter
	ExpansionSizeAborts  prometheus.Counter
}

// NewCollectors builds a fresh Collectors. Callers register it with a
// prometheus.Registerer of their choosing (production code uses the global
// default registry; tests use a private one).
func NewCollectors() *Collectors {
	return &Collectors{
		WinningRegionClauses: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "demiurge_synth",
			Subsystem: "region",
			Name:      "winning_region_clauses",
			Help:      "Number of clauses currently in the candidate winning region W.",
		}),
		FixpointIterations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "demiurge_synth",
			Subsystem: "region",
			Name:      "fixpoint_iterations_total",
			Help:      "Number of main-loop iterations executed by the winning-region engine.",
		}),
		SolverERestarts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "demiurge_synth",
			Subsystem: "region",
			Name:      "solver_e_restarts_total",
			Help:      "Number of times Solver-E was rebuilt against a fresh G:=W.",
		}),
		BlockingClauses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "demiurge_synth",
			Subsystem: "region",
			Name:      "blocking_clauses_total",
			Help:      "Number of blocking clauses added to W over the run.",
		}),
		ExtractedSignals: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "demiurge_synth",
			Subsystem: "extract",
			Name:      "signals_synthesised_total",
			Help:      "Number of controllable signals synthesised by the extractor.",
		}),
		ExpansionSizeAborts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "demiurge_synth",
			Subsystem: "expand",
			Name:      "size_aborts_total",
			Help:      "Number of universal-expansion calls that aborted on the literal size guard.",
		}),
	}
}

// MustRegister registers every collector with reg, panicking on collision -
// mirrors the teacher's metrics bootstrap in its controller packages.
func (c *Collectors) MustRegister(reg prometheus.Registerer) {
	reg.MustRegister(
		c.WinningRegionClauses,
		c.FixpointIterations,
		c.SolverERestarts,
		c.BlockingClauses,
		c.ExtractedSignals,
		c.ExpansionSizeAborts,
	)
}
