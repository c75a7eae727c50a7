// Package region implements the winning-region engine of spec.md §4.4 - the
// CEGAR fixpoint that is, by implementation-budget share, the largest single
// component of the system. It drives two (optionally three) incremental SAT
// sessions over the bridge's transition relation and shrinks a candidate
// winning region W until it is inductive, or proves the input unrealisable.
package region

import (
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/operator-framework/demiurge-synth/internal/bridge"
	"github.com/operator-framework/demiurge-synth/internal/cnf"
	"github.com/operator-framework/demiurge-synth/internal/lit"
	"github.com/operator-framework/demiurge-synth/internal/metrics"
	"github.com/operator-framework/demiurge-synth/internal/registry"
	"github.com/operator-framework/demiurge-synth/internal/sat"
)

// Outcome is the engine's verdict.
type Outcome int

const (
	Unknown Outcome = iota
	Realisable
	Unrealisable
)

func (o Outcome) String() string {
	switch o {
	case Realisable:
		return "realisable"
	case Unrealisable:
		return "unrealisable"
	default:
		return "unknown"
	}
}

// Config toggles the optional refinements spec.md §4.4 describes.
type Config struct {
	// UseReachabilityRefinement adds the Solver-C-ind session and attempts
	// to shrink every blocking clause's core against it before committing
	// the clause to W.
	UseReachabilityRefinement bool

	// RebuildThreshold is the "100" of "if Solver-C has accumulated
	// > |W| + 100 learnt clauses" - spec.md §9 notes this and related
	// constants are tunable heuristics, not correctness-affecting.
	RebuildThreshold int

	// UseExpansion switches on spec.md §4.4's "Expansion mode": the
	// controllables are eliminated from T∧W(x)∧¬W(x′) via universal
	// expansion (spec.md §4.3's "Reset solver I" entry point) so a single
	// SAT call both checks inductiveness and, if it fails, yields a
	// genuine (no-escape-for-any-c) counterexample directly - the per-(x,i)
	// Solver-C query becomes unreachable except as a size-guard fallback.
	UseExpansion bool
	// ExpansionMaxLiterals bounds the expanded formula's literal count
	// (spec.md §4.3's "Size guards"); zero means unbounded.
	ExpansionMaxLiterals int
	// ExpansionCancel, if non-nil, is polled by the expander at
	// gate-processing granularity.
	ExpansionCancel func() bool
}

// DefaultConfig returns the heuristic constants spec.md §4.4/§9 names.
func DefaultConfig() Config {
	return Config{RebuildThreshold: 100}
}

// Result is the engine's terminal state.
type Result struct {
	Outcome Outcome
	W       *cnf.CNF
	// UnrealisabilityCore is the present-state cube, consistent with the
	// all-zero initial state, that proves unrealisability - spec.md §8's
	// "Unrealisability soundness" property is checked against this cube.
	UnrealisabilityCore []lit.Lit
	Iterations          int
	Restarts            int
}

// SessionFactory constructs a fresh, empty SAT session. Production callers
// pass sat.NewGini; tests can substitute a fake to control solver outcomes.
type SessionFactory func() sat.Session

// Engine owns the fixpoint state for one synthesis run.
type Engine struct {
	Reg *registry.Registry
	Br  *bridge.Bridge
	Cfg Config

	Metrics *metrics.Collectors
	Log     logrus.FieldLogger

	newSession SessionFactory

	w *cnf.CNF // candidate winning region
	g *cnf.CNF // Solver-E's lazy copy of w

	solverE    sat.Session
	solverC    sat.Session
	solverCInd sat.Session

	solverCLearnt int
	ePhase        *registry.Checkpoint
	cIndPhase     *registry.Checkpoint
}

// New returns an Engine ready for ComputeWinningRegion.
func New(reg *registry.Registry, br *bridge.Bridge, cfg Config, newSession SessionFactory, log logrus.FieldLogger, m *metrics.Collectors) *Engine {
	if log == nil {
		log = logrus.StandardLogger()
	}
	if cfg.RebuildThreshold <= 0 {
		cfg.RebuildThreshold = DefaultConfig().RebuildThreshold
	}
	return &Engine{Reg: reg, Br: br, Cfg: cfg, Metrics: m, Log: log, newSession: newSession}
}

// W returns the current (possibly still-shrinking) candidate winning region.
func (e *Engine) W() *cnf.CNF { return e.w }

func loadCNF(s sat.Session, c *cnf.CNF) {
	for _, cl := range c.Clauses() {
		s.AddClause(cl...)
	}
}

func cubeFromModel(s sat.Session, vars []lit.Var) []lit.Lit {
	out := make([]lit.Lit, len(vars))
	for idx, v := range vars {
		out[idx] = lit.Of(v, s.Value(v))
	}
	return out
}

// newParam mints a fresh KindParameter variable, the callback Negate needs.
func (e *Engine) newParam() lit.Var {
	return e.Reg.NewVar(registry.KindParameter, "")
}

// rebuildSolverE discards the previous phase's negation temporaries (if
// any), takes a fresh checkpoint, and reloads Solver-E with
// W(x) ∧ T(x,i,c,x′) ∧ ¬G(x′), recording g := w as its lazy copy - spec.md
// §4.4's restart protocol and §3's "Lifecycle" paragraph.
func (e *Engine) rebuildSolverE() {
	if e.ePhase != nil {
		e.ePhase.Restore()
	}
	cp := e.Reg.Mark()
	e.ePhase = &cp

	s := e.newSession()
	loadCNF(s, e.Br.Trans)
	loadCNF(s, e.w)
	gNext := e.g.SwapPresentToNext(e.Reg)
	negG := gNext.Negate(e.newParam)
	loadCNF(s, negG)
	e.solverE = s

	if e.Metrics != nil {
		e.Metrics.SolverERestarts.Inc()
	}
}

// rebuildSolverC reloads Solver-C with W(x) ∧ T(x,i,c,x′) ∧ W(x′).
func (e *Engine) rebuildSolverC() {
	s := e.newSession()
	loadCNF(s, e.Br.Trans)
	loadCNF(s, e.w)
	loadCNF(s, e.w.SwapPresentToNext(e.Reg))
	e.solverC = s
	e.solverCLearnt = 0
}

// ComputeWinningRegion runs the main loop of spec.md §4.4 to completion.
func (e *Engine) ComputeWinningRegion() Result {
	e.w = e.Br.Safe.Clone()

	if e.Cfg.UseExpansion {
		if res, ok := e.computeWinningRegionExpansion(); ok {
			return res
		}
		e.Log.Info("expansion backend aborted on size; falling back to incremental backend")
	}

	e.g = e.w.Clone()
	e.rebuildSolverE()
	e.rebuildSolverC()
	if e.Cfg.UseReachabilityRefinement {
		e.rebuildSolverCInd()
	}

	stateVars := e.Reg.ByKind(registry.KindPresentState)
	uncontrolVars := e.Reg.ByKind(registry.KindUncontrollable)
	controlVars := e.Reg.ByKind(registry.KindControllable)

	res := Result{}
	for {
		res.Iterations++
		if e.Metrics != nil {
			e.Metrics.FixpointIterations.Inc()
		}

		if e.solverE.Solve() != sat.Sat {
			if sameClauses(e.g, e.w) {
				res.Outcome = Realisable
				res.W = e.w
				return res
			}
			e.g = e.w.Clone()
			e.rebuildSolverE()
			res.Restarts++
			continue
		}

		x := cubeFromModel(e.solverE, stateVars)
		i := cubeFromModel(e.solverE, uncontrolVars)
		eWitnessC := cubeFromModel(e.solverE, controlVars)

		assumption := append(append([]lit.Lit{}, x...), i...)
		e.solverC.Assume(assumption...)
		if e.solverC.Test() == sat.Sat {
			e.solverC.Untest()
			// (x,i) is not actually problematic for the controller: some
			// c keeps the next state in W. Block the exact (x,i,c) triple
			// Solver-E itself witnessed so it cannot repropose it - a
			// deliberate simplification of the unsat-core minimisation
			// spec.md §4.4 names for this branch; see DESIGN.md, "Solver-E
			// refutation clause".
			refute := append(append([]lit.Lit{}, assumption...), eWitnessC...)
			e.solverE.AddClause(lit.Negated(refute)...)
			continue
		}
		core := e.solverC.UnsatCore()
		e.solverC.Untest()

		presentCore := filterKind(core, e.Reg, registry.KindPresentState)
		if e.Cfg.UseReachabilityRefinement {
			presentCore = e.shrinkCoreReachability(presentCore)
		}
		if coreImpliesInitial(presentCore, e.Reg) {
			res.Outcome = Unrealisable
			res.W = e.w
			res.UnrealisabilityCore = presentCore
			return res
		}

		blocking := lit.Negated(presentCore)
		e.w.AddClauseAndSimplify(blocking...)
		if e.Metrics != nil {
			e.Metrics.BlockingClauses.Inc()
			e.Metrics.WinningRegionClauses.Set(float64(e.w.Len()))
		}
		e.solverE.AddClause(blocking...)
		e.solverC.AddClause(blocking...)
		e.solverC.AddClause(swapPresentToNext(e.Reg, blocking)...)
		if e.Cfg.UseReachabilityRefinement {
			e.solverCInd.AddClause(blocking...)
		}
		e.solverCLearnt++

		if e.solverCLearnt > e.w.Len()+e.Cfg.RebuildThreshold {
			e.w.CompressSubsumption()
			e.rebuildSolverC()
			if e.Cfg.UseReachabilityRefinement {
				e.rebuildSolverCInd()
			}
		}
	}
}

// sameClauses reports whether a and b contain the same clause set,
// disregarding order - used to detect "G == W" in the restart check.
func sameClauses(a, b *cnf.CNF) bool {
	if a.Len() != b.Len() {
		return false
	}
	as := cloneKeySet(a)
	bs := cloneKeySet(b)
	for k := range as {
		if !bs[k] {
			return false
		}
	}
	return true
}

func cloneKeySet(c *cnf.CNF) map[string]bool {
	out := make(map[string]bool, c.Len())
	for _, cl := range c.Clauses() {
		out[clauseSig(cl)] = true
	}
	return out
}

func clauseSig(cl lit.Clause) string {
	b := make([]byte, 0, len(cl)*5)
	for _, l := range cl {
		b = append(b, []byte(l.String())...)
		b = append(b, ',')
	}
	return string(b)
}

// swapPresentToNext renames a single clause's present-state variables to
// their paired next-state variables (and vice versa), mirroring
// (*cnf.CNF).SwapPresentToNext for a lone clause rather than a whole CNF.
func swapPresentToNext(reg *registry.Registry, cl []lit.Lit) []lit.Lit {
	out := make([]lit.Lit, len(cl))
	for i, l := range cl {
		d := reg.Desc(l.Var())
		if (d.Kind == registry.KindPresentState || d.Kind == registry.KindNextState) && d.Partner != 0 {
			out[i] = lit.Of(d.Partner, l.IsPos())
		} else {
			out[i] = l
		}
	}
	return out
}

func filterKind(ls []lit.Lit, reg *registry.Registry, k registry.Kind) []lit.Lit {
	out := make([]lit.Lit, 0, len(ls))
	for _, l := range ls {
		if reg.Kind(l.Var()) == k {
			out = append(out, l)
		}
	}
	return out
}

// coreImpliesInitial reports whether the all-zero initial state satisfies
// every literal of a present-state-only core - i.e. none of the core's
// literals demand a latch be 1 (every latch, including the synthetic error
// bit, initialises to 0, per spec.md §3/§6).
func coreImpliesInitial(core []lit.Lit, reg *registry.Registry) bool {
	for _, l := range core {
		if l.IsPos() {
			return false
		}
	}
	return true
}

// ErrNotRealisable documents the exit-code mapping spec.md §6 describes;
// callers that need a Go error rather than a Result (e.g. a CLI that always
// wants err != nil on anything but success) can use this sentinel.
var ErrNotRealisable = errors.New("region: input is unrealisable")
