// Package extract implements the circuit extractor of spec.md §4.5: given
// the winning region W the region package computed, it synthesises one CNF
// formula fₖ per controllable signal cₖ via counterexample-guided clause
// learning, in a fixed order, re-substituting each signal's definition into
// the transition relation before synthesising the next.
package extract

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/operator-framework/demiurge-synth/internal/bridge"
	"github.com/operator-framework/demiurge-synth/internal/cnf"
	"github.com/operator-framework/demiurge-synth/internal/lit"
	"github.com/operator-framework/demiurge-synth/internal/metrics"
	"github.com/operator-framework/demiurge-synth/internal/registry"
	"github.com/operator-framework/demiurge-synth/internal/sat"
)

// SessionFactory constructs a fresh, empty SAT session.
type SessionFactory func() sat.Session

// Config toggles the optional refinements spec.md §4.5 describes.
type Config struct {
	// DependencyAware widens a signal's allowed vocabulary beyond present
	// state and uncontrollable inputs to temporaries whose transitive
	// dependency set mentions no not-yet-synthesised controllable, and to
	// earlier-synthesised controllables.
	DependencyAware bool
	// SecondPass, if set, runs the optional clause-minimisation refinement
	// of spec.md §4.5's "Optional second pass" after the main loop.
	SecondPass bool

	// Cancel, if non-nil, is polled between signals and before every
	// MustBe0/MustBe1 solver call, per spec.md §4.6's portfolio coordinator
	// stop-flag. A true result aborts the run with ErrCancelled.
	Cancel func() bool

	// Order, if non-nil, overrides the signal synthesis order, which
	// otherwise defaults to plain registry allocation order. A caller can
	// pass bridge.DependencyMap.TopologicalOrder(reg) here to opt into the
	// dependency-aware ordering SPEC_FULL.md §5 describes; Order must be a
	// permutation of every KindControllable variable in the registry.
	Order []lit.Var
}

// Signal is one synthesised controllable output: cₖ's defining CNF fₖ, in
// terms of present-state, uncontrollable, and (dependency-aware mode only)
// eligible temporary/earlier-controllable variables. cₖ's value, for any
// assignment to those variables, is the conjunction of fₖ's clauses.
type Signal struct {
	Var  lit.Var
	Name string
	Def  *cnf.CNF
}

// Extractor owns the state of one extraction run.
type Extractor struct {
	Reg *registry.Registry
	Br  *bridge.Bridge
	W   *cnf.CNF
	Cfg Config

	Log logrus.FieldLogger

	// Metrics, if non-nil, is incremented as signals are synthesised -
	// spec.md §2/§3's ambient prometheus wiring, mirroring internal/region's
	// Engine.Metrics field.
	Metrics *metrics.Collectors

	newSession SessionFactory

	// trans is the running, re-substituted transition relation: each
	// synthesised signal's defining clauses (cₖ ↔ fₖ) are appended here so
	// later signals see it as a determined function of x,i rather than a
	// free variable (spec.md §4.5's "re-substitution").
	trans *cnf.CNF

	stats Stats
}

// SignalStats is the per-controllable learning-loop tally SPEC_FULL.md §5
// carries forward from the original tool's LearningExtractorStatistics:
// how many MustBe0/MustBe1 rounds it took to learn a signal, and how many
// clauses its final definition has.
type SignalStats struct {
	Name           string
	Var            lit.Var
	Iterations     int
	LearnedClauses int
}

// Stats is Extract's optional report, consumed by the CLI's -v flag.
type Stats struct {
	Signals []SignalStats
}

// Stats returns the per-signal tally accumulated by the most recent Extract
// call.
func (e *Extractor) Stats() Stats { return e.stats }

// New returns an Extractor ready for Extract.
func New(reg *registry.Registry, br *bridge.Bridge, w *cnf.CNF, cfg Config, newSession SessionFactory, log logrus.FieldLogger) *Extractor {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Extractor{Reg: reg, Br: br, W: w, Cfg: cfg, Log: log, newSession: newSession}
}

// WithMetrics attaches m to e, so Extract increments its ExtractedSignals
// counter as each controllable is synthesised. Returns e for chaining at the
// call site, matching the style of New's other optional wiring.
func (e *Extractor) WithMetrics(m *metrics.Collectors) *Extractor {
	e.Metrics = m
	return e
}

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

func filterKind(ls []lit.Lit, reg *registry.Registry, kinds ...registry.Kind) []lit.Lit {
	allow := make(map[registry.Kind]bool, len(kinds))
	for _, k := range kinds {
		allow[k] = true
	}
	out := make([]lit.Lit, 0, len(ls))
	for _, l := range ls {
		if allow[reg.Kind(l.Var())] {
			out = append(out, l)
		}
	}
	return out
}

// newParam mints a fresh KindParameter variable for Negate/reification.
func (e *Extractor) newParam() lit.Var {
	return e.Reg.NewVar(registry.KindParameter, "")
}

// Extract runs the per-signal learning loop of spec.md §4.5 for every
// controllable, in registry allocation order (or Cfg.Order if set), and
// returns the synthesised signals.
func (e *Extractor) Extract() ([]Signal, error) {
	e.trans = e.Br.Trans.Clone()

	controllables := e.Cfg.Order
	if controllables == nil {
		controllables = e.Reg.ByKind(registry.KindControllable)
	}
	signals := make([]Signal, 0, len(controllables))
	notYetSynthesised := make(map[lit.Var]bool, len(controllables))
	for _, c := range controllables {
		notYetSynthesised[c] = true
	}

	for idx, ck := range controllables {
		if e.Cfg.Cancel != nil && e.Cfg.Cancel() {
			return nil, ErrCancelled
		}
		delete(notYetSynthesised, ck)

		def, iterations, err := e.extractSignal(ck, notYetSynthesised)
		if err != nil {
			return nil, errors.Wrapf(err, "extract: signal %d (%s)", idx, e.Reg.Desc(ck).Name)
		}
		if e.Cfg.SecondPass {
			def = e.minimise(ck, def)
		}

		sig := Signal{Var: ck, Name: e.Reg.Desc(ck).Name, Def: def}
		signals = append(signals, sig)
		e.stats.Signals = append(e.stats.Signals, SignalStats{
			Name:           sig.Name,
			Var:            sig.Var,
			Iterations:     iterations,
			LearnedClauses: def.Len(),
		})
		if e.Metrics != nil {
			e.Metrics.ExtractedSignals.Inc()
		}

		// Re-substitution: cₖ ↔ fₖ becomes part of the running transition
		// relation so later signals see cₖ as determined, not free.
		e.substitute(sig)
	}
	return signals, nil
}

// extractSignal runs the MustBe0/MustBe1 learning loop for one controllable
// ck, returning its defining CNF fₖ and the number of learning rounds it
// took (SignalStats.Iterations).
func (e *Extractor) extractSignal(ck lit.Var, notYetSynthesised map[lit.Var]bool) (*cnf.CNF, int, error) {
	stateVars := e.Reg.ByKind(registry.KindPresentState)
	uncontrolVars := e.Reg.ByKind(registry.KindUncontrollable)
	allowedKinds := []registry.Kind{registry.KindPresentState, registry.KindUncontrollable}

	// extraVars widens the vocabulary the unsat core - and so fₖ itself -
	// may draw on, per spec.md §4.5's dependency-aware variant: an
	// eligible temporary whose transitive dependency set mentions no
	// not-yet-synthesised controllable, and any earlier-synthesised
	// controllable (it cannot depend on ck, since ck is synthesised after
	// it). These must be assumed alongside x,i for mustBe1.UnsatCore to be
	// able to return them at all - a literal can only appear in an unsat
	// core if it was assumed.
	var extraVars []lit.Var
	if e.Cfg.DependencyAware {
		excluded := make(map[lit.Var]bool, len(notYetSynthesised)+1)
		for v := range notYetSynthesised {
			excluded[v] = true
		}
		excluded[ck] = true
		extraVars = e.eligibleExtraVars(excluded)
		allowedKinds = append(allowedKinds, registry.KindTemporary, registry.KindControllable)
	}
	// The copy renaming is minted after the vocabulary above is fixed, so
	// its fresh "$copy" variables never enter that vocabulary.
	rename := e.copyRenaming(ck, notYetSynthesised)

	mustBe0 := e.newSession()
	loadCNF(mustBe0, e.buildMustBe(ck, rename, true))
	mustBe1 := e.newSession()
	loadCNF(mustBe1, e.buildMustBe(ck, rename, false))

	def := cnf.New()
	iterations := 0
	for {
		if e.Cfg.Cancel != nil && e.Cfg.Cancel() {
			return nil, iterations, ErrCancelled
		}
		if mustBe0.Solve() != sat.Sat {
			return def, iterations, nil
		}
		iterations++

		x := cubeFromModel(mustBe0, stateVars)
		i := cubeFromModel(mustBe0, uncontrolVars)
		extra := cubeFromModel(mustBe0, extraVars)
		assumption := append(append(append([]lit.Lit{}, x...), i...), extra...)

		mustBe1.Assume(assumption...)
		if mustBe1.Test() == sat.Sat {
			// Both "cₖ=1 illegal here" and "cₖ=0 illegal here" hold: no
			// value of cₖ keeps this (x,i) safe. This cannot happen for a
			// realisable W (the region engine's induction guarantee rules
			// it out), so treat it as the programming-error assertion
			// spec.md §7 describes for "solver calls are assumed total".
			mustBe1.Untest()
			return nil, iterations, errors.Errorf("extract: no legal value for %s at a W-state - W is not actually inductive", e.Reg.Desc(ck).Name)
		}
		core := mustBe1.UnsatCore()
		mustBe1.Untest()

		core = filterKind(core, e.Reg, allowedKinds...)

		blocking := lit.Negated(core)
		def.AddClauseAndSimplify(blocking...)
		mustBe0.AddClause(blocking...)
		mustBe1.AddClause(blocking...)
	}
}

// eligibleExtraVars returns the dependency-aware variant's widened
// vocabulary: temporaries whose transitive dependency set mentions no
// controllable in notYetSynthesised, plus every controllable not in it. The
// caller passes the not-yet-synthesised controllables together with the
// signal currently being synthesised.
func (e *Extractor) eligibleExtraVars(notYetSynthesised map[lit.Var]bool) []lit.Var {
	var out []lit.Var
	for _, v := range e.Reg.ByKind(registry.KindTemporary) {
		if !e.Br.Deps.DependsOnAny(v, notYetSynthesised, e.Reg) {
			out = append(out, v)
		}
	}
	for _, v := range e.Reg.ByKind(registry.KindControllable) {
		if !notYetSynthesised[v] {
			out = append(out, v)
		}
	}
	return out
}

// copyRenaming builds the fresh-copy renaming spec.md §4.5's MustBe0/MustBe1
// definitions apply to "the copy of T": ck itself (the copy half asserts the
// opposite value from the main half, so it cannot share ck's variable),
// every next-state variable, every Tseitin temporary, every parameter, and
// every not-yet-synthesised controllable get a fresh id, so the copy's
// continuation is independent of the main half's. Present-state,
// uncontrollable, and already-synthesised controllables are shared
// (identity-mapped) so both halves reason about the same (x,i) and agree on
// earlier, already-fixed signals.
func (e *Extractor) copyRenaming(ck lit.Var, notYetSynthesised map[lit.Var]bool) lit.RenameMap {
	m := make(lit.RenameMap)
	m[ck] = e.Reg.NewVar(registry.KindControllable, e.Reg.Desc(ck).Name+"$copy")
	for _, v := range e.Reg.ByKind(registry.KindNextState) {
		m[v] = e.Reg.NewVar(registry.KindNextState, e.Reg.Desc(v).Name+"$copy")
	}
	for _, v := range e.Reg.ByKind(registry.KindTemporary) {
		m[v] = e.Reg.NewVar(registry.KindTemporary, e.Reg.Desc(v).Name+"$copy")
	}
	for _, v := range e.Reg.ByKind(registry.KindParameter) {
		m[v] = e.Reg.NewVar(registry.KindParameter, "")
	}
	for v := range notYetSynthesised {
		m[v] = e.Reg.NewVar(registry.KindControllable, e.Reg.Desc(v).Name+"$copy")
	}
	return m
}

// buildMustBe builds MustBe0 (zeroIsLegal==true) or MustBe1 (==false):
// the main half asserts ck at the "illegal" value and ¬W(x′); the copy half
// asserts ck at the "legal" value (fresh-renamed) and W(x′_copy).
func (e *Extractor) buildMustBe(ck lit.Var, rename lit.RenameMap, zeroIsLegal bool) *cnf.CNF {
	illegal, legal := lit.Of(ck, true), lit.Of(ck, false)
	if !zeroIsLegal {
		illegal, legal = legal, illegal
	}

	out := cnf.New()
	out.Append(e.trans)
	out.AddUnit(illegal)

	wNext := e.W.SwapPresentToNext(e.Reg)
	out.Append(wNext.Negate(e.newParam))

	copyTrans := e.trans.RenameVars(rename)
	out.Append(copyTrans)
	out.AddUnit(rename.Apply(legal))

	wCopyNext := make(lit.RenameMap, len(e.Reg.ByKind(registry.KindPresentState)))
	for _, x := range e.Reg.ByKind(registry.KindPresentState) {
		xNext := e.Reg.Desc(x).Partner
		wCopyNext[x] = rename[xNext]
	}
	out.Append(e.W.RenameVars(wCopyNext))

	out.AddUnit(lit.True)
	return out
}

// substitute re-substitutes a synthesised signal's definition into the
// running transition relation: cₖ ↔ ⋀(fₖ's clauses) becomes part of trans,
// so later signals' MustBe0/MustBe1 queries see cₖ as a determined function
// of x,i rather than a free input (spec.md §4.5, "re-substitution").
func (e *Extractor) substitute(sig Signal) {
	ck := lit.Of(sig.Var, true)

	if sig.Def.Len() == 0 {
		// fₖ is the empty CNF (trivially true): cₖ is unconstrained by any
		// learned clause, so re-substitution pins it to 1, the MustBe0
		// default asserted throughout learning.
		e.trans.AddUnit(ck)
		return
	}

	// cₖ → clause_i, for every clause of fₖ: needs no auxiliary literal
	// since clause_i is already a disjunction.
	for _, cl := range sig.Def.Clauses() {
		nc := make(lit.Clause, 0, len(cl)+1)
		nc = append(nc, ck.Not())
		nc = append(nc, cl...)
		e.trans.AddClause(nc...)
	}

	// ¬cₖ → some clause_i is violated: introduce one fresh literal f_i per
	// clause with f_i ↔ ¬clause_i (the same per-clause Tseitin shape
	// cnf.Negate uses), then assert cₖ ∨ f_1 ∨ ... ∨ f_n.
	violated := make(lit.Clause, 0, sig.Def.Len())
	for _, cl := range sig.Def.Clauses() {
		f := lit.Of(e.newParam(), true)
		for _, l := range cl {
			e.trans.AddClause(f.Not(), l.Not())
		}
		disj := append(lit.Clause{f}, cl...)
		e.trans.AddClause(disj...)
		violated = append(violated, f)
	}
	e.trans.AddClause(append(lit.Clause{ck}, violated...)...)
}

func negateClause(cl lit.Clause) lit.Clause {
	out := make(lit.Clause, len(cl))
	for i, l := range cl {
		out[i] = l.Not()
	}
	return out
}

// minimise implements spec.md §4.5's "Optional second pass": rebuild def by
// repeatedly taking its smallest remaining clause, negating it to a cube,
// and shrinking that cube against one fixed session asserting
// W(x) ∧ trans ∧ cₖ=0 ∧ ¬W(x′). Every clause of def forces cₖ=0 on its
// cube, so a literal may be dropped from the cube only if cₖ=0 still keeps
// every W-state of the enlarged cube inside W. The other kept clauses are
// not consulted.
func (e *Extractor) minimise(ck lit.Var, def *cnf.CNF) *cnf.CNF {
	rest := cnf.New()
	rest.Append(e.W)
	rest.Append(e.trans)
	rest.AddUnit(lit.Of(ck, false))
	wNext := e.W.SwapPresentToNext(e.Reg)
	rest.Append(wNext.Negate(e.newParam))
	rest.AddUnit(lit.True)

	s := e.newSession()
	loadCNF(s, rest)

	out := cnf.New()
	for {
		cl, ok := def.RemoveSmallest()
		if !ok {
			break
		}
		cube := negateClause(cl)
		shrunk := e.shrinkCube(s, cube)
		out.AddClauseAndSimplify(negateClause(shrunk)...)
	}
	return out
}

// shrinkCube greedily drops literals from cube, keeping the drop iff s
// remains unsat when the cube (minus that literal) is assumed - s asserts
// "a W-state where cₖ=0 is taken and leaves W", so an unsat result means
// forcing cₖ=0 on the shrunk cube is still safe.
func (e *Extractor) shrinkCube(s sat.Session, cube []lit.Lit) []lit.Lit {
	result := append([]lit.Lit(nil), cube...)
	idx := 0
	for idx < len(result) {
		trial := make([]lit.Lit, 0, len(result)-1)
		trial = append(trial, result[:idx]...)
		trial = append(trial, result[idx+1:]...)

		s.Assume(trial...)
		outcome := s.Test()
		s.Untest()
		if outcome == sat.Unsat {
			result = trial
			continue
		}
		idx++
	}
	return result
}

// ErrUnrealisableInput documents that Extract should never be called on an
// unrealisable input; callers gate on region.Result.Outcome first.
var ErrUnrealisableInput = fmt.Errorf("extract: cannot synthesise signals for an unrealisable region")

// ErrCancelled is returned by Extract/extractSignal when Cfg.Cancel trips
// mid-run, per spec.md §4.6's cooperative stop-flag.
var ErrCancelled = fmt.Errorf("extract: cancelled")
