package region

import (
	"github.com/operator-framework/demiurge-synth/internal/cnf"
	"github.com/operator-framework/demiurge-synth/internal/lit"
	"github.com/operator-framework/demiurge-synth/internal/registry"
	"github.com/operator-framework/demiurge-synth/internal/sat"
)

// rebuildSolverCInd (re)builds the optional third session of spec.md §4.4's
// "Reachability-refined generalisation": it asserts
// (Initial ∨ (T* ∧ W*)) ∧ W ∧ T ∧ W′, where T* and W* are the transition
// relation and candidate region re-expressed over the previous-step shadow
// copies xₚ,iₚ,cₚ (spec.md §3's "Previous-step shadow"), with the shadow's
// next-state variable mapped back onto the ordinary present-state variable
// x so that T* reads "x was reached in one step from (xₚ,iₚ,cₚ)".
//
// The disjunction is asserted, never queried for its own truth value, so
// only the one-directional Tseitin half (reifLit → formula) is needed: see
// assertImpliedBy.
func (e *Engine) rebuildSolverCInd() {
	if e.cIndPhase != nil {
		e.cIndPhase.Restore()
	}
	cp := e.Reg.Mark()
	e.cIndPhase = &cp

	shadow := make(lit.RenameMap)
	for _, v := range e.Reg.ByKind(registry.KindPresentState) {
		xp := e.Reg.NewVar(registry.KindPrevStepCopy, e.Reg.Desc(v).Name+"$prev")
		shadow[v] = xp
	}
	for _, v := range e.Reg.ByKind(registry.KindUncontrollable) {
		shadow[v] = e.Reg.NewVar(registry.KindUncontrollable, e.Reg.Desc(v).Name+"$prev")
	}
	for _, v := range e.Reg.ByKind(registry.KindControllable) {
		shadow[v] = e.Reg.NewVar(registry.KindControllable, e.Reg.Desc(v).Name+"$prev")
	}
	for _, v := range e.Reg.ByKind(registry.KindNextState) {
		shadow[v] = e.Reg.Desc(v).Partner // x′ reads as the ordinary present-state x
	}

	tStar := e.Br.Trans.RenameVars(shadow)
	wStar := e.w.RenameVars(shadow)

	aux := cnf.New()
	reached := lit.Of(e.newParam(), true)
	assertImpliedBy(aux, reached, tStar)
	assertImpliedBy(aux, reached, wStar)

	initial := lit.Of(e.newParam(), true)
	assertImpliedBy(aux, initial, e.Br.Initial)

	aux.AddClause(initial, reached) // Initial ∨ (T* ∧ W*)
	aux.AddUnit(lit.True)

	s := e.newSession()
	loadCNF(s, aux)
	loadCNF(s, e.Br.Trans)
	loadCNF(s, e.w)
	loadCNF(s, e.w.SwapPresentToNext(e.Reg))
	e.solverCInd = s
}

// assertImpliedBy adds, for every clause of c, the clause {¬r} ∪ cl - i.e.
// asserts r → c, the one-directional Tseitin half sufficient when r only
// ever appears positively in a disjunction that must hold.
func assertImpliedBy(out *cnf.CNF, r lit.Lit, c *cnf.CNF) {
	for _, cl := range c.Clauses() {
		nc := make(lit.Clause, 0, len(cl)+1)
		nc = append(nc, r.Not())
		nc = append(nc, cl...)
		out.AddClause(nc...)
	}
}

// shrinkCoreReachability attempts to drop each positive-polarity literal of
// core (literals whose value already matches the all-zero initial state are
// never attempted, per spec.md §4.4's "literals of the initial state are
// never dropped"), accepting the drop iff Solver-C-ind remains unsat under
// the reduced assumption set.
func (e *Engine) shrinkCoreReachability(core []lit.Lit) []lit.Lit {
	result := append([]lit.Lit(nil), core...)
	idx := 0
	for idx < len(result) {
		l := result[idx]
		if !l.IsPos() {
			idx++
			continue
		}
		trial := make([]lit.Lit, 0, len(result)-1)
		trial = append(trial, result[:idx]...)
		trial = append(trial, result[idx+1:]...)

		e.solverCInd.Assume(trial...)
		outcome := e.solverCInd.Test()
		e.solverCInd.Untest()
		if outcome == sat.Unsat {
			result = trial
			continue
		}
		idx++
	}
	return result
}
