package region

import (
	"github.com/operator-framework/demiurge-synth/internal/cnf"
	"github.com/operator-framework/demiurge-synth/internal/expand"
	"github.com/operator-framework/demiurge-synth/internal/lit"
	"github.com/operator-framework/demiurge-synth/internal/registry"
	"github.com/operator-framework/demiurge-synth/internal/sat"
)

// buildEscapeFormula implements spec.md §4.3's "Reset solver I": it
// reconstructs the AND gates underlying Trans, expands the controllables
// away from T ∧ W(x) ∧ ¬W(x′), and returns the resulting purely-existential
// formula over (x,i) - satisfiable iff the adversary can force an escape
// from W regardless of the controller's response.
func (e *Engine) buildEscapeFormula() expand.Result {
	gates, leftover := expand.ReconstructGates(e.Br.Trans)

	additional := cnf.New()
	additional.Append(leftover)
	additional.Append(e.w)
	wNext := e.w.SwapPresentToNext(e.Reg)
	additional.Append(wNext.Negate(e.newParam))

	exp := expand.New(e.Reg, expand.Options{
		MaxLiterals: e.Cfg.ExpansionMaxLiterals,
		Cancel:      e.Cfg.ExpansionCancel,
	})
	return exp.Expand(gates, additional, e.Reg.ByKind(registry.KindControllable))
}

// computeWinningRegionExpansion runs the expansion-mode backend: each
// iteration rebuilds and solves the Reset-solver-I formula in one shot. Its
// bool result reports whether it produced a verdict at all - false means
// the expander hit its size guard and the caller should fall back to the
// incremental backend, continuing from whatever W this loop already
// shrunk (spec.md §7, "Resource exhaustion ... causes the engine to fall
// back to the non-expanded path").
func (e *Engine) computeWinningRegionExpansion() (Result, bool) {
	stateVars := e.Reg.ByKind(registry.KindPresentState)
	res := Result{}
	for {
		res.Iterations++
		if e.Metrics != nil {
			e.Metrics.FixpointIterations.Inc()
		}

		expanded := e.buildEscapeFormula()
		if expanded.SizeExceeded || expanded.Cancelled {
			if e.Metrics != nil {
				e.Metrics.ExpansionSizeAborts.Inc()
			}
			return Result{}, false
		}

		s := e.newSession()
		loadCNF(s, expanded.Formula)
		if s.Solve() != sat.Sat {
			res.Outcome = Realisable
			res.W = e.w
			return res, true
		}

		x := cubeFromModel(s, stateVars)
		if coreImpliesInitial(x, e.Reg) {
			res.Outcome = Unrealisable
			res.W = e.w
			res.UnrealisabilityCore = x
			return res, true
		}

		blocking := lit.Negated(x)
		e.w.AddClauseAndSimplify(blocking...)
		if e.Metrics != nil {
			e.Metrics.BlockingClauses.Inc()
			e.Metrics.WinningRegionClauses.Set(float64(e.w.Len()))
		}
	}
}
