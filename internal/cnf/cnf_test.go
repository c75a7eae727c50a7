package cnf

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/operator-framework/demiurge-synth/internal/lit"
	"github.com/operator-framework/demiurge-synth/internal/registry"
)

func newRegistryForTest(t *testing.T) *registry.Registry {
	t.Helper()
	return registry.New()
}

func TestAddClauseDropsTautology(t *testing.T) {
	c := New()
	c.AddClause(1, -1, 2)
	require.Equal(t, 0, c.Len())
}

func TestAddClauseDedupsLiterals(t *testing.T) {
	c := New()
	c.AddClause(1, 2, 1, 2)
	require.Equal(t, 1, c.Len())
	require.Equal(t, lit.Clause{1, 2}, c.Clauses()[0])
}

func TestAddClauseAndSimplifySubsumption(t *testing.T) {
	c := New()
	c.AddClauseAndSimplify(1, 2, 3)
	c.AddClauseAndSimplify(1, 2)
	require.Equal(t, 1, c.Len(), "shorter clause should subsume and replace the longer one")
	require.Equal(t, lit.Clause{1, 2}, c.Clauses()[0])

	c2 := New()
	c2.AddClauseAndSimplify(1, 2)
	c2.AddClauseAndSimplify(1, 2, 3)
	require.Equal(t, 1, c2.Len(), "longer clause should be rejected as already subsumed")
}

func TestNegateRoundTrip(t *testing.T) {
	// C = (1 ∨ 2) ∧ (¬1 ∨ 3)
	c := New()
	c.AddClause(1, 2)
	c.AddClause(-1, 3)

	next := lit.Var(10)
	negated := c.Negate(func() lit.Var {
		next++
		return next
	})

	// every model of C, restricted to {1,2,3}, must NOT satisfy negated,
	// and every model of ¬C must satisfy negated. Enumerate all 8 models.
	for a := 0; a < 2; a++ {
		for b := 0; b < 2; b++ {
			for d := 0; d < 2; d++ {
				model := map[lit.Lit]bool{
					lit.Of(1, a == 1): true,
					lit.Of(2, b == 1): true,
					lit.Of(3, d == 1): true,
				}
				cSat := modelSatisfies(c, model)
				negSat := modelSatisfiesFreeVars(negated, model)
				require.Equal(t, !cSat, negSat, "a=%d b=%d d=%d", a, b, d)
			}
		}
	}
}

func TestRoundTripNegateNegate(t *testing.T) {
	c := New()
	c.AddClause(1, 2)
	c.AddClause(-2, 3)

	next := lit.Var(100)
	fresh := func() lit.Var {
		next++
		return next
	}
	once := c.Negate(fresh)
	twice := once.Negate(fresh)

	for a := 0; a < 2; a++ {
		for b := 0; b < 2; b++ {
			for d := 0; d < 2; d++ {
				model := map[lit.Lit]bool{
					lit.Of(1, a == 1): true,
					lit.Of(2, b == 1): true,
					lit.Of(3, d == 1): true,
				}
				require.Equal(t, modelSatisfies(c, model), modelSatisfiesFreeVars(twice, model))
			}
		}
	}
}

func TestCompressSubsumptionIdempotent(t *testing.T) {
	c := New()
	c.AddClause(1, 2, 3)
	c.AddClause(1, 2)
	c.AddClause(4)
	c.CompressSubsumption()
	once := append([]lit.Clause(nil), c.Clauses()...)
	c.CompressSubsumption()
	require.ElementsMatch(t, once, c.Clauses())
}

func TestSwapPresentToNext(t *testing.T) {
	reg := newRegistryForTest(t)
	x, xNext := reg.Pair("x", "x'")
	c := New()
	c.AddClause(lit.Of(x, true))
	swapped := c.SwapPresentToNext(reg)
	require.Equal(t, lit.Clause{lit.Of(xNext, true)}, swapped.Clauses()[0])
}

// modelSatisfies reports whether every clause of c has a satisfied literal
// under model (unassigned literals count as false).
func modelSatisfies(c *CNF, model map[lit.Lit]bool) bool {
	for _, cl := range c.Clauses() {
		sat := false
		for _, l := range cl {
			if model[l] {
				sat = true
				break
			}
		}
		if !sat {
			return false
		}
	}
	return true
}

// modelSatisfiesFreeVars reports whether some extension of model over the
// auxiliary ("clause-false") variables of negated satisfies it; used to
// check Negate's contract, which only constrains the original variables.
func modelSatisfiesFreeVars(c *CNF, model map[lit.Lit]bool) bool {
	aux := map[lit.Var]bool{}
	for _, cl := range c.Clauses() {
		for _, l := range cl {
			if _, fixed := model[l]; !fixed {
				if _, fixedNot := model[l.Not()]; !fixedNot {
					aux[l.Var()] = true
				}
			}
		}
	}
	vars := make([]lit.Var, 0, len(aux))
	for v := range aux {
		vars = append(vars, v)
	}
	n := len(vars)
	for mask := 0; mask < (1 << n); mask++ {
		ext := map[lit.Lit]bool{}
		for k, v := range model {
			ext[k] = v
		}
		for i, v := range vars {
			pos := mask&(1<<i) != 0
			ext[lit.Of(v, true)] = pos
			ext[lit.Of(v, false)] = !pos
		}
		if modelSatisfies(c, ext) {
			return true
		}
	}
	return n == 0 && modelSatisfies(c, model)
}
