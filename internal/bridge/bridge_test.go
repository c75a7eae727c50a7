package bridge

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/operator-framework/demiurge-synth/internal/aiger"
	"github.com/operator-framework/demiurge-synth/internal/lit"
	"github.com/operator-framework/demiurge-synth/internal/registry"
	"github.com/operator-framework/demiurge-synth/internal/sat"
)

// buildScenario3 builds spec.md §8 scenario 3: one latch x (init 0), one
// controllable input c, next x ← c, error = x.
func buildScenario3(t *testing.T) (*registry.Registry, *Bridge) {
	t.Helper()
	g := &aiger.Graph{
		MaxVar: 2,
		Inputs: []aiger.Input{{Lit: 2, Name: "controllable_c", Controllable: true}},
		Latches: []aiger.Latch{
			{Lit: 4, Next: 2, Name: "x"},
		},
		Output: 4,
	}
	reg := registry.New()
	b := Build(reg, g)
	return reg, b
}

func TestBridgeInitialForcesAllLatchesZero(t *testing.T) {
	reg, b := buildScenario3(t)
	x, _ := reg.Lookup("x")
	errV, _ := reg.Lookup("__error")
	require.True(t, b.Initial.Contains(lit.Of(x, false)))
	require.True(t, b.Initial.Contains(lit.Of(errV, false)))
}

func TestBridgeSafeForbidsError(t *testing.T) {
	_, b := buildScenario3(t)
	require.Equal(t, 1, b.Safe.Len())
	require.Equal(t, 1, b.Unsafe.Len())
}

func TestBridgeTransTotalAndDeterministic(t *testing.T) {
	reg, b := buildScenario3(t)
	x, _ := reg.Lookup("x")
	c, _ := reg.Lookup("controllable_c")
	errV, _ := reg.Lookup("__error")
	xNext := reg.Desc(x).Partner
	errNext := reg.Desc(errV).Partner

	for _, xv := range []bool{false, true} {
		for _, cv := range []bool{false, true} {
			for _, ev := range []bool{false, true} {
				s := sat.NewGini()
				for _, cl := range b.Trans.Clauses() {
					s.AddClause(cl...)
				}
				s.Assume(lit.Of(x, xv), lit.Of(c, cv), lit.Of(errV, ev))
				require.Equal(t, sat.Sat, s.Solve(), "trans must be total")
				wantXNext := cv // next x <- c
				wantErrNext := ev || xv
				require.Equal(t, wantXNext, s.Value(xNext))
				require.Equal(t, wantErrNext, s.Value(errNext))
			}
		}
	}
}
