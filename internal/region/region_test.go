package region

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/operator-framework/demiurge-synth/internal/aiger"
	"github.com/operator-framework/demiurge-synth/internal/bridge"
	"github.com/operator-framework/demiurge-synth/internal/lit"
	"github.com/operator-framework/demiurge-synth/internal/registry"
	"github.com/operator-framework/demiurge-synth/internal/sat"
)

// scenario1 is spec.md §8 scenario 1: 0 latches, 1 uncontrollable input i,
// error = i. No controller can ever prevent the adversary raising the
// error, so the verdict must be unrealisable.
func scenario1(t *testing.T) (*registry.Registry, *bridge.Bridge) {
	t.Helper()
	g := &aiger.Graph{
		MaxVar: 1,
		Inputs: []aiger.Input{{Lit: 2, Name: "i"}},
		Output: 2,
	}
	reg := registry.New()
	return reg, bridge.Build(reg, g)
}

// scenario2 is spec.md §8 scenario 2: 0 latches, 1 controllable input c,
// error = c. Realisable by always choosing c = 0.
func scenario2(t *testing.T) (*registry.Registry, *bridge.Bridge) {
	t.Helper()
	g := &aiger.Graph{
		MaxVar: 1,
		Inputs: []aiger.Input{{Lit: 2, Name: "controllable_c", Controllable: true}},
		Output: 2,
	}
	reg := registry.New()
	return reg, bridge.Build(reg, g)
}

// scenario3 is spec.md §8 scenario 3: 1 latch x (init 0), 1 controllable c,
// next x ← c, error = x. Realisable; W = {x=0}.
func scenario3(t *testing.T) (*registry.Registry, *bridge.Bridge) {
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
	return reg, bridge.Build(reg, g)
}

// scenario5 is spec.md §8 scenario 5: 2 latches forming a one-bit buffer.
// The adversary injects into stage 0 (next s0 ← i); the controller decides
// whether stage 1 latches that injection (next s1 ← (c ∧ s0) ∨ (¬c ∧ s1));
// error = s1. A controller that always declines to latch (c = 0) is safe,
// but the engine only discovers this after first learning ¬s1 is required,
// then discovering that choice alone isn't yet inductive against further
// (s0=1, c=1) proposals - forcing a Solver-E restart before the region is
// confirmed inductive.
func scenario5(t *testing.T) (*registry.Registry, *bridge.Bridge) {
	t.Helper()
	g := &aiger.Graph{
		MaxVar: 7,
		Inputs: []aiger.Input{
			{Lit: 2, Name: "i"},
			{Lit: 4, Name: "controllable_c", Controllable: true},
		},
		Latches: []aiger.Latch{
			{Lit: 6, Next: 2, Name: "s0"},
			{Lit: 8, Next: 15, Name: "s1"},
		},
		Ands: []aiger.And{
			{Lit: 10, In0: 4, In1: 6},  // g1 = c ∧ s0
			{Lit: 12, In0: 5, In1: 8},  // g2 = ¬c ∧ s1
			{Lit: 14, In0: 11, In1: 13}, // g3 = ¬g1 ∧ ¬g2; next s1 = ¬g3
		},
		Output: 8,
	}
	reg := registry.New()
	return reg, bridge.Build(reg, g)
}

// scenario6 is spec.md §8 scenario 6, the Escape-Room benchmark: 3 latches
// x1, x2, x3 (each init 0), 1 uncontrollable i, 1 controllable c that only
// drives x2's next state - a true deadlock. error = ¬x1 ∧ ¬x2 ∧ ¬x3: the very state every
// run starts in is itself the trap, so no controller strategy can ever
// help and the unsat core proving this must cite all three latches.
func scenario6(t *testing.T) (*registry.Registry, *bridge.Bridge) {
	t.Helper()
	g := &aiger.Graph{
		MaxVar: 7,
		Inputs: []aiger.Input{
			{Lit: 2, Name: "i"},
			{Lit: 4, Name: "controllable_c", Controllable: true},
		},
		Latches: []aiger.Latch{
			{Lit: 6, Next: 2, Name: "x1"},
			{Lit: 8, Next: 4, Name: "x2"},
			{Lit: 10, Next: 2, Name: "x3"},
		},
		Ands: []aiger.And{
			{Lit: 12, In0: 7, In1: 9},   // g1 = ¬x1 ∧ ¬x2
			{Lit: 14, In0: 12, In1: 11}, // out = g1 ∧ ¬x3
		},
		Output: 14,
	}
	reg := registry.New()
	return reg, bridge.Build(reg, g)
}

// coreNegates reports whether core contains the negative phase of v.
func coreNegates(core []lit.Lit, v lit.Var) bool {
	for _, l := range core {
		if l.Var() == v && !l.IsPos() {
			return true
		}
	}
	return false
}

func TestEngineScenario1Unrealisable(t *testing.T) {
	reg, br := scenario1(t)
	e := New(reg, br, DefaultConfig(), sat.NewGini, nil, nil)
	res := e.ComputeWinningRegion()
	require.Equal(t, Unrealisable, res.Outcome)
	// The only present-state variable is the synthetic error bit, which
	// Solver-C's own W(x) already fixes to 0; the conflict comes from i
	// alone, so the present-state core is the empty cube.
	require.Empty(t, res.UnrealisabilityCore)
}

func TestEngineScenario5RealisableAfterMultipleIterations(t *testing.T) {
	reg, br := scenario5(t)
	e := New(reg, br, DefaultConfig(), sat.NewGini, nil, nil)
	res := e.ComputeWinningRegion()
	require.Equal(t, Realisable, res.Outcome)
	require.GreaterOrEqual(t, res.Iterations, 2, "the one-bit buffer's inductive region is only confirmed after a restart following the first blocking clause")
}

func TestEngineScenario6EscapeRoomUnrealisableCoreIsInitialCube(t *testing.T) {
	reg, br := scenario6(t)
	e := New(reg, br, DefaultConfig(), sat.NewGini, nil, nil)
	res := e.ComputeWinningRegion()
	require.Equal(t, Unrealisable, res.Outcome)

	x1, _ := reg.Lookup("x1")
	x2, _ := reg.Lookup("x2")
	x3, _ := reg.Lookup("x3")
	require.True(t, coreNegates(res.UnrealisabilityCore, x1), "core must pin x1=0, the initial value")
	require.True(t, coreNegates(res.UnrealisabilityCore, x2), "core must pin x2=0, the initial value")
	require.True(t, coreNegates(res.UnrealisabilityCore, x3), "core must pin x3=0, the initial value")
	for _, l := range res.UnrealisabilityCore {
		require.False(t, l.IsPos(), "every literal of an unrealisability core must be consistent with the all-zero initial state")
	}
}

func TestEngineScenario2Realisable(t *testing.T) {
	reg, br := scenario2(t)
	e := New(reg, br, DefaultConfig(), sat.NewGini, nil, nil)
	res := e.ComputeWinningRegion()
	require.Equal(t, Realisable, res.Outcome)
}

func TestEngineScenario3Realisable(t *testing.T) {
	reg, br := scenario3(t)
	e := New(reg, br, DefaultConfig(), sat.NewGini, nil, nil)
	res := e.ComputeWinningRegion()
	require.Equal(t, Realisable, res.Outcome)
	require.True(t, res.W.Len() > 0)
}

func TestEngineScenario1UnrealisableWithExpansion(t *testing.T) {
	reg, br := scenario1(t)
	cfg := DefaultConfig()
	cfg.UseExpansion = true
	e := New(reg, br, cfg, sat.NewGini, nil, nil)
	res := e.ComputeWinningRegion()
	require.Equal(t, Unrealisable, res.Outcome)
}

func TestEngineScenario3RealisableWithReachabilityRefinement(t *testing.T) {
	reg, br := scenario3(t)
	cfg := DefaultConfig()
	cfg.UseReachabilityRefinement = true
	e := New(reg, br, cfg, sat.NewGini, nil, nil)
	res := e.ComputeWinningRegion()
	require.Equal(t, Realisable, res.Outcome)
}
