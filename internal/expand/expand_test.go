package expand

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/operator-framework/demiurge-synth/internal/cnf"
	"github.com/operator-framework/demiurge-synth/internal/lit"
	"github.com/operator-framework/demiurge-synth/internal/registry"
	"github.com/operator-framework/demiurge-synth/internal/sat"
)

func TestReconstructGatesRoundTrip(t *testing.T) {
	reg := registry.New()
	a := reg.NewVar(registry.KindControllable, "a")
	b := reg.NewVar(registry.KindControllable, "b")
	g := reg.NewVar(registry.KindTemporary, "g")

	trans := cnf.New()
	emitGate(trans, lit.Of(g, true), lit.Of(a, true), lit.Of(b, true))

	gates, leftover := ReconstructGates(trans)
	require.Len(t, gates, 1)
	require.Equal(t, lit.Of(g, true), gates[0].Lit)
	require.True(t, sameUnordered(gates[0].In0, gates[0].In1, lit.Of(a, true), lit.Of(b, true)))
	require.Equal(t, 0, leftover.Len())
}

func TestReconstructGatesLeftover(t *testing.T) {
	reg := registry.New()
	a := reg.NewVar(registry.KindControllable, "a")
	b := reg.NewVar(registry.KindControllable, "b")

	trans := cnf.New()
	// A plain biconditional a ↔ b has no matching 3-literal triple, so it
	// must surface as leftover rather than a reconstructed gate.
	trans.AddClause(lit.Of(a, false), lit.Of(b, true))
	trans.AddClause(lit.Of(a, true), lit.Of(b, false))

	gates, leftover := ReconstructGates(trans)
	require.Len(t, gates, 0)
	require.Equal(t, 2, leftover.Len())
}

// TestExpandEquisatisfiableUnsat checks spec.md §8's "expander equisatisfiability"
// property: ∀v.(g ↔ v∧x) ∧ g is unsatisfiable for every x (since the v=0
// branch always forces g false while the clause demands g true), and the
// expanded, purely-existential formula must agree.
func TestExpandEquisatisfiableUnsat(t *testing.T) {
	reg := registry.New()
	v := reg.NewVar(registry.KindUncontrollable, "v")
	x := reg.NewVar(registry.KindControllable, "x")
	g := reg.NewVar(registry.KindTemporary, "g")

	gates := []Gate{{Lit: lit.Of(g, true), In0: lit.Of(v, true), In1: lit.Of(x, true)}}
	additional := cnf.New()
	additional.AddUnit(lit.Of(g, true))

	e := New(reg, Options{})
	res := e.Expand(gates, additional, []lit.Var{v})
	require.False(t, res.SizeExceeded)
	require.False(t, res.Cancelled)

	s := sat.NewGini()
	for _, cl := range res.Formula.Clauses() {
		s.AddClause(cl...)
	}
	require.Equal(t, sat.Unsat, s.Solve())
}

// TestExpandEquisatisfiableSat checks the satisfiable direction: ∀v.(g ↔
// v→x) with x fixed true is satisfiable (v→x holds for every v when x is
// true), and so must the expansion.
func TestExpandEquisatisfiableSat(t *testing.T) {
	reg := registry.New()
	v := reg.NewVar(registry.KindUncontrollable, "v")
	x := reg.NewVar(registry.KindControllable, "x")
	// g ↔ ¬v ∨ x, built from an AND gate over negations: ¬g ↔ v ∧ ¬x.
	notG := reg.NewVar(registry.KindTemporary, "notg")
	gates := []Gate{{Lit: lit.Of(notG, true), In0: lit.Of(v, true), In1: lit.Of(x, false)}}
	additional := cnf.New()
	additional.AddUnit(lit.Of(x, true))
	additional.AddUnit(lit.Of(notG, false)) // assert g, i.e. ¬(v ∧ ¬x)

	e := New(reg, Options{})
	res := e.Expand(gates, additional, []lit.Var{v})
	s := sat.NewGini()
	for _, cl := range res.Formula.Clauses() {
		s.AddClause(cl...)
	}
	require.Equal(t, sat.Sat, s.Solve())
}

// TestExpandVolatileVarsGetFreshCopies checks that a temporary referenced
// only from additional (never reconstructed as a gate, as with the bridge's
// latch/reification wiring) still gets a fresh copy per v=0 branch.
// ∀v∃t.(t ↔ v) is satisfiable - each branch picks its own matching t - but
// would wrongly come out unsat if both branches shared one physical t
// variable, since that forces t to be simultaneously 0 and 1.
func TestExpandVolatileVarsGetFreshCopies(t *testing.T) {
	reg := registry.New()
	v := reg.NewVar(registry.KindUncontrollable, "v")
	tmp := reg.NewVar(registry.KindTemporary, "t")

	additional := cnf.New()
	additional.AddClause(lit.Of(tmp, false), lit.Of(v, true))
	additional.AddClause(lit.Of(tmp, true), lit.Of(v, false))

	e := New(reg, Options{})
	res := e.Expand(nil, additional, []lit.Var{v})
	require.False(t, res.SizeExceeded)

	s := sat.NewGini()
	for _, cl := range res.Formula.Clauses() {
		s.AddClause(cl...)
	}
	require.Equal(t, sat.Sat, s.Solve())
}

func TestExpandSizeGuard(t *testing.T) {
	reg := registry.New()
	v := reg.NewVar(registry.KindUncontrollable, "v")
	x := reg.NewVar(registry.KindControllable, "x")
	g := reg.NewVar(registry.KindTemporary, "g")
	gates := []Gate{{Lit: lit.Of(g, true), In0: lit.Of(v, true), In1: lit.Of(x, true)}}
	additional := cnf.New()
	additional.AddUnit(lit.Of(g, true))

	e := New(reg, Options{MaxLiterals: 1})
	res := e.Expand(gates, additional, []lit.Var{v})
	require.True(t, res.SizeExceeded)
}
