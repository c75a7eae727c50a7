// Package bridge implements the AIG↔CNF bridge of spec.md §4.2: it builds,
// from an aiger.Graph, the transition relation T(x,i,c,x′,t) and its
// reified form T ↔ t, plus the safety CNFs derived from the circuit's one
// output - after registering a synthetic error latch that turns a
// combinational safety output into a state-space property.
package bridge

import (
	"fmt"
	"sort"

	"github.com/operator-framework/demiurge-synth/internal/aiger"
	"github.com/operator-framework/demiurge-synth/internal/cnf"
	"github.com/operator-framework/demiurge-synth/internal/lit"
	"github.com/operator-framework/demiurge-synth/internal/registry"
)

// Bridge holds the registry-backed translation of one aiger.Graph, plus the
// CNFs spec.md §4.2 names.
type Bridge struct {
	Reg *registry.Registry

	// Trans is T(x,i,c,x′,t): complete and deterministic in x′ given
	// x,i,c (spec.md §8's bridge-soundness property).
	Trans *cnf.CNF
	// TransEqT is T ↔ t, the reified form used when the caller needs to
	// conditionally negate the transition relation (spec.md §4.2).
	TransEqT *cnf.CNF
	// ReifiedLit is t in TransEqT.
	ReifiedLit lit.Lit

	Safe       *cnf.CNF
	Unsafe     *cnf.CNF
	NextSafe   *cnf.CNF
	NextUnsafe *cnf.CNF
	Initial    *cnf.CNF

	// ErrorLatch is the synthetic present-state variable registered for
	// the persistent error bit.
	ErrorLatch lit.Var

	// Deps maps every temporary (Tseitin gate) variable to the set of
	// kinds/ids its definition transitively reads, for the dependency-aware
	// extractor and TopologicalOrder (spec.md §3's "Dependency map").
	Deps *DependencyMap

	aigVar   map[uint32]lit.Var // aiger var -> our present-phase var
	andByVar map[uint32]aiger.And
}

// aigLitToLit translates an aiger.Lit to our lit.Lit using the var mapping
// already built for the graph.
func (b *Bridge) aigLitToLit(al aiger.Lit) lit.Lit {
	v := al.Var()
	if v == 0 {
		if al.IsPositive() {
			return lit.False
		}
		return lit.True
	}
	rv, ok := b.aigVar[v]
	if !ok {
		panic(fmt.Sprintf("bridge: aiger var %d referenced before definition", v))
	}
	return lit.Of(rv, al.IsPositive())
}

// Build translates g into a Bridge. g must have exactly one output (callers
// should reject multi-output graphs via aiger.ErrMultipleOutputs before
// calling Build).
func Build(reg *registry.Registry, g *aiger.Graph) *Bridge {
	b := &Bridge{
		Reg:      reg,
		Trans:    cnf.New(),
		TransEqT: cnf.New(),
		Safe:     cnf.New(),
		Unsafe:   cnf.New(),
		Initial:  cnf.New(),
		aigVar:   make(map[uint32]lit.Var, int(g.MaxVar)+1),
		andByVar: make(map[uint32]aiger.And, len(g.Ands)),
	}

	// 1. Register inputs.
	for _, in := range g.Inputs {
		kind := registry.KindUncontrollable
		if in.Controllable {
			kind = registry.KindControllable
		}
		name := in.Name
		if name == "" {
			name = fmt.Sprintf("i%d", in.Lit.Var())
		}
		v := reg.NewVar(kind, name)
		reg.SetAIGLit(v, in.Lit.Var())
		b.aigVar[in.Lit.Var()] = v
	}

	// 2. Register latches (present/next pairs).
	type latchInfo struct {
		x, xNext lit.Var
		next     aiger.Lit
	}
	latches := make([]latchInfo, 0, len(g.Latches)+1)
	for _, la := range g.Latches {
		name := la.Name
		if name == "" {
			name = fmt.Sprintf("l%d", la.Lit.Var())
		}
		x, xNext := reg.Pair(name, name+"'")
		reg.SetAIGLit(x, la.Lit.Var())
		b.aigVar[la.Lit.Var()] = x
		latches = append(latches, latchInfo{x: x, xNext: xNext, next: la.Next})
	}

	// 3. Register AND gates, in file order - AIGER requires fanins to
	// reference strictly smaller variables, so a single forward pass
	// suffices to resolve every reference.
	for _, a := range g.Ands {
		b.andByVar[a.Lit.Var()] = a
		gv := reg.NewVar(registry.KindTemporary, fmt.Sprintf("t%d", a.Lit.Var()))
		reg.SetAIGLit(gv, a.Lit.Var())
		b.aigVar[a.Lit.Var()] = gv
	}

	// 4. Synthetic error latch: err' = err ∨ output (spec.md §4.2).
	errX, errXNext := reg.Pair("__error", "__error'")
	b.ErrorLatch = errX
	latches = append(latches, latchInfo{x: errX, xNext: errXNext, next: 0 /* resolved specially below */})

	// 5. Emit AND-gate biconditionals for every gate transitively
	// referenced by the output or by any latch's next-state function
	// (spec.md §4.2's key procedure). The err latch's "next" is handled
	// separately since it is not a plain aiger literal.
	roots := make([]uint32, 0, len(latches))
	roots = append(roots, g.Output.Var())
	for _, li := range latches[:len(latches)-1] {
		roots = append(roots, li.next.Var())
	}
	referenced := b.transitiveAndVars(roots)

	// Emit in ascending var order for determinism.
	sortedVars := make([]uint32, 0, len(referenced))
	for v := range referenced {
		sortedVars = append(sortedVars, v)
	}
	sort.Slice(sortedVars, func(i, j int) bool { return sortedVars[i] < sortedVars[j] })

	b.Deps = newDependencyMap()
	for _, av := range sortedVars {
		a := b.andByVar[av]
		gv := b.aigVar[av]
		l := lit.Of(gv, true)
		r0 := b.aigLitToLit(a.In0)
		r1 := b.aigLitToLit(a.In1)
		// ℓ ↔ r0∧r1:
		b.Trans.AddClause(l.Not(), r0)
		b.Trans.AddClause(l.Not(), r1)
		b.Trans.AddClause(l, r0.Not(), r1.Not())
		b.Deps.define(gv, r0, r1, reg)
	}
	// Same AND-gate clauses back the reified transition relation.
	b.TransEqT.Append(gateClausesOnly(b.Trans))

	// 6. Output literal, lifted for the err-latch next-function and for
	// Safe/Unsafe.
	outLit := b.aigLitToLit(g.Output)

	// 7. Latch biconditionals: x_k′ ↔ next-state-literal_k.
	eqLits := make([]lit.Lit, 0, len(latches))
	for idx, li := range latches {
		var nextLit lit.Lit
		if idx == len(latches)-1 {
			// err' = err ∨ output
			errLit := lit.Of(li.x, true)
			nextLit = lit.Of(reg.NewVar(registry.KindTemporary, "__error_next"), true)
			b.Trans.AddClause(nextLit.Not(), errLit, outLit)
			b.Trans.AddClause(nextLit, errLit.Not())
			b.Trans.AddClause(nextLit, outLit.Not())
		} else {
			nextLit = b.aigLitToLit(li.next)
		}
		xNextLit := lit.Of(li.xNext, true)
		b.Trans.AddClause(xNextLit.Not(), nextLit)
		b.Trans.AddClause(xNextLit, nextLit.Not())

		// TransEqT: eq_k ↔ (x_k′ ↔ nextLit).
		eq := lit.Of(reg.NewVar(registry.KindParameter, fmt.Sprintf("__eq%d", idx)), true)
		a, bb := xNextLit, nextLit
		b.TransEqT.AddClause(eq.Not(), a.Not(), bb)
		b.TransEqT.AddClause(eq.Not(), a, bb.Not())
		b.TransEqT.AddClause(eq, a, bb)
		b.TransEqT.AddClause(eq, a.Not(), bb.Not())
		eqLits = append(eqLits, eq)
	}

	// 8. Aggregate t ↔ AND(eq_1,...,eq_n).
	t := lit.Of(reg.NewVar(registry.KindParameter, "__t"), true)
	for _, eq := range eqLits {
		b.TransEqT.AddClause(t.Not(), eq)
	}
	disj := append(lit.Clause{t}, negateAll(eqLits)...)
	b.TransEqT.AddClause(disj...)
	b.ReifiedLit = t

	// 9. Safety CNFs, over the error latch only.
	errLit := lit.Of(errX, true)
	b.Safe.AddClause(errLit.Not())
	b.Unsafe.AddClause(errLit)
	b.NextSafe = b.Safe.SwapPresentToNext(reg)
	b.NextUnsafe = b.Unsafe.SwapPresentToNext(reg)

	// 10. Initial: every present-state variable is 0.
	for _, li := range latches {
		b.Initial.AddClause(lit.Of(li.x, false))
	}

	// Pin the reserved constant-true variable so any solver session built
	// directly from Trans/TransEqT agrees with the AIGER constant wire.
	b.Trans.AddUnit(lit.True)
	b.TransEqT.AddUnit(lit.True)

	return b
}

func negateAll(ls []lit.Lit) []lit.Lit {
	out := make([]lit.Lit, len(ls))
	for i, l := range ls {
		out[i] = l.Not()
	}
	return out
}

// transitiveAndVars returns every AND-gate variable reachable from roots by
// following fanin edges.
func (b *Bridge) transitiveAndVars(roots []uint32) map[uint32]bool {
	seen := make(map[uint32]bool)
	var visit func(v uint32)
	visit = func(v uint32) {
		a, ok := b.andByVar[v]
		if !ok || seen[v] {
			return
		}
		seen[v] = true
		visit(a.In0.Var())
		visit(a.In1.Var())
	}
	for _, r := range roots {
		visit(r)
	}
	return seen
}

// gateClausesOnly returns a fresh copy of every clause of trans, for reuse
// inside TransEqT. It does not filter by clause shape: Build calls it
// before any latch wiring is added to Trans, so at that point every clause
// is one of the 3-clause AND-gate biconditional groups.
func gateClausesOnly(trans *cnf.CNF) *cnf.CNF {
	out := cnf.New()
	for _, cl := range trans.Clauses() {
		out.AddClause(cl...)
	}
	return out
}
