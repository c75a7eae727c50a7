// Package expand implements the universal expander of spec.md §4.3: given a
// quantifier structure ∃Q₁.∀V.∃Q₂.φ it produces an equisatisfiable
// propositional formula by replacing each universal v ∈ V with the
// conjunction φ|_{v=0} ∧ φ|_{v=1} over a fresh copy of the variables
// existentially nested under v.
package expand

import (
	"fmt"
	"sort"

	"github.com/operator-framework/demiurge-synth/internal/cnf"
	"github.com/operator-framework/demiurge-synth/internal/lit"
	"github.com/operator-framework/demiurge-synth/internal/registry"
)

// Gate is a reconstructed two-input AND gate: Lit ↔ In0 ∧ In1.
type Gate struct {
	Lit      lit.Lit
	In0, In1 lit.Lit
}

// ReconstructGates reverses the CNF encoding the bridge emits, pattern-
// matching the triples of clauses {(¬ℓ∨r0), (¬ℓ∨r1), (ℓ∨¬r0∨¬r1)} back
// into AND gates (spec.md §4.3 step 1). This lets the expander perform
// cheap constant-propagation substitutions on the reconstructed gate graph
// instead of rewriting raw clauses.
//
// Not every clause of trans necessarily belongs to a clean AND-gate triple
// (the bridge's latch and reification wiring uses other Tseitin shapes);
// leftover returns every clause that ReconstructGates could not attribute
// to a gate, so callers can carry it through unexpanded rather than
// silently dropping it.
func ReconstructGates(trans *cnf.CNF) (gates []Gate, leftover *cnf.CNF) {
	// pos[l] collects every r such that a 2-literal clause {l.Not(), r}
	// was seen - a candidate "ℓ implies r" half of a gate definition.
	pos := make(map[lit.Lit][]lit.Lit)
	threes := make(map[lit.Lit][][2]lit.Lit)

	for _, cl := range trans.Clauses() {
		switch len(cl) {
		case 2:
			a, b := cl[0], cl[1]
			if a.Var() == b.Var() {
				continue
			}
			if !a.IsPos() {
				pos[a.Not()] = append(pos[a.Not()], b)
			} else if !b.IsPos() {
				pos[b.Not()] = append(pos[b.Not()], a)
			}
		case 3:
			// Try every literal as the candidate gate output ℓ.
			for i := 0; i < 3; i++ {
				l := cl[i]
				if !l.IsPos() {
					continue
				}
				var rest [2]lit.Lit
				j := 0
				for k := 0; k < 3; k++ {
					if k == i {
						continue
					}
					rest[j] = cl[k]
					j++
				}
				if rest[0].IsPos() || rest[1].IsPos() {
					continue
				}
				threes[l] = append(threes[l], [2]lit.Lit{rest[0].Not(), rest[1].Not()})
			}
		}
	}

	gateOutputs := make(map[lit.Lit]bool)
	for l, rs := range pos {
		if len(rs) != 2 {
			continue
		}
		r0, r1 := rs[0], rs[1]
		for _, cand := range threes[l] {
			if sameUnordered(cand[0], cand[1], r0, r1) {
				gates = append(gates, Gate{Lit: l, In0: r0, In1: r1})
				gateOutputs[l] = true
				break
			}
		}
	}
	sort.Slice(gates, func(i, j int) bool { return gates[i].Lit.Var() < gates[j].Lit.Var() })

	// A clause belongs to a reconstructed gate iff it is one of the triple's
	// three shapes for some gate output ℓ found above; every other clause -
	// including latch/reification wiring that never formed a complete
	// triple - is returned as leftover so callers never silently drop it.
	consumed := make(map[string]int)
	for _, g := range gates {
		consumed[clauseKey(lit.Clause{g.Lit.Not(), g.In0})]++
		consumed[clauseKey(lit.Clause{g.Lit.Not(), g.In1})]++
		consumed[clauseKey(lit.Clause{g.Lit, g.In0.Not(), g.In1.Not()})]++
	}
	leftover = cnf.New()
	for _, cl := range trans.Clauses() {
		norm, _ := append(lit.Clause(nil), cl...).Normalize()
		key := clauseKey(norm)
		if consumed[key] > 0 {
			consumed[key]--
			continue
		}
		leftover.AddClause(cl...)
	}
	return gates, leftover
}

func clauseKey(cl lit.Clause) string {
	norm, _ := append(lit.Clause(nil), cl...).Normalize()
	b := make([]byte, 0, len(norm)*5)
	for _, l := range norm {
		b = append(b, []byte(l.String())...)
		b = append(b, ',')
	}
	return string(b)
}

func sameUnordered(a0, a1, b0, b1 lit.Lit) bool {
	return (a0 == b0 && a1 == b1) || (a0 == b1 && a1 == b0)
}

// volatileVars returns every variable referenced in c that is not a gate
// output (already handled by dependents) and is a Tseitin temporary, a solver
// parameter or a next-state variable - the variables additional defines on
// its own (e.g. x′ through the latch wiring), which only a branch-local fresh
// copy keeps sound. Present-state, uncontrollable, controllable and
// previous-step shadow variables are shared by every branch.
func volatileVars(c *cnf.CNF, reg *registry.Registry, gates []Gate) []lit.Var {
	if c == nil {
		return nil
	}
	gateOut := make(map[lit.Var]bool, len(gates))
	for _, g := range gates {
		gateOut[g.Lit.Var()] = true
	}
	seen := make(map[lit.Var]bool)
	var out []lit.Var
	for _, cl := range c.Clauses() {
		for _, l := range cl {
			v := l.Var()
			if seen[v] || gateOut[v] {
				continue
			}
			seen[v] = true
			switch reg.Kind(v) {
			case registry.KindTemporary, registry.KindParameter, registry.KindNextState:
				out = append(out, v)
			}
		}
	}
	return out
}

func appendUnique(dst []lit.Var, extra []lit.Var) []lit.Var {
	present := make(map[lit.Var]bool, len(dst))
	for _, v := range dst {
		present[v] = true
	}
	for _, v := range extra {
		if !present[v] {
			present[v] = true
			dst = append(dst, v)
		}
	}
	return dst
}

// Options configures one Expand call.
type Options struct {
	// MaxLiterals bounds the total literal count of the produced formula.
	// Zero means unbounded.
	MaxLiterals int
	// Cancel, if non-nil, is polled at gate-processing granularity; if it
	// returns true the expansion aborts early.
	Cancel func() bool
}

// Result is the outcome of one Expand call.
type Result struct {
	Formula      *cnf.CNF
	SizeExceeded bool
	Cancelled    bool
}

// Expander eliminates a block of universally-quantified variables from a
// gate graph plus an additional CNF matrix.
type Expander struct {
	Reg  *registry.Registry
	Opts Options
}

// New returns an Expander over reg with the given options.
func New(reg *registry.Registry, opts Options) *Expander {
	return &Expander{Reg: reg, Opts: opts}
}

// branch is one leaf of the expansion tree: a set of constant assignments
// for already-eliminated universals, plus a renaming of every variable
// that was forked because it depended on a universal assigned 0.
type branch struct {
	consts map[lit.Var]lit.Lit
	rename lit.RenameMap
}

func (b *branch) clone() *branch {
	nc := make(map[lit.Var]lit.Lit, len(b.consts))
	for k, v := range b.consts {
		nc[k] = v
	}
	nr := make(lit.RenameMap, len(b.rename))
	for k, v := range b.rename {
		nr[k] = v
	}
	return &branch{consts: nc, rename: nr}
}

func (b *branch) resolve(l lit.Lit) lit.Lit {
	v := l.Var()
	if c, ok := b.consts[v]; ok {
		if l.IsPos() {
			return c
		}
		return c.Not()
	}
	if nv, ok := b.rename[v]; ok {
		return lit.Of(nv, l.IsPos())
	}
	return l
}

// dependents returns, for every variable reachable as a gate output, the
// set of universal variables (from universals) its definition transitively
// reads - used both to order elimination (fewest dependents first) and to
// decide which variables a branch must fork when a universal is set to 0.
func dependents(gates []Gate, universals []lit.Var) (dependsOn map[lit.Var]map[lit.Var]bool, dependedBy map[lit.Var][]lit.Var) {
	direct := make(map[lit.Var][2]lit.Var, len(gates))
	order := make([]lit.Var, 0, len(gates))
	for _, g := range gates {
		direct[g.Lit.Var()] = [2]lit.Var{g.In0.Var(), g.In1.Var()}
		order = append(order, g.Lit.Var())
	}
	uset := make(map[lit.Var]bool, len(universals))
	for _, u := range universals {
		uset[u] = true
	}
	dependsOn = make(map[lit.Var]map[lit.Var]bool, len(order))
	var closure func(v lit.Var) map[lit.Var]bool
	memo := make(map[lit.Var]map[lit.Var]bool)
	closure = func(v lit.Var) map[lit.Var]bool {
		if c, ok := memo[v]; ok {
			return c
		}
		out := make(map[lit.Var]bool)
		if uset[v] {
			out[v] = true
		}
		if fanin, ok := direct[v]; ok {
			for _, f := range fanin {
				for dv := range closure(f) {
					out[dv] = true
				}
			}
		}
		memo[v] = out
		return out
	}
	for _, v := range order {
		dependsOn[v] = closure(v)
	}
	dependedBy = make(map[lit.Var][]lit.Var)
	for v, set := range dependsOn {
		for u := range set {
			dependedBy[u] = append(dependedBy[u], v)
		}
	}
	return
}

// orderUniversals returns universals sorted so that the variable whose
// elimination forks the fewest dependents is processed first, per spec.md
// §4.3 step 2.
func orderUniversals(universals []lit.Var, dependedBy map[lit.Var][]lit.Var) []lit.Var {
	out := append([]lit.Var(nil), universals...)
	sort.Slice(out, func(i, j int) bool { return len(dependedBy[out[i]]) < len(dependedBy[out[j]]) })
	return out
}

// Expand eliminates universals from gates (the AND-gate graph underlying
// the matrix) and appends, per branch, the literals of additional
// (resolved through that branch's constants/renaming). The returned
// Formula is the conjunction of every branch's re-encoded gates and
// resolved additional clauses - an equisatisfiable, purely existential
// formula (spec.md §8, "Expander equisatisfiability").
func (e *Expander) Expand(gates []Gate, additional *cnf.CNF, universals []lit.Var) Result {
	if len(universals) == 0 {
		out := cnf.New()
		for _, g := range gates {
			emitGate(out, g.Lit, g.In0, g.In1)
		}
		if additional != nil {
			out.Append(additional)
		}
		out.AddUnit(lit.True)
		return Result{Formula: out}
	}

	_, dependedBy := dependents(gates, universals)
	order := orderUniversals(universals, dependedBy)

	// additional may carry clauses ReconstructGates could not attribute to a
	// gate (leftover): e.g. a latch-wiring reification whose output is a
	// universal itself rather than a gate built from one. The variables such
	// clauses define are existentially nested under every universal just as
	// surely as a gate output would be, so they must also get a fresh copy
	// per v=0 branch - otherwise two branches would be forced to agree on a
	// variable that the quantifier prefix says they need not. Since we don't
	// track which specific universal a leftover variable depends on, treat
	// it as a dependent of all of them; the extra forking this costs is
	// bounded by |universals|, not by formula size.
	if leftover := volatileVars(additional, e.Reg, gates); len(leftover) > 0 {
		for _, v := range universals {
			dependedBy[v] = appendUnique(dependedBy[v], leftover)
		}
	}

	branches := []*branch{{consts: map[lit.Var]lit.Lit{}, rename: lit.RenameMap{}}}

	// The branch set doubles with every universal eliminated, so a run with
	// many universals (e.g. the Reset solver I back-end, which expands all
	// controllables at once) must be checked for cancellation/size here,
	// before the next doubling round, not only once the full 2^|universals|
	// tree already exists.
	for _, v := range order {
		if e.Opts.Cancel != nil && e.Opts.Cancel() {
			return Result{Cancelled: true}
		}
		// Each branch carries at least one literal once emitted, so the
		// post-doubling branch count is a cheap lower bound on the final
		// literal total; good enough to abort an exponential blow-up before
		// it doubles again, even though the real total (checked again below,
		// per finished branch) can only be known after resolution.
		if e.Opts.MaxLiterals > 0 && len(branches)*2 > e.Opts.MaxLiterals {
			return Result{SizeExceeded: true}
		}

		dependentVars := dependedBy[v]
		next := make([]*branch, 0, len(branches)*2)
		for _, br := range branches {
			brTrue := br.clone()
			brTrue.consts[v] = lit.True

			brFalse := br.clone()
			brFalse.consts[v] = lit.False
			for _, dep := range dependentVars {
				if dep == v {
					continue
				}
				fresh := e.Reg.NewVar(e.Reg.Kind(dep), fmt.Sprintf("%s$u%d", e.Reg.Desc(dep).Name, v))
				brFalse.rename[dep] = fresh
			}
			next = append(next, brTrue, brFalse)
		}
		branches = next
	}

	out := cnf.New()
	total := 0
	seen := make(map[string]bool, len(branches))
	for _, br := range branches {
		if e.Opts.Cancel != nil && e.Opts.Cancel() {
			return Result{Formula: out, Cancelled: true}
		}
		branchCNF, emitted := e.resolveBranch(br, gates, additional)
		if e.Opts.Cancel != nil && e.Opts.Cancel() {
			// resolveBranch stops mid-branch on cancellation; its partial
			// output must not be returned as a complete formula.
			return Result{Formula: out, Cancelled: true}
		}
		sig := signature(branchCNF)
		if seen[sig] {
			continue // structural sharing: identical branch formula already emitted
		}
		seen[sig] = true
		_ = emitted
		out.Append(branchCNF)
		total += totalLiterals(branchCNF)
		if e.Opts.MaxLiterals > 0 && total > e.Opts.MaxLiterals {
			return Result{Formula: out, SizeExceeded: true}
		}
	}
	out.AddUnit(lit.True)
	return Result{Formula: out}
}

// resolveBranch evaluates gates under br's substitution with constant
// propagation and hash-consing, re-encodes the surviving gates to CNF, and
// resolves additional's literals through the same substitution.
func (e *Expander) resolveBranch(br *branch, gates []Gate, additional *cnf.CNF) (*cnf.CNF, []Gate) {
	val := make(map[lit.Var]lit.Lit, len(gates))
	hashcons := make(map[[2]lit.Lit]lit.Lit, len(gates))
	out := cnf.New()
	var emitted []Gate

	resolveLit := func(l lit.Lit) lit.Lit {
		v := l.Var()
		if r, ok := val[v]; ok {
			if l.IsPos() {
				return r
			}
			return r.Not()
		}
		return br.resolve(l)
	}

	for _, g := range gates {
		if e.Opts.Cancel != nil && e.Opts.Cancel() {
			break
		}
		r0 := resolveLit(g.In0)
		r1 := resolveLit(g.In1)
		result := constFold(r0, r1)
		if result.IsNull() {
			key := hashconsKey(r0, r1)
			if existing, ok := hashcons[key]; ok {
				result = existing
			} else {
				freshVar := e.Reg.NewVar(registry.KindTemporary, fmt.Sprintf("u%d", g.Lit.Var()))
				result = lit.Of(freshVar, true)
				hashcons[key] = result
				emitGate(out, result, r0, r1)
				emitted = append(emitted, Gate{Lit: result, In0: r0, In1: r1})
			}
		}
		val[g.Lit.Var()] = result
	}

	if additional != nil {
		for _, cl := range additional.Clauses() {
			resolved := make(lit.Clause, len(cl))
			for i, l := range cl {
				resolved[i] = resolveLit(l)
			}
			out.AddClause(resolved...)
		}
	}
	return out, emitted
}

// constFold implements AND(1,x)→x, AND(0,_)→0, AND(x,x)→x, AND(x,¬x)→0; it
// returns lit.Lit(0) (null) if no constant-propagation rule applies.
func constFold(r0, r1 lit.Lit) lit.Lit {
	switch {
	case r0 == lit.False || r1 == lit.False:
		return lit.False
	case r0 == lit.True:
		return r1
	case r1 == lit.True:
		return r0
	case r0 == r1:
		return r0
	case r0 == r1.Not():
		return lit.False
	default:
		return 0
	}
}

func hashconsKey(r0, r1 lit.Lit) [2]lit.Lit {
	if r0 > r1 {
		r0, r1 = r1, r0
	}
	return [2]lit.Lit{r0, r1}
}

// emitGate appends the 3-clause AND-gate biconditional l ↔ r0∧r1.
func emitGate(out *cnf.CNF, l, r0, r1 lit.Lit) {
	out.AddClause(l.Not(), r0)
	out.AddClause(l.Not(), r1)
	out.AddClause(l, r0.Not(), r1.Not())
}

func totalLiterals(c *cnf.CNF) int {
	n := 0
	for _, cl := range c.Clauses() {
		n += len(cl)
	}
	return n
}

func signature(c *cnf.CNF) string {
	b := make([]byte, 0, 64)
	for _, cl := range c.Clauses() {
		for _, l := range cl {
			b = append(b, []byte(l.String())...)
			b = append(b, ' ')
		}
		b = append(b, '|')
	}
	return string(b)
}
