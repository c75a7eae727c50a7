// Package cnf implements the CNF container described in spec.md §4.1: an
// ordered multiset of clauses with the primitives the rest of the module
// builds on - add/negate/rename/swap/dedup/compress.
package cnf

import (
	"sort"

	"github.com/operator-framework/demiurge-synth/internal/lit"
	"github.com/operator-framework/demiurge-synth/internal/registry"
)

// CNF is an insertion-ordered list of clauses.
type CNF struct {
	clauses []lit.Clause
}

// New returns an empty CNF.
func New() *CNF { return &CNF{} }

// Clauses returns the clauses of c in insertion order. Callers must not
// mutate the returned slice or its elements.
func (c *CNF) Clauses() []lit.Clause { return c.clauses }

// Len returns the number of clauses.
func (c *CNF) Len() int { return len(c.clauses) }

// AddClause inserts a clause as-is after normalisation; tautologies are
// dropped, per spec.md §3's Clause invariant.
func (c *CNF) AddClause(ls ...lit.Lit) {
	cl := append(lit.Clause(nil), ls...)
	cl, taut := cl.Normalize()
	if taut {
		return
	}
	c.clauses = append(c.clauses, cl)
}

// AddUnit adds the unit clause {l}.
func (c *CNF) AddUnit(l lit.Lit) { c.AddClause(l) }

// Add2Lit adds the 2-literal clause {a, b}.
func (c *CNF) Add2Lit(a, b lit.Lit) { c.AddClause(a, b) }

// Add3Lit adds the 3-literal clause {a, b, d}.
func (c *CNF) Add3Lit(a, b, d lit.Lit) { c.AddClause(a, b, d) }

// AddNegatedCubeAsClause adds the clause whose literals are the negation of
// every literal in cube - i.e. it forbids the conjunction cube represents.
func (c *CNF) AddNegatedCubeAsClause(cube []lit.Lit) {
	c.AddClause(lit.Negated(cube)...)
}

// Contains reports whether some clause of c is exactly {l} (a known unit).
func (c *CNF) Contains(l lit.Lit) bool {
	for _, cl := range c.clauses {
		if len(cl) == 1 && cl[0] == l {
			return true
		}
	}
	return false
}

// IsSatisfiedBy reports whether every clause of c has at least one literal
// present (with matching polarity) in cube.
func (c *CNF) IsSatisfiedBy(cube []lit.Lit) bool {
	set := make(map[lit.Lit]bool, len(cube))
	for _, l := range cube {
		set[l] = true
	}
	for _, cl := range c.clauses {
		sat := false
		for _, l := range cl {
			if set[l] {
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

// subsumes reports whether a is a subset of b (as literal sets), which
// means a subsumes b: whenever a is satisfied, so is b, so b is redundant
// in a's presence.
func subsumes(a, b lit.Clause) bool {
	if len(a) > len(b) {
		return false
	}
	bset := make(map[lit.Lit]bool, len(b))
	for _, l := range b {
		bset[l] = true
	}
	for _, l := range a {
		if !bset[l] {
			return false
		}
	}
	return true
}

// AddClauseAndSimplify adds cl unless it is already subsumed by an existing
// clause, and drops any existing clause that cl subsumes - spec.md §4.1.
func (c *CNF) AddClauseAndSimplify(ls ...lit.Lit) {
	cl := append(lit.Clause(nil), ls...)
	cl, taut := cl.Normalize()
	if taut {
		return
	}
	kept := c.clauses[:0:0]
	for _, existing := range c.clauses {
		if subsumes(existing, cl) {
			return // existing already forbids everything cl forbids (and more)
		}
		if !subsumes(cl, existing) {
			kept = append(kept, existing)
		}
	}
	c.clauses = append(kept, cl)
}

// SwapPresentToNext renames every literal whose variable is a present-state
// variable to its paired next-state variable and vice versa, via reg's
// Partner links.
func (c *CNF) SwapPresentToNext(reg *registry.Registry) *CNF {
	m := make(lit.RenameMap)
	for _, cl := range c.clauses {
		for _, l := range cl {
			v := l.Var()
			if _, ok := m[v]; ok {
				continue
			}
			d := reg.Desc(v)
			if (d.Kind == registry.KindPresentState || d.Kind == registry.KindNextState) && d.Partner != 0 {
				m[v] = d.Partner
			}
		}
	}
	return c.RenameVars(m)
}

// RenameVars returns a new CNF with every literal renamed according to m;
// unmapped variables are left alone. Duplicate literals introduced by the
// renaming are collapsed by the per-clause Normalize call.
func (c *CNF) RenameVars(m lit.RenameMap) *CNF {
	out := New()
	for _, cl := range c.clauses {
		renamed := m.ApplyClause(cl)
		norm, taut := renamed.Normalize()
		if taut {
			continue
		}
		cpy := append(lit.Clause(nil), norm...)
		out.clauses = append(out.clauses, cpy)
	}
	return out
}

// Negate performs structural Tseitin negation: it introduces one fresh
// literal per clause representing "this clause is false", asserts the
// biconditional, and returns a CNF whose only remaining clause is that at
// least one such literal is true. The returned CNF's satisfying
// assignments, projected onto the variables of c, are exactly the
// complement of c's satisfying assignments (spec.md §4.1's contract).
//
// newVar is called once per retained clause to mint the "clause-false"
// literal; it is a callback rather than a registry, so callers decide which
// kind of variable the clause-false literals are registered as.
func (c *CNF) Negate(newVar func() lit.Var) *CNF {
	out := New()
	atLeastOneFalse := make(lit.Clause, 0, len(c.clauses))
	for _, cl := range c.clauses {
		if len(cl) == 0 {
			// An empty clause is already false; the whole CNF is
			// unsatisfiable, so its negation is a tautology - drop it
			// by returning the trivially-true empty CNF.
			return New()
		}
		f := lit.Of(newVar(), true)
		// f -> ¬cl, i.e. for every literal l in cl: (¬f ∨ ¬l)
		for _, l := range cl {
			out.AddClause(f.Not(), l.Not())
		}
		// ¬f -> cl, i.e. (f ∨ l1 ∨ l2 ∨ ...)
		disj := append(lit.Clause{f}, cl...)
		out.AddClause(disj...)
		atLeastOneFalse = append(atLeastOneFalse, f)
	}
	// For a CNF with no clauses (true) this is the empty clause (false).
	out.AddClause(atLeastOneFalse...)
	return out
}

// RemoveSmallest extracts and removes the shortest remaining clause,
// breaking ties by insertion order. It reports ok=false if c is empty.
func (c *CNF) RemoveSmallest() (cl lit.Clause, ok bool) {
	if len(c.clauses) == 0 {
		return nil, false
	}
	best := 0
	for i := 1; i < len(c.clauses); i++ {
		if len(c.clauses[i]) < len(c.clauses[best]) {
			best = i
		}
	}
	cl = c.clauses[best]
	c.clauses = append(c.clauses[:best], c.clauses[best+1:]...)
	return cl, true
}

// Vars returns the set of variables appearing in c, computed in a single
// pass over every literal (O(total-literals), per spec.md §3).
func (c *CNF) Vars() []lit.Var {
	seen := make(map[lit.Var]bool)
	var out []lit.Var
	for _, cl := range c.clauses {
		for _, l := range cl {
			v := l.Var()
			if !seen[v] {
				seen[v] = true
				out = append(out, v)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Append adds every clause of other to c, without re-simplifying.
func (c *CNF) Append(other *CNF) {
	c.clauses = append(c.clauses, other.clauses...)
}

// Clone returns a deep copy of c.
func (c *CNF) Clone() *CNF {
	out := New()
	out.clauses = make([]lit.Clause, len(c.clauses))
	for i, cl := range c.clauses {
		out.clauses[i] = append(lit.Clause(nil), cl...)
	}
	return out
}

// Dedup removes clauses that are exact duplicates of an earlier clause
// (same literal set), preserving the first occurrence's position.
func (c *CNF) Dedup() {
	seen := make(map[string]bool, len(c.clauses))
	kept := c.clauses[:0:0]
	for _, cl := range c.clauses {
		key := clauseKey(cl)
		if seen[key] {
			continue
		}
		seen[key] = true
		kept = append(kept, cl)
	}
	c.clauses = kept
}

func clauseKey(cl lit.Clause) string {
	b := make([]byte, 0, len(cl)*5)
	for _, l := range cl {
		b = append(b, []byte(l.String())...)
		b = append(b, ',')
	}
	return string(b)
}

// CompressSubsumption removes every clause subsumed by another clause of c,
// keeping the first (shortest-first, then insertion order) representative.
// This is the redundancy compression mentioned in spec.md §4.1; applying it
// twice yields the same CNF as once (spec.md §8, "Idempotent compression"),
// since subsumption between surviving clauses is irreflexive once no
// surviving clause subsumes another.
func (c *CNF) CompressSubsumption() {
	sort.SliceStable(c.clauses, func(i, j int) bool { return len(c.clauses[i]) < len(c.clauses[j]) })
	kept := make([]lit.Clause, 0, len(c.clauses))
	for _, cl := range c.clauses {
		redundant := false
		for _, k := range kept {
			if subsumes(k, cl) {
				redundant = true
				break
			}
		}
		if !redundant {
			kept = append(kept, cl)
		}
	}
	c.clauses = kept
}
