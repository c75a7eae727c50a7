// Package lit defines the literal and variable representation shared by
// every other package in this module: the registry, the CNF container, the
// AIG/CNF bridge, the universal expander, the winning-region engine and the
// extractor all exchange values of type Lit rather than rolling their own.
//
// A Lit is a signed, dimacs-style literal: its absolute value names a
// variable, its sign carries polarity. This is the same convention
// github.com/go-air/gini/z uses (see z.Dimacs2Lit/z.Lit.Dimacs), which lets
// every SAT session built on gini.New() consume a Lit directly via ToZ.
package lit

import (
	"fmt"
	"sort"

	"github.com/go-air/gini/z"
)

// Lit is a signed literal. Var 0 is never a legal variable; True is the
// reserved constant-true literal, matching spec.md's "variable 1 is
// reserved as the constant true where needed" (we use dimacs var 1).
type Lit int32

// True is the reserved constant-true literal. False is its negation.
const (
	True  Lit = 1
	False Lit = -1
)

// Var is the unsigned variable underlying a Lit.
type Var int32

// Of builds a Lit from a variable and a polarity.
func Of(v Var, positive bool) Lit {
	if positive {
		return Lit(v)
	}
	return Lit(-v)
}

// Var returns the variable underlying l.
func (l Lit) Var() Var {
	if l < 0 {
		return Var(-l)
	}
	return Var(l)
}

// Not returns the negation of l.
func (l Lit) Not() Lit { return -l }

// IsPos reports whether l is a positive (unnegated) literal.
func (l Lit) IsPos() bool { return l > 0 }

// IsNull reports whether l is the zero value, used throughout this module
// the way gini uses z.LitNull: to indicate "no useful literal".
func (l Lit) IsNull() bool { return l == 0 }

func (l Lit) String() string { return fmt.Sprintf("%d", int32(l)) }

// ToZ converts l to the gini z.Lit that a SAT session expects.
func ToZ(l Lit) z.Lit { return z.Dimacs2Lit(int(l)) }

// FromZ converts a gini z.Lit back into a Lit.
func FromZ(m z.Lit) Lit { return Lit(m.Dimacs()) }

// Clause is a finite sequence of literals. Clause is kept sorted by
// absolute value with ties broken by sign, and never contains a
// complementary pair once normalised by Normalize.
type Clause []Lit

// Normalize sorts c in place, drops duplicate literals and reports whether
// the clause is a tautology (contains both l and ¬l), in which case it
// must be dropped rather than inserted into a CNF.
func (c Clause) Normalize() (Clause, bool) {
	sort.Slice(c, func(i, j int) bool {
		ai, aj := absInt32(int32(c[i])), absInt32(int32(c[j]))
		if ai != aj {
			return ai < aj
		}
		return c[i] < c[j]
	})
	out := c[:0]
	for i, l := range c {
		if i > 0 && out[len(out)-1] == l {
			continue
		}
		out = append(out, l)
	}
	for i := 1; i < len(out); i++ {
		if out[i-1] == out[i].Not() {
			return out, true
		}
	}
	return out, false
}

func absInt32(v int32) int32 {
	if v < 0 {
		return -v
	}
	return v
}

// Negated returns the clause whose literals are the negation of every
// literal in c, used by AddNegatedCubeAsClause: a cube (conjunction of
// literals) negated to a clause (disjunction).
func Negated(cube []Lit) Clause {
	out := make(Clause, len(cube))
	for i, l := range cube {
		out[i] = l.Not()
	}
	return out
}

// RenameMap renames literals by variable. A renaming of 0 for a variable
// leaves that variable's literals unchanged.
type RenameMap map[Var]Var

// Apply renames l according to m, preserving polarity.
func (m RenameMap) Apply(l Lit) Lit {
	if l.IsNull() {
		return l
	}
	if nv, ok := m[l.Var()]; ok && nv != 0 {
		return Of(nv, l.IsPos())
	}
	return l
}

// ApplyClause renames every literal of c according to m.
func (m RenameMap) ApplyClause(c Clause) Clause {
	out := make(Clause, len(c))
	for i, l := range c {
		out[i] = m.Apply(l)
	}
	return out
}
