// Package sat is the "concrete SAT/QBF solver back-end" interface that
// spec.md §1 and §6 deliberately keep out of the core's scope, specified
// only as an interface the core consumes. It provides exactly one concrete,
// exercised implementation - github.com/go-air/gini, the same incremental
// SAT engine the teacher (operator-lifecycle-manager's dependency solver)
// already uses - plus a QBF stub documenting the "not yet implemented"
// back-end mode mentioned in spec.md §9.
package sat

import (
	"github.com/go-air/gini"
	"github.com/go-air/gini/z"

	"github.com/operator-framework/demiurge-synth/internal/lit"
)

// Outcome is the three-valued result of a solver call.
type Outcome int

const (
	Unknown Outcome = iota
	Sat
	Unsat
)

func fromGini(v int) Outcome {
	switch {
	case v == 1:
		return Sat
	case v == -1:
		return Unsat
	default:
		return Unknown
	}
}

// Session is one incremental SAT session: a growable clause database plus
// assumption-scoped solving. The winning-region engine keeps two or three
// of these alive at once (Solver-E, Solver-C, Solver-C-ind); the extractor
// keeps two per controllable signal (MustBe0 and MustBe1) plus one for the
// optional second pass.
type Session interface {
	// AddClause teaches the session a clause. Clauses taught this way are
	// permanent for the life of the session.
	AddClause(ls ...lit.Lit)

	// Assume pushes assumptions that hold for the next Solve or Test call
	// only.
	Assume(ls ...lit.Lit)

	// Solve runs the solver to completion under the current assumptions.
	// Per spec.md §7, solver calls are assumed total: Unknown is only
	// possible after Test with a resource bound, never after Solve.
	Solve() Outcome

	// Test is a scoped, assumption-sensitive solve: spec.md §4.4's main
	// loop phrases "Solver-E.sat()" / "Solver-C.sat_assuming(...)" this
	// way, pushing a test scope that Untest later pops.
	Test() Outcome

	// Untest pops one Test scope, restoring the solver to how it was
	// before the matching Test call, and returns the resulting outcome
	// (mirrors gini's inter.Assumable.Untest).
	Untest() Outcome

	// Value returns the truth value v was assigned in the last
	// satisfying model.
	Value(v lit.Var) bool

	// UnsatCore returns the subset of the last Solve/Test's assumptions
	// that together caused unsatisfiability - the "unsat core" that both
	// the winning-region engine and the extractor generalise into
	// blocking clauses.
	UnsatCore() []lit.Lit
}

// giniSession adapts *gini.Gini to Session.
type giniSession struct {
	g *gini.Gini
}

// NewGini returns a Session backed by a fresh gini solver.
func NewGini() Session {
	return &giniSession{g: gini.New()}
}

func (s *giniSession) AddClause(ls ...lit.Lit) {
	for _, l := range ls {
		s.g.Add(lit.ToZ(l))
	}
	s.g.Add(z.LitNull)
}

func (s *giniSession) Assume(ls ...lit.Lit) {
	s.g.Assume(toZs(ls)...)
}

func (s *giniSession) Solve() Outcome {
	return fromGini(s.g.Solve())
}

func (s *giniSession) Test() Outcome {
	r, _ := s.g.Test(nil)
	return fromGini(r)
}

func (s *giniSession) Untest() Outcome {
	return fromGini(s.g.Untest())
}

func (s *giniSession) Value(v lit.Var) bool {
	return s.g.Value(lit.ToZ(lit.Of(v, true)))
}

func (s *giniSession) UnsatCore() []lit.Lit {
	zs := s.g.Why(nil)
	out := make([]lit.Lit, len(zs))
	for i, m := range zs {
		out[i] = lit.FromZ(m)
	}
	return out
}

func toZs(ls []lit.Lit) []z.Lit {
	out := make([]z.Lit, len(ls))
	for i, l := range ls {
		out[i] = lit.ToZ(l)
	}
	return out
}

// ErrNotImplemented is returned by the QBF back-end for modes the original
// source tool itself marks unimplemented (spec.md §9: "Several back-end
// modes (mode==2) are marked not yet implemented and abort").
type ErrNotImplemented struct{ Mode string }

func (e ErrNotImplemented) Error() string { return "sat: qbf back-end mode " + e.Mode + " not implemented" }

// QBF is the interface a true quantified-Boolean-formula back-end would
// implement for the reset-solver entry points of spec.md §4.3 when
// universal expansion is skipped. No such solver is wired into this
// module: expansion mode (spec.md §4.4, "Expansion mode") is always used
// in its place, and Stub's methods report ErrNotImplemented so a caller
// that tries to fall back to QBF anyway gets a clear diagnostic instead of
// a silent wrong answer.
type QBF interface {
	SolveForall(existential, universal []lit.Lit) (Outcome, error)
}

// Stub is the QBF back-end of last resort: always unimplemented.
type Stub struct{}

func (Stub) SolveForall([]lit.Lit, []lit.Lit) (Outcome, error) {
	return Unknown, ErrNotImplemented{Mode: "qbf"}
}
