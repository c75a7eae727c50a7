package extract

import (
	"github.com/operator-framework/demiurge-synth/internal/aiger"
	"github.com/operator-framework/demiurge-synth/internal/lit"
	"github.com/operator-framework/demiurge-synth/internal/registry"
)

// Assembler converts synthesised Signals back into an aiger.Graph, the AIG
// assembly step of spec.md §4.5's last paragraph: each fₖ becomes AND-OR
// gates incrementally, and the original controllable inputs become internal
// signals driven by those gates rather than primary inputs.
type Assembler struct {
	Reg  *registry.Registry
	Orig *aiger.Graph
}

// NewAssembler returns an Assembler over the same registry and source graph
// the Extractor that produced signals was built from.
func NewAssembler(reg *registry.Registry, orig *aiger.Graph) *Assembler {
	return &Assembler{Reg: reg, Orig: orig}
}

// Assemble builds the output circuit: original latches and their next-state
// functions are preserved, the original output is preserved, and every
// synthesised controllable's original AIGER variable is re-driven by fresh
// AND gates implementing its learned CNF instead of appearing in Inputs.
// Whatever a signal's definition transitively touches in the original
// AND-gate graph is rebuilt on demand, so that every gate in the result
// satisfies AIGER's "output literal exceeds both fanin literals" ordering
// invariant even though the new logic's variables are numbered well above
// the source graph's.
func (a *Assembler) Assemble(signals []Signal) *aiger.Graph {
	origAnd := make(map[uint32]aiger.And, len(a.Orig.Ands))
	for _, g := range a.Orig.Ands {
		origAnd[g.Lit.Var()] = g
	}

	asm := &assembly{
		reg:      a.Reg,
		origAnd:  origAnd,
		override: make(map[uint32]aiger.Lit, len(signals)),
		memo:     make(map[uint32]aiger.Lit, len(origAnd)+len(signals)),
		hashcons: make(map[[2]aiger.Lit]aiger.Lit),
		counter:  a.Orig.MaxVar,
	}

	for _, sig := range signals {
		origVar := a.Reg.Desc(sig.Var).AIGLit
		asm.override[origVar] = asm.buildSignal(sig)
	}

	out := &aiger.Graph{
		Inputs:  a.Orig.Uncontrollable(),
		Latches: make([]aiger.Latch, len(a.Orig.Latches)),
	}
	for i, la := range a.Orig.Latches {
		out.Latches[i] = aiger.Latch{
			Lit:  la.Lit,
			Name: la.Name,
			Next: asm.resolveLit(la.Next),
		}
	}
	out.Output = asm.resolveLit(a.Orig.Output)
	out.Ands = asm.extraAnds
	out.MaxVar = asm.counter
	return out
}

// assembly carries the mutable state of one Assemble call: the growing set
// of freshly minted AND gates, a hashcons table so structurally identical
// gates (e.g. two clauses sharing a literal pair) are not re-emitted, and a
// memo table so the original graph's shared subexpressions are each
// rebuilt at most once.
type assembly struct {
	reg *registry.Registry

	origAnd map[uint32]aiger.And
	// override maps an original controllable's AIGER variable to the
	// literal, built from extraAnds, that now drives it.
	override map[uint32]aiger.Lit
	// memo caches resolveVar's result per original variable so a shared
	// fanin is only rebuilt once.
	memo map[uint32]aiger.Lit

	hashcons  map[[2]aiger.Lit]aiger.Lit
	counter   uint32
	extraAnds []aiger.And
}

// makeAnd mints (or reuses, via constant folding and hashconsing) the AND
// of a and b, mirroring expand.go's constFold/hashconsKey/emitGate idiom
// for the AIGER literal representation.
func (a *assembly) makeAnd(x, y aiger.Lit) aiger.Lit {
	switch {
	case x == falseLit || y == falseLit:
		return falseLit
	case x == trueLit:
		return y
	case y == trueLit:
		return x
	case x == y:
		return x
	case x == y.Not():
		return falseLit
	}
	key := hashconsKey(x, y)
	if existing, ok := a.hashcons[key]; ok {
		return existing
	}
	a.counter++
	out := aiger.Lit(2 * a.counter)
	a.hashcons[key] = out
	a.extraAnds = append(a.extraAnds, aiger.And{Lit: out, In0: x, In1: y})
	return out
}

// makeOr implements x∨y as ¬(¬x∧¬y).
func (a *assembly) makeOr(x, y aiger.Lit) aiger.Lit {
	return a.makeAnd(x.Not(), y.Not()).Not()
}

const (
	falseLit = aiger.Lit(0)
	trueLit  = aiger.Lit(1)
)

func hashconsKey(x, y aiger.Lit) [2]aiger.Lit {
	if x > y {
		x, y = y, x
	}
	return [2]aiger.Lit{x, y}
}

// buildSignal converts one signal's definition into a single driving
// literal: each clause folds to an OR of its literals, and the clauses fold
// to an AND of those ORs, exactly as spec.md §4.5 describes.
func (a *assembly) buildSignal(sig Signal) aiger.Lit {
	conj := trueLit
	for _, cl := range sig.Def.Clauses() {
		disj := falseLit
		for _, l := range cl {
			disj = a.makeOr(disj, a.resolveInternal(l))
		}
		conj = a.makeAnd(conj, disj)
	}
	return conj
}

// resolveInternal translates one literal of a signal's definition (over
// present-state, uncontrollable, or - in dependency-aware mode - temporary
// or already-synthesised controllable variables) into the AIGER literal it
// mirrors, applying override if that variable is itself a controllable
// whose driving logic was already built.
func (a *assembly) resolveInternal(l lit.Lit) aiger.Lit {
	origVar := a.reg.Desc(l.Var()).AIGLit
	base := a.resolveVar(origVar)
	if l.IsPos() {
		return base
	}
	return base.Not()
}

// resolveVar returns the positive-phase literal that now drives the
// original AIGER variable v: an override if v is a synthesised
// controllable, a freshly rebuilt AND gate if v is an original AND gate
// (rebuilt because it may transitively depend on an overridden
// controllable), or the identity literal for every untouched input or
// latch output.
func (a *assembly) resolveVar(v uint32) aiger.Lit {
	if v == 0 {
		return falseLit
	}
	if out, ok := a.memo[v]; ok {
		return out
	}
	var out aiger.Lit
	if ov, ok := a.override[v]; ok {
		out = ov
	} else if g, ok := a.origAnd[v]; ok {
		out = a.makeAnd(a.resolveLit(g.In0), a.resolveLit(g.In1))
	} else {
		out = aiger.Lit(2 * v)
	}
	a.memo[v] = out
	return out
}

// resolveLit applies resolveVar to a raw AIGER literal, respecting phase.
func (a *assembly) resolveLit(l aiger.Lit) aiger.Lit {
	base := a.resolveVar(l.Var())
	if l.IsPositive() {
		return base
	}
	return base.Not()
}

