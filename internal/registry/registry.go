// Package registry implements the variable registry described in spec.md
// §3/§4 prelude: it assigns a dense integer id to every Boolean signal and
// records the signal's kind, and it supports save/restore so that
// temporaries introduced by short-lived encodings (chiefly CNF negation and
// universal expansion) can be discarded in bulk.
//
// The source tool keeps this as a process-wide singleton with a push/pop
// stack (spec.md §9, "Process-wide singletons"); here it is an explicit
// value threaded through every caller, and push/pop become a Checkpoint
// value returned by Mark and consumed by Restore - a scoped handle rather
// than a global stack frame.
package registry

import (
	"fmt"

	"github.com/operator-framework/demiurge-synth/internal/lit"
)

// Kind labels why a variable exists. The universal expander and the
// extractor both branch on Kind to decide what may be eliminated,
// substituted or re-synthesised.
type Kind int

const (
	// KindConstant is reserved for lit.True's underlying variable.
	KindConstant Kind = iota
	// KindPresentState is a latch output, x.
	KindPresentState
	// KindNextState is a latch input, x'.
	KindNextState
	// KindUncontrollable is an adversarial primary input, i.
	KindUncontrollable
	// KindControllable is a synthesisable primary input, c.
	KindControllable
	// KindTemporary is a Tseitin-introduced gate or reification variable, t.
	KindTemporary
	// KindParameter is an auxiliary solver-only variable (e.g. a
	// clause-false literal introduced by CNF negation).
	KindParameter
	// KindPrevStepCopy is the xₚ shadow copy used by reachability-refined
	// generalisation (spec.md §3, "Previous-step shadow").
	KindPrevStepCopy
)

func (k Kind) String() string {
	switch k {
	case KindConstant:
		return "constant"
	case KindPresentState:
		return "present-state"
	case KindNextState:
		return "next-state"
	case KindUncontrollable:
		return "uncontrollable-input"
	case KindControllable:
		return "controllable-input"
	case KindTemporary:
		return "temporary"
	case KindParameter:
		return "parameter"
	case KindPrevStepCopy:
		return "previous-step-copy"
	default:
		return "unknown"
	}
}

// Descriptor is a variable descriptor: (id, kind, aig literal, display name).
type Descriptor struct {
	ID       lit.Var
	Kind     Kind
	AIGLit   uint32 // the AIGER literal this variable mirrors, or 0
	Name     string
	Partner  lit.Var // for KindNextState/KindPresentState pairs made by Pair, the other half of the pair; 0 otherwise
}

// Registry owns the dense id space for one synthesis run.
type Registry struct {
	descs   []Descriptor // index 0 unused, index 1 is the constant
	byKind  map[Kind][]lit.Var
	byName  map[string]lit.Var
	maxID   lit.Var
}

// New returns a Registry with variable 1 reserved as the constant true,
// matching spec.md §3's "Variable 1 is reserved as the constant true".
func New() *Registry {
	r := &Registry{
		descs:  make([]Descriptor, 2, 256),
		byKind: make(map[Kind][]lit.Var),
		byName: make(map[string]lit.Var),
		maxID:  1,
	}
	r.descs[1] = Descriptor{ID: 1, Kind: KindConstant, Name: "true"}
	r.byKind[KindConstant] = []lit.Var{1}
	return r
}

// NewVar allocates a fresh variable of the given kind and (optional, may be
// empty) display name, growing the dense id space by one.
func (r *Registry) NewVar(k Kind, name string) lit.Var {
	r.maxID++
	v := r.maxID
	r.descs = append(r.descs, Descriptor{ID: v, Kind: k, Name: name})
	r.byKind[k] = append(r.byKind[k], v)
	if name != "" {
		r.byName[name] = v
	}
	return v
}

// Pair allocates a present-state/next-state pair in one call, wiring each
// Descriptor's Partner field to the other; the bridge uses it for every
// latch, including the synthetic error-bit latch.
func (r *Registry) Pair(nameX, nameXNext string) (x, xNext lit.Var) {
	x = r.NewVar(KindPresentState, nameX)
	xNext = r.NewVar(KindNextState, nameXNext)
	r.descs[x].Partner = xNext
	r.descs[xNext].Partner = x
	return
}

// Desc returns the descriptor for v.
func (r *Registry) Desc(v lit.Var) Descriptor {
	if int(v) >= len(r.descs) {
		return Descriptor{}
	}
	return r.descs[v]
}

// Kind returns the kind of v.
func (r *Registry) Kind(v lit.Var) Kind { return r.Desc(v).Kind }

// SetAIGLit records which original AIGER variable v mirrors, so that a
// later pass (the extractor's AIG assembly) can translate a literal back
// into the source circuit's numbering. v must already be registered.
func (r *Registry) SetAIGLit(v lit.Var, aigVar uint32) {
	r.descs[v].AIGLit = aigVar
}

// ByKind returns every variable of kind k, in allocation order. The
// returned slice must not be mutated by the caller.
func (r *Registry) ByKind(k Kind) []lit.Var { return r.byKind[k] }

// Lookup returns the variable registered under name, if any.
func (r *Registry) Lookup(name string) (lit.Var, bool) {
	v, ok := r.byName[name]
	return v, ok
}

// MaxID returns the largest variable id allocated so far.
func (r *Registry) MaxID() lit.Var { return r.maxID }

// Clone returns an independent copy of r: allocating a fresh variable on
// the clone never affects r or any other clone. The parallel extractor's
// worker portfolio (spec.md §4.6) uses this so concurrent workers never
// race on the registry's descriptor slice and kind/name maps - every
// variable a worker's own learning loop mints is scratch, private to that
// worker, and the signals it ultimately returns only ever reference
// variables that already existed at clone time, so a caller may look them
// up in r itself.
func (r *Registry) Clone() *Registry {
	nr := &Registry{
		descs:  append([]Descriptor(nil), r.descs...),
		byKind: make(map[Kind][]lit.Var, len(r.byKind)),
		byName: make(map[string]lit.Var, len(r.byName)),
		maxID:  r.maxID,
	}
	for k, vs := range r.byKind {
		nr.byKind[k] = append([]lit.Var(nil), vs...)
	}
	for name, v := range r.byName {
		nr.byName[name] = v
	}
	return nr
}

// Checkpoint is a scoped save point. Restore discards every variable
// allocated since the checkpoint was taken. Checkpoints nest: taking a new
// one and restoring it before an outer one is always safe, matching the
// source's VarManager push/pop stack (spec.md §9 and SPEC_FULL.md §5).
type Checkpoint struct {
	r        *Registry
	maxID    lit.Var
	descLen  int
	kindLens map[Kind]int
}

// Mark takes a checkpoint of the registry's current state.
func (r *Registry) Mark() Checkpoint {
	kindLens := make(map[Kind]int, len(r.byKind))
	for k, vs := range r.byKind {
		kindLens[k] = len(vs)
	}
	return Checkpoint{r: r, maxID: r.maxID, descLen: len(r.descs), kindLens: kindLens}
}

// Restore discards every variable allocated after the checkpoint was taken.
// Restoring a checkpoint that is not the most recently taken, still-live
// checkpoint on this registry is a programming error.
func (c Checkpoint) Restore() {
	r := c.r
	if r.maxID < c.maxID {
		panic(fmt.Sprintf("registry: checkpoint from maxID=%d restored after it regressed to %d", c.maxID, r.maxID))
	}
	for _, v := range r.descs[c.descLen:] {
		if v.Name != "" {
			delete(r.byName, v.Name)
		}
	}
	r.descs = r.descs[:c.descLen]
	r.maxID = c.maxID
	for k, vs := range r.byKind {
		if n, ok := c.kindLens[k]; ok {
			if len(vs) > n {
				r.byKind[k] = vs[:n]
			}
		} else {
			r.byKind[k] = nil
		}
	}
}
