package bridge

import (
	"sort"

	"github.com/operator-framework/demiurge-synth/internal/lit"
	"github.com/operator-framework/demiurge-synth/internal/registry"
)

// DependencyMap records, for every temporary literal defined by Tseitin
// encoding of an AND gate, the set of kinds/ids its definition ultimately
// reads - spec.md §3's "Dependency map", with the transitive closure
// computed lazily and memoised, exactly as specified.
type DependencyMap struct {
	direct map[lit.Var][]lit.Var // a gate's immediate fanin variables
	closed map[lit.Var]map[lit.Var]bool
}

func newDependencyMap() *DependencyMap {
	return &DependencyMap{
		direct: make(map[lit.Var][]lit.Var),
		closed: make(map[lit.Var]map[lit.Var]bool),
	}
}

// define records that gate's Tseitin definition reads r0 and r1.
func (d *DependencyMap) define(gate lit.Var, r0, r1 lit.Lit, reg *registry.Registry) {
	d.direct[gate] = append(d.direct[gate], r0.Var(), r1.Var())
}

// DirectDeps returns the immediate fanin of a temporary variable.
func (d *DependencyMap) DirectDeps(v lit.Var) []lit.Var { return d.direct[v] }

// TransitiveDeps returns every variable the definition of v ultimately
// reads, including v's direct fanin and their own temporary definitions
// recursively; non-temporary fanins are leaves of the closure. The result
// is memoised per v.
func (d *DependencyMap) TransitiveDeps(v lit.Var, reg *registry.Registry) map[lit.Var]bool {
	if c, ok := d.closed[v]; ok {
		return c
	}
	out := make(map[lit.Var]bool)
	var visit func(lit.Var)
	visit = func(cur lit.Var) {
		for _, dep := range d.direct[cur] {
			if out[dep] {
				continue
			}
			out[dep] = true
			if reg.Kind(dep) == registry.KindTemporary {
				visit(dep)
			}
		}
	}
	visit(v)
	d.closed[v] = out
	return out
}

// DependsOnKind reports whether v's transitive closure contains any
// variable of kind k.
func (d *DependencyMap) DependsOnKind(v lit.Var, k registry.Kind, reg *registry.Registry) bool {
	for dep := range d.TransitiveDeps(v, reg) {
		if reg.Kind(dep) == k {
			return true
		}
	}
	return false
}

// DependsOnAny reports whether v's transitive closure intersects vs.
func (d *DependencyMap) DependsOnAny(v lit.Var, vs map[lit.Var]bool, reg *registry.Registry) bool {
	closure := d.TransitiveDeps(v, reg)
	for dep := range vs {
		if closure[dep] {
			return true
		}
	}
	return false
}

// TopologicalOrder returns every controllable variable registered in reg,
// ordered so a controllable read by fewer temporaries' transitive
// definitions is synthesised first - the same "fewest dependents first"
// heuristic internal/expand applies to universal elimination order
// (orderUniversals), applied here to this dependency map instead of
// expand's own local one. A controllable with few dependents is less
// deeply embedded in the circuit, so fixing its value first leaves later,
// more load-bearing signals the largest dependency-aware vocabulary to
// draw on (LearningImplExtractor.cpp: independent controllables need not
// be synthesised in index order). Ties fall back to registry allocation
// order for determinism.
func (d *DependencyMap) TopologicalOrder(reg *registry.Registry) []lit.Var {
	controllables := reg.ByKind(registry.KindControllable)
	cset := make(map[lit.Var]bool, len(controllables))
	for _, c := range controllables {
		cset[c] = true
	}

	dependents := make(map[lit.Var]int, len(controllables))
	for _, t := range reg.ByKind(registry.KindTemporary) {
		for dep := range d.TransitiveDeps(t, reg) {
			if cset[dep] {
				dependents[dep]++
			}
		}
	}

	out := append([]lit.Var(nil), controllables...)
	sort.SliceStable(out, func(i, j int) bool {
		return dependents[out[i]] < dependents[out[j]]
	})
	return out
}
