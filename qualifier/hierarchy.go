//  Copyright (c) 2023 Uber Technologies, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package qualifier

import (
	"fmt"
	"slices"
	"strings"
)

// Hierarchy is the lattice of qualifiers of one checker. Implementations are immutable and safe
// for concurrent use.
type Hierarchy interface {
	// ID returns the identifier of the hierarchy.
	ID() HierarchyID
	// Top returns the unique top qualifier.
	Top() Qualifier
	// Bottom returns the unique bottom qualifier.
	Bottom() Qualifier
	// Polymorphic returns the polymorphic qualifier of the hierarchy.
	Polymorphic() Qualifier
	// IsSubtype returns true if sub ⊑ sup.
	IsSubtype(sub, sup Qualifier) bool
	// LeastUpperBound returns the least qualifier that is a supertype of both a and b.
	LeastUpperBound(a, b Qualifier) Qualifier
	// GreatestLowerBound returns the greatest qualifier that is a subtype of both a and b.
	GreatestLowerBound(a, b Qualifier) Qualifier
	// Height returns the length of the longest strict chain in the lattice.
	Height() int
	// FromAnnotation converts an annotation (simple or fully-qualified name) into a qualifier of
	// this hierarchy. The boolean is false if the annotation does not belong to the hierarchy.
	FromAnnotation(name string, args []string) (Qualifier, bool)
}

// enumHierarchy is a finite lattice over argument-free kinds described by its direct
// subtype edges. The reflexive transitive closure is computed once at construction.
type enumHierarchy struct {
	id      HierarchyID
	kinds   []Kind
	top     Kind
	bottom  Kind
	poly    Kind
	height  int
	subtype map[[2]Kind]bool
}

func newEnumHierarchy(id HierarchyID, kinds []Kind, poly Kind, edges [][2]Kind) *enumHierarchy {
	h := &enumHierarchy{id: id, kinds: kinds, poly: poly, subtype: make(map[[2]Kind]bool)}
	for _, k := range kinds {
		h.subtype[[2]Kind{k, k}] = true
	}
	for _, e := range edges {
		h.subtype[e] = true
	}
	// Floyd-Warshall style closure; the lattices are tiny.
	for _, via := range kinds {
		for _, a := range kinds {
			for _, b := range kinds {
				if h.subtype[[2]Kind{a, via}] && h.subtype[[2]Kind{via, b}] {
					h.subtype[[2]Kind{a, b}] = true
				}
			}
		}
	}
	for _, k := range kinds {
		isTop, isBottom := true, true
		for _, o := range kinds {
			isTop = isTop && h.subtype[[2]Kind{o, k}]
			isBottom = isBottom && h.subtype[[2]Kind{k, o}]
		}
		if isTop {
			h.top = k
		}
		if isBottom {
			h.bottom = k
		}
	}
	if h.top == Unset || h.bottom == Unset {
		panic(fmt.Sprintf("hierarchy %s has no unique top or bottom", id))
	}
	h.height = h.longestChain(h.bottom)
	return h
}

func (h *enumHierarchy) longestChain(from Kind) int {
	best := 0
	for _, k := range h.kinds {
		if k != from && h.subtype[[2]Kind{from, k}] {
			best = max(best, 1+h.longestChain(k))
		}
	}
	return best
}

func (h *enumHierarchy) ID() HierarchyID        { return h.id }
func (h *enumHierarchy) Top() Qualifier         { return New(h.top) }
func (h *enumHierarchy) Bottom() Qualifier      { return New(h.bottom) }
func (h *enumHierarchy) Polymorphic() Qualifier { return New(h.poly) }
func (h *enumHierarchy) Height() int            { return h.height }

func (h *enumHierarchy) IsSubtype(sub, sup Qualifier) bool {
	return h.subtype[[2]Kind{sub.Kind, sup.Kind}]
}

func (h *enumHierarchy) LeastUpperBound(a, b Qualifier) Qualifier {
	return New(h.bound(a.Kind, b.Kind, true))
}

func (h *enumHierarchy) GreatestLowerBound(a, b Qualifier) Qualifier {
	return New(h.bound(a.Kind, b.Kind, false))
}

// bound computes the least common supertype (upper == true) or the greatest common subtype.
func (h *enumHierarchy) bound(a, b Kind, upper bool) Kind {
	le := func(x, y Kind) bool {
		if upper {
			return h.subtype[[2]Kind{x, y}]
		}
		return h.subtype[[2]Kind{y, x}]
	}
	var candidates []Kind
	for _, k := range h.kinds {
		if le(a, k) && le(b, k) {
			candidates = append(candidates, k)
		}
	}
	for _, c := range candidates {
		if !slices.ContainsFunc(candidates, func(o Kind) bool { return !le(c, o) }) {
			return c
		}
	}
	if upper {
		return h.top
	}
	return h.bottom
}

func (h *enumHierarchy) FromAnnotation(name string, _ []string) (Qualifier, bool) {
	simple := simpleName(name)
	for _, k := range h.kinds {
		if k.String() == simple {
			return New(k), true
		}
	}
	return Qualifier{}, false
}

// keyForHierarchy is the lattice KeyForBottom ⊑ KeyFor(S) ⊑ UnknownKeyFor, with
// KeyFor(A) ⊑ KeyFor(B) iff A ⊇ B and PolyKeyFor between bottom and top.
type keyForHierarchy struct{}

func (keyForHierarchy) ID() HierarchyID        { return KeyFor }
func (keyForHierarchy) Top() Qualifier         { return New(UnknownKeyFor) }
func (keyForHierarchy) Bottom() Qualifier      { return New(KeyForBottom) }
func (keyForHierarchy) Polymorphic() Qualifier { return New(PolyKeyFor) }

// Height of the key-for lattice depends on the number of distinct map expressions; for the
// purpose of bounding fixpoint iterations a chain through one KeyFor element suffices because
// merges only ever shrink map sets.
func (keyForHierarchy) Height() int { return 3 }

func (keyForHierarchy) IsSubtype(sub, sup Qualifier) bool {
	switch {
	case sub.Kind == KeyForBottom || sup.Kind == UnknownKeyFor:
		return true
	case sub.Kind == UnknownKeyFor || sup.Kind == KeyForBottom:
		return false
	case sub.Kind == PolyKeyFor || sup.Kind == PolyKeyFor:
		return sub.Kind == sup.Kind
	}
	return isSuperset(sub.Args, sup.Args)
}

func (k keyForHierarchy) LeastUpperBound(a, b Qualifier) Qualifier {
	switch {
	case k.IsSubtype(a, b):
		return b
	case k.IsSubtype(b, a):
		return a
	case a.Kind == KeyForMaps && b.Kind == KeyForMaps:
		return New(KeyForMaps, intersect(a.Args, b.Args)...)
	}
	return New(UnknownKeyFor)
}

func (k keyForHierarchy) GreatestLowerBound(a, b Qualifier) Qualifier {
	switch {
	case k.IsSubtype(a, b):
		return a
	case k.IsSubtype(b, a):
		return b
	case a.Kind == KeyForMaps && b.Kind == KeyForMaps:
		return New(KeyForMaps, append(slices.Clone(a.Args), b.Args...)...)
	}
	return New(KeyForBottom)
}

func (keyForHierarchy) FromAnnotation(name string, args []string) (Qualifier, bool) {
	switch simpleName(name) {
	case "KeyFor":
		return New(KeyForMaps, args...), true
	case "KeyForBottom":
		return New(KeyForBottom), true
	case "UnknownKeyFor":
		return New(UnknownKeyFor), true
	case "PolyKeyFor":
		return New(PolyKeyFor), true
	}
	return Qualifier{}, false
}

// isSuperset assumes both slices are sorted.
func isSuperset(super, sub []string) bool {
	for _, s := range sub {
		if _, found := slices.BinarySearch(super, s); !found {
			return false
		}
	}
	return true
}

func intersect(a, b []string) []string {
	var out []string
	for _, s := range a {
		if _, found := slices.BinarySearch(b, s); found {
			out = append(out, s)
		}
	}
	return out
}

func simpleName(name string) string {
	if i := strings.LastIndexByte(name, '.'); i >= 0 {
		return name[i+1:]
	}
	return name
}

// NewNullnessHierarchy builds NonNull ⊑ MonotonicNonNull ⊑ Nullable and NonNull ⊑ PolyNull ⊑
// Nullable.
func NewNullnessHierarchy() Hierarchy {
	return newEnumHierarchy(Nullness,
		[]Kind{NonNull, MonotonicNonNull, PolyNull, Nullable},
		PolyNull,
		[][2]Kind{
			{NonNull, MonotonicNonNull},
			{MonotonicNonNull, Nullable},
			{NonNull, PolyNull},
			{PolyNull, Nullable},
		})
}

// NewKeyForHierarchy builds the dependent key-for lattice.
func NewKeyForHierarchy() Hierarchy { return keyForHierarchy{} }

// NewInitializationHierarchy builds FBCBottom ⊑ {Initialized, UnderInitialization} ⊑
// UnknownInitialization. The hierarchy has no polymorphic qualifier of its own; its
// Polymorphic() is unset.
func NewInitializationHierarchy() Hierarchy {
	return newEnumHierarchy(Initialization,
		[]Kind{FBCBottom, Initialized, UnderInitialization, UnknownInitialization},
		Unset,
		[][2]Kind{
			{FBCBottom, Initialized},
			{FBCBottom, UnderInitialization},
			{Initialized, UnknownInitialization},
			{UnderInitialization, UnknownInitialization},
		})
}
