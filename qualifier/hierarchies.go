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

import "fmt"

// Hierarchies is the immutable composition of all checked hierarchies. It is built once before
// any analysis begins and shared read-only by every per-method analysis.
type Hierarchies struct {
	hs [NumHierarchies]Hierarchy
}

// NewHierarchies composes the given hierarchies; exactly one hierarchy per HierarchyID must be supplied.
func NewHierarchies(hierarchies ...Hierarchy) (*Hierarchies, error) {
	r := &Hierarchies{}
	for _, h := range hierarchies {
		id := h.ID()
		if id < 0 || id >= NumHierarchies {
			return nil, fmt.Errorf("unknown hierarchy id %d", id)
		}
		if r.hs[id] != nil {
			return nil, fmt.Errorf("duplicate %s hierarchy", id)
		}
		r.hs[id] = h
	}
	for id, h := range r.hs {
		if h == nil {
			return nil, fmt.Errorf("missing %s hierarchy", HierarchyID(id))
		}
	}
	return r, nil
}

// Default returns the nullness, key-for and initialization hierarchies.
func Default() *Hierarchies {
	r, err := NewHierarchies(NewNullnessHierarchy(), NewKeyForHierarchy(), NewInitializationHierarchy())
	if err != nil {
		panic(err)
	}
	return r
}

// Get returns the hierarchy with the given id.
func (r *Hierarchies) Get(id HierarchyID) Hierarchy { return r.hs[id] }

// Top returns the set of top qualifiers.
func (r *Hierarchies) Top() Set {
	var s Set
	for id, h := range r.hs {
		s[id] = h.Top()
	}
	return s
}

// Bottom returns the set of bottom qualifiers.
func (r *Hierarchies) Bottom() Set {
	var s Set
	for id, h := range r.hs {
		s[id] = h.Bottom()
	}
	return s
}

// Height returns the sum of the heights of all hierarchies, i.e., the height of the product
// lattice of one type position.
func (r *Hierarchies) Height() int {
	n := 0
	for _, h := range r.hs {
		n += h.Height()
	}
	return n
}

// IsSubtype returns true if sub ⊑ sup in every hierarchy where both are determined.
func (r *Hierarchies) IsSubtype(sub, sup Set) bool {
	return r.FirstFailing(sub, sup) < 0
}

// FirstFailing returns the first hierarchy in which sub ⋢ sup, or -1.
func (r *Hierarchies) FirstFailing(sub, sup Set) HierarchyID {
	for id, h := range r.hs {
		if !sub[id].IsSet() || !sup[id].IsSet() {
			continue
		}
		if !h.IsSubtype(sub[id], sup[id]) {
			return HierarchyID(id)
		}
	}
	return -1
}

// LeastUpperBound joins two sets hierarchy-wise. A hierarchy unset in either operand stays unset.
func (r *Hierarchies) LeastUpperBound(a, b Set) Set {
	var s Set
	for id, h := range r.hs {
		if a[id].IsSet() && b[id].IsSet() {
			s[id] = h.LeastUpperBound(a[id], b[id])
		}
	}
	return s
}

// GreatestLowerBound meets two sets hierarchy-wise. A hierarchy unset in one operand takes the
// other operand's qualifier.
func (r *Hierarchies) GreatestLowerBound(a, b Set) Set {
	var s Set
	for id, h := range r.hs {
		switch {
		case a[id].IsSet() && b[id].IsSet():
			s[id] = h.GreatestLowerBound(a[id], b[id])
		case a[id].IsSet():
			s[id] = a[id]
		default:
			s[id] = b[id]
		}
	}
	return s
}

// FromAnnotation resolves an annotation name to a qualifier of whichever hierarchy claims it.
func (r *Hierarchies) FromAnnotation(name string, args []string) (Qualifier, bool) {
	for _, h := range r.hs {
		if q, ok := h.FromAnnotation(name, args); ok {
			return q, true
		}
	}
	return Qualifier{}, false
}

// IsPolymorphic returns true if q is the polymorphic qualifier of its hierarchy.
func (r *Hierarchies) IsPolymorphic(q Qualifier) bool {
	h := q.Hierarchy()
	return h >= 0 && q.IsSet() && r.hs[h].Polymorphic().Equal(q)
}

// HasPolymorphic returns true if any slot of s is polymorphic.
func (r *Hierarchies) HasPolymorphic(s Set) bool {
	for _, q := range s {
		if r.IsPolymorphic(q) {
			return true
		}
	}
	return false
}
