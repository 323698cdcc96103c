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

package qualtype

import "go.uber.org/qualcheck/qualifier"

// Variance controls how the qualifiers of type arguments are compared.
type Variance uint8

const (
	// Invariant requires type-argument qualifiers to be equal.
	Invariant Variance = iota
	// Covariant allows type-argument qualifiers to be subtypes.
	Covariant
)

func (v Variance) String() string {
	if v == Covariant {
		return "covariant"
	}
	return "invariant"
}

// Relation decides qualified subtyping. Outermost qualifiers are always compared covariantly;
// type arguments follow the per-hierarchy Variance and array components follow InvariantArrays.
type Relation struct {
	Hierarchies     *qualifier.Hierarchies
	Variance        [qualifier.NumHierarchies]Variance
	InvariantArrays bool
}

// IsSubtype returns true if sub ⊑ sup in every hierarchy at every position.
func (r *Relation) IsSubtype(sub, sup Type) bool {
	_, ok := r.FirstFailing(sub, sup)
	return !ok
}

// FirstFailing returns the first hierarchy in which sub ⋢ sup.
func (r *Relation) FirstFailing(sub, sup Type) (qualifier.HierarchyID, bool) {
	for id := qualifier.HierarchyID(0); id < qualifier.NumHierarchies; id++ {
		if !r.subtypeIn(id, sub, sup) {
			return id, true
		}
	}
	return -1, false
}

// IsSubtypeIn returns true if sub ⊑ sup considering only hierarchy id.
func (r *Relation) IsSubtypeIn(id qualifier.HierarchyID, sub, sup Type) bool {
	return r.subtypeIn(id, sub, sup)
}

func (r *Relation) qualOK(id qualifier.HierarchyID, sub, sup qualifier.Set) bool {
	a, b := sub.Get(id), sup.Get(id)
	if !a.IsSet() || !b.IsSet() {
		return true
	}
	return r.Hierarchies.Get(id).IsSubtype(a, b)
}

func (r *Relation) subtypeIn(id qualifier.HierarchyID, sub, sup Type) bool {
	if sub == nil || sup == nil {
		return true
	}
	if w, ok := sup.(*Wildcard); ok {
		// A wildcard as a whole type is compared against its upper bound.
		if w.Extends != nil {
			return r.qualOK(id, sub.Quals(), w.Q) && r.subtypeIn(id, sub, w.Extends)
		}
		return r.qualOK(id, sub.Quals(), w.Q)
	}
	if !r.qualOK(id, sub.Quals(), sup.Quals()) {
		return false
	}
	switch sub := sub.(type) {
	case *Declared:
		sup, ok := sup.(*Declared)
		if !ok || sub.Name != sup.Name || len(sub.Args) != len(sup.Args) {
			// Qualifiers of type arguments are only related between parameterizations of the
			// same class.
			return true
		}
		for i := range sub.Args {
			if !r.argIn(id, sub.Args[i], sup.Args[i]) {
				return false
			}
		}
	case *Array:
		sup, ok := sup.(*Array)
		if !ok {
			return true
		}
		if r.InvariantArrays {
			return r.equalIn(id, sub.Component, sup.Component)
		}
		return r.subtypeIn(id, sub.Component, sup.Component)
	case *TypeVar:
		if sup, ok := sup.(*TypeVar); ok && sup.Name == sub.Name {
			return true
		}
		if sub.Upper != nil {
			// Only the bound's qualifier at the outermost position matters, and that was compared.
			return true
		}
	}
	return true
}

// argIn compares one type argument according to the hierarchy's variance, including wildcard
// containment.
func (r *Relation) argIn(id qualifier.HierarchyID, sub, sup Type) bool {
	if w, ok := sup.(*Wildcard); ok {
		subUpper, subLower := sub, sub
		if sw, ok := sub.(*Wildcard); ok {
			subUpper, subLower = sw.Extends, sw.Super
		}
		if w.Extends != nil && subUpper != nil && !r.subtypeIn(id, subUpper, w.Extends) {
			return false
		}
		if w.Super != nil && (subLower == nil || !r.subtypeIn(id, w.Super, subLower)) {
			return false
		}
		return true
	}
	if r.Variance[id] == Covariant {
		return r.subtypeIn(id, sub, sup)
	}
	return r.equalIn(id, sub, sup)
}

// equalIn returns true if a and b carry equal qualifiers of hierarchy id at every position.
func (r *Relation) equalIn(id qualifier.HierarchyID, a, b Type) bool {
	return r.subtypeIn(id, a, b) && r.subtypeIn(id, b, a)
}
