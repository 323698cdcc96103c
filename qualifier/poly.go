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

// PolyResolver instantiates polymorphic qualifiers for one invocation. Every use of a
// hierarchy's polymorphic qualifier within the invocation resolves to the same qualifier: the least
// upper bound of every actual bound to a polymorphic slot. Unbound slots resolve to top.
type PolyResolver struct {
	hs    *Hierarchies
	bound [NumHierarchies]Qualifier
}

// NewPolyResolver returns a resolver with no bindings.
func NewPolyResolver(hs *Hierarchies) *PolyResolver {
	return &PolyResolver{hs: hs}
}

// Bind records the actual qualifiers flowing into a formal position.
func (r *PolyResolver) Bind(formal, actual Set) {
	for id, q := range formal {
		if !r.hs.IsPolymorphic(q) || !actual[id].IsSet() {
			continue
		}
		if !r.bound[id].IsSet() {
			r.bound[id] = actual[id]
			continue
		}
		r.bound[id] = r.hs.Get(HierarchyID(id)).LeastUpperBound(r.bound[id], actual[id])
	}
}

// Bound returns the current instantiation of the hierarchy's polymorphic qualifier.
func (r *PolyResolver) Bound(id HierarchyID) (Qualifier, bool) {
	return r.bound[id], r.bound[id].IsSet()
}

// Resolve replaces every polymorphic slot of s by its instantiation.
func (r *PolyResolver) Resolve(s Set) Set {
	for id, q := range s {
		if !r.hs.IsPolymorphic(q) {
			continue
		}
		if r.bound[id].IsSet() {
			s[id] = r.bound[id]
		} else {
			s[id] = r.hs.Get(HierarchyID(id)).Top()
		}
	}
	return s
}
