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

// Package qualifier implements the lattices of type qualifiers (nullness, key-for and
// initialization) together with the composite, per-type-position qualifier sets that the rest of
// the engine operates on.
package qualifier

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
)

// HierarchyID identifies one qualifier hierarchy. Every type position carries exactly one
// qualifier per hierarchy.
type HierarchyID int

const (
	// Nullness is the hierarchy of NonNull / MonotonicNonNull / Nullable / PolyNull.
	Nullness HierarchyID = iota
	// KeyFor is the hierarchy of map-key qualifiers, whose elements are dependent on expressions.
	KeyFor
	// Initialization is the hierarchy tracking object initialization (the raw `this` problem).
	Initialization
	// NumHierarchies is the number of hierarchies checked jointly.
	NumHierarchies
)

var _hierarchyNames = [NumHierarchies]string{"nullness", "keyfor", "initialization"}

// String returns the checker name of the hierarchy.
func (h HierarchyID) String() string {
	if h < 0 || h >= NumHierarchies {
		return "hierarchy(" + strconv.Itoa(int(h)) + ")"
	}
	return _hierarchyNames[h]
}

// Kind is the shape of a qualifier; KeyForMaps additionally carries the map expressions in
// Qualifier.Args.
type Kind uint8

// Unset marks a type position whose qualifier has not been determined yet (defaults apply).
const Unset Kind = 0

const (
	NonNull Kind = iota + 1
	MonotonicNonNull
	Nullable
	PolyNull

	KeyForBottom
	KeyForMaps
	UnknownKeyFor
	PolyKeyFor

	FBCBottom
	Initialized
	UnderInitialization
	UnknownInitialization

	numKinds
)

var _kindInfo = [numKinds]struct {
	name      string
	hierarchy HierarchyID
}{
	Unset:                 {"<unset>", -1},
	NonNull:               {"NonNull", Nullness},
	MonotonicNonNull:      {"MonotonicNonNull", Nullness},
	Nullable:              {"Nullable", Nullness},
	PolyNull:              {"PolyNull", Nullness},
	KeyForBottom:          {"KeyForBottom", KeyFor},
	KeyForMaps:            {"KeyFor", KeyFor},
	UnknownKeyFor:         {"UnknownKeyFor", KeyFor},
	PolyKeyFor:            {"PolyKeyFor", KeyFor},
	FBCBottom:             {"FBCBottom", Initialization},
	Initialized:           {"Initialized", Initialization},
	UnderInitialization:   {"UnderInitialization", Initialization},
	UnknownInitialization: {"UnknownInitialization", Initialization},
}

// String returns the annotation name of the kind.
func (k Kind) String() string {
	if k >= numKinds {
		return "kind(" + strconv.Itoa(int(k)) + ")"
	}
	return _kindInfo[k].name
}

// Qualifier is a single element of one hierarchy's lattice. The zero value is unset.
type Qualifier struct {
	Kind Kind
	// Args holds the canonical, sorted and de-duplicated map expressions of a KeyFor qualifier.
	Args []string
}

// New creates a qualifier of the given kind. Arguments are only meaningful for KeyForMaps; a
// KeyForMaps qualifier without any map degenerates to UnknownKeyFor.
func New(kind Kind, args ...string) Qualifier {
	if kind != KeyForMaps {
		return Qualifier{Kind: kind}
	}
	if len(args) == 0 {
		return Qualifier{Kind: UnknownKeyFor}
	}
	sorted := slices.Clone(args)
	slices.Sort(sorted)
	return Qualifier{Kind: kind, Args: slices.Compact(sorted)}
}

// IsSet returns true if the qualifier has been determined.
func (q Qualifier) IsSet() bool { return q.Kind != Unset }

// Hierarchy returns the hierarchy the qualifier belongs to, or -1 for an unset qualifier.
func (q Qualifier) Hierarchy() HierarchyID {
	if q.Kind >= numKinds {
		return -1
	}
	return _kindInfo[q.Kind].hierarchy
}

// Equal returns true if both qualifiers denote the same lattice element.
func (q Qualifier) Equal(other Qualifier) bool {
	return q.Kind == other.Kind && slices.Equal(q.Args, other.Args)
}

// String returns the qualifier in annotation syntax, e.g. `@KeyFor({"a", "b"})`.
func (q Qualifier) String() string {
	if q.Kind != KeyForMaps {
		return "@" + q.Kind.String()
	}
	quoted := make([]string, len(q.Args))
	for i, a := range q.Args {
		quoted[i] = strconv.Quote(a)
	}
	if len(quoted) == 1 {
		return fmt.Sprintf("@KeyFor(%s)", quoted[0])
	}
	return fmt.Sprintf("@KeyFor({%s})", strings.Join(quoted, ", "))
}

// Set holds one qualifier per hierarchy for a single type position.
type Set [NumHierarchies]Qualifier

// NewSet places each qualifier into its hierarchy's slot. Two qualifiers of the same hierarchy
// yield a *ConflictError.
func NewSet(qs ...Qualifier) (Set, error) {
	var s Set
	for _, q := range qs {
		h := q.Hierarchy()
		if h < 0 {
			continue
		}
		if s[h].IsSet() && !s[h].Equal(q) {
			return Set{}, &ConflictError{Hierarchy: h, First: s[h], Second: q}
		}
		s[h] = q
	}
	return s, nil
}

// MustSet is like NewSet but panics on conflicts; it is intended for constant qualifier sets.
func MustSet(qs ...Qualifier) Set {
	s, err := NewSet(qs...)
	if err != nil {
		panic(err)
	}
	return s
}

// Get returns the qualifier of the given hierarchy.
func (s Set) Get(h HierarchyID) Qualifier { return s[h] }

// With returns a copy of s whose slot for q's hierarchy is replaced by q.
func (s Set) With(q Qualifier) Set {
	if h := q.Hierarchy(); h >= 0 {
		s[h] = q
	}
	return s
}

// Complete returns true if every hierarchy has a determined qualifier.
func (s Set) Complete() bool {
	for _, q := range s {
		if !q.IsSet() {
			return false
		}
	}
	return true
}

// IsEmpty returns true if no hierarchy has a determined qualifier.
func (s Set) IsEmpty() bool {
	for _, q := range s {
		if q.IsSet() {
			return false
		}
	}
	return true
}

// WithDefaults fills every unset slot of s with the corresponding slot of defaults.
func (s Set) WithDefaults(defaults Set) Set {
	for h := range s {
		if !s[h].IsSet() {
			s[h] = defaults[h]
		}
	}
	return s
}

// Equal returns true if both sets hold equal qualifiers in every hierarchy.
func (s Set) Equal(other Set) bool {
	for h := range s {
		if !s[h].Equal(other[h]) {
			return false
		}
	}
	return true
}

// String prints the determined qualifiers separated by spaces.
func (s Set) String() string {
	parts := make([]string, 0, NumHierarchies)
	for _, q := range s {
		if q.IsSet() {
			parts = append(parts, q.String())
		}
	}
	return strings.Join(parts, " ")
}

// ConflictError is returned when two different qualifiers of one hierarchy are written on the
// same type position.
type ConflictError struct {
	Hierarchy     HierarchyID
	First, Second Qualifier
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("conflicting %s qualifiers %s and %s", e.Hierarchy, e.First, e.Second)
}
