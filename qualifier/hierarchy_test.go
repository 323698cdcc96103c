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
	"testing"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func nullnessQualifiers() []Qualifier {
	return []Qualifier{New(NonNull), New(MonotonicNonNull), New(PolyNull), New(Nullable)}
}

func keyForQualifiers() []Qualifier {
	return []Qualifier{
		New(KeyForBottom), New(UnknownKeyFor), New(PolyKeyFor),
		New(KeyForMaps, "this.a"), New(KeyForMaps, "this.b"),
		New(KeyForMaps, "this.a", "this.b"), New(KeyForMaps, "this.b", "this.c"),
	}
}

func initializationQualifiers() []Qualifier {
	return []Qualifier{New(FBCBottom), New(Initialized), New(UnderInitialization), New(UnknownInitialization)}
}

func TestBoundsAreBounds(t *testing.T) {
	t.Parallel()

	hs := Default()
	for id, quals := range map[HierarchyID][]Qualifier{
		Nullness:       nullnessQualifiers(),
		KeyFor:         keyForQualifiers(),
		Initialization: initializationQualifiers(),
	} {
		h := hs.Get(id)
		t.Run(id.String(), func(t *testing.T) {
			t.Parallel()
			rapid.Check(t, func(t *rapid.T) {
				a := rapid.SampledFrom(quals).Draw(t, "a")
				b := rapid.SampledFrom(quals).Draw(t, "b")

				lub := h.LeastUpperBound(a, b)
				if !h.IsSubtype(a, lub) || !h.IsSubtype(b, lub) {
					t.Fatalf("lub(%s, %s) = %s is not an upper bound", a, b, lub)
				}
				glb := h.GreatestLowerBound(a, b)
				if !h.IsSubtype(glb, a) || !h.IsSubtype(glb, b) {
					t.Fatalf("glb(%s, %s) = %s is not a lower bound", a, b, glb)
				}
				if !h.LeastUpperBound(a, a).Equal(a) || !h.GreatestLowerBound(a, a).Equal(a) {
					t.Fatalf("bounds of %s with itself are not idempotent", a)
				}
				if !h.IsSubtype(h.Bottom(), a) || !h.IsSubtype(a, h.Top()) {
					t.Fatalf("%s is not between bottom and top", a)
				}
			})
		})
	}
}

func TestNullnessOrder(t *testing.T) {
	t.Parallel()

	h := NewNullnessHierarchy()
	require.True(t, h.IsSubtype(New(NonNull), New(Nullable)))
	require.True(t, h.IsSubtype(New(NonNull), New(MonotonicNonNull)))
	require.True(t, h.IsSubtype(New(MonotonicNonNull), New(Nullable)))
	require.False(t, h.IsSubtype(New(Nullable), New(NonNull)))
	require.False(t, h.IsSubtype(New(PolyNull), New(MonotonicNonNull)))
	require.Equal(t, New(Nullable), h.LeastUpperBound(New(PolyNull), New(MonotonicNonNull)))
	require.Equal(t, New(NonNull), h.GreatestLowerBound(New(PolyNull), New(MonotonicNonNull)))
	require.Equal(t, New(Nullable), h.Top())
	require.Equal(t, New(NonNull), h.Bottom())
	require.Equal(t, 2, h.Height())
}

func TestKeyForSets(t *testing.T) {
	t.Parallel()

	h := NewKeyForHierarchy()
	ab, a, bc := New(KeyForMaps, "this.b", "this.a"), New(KeyForMaps, "this.a"), New(KeyForMaps, "this.b", "this.c")

	require.Equal(t, []string{"this.a", "this.b"}, ab.Args, "args must be sorted")
	require.True(t, h.IsSubtype(ab, a), "a superset of maps is a subtype")
	require.False(t, h.IsSubtype(a, ab))
	require.Equal(t, New(KeyForMaps, "this.b"), h.LeastUpperBound(ab, bc))
	require.Equal(t, New(UnknownKeyFor), h.LeastUpperBound(a, New(KeyForMaps, "this.c")))
	require.Equal(t, New(KeyForMaps, "this.a", "this.b", "this.c"), h.GreatestLowerBound(ab, bc))
	require.Equal(t, New(UnknownKeyFor), New(KeyForMaps), "a key-for without maps is unknown")
	require.Equal(t, `@KeyFor({"this.a", "this.b"})`, ab.String())
}

func TestSetConflicts(t *testing.T) {
	t.Parallel()

	_, err := NewSet(New(NonNull), New(Nullable))
	var conflict *ConflictError
	require.ErrorAs(t, err, &conflict)
	require.Equal(t, Nullness, conflict.Hierarchy)

	s, err := NewSet(New(NonNull), New(KeyForMaps, "m"), New(NonNull))
	require.NoError(t, err)
	require.False(t, s.Complete())
	require.True(t, s.WithDefaults(Default().Top()).Complete())
	require.Equal(t, `@NonNull @KeyFor("m")`, s.String())
}

func TestHierarchiesJoint(t *testing.T) {
	t.Parallel()

	hs := Default()
	nonNullKey := MustSet(New(NonNull), New(KeyForMaps, "m"), New(Initialized))
	nullableKey := MustSet(New(Nullable), New(KeyForMaps, "m"), New(Initialized))
	nonNullUnknown := MustSet(New(NonNull), New(UnknownKeyFor), New(Initialized))

	require.True(t, hs.IsSubtype(nonNullKey, nullableKey))
	require.Equal(t, KeyFor, hs.FirstFailing(nonNullUnknown, nonNullKey))
	require.Equal(t, MustSet(New(Nullable), New(UnknownKeyFor), New(Initialized)),
		hs.LeastUpperBound(nullableKey, nonNullUnknown))
	require.Equal(t, nonNullKey, hs.GreatestLowerBound(nullableKey, nonNullUnknown))

	q, ok := hs.FromAnnotation("org.checkerframework.checker.nullness.qual.MonotonicNonNull", nil)
	require.True(t, ok)
	require.Equal(t, New(MonotonicNonNull), q)
	_, ok = hs.FromAnnotation("Override", nil)
	require.False(t, ok)
}

func TestPolyResolver(t *testing.T) {
	t.Parallel()

	hs := Default()
	poly := MustSet(New(PolyNull))

	r := NewPolyResolver(hs)
	r.Bind(poly, MustSet(New(NonNull)))
	require.Equal(t, MustSet(New(NonNull)), r.Resolve(poly))

	// Any nullable actual climbs the instantiation to nullable.
	r.Bind(poly, MustSet(New(Nullable)))
	r.Bind(poly, MustSet(New(NonNull)))
	require.Equal(t, MustSet(New(Nullable)), r.Resolve(poly))

	// Unbound polymorphic slots resolve to top, non-polymorphic slots are untouched.
	unbound := NewPolyResolver(hs)
	require.Equal(t, MustSet(New(Nullable), New(UnknownKeyFor)),
		unbound.Resolve(MustSet(New(PolyNull), New(PolyKeyFor))))
	require.Equal(t, MustSet(New(NonNull)), unbound.Resolve(MustSet(New(NonNull))))
}

func TestNewHierarchies(t *testing.T) {
	t.Parallel()

	hs, err := NewHierarchies(NewInitializationHierarchy(), NewNullnessHierarchy(), NewKeyForHierarchy())
	require.NoError(t, err)
	require.Equal(t, KeyFor, hs.Get(KeyFor).ID())
	require.Equal(t, Default().Top(), hs.Top())

	_, err = NewHierarchies(NewNullnessHierarchy(), NewKeyForHierarchy())
	require.ErrorContains(t, err, "missing initialization hierarchy")

	_, err = NewHierarchies(NewNullnessHierarchy(), NewNullnessHierarchy(), NewKeyForHierarchy(), NewInitializationHierarchy())
	require.ErrorContains(t, err, "duplicate nullness hierarchy")
}
