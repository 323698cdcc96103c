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

package orderedmap_test

import (
	"encoding/gob"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/qualcheck/util/orderedmap"
)

func TestLoadStore(t *testing.T) {
	t.Parallel()

	pairs := [][2]int{{1, 2}, {2, 3}, {3, 4}}
	m := orderedmap.New[int, int]()
	for _, p := range pairs {
		k, v := p[0], p[1]
		m.Store(k, v)
		loadedV, ok := m.Load(k)
		require.True(t, ok)
		require.Equal(t, v, loadedV)
		require.Equal(t, v, m.Value(k))
	}

	v, ok := m.Load(-1)
	require.False(t, ok)
	require.Empty(t, v)
	require.Empty(t, m.Value(-1))
	require.Equal(t, len(pairs), m.Len())

	// Overwriting keeps the position.
	m.Store(1, 10)
	require.Equal(t, []int{1, 2, 3}, m.Keys())
}

func TestDelete(t *testing.T) {
	t.Parallel()

	m := orderedmap.New[string, int]()
	for i, k := range []string{"this.f", "x@1", "this.g", "x@1.f"} {
		m.Store(k, i)
	}
	require.True(t, m.Delete("x@1"))
	require.False(t, m.Delete("x@1"))
	require.Equal(t, []string{"this.f", "this.g", "x@1.f"}, m.Keys())

	m.DeleteFunc(func(key string, value int) bool { return value%2 == 0 })
	require.Equal(t, []string{"x@1.f"}, m.Keys())
	require.Equal(t, 1, m.Len())

	// Storing a deleted key appends it at the end.
	m.Store("this.f", 5)
	require.Equal(t, []string{"x@1.f", "this.f"}, m.Keys())
}

func TestClone(t *testing.T) {
	t.Parallel()

	m := orderedmap.New[string, int]()
	m.Store("a", 1)
	m.Store("b", 2)
	c := m.Clone()
	c.Store("c", 3)
	c.Delete("a")

	require.Equal(t, []string{"a", "b"}, m.Keys())
	require.Equal(t, []string{"b", "c"}, c.Keys())
}

func TestOrderedRange(t *testing.T) {
	t.Parallel()

	// Create a map with 100 <i, i+1> pairs to have better chance of breaking ordered range.
	m := orderedmap.New[int, int]()
	expectedKeys := make([]int, 0, 100)
	for i := 0; i < 100; i++ {
		m.Store(i, i+1)
		expectedKeys = append(expectedKeys, i)
	}

	// Run 5 concurrent subtests to ensure that the order is always the same.
	for i := 0; i < 5; i++ {
		t.Run(fmt.Sprintf("Run%d", i), func(t *testing.T) {
			t.Parallel()

			keys := make([]int, 0, 100)
			m.OrderedRange(func(key int, value int) bool {
				keys = append(keys, key)
				return true
			})
			require.Equal(t, expectedKeys, keys)
		})
	}

	var first []int
	m.OrderedRange(func(key int, _ int) bool {
		first = append(first, key)
		return len(first) < 3
	})
	require.Equal(t, []int{0, 1, 2}, first)
}

type Stub interface {
	Signature() string
}

type MethodStub struct{ Name string }

func (s *MethodStub) Signature() string { return s.Name + "()" }

type FieldStub struct{ Name string }

func (s *FieldStub) Signature() string { return s.Name }

func TestGobEncoding(t *testing.T) {
	t.Parallel()

	m := orderedmap.New[string, Stub]()
	m.Store("Map.get", &MethodStub{Name: "get"})
	m.Store("System.out", &FieldStub{Name: "out"})

	b, err := m.GobEncode()
	require.NoError(t, err)
	require.NotEmpty(t, b)

	decodedMap := orderedmap.New[string, Stub]()
	require.NoError(t, decodedMap.GobDecode(b))

	v, ok := decodedMap.Load("Map.get")
	require.True(t, ok)
	require.IsType(t, &MethodStub{}, v)
	require.Equal(t, "get()", v.Signature())
	v, ok = decodedMap.Load("System.out")
	require.True(t, ok)
	require.IsType(t, &FieldStub{}, v)
	require.Equal(t, m.Keys(), decodedMap.Keys())
}

func TestGobEncoding_Deterministic(t *testing.T) {
	t.Parallel()

	m := orderedmap.New[string, Stub]()
	m.Store("a", &MethodStub{Name: "a"})
	m.Store("b", &FieldStub{Name: "b"})

	// We encode the map 5 times and check that the result is always the same.
	var encoded []byte
	for i := 0; i < 5; i++ {
		b, err := m.GobEncode()
		require.NoError(t, err)
		require.NotEmpty(t, b)
		if len(encoded) == 0 {
			encoded = b
			continue
		}
		require.Equal(t, encoded, b)
	}
}

func TestGobEncode_Empty(t *testing.T) {
	t.Parallel()

	m := orderedmap.New[int, int]()
	b, err := m.GobEncode()
	require.NoError(t, err)
	require.Empty(t, b)
}

func TestMain(m *testing.M) {
	gob.Register(&MethodStub{})
	gob.Register(&FieldStub{})

	goleak.VerifyTestMain(m)
}
