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

// Package orderedmap implements a generic map that remembers insertion order, so that iteration
// over store facts, classes and stub entries is deterministic.
package orderedmap

import (
	"bytes"
	"encoding/gob"
	"errors"
	"io"
	"slices"
)

// OrderedMap is a map whose iteration order is the order in which keys were first stored. It is
// not safe for concurrent mutation.
type OrderedMap[K comparable, V any] struct {
	inner map[K]V
	keys  []K
}

// New returns an empty map.
func New[K comparable, V any]() *OrderedMap[K, V] {
	return &OrderedMap[K, V]{inner: make(map[K]V)}
}

// Load returns the value stored under key.
func (m *OrderedMap[K, V]) Load(key K) (V, bool) {
	v, ok := m.inner[key]
	return v, ok
}

// Value returns the value stored under key, or the zero value.
func (m *OrderedMap[K, V]) Value(key K) V {
	return m.inner[key]
}

// Store sets the value of key. Overwriting keeps the original position of the key.
func (m *OrderedMap[K, V]) Store(key K, value V) {
	if _, ok := m.inner[key]; !ok {
		m.keys = append(m.keys, key)
	}
	m.inner[key] = value
}

// Delete removes key, reporting whether it was present.
func (m *OrderedMap[K, V]) Delete(key K) bool {
	if _, ok := m.inner[key]; !ok {
		return false
	}
	delete(m.inner, key)
	m.keys = slices.DeleteFunc(m.keys, func(k K) bool { return k == key })
	return true
}

// DeleteFunc removes every entry for which del returns true.
func (m *OrderedMap[K, V]) DeleteFunc(del func(key K, value V) bool) {
	m.keys = slices.DeleteFunc(m.keys, func(k K) bool {
		if del(k, m.inner[k]) {
			delete(m.inner, k)
			return true
		}
		return false
	})
}

// Len returns the number of entries.
func (m *OrderedMap[K, V]) Len() int { return len(m.keys) }

// Keys returns the keys in insertion order.
func (m *OrderedMap[K, V]) Keys() []K { return slices.Clone(m.keys) }

// Clone returns a shallow copy.
func (m *OrderedMap[K, V]) Clone() *OrderedMap[K, V] {
	c := &OrderedMap[K, V]{inner: make(map[K]V, len(m.inner)), keys: slices.Clone(m.keys)}
	for k, v := range m.inner {
		c.inner[k] = v
	}
	return c
}

// OrderedRange calls f for each entry in insertion order until f returns false.
func (m *OrderedMap[K, V]) OrderedRange(f func(key K, value V) bool) {
	for _, k := range m.keys {
		if !f(k, m.inner[k]) {
			return
		}
	}
}

// GobEncode encodes the entries as alternating keys and values in insertion order.
func (m *OrderedMap[K, V]) GobEncode() ([]byte, error) {
	var buf bytes.Buffer
	enc := gob.NewEncoder(&buf)
	for _, k := range m.keys {
		v := m.inner[k]
		// Pointers make gob transmit interface-typed keys and values with their concrete type.
		if err := enc.Encode(&k); err != nil {
			return nil, err
		}
		if err := enc.Encode(&v); err != nil {
			return nil, err
		}
	}

	if buf.Len() == 0 {
		return nil, nil
	}
	return buf.Bytes(), nil
}

// GobDecode appends the encoded entries to m.
func (m *OrderedMap[K, V]) GobDecode(b []byte) error {
	if m.inner == nil {
		m.inner = make(map[K]V)
	}
	dec := gob.NewDecoder(bytes.NewBuffer(b))
	for {
		var k K
		if err := dec.Decode(&k); errors.Is(err, io.EOF) {
			break
		} else if err != nil {
			return err
		}
		var v V
		if err := dec.Decode(&v); err != nil {
			return err
		}
		m.Store(k, v)
	}

	return nil
}
