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

// Package store implements the flow facts of the dataflow analysis: a mapping from flow
// expressions to the qualifiers known to hold for their current values, with the invalidation
// rules for side effects and the join at control-flow merges.
package store

import (
	"strings"

	"go.uber.org/qualcheck/expr"
	"go.uber.org/qualcheck/qualifier"
	"go.uber.org/qualcheck/qualtype"
	"go.uber.org/qualcheck/util/orderedmap"
)

// Value is the abstract value of an expression: its refined outermost qualifiers and the type
// it was computed from.
type Value struct {
	Quals qualifier.Set
	// Type holds the nested qualifiers; its outermost qualifiers are superseded by Quals. It
	// may be nil when only the qualifiers are known.
	Type qualtype.Type
}

// Of returns the value of a type.
func Of(t qualtype.Type) Value {
	if t == nil {
		return Value{}
	}
	return Value{Quals: t.Quals(), Type: t}
}

// AsType returns the value as a type whose outermost qualifiers are Quals.
func (v Value) AsType() qualtype.Type {
	if v.Type == nil {
		return &qualtype.Declared{Name: "Object", Q: v.Quals}
	}
	return v.Type.WithQuals(v.Quals)
}

type entry struct {
	expr  expr.Expr
	value Value
}

// Store maps flow expressions, by key, to values. A Store is owned by one analysis and is not
// safe for concurrent use.
type Store struct {
	hs *qualifier.Hierarchies
	// exprOf resolves the keys held by key-for qualifiers, so that facts depending on a
	// modified expression can be found; nil disables that.
	exprOf func(key string) (expr.Expr, bool)
	facts  *orderedmap.OrderedMap[string, entry]
}

// New returns an empty store.
func New(hs *qualifier.Hierarchies, exprOf func(key string) (expr.Expr, bool)) *Store {
	return &Store{hs: hs, exprOf: exprOf, facts: orderedmap.New[string, entry]()}
}

// storable returns true for expressions facts may be kept about.
func storable(e expr.Expr) bool {
	if e == nil || !expr.Representable(e) {
		return false
	}
	switch e.(type) {
	case *expr.Literal, *expr.ClassName:
		return false
	}
	return true
}

// Len returns the number of facts.
func (s *Store) Len() int { return s.facts.Len() }

// Get returns the fact about e.
func (s *Store) Get(e expr.Expr) (Value, bool) {
	if !storable(e) {
		return Value{}, false
	}
	en, ok := s.facts.Load(e.Key())
	return en.value, ok
}

// Range calls f for each fact in insertion order until f returns false.
func (s *Store) Range(f func(e expr.Expr, v Value) bool) {
	s.facts.OrderedRange(func(_ string, en entry) bool { return f(en.expr, en.value) })
}

// Put refines the fact about e with v: the result is the greatest lower bound of both.
func (s *Store) Put(e expr.Expr, v Value) {
	if !storable(e) {
		return
	}
	if old, ok := s.facts.Load(e.Key()); ok {
		v.Quals = s.hs.GreatestLowerBound(old.value.Quals, v.Quals)
		if v.Type == nil {
			v.Type = old.value.Type
		}
	}
	s.facts.Store(e.Key(), entry{expr: e, value: v})
}

// Replace sets the fact about e to v, discarding what was known.
func (s *Store) Replace(e expr.Expr, v Value) {
	if !storable(e) {
		return
	}
	s.facts.Store(e.Key(), entry{expr: e, value: v})
}

// Remove forgets the fact about e.
func (s *Store) Remove(e expr.Expr) {
	if storable(e) {
		s.facts.Delete(e.Key())
	}
}

// Assign records that e now holds v: every fact depending on the old value of e is dropped
// first.
func (s *Store) Assign(e expr.Expr, v Value) {
	s.ClearAllDependentOn(e)
	s.Replace(e, v)
}

// ClearAllDependentOn drops the facts whose expression contains e (other than e itself) and
// removes e from the maps of key-for qualifiers.
func (s *Store) ClearAllDependentOn(e expr.Expr) {
	if !storable(e) {
		return
	}
	key := e.Key()
	s.facts.DeleteFunc(func(k string, en entry) bool {
		return k != key && expr.Contains(en.expr, e)
	})
	s.dropKeyFor(func(mapExpr expr.Expr) bool { return expr.Contains(mapExpr, e) })
}

// dropKeyFor removes the maps matched by dependent from every key-for fact.
func (s *Store) dropKeyFor(dependent func(expr.Expr) bool) {
	if s.exprOf == nil {
		return
	}
	for _, k := range s.facts.Keys() {
		en := s.facts.Value(k)
		q := en.value.Quals.Get(qualifier.KeyFor)
		if q.Kind != qualifier.KeyForMaps {
			continue
		}
		kept := make([]string, 0, len(q.Args))
		for _, arg := range q.Args {
			if m, ok := s.exprOf(arg); ok && dependent(m) {
				continue
			}
			kept = append(kept, arg)
		}
		if len(kept) == len(q.Args) {
			continue
		}
		en.value.Quals = en.value.Quals.With(qualifier.New(qualifier.KeyForMaps, kept...))
		s.facts.Store(k, en)
	}
}

// InvalidateForFieldWrite updates the store for the write `fe = written`. Facts about the same
// field through other receivers, which may be aliases, are joined with the written value when
// aliasWrites is set and kept otherwise; facts about method calls are dropped.
func (s *Store) InvalidateForFieldWrite(fe *expr.FieldAccess, written Value, aliasWrites bool) {
	s.ClearAllDependentOn(fe)
	key := fe.Key()
	for _, k := range s.facts.Keys() {
		en := s.facts.Value(k)
		switch x := en.expr.(type) {
		case *expr.MethodCall:
			s.facts.Delete(k)
		case *expr.FieldAccess:
			if k != key && aliasWrites && x.Name == fe.Name && x.Owner == fe.Owner {
				en.value.Quals = s.hs.LeastUpperBound(en.value.Quals, written.Quals)
				s.facts.Store(k, en)
			}
		}
	}
	s.Replace(fe, written)
}

// InvalidateForArrayWrite updates the store for the write `ae = written`. Facts about other
// array elements are joined with the written value; facts about fields are kept.
func (s *Store) InvalidateForArrayWrite(ae *expr.ArrayAccess, written Value) {
	s.ClearAllDependentOn(ae)
	key := ae.Key()
	for _, k := range s.facts.Keys() {
		en := s.facts.Value(k)
		switch en.expr.(type) {
		case *expr.MethodCall:
			s.facts.Delete(k)
		case *expr.ArrayAccess:
			if k != key {
				en.value.Quals = s.hs.LeastUpperBound(en.value.Quals, written.Quals)
				s.facts.Store(k, en)
			}
		}
	}
	s.Replace(ae, written)
}

// InvalidateForCall updates the store for a method invocation. Facts about non-deterministic
// method calls never survive a call. If the callee is not side-effect-free, facts about
// expressions other code may modify are dropped too, except those for which keep returns true
// (monotonic facts). Key-for facts survive: maps are assumed to only grow.
func (s *Store) InvalidateForCall(sideEffectFree bool, keep func(e expr.Expr, v Value) bool) {
	s.facts.DeleteFunc(func(_ string, en entry) bool {
		if mc, ok := en.expr.(*expr.MethodCall); ok && !expr.IsDeterministic(mc) {
			return true
		}
		if sideEffectFree || expr.IsUnmodifiableByOtherCode(en.expr) {
			return false
		}
		return keep == nil || !keep(en.expr, en.value)
	})
}

// Copy returns an independent copy of the store.
func (s *Store) Copy() *Store {
	return &Store{hs: s.hs, exprOf: s.exprOf, facts: s.facts.Clone()}
}

// LeastUpperBound merges two stores at a control-flow join: only facts present in both are kept,
// with the hierarchy-wise join of their qualifiers. A refined type survives only if both sides
// agree on it.
func (s *Store) LeastUpperBound(other *Store) *Store {
	out := New(s.hs, s.exprOf)
	s.facts.OrderedRange(func(k string, en entry) bool {
		o, ok := other.facts.Load(k)
		if !ok {
			return true
		}
		en.value.Quals = s.hs.LeastUpperBound(en.value.Quals, o.value.Quals)
		if !sameType(en.value.Type, o.value.Type) {
			en.value.Type = nil
		}
		out.facts.Store(k, en)
		return true
	})
	return out
}

func sameType(a, b qualtype.Type) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return qualtype.SameUnderlying(a, b)
}

// Equal returns true if both stores hold equal qualifiers for the same expressions.
func (s *Store) Equal(other *Store) bool {
	if s.facts.Len() != other.facts.Len() {
		return false
	}
	equal := true
	s.facts.OrderedRange(func(k string, en entry) bool {
		o, ok := other.facts.Load(k)
		equal = ok && en.value.Quals.Equal(o.value.Quals)
		return equal
	})
	return equal
}

// String lists the facts, one per line.
func (s *Store) String() string {
	var sb strings.Builder
	s.facts.OrderedRange(func(_ string, en entry) bool {
		sb.WriteString(en.expr.String())
		sb.WriteString(": ")
		sb.WriteString(en.value.Quals.String())
		sb.WriteByte('\n')
		return true
	})
	return sb.String()
}
