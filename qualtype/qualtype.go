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

// Package qualtype implements qualified types: host types whose every structural position (the
// type itself, array components, type arguments, bounds) carries a qualifier.Set.
package qualtype

import (
	"strings"

	"go.uber.org/qualcheck/qualifier"
)

// Type is a qualified type. The set of implementations is closed: Declared, Array, TypeVar,
// Wildcard, Primitive, Null and Void. Types are immutable; WithQuals and Map return copies.
type Type interface {
	// Quals returns the qualifiers of the outermost position.
	Quals() qualifier.Set
	// WithQuals returns a copy whose outermost qualifiers are replaced by q.
	WithQuals(q qualifier.Set) Type
	// String prints the type with its explicit qualifiers, e.g. `@Nullable String @NonNull []`.
	String() string

	isType()
}

// Declared is a class or interface type, possibly parameterized.
type Declared struct {
	Name string
	Args []Type
	Q    qualifier.Set
}

// Array is an array type.
type Array struct {
	Component Type
	Q         qualifier.Set
}

// TypeVar is a use of a type variable; Upper is its upper bound (nil means Object).
type TypeVar struct {
	Name  string
	Upper Type
	Q     qualifier.Set
}

// Wildcard is a type argument `?`, `? extends Extends` or `? super Super`.
type Wildcard struct {
	Extends Type
	Super   Type
	Q       qualifier.Set
}

// Primitive is a primitive type such as int or boolean. Primitives admit no nullness qualifier.
type Primitive struct {
	Name string
	Q    qualifier.Set
}

// Null is the type of the null literal.
type Null struct {
	Q qualifier.Set
}

// Void is the return type of methods without result.
type Void struct{}

func (*Declared) isType()  {}
func (*Array) isType()     {}
func (*TypeVar) isType()   {}
func (*Wildcard) isType()  {}
func (*Primitive) isType() {}
func (*Null) isType()      {}
func (*Void) isType()      {}

func (t *Declared) Quals() qualifier.Set  { return t.Q }
func (t *Array) Quals() qualifier.Set     { return t.Q }
func (t *TypeVar) Quals() qualifier.Set   { return t.Q }
func (t *Wildcard) Quals() qualifier.Set  { return t.Q }
func (t *Primitive) Quals() qualifier.Set { return t.Q }
func (t *Null) Quals() qualifier.Set      { return t.Q }
func (*Void) Quals() qualifier.Set        { return qualifier.Set{} }

func (t *Declared) WithQuals(q qualifier.Set) Type {
	c := *t
	c.Q = q
	return &c
}

func (t *Array) WithQuals(q qualifier.Set) Type {
	c := *t
	c.Q = q
	return &c
}

func (t *TypeVar) WithQuals(q qualifier.Set) Type {
	c := *t
	c.Q = q
	return &c
}

func (t *Wildcard) WithQuals(q qualifier.Set) Type {
	c := *t
	c.Q = q
	return &c
}

func (t *Primitive) WithQuals(q qualifier.Set) Type {
	c := *t
	c.Q = q
	return &c
}

func (t *Null) WithQuals(q qualifier.Set) Type { return &Null{Q: q} }
func (t *Void) WithQuals(qualifier.Set) Type   { return t }

func prefix(q qualifier.Set) string {
	if s := q.String(); s != "" {
		return s + " "
	}
	return ""
}

func (t *Declared) String() string {
	var sb strings.Builder
	sb.WriteString(prefix(t.Q))
	sb.WriteString(t.Name)
	if len(t.Args) > 0 {
		sb.WriteByte('<')
		for i, a := range t.Args {
			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString(a.String())
		}
		sb.WriteByte('>')
	}
	return sb.String()
}

// String uses the host syntax for annotated arrays: the qualifier of the array itself is written
// before the brackets.
func (t *Array) String() string {
	return t.Component.String() + " " + prefix(t.Q) + "[]"
}

func (t *TypeVar) String() string { return prefix(t.Q) + t.Name }

func (t *Wildcard) String() string {
	switch {
	case t.Super != nil:
		return prefix(t.Q) + "? super " + t.Super.String()
	case t.Extends != nil:
		return prefix(t.Q) + "? extends " + t.Extends.String()
	}
	return prefix(t.Q) + "?"
}

func (t *Primitive) String() string { return prefix(t.Q) + t.Name }
func (t *Null) String() string      { return prefix(t.Q) + "null" }
func (*Void) String() string        { return "void" }

// Name returns the unqualified host type name of t, e.g. "String[]" or "Map". Type arguments are
// omitted.
func Name(t Type) string {
	switch t := t.(type) {
	case *Declared:
		return t.Name
	case *Array:
		return Name(t.Component) + "[]"
	case *TypeVar:
		if t.Upper != nil {
			return Name(t.Upper)
		}
		return "Object"
	case *Wildcard:
		if t.Extends != nil {
			return Name(t.Extends)
		}
		return "Object"
	case *Primitive:
		return t.Name
	case *Null:
		return "null"
	}
	return "void"
}

// IsReference returns true if values of t may be null references.
func IsReference(t Type) bool {
	switch t.(type) {
	case *Primitive, *Void:
		return false
	}
	return t != nil
}

// IsBoolean returns true for the primitive boolean and its box.
func IsBoolean(t Type) bool {
	switch t := t.(type) {
	case *Primitive:
		return t.Name == "boolean"
	case *Declared:
		return simpleName(t.Name) == "Boolean"
	}
	return false
}

var _boxes = map[string]string{
	"Boolean":   "boolean",
	"Byte":      "byte",
	"Character": "char",
	"Short":     "short",
	"Integer":   "int",
	"Long":      "long",
	"Float":     "float",
	"Double":    "double",
}

// Unboxed returns the primitive type a boxed declared type converts to.
func Unboxed(t Type) (*Primitive, bool) {
	d, ok := t.(*Declared)
	if !ok {
		return nil, false
	}
	name, ok := _boxes[simpleName(d.Name)]
	if !ok {
		return nil, false
	}
	return &Primitive{Name: name}, true
}

func simpleName(name string) string {
	if i := strings.LastIndexByte(name, '.'); i >= 0 {
		return name[i+1:]
	}
	return name
}

// SameUnderlying returns true if a and b have the same structure and names, ignoring qualifiers
// at every position.
func SameUnderlying(a, b Type) bool {
	switch a := a.(type) {
	case *Declared:
		b, ok := b.(*Declared)
		if !ok || a.Name != b.Name || len(a.Args) != len(b.Args) {
			return false
		}
		for i := range a.Args {
			if !SameUnderlying(a.Args[i], b.Args[i]) {
				return false
			}
		}
		return true
	case *Array:
		b, ok := b.(*Array)
		return ok && SameUnderlying(a.Component, b.Component)
	case *TypeVar:
		b, ok := b.(*TypeVar)
		return ok && a.Name == b.Name
	case *Wildcard:
		b, ok := b.(*Wildcard)
		return ok && sameOptional(a.Extends, b.Extends) && sameOptional(a.Super, b.Super)
	case *Primitive:
		b, ok := b.(*Primitive)
		return ok && a.Name == b.Name
	case *Null:
		_, ok := b.(*Null)
		return ok
	case *Void:
		_, ok := b.(*Void)
		return ok
	}
	return false
}

func sameOptional(a, b Type) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return SameUnderlying(a, b)
}

// Map rebuilds t bottom-up, calling f on every position after its components were mapped. f
// receives a fresh copy and may return it modified.
func Map(t Type, f func(Type) Type) Type {
	if t == nil {
		return nil
	}
	switch t := t.(type) {
	case *Declared:
		c := *t
		if len(t.Args) > 0 {
			c.Args = make([]Type, len(t.Args))
			for i, a := range t.Args {
				c.Args[i] = Map(a, f)
			}
		}
		return f(&c)
	case *Array:
		return f(&Array{Component: Map(t.Component, f), Q: t.Q})
	case *TypeVar:
		return f(&TypeVar{Name: t.Name, Upper: Map(t.Upper, f), Q: t.Q})
	case *Wildcard:
		return f(&Wildcard{Extends: Map(t.Extends, f), Super: Map(t.Super, f), Q: t.Q})
	case *Primitive:
		c := *t
		return f(&c)
	case *Null:
		return f(&Null{Q: t.Q})
	}
	return f(t)
}

// Copy returns a deep copy of t.
func Copy(t Type) Type {
	return Map(t, func(t Type) Type { return t })
}

// Walk calls f on every position of t in pre-order.
func Walk(t Type, f func(Type)) {
	if t == nil {
		return
	}
	f(t)
	switch t := t.(type) {
	case *Declared:
		for _, a := range t.Args {
			Walk(a, f)
		}
	case *Array:
		Walk(t.Component, f)
	case *TypeVar:
		Walk(t.Upper, f)
	case *Wildcard:
		Walk(t.Extends, f)
		Walk(t.Super, f)
	}
}
