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

// Package expr implements flow expressions: the restricted, side-effect-free expressions that
// appear in contract annotations (e.g. `@EnsuresNonNull("#1.f")`), in dependent qualifiers (e.g.
// `@KeyFor("this.map")`), and as keys of the dataflow store.
package expr

import (
	"strconv"
	"strings"
)

// Expr is a flow expression. The set of implementations is closed: ThisRef, ClassName, LocalVar,
// Param, FieldAccess, MethodCall, ArrayAccess, Literal and Unknown. Expressions are immutable.
type Expr interface {
	// String returns text that re-parses to an equal expression in the same scope.
	String() string
	// Key returns the canonical identity of the expression. Two expressions are equal iff their
	// keys are equal, except that Unknown is never equal to anything.
	Key() string
	// TypeName returns the host type name of the expression's value, or "" if unknown.
	TypeName() string

	isExpr()
}

// ThisRef is `this`, or `Outer.this` for a reference to an enclosing instance.
type ThisRef struct {
	// Outer is empty for the current receiver and names the enclosing class otherwise.
	Outer string
	// Class is the type of the reference.
	Class string
}

// ClassName is a class used as the receiver of a static member.
type ClassName struct {
	Name string
}

// LocalVar is a local variable or a method parameter within a method body. ID is the identity of
// the declaration, so that same-named locals of different scopes are distinct.
type LocalVar struct {
	Name string
	ID   int
	Type string
}

// Param is a `#N` reference (1-based) to a formal parameter in a contract.
type Param struct {
	Index int
	Type  string
}

// FieldAccess is `Receiver.Name`. Static fields always have a ClassName receiver.
type FieldAccess struct {
	Receiver Expr
	Name     string
	Owner    string
	Type     string
	Static   bool
	Final    bool
}

// MethodCall is `Receiver.Name(Args...)`.
type MethodCall struct {
	Receiver       Expr
	Name           string
	Owner          string
	Type           string
	Args           []Expr
	Static         bool
	Deterministic  bool
	SideEffectFree bool
}

// ArrayAccess is `Array[Index]`.
type ArrayAccess struct {
	Array Expr
	Index Expr
	Type  string
}

// LiteralKind classifies literals.
type LiteralKind uint8

const (
	NullLiteral LiteralKind = iota
	IntLiteral
	StringLiteral
	BoolLiteral
)

// Literal is a constant value.
type Literal struct {
	Kind  LiteralKind
	Value string
}

// Unknown stands for a value that cannot be represented as a flow expression (e.g. an object
// creation). Facts are never stored for expressions containing Unknown.
type Unknown struct {
	Text string
	Type string
}

func (*ThisRef) isExpr()     {}
func (*ClassName) isExpr()   {}
func (*LocalVar) isExpr()    {}
func (*Param) isExpr()       {}
func (*FieldAccess) isExpr() {}
func (*MethodCall) isExpr()  {}
func (*ArrayAccess) isExpr() {}
func (*Literal) isExpr()     {}
func (*Unknown) isExpr()     {}

func (e *ThisRef) String() string {
	if e.Outer != "" {
		return e.Outer + ".this"
	}
	return "this"
}
func (e *ThisRef) Key() string      { return e.String() }
func (e *ThisRef) TypeName() string { return e.Class }

func (e *ClassName) String() string   { return e.Name }
func (e *ClassName) Key() string      { return e.Name }
func (e *ClassName) TypeName() string { return e.Name }

func (e *LocalVar) String() string { return e.Name }
func (e *LocalVar) Key() string {
	if e.ID == 0 {
		return e.Name
	}
	return e.Name + "@" + strconv.Itoa(e.ID)
}
func (e *LocalVar) TypeName() string { return e.Type }

func (e *Param) String() string   { return "#" + strconv.Itoa(e.Index) }
func (e *Param) Key() string      { return e.String() }
func (e *Param) TypeName() string { return e.Type }

func (e *FieldAccess) String() string   { return e.Receiver.String() + "." + e.Name }
func (e *FieldAccess) Key() string      { return e.Receiver.Key() + "." + e.Name }
func (e *FieldAccess) TypeName() string { return e.Type }

func (e *MethodCall) String() string { return e.render(Expr.String) }
func (e *MethodCall) Key() string    { return e.render(Expr.Key) }
func (e *MethodCall) render(f func(Expr) string) string {
	var sb strings.Builder
	sb.WriteString(f(e.Receiver))
	sb.WriteByte('.')
	sb.WriteString(e.Name)
	sb.WriteByte('(')
	for i, a := range e.Args {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(f(a))
	}
	sb.WriteByte(')')
	return sb.String()
}
func (e *MethodCall) TypeName() string { return e.Type }

func (e *ArrayAccess) String() string   { return e.Array.String() + "[" + e.Index.String() + "]" }
func (e *ArrayAccess) Key() string      { return e.Array.Key() + "[" + e.Index.Key() + "]" }
func (e *ArrayAccess) TypeName() string { return e.Type }

func (e *Literal) String() string {
	switch e.Kind {
	case NullLiteral:
		return "null"
	case StringLiteral:
		return strconv.Quote(e.Value)
	}
	return e.Value
}
func (e *Literal) Key() string { return e.String() }
func (e *Literal) TypeName() string {
	switch e.Kind {
	case IntLiteral:
		return "int"
	case StringLiteral:
		return "String"
	case BoolLiteral:
		return "boolean"
	}
	return ""
}

func (e *Unknown) String() string   { return e.Text }
func (e *Unknown) Key() string      { return "?" + e.Text }
func (e *Unknown) TypeName() string { return e.Type }

// Equal returns true if a and b denote the same flow expression.
func Equal(a, b Expr) bool {
	if a == nil || b == nil || !Representable(a) || !Representable(b) {
		return false
	}
	return a.Key() == b.Key()
}

// Walk calls f for e and, if f returns true, for every sub-expression in pre-order.
func Walk(e Expr, f func(Expr) bool) {
	if e == nil || !f(e) {
		return
	}
	switch e := e.(type) {
	case *FieldAccess:
		Walk(e.Receiver, f)
	case *MethodCall:
		Walk(e.Receiver, f)
		for _, a := range e.Args {
			Walk(a, f)
		}
	case *ArrayAccess:
		Walk(e.Array, f)
		Walk(e.Index, f)
	}
}

// Representable returns true if no part of e is Unknown.
func Representable(e Expr) bool {
	ok := e != nil
	Walk(e, func(sub Expr) bool {
		if _, unknown := sub.(*Unknown); unknown {
			ok = false
		}
		return ok
	})
	return ok
}

// Contains returns true if sub occurs syntactically within e (including e itself).
func Contains(e, sub Expr) bool {
	found := false
	key := sub.Key()
	Walk(e, func(x Expr) bool {
		if !found && x.Key() == key {
			found = true
		}
		return !found
	})
	return found
}

// ContainsField returns true if e accesses a field with the given owner and name.
func ContainsField(e Expr, owner, name string) bool {
	found := false
	Walk(e, func(x Expr) bool {
		if fa, ok := x.(*FieldAccess); ok && fa.Name == name && fa.Owner == owner {
			found = true
		}
		return !found
	})
	return found
}

// ContainsKind returns true if any sub-expression of e satisfies pred.
func ContainsKind(e Expr, pred func(Expr) bool) bool {
	found := false
	Walk(e, func(x Expr) bool {
		if pred(x) {
			found = true
		}
		return !found
	})
	return found
}

// IsDeterministic returns true if every method call within e is deterministic.
func IsDeterministic(e Expr) bool {
	return !ContainsKind(e, func(x Expr) bool {
		mc, ok := x.(*MethodCall)
		return ok && !mc.Deterministic
	})
}

// IsUnmodifiableByOtherCode returns true if no method call or field write elsewhere can change
// the value of e: it is built only from locals, parameters, `this`, classes, literals and final
// fields.
func IsUnmodifiableByOtherCode(e Expr) bool {
	return !ContainsKind(e, func(x Expr) bool {
		switch x := x.(type) {
		case *FieldAccess:
			return !x.Final
		case *MethodCall, *ArrayAccess, *Unknown:
			return true
		}
		return false
	})
}
