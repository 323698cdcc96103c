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

package cfg

import (
	"go/token"
	"strings"

	"go.uber.org/qualcheck/expr"
	"go.uber.org/qualcheck/qualtype"
	"go.uber.org/qualcheck/symtab"
)

// Node is an expression or statement node of a method body. The set of implementations is
// closed; every consumer matches it exhaustively. Nodes form trees: a block lists its top-level
// nodes in execution order, and operands are evaluated before the node that uses them.
type Node interface {
	// Pos returns the source position of the node.
	Pos() token.Pos
	// String renders the node in host syntax for diagnostics.
	String() string

	isNode()
}

// LocalRef reads a local variable or parameter.
type LocalRef struct {
	At    token.Pos
	Local *symtab.Local
}

// ThisRef reads the receiver.
type ThisRef struct {
	At    token.Pos
	Class string
}

// ClassRef names a class as the receiver of a static member.
type ClassRef struct {
	At    token.Pos
	Class string
}

// Literal is a constant.
type Literal struct {
	At    token.Pos
	Kind  expr.LiteralKind
	Value string
}

// FieldAccess reads Receiver.Field; static fields use a ClassRef receiver.
type FieldAccess struct {
	At       token.Pos
	Receiver Node
	Field    *symtab.Field
}

// ArrayAccess reads Array[Index].
type ArrayAccess struct {
	At    token.Pos
	Array Node
	Index Node
}

// ArrayLength reads Array.length.
type ArrayLength struct {
	At    token.Pos
	Array Node
}

// MethodCall invokes Method. Receiver is nil for static methods and for unqualified calls of
// instance methods on the implicit receiver.
type MethodCall struct {
	At       token.Pos
	Receiver Node
	Method   *symtab.Method
	Args     []Node
}

// New creates an instance of Class through Constructor (nil for the default constructor).
type New struct {
	At          token.Pos
	Class       string
	Constructor *symtab.Method
	Args        []Node
	// TypeArgs are the explicit type arguments of the created type.
	TypeArgs []qualtype.Type
}

// NewArray creates an array. Type is the array type as written, including explicit qualifiers
// on its components. Either Dims (dimension-only creation) or Init (initializer) is set.
type NewArray struct {
	At   token.Pos
	Type *qualtype.Array
	Dims []Node
	Init []Node
}

// Assign writes Value to Target, which is a LocalRef, FieldAccess or ArrayAccess.
type Assign struct {
	At     token.Pos
	Target Node
	Value  Node
}

// LocalDecl declares Local, with an optional initializer.
type LocalDecl struct {
	At    token.Pos
	Local *symtab.Local
	Init  Node
}

// Equal compares Left and Right by reference: `==`, or `!=` when Negated.
type Equal struct {
	At          token.Pos
	Left, Right Node
	Negated     bool
}

// InstanceOf tests Operand against Target, whose qualifiers are the ones written in the test.
// Binding is the pattern variable, if any.
type InstanceOf struct {
	At      token.Pos
	Operand Node
	Target  qualtype.Type
	Binding *symtab.Local
}

// Not is the boolean negation of Operand.
type Not struct {
	At      token.Pos
	Operand Node
}

// Cast converts Operand to Target.
type Cast struct {
	At      token.Pos
	Operand Node
	Target  qualtype.Type
}

// Unbox converts a boxed Operand to its primitive value.
type Unbox struct {
	At      token.Pos
	Operand Node
}

// BinaryOp is an arithmetic, relational or string operation without short-circuiting; Result is
// its type.
type BinaryOp struct {
	At          token.Pos
	Op          string
	Left, Right Node
	Result      qualtype.Type
}

// Return leaves the method, with an optional Value.
type Return struct {
	At    token.Pos
	Value Node
}

// Throw throws Value.
type Throw struct {
	At    token.Pos
	Value Node
}

// Synchronized acquires the monitor of Lock.
type Synchronized struct {
	At   token.Pos
	Lock Node
}

func (*LocalRef) isNode()     {}
func (*ThisRef) isNode()      {}
func (*ClassRef) isNode()     {}
func (*Literal) isNode()      {}
func (*FieldAccess) isNode()  {}
func (*ArrayAccess) isNode()  {}
func (*ArrayLength) isNode()  {}
func (*MethodCall) isNode()   {}
func (*New) isNode()          {}
func (*NewArray) isNode()     {}
func (*Assign) isNode()       {}
func (*LocalDecl) isNode()    {}
func (*Equal) isNode()        {}
func (*InstanceOf) isNode()   {}
func (*Not) isNode()          {}
func (*Cast) isNode()         {}
func (*Unbox) isNode()        {}
func (*BinaryOp) isNode()     {}
func (*Return) isNode()       {}
func (*Throw) isNode()        {}
func (*Synchronized) isNode() {}

func (n *LocalRef) Pos() token.Pos     { return n.At }
func (n *ThisRef) Pos() token.Pos      { return n.At }
func (n *ClassRef) Pos() token.Pos     { return n.At }
func (n *Literal) Pos() token.Pos      { return n.At }
func (n *FieldAccess) Pos() token.Pos  { return n.At }
func (n *ArrayAccess) Pos() token.Pos  { return n.At }
func (n *ArrayLength) Pos() token.Pos  { return n.At }
func (n *MethodCall) Pos() token.Pos   { return n.At }
func (n *New) Pos() token.Pos          { return n.At }
func (n *NewArray) Pos() token.Pos     { return n.At }
func (n *Assign) Pos() token.Pos       { return n.At }
func (n *LocalDecl) Pos() token.Pos    { return n.At }
func (n *Equal) Pos() token.Pos        { return n.At }
func (n *InstanceOf) Pos() token.Pos   { return n.At }
func (n *Not) Pos() token.Pos          { return n.At }
func (n *Cast) Pos() token.Pos         { return n.At }
func (n *Unbox) Pos() token.Pos        { return n.At }
func (n *BinaryOp) Pos() token.Pos     { return n.At }
func (n *Return) Pos() token.Pos       { return n.At }
func (n *Throw) Pos() token.Pos        { return n.At }
func (n *Synchronized) Pos() token.Pos { return n.At }

func (n *LocalRef) String() string { return n.Local.Name }
func (n *ThisRef) String() string  { return "this" }
func (n *ClassRef) String() string { return simpleName(n.Class) }
func (n *Literal) String() string  { return (&expr.Literal{Kind: n.Kind, Value: n.Value}).String() }

func (n *FieldAccess) String() string {
	if n.Receiver == nil {
		return n.Field.Name
	}
	return n.Receiver.String() + "." + n.Field.Name
}

func (n *ArrayAccess) String() string {
	return n.Array.String() + "[" + n.Index.String() + "]"
}

func (n *ArrayLength) String() string { return n.Array.String() + ".length" }

func (n *MethodCall) String() string {
	prefix := ""
	if n.Receiver != nil {
		prefix = n.Receiver.String() + "."
	}
	return prefix + n.Method.Name + "(" + join(n.Args) + ")"
}

func (n *New) String() string { return "new " + simpleName(n.Class) + "(" + join(n.Args) + ")" }

func (n *NewArray) String() string {
	if len(n.Init) > 0 {
		return "new " + qualtype.Name(n.Type) + " {" + join(n.Init) + "}"
	}
	return "new " + qualtype.Name(n.Type.Component) + "[" + join(n.Dims) + "]"
}

func (n *Assign) String() string { return n.Target.String() + " = " + n.Value.String() }

func (n *LocalDecl) String() string {
	s := qualtype.Name(n.Local.Type) + " " + n.Local.Name
	if n.Init != nil {
		s += " = " + n.Init.String()
	}
	return s
}

func (n *Equal) String() string {
	op := " == "
	if n.Negated {
		op = " != "
	}
	return n.Left.String() + op + n.Right.String()
}

func (n *InstanceOf) String() string {
	s := n.Operand.String() + " instanceof " + n.Target.String()
	if n.Binding != nil {
		s += " " + n.Binding.Name
	}
	return s
}

func (n *Not) String() string  { return "!" + n.Operand.String() }
func (n *Cast) String() string { return "(" + n.Target.String() + ") " + n.Operand.String() }
func (n *Unbox) String() string {
	return n.Operand.String()
}

func (n *BinaryOp) String() string {
	return n.Left.String() + " " + n.Op + " " + n.Right.String()
}

func (n *Return) String() string {
	if n.Value == nil {
		return "return"
	}
	return "return " + n.Value.String()
}

func (n *Throw) String() string        { return "throw " + n.Value.String() }
func (n *Synchronized) String() string { return "synchronized (" + n.Lock.String() + ")" }

func join(nodes []Node) string {
	parts := make([]string, len(nodes))
	for i, n := range nodes {
		parts[i] = n.String()
	}
	return strings.Join(parts, ", ")
}

func simpleName(name string) string {
	if i := strings.LastIndexByte(name, '.'); i >= 0 {
		return name[i+1:]
	}
	return name
}

// Children returns the operands of n in evaluation order.
func Children(n Node) []Node {
	var out []Node
	add := func(ns ...Node) {
		for _, c := range ns {
			if c != nil {
				out = append(out, c)
			}
		}
	}
	switch n := n.(type) {
	case *FieldAccess:
		add(n.Receiver)
	case *ArrayAccess:
		add(n.Array, n.Index)
	case *ArrayLength:
		add(n.Array)
	case *MethodCall:
		add(n.Receiver)
		add(n.Args...)
	case *New:
		add(n.Args...)
	case *NewArray:
		add(n.Dims...)
		add(n.Init...)
	case *Assign:
		add(n.Target, n.Value)
	case *LocalDecl:
		add(n.Init)
	case *Equal:
		add(n.Left, n.Right)
	case *InstanceOf:
		add(n.Operand)
	case *Not:
		add(n.Operand)
	case *Cast:
		add(n.Operand)
	case *Unbox:
		add(n.Operand)
	case *BinaryOp:
		add(n.Left, n.Right)
	case *Return:
		add(n.Value)
	case *Throw:
		add(n.Value)
	case *Synchronized:
		add(n.Lock)
	case *LocalRef, *ThisRef, *ClassRef, *Literal:
	default:
		panic("unknown cfg node " + n.String())
	}
	return out
}

// Inspect calls f for n and its operands in pre-order while f returns true.
func Inspect(n Node, f func(Node) bool) {
	if n == nil || !f(n) {
		return
	}
	for _, c := range Children(n) {
		Inspect(c, f)
	}
}
