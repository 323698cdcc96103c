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

// Package factory builds the declared qualified types of declarations and expressions: it applies
// the annotations written on a declaration, fills unannotated positions with location defaults,
// resolves the map expressions of key-for qualifiers and adapts types to the viewpoint of a use.
package factory

import (
	"errors"
	"go/token"
	"sync"

	"go.uber.org/qualcheck/diagnostic"
	"go.uber.org/qualcheck/expr"
	"go.uber.org/qualcheck/qualifier"
	"go.uber.org/qualcheck/qualtype"
	"go.uber.org/qualcheck/symtab"
)

// Problem is an ill-formed declaration found while building declared types.
type Problem struct {
	Pos  token.Pos
	Kind diagnostic.Kind
	Args []string
	// Decl is the declaration the problem was found on: a *symtab.Class, *symtab.Field or
	// *symtab.Method.
	Decl any
}

type signature struct {
	params []qualtype.Type
	ret    qualtype.Type
	recv   qualifier.Set
}

// Factory computes declared types. The declared types of fields and methods are computed once by
// New; afterwards a Factory is safe for concurrent use.
type Factory struct {
	hs     *qualifier.Hierarchies
	table  *symtab.Table
	parser *expr.Parser

	fields     map[*symtab.Field]qualtype.Type
	signatures map[*symtab.Method]*signature
	problems   []Problem

	// exprs maps the keys held in key-for qualifiers back to their flow expressions.
	mu    sync.RWMutex
	exprs map[string]expr.Expr
}

// New builds the declared types of every field and method of the table.
func New(table *symtab.Table, hs *qualifier.Hierarchies, parser *expr.Parser) *Factory {
	f := &Factory{
		hs:         hs,
		table:      table,
		parser:     parser,
		fields:     make(map[*symtab.Field]qualtype.Type),
		signatures: make(map[*symtab.Method]*signature),
		exprs:      make(map[string]expr.Expr),
	}
	for _, c := range table.Classes() {
		f.problems = append(f.problems, f.checkSupertypes(c)...)
		for _, fd := range c.Fields {
			t, problems := f.field(fd)
			f.fields[fd] = t
			f.problems = append(f.problems, problems...)
		}
		for _, m := range c.Methods {
			sig, problems := f.signature(m)
			f.signatures[m] = sig
			f.problems = append(f.problems, problems...)
		}
	}
	return f
}

// Hierarchies returns the hierarchies the factory builds types for.
func (f *Factory) Hierarchies() *qualifier.Hierarchies { return f.hs }

// Table returns the symbol table the factory was built from.
func (f *Factory) Table() *symtab.Table { return f.table }

// Parser returns the flow-expression parser used for key-for arguments.
func (f *Factory) Parser() *expr.Parser { return f.parser }

// Problems returns the declaration problems found by New.
func (f *Factory) Problems() []Problem { return f.problems }

func (f *Factory) checkSupertypes(c *symtab.Class) []Problem {
	super := c.Super
	if super == "" && len(c.Interfaces) > 0 {
		super = c.Interfaces[0]
	}
	var problems []Problem
	for _, a := range c.SuperAnnotations {
		if q, ok := f.hs.FromAnnotation(a.Name, nil); ok && q.Hierarchy() == qualifier.Nullness {
			problems = append(problems, Problem{
				Pos:  c.Pos,
				Kind: diagnostic.NullnessOnSupertype,
				Args: []string{q.String(), super, c.Name},
				Decl: c,
			})
		}
	}
	return problems
}

func (f *Factory) field(fd *symtab.Field) (qualtype.Type, []Problem) {
	t, problems := f.declared(fd.Type, fd.Annotations, FieldLoc, f.table.FieldScope(fd), fd.Pos, fd.Signature())
	qualtype.Walk(t, func(pos qualtype.Type) {
		for _, q := range pos.Quals() {
			if f.hs.IsPolymorphic(q) {
				problems = append(problems, Problem{
					Pos:  fd.Pos,
					Kind: diagnostic.InvalidPolymorphicQualifier,
					Args: []string{q.String(), "field " + fd.Signature()},
				})
			}
		}
	})
	for i := range problems {
		problems[i].Decl = fd
	}
	return t, problems
}

func (f *Factory) signature(m *symtab.Method) (*signature, []Problem) {
	scope := f.table.SignatureScope(m)
	sig := &signature{params: make([]qualtype.Type, len(m.Params))}
	var problems []Problem
	for i, p := range m.Params {
		t, ps := f.declared(p.Type, p.Annotations, ParamLoc, scope, p.Pos, p.Name)
		sig.params[i] = t
		problems = append(problems, ps...)
	}

	switch {
	case m.Constructor:
		sig.ret = &qualtype.Declared{Name: m.Owner, Q: NewQuals()}
	case m.Return == nil:
		sig.ret = &qualtype.Void{}
	default:
		t, ps := f.declared(m.Return, m.Annotations, ReturnLoc, scope, m.Pos, m.String())
		sig.ret = t
		problems = append(problems, ps...)
	}

	if !m.Static {
		loc := ReceiverLoc
		if m.Constructor {
			loc = ConstructorReceiverLoc
		}
		recv, ps := f.declared(&qualtype.Declared{Name: m.Owner}, m.ReceiverAnnotations, loc, scope, m.Pos, "this")
		sig.recv = recv.Quals()
		problems = append(problems, ps...)
	}

	// A polymorphic qualifier in the result must be bound by some parameter or the receiver.
	var inputs [qualifier.NumHierarchies]bool
	markPoly := func(t qualtype.Type) {
		for id, q := range t.Quals() {
			if f.hs.IsPolymorphic(q) {
				inputs[id] = true
			}
		}
	}
	for _, p := range sig.params {
		qualtype.Walk(p, markPoly)
	}
	for id, q := range sig.recv {
		if f.hs.IsPolymorphic(q) {
			inputs[id] = true
		}
	}
	qualtype.Walk(sig.ret, func(t qualtype.Type) {
		for id, q := range t.Quals() {
			if f.hs.IsPolymorphic(q) && !inputs[id] {
				problems = append(problems, Problem{
					Pos:  m.Pos,
					Kind: diagnostic.InvalidPolymorphicQualifier,
					Args: []string{q.String(), m.String()},
				})
			}
		}
	})

	for i := range problems {
		problems[i].Decl = m
	}
	return sig, problems
}

// declared applies the qualifiers named by annos to the outermost position of t and completes
// the result for loc.
func (f *Factory) declared(
	t qualtype.Type, annos []symtab.Annotation, loc Location, scope expr.Scope, pos token.Pos, name string,
) (qualtype.Type, []Problem) {
	if t == nil {
		return &qualtype.Void{}, nil
	}
	var problems []Problem
	q := t.Quals()
	for _, a := range annos {
		aq, ok := f.hs.FromAnnotation(a.Name, a.Value("value"))
		if !ok {
			continue
		}
		h := aq.Hierarchy()
		if q[h].IsSet() && !q[h].Equal(aq) {
			problems = append(problems, Problem{
				Pos:  pos,
				Kind: diagnostic.ConflictingAnnotations,
				Args: []string{q[h].String(), aq.String(), name},
			})
			continue
		}
		q = q.With(aq)
	}
	completed, ps := f.Complete(t.WithQuals(q), loc, scope, pos)
	return completed, append(problems, ps...)
}

// Complete fills every unannotated position of t with the defaults of its location, resolves
// key-for arguments in scope, and strips qualifiers from primitives. Problems are reported at
// pos.
func (f *Factory) Complete(t qualtype.Type, loc Location, scope expr.Scope, pos token.Pos) (qualtype.Type, []Problem) {
	c := &completer{f: f, scope: scope, pos: pos}
	return c.complete(t, f.Defaults(loc)), c.problems
}

type completer struct {
	f        *Factory
	scope    expr.Scope
	pos      token.Pos
	problems []Problem
}

func (c *completer) complete(t qualtype.Type, def qualifier.Set) qualtype.Type {
	nested := c.f.Defaults(NestedLoc)
	switch t := t.(type) {
	case *qualtype.Declared:
		d := &qualtype.Declared{Name: t.Name, Q: c.quals(t.Q, def)}
		for _, a := range t.Args {
			d.Args = append(d.Args, c.complete(a, nested))
		}
		return d
	case *qualtype.Array:
		return &qualtype.Array{Component: c.complete(t.Component, nested), Q: c.quals(t.Q, def)}
	case *qualtype.TypeVar:
		v := &qualtype.TypeVar{Name: t.Name, Q: c.quals(t.Q, def)}
		if t.Upper != nil {
			v.Upper = c.complete(t.Upper, c.f.Defaults(UpperBoundLoc))
		}
		return v
	case *qualtype.Wildcard:
		w := &qualtype.Wildcard{Q: c.quals(t.Q, def)}
		if t.Extends != nil {
			w.Extends = c.complete(t.Extends, c.f.Defaults(UpperBoundLoc))
		}
		if t.Super != nil {
			w.Super = c.complete(t.Super, c.f.Defaults(LowerBoundLoc))
		}
		return w
	case *qualtype.Primitive:
		if n := t.Q.Get(qualifier.Nullness); n.IsSet() {
			c.problems = append(c.problems, Problem{
				Pos:  c.pos,
				Kind: diagnostic.NullnessOnPrimitive,
				Args: []string{n.String(), t.Name},
			})
		}
		return &qualtype.Primitive{Name: t.Name}
	case *qualtype.Null:
		return &qualtype.Null{Q: c.quals(t.Q, _null)}
	}
	return &qualtype.Void{}
}

func (c *completer) quals(q, def qualifier.Set) qualifier.Set {
	k := q.Get(qualifier.KeyFor)
	if k.Kind == qualifier.KeyForMaps {
		keys := make([]string, 0, len(k.Args))
		for _, raw := range k.Args {
			keys = append(keys, c.resolve(raw))
		}
		q = q.With(qualifier.New(qualifier.KeyForMaps, keys...))
	}
	return q.WithDefaults(def)
}

// resolve parses a raw key-for argument and returns its key. Unparsable arguments are reported
// and kept verbatim, so that they never match any map.
func (c *completer) resolve(raw string) string {
	if c.scope == nil {
		return raw
	}
	e, err := c.f.parser.ParseDeterministic(raw, c.scope)
	if err != nil {
		kind, detail := diagnostic.FlowExprParseError, err.Error()
		var pe *expr.ParseError
		if errors.As(err, &pe) {
			kind, detail = diagnostic.Kind(pe.DiagnosticKey()), pe.Detail
		}
		c.problems = append(c.problems, Problem{Pos: c.pos, Kind: kind, Args: []string{raw, detail}})
		return raw
	}
	return c.f.Register(e)
}

// Register records e so that key-for arguments holding its key can be adapted and displayed, and
// returns the key.
func (f *Factory) Register(e expr.Expr) string {
	key := e.Key()
	f.mu.RLock()
	_, ok := f.exprs[key]
	f.mu.RUnlock()
	if !ok {
		f.mu.Lock()
		f.exprs[key] = e
		f.mu.Unlock()
	}
	return key
}

// Expr returns the flow expression registered under key.
func (f *Factory) Expr(key string) (expr.Expr, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	e, ok := f.exprs[key]
	return e, ok
}

func (f *Factory) lookup(m *symtab.Method) *signature {
	if sig, ok := f.signatures[m]; ok {
		return sig
	}
	// Methods outside the table, e.g. synthesized ones; their problems were never reportable.
	sig, _ := f.signature(m)
	return sig
}

// Field returns the declared type of fd as seen from its own class: key-for arguments are
// relative to `this`.
func (f *Factory) Field(fd *symtab.Field) qualtype.Type {
	if t, ok := f.fields[fd]; ok {
		return t
	}
	t, _ := f.field(fd)
	return t
}

// FieldAt returns the declared type of fd read through recv.
func (f *Factory) FieldAt(fd *symtab.Field, recv expr.Expr) qualtype.Type {
	t := f.Field(fd)
	if fd.Static || recv == nil {
		return t
	}
	if this, ok := recv.(*expr.ThisRef); ok && this.Outer == "" {
		return t
	}
	return f.Adapt(t, expr.Binding{This: recv})
}

// Param returns the declared type of the i-th (0-based) parameter of m in the viewpoint of the
// signature.
func (f *Factory) Param(m *symtab.Method, i int) qualtype.Type { return f.lookup(m).params[i] }

// Return returns the declared return type of m in the viewpoint of the signature.
func (f *Factory) Return(m *symtab.Method) qualtype.Type { return f.lookup(m).ret }

// Receiver returns the declared qualifiers of the receiver of m; empty for static methods.
func (f *Factory) Receiver(m *symtab.Method) qualifier.Set { return f.lookup(m).recv }

// BodyBinding maps the `#N` references of m's signature to the parameters as locals of its body.
func BodyBinding(m *symtab.Method) expr.Binding {
	b := expr.Binding{Params: make([]expr.Expr, len(m.Params))}
	for i, p := range m.Params {
		b.Params[i] = symtab.LocalVar(p)
	}
	return b
}

// CallBinding maps the signature of m to a call site with the given receiver and arguments.
func CallBinding(m *symtab.Method, recv expr.Expr, args []expr.Expr) expr.Binding {
	b := expr.Binding{This: recv, Params: args, Locals: make(map[string]expr.Expr, len(m.Params))}
	for i, p := range m.Params {
		if i < len(args) && args[i] != nil {
			b.Locals[symtab.LocalVar(p).Key()] = args[i]
		}
	}
	return b
}

// BodyParam returns the declared type of the i-th parameter of m within its body.
func (f *Factory) BodyParam(m *symtab.Method, i int) qualtype.Type {
	return f.Adapt(f.Param(m, i), BodyBinding(m))
}

// BodyReturn returns the declared return type of m within its body.
func (f *Factory) BodyReturn(m *symtab.Method) qualtype.Type {
	return f.Adapt(f.Return(m), BodyBinding(m))
}

// Local returns the declared type of a local of m. Parameters have their declared parameter type;
// other locals climb to top unless annotated.
func (f *Factory) Local(l *symtab.Local, m *symtab.Method, locals []*symtab.Local) (qualtype.Type, []Problem) {
	if l.Kind == symtab.Parameter {
		for i, p := range m.Params {
			if p == l || p.ID == l.ID {
				return f.BodyParam(m, i), nil
			}
		}
	}
	loc := LocalLoc
	if l.Kind == symtab.CatchParameter {
		loc = CatchParamLoc
	}
	t, problems := f.declared(l.Type, l.Annotations, loc, f.table.BodyScope(m, locals, l.ID), l.Pos, l.Name)
	for i := range problems {
		problems[i].Decl = m
	}
	return t, problems
}

// Adapt applies b to the map expressions of every key-for qualifier in t.
func (f *Factory) Adapt(t qualtype.Type, b expr.Binding) qualtype.Type {
	if t == nil || b.IsIdentity() {
		return t
	}
	return qualtype.Map(t, func(pos qualtype.Type) qualtype.Type {
		return pos.WithQuals(f.AdaptQuals(pos.Quals(), b))
	})
}

// AdaptQuals applies b to the map expressions of a key-for qualifier in q.
func (f *Factory) AdaptQuals(q qualifier.Set, b expr.Binding) qualifier.Set {
	k := q.Get(qualifier.KeyFor)
	if k.Kind != qualifier.KeyForMaps || b.IsIdentity() {
		return q
	}
	keys := make([]string, 0, len(k.Args))
	for _, key := range k.Args {
		e, ok := f.Expr(key)
		if !ok {
			keys = append(keys, key)
			continue
		}
		keys = append(keys, f.Register(expr.Substitute(e, b)))
	}
	return q.With(qualifier.New(qualifier.KeyForMaps, keys...))
}

// ResolvePoly instantiates the polymorphic qualifiers at every position of t.
func ResolvePoly(t qualtype.Type, r *qualifier.PolyResolver) qualtype.Type {
	return qualtype.Map(t, func(pos qualtype.Type) qualtype.Type {
		return pos.WithQuals(r.Resolve(pos.Quals()))
	})
}

// NewArray returns the type of an array creation written as t. Components of arrays created
// without an initializer are Nullable at every level, since they hold null until written; an
// explicitly NonNull component is reported.
func (f *Factory) NewArray(t *qualtype.Array, dimensionOnly bool, scope expr.Scope, pos token.Pos) (qualtype.Type, []Problem) {
	var problems []Problem
	if dimensionOnly {
		nullable := qualifier.New(qualifier.Nullable)
		var nullify func(a *qualtype.Array) *qualtype.Array
		nullify = func(a *qualtype.Array) *qualtype.Array {
			comp := a.Component
			if comp == nil {
				return a
			}
			q := comp.Quals()
			if n := q.Get(qualifier.Nullness); n.Kind == qualifier.NonNull {
				problems = append(problems, Problem{
					Pos:  pos,
					Kind: diagnostic.NewArrayTypeInvalid,
					Args: []string{n.String(), t.String()},
				})
			}
			if _, prim := comp.(*qualtype.Primitive); !prim {
				comp = comp.WithQuals(q.With(nullable))
			}
			if inner, ok := comp.(*qualtype.Array); ok {
				comp = nullify(inner)
			}
			return &qualtype.Array{Component: comp, Q: a.Q}
		}
		t = nullify(t)
	}
	completed, ps := f.Complete(t, ExprLoc, scope, pos)
	return completed, append(problems, ps...)
}

// Literal returns the type of a literal of the given kind.
func Literal(kind expr.LiteralKind) qualtype.Type {
	switch kind {
	case expr.NullLiteral:
		return &qualtype.Null{Q: NullQuals()}
	case expr.StringLiteral:
		return &qualtype.Declared{Name: "String", Q: NewQuals()}
	case expr.BoolLiteral:
		return &qualtype.Primitive{Name: "boolean"}
	}
	return &qualtype.Primitive{Name: "int"}
}

// Display renders t for messages, with key-for arguments printed as source expressions.
func (f *Factory) Display(t qualtype.Type) string {
	if t == nil {
		return "void"
	}
	return qualtype.Map(t, func(pos qualtype.Type) qualtype.Type {
		return pos.WithQuals(f.displayQuals(pos.Quals()))
	}).String()
}

// DisplayQuals renders a qualifier set for messages.
func (f *Factory) DisplayQuals(q qualifier.Set) string { return f.displayQuals(q).String() }

// DisplayQualifier renders a single qualifier for messages.
func (f *Factory) DisplayQualifier(q qualifier.Qualifier) string {
	var s qualifier.Set
	return f.displayQuals(s.With(q)).String()
}

func (f *Factory) displayQuals(q qualifier.Set) qualifier.Set {
	k := q.Get(qualifier.KeyFor)
	if k.Kind != qualifier.KeyForMaps {
		return q
	}
	names := make([]string, len(k.Args))
	for i, key := range k.Args {
		names[i] = key
		if e, ok := f.Expr(key); ok {
			names[i] = e.String()
		}
	}
	return q.With(qualifier.Qualifier{Kind: qualifier.KeyForMaps, Args: names})
}
