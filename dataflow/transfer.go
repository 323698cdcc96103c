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

package dataflow

import (
	"fmt"

	"go.uber.org/qualcheck/cfg"
	"go.uber.org/qualcheck/config"
	"go.uber.org/qualcheck/contracts"
	"go.uber.org/qualcheck/expr"
	"go.uber.org/qualcheck/factory"
	"go.uber.org/qualcheck/qualifier"
	"go.uber.org/qualcheck/qualtype"
	"go.uber.org/qualcheck/store"
	"go.uber.org/qualcheck/symtab"
)

var (
	_nonNull = qualifier.Set{}.With(qualifier.New(qualifier.NonNull))
	_boolean = store.Of(&qualtype.Primitive{Name: "boolean"})
	_void    = store.Of(&qualtype.Void{})
)

// cursor is the store threaded through the nodes of a block. exc accumulates the states from
// which the block may raise; it is nil when the block has no exceptional successor.
type cursor struct{ s, exc *store.Store }

// raise joins the current store into the exceptional store.
func (c *cursor) raise() {
	if c.exc != nil {
		c.exc = c.exc.LeastUpperBound(c.s)
	}
}

// split are the stores after a boolean node that refines its operands differently depending on
// its result. A nil side cannot be reached.
type split struct{ then, els *store.Store }

func (sp *split) merge() *store.Store {
	switch {
	case sp.then == nil:
		return sp.els
	case sp.els == nil:
		return sp.then
	}
	return sp.then.LeastUpperBound(sp.els)
}

func (sp *split) swap() *split { return &split{then: sp.els, els: sp.then} }

// operand evaluates n for its value only, merging a split.
func (r *run) operand(n cfg.Node, c *cursor) store.Value {
	v, sp := r.eval(n, c)
	if sp != nil {
		c.s = sp.merge()
	}
	return v
}

// refine narrows the fact about e by q. Facts about non-deterministic method calls are only
// kept when the policy allows it; they never survive the next call either way.
func (r *run) refine(s *store.Store, e expr.Expr, q qualifier.Set) {
	r.narrow(s, e, store.Value{Quals: q})
}

// narrow is refine with a type more precise than the declared one.
func (r *run) narrow(s *store.Store, e expr.Expr, v store.Value) {
	if !expr.IsDeterministic(e) && !r.conf.Policy.NonDeterministicFactsUntilCall {
		return
	}
	s.Put(e, v)
}

// dereference records that the value of e is non-null after it was dereferenced.
func (r *run) dereference(s *store.Store, e expr.Expr) {
	if _, ok := e.(*expr.ClassName); ok {
		return
	}
	r.refine(s, e, _nonNull)
}

// eval applies the transfer function of n and its operands to c and returns n's value. A
// non-nil split replaces c's store.
func (r *run) eval(n cfg.Node, c *cursor) (store.Value, *split) {
	switch n := n.(type) {
	case *cfg.LocalRef:
		e := symtab.LocalVar(n.Local)
		v := r.read(c.s, e)
		r.note(n, Eval{Value: v, Expr: e, Before: r.snapshot(c)})
		return v, nil

	case *cfg.ThisRef:
		e := r.this(n.Class)
		v := r.read(c.s, e)
		r.note(n, Eval{Value: v, Expr: e, Before: r.snapshot(c)})
		return v, nil

	case *cfg.ClassRef:
		v := store.Of(&qualtype.Declared{Name: n.Class, Q: factory.NewQuals()})
		r.note(n, Eval{Value: v, Expr: &expr.ClassName{Name: n.Class}})
		return v, nil

	case *cfg.Literal:
		v := store.Of(factory.Literal(n.Kind))
		r.note(n, Eval{Value: v, Expr: r.exprOf(n)})
		return v, nil

	case *cfg.FieldAccess:
		return r.fieldRead(n, c), nil

	case *cfg.ArrayAccess:
		r.operand(n.Array, c)
		r.operand(n.Index, c)
		before := r.snapshot(c)
		e := r.exprOf(n)
		ae := e.(*expr.ArrayAccess)
		r.dereference(c.s, ae.Array)
		v := r.read(c.s, e)
		r.note(n, Eval{Value: v, Expr: e, Before: before})
		return v, nil

	case *cfg.ArrayLength:
		r.operand(n.Array, c)
		before := r.snapshot(c)
		r.dereference(c.s, r.exprOf(n.Array))
		v := store.Of(&qualtype.Primitive{Name: "int"})
		r.note(n, Eval{Value: v, Expr: r.exprOf(n), Before: before})
		return v, nil

	case *cfg.MethodCall:
		return r.call(n, c)

	case *cfg.New:
		return r.newObject(n, c), nil

	case *cfg.NewArray:
		for _, d := range n.Dims {
			r.operand(d, c)
		}
		for _, i := range n.Init {
			r.operand(i, c)
		}
		t, problems := r.f.NewArray(n.Type, len(n.Init) == 0, r.scope(), n.At)
		r.problems(problems)
		v := store.Of(t)
		r.note(n, Eval{Value: v, Expr: r.exprOf(n), Before: r.snapshot(c)})
		return v, nil

	case *cfg.Assign:
		return r.assign(n, c), nil

	case *cfg.LocalDecl:
		l := n.Local
		e := symtab.LocalVar(l)
		v := store.Of(r.locals[l])
		if n.Init != nil {
			v = r.written(r.operand(n.Init, c), r.locals[l])
		}
		before := r.snapshot(c)
		if n.Init == nil && l.Kind != symtab.CatchParameter {
			// A declaration without initializer starts a fresh variable, e.g. in a loop body.
			c.s.ClearAllDependentOn(e)
			c.s.Remove(e)
		} else {
			c.s.Assign(e, v)
		}
		r.note(n, Eval{Value: v, Expr: e, Before: before})
		return v, nil

	case *cfg.Equal:
		return r.equal(n, c)

	case *cfg.InstanceOf:
		v := r.operand(n.Operand, c)
		before := r.snapshot(c)
		e := r.exprOf(n.Operand)
		sp := &split{then: c.s.Copy(), els: c.s}
		r.narrow(sp.then, e, store.Value{Quals: _nonNull, Type: n.Target})
		if n.Binding != nil {
			bound := store.Value{
				Quals: r.f.Hierarchies().GreatestLowerBound(_nonNull, v.Quals),
				Type:  n.Target,
			}
			sp.then.Assign(symtab.LocalVar(n.Binding), bound)
		}
		r.note(n, Eval{Value: _boolean, Expr: r.exprOf(n), Before: before})
		return _boolean, sp

	case *cfg.Not:
		_, sp := r.eval(n.Operand, c)
		r.note(n, Eval{Value: _boolean, Expr: r.exprOf(n), Before: r.snapshot(c)})
		if sp != nil {
			return _boolean, sp.swap()
		}
		return _boolean, nil

	case *cfg.Cast:
		v := r.operand(n.Operand, c)
		if n.Target != nil && qualtype.IsReference(n.Target) {
			v = store.Value{Quals: v.Quals, Type: n.Target}
		}
		r.note(n, Eval{Value: v, Expr: r.exprOf(n), Before: r.snapshot(c)})
		return v, nil

	case *cfg.Unbox:
		v := r.operand(n.Operand, c)
		before := r.snapshot(c)
		r.dereference(c.s, r.exprOf(n.Operand))
		out := store.Of(&qualtype.Primitive{Name: "int"})
		if p, ok := qualtype.Unboxed(v.Type); ok {
			out = store.Of(p)
		}
		r.note(n, Eval{Value: out, Expr: r.exprOf(n), Before: before})
		return out, nil

	case *cfg.BinaryOp:
		r.operand(n.Left, c)
		r.operand(n.Right, c)
		var v store.Value
		switch {
		case n.Result == nil:
			v = store.Of(&qualtype.Primitive{Name: "int"})
		case qualtype.IsReference(n.Result):
			// String concatenation creates a new object.
			v = store.Of(n.Result.WithQuals(factory.NewQuals()))
		default:
			v = store.Of(n.Result)
		}
		r.note(n, Eval{Value: v, Expr: r.exprOf(n), Before: r.snapshot(c)})
		return v, nil

	case *cfg.Return:
		return r.ret(n, c), nil

	case *cfg.Throw:
		v := r.operand(n.Value, c)
		r.note(n, Eval{Value: v, Expr: r.exprOf(n.Value), Before: r.snapshot(c)})
		return _void, nil

	case *cfg.Synchronized:
		r.operand(n.Lock, c)
		before := r.snapshot(c)
		r.dereference(c.s, r.exprOf(n.Lock))
		r.note(n, Eval{Value: _void, Expr: r.exprOf(n), Before: before})
		return _void, nil
	}
	if r.err == nil {
		r.err = fmt.Errorf("unknown cfg node %T in %s", n, r.m)
	}
	return store.Value{Quals: r.f.Hierarchies().Top()}, nil
}

func (r *run) scope() expr.Scope {
	return r.f.Table().BodyScope(r.m, r.g.Locals, 0)
}

// fieldRead evaluates a field read. Reads through a receiver that is not yet initialized see
// Nullable for fields the store knows nothing about.
func (r *run) fieldRead(n *cfg.FieldAccess, c *cursor) store.Value {
	var recv store.Value
	if n.Receiver != nil {
		recv = r.operand(n.Receiver, c)
	} else if !n.Field.Static && r.thisRef != nil {
		recv = r.read(c.s, r.thisRef)
	}
	before := r.snapshot(c)
	fe := r.fieldExpr(n)
	if !n.Field.Static {
		r.dereference(c.s, fe.Receiver)
	}
	v := r.read(c.s, fe)
	if _, known := c.s.Get(fe); !known && !n.Field.Static && !n.Field.Initialized &&
		r.conf.Policy.UninitializedFieldsNullable && underInitialization(recv.Quals) {
		v.Quals = v.Quals.With(qualifier.New(qualifier.Nullable))
	}
	r.note(n, Eval{Value: v, Expr: fe, Before: before})
	return v
}

func underInitialization(q qualifier.Set) bool {
	switch q.Get(qualifier.Initialization).Kind {
	case qualifier.UnderInitialization, qualifier.UnknownInitialization:
		return true
	}
	return false
}

// written is the value stored for an assignment of v to a location declared as declared. A value
// that does not fit is reported by the checker; the analysis continues with the declared type.
func (r *run) written(v store.Value, declared qualtype.Type) store.Value {
	if declared == nil {
		return v
	}
	if v.Type == nil {
		v.Type = declared
	}
	if !r.rel.IsSubtype(v.AsType(), declared) {
		return store.Of(declared)
	}
	return v
}

func (r *run) assign(n *cfg.Assign, c *cursor) store.Value {
	switch t := n.Target.(type) {
	case *cfg.LocalRef:
		v := r.operand(n.Value, c)
		before := r.snapshot(c)
		e := symtab.LocalVar(t.Local)
		r.note(t, Eval{Value: r.read(c.s, e), Expr: e, Before: before})
		v = r.written(v, r.locals[t.Local])
		c.s.Assign(e, v)
		r.note(n, Eval{Value: v, Expr: e, Before: before})
		return v

	case *cfg.FieldAccess:
		if t.Receiver != nil {
			r.operand(t.Receiver, c)
		}
		v := r.operand(n.Value, c)
		before := r.snapshot(c)
		fe := r.fieldExpr(t)
		if !t.Field.Static {
			r.dereference(c.s, fe.Receiver)
		}
		declared := r.f.FieldAt(t.Field, fe.Receiver)
		r.note(t, Eval{Value: store.Of(declared), Expr: fe, Before: before})
		v = r.written(v, declared)
		c.s.InvalidateForFieldWrite(fe, v, r.conf.Policy.AliasFieldWrites)
		r.note(n, Eval{Value: v, Expr: fe, Before: before})
		return v

	case *cfg.ArrayAccess:
		arr := r.operand(t.Array, c)
		r.operand(t.Index, c)
		v := r.operand(n.Value, c)
		before := r.snapshot(c)
		ae := r.exprOf(t).(*expr.ArrayAccess)
		r.dereference(c.s, ae.Array)
		var component qualtype.Type
		if a, ok := arr.Type.(*qualtype.Array); ok {
			component = a.Component
		}
		r.note(t, Eval{Value: store.Of(component), Expr: ae, Before: before})
		v = r.written(v, component)
		c.s.InvalidateForArrayWrite(ae, v)
		r.note(n, Eval{Value: v, Expr: ae, Before: before})
		return v
	}
	if r.err == nil {
		r.err = fmt.Errorf("invalid assignment target %s in %s", n.Target, r.m)
	}
	return r.operand(n.Value, c)
}

// equal refines both operands of a reference comparison. Against null, the unequal side learns
// NonNull; otherwise the equal side learns the meet of both values.
func (r *run) equal(n *cfg.Equal, c *cursor) (store.Value, *split) {
	lv := r.operand(n.Left, c)
	rv := r.operand(n.Right, c)
	before := r.snapshot(c)
	le, re := r.exprOf(n.Left), r.exprOf(n.Right)
	eq := &split{then: c.s.Copy(), els: c.s}

	switch {
	case isNull(n.Right):
		r.refine(eq.els, le, _nonNull)
	case isNull(n.Left):
		r.refine(eq.els, re, _nonNull)
	default:
		meet := r.f.Hierarchies().GreatestLowerBound(lv.Quals, rv.Quals)
		r.refine(eq.then, le, meet)
		r.refine(eq.then, re, meet)
	}
	r.note(n, Eval{Value: _boolean, Expr: r.exprOf(n), Before: before})
	if n.Negated {
		return _boolean, eq.swap()
	}
	return _boolean, eq
}

func isNull(n cfg.Node) bool {
	l, ok := n.(*cfg.Literal)
	return ok && l.Kind == expr.NullLiteral
}

// call evaluates a method invocation: the receiver is dereferenced, the store is invalidated per
// the callee's purity, and its postconditions are established.
func (r *run) call(n *cfg.MethodCall, c *cursor) (store.Value, *split) {
	m := n.Method
	var recv store.Value
	if n.Receiver != nil {
		recv = r.operand(n.Receiver, c)
	} else if !m.Static && r.thisRef != nil {
		recv = r.read(c.s, r.thisRef)
	}
	args := make([]store.Value, len(n.Args))
	for i, a := range n.Args {
		args[i] = r.operand(a, c)
	}
	before := r.snapshot(c)

	e := r.callExpr(n)
	call := r.signature(m, e.Receiver, e.Args, recv, args)
	call.ReceiverValue = recv

	ret := call.Return
	v := store.Of(ret)
	if fact, ok := c.s.Get(e); ok {
		v.Quals = fact.Quals.WithDefaults(v.Quals)
	}
	if r.isMapGet(m) && len(args) == 1 && r.keyFor(args[0], e.Receiver) {
		v.Quals = v.Quals.With(qualifier.New(qualifier.NonNull))
	}

	if !m.Static {
		r.dereference(c.s, e.Receiver)
	}
	mc := r.ct.Of(m)
	c.s.InvalidateForCall(mc.SideEffectFree || r.conf.AssumeSideEffectFree, r.monotonic)
	// Postconditions hold only on normal completion.
	c.raise()
	for _, pc := range mc.Of(contracts.Postcondition) {
		pe, q := r.ct.Instantiate(pc, call.Binding)
		r.refine(c.s, pe, qualifier.Set{}.With(q))
	}
	r.note(n, Eval{Value: v, Expr: e, Before: before, Call: call})

	conditional := mc.Of(contracts.ConditionalPostcondition)
	if len(conditional) == 0 {
		return v, nil
	}
	sp := &split{then: c.s.Copy(), els: c.s}
	for _, pc := range conditional {
		pe, q := r.ct.Instantiate(pc, call.Binding)
		target := sp.els
		if pc.Result {
			target = sp.then
		}
		r.refine(target, pe, qualifier.Set{}.With(q))
	}
	return v, sp
}

// signature adapts the declared types of m to a call site and resolves its polymorphic
// qualifiers against the actual receiver and arguments.
func (r *run) signature(m *symtab.Method, recvExpr expr.Expr, argExprs []expr.Expr, recv store.Value, args []store.Value) *Call {
	b := factory.CallBinding(m, recvExpr, argExprs)
	call := &Call{Method: m, Binding: b, Params: make([]qualtype.Type, len(m.Params))}
	resolver := qualifier.NewPolyResolver(r.f.Hierarchies())
	for i := range m.Params {
		call.Params[i] = r.f.Adapt(r.f.Param(m, i), b)
		if i < len(args) {
			resolver.Bind(call.Params[i].Quals(), args[i].Quals)
		}
	}
	if !m.Static && !m.Constructor {
		recvQuals := r.f.AdaptQuals(r.f.Receiver(m), b)
		resolver.Bind(recvQuals, recv.Quals)
		call.Receiver = factory.ResolvePoly(&qualtype.Declared{Name: m.Owner, Q: recvQuals}, resolver)
	}
	for i, p := range call.Params {
		call.Params[i] = factory.ResolvePoly(p, resolver)
	}
	call.Return = factory.ResolvePoly(r.f.Adapt(r.f.Return(m), b), resolver)
	return call
}

// monotonic keeps NonNull facts about MonotonicNonNull fields across impure calls: such a field
// never becomes null again once set.
func (r *run) monotonic(e expr.Expr, v store.Value) bool {
	fe, ok := e.(*expr.FieldAccess)
	if !ok || v.Quals.Get(qualifier.Nullness).Kind != qualifier.NonNull {
		return false
	}
	fd, ok := r.f.Table().LookupField(fe.Owner, fe.Name)
	if !ok {
		return false
	}
	return r.f.Field(fd).Quals().Get(qualifier.Nullness).Kind == qualifier.MonotonicNonNull
}

func (r *run) isMapGet(m *symtab.Method) bool {
	return m.Name == "get" && len(m.Params) == 1 && !m.Static &&
		r.f.Table().IsSubclass(m.Owner, config.MapClass)
}

// keyFor returns true if key is known to be a key of the map denoted by mapExpr.
func (r *run) keyFor(key store.Value, mapExpr expr.Expr) bool {
	q := key.Quals.Get(qualifier.KeyFor)
	if q.Kind != qualifier.KeyForMaps || !expr.Representable(mapExpr) {
		return false
	}
	want := mapExpr.Key()
	for _, k := range q.Args {
		if k == want {
			return true
		}
	}
	return false
}

func (r *run) newObject(n *cfg.New, c *cursor) store.Value {
	args := make([]store.Value, len(n.Args))
	for i, a := range n.Args {
		args[i] = r.operand(a, c)
	}
	before := r.snapshot(c)
	t, problems := r.f.Complete(&qualtype.Declared{Name: n.Class, Args: n.TypeArgs}, factory.ExprLoc, r.scope(), n.At)
	r.problems(problems)
	v := store.Of(t)
	var call *Call
	sideEffectFree := true
	if ctor := n.Constructor; ctor != nil {
		argExprs := make([]expr.Expr, len(n.Args))
		for i, a := range n.Args {
			argExprs[i] = r.exprOf(a)
		}
		call = r.signature(ctor, nil, argExprs, store.Value{}, args)
		sideEffectFree = r.ct.Of(ctor).SideEffectFree
	}
	c.s.InvalidateForCall(sideEffectFree || r.conf.AssumeSideEffectFree, r.monotonic)
	c.raise()
	r.note(n, Eval{Value: v, Expr: r.exprOf(n), Before: before, Call: call})
	return v
}

// ret records the state at a return statement; for boolean results it keeps the stores of both
// outcomes apart for conditional postconditions.
func (r *run) ret(n *cfg.Return, c *cursor) store.Value {
	var (
		v  = _void
		sp *split
	)
	if n.Value != nil {
		v, sp = r.eval(n.Value, c)
	}
	outcome := contracts.Outcome{Pos: n.At}
	switch {
	case sp != nil:
		outcome.Then, outcome.Else = r.valuesOf(sp.then), r.valuesOf(sp.els)
		c.s = sp.merge()
	case isBoolLiteral(n.Value, "true"):
		outcome.Then = r.valuesOf(c.s)
	case isBoolLiteral(n.Value, "false"):
		outcome.Else = r.valuesOf(c.s)
	default:
		outcome.Then, outcome.Else = r.valuesOf(c.s), r.valuesOf(c.s)
	}
	before := r.snapshot(c)
	r.note(n, Eval{Value: v, Before: before})
	if r.rec != nil {
		r.rec.returns = append(r.rec.returns, ReturnState{Node: n, Before: before, Outcome: outcome})
	}
	return v
}

func isBoolLiteral(n cfg.Node, value string) bool {
	l, ok := n.(*cfg.Literal)
	return ok && l.Kind == expr.BoolLiteral && l.Value == value
}

// valuesOf returns a snapshot of s as contract values; nil stays nil.
func (r *run) valuesOf(s *store.Store) contracts.Values {
	if s == nil {
		return nil
	}
	if r.rec != nil {
		s = s.Copy()
	}
	return values{r: r, s: s}
}
