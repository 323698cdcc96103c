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
	"go.uber.org/qualcheck/cfg"
	"go.uber.org/qualcheck/contracts"
	"go.uber.org/qualcheck/expr"
	"go.uber.org/qualcheck/factory"
	"go.uber.org/qualcheck/qualifier"
	"go.uber.org/qualcheck/qualtype"
	"go.uber.org/qualcheck/store"
	"go.uber.org/qualcheck/symtab"
)

// values adapts a store to contracts.Values.
type values struct {
	r *run
	s *store.Store
}

var _ contracts.Values = values{}

func (v values) Value(e expr.Expr) (qualifier.Set, bool) {
	val := v.r.read(v.s, e)
	return val.Quals, val.Quals.Complete()
}

// read returns the value of e in s: the stored fact completed by the declared type, or the
// declared type alone.
func (r *run) read(s *store.Store, e expr.Expr) store.Value {
	declared := r.declared(e)
	fact, ok := s.Get(e)
	if !ok {
		return declared
	}
	v := store.Value{Quals: fact.Quals.WithDefaults(declared.Quals), Type: fact.Type}
	if v.Type == nil {
		v.Type = declared.Type
	}
	return v
}

// declared returns the value of e according to declarations only.
func (r *run) declared(e expr.Expr) store.Value {
	switch e := e.(type) {
	case *expr.ThisRef:
		if e.Outer == "" && r.thisRef != nil {
			return store.Value{Quals: r.f.Receiver(r.m), Type: r.receiverType()}
		}
		return store.Of(&qualtype.Declared{Name: e.Class, Q: factory.NewQuals()})
	case *expr.ClassName:
		return store.Of(&qualtype.Declared{Name: e.Name, Q: factory.NewQuals()})
	case *expr.LocalVar:
		for l, t := range r.locals {
			if l.ID == e.ID && l.Name == e.Name {
				return store.Of(t)
			}
		}
	case *expr.Param:
		if e.Index >= 1 && e.Index <= len(r.m.Params) {
			return store.Of(r.f.BodyParam(r.m, e.Index-1))
		}
	case *expr.FieldAccess:
		if fd, ok := r.f.Table().LookupField(e.Owner, e.Name); ok {
			return store.Of(r.f.FieldAt(fd, e.Receiver))
		}
	case *expr.MethodCall:
		if m, ok := r.f.Table().LookupMethod(e.Owner, e.Name, len(e.Args)); ok {
			return store.Of(r.f.Adapt(r.f.Return(m), factory.CallBinding(m, e.Receiver, e.Args)))
		}
	case *expr.ArrayAccess:
		if arr, ok := r.declared(e.Array).Type.(*qualtype.Array); ok {
			return store.Of(arr.Component)
		}
	case *expr.Literal:
		return store.Of(factory.Literal(e.Kind))
	}
	return store.Value{Quals: r.f.Hierarchies().Top()}
}

// exprOf returns the flow expression denoted by n; Unknown if n has none.
func (r *run) exprOf(n cfg.Node) expr.Expr {
	switch n := n.(type) {
	case *cfg.LocalRef:
		return symtab.LocalVar(n.Local)
	case *cfg.ThisRef:
		return r.this(n.Class)
	case *cfg.ClassRef:
		return &expr.ClassName{Name: n.Class}
	case *cfg.Literal:
		return &expr.Literal{Kind: n.Kind, Value: n.Value}
	case *cfg.FieldAccess:
		return r.fieldExpr(n)
	case *cfg.ArrayAccess:
		return &expr.ArrayAccess{Array: r.exprOf(n.Array), Index: r.exprOf(n.Index)}
	case *cfg.MethodCall:
		return r.callExpr(n)
	case *cfg.Cast:
		return r.exprOf(n.Operand)
	}
	return &expr.Unknown{Text: n.String()}
}

func (r *run) this(class string) *expr.ThisRef {
	if class == "" || class == r.m.Owner {
		if r.thisRef != nil {
			return r.thisRef
		}
		return &expr.ThisRef{Class: r.m.Owner}
	}
	return &expr.ThisRef{Outer: class, Class: class}
}

// receiverExpr returns the receiver of a member access; implicit receivers are `this` for
// instance members and the owning class for static ones.
func (r *run) receiverExpr(recv cfg.Node, owner string, static bool) expr.Expr {
	switch {
	case static:
		return &expr.ClassName{Name: owner}
	case recv == nil:
		return r.this("")
	}
	return r.exprOf(recv)
}

func (r *run) fieldExpr(n *cfg.FieldAccess) *expr.FieldAccess {
	fd := n.Field
	return &expr.FieldAccess{
		Receiver: r.receiverExpr(n.Receiver, fd.Owner, fd.Static),
		Name:     fd.Name,
		Owner:    fd.Owner,
		Type:     qualtype.Name(fd.Type),
		Static:   fd.Static,
		Final:    fd.Final,
	}
}

func (r *run) callExpr(n *cfg.MethodCall) *expr.MethodCall {
	m := n.Method
	mc := r.ct.Of(m)
	args := make([]expr.Expr, len(n.Args))
	for i, a := range n.Args {
		args[i] = r.exprOf(a)
	}
	return &expr.MethodCall{
		Receiver:       r.receiverExpr(n.Receiver, m.Owner, m.Static),
		Name:           m.Name,
		Owner:          m.Owner,
		Type:           qualtype.Name(m.Return),
		Args:           args,
		Static:         m.Static,
		Deterministic:  mc.Deterministic,
		SideEffectFree: mc.SideEffectFree,
	}
}
