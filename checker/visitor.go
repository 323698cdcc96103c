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

package checker

import (
	"strconv"
	"strings"

	"go.uber.org/qualcheck/cfg"
	"go.uber.org/qualcheck/contracts"
	"go.uber.org/qualcheck/dataflow"
	"go.uber.org/qualcheck/diagnostic"
	"go.uber.org/qualcheck/expr"
	"go.uber.org/qualcheck/qualifier"
	"go.uber.org/qualcheck/qualtype"
	"go.uber.org/qualcheck/store"
	"go.uber.org/qualcheck/symtab"
)

// visitor checks the nodes of one analyzed method body against the values the analysis computed.
type visitor struct {
	*unit
	res *dataflow.Result
	m   *symtab.Method
	mc  *contracts.MethodContracts
}

// visit reports every diagnostic of the body of res.Method.
func (st *unit) visit(res *dataflow.Result) {
	v := &visitor{unit: st, res: res, m: res.Method, mc: st.ct.Of(res.Method)}
	for _, p := range res.Problems {
		v.report(diagnostic.New(p.Pos, p.Kind, p.Args...))
	}
	for _, p := range st.ct.VerifyPurity(v.mc, res.Graph) {
		v.report(diagnostic.New(p.Pos, p.Kind, p.Args...))
	}

	for _, b := range res.Graph.Blocks {
		for _, root := range b.Nodes {
			cfg.Inspect(root, func(n cfg.Node) bool {
				v.node(n)
				return true
			})
		}
	}

	v.postconditions()
	v.initialization()
}

func (v *visitor) report(d diagnostic.Diagnostic) { v.unit.report(v.m, d) }

func (v *visitor) reportAt(pos cfg.Node, kind diagnostic.Kind, args ...string) {
	v.report(diagnostic.New(pos.Pos(), kind, args...))
}

// value returns the value of n computed by the analysis; false if n is unreachable.
func (v *visitor) value(n cfg.Node) (store.Value, bool) {
	ev, ok := v.res.Eval(n)
	if !ok {
		return store.Value{}, false
	}
	return ev.Value, true
}

func (v *visitor) node(n cfg.Node) {
	ev, reachable := v.res.Eval(n)
	if reachable || v.conf.Policy.CheckUnreachableCode {
		v.declared(n)
	}
	if !reachable {
		return
	}

	switch n := n.(type) {
	case *cfg.FieldAccess:
		if !n.Field.Static {
			v.dereference(n.Receiver)
		}
	case *cfg.ArrayAccess:
		v.dereference(n.Array)
	case *cfg.ArrayLength:
		v.dereference(n.Array)
	case *cfg.Synchronized:
		v.dereference(n.Lock)
	case *cfg.Unbox:
		if val, ok := v.value(n.Operand); ok && mayBeNull(val.Quals) {
			v.reportAt(n.Operand, diagnostic.UnboxingOfNullable, n.Operand.String())
		}
	case *cfg.Throw:
		if val, ok := v.value(n.Value); ok && mayBeNull(val.Quals) {
			v.reportAt(n.Value, diagnostic.ThrowingNullable, n.Value.String())
		}
	case *cfg.MethodCall:
		if !n.Method.Static {
			v.dereference(n.Receiver)
		}
		v.call(n, n.Args, ev)
	case *cfg.New:
		v.call(n, n.Args, ev)
	case *cfg.Assign:
		v.assign(n)
	case *cfg.LocalDecl:
		if n.Init != nil {
			v.compatible(n.Init, v.res.Locals[n.Local], diagnostic.AssignmentIncompatible, n.Local.Name)
		}
	case *cfg.Return:
		if n.Value != nil && !v.m.Constructor {
			if ret := v.f.BodyReturn(v.m); !isVoid(ret) {
				v.compatible(n.Value, ret, diagnostic.ReturnIncompatible)
			}
		}
	case *cfg.NewArray:
		if arr, ok := ev.Value.Type.(*qualtype.Array); ok {
			for _, init := range n.Init {
				v.compatible(init, arr.Component, diagnostic.ArrayInitializerIncompatible)
			}
		}
	case *cfg.Equal:
		v.nullTest(n)
	}
}

// declared checks what does not depend on the analysis.
func (v *visitor) declared(n cfg.Node) {
	test, ok := n.(*cfg.InstanceOf)
	if !ok || test.Target == nil {
		return
	}
	switch test.Target.Quals().Get(qualifier.Nullness).Kind {
	case qualifier.Nullable:
		v.reportAt(n, diagnostic.InstanceofNullable, v.f.Display(test.Target))
	case qualifier.NonNull:
		v.reportAt(n, diagnostic.InstanceofNonNullRedundant, v.f.Display(test.Target))
	}
}

// mayBeNull returns true for qualifiers admitting null. Unset nullness is a primitive.
func mayBeNull(q qualifier.Set) bool {
	switch q.Get(qualifier.Nullness).Kind {
	case qualifier.Nullable, qualifier.MonotonicNonNull, qualifier.PolyNull:
		return true
	}
	return false
}

// dereference reports recv if it may be null. Implicit receivers and class names never are.
func (v *visitor) dereference(recv cfg.Node) {
	switch recv.(type) {
	case nil, *cfg.ClassRef, *cfg.ThisRef:
		return
	}
	if val, ok := v.value(recv); ok && mayBeNull(val.Quals) {
		v.reportAt(recv, diagnostic.DereferenceOfNullable, recv.String())
	}
}

// compatible reports n if its value is not a subtype of required. args precede the found and
// required types in the message.
func (v *visitor) compatible(n cfg.Node, required qualtype.Type, kind diagnostic.Kind, args ...string) bool {
	found, ok := v.value(n)
	if !ok || required == nil {
		return true
	}
	foundType := found.AsType()
	id, failing := v.rel.FirstFailing(foundType, required)
	if !failing {
		return true
	}
	d := diagnostic.New(n.Pos(), kind, append(args, v.f.Display(foundType), v.f.Display(required))...)
	d.Checker = checkerOf(id)
	v.report(d)
	return false
}

func (v *visitor) assign(n *cfg.Assign) {
	switch t := n.Target.(type) {
	case *cfg.LocalRef:
		v.compatible(n.Value, v.res.Locals[t.Local], diagnostic.AssignmentIncompatible, t.String())
	case *cfg.FieldAccess:
		required, ok := v.value(t)
		if !ok {
			return
		}
		if required.Quals.Get(qualifier.Nullness).Kind == qualifier.MonotonicNonNull {
			if found, ok := v.value(n.Value); ok && mayBeNull(found.Quals) {
				v.reportAt(n.Value, diagnostic.MonotonicIncompatible, v.f.Display(found.AsType()), t.Field.Name)
				return
			}
		}
		v.compatible(n.Value, required.AsType(), diagnostic.AssignmentIncompatible, t.String())
	case *cfg.ArrayAccess:
		v.dereference(t.Array)
		if required, ok := v.value(t); ok && required.Type != nil {
			v.compatible(n.Value, required.Type, diagnostic.AssignmentIncompatible, t.String())
		}
	}
}

// call checks the arguments, receiver and preconditions of an invocation or object creation.
func (v *visitor) call(n cfg.Node, args []cfg.Node, ev *dataflow.Eval) {
	call := ev.Call
	if call == nil {
		return
	}
	m := call.Method
	for i, a := range args {
		if i < len(call.Params) {
			v.compatible(a, call.Params[i], diagnostic.ArgumentIncompatible, m.Params[i].Name, m.String())
		}
	}

	// Nullness of the receiver is a dereference; the other hierarchies constrain which receivers
	// the method accepts, e.g. no initialized-only method on a receiver under initialization.
	if call.Receiver != nil {
		have, want := call.ReceiverValue.Quals, call.Receiver.Quals()
		for id := qualifier.HierarchyID(0); id < qualifier.NumHierarchies; id++ {
			if id == qualifier.Nullness || !have.Get(id).IsSet() || !want.Get(id).IsSet() {
				continue
			}
			if !v.hs.Get(id).IsSubtype(have.Get(id), want.Get(id)) {
				d := diagnostic.New(n.Pos(), diagnostic.MethodInvocationInvalid,
					m.String(), v.f.DisplayQuals(have), v.f.DisplayQuals(want))
				d.Checker = checkerOf(id)
				v.report(d)
				break
			}
		}
	}

	for _, fail := range v.ct.CheckPrecondition(v.ct.Of(m), call.Binding, v.res.ValuesAt(ev.Before), n.Pos()) {
		v.report(diagnostic.New(fail.Pos, diagnostic.PreconditionNotSatisfied,
			m.String(), fail.Expr.String(), v.f.DisplayQualifier(fail.Qualifier)))
	}
}

// nullTest reports a comparison against null whose other operand is known to be NonNull.
func (v *visitor) nullTest(n *cfg.Equal) {
	if !v.conf.RedundantNullComparison {
		return
	}
	var other cfg.Node
	switch {
	case isNullLiteral(n.Right):
		other = n.Left
	case isNullLiteral(n.Left):
		other = n.Right
	default:
		return
	}
	if _, literal := other.(*cfg.Literal); literal {
		return
	}
	if val, ok := v.value(other); ok && val.Quals.Get(qualifier.Nullness).Kind == qualifier.NonNull {
		v.reportAt(n, diagnostic.NullTestRedundant, other.String())
	}
}

func isNullLiteral(n cfg.Node) bool {
	l, ok := n.(*cfg.Literal)
	return ok && l.Kind == expr.NullLiteral
}

// postconditions checks the postconditions at the normal exit and the conditional
// postconditions at every return statement.
func (v *visitor) postconditions() {
	for _, fail := range v.ct.CheckPostcondition(v.mc, v.res.ValuesAt(v.res.Exit)) {
		v.report(diagnostic.New(fail.Pos, diagnostic.PostconditionNotSatisfied,
			v.m.String(), fail.Expr.String(), v.f.DisplayQualifier(fail.Qualifier)))
	}

	outcomes := make([]contracts.Outcome, len(v.res.Returns))
	for i, r := range v.res.Returns {
		outcomes[i] = r.Outcome
	}
	for _, fail := range v.ct.CheckConditionalPostcondition(v.mc, outcomes) {
		v.report(diagnostic.New(fail.Pos, diagnostic.ConditionalPostconditionNotSatisfied,
			v.m.String(), strconv.FormatBool(fail.Contract.Result), fail.Expr.String(),
			v.f.DisplayQualifier(fail.Qualifier)))
	}
}

// initialization reports the NonNull fields a constructor leaves uninitialized.
func (v *visitor) initialization() {
	if !v.m.Constructor || v.res.Exit == nil {
		return
	}
	class, ok := v.u.Table.Class(v.m.Owner)
	if !ok {
		return
	}
	this := &expr.ThisRef{Class: v.m.Owner}
	missing := v.uninitialized(class, func(fd *symtab.Field) bool {
		fact, ok := v.res.Exit.Get(&expr.FieldAccess{Receiver: this, Name: fd.Name, Owner: fd.Owner})
		return ok && fact.Quals.Get(qualifier.Nullness).Kind == qualifier.NonNull
	})
	if len(missing) > 0 {
		v.report(diagnostic.New(v.m.Pos, diagnostic.FieldsUninitialized, v.m.String(), strings.Join(missing, ", ")))
	}
}
