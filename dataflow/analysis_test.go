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
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/qualcheck/cfg"
	"go.uber.org/qualcheck/config"
	"go.uber.org/qualcheck/contracts"
	"go.uber.org/qualcheck/expr"
	"go.uber.org/qualcheck/factory"
	"go.uber.org/qualcheck/qualchecktest"
	"go.uber.org/qualcheck/qualifier"
	"go.uber.org/qualcheck/qualtype"
	"go.uber.org/qualcheck/stubs"
	"go.uber.org/qualcheck/symtab"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type env struct {
	an    *Analyzer
	table *contracts.Table
}

func newEnv(t *testing.T, classes ...*symtab.Class) *env {
	t.Helper()
	table := symtab.NewTable(append(qualchecktest.Library(), classes...)...)
	stubs.Default().Apply(table)
	parser, err := expr.NewParser(config.DefaultExprCacheSize)
	require.NoError(t, err)
	f := factory.New(table, qualifier.Default(), parser)
	ct := contracts.Collect(f)
	return &env{an: New(f, ct, config.New()), table: ct}
}

func (e *env) analyze(t *testing.T, m *symtab.Method, body ...cfg.Stmt) *Result {
	t.Helper()
	g, err := cfg.Lower(body)
	require.NoError(t, err)
	res, err := e.an.Analyze(context.Background(), m, g)
	require.NoError(t, err)
	return res
}

func nullness(t *testing.T, res *Result, n cfg.Node) qualifier.Kind {
	t.Helper()
	ev, ok := res.Eval(n)
	require.True(t, ok, "%s is unreachable", n)
	return ev.Value.Quals.Get(qualifier.Nullness).Kind
}

func null() cfg.Node { return &cfg.Literal{Kind: expr.NullLiteral} }

func notNull(n cfg.Node) cfg.Cond {
	return cfg.Test{Node: &cfg.Equal{Left: n, Right: null(), Negated: true}}
}

func TestNullTestRefinesBranches(t *testing.T) {
	t.Parallel()

	o := qualchecktest.Param("o", 1, qualchecktest.Type("Object"), qualchecktest.Anno("Nullable"))
	m := &symtab.Method{Name: "m", Params: []*symtab.Local{o}}
	e := newEnv(t, &symtab.Class{Name: "Foo", Methods: []*symtab.Method{m}})

	inThen, inElse, after := &cfg.LocalRef{Local: o}, &cfg.LocalRef{Local: o}, &cfg.LocalRef{Local: o}
	res := e.analyze(t, m,
		cfg.If{
			Cond: notNull(&cfg.LocalRef{Local: o}),
			Then: []cfg.Stmt{cfg.Do{Node: &cfg.LocalDecl{Local: qualchecktest.Local("x", 2, qualchecktest.Type("Object")), Init: inThen}}},
			Else: []cfg.Stmt{cfg.Do{Node: &cfg.LocalDecl{Local: qualchecktest.Local("y", 3, qualchecktest.Type("Object")), Init: inElse}}},
		},
		cfg.Do{Node: &cfg.LocalDecl{Local: qualchecktest.Local("z", 4, qualchecktest.Type("Object")), Init: after}},
	)
	require.Equal(t, qualifier.NonNull, nullness(t, res, inThen))
	require.Equal(t, qualifier.Nullable, nullness(t, res, inElse))
	require.Equal(t, qualifier.Nullable, nullness(t, res, after))
	require.NotNil(t, res.Exit)
}

func TestLoopReachesFixpoint(t *testing.T) {
	t.Parallel()

	p := qualchecktest.Param("p", 1, qualchecktest.Type("String"), qualchecktest.Anno("Nullable"))
	flag := qualchecktest.Param("flag", 2, qualchecktest.Boolean())
	m := &symtab.Method{Name: "loop", Params: []*symtab.Local{p, flag}}
	e := newEnv(t, &symtab.Class{Name: "Foo", Methods: []*symtab.Method{m}})
	length, ok := e.an.f.Table().LookupMethod("String", "length", 0)
	require.True(t, ok)

	s := qualchecktest.Local("s", 3, qualchecktest.Type("String"))
	recv := &cfg.LocalRef{Local: s}
	res := e.analyze(t, m,
		cfg.Do{Node: &cfg.LocalDecl{Local: s, Init: &cfg.Literal{Kind: expr.StringLiteral, Value: "a"}}},
		cfg.While{Cond: cfg.Test{Node: &cfg.LocalRef{Local: flag}}, Body: []cfg.Stmt{
			cfg.Do{Node: &cfg.MethodCall{Receiver: recv, Method: length}},
			cfg.Do{Node: &cfg.Assign{Target: &cfg.LocalRef{Local: s}, Value: &cfg.LocalRef{Local: p}}},
		}},
	)
	require.Equal(t, qualifier.Nullable, nullness(t, res, recv))
	require.Positive(t, res.Iterations)
}

type fooClass struct {
	class                     *symtab.Class
	f, g, nn, mapField        *symtab.Field
	impure, hasF, useF, isNil *symtab.Method
}

func newFoo() *fooClass {
	anno := qualchecktest.Anno
	obj := qualchecktest.Type("Object")
	foo := &fooClass{
		f:        &symtab.Field{Name: "f", Type: obj, Annotations: []symtab.Annotation{anno("Nullable")}},
		g:        &symtab.Field{Name: "g", Type: obj, Annotations: []symtab.Annotation{anno("MonotonicNonNull")}},
		nn:       &symtab.Field{Name: "nn", Type: obj},
		mapField: &symtab.Field{Name: "map", Type: qualchecktest.Type("Map")},
		impure:   &symtab.Method{Name: "impure"},
		hasF: &symtab.Method{Name: "hasF", Return: qualchecktest.Boolean(), Annotations: []symtab.Annotation{
			anno("EnsuresNonNullIf", "expression", "f", "result", "true"),
		}},
		useF:  &symtab.Method{Name: "useF", Annotations: []symtab.Annotation{anno("RequiresNonNull", "value", "f")}},
		isNil: &symtab.Method{Name: "isNil", Return: qualchecktest.Boolean()},
	}
	foo.class = &symtab.Class{
		Name:    "Foo",
		Fields:  []*symtab.Field{foo.f, foo.g, foo.nn, foo.mapField},
		Methods: []*symtab.Method{foo.impure, foo.hasF, foo.useF, foo.isNil},
	}
	return foo
}

func read(fd *symtab.Field) *cfg.FieldAccess { return &cfg.FieldAccess{Field: fd} }

func decl(name string, id int, init cfg.Node) cfg.Stmt {
	return cfg.Do{Node: &cfg.LocalDecl{Local: qualchecktest.Local(name, id, qualchecktest.Type("Object")), Init: init}}
}

func TestImpureCallInvalidatesAllButMonotonicFacts(t *testing.T) {
	t.Parallel()

	foo := newFoo()
	e := newEnv(t, foo.class)
	fAfter, gAfter, fBefore := read(foo.f), read(foo.g), read(foo.f)
	res := e.analyze(t, foo.impure,
		cfg.If{
			Cond: cfg.And{L: notNull(read(foo.f)), R: notNull(read(foo.g))},
			Then: []cfg.Stmt{
				decl("a", 1, fBefore),
				cfg.Do{Node: &cfg.MethodCall{Method: foo.impure}},
				decl("b", 2, fAfter),
				decl("c", 3, gAfter),
			},
		},
	)
	require.Equal(t, qualifier.NonNull, nullness(t, res, fBefore))
	require.Equal(t, qualifier.Nullable, nullness(t, res, fAfter))
	require.Equal(t, qualifier.NonNull, nullness(t, res, gAfter))
}

func TestPreconditionsHoldAtEntry(t *testing.T) {
	t.Parallel()

	foo := newFoo()
	e := newEnv(t, foo.class)
	fRead := read(foo.f)
	res := e.analyze(t, foo.useF, decl("a", 1, fRead))
	require.Equal(t, qualifier.NonNull, nullness(t, res, fRead))
}

func TestConditionalPostconditionAtCallSite(t *testing.T) {
	t.Parallel()

	foo := newFoo()
	e := newEnv(t, foo.class)
	inThen, inElse := read(foo.f), read(foo.f)
	res := e.analyze(t, foo.impure,
		cfg.If{
			Cond: cfg.Test{Node: &cfg.MethodCall{Method: foo.hasF}},
			Then: []cfg.Stmt{decl("a", 1, inThen)},
			Else: []cfg.Stmt{decl("b", 2, inElse)},
		},
	)
	require.Equal(t, qualifier.NonNull, nullness(t, res, inThen))
	require.Equal(t, qualifier.Nullable, nullness(t, res, inElse))
}

func TestReturnOutcomesSatisfyConditionalPostcondition(t *testing.T) {
	t.Parallel()

	foo := newFoo()
	e := newEnv(t, foo.class)
	mc := e.table.Of(foo.hasF)

	// return f != null;
	good := e.analyze(t, foo.hasF, cfg.ReturnIf{Cond: notNull(read(foo.f))})
	require.Len(t, good.Returns, 2)
	outcomes := make([]contracts.Outcome, 0, len(good.Returns))
	for _, r := range good.Returns {
		outcomes = append(outcomes, r.Outcome)
	}
	require.Empty(t, e.table.CheckConditionalPostcondition(mc, outcomes))

	// return f == null;
	bad := e.analyze(t, foo.hasF, cfg.Do{Node: &cfg.Return{
		Value: &cfg.Equal{Left: read(foo.f), Right: null()},
	}})
	require.Len(t, bad.Returns, 1)
	require.Len(t, e.table.CheckConditionalPostcondition(mc, []contracts.Outcome{bad.Returns[0].Outcome}), 1)
}

func TestTryFinallyKeepsPathsApart(t *testing.T) {
	t.Parallel()

	o := qualchecktest.Param("o", 1, qualchecktest.Type("Object"), qualchecktest.Anno("Nullable"))
	m := &symtab.Method{Name: "m", Params: []*symtab.Local{o}}
	e := newEnv(t, &symtab.Class{Name: "Foo", Methods: []*symtab.Method{m}})

	after := &cfg.LocalRef{Local: o}
	res := e.analyze(t, m,
		cfg.Try{
			Body: []cfg.Stmt{cfg.If{
				Cond: cfg.Test{Node: &cfg.Equal{Left: &cfg.LocalRef{Local: o}, Right: null()}},
				Then: []cfg.Stmt{cfg.Do{Node: &cfg.Return{}}},
			}},
			Finally: []cfg.Stmt{cfg.Do{Node: &cfg.LocalDecl{Local: qualchecktest.Local("x", 2, qualchecktest.Type("Object"))}}},
		},
		decl("y", 3, after),
	)
	// Only the fallthrough completion of the try block resumes after the finally block.
	require.Equal(t, qualifier.NonNull, nullness(t, res, after))
}

func TestPostconditionsSkipExceptionalPath(t *testing.T) {
	t.Parallel()

	foo := newFoo()
	ensureF := &symtab.Method{Name: "ensureF", Annotations: []symtab.Annotation{
		qualchecktest.Anno("EnsuresNonNull", "value", "f"),
	}}
	foo.class.Methods = append(foo.class.Methods, ensureF)
	e := newEnv(t, foo.class)
	afterCall, inCatch := read(foo.f), read(foo.f)
	res := e.analyze(t, foo.impure,
		cfg.If{
			Cond: notNull(read(foo.f)),
			Then: []cfg.Stmt{cfg.Try{
				Body: []cfg.Stmt{
					cfg.Do{Node: &cfg.MethodCall{Method: ensureF}},
					decl("a", 1, afterCall),
				},
				Catches: []cfg.Catch{{Exception: "Exception", Body: []cfg.Stmt{decl("b", 2, inCatch)}}},
			}},
		},
	)
	require.Equal(t, qualifier.NonNull, nullness(t, res, afterCall))
	// ensureF may have nulled f before raising.
	require.Equal(t, qualifier.Nullable, nullness(t, res, inCatch))
}

func TestInstanceOfNarrowsOperandType(t *testing.T) {
	t.Parallel()

	o := qualchecktest.Param("o", 1, qualchecktest.Type("Object"), qualchecktest.Anno("Nullable"))
	m := &symtab.Method{Name: "m", Params: []*symtab.Local{o}}
	e := newEnv(t, &symtab.Class{Name: "Foo", Methods: []*symtab.Method{m}})

	inThen, after := &cfg.LocalRef{Local: o}, &cfg.LocalRef{Local: o}
	res := e.analyze(t, m,
		cfg.If{
			Cond: cfg.Test{Node: &cfg.InstanceOf{Operand: &cfg.LocalRef{Local: o}, Target: qualchecktest.Type("String")}},
			Then: []cfg.Stmt{decl("a", 2, inThen)},
		},
		decl("b", 3, after),
	)
	ev, ok := res.Eval(inThen)
	require.True(t, ok)
	require.Equal(t, qualifier.NonNull, ev.Value.Quals.Get(qualifier.Nullness).Kind)
	require.Equal(t, "String", qualtype.Name(ev.Value.Type))

	ev, ok = res.Eval(after)
	require.True(t, ok)
	require.Equal(t, qualifier.Nullable, ev.Value.Quals.Get(qualifier.Nullness).Kind)
	require.Equal(t, "Object", qualtype.Name(ev.Value.Type))
}

func TestKeyForFromContainsKey(t *testing.T) {
	t.Parallel()

	foo := newFoo()
	k := qualchecktest.Param("k", 1, qualchecktest.Type("String"))
	m := &symtab.Method{Name: "lookup", Params: []*symtab.Local{k}}
	foo.class.Methods = append(foo.class.Methods, m)
	e := newEnv(t, foo.class)
	table := e.an.f.Table()
	containsKey, _ := table.LookupMethod("Map", "containsKey", 1)
	get, _ := table.LookupMethod("Map", "get", 1)

	inside := &cfg.MethodCall{Receiver: read(foo.mapField), Method: get, Args: []cfg.Node{&cfg.LocalRef{Local: k}}}
	outside := &cfg.MethodCall{Receiver: read(foo.mapField), Method: get, Args: []cfg.Node{&cfg.LocalRef{Local: k}}}
	res := e.analyze(t, m,
		cfg.If{
			Cond: cfg.Test{Node: &cfg.MethodCall{Receiver: read(foo.mapField), Method: containsKey, Args: []cfg.Node{&cfg.LocalRef{Local: k}}}},
			Then: []cfg.Stmt{decl("a", 2, inside)},
		},
		decl("b", 3, outside),
	)
	require.Equal(t, qualifier.NonNull, nullness(t, res, inside))
	require.Equal(t, qualifier.Nullable, nullness(t, res, outside))

	ev, _ := res.Eval(inside.Args[0])
	require.Equal(t, qualifier.New(qualifier.KeyForMaps, "this.map"), ev.Value.Quals.Get(qualifier.KeyFor))
}

func TestConstructorSeesUninitializedFields(t *testing.T) {
	t.Parallel()

	foo := newFoo()
	ctor := &symtab.Method{Name: "<init>", Constructor: true}
	foo.class.Methods = append(foo.class.Methods, ctor)
	e := newEnv(t, foo.class)

	early, late := read(foo.nn), read(foo.nn)
	res := e.analyze(t, ctor,
		decl("a", 1, early),
		cfg.Do{Node: &cfg.Assign{Target: read(foo.nn), Value: &cfg.New{Class: "Object"}}},
		decl("b", 2, late),
	)
	require.Equal(t, qualifier.Nullable, nullness(t, res, early))
	require.Equal(t, qualifier.NonNull, nullness(t, res, late))

	fact, ok := res.Exit.Get(&expr.FieldAccess{Receiver: &expr.ThisRef{Class: "Foo"}, Name: "nn", Owner: "Foo"})
	require.True(t, ok)
	require.Equal(t, qualifier.NonNull, fact.Quals.Get(qualifier.Nullness).Kind)
	this := res.Value(res.Exit, &expr.ThisRef{Class: "Foo"})
	require.Equal(t, qualifier.UnderInitialization, this.Quals.Get(qualifier.Initialization).Kind)
}

func TestUnreachableCodeHasNoEvals(t *testing.T) {
	t.Parallel()

	foo := newFoo()
	e := newEnv(t, foo.class)
	dead := read(foo.f)
	res := e.analyze(t, foo.impure,
		cfg.Do{Node: &cfg.Return{}},
		decl("a", 1, dead),
	)
	require.False(t, res.Reachable(dead))
}

func TestCancellation(t *testing.T) {
	t.Parallel()

	foo := newFoo()
	e := newEnv(t, foo.class)
	g, err := cfg.Lower([]cfg.Stmt{decl("a", 1, read(foo.f))})
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = e.an.Analyze(ctx, foo.impure, g)
	require.ErrorIs(t, err, context.Canceled)
}

func TestMalformedGraph(t *testing.T) {
	t.Parallel()

	foo := newFoo()
	e := newEnv(t, foo.class)
	_, err := e.an.Analyze(context.Background(), foo.impure, &cfg.Graph{})
	require.ErrorContains(t, err, "malformed cfg")
}
