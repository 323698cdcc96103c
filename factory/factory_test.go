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

package factory

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/qualcheck/config"
	"go.uber.org/qualcheck/diagnostic"
	"go.uber.org/qualcheck/expr"
	"go.uber.org/qualcheck/qualchecktest"
	"go.uber.org/qualcheck/qualifier"
	"go.uber.org/qualcheck/qualtype"
	"go.uber.org/qualcheck/symtab"
)

func newFactory(t *testing.T, classes ...*symtab.Class) *Factory {
	t.Helper()
	parser, err := expr.NewParser(config.DefaultExprCacheSize)
	require.NoError(t, err)
	table := symtab.NewTable(append(qualchecktest.Library(), classes...)...)
	return New(table, qualifier.Default(), parser)
}

func problemKinds(ps []Problem) []diagnostic.Kind {
	var kinds []diagnostic.Kind
	for _, p := range ps {
		kinds = append(kinds, p.Kind)
	}
	return kinds
}

func TestFieldDefaultsAndAnnotations(t *testing.T) {
	t.Parallel()

	plain := &symtab.Field{Name: "plain", Type: qualchecktest.Type("Object")}
	nullable := &symtab.Field{
		Name:        "nullable",
		Type:        qualchecktest.Type("Object"),
		Annotations: []symtab.Annotation{qualchecktest.Anno("org.checkerframework.checker.nullness.qual.Nullable")},
	}
	list := &symtab.Field{Name: "list", Type: qualchecktest.Type("List", qualchecktest.Type("String"))}
	f := newFactory(t, &symtab.Class{Name: "Foo", Fields: []*symtab.Field{plain, nullable, list}})
	require.Empty(t, f.Problems())

	require.Equal(t, "@NonNull @UnknownKeyFor @Initialized Object", f.Field(plain).String())
	require.Equal(t, qualifier.Nullable, f.Field(nullable).Quals().Get(qualifier.Nullness).Kind)
	arg := f.Field(list).(*qualtype.Declared).Args[0]
	require.Equal(t, qualifier.NonNull, arg.Quals().Get(qualifier.Nullness).Kind)
}

func TestLocalsClimbToTop(t *testing.T) {
	t.Parallel()

	x := qualchecktest.Local("x", 2, qualchecktest.Type("Object"))
	e := &symtab.Local{Name: "e", ID: 3, Type: qualchecktest.Type("Exception"), Kind: symtab.CatchParameter}
	o := qualchecktest.Param("o", 1, qualchecktest.Type("Object"))
	m := &symtab.Method{Name: "m", Params: []*symtab.Local{o}, Return: qualchecktest.Int()}
	f := newFactory(t, &symtab.Class{Name: "Foo", Methods: []*symtab.Method{m}})

	xt, problems := f.Local(x, m, []*symtab.Local{x, e})
	require.Empty(t, problems)
	require.True(t, xt.Quals().Equal(qualifier.Default().Top()))

	et, _ := f.Local(e, m, []*symtab.Local{x, e})
	require.Equal(t, qualifier.NonNull, et.Quals().Get(qualifier.Nullness).Kind)

	ot, _ := f.Local(o, m, nil)
	require.Equal(t, qualifier.NonNull, ot.Quals().Get(qualifier.Nullness).Kind)
	require.Equal(t, qualifier.Initialized, ot.Quals().Get(qualifier.Initialization).Kind)
}

func TestDeclarationProblems(t *testing.T) {
	t.Parallel()

	conflicting := &symtab.Field{
		Name: "c",
		Type: qualchecktest.Type("Object"),
		Annotations: []symtab.Annotation{
			qualchecktest.Anno("Nullable"),
			qualchecktest.Anno("NonNull"),
		},
	}
	primitive := &symtab.Field{
		Name:        "i",
		Type:        qualchecktest.Int(),
		Annotations: []symtab.Annotation{qualchecktest.Anno("Nullable")},
	}
	polyField := &symtab.Field{
		Name:        "p",
		Type:        qualchecktest.Type("Object"),
		Annotations: []symtab.Annotation{qualchecktest.Anno("PolyNull")},
	}
	polyMethod := &symtab.Method{
		Name:        "bad",
		Params:      []*symtab.Local{qualchecktest.Param("o", 1, qualchecktest.Type("Object"))},
		Return:      qualchecktest.Type("Object"),
		Annotations: []symtab.Annotation{qualchecktest.Anno("PolyNull")},
	}
	polyOK := &symtab.Method{
		Name:        "id",
		Params:      []*symtab.Local{qualchecktest.Param("o", 1, qualchecktest.Type("Object"), qualchecktest.Anno("PolyNull"))},
		Return:      qualchecktest.Type("Object"),
		Annotations: []symtab.Annotation{qualchecktest.Anno("PolyNull")},
	}
	badKey := &symtab.Field{
		Name:        "k",
		Type:        qualchecktest.Type("String"),
		Annotations: []symtab.Annotation{qualchecktest.Anno("KeyFor", "value", "nosuchmap")},
	}
	foo := &symtab.Class{
		Name:             "Foo",
		Super:            "Object",
		SuperAnnotations: []symtab.Annotation{qualchecktest.Anno("Nullable")},
		Fields:           []*symtab.Field{conflicting, primitive, polyField, badKey},
		Methods:          []*symtab.Method{polyMethod, polyOK},
	}
	f := newFactory(t, foo)

	require.ElementsMatch(t, []diagnostic.Kind{
		diagnostic.NullnessOnSupertype,
		diagnostic.ConflictingAnnotations,
		diagnostic.NullnessOnPrimitive,
		diagnostic.InvalidPolymorphicQualifier,
		diagnostic.InvalidPolymorphicQualifier,
		diagnostic.ExpressionUnparsable,
	}, problemKinds(f.Problems()))

	for _, p := range f.Problems() {
		switch p.Kind {
		case diagnostic.ConflictingAnnotations:
			require.Equal(t, []string{"@Nullable", "@NonNull", "Foo.c"}, p.Args)
			require.Same(t, conflicting, p.Decl)
		case diagnostic.InvalidPolymorphicQualifier:
			require.NotSame(t, polyOK, p.Decl)
		}
	}
	require.True(t, f.Field(primitive).Quals().IsEmpty())
	// The unparsable argument is kept verbatim.
	require.Equal(t, []string{"nosuchmap"}, f.Field(badKey).Quals().Get(qualifier.KeyFor).Args)
}

func TestKeyForViewpointAdaptation(t *testing.T) {
	t.Parallel()

	mapField := &symtab.Field{Name: "map", Type: qualchecktest.Type("Map")}
	keyField := &symtab.Field{
		Name:        "k",
		Type:        qualchecktest.Type("String"),
		Annotations: []symtab.Annotation{qualchecktest.Anno("KeyFor", "value", "map")},
	}
	key := qualchecktest.Param("key", 1, qualchecktest.Type("String"), qualchecktest.Anno("KeyFor", "value", "#2"))
	m := qualchecktest.Param("m", 2, qualchecktest.Type("Map"))
	lookup := &symtab.Method{Name: "lookup", Params: []*symtab.Local{key, m}, Return: qualchecktest.Type("Object")}
	foo := &symtab.Class{Name: "Foo", Fields: []*symtab.Field{mapField, keyField}, Methods: []*symtab.Method{lookup}}
	f := newFactory(t, foo)
	require.Empty(t, f.Problems())

	require.Equal(t, []string{"this.map"}, f.Field(keyField).Quals().Get(qualifier.KeyFor).Args)

	other := &expr.LocalVar{Name: "other", ID: 7, Type: "Foo"}
	adapted := f.FieldAt(keyField, other)
	require.Equal(t, []string{"other@7.map"}, adapted.Quals().Get(qualifier.KeyFor).Args)
	require.Equal(t, `@NonNull @KeyFor("other.map") @Initialized String`, f.Display(adapted))

	require.Equal(t, []string{"#2"}, f.Param(lookup, 0).Quals().Get(qualifier.KeyFor).Args)
	require.Equal(t, []string{"m@2"}, f.BodyParam(lookup, 0).Quals().Get(qualifier.KeyFor).Args)

	actualMap := &expr.LocalVar{Name: "table", ID: 4, Type: "Map"}
	b := CallBinding(lookup, &expr.ThisRef{Class: "Foo"}, []expr.Expr{&expr.Unknown{Text: "k"}, actualMap})
	atCall := f.Adapt(f.Param(lookup, 0), b)
	require.Equal(t, []string{"table@4"}, atCall.Quals().Get(qualifier.KeyFor).Args)
}

func TestNewArrayComponents(t *testing.T) {
	t.Parallel()

	f := newFactory(t)
	scope := f.Table().ClassScope("Object")

	twoDims := &qualtype.Array{Component: &qualtype.Array{Component: qualchecktest.Type("String")}}
	at, problems := f.NewArray(twoDims, true, scope, 0)
	require.Empty(t, problems)
	require.Equal(t, qualifier.NonNull, at.Quals().Get(qualifier.Nullness).Kind)
	inner := at.(*qualtype.Array).Component
	require.Equal(t, qualifier.Nullable, inner.Quals().Get(qualifier.Nullness).Kind)
	require.Equal(t, qualifier.Nullable, inner.(*qualtype.Array).Component.Quals().Get(qualifier.Nullness).Kind)

	explicit := &qualtype.Array{Component: qualchecktest.Qualified("String", qualifier.New(qualifier.NonNull))}
	_, problems = f.NewArray(explicit, true, scope, 0)
	require.Equal(t, []diagnostic.Kind{diagnostic.NewArrayTypeInvalid}, problemKinds(problems))

	withInit, problems := f.NewArray(explicit, false, scope, 0)
	require.Empty(t, problems)
	require.Equal(t, qualifier.NonNull, withInit.(*qualtype.Array).Component.Quals().Get(qualifier.Nullness).Kind)

	ints, problems := f.NewArray(&qualtype.Array{Component: qualchecktest.Int()}, true, scope, 0)
	require.Empty(t, problems)
	require.True(t, ints.(*qualtype.Array).Component.Quals().IsEmpty())
}

func TestPolyResolution(t *testing.T) {
	t.Parallel()

	hs := qualifier.Default()
	poly := qualifier.MustSet(qualifier.New(qualifier.PolyNull))
	r := qualifier.NewPolyResolver(hs)
	r.Bind(poly, qualifier.MustSet(qualifier.New(qualifier.NonNull)))
	r.Bind(poly, qualifier.MustSet(qualifier.New(qualifier.Nullable)))

	ret := &qualtype.Declared{Name: "List", Args: []qualtype.Type{&qualtype.Declared{Name: "Object", Q: poly}}, Q: poly}
	resolved := ResolvePoly(ret, r)
	require.Equal(t, qualifier.Nullable, resolved.Quals().Get(qualifier.Nullness).Kind)
	require.Equal(t, qualifier.Nullable, resolved.(*qualtype.Declared).Args[0].Quals().Get(qualifier.Nullness).Kind)
	// The input is not modified.
	require.Equal(t, qualifier.PolyNull, ret.Quals().Get(qualifier.Nullness).Kind)
}

func TestLiterals(t *testing.T) {
	t.Parallel()

	require.True(t, Literal(expr.NullLiteral).Quals().Equal(NullQuals()))
	require.Equal(t, "String", qualtype.Name(Literal(expr.StringLiteral)))
	require.True(t, Literal(expr.IntLiteral).Quals().IsEmpty())
}
