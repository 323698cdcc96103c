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

package expr

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

type testScope struct {
	class   string
	static  bool
	params  []string
	locals  map[string]*LocalVar
	fields  map[string]map[string]FieldInfo
	methods map[string]map[string]MethodInfo
	classes map[string]string
	pkgs    map[string]bool
}

func (s *testScope) Class() string              { return s.class }
func (s *testScope) Static() bool               { return s.static }
func (s *testScope) NumParams() int             { return len(s.params) }
func (s *testScope) ParamType(index int) string { return s.params[index-1] }
func (s *testScope) Local(name string) (*LocalVar, bool) {
	l, ok := s.locals[name]
	return l, ok
}
func (s *testScope) Field(class, name string) (FieldInfo, bool) {
	f, ok := s.fields[class][name]
	return f, ok
}
func (s *testScope) Method(class, name string, _ int) (MethodInfo, bool) {
	m, ok := s.methods[class][name]
	return m, ok
}
func (s *testScope) ClassNamed(name string) (string, bool) {
	c, ok := s.classes[name]
	return c, ok
}
func (s *testScope) IsPackage(name string) bool { return s.pkgs[name] }

func newTestScope() *testScope {
	return &testScope{
		class:  "Foo",
		params: []string{"Bar", "int"},
		locals: map[string]*LocalVar{"loc": {Name: "loc", ID: 3, Type: "Bar"}},
		fields: map[string]map[string]FieldInfo{
			"Foo": {
				"f":    {Owner: "Foo", Type: "String"},
				"s":    {Owner: "Foo", Type: "String", Static: true},
				"arr":  {Owner: "Foo", Type: "String[]"},
				"map":  {Owner: "Foo", Type: "Map", Final: true},
				"self": {Owner: "Foo", Type: "Foo", Private: true},
			},
			"Bar":   {"x": {Owner: "Bar", Type: "String"}},
			"Other": {"secret": {Owner: "Other", Type: "String", Static: true, Private: true}},
			"Outer": {"g": {Owner: "Outer", Type: "String"}},
		},
		methods: map[string]map[string]MethodInfo{
			"Foo": {"isSet": {Owner: "Foo", Type: "boolean", Deterministic: true, SideEffectFree: true}},
			"Map": {
				"get":  {Owner: "Map", Type: "Object", Deterministic: true, SideEffectFree: true},
				"next": {Owner: "Map", Type: "Object"},
			},
		},
		classes: map[string]string{"Foo": "Foo", "Other": "Other", "Outer": "Outer", "java.util.Map": "Map", "Map": "Map"},
		pkgs:    map[string]bool{"java": true, "java.util": true},
	}
}

type ParserTestSuite struct {
	suite.Suite
	parser *Parser
	scope  *testScope
}

func (s *ParserTestSuite) SetupTest() {
	p, err := NewParser(16)
	s.Require().NoError(err)
	s.parser = p
	s.scope = newTestScope()
}

func (s *ParserTestSuite) parse(text string) Expr {
	e, err := s.parser.Parse(text, s.scope)
	s.Require().NoError(err, text)
	return e
}

func (s *ParserTestSuite) TestForms() {
	for text, key := range map[string]string{
		"this":                "this",
		"f":                   "this.f",
		"this.f":              "this.f",
		"#1.x":                "#1.x",
		"loc.x":               "loc@3.x",
		"arr[#2]":             "this.arr[#2]",
		"arr[0]":              "this.arr[0]",
		"map.get(#1)":         "this.map.get(#1)",
		"this.isSet()":        "this.isSet()",
		"isSet()":             "this.isSet()",
		"Outer.this.g":        "Outer.this.g",
		"Foo.this.f":          "this.f",
		`"key"`:               `"key"`,
		"null":                "null",
		"(f)":                 "this.f",
		"arr.length":          "this.arr.length",
		"self.self.f":         "this.self.self.f",
		"map.next()":          "this.map.next()",
		"#2":                  "#2",
		"this.map.get(\"a\")": `this.map.get("a")`,
	} {
		s.Equal(key, s.parse(text).Key(), text)
	}
}

func (s *ParserTestSuite) TestStaticFieldCanonicalization() {
	plain, viaThis, viaClass := s.parse("s"), s.parse("this.s"), s.parse("Foo.s")
	s.True(Equal(plain, viaThis))
	s.True(Equal(plain, viaClass))
	s.Equal("Foo.s", plain.String())

	s.scope.static = true
	static, err := s.parser.Parse("s", s.scope)
	s.Require().NoError(err)
	s.True(Equal(plain, static))
}

func (s *ParserTestSuite) TestErrors() {
	for text, key := range map[string]string{
		"this.":          "flowexpr.parse.error",
		"f(":             "flowexpr.parse.error",
		"nope":           "expression.unparsable",
		"this.nope":      "expression.unparsable",
		"Other.secret":   "flowexpr.parse.error",
		"java.util":      "flowexpr.parse.error",
		"java.util.Nope": "expression.unparsable",
		"#3":             "flowexpr.parse.index.too.big",
		"#0":             "flowexpr.parse.error",
		"f[0]":           "flowexpr.parse.error",
		"Foo":            "flowexpr.parse.error",
		"Foo.f":          "expression.unparsable",
	} {
		_, err := s.parser.Parse(text, s.scope)
		var pe *ParseError
		s.Require().ErrorAs(err, &pe, text)
		s.Equal(key, pe.DiagnosticKey(), text)
	}

	s.scope.static = true
	_, err := s.parser.Parse("this.f", s.scope)
	var pe *ParseError
	s.Require().ErrorAs(err, &pe)
	s.Equal(ErrStaticThis, pe.Kind)
}

func (s *ParserTestSuite) TestDeterministic() {
	_, err := s.parser.ParseDeterministic("map.get(#1)", s.scope)
	s.NoError(err)
	_, err = s.parser.ParseDeterministic("map.next()", s.scope)
	var pe *ParseError
	s.Require().ErrorAs(err, &pe)
	s.Equal(ErrNotDeterministic, pe.Kind)
}

func (s *ParserTestSuite) TestRoundTrip() {
	for _, text := range []string{
		"f", "this.s", "#1.x", "loc.x", "arr[#2]", "map.get(#1)", "Outer.this.g",
		`map.get("k")`, "arr[arr.length]", "this.isSet()", "null", "self.arr[0]",
	} {
		first := s.parse(text)
		second := s.parse(first.String())
		s.True(Equal(first, second), "%s printed as %s", text, first.String())
	}
}

func TestParserSuite(t *testing.T) {
	t.Parallel()
	suite.Run(t, new(ParserTestSuite))
}

func TestSubstitute(t *testing.T) {
	t.Parallel()

	p, err := NewParser(4)
	require.NoError(t, err)
	scope := newTestScope()
	e, err := p.Parse("map.get(#1.x)", scope)
	require.NoError(t, err)

	require.Same(t, e, Substitute(e, Binding{}), "identity binding must return the input")
	require.Same(t, e, Substitute(e, Binding{Params: []Expr{nil, nil}}))

	recv := &LocalVar{Name: "other", ID: 7, Type: "Foo"}
	arg := &LocalVar{Name: "b", ID: 8, Type: "Bar"}
	got := Substitute(e, Binding{This: recv, Params: []Expr{arg}})
	require.Equal(t, "other@7.map.get(b@8.x)", got.Key())
	require.Equal(t, "this.map.get(#1.x)", e.Key(), "substitution must not modify its input")

	// Static fields do not depend on the receiver.
	static, err := p.Parse("s", scope)
	require.NoError(t, err)
	require.Same(t, static, Substitute(static, Binding{This: recv}))
}

func TestSubstituteDoesNotAliasShadowedLocals(t *testing.T) {
	t.Parallel()

	// Two locals named `k` declared in non-overlapping scopes.
	first := &LocalVar{Name: "k", ID: 1, Type: "String"}
	second := &LocalVar{Name: "k", ID: 2, Type: "String"}
	replacement := &Literal{Kind: StringLiteral, Value: "v"}

	b := Binding{Locals: map[string]Expr{first.Key(): replacement}}
	require.Equal(t, replacement, Substitute(first, b))
	require.Same(t, Expr(second), Substitute(second, b))
	require.False(t, Equal(first, second))
	require.Equal(t, first.String(), second.String())
}

func TestPredicates(t *testing.T) {
	t.Parallel()

	this := &ThisRef{Class: "Foo"}
	final := &FieldAccess{Receiver: this, Name: "map", Owner: "Foo", Final: true}
	mutable := &FieldAccess{Receiver: this, Name: "f", Owner: "Foo"}
	call := &MethodCall{Receiver: final, Name: "get", Args: []Expr{mutable}, Deterministic: true}

	require.True(t, IsUnmodifiableByOtherCode(final))
	require.False(t, IsUnmodifiableByOtherCode(mutable))
	require.False(t, IsUnmodifiableByOtherCode(call))
	require.True(t, IsDeterministic(call))
	require.True(t, Contains(call, mutable))
	require.True(t, ContainsField(call, "Foo", "f"))
	require.False(t, ContainsField(call, "Bar", "f"))
	require.False(t, Representable(&FieldAccess{Receiver: &Unknown{Text: "new Foo()"}, Name: "f"}))
	require.False(t, Equal(&Unknown{Text: "x"}, &Unknown{Text: "x"}))

	var visited []string
	Walk(call, func(e Expr) bool {
		visited = append(visited, e.String())
		return true
	})
	require.Empty(t, cmp.Diff([]string{"this.map.get(this.f)", "this.map", "this", "this.f", "this"}, visited))
}
