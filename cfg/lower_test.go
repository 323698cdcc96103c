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
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/qualcheck/expr"
	"go.uber.org/qualcheck/qualtype"
	"go.uber.org/qualcheck/symtab"
)

func nullLit() Node { return &Literal{Kind: expr.NullLiteral} }

func edgesTo(g *Graph, to int) []Edge {
	var out []Edge
	for _, b := range g.Blocks {
		for _, e := range b.Succs {
			if e.To == to {
				out = append(out, e)
			}
		}
	}
	return out
}

func TestLowerIfElse(t *testing.T) {
	t.Parallel()

	o := &symtab.Local{Name: "o", ID: 1, Type: &qualtype.Declared{Name: "Object"}, Kind: symtab.Parameter}
	test := &Equal{Left: &LocalRef{Local: o}, Right: nullLit(), Negated: true}
	g, err := Lower([]Stmt{
		If{
			Cond: Test{Node: test},
			Then: []Stmt{Do{Node: &Return{}}},
		},
		Do{Node: &LocalDecl{Local: &symtab.Local{Name: "x", ID: 2, Type: &qualtype.Primitive{Name: "int"}}}},
	})
	require.NoError(t, err)
	require.NoError(t, g.Validate())

	entry := g.Block(g.Entry)
	require.Equal(t, []Node{test}, entry.Nodes)
	require.Len(t, entry.Succs, 2)
	require.Equal(t, True, entry.Succs[0].Kind)
	require.Equal(t, False, entry.Succs[1].Kind)

	// The return and the fallthrough after the declaration both reach the exit.
	require.Len(t, edgesTo(g, g.Exit), 2)
	require.Len(t, g.Locals, 1)
	require.Equal(t, "x", g.Locals[0].Name)

	rpo := g.ReversePostorder()
	require.Equal(t, g.Entry, rpo[0])
	require.Contains(t, rpo, g.Exit)
	require.NotContains(t, rpo, g.ExceptionalExit)
}

func TestLowerShortCircuit(t *testing.T) {
	t.Parallel()

	a := &Literal{Kind: expr.BoolLiteral, Value: "true"}
	b := &Literal{Kind: expr.BoolLiteral, Value: "false"}
	g, err := Lower([]Stmt{ReturnIf{Cond: And{L: Test{Node: a}, R: NotCond{C: Test{Node: b}}}}})
	require.NoError(t, err)
	require.NoError(t, g.Validate())

	entry := g.Block(g.Entry)
	require.Equal(t, []Node{a}, entry.Nodes)
	mid := g.Block(entry.Succs[0].To)
	require.Equal(t, []Node{b}, mid.Nodes)
	// `!b`: the true edge of b leads to `return false`.
	returnFalse := g.Block(mid.Succs[0].To).Nodes[0].(*Return)
	require.Equal(t, "false", returnFalse.Value.(*Literal).Value)
	// `a` false also returns false.
	require.Equal(t, mid.Succs[0].To, entry.Succs[1].To)
}

func TestLowerLoop(t *testing.T) {
	t.Parallel()

	cond := &Literal{Kind: expr.BoolLiteral, Value: "true"}
	g, err := Lower([]Stmt{
		While{Label: "outer", Cond: Test{Node: cond}, Body: []Stmt{
			If{Cond: Test{Node: cond}, Then: []Stmt{Break{}}, Else: []Stmt{Continue{Label: "outer"}}},
		}},
	})
	require.NoError(t, err)
	require.NoError(t, g.Validate())

	_, err = Lower([]Stmt{Break{}})
	require.ErrorContains(t, err, "outside of a loop")
}

func TestLowerTryFinallyCompletions(t *testing.T) {
	t.Parallel()

	o := &symtab.Local{Name: "o", ID: 1, Type: &qualtype.Declared{Name: "Object"}, Kind: symtab.Parameter}
	test := &Equal{Left: &LocalRef{Local: o}, Right: nullLit(), Negated: true}
	inFinally := &Assign{Target: &LocalRef{Local: o}, Value: &LocalRef{Local: o}}
	g, err := Lower([]Stmt{
		Try{
			Body: []Stmt{
				If{Cond: Test{Node: test}, Then: []Stmt{Do{Node: &Return{}}}},
			},
			Finally: []Stmt{Do{Node: inFinally}},
		},
		Do{Node: &Return{}},
	})
	require.NoError(t, err)
	require.NoError(t, g.Validate())

	var finally *Block
	for _, b := range g.Blocks {
		if len(b.Nodes) > 0 && b.Nodes[0] == inFinally {
			finally = b
		}
	}
	require.NotNil(t, finally)

	completions := make(map[CompletionKind]bool)
	for _, e := range edgesTo(g, finally.ID) {
		completions[e.Completion.Kind] = true
	}
	require.Equal(t, map[CompletionKind]bool{Fallthrough: true, ReturnCompletion: true, ThrowCompletion: true}, completions)

	resumes := make(map[CompletionKind]int)
	for _, e := range finally.Succs {
		resumes[e.Resume.Kind] = e.To
	}
	require.Equal(t, g.Exit, resumes[ReturnCompletion])
	require.Equal(t, g.ExceptionalExit, resumes[ThrowCompletion])
	require.NotEqual(t, g.Exit, resumes[Fallthrough])

	tag, ok := Edge{Resume: Completion{Kind: ReturnCompletion}}.TargetTag(Completion{Kind: Fallthrough})
	require.False(t, ok)
	require.Equal(t, Completion{}, tag)
	tag, ok = Edge{}.TargetTag(Completion{Kind: ReturnCompletion})
	require.True(t, ok)
	require.Equal(t, Completion{Kind: ReturnCompletion}, tag)
}

func TestLowerCatch(t *testing.T) {
	t.Parallel()

	e := &symtab.Local{Name: "e", ID: 1, Type: &qualtype.Declared{Name: "Exception"}, Kind: symtab.CatchParameter}
	call := &MethodCall{Method: &symtab.Method{Name: "run", Owner: "Foo"}}
	g, err := Lower([]Stmt{
		Try{
			Body:    []Stmt{Do{Node: call}},
			Catches: []Catch{{Exception: "Exception", Param: e}},
		},
	})
	require.NoError(t, err)
	require.NoError(t, g.Validate())

	var handlerEdge *Edge
	for _, b := range g.Blocks {
		for i, edge := range b.Succs {
			if edge.Kind == Exceptional {
				require.Equal(t, []Node{call}, b.Nodes)
				handlerEdge = &b.Succs[i]
			}
		}
	}
	require.NotNil(t, handlerEdge)
	require.Equal(t, "Exception", handlerEdge.Exception)
	decl := g.Block(handlerEdge.To).Nodes[0].(*LocalDecl)
	require.Same(t, e, decl.Local)
	require.Equal(t, []*symtab.Local{e}, g.Locals)
}

func TestChildren(t *testing.T) {
	t.Parallel()

	recv := &ThisRef{Class: "Foo"}
	arg := nullLit()
	call := &MethodCall{Receiver: recv, Method: &symtab.Method{Name: "m"}, Args: []Node{arg}}
	require.Equal(t, []Node{recv, arg}, Children(call))

	var seen []string
	Inspect(&Not{Operand: call}, func(n Node) bool {
		seen = append(seen, n.String())
		return true
	})
	require.Equal(t, []string{"!this.m(null)", "this.m(null)", "this", "null"}, seen)
}
