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

// Package cfg models control-flow graphs of method bodies: basic blocks of typed expression
// trees connected by edges tagged normal, true, false or exceptional, with completion tags that
// keep the paths through finally blocks apart.
package cfg

import (
	"fmt"
	"strconv"

	"go.uber.org/qualcheck/symtab"
)

// EdgeKind tags an edge.
type EdgeKind uint8

const (
	// Normal edges carry the store after the block.
	Normal EdgeKind = iota
	// True edges carry the then-store of the block's final condition.
	True
	// False edges carry the else-store of the block's final condition.
	False
	// Exceptional edges carry the join of the stores at every point of the block where an
	// exception may be raised.
	Exceptional
)

func (k EdgeKind) String() string {
	switch k {
	case True:
		return "true"
	case False:
		return "false"
	case Exceptional:
		return "exceptional"
	}
	return "normal"
}

// CompletionKind is the way a statement completes.
type CompletionKind uint8

const (
	// None marks stores that are not inside a finally block.
	None CompletionKind = iota
	Fallthrough
	ReturnCompletion
	BreakCompletion
	ContinueCompletion
	ThrowCompletion
)

// Completion tags the stores flowing through finally blocks with the reason the protected code
// completed, so that code after the finally block only sees the stores of the completion it
// resumes.
type Completion struct {
	Kind  CompletionKind
	Label string
}

func (c Completion) String() string {
	name := [...]string{"none", "fallthrough", "return", "break", "continue", "throw"}[c.Kind]
	if c.Label != "" {
		return name + " " + c.Label
	}
	return name
}

// Edge connects two blocks.
type Edge struct {
	To   int
	Kind EdgeKind
	// Exception is the caught exception type of exceptional edges into handlers.
	Exception string
	// Resume restricts the edge to stores tagged with this completion (edges leaving a finally
	// block). The zero value lets every store pass.
	Resume Completion
	// Completion is the tag the stores carry at the target: non-zero for edges entering a finally
	// block.
	Completion Completion
	// Jump marks edges of return, break, continue and throw statements. Jumps and resumed edges
	// clear the tag unless Completion is set; other edges keep the tag of the source.
	Jump bool
}

// TargetTag returns the completion tag that a store tagged src carries after following e, and
// false if the store does not follow e at all.
func (e Edge) TargetTag(src Completion) (Completion, bool) {
	if e.Resume != (Completion{}) && e.Resume != src {
		return Completion{}, false
	}
	switch {
	case e.Completion != (Completion{}):
		return e.Completion, true
	case e.Jump || e.Resume != (Completion{}):
		return Completion{}, true
	}
	return src, true
}

// Block is a basic block.
type Block struct {
	ID    int
	Nodes []Node
	Succs []Edge
}

// Graph is the CFG of one method body.
type Graph struct {
	Entry           int
	Exit            int
	ExceptionalExit int
	Blocks          []*Block
	// Locals are all locals declared in the body, in declaration order.
	Locals []*symtab.Local
}

// Block returns the block with the given ID.
func (g *Graph) Block(id int) *Block { return g.Blocks[id] }

// Validate checks that block IDs are their indices and that edges stay within the graph.
func (g *Graph) Validate() error {
	if len(g.Blocks) == 0 {
		return fmt.Errorf("empty graph")
	}
	for i, b := range g.Blocks {
		if b == nil || b.ID != i {
			return fmt.Errorf("block %d has id %s", i, blockID(b))
		}
		for _, e := range b.Succs {
			if e.To < 0 || e.To >= len(g.Blocks) {
				return fmt.Errorf("block %d has an edge to unknown block %d", i, e.To)
			}
			if (e.Kind == True || e.Kind == False) && len(b.Nodes) == 0 {
				return fmt.Errorf("block %d has a %s edge but no condition", i, e.Kind)
			}
		}
	}
	for _, id := range []int{g.Entry, g.Exit, g.ExceptionalExit} {
		if id < 0 || id >= len(g.Blocks) {
			return fmt.Errorf("special block %d out of range", id)
		}
	}
	return nil
}

func blockID(b *Block) string {
	if b == nil {
		return "<nil>"
	}
	return strconv.Itoa(b.ID)
}

// ReversePostorder returns the IDs of the blocks reachable from the entry in reverse postorder.
func (g *Graph) ReversePostorder() []int {
	visited := make([]bool, len(g.Blocks))
	post := make([]int, 0, len(g.Blocks))
	// Iterative DFS; method bodies can be long.
	type frame struct{ id, next int }
	stack := []frame{{id: g.Entry}}
	visited[g.Entry] = true
	for len(stack) > 0 {
		top := &stack[len(stack)-1]
		succs := g.Blocks[top.id].Succs
		if top.next < len(succs) {
			to := succs[top.next].To
			top.next++
			if !visited[to] {
				visited[to] = true
				stack = append(stack, frame{id: to})
			}
			continue
		}
		post = append(post, top.id)
		stack = stack[:len(stack)-1]
	}
	for i, j := 0, len(post)-1; i < j; i, j = i+1, j-1 {
		post[i], post[j] = post[j], post[i]
	}
	return post
}
