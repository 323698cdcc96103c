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
	"fmt"
	"go/token"
	"slices"

	"go.uber.org/qualcheck/expr"
	"go.uber.org/qualcheck/symtab"
)

// Stmt is a structured statement accepted by Lower.
type Stmt interface{ isStmt() }

// Do evaluates Node. Return and Throw nodes complete abruptly.
type Do struct{ Node Node }

// ReturnIf returns the boolean value of a short-circuit condition.
type ReturnIf struct {
	At   token.Pos
	Cond Cond
}

// If branches on Cond.
type If struct {
	Cond       Cond
	Then, Else []Stmt
}

// While loops while Cond holds.
type While struct {
	Label string
	Cond  Cond
	Body  []Stmt
}

// Break leaves the innermost loop, or the loop with Label.
type Break struct{ Label string }

// Continue starts the next iteration of the innermost loop, or the loop with Label.
type Continue struct{ Label string }

// Try protects Body with handlers and an optional Finally block.
type Try struct {
	Body    []Stmt
	Catches []Catch
	Finally []Stmt
}

// Catch is one exception handler.
type Catch struct {
	Exception string
	Param     *symtab.Local
	Body      []Stmt
}

func (Do) isStmt()       {}
func (ReturnIf) isStmt() {}
func (If) isStmt()       {}
func (While) isStmt()    {}
func (Break) isStmt()    {}
func (Continue) isStmt() {}
func (Try) isStmt()      {}

// Cond is a branch condition; conditional operators become control flow.
type Cond interface{ isCond() }

// Test branches on the boolean value of Node.
type Test struct{ Node Node }

// And is `L && R`.
type And struct{ L, R Cond }

// Or is `L || R`.
type Or struct{ L, R Cond }

// NotCond is `!C` on a condition.
type NotCond struct{ C Cond }

func (Test) isCond()    {}
func (And) isCond()     {}
func (Or) isCond()      {}
func (NotCond) isCond() {}

type handler struct {
	block     *Block
	exception string
}

type finallyCtx struct {
	entry   *Block
	pending []Completion
}

func (f *finallyCtx) note(c Completion) {
	if !slices.Contains(f.pending, c) {
		f.pending = append(f.pending, c)
	}
}

// tryCtx is the protection in effect for the code being lowered.
type tryCtx struct {
	parent   *tryCtx
	handlers []handler
	finally  *finallyCtx
}

type loopCtx struct {
	label        string
	header, exit *Block
	ctx          *tryCtx
}

type builder struct {
	g     *Graph
	cur   *Block
	ctx   *tryCtx
	loops []*loopCtx
	err   error
}

// Lower builds the CFG of a structured method body. Block 0 is the entry, block 1 the exit and
// block 2 the exceptional exit.
func Lower(body []Stmt) (*Graph, error) {
	b := &builder{g: &Graph{Entry: 0, Exit: 1, ExceptionalExit: 2}}
	entry := b.newBlock()
	b.newBlock()
	b.newBlock()
	b.cur = entry
	b.stmts(body)
	if b.cur != nil {
		b.edge(b.cur, Edge{To: b.g.Exit})
	}
	if b.err != nil {
		return nil, b.err
	}
	b.collectLocals()
	return b.g, nil
}

func (b *builder) newBlock() *Block {
	blk := &Block{ID: len(b.g.Blocks)}
	b.g.Blocks = append(b.g.Blocks, blk)
	return blk
}

func (b *builder) edge(from *Block, e Edge) {
	from.Succs = append(from.Succs, e)
}

// enter continues lowering in blk.
func (b *builder) enter(blk *Block) { b.cur = blk }

// ensure makes the current position reachable-or-not but always valid: code after an abrupt
// completion goes to a fresh block without predecessors.
func (b *builder) ensure() *Block {
	if b.cur == nil {
		b.cur = b.newBlock()
	}
	return b.cur
}

func (b *builder) protected() bool {
	for t := b.ctx; t != nil; t = t.parent {
		if len(t.handlers) > 0 || t.finally != nil {
			return true
		}
	}
	return false
}

func (b *builder) add(n Node) {
	blk := b.ensure()
	if len(blk.Nodes) == 0 && b.protected() {
		// Any node may raise an exception inside protected code.
		b.throwEdges(blk, Completion{}, false)
	}
	blk.Nodes = append(blk.Nodes, n)
}

func (b *builder) stmts(list []Stmt) {
	for _, s := range list {
		b.stmt(s)
	}
}

func (b *builder) stmt(s Stmt) {
	switch s := s.(type) {
	case Do:
		b.add(s.Node)
		switch s.Node.(type) {
		case *Return:
			b.route(b.cur, Completion{Kind: ReturnCompletion}, Completion{})
			b.cur = nil
		case *Throw:
			b.throwEdges(b.cur, Completion{}, true)
			b.cur = nil
		}
	case ReturnIf:
		thenB, elseB := b.newBlock(), b.newBlock()
		b.cond(s.Cond, thenB, elseB)
		for _, blk := range []*Block{thenB, elseB} {
			b.enter(blk)
			value := "true"
			if blk == elseB {
				value = "false"
			}
			b.add(&Return{At: s.At, Value: &Literal{At: s.At, Kind: expr.BoolLiteral, Value: value}})
			b.route(b.cur, Completion{Kind: ReturnCompletion}, Completion{})
		}
		b.cur = nil
	case If:
		thenB, elseB, join := b.newBlock(), b.newBlock(), b.newBlock()
		b.cond(s.Cond, thenB, elseB)
		reached := false
		for _, arm := range []struct {
			blk  *Block
			body []Stmt
		}{{thenB, s.Then}, {elseB, s.Else}} {
			b.enter(arm.blk)
			b.stmts(arm.body)
			if b.cur != nil {
				b.edge(b.cur, Edge{To: join.ID})
				reached = true
			}
		}
		b.cur = nil
		if reached {
			b.enter(join)
		}
	case While:
		header, body, exit := b.newBlock(), b.newBlock(), b.newBlock()
		b.edge(b.ensure(), Edge{To: header.ID})
		b.enter(header)
		b.cond(s.Cond, body, exit)
		b.loops = append(b.loops, &loopCtx{label: s.Label, header: header, exit: exit, ctx: b.ctx})
		b.enter(body)
		b.stmts(s.Body)
		if b.cur != nil {
			b.edge(b.cur, Edge{To: header.ID})
		}
		b.loops = b.loops[:len(b.loops)-1]
		b.enter(exit)
	case Break:
		b.route(b.ensure(), Completion{Kind: BreakCompletion, Label: s.Label}, Completion{})
		b.cur = nil
	case Continue:
		b.route(b.ensure(), Completion{Kind: ContinueCompletion, Label: s.Label}, Completion{})
		b.cur = nil
	case Try:
		b.try(s)
	default:
		b.fail(fmt.Errorf("unknown statement %T", s))
	}
}

func (b *builder) fail(err error) {
	if b.err == nil {
		b.err = err
	}
}

// cond lowers c so that control reaches thenB when it holds and elseB otherwise.
func (b *builder) cond(c Cond, thenB, elseB *Block) {
	switch c := c.(type) {
	case Test:
		b.add(c.Node)
		b.edge(b.cur, Edge{To: thenB.ID, Kind: True})
		b.edge(b.cur, Edge{To: elseB.ID, Kind: False})
		b.cur = nil
	case And:
		mid := b.newBlock()
		b.cond(c.L, mid, elseB)
		b.enter(mid)
		b.cond(c.R, thenB, elseB)
	case Or:
		mid := b.newBlock()
		b.cond(c.L, thenB, mid)
		b.enter(mid)
		b.cond(c.R, thenB, elseB)
	case NotCond:
		b.cond(c.C, elseB, thenB)
	default:
		b.fail(fmt.Errorf("unknown condition %T", c))
	}
}

func (b *builder) try(s Try) {
	t := &tryCtx{parent: b.ctx}
	for _, c := range s.Catches {
		t.handlers = append(t.handlers, handler{block: b.newBlock(), exception: c.Exception})
	}
	if s.Finally != nil {
		t.finally = &finallyCtx{entry: b.newBlock()}
	}
	after := b.newBlock()
	afterReached := false
	completeNormally := func() {
		if b.cur == nil {
			return
		}
		if t.finally != nil {
			ft := Completion{Kind: Fallthrough}
			t.finally.note(ft)
			b.edge(b.cur, Edge{To: t.finally.entry.ID, Completion: ft})
		} else {
			b.edge(b.cur, Edge{To: after.ID})
			afterReached = true
		}
		b.cur = nil
	}

	bodyStart := b.newBlock()
	b.edge(b.ensure(), Edge{To: bodyStart.ID})
	b.ctx = t
	b.enter(bodyStart)
	b.stmts(s.Body)
	completeNormally()

	for i, c := range s.Catches {
		b.ctx = &tryCtx{parent: t.parent, finally: t.finally}
		b.enter(t.handlers[i].block)
		if c.Param != nil {
			b.add(&LocalDecl{At: c.Param.Pos, Local: c.Param})
		}
		b.stmts(c.Body)
		completeNormally()
	}

	b.ctx = t.parent
	if t.finally != nil {
		b.enter(t.finally.entry)
		b.stmts(s.Finally)
		if end := b.cur; end != nil {
			for _, c := range t.finally.pending {
				if c.Kind == Fallthrough {
					b.edge(end, Edge{To: after.ID, Resume: c})
					afterReached = true
					continue
				}
				b.route(end, c, c)
			}
		}
	}
	b.cur = nil
	if afterReached {
		b.enter(after)
	}
}

// route adds the edge that takes completion c from block from towards its destination: the
// innermost finally block on the way, or the destination itself. resume is non-zero when from is
// the end of a finally block resuming c.
func (b *builder) route(from *Block, c Completion, resume Completion) {
	var loop *loopCtx
	var stop *tryCtx
	switch c.Kind {
	case BreakCompletion, ContinueCompletion:
		loop = b.loop(c.Label)
		if loop == nil {
			b.fail(fmt.Errorf("%s outside of a loop", c))
			return
		}
		stop = loop.ctx
	case ThrowCompletion:
		b.throwEdges(from, resume, true)
		return
	}
	for t := b.ctx; t != stop; t = t.parent {
		if t.finally != nil {
			t.finally.note(c)
			b.edge(from, Edge{To: t.finally.entry.ID, Resume: resume, Completion: c, Jump: true})
			return
		}
	}
	to := b.g.Exit
	switch c.Kind {
	case BreakCompletion:
		to = loop.exit.ID
	case ContinueCompletion:
		to = loop.header.ID
	}
	b.edge(from, Edge{To: to, Resume: resume, Jump: true})
}

// throwEdges adds exceptional edges from blk to the handlers of the innermost protected region
// and to the innermost finally block. Only explicit throws reach the exceptional exit.
func (b *builder) throwEdges(blk *Block, resume Completion, explicit bool) {
	kind := Exceptional
	throw := Completion{Kind: ThrowCompletion}
	caught := false
	for t := b.ctx; t != nil; t = t.parent {
		if !caught && len(t.handlers) > 0 {
			for _, h := range t.handlers {
				b.edge(blk, Edge{To: h.block.ID, Kind: kind, Exception: h.exception, Resume: resume, Jump: true})
			}
			caught = true
		}
		if t.finally != nil {
			t.finally.note(throw)
			b.edge(blk, Edge{To: t.finally.entry.ID, Kind: kind, Resume: resume, Completion: throw, Jump: true})
			return
		}
	}
	if explicit {
		b.edge(blk, Edge{To: b.g.ExceptionalExit, Kind: kind, Resume: resume, Jump: true})
	}
}

func (b *builder) loop(label string) *loopCtx {
	for i := len(b.loops) - 1; i >= 0; i-- {
		if label == "" || b.loops[i].label == label {
			return b.loops[i]
		}
	}
	return nil
}

func (b *builder) collectLocals() {
	seen := make(map[*symtab.Local]bool)
	for _, blk := range b.g.Blocks {
		for _, n := range blk.Nodes {
			Inspect(n, func(n Node) bool {
				var l *symtab.Local
				switch n := n.(type) {
				case *LocalDecl:
					l = n.Local
				case *InstanceOf:
					l = n.Binding
				}
				if l != nil && !seen[l] {
					seen[l] = true
					b.g.Locals = append(b.g.Locals, l)
				}
				return true
			})
		}
	}
	slices.SortStableFunc(b.g.Locals, func(x, y *symtab.Local) int { return x.ID - y.ID })
}
