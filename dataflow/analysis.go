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

// Package dataflow implements the forward flow-sensitive refinement of qualifiers over the CFG of
// a method body. Starting from the declared types of parameters and the receiver plus the
// method's preconditions, it iterates transfer functions over the blocks in reverse postorder
// until the stores reach a fixpoint, and records the value and the incoming store of every node
// for the checker.
package dataflow

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"go.uber.org/qualcheck/cfg"
	"go.uber.org/qualcheck/config"
	"go.uber.org/qualcheck/contracts"
	"go.uber.org/qualcheck/expr"
	"go.uber.org/qualcheck/factory"
	"go.uber.org/qualcheck/qualifier"
	"go.uber.org/qualcheck/qualtype"
	"go.uber.org/qualcheck/store"
	"go.uber.org/qualcheck/symtab"
	"golang.org/x/tools/container/intsets"
)

// ErrFixpointBound is returned when the analysis of a method does not converge within the bound
// derived from the size of its CFG, the height of the qualifier lattice and the number of facts.
var ErrFixpointBound = errors.New("fixpoint bound exceeded")

// Analyzer runs the analysis of method bodies. It holds only read-only shared state and may run
// several analyses concurrently.
type Analyzer struct {
	f    *factory.Factory
	ct   *contracts.Table
	conf *config.Config
	rel  *qualtype.Relation
}

// New returns an analyzer over the declarations of f and the contracts of ct.
func New(f *factory.Factory, ct *contracts.Table, conf *config.Config) *Analyzer {
	return &Analyzer{f: f, ct: ct, conf: conf, rel: conf.Relation(f.Hierarchies())}
}

// Call describes the signature of an invoked method or constructor as seen from one call site.
type Call struct {
	Method *symtab.Method
	// Binding maps the callee's signature to the call site.
	Binding expr.Binding
	// Params, Return and Receiver are the callee's declared types adapted to the call site, with
	// polymorphic qualifiers resolved.
	Params   []qualtype.Type
	Return   qualtype.Type
	Receiver qualtype.Type
	// ReceiverValue is the value of the receiver, explicit or implicit, at the call.
	ReceiverValue store.Value
}

// Eval is what the analysis knows at one node, joined over every way of reaching it.
type Eval struct {
	// Value is the abstract value the node evaluates to.
	Value store.Value
	// Expr is the flow expression the node denotes; Unknown if it has none.
	Expr expr.Expr
	// Before is the store after the node's operands were evaluated, before its own effect.
	Before *store.Store
	// Call is set for method invocations and object creations.
	Call *Call
}

// ReturnState is the state at one return statement.
type ReturnState struct {
	Node    *cfg.Return
	Before  *store.Store
	Outcome contracts.Outcome
}

// Result is the outcome of the analysis of one method body.
type Result struct {
	Method *symtab.Method
	Graph  *cfg.Graph
	// Exit is the store at the normal exit; nil if the method never returns normally.
	Exit *store.Store
	// Returns lists the state at every reachable return statement.
	Returns []ReturnState
	// Locals are the declared types of the locals of the body.
	Locals map[*symtab.Local]qualtype.Type
	// Problems are the ill-formed local declarations and type uses found in the body.
	Problems []factory.Problem
	// Iterations is the number of block visits until the fixpoint.
	Iterations int

	a     *run
	evals map[cfg.Node]*Eval
}

// Eval returns what is known at n; false if n is unreachable.
func (r *Result) Eval(n cfg.Node) (*Eval, bool) {
	e, ok := r.evals[n]
	return e, ok
}

// Reachable returns true if n is evaluated on some path from the entry.
func (r *Result) Reachable(n cfg.Node) bool {
	_, ok := r.evals[n]
	return ok
}

// ValuesAt returns the qualifiers of flow expressions in s, falling back to the declared types of
// expressions s knows nothing about.
func (r *Result) ValuesAt(s *store.Store) contracts.Values {
	if s == nil {
		return nil
	}
	return values{r: r.a, s: s}
}

// Value returns the qualifiers of e in s as the analysis would read them.
func (r *Result) Value(s *store.Store, e expr.Expr) store.Value {
	return r.a.read(s, e)
}

// run is the state of one analysis.
type run struct {
	*Analyzer
	m       *symtab.Method
	g       *cfg.Graph
	locals  map[*symtab.Local]qualtype.Type
	thisRef *expr.ThisRef
	// err is the first malformed-input error found by a transfer function.
	err error
	// rec is non-nil during the recording pass.
	rec *recorder
}

type recorder struct {
	evals    map[cfg.Node]*Eval
	returns  []ReturnState
	problems []factory.Problem
	seen     map[string]bool
}

// blockOut are the stores leaving a block.
type blockOut struct {
	normal     *store.Store
	then, els  *store.Store
	exceptions *store.Store
}

// Analyze runs the analysis of m's body g to a fixpoint. Errors are internal: a malformed CFG,
// a transfer function that does not converge, or the cancellation of ctx.
func (a *Analyzer) Analyze(ctx context.Context, m *symtab.Method, g *cfg.Graph) (*Result, error) {
	if err := g.Validate(); err != nil {
		return nil, fmt.Errorf("malformed cfg: %w", err)
	}
	r := &run{Analyzer: a, m: m, g: g, locals: make(map[*symtab.Local]qualtype.Type)}
	res := &Result{Method: m, Graph: g, Locals: r.locals, a: r}
	if !m.Static {
		r.thisRef = &expr.ThisRef{Class: m.Owner}
	}
	for _, l := range g.Locals {
		t, problems := a.f.Local(l, m, g.Locals)
		r.locals[l] = t
		res.Problems = append(res.Problems, problems...)
	}
	for i, p := range m.Params {
		r.locals[p] = a.f.BodyParam(m, i)
	}

	rpo := g.ReversePostorder()
	index := make([]int, len(g.Blocks))
	for i := range index {
		index[i] = -1
	}
	for i, id := range rpo {
		index[id] = i
	}

	inputs := make([]map[cfg.Completion]*store.Store, len(g.Blocks))
	inputs[g.Entry] = map[cfg.Completion]*store.Store{{}: r.entryStore()}
	var work intsets.Sparse
	work.Insert(index[g.Entry])

	height := a.f.Hierarchies().Height()
	maxFacts, maxTags := 0, 1
	for !work.IsEmpty() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		var i int
		work.TakeMin(&i)
		id := rpo[i]
		res.Iterations++
		bound := (len(rpo) + config.FixpointSlack) * (height + config.FixpointSlack) *
			(maxFacts + config.FixpointSlack) * maxTags
		if res.Iterations > bound {
			return nil, fmt.Errorf("%w: %d block visits in %s", ErrFixpointBound, res.Iterations, m)
		}

		for _, tag := range sortedTags(inputs[id]) {
			out := r.block(g.Block(id), inputs[id][tag].Copy())
			if r.err != nil {
				return nil, r.err
			}
			for _, e := range g.Block(id).Succs {
				to, ok := e.TargetTag(tag)
				if !ok {
					continue
				}
				s := out.along(e)
				if s == nil {
					continue
				}
				maxFacts = max(maxFacts, s.Len())
				if join(inputs, e.To, to, s) {
					work.Insert(index[e.To])
				}
				maxTags = max(maxTags, len(inputs[e.To]))
			}
		}
	}

	// Replay every reachable block once more on its final input to record what the checker needs.
	r.rec = &recorder{evals: make(map[cfg.Node]*Eval), seen: make(map[string]bool)}
	for _, id := range rpo {
		for _, tag := range sortedTags(inputs[id]) {
			r.block(g.Block(id), inputs[id][tag].Copy())
		}
	}
	if r.err != nil {
		return nil, r.err
	}
	res.evals = r.rec.evals
	res.Returns = r.rec.returns
	res.Problems = append(res.Problems, r.rec.problems...)
	for _, tag := range sortedTags(inputs[g.Exit]) {
		s := inputs[g.Exit][tag]
		if res.Exit == nil {
			res.Exit = s.Copy()
		} else {
			res.Exit = res.Exit.LeastUpperBound(s)
		}
	}
	return res, nil
}

// join merges s into the input of block to tagged tag and reports whether it changed.
func join(inputs []map[cfg.Completion]*store.Store, to int, tag cfg.Completion, s *store.Store) bool {
	if inputs[to] == nil {
		inputs[to] = make(map[cfg.Completion]*store.Store)
	}
	old, ok := inputs[to][tag]
	if !ok {
		inputs[to][tag] = s.Copy()
		return true
	}
	merged := old.LeastUpperBound(s)
	if merged.Equal(old) {
		return false
	}
	inputs[to][tag] = merged
	return true
}

func sortedTags(m map[cfg.Completion]*store.Store) []cfg.Completion {
	tags := make([]cfg.Completion, 0, len(m))
	for t := range m {
		tags = append(tags, t)
	}
	slices.SortFunc(tags, func(a, b cfg.Completion) int {
		if a.Kind != b.Kind {
			return int(a.Kind) - int(b.Kind)
		}
		switch {
		case a.Label < b.Label:
			return -1
		case a.Label > b.Label:
			return 1
		}
		return 0
	})
	return tags
}

// along returns the store that flows along e.
func (o *blockOut) along(e cfg.Edge) *store.Store {
	switch e.Kind {
	case cfg.True:
		if o.then != nil || o.els != nil {
			return o.then
		}
	case cfg.False:
		if o.then != nil || o.els != nil {
			return o.els
		}
	case cfg.Exceptional:
		if e.Resume == (cfg.Completion{}) {
			return o.exceptions
		}
	}
	return o.normal
}

// block applies the transfer functions of b's nodes to in.
func (r *run) block(b *cfg.Block, in *store.Store) *blockOut {
	out := &blockOut{}
	raises := slices.ContainsFunc(b.Succs, func(e cfg.Edge) bool {
		return e.Kind == cfg.Exceptional && e.Resume == (cfg.Completion{})
	})
	conditional := slices.ContainsFunc(b.Succs, func(e cfg.Edge) bool {
		return e.Kind == cfg.True || e.Kind == cfg.False
	})
	c := &cursor{s: in}
	if raises {
		c.exc = in.Copy()
	}
	for i, n := range b.Nodes {
		if i > 0 {
			c.raise()
		}
		_, sp := r.eval(n, c)
		if sp != nil && conditional && i == len(b.Nodes)-1 {
			out.then, out.els = sp.then, sp.els
			out.exceptions = c.exc
			return out
		}
		if sp != nil {
			c.s = sp.merge()
		}
	}
	out.exceptions = c.exc
	out.normal = c.s
	return out
}

// entryStore holds the declared qualifiers of the parameters and the receiver, refined by the
// method's preconditions.
func (r *run) entryStore() *store.Store {
	s := store.New(r.f.Hierarchies(), r.f.Expr)
	for _, p := range r.m.Params {
		s.Replace(symtab.LocalVar(p), store.Of(r.locals[p]))
	}
	if r.thisRef != nil {
		s.Replace(r.thisRef, store.Value{Quals: r.f.Receiver(r.m), Type: r.receiverType()})
	}
	b := factory.BodyBinding(r.m)
	for _, c := range r.ct.Of(r.m).Of(contracts.Precondition) {
		e, q := r.ct.Instantiate(c, b)
		r.refine(s, e, qualifier.Set{}.With(q))
	}
	return s
}

func (r *run) receiverType() qualtype.Type {
	return &qualtype.Declared{Name: r.m.Owner, Q: r.f.Receiver(r.m)}
}

func (r *run) problems(ps []factory.Problem) {
	if r.rec == nil {
		return
	}
	for _, p := range ps {
		key := fmt.Sprint(p.Pos, p.Kind, p.Args)
		if !r.rec.seen[key] {
			r.rec.seen[key] = true
			r.rec.problems = append(r.rec.problems, p)
		}
	}
}

// note records the evaluation of n, joining it with earlier evaluations on other paths.
func (r *run) note(n cfg.Node, ev Eval) {
	if r.rec == nil {
		return
	}
	old, ok := r.rec.evals[n]
	if !ok {
		r.rec.evals[n] = &ev
		return
	}
	hs := r.f.Hierarchies()
	old.Value.Quals = hs.LeastUpperBound(old.Value.Quals, ev.Value.Quals)
	if old.Before != nil && ev.Before != nil {
		old.Before = old.Before.LeastUpperBound(ev.Before)
	}
}

// snapshot copies the current store while recording.
func (r *run) snapshot(c *cursor) *store.Store {
	if r.rec == nil {
		return nil
	}
	return c.s.Copy()
}
