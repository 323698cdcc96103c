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

// Package checker coordinates the entire workflow of checking one compilation unit: it applies the
// stub overlay, builds the declared types and the contract table, checks declarations and
// overrides, and then runs the dataflow analysis and the visitor over every method body in
// parallel, collecting all diagnostics in one engine.
package checker

import (
	"cmp"
	"context"
	"fmt"
	"go/token"
	"slices"
	"sync"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/qualcheck/cfg"
	"go.uber.org/qualcheck/config"
	"go.uber.org/qualcheck/contracts"
	"go.uber.org/qualcheck/dataflow"
	"go.uber.org/qualcheck/diagnostic"
	"go.uber.org/qualcheck/expr"
	"go.uber.org/qualcheck/factory"
	"go.uber.org/qualcheck/qualifier"
	"go.uber.org/qualcheck/qualtype"
	"go.uber.org/qualcheck/stubs"
	"go.uber.org/qualcheck/symtab"
	"go.uber.org/qualcheck/util/analysishelper"
	"golang.org/x/sync/errgroup"
)

// Unit is one compilation unit handed over by the host front end.
type Unit struct {
	Fset *token.FileSet
	// Table holds the classes of the unit and the library classes they reference. Library
	// declarations are modified in place by the stub overlay.
	Table *symtab.Table
	// Bodies are the CFGs of the method bodies to check. Methods without a body are only used
	// for their declarations.
	Bodies map[*symtab.Method]*cfg.Graph
	// Overlay is merged over the default stub overlay; it may be nil.
	Overlay *stubs.Overlay
}

// Checker checks compilation units. It is safe for concurrent use.
type Checker struct {
	conf *config.Config
	hs   *qualifier.Hierarchies
}

// New returns a checker for the given hierarchies; a nil hs selects qualifier.Default().
func New(conf *config.Config, hs *qualifier.Hierarchies) *Checker {
	if conf == nil {
		conf = config.New()
	}
	if hs == nil {
		hs = qualifier.Default()
	}
	return &Checker{conf: conf, hs: hs}
}

// unit is the state shared by the phases of one Check call. Everything but the engine is
// read-only once the declarations are built.
type unit struct {
	*Checker
	u      *Unit
	f      *factory.Factory
	ct     *contracts.Table
	rel    *qualtype.Relation
	engine *diagnostic.Engine
	// suppressed counts the diagnostics dropped by @SuppressWarnings.
	mu         sync.Mutex
	suppressed int
}

// Check checks u and returns its diagnostics sorted by position.
//
// It first checks every declaration in scope: ill-formed qualifiers and unparsable contracts
// found while building the declared types, then overriding methods against the methods they
// override (types, contracts and purity). It then analyzes every method body in scope, at most
// conf.Parallelism at a time. A method whose analysis fails (a panic, a malformed CFG or a
// fixpoint that cannot be reached) contributes an internal error and no diagnostics; the other
// methods are still checked. The returned error combines all internal errors, and the diagnostics
// of the successful methods are returned along with it.
func (c *Checker) Check(ctx context.Context, u *Unit) ([]diagnostic.Diagnostic, error) {
	start := time.Now()
	overlay := stubs.Default().Merge(u.Overlay)
	stubbed := overlay.Apply(u.Table)

	parser, err := expr.NewParser(c.conf.ExprCacheSize)
	if err != nil {
		return nil, fmt.Errorf("flow expression parser: %w", err)
	}
	f := factory.New(u.Table, c.hs, parser)
	st := &unit{
		Checker: c,
		u:       u,
		f:       f,
		ct:      contracts.Collect(f),
		rel:     c.conf.Relation(c.hs),
		engine:  diagnostic.NewEngine(u.Fset),
	}

	st.checkDeclarations()
	st.checkOverrides()
	errs := st.checkBodies(ctx)

	diags := st.engine.Diagnostics()
	c.conf.Logger.Info().
		Int("classes", len(u.Table.Classes())).
		Int("bodies", len(u.Bodies)).
		Int("stubbed", stubbed).
		Int("diagnostics", len(diags)).
		Int("suppressed", st.suppressed).
		Int("errors", len(multierr.Errors(errs))).
		Dur("elapsed", time.Since(start)).
		Msg("checked unit")
	return diags, errs
}

// Render formats d for display, with colors if the configuration asks for them.
func (c *Checker) Render(d diagnostic.Diagnostic) string {
	if c.conf.PrettyPrint {
		return diagnostic.PrettyPrint(d)
	}
	return d.String()
}

// methodsToCheck returns the methods with a body whose class is in scope, in declaration order.
func (st *unit) methodsToCheck() []*symtab.Method {
	var methods []*symtab.Method
	for _, class := range st.u.Table.Classes() {
		if !st.conf.IsClassInScope(class.Name) {
			continue
		}
		for _, m := range class.Methods {
			if _, ok := st.u.Bodies[m]; ok {
				methods = append(methods, m)
			}
		}
	}
	return methods
}

// checkBodies analyzes and visits every method body in scope.
func (st *unit) checkBodies(ctx context.Context) error {
	methods := st.methodsToCheck()
	an := dataflow.New(st.f, st.ct, st.conf)

	var (
		mu   sync.Mutex
		errs []error
	)
	g := new(errgroup.Group)
	g.SetLimit(st.conf.Parallelism)
	for _, m := range methods {
		g.Go(func() error {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			r := analysishelper.Run(m.String(), func() (*dataflow.Result, error) {
				res, err := an.Analyze(ctx, m, st.u.Bodies[m])
				if err != nil {
					return nil, err
				}
				st.visit(res)
				return res, nil
			})
			if r.Err != nil {
				st.conf.Logger.Error().Err(r.Err).Str("method", m.String()).Msg("analysis failed")
				mu.Lock()
				errs = append(errs, r.Err)
				mu.Unlock()
				return nil
			}
			st.conf.Logger.Debug().
				Str("method", m.String()).
				Int("blocks", len(r.Res.Graph.Blocks)).
				Int("iterations", r.Res.Iterations).
				Msg("analyzed method")
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		errs = append(errs, err)
	}

	// Goroutines finish in any order; keep the combined error stable.
	slices.SortFunc(errs, func(a, b error) int { return cmp.Compare(a.Error(), b.Error()) })
	return multierr.Combine(errs...)
}
