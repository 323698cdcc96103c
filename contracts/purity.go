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

package contracts

import (
	"go.uber.org/qualcheck/cfg"
	"go.uber.org/qualcheck/diagnostic"
	"go.uber.org/qualcheck/factory"
)

// VerifyPurity checks the body of a method declared side-effect-free or deterministic. Calls are
// judged by the declared purity of the callee. Constructors may initialize their own receiver.
func (t *Table) VerifyPurity(mc *MethodContracts, g *cfg.Graph) []factory.Problem {
	if !mc.SideEffectFree && !mc.Deterministic {
		return nil
	}
	m := mc.Method
	var problems []factory.Problem
	report := func(n cfg.Node, kind diagnostic.Kind, what string) {
		problems = append(problems, factory.Problem{Pos: n.Pos(), Kind: kind, Args: []string{m.String(), what}, Decl: m})
	}
	for _, b := range g.Blocks {
		for _, root := range b.Nodes {
			cfg.Inspect(root, func(n cfg.Node) bool {
				switch n := n.(type) {
				case *cfg.Assign:
					fa, ok := n.Target.(*cfg.FieldAccess)
					if !ok || !mc.SideEffectFree {
						break
					}
					if _, this := fa.Receiver.(*cfg.ThisRef); m.Constructor && (fa.Receiver == nil || this) {
						break
					}
					report(n, diagnostic.PuritySideEffectFreeAssignField, fa.Field.Signature())
				case *cfg.MethodCall:
					callee := t.Of(n.Method)
					if mc.SideEffectFree && !callee.SideEffectFree {
						report(n, diagnostic.PuritySideEffectFreeCall, n.Method.String())
					}
					if mc.Deterministic && !callee.Deterministic {
						report(n, diagnostic.PurityDeterministicCall, n.Method.String())
					}
				case *cfg.New:
					if mc.Deterministic {
						report(n, diagnostic.PurityDeterministicObjectCreation, n.String())
					}
					if mc.SideEffectFree && n.Constructor != nil && !t.Of(n.Constructor).SideEffectFree {
						report(n, diagnostic.PuritySideEffectFreeCall, n.Constructor.String())
					}
				}
				return true
			})
		}
	}
	return problems
}
