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

// Package contracts implements method contracts: preconditions, postconditions and conditional
// postconditions over flow expressions, and the purity of methods. Contracts of every method are
// collected before any method is checked, so that call sites can rely on them; they are verified
// afterwards, while checking each method.
package contracts

import (
	"errors"
	"fmt"
	"go/token"
	"slices"
	"strings"

	"go.uber.org/qualcheck/diagnostic"
	"go.uber.org/qualcheck/expr"
	"go.uber.org/qualcheck/factory"
	"go.uber.org/qualcheck/qualifier"
	"go.uber.org/qualcheck/symtab"
)

// Kind classifies contracts.
type Kind uint8

const (
	// Precondition must hold at every call site.
	Precondition Kind = iota
	// Postcondition holds after every normal return.
	Postcondition
	// ConditionalPostcondition holds after every normal return of the given boolean result.
	ConditionalPostcondition
)

func (k Kind) String() string {
	switch k {
	case Postcondition:
		return "postcondition"
	case ConditionalPostcondition:
		return "conditional postcondition"
	}
	return "precondition"
}

// Contract is a single (expression, qualifier) requirement or guarantee of a method.
type Contract struct {
	Kind Kind
	// Annotation is the simple name of the annotation that declared the contract.
	Annotation string
	// Text is the expression as written.
	Text string
	// Expr is the expression in the viewpoint of the signature: `#N` and `this` refer to the
	// parameters and receiver.
	Expr expr.Expr
	// Qualifier is the required or ensured qualifier. Key-for qualifiers hold registered keys.
	Qualifier qualifier.Qualifier
	// Result is the boolean result guarding a conditional postcondition.
	Result bool
	Pos    token.Pos
}

// MethodContracts are the contracts and purity of one method.
type MethodContracts struct {
	Method    *symtab.Method
	Contracts []Contract
	// SideEffectFree and Deterministic are the declared purity; @Pure implies both.
	SideEffectFree bool
	Deterministic  bool
	// Problems are the unparsable contract expressions.
	Problems []factory.Problem
}

// Of returns the contracts of the given kind.
func (mc *MethodContracts) Of(kind Kind) []Contract {
	var out []Contract
	for _, c := range mc.Contracts {
		if c.Kind == kind {
			out = append(out, c)
		}
	}
	return out
}

// Table holds the contracts of every method of a unit. It is read-only after Collect.
type Table struct {
	f       *factory.Factory
	methods map[*symtab.Method]*MethodContracts
}

// Collect reads the contract annotations of every method of the factory's table without
// verifying them.
func Collect(f *factory.Factory) *Table {
	t := &Table{f: f, methods: make(map[*symtab.Method]*MethodContracts)}
	for _, c := range f.Table().Classes() {
		for _, m := range c.Methods {
			t.methods[m] = t.collect(m)
		}
	}
	return t
}

// Of returns the contracts of m.
func (t *Table) Of(m *symtab.Method) *MethodContracts {
	if mc, ok := t.methods[m]; ok {
		return mc
	}
	return t.collect(m)
}

// Problems returns the contract problems of every method, ordered by class and method.
func (t *Table) Problems() []factory.Problem {
	var out []factory.Problem
	for _, c := range t.f.Table().Classes() {
		for _, m := range c.Methods {
			out = append(out, t.methods[m].Problems...)
		}
	}
	return out
}

func (t *Table) collect(m *symtab.Method) *MethodContracts {
	mc := &MethodContracts{Method: m}
	mc.SideEffectFree, mc.Deterministic = m.Purity()
	scope := t.f.Table().SignatureScope(m)
	nonNull := qualifier.New(qualifier.NonNull)

	for _, a := range m.Annotations {
		name := a.SimpleName()
		var (
			kind  Kind
			q     qualifier.Qualifier
			valid = true
		)
		switch name {
		case "RequiresNonNull":
			kind, q = Precondition, nonNull
		case "EnsuresNonNull":
			kind, q = Postcondition, nonNull
		case "EnsuresNonNullIf":
			kind, q = ConditionalPostcondition, nonNull
		case "RequiresQualifier", "EnsuresQualifier", "EnsuresQualifierIf":
			kind = map[string]Kind{
				"RequiresQualifier":  Precondition,
				"EnsuresQualifier":   Postcondition,
				"EnsuresQualifierIf": ConditionalPostcondition,
			}[name]
			q, valid = t.qualifierElement(a)
		case "EnsuresKeyFor", "EnsuresKeyForIf":
			kind = Postcondition
			if name == "EnsuresKeyForIf" {
				kind = ConditionalPostcondition
			}
			var keys []string
			for _, text := range a.Value("map") {
				mapExpr, err := t.f.Parser().ParseDeterministic(text, scope)
				if err != nil {
					mc.Problems = append(mc.Problems, parseProblem(m, text, err))
					valid = false
					continue
				}
				keys = append(keys, t.f.Register(mapExpr))
			}
			q = qualifier.New(qualifier.KeyForMaps, keys...)
		default:
			continue
		}
		if !valid {
			continue
		}

		result := true
		if r := a.Value("result"); len(r) > 0 {
			result = !strings.EqualFold(strings.TrimSpace(r[0]), "false")
		}
		for _, text := range a.Value("expression") {
			e, err := t.f.Parser().Parse(text, scope)
			if err != nil {
				mc.Problems = append(mc.Problems, parseProblem(m, text, err))
				continue
			}
			mc.Contracts = append(mc.Contracts, Contract{
				Kind:       kind,
				Annotation: name,
				Text:       text,
				Expr:       e,
				Qualifier:  q,
				Result:     result,
				Pos:        m.Pos,
			})
		}
	}
	return mc
}

// qualifierElement resolves the `qualifier` element of the generic contract annotations.
func (t *Table) qualifierElement(a symtab.Annotation) (qualifier.Qualifier, bool) {
	names := a.Value("qualifier")
	if len(names) == 0 {
		return qualifier.Qualifier{}, false
	}
	return t.f.Hierarchies().FromAnnotation(names[0], a.Value("map"))
}

func parseProblem(m *symtab.Method, text string, err error) factory.Problem {
	kind, detail := diagnostic.FlowExprParseError, err.Error()
	var pe *expr.ParseError
	if errors.As(err, &pe) {
		kind, detail = diagnostic.Kind(pe.DiagnosticKey()), pe.Detail
	}
	return factory.Problem{Pos: m.Pos, Kind: kind, Args: []string{text, detail}, Decl: m}
}

// Instantiate returns the contract's expression and qualifier under the binding, e.g. at a call
// site or within the method's body.
func (t *Table) Instantiate(c Contract, b expr.Binding) (expr.Expr, qualifier.Qualifier) {
	e := expr.Substitute(c.Expr, b)
	var s qualifier.Set
	q := t.f.AdaptQuals(s.With(c.Qualifier), b).Get(c.Qualifier.Hierarchy())
	return e, q
}

// Describe renders a contract for messages, e.g. "`this.f` is @NonNull when returning true".
func (t *Table) Describe(c Contract) string {
	s := fmt.Sprintf("`%s` is %s", c.Expr, t.f.DisplayQualifier(c.Qualifier))
	if c.Kind == ConditionalPostcondition {
		s += fmt.Sprintf(" when returning %t", c.Result)
	}
	return s
}

// Values provides the qualifiers of flow expressions at a program point.
type Values interface {
	// Value returns the current qualifiers of e, or false if nothing is known about e.
	Value(e expr.Expr) (qualifier.Set, bool)
}

// Failure is a contract that does not hold.
type Failure struct {
	Contract Contract
	// Expr and Qualifier are the instantiated contract.
	Expr      expr.Expr
	Qualifier qualifier.Qualifier
	// Pos is the program point the contract was checked at, if any.
	Pos token.Pos
}

func (t *Table) holds(at Values, e expr.Expr, q qualifier.Qualifier) bool {
	h := t.f.Hierarchies().Get(q.Hierarchy())
	if q.Equal(h.Top()) {
		return true
	}
	have, ok := at.Value(e)
	if !ok || !have.Get(q.Hierarchy()).IsSet() {
		return false
	}
	return h.IsSubtype(have.Get(q.Hierarchy()), q)
}

// CheckPrecondition checks the preconditions of mc at a call site bound by b.
func (t *Table) CheckPrecondition(mc *MethodContracts, b expr.Binding, at Values, pos token.Pos) []Failure {
	var failures []Failure
	for _, c := range mc.Of(Precondition) {
		e, q := t.Instantiate(c, b)
		if !t.holds(at, e, q) {
			failures = append(failures, Failure{Contract: c, Expr: e, Qualifier: q, Pos: pos})
		}
	}
	return failures
}

// CheckPostcondition checks the postconditions of mc against the store at the method's normal
// exit. A nil exit means the method never returns normally, which satisfies every postcondition.
func (t *Table) CheckPostcondition(mc *MethodContracts, exit Values) []Failure {
	if exit == nil {
		return nil
	}
	b := factory.BodyBinding(mc.Method)
	var failures []Failure
	for _, c := range mc.Of(Postcondition) {
		e, q := t.Instantiate(c, b)
		if !t.holds(exit, e, q) {
			failures = append(failures, Failure{Contract: c, Expr: e, Qualifier: q, Pos: mc.Method.Pos})
		}
	}
	return failures
}

// Outcome is the state at one return statement of a boolean method: Then holds where the
// returned value is true and Else where it is false. A nil side cannot be reached.
type Outcome struct {
	Pos        token.Pos
	Then, Else Values
}

// CheckConditionalPostcondition checks the conditional postconditions of mc at every return
// statement.
func (t *Table) CheckConditionalPostcondition(mc *MethodContracts, outcomes []Outcome) []Failure {
	b := factory.BodyBinding(mc.Method)
	var failures []Failure
	for _, c := range mc.Of(ConditionalPostcondition) {
		e, q := t.Instantiate(c, b)
		for _, o := range outcomes {
			at := o.Else
			if c.Result {
				at = o.Then
			}
			if at != nil && !t.holds(at, e, q) {
				failures = append(failures, Failure{Contract: c, Expr: e, Qualifier: q, Pos: o.Pos})
			}
		}
	}
	return failures
}

// normalized returns the key of the contract's expression with parameters referenced by name
// rewritten to `#N`, so that contracts of different methods can be compared.
func normalized(m *symtab.Method, e expr.Expr) string {
	b := expr.Binding{Locals: make(map[string]expr.Expr, len(m.Params))}
	for i, p := range m.Params {
		b.Locals[symtab.LocalVar(p).Key()] = &expr.Param{Index: i + 1, Type: symtab.LocalVar(p).Type}
	}
	return expr.Substitute(e, b).Key()
}

// Violation is a contract of an overriding or overridden method that breaks behavioral
// subtyping.
type Violation struct {
	Kind     diagnostic.Kind
	Contract Contract
}

// CheckOverride checks that sub, which overrides super, only weakens preconditions and only
// strengthens postconditions and conditional postconditions.
func (t *Table) CheckOverride(sub, super *MethodContracts) []Violation {
	hs := t.f.Hierarchies()
	implies := func(strong, weak Contract, strongM, weakM *symtab.Method) bool {
		if strong.Qualifier.Hierarchy() != weak.Qualifier.Hierarchy() {
			return false
		}
		if normalized(strongM, strong.Expr) != normalized(weakM, weak.Expr) {
			return false
		}
		// Key-for maps are compared in the signature viewpoint; normalize them the same way.
		sq, wq := t.normalizedQualifier(strongM, strong.Qualifier), t.normalizedQualifier(weakM, weak.Qualifier)
		return hs.Get(sq.Hierarchy()).IsSubtype(sq, wq)
	}

	var violations []Violation
	// Every precondition of sub must be guaranteed by a precondition of super.
	for _, c := range sub.Of(Precondition) {
		if !slices.ContainsFunc(super.Of(Precondition), func(sc Contract) bool {
			return implies(sc, c, super.Method, sub.Method)
		}) {
			violations = append(violations, Violation{Kind: diagnostic.PreconditionOverrideInvalid, Contract: c})
		}
	}
	// Every postcondition of super must be guaranteed by a postcondition of sub.
	for _, c := range super.Of(Postcondition) {
		if !slices.ContainsFunc(sub.Of(Postcondition), func(sc Contract) bool {
			return implies(sc, c, sub.Method, super.Method)
		}) {
			violations = append(violations, Violation{Kind: diagnostic.PostconditionOverrideInvalid, Contract: c})
		}
	}
	// Every conditional postcondition of super must be guaranteed by sub, conditionally on the
	// same result or unconditionally.
	for _, c := range super.Of(ConditionalPostcondition) {
		if !slices.ContainsFunc(sub.Contracts, func(sc Contract) bool {
			switch sc.Kind {
			case Postcondition:
				return implies(sc, c, sub.Method, super.Method)
			case ConditionalPostcondition:
				return sc.Result == c.Result && implies(sc, c, sub.Method, super.Method)
			}
			return false
		}) {
			violations = append(violations, Violation{Kind: diagnostic.ConditionalPostconditionOverrideInvalid, Contract: c})
		}
	}
	return violations
}

func (t *Table) normalizedQualifier(m *symtab.Method, q qualifier.Qualifier) qualifier.Qualifier {
	if q.Kind != qualifier.KeyForMaps {
		return q
	}
	keys := make([]string, len(q.Args))
	for i, k := range q.Args {
		keys[i] = k
		if e, ok := t.f.Expr(k); ok {
			keys[i] = normalized(m, e)
		}
	}
	return qualifier.New(qualifier.KeyForMaps, keys...)
}

// CheckPurityOverride returns the purity properties that super declares but sub, which
// overrides it, drops.
func CheckPurityOverride(sub, super *MethodContracts) []string {
	var dropped []string
	if super.SideEffectFree && !sub.SideEffectFree {
		dropped = append(dropped, "@SideEffectFree")
	}
	if super.Deterministic && !sub.Deterministic {
		dropped = append(dropped, "@Deterministic")
	}
	return dropped
}
