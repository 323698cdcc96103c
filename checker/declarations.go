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

package checker

import (
	"strings"

	"go.uber.org/qualcheck/contracts"
	"go.uber.org/qualcheck/diagnostic"
	"go.uber.org/qualcheck/factory"
	"go.uber.org/qualcheck/qualifier"
	"go.uber.org/qualcheck/qualtype"
	"go.uber.org/qualcheck/symtab"
)

const _suppressWarnings = "SuppressWarnings"

// classOf returns the class a declaration belongs to.
func (st *unit) classOf(decl any) (*symtab.Class, bool) {
	switch d := decl.(type) {
	case *symtab.Class:
		return d, true
	case *symtab.Method:
		return st.u.Table.Class(d.Owner)
	case *symtab.Field:
		return st.u.Table.Class(d.Owner)
	}
	return nil, false
}

// checked returns true if diagnostics on decl are reported: its class is in scope and it is not
// a library declaration.
func (st *unit) checked(decl any) bool {
	class, ok := st.classOf(decl)
	if !ok || class.Library || !st.conf.IsClassInScope(class.Name) {
		return false
	}
	switch d := decl.(type) {
	case *symtab.Method:
		return !d.Library
	}
	return true
}

// suppressions collects the @SuppressWarnings values on decl and its enclosing classes.
func (st *unit) suppressions(decl any) diagnostic.Suppressions {
	var s diagnostic.Suppressions
	add := func(annos []symtab.Annotation) {
		if a, ok := symtab.FindAnnotation(annos, _suppressWarnings); ok {
			s = append(s, a.Value("value")...)
		}
	}
	var class string
	switch d := decl.(type) {
	case *symtab.Method:
		add(d.Annotations)
		class = d.Owner
	case *symtab.Field:
		add(d.Annotations)
		class = d.Owner
	case *symtab.Class:
		class = d.Name
	}
	for seen := make(map[string]bool); class != "" && !seen[class]; {
		seen[class] = true
		c, ok := st.u.Table.Class(class)
		if !ok {
			break
		}
		add(c.Annotations)
		class = c.Outer
	}
	return s
}

// report records d found on decl unless a @SuppressWarnings in scope suppresses it.
func (st *unit) report(decl any, d diagnostic.Diagnostic) {
	if st.suppressions(decl).Suppresses(d) {
		st.mu.Lock()
		st.suppressed++
		st.mu.Unlock()
		return
	}
	st.engine.Add(d)
}

func (st *unit) reportProblems(problems []factory.Problem) {
	for _, p := range problems {
		if st.checked(p.Decl) {
			st.report(p.Decl, diagnostic.New(p.Pos, p.Kind, p.Args...))
		}
	}
}

// checkDeclarations reports the problems found while building the declared types and collecting
// the contracts, and the classes whose NonNull fields no constructor can initialize.
func (st *unit) checkDeclarations() {
	st.reportProblems(st.f.Problems())
	st.reportProblems(st.ct.Problems())

	for _, class := range st.u.Table.Classes() {
		if !st.checked(class) || len(class.Constructors()) > 0 {
			continue
		}
		// The implicit default constructor initializes nothing.
		if missing := st.uninitialized(class, func(*symtab.Field) bool { return false }); len(missing) > 0 {
			st.report(class, diagnostic.New(class.Pos, diagnostic.FieldsUninitialized,
				class.Name+".<init>", strings.Join(missing, ", ")))
		}
	}
}

// uninitialized returns the names of the NonNull instance fields of class without initializer
// for which initialized returns false.
func (st *unit) uninitialized(class *symtab.Class, initialized func(*symtab.Field) bool) []string {
	var missing []string
	for _, fd := range class.Fields {
		if fd.Static || fd.Initialized || !qualtype.IsReference(fd.Type) {
			continue
		}
		if st.f.Field(fd).Quals().Get(qualifier.Nullness).Kind != qualifier.NonNull {
			continue
		}
		if !initialized(fd) {
			missing = append(missing, fd.Name)
		}
	}
	return missing
}

// checkOverrides checks every overriding method in scope against each method it overrides:
// return types are covariant, parameter types contravariant, preconditions may only be weakened,
// postconditions only strengthened, and purity may not be dropped.
func (st *unit) checkOverrides() {
	for _, class := range st.u.Table.Classes() {
		if !st.checked(class) {
			continue
		}
		for _, m := range class.Methods {
			for _, super := range st.u.Table.Overridden(m) {
				st.checkOverride(m, super)
			}
		}
	}
}

func (st *unit) checkOverride(m, super *symtab.Method) {
	report := func(kind diagnostic.Kind, checker string, args ...string) {
		d := diagnostic.New(m.Pos, kind, args...)
		if checker != "" {
			d.Checker = checker
		}
		st.report(m, d)
	}

	if sub, sup := st.f.Return(m), st.f.Return(super); !isVoid(sub) && !isVoid(sup) {
		if id, failing := st.rel.FirstFailing(sub, sup); failing {
			report(diagnostic.OverrideReturnInvalid, checkerOf(id),
				m.String(), super.String(), st.f.Display(sub), st.f.Display(sup))
		}
	}
	for i, p := range m.Params {
		sub, sup := st.f.Param(m, i), st.f.Param(super, i)
		if id, failing := st.rel.FirstFailing(sup, sub); failing {
			report(diagnostic.OverrideParamInvalid, checkerOf(id),
				p.Name, m.String(), super.String(), st.f.Display(sub), st.f.Display(sup))
		}
	}

	subContracts, superContracts := st.ct.Of(m), st.ct.Of(super)
	for _, v := range st.ct.CheckOverride(subContracts, superContracts) {
		report(v.Kind, "contracts", m.String(), super.String(), st.ct.Describe(v.Contract))
	}
	for _, dropped := range contracts.CheckPurityOverride(subContracts, superContracts) {
		report(diagnostic.PurityInvalidOverriding, "", m.String(), super.String(), dropped)
	}
}

func isVoid(t qualtype.Type) bool {
	_, ok := t.(*qualtype.Void)
	return t == nil || ok
}

// checkerOf names the checker that owns a hierarchy, for suppression.
func checkerOf(id qualifier.HierarchyID) string {
	switch id {
	case qualifier.KeyFor:
		return "keyfor"
	case qualifier.Initialization:
		return "initialization"
	}
	return "nullness"
}
