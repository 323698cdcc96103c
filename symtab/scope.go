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

package symtab

import (
	"go.uber.org/qualcheck/expr"
	"go.uber.org/qualcheck/qualtype"
)

// HasAnnotation returns true if any annotation has the given simple name.
func HasAnnotation(annos []Annotation, simple string) bool {
	_, ok := FindAnnotation(annos, simple)
	return ok
}

// FindAnnotation returns the first annotation with the given simple name.
func FindAnnotation(annos []Annotation, simple string) (Annotation, bool) {
	for _, a := range annos {
		if a.SimpleName() == simple {
			return a, true
		}
	}
	return Annotation{}, false
}

// Purity returns the purity the method declares: @Pure implies both properties.
func (m *Method) Purity() (sideEffectFree, deterministic bool) {
	pure := HasAnnotation(m.Annotations, "Pure")
	return pure || HasAnnotation(m.Annotations, "SideEffectFree"),
		pure || HasAnnotation(m.Annotations, "Deterministic")
}

// LocalVar returns the flow expression denoting l.
func LocalVar(l *Local) *expr.LocalVar {
	return &expr.LocalVar{Name: l.Name, ID: l.ID, Type: qualtype.Name(l.Type)}
}

// Scope resolves names for flow-expression parsing in one declaration context.
type Scope struct {
	table  *Table
	class  string
	static bool
	params []*Local
	locals []*Local
	// visible limits locals to IDs up to and including it; zero means all.
	visible int
}

var _ expr.Scope = (*Scope)(nil)

// SignatureScope is the scope of a method's annotations: `#N` and parameter names refer to its
// parameters.
func (t *Table) SignatureScope(m *Method) *Scope {
	return &Scope{table: t, class: m.Owner, static: m.Static, params: m.Params}
}

// BodyScope is the scope at a point of a method body where the locals with IDs up to visible are
// in scope (zero for all of them).
func (t *Table) BodyScope(m *Method, locals []*Local, visible int) *Scope {
	return &Scope{table: t, class: m.Owner, static: m.Static, params: m.Params, locals: locals, visible: visible}
}

// FieldScope is the scope of a field declaration's annotations.
func (t *Table) FieldScope(f *Field) *Scope {
	return &Scope{table: t, class: f.Owner, static: f.Static}
}

// ClassScope is the scope of a class-level annotation.
func (t *Table) ClassScope(class string) *Scope {
	return &Scope{table: t, class: class}
}

func (s *Scope) Class() string  { return s.class }
func (s *Scope) Static() bool   { return s.static }
func (s *Scope) NumParams() int { return len(s.params) }

func (s *Scope) ParamType(index int) string {
	return qualtype.Name(s.params[index-1].Type)
}

// Local resolves the innermost visible declaration of name; among same-named locals the latest
// declared one wins.
func (s *Scope) Local(name string) (*expr.LocalVar, bool) {
	var best *Local
	consider := func(l *Local) {
		if l.Name != name || (s.visible > 0 && l.ID > s.visible) {
			return
		}
		if best == nil || l.ID > best.ID {
			best = l
		}
	}
	for _, p := range s.params {
		consider(p)
	}
	for _, l := range s.locals {
		consider(l)
	}
	if best == nil {
		return nil, false
	}
	return LocalVar(best), true
}

func (s *Scope) Field(class, name string) (expr.FieldInfo, bool) {
	f, ok := s.table.LookupField(class, name)
	if !ok {
		return expr.FieldInfo{}, false
	}
	return expr.FieldInfo{
		Owner:   f.Owner,
		Type:    qualtype.Name(f.Type),
		Static:  f.Static,
		Final:   f.Final,
		Private: f.Private,
	}, true
}

func (s *Scope) Method(class, name string, arity int) (expr.MethodInfo, bool) {
	m, ok := s.table.LookupMethod(class, name, arity)
	if !ok {
		return expr.MethodInfo{}, false
	}
	sef, det := m.Purity()
	return expr.MethodInfo{
		Owner:          m.Owner,
		Type:           qualtype.Name(m.Return),
		Static:         m.Static,
		Private:        m.Private,
		Deterministic:  det,
		SideEffectFree: sef,
	}, true
}

func (s *Scope) ClassNamed(name string) (string, bool) { return s.table.ClassNamed(name) }
func (s *Scope) IsPackage(name string) bool            { return s.table.IsPackage(name) }
