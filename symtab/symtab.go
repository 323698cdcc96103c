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

// Package symtab models the declarations a host front end provides to the checker: classes, their
// fields and methods, and the locals of method bodies, each with its declared type and
// annotations.
package symtab

import (
	"go/token"
	"strings"

	"go.uber.org/qualcheck/qualtype"
	"go.uber.org/qualcheck/util/orderedmap"
)

// Annotation is a declaration annotation as written in the source. Values maps element names
// (e.g. "value", "expression", "result") to their string values; array elements are flattened.
type Annotation struct {
	Name   string
	Values map[string][]string
}

// SimpleName returns the annotation name without its package.
func (a Annotation) SimpleName() string { return simpleName(a.Name) }

// Value returns the values of the element, falling back to "value" for the unnamed element.
func (a Annotation) Value(element string) []string {
	if v, ok := a.Values[element]; ok {
		return v
	}
	if element == "expression" {
		return a.Values["value"]
	}
	return nil
}

// Class is a class or interface declaration.
type Class struct {
	Name       string
	Super      string
	Interfaces []string
	// Outer is the enclosing class of an inner class.
	Outer string
	// SuperAnnotations are the annotations written on the extends/implements clauses.
	SuperAnnotations []Annotation
	Annotations      []Annotation
	Fields           []*Field
	Methods          []*Method
	// Library marks classes whose bodies are not available and are not checked.
	Library bool
	Pos     token.Pos
}

// Field is a field declaration.
type Field struct {
	Name        string
	Owner       string
	Type        qualtype.Type
	Annotations []Annotation
	Static      bool
	Final       bool
	Private     bool
	// Initialized is true if the declaration has an initializer.
	Initialized bool
	Pos         token.Pos
}

// Method is a method or constructor declaration.
type Method struct {
	Name   string
	Owner  string
	Params []*Local
	// Return is the declared return type; Annotations written on the method also apply to it.
	Return qualtype.Type
	// ReceiverAnnotations are the annotations of the explicit receiver parameter.
	ReceiverAnnotations []Annotation
	Annotations         []Annotation
	Static              bool
	Private             bool
	Constructor         bool
	Abstract            bool
	// Library marks methods that have no body in this unit; their declarations may be replaced
	// by a stub overlay.
	Library bool
	Pos     token.Pos
}

// String returns `Owner.Name`.
func (m *Method) String() string { return m.Owner + "." + m.Name }

// Signature returns the fully qualified signature, e.g. `java.util.Map.get(Object)`, used as the
// key of stub overlay entries.
func (m *Method) Signature() string {
	var sb strings.Builder
	sb.WriteString(m.Owner)
	sb.WriteByte('.')
	sb.WriteString(m.Name)
	sb.WriteByte('(')
	for i, p := range m.Params {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(qualtype.Name(p.Type))
	}
	sb.WriteByte(')')
	return sb.String()
}

// Signature returns the fully qualified field name.
func (f *Field) Signature() string { return f.Owner + "." + f.Name }

// LocalKind classifies locals for defaulting.
type LocalKind uint8

const (
	// Variable is an ordinary local variable.
	Variable LocalKind = iota
	// Parameter is a formal parameter of a method.
	Parameter
	// CatchParameter is the exception parameter of a catch clause.
	CatchParameter
)

// Local is a local variable or parameter. ID identifies the declaration within its method so
// that same-named locals of different scopes stay distinct; IDs must be unique and positive.
type Local struct {
	Name        string
	ID          int
	Type        qualtype.Type
	Kind        LocalKind
	Annotations []Annotation
	Pos         token.Pos
}

// Table is the symbol table of one compilation unit plus the library classes it references.
type Table struct {
	classes  *orderedmap.OrderedMap[string, *Class]
	packages map[string]bool
}

// NewTable indexes the classes. The classes are not copied; stub overlays modify them in place
// before analysis starts.
func NewTable(classes ...*Class) *Table {
	t := &Table{classes: orderedmap.New[string, *Class](), packages: make(map[string]bool)}
	for _, c := range classes {
		for _, f := range c.Fields {
			if f.Owner == "" {
				f.Owner = c.Name
			}
		}
		for _, m := range c.Methods {
			if m.Owner == "" {
				m.Owner = c.Name
			}
		}
		t.classes.Store(c.Name, c)
		for pkg := c.Name; ; {
			i := strings.LastIndexByte(pkg, '.')
			if i < 0 {
				break
			}
			pkg = pkg[:i]
			t.packages[pkg] = true
		}
	}
	return t
}

// Class returns the class with the given canonical name.
func (t *Table) Class(name string) (*Class, bool) {
	return t.classes.Load(name)
}

// Classes returns all classes in declaration order.
func (t *Table) Classes() []*Class {
	out := make([]*Class, 0, t.classes.Len())
	t.classes.OrderedRange(func(_ string, c *Class) bool {
		out = append(out, c)
		return true
	})
	return out
}

// ClassNamed resolves a simple or qualified class name. A simple name resolves if exactly one
// class has it.
func (t *Table) ClassNamed(name string) (string, bool) {
	if _, ok := t.classes.Load(name); ok {
		return name, true
	}
	found := ""
	for _, c := range t.Classes() {
		if simpleName(c.Name) == name {
			if found != "" {
				return "", false
			}
			found = c.Name
		}
	}
	return found, found != ""
}

// IsPackage returns true if name is a proper prefix package of some class.
func (t *Table) IsPackage(name string) bool { return t.packages[name] }

// supertypes returns the direct supertypes of the class, resolving names.
func (t *Table) supertypes(c *Class) []*Class {
	var out []*Class
	for _, name := range append([]string{c.Super}, c.Interfaces...) {
		if name == "" {
			continue
		}
		if canonical, ok := t.ClassNamed(name); ok {
			if s, ok := t.classes.Load(canonical); ok {
				out = append(out, s)
			}
		}
	}
	return out
}

// walk visits the class and its transitive supertypes breadth-first, each once.
func (t *Table) walk(class string, f func(*Class) bool) {
	canonical, ok := t.ClassNamed(class)
	if !ok {
		return
	}
	start, _ := t.classes.Load(canonical)
	seen := map[string]bool{start.Name: true}
	queue := []*Class{start}
	for len(queue) > 0 {
		c := queue[0]
		queue = queue[1:]
		if !f(c) {
			return
		}
		for _, s := range t.supertypes(c) {
			if !seen[s.Name] {
				seen[s.Name] = true
				queue = append(queue, s)
			}
		}
	}
}

// IsSubclass returns true if sub is super or transitively extends or implements it. Names may be
// simple or qualified.
func (t *Table) IsSubclass(sub, super string) bool {
	target, ok := t.ClassNamed(super)
	if !ok {
		target = super
	}
	found := false
	t.walk(sub, func(c *Class) bool {
		found = c.Name == target || simpleName(c.Name) == target
		return !found
	})
	return found
}

// LookupField finds a field declared in the class or inherited from a supertype.
func (t *Table) LookupField(class, name string) (*Field, bool) {
	var found *Field
	t.walk(class, func(c *Class) bool {
		for _, f := range c.Fields {
			if f.Name == name {
				found = f
				return false
			}
		}
		return true
	})
	return found, found != nil
}

// LookupMethod finds a method by name and arity declared in the class or inherited.
func (t *Table) LookupMethod(class, name string, arity int) (*Method, bool) {
	var found *Method
	t.walk(class, func(c *Class) bool {
		for _, m := range c.Methods {
			if m.Name == name && len(m.Params) == arity && !m.Constructor {
				found = m
				return false
			}
		}
		return true
	})
	return found, found != nil
}

// Overridden returns the methods of strict supertypes that m overrides, nearest first.
func (t *Table) Overridden(m *Method) []*Method {
	if m.Static || m.Constructor || m.Private {
		return nil
	}
	var out []*Method
	t.walk(m.Owner, func(c *Class) bool {
		if c.Name == m.Owner {
			return true
		}
		for _, sm := range c.Methods {
			if sm.Name == m.Name && len(sm.Params) == len(m.Params) && !sm.Static && !sm.Private && !sm.Constructor {
				out = append(out, sm)
			}
		}
		return true
	})
	return out
}

// Constructors returns the constructors of the class.
func (c *Class) Constructors() []*Method {
	var out []*Method
	for _, m := range c.Methods {
		if m.Constructor {
			out = append(out, m)
		}
	}
	return out
}

func simpleName(name string) string {
	if i := strings.LastIndexByte(name, '.'); i >= 0 {
		return name[i+1:]
	}
	return name
}
