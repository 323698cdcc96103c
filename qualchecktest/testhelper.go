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

// Package qualchecktest implements utility functions for tests: builders for annotations,
// declarations and positions, and a small library of classes every test unit can reference.
package qualchecktest

import (
	"fmt"
	"go/token"

	"go.uber.org/qualcheck/diagnostic"
	"go.uber.org/qualcheck/qualifier"
	"go.uber.org/qualcheck/qualtype"
	"go.uber.org/qualcheck/symtab"
)

// Anno builds an annotation from alternating element names and values; a value containing
// several elements is written as separate pairs with the same name.
func Anno(name string, kv ...string) symtab.Annotation {
	if len(kv)%2 != 0 {
		panic(fmt.Sprintf("odd number of annotation elements for @%s", name))
	}
	a := symtab.Annotation{Name: name}
	for i := 0; i < len(kv); i += 2 {
		if a.Values == nil {
			a.Values = make(map[string][]string)
		}
		a.Values[kv[i]] = append(a.Values[kv[i]], kv[i+1])
	}
	return a
}

// Type returns an unannotated declared type.
func Type(name string, args ...qualtype.Type) *qualtype.Declared {
	return &qualtype.Declared{Name: name, Args: args}
}

// Qualified returns a declared type with type-use qualifiers.
func Qualified(name string, qs ...qualifier.Qualifier) *qualtype.Declared {
	return &qualtype.Declared{Name: name, Q: qualifier.MustSet(qs...)}
}

// Int is the primitive int type.
func Int() *qualtype.Primitive { return &qualtype.Primitive{Name: "int"} }

// Boolean is the primitive boolean type.
func Boolean() *qualtype.Primitive { return &qualtype.Primitive{Name: "boolean"} }

// Param builds a formal parameter.
func Param(name string, id int, t qualtype.Type, annos ...symtab.Annotation) *symtab.Local {
	return &symtab.Local{Name: name, ID: id, Type: t, Kind: symtab.Parameter, Annotations: annos}
}

// Local builds a local variable.
func Local(name string, id int, t qualtype.Type, annos ...symtab.Annotation) *symtab.Local {
	return &symtab.Local{Name: name, ID: id, Type: t, Kind: symtab.Variable, Annotations: annos}
}

// Library returns the library classes tests build upon: Object, String, Boolean, Integer,
// Exception and a Map with the usual query methods. Map methods carry no contracts; those come
// from the default stub overlay.
func Library() []*symtab.Class {
	object := Type("Object")
	mapClass := &symtab.Class{
		Name:    "Map",
		Library: true,
		Methods: []*symtab.Method{
			{Name: "get", Params: []*symtab.Local{Param("key", 1, object)}, Return: Type("Object"), Library: true},
			{Name: "containsKey", Params: []*symtab.Local{Param("key", 1, object)}, Return: Boolean(), Library: true},
			{Name: "put", Params: []*symtab.Local{Param("key", 1, object), Param("value", 2, object)}, Return: Type("Object"), Library: true},
			{Name: "size", Return: Int(), Library: true},
		},
	}
	return []*symtab.Class{
		{Name: "Object", Library: true},
		{Name: "String", Library: true, Methods: []*symtab.Method{
			{Name: "length", Return: Int(), Library: true, Annotations: []symtab.Annotation{Anno("Pure")}},
		}},
		{Name: "Boolean", Library: true},
		{Name: "Integer", Library: true},
		{Name: "Exception", Library: true},
		mapClass,
	}
}

// File is a fake source file whose offsets serve as node positions.
type File struct {
	Fset *token.FileSet
	f    *token.File
}

// NewFile creates a fake file of the given size with one line per 100 bytes.
func NewFile(name string, size int) *File {
	fset := token.NewFileSet()
	f := fset.AddFile(name, -1, size)
	lines := make([]int, 0, size/100+1)
	for off := 0; off < size; off += 100 {
		lines = append(lines, off)
	}
	f.SetLines(lines)
	return &File{Fset: fset, f: f}
}

// Pos returns the position at the given offset.
func (f *File) Pos(offset int) token.Pos { return f.f.Pos(offset) }

// Summaries renders diagnostics as "offset: kind" for compact assertions.
func (f *File) Summaries(diags []diagnostic.Diagnostic) []string {
	out := make([]string, 0, len(diags))
	for _, d := range diags {
		out = append(out, fmt.Sprintf("%d: %s", f.f.Offset(d.Pos), d.Kind))
	}
	return out
}
