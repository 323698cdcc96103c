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

// Package diagnostic hosts the diagnostic engine, which collects the problems found by the
// checker, de-duplicates them and renders user-friendly, sorted diagnostics.
package diagnostic

import (
	"cmp"
	"fmt"
	"go/token"
	"slices"
	"strings"
	"sync"

	"go.uber.org/qualcheck/util/tokenhelper"
)

// Diagnostic is one user-facing problem.
type Diagnostic struct {
	Pos token.Pos
	// Position is Pos resolved against the file set, with the file name relative to the working
	// directory.
	Position token.Position
	Kind     Kind
	Severity Severity
	// Checker is the checker that reported the problem, e.g. "nullness" or "keyfor".
	Checker string
	// Args fill the message template of the kind.
	Args    []string
	Message string
}

// String renders the diagnostic in the `file:line:col: severity: (kind) message` format.
func (d Diagnostic) String() string {
	return fmt.Sprintf("%s: %s: (%s) %s", d.Position, d.Severity, d.Kind, d.Message)
}

// key identifies a diagnostic for de-duplication: identical (position, kind, arguments) triples
// are reported once.
type key struct {
	pos  token.Pos
	kind Kind
	args string
}

// Engine collects diagnostics. It is safe for concurrent use by the per-method analyses.
type Engine struct {
	fset *token.FileSet

	mu    sync.Mutex
	seen  map[key]bool
	diags []Diagnostic
}

// NewEngine creates a new diagnostic engine that resolves positions against fset.
func NewEngine(fset *token.FileSet) *Engine {
	return &Engine{fset: fset, seen: make(map[key]bool)}
}

// New builds a diagnostic of the given kind with its default checker and severity.
func New(pos token.Pos, kind Kind, args ...string) Diagnostic {
	return Diagnostic{
		Pos:      pos,
		Kind:     kind,
		Severity: kind.DefaultSeverity(),
		Checker:  kind.DefaultChecker(),
		Args:     args,
	}
}

// Add records d unless an identical diagnostic has already been recorded; it returns true if d
// was recorded.
func (e *Engine) Add(d Diagnostic) bool {
	k := key{pos: d.Pos, kind: d.Kind, args: strings.Join(d.Args, "\x00")}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.seen[k] {
		return false
	}
	e.seen[k] = true
	if d.Message == "" {
		d.Message = Message(d.Kind, d.Args...)
	}
	if d.Pos.IsValid() {
		d.Position = tokenhelper.Position(e.fset, d.Pos)
	}
	e.diags = append(e.diags, d)
	return true
}

// Report is a shorthand for Add(New(pos, kind, args...)).
func (e *Engine) Report(pos token.Pos, kind Kind, args ...string) bool {
	return e.Add(New(pos, kind, args...))
}

// Len returns the number of recorded diagnostics.
func (e *Engine) Len() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.diags)
}

// Diagnostics returns the recorded diagnostics sorted by file names and then offsets in the file;
// diagnostics at the same offset are ordered by kind and message.
func (e *Engine) Diagnostics() []Diagnostic {
	e.mu.Lock()
	diags := slices.Clone(e.diags)
	e.mu.Unlock()

	slices.SortStableFunc(diags, func(a, b Diagnostic) int {
		if n := cmp.Compare(a.Position.Filename, b.Position.Filename); n != 0 {
			return n
		}
		if n := cmp.Compare(a.Position.Offset, b.Position.Offset); n != 0 {
			return n
		}
		if n := cmp.Compare(a.Kind, b.Kind); n != 0 {
			return n
		}
		return cmp.Compare(a.Message, b.Message)
	})
	return diags
}

// Message renders the message of a kind with its arguments. Missing arguments render as `?` and
// extra arguments are appended.
func Message(kind Kind, args ...string) string {
	tmpl, ok := _templates[kind]
	if !ok {
		return strings.Join(append([]string{string(kind)}, args...), " ")
	}
	n := strings.Count(tmpl, "%s")
	vals := make([]any, n)
	for i := range vals {
		vals[i] = "?"
		if i < len(args) {
			vals[i] = args[i]
		}
	}
	msg := fmt.Sprintf(tmpl, vals...)
	if len(args) > n {
		msg += " (" + strings.Join(args[n:], ", ") + ")"
	}
	return msg
}
