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

package expr

import "fmt"

// FieldInfo describes a field as seen by name resolution.
type FieldInfo struct {
	Owner   string
	Type    string
	Static  bool
	Final   bool
	Private bool
}

// MethodInfo describes a method as seen by name resolution.
type MethodInfo struct {
	Owner          string
	Type           string
	Static         bool
	Private        bool
	Deterministic  bool
	SideEffectFree bool
}

// Scope resolves names while parsing. It is provided by the symbol table for a declaration
// context (a method signature, a method body position, or a field).
type Scope interface {
	// Class returns the enclosing class.
	Class() string
	// Static returns true if there is no `this` in scope.
	Static() bool
	// NumParams returns the number of formal parameters that `#N` may refer to.
	NumParams() int
	// ParamType returns the type name of the 1-based parameter.
	ParamType(index int) string
	// Local resolves a local variable visible at the parse position.
	Local(name string) (*LocalVar, bool)
	// Field resolves a field declared in or inherited by class.
	Field(class, name string) (FieldInfo, bool)
	// Method resolves a method declared in or inherited by class.
	Method(class, name string, arity int) (MethodInfo, bool)
	// ClassNamed resolves a simple or qualified class name to its canonical name.
	ClassNamed(name string) (string, bool)
	// IsPackage returns true if name is a known package prefix.
	IsPackage(name string) bool
}

// ErrorKind classifies parse failures.
type ErrorKind uint8

const (
	// ErrSyntax is unparsable text.
	ErrSyntax ErrorKind = iota
	// ErrUnresolved is a name that does not resolve in scope.
	ErrUnresolved
	// ErrInaccessible is a private member of another class.
	ErrInaccessible
	// ErrPackageOnly is a package name not followed by a class.
	ErrPackageOnly
	// ErrIndexTooBig is a `#N` larger than the number of parameters.
	ErrIndexTooBig
	// ErrStaticThis is `this` used in a static context.
	ErrStaticThis
	// ErrNotDeterministic is a non-deterministic method call where only deterministic calls
	// are allowed (dependent qualifiers).
	ErrNotDeterministic
)

// ParseError is returned by Parser.Parse.
type ParseError struct {
	Kind       ErrorKind
	Expression string
	Detail     string
	Err        error
}

func (e *ParseError) Error() string {
	msg := fmt.Sprintf("cannot parse flow expression %q: %s", e.Expression, e.Detail)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ParseError) Unwrap() error { return e.Err }

// DiagnosticKey returns the diagnostic kind reported for the failure.
func (e *ParseError) DiagnosticKey() string {
	switch e.Kind {
	case ErrUnresolved:
		return "expression.unparsable"
	case ErrIndexTooBig:
		return "flowexpr.parse.index.too.big"
	}
	return "flowexpr.parse.error"
}
