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

package factory

import "go.uber.org/qualcheck/qualifier"

// Location is the kind of a type position, which determines the qualifiers of unannotated
// positions.
type Location uint8

const (
	// FieldLoc is the type of a field declaration.
	FieldLoc Location = iota
	// ParamLoc is the type of a formal parameter.
	ParamLoc
	// ReturnLoc is the return type of a method.
	ReturnLoc
	// ReceiverLoc is the type of the receiver of an instance method.
	ReceiverLoc
	// ConstructorReceiverLoc is the type of the receiver within a constructor.
	ConstructorReceiverLoc
	// LocalLoc is the type of a local variable. Locals climb to top so that their flow types
	// are inferred.
	LocalLoc
	// CatchParamLoc is the type of a catch clause parameter.
	CatchParamLoc
	// UpperBoundLoc is the upper bound of a type variable or wildcard.
	UpperBoundLoc
	// LowerBoundLoc is the lower bound of a wildcard.
	LowerBoundLoc
	// NestedLoc is a type argument or array component.
	NestedLoc
	// ExprLoc is the type of an expression that creates a value, e.g. `new C()` or a string
	// literal.
	ExprLoc
)

var (
	// _initialized is the default of every position that holds a fully constructed value.
	_initialized = qualifier.MustSet(
		qualifier.New(qualifier.NonNull),
		qualifier.New(qualifier.UnknownKeyFor),
		qualifier.New(qualifier.Initialized),
	)
	_underInitialization = qualifier.MustSet(
		qualifier.New(qualifier.NonNull),
		qualifier.New(qualifier.UnknownKeyFor),
		qualifier.New(qualifier.UnderInitialization),
	)
	_null = qualifier.MustSet(
		qualifier.New(qualifier.Nullable),
		qualifier.New(qualifier.KeyForBottom),
		qualifier.New(qualifier.FBCBottom),
	)
)

// Defaults returns the qualifiers of an unannotated position at loc.
func (f *Factory) Defaults(loc Location) qualifier.Set {
	switch loc {
	case LocalLoc, UpperBoundLoc:
		return f.hs.Top()
	case LowerBoundLoc:
		return f.hs.Bottom()
	case ConstructorReceiverLoc:
		return _underInitialization
	}
	return _initialized
}

// NullQuals returns the qualifiers of the null literal.
func NullQuals() qualifier.Set { return _null }

// NewQuals returns the qualifiers of a freshly created object.
func NewQuals() qualifier.Set { return _initialized }
