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

package diagnostic

import "strings"

// Kind is the key of a diagnostic, e.g. "dereference.of.nullable". The set of kinds the engine
// reports is closed.
type Kind string

const (
	AssignmentIncompatible                  Kind = "assignment.type.incompatible"
	ArgumentIncompatible                    Kind = "argument.type.incompatible"
	ReturnIncompatible                      Kind = "return.type.incompatible"
	DereferenceOfNullable                   Kind = "dereference.of.nullable"
	UnboxingOfNullable                      Kind = "unboxing.of.nullable"
	MethodInvocationInvalid                 Kind = "method.invocation.invalid"
	PreconditionNotSatisfied                Kind = "contracts.precondition.not.satisfied"
	PostconditionNotSatisfied               Kind = "contracts.postcondition.not.satisfied"
	ConditionalPostconditionNotSatisfied    Kind = "contracts.conditional.postcondition.not.satisfied"
	PreconditionOverrideInvalid             Kind = "contracts.precondition.override.invalid"
	PostconditionOverrideInvalid            Kind = "contracts.postcondition.override.invalid"
	ConditionalPostconditionOverrideInvalid Kind = "contracts.conditional.postcondition.override.invalid"
	OverrideReturnInvalid                   Kind = "override.return.invalid"
	OverrideParamInvalid                    Kind = "override.param.invalid"
	MonotonicIncompatible                   Kind = "monotonic.type.incompatible"
	NewArrayTypeInvalid                     Kind = "new.array.type.invalid"
	ArrayInitializerIncompatible            Kind = "array.initializer.type.incompatible"
	InstanceofNullable                      Kind = "instanceof.nullable"
	InstanceofNonNullRedundant              Kind = "instanceof.nonnull.redundant"
	NullTestRedundant                       Kind = "nulltest.redundant"
	ThrowingNullable                        Kind = "throwing.nullable"
	FieldsUninitialized                     Kind = "initialization.fields.uninitialized"
	InvalidPolymorphicQualifier             Kind = "invalid.polymorphic.qualifier"
	NullnessOnPrimitive                     Kind = "nullness.on.primitive"
	NullnessOnSupertype                     Kind = "nullness.on.supertype"
	ConflictingAnnotations                  Kind = "type.invalid.conflicting.annos"
	FlowExprParseError                      Kind = "flowexpr.parse.error"
	FlowExprIndexTooBig                     Kind = "flowexpr.parse.index.too.big"
	ExpressionUnparsable                    Kind = "expression.unparsable"
	PuritySideEffectFreeAssignField         Kind = "purity.not.sideeffectfree.assign.field"
	PuritySideEffectFreeCall                Kind = "purity.not.sideeffectfree.call"
	PurityDeterministicObjectCreation       Kind = "purity.not.deterministic.object.creation"
	PurityDeterministicCall                 Kind = "purity.not.deterministic.call"
	PurityInvalidOverriding                 Kind = "purity.invalid.overriding"
)

// _templates holds the message of every kind; `%s` verbs are filled with the diagnostic's
// arguments in order. Code is quoted in backticks so that it can be highlighted.
var _templates = map[Kind]string{
	AssignmentIncompatible:                  "incompatible types in assignment to `%s`: found %s, required %s",
	ArgumentIncompatible:                    "incompatible argument for parameter `%s` of `%s`: found %s, required %s",
	ReturnIncompatible:                      "incompatible types in return: found %s, required %s",
	DereferenceOfNullable:                   "dereference of possibly-null reference `%s`",
	UnboxingOfNullable:                      "unboxing a possibly-null reference `%s`",
	MethodInvocationInvalid:                 "call to `%s` not allowed on the given receiver: found %s, required %s",
	PreconditionNotSatisfied:                "precondition of `%s` is not satisfied: `%s` must be %s",
	PostconditionNotSatisfied:               "postcondition of `%s` is not satisfied: `%s` must be %s",
	ConditionalPostconditionNotSatisfied:    "postcondition of `%s` is not satisfied when it returns %s: `%s` must be %s",
	PreconditionOverrideInvalid:             "precondition of `%s` is stronger than that of the overridden `%s`: %s",
	PostconditionOverrideInvalid:            "postcondition of `%s` is weaker than that of the overridden `%s`: %s",
	ConditionalPostconditionOverrideInvalid: "conditional postcondition of `%s` is weaker than that of the overridden `%s`: %s",
	OverrideReturnInvalid:                   "incompatible return type of `%s` overriding `%s`: found %s, required %s",
	OverrideParamInvalid:                    "incompatible type of parameter `%s` of `%s` overriding `%s`: found %s, required %s",
	MonotonicIncompatible:                   "cannot assign %s to monotonic field `%s`",
	NewArrayTypeInvalid:                     "annotations %s may not be applied to the component type of array `%s`",
	ArrayInitializerIncompatible:            "incompatible types in array initializer: found %s, required %s",
	InstanceofNullable:                      "instanceof type `%s` cannot be nullable",
	InstanceofNonNullRedundant:              "redundant @NonNull annotation on instanceof type `%s`",
	NullTestRedundant:                       "redundant null check: `%s` is non-null",
	ThrowingNullable:                        "throwing a possibly-null exception `%s`",
	FieldsUninitialized:                     "the constructor `%s` does not initialize fields: %s",
	InvalidPolymorphicQualifier:             "invalid polymorphic qualifier %s on %s",
	NullnessOnPrimitive:                     "nullness annotation %s on primitive type `%s`",
	NullnessOnSupertype:                     "nullness annotation %s on supertype `%s` of `%s`",
	ConflictingAnnotations:                  "conflicting annotations %s and %s on `%s`",
	FlowExprParseError:                      "cannot parse the expression \"%s\": %s",
	FlowExprIndexTooBig:                     "the parameter index in \"%s\" is too big: %s",
	ExpressionUnparsable:                    "the expression \"%s\" cannot be resolved: %s",
	PuritySideEffectFreeAssignField:         "side-effect-free method `%s` assigns to field `%s`",
	PuritySideEffectFreeCall:                "side-effect-free method `%s` calls `%s`, which may have side effects",
	PurityDeterministicObjectCreation:       "deterministic method `%s` creates a new object `%s`",
	PurityDeterministicCall:                 "deterministic method `%s` calls `%s`, which may be non-deterministic",
	PurityInvalidOverriding:                 "`%s` overrides `%s` but is not %s",
}

// Kinds returns every kind the engine reports.
func Kinds() []Kind {
	kinds := make([]Kind, 0, len(_templates))
	for k := range _templates {
		kinds = append(kinds, k)
	}
	return kinds
}

// Known returns true if k is one of the reported kinds.
func (k Kind) Known() bool {
	_, ok := _templates[k]
	return ok
}

// DefaultChecker returns the checker a kind belongs to when the reporter does not say otherwise.
func (k Kind) DefaultChecker() string {
	switch {
	case strings.HasPrefix(string(k), "purity."):
		return "purity"
	case strings.HasPrefix(string(k), "initialization."):
		return "initialization"
	}
	return "nullness"
}

// Severity of a diagnostic.
type Severity uint8

const (
	// Error diagnostics fail a compilation.
	Error Severity = iota
	// Warning diagnostics are lints.
	Warning
)

func (s Severity) String() string {
	if s == Warning {
		return "warning"
	}
	return "error"
}

// DefaultSeverity returns Warning for the lint kinds and Error otherwise.
func (k Kind) DefaultSeverity() Severity {
	switch k {
	case InstanceofNonNullRedundant, NullTestRedundant:
		return Warning
	}
	return Error
}
