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

package config

import (
	"runtime"
	"strings"

	"github.com/rs/zerolog"
	"go.uber.org/qualcheck/qualifier"
	"go.uber.org/qualcheck/qualtype"
)

// Policy records, per known-unsound or known-incomplete behavior, which side of the trade-off the
// checker takes. Each flag keeps the established (compatible) behavior when true.
type Policy struct {
	// NonDeterministicFactsUntilCall keeps facts about non-deterministic method calls (refined by
	// a test such as `if (x.next() != null)`) until the next method call, instead of dropping
	// them immediately.
	NonDeterministicFactsUntilCall bool
	// AliasFieldWrites weakens facts about the same field of other receivers when a field is
	// written, since the receivers may alias. When false, such facts survive the write.
	AliasFieldWrites bool
	// UninitializedFieldsNullable treats fields read through a receiver that is still under
	// initialization as Nullable unless the store proves otherwise.
	UninitializedFieldsNullable bool
	// CheckUnreachableCode reports diagnostics in code that the dataflow analysis proves
	// unreachable. When false, unreachable code is skipped.
	CheckUnreachableCode bool
}

// DefaultPolicy is the policy used unless overridden by WithPolicy.
var DefaultPolicy = Policy{
	NonDeterministicFactsUntilCall: true,
	AliasFieldWrites:               true,
	UninitializedFieldsNullable:    true,
	CheckUnreachableCode:           false,
}

// Config holds the user-configurable settings of a checker run.
type Config struct {
	// Parallelism is the maximum number of methods analyzed concurrently.
	Parallelism int
	// Logger receives debug statistics and internal errors; it is disabled by default.
	Logger zerolog.Logger
	// InvariantArrays requires array component qualifiers to match exactly.
	InvariantArrays bool
	// Variance is the type argument variance of each hierarchy.
	Variance [qualifier.NumHierarchies]qualtype.Variance
	// RedundantNullComparison enables the `nulltest.redundant` warning.
	RedundantNullComparison bool
	// AssumeSideEffectFree treats every method as side-effect-free for store invalidation.
	AssumeSideEffectFree bool
	// PrettyPrint colors diagnostic messages.
	PrettyPrint bool
	// Policy selects the behavior for known-unsound cases.
	Policy Policy
	// ExprCacheSize bounds the parsed flow-expression cache.
	ExprCacheSize int
	// ClassScope lists class name prefixes to check; empty means every class.
	ClassScope []string
}

// Option configures a Config.
type Option func(*Config)

// New returns the default configuration modified by opts.
func New(opts ...Option) *Config {
	c := &Config{
		Parallelism: runtime.GOMAXPROCS(0),
		Logger:      zerolog.Nop(),
		Policy:      DefaultPolicy,
		// Nullness type arguments are invariant, key-for type arguments may be refined.
		Variance:      [qualifier.NumHierarchies]qualtype.Variance{qualifier.KeyFor: qualtype.Covariant},
		ExprCacheSize: DefaultExprCacheSize,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.Parallelism < 1 {
		c.Parallelism = 1
	}
	if c.ExprCacheSize < 1 {
		c.ExprCacheSize = DefaultExprCacheSize
	}
	return c
}

// WithParallelism bounds the number of methods analyzed concurrently.
func WithParallelism(n int) Option { return func(c *Config) { c.Parallelism = n } }

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option { return func(c *Config) { c.Logger = l } }

// WithInvariantArrays enables invariant array component subtyping.
func WithInvariantArrays(b bool) Option { return func(c *Config) { c.InvariantArrays = b } }

// WithVariance sets the type argument variance of one hierarchy.
func WithVariance(id qualifier.HierarchyID, v qualtype.Variance) Option {
	return func(c *Config) { c.Variance[id] = v }
}

// WithRedundantNullComparison enables the redundant null comparison warning.
func WithRedundantNullComparison(b bool) Option {
	return func(c *Config) { c.RedundantNullComparison = b }
}

// WithAssumeSideEffectFree makes every call keep the store intact.
func WithAssumeSideEffectFree(b bool) Option {
	return func(c *Config) { c.AssumeSideEffectFree = b }
}

// WithPrettyPrint enables colored messages.
func WithPrettyPrint(b bool) Option { return func(c *Config) { c.PrettyPrint = b } }

// WithPolicy replaces the unsoundness policy.
func WithPolicy(p Policy) Option { return func(c *Config) { c.Policy = p } }

// WithExprCacheSize sets the capacity of the parsed flow-expression cache.
func WithExprCacheSize(n int) Option { return func(c *Config) { c.ExprCacheSize = n } }

// WithClassScope restricts checking to classes whose name starts with one of the prefixes.
func WithClassScope(prefixes ...string) Option {
	return func(c *Config) { c.ClassScope = prefixes }
}

// Relation returns the subtype relation configured for hs.
func (c *Config) Relation(hs *qualifier.Hierarchies) *qualtype.Relation {
	return &qualtype.Relation{Hierarchies: hs, Variance: c.Variance, InvariantArrays: c.InvariantArrays}
}

// IsClassInScope returns true if the class should be checked. Classes outside the scope are still
// used for their declarations.
func (c *Config) IsClassInScope(class string) bool {
	if len(c.ClassScope) == 0 {
		return true
	}
	for _, p := range c.ClassScope {
		if class == p || strings.HasPrefix(class, p+".") || strings.HasPrefix(class, p+"$") {
			return true
		}
	}
	return false
}
