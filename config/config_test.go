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
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"go.uber.org/qualcheck/qualifier"
	"go.uber.org/qualcheck/qualtype"
)

func TestDefaults(t *testing.T) {
	t.Parallel()

	c := New()
	require.GreaterOrEqual(t, c.Parallelism, 1)
	require.Equal(t, DefaultPolicy, c.Policy)
	require.Equal(t, DefaultExprCacheSize, c.ExprCacheSize)
	require.Equal(t, qualtype.Covariant, c.Variance[qualifier.KeyFor])
	require.Equal(t, qualtype.Invariant, c.Variance[qualifier.Nullness])
	require.Equal(t, zerolog.Disabled, c.Logger.GetLevel())
	require.False(t, c.RedundantNullComparison)
}

func TestOptions(t *testing.T) {
	t.Parallel()

	policy := DefaultPolicy
	policy.CheckUnreachableCode = true
	c := New(
		WithParallelism(-3),
		WithExprCacheSize(0),
		WithInvariantArrays(true),
		WithVariance(qualifier.Nullness, qualtype.Covariant),
		WithRedundantNullComparison(true),
		WithAssumeSideEffectFree(true),
		WithPrettyPrint(true),
		WithPolicy(policy),
	)
	require.Equal(t, 1, c.Parallelism)
	require.Equal(t, DefaultExprCacheSize, c.ExprCacheSize)
	require.True(t, c.InvariantArrays && c.RedundantNullComparison && c.AssumeSideEffectFree && c.PrettyPrint)
	require.True(t, c.Policy.CheckUnreachableCode)

	r := c.Relation(qualifier.Default())
	require.True(t, r.InvariantArrays)
	require.Equal(t, qualtype.Covariant, r.Variance[qualifier.Nullness])
}

func TestClassScope(t *testing.T) {
	t.Parallel()

	require.True(t, New().IsClassInScope("anything.At.All"))

	c := New(WithClassScope("com.foo", "Bar"))
	for class, want := range map[string]bool{
		"com.foo":         true,
		"com.foo.Baz":     true,
		"Bar$Inner":       true,
		"com.foobar.Baz":  false,
		"org.com.foo.Baz": false,
	} {
		require.Equal(t, want, c.IsClassInScope(class), class)
	}
}
