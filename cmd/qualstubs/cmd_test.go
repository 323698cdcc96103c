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

package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/qualcheck/stubs"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

// The commands share package-level flags, so these tests do not run in parallel.
func TestCompileAndDump(t *testing.T) {
	dir := t.TempDir()
	first := filepath.Join(dir, "first.json")
	second := filepath.Join(dir, "second.json")
	require.NoError(t, os.WriteFile(first, []byte(`{"fields": {"System.out": {"annotations": [{"name": "Nullable"}]}}}`), 0o600))
	require.NoError(t, os.WriteFile(second, []byte(`{"fields": {"System.out": {"annotations": [{"name": "NonNull"}]}}}`), 0o600))
	bin := filepath.Join(dir, "all.stubs")

	_, err := execute(t, "compile", "--default", "-o", bin, first, second)
	require.NoError(t, err)

	o, err := stubs.Load(bin)
	require.NoError(t, err)
	require.Equal(t, []string{"System.out"}, o.Fields.Keys())
	require.Equal(t, "NonNull", o.Fields.Value("System.out").Annotations[0].Name)
	require.Contains(t, o.Methods.Keys(), "Map.containsKey(Object)")

	out, err := execute(t, "dump", bin)
	require.NoError(t, err)
	require.Contains(t, out, `"System.out"`)
	require.Contains(t, out, "Map.containsKey")
	_, err = stubs.ParseJSON([]byte(out))
	require.NoError(t, err)
}

func TestErrors(t *testing.T) {
	_, err := execute(t, "compile", filepath.Join(t.TempDir(), "x.json"))
	require.ErrorContains(t, err, "output")

	_, err = execute(t, "dump", filepath.Join(t.TempDir(), "missing.json"))
	require.ErrorContains(t, err, "missing.json")
}
