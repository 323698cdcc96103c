//  Copyright (c) 2025 Uber Technologies, Inc.
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

package tokenhelper

import (
	"go/token"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRelToCwd(t *testing.T) {
	t.Parallel()

	cwd, err := os.Getwd()
	require.NoError(t, err)

	testcases := []struct {
		give string
		want string
	}{
		{give: filepath.Join(cwd, "testdata", "foo.go"), want: filepath.Join("testdata", "foo.go")},
		{give: filepath.Join("testdata", "foo.go"), want: filepath.Join("testdata", "foo.go")},
	}
	for _, tc := range testcases {
		t.Run(tc.give, func(t *testing.T) {
			t.Parallel()

			require.Equal(t, tc.want, RelToCwd(tc.give))
		})
	}
}

func TestPosition(t *testing.T) {
	t.Parallel()

	cwd, err := os.Getwd()
	require.NoError(t, err)

	fset := token.NewFileSet()
	f := fset.AddFile(filepath.Join(cwd, "testdata", "Foo.java"), -1, 100)
	f.SetLines([]int{0, 10, 20})

	p := Position(fset, f.Pos(12))
	require.Equal(t, filepath.Join("testdata", "Foo.java"), p.Filename)
	require.Equal(t, 2, p.Line)
	require.Equal(t, 3, p.Column)

	require.Equal(t, token.Position{}, Position(fset, token.NoPos))
	require.Equal(t, "/elsewhere/Foo.java", RelToCwd("/elsewhere/Foo.java"))
}
