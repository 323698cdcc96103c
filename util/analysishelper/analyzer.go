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

// Package analysishelper provides helpers to run analysis phases such that a failing phase never
// takes down the whole run.
package analysishelper

import (
	"fmt"
	"runtime/debug"
)

// Result is the result struct for the analysis phases where the actual result is accompanied by
// an optional error.
type Result[T any] struct {
	// Res is the actual result from the phase.
	Res T
	// Err is the optional error from the phase.
	Err error
}

// Run runs f and converts its outcome into a Result:
// (1) the error is put in the Result.Err field in order to _not_ stop the analysis and let the
// caller decide what to do.
// (2) a panic is recovered and converted to an error with stack traces for easier debugging.
// Moreover, the error is prefixed with the name of the phase to make it easier to identify its
// source.
func Run[T any](name string, f func() (T, error)) (result Result[T]) {
	defer func() {
		if r := recover(); r != nil {
			result = Result[T]{Err: fmt.Errorf("INTERNAL PANIC from %q: %s\n%s", name, r, string(debug.Stack()))}
		}
	}()

	r, err := f()
	if err != nil {
		err = fmt.Errorf("%s: %w", name, err)
	}
	return Result[T]{Res: r, Err: err}
}
