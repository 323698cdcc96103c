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

// Suppressions holds the values of the @SuppressWarnings annotations in scope of a declaration.
type Suppressions []string

// Suppresses returns true if any value suppresses d. A value matches if it is "all", the checker
// of d, the kind of d, a dotted prefix of the kind (e.g. "purity" or "contracts.precondition"),
// or "checker:kind" with the kind part matched the same way.
func (s Suppressions) Suppresses(d Diagnostic) bool {
	for _, v := range s {
		v = strings.TrimSpace(v)
		checker, kind, qualified := strings.Cut(v, ":")
		switch {
		case strings.EqualFold(v, "all"):
			return true
		case qualified:
			if checker == d.Checker && matchesKind(kind, d.Kind) {
				return true
			}
		case v == d.Checker || matchesKind(v, d.Kind):
			return true
		}
	}
	return false
}

func matchesKind(v string, k Kind) bool {
	return v == string(k) || strings.HasPrefix(string(k), v+".")
}
