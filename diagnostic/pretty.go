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

import (
	"regexp"

	"github.com/fatih/color"
)

var (
	_codeReferencePattern = regexp.MustCompile("`(.*?)`")
	_quotedPattern        = regexp.MustCompile(`"(.*?)"`)
	_qualifierPattern     = regexp.MustCompile(`(@[A-Za-z]+(\([^)]*\))?)`)
)

// PrettyPrint post-processes a rendered diagnostic with colors: the severity in red or yellow,
// code references in magenta, quoted expressions in cyan and qualifiers in bold.
func PrettyPrint(d Diagnostic) string {
	code := color.New(color.FgHiMagenta).Sprint("`${1}`")
	quoted := color.New(color.FgCyan).Sprint("${1}")
	qual := color.New(color.Bold).Sprint("${1}")

	msg := _qualifierPattern.ReplaceAllString(d.Message, qual)
	msg = _codeReferencePattern.ReplaceAllString(msg, code)
	msg = _quotedPattern.ReplaceAllString(msg, quoted)

	severity := color.New(color.FgRed).SprintFunc()
	if d.Severity == Warning {
		severity = color.New(color.FgYellow).SprintFunc()
	}
	dim := color.New(color.Faint).SprintFunc()
	return d.Position.String() + ": " + severity(d.Severity.String()+":") + " " + dim("("+string(d.Kind)+")") + " " + msg
}
