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

// Binding describes a renaming applied by Substitute.
type Binding struct {
	// This replaces the current receiver (`this`); nil keeps it.
	This Expr
	// Params replaces `#i` by Params[i-1]; missing or nil entries keep the reference.
	Params []Expr
	// Locals replaces local variables, keyed by LocalVar.Key(). Locals are matched by
	// declaration identity, never by name alone.
	Locals map[string]Expr
}

// IsIdentity returns true if the binding renames nothing.
func (b Binding) IsIdentity() bool {
	if b.This != nil || len(b.Locals) > 0 {
		return false
	}
	for _, p := range b.Params {
		if p != nil {
			return false
		}
	}
	return true
}

// Substitute returns e with the binding applied. The input is never modified; unchanged
// sub-trees are shared with the result.
func Substitute(e Expr, b Binding) Expr {
	if b.IsIdentity() {
		return e
	}
	return substitute(e, b)
}

func substitute(e Expr, b Binding) Expr {
	switch e := e.(type) {
	case *ThisRef:
		if e.Outer == "" && b.This != nil {
			return b.This
		}
		return e
	case *Param:
		if e.Index >= 1 && e.Index <= len(b.Params) && b.Params[e.Index-1] != nil {
			return b.Params[e.Index-1]
		}
		return e
	case *LocalVar:
		if r, ok := b.Locals[e.Key()]; ok {
			return r
		}
		return e
	case *FieldAccess:
		if e.Static {
			return e
		}
		recv := substitute(e.Receiver, b)
		if recv == e.Receiver {
			return e
		}
		c := *e
		c.Receiver = recv
		return &c
	case *MethodCall:
		recv := substitute(e.Receiver, b)
		changed := recv != e.Receiver
		args := make([]Expr, len(e.Args))
		for i, a := range e.Args {
			args[i] = substitute(a, b)
			changed = changed || args[i] != a
		}
		if !changed {
			return e
		}
		c := *e
		c.Receiver, c.Args = recv, args
		return &c
	case *ArrayAccess:
		arr, idx := substitute(e.Array, b), substitute(e.Index, b)
		if arr == e.Array && idx == e.Index {
			return e
		}
		return &ArrayAccess{Array: arr, Index: idx, Type: e.Type}
	}
	return e
}
