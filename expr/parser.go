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

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/alecthomas/participle/v2"
	"github.com/alecthomas/participle/v2/lexer"
	lru "github.com/hashicorp/golang-lru/v2"
)

var _lexer = lexer.MustSimple([]lexer.SimpleRule{
	{Name: "Param", Pattern: `#[0-9]+`},
	{Name: "String", Pattern: `"(?:\\.|[^"\\])*"`},
	{Name: "Int", Pattern: `-?[0-9]+`},
	{Name: "Ident", Pattern: `[a-zA-Z_$][a-zA-Z0-9_$]*`},
	{Name: "Punct", Pattern: `[.,()\[\]]`},
	{Name: "Whitespace", Pattern: `\s+`},
})

// The syntax trees below are produced by the participle grammar and resolved against a Scope
// afterwards; they are never exposed.

type syntaxExpr struct {
	Head *syntaxPrimary  `@@`
	Tail []*syntaxSuffix `@@*`
}

type syntaxPrimary struct {
	Param  *string     `  @Param`
	Int    *string     `| @Int`
	String *string     `| @String`
	Paren  *syntaxExpr `| "(" @@ ")"`
	Name   *syntaxName `| @@`
}

type syntaxName struct {
	Ident string      `@Ident`
	Call  *syntaxArgs `@@?`
}

type syntaxArgs struct {
	Open bool          `@"("`
	Args []*syntaxExpr `( @@ ( "," @@ )* )? ")"`
}

type syntaxSuffix struct {
	Index  *syntaxExpr `  "[" @@ "]"`
	Member *syntaxName `| "." @@`
}

// Parser parses flow expression strings. It is safe for concurrent use; syntax trees are cached
// per string since the same contract text is typically parsed once per call site.
type Parser struct {
	grammar *participle.Parser[syntaxExpr]
	cache   *lru.Cache[string, *syntaxExpr]
}

// NewParser builds a parser whose syntax cache holds up to cacheSize entries.
func NewParser(cacheSize int) (*Parser, error) {
	grammar, err := participle.Build[syntaxExpr](
		participle.Lexer(_lexer),
		participle.Elide("Whitespace"),
		participle.Unquote("String"),
		participle.UseLookahead(2),
	)
	if err != nil {
		return nil, fmt.Errorf("build flow expression grammar: %w", err)
	}
	cache, err := lru.New[string, *syntaxExpr](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("create flow expression cache: %w", err)
	}
	return &Parser{grammar: grammar, cache: cache}, nil
}

// Parse parses text and resolves every name against scope.
func (p *Parser) Parse(text string, scope Scope) (Expr, error) {
	tree, err := p.syntax(text)
	if err != nil {
		return nil, err
	}
	r := &resolver{text: text, scope: scope}
	return r.expr(tree)
}

// ParseDeterministic is like Parse but additionally rejects non-deterministic method calls, as
// required for expressions that a dependent qualifier depends on.
func (p *Parser) ParseDeterministic(text string, scope Scope) (Expr, error) {
	e, err := p.Parse(text, scope)
	if err != nil {
		return nil, err
	}
	if !IsDeterministic(e) {
		return nil, &ParseError{Kind: ErrNotDeterministic, Expression: text, Detail: "method calls must be deterministic"}
	}
	return e, nil
}

func (p *Parser) syntax(text string) (*syntaxExpr, error) {
	text = strings.TrimSpace(text)
	if tree, ok := p.cache.Get(text); ok {
		return tree, nil
	}
	tree, err := p.grammar.ParseString("", text)
	if err != nil {
		return nil, &ParseError{Kind: ErrSyntax, Expression: text, Detail: "invalid syntax", Err: err}
	}
	p.cache.Add(text, tree)
	return tree, nil
}

type resolver struct {
	text  string
	scope Scope
}

func (r *resolver) fail(kind ErrorKind, format string, args ...any) error {
	return &ParseError{Kind: kind, Expression: r.text, Detail: fmt.Sprintf(format, args...)}
}

func (r *resolver) expr(s *syntaxExpr) (Expr, error) {
	cur, pkg, err := r.primary(s.Head)
	if err != nil {
		return nil, err
	}
	for _, suffix := range s.Tail {
		if suffix.Index != nil {
			if pkg != "" {
				return nil, r.fail(ErrPackageOnly, "package %s cannot be indexed", pkg)
			}
			cur, err = r.index(cur, suffix.Index)
		} else {
			cur, pkg, err = r.member(cur, pkg, suffix.Member)
		}
		if err != nil {
			return nil, err
		}
	}
	if pkg != "" {
		return nil, r.fail(ErrPackageOnly, "%s is a package, not an expression", pkg)
	}
	if c, ok := cur.(*ClassName); ok {
		return nil, r.fail(ErrSyntax, "class name %s is not an expression", c.Name)
	}
	return cur, nil
}

func (r *resolver) primary(p *syntaxPrimary) (Expr, string, error) {
	switch {
	case p.Param != nil:
		index, err := strconv.Atoi(strings.TrimPrefix(*p.Param, "#"))
		if err != nil || index < 1 {
			return nil, "", r.fail(ErrSyntax, "parameter index must be positive")
		}
		if index > r.scope.NumParams() {
			return nil, "", r.fail(ErrIndexTooBig, "#%d exceeds the %d formal parameters", index, r.scope.NumParams())
		}
		return &Param{Index: index, Type: r.scope.ParamType(index)}, "", nil
	case p.Int != nil:
		return &Literal{Kind: IntLiteral, Value: *p.Int}, "", nil
	case p.String != nil:
		return &Literal{Kind: StringLiteral, Value: *p.String}, "", nil
	case p.Paren != nil:
		e, err := r.expr(p.Paren)
		return e, "", err
	}
	return r.bareName(p.Name)
}

func (r *resolver) this() (Expr, error) {
	if r.scope.Static() {
		return nil, r.fail(ErrStaticThis, "`this` is not available in a static context")
	}
	return &ThisRef{Class: r.scope.Class()}, nil
}

// bareName resolves an identifier without receiver: keywords, locals, fields and methods of the
// enclosing class, class names and package prefixes, in that order.
func (r *resolver) bareName(n *syntaxName) (Expr, string, error) {
	if n.Call != nil {
		args, err := r.args(n.Call)
		if err != nil {
			return nil, "", err
		}
		info, ok := r.scope.Method(r.scope.Class(), n.Ident, len(args))
		if !ok {
			return nil, "", r.fail(ErrUnresolved, "method %s/%d not found", n.Ident, len(args))
		}
		recv, err := r.implicitReceiver(info.Static, info.Owner)
		if err != nil {
			return nil, "", err
		}
		return methodCall(recv, n.Ident, info, args), "", nil
	}

	switch n.Ident {
	case "this":
		e, err := r.this()
		return e, "", err
	case "null":
		return &Literal{Kind: NullLiteral}, "", nil
	case "true", "false":
		return &Literal{Kind: BoolLiteral, Value: n.Ident}, "", nil
	}
	if local, ok := r.scope.Local(n.Ident); ok {
		return local, "", nil
	}
	if info, ok := r.scope.Field(r.scope.Class(), n.Ident); ok {
		recv, err := r.implicitReceiver(info.Static, info.Owner)
		if err != nil {
			return nil, "", err
		}
		return fieldAccess(recv, n.Ident, info), "", nil
	}
	if cls, ok := r.scope.ClassNamed(n.Ident); ok {
		return &ClassName{Name: cls}, "", nil
	}
	if r.scope.IsPackage(n.Ident) {
		return nil, n.Ident, nil
	}
	return nil, "", r.fail(ErrUnresolved, "%s not found", n.Ident)
}

func (r *resolver) implicitReceiver(static bool, owner string) (Expr, error) {
	if static {
		return &ClassName{Name: owner}, nil
	}
	return r.this()
}

func (r *resolver) member(recv Expr, pkg string, n *syntaxName) (Expr, string, error) {
	if pkg != "" {
		qualified := pkg + "." + n.Ident
		if n.Call != nil {
			return nil, "", r.fail(ErrPackageOnly, "%s is a package, not a class", pkg)
		}
		if cls, ok := r.scope.ClassNamed(qualified); ok {
			return &ClassName{Name: cls}, "", nil
		}
		if r.scope.IsPackage(qualified) {
			return nil, qualified, nil
		}
		return nil, "", r.fail(ErrUnresolved, "%s not found", qualified)
	}

	_, recvIsClass := recv.(*ClassName)
	if n.Ident == "this" && n.Call == nil {
		if !recvIsClass {
			return nil, "", r.fail(ErrSyntax, "`.this` must follow a class name")
		}
		outer := recv.(*ClassName).Name
		if outer == r.scope.Class() {
			e, err := r.this()
			return e, "", err
		}
		return &ThisRef{Outer: outer, Class: outer}, "", nil
	}

	typeName := recv.TypeName()
	if n.Call != nil {
		args, err := r.args(n.Call)
		if err != nil {
			return nil, "", err
		}
		info, ok := r.scope.Method(typeName, n.Ident, len(args))
		if !ok {
			return nil, "", r.fail(ErrUnresolved, "method %s.%s/%d not found", typeName, n.Ident, len(args))
		}
		if err := r.checkAccess(recvIsClass, info.Static, info.Private, info.Owner, n.Ident); err != nil {
			return nil, "", err
		}
		if info.Static {
			recv = &ClassName{Name: info.Owner}
		}
		return methodCall(recv, n.Ident, info, args), "", nil
	}

	if strings.HasSuffix(typeName, "[]") && n.Ident == "length" {
		return &FieldAccess{Receiver: recv, Name: "length", Owner: typeName, Type: "int", Final: true}, "", nil
	}
	info, ok := r.scope.Field(typeName, n.Ident)
	if !ok {
		return nil, "", r.fail(ErrUnresolved, "field %s.%s not found", typeName, n.Ident)
	}
	if err := r.checkAccess(recvIsClass, info.Static, info.Private, info.Owner, n.Ident); err != nil {
		return nil, "", err
	}
	if info.Static {
		// Canonicalize `this.f` and `C.f` for static fields to the same expression.
		recv = &ClassName{Name: info.Owner}
	}
	return fieldAccess(recv, n.Ident, info), "", nil
}

func (r *resolver) checkAccess(viaClass, static, private bool, owner, name string) error {
	if private && owner != r.scope.Class() {
		return r.fail(ErrInaccessible, "%s.%s is private", owner, name)
	}
	if viaClass && !static {
		return r.fail(ErrUnresolved, "%s.%s is not static", owner, name)
	}
	return nil
}

func (r *resolver) index(recv Expr, index *syntaxExpr) (Expr, error) {
	t := recv.TypeName()
	if !strings.HasSuffix(t, "[]") {
		return nil, r.fail(ErrSyntax, "%s is not an array", recv)
	}
	idx, err := r.expr(index)
	if err != nil {
		return nil, err
	}
	return &ArrayAccess{Array: recv, Index: idx, Type: strings.TrimSuffix(t, "[]")}, nil
}

func (r *resolver) args(call *syntaxArgs) ([]Expr, error) {
	args := make([]Expr, 0, len(call.Args))
	for _, a := range call.Args {
		e, err := r.expr(a)
		if err != nil {
			return nil, err
		}
		args = append(args, e)
	}
	return args, nil
}

func fieldAccess(recv Expr, name string, info FieldInfo) *FieldAccess {
	return &FieldAccess{
		Receiver: recv,
		Name:     name,
		Owner:    info.Owner,
		Type:     info.Type,
		Static:   info.Static,
		Final:    info.Final,
	}
}

func methodCall(recv Expr, name string, info MethodInfo, args []Expr) *MethodCall {
	return &MethodCall{
		Receiver:       recv,
		Name:           name,
		Owner:          info.Owner,
		Type:           info.Type,
		Args:           args,
		Static:         info.Static,
		Deterministic:  info.Deterministic,
		SideEffectFree: info.SideEffectFree,
	}
}
