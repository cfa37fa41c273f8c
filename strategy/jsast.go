package strategy

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/javascript"
)

// script is a parsed JavaScript test file.
type script struct {
	src  []byte
	tree *sitter.Tree
	root *sitter.Node
}

func parseScript(ctx context.Context, src []byte) (*script, error) {
	parser := sitter.NewParser()
	parser.SetLanguage(javascript.GetLanguage())

	tree, err := parser.ParseCtx(ctx, nil, src)
	if err != nil {
		return nil, fmt.Errorf("parse script: %w", err)
	}
	return &script{src: src, tree: tree, root: tree.RootNode()}, nil
}

func (s *script) Close() {
	s.tree.Close()
}

func (s *script) text(n *sitter.Node) string {
	if n == nil {
		return ""
	}
	return n.Content(s.src)
}

// member returns the object and property name of a call whose callee is a
// member expression, e.g. page.goto(...) -> (page, "goto").
func (s *script) member(call *sitter.Node) (*sitter.Node, string) {
	fn := call.ChildByFieldName("function")
	if fn == nil || fn.Type() != "member_expression" {
		return nil, ""
	}
	return fn.ChildByFieldName("object"), s.text(fn.ChildByFieldName("property"))
}

// args returns the call's argument nodes, skipping comments.
func (s *script) args(call *sitter.Node) []*sitter.Node {
	list := call.ChildByFieldName("arguments")
	if list == nil {
		return nil
	}
	var out []*sitter.Node
	for i := 0; i < int(list.NamedChildCount()); i++ {
		child := list.NamedChild(i)
		if child == nil || child.Type() == "comment" {
			continue
		}
		out = append(out, child)
	}
	return out
}

// stringValue returns the value of a plain string literal or a template
// literal without substitutions.
func (s *script) stringValue(n *sitter.Node) (string, bool) {
	switch n.Type() {
	case "string":
	case "template_string":
		for i := 0; i < int(n.NamedChildCount()); i++ {
			if n.NamedChild(i).Type() == "template_substitution" {
				return "", false
			}
		}
	default:
		return "", false
	}
	raw := s.text(n)
	if len(raw) < 2 {
		return "", false
	}
	return quoteUnescaper.Replace(raw[1 : len(raw)-1]), true
}

var quoteUnescaper = strings.NewReplacer(`\\`, `\`, `\'`, `'`, `\"`, `"`, "\\`", "`")

// chainRoot follows callee and object links down to the expression a call
// chain starts from, e.g. page.getByRole(...).first().click() -> page.
func chainRoot(n *sitter.Node) *sitter.Node {
	for n != nil {
		var next *sitter.Node
		switch n.Type() {
		case "call_expression":
			next = n.ChildByFieldName("function")
		case "member_expression":
			next = n.ChildByFieldName("object")
		case "await_expression", "parenthesized_expression":
			next = n.NamedChild(0)
		default:
			return n
		}
		if next == nil {
			return n
		}
		n = next
	}
	return nil
}

// awaitedStatement returns the expression statement when call is used as
// `await call;`, nil otherwise.
func awaitedStatement(call *sitter.Node) *sitter.Node {
	p := call.Parent()
	if p == nil || p.Type() != "await_expression" {
		return nil
	}
	g := p.Parent()
	if g == nil || g.Type() != "expression_statement" {
		return nil
	}
	return g
}

// awaitedCall returns the call awaited by an expression statement.
func awaitedCall(stmt *sitter.Node) *sitter.Node {
	expr := stmt.NamedChild(0)
	if expr == nil || expr.Type() != "await_expression" {
		return nil
	}
	call := expr.NamedChild(0)
	if call == nil || call.Type() != "call_expression" {
		return nil
	}
	return call
}

func sameNode(a, b *sitter.Node) bool {
	return a != nil && b != nil && a.StartByte() == b.StartByte() && a.EndByte() == b.EndByte() && a.Type() == b.Type()
}

// walk visits n and its named descendants pre-order. Returning false from
// visit skips the node's children.
func walk(n *sitter.Node, visit func(*sitter.Node) bool) {
	if n == nil || !visit(n) {
		return
	}
	for i := 0; i < int(n.NamedChildCount()); i++ {
		walk(n.NamedChild(i), visit)
	}
}

// lineIndent returns the leading whitespace of the line containing offset.
func lineIndent(src []byte, offset uint32) string {
	start := bytes.LastIndexByte(src[:offset], '\n') + 1
	end := start
	for end < len(src) && (src[end] == ' ' || src[end] == '\t') {
		end++
	}
	return string(src[start:end])
}

// edit replaces src[start:end] with text. Insertions have start == end.
type edit struct {
	start, end uint32
	text       string
}

// applyEdits applies non-overlapping edits; an edit overlapping an earlier
// one is dropped.
func applyEdits(src []byte, edits []edit) ([]byte, int) {
	sort.SliceStable(edits, func(i, j int) bool { return edits[i].start < edits[j].start })

	var b bytes.Buffer
	var pos uint32
	applied := 0
	for _, e := range edits {
		if e.start < pos {
			continue
		}
		b.Write(src[pos:e.start])
		b.WriteString(e.text)
		pos = e.end
		applied++
	}
	b.Write(src[pos:])
	return b.Bytes(), applied
}

// rewrite applies edits and keeps the result only if it does not introduce
// a syntax error.
func rewrite(ctx context.Context, s *script, edits []edit) (string, int) {
	if len(edits) == 0 {
		return string(s.src), 0
	}
	out, applied := applyEdits(s.src, edits)
	if !s.root.HasError() {
		check, err := parseScript(ctx, out)
		if err != nil {
			return string(s.src), 0
		}
		defer check.Close()
		if check.root.HasError() {
			return string(s.src), 0
		}
	}
	return string(out), applied
}

// indentContinuation prefixes every line after the first with pad.
func indentContinuation(text, pad string) string {
	return strings.ReplaceAll(text, "\n", "\n"+pad)
}

// jsString quotes v as a single-quoted JavaScript string literal.
func jsString(v string) string {
	r := strings.NewReplacer(`\`, `\\`, `'`, `\'`, "\n", `\n`, "\r", `\r`)
	return "'" + r.Replace(v) + "'"
}
