package strategy

import (
	sitter "github.com/smacker/go-tree-sitter"
)

const (
	navigationOptions = "{ waitUntil: 'domcontentloaded', timeout: 60000 }"
	loadStateWait     = ".waitForLoadState('networkidle');"
)

// widenNavigation gives every single-argument goto call explicit wait
// options, and follows awaited ones with a network-idle wait. Calls that
// already carry options are left alone, which keeps the rewrite idempotent.
func widenNavigation(s *script) []edit {
	var edits []edit
	walk(s.root, func(n *sitter.Node) bool {
		if n.Type() != "call_expression" {
			return true
		}
		owner, prop := s.member(n)
		if owner == nil || prop != "goto" {
			return true
		}
		args := s.args(n)
		if len(args) != 1 {
			return true
		}

		end := args[0].EndByte()
		edits = append(edits, edit{start: end, end: end, text: ", " + navigationOptions})

		if stmt := awaitedStatement(n); stmt != nil && !s.followedByLoadState(stmt) {
			indent := lineIndent(s.src, stmt.StartByte())
			at := stmt.EndByte()
			edits = append(edits, edit{start: at, end: at, text: "\n" + indent + "await " + s.text(owner) + loadStateWait})
		}
		return true
	})
	return edits
}

func (s *script) followedByLoadState(stmt *sitter.Node) bool {
	next := stmt.NextNamedSibling()
	if next == nil || next.Type() != "expression_statement" {
		return false
	}
	call := awaitedCall(next)
	if call == nil {
		return false
	}
	_, prop := s.member(call)
	return prop == "waitForLoadState"
}
