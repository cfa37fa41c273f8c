package strategy

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/c360studio/semheal/artifact"
)

const (
	pageIdentifier = "page"
	retryDelay     = "await page.waitForTimeout(1000);"
)

// Advanced wraps each awaited page interaction in a guard that waits and
// retries once, and widens navigation waits. Statements already inside a try
// block are left alone, so reapplying it changes nothing.
type Advanced struct {
	logger *slog.Logger
}

// NewAdvanced creates the advanced strategy.
func NewAdvanced(logger *slog.Logger) *Advanced {
	if logger == nil {
		logger = slog.Default()
	}
	return &Advanced{logger: logger}
}

// Name implements Strategy.
func (a *Advanced) Name() artifact.Version { return artifact.VersionAdvanced }

// Apply implements Strategy.
func (a *Advanced) Apply(ctx context.Context, in Input) (*Candidate, error) {
	s, err := parseScript(ctx, []byte(in.Source))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoCandidate, err)
	}
	widened, navEdits := rewrite(ctx, s, widenNavigation(s))
	s.Close()

	s, err = parseScript(ctx, []byte(widened))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoCandidate, err)
	}
	defer s.Close()

	guards := guardActions(s)
	out, applied := rewrite(ctx, s, guards)
	if applied == 0 && len(guards) > 0 {
		a.logger.Debug("Advanced repair kept navigation changes only", "guards", len(guards))
	}

	return &Candidate{Source: Finalize(out), Edits: navEdits + applied}, nil
}

// guardActions plans a guard around every awaited page interaction outside
// a try statement.
func guardActions(s *script) []edit {
	var edits []edit
	walk(s.root, func(n *sitter.Node) bool {
		switch n.Type() {
		case "try_statement":
			return false
		case "expression_statement":
			call := s.pageAction(n)
			if call == nil {
				return true
			}
			edits = append(edits, edit{start: n.StartByte(), end: n.EndByte(), text: s.guard(n, call)})
			return false
		}
		return true
	})
	return edits
}

// pageAction returns the awaited call of `await page.<...>(...);` statements
// that interact with the page. Explicit waits are not wrapped.
func (s *script) pageAction(stmt *sitter.Node) *sitter.Node {
	call := awaitedCall(stmt)
	if call == nil {
		return nil
	}
	root := chainRoot(call)
	if root == nil || root.Type() != "identifier" || s.text(root) != pageIdentifier {
		return nil
	}
	_, prop := s.member(call)
	if prop == "" || prop == "waitForTimeout" || prop == "waitForLoadState" {
		return nil
	}
	return call
}

func (s *script) guard(stmt, call *sitter.Node) string {
	indent := lineIndent(s.src, stmt.StartByte())
	body := strings.TrimSpace(s.text(stmt))
	if !strings.HasSuffix(body, ";") {
		body += ";"
	}

	fallback := body
	if _, prop := s.member(call); prop == "click" && len(s.args(call)) == 0 {
		fallback = "await " + s.text(call.ChildByFieldName("function")) + "({ force: true });"
	}

	inner := indent + "  "
	var b strings.Builder
	b.WriteString("try {\n")
	b.WriteString(inner + indentContinuation(body, "  ") + "\n")
	b.WriteString(indent + "} catch (healError) {\n")
	b.WriteString(inner + retryDelay + "\n")
	b.WriteString(inner + indentContinuation(fallback, "  ") + "\n")
	b.WriteString(indent + "}")
	return b.String()
}
