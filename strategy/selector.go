package strategy

import (
	"regexp"
	"strings"
	"unicode"

	sitter "github.com/smacker/go-tree-sitter"
)

// lookupKind groups actions by the element role they usually target.
type lookupKind int

const (
	lookupGeneric lookupKind = iota
	lookupClickable
	lookupEditable
)

var actionLookups = map[string]lookupKind{
	"click":             lookupClickable,
	"dblclick":          lookupClickable,
	"tap":               lookupClickable,
	"check":             lookupClickable,
	"uncheck":           lookupClickable,
	"hover":             lookupClickable,
	"fill":              lookupEditable,
	"type":              lookupEditable,
	"pressSequentially": lookupEditable,
	"press":             lookupEditable,
	"clear":             lookupEditable,
	"selectOption":      lookupGeneric,
	"textContent":       lookupGeneric,
	"innerText":         lookupGeneric,
	"isVisible":         lookupGeneric,
	"waitFor":           lookupGeneric,
}

var (
	attrPattern    = regexp.MustCompile(`\[([\w-]+)\s*[*^$~|]?=\s*['"]?([^'"\]]+)['"]?\s*(?:i\s*)?\]`)
	hasTextPattern = regexp.MustCompile(`:(?:has-text|text-is|text)\(\s*['"]([^'"]+)['"]\s*\)`)
	camelBoundary  = regexp.MustCompile(`([a-z0-9])([A-Z])`)
)

// Tokens that name a widget rather than describe it.
var noiseWords = map[string]bool{
	"btn": true, "button": true, "input": true, "field": true, "txt": true,
	"text": true, "link": true, "lnk": true, "el": true, "element": true,
	"container": true, "wrapper": true, "div": true, "span": true, "a": true,
}

// Page-level actions that take a selector as their first argument, mapped to
// the number of arguments they need before the selector can be told apart
// from a value passed to a locator of the same name.
var pageShorthands = map[string]int{
	"click":        1,
	"dblclick":     1,
	"tap":          1,
	"check":        1,
	"uncheck":      1,
	"hover":        1,
	"textContent":  1,
	"innerText":    1,
	"isVisible":    1,
	"fill":         2,
	"type":         2,
	"press":        2,
	"selectOption": 2,
}

// rewriteSelectors replaces page.locator('<literal>') lookups, and the
// page.click('<literal>') style shorthands, with tolerant role, text,
// placeholder, label or test-id lookups. With targets, only lookups of those
// selectors are rewritten; without, every literal lookup chained to an
// action is.
func rewriteSelectors(s *script, targets map[string]bool) []edit {
	var edits []edit
	walk(s.root, func(n *sitter.Node) bool {
		if n.Type() != "call_expression" {
			return true
		}
		owner, prop := s.member(n)
		if owner == nil || !plainOwner(owner) {
			return true
		}
		if prop != "locator" {
			if e, ok := s.rewriteShorthand(n, owner, prop, targets); ok {
				edits = append(edits, e)
			}
			return true
		}
		args := s.args(n)
		if len(args) != 1 {
			return true
		}
		selector, ok := s.stringValue(args[0])
		if !ok {
			return true
		}

		action, chained := s.chainedAction(n)
		if len(targets) > 0 {
			if !targets[selector] {
				return true
			}
		} else if !chained {
			return true
		}

		if replacement, ok := tolerantLookup(s.text(owner), selector, actionLookups[action]); ok {
			edits = append(edits, edit{start: n.StartByte(), end: n.EndByte(), text: replacement})
		}
		return true
	})
	return edits
}

// rewriteShorthand turns page.fill('#user', 'alice') into
// <tolerant lookup>.fill('alice').
func (s *script) rewriteShorthand(call, owner *sitter.Node, action string, targets map[string]bool) (edit, bool) {
	minArgs, ok := pageShorthands[action]
	if !ok || !pageReceiver(s, owner) {
		return edit{}, false
	}
	args := s.args(call)
	if len(args) < minArgs {
		return edit{}, false
	}
	selector, ok := s.stringValue(args[0])
	if !ok {
		return edit{}, false
	}
	if len(targets) > 0 && !targets[selector] {
		return edit{}, false
	}

	lookup, ok := tolerantLookup(s.text(owner), selector, actionLookups[action])
	if !ok {
		return edit{}, false
	}
	var rest string
	if len(args) > 1 {
		rest = string(s.src[args[1].StartByte():args[len(args)-1].EndByte()])
	}
	return edit{
		start: call.StartByte(),
		end:   call.EndByte(),
		text:  lookup + "." + action + "(" + rest + ")",
	}, true
}

// pageReceiver accepts page and this.page, where a leading string argument is
// a selector rather than a value.
func pageReceiver(s *script, n *sitter.Node) bool {
	switch n.Type() {
	case "identifier":
		return s.text(n) == "page"
	case "member_expression":
		return s.text(n.ChildByFieldName("property")) == "page"
	}
	return false
}

// plainOwner accepts page and this.page style receivers, not call results.
func plainOwner(n *sitter.Node) bool {
	switch n.Type() {
	case "identifier", "this":
		return true
	case "member_expression":
		return plainOwner(n.ChildByFieldName("object"))
	}
	return false
}

// chainedAction returns the action invoked directly on the lookup, e.g.
// "click" for page.locator('#go').click().
func (s *script) chainedAction(lookup *sitter.Node) (string, bool) {
	parent := lookup.Parent()
	if parent == nil || parent.Type() != "member_expression" || !sameNode(parent.ChildByFieldName("object"), lookup) {
		return "", false
	}
	call := parent.Parent()
	if call == nil || call.Type() != "call_expression" || !sameNode(call.ChildByFieldName("function"), parent) {
		return "", false
	}
	action := s.text(parent.ChildByFieldName("property"))
	if _, known := actionLookups[action]; !known {
		return "", false
	}
	return action, true
}

// tolerantLookup builds the replacement expression for a failed selector.
func tolerantLookup(owner, selector string, kind lookupKind) (string, bool) {
	sel := strings.TrimSpace(selector)

	if rest, ok := strings.CutPrefix(sel, "text="); ok {
		return owner + ".getByText(" + jsString(strings.Trim(rest, `'"`)) + ").first()", true
	}
	if m := hasTextPattern.FindStringSubmatch(sel); m != nil {
		return owner + ".getByText(" + jsString(m[1]) + ").first()", true
	}

	var labelSource string
	if m := attrPattern.FindStringSubmatch(sel); m != nil {
		attr, value := strings.ToLower(m[1]), strings.TrimSpace(m[2])
		switch attr {
		case "placeholder":
			return owner + ".getByPlaceholder(" + jsString(value) + ")", true
		case "data-testid", "data-test-id", "data-test":
			return owner + ".getByTestId(" + jsString(value) + ")", true
		case "aria-label":
			return owner + ".getByLabel(" + jsString(value) + ")", true
		case "title":
			return owner + ".getByTitle(" + jsString(value) + ")", true
		case "alt":
			return owner + ".getByAltText(" + jsString(value) + ")", true
		}
		labelSource = value
	} else {
		labelSource = sel
	}

	label := labelPattern(labelSource)
	if label == "" {
		return "", false
	}
	re := "/" + label + "/i"

	switch kind {
	case lookupClickable:
		return owner + ".getByRole('button', { name: " + re + " }).or(" + owner + ".getByText(" + re + ")).first()", true
	case lookupEditable:
		return owner + ".getByRole('textbox', { name: " + re + " }).or(" + owner + ".getByPlaceholder(" + re + ")).first()", true
	default:
		return owner + ".getByText(" + re + ").first()", true
	}
}

// labelPattern turns selector tokens into a case-insensitive regex body that
// tolerates separators, e.g. "#login-btn" -> "login", "#sign_in" -> "sign[\s_-]*in".
func labelPattern(selector string) string {
	selector = camelBoundary.ReplaceAllString(selector, "$1 $2")
	words := strings.FieldsFunc(strings.ToLower(selector), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})

	var kept []string
	for _, w := range words {
		if !noiseWords[w] {
			kept = append(kept, w)
		}
	}
	if len(kept) == 0 {
		kept = words
	}
	for i, w := range kept {
		kept[i] = regexp.QuoteMeta(w)
	}
	return strings.Join(kept, `[\s_-]*`)
}
