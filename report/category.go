package report

import (
	"regexp"
	"strings"
)

// Failure categories derived from an error summary.
const (
	CategorySelectorBroken   = "selector_broken"
	CategoryTimingFlaky      = "timing_flaky"
	CategoryNetworkFlaky     = "network_flaky"
	CategoryAssertionFailed  = "assertion_failed"
	CategoryNavigationFailed = "navigation_failed"
	CategoryUnknown          = "unknown"
)

var (
	locatorSelectorPattern = regexp.MustCompile(`locator\(\s*(?:'([^']+)'|"([^"]+)"|` + "`([^`]+)`" + `)\s*\)`)
	quotedSelectorPattern  = regexp.MustCompile(`selector\s+(?:'([^']+)'|"([^"]+)")`)
	pageActionPattern      = regexp.MustCompile(`\bpage\.(?:click|dblclick|tap|check|uncheck|hover|fill|type|press|selectOption|textContent|innerText|isVisible):`)
)

// categoryRule maps a summary matcher to a category. Rules are evaluated in
// order; the first match wins.
type categoryRule struct {
	match    func(msg string) bool
	category string
}

var categoryRules = []categoryRule{
	{
		match:    func(msg string) bool { return IsSelectorFailure(msg) },
		category: CategorySelectorBroken,
	},
	{
		match: func(msg string) bool {
			return strings.Contains(msg, "net::ERR_") || strings.Contains(msg, "ECONNREFUSED") ||
				strings.Contains(msg, "NS_ERROR_")
		},
		category: CategoryNetworkFlaky,
	},
	{
		match: func(msg string) bool {
			return strings.Contains(msg, "page.goto") || strings.Contains(msg, "waitForURL") ||
				strings.Contains(msg, "navigation")
		},
		category: CategoryNavigationFailed,
	},
	{
		match: func(msg string) bool {
			return strings.Contains(msg, "expect(") || strings.Contains(msg, "toBe") ||
				strings.Contains(msg, "toHave") || strings.Contains(msg, "toEqual")
		},
		category: CategoryAssertionFailed,
	},
	{
		match: func(msg string) bool {
			return strings.Contains(msg, "Timeout") || strings.Contains(msg, "timeout") ||
				strings.Contains(msg, "not attached") || strings.Contains(msg, "detached")
		},
		category: CategoryTimingFlaky,
	},
}

// Categorize assigns a failure category to a normalised error summary.
func Categorize(summary string) string {
	for _, rule := range categoryRules {
		if rule.match(summary) {
			return rule.category
		}
	}
	return CategoryUnknown
}

// IsSelectorFailure reports whether the summary describes an element lookup
// that failed: a locator or page action timing out, a missing selector, or a
// strict mode violation.
func IsSelectorFailure(summary string) bool {
	if _, ok := SelectorFromError(summary); ok {
		return true
	}
	lower := strings.ToLower(summary)
	switch {
	case strings.Contains(lower, "strict mode violation"):
		return true
	case strings.Contains(lower, "waiting for selector"), strings.Contains(lower, "waiting for locator"):
		return true
	case strings.HasPrefix(lower, "locator.") || strings.Contains(lower, " locator."):
		return true
	case pageActionPattern.MatchString(summary):
		return true
	case strings.Contains(lower, "no element") || strings.Contains(lower, "element not found"):
		return true
	}
	return false
}

// SelectorFromError extracts the selector literal named by an error summary,
// e.g. locator('#login') or selector "#login".
func SelectorFromError(summary string) (string, bool) {
	for _, re := range []*regexp.Regexp{locatorSelectorPattern, quotedSelectorPattern} {
		if m := re.FindStringSubmatch(summary); m != nil {
			for _, g := range m[1:] {
				if g != "" {
					return g, true
				}
			}
		}
	}
	return "", false
}
