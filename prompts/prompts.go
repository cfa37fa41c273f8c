// Package prompts builds the model prompts for script generation and repair.
package prompts

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/c360studio/semheal/testcase"
)

// BlankPage is the start URL used when a test case names none.
const BlankPage = "about:blank"

var urlPattern = regexp.MustCompile(`https?://[^\s"'<>)\]]+`)

// StartURL returns the first http(s) URL found in the test case, searching
// test data, then step test data, step actions and expected results.
func StartURL(tc testcase.TestCase) string {
	var sources []string
	sources = append(sources, tc.TestData...)
	for _, s := range tc.Steps {
		sources = append(sources, s.TestData...)
	}
	for _, s := range tc.Steps {
		sources = append(sources, s.Action)
	}
	for _, s := range tc.Steps {
		sources = append(sources, s.ExpectedResult)
	}

	for _, text := range sources {
		if u := urlPattern.FindString(text); u != "" {
			return strings.TrimRight(u, ".,;:")
		}
	}
	return BlankPage
}

// PageContext fetches a readable summary of a page for the generation prompt.
type PageContext interface {
	Fetch(ctx context.Context, url string) (string, error)
}

// Builder assembles generation prompts, optionally enriched with the start
// page's content.
type Builder struct {
	pages  PageContext
	logger *slog.Logger
}

// NewBuilder creates a builder. pages may be nil.
func NewBuilder(pages PageContext, logger *slog.Logger) *Builder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Builder{pages: pages, logger: logger}
}

// Generation builds the prompt asking for a complete test file. A page
// context failure only drops the context section.
func (b *Builder) Generation(ctx context.Context, tc testcase.TestCase) string {
	var pageContext string
	if start := StartURL(tc); b.pages != nil && start != BlankPage {
		content, err := b.pages.Fetch(ctx, start)
		if err != nil {
			b.logger.Debug("Page context unavailable", "url", start, "error", err)
		} else {
			pageContext = content
		}
	}
	return Generation(tc, pageContext)
}

// Generation renders the generation prompt for tc.
func Generation(tc testcase.TestCase, pageContext string) string {
	id := tc.ID
	if id == "" {
		id = "Unknown"
	}
	desc := tc.Description
	if desc == "" {
		desc = "N/A"
	}

	var b strings.Builder
	line := func(format string, args ...any) {
		fmt.Fprintf(&b, format, args...)
		b.WriteByte('\n')
	}

	line("You are a Playwright test generator.")
	line("Return only a complete JavaScript test file for Playwright's @playwright/test runner.")
	line("Constraints:")
	line("- Use proper imports: import { test, expect } from '@playwright/test'")
	line("- Navigate to the start URL and follow the steps.")
	line("- Put realistic waits (waitForLoadState, small timeouts) where needed. Avoid arbitrary long waits.")
	line("- Do not wrap your answer in Markdown fences.")
	line("")
	line("TestCaseID: %s", id)
	line("Description: %s", desc)
	line("StartURL: %s", StartURL(tc))
	if tc.Prerequisite != "" {
		line("Prerequisite: %s", tc.Prerequisite)
	}
	line("")
	line("TestData:")
	for _, d := range tc.TestData {
		line("- %s", d)
	}
	line("")
	line("Steps:")
	for _, s := range tc.Steps {
		line("- %s", stepText(s))
	}
	line("")
	line("ExpectedResults:")
	for _, s := range tc.Steps {
		if s.ExpectedResult != "" {
			line("- %s", s.ExpectedResult)
		}
	}

	if pageContext != "" {
		line("")
		line("Start page content (Markdown, may be truncated):")
		b.WriteString(pageContext)
	}

	return strings.TrimRight(b.String(), "\n")
}

func stepText(s testcase.Step) string {
	if s.Action != "" {
		return s.Action
	}
	data, err := json.Marshal(s)
	if err != nil {
		return ""
	}
	return string(data)
}

// Repair renders the prompt asking for a corrected version of a failing test.
func Repair(source, errorSummary string, screenshot bool) string {
	lines := []string{
		"The following Playwright test failed. Fix it.",
		"Return only the corrected JavaScript file content for @playwright/test (no markdown fences).",
		"",
		"Existing failing code:",
		"```javascript",
		source,
		"```",
		"",
		"Error message:",
		errorSummary,
	}
	if screenshot {
		lines = append(lines, "", "A screenshot of the page at the moment of failure is attached.")
	}
	return strings.Join(lines, "\n")
}
