// Package strategy holds the repair strategies applied to a failing test
// script between attempts, and the post-processing shared by every candidate.
//
// The deterministic strategies (local, advanced) operate on a tree-sitter
// JavaScript syntax tree rather than on raw text, so each rewrite is anchored
// to a recognised statement shape and is a no-op on code it already produced.
package strategy

import (
	"context"
	"errors"
	"regexp"
	"strings"

	"github.com/c360studio/semheal/artifact"
)

// ErrNoCandidate is returned when a strategy cannot produce replacement code.
var ErrNoCandidate = errors.New("no repair candidate")

// PlaywrightImport is prepended to scripts that do not import the runner.
const PlaywrightImport = "import { test, expect } from '@playwright/test';"

// Input is the failing attempt a strategy repairs.
type Input struct {
	// Source is the current artifact's code, never the original.
	Source string
	// ErrorSummary is the classifier's normalised error line.
	ErrorSummary string
	// ArtifactPath is the failure screenshot, if the report had one.
	ArtifactPath string
}

// Candidate is replacement code produced by a strategy.
type Candidate struct {
	Source string
	// Prompt is the model prompt that produced the candidate, if any.
	Prompt string
	// Edits counts the rewrites a deterministic strategy applied.
	Edits int
	// ScreenshotUsed is set when failure evidence was sent to the model.
	ScreenshotUsed bool
}

// Strategy produces a new candidate from a failing attempt.
type Strategy interface {
	Name() artifact.Version
	Apply(ctx context.Context, in Input) (*Candidate, error)
}

// ForAttempt returns the strategy version applied after the given attempt
// fails: 1 -> local, 2 -> model, 3 -> advanced.
func ForAttempt(failedAttempt int) (artifact.Version, bool) {
	if failedAttempt < 1 {
		return "", false
	}
	return artifact.ForAttempt(failedAttempt + 1)
}

// Set resolves strategies by version.
type Set map[artifact.Version]Strategy

// NewSet indexes strategies by name.
func NewSet(strategies ...Strategy) Set {
	set := make(Set, len(strategies))
	for _, s := range strategies {
		set[s.Name()] = s
	}
	return set
}

// ForAttempt returns the strategy to apply after failedAttempt.
func (s Set) ForAttempt(failedAttempt int) (Strategy, bool) {
	v, ok := ForAttempt(failedAttempt)
	if !ok {
		return nil, false
	}
	st, ok := s[v]
	return st, ok
}

var (
	esmImportPattern = regexp.MustCompile(`(?m)^\s*import\s[^;]*?from\s*['"]@playwright/test['"]`)
	requirePattern   = regexp.MustCompile(`require\(\s*['"]@playwright/test['"]\s*\)`)
)

// Finalize makes sure the script imports the Playwright test runner.
func Finalize(source string) string {
	if esmImportPattern.MatchString(source) || requirePattern.MatchString(source) {
		return source
	}
	return PlaywrightImport + "\n\n" + strings.TrimLeft(source, "\n")
}
