// Package report extracts a normalised error summary and failure evidence from
// the Playwright JSON reporter's run report.
//
// The report is a nested tree of suites, specs, tests, results and steps. It is
// walked pre-order, depth first, visiting children in document order under the
// keys suites, specs, tests, results and steps (in that order). The first node
// exposing an error message supplies the summary; the first node exposing an
// image attachment with a path supplies the artifact.
package report

import (
	"encoding/json"
	"os"
	"regexp"
	"strings"
)

// UnknownError is the summary returned when no error can be extracted.
const UnknownError = "Unknown error"

// childKeys are the report keys that hold nested nodes, in traversal order.
var childKeys = []string{"suites", "specs", "tests", "results", "steps"}

// ansiPattern matches terminal colour and cursor control sequences.
var ansiPattern = regexp.MustCompile(`\x1b\[[0-9;?]*[A-Za-z]`)

// Classification is the outcome of classifying one run report.
type Classification struct {
	// ErrorSummary is the first line of the first error, or UnknownError.
	ErrorSummary string `json:"error"`
	// ArtifactPath is the first screenshot attachment path, if any.
	ArtifactPath string `json:"screenshotPath,omitempty"`
	// Category is a coarse failure category derived from ErrorSummary.
	Category string `json:"category"`
}

// HasArtifact reports whether failure evidence was found.
func (c Classification) HasArtifact() bool {
	return c.ArtifactPath != ""
}

// Classify reads and classifies the report at path. It never fails: missing or
// malformed reports degrade to the UnknownError sentinel.
func Classify(path string) Classification {
	data, err := os.ReadFile(path)
	if err != nil {
		return unknown()
	}
	return ClassifyBytes(data)
}

// ClassifyBytes classifies an in-memory report.
func ClassifyBytes(data []byte) (c Classification) {
	defer func() {
		if r := recover(); r != nil {
			c = unknown()
		}
	}()

	var root any
	if err := json.Unmarshal(data, &root); err != nil {
		return unknown()
	}

	message, artifact := walk(root)
	summary := NormalizeMessage(message)
	if summary == "" {
		summary = UnknownError
	}

	return Classification{
		ErrorSummary: summary,
		ArtifactPath: artifact,
		Category:     Categorize(summary),
	}
}

func unknown() Classification {
	return Classification{ErrorSummary: UnknownError, Category: CategoryUnknown}
}

// walk traverses the tree iteratively and returns the first error message and
// the first image attachment path found.
func walk(root any) (message, artifact string) {
	stack := []any{root}
	for len(stack) > 0 && (message == "" || artifact == "") {
		node := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		obj, ok := node.(map[string]any)
		if !ok {
			continue
		}

		if message == "" {
			message = errorMessage(obj)
		}
		if artifact == "" {
			artifact = imageAttachment(obj)
		}

		// Push children in reverse so they pop in document order.
		for k := len(childKeys) - 1; k >= 0; k-- {
			children, ok := obj[childKeys[k]].([]any)
			if !ok {
				continue
			}
			for i := len(children) - 1; i >= 0; i-- {
				stack = append(stack, children[i])
			}
		}
	}
	return message, artifact
}

func errorMessage(obj map[string]any) string {
	if e, ok := obj["error"].(map[string]any); ok {
		if msg, ok := e["message"].(string); ok && strings.TrimSpace(msg) != "" {
			return msg
		}
	}
	if errs, ok := obj["errors"].([]any); ok {
		for _, item := range errs {
			e, ok := item.(map[string]any)
			if !ok {
				continue
			}
			if msg, ok := e["message"].(string); ok && strings.TrimSpace(msg) != "" {
				return msg
			}
		}
	}
	return ""
}

func imageAttachment(obj map[string]any) string {
	attachments, ok := obj["attachments"].([]any)
	if !ok {
		return ""
	}
	for _, item := range attachments {
		a, ok := item.(map[string]any)
		if !ok {
			continue
		}
		name, _ := a["name"].(string)
		contentType, _ := a["contentType"].(string)
		path, _ := a["path"].(string)
		if path == "" {
			continue
		}
		if strings.Contains(strings.ToLower(name), "screenshot") || strings.Contains(contentType, "image") {
			return path
		}
	}
	return ""
}

// NormalizeMessage keeps the first line of msg with control sequences removed.
func NormalizeMessage(msg string) string {
	msg = ansiPattern.ReplaceAllString(msg, "")
	if i := strings.IndexAny(msg, "\r\n"); i >= 0 {
		msg = msg[:i]
	}
	return strings.TrimSpace(msg)
}
