package testcase

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"github.com/bmatcuk/doublestar/v4"
)

// ErrNoTestCases is returned when neither source yields a test case.
var ErrNoTestCases = errors.New("no test cases found")

// Source records where a batch of test cases was loaded from.
type Source struct {
	// Path is the folder or combined file the cases came from.
	Path string
	// Files is the number of files read.
	Files int
}

// Loader reads test cases, preferring a folder of per-case JSON files over a
// single combined JSON array.
type Loader struct {
	logger *slog.Logger
}

// NewLoader creates a loader.
func NewLoader(logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{logger: logger}
}

// Load returns the test cases in input order. Unreadable per-case files are
// skipped with a warning; the combined file is used only when the folder
// yields nothing.
func (l *Loader) Load(dir, combinedFile string) ([]TestCase, Source, error) {
	if dir != "" {
		cases, files, err := l.loadFolder(dir)
		if err != nil {
			return nil, Source{}, err
		}
		if len(cases) > 0 {
			return cases, Source{Path: dir, Files: files}, nil
		}
	}

	if combinedFile != "" {
		cases, err := LoadCombined(combinedFile)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, Source{}, err
		}
		if len(cases) > 0 {
			return cases, Source{Path: combinedFile, Files: 1}, nil
		}
	}

	return nil, Source{}, ErrNoTestCases
}

func (l *Loader) loadFolder(dir string) ([]TestCase, int, error) {
	if _, err := os.Stat(dir); err != nil {
		if os.IsNotExist(err) {
			return nil, 0, nil
		}
		return nil, 0, fmt.Errorf("stat test case folder: %w", err)
	}

	matches, err := doublestar.FilepathGlob(filepath.Join(dir, "**", "*.json"))
	if err != nil {
		return nil, 0, fmt.Errorf("glob test case folder: %w", err)
	}
	sort.Strings(matches)

	var cases []TestCase
	files := 0
	for _, path := range matches {
		data, err := os.ReadFile(path)
		if err != nil {
			l.logger.Warn("Skipping unreadable test case file", "path", path, "error", err)
			continue
		}
		var tc TestCase
		if err := json.Unmarshal(data, &tc); err != nil {
			l.logger.Warn("Skipping malformed test case file", "path", path, "error", err)
			continue
		}
		files++
		cases = append(cases, tc)
	}
	return cases, files, nil
}

// LoadCombined reads a JSON array of test cases.
func LoadCombined(path string) ([]TestCase, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read test cases: %w", err)
	}
	var cases []TestCase
	if err := json.Unmarshal(data, &cases); err != nil {
		return nil, fmt.Errorf("parse test cases: %w", err)
	}
	return cases, nil
}
