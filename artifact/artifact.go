// Package artifact persists the current script candidate of a healing session.
// Each test case owns exactly one file; every new version replaces the last.
package artifact

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// Version tags the transformation that produced a script candidate.
type Version string

// The fixed version sequence of a session: initial → local → model → advanced.
const (
	VersionInitial  Version = "initial"
	VersionLocal    Version = "local"
	VersionModel    Version = "model"
	VersionAdvanced Version = "advanced"
)

// Sequence lists the versions in the order a session may produce them.
var Sequence = []Version{VersionInitial, VersionLocal, VersionModel, VersionAdvanced}

// ForAttempt returns the version executed on the given 1-based attempt.
func ForAttempt(attempt int) (Version, bool) {
	if attempt < 1 || attempt > len(Sequence) {
		return "", false
	}
	return Sequence[attempt-1], true
}

// Next returns the version that follows v, or false when v is the last one.
func (v Version) Next() (Version, bool) {
	for i, s := range Sequence {
		if s == v && i+1 < len(Sequence) {
			return Sequence[i+1], true
		}
	}
	return "", false
}

// IsValid reports whether v is one of the known versions.
func (v Version) IsValid() bool {
	for _, s := range Sequence {
		if s == v {
			return true
		}
	}
	return false
}

func (v Version) String() string {
	return string(v)
}

// ScriptArtifact is the persisted, currently active candidate for a test case.
type ScriptArtifact struct {
	TestCaseID string  `json:"test_case_id"`
	Version    Version `json:"version"`
	Source     string  `json:"source"`
	Path       string  `json:"path"`
}

// specSuffix is the file suffix the Playwright runner picks up.
const specSuffix = ".spec.js"

var unsafeNameChars = regexp.MustCompile(`[^A-Za-z0-9_-]+`)

// FileName returns the stable spec file name for a test case ID.
func FileName(testCaseID string) string {
	name := strings.Trim(unsafeNameChars.ReplaceAllString(testCaseID, "_"), "_")
	if name == "" {
		name = "testcase"
	}
	return name + specSuffix
}

// CheckCollisions returns an error when two distinct test case IDs map to
// the same spec file, since one session would overwrite the other's script.
func CheckCollisions(ids []string) error {
	owners := make(map[string]string, len(ids))
	for _, id := range ids {
		name := FileName(id)
		if prev, ok := owners[name]; ok {
			if prev == id {
				return fmt.Errorf("duplicate test case ID %q", id)
			}
			return fmt.Errorf("test case IDs %q and %q both map to %s", prev, id, name)
		}
		owners[name] = id
	}
	return nil
}

// Store writes script candidates below a tests directory.
type Store struct {
	dir string
}

// NewStore creates a store rooted at dir. The directory is created lazily.
func NewStore(dir string) *Store {
	return &Store{dir: dir}
}

// Dir returns the directory candidates are written to.
func (s *Store) Dir() string {
	return s.dir
}

// PathFor returns the location owned by a test case.
func (s *Store) PathFor(testCaseID string) string {
	return filepath.Join(s.dir, FileName(testCaseID))
}

// Save replaces the test case's candidate with source.
// The write goes through a temp file and a rename so the runner never
// observes a half-written script.
func (s *Store) Save(testCaseID string, version Version, source string) (*ScriptArtifact, error) {
	if !version.IsValid() {
		return nil, fmt.Errorf("unknown artifact version %q", version)
	}
	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return nil, fmt.Errorf("create tests directory: %w", err)
	}

	path := s.PathFor(testCaseID)
	tmp, err := os.CreateTemp(s.dir, ".candidate-*")
	if err != nil {
		return nil, fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.WriteString(source); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return nil, fmt.Errorf("write candidate: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return nil, fmt.Errorf("close candidate: %w", err)
	}
	if err := os.Chmod(tmpName, 0644); err != nil {
		os.Remove(tmpName)
		return nil, fmt.Errorf("chmod candidate: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return nil, fmt.Errorf("replace candidate: %w", err)
	}

	return &ScriptArtifact{
		TestCaseID: testCaseID,
		Version:    version,
		Source:     source,
		Path:       path,
	}, nil
}

// Load reads the current candidate source for a test case.
func (s *Store) Load(testCaseID string) (string, error) {
	data, err := os.ReadFile(s.PathFor(testCaseID))
	if err != nil {
		return "", fmt.Errorf("read candidate: %w", err)
	}
	return string(data), nil
}
