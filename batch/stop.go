package batch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
)

// DefaultStopFile is the sentinel name checked between test cases.
const DefaultStopFile = "stop.txt"

// StopSignal reports whether the batch should stop before the next case.
type StopSignal interface {
	Stopped() bool
}

// FileStop is a StopSignal backed by a sentinel file. Once the file has been
// seen, by a check or by the watcher, the signal stays raised until Clear.
type FileStop struct {
	path   string
	seen   atomic.Bool
	logger *slog.Logger
}

// NewFileStop creates a stop signal for the sentinel at path.
func NewFileStop(path string, logger *slog.Logger) *FileStop {
	if logger == nil {
		logger = slog.Default()
	}
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	return &FileStop{path: path, logger: logger}
}

// Path returns the sentinel location.
func (s *FileStop) Path() string {
	return s.path
}

// Stopped implements StopSignal.
func (s *FileStop) Stopped() bool {
	if s.seen.Load() {
		return true
	}
	if _, err := os.Stat(s.path); err == nil {
		s.seen.Store(true)
		return true
	}
	return false
}

// Request creates the sentinel, asking a running batch to stop.
func (s *FileStop) Request() error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return fmt.Errorf("create stop directory: %w", err)
	}
	if err := os.WriteFile(s.path, []byte("stop\n"), 0644); err != nil {
		return fmt.Errorf("write stop file: %w", err)
	}
	return nil
}

// Clear removes a stale sentinel and lowers the signal.
func (s *FileStop) Clear() error {
	s.seen.Store(false)
	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove stop file: %w", err)
	}
	return nil
}

// Watch raises the signal as soon as the sentinel is created, so a request
// made and withdrawn between two cases is not missed. The watcher runs until
// ctx is done.
func (s *FileStop) Watch(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	dir := filepath.Dir(s.path)
	if err := fsw.Add(dir); err != nil {
		fsw.Close()
		return fmt.Errorf("watch %s: %w", dir, err)
	}

	go func() {
		defer fsw.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-fsw.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != s.path {
					continue
				}
				if event.Has(fsnotify.Create) || event.Has(fsnotify.Write) {
					if !s.seen.Swap(true) {
						s.logger.Info("Stop requested", "path", s.path)
					}
				}
			case err, ok := <-fsw.Errors:
				if !ok {
					return
				}
				s.logger.Warn("Stop watcher error", "error", err)
			}
		}
	}()
	return nil
}
