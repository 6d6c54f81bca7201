// Package scratch manages the process-wide scratch directory and the
// per-pipeline workspaces carved out of it.
package scratch

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/satriahrh/voicenote-relay/domain/repositories"
)

// Dir is the scratch directory shared by all pipelines
type Dir struct {
	path   string
	logger *zap.Logger
}

// NewDir creates the scratch directory if needed
func NewDir(path string, logger *zap.Logger) (*Dir, error) {
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create scratch dir %s: %w", path, err)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve scratch dir %s: %w", path, err)
	}
	return &Dir{path: abs, logger: logger}, nil
}

// Path of the directory
func (d *Dir) Path() string {
	return d.path
}

// Workspace returns a workspace whose files are named <token><suffix>. The
// token must be unique per pipeline run.
func (d *Dir) Workspace(token string) *Workspace {
	return &Workspace{
		dir:    d.path,
		token:  sanitize(token),
		files:  make(map[string]string),
		logger: d.logger,
	}
}

// Sweep removes leftovers from a previous process. Only call it before any
// pipeline starts.
func (d *Dir) Sweep() (int, error) {
	entries, err := os.ReadDir(d.path)
	if err != nil {
		return 0, fmt.Errorf("failed to read scratch dir: %w", err)
	}
	removed := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if err := os.Remove(filepath.Join(d.path, entry.Name())); err == nil {
			removed++
		}
	}
	return removed, nil
}

// SweepOlderThan removes files last modified before now minus maxAge. Live
// pipelines keep their files far younger than any sensible maxAge.
func (d *Dir) SweepOlderThan(maxAge time.Duration, now time.Time) (int, error) {
	entries, err := os.ReadDir(d.path)
	if err != nil {
		return 0, fmt.Errorf("failed to read scratch dir: %w", err)
	}
	cutoff := now.Add(-maxAge)
	removed := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil || !info.ModTime().Before(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(d.path, entry.Name())); err == nil {
			removed++
		}
	}
	return removed, nil
}

// Workspace is the set of scratch files owned by one pipeline run
type Workspace struct {
	dir    string
	token  string
	files  map[string]string
	mu     sync.Mutex
	logger *zap.Logger
}

var _ repositories.Scratch = (*Workspace)(nil)

// Write persists data as <token><suffix>
func (w *Workspace) Write(suffix string, data []byte) (string, error) {
	path := w.Path(suffix)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return "", fmt.Errorf("failed to write scratch file %s: %w", path, err)
	}
	return path, nil
}

// Path reserves <token><suffix> and tracks it for release
func (w *Workspace) Path(suffix string) string {
	w.mu.Lock()
	defer w.mu.Unlock()

	if path, ok := w.files[suffix]; ok {
		return path
	}
	path := filepath.Join(w.dir, w.token+suffix)
	w.files[suffix] = path
	return path
}

// Exists reports whether <token><suffix> is on disk
func (w *Workspace) Exists(suffix string) bool {
	w.mu.Lock()
	path, ok := w.files[suffix]
	w.mu.Unlock()
	if !ok {
		return false
	}
	_, err := os.Stat(path)
	return err == nil
}

// Release removes every tracked file. Missing files are not an error.
func (w *Workspace) Release() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	var errs []error
	for suffix, path := range w.files {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
			continue
		}
		delete(w.files, suffix)
	}

	if len(errs) > 0 {
		w.logger.Warn("Failed to release scratch files",
			zap.String("token", w.token),
			zap.Errors("errors", errs))
		return errors.Join(errs...)
	}
	return nil
}

func sanitize(token string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		}
		return '_'
	}, token)
}
