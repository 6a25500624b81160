package rules

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Source supplies rule snapshots. A single call must return a consistent
// pair of tables.
type Source interface {
	Snapshot() (Rules, error)
}

// Static is a Source that always returns the same tables.
type Static Rules

// Snapshot implements Source.
func (s Static) Snapshot() (Rules, error) { return Rules(s), nil }

// FileStore reads and writes rules from a YAML file. The file is re-read
// on every Snapshot so edits apply without a restart.
type FileStore struct {
	path string
}

// NewFileStore returns a store rooted at path.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Path returns the backing file path.
func (s *FileStore) Path() string { return s.path }

// Snapshot implements Source. A missing file is an error; callers decide
// whether to fall back.
func (s *FileStore) Snapshot() (Rules, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return Rules{}, fmt.Errorf("failed to read rules file: %w", err)
	}

	var r Rules
	if err := yaml.Unmarshal(data, &r); err != nil {
		return Rules{}, fmt.Errorf("failed to parse rules file %s: %w", s.path, err)
	}
	return r, nil
}

// Save writes rules atomically by renaming a temp file over the target.
func (s *FileStore) Save(r Rules) error {
	data, err := yaml.Marshal(r)
	if err != nil {
		return fmt.Errorf("failed to encode rules: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create rules directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".rules-*.yaml")
	if err != nil {
		return fmt.Errorf("failed to create temp rules file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write rules: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write rules: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("failed to replace rules file: %w", err)
	}
	return nil
}
