// Package cursorstore persists the single last-processed-slot cursor that
// guarantees resumable, monotonic forward progress. It is written from the
// Scheduler only.
package cursorstore

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

type cursorFile struct {
	Cursor uint64 `yaml:"cursor"`
}

// Store reads and writes the persisted cursor value to a single YAML file.
type Store struct {
	path string
}

// New creates a Store backed by the file at path. The file need not exist
// yet; Load returns the initial value in that case.
func New(path string) *Store {
	return &Store{path: path}
}

// Load returns the persisted cursor, or initial if no cursor file exists
// yet.
func (s *Store) Load(initial uint64) (uint64, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return initial, nil
		}
		return 0, fmt.Errorf("error reading cursor file [%s]: %w", s.path, err)
	}

	var cf cursorFile
	if err := yaml.Unmarshal(data, &cf); err != nil {
		return 0, fmt.Errorf("error parsing cursor file [%s]: %w", s.path, err)
	}
	return cf.Cursor, nil
}

// Save persists the given cursor value, replacing any prior value
// atomically: it writes to a temp file in the same directory and renames it
// over the target path, so a crash mid-write can never corrupt the
// persisted cursor.
func (s *Store) Save(cursor uint64) error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("error creating cursor directory [%s]: %w", dir, err)
	}

	data, err := yaml.Marshal(cursorFile{Cursor: cursor})
	if err != nil {
		return fmt.Errorf("error serializing cursor: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".cursor-*.tmp")
	if err != nil {
		return fmt.Errorf("error creating temp cursor file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("error writing temp cursor file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("error closing temp cursor file: %w", err)
	}

	if err := os.Rename(tmpPath, s.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("error renaming cursor file into place: %w", err)
	}
	return nil
}
