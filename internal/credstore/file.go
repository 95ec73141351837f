package credstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// FileStore persists the credential pair as a JSON file with 0600 perms.
// Saves are atomic (write temp, rename) so a crash never leaves a torn pair.
type FileStore struct {
	path string
}

// NewFileStore returns a persister writing to path.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Load reads the saved pair. A missing file yields a zero pair.
func (f *FileStore) Load() (Pair, error) {
	data, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return Pair{}, nil
	}
	if err != nil {
		return Pair{}, fmt.Errorf("credstore: read %s: %w", f.path, err)
	}
	var pair Pair
	if err := json.Unmarshal(data, &pair); err != nil {
		return Pair{}, fmt.Errorf("credstore: parse %s: %w", f.path, err)
	}
	return pair, nil
}

// Save writes the pair atomically.
func (f *FileStore) Save(pair Pair) error {
	if err := os.MkdirAll(filepath.Dir(f.path), 0o700); err != nil {
		return fmt.Errorf("credstore: mkdir: %w", err)
	}
	data, err := json.Marshal(pair)
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(f.path), ".credentials-*")
	if err != nil {
		return fmt.Errorf("credstore: temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("credstore: write: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpName, f.path); err != nil {
		return fmt.Errorf("credstore: rename: %w", err)
	}
	return nil
}

// Clear removes the saved pair. A missing file is not an error.
func (f *FileStore) Clear() error {
	err := os.Remove(f.path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("credstore: remove %s: %w", f.path, err)
	}
	return nil
}
