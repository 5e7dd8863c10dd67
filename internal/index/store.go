package index

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// ErrCorruptIndex is returned by Load when the artifact exists but cannot be
// decoded. A fresh generation is unaffected by it.
var ErrCorruptIndex = errors.New("corrupt index")

// DefaultFileName is the artifact name at the root of a record store.
const DefaultFileName = "index.json"

// Store persists an Index as a single JSON file.
type Store struct {
	path string
}

// NewStore creates a store for the artifact at path
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Path returns the artifact location.
func (s *Store) Path() string {
	return s.path
}

// Save writes idx to a temporary file in the same directory and renames it
// over the artifact, so readers see either the old or the new file.
func (s *Store) Save(idx *Index) error {
	data, err := json.MarshalIndent(idx, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode index: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create index directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write index: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to flush index: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to close index: %w", err)
	}
	if err := os.Chmod(tmpPath, 0644); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to set index permissions: %w", err)
	}

	if err := os.Rename(tmpPath, s.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to replace index: %w", err)
	}
	return nil
}

// Load reads the artifact. It returns (nil, nil) when there is none.
func (s *Store) Load() (*Index, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read index: %w", err)
	}

	var idx Index
	if err := json.Unmarshal(data, &idx); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorruptIndex, s.path, err)
	}
	if idx.Entries == nil || idx.Metadata.TotalRecords != len(idx.Entries) {
		return nil, fmt.Errorf("%w: %s: totalRecords %d does not match %d entries",
			ErrCorruptIndex, s.path, idx.Metadata.TotalRecords, len(idx.Entries))
	}

	return &idx, nil
}
