// Package checkpoint persists the resume cursor and ledger snapshot.
package checkpoint

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// State is the persisted projection of a run.
type State struct {
	ShardIndex    int               `json:"shard_index"`
	RecordIndex   int               `json:"record_index"`
	IDMap         map[string]string `json:"id_map"`
	InstitutionID string            `json:"institution_id,omitempty"`
	SavedAt       time.Time         `json:"saved_at"`
	RunID         string            `json:"run_id,omitempty"`
}

// Fresh is the state of a run that has not started.
func Fresh() *State {
	return &State{ShardIndex: 1, IDMap: map[string]string{}}
}

// File is a checkpoint stored at a single path.
type File struct {
	path string
}

// New returns a File for path.
func New(path string) *File {
	return &File{path: path}
}

// Path returns the file location.
func (f *File) Path() string { return f.path }

// Load reads the checkpoint. A missing file yields Fresh.
func (f *File) Load() (*State, error) {
	data, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return Fresh(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("checkpoint: read %s: %w", f.path, err)
	}
	var s State
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("checkpoint: parse %s: %w", f.path, err)
	}
	if s.ShardIndex < 1 || s.RecordIndex < 0 {
		return nil, fmt.Errorf("checkpoint: %s: invalid cursor %d/%d", f.path, s.ShardIndex, s.RecordIndex)
	}
	if s.IDMap == nil {
		s.IDMap = map[string]string{}
	}
	return &s, nil
}

// Save atomically replaces the checkpoint: tmp file, fsync, rename.
func (f *File) Save(s *State) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("checkpoint: encode: %w", err)
	}

	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("checkpoint: mkdir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".checkpoint-tmp-*")
	if err != nil {
		return fmt.Errorf("checkpoint: create temp: %w", err)
	}
	tmpName := tmp.Name()

	success := false
	defer func() {
		if !success {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		return fmt.Errorf("checkpoint: write temp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("checkpoint: fsync: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("checkpoint: close temp: %w", err)
	}
	if err := os.Rename(tmpName, f.path); err != nil {
		return fmt.Errorf("checkpoint: rename: %w", err)
	}
	success = true
	return nil
}

// Remove deletes the checkpoint. A missing file is not an error.
func (f *File) Remove() error {
	if err := os.Remove(f.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("checkpoint: remove: %w", err)
	}
	return nil
}
