package ledger

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// FileStore persists ledger state as a JSON document. Writes go through a
// temp file and rename so a crash never leaves a torn state on disk.
type FileStore struct {
	path string
}

// NewFileStore creates a store rooted at path, creating parent directories.
func NewFileStore(path string) (*FileStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create state dir: %w", err)
	}
	return &FileStore{path: path}, nil
}

// Save writes the state atomically.
func (f *FileStore) Save(state State) error {
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}
	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write state: %w", err)
	}
	if err := os.Rename(tmp, f.path); err != nil {
		return fmt.Errorf("commit state: %w", err)
	}
	return nil
}

// Load reads the persisted state. The second return is false when no state
// has been written yet.
func (f *FileStore) Load() (State, bool, error) {
	data, err := os.ReadFile(f.path)
	if os.IsNotExist(err) {
		return State{}, false, nil
	}
	if err != nil {
		return State{}, false, fmt.Errorf("read state: %w", err)
	}
	var state State
	if err := json.Unmarshal(data, &state); err != nil {
		return State{}, false, fmt.Errorf("decode state: %w", err)
	}
	if state.Positions == nil {
		state.Positions = make(map[string]Position)
	}
	return state, true, nil
}
