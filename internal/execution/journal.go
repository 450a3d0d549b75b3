package execution

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
)

// JSONLJournal appends fills as JSON lines for later analysis.
type JSONLJournal struct {
	mu   sync.Mutex
	file *os.File
	enc  *json.Encoder
}

// NewJSONLJournal creates/opens the target file and returns a journal.
func NewJSONLJournal(path string) (*JSONLJournal, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	return &JSONLJournal{
		file: file,
		enc:  json.NewEncoder(file),
	}, nil
}

// Record writes a single fill to the underlying JSONL file.
func (j *JSONLJournal) Record(fill Fill) {
	j.mu.Lock()
	defer j.mu.Unlock()
	_ = j.enc.Encode(fill)
}

// Close flushes and closes the file handle.
func (j *JSONLJournal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.file == nil {
		return nil
	}
	err := j.file.Close()
	j.file = nil
	return err
}

// MemoryJournal stores fills in memory for quick inspection in tests and
// paper runs.
type MemoryJournal struct {
	mu    sync.Mutex
	fills []Fill
}

// NewMemoryJournal creates an empty journal optionally pre-sizing storage.
func NewMemoryJournal(capacity int) *MemoryJournal {
	if capacity < 0 {
		capacity = 0
	}
	return &MemoryJournal{fills: make([]Fill, 0, capacity)}
}

// Record appends a fill to the journal.
func (m *MemoryJournal) Record(fill Fill) {
	m.mu.Lock()
	m.fills = append(m.fills, fill)
	m.mu.Unlock()
}

// Snapshot returns a copy of the recorded fills.
func (m *MemoryJournal) Snapshot() []Fill {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Fill, len(m.fills))
	copy(out, m.fills)
	return out
}

// Reset clears all stored fills.
func (m *MemoryJournal) Reset() {
	m.mu.Lock()
	m.fills = m.fills[:0]
	m.mu.Unlock()
}
