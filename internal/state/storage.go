package state

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/thruflo/vaultloop/internal/logging"
)

// Store persists TaskRecords as a single JSON document. Every mutation is a
// load-modify-save through WriteFileAtomic, so a crash leaves either the
// previous or the next version on disk.
//
// Store assumes a single writer per vault; the scheduler lock provides that.
type Store struct {
	mu     sync.Mutex
	path   string
	logger *logging.Logger
}

// NewStore creates a Store backed by the file at path.
func NewStore(path string) *Store {
	return &Store{
		path:   path,
		logger: logging.For(logging.ComponentState),
	}
}

// Path returns the backing file.
func (s *Store) Path() string {
	return s.path
}

// Load reads every record. A missing store is empty. A corrupt or unreadable
// store is logged and treated as empty so the engine can keep running; the
// next Save replaces it.
func (s *Store) Load() (map[string]*TaskRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load(), nil
}

func (s *Store) load() map[string]*TaskRecord {
	records := make(map[string]*TaskRecord)

	data, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.Warn("task store unreadable, starting empty", "path", s.path, "error", err)
		}
		return records
	}

	if err := json.Unmarshal(data, &records); err != nil {
		s.logger.Warn("task store corrupt, starting empty", "path", s.path, "error", err)
		return make(map[string]*TaskRecord)
	}

	for id, rec := range records {
		if rec == nil {
			delete(records, id)
		}
	}
	return records
}

// Save replaces the store with records.
func (s *Store) Save(records map[string]*TaskRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.save(records)
}

func (s *Store) save(records map[string]*TaskRecord) error {
	if records == nil {
		records = make(map[string]*TaskRecord)
	}
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal task records: %w", err)
	}
	if err := WriteFileAtomic(s.path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write task store: %w", err)
	}
	return nil
}

// Get returns a copy of the record for id, or nil if none exists.
func (s *Store) Get(id string) (*TaskRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load()[id].Clone(), nil
}

// Upsert validates rec and stores a copy of it under id.
func (s *Store) Upsert(id string, rec *TaskRecord) error {
	if rec == nil {
		return fmt.Errorf("nil record for %s", id)
	}
	if err := rec.Validate(); err != nil {
		return fmt.Errorf("invalid record for %s: %w", id, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	records := s.load()
	records[id] = rec.Clone()
	return s.save(records)
}

// Delete removes the record for id. It reports whether a record existed.
func (s *Store) Delete(id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	records := s.load()
	if _, ok := records[id]; !ok {
		return false, nil
	}
	delete(records, id)
	return true, s.save(records)
}
