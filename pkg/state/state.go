package state

import "sync"

// Record is the only thing the spawner persists between process restarts:
// the opaque cluster-assigned service identifier, keyed by service name.
type Record struct {
	ServiceID string `json:"service_id"`
}

// Store round-trips records through whatever persistence the caller
// provides. Load returns (nil, nil) when no record exists.
type Store interface {
	Load(serviceName string) (*Record, error)
	Save(serviceName string, rec *Record) error
	Clear(serviceName string) error
	Close() error
}

// MemoryStore is an in-process Store for embedding and tests.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]Record
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]Record)}
}

func (s *MemoryStore) Load(serviceName string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[serviceName]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

func (s *MemoryStore) Save(serviceName string, rec *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[serviceName] = *rec
	return nil
}

func (s *MemoryStore) Clear(serviceName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, serviceName)
	return nil
}

func (s *MemoryStore) Close() error {
	return nil
}
