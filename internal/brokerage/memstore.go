package brokerage

import (
	"context"
	"sync"
)

// MemStore is an in-memory [RecordStore]. Sessions stored here do not
// survive restarts; users simply log in again.
type MemStore struct {
	mu      sync.RWMutex
	records map[recordKey]Record
}

type recordKey struct {
	userID   string
	provider string
}

// NewMemStore returns an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{records: make(map[recordKey]Record)}
}

// Get implements RecordStore.
func (s *MemStore) Get(ctx context.Context, userID, provider string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[recordKey{userID, provider}]
	if !ok {
		return nil, ErrNotFound
	}
	out := rec
	return &out, nil
}

// Put implements RecordStore.
func (s *MemStore) Put(ctx context.Context, record *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[recordKey{record.UserID, record.Provider}] = *record
	return nil
}

// Delete implements RecordStore.
func (s *MemStore) Delete(ctx context.Context, userID, provider string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, recordKey{userID, provider})
	return nil
}

// Ensure MemStore implements RecordStore at compile time.
var _ RecordStore = (*MemStore)(nil)
