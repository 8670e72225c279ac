package store

import (
	"sync"
)

// MemoryStore is an in-memory implementation of [Store].
//
// A single RWMutex guards the whole map. Records are copied on the way in
// and on the way out so callers can never alias stored payload bytes.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]Record
}

// NewMemoryStore creates a new in-memory [Store] implementation.
//
// The store is immediately ready for use. No cleanup is required when done.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[string]Record),
	}
}

// Update stores record under key, replacing any previous value.
func (m *MemoryStore) Update(key string, record Record) {
	record = record.Clone()

	m.mu.Lock()
	m.records[key] = record
	m.mu.Unlock()
}

// Get returns a copy of the record stored under key.
func (m *MemoryStore) Get(key string) (Record, bool) {
	m.mu.RLock()
	record, ok := m.records[key]
	m.mu.RUnlock()

	if !ok {
		return Record{}, false
	}
	return record.Clone(), true
}

// GetAll returns a snapshot of all stored records.
//
// The returned map and every payload in it are copies; modifications do
// not affect the store.
func (m *MemoryStore) GetAll() map[string]Record {
	m.mu.RLock()
	defer m.mu.RUnlock()

	snapshot := make(map[string]Record, len(m.records))
	for key, record := range m.records {
		snapshot[key] = record.Clone()
	}
	return snapshot
}
