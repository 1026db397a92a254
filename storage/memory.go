package storage

import (
	"sync"
)

// MemoryStore is an in-memory Store for tests and ephemeral profiles.
type MemoryStore struct {
	mu          sync.RWMutex
	collections map[string]*memCollection
}

// memCollection keeps both a map for lookups and the key insertion order,
// so List is deterministic for equal timestamps downstream.
type memCollection struct {
	order   []string
	records map[string][]byte
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		collections: make(map[string]*memCollection),
	}
}

// Put implements Store.Put.
func (s *MemoryStore) Put(collection, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.collections[collection]
	if !ok {
		c = &memCollection{records: make(map[string][]byte)}
		s.collections[collection] = c
	}

	if _, exists := c.records[key]; !exists {
		c.order = append(c.order, key)
	}

	stored := make([]byte, len(value))
	copy(stored, value)
	c.records[key] = stored
	return nil
}

// Get implements Store.Get.
func (s *MemoryStore) Get(collection, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.collections[collection]
	if !ok {
		return nil, ErrKeyNotFound
	}
	value, ok := c.records[key]
	if !ok {
		return nil, ErrKeyNotFound
	}

	out := make([]byte, len(value))
	copy(out, value)
	return out, nil
}

// List implements Store.List.
func (s *MemoryStore) List(collection string) ([][]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.collections[collection]
	if !ok {
		return nil, nil
	}

	out := make([][]byte, 0, len(c.order))
	for _, key := range c.order {
		value := c.records[key]
		record := make([]byte, len(value))
		copy(record, value)
		out = append(out, record)
	}
	return out, nil
}

// Delete implements Store.Delete.
func (s *MemoryStore) Delete(collection, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.collections[collection]
	if !ok {
		return nil
	}
	if _, exists := c.records[key]; !exists {
		return nil
	}

	delete(c.records, key)
	for i, k := range c.order {
		if k == key {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
	return nil
}

// Wipe implements Store.Wipe.
func (s *MemoryStore) Wipe() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.collections = make(map[string]*memCollection)
	return nil
}

// Close implements Store.Close.
func (s *MemoryStore) Close() error {
	return nil
}
