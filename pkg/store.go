package pkg

import (
	"context"
	"sync"
	"sync/atomic"
)

// Store is a thread-safe in-memory byte store. Entries live for the
// lifetime of the process; there is no expiry or eviction.
type Store struct {
	mu     sync.RWMutex
	data   map[string][]byte
	closed atomic.Bool

	// Metrics for monitoring
	hits   atomic.Int64
	misses atomic.Int64
	sets   atomic.Int64
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		data: make(map[string][]byte),
	}
}

// Get retrieves the value associated with the given key.
// Returns ErrKeyNotFound if the key doesn't exist.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	if s.closed.Load() {
		return nil, ErrStoreClosed
	}

	s.mu.RLock()
	value, exists := s.data[key]
	s.mu.RUnlock()

	if !exists {
		s.misses.Add(1)
		return nil, ErrKeyNotFound
	}

	s.hits.Add(1)

	// Return a copy so callers cannot mutate stored bytes
	result := make([]byte, len(value))
	copy(result, value)

	return result, nil
}

// Set stores a value under the given key, replacing any previous value.
func (s *Store) Set(ctx context.Context, key string, value []byte) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	if s.closed.Load() {
		return ErrStoreClosed
	}

	valueCopy := make([]byte, len(value))
	copy(valueCopy, value)

	s.mu.Lock()
	s.data[key] = valueCopy
	s.mu.Unlock()

	s.sets.Add(1)
	return nil
}

// GetAll returns a copy of every key-value pair in the store.
func (s *Store) GetAll(ctx context.Context) (map[string][]byte, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	if s.closed.Load() {
		return nil, ErrStoreClosed
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make(map[string][]byte, len(s.data))
	for key, value := range s.data {
		valueCopy := make([]byte, len(value))
		copy(valueCopy, value)
		result[key] = valueCopy
	}

	return result, nil
}

// Len returns the number of stored entries.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}

// Clear removes all entries but keeps the store operational.
func (s *Store) Clear() error {
	if s.closed.Load() {
		return ErrStoreClosed
	}

	s.mu.Lock()
	s.data = make(map[string][]byte)
	s.mu.Unlock()

	return nil
}

// Close shuts down the store. Subsequent operations return ErrStoreClosed.
func (s *Store) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil // Already closed
	}

	s.mu.Lock()
	s.data = nil
	s.mu.Unlock()

	return nil
}

// StoreStats holds current store statistics.
type StoreStats struct {
	Entries int   `json:"entries"`
	Hits    int64 `json:"hits"`
	Misses  int64 `json:"misses"`
	Sets    int64 `json:"sets"`
}

// Stats returns current store statistics.
func (s *Store) Stats() StoreStats {
	s.mu.RLock()
	entries := len(s.data)
	s.mu.RUnlock()

	return StoreStats{
		Entries: entries,
		Hits:    s.hits.Load(),
		Misses:  s.misses.Load(),
		Sets:    s.sets.Load(),
	}
}
