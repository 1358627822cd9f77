package kvcache

import (
	"context"
	"sync"
	"time"
)

// MemoryStoreConfig configures an in-process Store.
type MemoryStoreConfig struct {
	MaxValueBytes int
	Clock         func() time.Time
}

// MemoryStore keeps entries in a map; expired entries are dropped lazily on access.
type MemoryStore struct {
	mu            sync.RWMutex
	entries       map[string]memoryEntry
	maxValueBytes int
	clock         func() time.Time
}

type memoryEntry struct {
	value     string
	expiresAt time.Time
}

// NewMemoryStore constructs an empty in-process store.
func NewMemoryStore(cfg MemoryStoreConfig) *MemoryStore {
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &MemoryStore{
		entries:       make(map[string]memoryEntry),
		maxValueBytes: resolveMaxValueBytes(cfg.MaxValueBytes),
		clock:         clock,
	}
}

func (s *MemoryStore) PutAll(_ context.Context, values map[string]string, ttl time.Duration) error {
	if err := validatePut(values, ttl, s.maxValueBytes); err != nil {
		return err
	}
	expiresAt := s.clock().Add(ttl)

	s.mu.Lock()
	defer s.mu.Unlock()
	for key, value := range values {
		s.entries[key] = memoryEntry{value: value, expiresAt: expiresAt}
	}
	return nil
}

func (s *MemoryStore) Get(_ context.Context, key string) (string, bool, error) {
	now := s.clock()

	s.mu.RLock()
	entry, ok := s.entries[key]
	s.mu.RUnlock()
	if !ok {
		return "", false, nil
	}
	if !now.Before(entry.expiresAt) {
		s.evict(key, entry.expiresAt)
		return "", false, nil
	}
	return entry.value, true, nil
}

func (s *MemoryStore) GetAll(_ context.Context, keys []string) (map[string]string, error) {
	now := s.clock()
	result := make(map[string]string, len(keys))

	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, key := range keys {
		entry, ok := s.entries[key]
		if !ok || !now.Before(entry.expiresAt) {
			continue
		}
		result[key] = entry.value
	}
	return result, nil
}

func (s *MemoryStore) Remove(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
	return nil
}

// Len reports the number of live entries.
func (s *MemoryStore) Len() int {
	now := s.clock()
	s.mu.RLock()
	defer s.mu.RUnlock()
	live := 0
	for _, entry := range s.entries {
		if now.Before(entry.expiresAt) {
			live++
		}
	}
	return live
}

func (s *MemoryStore) evict(key string, expiresAt time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	// A concurrent PutAll may have refreshed the key since it was read.
	if current, ok := s.entries[key]; ok && current.expiresAt.Equal(expiresAt) {
		delete(s.entries, key)
	}
}
