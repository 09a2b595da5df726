package store

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/wanvideo/wan-generator-api/internal/generation"
)

// Compile-time check that MemoryStore implements Repository.
var _ Repository = (*MemoryStore)(nil)

// MemoryStore is an in-memory Repository backed by a map with RWMutex.
// Suitable for tests; swap for BadgerStore in production.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]*generation.Record
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[string]*generation.Record),
	}
}

// Create persists a clone of the record.
func (s *MemoryStore) Create(_ context.Context, record *generation.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[record.ID] = record.Clone()
	return nil
}

// Get returns a clone of the stored record.
func (s *MemoryStore) Get(_ context.Context, id string) (*generation.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	record, ok := s.records[id]
	if !ok {
		return nil, ErrNotFound
	}
	return record.Clone(), nil
}

// Update applies mutate under the write lock and returns a clone. The
// mutation runs against a draft; a failed mutate leaves the stored record
// exactly as it was.
func (s *MemoryStore) Update(_ context.Context, id string, mutate func(*generation.Record) error) (*generation.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.records[id]
	if !ok {
		return nil, ErrNotFound
	}
	draft := record.Clone()
	if err := mutate(draft); err != nil {
		return nil, err
	}
	s.records[id] = draft
	return draft.Clone(), nil
}

// List returns clones of matching records, newest first.
func (s *MemoryStore) List(_ context.Context, filter Filter) ([]*generation.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	needle := strings.ToLower(filter.Query)
	result := make([]*generation.Record, 0, len(s.records))
	for _, record := range s.records {
		if filter.Status != "" && record.Status != filter.Status {
			continue
		}
		if needle != "" && !strings.Contains(strings.ToLower(record.Prompt), needle) {
			continue
		}
		result = append(result, record.Clone())
	}

	sort.SliceStable(result, func(i, j int) bool {
		return result[i].CreatedAt > result[j].CreatedAt
	})

	return result, nil
}

// Delete removes one record.
func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[id]; !ok {
		return ErrNotFound
	}
	delete(s.records, id)
	return nil
}

// DeleteAll removes every record.
func (s *MemoryStore) DeleteAll(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = make(map[string]*generation.Record)
	return nil
}

// Ping always succeeds for the in-memory store.
func (s *MemoryStore) Ping(_ context.Context) error {
	return nil
}
