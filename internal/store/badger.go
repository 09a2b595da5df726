package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/timshannon/badgerhold/v4"

	"github.com/wanvideo/wan-generator-api/internal/generation"
)

// Compile-time check that BadgerStore implements Repository.
var _ Repository = (*BadgerStore)(nil)

// BadgerStore is the durable Repository implementation backed by a
// badgerhold store on local disk. Records are keyed by job ID and indexed
// by Status and CreatedAt; they survive process restarts.
type BadgerStore struct {
	store *badgerhold.Store
}

// NewBadgerStore opens (or creates) the database at dir.
func NewBadgerStore(dir string) (*BadgerStore, error) {
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("store: create data directory: %w", err)
	}

	options := badgerhold.DefaultOptions
	options.Dir = dir
	options.ValueDir = dir
	options.Logger = nil

	bh, err := badgerhold.Open(options)
	if err != nil {
		return nil, fmt.Errorf("store: open badger database: %w", err)
	}

	return &BadgerStore{store: bh}, nil
}

// Close closes the underlying database.
func (s *BadgerStore) Close() error {
	return s.store.Close()
}

// Create persists a new record keyed by its job ID.
func (s *BadgerStore) Create(_ context.Context, record *generation.Record) error {
	if record.ID == "" {
		return errors.New("store: record ID is required")
	}
	if err := s.store.Upsert(record.ID, record); err != nil {
		return fmt.Errorf("store: create generation %s: %w", record.ID, err)
	}
	return nil
}

// Get retrieves a record by job ID.
func (s *BadgerStore) Get(_ context.Context, id string) (*generation.Record, error) {
	var record generation.Record
	if err := s.store.Get(id, &record); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("store: get generation %s: %w", id, err)
	}
	return &record, nil
}

// Update runs mutate against the stored record inside a single badgerhold
// transaction, so concurrent pollers converging on the same job serialize
// on the database rather than clobbering each other.
func (s *BadgerStore) Update(_ context.Context, id string, mutate func(*generation.Record) error) (*generation.Record, error) {
	var updated *generation.Record

	err := s.store.UpdateMatching(&generation.Record{},
		badgerhold.Where(badgerhold.Key).Eq(id),
		func(raw interface{}) error {
			record, ok := raw.(*generation.Record)
			if !ok {
				return fmt.Errorf("store: unexpected record type %T", raw)
			}
			if err := mutate(record); err != nil {
				return err
			}
			updated = record.Clone()
			return nil
		})
	if err != nil {
		return nil, fmt.Errorf("store: update generation %s: %w", id, err)
	}
	if updated == nil {
		return nil, ErrNotFound
	}
	return updated, nil
}

// List returns matching records, newest first. Status uses the Status
// index; the free-text prompt match is applied after retrieval since
// badgerhold has no substring index.
func (s *BadgerStore) List(_ context.Context, filter Filter) ([]*generation.Record, error) {
	query := badgerhold.Where(badgerhold.Key).Ne("")
	if filter.Status != "" {
		query = badgerhold.Where("Status").Eq(filter.Status).Index("Status")
	}

	var records []generation.Record
	if err := s.store.Find(&records, query.SortBy("CreatedAt").Reverse()); err != nil {
		return nil, fmt.Errorf("store: list generations: %w", err)
	}

	result := make([]*generation.Record, 0, len(records))
	needle := strings.ToLower(filter.Query)
	for i := range records {
		if needle != "" && !strings.Contains(strings.ToLower(records[i].Prompt), needle) {
			continue
		}
		result = append(result, records[i].Clone())
	}

	// SortBy on an indexed field can interleave; guarantee recency order.
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].CreatedAt > result[j].CreatedAt
	})

	return result, nil
}

// Delete removes one record.
func (s *BadgerStore) Delete(_ context.Context, id string) error {
	if err := s.store.Delete(id, &generation.Record{}); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("store: delete generation %s: %w", id, err)
	}
	return nil
}

// DeleteAll removes every record. Unconditional and irreversible.
func (s *BadgerStore) DeleteAll(_ context.Context) error {
	if err := s.store.DeleteMatching(&generation.Record{}, nil); err != nil {
		return fmt.Errorf("store: delete all generations: %w", err)
	}
	return nil
}

// Ping verifies the database answers a read.
func (s *BadgerStore) Ping(_ context.Context) error {
	var record generation.Record
	err := s.store.Get("__ping__", &record)
	if err != nil && !errors.Is(err, badgerhold.ErrNotFound) {
		return fmt.Errorf("store: ping: %w", err)
	}
	return nil
}
