// Package store provides persistence for generation records. It defines the
// Repository port plus a durable Badger-backed implementation and an
// in-memory implementation for tests.
package store

import (
	"context"
	"errors"

	"github.com/wanvideo/wan-generator-api/internal/generation"
)

// ErrNotFound is returned when no record exists for the given job ID.
var ErrNotFound = errors.New("store: generation not found")

// Filter narrows a listing. Zero value lists everything.
type Filter struct {
	// Query is a case-insensitive free-text match against the prompt.
	Query string
	// Status filters to records with exactly this status.
	Status generation.Status
}

// Repository is the persistence port for generation records. All reads
// return clones; callers never share memory with the store.
type Repository interface {
	// Create persists a new record. The record's ID must be set.
	Create(ctx context.Context, record *generation.Record) error

	// Get retrieves a record by job ID.
	// Returns ErrNotFound if no such record exists.
	Get(ctx context.Context, id string) (*generation.Record, error)

	// Update applies mutate to the stored record inside a single atomic
	// read-modify-write, and returns the updated record. Concurrent writers
	// on the same ID serialize here; this is the single point of truth for
	// record mutation. Returns ErrNotFound if no such record exists.
	Update(ctx context.Context, id string, mutate func(*generation.Record) error) (*generation.Record, error)

	// List returns records matching the filter, newest first.
	List(ctx context.Context, filter Filter) ([]*generation.Record, error)

	// Delete removes one record. Returns ErrNotFound if it does not exist.
	Delete(ctx context.Context, id string) error

	// DeleteAll removes every record.
	DeleteAll(ctx context.Context) error

	// Ping reports whether the underlying storage is reachable.
	Ping(ctx context.Context) error
}
