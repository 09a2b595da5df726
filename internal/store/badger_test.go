package store

import (
	"context"
	"errors"
	"testing"

	"github.com/wanvideo/wan-generator-api/internal/generation"
)

func newBadgerStore(t *testing.T) *BadgerStore {
	t.Helper()
	s, err := NewBadgerStore(t.TempDir())
	if err != nil {
		t.Fatalf("open badger store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestBadgerStore_CreateAndGet(t *testing.T) {
	s := newBadgerStore(t)
	ctx := context.Background()

	seed := int64(42)
	record := newRecord("job-1", generation.StatusQueued, 1000)
	record.Params = generation.DefaultParams()
	record.Params.Seed = &seed
	record.EstimatedTime = 92

	if err := s.Create(ctx, record); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got, err := s.Get(ctx, "job-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.ID != "job-1" || got.Status != generation.StatusQueued {
		t.Errorf("unexpected record: %+v", got)
	}
	if got.EstimatedTime != 92 {
		t.Errorf("estimated time lost: %d", got.EstimatedTime)
	}
	if got.Params.Seed == nil || *got.Params.Seed != 42 {
		t.Errorf("seed lost: %+v", got.Params.Seed)
	}
}

func TestBadgerStore_Create_RequiresID(t *testing.T) {
	s := newBadgerStore(t)

	if err := s.Create(context.Background(), &generation.Record{}); err == nil {
		t.Error("expected error for empty ID")
	}
}

func TestBadgerStore_Get_NotFound(t *testing.T) {
	s := newBadgerStore(t)

	_, err := s.Get(context.Background(), "nonexistent")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestBadgerStore_Update_Atomic(t *testing.T) {
	s := newBadgerStore(t)
	ctx := context.Background()
	if err := s.Create(ctx, newRecord("job-1", generation.StatusQueued, 1000)); err != nil {
		t.Fatalf("create: %v", err)
	}

	updated, err := s.Update(ctx, "job-1", func(r *generation.Record) error {
		if err := r.ApplyStatus(generation.StatusProcessing); err != nil {
			return err
		}
		r.ApplyProgress(generation.ProgressProcessing)
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if updated.Status != generation.StatusProcessing || updated.Progress != 50 {
		t.Errorf("unexpected updated record: %+v", updated)
	}

	stored, err := s.Get(ctx, "job-1")
	if err != nil {
		t.Fatalf("get after update: %v", err)
	}
	if stored.Status != generation.StatusProcessing || stored.Progress != 50 {
		t.Errorf("update not persisted: %+v", stored)
	}
}

func TestBadgerStore_Update_NotFound(t *testing.T) {
	s := newBadgerStore(t)

	_, err := s.Update(context.Background(), "nonexistent", func(r *generation.Record) error {
		return nil
	})
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestBadgerStore_Update_MutateErrorPropagates(t *testing.T) {
	s := newBadgerStore(t)
	ctx := context.Background()
	if err := s.Create(ctx, newRecord("job-1", generation.StatusQueued, 1000)); err != nil {
		t.Fatalf("create: %v", err)
	}

	wantErr := errors.New("boom")
	_, err := s.Update(ctx, "job-1", func(r *generation.Record) error {
		return wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Errorf("expected mutate error, got %v", err)
	}
}

func TestBadgerStore_List_NewestFirst(t *testing.T) {
	s := newBadgerStore(t)
	ctx := context.Background()
	for _, r := range []*generation.Record{
		newRecord("job-old", generation.StatusCompleted, 1000),
		newRecord("job-new", generation.StatusQueued, 3000),
		newRecord("job-mid", generation.StatusFailed, 2000),
	} {
		if err := s.Create(ctx, r); err != nil {
			t.Fatalf("create %s: %v", r.ID, err)
		}
	}

	records, err := s.List(ctx, Filter{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("expected 3 records, got %d", len(records))
	}
	if records[0].ID != "job-new" || records[1].ID != "job-mid" || records[2].ID != "job-old" {
		t.Errorf("wrong order: %s, %s, %s", records[0].ID, records[1].ID, records[2].ID)
	}
}

func TestBadgerStore_List_StatusFilter(t *testing.T) {
	s := newBadgerStore(t)
	ctx := context.Background()
	if err := s.Create(ctx, newRecord("job-1", generation.StatusCompleted, 1000)); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := s.Create(ctx, newRecord("job-2", generation.StatusQueued, 2000)); err != nil {
		t.Fatalf("create: %v", err)
	}

	records, err := s.List(ctx, Filter{Status: generation.StatusCompleted})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(records) != 1 || records[0].ID != "job-1" {
		t.Errorf("unexpected result: %+v", records)
	}
}

func TestBadgerStore_List_QueryFilter(t *testing.T) {
	s := newBadgerStore(t)
	ctx := context.Background()

	cat := newRecord("job-1", generation.StatusCompleted, 1000)
	dog := newRecord("job-2", generation.StatusCompleted, 2000)
	dog.Prompt = "a dog running"
	if err := s.Create(ctx, cat); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := s.Create(ctx, dog); err != nil {
		t.Fatalf("create: %v", err)
	}

	records, err := s.List(ctx, Filter{Query: "CAT"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(records) != 1 || records[0].ID != "job-1" {
		t.Errorf("unexpected result: %+v", records)
	}
}

func TestBadgerStore_List_Empty(t *testing.T) {
	s := newBadgerStore(t)

	records, err := s.List(context.Background(), Filter{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(records) != 0 {
		t.Errorf("expected no records, got %d", len(records))
	}
}

func TestBadgerStore_Delete(t *testing.T) {
	s := newBadgerStore(t)
	ctx := context.Background()
	if err := s.Create(ctx, newRecord("job-1", generation.StatusQueued, 1000)); err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := s.Delete(ctx, "job-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := s.Get(ctx, "job-1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}

	if err := s.Delete(ctx, "job-1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for double delete, got %v", err)
	}
}

func TestBadgerStore_DeleteAll(t *testing.T) {
	s := newBadgerStore(t)
	ctx := context.Background()
	for _, id := range []string{"job-1", "job-2", "job-3"} {
		if err := s.Create(ctx, newRecord(id, generation.StatusQueued, 1000)); err != nil {
			t.Fatalf("create %s: %v", id, err)
		}
	}

	if err := s.DeleteAll(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	records, err := s.List(ctx, Filter{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(records) != 0 {
		t.Errorf("expected empty store, got %d records", len(records))
	}
}

func TestBadgerStore_Ping(t *testing.T) {
	s := newBadgerStore(t)

	if err := s.Ping(context.Background()); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestBadgerStore_SurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	s, err := NewBadgerStore(dir)
	if err != nil {
		t.Fatalf("open badger store: %v", err)
	}
	if err := s.Create(ctx, newRecord("job-1", generation.StatusProcessing, 1000)); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	reopened, err := NewBadgerStore(dir)
	if err != nil {
		t.Fatalf("reopen badger store: %v", err)
	}
	t.Cleanup(func() { _ = reopened.Close() })

	got, err := reopened.Get(ctx, "job-1")
	if err != nil {
		t.Fatalf("get after reopen: %v", err)
	}
	if got.Status != generation.StatusProcessing {
		t.Errorf("record changed across restart: %+v", got)
	}
}
