package storage

import (
	"context"
	"errors"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/hyperjump/shashin/internal/models"
)

func newTestStorage(t *testing.T) *SQLiteStorage {
	t.Helper()
	store, err := NewSQLiteStorage(filepath.Join(t.TempDir(), "db", "catalog.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestSQLiteStorage_ReplaceAndList(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()

	first := []models.FileRecord{{ID: "/b.png", Fingerprint: 20}, {ID: "/a.png", Fingerprint: 10}}
	if err := store.Replace(ctx, first); err != nil {
		t.Fatal(err)
	}
	got, err := store.List(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(got, first) {
		t.Errorf("List() = %v, want %v (insertion order)", got, first)
	}

	second := []models.FileRecord{{ID: "/a.png", Fingerprint: 99}}
	if err := store.Replace(ctx, second); err != nil {
		t.Fatal(err)
	}
	got, _ = store.List(ctx)
	if !reflect.DeepEqual(got, second) {
		t.Errorf("after replace List() = %v, want %v", got, second)
	}
	n, err := store.Count(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("Count() = %d, want 1", n)
	}
}

func TestSQLiteStorage_ReplaceRollsBackOnDuplicate(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()
	if err := store.Replace(ctx, []models.FileRecord{{ID: "/keep.png", Fingerprint: 1}}); err != nil {
		t.Fatal(err)
	}
	err := store.Replace(ctx, []models.FileRecord{{ID: "/x.png"}, {ID: "/x.png"}})
	if err == nil {
		t.Fatal("expected unique constraint error")
	}
	got, _ := store.List(ctx)
	if len(got) != 1 || got[0].ID != "/keep.png" {
		t.Errorf("failed replace must leave catalog unchanged, got %v", got)
	}
}

func TestSQLiteStorage_Get(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()
	_ = store.Replace(ctx, []models.FileRecord{{ID: "/a.png", Fingerprint: 7}})

	rec, err := store.Get(ctx, "/a.png")
	if err != nil {
		t.Fatal(err)
	}
	if rec.Fingerprint != 7 {
		t.Errorf("fingerprint = %d", rec.Fingerprint)
	}
	if _, err := store.Get(ctx, "/nope.png"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestSQLiteStorage_Reports(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()
	if _, err := store.LastReport(ctx); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound before any run, got %v", err)
	}
	older := &models.ReconcileReport{RunID: "r1", StartedAt: time.Now().Add(-time.Hour), Embedded: 1}
	newer := &models.ReconcileReport{RunID: "r2", StartedAt: time.Now(), Embedded: 2, Purged: 1}
	if err := store.SaveReport(ctx, older); err != nil {
		t.Fatal(err)
	}
	if err := store.SaveReport(ctx, newer); err != nil {
		t.Fatal(err)
	}
	got, err := store.LastReport(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if got.RunID != "r2" || got.Embedded != 2 || got.Purged != 1 {
		t.Errorf("LastReport() = %+v", got)
	}

	if err := store.Clear(ctx); err != nil {
		t.Fatal(err)
	}
	if _, err := store.LastReport(ctx); !errors.Is(err, ErrNotFound) {
		t.Errorf("Clear should drop run history, got %v", err)
	}
}
