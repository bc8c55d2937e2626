package catalog

import (
	"context"
	"errors"
	"path/filepath"
	"reflect"
	"sync/atomic"
	"testing"

	"github.com/hyperjump/shashin/internal/storage"
)

func newTestCatalog(t *testing.T, opts ...Option) *Catalog {
	t.Helper()
	store, err := storage.NewSQLiteStorage(filepath.Join(t.TempDir(), "catalog.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return New(store, opts...)
}

func TestDedupe(t *testing.T) {
	got := Dedupe([]string{`C:\pics\a.png`, "C:/pics/a.png", "", "/b.jpg", "/b.jpg", "/c.gif"})
	want := []string{"C:/pics/a.png", "/b.jpg", "/c.gif"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Dedupe = %v, want %v", got, want)
	}
}

func TestRebuild_withoutFingerprints(t *testing.T) {
	var calls int32
	c := newTestCatalog(t, WithFingerprintFunc(func(string) (int64, error) {
		atomic.AddInt32(&calls, 1)
		return 42, nil
	}))
	ctx := context.Background()

	n, err := c.Rebuild(ctx, []string{"/a.png", `\b.png`, "/a.png"}, false)
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("records = %d, want 2", n)
	}
	if calls != 0 {
		t.Errorf("fingerprint called %d times, want 0", calls)
	}
	records, err := c.Read(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 2 || records[0].ID != "/a.png" || records[1].ID != "/b.png" {
		t.Fatalf("unexpected records: %+v", records)
	}
	for _, r := range records {
		if r.Fingerprint != 0 {
			t.Errorf("%s fingerprint = %d, want 0", r.ID, r.Fingerprint)
		}
	}
}

func TestRebuild_withFingerprints(t *testing.T) {
	fps := map[string]int64{"/a.png": 10, "/b.png": 20}
	c := newTestCatalog(t, WithWorkers(3), WithFingerprintFunc(func(p string) (int64, error) {
		if fp, ok := fps[p]; ok {
			return fp, nil
		}
		return 0, errors.New("unreadable")
	}))
	ctx := context.Background()

	if _, err := c.Rebuild(ctx, []string{"/a.png", "/broken.png", "/b.png"}, true); err != nil {
		t.Fatal(err)
	}
	records, err := c.Read(ctx)
	if err != nil {
		t.Fatal(err)
	}
	got := map[string]int64{}
	for _, r := range records {
		got[r.ID] = r.Fingerprint
	}
	want := map[string]int64{"/a.png": 10, "/broken.png": 0, "/b.png": 20}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("fingerprints = %v, want %v", got, want)
	}
	if records[1].ID != "/broken.png" {
		t.Errorf("order not preserved: %+v", records)
	}
}

func TestRebuild_replacesPreviousCatalog(t *testing.T) {
	c := newTestCatalog(t)
	ctx := context.Background()
	if _, err := c.Rebuild(ctx, []string{"/a.png", "/b.png"}, false); err != nil {
		t.Fatal(err)
	}
	if _, err := c.Rebuild(ctx, []string{"/c.png"}, false); err != nil {
		t.Fatal(err)
	}
	records, err := c.Read(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 1 || records[0].ID != "/c.png" {
		t.Errorf("expected only /c.png, got %+v", records)
	}
	ok, err := c.Contains(ctx, "/a.png")
	if err != nil || ok {
		t.Errorf("Contains(/a.png) = %v, %v; want false, nil", ok, err)
	}
	ok, err = c.Contains(ctx, "/c.png")
	if err != nil || !ok {
		t.Errorf("Contains(/c.png) = %v, %v; want true, nil", ok, err)
	}
}

func TestRebuild_empty(t *testing.T) {
	c := newTestCatalog(t)
	ctx := context.Background()
	if _, err := c.Rebuild(ctx, []string{"/a.png"}, false); err != nil {
		t.Fatal(err)
	}
	n, err := c.Rebuild(ctx, nil, true)
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Errorf("records = %d, want 0", n)
	}
	count, err := c.Count(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if count != 0 {
		t.Errorf("count = %d, want 0", count)
	}
}

func TestRebuild_cancelled(t *testing.T) {
	c := newTestCatalog(t, WithWorkers(1))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := c.Rebuild(ctx, []string{"/a.png", "/b.png"}, true); err == nil {
		t.Error("expected context error")
	}
}
