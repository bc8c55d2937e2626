package keyword

import (
	"context"
	"path/filepath"
	"testing"
)

func newTestIndex(t *testing.T) *BleveIndex {
	t.Helper()
	idx, err := NewBleveIndex(filepath.Join(t.TempDir(), "ocr.bleve"))
	if err != nil {
		t.Fatalf("NewBleveIndex: %v", err)
	}
	t.Cleanup(func() { _ = idx.Close() })
	return idx
}

func TestBleveIndex_SearchFindsText(t *testing.T) {
	idx := newTestIndex(t)
	ctx := context.Background()

	if err := idx.Index(ctx, "/pics/receipt.png", "Grocery receipt total due"); err != nil {
		t.Fatalf("Index: %v", err)
	}
	if err := idx.Index(ctx, "/pics/sign.png", "No parking any time"); err != nil {
		t.Fatalf("Index: %v", err)
	}

	results, err := idx.Search(ctx, "receipt", 10, nil)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 1 || results[0].ID != "/pics/receipt.png" {
		t.Fatalf("expected receipt.png, got %+v", results)
	}
	if results[0].Score <= 0 {
		t.Errorf("score should be positive, got %f", results[0].Score)
	}
}

func TestBleveIndex_ReindexReplacesText(t *testing.T) {
	idx := newTestIndex(t)
	ctx := context.Background()

	_ = idx.Index(ctx, "/a.png", "old caption")
	_ = idx.Index(ctx, "/a.png", "new caption")

	if res, _ := idx.Search(ctx, "old", 10, nil); len(res) != 0 {
		t.Errorf("old text should be gone, got %+v", res)
	}
	if res, _ := idx.Search(ctx, "new", 10, nil); len(res) != 1 {
		t.Errorf("new text should match, got %+v", res)
	}
	count, err := idx.DocCount()
	if err != nil {
		t.Fatal(err)
	}
	if count != 1 {
		t.Errorf("DocCount = %d, want 1", count)
	}
}

func TestBleveIndex_FuzzyToleratesMisreads(t *testing.T) {
	idx := newTestIndex(t)
	ctx := context.Background()
	_ = idx.Index(ctx, "/menu.jpg", "breakfast menu coffee")

	exact, err := idx.Search(ctx, "cofee", 10, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(exact) != 0 {
		t.Errorf("exact search should not match misspelling, got %+v", exact)
	}

	fuzzy, err := idx.Search(ctx, "cofee", 10, &SearchOptions{FuzzyEnabled: true, Fuzziness: 1})
	if err != nil {
		t.Fatal(err)
	}
	if len(fuzzy) != 1 || fuzzy[0].ID != "/menu.jpg" {
		t.Errorf("fuzzy search should match, got %+v", fuzzy)
	}
}

func TestBleveIndex_RankedPrefersFullCoverage(t *testing.T) {
	idx := newTestIndex(t)
	ctx := context.Background()
	_ = idx.Index(ctx, "/both.png", "happy birthday card")
	_ = idx.Index(ctx, "/one.png", "happy happy happy new year")

	results, err := idx.Search(ctx, "happy birthday", 10, &SearchOptions{PhraseBoost: 1.5})
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %+v", results)
	}
	if results[0].ID != "/both.png" {
		t.Errorf("document with both terms should rank first, got %+v", results)
	}
}

func TestBleveIndex_DeleteAndClear(t *testing.T) {
	idx := newTestIndex(t)
	ctx := context.Background()
	for _, id := range []string{"/1.png", "/2.png", "/3.png"} {
		if err := idx.Index(ctx, id, "stop sign"); err != nil {
			t.Fatal(err)
		}
	}

	if err := idx.Delete(ctx, []string{"/1.png", "/missing.png"}); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if n, _ := idx.DocCount(); n != 2 {
		t.Errorf("DocCount after delete = %d, want 2", n)
	}
	if err := idx.Delete(ctx, nil); err != nil {
		t.Errorf("empty delete: %v", err)
	}

	if err := idx.Clear(ctx); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if n, _ := idx.DocCount(); n != 0 {
		t.Errorf("DocCount after clear = %d, want 0", n)
	}
}

func TestBleveIndex_ReopenKeepsDocuments(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ocr.bleve")
	ctx := context.Background()

	idx, err := NewBleveIndex(path)
	if err != nil {
		t.Fatal(err)
	}
	_ = idx.Index(ctx, "/x.png", "exit only")
	if err := idx.Close(); err != nil {
		t.Fatal(err)
	}

	reopened, err := NewBleveIndex(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer func() { _ = reopened.Close() }()
	res, err := reopened.Search(ctx, "exit", 5, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(res) != 1 {
		t.Errorf("expected persisted doc, got %+v", res)
	}
}
