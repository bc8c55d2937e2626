// Package vector provides named embedding collections with cosine-distance
// nearest-neighbor queries.
package vector

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrDimensionMismatch is returned when an embedding's length differs from the collection's.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
	// ErrInvalidK is returned when a query asks for fewer than one result.
	ErrInvalidK = errors.New("k must be at least 1")
)

// Metadata is stored alongside an embedding. Image entries carry the
// fingerprint of the file they were computed from; text entries carry none.
type Metadata struct {
	Fingerprint    int64 `json:"fingerprint,omitempty"`
	HasFingerprint bool  `json:"-"`
}

// WithFingerprint returns metadata carrying fp.
func WithFingerprint(fp int64) Metadata {
	return Metadata{Fingerprint: fp, HasFingerprint: true}
}

// Entry is a stored embedding and its metadata.
type Entry struct {
	Embedding []float32
	Metadata  Metadata
}

// Match is a single query hit. Distance is the cosine distance (1 - cos).
type Match struct {
	ID       string
	Distance float64
}

// Collection is a named store of id -> (embedding, metadata).
// Implementations are safe for concurrent use.
type Collection interface {
	Name() string
	// Get returns the entries for ids that exist; absent ids are omitted.
	Get(ctx context.Context, ids []string) (map[string]Entry, error)
	// Upsert inserts or replaces entries. ids, embeddings and metadatas are
	// positionally aligned; metadatas may be nil.
	Upsert(ctx context.Context, ids []string, embeddings [][]float32, metadatas []Metadata) error
	// Delete removes ids. Missing ids are ignored.
	Delete(ctx context.Context, ids []string) error
	// Query returns at most k entries ordered by ascending cosine distance.
	Query(ctx context.Context, embedding []float32, k int) ([]Match, error)
	IDs(ctx context.Context) ([]string, error)
	Count(ctx context.Context) (int, error)
	Close() error
}

func validateUpsert(ids []string, embeddings [][]float32, metadatas []Metadata) error {
	if len(ids) != len(embeddings) {
		return fmt.Errorf("ids and embeddings length mismatch: %d != %d", len(ids), len(embeddings))
	}
	if metadatas != nil && len(metadatas) != len(ids) {
		return fmt.Errorf("ids and metadatas length mismatch: %d != %d", len(ids), len(metadatas))
	}
	return nil
}

func metadataAt(metadatas []Metadata, i int) Metadata {
	if metadatas == nil {
		return Metadata{}
	}
	return metadatas[i]
}

// checkDimensions verifies every embedding has length dims. When dims is 0
// the first embedding fixes it; the resolved dimension is returned.
func checkDimensions(dims int, embeddings [][]float32) (int, error) {
	for _, e := range embeddings {
		if len(e) == 0 {
			return dims, fmt.Errorf("%w: empty embedding", ErrDimensionMismatch)
		}
		if dims == 0 {
			dims = len(e)
			continue
		}
		if len(e) != dims {
			return dims, fmt.Errorf("%w: got %d, expected %d", ErrDimensionMismatch, len(e), dims)
		}
	}
	return dims, nil
}
