// Package embedding provides image and text embedding providers and caching.
package embedding

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrUnavailable is returned when a provider cannot be reached or is not built in.
var ErrUnavailable = errors.New("embedding provider unavailable")

// ImageEmbedder produces one embedding per image path.
type ImageEmbedder interface {
	// EmbedImages returns embeddings aligned with paths. When only some items
	// fail, the error is a *BatchError and the failed positions are nil.
	EmbedImages(ctx context.Context, paths []string) ([][]float32, error)
}

// TextEmbedder produces an embedding for a piece of text.
type TextEmbedder interface {
	EmbedText(ctx context.Context, text string) ([]float32, error)
}

// TextModel is a TextEmbedder with a lifecycle. Dimensions is 0 when the
// size is only known after the first call.
type TextModel interface {
	TextEmbedder
	Dimensions() int
	Close() error
}

// CLIP embeds images and text into one shared space.
type CLIP interface {
	ImageEmbedder
	TextEmbedder
	// EmbedImageData embeds an encoded image held in memory.
	EmbedImageData(ctx context.Context, data []byte) ([]float32, error)
	Dimensions() int
	Close() error
}

// BatchError reports per-item failures of a batch call, keyed by input position.
type BatchError struct {
	Failed map[int]error
}

func (e *BatchError) Error() string {
	idx := make([]int, 0, len(e.Failed))
	for i := range e.Failed {
		idx = append(idx, i)
	}
	sort.Ints(idx)
	parts := make([]string, 0, len(idx))
	for _, i := range idx {
		parts = append(parts, fmt.Sprintf("item %d: %v", i, e.Failed[i]))
	}
	return fmt.Sprintf("%d item(s) failed: %s", len(idx), strings.Join(parts, "; "))
}

// add records a failure, allocating the map on first use.
func (e *BatchError) add(i int, err error) {
	if e.Failed == nil {
		e.Failed = make(map[int]error)
	}
	e.Failed[i] = err
}

// errOrNil returns e as an error if anything failed, nil otherwise.
func (e *BatchError) errOrNil() error {
	if len(e.Failed) == 0 {
		return nil
	}
	return e
}
