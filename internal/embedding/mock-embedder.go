package embedding

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"os"
	"sync/atomic"

	"github.com/hyperjump/shashin/pkg/utils"
)

const defaultMockDimensions = 64

// MockCLIP is a deterministic CLIP stand-in for tests and for running without
// a model. Images are embedded from their raw file bytes, so changing a file
// changes its embedding, and text is embedded from its UTF-8 bytes: a file
// whose content is "cat" lands exactly on the text "cat".
type MockCLIP struct {
	dimensions int
}

// NewMockCLIP returns a mock with the given dimensions (64 when <= 0).
func NewMockCLIP(dimensions int) *MockCLIP {
	if dimensions <= 0 {
		dimensions = defaultMockDimensions
	}
	return &MockCLIP{dimensions: dimensions}
}

// EmbedImages embeds each file's bytes. Unreadable files are reported in a *BatchError.
func (m *MockCLIP) EmbedImages(ctx context.Context, paths []string) ([][]float32, error) {
	out := make([][]float32, len(paths))
	var be BatchError
	for i, p := range paths {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		data, err := os.ReadFile(p)
		if err != nil {
			be.add(i, fmt.Errorf("failed to read image: %w", err))
			continue
		}
		out[i] = deterministicVector(data, m.dimensions)
	}
	return out, be.errOrNil()
}

func (m *MockCLIP) EmbedImageData(ctx context.Context, data []byte) ([]float32, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("empty image data")
	}
	return deterministicVector(data, m.dimensions), nil
}

func (m *MockCLIP) EmbedText(ctx context.Context, text string) ([]float32, error) {
	return deterministicVector([]byte(text), m.dimensions), nil
}

func (m *MockCLIP) Dimensions() int { return m.dimensions }

// Close is a no-op for MockCLIP.
func (m *MockCLIP) Close() error { return nil }

// MockTextEmbedder is a deterministic TextModel: the same text always gets the same embedding.
type MockTextEmbedder struct {
	dimensions int
	calls      atomic.Int64
}

// NewMockTextEmbedder returns a mock with the given dimensions (64 when <= 0).
func NewMockTextEmbedder(dimensions int) *MockTextEmbedder {
	if dimensions <= 0 {
		dimensions = defaultMockDimensions
	}
	return &MockTextEmbedder{dimensions: dimensions}
}

func (e *MockTextEmbedder) EmbedText(ctx context.Context, text string) ([]float32, error) {
	e.calls.Add(1)
	return deterministicVector([]byte(text), e.dimensions), nil
}

// Calls returns how many times EmbedText ran.
func (e *MockTextEmbedder) Calls() int { return int(e.calls.Load()) }

func (e *MockTextEmbedder) Dimensions() int { return e.dimensions }

// Close is a no-op for MockTextEmbedder.
func (e *MockTextEmbedder) Close() error { return nil }

// deterministicVector derives a unit vector from data.
func deterministicVector(data []byte, dims int) []float32 {
	h := fnv.New64a()
	_, _ = h.Write(data)
	seed := h.Sum64()
	emb := make([]float32, dims)
	for i := range emb {
		// splitmix64 step per component
		seed += 0x9E3779B97F4A7C15
		z := seed
		z = (z ^ (z >> 30)) * 0xBF58476D1CE4E5B9
		z = (z ^ (z >> 27)) * 0x94D049BB133111EB
		z ^= z >> 31
		emb[i] = float32(math.Sin(float64(z%100000)))*0.5 + 0.01
	}
	utils.NormalizeL2(emb)
	return emb
}
