// Package search answers similarity queries against the image and OCR text collections.
package search

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hyperjump/shashin/internal/embedding"
	"github.com/hyperjump/shashin/internal/imaging"
	"github.com/hyperjump/shashin/internal/keyword"
	"github.com/hyperjump/shashin/internal/metrics"
	"github.com/hyperjump/shashin/internal/models"
	"github.com/hyperjump/shashin/internal/vector"
	"go.uber.org/zap"
)

var (
	// ErrInvalidTopK is returned when fewer than one result is requested.
	ErrInvalidTopK = models.ErrInvalidTopK
	// ErrEmptyQuery is returned for a blank text or missing image.
	ErrEmptyQuery = models.ErrEmptyQuery
	// ErrQueryImage wraps failures to read or decode a local query image.
	ErrQueryImage = errors.New("cannot read query image")
	// ErrFetchFailed wraps failures to download a query image URL.
	ErrFetchFailed = errors.New("failed to fetch query image")
	// ErrTextSearchDisabled is returned when no OCR text embedder is configured.
	ErrTextSearchDisabled = errors.New("ocr text search is not configured")
	// ErrKeywordDisabled is returned when no keyword index is configured.
	ErrKeywordDisabled = errors.New("ocr keyword search is not configured")
)

// DefaultFetchTimeout bounds the download of a query image URL.
const DefaultFetchTimeout = 30 * time.Second

// CLIP embeds query text and query images into the image space.
type CLIP interface {
	embedding.ImageEmbedder
	embedding.TextEmbedder
	EmbedImageData(ctx context.Context, data []byte) ([]float32, error)
}

// Fetcher downloads a remote image.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// Engine runs similarity queries. It only reads collections, so it is safe
// to use while a reconcile is running.
type Engine struct {
	clip         CLIP
	textEmbedder embedding.TextEmbedder // optional
	images       vector.Collection
	texts        vector.Collection
	keywordIndex keyword.KeywordIndex // optional
	fetcher      Fetcher
	logger       *zap.Logger // optional
}

// Option configures an Engine.
type Option func(*Engine)

// WithTextEmbedder enables SearchOCRText.
func WithTextEmbedder(t embedding.TextEmbedder) Option {
	return func(e *Engine) { e.textEmbedder = t }
}

// WithKeywordIndex enables SearchOCRKeyword.
func WithKeywordIndex(k keyword.KeywordIndex) Option {
	return func(e *Engine) { e.keywordIndex = k }
}

// WithFetcher replaces the default URL fetcher.
func WithFetcher(f Fetcher) Option {
	return func(e *Engine) { e.fetcher = f }
}

// WithLogger sets a logger for query debug output.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// NewEngine creates a search engine over the images and texts collections.
func NewEngine(clip CLIP, images, texts vector.Collection, opts ...Option) *Engine {
	e := &Engine{
		clip:   clip,
		images: images,
		texts:  texts,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.fetcher == nil {
		e.fetcher = imaging.NewFetcher(DefaultFetchTimeout)
	}
	return e
}

// SearchByText finds images matching a natural-language description.
func (e *Engine) SearchByText(ctx context.Context, text string, topK int, threshold float64) (*models.SearchResult, error) {
	start := time.Now()
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyQuery
	}
	if topK < 1 {
		return nil, ErrInvalidTopK
	}
	vec, err := e.clip.EmbedText(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query text: %w", err)
	}
	return e.query(ctx, "text", e.images, vec, topK, threshold, "", start)
}

// SearchByImage finds images similar to q. A path query is a local file or an
// http(s) URL; surrounding quotes are ignored. Unless includeSelf is set, the
// query image itself is removed from the results of a local path query.
func (e *Engine) SearchByImage(ctx context.Context, q models.ImageQuery, topK int, threshold float64, includeSelf bool) (*models.SearchResult, error) {
	start := time.Now()
	if topK < 1 {
		return nil, ErrInvalidTopK
	}

	var (
		vec  []float32
		self string
		err  error
	)
	path := strings.Trim(strings.TrimSpace(q.Path), `"'`)
	switch {
	case len(q.Data) > 0:
		vec, err = e.clip.EmbedImageData(ctx, q.Data)
		if err != nil && !errors.Is(err, embedding.ErrUnavailable) {
			err = fmt.Errorf("%w: %v", ErrQueryImage, err)
		}
	case path == "":
		return nil, ErrEmptyQuery
	case imaging.IsURL(path):
		data, fetchErr := e.fetcher.Fetch(ctx, path)
		if fetchErr != nil {
			return nil, fmt.Errorf("%w: %v", ErrFetchFailed, fetchErr)
		}
		vec, err = e.clip.EmbedImageData(ctx, data)
	default:
		path = models.NormalizePath(path)
		vec, err = e.embedPath(ctx, path)
		if !includeSelf {
			self = path
		}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to embed query image: %w", err)
	}
	return e.query(ctx, "image", e.images, vec, topK, threshold, self, start)
}

func (e *Engine) embedPath(ctx context.Context, path string) ([]float32, error) {
	vecs, err := e.clip.EmbedImages(ctx, []string{path})
	var batchErr *embedding.BatchError
	if errors.As(err, &batchErr) {
		if itemErr, ok := batchErr.Failed[0]; ok {
			return nil, fmt.Errorf("%w: %v", ErrQueryImage, itemErr)
		}
	}
	if err != nil {
		return nil, err
	}
	if len(vecs) != 1 || vecs[0] == nil {
		return nil, fmt.Errorf("no embedding for %s", path)
	}
	return vecs[0], nil
}

// SearchOCRText finds images whose recognized text is close to text.
func (e *Engine) SearchOCRText(ctx context.Context, text string, topK int, threshold float64) (*models.SearchResult, error) {
	start := time.Now()
	if e.textEmbedder == nil {
		return nil, ErrTextSearchDisabled
	}
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyQuery
	}
	if topK < 1 {
		return nil, ErrInvalidTopK
	}
	vec, err := e.textEmbedder.EmbedText(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query text: %w", err)
	}
	return e.query(ctx, "ocr", e.texts, vec, topK, threshold, "", start)
}

// SearchOCRKeyword runs a full-text search over recognized text.
func (e *Engine) SearchOCRKeyword(ctx context.Context, q models.KeywordQuery) (*models.KeywordResponse, error) {
	start := time.Now()
	if e.keywordIndex == nil {
		return nil, ErrKeywordDisabled
	}
	if err := q.Validate(); err != nil {
		return nil, err
	}
	results, err := e.keywordIndex.Search(ctx, q.Query, q.Limit, &keyword.SearchOptions{
		PhraseBoost:  1.5,
		FuzzyEnabled: q.Fuzzy,
		Fuzziness:    1,
	})
	if err != nil {
		return nil, fmt.Errorf("keyword search failed: %w", err)
	}
	resp := &models.KeywordResponse{Hits: make([]models.KeywordHit, 0, len(results))}
	for _, r := range results {
		resp.Hits = append(resp.Hits, models.KeywordHit{Path: r.ID, Score: r.Score})
	}
	took := time.Since(start)
	resp.TookMS = took.Milliseconds()
	metrics.QueryDuration.WithLabelValues("keyword").Observe(took.Seconds())
	return resp, nil
}

// query runs a nearest-neighbour lookup and converts distances to
// similarities, keeping only those strictly above threshold. When self is
// set, the first hit with that id is dropped.
func (e *Engine) query(ctx context.Context, kind string, coll vector.Collection, vec []float32, topK int, threshold float64, self string, start time.Time) (*models.SearchResult, error) {
	k := topK
	if self != "" {
		k++
	}
	matches, err := coll.Query(ctx, vec, k)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", coll.Name(), err)
	}
	if self != "" {
		matches = removeFirst(matches, self)
	}
	if len(matches) > topK {
		matches = matches[:topK]
	}

	result := &models.SearchResult{
		Paths:        make([]string, 0, len(matches)),
		Similarities: make([]float64, 0, len(matches)),
	}
	for _, m := range matches {
		sim := 1 - m.Distance
		if sim <= threshold {
			continue
		}
		result.Paths = append(result.Paths, m.ID)
		result.Similarities = append(result.Similarities, sim)
	}

	took := time.Since(start)
	result.TookMS = took.Milliseconds()
	metrics.QueryDuration.WithLabelValues(kind).Observe(took.Seconds())
	if e.logger != nil {
		e.logger.Debug("query finished",
			zap.String("kind", kind),
			zap.Int("top_k", topK),
			zap.Float64("threshold", threshold),
			zap.Int("hits", result.Len()),
			zap.Duration("took", took))
	}
	return result, nil
}

// removeFirst drops the first match whose id equals id.
func removeFirst(matches []vector.Match, id string) []vector.Match {
	for i, m := range matches {
		if m.ID == id {
			return append(matches[:i:i], matches[i+1:]...)
		}
	}
	return matches
}
