package ocr

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/hyperjump/shashin/internal/embedding"
)

// HTTPExtractor posts each image as multipart field "image" to an OCR
// service that answers {"words": [{"text", "confidence"}]}.
type HTTPExtractor struct {
	client        *resty.Client
	endpoint      string
	workers       int
	minConfidence float64
	logger        *zap.Logger
}

type ocrResponse struct {
	Words []Word `json:"words"`
	Error string `json:"error,omitempty"`
}

// HTTPOption configures an HTTPExtractor.
type HTTPOption func(*HTTPExtractor)

// WithWorkers bounds concurrent requests per batch.
func WithWorkers(n int) HTTPOption {
	return func(e *HTTPExtractor) {
		if n > 0 {
			e.workers = n
		}
	}
}

// WithMinConfidence drops words at or below c.
func WithMinConfidence(c float64) HTTPOption {
	return func(e *HTTPExtractor) { e.minConfidence = c }
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) HTTPOption {
	return func(e *HTTPExtractor) {
		if d > 0 {
			e.client.SetTimeout(d)
		}
	}
}

// WithLogger sets a logger for per-image failures.
func WithLogger(l *zap.Logger) HTTPOption {
	return func(e *HTTPExtractor) { e.logger = l }
}

// NewHTTPExtractor returns an extractor for the OCR service at endpoint.
func NewHTTPExtractor(endpoint string, opts ...HTTPOption) *HTTPExtractor {
	e := &HTTPExtractor{
		client:        resty.New().SetTimeout(60 * time.Second),
		endpoint:      endpoint,
		workers:       4,
		minConfidence: 0.5,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// ExtractText runs OCR on paths with up to workers requests in flight.
func (e *HTTPExtractor) ExtractText(ctx context.Context, paths []string) ([]*string, error) {
	out := make([]*string, len(paths))
	failed := make(map[int]error)
	var mu sync.Mutex
	var wg sync.WaitGroup
	sem := make(chan struct{}, e.workers)

	for i, p := range paths {
		select {
		case <-ctx.Done():
			wg.Wait()
			return nil, ctx.Err()
		case sem <- struct{}{}:
		}
		wg.Add(1)
		go func(i int, p string) {
			defer wg.Done()
			defer func() { <-sem }()
			text, err := e.extractOne(ctx, p)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failed[i] = err
				if e.logger != nil {
					e.logger.Warn("ocr failed", zap.String("path", p), zap.Error(err))
				}
				return
			}
			out[i] = text
		}(i, p)
	}
	wg.Wait()
	if len(failed) > 0 {
		return out, &embedding.BatchError{Failed: failed}
	}
	return out, nil
}

func (e *HTTPExtractor) extractOne(ctx context.Context, path string) (*string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open image: %w", err)
	}
	defer f.Close()

	var resp ocrResponse
	httpResp, err := e.client.R().
		SetContext(ctx).
		SetFileReader("image", filepath.Base(path), f).
		SetResult(&resp).
		SetError(&resp).
		ForceContentType("application/json").
		Post(e.endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to call OCR service: %w", err)
	}
	if httpResp.IsError() {
		if resp.Error != "" {
			return nil, fmt.Errorf("OCR service error: %s", resp.Error)
		}
		return nil, fmt.Errorf("OCR service error: status %d", httpResp.StatusCode())
	}
	return JoinWords(resp.Words, e.minConfidence), nil
}
