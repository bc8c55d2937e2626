// Package ocr extracts text from images and filters out noise.
package ocr

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/hyperjump/shashin/internal/config"
)

// Extractor returns the text found in each image, aligned with paths. A nil
// entry means the image has no usable text. Per-item failures are reported
// as an *embedding.BatchError with the failed positions left nil.
type Extractor interface {
	ExtractText(ctx context.Context, paths []string) ([]*string, error)
}

// Word is one recognized token and the recognizer's confidence in it.
type Word struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
}

// JoinWords keeps words whose confidence is above minConfidence, joins them
// with spaces and runs CleanText. Returns nil when nothing usable remains.
func JoinWords(words []Word, minConfidence float64) *string {
	kept := make([]string, 0, len(words))
	for _, w := range words {
		if w.Confidence > minConfidence {
			kept = append(kept, w.Text)
		}
	}
	text, ok := CleanText(strings.Join(kept, " "))
	if !ok {
		return nil
	}
	return &text
}

// CleanText strips commas and surrounding space and rejects text that is too
// short, has no letters, or whose alphabetic words are all single letters.
func CleanText(text string) (string, bool) {
	text = strings.TrimSpace(strings.ReplaceAll(text, ",", ""))
	if utf8.RuneCountInString(text) < 3 {
		return "", false
	}
	if strings.IndexFunc(text, unicode.IsLetter) < 0 {
		return "", false
	}
	for _, word := range strings.Fields(text) {
		if isAlpha(word) && utf8.RuneCountInString(word) > 1 {
			return text, true
		}
	}
	return "", false
}

func isAlpha(s string) bool {
	for _, r := range s {
		if !unicode.IsLetter(r) {
			return false
		}
	}
	return s != ""
}

// Disabled is the Extractor used when OCR is turned off: every image has no text.
type Disabled struct{}

func (Disabled) ExtractText(ctx context.Context, paths []string) ([]*string, error) {
	return make([]*string, len(paths)), nil
}

// New returns the configured extractor.
func New(cfg config.OCRConfig, logger *zap.Logger) (Extractor, error) {
	switch cfg.Provider {
	case "none", "":
		return Disabled{}, nil
	case "http":
		if cfg.Endpoint == "" {
			return nil, fmt.Errorf("ocr provider http needs an endpoint")
		}
		opts := []HTTPOption{
			WithWorkers(cfg.Workers),
			WithMinConfidence(cfg.MinConfidence),
			WithTimeout(time.Duration(cfg.TimeoutSeconds) * time.Second),
		}
		if logger != nil {
			opts = append(opts, WithLogger(logger))
		}
		return NewHTTPExtractor(cfg.Endpoint, opts...), nil
	case "sidecar":
		return NewSidecarExtractor(cfg.MinConfidence), nil
	default:
		return nil, fmt.Errorf("unknown ocr provider: %s (supported: none, http, sidecar)", cfg.Provider)
	}
}
