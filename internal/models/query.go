package models

import (
	"errors"
	"strings"
)

// ErrInvalidTopK is returned when a query asks for fewer than one result.
var ErrInvalidTopK = errors.New("top_k must be at least 1")

// ErrEmptyQuery is returned when the query text or image is missing.
var ErrEmptyQuery = errors.New("query cannot be empty")

// SearchRequest is the body accepted by the similarity endpoints.
type SearchRequest struct {
	Query       string   `json:"query"`
	TopK        int      `json:"top_k,omitempty"`
	Threshold   *float64 `json:"threshold,omitempty"`
	IncludeSelf bool     `json:"include_self,omitempty"`
}

// Validate checks the request and fills defaults. A zero TopK takes
// defaultTopK; TopK above maxTopK is capped. A nil Threshold takes
// defaultThreshold.
func (r *SearchRequest) Validate(defaultTopK, maxTopK int, defaultThreshold float64) error {
	if strings.TrimSpace(r.Query) == "" {
		return ErrEmptyQuery
	}
	if r.TopK < 0 {
		return ErrInvalidTopK
	}
	if r.TopK == 0 {
		r.TopK = defaultTopK
	}
	if maxTopK > 0 && r.TopK > maxTopK {
		r.TopK = maxTopK
	}
	if r.TopK < 1 {
		return ErrInvalidTopK
	}
	if r.Threshold == nil {
		t := defaultThreshold
		r.Threshold = &t
	}
	return nil
}

// ThresholdOrZero returns the threshold, or 0 when unset.
func (r *SearchRequest) ThresholdOrZero() float64 {
	if r.Threshold == nil {
		return 0
	}
	return *r.Threshold
}

// ImageQuery is the input of an image-to-image search. Exactly one of Path
// or Data is used; Path may be a local file or an http(s) URL.
type ImageQuery struct {
	Path string
	Data []byte
}

// KeywordQuery is the body of an OCR keyword search.
type KeywordQuery struct {
	Query string `json:"query"`
	Limit int    `json:"limit,omitempty"`
	Fuzzy bool   `json:"fuzzy,omitempty"`
}

// Validate ensures the keyword query is non-empty and bounds its limit.
func (q *KeywordQuery) Validate() error {
	if strings.TrimSpace(q.Query) == "" {
		return ErrEmptyQuery
	}
	if q.Limit <= 0 {
		q.Limit = 10
	}
	if q.Limit > 100 {
		q.Limit = 100
	}
	return nil
}
