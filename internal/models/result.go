package models

import "time"

// SearchResult holds matching paths and their similarities, aligned by index.
type SearchResult struct {
	Paths        []string  `json:"paths"`
	Similarities []float64 `json:"similarities"`
	TookMS       int64     `json:"took_ms"`
}

// Len returns the number of hits.
func (r *SearchResult) Len() int {
	return len(r.Paths)
}

// KeywordHit is one OCR keyword search hit.
type KeywordHit struct {
	Path  string  `json:"path"`
	Score float64 `json:"score"`
}

// KeywordResponse is the response of an OCR keyword search.
type KeywordResponse struct {
	Hits   []KeywordHit `json:"hits"`
	TookMS int64        `json:"took_ms"`
}

// ReconcileReport summarizes one reconciliation pass.
type ReconcileReport struct {
	RunID      string        `json:"run_id"`
	StartedAt  time.Time     `json:"started_at"`
	Duration   time.Duration `json:"duration_ns"`
	Catalog    int           `json:"catalog"`
	Batches    int           `json:"batches"`
	Embedded   int           `json:"embedded"`
	Skipped    int           `json:"skipped"`
	Failed     int           `json:"failed"`
	Texts      int           `json:"texts"`
	TextFailed int           `json:"text_failed"`
	Purged     int           `json:"purged"`
}
