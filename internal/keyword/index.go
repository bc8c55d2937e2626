// Package keyword provides full-text search over text recognized in images.
package keyword

import "context"

// SearchOptions optional parameters for keyword search. Nil means use defaults.
type SearchOptions struct {
	// PhraseBoost multiplies the score when query terms appear next to each other.
	// Values > 1 enable the multi-term ranking path (e.g. 1.5). Use 1.0 for no boost.
	PhraseBoost float64
	// FuzzyEnabled matches terms within Fuzziness edits, which helps with OCR misreads.
	FuzzyEnabled bool
	// Fuzziness is the maximum Levenshtein edit distance (1 or 2). Default 1.
	Fuzziness int
}

// KeywordIndex defines keyword search operations over image text.
type KeywordIndex interface {
	Index(ctx context.Context, id, text string) error
	Search(ctx context.Context, query string, limit int, opts *SearchOptions) ([]*KeywordResult, error)
	Delete(ctx context.Context, ids []string) error
	// Clear removes every document.
	Clear(ctx context.Context) error
	DocCount() (uint64, error)
	Close() error
}

// KeywordResult is a single keyword search hit. ID is the image path.
type KeywordResult struct {
	ID    string
	Score float64
}
