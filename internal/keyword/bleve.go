package keyword

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	blevequery "github.com/blevesearch/bleve/v2/search/query"
)

const textField = "text"

// textDocument is what gets indexed per image.
type textDocument struct {
	Path string `json:"path"`
	Text string `json:"text"`
}

// BleveIndex implements KeywordIndex using Bleve.
type BleveIndex struct {
	index bleve.Index
}

// NewBleveIndex creates or opens a Bleve index at path.
// If you change the index mapping in code, remove the index directory to force a re-index.
func NewBleveIndex(path string) (*BleveIndex, error) {
	im := bleve.NewIndexMapping()

	docMapping := bleve.NewDocumentMapping()
	textFieldMapping := bleve.NewTextFieldMapping()
	// Standard analyzer (lowercase + tokenize, no stemming): OCR output is
	// often fragments where stemming does more harm than good.
	textFieldMapping.Analyzer = standard.Name
	docMapping.AddFieldMappingsAt(textField, textFieldMapping)
	pathFieldMapping := bleve.NewKeywordFieldMapping()
	pathFieldMapping.Index = false
	docMapping.AddFieldMappingsAt("path", pathFieldMapping)
	im.AddDocumentMapping("image", docMapping)
	im.DefaultType = "image"
	im.DefaultMapping = docMapping

	if _, err := os.Stat(path); err == nil {
		index, openErr := bleve.Open(path)
		if openErr != nil {
			return nil, fmt.Errorf("failed to open Bleve index: %w", openErr)
		}
		return &BleveIndex{index: index}, nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create index directory: %w", err)
	}
	index, err := bleve.New(path, im)
	if err != nil {
		return nil, fmt.Errorf("failed to create Bleve index: %w", err)
	}
	return &BleveIndex{index: index}, nil
}

// NewMemoryBleveIndex creates an index that lives only in memory.
func NewMemoryBleveIndex() (*BleveIndex, error) {
	im := bleve.NewIndexMapping()
	docMapping := bleve.NewDocumentMapping()
	textFieldMapping := bleve.NewTextFieldMapping()
	textFieldMapping.Analyzer = standard.Name
	docMapping.AddFieldMappingsAt(textField, textFieldMapping)
	im.DefaultMapping = docMapping
	index, err := bleve.NewMemOnly(im)
	if err != nil {
		return nil, fmt.Errorf("failed to create Bleve index: %w", err)
	}
	return &BleveIndex{index: index}, nil
}

// Index stores or replaces the text of image id.
func (b *BleveIndex) Index(ctx context.Context, id, text string) error {
	return b.index.Index(id, textDocument{Path: id, Text: text})
}

// Search runs a match query and returns up to limit results.
// When opts is nil or PhraseBoost <= 1, a single match (or fuzzy) query is used.
// Otherwise multi-term queries are re-ranked by term coverage and phrase adjacency.
func (b *BleveIndex) Search(ctx context.Context, query string, limit int, opts *SearchOptions) ([]*KeywordResult, error) {
	phraseBoost := 1.0
	fuzzy := false
	fuzziness := 1
	if opts != nil {
		if opts.PhraseBoost > 0 {
			phraseBoost = opts.PhraseBoost
		}
		fuzzy = opts.FuzzyEnabled
		if opts.Fuzziness > 0 {
			fuzziness = opts.Fuzziness
		}
	}
	if limit <= 0 {
		limit = 10
	}

	terms := tokenizeQuery(query)
	if phraseBoost <= 1.0 || len(terms) < 2 {
		return b.searchSingle(ctx, query, limit, fuzzy, fuzziness)
	}
	return b.searchRanked(ctx, query, terms, limit, phraseBoost, fuzzy, fuzziness)
}

func (b *BleveIndex) searchSingle(ctx context.Context, query string, limit int, fuzzy bool, fuzziness int) ([]*KeywordResult, error) {
	req := bleve.NewSearchRequest(b.buildQuery(query, fuzzy, fuzziness))
	req.Size = limit
	results, err := b.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("Bleve search failed: %w", err)
	}
	out := make([]*KeywordResult, len(results.Hits))
	for i, hit := range results.Hits {
		out[i] = &KeywordResult{ID: hit.ID, Score: hit.Score}
	}
	return out, nil
}

// searchRanked scores = base * (matched/total)^2 * phraseBoost (when the
// terms appear as a phrase), so images containing every query word outrank
// partial matches.
func (b *BleveIndex) searchRanked(ctx context.Context, query string, terms []string, limit int, phraseBoost float64, fuzzy bool, fuzziness int) ([]*KeywordResult, error) {
	reqSize := limit * 2
	if reqSize < 50 {
		reqSize = 50
	}
	req := bleve.NewSearchRequest(b.buildQuery(query, fuzzy, fuzziness))
	req.Size = reqSize
	results, err := b.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("Bleve search failed: %w", err)
	}

	coverage := make(map[string]int)
	for _, term := range terms {
		tr := bleve.NewSearchRequest(b.buildQuery(term, fuzzy, fuzziness))
		tr.Size = reqSize
		termResults, err := b.index.SearchInContext(ctx, tr)
		if err != nil {
			continue
		}
		for _, hit := range termResults.Hits {
			coverage[hit.ID]++
		}
	}

	phrase := make(map[string]bool)
	pq := bleve.NewMatchPhraseQuery(query)
	pq.SetField(textField)
	pr := bleve.NewSearchRequest(pq)
	pr.Size = reqSize
	if phraseResults, err := b.index.SearchInContext(ctx, pr); err == nil {
		for _, hit := range phraseResults.Hits {
			phrase[hit.ID] = true
		}
	}

	out := make([]*KeywordResult, 0, len(results.Hits))
	for _, hit := range results.Hits {
		matched := coverage[hit.ID]
		if matched == 0 {
			matched = 1
		}
		c := float64(matched) / float64(len(terms))
		score := hit.Score * c * c
		if phrase[hit.ID] {
			score *= phraseBoost
		}
		out = append(out, &KeywordResult{ID: hit.ID, Score: score})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].ID < out[j].ID
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// buildQuery returns a match query, or a disjunction of fuzzy term queries.
func (b *BleveIndex) buildQuery(query string, fuzzy bool, fuzziness int) blevequery.Query {
	terms := tokenizeQuery(query)
	if !fuzzy || len(terms) == 0 {
		mq := bleve.NewMatchQuery(query)
		mq.SetField(textField)
		return mq
	}
	queries := make([]blevequery.Query, 0, len(terms))
	for _, term := range terms {
		fq := bleve.NewFuzzyQuery(term)
		fq.SetFuzziness(fuzziness)
		fq.SetField(textField)
		queries = append(queries, fq)
	}
	if len(queries) == 1 {
		return queries[0]
	}
	return bleve.NewDisjunctionQuery(queries...)
}

// tokenizeQuery splits query into lowercase terms.
func tokenizeQuery(query string) []string {
	return strings.Fields(strings.ToLower(query))
}

// Delete removes documents; missing ids are ignored.
func (b *BleveIndex) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	batch := b.index.NewBatch()
	for _, id := range ids {
		batch.Delete(id)
	}
	if err := b.index.Batch(batch); err != nil {
		return fmt.Errorf("failed to delete from Bleve index: %w", err)
	}
	return nil
}

// Clear deletes every document, a page at a time.
func (b *BleveIndex) Clear(ctx context.Context) error {
	for {
		req := bleve.NewSearchRequest(bleve.NewMatchAllQuery())
		req.Size = 1000
		results, err := b.index.SearchInContext(ctx, req)
		if err != nil {
			return fmt.Errorf("failed to list Bleve documents: %w", err)
		}
		if len(results.Hits) == 0 {
			return nil
		}
		ids := make([]string, len(results.Hits))
		for i, hit := range results.Hits {
			ids[i] = hit.ID
		}
		if err := b.Delete(ctx, ids); err != nil {
			return err
		}
	}
}

// DocCount returns the total number of documents in the index.
func (b *BleveIndex) DocCount() (uint64, error) {
	return b.index.DocCount()
}

// Close closes the Bleve index.
func (b *BleveIndex) Close() error {
	return b.index.Close()
}
