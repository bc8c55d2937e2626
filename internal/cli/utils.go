// Package cli provides output formatting and an HTTP client for the shashin CLI.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/hyperjump/shashin/internal/models"
	"github.com/hyperjump/shashin/pkg/utils"
)

// OutputFormat is the format for command output.
type OutputFormat string

const (
	// OutputText is human-readable text (default).
	OutputText OutputFormat = "text"
	// OutputCompact prints one result per line.
	OutputCompact OutputFormat = "compact"
	// OutputJSON is structured JSON for machine consumption.
	OutputJSON OutputFormat = "json"
)

const maxPathWidth = 100

// ParseOutputFormat maps a flag value to an OutputFormat.
func ParseOutputFormat(s string) (OutputFormat, error) {
	switch OutputFormat(strings.ToLower(strings.TrimSpace(s))) {
	case "", OutputText:
		return OutputText, nil
	case OutputCompact:
		return OutputCompact, nil
	case OutputJSON:
		return OutputJSON, nil
	}
	return "", fmt.Errorf("unknown output format %q; use text, compact, or json", s)
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// WriteSearchResult writes a similarity search result to w.
func WriteSearchResult(w io.Writer, query string, result *models.SearchResult, format OutputFormat) error {
	switch format {
	case OutputJSON:
		return writeJSON(w, result)
	case OutputCompact:
		for i, p := range result.Paths {
			fmt.Fprintf(w, "%.4f\t%s\n", similarityAt(result, i), p)
		}
		return nil
	}
	fmt.Fprintf(w, "\nFound %d images for %q in %dms\n\n", len(result.Paths), query, result.TookMS)
	for i, p := range result.Paths {
		fmt.Fprintf(w, "%3d. %.4f  %s\n", i+1, similarityAt(result, i), utils.ShortenPath(p, maxPathWidth))
	}
	if len(result.Paths) > 0 {
		fmt.Fprintln(w)
	}
	return nil
}

func similarityAt(result *models.SearchResult, i int) float64 {
	if i < len(result.Similarities) {
		return result.Similarities[i]
	}
	return 0
}

// WriteKeywordResults writes OCR keyword hits to w.
func WriteKeywordResults(w io.Writer, query string, response *models.KeywordResponse, format OutputFormat) error {
	switch format {
	case OutputJSON:
		return writeJSON(w, response)
	case OutputCompact:
		for _, hit := range response.Hits {
			fmt.Fprintf(w, "%.4f\t%s\n", hit.Score, hit.Path)
		}
		return nil
	}
	fmt.Fprintf(w, "\nFound %d images with text matching %q in %dms\n\n", len(response.Hits), query, response.TookMS)
	for i, hit := range response.Hits {
		fmt.Fprintf(w, "%3d. %.4f  %s\n", i+1, hit.Score, utils.ShortenPath(hit.Path, maxPathWidth))
	}
	if len(response.Hits) > 0 {
		fmt.Fprintln(w)
	}
	return nil
}

// WriteReport writes the summary of one reconcile run.
func WriteReport(w io.Writer, report *models.ReconcileReport, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, report)
	}
	fmt.Fprintf(w, "run_id:       %s\n", report.RunID)
	fmt.Fprintf(w, "started_at:   %s\n", report.StartedAt.Format(time.RFC3339))
	fmt.Fprintf(w, "duration:     %s\n", report.Duration.Round(time.Millisecond))
	fmt.Fprintf(w, "catalog:      %d\n", report.Catalog)
	fmt.Fprintf(w, "batches:      %d\n", report.Batches)
	fmt.Fprintf(w, "embedded:     %d\n", report.Embedded)
	fmt.Fprintf(w, "skipped:      %d   # already indexed and unchanged\n", report.Skipped)
	fmt.Fprintf(w, "failed:       %d   # retried on the next run\n", report.Failed)
	fmt.Fprintf(w, "texts:        %d\n", report.Texts)
	fmt.Fprintf(w, "text_failed:  %d\n", report.TextFailed)
	fmt.Fprintf(w, "purged:       %d\n", report.Purged)
	return nil
}

// WriteIndexEntries writes the catalog listing returned by get-index.
func WriteIndexEntries(w io.Writer, entries []models.IndexEntry, format OutputFormat) error {
	switch format {
	case OutputJSON:
		return writeJSON(w, map[string]interface{}{"entries": entries, "total": len(entries)})
	case OutputCompact:
		for _, e := range entries {
			fmt.Fprintln(w, e.ID)
		}
		return nil
	}
	indexed, withText := 0, 0
	for _, e := range entries {
		mark := " "
		if e.Indexed {
			indexed++
			mark = "*"
		}
		text := " "
		if e.HasText {
			withText++
			text = "T"
		}
		fmt.Fprintf(w, "%s%s %s\n", mark, text, utils.ShortenPath(e.ID, maxPathWidth))
	}
	fmt.Fprintf(w, "\n%d paths, %d embedded, %d with text\n", len(entries), indexed, withText)
	return nil
}

// Status is the shape of GET /api/v1/status.
type Status struct {
	Catalog          int64                   `json:"catalog"`
	Images           int                     `json:"images"`
	Texts            int                     `json:"texts"`
	Indexing         bool                    `json:"indexing"`
	KeywordDocuments *uint64                 `json:"keyword_documents,omitempty"`
	LastRun          *models.ReconcileReport `json:"last_run,omitempty"`
	DiskUsage        map[string]int64        `json:"disk_usage,omitempty"`
	DiskUsageBytes   *int64                  `json:"disk_usage_bytes,omitempty"`
	Config           map[string]interface{}  `json:"config,omitempty"`
}

// WriteStatus writes engine status to w.
func WriteStatus(w io.Writer, status *Status, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, status)
	}
	fmt.Fprintf(w, "catalog:            %d   # image paths found by the last scan\n", status.Catalog)
	fmt.Fprintf(w, "images:             %d   # image embeddings\n", status.Images)
	fmt.Fprintf(w, "texts:              %d   # OCR text embeddings\n", status.Texts)
	if status.KeywordDocuments != nil {
		fmt.Fprintf(w, "keyword_documents:  %d\n", *status.KeywordDocuments)
	}
	fmt.Fprintf(w, "indexing:           %t\n", status.Indexing)
	if status.DiskUsageBytes != nil {
		fmt.Fprintf(w, "disk_usage_bytes:   %d   # catalog + indices on disk\n", *status.DiskUsageBytes)
	}
	if status.LastRun != nil {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "# last run")
		if err := WriteReport(w, status.LastRun, OutputText); err != nil {
			return err
		}
	}
	if len(status.Config) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "# configuration")
		keys := make([]string, 0, len(status.Config))
		for k := range status.Config {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(w, "%-20s %v\n", k+":", status.Config[k])
		}
	}
	return nil
}

// Directories is the shape of GET /api/v1/directories.
type Directories struct {
	Include []string `json:"include"`
	Exclude []string `json:"exclude"`
	Watched []string `json:"watched,omitempty"`
}

// WriteDirectories writes the include and exclude lists.
func WriteDirectories(w io.Writer, dirs *Directories, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, dirs)
	}
	fmt.Fprintln(w, "include_directories:")
	for _, d := range dirs.Include {
		fmt.Fprintf(w, "  - %s\n", d)
	}
	fmt.Fprintln(w, "exclude_directories:")
	for _, d := range dirs.Exclude {
		fmt.Fprintf(w, "  - %s\n", d)
	}
	if len(dirs.Watched) > 0 {
		fmt.Fprintln(w, "watched:")
		for _, d := range dirs.Watched {
			fmt.Fprintf(w, "  - %s\n", d)
		}
	}
	return nil
}
