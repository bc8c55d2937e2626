package scanner

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

const everythingMaxResults = 1000000

// EverythingScanner asks a voidtools Everything HTTP server for image files.
// It is much faster than walking on Windows volumes Everything has indexed.
type EverythingScanner struct {
	client     *resty.Client
	extensions []string
	logger     *zap.Logger
}

type everythingResponse struct {
	TotalResults int `json:"totalResults"`
	Results      []struct {
		Type string `json:"type"`
		Name string `json:"name"`
		Path string `json:"path"`
	} `json:"results"`
}

// NewEverythingScanner returns a scanner for the Everything server at baseURL.
func NewEverythingScanner(baseURL string, extensions []string, timeout time.Duration, logger *zap.Logger) *EverythingScanner {
	client := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetTimeout(timeout)
	return &EverythingScanner{client: client, extensions: extensions, logger: logger}
}

// Scan queries Everything once for all extensions. With no include
// directories every indexed image qualifies; otherwise results must lie
// under one of them.
func (s *EverythingScanner) Scan(ctx context.Context, include, exclude []string) ([]string, error) {
	f := newFilter(s.extensions, exclude)

	exts := make([]string, 0, len(f.extensions))
	for e := range f.extensions {
		exts = append(exts, strings.TrimPrefix(e, "."))
	}
	query := "ext:" + strings.Join(sortedStrings(exts), ";")

	var resp everythingResponse
	httpResp, err := s.client.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"search":      query,
			"json":        "1",
			"path_column": "1",
			"count":       fmt.Sprint(everythingMaxResults),
		}).
		SetResult(&resp).
		ForceContentType("application/json").
		Get("/")
	if err != nil {
		return nil, fmt.Errorf("failed to query Everything: %w", err)
	}
	if httpResp.IsError() {
		return nil, fmt.Errorf("Everything error: status %d", httpResp.StatusCode())
	}

	roots := make([]string, 0, len(include))
	for _, dir := range include {
		roots = append(roots, cleanPath(dir))
	}

	var paths []string
	for _, r := range resp.Results {
		if r.Type != "" && r.Type != "file" {
			continue
		}
		if !f.imageName(r.Name) {
			continue
		}
		full := joinNative(r.Path, r.Name)
		if f.excluded(full) || !underAny(cleanPath(full), roots) {
			continue
		}
		paths = append(paths, full)
	}
	if s.logger != nil {
		s.logger.Debug("everything scan",
			zap.Int("total_results", resp.TotalResults),
			zap.Int("kept", len(paths)))
	}
	return paths, nil
}

// joinNative joins dir and name with the separator dir already uses.
func joinNative(dir, name string) string {
	if dir == "" {
		return name
	}
	sep := "/"
	if strings.Contains(dir, "\\") {
		sep = "\\"
	}
	return strings.TrimRight(dir, sep) + sep + name
}

func underAny(p string, roots []string) bool {
	if len(roots) == 0 {
		return true
	}
	for _, root := range roots {
		if isUnder(p, root) {
			return true
		}
	}
	return false
}
