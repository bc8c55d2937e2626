// Package models defines core data structures for catalog records, queries, and search results.
package models

import "strings"

// FileRecord is one catalog row: a canonical image path and its change fingerprint.
type FileRecord struct {
	ID          string `json:"id"`
	Fingerprint int64  `json:"fingerprint"`
}

// IndexEntry describes a catalog record together with its index state.
type IndexEntry struct {
	ID          string `json:"id"`
	Fingerprint int64  `json:"fingerprint"`
	Indexed     bool   `json:"indexed"`
	HasText     bool   `json:"has_text"`
}

// NormalizePath returns the catalog form of path: backslashes become forward
// slashes, surrounding whitespace is trimmed, case is preserved.
func NormalizePath(path string) string {
	return strings.ReplaceAll(strings.TrimSpace(path), "\\", "/")
}
