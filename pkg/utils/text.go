// Package utils provides shared utilities for text, math, and logging.
package utils

// ShortenPath keeps the tail of a long path, which carries the file name,
// and prefixes it with "...".
func ShortenPath(p string, maxLen int) string {
	if maxLen <= 3 || len(p) <= maxLen {
		return p
	}
	return "..." + p[len(p)-(maxLen-3):]
}
