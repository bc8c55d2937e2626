// Package scanner discovers candidate image paths.
package scanner

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/shashin/internal/config"
)

// Scanner returns candidate image paths under include, skipping anything
// inside an exclude directory.
type Scanner interface {
	Scan(ctx context.Context, include, exclude []string) ([]string, error)
}

// New returns the scanner selected by cfg.Method.
func New(cfg config.ScanConfig, workers int, logger *zap.Logger) (Scanner, error) {
	switch cfg.Method {
	case config.ScanMethodDefault, "":
		return NewDirScanner(cfg.Extensions, workers, logger), nil
	case config.ScanMethodEverything:
		return NewEverythingScanner(cfg.EverythingURL, cfg.Extensions, 30*time.Second, logger), nil
	default:
		return nil, fmt.Errorf("unknown scan method: %s (supported: default, everything)", cfg.Method)
	}
}

// filter holds the rules shared by every scanner.
type filter struct {
	extensions map[string]struct{}
	exclude    []string
}

func newFilter(extensions, exclude []string) filter {
	if len(extensions) == 0 {
		extensions = config.DefaultImageExtensions
	}
	exts := make(map[string]struct{}, len(extensions))
	for _, e := range extensions {
		e = strings.ToLower(strings.TrimSpace(e))
		if e == "" {
			continue
		}
		if !strings.HasPrefix(e, ".") {
			e = "." + e
		}
		exts[e] = struct{}{}
	}
	cleaned := make([]string, 0, len(exclude))
	for _, x := range exclude {
		if x = strings.TrimSpace(x); x != "" {
			cleaned = append(cleaned, cleanPath(x))
		}
	}
	return filter{extensions: exts, exclude: cleaned}
}

// imageName reports whether a file name has an allowed extension and is not
// an AppleDouble "._" file.
func (f filter) imageName(name string) bool {
	if strings.HasPrefix(name, "._") {
		return false
	}
	_, ok := f.extensions[strings.ToLower(filepath.Ext(name))]
	return ok
}

// excluded reports whether p is an exclude directory or lies inside one.
func (f filter) excluded(p string) bool {
	p = cleanPath(p)
	for _, x := range f.exclude {
		if isUnder(p, x) {
			return true
		}
	}
	return false
}

// cleanPath uses forward slashes so Windows-style paths from Everything
// compare equal to configured directories.
func cleanPath(p string) string {
	p = strings.ReplaceAll(p, "\\", "/")
	if len(p) > 1 {
		p = strings.TrimRight(p, "/")
	}
	return p
}

// isUnder reports whether p equals dir or is a descendant of it.
func isUnder(p, dir string) bool {
	if p == dir {
		return true
	}
	if dir == "/" {
		return strings.HasPrefix(p, "/")
	}
	return strings.HasPrefix(p, dir+"/")
}

func sortedStrings(s []string) []string {
	out := append([]string(nil), s...)
	sort.Strings(out)
	return out
}
