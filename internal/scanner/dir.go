package scanner

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"sync"

	"go.uber.org/zap"
)

// DirScanner walks include directories on the local filesystem, one
// goroutine per directory up to workers at a time.
type DirScanner struct {
	extensions []string
	workers    int
	logger     *zap.Logger // optional; logs unreadable directories
}

// NewDirScanner returns a filesystem scanner. workers <= 0 means runtime.NumCPU().
func NewDirScanner(extensions []string, workers int, logger *zap.Logger) *DirScanner {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	return &DirScanner{extensions: extensions, workers: workers, logger: logger}
}

// Scan walks each include directory. Results keep include order; within a
// directory they follow lexical walk order. Unreadable directories are
// logged and skipped.
func (s *DirScanner) Scan(ctx context.Context, include, exclude []string) ([]string, error) {
	f := newFilter(s.extensions, exclude)
	results := make([][]string, len(include))
	sem := make(chan struct{}, s.workers)
	var wg sync.WaitGroup

	for i, dir := range include {
		select {
		case <-ctx.Done():
			wg.Wait()
			return nil, ctx.Err()
		case sem <- struct{}{}:
		}
		wg.Add(1)
		go func(i int, dir string) {
			defer wg.Done()
			defer func() { <-sem }()
			results[i] = s.walk(ctx, dir, f)
		}(i, dir)
	}
	wg.Wait()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var paths []string
	for _, r := range results {
		paths = append(paths, r...)
	}
	return paths, nil
}

func (s *DirScanner) walk(ctx context.Context, root string, f filter) []string {
	var paths []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if walkErr != nil {
			if s.logger != nil {
				level := s.logger.Warn
				if errors.Is(walkErr, fs.ErrPermission) {
					level = s.logger.Info
				}
				level("scan skipped path", zap.String("path", path), zap.Error(walkErr))
			}
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			if path != root && f.excluded(path) {
				return filepath.SkipDir
			}
			return nil
		}
		if !f.imageName(d.Name()) {
			return nil
		}
		// Follow symlinks so only regular files are returned.
		info, err := os.Stat(path)
		if err != nil || !info.Mode().IsRegular() {
			return nil
		}
		paths = append(paths, path)
		return nil
	})
	if err != nil && s.logger != nil && !errors.Is(err, context.Canceled) {
		s.logger.Warn("scan failed", zap.String("dir", root), zap.Error(err))
	}
	return paths
}
