// Package catalog maintains the canonical list of known image paths and
// their change fingerprints.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"

	"github.com/hyperjump/shashin/internal/imaging"
	"github.com/hyperjump/shashin/internal/models"
	"github.com/hyperjump/shashin/internal/storage"
	"go.uber.org/zap"
)

// FingerprintFunc computes the change fingerprint of the file at path.
type FingerprintFunc func(path string) (int64, error)

// Catalog rebuilds and reads the path catalog.
type Catalog struct {
	store       storage.CatalogStore
	fingerprint FingerprintFunc
	workers     int
	logger      *zap.Logger // optional; when set, logs fingerprint failures
}

// Option configures a Catalog.
type Option func(*Catalog)

// WithLogger sets a logger for fingerprint warnings and rebuild summaries.
func WithLogger(l *zap.Logger) Option {
	return func(c *Catalog) { c.logger = l }
}

// WithWorkers bounds the number of concurrent fingerprint computations.
func WithWorkers(n int) Option {
	return func(c *Catalog) {
		if n > 0 {
			c.workers = n
		}
	}
}

// WithFingerprintFunc replaces the default pixel-mean fingerprint.
func WithFingerprintFunc(fn FingerprintFunc) Option {
	return func(c *Catalog) {
		if fn != nil {
			c.fingerprint = fn
		}
	}
}

// New returns a catalog persisted in store.
func New(store storage.CatalogStore, opts ...Option) *Catalog {
	c := &Catalog{
		store:       store,
		fingerprint: imaging.Fingerprint,
		workers:     runtime.NumCPU(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Rebuild normalizes and deduplicates candidatePaths, optionally computes
// their fingerprints, and replaces the persisted catalog with the result.
// When computeFingerprint is false every fingerprint is 0. A file that
// cannot be fingerprinted gets 0 and a warning; it never fails the rebuild.
func (c *Catalog) Rebuild(ctx context.Context, candidatePaths []string, computeFingerprint bool) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	ids := Dedupe(candidatePaths)
	records := make([]models.FileRecord, len(ids))
	for i, id := range ids {
		records[i].ID = id
	}
	if computeFingerprint && len(records) > 0 {
		if err := c.fingerprintAll(ctx, records); err != nil {
			return 0, err
		}
	}
	if err := c.store.Replace(ctx, records); err != nil {
		return 0, fmt.Errorf("failed to replace catalog: %w", err)
	}
	if c.logger != nil {
		c.logger.Info("catalog rebuilt",
			zap.Int("candidates", len(candidatePaths)),
			zap.Int("records", len(records)),
			zap.Bool("fingerprints", computeFingerprint))
	}
	return len(records), nil
}

func (c *Catalog) fingerprintAll(ctx context.Context, records []models.FileRecord) error {
	workers := c.workers
	if workers > len(records) {
		workers = len(records)
	}
	jobs := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				fp, err := c.fingerprint(records[i].ID)
				if err != nil {
					if c.logger != nil {
						c.logger.Warn("fingerprint failed, using 0",
							zap.String("path", records[i].ID), zap.Error(err))
					}
					fp = 0
				}
				records[i].Fingerprint = fp
			}
		}()
	}
	var err error
feed:
	for i := range records {
		select {
		case <-ctx.Done():
			err = ctx.Err()
			break feed
		case jobs <- i:
		}
	}
	close(jobs)
	wg.Wait()
	return err
}

// Read returns the full catalog in stored order.
func (c *Catalog) Read(ctx context.Context) ([]models.FileRecord, error) {
	records, err := c.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog: %w", err)
	}
	return records, nil
}

// Contains reports whether id is in the catalog.
func (c *Catalog) Contains(ctx context.Context, id string) (bool, error) {
	_, err := c.store.Get(ctx, id)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	return false, err
}

// Count returns the number of catalog records.
func (c *Catalog) Count(ctx context.Context) (int64, error) {
	return c.store.Count(ctx)
}

// Clear empties the catalog.
func (c *Catalog) Clear(ctx context.Context) error {
	return c.store.Clear(ctx)
}

// Dedupe normalizes paths and drops duplicates and empties, keeping first-seen order.
func Dedupe(paths []string) []string {
	seen := make(map[string]struct{}, len(paths))
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		id := models.NormalizePath(p)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
