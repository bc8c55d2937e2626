package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/hyperjump/shashin/internal/catalog"
	"github.com/hyperjump/shashin/internal/cli"
	"github.com/hyperjump/shashin/internal/config"
	"github.com/hyperjump/shashin/internal/embedding"
	"github.com/hyperjump/shashin/internal/indexer"
	"github.com/hyperjump/shashin/internal/keyword"
	"github.com/hyperjump/shashin/internal/models"
	"github.com/hyperjump/shashin/internal/ocr"
	"github.com/hyperjump/shashin/internal/scanner"
	"github.com/hyperjump/shashin/internal/search"
	"github.com/hyperjump/shashin/internal/server"
	"github.com/hyperjump/shashin/internal/storage"
	"github.com/hyperjump/shashin/internal/vector"
	"go.uber.org/zap"
)

// Components holds initialized services.
type Components struct {
	Storage   *storage.SQLiteStorage
	CLIP      embedding.CLIP
	TextModel embedding.TextModel
	Images    vector.Collection
	Texts     vector.Collection
	Keyword   keyword.KeywordIndex
	Catalog   *catalog.Catalog
	Engine    *search.Engine
	Pipeline  *indexer.Pipeline
}

// Close releases every opened resource.
func (c *Components) Close() {
	if c.Storage != nil {
		_ = c.Storage.Close()
	}
	if c.Images != nil {
		_ = c.Images.Close()
	}
	if c.Texts != nil {
		_ = c.Texts.Close()
	}
	if c.Keyword != nil {
		_ = c.Keyword.Close()
	}
	if c.TextModel != nil {
		_ = c.TextModel.Close()
	}
	if c.CLIP != nil {
		_ = c.CLIP.Close()
	}
}

func initializeComponents(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Components, error) {
	c := &Components{}
	fail := func(err error) (*Components, error) {
		c.Close()
		return nil, err
	}

	store, err := storage.NewSQLiteStorage(cfg.Storage.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	c.Storage = store

	if c.CLIP, err = embedding.NewCLIP(cfg.CLIP, logger); err != nil {
		return fail(fmt.Errorf("failed to initialize clip: %w", err))
	}
	if c.TextModel, err = embedding.NewTextEmbedder(cfg.TextEmbed, c.CLIP, logger); err != nil {
		return fail(fmt.Errorf("failed to initialize text embedder: %w", err))
	}
	extractor, err := ocr.New(cfg.OCR, logger)
	if err != nil {
		return fail(fmt.Errorf("failed to initialize ocr: %w", err))
	}

	if c.Images, err = vector.Open(ctx, cfg, vector.ImagesCollection, c.CLIP.Dimensions()); err != nil {
		return fail(fmt.Errorf("failed to open image collection: %w", err))
	}
	if c.Texts, err = vector.Open(ctx, cfg, vector.TextsCollection, c.TextModel.Dimensions()); err != nil {
		return fail(fmt.Errorf("failed to open text collection: %w", err))
	}
	if c.Keyword, err = keyword.NewBleveIndex(cfg.Storage.KeywordIndexPath); err != nil {
		return fail(fmt.Errorf("failed to initialize keyword index: %w", err))
	}
	logger.Info("collections opened",
		zap.String("backend", cfg.Vector.Backend),
		zap.String("clip", cfg.CLIP.Provider),
		zap.String("text_embed", cfg.TextEmbed.Provider),
		zap.String("ocr", cfg.OCR.Provider))

	sc, err := scanner.New(cfg.Scan, cfg.Index.Workers, logger)
	if err != nil {
		return fail(fmt.Errorf("failed to initialize scanner: %w", err))
	}
	c.Catalog = catalog.New(store, catalog.WithLogger(logger), catalog.WithWorkers(cfg.Index.Workers))

	defaults := indexer.Options{BatchSize: cfg.Index.BatchSize, DeepScan: cfg.Index.DeepScan}
	rec := indexer.NewReconciler(c.Catalog, c.Images, c.Texts, c.CLIP, c.TextModel, extractor,
		indexer.WithLogger(logger),
		indexer.WithKeywordIndex(c.Keyword),
		indexer.WithOptions(defaults),
	)
	c.Pipeline = indexer.NewPipeline(sc, c.Catalog, rec,
		cfg.Scan.IncludeDirectories, cfg.Scan.ExcludeDirectories, defaults,
		indexer.WithPipelineLogger(logger),
		indexer.WithReportStore(store),
	)

	c.Engine = search.NewEngine(c.CLIP, c.Images, c.Texts,
		search.WithTextEmbedder(c.TextModel),
		search.WithKeywordIndex(c.Keyword),
		search.WithLogger(logger),
	)
	return c, nil
}

// ServerComponents returns the services the HTTP server exposes. Watch is
// left nil for the caller to fill in.
func (c *Components) ServerComponents() server.Components {
	return server.Components{
		Engine:   c.Engine,
		Pipeline: c.Pipeline,
		Catalog:  c.Catalog,
		Images:   c.Images,
		Texts:    c.Texts,
		Keyword:  c.Keyword,
		Reports:  c.Storage,
	}
}

// Status gathers counts, the last run and disk usage without a server.
func (c *Components) Status(ctx context.Context, cfg *config.Config) (*cli.Status, error) {
	catalogCount, err := c.Catalog.Count(ctx)
	if err != nil {
		return nil, err
	}
	images, err := c.Images.Count(ctx)
	if err != nil {
		return nil, err
	}
	texts, err := c.Texts.Count(ctx)
	if err != nil {
		return nil, err
	}
	status := &cli.Status{
		Catalog: catalogCount,
		Images:  images,
		Texts:   texts,
		Config: map[string]interface{}{
			"vector_backend":     cfg.Vector.Backend,
			"clip_provider":      cfg.CLIP.Provider,
			"text_provider":      cfg.TextEmbed.Provider,
			"ocr_provider":       cfg.OCR.Provider,
			"scan_method":        cfg.Scan.Method,
			"batch_size":         cfg.Index.BatchSize,
			"deep_scan":          cfg.Index.DeepScan,
			"database_path":      cfg.Storage.DatabasePath,
			"vector_dir":         cfg.Storage.VectorDir,
			"keyword_index_path": cfg.Storage.KeywordIndexPath,
		},
	}
	if n, err := c.Keyword.DocCount(); err == nil {
		status.KeywordDocuments = &n
	}
	if last, err := c.Storage.LastReport(ctx); err == nil {
		status.LastRun = last
	} else if !errors.Is(err, storage.ErrNotFound) {
		return nil, err
	}
	if usage, err := storage.DiskUsageByPath(cfg.Storage.DatabasePath, cfg.Storage.VectorDir, cfg.Storage.KeywordIndexPath); err == nil {
		var total int64
		for _, n := range usage {
			total += n
		}
		status.DiskUsage = usage
		status.DiskUsageBytes = &total
	}
	return status, nil
}

// IndexEntries lists catalog records with their embedding state.
func (c *Components) IndexEntries(ctx context.Context) ([]models.IndexEntry, error) {
	records, err := c.Catalog.Read(ctx)
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(records))
	for i, rec := range records {
		ids[i] = rec.ID
	}
	images, err := c.Images.Get(ctx, ids)
	if err != nil {
		return nil, err
	}
	texts, err := c.Texts.Get(ctx, ids)
	if err != nil {
		return nil, err
	}
	entries := make([]models.IndexEntry, len(records))
	for i, rec := range records {
		_, indexed := images[rec.ID]
		_, hasText := texts[rec.ID]
		entries[i] = models.IndexEntry{ID: rec.ID, Fingerprint: rec.Fingerprint, Indexed: indexed, HasText: hasText}
	}
	return entries, nil
}

// ClearIndex empties both collections, the keyword index and the catalog.
func (c *Components) ClearIndex(ctx context.Context) error {
	return c.Pipeline.Exclusive(func() error { return c.clearIndex(ctx) })
}

func (c *Components) clearIndex(ctx context.Context) error {
	for _, coll := range []vector.Collection{c.Images, c.Texts} {
		ids, err := coll.IDs(ctx)
		if err != nil {
			return fmt.Errorf("list %s: %w", coll.Name(), err)
		}
		if len(ids) == 0 {
			continue
		}
		if err := coll.Delete(ctx, ids); err != nil {
			return fmt.Errorf("clear %s: %w", coll.Name(), err)
		}
	}
	if err := c.Keyword.Clear(ctx); err != nil {
		return fmt.Errorf("clear keyword index: %w", err)
	}
	return c.Catalog.Clear(ctx)
}
