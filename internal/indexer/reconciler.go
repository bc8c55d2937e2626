// Package indexer keeps the image and OCR text collections in step with the path catalog.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hyperjump/shashin/internal/embedding"
	"github.com/hyperjump/shashin/internal/keyword"
	"github.com/hyperjump/shashin/internal/metrics"
	"github.com/hyperjump/shashin/internal/models"
	"github.com/hyperjump/shashin/internal/ocr"
	"github.com/hyperjump/shashin/internal/vector"
	"go.uber.org/zap"
)

// DefaultBatchSize is used when no positive batch size is configured.
const DefaultBatchSize = 32

// CatalogReader reads the current path catalog in insertion order.
type CatalogReader interface {
	Read(ctx context.Context) ([]models.FileRecord, error)
}

// Options controls a single reconcile pass.
type Options struct {
	BatchSize int
	// DeepScan re-embeds images whose stored fingerprint differs from the catalog.
	DeepScan bool
}

// Reconciler compares the catalog with the images collection and embeds,
// OCRs, and purges entries so the collections reflect the catalog.
type Reconciler struct {
	catalog       CatalogReader
	images        vector.Collection
	texts         vector.Collection
	imageEmbedder embedding.ImageEmbedder
	textEmbedder  embedding.TextEmbedder
	extractor     ocr.Extractor
	keywordIndex  keyword.KeywordIndex // optional
	defaults      Options
	logger        *zap.Logger // optional
}

// ReconcilerOption configures a Reconciler.
type ReconcilerOption func(*Reconciler)

// WithLogger sets a logger for per-item failures and run summaries.
func WithLogger(l *zap.Logger) ReconcilerOption {
	return func(r *Reconciler) { r.logger = l }
}

// WithKeywordIndex also indexes recognized text for keyword search.
func WithKeywordIndex(k keyword.KeywordIndex) ReconcilerOption {
	return func(r *Reconciler) { r.keywordIndex = k }
}

// WithOptions sets the options used by Reconcile.
func WithOptions(opts Options) ReconcilerOption {
	return func(r *Reconciler) { r.defaults = opts }
}

// NewReconciler creates a reconciler. extractor may be nil to disable OCR;
// textEmbedder may be nil only when OCR is disabled.
func NewReconciler(
	catalog CatalogReader,
	images, texts vector.Collection,
	imageEmbedder embedding.ImageEmbedder,
	textEmbedder embedding.TextEmbedder,
	extractor ocr.Extractor,
	opts ...ReconcilerOption,
) *Reconciler {
	r := &Reconciler{
		catalog:       catalog,
		images:        images,
		texts:         texts,
		imageEmbedder: imageEmbedder,
		textEmbedder:  textEmbedder,
		extractor:     extractor,
		defaults:      Options{BatchSize: DefaultBatchSize},
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.extractor == nil || r.textEmbedder == nil {
		r.extractor = ocr.Disabled{}
	}
	return r
}

// Reconcile runs one pass with the configured options.
func (r *Reconciler) Reconcile(ctx context.Context) (*models.ReconcileReport, error) {
	return r.ReconcileWithOptions(ctx, r.defaults)
}

// ReconcileWithOptions runs one pass. Only an unreadable catalog or a
// cancelled context is returned as an error; batch failures are logged,
// counted in the report, and retried on the next run.
func (r *Reconciler) ReconcileWithOptions(ctx context.Context, opts Options) (*models.ReconcileReport, error) {
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	report := &models.ReconcileReport{RunID: uuid.NewString(), StartedAt: time.Now()}
	defer func() { report.Duration = time.Since(report.StartedAt) }()

	records, err := r.catalog.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog: %w", err)
	}
	report.Catalog = len(records)

	for start := 0; start < len(records); start += opts.BatchSize {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		end := start + opts.BatchSize
		if end > len(records) {
			end = len(records)
		}
		report.Batches++
		r.reconcileBatch(ctx, records[start:end], opts.DeepScan, report)
	}
	if err := ctx.Err(); err != nil {
		return report, err
	}

	r.purge(ctx, records, report)
	r.recordSizes(ctx)

	if r.logger != nil {
		r.logger.Info("reconcile finished",
			zap.String("run_id", report.RunID),
			zap.Int("catalog", report.Catalog),
			zap.Int("embedded", report.Embedded),
			zap.Int("skipped", report.Skipped),
			zap.Int("failed", report.Failed),
			zap.Int("texts", report.Texts),
			zap.Int("purged", report.Purged),
			zap.Duration("took", time.Since(report.StartedAt)),
		)
	}
	return report, nil
}

// reconcileBatch embeds the records of one batch that are missing or changed,
// then runs OCR for the ones that were stored.
func (r *Reconciler) reconcileBatch(ctx context.Context, batch []models.FileRecord, deepScan bool, report *models.ReconcileReport) {
	ids := make([]string, len(batch))
	for i, rec := range batch {
		ids[i] = rec.ID
	}
	existing, err := r.images.Get(ctx, ids)
	if err != nil {
		r.warn("failed to look up batch", err, zap.Int("size", len(batch)))
		r.fail("lookup", len(batch), report)
		return
	}

	pending := make([]models.FileRecord, 0, len(batch))
	for _, rec := range batch {
		entry, ok := existing[rec.ID]
		switch {
		case !ok:
			pending = append(pending, rec)
		case deepScan && (!entry.Metadata.HasFingerprint || entry.Metadata.Fingerprint != rec.Fingerprint):
			if r.logger != nil {
				r.logger.Debug("image changed",
					zap.String("path", rec.ID),
					zap.Int64("stored", entry.Metadata.Fingerprint),
					zap.Int64("current", rec.Fingerprint))
			}
			pending = append(pending, rec)
		default:
			report.Skipped++
		}
	}
	if len(pending) == 0 {
		return
	}

	paths := make([]string, len(pending))
	for i, rec := range pending {
		paths[i] = rec.ID
	}
	embeddings, err := r.imageEmbedder.EmbedImages(ctx, paths)
	var batchErr *embedding.BatchError
	if err != nil && !errors.As(err, &batchErr) {
		r.warn("failed to embed batch", err, zap.Int("size", len(pending)))
		r.fail("embed", len(pending), report)
		return
	}

	okIDs := make([]string, 0, len(pending))
	okEmbeddings := make([][]float32, 0, len(pending))
	okMeta := make([]vector.Metadata, 0, len(pending))
	for i, rec := range pending {
		if batchErr != nil {
			if itemErr, failed := batchErr.Failed[i]; failed {
				r.warn("failed to embed image", itemErr, zap.String("path", rec.ID))
				r.fail("embed", 1, report)
				continue
			}
		}
		if i >= len(embeddings) || embeddings[i] == nil {
			r.warn("embedder returned no vector", nil, zap.String("path", rec.ID))
			r.fail("embed", 1, report)
			continue
		}
		okIDs = append(okIDs, rec.ID)
		okEmbeddings = append(okEmbeddings, embeddings[i])
		okMeta = append(okMeta, vector.WithFingerprint(rec.Fingerprint))
	}
	if len(okIDs) == 0 {
		return
	}
	if err := r.images.Upsert(ctx, okIDs, okEmbeddings, okMeta); err != nil {
		r.warn("failed to store image embeddings", err, zap.Int("size", len(okIDs)))
		r.fail("upsert", len(okIDs), report)
		return
	}
	report.Embedded += len(okIDs)
	metrics.ImagesEmbeddedTotal.Add(float64(len(okIDs)))

	r.indexTexts(ctx, okIDs, report)
}

// indexTexts runs OCR on ids whose image entry was just stored. Images with
// no usable text leave any earlier text entry in place.
func (r *Reconciler) indexTexts(ctx context.Context, ids []string, report *models.ReconcileReport) {
	if _, disabled := r.extractor.(ocr.Disabled); disabled {
		return
	}
	texts, err := r.extractor.ExtractText(ctx, ids)
	var batchErr *embedding.BatchError
	if err != nil && !errors.As(err, &batchErr) {
		r.warn("failed to extract text", err, zap.Int("size", len(ids)))
		report.TextFailed += len(ids)
		metrics.IndexFailuresTotal.WithLabelValues("ocr").Add(float64(len(ids)))
		return
	}

	var (
		textIDs    []string
		textValues []string
		embeddings [][]float32
		noText     []string
	)
	for i, id := range ids {
		if batchErr != nil {
			if itemErr, failed := batchErr.Failed[i]; failed {
				r.warn("failed to extract text", itemErr, zap.String("path", id))
				report.TextFailed++
				metrics.IndexFailuresTotal.WithLabelValues("ocr").Inc()
				continue
			}
		}
		if i >= len(texts) || texts[i] == nil {
			noText = append(noText, id)
			continue
		}
		vec, err := r.textEmbedder.EmbedText(ctx, *texts[i])
		if err != nil {
			r.warn("failed to embed text", err, zap.String("path", id))
			report.TextFailed++
			metrics.IndexFailuresTotal.WithLabelValues("text").Inc()
			continue
		}
		textIDs = append(textIDs, id)
		textValues = append(textValues, *texts[i])
		embeddings = append(embeddings, vec)
	}
	r.logStaleTexts(ctx, noText)

	if len(textIDs) == 0 {
		return
	}
	if err := r.texts.Upsert(ctx, textIDs, embeddings, nil); err != nil {
		r.warn("failed to store text embeddings", err, zap.Int("size", len(textIDs)))
		report.TextFailed += len(textIDs)
		metrics.IndexFailuresTotal.WithLabelValues("text").Add(float64(len(textIDs)))
		return
	}
	report.Texts += len(textIDs)
	metrics.TextsEmbeddedTotal.Add(float64(len(textIDs)))

	if r.keywordIndex == nil {
		return
	}
	for i, id := range textIDs {
		if err := r.keywordIndex.Index(ctx, id, textValues[i]); err != nil {
			r.warn("failed to index text keywords", err, zap.String("path", id))
		}
	}
}

// logStaleTexts reports images that lost their text but keep an old text entry.
func (r *Reconciler) logStaleTexts(ctx context.Context, ids []string) {
	if r.logger == nil || len(ids) == 0 {
		return
	}
	prior, err := r.texts.Get(ctx, ids)
	if err != nil {
		return
	}
	for _, id := range ids {
		if _, ok := prior[id]; ok {
			r.logger.Debug("image has no text now, keeping previous text entry", zap.String("path", id))
		}
	}
}

// purge removes entries whose id is no longer in the catalog. The images
// collection is authoritative; texts and keywords are cleaned best-effort.
func (r *Reconciler) purge(ctx context.Context, records []models.FileRecord, report *models.ReconcileReport) {
	known := make(map[string]struct{}, len(records))
	for _, rec := range records {
		known[rec.ID] = struct{}{}
	}

	imageIDs, err := r.images.IDs(ctx)
	if err != nil {
		r.warn("failed to list image entries", err)
		metrics.IndexFailuresTotal.WithLabelValues("purge").Inc()
		return
	}
	orphans := missingFrom(imageIDs, known)
	if len(orphans) > 0 {
		if err := r.images.Delete(ctx, orphans); err != nil {
			r.warn("failed to purge image entries", err, zap.Int("count", len(orphans)))
			metrics.IndexFailuresTotal.WithLabelValues("purge").Inc()
			return
		}
		report.Purged = len(orphans)
		metrics.EntriesPurgedTotal.Add(float64(len(orphans)))
	}

	textOrphans := orphans
	if textIDs, err := r.texts.IDs(ctx); err == nil {
		textOrphans = missingFrom(textIDs, known)
	}
	if len(textOrphans) == 0 {
		return
	}
	if err := r.texts.Delete(ctx, textOrphans); err != nil {
		r.warn("failed to purge text entries", err, zap.Int("count", len(textOrphans)))
	}
	if r.keywordIndex != nil {
		if err := r.keywordIndex.Delete(ctx, textOrphans); err != nil {
			r.warn("failed to purge keyword entries", err, zap.Int("count", len(textOrphans)))
		}
	}
}

func (r *Reconciler) recordSizes(ctx context.Context) {
	for _, c := range []vector.Collection{r.images, r.texts} {
		if n, err := c.Count(ctx); err == nil {
			metrics.CollectionEntries.WithLabelValues(c.Name()).Set(float64(n))
		}
	}
}

func (r *Reconciler) fail(stage string, n int, report *models.ReconcileReport) {
	report.Failed += n
	metrics.IndexFailuresTotal.WithLabelValues(stage).Add(float64(n))
}

func (r *Reconciler) warn(msg string, err error, fields ...zap.Field) {
	if r.logger == nil {
		return
	}
	if err != nil {
		fields = append(fields, zap.Error(err))
	}
	r.logger.Warn(msg, fields...)
}

// missingFrom returns the ids not present in known, in input order.
func missingFrom(ids []string, known map[string]struct{}) []string {
	var out []string
	for _, id := range ids {
		if _, ok := known[id]; !ok {
			out = append(out, id)
		}
	}
	return out
}
