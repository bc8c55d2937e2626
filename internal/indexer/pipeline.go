package indexer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/hyperjump/shashin/internal/metrics"
	"github.com/hyperjump/shashin/internal/models"
	"github.com/hyperjump/shashin/internal/scanner"
	"github.com/hyperjump/shashin/internal/storage"
	"go.uber.org/zap"
)

// ErrAlreadyRunning is returned when a run is requested while one is in progress.
var ErrAlreadyRunning = errors.New("indexing already running")

// Catalog is the catalog surface the pipeline drives.
type Catalog interface {
	CatalogReader
	Rebuild(ctx context.Context, candidatePaths []string, computeFingerprint bool) (int, error)
}

// RunOptions overrides pipeline defaults for one run. Nil fields keep the defaults.
type RunOptions struct {
	DeepScan  *bool
	BatchSize int
}

// Pipeline scans the include directories, rebuilds the catalog, and reconciles.
// Only one run is active at a time.
type Pipeline struct {
	scanner    scanner.Scanner
	catalog    Catalog
	reconciler *Reconciler
	reports    storage.ReportStore // optional
	logger     *zap.Logger         // optional

	dirMu    sync.RWMutex
	include  []string
	exclude  []string
	defaults Options

	runMu   sync.Mutex
	running atomic.Bool
}

// PipelineOption configures a Pipeline.
type PipelineOption func(*Pipeline)

// WithPipelineLogger sets a logger for run lifecycle events.
func WithPipelineLogger(l *zap.Logger) PipelineOption {
	return func(p *Pipeline) { p.logger = l }
}

// WithReportStore persists each run's report.
func WithReportStore(s storage.ReportStore) PipelineOption {
	return func(p *Pipeline) { p.reports = s }
}

// NewPipeline creates a pipeline over include and exclude directories.
func NewPipeline(sc scanner.Scanner, cat Catalog, rec *Reconciler, include, exclude []string, defaults Options, opts ...PipelineOption) *Pipeline {
	p := &Pipeline{
		scanner:    sc,
		catalog:    cat,
		reconciler: rec,
		include:    append([]string(nil), include...),
		exclude:    append([]string(nil), exclude...),
		defaults:   defaults,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// SetDirectories replaces the include and exclude lists used by later runs.
func (p *Pipeline) SetDirectories(include, exclude []string) {
	p.dirMu.Lock()
	defer p.dirMu.Unlock()
	p.include = append([]string(nil), include...)
	p.exclude = append([]string(nil), exclude...)
}

// Directories returns copies of the current include and exclude lists.
func (p *Pipeline) Directories() (include, exclude []string) {
	p.dirMu.RLock()
	defer p.dirMu.RUnlock()
	return append([]string(nil), p.include...), append([]string(nil), p.exclude...)
}

// Running reports whether a run is in progress.
func (p *Pipeline) Running() bool {
	return p.running.Load()
}

// Exclusive runs fn while holding the run lock, so no run can start until
// fn returns. It returns ErrAlreadyRunning if a run is in progress.
func (p *Pipeline) Exclusive(fn func() error) error {
	if !p.runMu.TryLock() {
		return ErrAlreadyRunning
	}
	defer p.runMu.Unlock()
	return fn()
}

// Run performs scan, catalog rebuild, and reconcile. A concurrent call
// returns ErrAlreadyRunning without waiting.
func (p *Pipeline) Run(ctx context.Context, opts RunOptions) (*models.ReconcileReport, error) {
	if !p.runMu.TryLock() {
		return nil, ErrAlreadyRunning
	}
	defer p.runMu.Unlock()
	p.running.Store(true)
	defer p.running.Store(false)

	report, err := p.run(ctx, p.resolve(opts))
	switch {
	case err == nil:
		metrics.ReconcileRunsTotal.WithLabelValues("ok").Inc()
		metrics.ReconcileDuration.Observe(report.Duration.Seconds())
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		metrics.ReconcileRunsTotal.WithLabelValues("cancelled").Inc()
	default:
		metrics.ReconcileRunsTotal.WithLabelValues("error").Inc()
	}
	return report, err
}

func (p *Pipeline) resolve(opts RunOptions) Options {
	resolved := p.defaults
	if opts.DeepScan != nil {
		resolved.DeepScan = *opts.DeepScan
	}
	if opts.BatchSize > 0 {
		resolved.BatchSize = opts.BatchSize
	}
	return resolved
}

func (p *Pipeline) run(ctx context.Context, opts Options) (*models.ReconcileReport, error) {
	include, exclude := p.Directories()
	if p.logger != nil {
		p.logger.Info("indexing started",
			zap.Strings("include", include),
			zap.Bool("deep_scan", opts.DeepScan),
			zap.Int("batch_size", opts.BatchSize))
	}

	paths, err := p.scanner.Scan(ctx, include, exclude)
	if err != nil {
		return nil, fmt.Errorf("failed to scan directories: %w", err)
	}
	if _, err := p.catalog.Rebuild(ctx, paths, opts.DeepScan); err != nil {
		return nil, fmt.Errorf("failed to rebuild catalog: %w", err)
	}

	report, err := p.reconciler.ReconcileWithOptions(ctx, opts)
	if err != nil {
		return report, err
	}
	if p.reports != nil {
		if saveErr := p.reports.SaveReport(ctx, report); saveErr != nil && p.logger != nil {
			p.logger.Warn("failed to save reconcile report", zap.Error(saveErr))
		}
	}
	return report, nil
}
