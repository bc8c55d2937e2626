// Package server provides the HTTP API for shashin.
package server

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/hyperjump/shashin/internal/config"
	"github.com/hyperjump/shashin/internal/indexer"
	"github.com/hyperjump/shashin/internal/keyword"
	"github.com/hyperjump/shashin/internal/metrics"
	"github.com/hyperjump/shashin/internal/models"
	"github.com/hyperjump/shashin/internal/search"
	"github.com/hyperjump/shashin/internal/storage"
	"github.com/hyperjump/shashin/internal/vector"
	"github.com/hyperjump/shashin/pkg/utils"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Indexer runs the scan and reconcile pipeline.
type Indexer interface {
	Run(ctx context.Context, opts indexer.RunOptions) (*models.ReconcileReport, error)
	Running() bool
	Exclusive(fn func() error) error
	SetDirectories(include, exclude []string)
}

// Catalog is the read side of the path catalog plus Clear.
type Catalog interface {
	Read(ctx context.Context) ([]models.FileRecord, error)
	Contains(ctx context.Context, id string) (bool, error)
	Count(ctx context.Context) (int64, error)
	Clear(ctx context.Context) error
}

// WatchService adds and removes watched roots at runtime.
type WatchService interface {
	Directories() []string
	AddDirectory(path string) error
	RemoveDirectory(path string) error
}

// Components are the services the server exposes. Keyword, Reports and
// Watch may be nil.
type Components struct {
	Engine   *search.Engine
	Pipeline Indexer
	Catalog  Catalog
	Images   vector.Collection
	Texts    vector.Collection
	Keyword  keyword.KeywordIndex
	Reports  storage.ReportStore
	Watch    WatchService
}

// Server is the HTTP server for the shashin API.
type Server struct {
	Components
	config     *config.Config
	configPath string
	configMu   sync.Mutex
	logger     *zap.Logger
	server     *http.Server

	indexing   atomic.Bool
	baseCtx    context.Context
	cancelRuns context.CancelFunc
	runs       sync.WaitGroup
}

// NewServer creates a server. configPath is where directory changes are
// persisted; empty disables persistence.
func NewServer(c Components, cfg *config.Config, configPath string, logger *zap.Logger) *Server {
	logger = utils.OrNop(logger)
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		Components: c,
		config:     cfg,
		configPath: configPath,
		logger:     logger,
		baseCtx:    ctx,
		cancelRuns: cancel,
	}
}

// Handler returns the API router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(s.countRequests)

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(60 * time.Second))
		r.Use(middleware.Compress(5, "application/json"))

		r.Post("/clip_text", s.handleClipText)
		r.Post("/clip_image", s.handleClipImage)
		r.Post("/embed_text", s.handleEmbedText)

		r.Route("/api/v1", func(r chi.Router) {
			r.Post("/search/text", s.handleSearchText)
			r.Post("/search/image", s.handleSearchImage)
			r.Post("/search/ocr", s.handleSearchOCR)
			r.Post("/search/keyword", s.handleSearchKeyword)

			r.Post("/index", s.handleIndexStart)
			r.Get("/index", s.handleIndexList)
			r.Delete("/index", s.handleIndexDelete)
			r.Get("/status", s.handleStatus)

			r.Get("/directories", s.handleDirectoriesList)
			r.Post("/directories", s.handleDirectoriesAdd)
			r.Delete("/directories", s.handleDirectoriesRemove)
		})
		r.Get("/health", s.handleHealth)
	})

	r.Get("/images/*", s.handleImage)
	r.Handle("/metrics", promhttp.Handler())
	return r
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Server.Host, s.config.Server.Port)
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("Starting server", zap.String("addr", addr))
	return s.server.ListenAndServe()
}

// Stop gracefully shuts down the server and cancels a background index run.
func (s *Server) Stop(ctx context.Context) error {
	s.cancelRuns()
	var err error
	if s.server != nil {
		err = s.server.Shutdown(ctx)
	}
	done := make(chan struct{})
	go func() {
		s.runs.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
	}
	return err
}

// countRequests records one counter sample per request, labelled by route pattern.
func (s *Server) countRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		metrics.HTTPRequestsTotal.WithLabelValues(r.Method, route, metrics.StatusClass(status)).Inc()
	})
}
