package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/hyperjump/shashin/internal/config"
	"github.com/hyperjump/shashin/internal/indexer"
	"github.com/hyperjump/shashin/internal/models"
	"github.com/hyperjump/shashin/internal/storage"
	"github.com/hyperjump/shashin/internal/vector"
	"go.uber.org/zap"
)

type indexRequest struct {
	DeepScan  *bool `json:"deep_scan,omitempty"`
	BatchSize int   `json:"batch_size,omitempty"`
}

// handleIndexStart runs the pipeline in the background.
func (s *Server) handleIndexStart(w http.ResponseWriter, r *http.Request) {
	var req indexRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if s.Pipeline.Running() || !s.indexing.CompareAndSwap(false, true) {
		s.respondError(w, http.StatusConflict, indexer.ErrAlreadyRunning.Error())
		return
	}
	s.runs.Add(1)
	go func() {
		defer s.runs.Done()
		defer s.indexing.Store(false)
		report, err := s.Pipeline.Run(s.baseCtx, indexer.RunOptions{DeepScan: req.DeepScan, BatchSize: req.BatchSize})
		if err != nil {
			s.logger.Error("index run failed", zap.Error(err))
			return
		}
		s.logger.Info("index run finished",
			zap.String("run_id", report.RunID),
			zap.Int("embedded", report.Embedded),
			zap.Int("purged", report.Purged))
	}()
	s.respondJSON(w, http.StatusAccepted, map[string]string{"status": "started"})
}

// handleIndexList returns every catalog record with its index state.
func (s *Server) handleIndexList(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	records, err := s.Catalog.Read(ctx)
	if err != nil {
		s.logger.Error("index list: read catalog failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	ids := make([]string, len(records))
	for i, rec := range records {
		ids[i] = rec.ID
	}
	images, err := s.Images.Get(ctx, ids)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	texts, err := s.Texts.Get(ctx, ids)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	entries := make([]models.IndexEntry, len(records))
	for i, rec := range records {
		_, indexed := images[rec.ID]
		_, hasText := texts[rec.ID]
		entries[i] = models.IndexEntry{ID: rec.ID, Fingerprint: rec.Fingerprint, Indexed: indexed, HasText: hasText}
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"entries": entries,
		"total":   len(entries),
	})
}

// handleIndexDelete clears the catalog, both collections and the keyword index.
func (s *Server) handleIndexDelete(w http.ResponseWriter, r *http.Request) {
	if s.Pipeline.Running() || s.indexing.Load() {
		s.respondError(w, http.StatusConflict, indexer.ErrAlreadyRunning.Error())
		return
	}
	err := s.Pipeline.Exclusive(func() error { return s.clearIndex(r.Context()) })
	if errors.Is(err, indexer.ErrAlreadyRunning) {
		s.respondError(w, http.StatusConflict, err.Error())
		return
	}
	if err != nil {
		s.logger.Error("delete index failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) clearIndex(ctx context.Context) error {
	if err := s.Catalog.Clear(ctx); err != nil {
		return err
	}
	for _, c := range []vector.Collection{s.Images, s.Texts} {
		ids, err := c.IDs(ctx)
		if err != nil {
			return err
		}
		if len(ids) == 0 {
			continue
		}
		if err := c.Delete(ctx, ids); err != nil {
			return err
		}
	}
	if s.Keyword != nil {
		return s.Keyword.Clear(ctx)
	}
	return nil
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	catalogCount, err := s.Catalog.Count(ctx)
	if err != nil {
		s.logger.Error("status: count catalog failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	imageCount, err := s.Images.Count(ctx)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	textCount, err := s.Texts.Count(ctx)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	resp := map[string]interface{}{
		"catalog":  catalogCount,
		"images":   imageCount,
		"texts":    textCount,
		"indexing": s.Pipeline.Running() || s.indexing.Load(),
	}
	if s.Keyword != nil {
		if n, err := s.Keyword.DocCount(); err == nil {
			resp["keyword_documents"] = n
		}
	}
	if s.Reports != nil {
		if last, err := s.Reports.LastReport(ctx); err == nil {
			resp["last_run"] = last
		} else if !errors.Is(err, storage.ErrNotFound) {
			s.logger.Warn("status: last report failed", zap.Error(err))
		}
	}

	s.configMu.Lock()
	cfg := s.config
	configInfo := map[string]interface{}{
		"vector_backend":      cfg.Vector.Backend,
		"clip_provider":       cfg.CLIP.Provider,
		"text_provider":       cfg.TextEmbed.Provider,
		"ocr_provider":        cfg.OCR.Provider,
		"scan_method":         cfg.Scan.Method,
		"batch_size":          cfg.Index.BatchSize,
		"deep_scan":           cfg.Index.DeepScan,
		"include_directories": cfg.Scan.IncludeDirectories,
		"exclude_directories": cfg.Scan.ExcludeDirectories,
		"database_path":       cfg.Storage.DatabasePath,
		"vector_dir":          cfg.Storage.VectorDir,
		"keyword_index_path":  cfg.Storage.KeywordIndexPath,
	}
	paths := []string{cfg.Storage.DatabasePath, cfg.Storage.VectorDir, cfg.Storage.KeywordIndexPath}
	s.configMu.Unlock()

	if usage, err := storage.DiskUsageByPath(paths...); err == nil {
		var total int64
		for _, n := range usage {
			total += n
		}
		resp["disk_usage"] = usage
		resp["disk_usage_bytes"] = total
	}
	resp["config"] = configInfo
	s.respondJSON(w, http.StatusOK, resp)
}

// handleImage serves a file only when its path is in the catalog.
func (s *Server) handleImage(w http.ResponseWriter, r *http.Request) {
	raw := chi.URLParam(r, "*")
	if raw == "" {
		s.respondError(w, http.StatusNotFound, "image not found")
		return
	}
	candidates := []string{models.NormalizePath(raw)}
	if !strings.HasPrefix(raw, "/") {
		candidates = append(candidates, "/"+models.NormalizePath(raw))
	}
	for _, id := range candidates {
		ok, err := s.Catalog.Contains(r.Context(), id)
		if err != nil {
			s.respondError(w, http.StatusInternalServerError, err.Error())
			return
		}
		if ok {
			http.ServeFile(w, r, filepath.FromSlash(id))
			return
		}
	}
	s.respondError(w, http.StatusNotFound, "image not found")
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleDirectoriesList(w http.ResponseWriter, r *http.Request) {
	s.configMu.Lock()
	include := append([]string(nil), s.config.Scan.IncludeDirectories...)
	exclude := append([]string(nil), s.config.Scan.ExcludeDirectories...)
	s.configMu.Unlock()
	resp := map[string]interface{}{"include": include, "exclude": exclude}
	if s.Watch != nil {
		resp["watched"] = s.Watch.Directories()
	}
	s.respondJSON(w, http.StatusOK, resp)
}

type directoryRequest struct {
	Path    string `json:"path"`
	Exclude bool   `json:"exclude,omitempty"`
}

func (s *Server) handleDirectoriesAdd(w http.ResponseWriter, r *http.Request) {
	var req directoryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Path == "" {
		s.respondError(w, http.StatusBadRequest, "path is required")
		return
	}
	abs, err := filepath.Abs(req.Path)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid path")
		return
	}
	if !req.Exclude {
		info, err := os.Stat(abs)
		if err != nil {
			if os.IsNotExist(err) {
				s.respondError(w, http.StatusNotFound, "directory not found")
				return
			}
			s.respondError(w, http.StatusInternalServerError, err.Error())
			return
		}
		if !info.IsDir() {
			s.respondError(w, http.StatusBadRequest, "path is not a directory")
			return
		}
	}
	s.logger.Debug("add directory request", zap.String("path", abs), zap.Bool("exclude", req.Exclude))
	s.updateDirectories(func(scan *config.ScanConfig) {
		if req.Exclude {
			scan.ExcludeDirectories, _ = config.AddDirectory(scan.ExcludeDirectories, abs)
		} else {
			scan.IncludeDirectories, _ = config.AddDirectory(scan.IncludeDirectories, abs)
		}
	})
	if s.Watch != nil && !req.Exclude {
		if err := s.Watch.AddDirectory(abs); err != nil {
			s.logger.Warn("watch add directory failed", zap.Error(err))
		}
	}
	s.respondJSON(w, http.StatusCreated, map[string]string{"path": abs, "status": "added"})
}

func (s *Server) handleDirectoriesRemove(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Query().Get("path")
	exclude := r.URL.Query().Get("exclude") == "true"
	if path == "" {
		var body directoryRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err == nil && body.Path != "" {
			path = body.Path
			exclude = body.Exclude
		}
	}
	if path == "" {
		s.respondError(w, http.StatusBadRequest, "path is required (query or body)")
		return
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid path")
		return
	}
	s.logger.Debug("remove directory request", zap.String("path", abs), zap.Bool("exclude", exclude))
	s.updateDirectories(func(scan *config.ScanConfig) {
		if exclude {
			scan.ExcludeDirectories, _ = config.RemoveDirectory(scan.ExcludeDirectories, abs)
		} else {
			scan.IncludeDirectories, _ = config.RemoveDirectory(scan.IncludeDirectories, abs)
		}
	})
	if s.Watch != nil && !exclude {
		if err := s.Watch.RemoveDirectory(abs); err != nil {
			s.logger.Warn("watch remove directory failed", zap.Error(err))
		}
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"path": abs, "status": "removed"})
}

// updateDirectories edits the scan lists, pushes them to the pipeline, and
// persists the config when a path is known.
func (s *Server) updateDirectories(edit func(scan *config.ScanConfig)) {
	s.configMu.Lock()
	defer s.configMu.Unlock()
	edit(&s.config.Scan)
	s.Pipeline.SetDirectories(s.config.Scan.IncludeDirectories, s.config.Scan.ExcludeDirectories)
	if s.configPath == "" {
		return
	}
	if err := config.Save(s.configPath, s.config); err != nil {
		s.logger.Warn("failed to persist config", zap.Error(err))
	}
}
