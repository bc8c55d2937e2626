package server

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/hyperjump/shashin/internal/embedding"
	"github.com/hyperjump/shashin/internal/models"
	"github.com/hyperjump/shashin/internal/search"
	"go.uber.org/zap"
)

const maxUploadBytes = 32 << 20

// decodeSearchRequest parses a JSON search body and applies query defaults.
func (s *Server) decodeSearchRequest(w http.ResponseWriter, r *http.Request) (*models.SearchRequest, bool) {
	var req models.SearchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return nil, false
	}
	if err := s.validate(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return nil, false
	}
	return &req, true
}

func (s *Server) validate(req *models.SearchRequest) error {
	sc := s.config.Search
	return req.Validate(sc.DefaultTopK, sc.MaxTopK, sc.DefaultThreshold)
}

// handleClipText answers the legacy endpoint with a JSON array of paths.
func (s *Server) handleClipText(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeSearchRequest(w, r)
	if !ok {
		return
	}
	s.logger.Debug("clip text request", zap.String("query", req.Query), zap.Int("top_k", req.TopK))
	res, err := s.Engine.SearchByText(r.Context(), req.Query, req.TopK, req.ThresholdOrZero())
	if err != nil {
		s.respondSearchError(w, "text search failed", err)
		return
	}
	s.respondJSON(w, http.StatusOK, res.Paths)
}

// handleClipImage accepts a JSON body whose query is a path, URL or data URI,
// or a multipart form with an "image" file.
func (s *Server) handleClipImage(w http.ResponseWriter, r *http.Request) {
	req, query, ok := s.imageRequest(w, r)
	if !ok {
		return
	}
	res, err := s.Engine.SearchByImage(r.Context(), query, req.TopK, req.ThresholdOrZero(), req.IncludeSelf)
	if err != nil {
		s.respondSearchError(w, "image search failed", err)
		return
	}
	s.respondJSON(w, http.StatusOK, res.Paths)
}

// handleEmbedText searches the OCR text collection.
func (s *Server) handleEmbedText(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeSearchRequest(w, r)
	if !ok {
		return
	}
	res, err := s.Engine.SearchOCRText(r.Context(), req.Query, req.TopK, req.ThresholdOrZero())
	if err != nil {
		s.respondSearchError(w, "ocr text search failed", err)
		return
	}
	s.respondJSON(w, http.StatusOK, res.Paths)
}

func (s *Server) handleSearchText(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeSearchRequest(w, r)
	if !ok {
		return
	}
	res, err := s.Engine.SearchByText(r.Context(), req.Query, req.TopK, req.ThresholdOrZero())
	if err != nil {
		s.respondSearchError(w, "text search failed", err)
		return
	}
	s.respondJSON(w, http.StatusOK, res)
}

func (s *Server) handleSearchImage(w http.ResponseWriter, r *http.Request) {
	req, query, ok := s.imageRequest(w, r)
	if !ok {
		return
	}
	res, err := s.Engine.SearchByImage(r.Context(), query, req.TopK, req.ThresholdOrZero(), req.IncludeSelf)
	if err != nil {
		s.respondSearchError(w, "image search failed", err)
		return
	}
	s.respondJSON(w, http.StatusOK, res)
}

func (s *Server) handleSearchOCR(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeSearchRequest(w, r)
	if !ok {
		return
	}
	res, err := s.Engine.SearchOCRText(r.Context(), req.Query, req.TopK, req.ThresholdOrZero())
	if err != nil {
		s.respondSearchError(w, "ocr text search failed", err)
		return
	}
	s.respondJSON(w, http.StatusOK, res)
}

func (s *Server) handleSearchKeyword(w http.ResponseWriter, r *http.Request) {
	var q models.KeywordQuery
	if err := json.NewDecoder(r.Body).Decode(&q); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	resp, err := s.Engine.SearchOCRKeyword(r.Context(), q)
	if err != nil {
		s.respondSearchError(w, "keyword search failed", err)
		return
	}
	s.respondJSON(w, http.StatusOK, resp)
}

// imageRequest reads an image query from JSON or multipart form data.
func (s *Server) imageRequest(w http.ResponseWriter, r *http.Request) (*models.SearchRequest, models.ImageQuery, bool) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "multipart/form-data" {
		return s.multipartImageRequest(w, r)
	}

	req, ok := s.decodeSearchRequest(w, r)
	if !ok {
		return nil, models.ImageQuery{}, false
	}
	if strings.HasPrefix(req.Query, "data:") {
		data, err := decodeDataURI(req.Query)
		if err != nil {
			s.respondError(w, http.StatusBadRequest, err.Error())
			return nil, models.ImageQuery{}, false
		}
		return req, models.ImageQuery{Data: data}, true
	}
	return req, models.ImageQuery{Path: req.Query}, true
}

func (s *Server) multipartImageRequest(w http.ResponseWriter, r *http.Request) (*models.SearchRequest, models.ImageQuery, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid multipart form")
		return nil, models.ImageQuery{}, false
	}
	file, _, err := r.FormFile("image")
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "image file is required")
		return nil, models.ImageQuery{}, false
	}
	defer file.Close()
	data, err := io.ReadAll(file)
	if err != nil || len(data) == 0 {
		s.respondError(w, http.StatusBadRequest, "image file is empty")
		return nil, models.ImageQuery{}, false
	}

	// Query is only a placeholder so Validate accepts an upload.
	req := &models.SearchRequest{Query: "upload"}
	if v := r.FormValue("top_k"); v != "" {
		if req.TopK, err = strconv.Atoi(v); err != nil {
			s.respondError(w, http.StatusBadRequest, "invalid top_k")
			return nil, models.ImageQuery{}, false
		}
	}
	if v := r.FormValue("threshold"); v != "" {
		t, err := strconv.ParseFloat(v, 64)
		if err != nil {
			s.respondError(w, http.StatusBadRequest, "invalid threshold")
			return nil, models.ImageQuery{}, false
		}
		req.Threshold = &t
	}
	req.IncludeSelf, _ = strconv.ParseBool(r.FormValue("include_self"))
	if err := s.validate(req); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return nil, models.ImageQuery{}, false
	}
	return req, models.ImageQuery{Data: data}, true
}

// decodeDataURI decodes a base64 "data:image/...;base64," URI.
func decodeDataURI(uri string) ([]byte, error) {
	header, payload, found := strings.Cut(uri, ",")
	if !found || !strings.HasSuffix(header, ";base64") {
		return nil, errors.New("query data URI must be base64 encoded")
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, fmt.Errorf("invalid base64 image: %w", err)
	}
	if len(data) == 0 {
		return nil, errors.New("query image is empty")
	}
	return data, nil
}

// statusFor maps query errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, search.ErrInvalidTopK), errors.Is(err, search.ErrEmptyQuery),
		errors.Is(err, search.ErrQueryImage):
		return http.StatusBadRequest
	case errors.Is(err, search.ErrFetchFailed), errors.Is(err, embedding.ErrUnavailable):
		return http.StatusBadGateway
	case errors.Is(err, search.ErrTextSearchDisabled), errors.Is(err, search.ErrKeywordDisabled):
		return http.StatusNotImplemented
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) respondSearchError(w http.ResponseWriter, msg string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error(msg, zap.Error(err))
	}
	s.respondError(w, status, err.Error())
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}
