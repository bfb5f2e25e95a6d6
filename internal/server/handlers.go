package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/hyperjump/shashin/internal/inference"
	"github.com/hyperjump/shashin/internal/keyword"
	"github.com/hyperjump/shashin/internal/media"
	"github.com/hyperjump/shashin/internal/models"
	"github.com/hyperjump/shashin/internal/search"
	"github.com/hyperjump/shashin/internal/storage"
)

// ownerID returns the requesting user from X-User-Id, or the configured default owner.
func (s *Server) ownerID(r *http.Request) string {
	if id := strings.TrimSpace(r.Header.Get("X-User-Id")); id != "" {
		return id
	}
	return s.config.Server.DefaultOwner
}

type uploadResponse struct {
	ImageID   string                  `json:"imageId"`
	UploadURL string                  `json:"uploadUrl"`
	Status    models.ProcessingStatus `json:"status"`
	Width     int                     `json:"width"`
	Height    int                     `json:"height"`
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid multipart body")
		return
	}
	file, header, err := r.FormFile("image")
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "no image file provided")
		return
	}
	defer file.Close()

	owner := s.ownerID(r)
	s.logger.Debug("upload request", zap.String("owner_id", owner), zap.String("filename", header.Filename))
	img, err := s.pipeline.Ingest(r.Context(), owner, header.Filename, file)
	if err != nil {
		if errors.Is(err, media.ErrUnsupportedFormat) {
			s.respondError(w, http.StatusBadRequest, "only JPEG, PNG and WebP images are allowed")
			return
		}
		s.logger.Error("upload failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusCreated, uploadResponse{
		ImageID:   img.ID,
		UploadURL: img.OriginalURL,
		Status:    img.Status,
		Width:     img.Width,
		Height:    img.Height,
	})
}

func (s *Server) handleListImages(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	owner := s.ownerID(r)
	q := r.URL.Query()
	status := models.ProcessingStatus(q.Get("status"))
	if status != "" && !status.Valid() {
		s.respondError(w, http.StatusBadRequest, "invalid status")
		return
	}
	limit, err := intParam(q.Get("limit"), 20)
	if err != nil || limit < 1 || limit > 100 {
		s.respondError(w, http.StatusBadRequest, "limit must be between 1 and 100")
		return
	}
	skip, err := intParam(q.Get("skip"), 0)
	if err != nil || skip < 0 {
		s.respondError(w, http.StatusBadRequest, "skip must not be negative")
		return
	}

	images, err := s.storage.ListImages(ctx, owner, status, skip, limit)
	if err != nil {
		s.logger.Error("list images failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	total, err := s.storage.CountImages(ctx, owner)
	if err != nil {
		s.logger.Error("count images failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"images": images,
		"total":  total,
		"limit":  limit,
		"skip":   skip,
	})
}

func intParam(raw string, def int) (int, error) {
	if raw == "" {
		return def, nil
	}
	return strconv.Atoi(raw)
}

func (s *Server) handleGetImage(w http.ResponseWriter, r *http.Request) {
	detail, err := s.pipeline.Get(r.Context(), s.ownerID(r), chi.URLParam(r, "id"))
	if err != nil {
		s.respondStoreError(w, "image", err)
		return
	}
	s.respondJSON(w, http.StatusOK, detail)
}

func (s *Server) handleDeleteImage(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	s.logger.Debug("delete image request", zap.String("image_id", id))
	if err := s.pipeline.Delete(r.Context(), s.ownerID(r), id); err != nil {
		s.respondStoreError(w, "image", err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"imageId": id, "status": "deleted"})
}

func (s *Server) handleReprocessImage(w http.ResponseWriter, r *http.Request) {
	img, err := s.pipeline.Reprocess(r.Context(), s.ownerID(r), chi.URLParam(r, "id"))
	if err != nil {
		s.respondStoreError(w, "image", err)
		return
	}
	s.respondJSON(w, http.StatusAccepted, map[string]interface{}{"imageId": img.ID, "status": img.Status})
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var query models.SearchQuery
	if err := json.NewDecoder(r.Body).Decode(&query); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	query.OwnerID = s.ownerID(r)
	s.logger.Debug("search request", zap.String("text", query.Text), zap.Int("top_k", query.TopK), zap.String("mode", string(query.Mode)))
	response, err := s.engine.Search(r.Context(), &query)
	if err != nil {
		s.respondSearchError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, response)
}

type similarRequest struct {
	TopK int `json:"topK"`
}

func (s *Server) handleSearchSimilar(w http.ResponseWriter, r *http.Request) {
	var req similarRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	response, err := s.engine.SearchSimilar(r.Context(), s.ownerID(r), chi.URLParam(r, "id"), req.TopK)
	if err != nil {
		s.respondSearchError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, response)
}

func (s *Server) handleLabelSearch(w http.ResponseWriter, r *http.Request) {
	if s.labels == nil {
		s.respondError(w, http.StatusNotImplemented, "label index not enabled")
		return
	}
	q := strings.TrimSpace(r.URL.Query().Get("q"))
	if q == "" {
		s.respondError(w, http.StatusBadRequest, "q is required")
		return
	}
	limit, err := intParam(r.URL.Query().Get("limit"), s.config.Search.DefaultTopK)
	if err != nil || limit < 1 || limit > s.config.Search.MaxTopK {
		s.respondError(w, http.StatusBadRequest, "invalid limit")
		return
	}
	res, err := keyword.Lookup(r.Context(), s.labels, s.suggester, s.ownerID(r), q, limit)
	if err != nil {
		s.logger.Error("label search failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, res)
}

func (s *Server) handleModelsHealth(w http.ResponseWriter, r *http.Request) {
	h := s.client.Health(r.Context())
	status := "ok"
	if !h.Ready() {
		status = "degraded"
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"status": status, "models": h})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	imageCount, err := s.storage.CountImages(ctx, "")
	if err != nil {
		s.logger.Error("status: count images failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	byStatus, err := s.storage.CountByStatus(ctx)
	if err != nil {
		s.logger.Error("status: count by status failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	objectCount, err := s.storage.CountObjects(ctx)
	if err != nil {
		s.logger.Error("status: count objects failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	vectorCount, err := s.storage.CountVectors(ctx)
	if err != nil {
		s.logger.Error("status: count vectors failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	failed := s.pipeline.FailedJobs()
	if len(failed) > 20 {
		failed = failed[len(failed)-20:]
	}
	resp := map[string]interface{}{
		"images":            imageCount,
		"images_by_status":  byStatus,
		"objects":           objectCount,
		"vectors":           vectorCount,
		"vector_index_size": s.index.Size(),
		"queue":             s.pipeline.Stats(),
		"failed_jobs":       failed,
		"config": map[string]interface{}{
			"vector_dimensions": s.index.Dimension(),
			"inference_url":     s.config.Inference.BaseURL,
			"model":             s.config.Inference.Model,
			"aggregation":       s.config.Search.Aggregation,
			"object_weight":     s.config.Search.ObjectWeight,
			"scene_weight":      s.config.Search.SceneWeight,
			"database_path":     s.config.Storage.DatabasePath,
			"vector_index_path": s.config.Storage.VectorIndexPath,
			"upload_dir":        s.config.Storage.UploadDir,
		},
	}
	if fp, err := storage.MeasureFootprint(s.config.Storage); err == nil {
		resp["disk_usage_bytes"] = fp.Total()
		resp["disk_usage"] = fp
	} else {
		s.logger.Warn("status: measure disk usage failed", zap.Error(err))
	}
	s.respondJSON(w, http.StatusOK, resp)
}

// respondStoreError maps lookups of owned resources to 404 and everything else to 500.
func (s *Server) respondStoreError(w http.ResponseWriter, what string, err error) {
	if errors.Is(err, storage.ErrNotFound) {
		s.respondError(w, http.StatusNotFound, what+" not found")
		return
	}
	s.logger.Error(what+" request failed", zap.Error(err))
	s.respondError(w, http.StatusInternalServerError, err.Error())
}

// respondSearchError keeps query failures distinct from empty results.
func (s *Server) respondSearchError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, models.ErrInvalidQuery):
		s.respondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, search.ErrEmbeddingNotFound):
		s.respondError(w, http.StatusNotFound, "image embedding not found")
	case errors.Is(err, storage.ErrNotFound):
		s.respondError(w, http.StatusNotFound, "image not found")
	case errors.Is(err, inference.ErrUnavailable):
		s.logger.Error("search failed", zap.Error(err))
		s.respondError(w, http.StatusServiceUnavailable, err.Error())
	default:
		s.logger.Error("search failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
	}
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}
