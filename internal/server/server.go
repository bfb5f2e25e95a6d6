// Package server provides the HTTP API for shashin.
package server

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/hyperjump/shashin/internal/config"
	"github.com/hyperjump/shashin/internal/inference"
	"github.com/hyperjump/shashin/internal/keyword"
	"github.com/hyperjump/shashin/internal/pipeline"
	"github.com/hyperjump/shashin/internal/search"
	"github.com/hyperjump/shashin/internal/storage"
	"github.com/hyperjump/shashin/internal/vector"
)

// maxUploadBytes bounds multipart upload bodies.
const maxUploadBytes = 20 << 20

// Server is the HTTP server for the shashin API.
type Server struct {
	pipeline  *pipeline.Pipeline
	engine    *search.Engine
	storage   storage.Storage
	client    inference.Client
	index     vector.Index
	labels    keyword.LabelSearcher
	suggester *keyword.Suggester
	config    *config.Config
	logger    *zap.Logger
	server    *http.Server
}

// Option configures a Server.
type Option func(*Server)

// WithLabelIndex enables GET /api/v1/labels/search with spelling suggestions.
func WithLabelIndex(idx *keyword.LabelIndex) Option {
	return func(s *Server) {
		s.labels = idx
		s.suggester = keyword.NewSuggester(idx)
	}
}

// NewServer creates a server with the given dependencies.
func NewServer(
	p *pipeline.Pipeline,
	engine *search.Engine,
	storage storage.Storage,
	client inference.Client,
	index vector.Index,
	cfg *config.Config,
	logger *zap.Logger,
	opts ...Option,
) *Server {
	s := &Server{
		pipeline: p,
		engine:   engine,
		storage:  storage,
		client:   client,
		index:    index,
		config:   cfg,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Router builds the route table.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(middleware.Compress(5))

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/images", s.handleUpload)
		r.Get("/images", s.handleListImages)
		r.Get("/images/{id}", s.handleGetImage)
		r.Delete("/images/{id}", s.handleDeleteImage)
		r.Post("/images/{id}/reprocess", s.handleReprocessImage)

		r.Post("/search", s.handleSearch)
		r.Post("/search/similar/{id}", s.handleSearchSimilar)
		r.Get("/labels/search", s.handleLabelSearch)

		r.Get("/models/health", s.handleModelsHealth)
		r.Get("/status", s.handleStatus)
	})
	r.Get("/health", s.handleHealth)

	prefix := "/" + strings.Trim(s.config.Search.PublicPrefix, "/") + "/"
	files := http.StripPrefix(prefix, http.FileServer(http.Dir(s.config.Storage.UploadDir)))
	r.Handle(prefix+"*", files)
	return r
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Server.Host, s.config.Server.Port)
	s.server = &http.Server{
		Addr:    addr,
		Handler: s.Router(),
	}
	s.logger.Info("Starting server", zap.String("addr", addr))
	return s.server.ListenAndServe()
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}
