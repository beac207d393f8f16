// Package server provides the HTTP API for Kiji.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/hyperjump/kiji/internal/config"
	"github.com/hyperjump/kiji/internal/history"
	"github.com/hyperjump/kiji/internal/ingest"
	"github.com/hyperjump/kiji/internal/rag"
	"github.com/hyperjump/kiji/internal/storage"
	"github.com/hyperjump/kiji/internal/vectorindex"
)

// Server is the HTTP server for the Kiji API.
type Server struct {
	engine   *rag.Engine
	ingester *ingest.Ingester
	history  history.Store
	index    vectorindex.Index
	archive  storage.Archive
	config   *config.ServerConfig
	logger   *zap.Logger
	server   *http.Server
}

// NewServer creates a server with the given dependencies. archive may be nil.
func NewServer(
	engine *rag.Engine,
	ingester *ingest.Ingester,
	store history.Store,
	index vectorindex.Index,
	archive storage.Archive,
	cfg *config.ServerConfig,
	logger *zap.Logger,
) *Server {
	return &Server{
		engine:   engine,
		ingester: ingester,
		history:  store,
		index:    index,
		archive:  archive,
		config:   cfg,
		logger:   logger,
	}
}

// Router builds the chi router with all routes and middleware.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// Streaming responses must not sit behind the global timeout; the
	// generative call carries its own.
	r.Group(func(r chi.Router) {
		r.Post("/api/v1/chat/stream", s.handleChatStream)
	})
	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(60 * time.Second))
		r.Post("/api/v1/chat", s.handleChat)
		r.Get("/api/v1/sessions/{id}", s.handleGetSession)
		r.Get("/api/v1/sessions/{id}/messages", s.handleGetMessages)
		r.Get("/api/v1/sessions/{id}/transcripts", s.handleGetTranscripts)
		r.Delete("/api/v1/sessions/{id}", s.handleDeleteSession)
		r.Post("/api/v1/articles", s.handleIngestArticles)
		r.Get("/health", s.handleHealth)
		r.Get("/status", s.handleStatus)
	})
	return r
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
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
