// Package server provides the HTTP API for zake.
package server

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/hyperjump/zake/internal/cache"
	"github.com/hyperjump/zake/internal/config"
	"github.com/hyperjump/zake/internal/metrics"
	"github.com/hyperjump/zake/internal/service"
	"go.uber.org/zap"
)

// Server is the HTTP server for the zake API.
type Server struct {
	embeddings  *service.EmbeddingService
	reranker    *service.RerankerService
	store       *cache.Store
	config      *config.ServerConfig
	metrics     *metrics.Metrics
	metricsPath string
	logger      *zap.Logger
	server      *http.Server
}

// NewServer creates a server with the given dependencies. m may be nil, in
// which case no metrics are recorded or exposed.
func NewServer(
	embeddings *service.EmbeddingService,
	reranker *service.RerankerService,
	store *cache.Store,
	cfg *config.ServerConfig,
	logger *zap.Logger,
	m *metrics.Metrics,
	metricsPath string,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		embeddings:  embeddings,
		reranker:    reranker,
		store:       store,
		config:      cfg,
		metrics:     m,
		metricsPath: metricsPath,
		logger:      logger,
	}
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	timeout := s.config.RequestTimeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(timeout))
	r.Use(middleware.Compress(5))

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Route("/v1", func(r chi.Router) {
			r.Get("/embeddings", s.handleEmbedQuery)
			r.Post("/embeddings", s.handleEmbedDocuments)
			r.Get("/embeddings/cache", s.handleCacheEmbedQuery)
			r.Post("/embeddings/cache", s.handleCacheEmbedDocuments)
			r.Delete("/embeddings/cache", s.handleCacheClear)
			r.Get("/embeddings/cache/stats", s.handleCacheStats)
			r.Post("/reranker", s.handleRerank)
		})
	})
	if s.metrics != nil && s.metricsPath != "" {
		r.Handle(s.metricsPath, s.metrics.Handler())
	}
	return r
}

// requestLogger logs each request with zap and records it in the request
// metrics under its route pattern.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				route = pattern
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		s.metrics.ObserveRequest(route, strconv.Itoa(status), start)
		s.logger.Debug("request",
			zap.String("method", r.Method),
			zap.String("route", route),
			zap.Int("status", status),
			zap.Int("bytes", ww.BytesWritten()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())))
	})
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
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
