package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/hyperjump/zake/internal/embedding"
	"github.com/hyperjump/zake/internal/models"
	"github.com/hyperjump/zake/pkg/utils"
	"go.uber.org/zap"
)

const maxBodyBytes = 16 << 20

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleEmbedQuery(w http.ResponseWriter, r *http.Request) {
	s.embedQuery(w, r, s.embeddings.EmbedQuery)
}

func (s *Server) handleCacheEmbedQuery(w http.ResponseWriter, r *http.Request) {
	s.embedQuery(w, r, s.embeddings.CacheEmbedQuery)
}

func (s *Server) handleEmbedDocuments(w http.ResponseWriter, r *http.Request) {
	s.embedDocuments(w, r, s.embeddings.EmbedDocuments)
}

func (s *Server) handleCacheEmbedDocuments(w http.ResponseWriter, r *http.Request) {
	s.embedDocuments(w, r, s.embeddings.CacheEmbedDocuments)
}

func (s *Server) embedQuery(w http.ResponseWriter, r *http.Request, embed func(context.Context, string) ([]float32, error)) {
	req := models.EmbedQueryRequest{Query: r.URL.Query().Get("query")}
	if err := req.Validate(); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	start := time.Now()
	vector, err := embed(r.Context(), req.Query)
	if err != nil {
		s.logger.Error("embed query failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, models.EmbeddingResponse{
		Status: models.StatusFor(len(vector)),
		Vector: vector,
		Metadata: models.Metadata{
			Tokens:   utils.EstimateTokens(req.Query),
			Duration: time.Since(start).Milliseconds(),
		},
	})
}

func (s *Server) embedDocuments(w http.ResponseWriter, r *http.Request, embed func(context.Context, []string) ([][]float32, error)) {
	var req models.EmbedDocumentsRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	if err := req.Validate(); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.logger.Debug("embed documents request", zap.Int("documents", len(req.Documents)))
	start := time.Now()
	vectors, err := embed(r.Context(), req.Documents)
	if err != nil {
		s.logger.Error("embed documents failed", zap.Int("documents", len(req.Documents)), zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, models.EmbeddingsResponse{
		Status:  models.StatusFor(len(vectors)),
		Vectors: vectors,
		Metadata: models.Metadata{
			Tokens:   utils.EstimateTokensList(req.Documents),
			Duration: time.Since(start).Milliseconds(),
		},
	})
}

func (s *Server) handleCacheClear(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Clear(r.Context()); err != nil {
		s.logger.Error("cache clear failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.logger.Info("cache cleared")
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}

func (s *Server) handleCacheStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.Stats(r.Context())
	if err != nil {
		s.logger.Error("cache stats failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, models.CacheStatsResponse{
		Entries:       stats.Entries,
		Bytes:         stats.Bytes,
		MemoryEntries: stats.MemoryEntries,
	})
}

func (s *Server) handleRerank(w http.ResponseWriter, r *http.Request) {
	var req models.RerankRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	if err := req.Validate(); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.logger.Debug("rerank request", zap.String("model", req.Model), zap.Int("documents", len(req.Documents)))
	start := time.Now()
	results, err := s.reranker.Rank(r.Context(), &req)
	if errors.Is(err, embedding.ErrInvalidModel) {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		s.logger.Error("rerank failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, models.RerankResponse{
		Status:  models.StatusFor(len(results)),
		Results: results,
		Metadata: models.Metadata{
			Tokens:   utils.EstimateTokens(req.Query),
			Duration: time.Since(start).Milliseconds(),
		},
	})
}

// decodeJSON reads the request body into v and writes a 400 on failure.
func (s *Server) decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}
