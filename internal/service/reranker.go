package service

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/hyperjump/zake/internal/embedding"
	"github.com/hyperjump/zake/internal/executor"
	"github.com/hyperjump/zake/internal/metrics"
	"github.com/hyperjump/zake/internal/models"
	"github.com/hyperjump/zake/pkg/utils"
	"go.uber.org/zap"
)

// DefaultRerankerModel is used when neither the request nor the configuration names a model.
const DefaultRerankerModel = "mixedbread-ai/mxbai-rerank-xsmall-v1"

// RerankerConfig holds defaults applied to requests that omit them.
type RerankerConfig struct {
	Model           string
	TopK            int
	ReturnDocuments bool
}

// DefaultRerankerConfig returns the default model, top 10, without texts.
func DefaultRerankerConfig() RerankerConfig {
	return RerankerConfig{Model: DefaultRerankerModel, TopK: 10}
}

// RerankerService scores documents against a query with a cross-encoder.
type RerankerService struct {
	cfg     RerankerConfig
	scorers *embedding.Registry[embedding.Scorer]
	exec    *executor.Executor
	logger  *zap.Logger
	metrics *metrics.Metrics
}

// NewRerankerService wires the reranker. Missing config values take defaults.
func NewRerankerService(cfg RerankerConfig, scorers *embedding.Registry[embedding.Scorer], exec *executor.Executor, opts ...Option) (*RerankerService, error) {
	if scorers == nil || exec == nil {
		return nil, fmt.Errorf("scorer registry and executor are required")
	}
	def := DefaultRerankerConfig()
	if cfg.Model == "" {
		cfg.Model = def.Model
	}
	if cfg.TopK <= 0 {
		cfg.TopK = def.TopK
	}
	o := buildOptions(opts)
	return &RerankerService{cfg: cfg, scorers: scorers, exec: exec, logger: o.logger, metrics: o.metrics}, nil
}

// Rank scores every document, maps logits through a sigmoid and returns the
// TopK highest scores in descending order. Equal scores keep input order.
func (r *RerankerService) Rank(ctx context.Context, req *models.RerankRequest) ([]models.RerankResult, error) {
	model := req.Model
	if model == "" {
		model = r.cfg.Model
	}
	topK := r.cfg.TopK
	if req.TopK != nil && *req.TopK > 0 {
		topK = *req.TopK
	}
	returnDocs := r.cfg.ReturnDocuments
	if req.ReturnDocuments != nil {
		returnDocs = *req.ReturnDocuments
	}
	if len(req.Documents) == 0 {
		return []models.RerankResult{}, nil
	}

	logits, err := executor.Do(ctx, r.exec, func(ctx context.Context) ([]float32, error) {
		scorer, err := r.scorers.Get(ctx, model)
		if err != nil {
			return nil, executor.Permanent(err)
		}
		start := time.Now()
		logits, err := scorer.Score(ctx, req.Query, req.Documents)
		r.metrics.ObserveInference(model, len(req.Documents), start)
		if err != nil {
			return nil, err
		}
		if len(logits) != len(req.Documents) {
			return nil, fmt.Errorf("%w: got %d scores for %d documents", ErrVectorCount, len(logits), len(req.Documents))
		}
		return logits, nil
	})
	if err != nil {
		return nil, err
	}

	results := make([]models.RerankResult, len(logits))
	for i, l := range logits {
		results[i] = models.RerankResult{CorpusID: i, Score: utils.Sigmoid(l)}
		if returnDocs {
			results[i].Text = req.Documents[i]
		}
	}
	sort.SliceStable(results, func(a, b int) bool {
		return results[a].Score > results[b].Score
	})
	if len(results) > topK {
		results = results[:topK]
	}
	r.logger.Debug("reranked",
		zap.String("model", model),
		zap.Int("documents", len(req.Documents)),
		zap.Int("returned", len(results)))
	return results, nil
}
