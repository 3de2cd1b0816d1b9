package usecase

import (
	"context"
	"log/slog"
	"time"

	"coingate/internal/domain/repository"
)

const defaultCacheThreshold = 0.97

// SemanticCache reuses answers for prompts whose embeddings are near-identical.
// A nil *SemanticCache is a valid, always-missing cache.
type SemanticCache struct {
	vectorStore repository.VectorStore
	embedder    repository.Embedder
	threshold   float32
	logger      *slog.Logger
}

func NewSemanticCache(vs repository.VectorStore, emb repository.Embedder, threshold float32, logger *slog.Logger) *SemanticCache {
	if threshold <= 0 {
		threshold = defaultCacheThreshold
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &SemanticCache{vectorStore: vs, embedder: emb, threshold: threshold, logger: logger}
}

// Lookup returns the cached content and the prompt vector, which Store can
// reuse. Cache errors are logged and treated as misses.
func (c *SemanticCache) Lookup(ctx context.Context, prompt string, filters map[string]string) (string, []float32, bool) {
	if c == nil {
		return "", nil, false
	}
	vector, err := c.embedder.CreateEmbedding(ctx, prompt)
	if err != nil {
		c.logger.Warn("embedding for cache lookup failed", "error", err)
		return "", nil, false
	}
	content, score, err := c.vectorStore.Search(ctx, vector, c.threshold, filters)
	if err != nil {
		c.logger.Warn("cache search failed", "error", err)
		return "", vector, false
	}
	if content == "" {
		return "", vector, false
	}
	c.logger.Debug("semantic cache hit", "score", score)
	return content, vector, true
}

// Store saves in the background; the request context may already be gone.
func (c *SemanticCache) Store(prompt, content string, vector []float32, metadata map[string]any) {
	if c == nil || vector == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := c.vectorStore.Save(ctx, prompt, content, vector, metadata); err != nil {
			c.logger.Warn("cache save failed", "error", err)
		}
	}()
}
