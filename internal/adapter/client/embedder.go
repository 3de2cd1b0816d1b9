package client

import (
	"context"
	"fmt"

	"google.golang.org/genai"
)

// Embedder produces the vectors the semantic cache searches by. Output size
// is pinned so it always matches the Qdrant collection.
type Embedder struct {
	client *genai.Client
	model  string // e.g., "text-embedding-004"
	dim    int32
}

func NewEmbedderFromClient(c *genai.Client, model string, dim int32) *Embedder {
	return &Embedder{
		client: c,
		model:  model,
		dim:    dim,
	}
}

func (e *Embedder) CreateEmbedding(ctx context.Context, text string) ([]float32, error) {
	cfg := &genai.EmbedContentConfig{TaskType: "SEMANTIC_SIMILARITY"}
	if e.dim > 0 {
		cfg.OutputDimensionality = &e.dim
	}
	res, err := e.client.Models.EmbedContent(ctx, e.model, genai.Text(text), cfg)
	if err != nil {
		return nil, classify("embedder", err)
	}
	if len(res.Embeddings) == 0 || len(res.Embeddings[0].Values) == 0 {
		return nil, fmt.Errorf("embedding response is empty")
	}
	return res.Embeddings[0].Values, nil
}
