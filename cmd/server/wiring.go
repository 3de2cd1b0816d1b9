package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"coingate/internal/adapter/client"
	"coingate/internal/adapter/store"
	"coingate/internal/config"
	"coingate/internal/domain/repository"

	"github.com/qdrant/go-client/qdrant"
	"github.com/redis/go-redis/v9"
	"google.golang.org/genai"
)

const (
	embeddingDim = 768
	cacheTTL     = 24 * time.Hour
)

// openLedgerStore returns the configured ledger backend. The redis client is
// nil for the sqlite backend.
func openLedgerStore(cfg config.Config) (repository.LedgerStore, *redis.Client, error) {
	switch cfg.LedgerBackend {
	case "redis":
		if cfg.RedisAddr == "" {
			return nil, nil, fmt.Errorf("LEDGER_BACKEND=redis requires REDIS_ADDR")
		}
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		return store.NewRedisLedger(rdb), rdb, nil
	case "sqlite":
		s, err := store.OpenSQLiteLedger(cfg.SQLiteDir)
		if err != nil {
			return nil, nil, fmt.Errorf("opening sqlite ledger: %w", err)
		}
		return s, nil, nil
	default:
		return nil, nil, fmt.Errorf("unknown LEDGER_BACKEND %q", cfg.LedgerBackend)
	}
}

// newLimiter prefers a shared Redis window so limits hold across replicas.
func newLimiter(cfg config.Config, rdb *redis.Client) repository.RateLimiter {
	if rdb != nil {
		return store.NewRedisLimiter(rdb, cfg.Limits.RateRequests, cfg.Limits.RateWindow)
	}
	return store.NewMemoryLimiter(cfg.Limits.RateRequests, cfg.Limits.RateWindow)
}

// buildProviders assembles the fallback chain in PROVIDER_ORDER. Providers
// without credentials are skipped. The genai client is returned for the
// embedder when Gemini is configured.
func buildProviders(ctx context.Context, cfg config.ProvidersConfig, logger *slog.Logger) ([]repository.Provider, *genai.Client) {
	var (
		providers []repository.Provider
		gc        *genai.Client
	)
	for _, id := range cfg.Order {
		switch id {
		case client.ProviderGemini:
			if cfg.GeminiAPIKey == "" {
				logger.Warn("provider skipped, no credentials", "provider", id)
				continue
			}
			c, err := genai.NewClient(ctx, &genai.ClientConfig{
				APIKey:  cfg.GeminiAPIKey,
				Backend: genai.BackendGeminiAPI,
			})
			if err != nil {
				logger.Warn("provider skipped", "provider", id, "error", err)
				continue
			}
			gc = c
			providers = append(providers, client.NewGeminiClientFromClient(c, cfg.GeminiModel))
		case client.ProviderOpenAI:
			if cfg.OpenAIAPIKey == "" {
				logger.Warn("provider skipped, no credentials", "provider", id)
				continue
			}
			p, err := client.NewOpenAIClient(cfg.OpenAIAPIKey, cfg.OpenAIModel)
			if err != nil {
				logger.Warn("provider skipped", "provider", id, "error", err)
				continue
			}
			providers = append(providers, p)
		case client.ProviderOpenRouter:
			if cfg.OpenRouterAPIKey == "" {
				logger.Warn("provider skipped, no credentials", "provider", id)
				continue
			}
			providers = append(providers, client.NewOpenRouterClient(cfg.OpenRouterAPIKey, cfg.OpenRouterBaseURL, cfg.OpenRouterModel))
		case client.ProviderAnthropic:
			if cfg.AnthropicAPIKey == "" {
				logger.Warn("provider skipped, no credentials", "provider", id)
				continue
			}
			p, err := client.NewAnthropicClient(cfg.AnthropicAPIKey, cfg.AnthropicModel)
			if err != nil {
				logger.Warn("provider skipped", "provider", id, "error", err)
				continue
			}
			providers = append(providers, p)
		default:
			logger.Warn("unknown provider in PROVIDER_ORDER", "provider", id)
		}
	}
	return providers, gc
}

// newVectorStore connects the semantic cache. It returns nil when Qdrant is
// not configured or unreachable; the cache then always misses.
func newVectorStore(ctx context.Context, cfg config.Config, logger *slog.Logger) *store.QdrantStore {
	if cfg.QdrantHost == "" {
		return nil
	}
	qc, err := qdrant.NewClient(&qdrant.Config{
		Host: cfg.QdrantHost,
		Port: cfg.QdrantPort,
	})
	if err != nil {
		logger.Warn("semantic cache disabled", "error", err)
		return nil
	}
	vs := store.NewQdrantStore(qc, cfg.QdrantCollection, cacheTTL, logger)
	initCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := vs.InitCollection(initCtx, embeddingDim); err != nil {
		logger.Warn("semantic cache disabled", "error", err)
		return nil
	}
	return vs
}
