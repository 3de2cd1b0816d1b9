package usecase

import (
	"context"
	"log/slog"

	"coingate/internal/domain/entity"
	"coingate/internal/domain/repository"
)

const defaultMaxBlockedTurns = 3

// TrafficGuard rejects callers that send too many requests or keep probing
// with blocked content.
type TrafficGuard struct {
	limiter    repository.RateLimiter
	maxBlocked int
	logger     *slog.Logger
}

func NewTrafficGuard(limiter repository.RateLimiter, maxBlocked int, logger *slog.Logger) *TrafficGuard {
	if maxBlocked <= 0 {
		maxBlocked = defaultMaxBlockedTurns
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &TrafficGuard{limiter: limiter, maxBlocked: maxBlocked, logger: logger}
}

// Admit counts one request against key. Limiter outages fail open.
func (g *TrafficGuard) Admit(ctx context.Context, key string) error {
	if g == nil || g.limiter == nil || key == "" {
		return nil
	}
	ok, err := g.limiter.Allow(ctx, key)
	if err != nil {
		g.logger.Warn("rate limiter unavailable, allowing request", "key", key, "error", err)
		return nil
	}
	if !ok {
		g.logger.Warn("rate limit exceeded", "key", key)
		return entity.ErrRateLimitExceeded
	}
	return nil
}

func (g *TrafficGuard) Inspect(key string, st ConversationState) error {
	limit := defaultMaxBlockedTurns
	if g != nil {
		limit = g.maxBlocked
	}
	if st.BlockedCount >= limit {
		if g != nil {
			g.logger.Warn("suspicious transcript", "key", key, "blocked_turns", st.BlockedCount)
		}
		return entity.ErrSuspiciousTraffic
	}
	return nil
}
