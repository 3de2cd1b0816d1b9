package usecase

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"coingate/internal/domain/entity"
	"coingate/internal/domain/repository"
)

const defaultAttemptTimeout = 25 * time.Second

// FallbackOrchestrator tries providers one at a time in priority order and
// returns the first success. Providers are never raced.
type FallbackOrchestrator struct {
	providers []repository.Provider
	logger    *slog.Logger
}

func NewFallbackOrchestrator(logger *slog.Logger, providers ...repository.Provider) *FallbackOrchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &FallbackOrchestrator{providers: providers, logger: logger}
}

func (o *FallbackOrchestrator) Providers() []string {
	ids := make([]string, 0, len(o.providers))
	for _, p := range o.providers {
		ids = append(ids, p.ID())
	}
	return ids
}

// Execute always returns either a completion or a *entity.ProviderError.
// Once every provider failed the error matches entity.ErrProvidersExhausted
// and carries the last provider's reason.
func (o *FallbackOrchestrator) Execute(ctx context.Context, req entity.ProviderRequest) (*entity.Completion, error) {
	if len(o.providers) == 0 {
		return nil, &entity.ProviderError{
			Reason:    entity.FailureAuthMissing,
			Detail:    "no AI provider is configured",
			Exhausted: true,
		}
	}
	if req.Timeout <= 0 {
		req.Timeout = defaultAttemptTimeout
	}

	start := time.Now()
	var last *entity.ProviderError
	for i, p := range o.providers {
		if err := ctx.Err(); err != nil {
			last = &entity.ProviderError{Provider: p.ID(), Reason: entity.FailureTimeout, Detail: err.Error()}
			break
		}

		text, err := o.attempt(ctx, p, req)
		if err == nil {
			if i > 0 {
				o.logger.Info("fallback provider answered", "provider", p.ID(), "attempt", i+1)
			}
			return &entity.Completion{
				Text:       text,
				ProviderID: p.ID(),
				Attempts:   i + 1,
				Latency:    time.Since(start),
			}, nil
		}

		last = asProviderError(p.ID(), err)
		o.logger.Warn("provider attempt failed",
			"provider", p.ID(),
			"attempt", i+1,
			"reason", last.Reason,
			"detail", last.Detail,
		)
	}

	return nil, &entity.ProviderError{
		Provider:  last.Provider,
		Reason:    last.Reason,
		Detail:    last.Detail,
		Exhausted: true,
	}
}

func (o *FallbackOrchestrator) attempt(ctx context.Context, p repository.Provider, req entity.ProviderRequest) (string, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, req.Timeout)
	defer cancel()

	text, err := p.Call(attemptCtx, req)
	if err != nil {
		if attemptCtx.Err() != nil && !isProviderError(err) {
			return "", &entity.ProviderError{Provider: p.ID(), Reason: entity.FailureTimeout, Detail: err.Error()}
		}
		return "", err
	}
	if isBlank(text) {
		return "", &entity.ProviderError{Provider: p.ID(), Reason: entity.FailureEmptyResponse, Detail: "provider returned no text"}
	}
	return text, nil
}

func asProviderError(id string, err error) *entity.ProviderError {
	var pe *entity.ProviderError
	if errors.As(err, &pe) {
		out := *pe
		if out.Provider == "" {
			out.Provider = id
		}
		return &out
	}
	return &entity.ProviderError{Provider: id, Reason: entity.FailureTransportError, Detail: err.Error()}
}

func isProviderError(err error) bool {
	var pe *entity.ProviderError
	return errors.As(err, &pe)
}
