package client

import (
	"context"
	"errors"
	"strings"

	"coingate/internal/domain/entity"
)

// classify maps an SDK or transport error onto the gateway failure reasons.
func classify(provider string, err error) *entity.ProviderError {
	var pe *entity.ProviderError
	if errors.As(err, &pe) {
		return pe
	}
	reason := entity.FailureTransportError
	msg := strings.ToLower(err.Error())
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled),
		strings.Contains(msg, "deadline exceeded"), strings.Contains(msg, "timeout"):
		reason = entity.FailureTimeout
	case strings.Contains(msg, "429"), strings.Contains(msg, "rate limit"),
		strings.Contains(msg, "quota"), strings.Contains(msg, "resource_exhausted"),
		strings.Contains(msg, "overloaded"):
		reason = entity.FailureRateLimited
	case strings.Contains(msg, "401"), strings.Contains(msg, "403"),
		strings.Contains(msg, "api key"), strings.Contains(msg, "unauthorized"),
		strings.Contains(msg, "permission_denied"), strings.Contains(msg, "authentication"):
		reason = entity.FailureAuthMissing
	}
	return &entity.ProviderError{Provider: provider, Reason: reason, Detail: err.Error()}
}

func emptyResponse(provider string) *entity.ProviderError {
	return &entity.ProviderError{Provider: provider, Reason: entity.FailureEmptyResponse, Detail: "provider returned no text"}
}

func missingKey(provider string) *entity.ProviderError {
	return &entity.ProviderError{Provider: provider, Reason: entity.FailureAuthMissing, Detail: "API key not configured"}
}
