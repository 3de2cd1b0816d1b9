package entity

import (
	"fmt"
	"time"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleSystem:
		return true
	}
	return false
}

// ConversationMessage is one turn of the transcript. The client resends the
// whole transcript on every request.
type ConversationMessage struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// ProviderRequest is built once per orchestrator run and shared by every attempt.
type ProviderRequest struct {
	Messages          []ConversationMessage
	SystemInstruction string
	MaxTokens         int
	Temperature       float32
	Timeout           time.Duration // per attempt
}

// Completion is the success arm of a provider call.
type Completion struct {
	Text       string        `json:"text"`
	ProviderID string        `json:"provider_id"`
	Attempts   int           `json:"attempts"`
	Latency    time.Duration `json:"latency"`
}

type FailureReason string

const (
	FailureTimeout        FailureReason = "timeout"
	FailureAuthMissing    FailureReason = "auth_missing"
	FailureEmptyResponse  FailureReason = "empty_response"
	FailureTransportError FailureReason = "transport_error"
	FailureRateLimited    FailureReason = "rate_limited"
)

// ProviderError is the failure arm of a provider call.
type ProviderError struct {
	Provider string
	Reason   FailureReason
	Detail   string
	// Exhausted is set on the aggregate error returned once every provider failed.
	Exhausted bool
}

func (e *ProviderError) Error() string {
	if e.Provider == "" {
		return fmt.Sprintf("%s: %s", e.Reason, e.Detail)
	}
	return fmt.Sprintf("%s %s: %s", e.Provider, e.Reason, e.Detail)
}

func (e *ProviderError) Is(target error) bool {
	return e.Exhausted && target == ErrProvidersExhausted
}
