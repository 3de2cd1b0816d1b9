package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"coingate/internal/domain/entity"
	"coingate/internal/domain/repository"
)

const (
	ProviderOpenRouter       = "openrouter"
	defaultOpenRouterBaseURL = "https://openrouter.ai/api/v1"
)

// OpenRouterClient speaks the OpenAI-compatible chat completions protocol.
type OpenRouterClient struct {
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client
}

var _ repository.Provider = (*OpenRouterClient)(nil)

func NewOpenRouterClient(apiKey, baseURL, model string) *OpenRouterClient {
	if baseURL == "" {
		baseURL = defaultOpenRouterBaseURL
	}
	return &OpenRouterClient{
		apiKey:  apiKey,
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   model,
		// Deadlines come from the caller's context.
		httpClient: &http.Client{},
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float32       `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func (c *OpenRouterClient) ID() string { return ProviderOpenRouter }

func (c *OpenRouterClient) Call(ctx context.Context, req entity.ProviderRequest) (string, error) {
	if c.apiKey == "" {
		return "", missingKey(ProviderOpenRouter)
	}

	msgs := make([]chatMessage, 0, len(req.Messages)+1)
	if req.SystemInstruction != "" {
		msgs = append(msgs, chatMessage{Role: "system", Content: req.SystemInstruction})
	}
	for _, m := range req.Messages {
		msgs = append(msgs, chatMessage{Role: string(m.Role), Content: m.Content})
	}
	body, err := json.Marshal(chatRequest{
		Model:       c.model,
		Messages:    msgs,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	})
	if err != nil {
		return "", classify(ProviderOpenRouter, fmt.Errorf("marshaling request: %w", err))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", classify(ProviderOpenRouter, fmt.Errorf("creating request: %w", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", classify(ProviderOpenRouter, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return "", &entity.ProviderError{Provider: ProviderOpenRouter, Reason: entity.FailureRateLimited, Detail: fmt.Sprintf("rate limited (HTTP %d)", resp.StatusCode)}
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return "", &entity.ProviderError{Provider: ProviderOpenRouter, Reason: entity.FailureAuthMissing, Detail: fmt.Sprintf("rejected credentials (HTTP %d)", resp.StatusCode)}
	case resp.StatusCode != http.StatusOK:
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", &entity.ProviderError{Provider: ProviderOpenRouter, Reason: entity.FailureTransportError, Detail: fmt.Sprintf("unexpected status %d: %s", resp.StatusCode, snippet)}
	}

	var out chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", classify(ProviderOpenRouter, fmt.Errorf("decoding response: %w", err))
	}
	if out.Error != nil && out.Error.Message != "" {
		return "", &entity.ProviderError{Provider: ProviderOpenRouter, Reason: entity.FailureTransportError, Detail: out.Error.Message}
	}
	if len(out.Choices) == 0 || strings.TrimSpace(out.Choices[0].Message.Content) == "" {
		return "", emptyResponse(ProviderOpenRouter)
	}
	return out.Choices[0].Message.Content, nil
}
