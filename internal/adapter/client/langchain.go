package client

import (
	"context"
	"fmt"
	"strings"

	"coingate/internal/domain/entity"
	"coingate/internal/domain/repository"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/anthropic"
	"github.com/tmc/langchaingo/llms/openai"
)

const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
)

// LangChainClient adapts any langchaingo chat model.
type LangChainClient struct {
	id  string
	llm llms.Model
}

var _ repository.Provider = (*LangChainClient)(nil)

func NewLangChainClient(id string, llm llms.Model) *LangChainClient {
	return &LangChainClient{id: id, llm: llm}
}

func NewOpenAIClient(apiKey, model string) (*LangChainClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("OpenAI API key required")
	}
	llm, err := openai.New(
		openai.WithToken(apiKey),
		openai.WithModel(model),
	)
	if err != nil {
		return nil, fmt.Errorf("create openai model: %w", err)
	}
	return NewLangChainClient(ProviderOpenAI, llm), nil
}

func NewAnthropicClient(apiKey, model string) (*LangChainClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("Anthropic API key required")
	}
	llm, err := anthropic.New(
		anthropic.WithToken(apiKey),
		anthropic.WithModel(model),
	)
	if err != nil {
		return nil, fmt.Errorf("create anthropic model: %w", err)
	}
	return NewLangChainClient(ProviderAnthropic, llm), nil
}

func (c *LangChainClient) ID() string { return c.id }

func (c *LangChainClient) Call(ctx context.Context, req entity.ProviderRequest) (string, error) {
	opts := []llms.CallOption{llms.WithTemperature(float64(req.Temperature))}
	if req.MaxTokens > 0 {
		opts = append(opts, llms.WithMaxTokens(req.MaxTokens))
	}

	resp, err := c.llm.GenerateContent(ctx, langChainMessages(req), opts...)
	if err != nil {
		return "", classify(c.id, err)
	}
	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Content) == "" {
		return "", emptyResponse(c.id)
	}
	return resp.Choices[0].Content, nil
}

func langChainMessages(req entity.ProviderRequest) []llms.MessageContent {
	msgs := make([]llms.MessageContent, 0, len(req.Messages)+1)
	if req.SystemInstruction != "" {
		msgs = append(msgs, llms.TextParts(llms.ChatMessageTypeSystem, req.SystemInstruction))
	}
	for _, m := range req.Messages {
		var role llms.ChatMessageType
		switch m.Role {
		case entity.RoleSystem:
			role = llms.ChatMessageTypeSystem
		case entity.RoleAssistant:
			role = llms.ChatMessageTypeAI
		default:
			role = llms.ChatMessageTypeHuman
		}
		msgs = append(msgs, llms.TextParts(role, m.Content))
	}
	return msgs
}
