package client

import (
	"context"
	"strings"

	"coingate/internal/domain/entity"
	"coingate/internal/domain/repository"

	"google.golang.org/genai"
)

const ProviderGemini = "gemini"

type GeminiClient struct {
	client *genai.Client
	model  string
}

var _ repository.Provider = (*GeminiClient)(nil)

func NewGeminiClientFromClient(c *genai.Client, model string) *GeminiClient {
	return &GeminiClient{
		client: c,
		model:  model,
	}
}

func (g *GeminiClient) ID() string { return ProviderGemini }

func (g *GeminiClient) Call(ctx context.Context, req entity.ProviderRequest) (string, error) {
	contents, system := geminiContents(req)

	temp := req.Temperature
	cfg := &genai.GenerateContentConfig{
		Temperature: &temp,
	}
	if req.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(req.MaxTokens)
	}
	if system != "" {
		cfg.SystemInstruction = genai.NewContentFromText(system, genai.RoleUser)
	}

	result, err := g.client.Models.GenerateContent(ctx, g.model, contents, cfg)
	if err != nil {
		return "", classify(ProviderGemini, err)
	}
	text := result.Text()
	if strings.TrimSpace(text) == "" {
		return "", emptyResponse(ProviderGemini)
	}
	return text, nil
}

// geminiContents renames assistant turns to "model" and folds system turns
// into the system instruction, which is the only place Gemini accepts them.
func geminiContents(req entity.ProviderRequest) ([]*genai.Content, string) {
	system := []string{}
	if req.SystemInstruction != "" {
		system = append(system, req.SystemInstruction)
	}
	contents := make([]*genai.Content, 0, len(req.Messages))
	for _, m := range req.Messages {
		switch m.Role {
		case entity.RoleSystem:
			system = append(system, m.Content)
		case entity.RoleAssistant:
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleModel))
		default:
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleUser))
		}
	}
	return contents, strings.Join(system, "\n\n")
}
