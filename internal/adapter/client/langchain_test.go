package client

import (
	"context"
	"errors"
	"testing"

	"coingate/internal/domain/entity"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"
)

type fakeModel struct {
	reply string
	err   error

	messages []llms.MessageContent
	opts     llms.CallOptions
}

func (f *fakeModel) GenerateContent(_ context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	f.messages = messages
	for _, o := range options {
		o(&f.opts)
	}
	if f.err != nil {
		return nil, f.err
	}
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: f.reply}}}, nil
}

func (f *fakeModel) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, f, prompt, options...)
}

func TestLangChainClientCall(t *testing.T) {
	m := &fakeModel{reply: "Consider data analysis."}
	c := NewLangChainClient(ProviderOpenAI, m)

	text, err := c.Call(context.Background(), testRequest())
	require.NoError(t, err)
	assert.Equal(t, "Consider data analysis.", text)
	assert.Equal(t, ProviderOpenAI, c.ID())

	assert.Equal(t, 256, m.opts.MaxTokens)
	assert.InDelta(t, 0.5, m.opts.Temperature, 1e-6)

	require.Len(t, m.messages, 3)
	assert.Equal(t, llms.ChatMessageTypeSystem, m.messages[0].Role)
	assert.Equal(t, llms.ChatMessageTypeAI, m.messages[1].Role)
	assert.Equal(t, llms.ChatMessageTypeHuman, m.messages[2].Role)
	assert.Equal(t, llms.TextContent{Text: "Building things"}, m.messages[2].Parts[0])
}

func TestLangChainClientFailures(t *testing.T) {
	_, err := NewLangChainClient(ProviderAnthropic, &fakeModel{reply: " "}).Call(context.Background(), testRequest())
	var pe *entity.ProviderError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, entity.FailureEmptyResponse, pe.Reason)

	_, err = NewLangChainClient(ProviderAnthropic, &fakeModel{err: errors.New("API returned unexpected status code: 429")}).Call(context.Background(), testRequest())
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, entity.FailureRateLimited, pe.Reason)
	assert.Equal(t, ProviderAnthropic, pe.Provider)
}

func TestNewClientsRequireKeys(t *testing.T) {
	_, err := NewOpenAIClient("", "gpt-4o-mini")
	assert.Error(t, err)
	_, err = NewAnthropicClient("", "claude-3-5-haiku-latest")
	assert.Error(t, err)
}
