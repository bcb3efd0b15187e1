package openai

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/esg-compliance-api/pkg/llm"
)

type completerStub struct {
	req  openai.ChatCompletionRequest
	resp openai.ChatCompletionResponse
	err  error
}

func (s *completerStub) CreateChatCompletion(_ context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	s.req = req
	return s.resp, s.err
}

func TestCompleteMapsResponse(t *testing.T) {
	stub := &completerStub{resp: openai.ChatCompletionResponse{
		Model:   "gpt-4o-mini-2024-07-18",
		Choices: []openai.ChatCompletionChoice{{Message: openai.ChatCompletionMessage{Content: "## Overall Score"}}},
		Usage:   openai.Usage{TotalTokens: 321},
	}}
	client := &Client{api: stub, model: "gpt-4o-mini"}

	resp, err := client.Complete(context.Background(), llm.Request{Prompt: "assess", MaxTokens: 800, Temperature: 0.2})
	require.NoError(t, err)
	assert.Equal(t, "## Overall Score", resp.Text)
	assert.Equal(t, "gpt-4o-mini-2024-07-18", resp.ModelVersion)
	assert.Equal(t, 321, resp.TotalTokens)

	assert.Equal(t, 800, stub.req.MaxTokens)
	assert.Zero(t, stub.req.MaxCompletionTokens)
	require.Len(t, stub.req.Messages, 2)
	assert.Equal(t, "assess", stub.req.Messages[1].Content)
}

func TestCompleteReasoningModelUsesCompletionTokens(t *testing.T) {
	stub := &completerStub{resp: openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{{Message: openai.ChatCompletionMessage{Content: "ok"}}},
	}}
	client := &Client{api: stub, model: "o3-mini"}

	resp, err := client.Complete(context.Background(), llm.Request{Prompt: "assess", MaxTokens: 500})
	require.NoError(t, err)
	assert.Equal(t, "o3-mini", resp.ModelVersion)
	assert.Equal(t, 500, stub.req.MaxCompletionTokens)
	assert.Zero(t, stub.req.MaxTokens)
}

func TestCompleteTranslatesStatusErrors(t *testing.T) {
	stub := &completerStub{err: &openai.APIError{HTTPStatusCode: http.StatusTooManyRequests, Message: "slow down"}}
	client := &Client{api: stub, model: "gpt-4o-mini"}

	_, err := client.Complete(context.Background(), llm.Request{Prompt: "assess"})
	var statusErr *llm.HTTPStatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, http.StatusTooManyRequests, statusErr.StatusCode)
	assert.True(t, llm.Classify(err).Retryable)
}

func TestCompleteEmptyChoices(t *testing.T) {
	client := &Client{api: &completerStub{}, model: "gpt-4o-mini"}
	_, err := client.Complete(context.Background(), llm.Request{Prompt: "assess"})
	require.ErrorIs(t, err, llm.ErrEmptyCompletion)
}
