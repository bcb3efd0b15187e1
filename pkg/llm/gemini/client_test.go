package gemini

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"

	"github.com/noah-isme/esg-compliance-api/pkg/llm"
)

type generatorStub struct {
	model string
	cfg   *genai.GenerateContentConfig
	resp  *genai.GenerateContentResponse
	err   error
}

func (s *generatorStub) GenerateContent(_ context.Context, model string, _ []*genai.Content, cfg *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	s.model = model
	s.cfg = cfg
	return s.resp, s.err
}

func textResponse(text string) *genai.GenerateContentResponse {
	return &genai.GenerateContentResponse{
		ModelVersion: "gemini-2.0-flash-001",
		Candidates: []*genai.Candidate{{
			Content: &genai.Content{Parts: []*genai.Part{{Text: text}}, Role: genai.RoleModel},
		}},
		UsageMetadata: &genai.GenerateContentResponseUsageMetadata{TotalTokenCount: 42},
	}
}

func TestCompleteMapsResponse(t *testing.T) {
	stub := &generatorStub{resp: textResponse("Score: 0.82")}
	client := &Client{models: stub, model: defaultModel}

	resp, err := client.Complete(context.Background(), llm.Request{Prompt: "assess", MaxTokens: 1024, Temperature: 0.1})
	require.NoError(t, err)
	assert.Equal(t, "Score: 0.82", resp.Text)
	assert.Equal(t, "gemini-2.0-flash-001", resp.ModelVersion)
	assert.Equal(t, 42, resp.TotalTokens)

	assert.Equal(t, defaultModel, stub.model)
	assert.Equal(t, int32(1024), stub.cfg.MaxOutputTokens)
	require.NotNil(t, stub.cfg.Temperature)
	assert.InDelta(t, 0.1, *stub.cfg.Temperature, 1e-6)
}

func TestCompleteTranslatesAPIError(t *testing.T) {
	stub := &generatorStub{err: genai.APIError{Code: http.StatusServiceUnavailable, Message: "overloaded"}}
	client := &Client{models: stub, model: defaultModel}

	_, err := client.Complete(context.Background(), llm.Request{Prompt: "assess"})
	var statusErr *llm.HTTPStatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, http.StatusServiceUnavailable, statusErr.StatusCode)
	assert.True(t, llm.Classify(err).Retryable)
}

func TestCompleteEmptyText(t *testing.T) {
	client := &Client{models: &generatorStub{resp: &genai.GenerateContentResponse{}}, model: defaultModel}
	_, err := client.Complete(context.Background(), llm.Request{Prompt: "assess"})
	require.ErrorIs(t, err, llm.ErrEmptyCompletion)
}
