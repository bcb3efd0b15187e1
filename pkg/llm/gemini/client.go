// Package gemini adapts the Google GenAI API to llm.Client.
package gemini

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/genai"

	"github.com/noah-isme/esg-compliance-api/pkg/llm"
)

const (
	providerName = "gemini"
	defaultModel = "gemini-2.0-flash"
)

type generator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// Client implements llm.Client on top of google.golang.org/genai.
type Client struct {
	models generator
	model  string
}

// NewClient creates a Gemini API client.
func NewClient(ctx context.Context, apiKey, model string) (*Client, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini api key is required")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	if model == "" {
		model = defaultModel
	}
	return &Client{models: client.Models, model: model}, nil
}

// Provider names the upstream.
func (c *Client) Provider() string { return providerName }

// Complete sends the prompt as a single user content.
func (c *Client) Complete(ctx context.Context, req llm.Request) (*llm.Response, error) {
	model := req.Model
	if model == "" {
		model = c.model
	}
	cfg := &genai.GenerateContentConfig{
		Temperature: genai.Ptr(req.Temperature),
	}
	if req.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(req.MaxTokens)
	}

	resp, err := c.models.GenerateContent(ctx, model, genai.Text(req.Prompt), cfg)
	if err != nil {
		return nil, translateError(err)
	}
	text := resp.Text()
	if text == "" {
		return nil, fmt.Errorf("%s: %w", providerName, llm.ErrEmptyCompletion)
	}

	out := &llm.Response{Text: text, ModelVersion: resp.ModelVersion}
	if out.ModelVersion == "" {
		out.ModelVersion = model
	}
	if resp.UsageMetadata != nil {
		out.TotalTokens = int(resp.UsageMetadata.TotalTokenCount)
	}
	return out, nil
}

func translateError(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) && apiErr.Code > 0 {
		return fmt.Errorf("generate content: %w", &llm.HTTPStatusError{
			Provider:   providerName,
			StatusCode: apiErr.Code,
			Message:    apiErr.Message,
		})
	}
	return fmt.Errorf("generate content: %w", err)
}
