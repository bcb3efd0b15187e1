// Package openai adapts the OpenAI chat completion API to llm.Client.
package openai

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sashabaranov/go-openai"

	"github.com/noah-isme/esg-compliance-api/pkg/llm"
)

const (
	providerName = "openai"
	defaultModel = "gpt-4o-mini"
)

const systemPrompt = "You are a meticulous ESG compliance analyst. Follow the requested output format exactly."

type chatCompleter interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// Client implements llm.Client on top of go-openai.
type Client struct {
	api   chatCompleter
	model string
}

// NewClient builds a client. baseURL may point at any OpenAI compatible endpoint.
func NewClient(apiKey, baseURL, model string) *Client {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = strings.TrimRight(baseURL, "/")
	}
	if model == "" {
		model = defaultModel
	}
	return &Client{api: openai.NewClientWithConfig(cfg), model: model}
}

// Provider names the upstream.
func (c *Client) Provider() string { return providerName }

// Complete sends the prompt as a single user turn.
func (c *Client) Complete(ctx context.Context, req llm.Request) (*llm.Response, error) {
	model := req.Model
	if model == "" {
		model = c.model
	}
	chatReq := openai.ChatCompletionRequest{
		Model:       model,
		Temperature: req.Temperature,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: req.Prompt},
		},
	}
	// reasoning models only accept max_completion_tokens
	if isReasoningModel(model) {
		chatReq.MaxCompletionTokens = req.MaxTokens
		chatReq.Temperature = 0
	} else {
		chatReq.MaxTokens = req.MaxTokens
	}

	resp, err := c.api.CreateChatCompletion(ctx, chatReq)
	if err != nil {
		return nil, translateError(err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("%s: %w", providerName, llm.ErrEmptyCompletion)
	}

	version := resp.Model
	if version == "" {
		version = model
	}
	return &llm.Response{
		Text:         resp.Choices[0].Message.Content,
		ModelVersion: version,
		TotalTokens:  resp.Usage.TotalTokens,
	}, nil
}

func isReasoningModel(model string) bool {
	for _, prefix := range []string{"o1", "o3", "o4", "gpt-5"} {
		if strings.HasPrefix(model, prefix) {
			return true
		}
	}
	return false
}

func translateError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) && apiErr.HTTPStatusCode > 0 {
		return fmt.Errorf("create chat completion: %w", &llm.HTTPStatusError{
			Provider:   providerName,
			StatusCode: apiErr.HTTPStatusCode,
			Message:    apiErr.Message,
		})
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode > 0 {
		return fmt.Errorf("create chat completion: %w", &llm.HTTPStatusError{
			Provider:   providerName,
			StatusCode: reqErr.HTTPStatusCode,
			Message:    reqErr.Error(),
		})
	}
	return fmt.Errorf("create chat completion: %w", err)
}
