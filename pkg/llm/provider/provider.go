// Package provider builds the configured completion client.
package provider

import (
	"context"
	"fmt"

	"github.com/noah-isme/esg-compliance-api/pkg/config"
	"github.com/noah-isme/esg-compliance-api/pkg/llm"
	"github.com/noah-isme/esg-compliance-api/pkg/llm/gemini"
	"github.com/noah-isme/esg-compliance-api/pkg/llm/openai"
)

// New returns a rate limited client for cfg.Provider.
func New(ctx context.Context, cfg config.LLMConfig) (llm.Client, error) {
	var client llm.Client
	switch cfg.Provider {
	case config.ProviderOpenAI, "":
		if cfg.APIKey == "" && cfg.BaseURL == "" {
			return nil, fmt.Errorf("openai provider requires LLM_API_KEY or LLM_BASE_URL")
		}
		client = openai.NewClient(cfg.APIKey, cfg.BaseURL, cfg.Model)
	case config.ProviderGemini:
		c, err := gemini.NewClient(ctx, cfg.APIKey, cfg.Model)
		if err != nil {
			return nil, err
		}
		client = c
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
	}
	return llm.NewRateLimited(client, cfg.RequestsPerS, cfg.Burst), nil
}
