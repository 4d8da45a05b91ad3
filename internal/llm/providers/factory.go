package providers

import (
	"fmt"
	"net/http"

	"deepresearch/internal/config"
	"deepresearch/internal/llm"
	"deepresearch/internal/llm/anthropic"
	openaillm "deepresearch/internal/llm/openai"
)

// Build constructs an llm.Provider from config.Config.LLMClient.Provider.
func Build(cfg config.Config, httpClient *http.Client) (llm.Provider, error) {
	switch cfg.LLMClient.Provider {
	case "", "openai":
		return openaillm.New(cfg.LLMClient.OpenAI, httpClient), nil
	case "anthropic":
		return anthropic.New(cfg.LLMClient.Anthropic, httpClient), nil
	default:
		return nil, fmt.Errorf("unsupported llm provider: %s", cfg.LLMClient.Provider)
	}
}
