// Package summarizer implements the summarizer (C5): turns one page's scraped
// content into a short narrative synthesis, grounded in conversation context.
// Never fails the loop — every error path falls back to the search snippet.
package summarizer

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"deepresearch/internal/llm"
	"deepresearch/internal/research/cache"
	"deepresearch/internal/research/types"
)

const systemPrompt = `You summarize one web page's scraped content for a research assistant.
Write 2-4 sentences capturing the facts relevant to the user's question. Do not
editorialize or add information not present in the content.`

// Summarizer condenses scraped page content into short summaries.
type Summarizer struct {
	provider llm.Provider
	cache    *cache.Cache
	model    string
}

// New builds a Summarizer.
func New(provider llm.Provider, c *cache.Cache, model string) *Summarizer {
	return &Summarizer{provider: provider, cache: c, model: model}
}

// Summarize returns a short synthesis of result.ScrapedContent in light of
// query and the conversation transcript so far. An empty ScrapedContent or
// any LLM failure falls back to the result's snippet — summarization never
// aborts the loop.
func (s *Summarizer) Summarize(ctx context.Context, query string, conversation string, result types.SearchResult) string {
	if strings.TrimSpace(result.ScrapedContent) == "" {
		return result.Snippet
	}

	key, err := cache.Key("summarize", struct {
		Query        string
		Conversation string
		Content      string
	}{query, conversation, result.ScrapedContent})
	if err != nil {
		return s.summarizeOnce(ctx, query, conversation, result)
	}

	summary, err := cache.GetOrSet(ctx, s.cache, key, func() (string, error) {
		out := s.summarizeOnce(ctx, query, conversation, result)
		if out == result.Snippet && out != "" {
			return "", fmt.Errorf("summarize: fell back to snippet, not cache-worthy")
		}
		return out, nil
	})
	if err != nil || summary == "" {
		return result.Snippet
	}
	return summary
}

func (s *Summarizer) summarizeOnce(ctx context.Context, query string, conversation string, result types.SearchResult) string {
	msgs := []llm.Message{
		{Role: "system", Content: systemPrompt},
		{Role: "user", Content: fmt.Sprintf(
			"Conversation so far:\n%s\n\nCurrent query: %s\n\nPage title: %s\nPage URL: %s\n\nScraped content:\n%s",
			conversation, query, result.Title, result.URL, result.ScrapedContent,
		)},
	}
	resp, err := s.provider.Chat(ctx, msgs, nil, s.model)
	if err != nil {
		log.Warn().Err(err).Str("url", result.URL).Msg("summarizer_llm_failed_fallback_to_snippet")
		return result.Snippet
	}
	content := strings.TrimSpace(resp.Content)
	if content == "" {
		return result.Snippet
	}
	return content
}
