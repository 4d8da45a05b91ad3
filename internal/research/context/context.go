// Package context implements SystemContext (C10): the per-request, single-writer
// state the loop driver threads through each stage of one research loop.
package context

import (
	"fmt"
	"strings"

	"deepresearch/internal/research/types"
)

// SystemContext is created once per request, mutated only by the loop driver,
// and read by the LLM-backed stages as a synchronous snapshot. It is never
// shared across requests and carries no synchronization of its own.
type SystemContext struct {
	LocationContext string
	Messages        []types.Message

	searchHistory []types.SearchHistoryEntry
	feedback      string
	step          int
}

// New creates a SystemContext for one request.
func New(messages []types.Message, locationContext string) *SystemContext {
	return &SystemContext{
		Messages:        messages,
		LocationContext: locationContext,
	}
}

// CurrentStep returns the 0-indexed step counter.
func (c *SystemContext) CurrentStep() int { return c.step }

// LastFeedback returns the most recent evaluator feedback, or "" before the
// first evaluation.
func (c *SystemContext) LastFeedback() string { return c.feedback }

// SearchHistory returns the append-only history of settled steps.
func (c *SystemContext) SearchHistory() []types.SearchHistoryEntry {
	return c.searchHistory
}

// IncrementStep advances the step counter. Callers must check against
// maxSteps before calling; the context does not enforce the cap itself.
func (c *SystemContext) IncrementStep() { c.step++ }

// RecordFeedback overwrites the last feedback; feedback is never appended.
func (c *SystemContext) RecordFeedback(feedback string) { c.feedback = feedback }

// RecordSearch appends a settled query's history entry, deduplicating any URL
// that already appears earlier in the loop's history (first occurrence
// wins), and returns the entry as actually recorded (post-dedup) so the
// caller can build the SourcesFound event from the same data.
func (c *SystemContext) RecordSearch(entry types.SearchHistoryEntry) types.SearchHistoryEntry {
	seen := make(map[string]struct{})
	for _, prior := range c.searchHistory {
		for _, r := range prior.Results {
			seen[r.URL] = struct{}{}
		}
	}
	deduped := entry.Results[:0:0]
	for _, r := range entry.Results {
		if _, dup := seen[r.URL]; dup {
			continue
		}
		deduped = append(deduped, r)
		seen[r.URL] = struct{}{}
	}
	entry.Results = deduped
	c.searchHistory = append(c.searchHistory, entry)
	return entry
}

// LocationHints returns the opaque free-form origin-hint string, or "" if unset.
func (c *SystemContext) LocationHints() string { return c.LocationContext }

// MessageHistoryText formats the message transcript for prompt inclusion.
func (c *SystemContext) MessageHistoryText() string {
	var b strings.Builder
	for _, m := range c.Messages {
		fmt.Fprintf(&b, "[%s] %s\n", m.Role, m.Content)
	}
	return b.String()
}

// SearchHistoryText formats the accumulated search history for prompt
// inclusion: one "## Query:" block per entry, one "###" line per result.
func (c *SystemContext) SearchHistoryText() string {
	var b strings.Builder
	for _, entry := range c.searchHistory {
		fmt.Fprintf(&b, "## Query: %s\n", entry.Query)
		for _, r := range entry.Results {
			content := r.Summary
			if content == "" {
				content = r.ScrapedContent
			}
			fmt.Fprintf(&b, "### %s - %s %s %s\n<content_summary>%s</content_summary>\n", r.Date, r.Title, r.URL, r.Snippet, content)
		}
	}
	return b.String()
}

// maxCompressedContentChars bounds a compressed entry's per-result content
// when CompressedSearchHistoryText has to shrink older rounds to fit budget.
const maxCompressedContentChars = 400

// CompressedSearchHistoryText is SearchHistoryText shrunk when it exceeds
// maxChars. If the full text already fits, it is returned unchanged. Otherwise
// every round except the most recent has its per-result content truncated to
// maxCompressedContentChars before reformatting; nothing else is cut, so the
// result can still be longer than maxChars. This trades detail on earlier
// rounds (already reflected in the evaluator's feedback and the model's own
// running summary) for keeping the latest round's findings intact, since
// those are what the final answer draws on most.
func (c *SystemContext) CompressedSearchHistoryText(maxChars int) string {
	full := c.SearchHistoryText()
	if maxChars <= 0 || len(full) <= maxChars {
		return full
	}

	var b strings.Builder
	lastStep := len(c.searchHistory) - 1
	for i, entry := range c.searchHistory {
		fmt.Fprintf(&b, "## Query: %s\n", entry.Query)
		for _, r := range entry.Results {
			content := r.Summary
			if content == "" {
				content = r.ScrapedContent
			}
			if i != lastStep && len(content) > maxCompressedContentChars {
				content = content[:maxCompressedContentChars] + "..."
			}
			fmt.Fprintf(&b, "### %s - %s %s %s\n<content_summary>%s</content_summary>\n", r.Date, r.Title, r.URL, r.Snippet, content)
		}
	}
	return b.String()
}

// LastUserMessage returns the content of the most recent user-role message,
// or "" if none exists.
func (c *SystemContext) LastUserMessage() string {
	for i := len(c.Messages) - 1; i >= 0; i-- {
		if c.Messages[i].Role == types.RoleUser {
			return c.Messages[i].Content
		}
	}
	return ""
}
