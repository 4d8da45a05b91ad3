// Package types holds the data model shared by every research stage (C3-C12
// in the design). It has no dependencies on other internal/research packages
// so it can be imported everywhere without cycles.
package types

import "net/url"

// SearchHit is a single ranked result returned by the search adapter (C3).
type SearchHit struct {
	Title   string
	URL     string
	Snippet string
	Date    string
}

// SearchResult augments a SearchHit with scrape/summarize output (C4, C5).
// When ScrapedContent is empty (or summarization fails), the summarizer
// returns the snippet, so Summary then holds the same text as Snippet.
type SearchResult struct {
	Title          string
	URL            string
	Snippet        string
	Date           string
	ScrapedContent string
	Summary        string
}

// SearchHistoryEntry is the per-query record appended to SystemContext after
// one step's fan-out has settled.
type SearchHistoryEntry struct {
	Query   string
	Results []SearchResult
}

// ActionType discriminates the two Action variants the evaluator can emit.
type ActionType string

const (
	ActionContinue ActionType = "continue"
	ActionAnswer   ActionType = "answer"
)

// Action is the evaluator's decision (C7). Feedback is mandatory for both
// variants: it carries guidance for the next iteration (Continue) or
// qualifying caveats (Answer).
type Action struct {
	Type      ActionType
	Title     string
	Reasoning string
	Feedback  string
}

// Valid reports whether the action satisfies the schema the evaluator must
// honor: a known type plus non-empty title/reasoning/feedback.
func (a Action) Valid() bool {
	if a.Type != ActionContinue && a.Type != ActionAnswer {
		return false
	}
	return a.Title != "" && a.Reasoning != "" && a.Feedback != ""
}

// QueryPlan is the query rewriter's output (C6). Queries must number 3..5.
type QueryPlan struct {
	Plan    string
	Queries []string
}

// Valid reports whether Queries satisfies the [3,5] cardinality constraint.
func (p QueryPlan) Valid() bool {
	return len(p.Queries) >= 3 && len(p.Queries) <= 5
}

// MessageRole enumerates the roles a chat Message can take.
type MessageRole string

const (
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
	RoleSystem    MessageRole = "system"
)

// Message is one turn of the chat transcript handed to the loop by the HTTP layer.
type Message struct {
	ID      string
	Role    MessageRole
	Content string
}

// GuardrailClassification is the output of the pre-loop classifier (C9).
type GuardrailClassification string

const (
	GuardrailAllow  GuardrailClassification = "allow"
	GuardrailRefuse GuardrailClassification = "refuse"
)

// GuardrailVerdict is the guardrail's decision plus optional rationale.
type GuardrailVerdict struct {
	Classification GuardrailClassification
	Reason         string
}

// FaviconURL derives a best-effort favicon URL from a page URL's hostname,
// used when assembling the SourcesFound stream event. This is a plain
// hostname-relative guess, not a fetch-and-verify: callers render it as an
// <img> src and accept a broken image if the host doesn't serve one there.
func FaviconURL(pageURL string) string {
	u, err := url.Parse(pageURL)
	if err != nil || u.Hostname() == "" {
		return ""
	}
	return "https://" + u.Hostname() + "/favicon.ico"
}
