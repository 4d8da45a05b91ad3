// Package answerer implements the answerer (C8): the final stage that
// streams a markdown-formatted answer citing sources found during research.
package answerer

import (
	"context"
	"fmt"

	"deepresearch/internal/llm"
)

const systemPromptTemplate = `You are the final-answer stage of a research assistant. Write a complete,
well-organized answer to the user's question using the research findings
below. Cite sources inline as markdown links, e.g. [source title](url).
%s`

const completeNote = "The evaluator judged the research sufficient: be thorough and do not suggest further research."
const stepCappedNote = "The research step limit was reached before the evaluator judged the research complete; note that information may be incomplete and mention any gaps or caveats the evaluator flagged."

// Answerer streams the final answer text.
type Answerer struct {
	provider llm.Provider
	model    string
}

// New builds an Answerer.
func New(provider llm.Provider, model string) *Answerer {
	return &Answerer{provider: provider, model: model}
}

// Answer streams the answer text via h.OnDelta. isFinal is true when the
// loop driver was forced to answer by the step cap (or by a planner failure
// after some history exists) rather than by the evaluator's own "answer"
// decision, and selects the caveat-bearing framing.
func (a *Answerer) Answer(ctx context.Context, messageHistory, searchHistory, feedback string, isFinal bool, h llm.StreamHandler) error {
	note := completeNote
	if isFinal {
		note = stepCappedNote
	}
	systemPrompt := fmt.Sprintf(systemPromptTemplate, note)

	msgs := []llm.Message{
		{Role: "system", Content: systemPrompt},
		{Role: "user", Content: fmt.Sprintf("Conversation:\n%s\n\nResearch findings:\n%s\n\nEvaluator feedback: %s",
			messageHistory, searchHistory, feedback)},
	}
	return a.provider.ChatStream(ctx, msgs, nil, a.model, h)
}
