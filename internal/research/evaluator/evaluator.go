// Package evaluator implements the evaluator (C7): decides whether the
// current round of search results is sufficient to answer, or whether
// another round is needed, forcing a single structured tool call.
package evaluator

import (
	"context"
	"encoding/json"
	"fmt"

	"deepresearch/internal/llm"
	"deepresearch/internal/research/types"
)

const toolName = "emit_action"

const systemPrompt = `You are the evaluation stage of a research assistant. Given the conversation
and everything found so far, decide whether to "continue" researching or
"answer" now. Call emit_action with:
- type: "continue" or "answer"
- title: a short label for this decision
- reasoning: why you made this decision
- feedback: guidance for the next step (what to search for next, or caveats
  to mention in the final answer)
All four fields are required and must be non-empty.`

var tool = llm.ToolSchema{
	Name:        toolName,
	Description: "Emit the evaluator's continue/answer decision.",
	Parameters: map[string]any{
		"type": "object",
		"properties": map[string]any{
			"type":      map[string]any{"type": "string", "enum": []string{"continue", "answer"}},
			"title":     map[string]any{"type": "string"},
			"reasoning": map[string]any{"type": "string"},
			"feedback":  map[string]any{"type": "string"},
		},
		"required": []string{"type", "title", "reasoning", "feedback"},
	},
}

// Evaluator decides whether to continue researching or answer.
type Evaluator struct {
	provider llm.Provider
	model    string
}

// New builds an Evaluator.
func New(provider llm.Provider, model string) *Evaluator {
	return &Evaluator{provider: provider, model: model}
}

// Evaluate produces an Action. A single retry is attempted if the model's
// output fails schema validation; if that also fails, Evaluate returns an
// error so the loop driver's fatalPlannerError handling takes over: it emits
// a terminal stream.Error and, if any search history already exists,
// best-effort streams a final answer from it rather than silently presenting
// a degraded answer as a normal decision.
// Evaluate does not itself enforce the step cap — the loop driver forces a
// final answer when maxSteps is reached regardless of what Evaluate returns.
func (e *Evaluator) Evaluate(ctx context.Context, messageHistory, searchHistory string, step, maxSteps int) (types.Action, error) {
	action, err := e.attempt(ctx, messageHistory, searchHistory, step, maxSteps, false)
	if err == nil && action.Valid() {
		return action, nil
	}

	action, err = e.attempt(ctx, messageHistory, searchHistory, step, maxSteps, true)
	if err == nil && action.Valid() {
		return action, nil
	}

	return types.Action{}, fmt.Errorf("evaluator: output failed schema validation twice")
}

func (e *Evaluator) attempt(ctx context.Context, messageHistory, searchHistory string, step, maxSteps int, corrective bool) (types.Action, error) {
	prompt := fmt.Sprintf("Conversation:\n%s\n\nFindings so far:\n%s\n\nStep %d of %d.",
		messageHistory, searchHistory, step+1, maxSteps)
	if corrective {
		prompt += "\n\nYour previous response did not satisfy the schema (type, title, reasoning, feedback all required and non-empty). Try again."
	}

	msgs := []llm.Message{
		{Role: "system", Content: systemPrompt},
		{Role: "user", Content: prompt},
	}
	resp, err := e.provider.Chat(ctx, msgs, []llm.ToolSchema{tool}, e.model)
	if err != nil {
		return types.Action{}, err
	}

	for _, tc := range resp.ToolCalls {
		if tc.Name != toolName {
			continue
		}
		var decoded struct {
			Type      string `json:"type"`
			Title     string `json:"title"`
			Reasoning string `json:"reasoning"`
			Feedback  string `json:"feedback"`
		}
		if err := json.Unmarshal(tc.Args, &decoded); err != nil {
			return types.Action{}, fmt.Errorf("decode action: %w", err)
		}
		return types.Action{
			Type:      types.ActionType(decoded.Type),
			Title:     decoded.Title,
			Reasoning: decoded.Reasoning,
			Feedback:  decoded.Feedback,
		}, nil
	}
	return types.Action{}, fmt.Errorf("model did not call %s", toolName)
}
