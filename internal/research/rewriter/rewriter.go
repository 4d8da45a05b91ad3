// Package rewriter implements the query rewriter (C6): turns the
// conversation plus prior search history into a query plan, forcing the
// model to call a single tool so its output decodes deterministically.
package rewriter

import (
	"context"
	"encoding/json"
	"fmt"

	"deepresearch/internal/llm"
	"deepresearch/internal/research/types"
)

const toolName = "emit_query_plan"

const systemPrompt = `You are the query-planning stage of a research assistant. Given the
conversation, any prior search history, and feedback from the previous
evaluation step, decide what to search for next. Call emit_query_plan with a
short "plan" explaining your reasoning and 3 to 5 distinct, specific search
queries in "queries".`

var tool = llm.ToolSchema{
	Name:        toolName,
	Description: "Emit the next round's search plan and queries.",
	Parameters: map[string]any{
		"type": "object",
		"properties": map[string]any{
			"plan": map[string]any{"type": "string"},
			"queries": map[string]any{
				"type":     "array",
				"items":    map[string]any{"type": "string"},
				"minItems": 3,
				"maxItems": 5,
			},
		},
		"required": []string{"plan", "queries"},
	},
}

// Rewriter turns conversation + history into a QueryPlan.
type Rewriter struct {
	provider llm.Provider
	model    string
}

// New builds a Rewriter.
func New(provider llm.Provider, model string) *Rewriter {
	return &Rewriter{provider: provider, model: model}
}

// Rewrite produces a QueryPlan. If the model's output fails validation once,
// a single retry is attempted with a corrective instruction; if that also
// fails, the rewriter falls back to a single-query plan built from the last
// user message so the loop can still make forward progress.
func (r *Rewriter) Rewrite(ctx context.Context, messageHistory, searchHistory, feedback, lastUserMessage string) (types.QueryPlan, error) {
	plan, err := r.attempt(ctx, messageHistory, searchHistory, feedback, false)
	if err == nil && plan.Valid() {
		return plan, nil
	}

	plan, err = r.attempt(ctx, messageHistory, searchHistory, feedback, true)
	if err == nil && plan.Valid() {
		return plan, nil
	}

	if lastUserMessage == "" {
		lastUserMessage = "general research"
	}
	return types.QueryPlan{
		Plan:    "fallback: querying directly from the last message after planner output failed validation",
		Queries: []string{lastUserMessage},
	}, nil
}

func (r *Rewriter) attempt(ctx context.Context, messageHistory, searchHistory, feedback string, corrective bool) (types.QueryPlan, error) {
	prompt := fmt.Sprintf("Conversation:\n%s\n\nSearch history so far:\n%s\n\nPrevious feedback: %s",
		messageHistory, searchHistory, feedback)
	if corrective {
		prompt += "\n\nYour previous response did not satisfy the schema (3-5 queries, non-empty plan). Try again."
	}

	msgs := []llm.Message{
		{Role: "system", Content: systemPrompt},
		{Role: "user", Content: prompt},
	}
	resp, err := r.provider.Chat(ctx, msgs, []llm.ToolSchema{tool}, r.model)
	if err != nil {
		return types.QueryPlan{}, err
	}

	for _, tc := range resp.ToolCalls {
		if tc.Name != toolName {
			continue
		}
		var decoded struct {
			Plan    string   `json:"plan"`
			Queries []string `json:"queries"`
		}
		if err := json.Unmarshal(tc.Args, &decoded); err != nil {
			return types.QueryPlan{}, fmt.Errorf("decode query plan: %w", err)
		}
		return types.QueryPlan{Plan: decoded.Plan, Queries: decoded.Queries}, nil
	}
	return types.QueryPlan{}, fmt.Errorf("model did not call %s", toolName)
}
