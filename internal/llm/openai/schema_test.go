package openai

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"deepresearch/internal/llm"
)

func TestAdaptMessages_AssistantWithToolCalls(t *testing.T) {
	msgs := []llm.Message{
		{Role: "system", Content: "be terse"},
		{Role: "user", Content: "search for go"},
		{Role: "assistant", ToolCalls: []llm.ToolCall{{ID: "c1", Name: "search", Args: json.RawMessage(`{"q":"go"}`)}}},
		{Role: "tool", ToolID: "c1", Content: `{"results":[]}`},
	}
	out := AdaptMessages(msgs)
	require.Len(t, out, 4)
	require.NotNil(t, out[2].OfAssistant)
	require.Len(t, out[2].OfAssistant.ToolCalls, 1)
}

func TestAdaptSchemas(t *testing.T) {
	schemas := []llm.ToolSchema{{Name: "search", Description: "search the web", Parameters: map[string]any{"type": "object"}}}
	out := AdaptSchemas(schemas)
	require.Len(t, out, 1)
}
