package openai

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"deepresearch/internal/config"
	"deepresearch/internal/llm"
)

func TestChat_ReturnsAssistantMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "chatcmpl-1",
			"object": "chat.completion",
			"model": "gpt-5",
			"choices": [{"index": 0, "finish_reason": "stop", "message": {"role": "assistant", "content": "hi there"}}],
			"usage": {"prompt_tokens": 5, "completion_tokens": 2, "total_tokens": 7}
		}`))
	}))
	defer srv.Close()

	cli := New(config.OpenAIConfig{APIKey: "k", Model: "gpt-5", BaseURL: srv.URL}, srv.Client())
	msg, err := cli.Chat(t.Context(), []llm.Message{{Role: "user", Content: "hello"}}, nil, "")
	require.NoError(t, err)
	require.Equal(t, "assistant", msg.Role)
	require.Equal(t, "hi there", msg.Content)
}

func TestChat_SkipsToolCallsWithEmptyArguments(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "chatcmpl-2",
			"object": "chat.completion",
			"model": "gpt-5",
			"choices": [{"index": 0, "finish_reason": "tool_calls", "message": {
				"role": "assistant",
				"content": "",
				"tool_calls": [
					{"id": "c1", "type": "function", "function": {"name": "search", "arguments": "{}"}},
					{"id": "c2", "type": "function", "function": {"name": "search", "arguments": "{\"q\":\"go\"}"}}
				]
			}}],
			"usage": {"prompt_tokens": 5, "completion_tokens": 2, "total_tokens": 7}
		}`))
	}))
	defer srv.Close()

	cli := New(config.OpenAIConfig{APIKey: "k", Model: "gpt-5", BaseURL: srv.URL}, srv.Client())
	msg, err := cli.Chat(t.Context(), []llm.Message{{Role: "user", Content: "search go"}}, []llm.ToolSchema{{Name: "search"}}, "")
	require.NoError(t, err)
	require.Len(t, msg.ToolCalls, 1)
	require.Equal(t, "c2", msg.ToolCalls[0].ID)
}

func TestFirstNonEmpty(t *testing.T) {
	require.Equal(t, "b", firstNonEmpty("", "b", "c"))
	require.Equal(t, "", firstNonEmpty("", " "))
}
