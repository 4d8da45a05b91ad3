package anthropic

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
			"id": "msg_1",
			"type": "message",
			"role": "assistant",
			"model": "claude-3-7-sonnet-latest",
			"content": [{"type": "text", "text": "hi there"}],
			"stop_reason": "end_turn",
			"usage": {"input_tokens": 5, "output_tokens": 2}
		}`))
	}))
	defer srv.Close()

	client := New(config.AnthropicConfig{APIKey: "k", Model: "claude-3-7-sonnet-latest", BaseURL: srv.URL}, srv.Client())
	msg, err := client.Chat(t.Context(), []llm.Message{{Role: "user", Content: "hello"}}, nil, "")
	require.NoError(t, err)
	require.Equal(t, "assistant", msg.Role)
	require.Equal(t, "hi there", msg.Content)
}

func TestAdaptMessages_RejectsUnknownRole(t *testing.T) {
	_, _, err := adaptMessages([]llm.Message{{Role: "weird", Content: "x"}})
	require.Error(t, err)
}

func TestAdaptMessages_SplitsSystemPrompt(t *testing.T) {
	system, converted, err := adaptMessages([]llm.Message{
		{Role: "system", Content: "be nice"},
		{Role: "user", Content: "hi"},
	})
	require.NoError(t, err)
	require.Len(t, system, 1)
	require.Len(t, converted, 1)
}

func TestToolBuffer_AccumulatesPartialJSON(t *testing.T) {
	tb := &toolBuffer{name: "search", id: "call-1"}
	tb.appendInitial(nil)
	tb.appendPartial(`{"q":`)
	tb.appendPartial(`"go"}`)
	tc := tb.toToolCall()
	require.Equal(t, "search", tc.Name)
	require.JSONEq(t, `{"q":"go"}`, string(tc.Args))
}
