package evaluator

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"deepresearch/internal/llm"
	"deepresearch/internal/research/types"
)

type fakeProvider struct {
	calls     int
	responses []llm.Message
}

func (f *fakeProvider) Chat(ctx context.Context, msgs []llm.Message, tools []llm.ToolSchema, model string) (llm.Message, error) {
	resp := f.responses[f.calls]
	if f.calls < len(f.responses)-1 {
		f.calls++
	}
	return resp, nil
}

func (f *fakeProvider) ChatStream(ctx context.Context, msgs []llm.Message, tools []llm.ToolSchema, model string, h llm.StreamHandler) error {
	return nil
}

func toolCallMsg(typ, title, reasoning, feedback string) llm.Message {
	args, _ := json.Marshal(struct {
		Type      string `json:"type"`
		Title     string `json:"title"`
		Reasoning string `json:"reasoning"`
		Feedback  string `json:"feedback"`
	}{typ, title, reasoning, feedback})
	return llm.Message{Role: "assistant", ToolCalls: []llm.ToolCall{{Name: toolName, Args: args}}}
}

func TestEvaluate_ValidContinueAction(t *testing.T) {
	p := &fakeProvider{responses: []llm.Message{toolCallMsg("continue", "need more", "insufficient coverage", "search X next")}}
	e := New(p, "test-model")
	action, err := e.Evaluate(context.Background(), "", "", 0, 5)
	require.NoError(t, err)
	require.Equal(t, types.ActionContinue, action.Type)
}

func TestEvaluate_InvalidTwiceReturnsError(t *testing.T) {
	p := &fakeProvider{responses: []llm.Message{
		toolCallMsg("continue", "", "", ""),
		toolCallMsg("continue", "", "", ""),
	}}
	e := New(p, "test-model")
	_, err := e.Evaluate(context.Background(), "", "", 0, 5)
	require.Error(t, err)
}
