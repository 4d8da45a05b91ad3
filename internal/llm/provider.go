package llm

import (
	"context"
	"encoding/json"
)

// ToolCall is a single function-call the model asked the caller to perform.
// The rewriter, evaluator and guardrail (C6, C7, C9) use forced single-tool-call responses as their
// structured-decoding mechanism: Args holds the raw JSON arguments.
type ToolCall struct {
	Name string
	Args json.RawMessage
	ID   string
}

type Message struct {
	Role    string // "system" | "user" | "assistant" | "tool"
	Content string
	ToolID  string
	// ToolCalls are only set on assistant messages.
	ToolCalls []ToolCall
}

type ToolSchema struct {
	Name        string
	Description string
	Parameters  map[string]any
}

type StreamHandler interface {
	OnDelta(content string)
	OnToolCall(tc ToolCall)
}

// Provider is the capability boundary for chat completion backends. The loop
// driver and every LLM-backed stage depend only on this interface, never a
// concrete client.
type Provider interface {
	Chat(ctx context.Context, msgs []Message, tools []ToolSchema, model string) (Message, error)
	ChatStream(ctx context.Context, msgs []Message, tools []ToolSchema, model string, h StreamHandler) error
}
