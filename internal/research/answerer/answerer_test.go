package answerer

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"deepresearch/internal/llm"
)

type fakeProvider struct {
	deltas []string
	system string
}

func (f *fakeProvider) Chat(ctx context.Context, msgs []llm.Message, tools []llm.ToolSchema, model string) (llm.Message, error) {
	return llm.Message{}, nil
}

func (f *fakeProvider) ChatStream(ctx context.Context, msgs []llm.Message, tools []llm.ToolSchema, model string, h llm.StreamHandler) error {
	if len(msgs) > 0 {
		f.system = msgs[0].Content
	}
	for _, d := range f.deltas {
		h.OnDelta(d)
	}
	return nil
}

type collectHandler struct{ deltas []string }

func (c *collectHandler) OnDelta(s string)        { c.deltas = append(c.deltas, s) }
func (c *collectHandler) OnToolCall(llm.ToolCall) {}

func TestAnswer_NonFinalUsesThoroughFraming(t *testing.T) {
	p := &fakeProvider{deltas: []string{"The answer ", "is 42."}}
	a := New(p, "test-model")
	h := &collectHandler{}
	err := a.Answer(context.Background(), "", "", "", false, h)
	require.NoError(t, err)
	require.Equal(t, "The answer is 42.", strings.Join(h.deltas, ""))
	require.Contains(t, p.system, "thorough")
}

func TestAnswer_FinalUsesCaveatFraming(t *testing.T) {
	p := &fakeProvider{}
	a := New(p, "test-model")
	h := &collectHandler{}
	err := a.Answer(context.Background(), "", "", "feedback here", true, h)
	require.NoError(t, err)
	require.Contains(t, p.system, "step limit was reached")
}
