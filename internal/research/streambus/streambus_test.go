package streambus

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"deepresearch/internal/research/stream"
)

func TestNilClient_ActiveIsAlwaysFalse(t *testing.T) {
	b := New(nil)
	require.False(t, b.Active(context.Background(), "chat-1"))
}

func TestNilClient_PublishAndMarkActiveAreNoOps(t *testing.T) {
	b := New(nil)
	ctx := context.Background()
	b.MarkActive(ctx, "chat-1")
	b.Publish(ctx, "chat-1", stream.TextDelta("hello"))
	b.MarkDone(ctx, "chat-1")

	events, err := b.Replay(ctx, "chat-1")
	require.NoError(t, err)
	require.Empty(t, events)
}

func TestNilClient_SubscribeReturnsClosedChannel(t *testing.T) {
	b := New(nil)
	ch, cancel := b.Subscribe(context.Background(), "chat-1")
	defer cancel()

	_, ok := <-ch
	require.False(t, ok, "channel should be closed immediately for a nil client")
}
