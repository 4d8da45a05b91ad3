// Package streambus implements the optional resumable-stream layer named in
// C12: a reconnecting client replays a chat's in-flight run from the same
// server-side producer instead of starting a second one. Grounded on the
// teacher's RedisGenerationCache publish/subscribe idiom
// (internal/workspaces/redis_cache.go), swapping invalidation events for
// stream.Event frames and adding a replay log alongside the pub/sub channel.
package streambus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"deepresearch/internal/research/stream"
)

// activeTTL bounds how long a run is considered "in-flight" if the producer
// never marks it done (e.g. the process crashed mid-run).
const activeTTL = 5 * time.Minute

// Bus mirrors one chat's stream.Event frames through Redis so a reconnecting
// client can replay the history and then tail the live channel. A nil client
// makes every method a no-op / miss, matching the rest of the stack's
// fail-open Redis idiom.
type Bus struct {
	client redis.UniversalClient
}

// New builds a Bus. client may be nil in tests or single-process deployments
// without Redis, in which case stream resumption is simply unavailable.
func New(client redis.UniversalClient) *Bus {
	return &Bus{client: client}
}

func activeKey(chatID string) string { return "stream:active:" + chatID }
func logKey(chatID string) string    { return "stream:log:" + chatID }
func channelKey(chatID string) string { return "stream:chan:" + chatID }

// MarkActive records that a run has started for chatID, visible to Subscribe
// as "a stream is active" until MarkDone runs or activeTTL elapses.
func (b *Bus) MarkActive(ctx context.Context, chatID string) {
	if b.client == nil {
		return
	}
	if err := b.client.Set(ctx, activeKey(chatID), "1", activeTTL).Err(); err != nil {
		log.Warn().Err(err).Str("chatId", chatID).Msg("streambus_mark_active_failed")
	}
}

// MarkDone clears the active marker and sets the replay log to expire after
// one minute once the run's final event has been published; Active reports
// false from this point on.
func (b *Bus) MarkDone(ctx context.Context, chatID string) {
	if b.client == nil {
		return
	}
	pipe := b.client.TxPipeline()
	pipe.Del(ctx, activeKey(chatID))
	pipe.Expire(ctx, logKey(chatID), time.Minute)
	if _, err := pipe.Exec(ctx); err != nil {
		log.Warn().Err(err).Str("chatId", chatID).Msg("streambus_mark_done_failed")
	}
}

// Active reports whether a run is currently in flight for chatID.
func (b *Bus) Active(ctx context.Context, chatID string) bool {
	if b.client == nil {
		return false
	}
	n, err := b.client.Exists(ctx, activeKey(chatID)).Result()
	if err != nil {
		log.Warn().Err(err).Str("chatId", chatID).Msg("streambus_active_check_failed")
		return false
	}
	return n > 0
}

// Publish appends ev to chatID's replay log and fans it out to the pub/sub
// channel, best-effort: a publish failure is logged, never returned to the
// caller, since the original response already has the frame.
func (b *Bus) Publish(ctx context.Context, chatID string, ev stream.Event) {
	if b.client == nil {
		return
	}
	data, err := json.Marshal(ev)
	if err != nil {
		log.Warn().Err(err).Msg("streambus_encode_failed")
		return
	}
	pipe := b.client.TxPipeline()
	pipe.RPush(ctx, logKey(chatID), data)
	pipe.Expire(ctx, logKey(chatID), activeTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		log.Warn().Err(err).Str("chatId", chatID).Msg("streambus_log_append_failed")
	}
	if err := b.client.Publish(ctx, channelKey(chatID), data).Err(); err != nil {
		log.Warn().Err(err).Str("chatId", chatID).Msg("streambus_publish_failed")
	}
}

// Replay returns every event recorded so far for chatID, oldest first.
func (b *Bus) Replay(ctx context.Context, chatID string) ([]stream.Event, error) {
	if b.client == nil {
		return nil, nil
	}
	raw, err := b.client.LRange(ctx, logKey(chatID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("streambus: replay log read: %w", err)
	}
	events := make([]stream.Event, 0, len(raw))
	for _, r := range raw {
		var ev stream.Event
		if err := json.Unmarshal([]byte(r), &ev); err != nil {
			log.Warn().Err(err).Str("chatId", chatID).Msg("streambus_replay_decode_failed")
			continue
		}
		events = append(events, ev)
	}
	return events, nil
}

// Subscribe tails chatID's live channel. The returned channel closes, and the
// cancel func must be called, once the caller is done or ctx is done.
func (b *Bus) Subscribe(ctx context.Context, chatID string) (<-chan stream.Event, func()) {
	out := make(chan stream.Event, 8)
	if b.client == nil {
		close(out)
		return out, func() {}
	}
	sub := b.client.Subscribe(ctx, channelKey(chatID))
	go func() {
		defer close(out)
		for msg := range sub.Channel() {
			var ev stream.Event
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				log.Warn().Err(err).Str("chatId", chatID).Msg("streambus_subscribe_decode_failed")
				continue
			}
			select {
			case out <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()
	cancel := func() { _ = sub.Close() }
	return out, cancel
}
