package events

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"peercall-backend/internal/database"
	"peercall-backend/pkg/logger"
)

// Event kinds delivered on a subscription. "added" announces a document
// entering the subscribed set, "modified" a change to one already in it,
// "removed" one leaving it.
const (
	KindAdded    = "added"
	KindModified = "modified"
	KindRemoved  = "removed"
)

// Event is a single change notification on a channel.
type Event struct {
	Kind    string          `json:"kind"`
	Payload json.RawMessage `json:"payload"`
}

// CancelFunc stops a subscription and releases its resources.
// Safe to call more than once.
type CancelFunc func()

// Bus is a publish/subscribe fan-out over Redis channels. Publishers fire
// and forget; subscribers get a buffered channel that is closed when the
// subscription is cancelled or the context ends.
type Bus struct {
	redis *database.RedisClient
}

// NewBus creates an event bus backed by the given Redis client
func NewBus(redis *database.RedisClient) *Bus {
	return &Bus{redis: redis}
}

// UserCallsChannel is the channel carrying incoming-call events for a user
func UserCallsChannel(userID string) string {
	return fmt.Sprintf("user:%s:calls", userID)
}

// CallEventsChannel is the channel carrying lifecycle events for one call
func CallEventsChannel(callID string) string {
	return fmt.Sprintf("call:%s:events", callID)
}

// Publish sends an event on a channel. Delivery is best-effort: if Redis
// is degraded the event is dropped and logged, never an error to callers.
func (b *Bus) Publish(ctx context.Context, channel, kind string, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		logger.Error("failed to marshal event payload",
			zap.String("channel", channel),
			zap.String("kind", kind),
			zap.Error(err))
		return
	}

	msg, err := json.Marshal(Event{Kind: kind, Payload: data})
	if err != nil {
		logger.Error("failed to marshal event",
			zap.String("channel", channel),
			zap.Error(err))
		return
	}

	if err := b.redis.SafePublish(ctx, channel, msg).Err(); err != nil {
		logger.Warn("event publish dropped",
			zap.String("channel", channel),
			zap.String("kind", kind),
			zap.Error(err))
	}
}

// Subscribe starts listening on a channel. Events arrive on the returned
// channel until cancel is called or ctx is done, after which the channel
// is closed. Malformed messages are logged and skipped.
func (b *Bus) Subscribe(ctx context.Context, channel string) (<-chan Event, CancelFunc, error) {
	pubsub := b.redis.SafeSubscribe(ctx, channel)
	if pubsub == nil {
		return nil, nil, fmt.Errorf("subscribe unavailable: redis is in degraded mode")
	}

	subCtx, cancelCtx := context.WithCancel(ctx)
	out := make(chan Event, 16)

	go func() {
		defer close(out)
		defer pubsub.Close()

		ch := pubsub.Channel()
		for {
			select {
			case <-subCtx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var evt Event
				if err := json.Unmarshal([]byte(msg.Payload), &evt); err != nil {
					logger.Warn("skipping malformed event",
						zap.String("channel", channel),
						zap.Error(err))
					continue
				}
				select {
				case out <- evt:
				case <-subCtx.Done():
					return
				}
			}
		}
	}()

	return out, CancelFunc(cancelCtx), nil
}
