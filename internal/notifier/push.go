package notifier

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"peercall-backend/internal/database"
	"peercall-backend/internal/domain"
)

// PushChannel is the Redis channel the external push gateway consumes
const PushChannel = "push:incoming_call"

// dedupeTTL bounds how long a call's push marker lives. Longer than any
// ring timeout, so retried creates within one ring never double-alert.
const dedupeTTL = 5 * time.Minute

// PushNotifier hands incoming-call alerts to the push gateway over Redis.
// Delivery to devices is the gateway's problem; the call flow only needs
// fire-and-forget.
type PushNotifier struct {
	redis *database.RedisClient
}

// NewPushNotifier creates a Redis-backed push notifier
func NewPushNotifier(redis *database.RedisClient) *PushNotifier {
	return &PushNotifier{redis: redis}
}

// pushPayload is the gateway-facing alert format
type pushPayload struct {
	ReceiverID uuid.UUID       `json:"receiver_id"`
	CallID     uuid.UUID       `json:"call_id"`
	CallerID   uuid.UUID       `json:"caller_id"`
	CallType   domain.CallType `json:"call_type"`
	CreatedAt  time.Time       `json:"created_at"`
}

// NotifyIncomingCall publishes an incoming-call alert for a receiver.
// At most one alert goes out per call: a SETNX marker absorbs retries from
// crashed or repeated create attempts.
func (n *PushNotifier) NotifyIncomingCall(ctx context.Context, receiverID uuid.UUID, call *domain.Call) error {
	dedupeKey := fmt.Sprintf("push:dedupe:%s", call.CallID)
	first, err := n.redis.SafeSetNX(ctx, dedupeKey, 1, dedupeTTL).Result()
	if err != nil {
		// Degraded Redis also fails the publish below; surface that error
		// instead of guessing here
		first = true
	}
	if !first {
		return nil
	}

	payload, err := json.Marshal(pushPayload{
		ReceiverID: receiverID,
		CallID:     call.CallID,
		CallerID:   call.CallerID,
		CallType:   call.CallType,
		CreatedAt:  call.CreatedAt,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal push payload: %w", err)
	}

	if err := n.redis.SafePublish(ctx, PushChannel, payload).Err(); err != nil {
		return fmt.Errorf("failed to publish push notification: %w", err)
	}

	return nil
}
