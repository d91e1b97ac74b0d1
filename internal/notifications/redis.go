package notifications

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const defaultPublishTimeout = 2 * time.Second

// RedisBroadcaster publishes committed events to Redis and relays events published by other API
// instances into a local Broadcaster. Each instance tags its envelopes with its own origin id so
// relayed events are never delivered twice.
type RedisBroadcaster struct {
	client  redis.UniversalClient
	prefix  string
	origin  string
	timeout time.Duration
	logger  *zap.Logger
}

type redisEnvelope struct {
	Origin string `json:"origin"`
	Event  Event  `json:"event"`
}

// NewRedisBroadcaster wraps an existing client. prefix defaults to "squares".
func NewRedisBroadcaster(client redis.UniversalClient, prefix string, logger *zap.Logger) *RedisBroadcaster {
	if prefix == "" {
		prefix = "squares"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisBroadcaster{
		client:  client,
		prefix:  prefix,
		origin:  uuid.NewString(),
		timeout: defaultPublishTimeout,
		logger:  logger,
	}
}

// Channel returns the pub/sub channel for a square.
func (b *RedisBroadcaster) Channel(squareID string) string {
	return b.prefix + ":" + squareID + ":notifications"
}

func (b *RedisBroadcaster) pattern() string {
	return b.prefix + ":*:notifications"
}

// Broadcast implements Broadcaster. Publish failures are logged and dropped.
func (b *RedisBroadcaster) Broadcast(ctx context.Context, event Event) {
	if b == nil || b.client == nil {
		return
	}
	payload, err := json.Marshal(redisEnvelope{Origin: b.origin, Event: event})
	if err != nil {
		b.logger.Warn("notification encode failed", zap.String("event_id", event.ID), zap.Error(err))
		return
	}
	publishCtx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()
	if err := b.client.Publish(publishCtx, b.Channel(event.SquareID), payload).Err(); err != nil {
		b.logger.Warn("notification publish failed",
			zap.String("square_id", event.SquareID),
			zap.String("event_id", event.ID),
			zap.Error(err))
	}
}

// Relay subscribes to every square channel under the prefix and forwards events published by
// other instances to sink until ctx ends.
func (b *RedisBroadcaster) Relay(ctx context.Context, sink Broadcaster) error {
	if b == nil || b.client == nil {
		return errors.New("notifications: redis client is required")
	}
	if sink == nil {
		return errors.New("notifications: relay sink is required")
	}
	pubsub := b.client.PSubscribe(ctx, b.pattern())
	defer pubsub.Close()
	if _, err := pubsub.Receive(ctx); err != nil {
		return err
	}
	b.logger.Info("redis notification relay subscribed", zap.String("pattern", b.pattern()))

	messages := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case message, ok := <-messages:
			if !ok {
				return nil
			}
			b.deliver(ctx, message.Payload, sink)
		}
	}
}

// deliver decodes one payload and hands foreign events to sink.
func (b *RedisBroadcaster) deliver(ctx context.Context, payload string, sink Broadcaster) bool {
	var envelope redisEnvelope
	if err := json.Unmarshal([]byte(payload), &envelope); err != nil {
		b.logger.Warn("notification decode failed", zap.Error(err))
		return false
	}
	if envelope.Origin == b.origin || envelope.Event.SquareID == "" {
		return false
	}
	sink.Broadcast(ctx, envelope.Event)
	return true
}
