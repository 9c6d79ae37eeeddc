package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const (
	// DefaultInvalidationChannel is the Redis pub/sub channel used when none is given.
	DefaultInvalidationChannel = "query:invalidate"
)

// invalidation is the wire payload published for each invalidated key.
type invalidation struct {
	Origin string `json:"origin"`
	Key    string `json:"key"`
}

// RedisBus broadcasts key invalidations between processes over Redis
// pub/sub. Each bus has a random origin id and ignores its own messages.
type RedisBus struct {
	redis   *redis.Client
	channel string
	origin  string
	logger  zerolog.Logger
}

// NewRedisBus creates a bus on channel. An empty channel falls back to
// DefaultInvalidationChannel.
func NewRedisBus(redisClient *redis.Client, channel string, logger zerolog.Logger) *RedisBus {
	if redisClient == nil {
		panic("redis client cannot be nil")
	}
	if channel == "" {
		channel = DefaultInvalidationChannel
	}
	return &RedisBus{
		redis:   redisClient,
		channel: channel,
		origin:  uuid.NewString(),
		logger:  logger,
	}
}

// Origin returns the id stamped on messages published by this bus.
func (b *RedisBus) Origin() string {
	return b.origin
}

// Channel returns the pub/sub channel name.
func (b *RedisBus) Channel() string {
	return b.channel
}

// Publish announces that key was invalidated.
func (b *RedisBus) Publish(ctx context.Context, key string) error {
	payload, err := json.Marshal(invalidation{Origin: b.origin, Key: key})
	if err != nil {
		return fmt.Errorf("marshal invalidation: %w", err)
	}

	if err := b.redis.Publish(ctx, b.channel, payload).Err(); err != nil {
		return fmt.Errorf("redis publish: %w", err)
	}

	InvalidationsPublished.WithLabelValues("sent").Inc()
	b.logger.Debug().
		Str("key", key).
		Str("channel", b.channel).
		Msg("Published invalidation")
	return nil
}

// Subscribe delivers keys invalidated by other processes to handler until
// ctx is done. It returns nil on context cancellation.
func (b *RedisBus) Subscribe(ctx context.Context, handler func(key string)) error {
	pubsub := b.redis.Subscribe(ctx, b.channel)
	defer pubsub.Close()

	// Wait for the subscription to be confirmed before consuming.
	if _, err := pubsub.Receive(ctx); err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil
		}
		return fmt.Errorf("redis subscribe: %w", err)
	}

	b.logger.Debug().Str("channel", b.channel).Msg("Subscribed to invalidations")

	messages := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-messages:
			if !ok {
				return nil
			}

			var inv invalidation
			if err := json.Unmarshal([]byte(msg.Payload), &inv); err != nil {
				b.logger.Warn().Err(err).Msg("Dropping malformed invalidation")
				continue
			}
			if inv.Origin == b.origin || inv.Key == "" {
				continue
			}

			InvalidationsPublished.WithLabelValues("received").Inc()
			handler(inv.Key)
		}
	}
}
