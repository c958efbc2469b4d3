// Package eventbus is the internal fan-out used to hand classified
// trade events, published by Controller onto named streams, to
// decoupled consumers (in this module, the dump detector) without them
// sharing a direct dependency on frame dispatch. TokenTracker,
// Follower and the Store are called by Controller directly, not through
// this bus. Adapted from the reference's internal/pipeline
// package: Redis Streams as a consumer-group bus, with the same
// auto-create-stream-on-first-publish and BUSYGROUP-tolerant group
// creation.
package eventbus

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"
)

const consumerGroup = "oracle-consumers"

// Handler processes one published message. Returning an error only
// logs; it does not stop the consumer loop, matching the store's
// "persistence errors are logged, not fatal" policy (spec §7.5).
type Handler func(ctx context.Context, streamName string, payload map[string]interface{}) error

// Bus publishes event payloads onto named Redis streams and lets
// independent consumers subscribe to each by name.
type Bus struct {
	client   *redis.Client
	logger   *logrus.Logger
	handlers map[string]Handler
}

// New constructs a Bus over an existing redis client.
func New(client *redis.Client, logger *logrus.Logger) *Bus {
	return &Bus{client: client, logger: logger, handlers: make(map[string]Handler)}
}

// Subscribe registers a handler for a stream name and starts a
// dedicated consumer goroutine; it returns once the consumer group
// exists (creating it if necessary) or the context is done.
func (b *Bus) Subscribe(ctx context.Context, stream, consumerName string, handler Handler) error {
	err := b.client.XGroupCreateMkStream(ctx, stream, consumerGroup, "0").Err()
	if err != nil && !isBusyGroupErr(err) {
		return fmt.Errorf("eventbus: create consumer group: %w", err)
	}
	b.handlers[stream] = handler
	go b.consume(ctx, stream, consumerName, handler)
	return nil
}

func isBusyGroupErr(err error) bool {
	return err != nil && len(err.Error()) >= 9 && err.Error()[:9] == "BUSYGROUP"
}

// Publish marshals a payload to JSON fields and appends it to a
// stream, auto-creating the stream on first use.
func (b *Bus) Publish(ctx context.Context, stream string, payload map[string]interface{}) error {
	encoded := make(map[string]interface{}, len(payload))
	for k, v := range payload {
		switch v.(type) {
		case string, int, int64, float64, bool:
			encoded[k] = v
		default:
			raw, err := json.Marshal(v)
			if err != nil {
				return fmt.Errorf("eventbus: marshal field %q: %w", k, err)
			}
			encoded[k] = string(raw)
		}
	}
	if err := b.client.XAdd(ctx, &redis.XAddArgs{Stream: stream, Values: encoded}).Err(); err != nil {
		return fmt.Errorf("eventbus: publish to %s: %w", stream, err)
	}
	return nil
}

func (b *Bus) consume(ctx context.Context, stream, consumerName string, handler Handler) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		results, err := b.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    consumerGroup,
			Consumer: consumerName,
			Streams:  []string{stream, ">"},
			Count:    10,
			Block:    0,
		}).Result()
		if err != nil {
			if err == redis.Nil || ctx.Err() != nil {
				continue
			}
			b.logger.WithError(err).WithField("stream", stream).Warn("eventbus: read group failed")
			continue
		}

		for _, res := range results {
			for _, msg := range res.Messages {
				payload := make(map[string]interface{}, len(msg.Values))
				for k, v := range msg.Values {
					payload[k] = v
				}
				if err := handler(ctx, stream, payload); err != nil {
					b.logger.WithError(err).WithField("stream", stream).Error("eventbus: handler failed")
				}
				b.client.XAck(ctx, stream, consumerGroup, msg.ID)
			}
		}
	}
}
