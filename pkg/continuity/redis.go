package continuity

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-redis/redis/v8"
)

const broadcastChannel = "clearway:continuity"

// RedisBroadcast implements Broadcast over Redis pub/sub so continuity
// events reach tabs served by other instances
type RedisBroadcast struct {
	client *redis.Client
}

// NewRedisBroadcast creates a Redis-backed broadcast
func NewRedisBroadcast(client *redis.Client) *RedisBroadcast {
	return &RedisBroadcast{client: client}
}

// Publish sends the message on the continuity channel
func (b *RedisBroadcast) Publish(ctx context.Context, msg Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	if err := b.client.Publish(ctx, broadcastChannel, data).Err(); err != nil {
		return fmt.Errorf("failed to publish message: %w", err)
	}
	return nil
}

// Subscribe delivers channel messages to handler until ctx is done.
// Malformed payloads are skipped; one bad publisher must not kill the
// subscription for everyone.
func (b *RedisBroadcast) Subscribe(ctx context.Context, handler func(Message)) error {
	sub := b.client.Subscribe(ctx, broadcastChannel)
	defer sub.Close()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case raw, ok := <-ch:
			if !ok {
				return nil
			}
			var msg Message
			if err := json.Unmarshal([]byte(raw.Payload), &msg); err != nil {
				continue
			}
			handler(msg)
		}
	}
}
