// Package pubsub supplements §4.8's "one in-memory instance per room ID"
// for horizontally-scaled deployments: when multiple roomserver processes
// sit behind a load balancer, a room's peers may be split across
// processes. Relay republishes presence-update/cursor-update/message
// frames (the ones §4.8 says are "relayed; not applied to storage") on a
// per-room Redis channel so every process holding a peer for that room
// stays in sync. cmd/server always constructs one; when Redis is
// unreachable, Publish returns an error (the room logs it and goes on) and
// no remote frames arrive, so rooms relay only to their local peers.
package pubsub

import (
	"context"
	"fmt"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// Relay publishes and subscribes to per-room broadcast channels over Redis.
type Relay struct {
	client *redis.Client
	prefix string
	logger *zap.Logger
}

// New builds a Relay. channelPrefix namespaces room channels (e.g.
// "roomsync:room:").
func New(client *redis.Client, channelPrefix string, logger *zap.Logger) *Relay {
	return &Relay{client: client, prefix: channelPrefix, logger: logger}
}

func (r *Relay) channel(roomID string) string {
	return r.prefix + roomID
}

// Publish broadcasts raw to every other process subscribed to roomID.
func (r *Relay) Publish(ctx context.Context, roomID string, raw []byte) error {
	if err := r.client.Publish(ctx, r.channel(roomID), raw).Err(); err != nil {
		return fmt.Errorf("pubsub: publish to room %s: %w", roomID, err)
	}
	return nil
}

// Subscription is a live subscription to one room's cross-instance
// channel. Frames arrives on C; call Close when the local room empties.
type Subscription struct {
	C      <-chan []byte
	pubsub *redis.PubSub
}

func (s *Subscription) Close() error {
	return s.pubsub.Close()
}

// Subscribe starts receiving frames published by other processes for
// roomID. The caller is responsible for not re-publishing what it
// receives here (Relay does not tag sender identity; route received
// frames straight to local peer relay, never back through Publish).
func (r *Relay) Subscribe(ctx context.Context, roomID string) *Subscription {
	ps := r.client.Subscribe(ctx, r.channel(roomID))
	out := make(chan []byte, 64)
	go func() {
		defer close(out)
		ch := ps.Channel()
		for {
			select {
			case msg, ok := <-ch:
				if !ok {
					return
				}
				select {
				case out <- []byte(msg.Payload):
				default:
					r.logger.Warn("pubsub subscriber channel full, dropping frame", zap.String("room", roomID))
				}
			case <-ctx.Done():
				return
			}
		}
	}()
	return &Subscription{C: out, pubsub: ps}
}
