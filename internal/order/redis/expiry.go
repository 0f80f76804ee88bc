package redis

import (
	"context"
	"strings"

	"github.com/go-redis/redis/v8"
)

// expiredChannel is the keyspace notification channel for key expirations on
// database 0. Requires notify-keyspace-events to include "Ex".
const expiredChannel = "__keyevent@0__:expired"

// EnableKeyspaceNotifications turns on expiry events server-side so the
// subscription below actually receives something. Harmless if already set.
func EnableKeyspaceNotifications(ctx context.Context, client *redis.Client) error {
	return client.ConfigSet(ctx, "notify-keyspace-events", "Ex").Err()
}

// SubscribeExpiredHolds streams the order ids whose hold keys have expired.
// The channel closes when ctx is cancelled.
func (h *Holds) SubscribeExpiredHolds(ctx context.Context) <-chan string {
	out := make(chan string)
	pubsub := h.Client.Subscribe(ctx, expiredChannel)

	go func() {
		defer close(out)
		defer pubsub.Close()

		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				if !strings.HasPrefix(msg.Payload, HoldKeyPrefix) {
					continue
				}
				orderID := strings.TrimPrefix(msg.Payload, HoldKeyPrefix)
				select {
				case out <- orderID:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out
}
