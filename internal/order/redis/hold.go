package redis

import (
	"context"
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
)

// HoldKeyPrefix is shared with the keyspace-expiry subscription in main:
// when a hold key expires, the sweeper is poked for that order.
const HoldKeyPrefix = "order_hold:"

type Holds struct {
	Client *redis.Client
	Logger *log.Logger
}

func NewHolds(client *redis.Client) *Holds {
	return &Holds{
		Client: client,
		Logger: log.Default(),
	}
}

// holdTTL returns the reservation window from the environment, default 15m.
func (h *Holds) holdTTL() time.Duration {
	defaultTTL := 15 * time.Minute

	ttlStr := os.Getenv("ORDER_HOLD_TTL_MINUTES")
	if ttlStr == "" {
		return defaultTTL
	}

	ttlMin, err := strconv.Atoi(ttlStr)
	if err != nil {
		h.Logger.Println("REDIS: Invalid ORDER_HOLD_TTL_MINUTES value '" + ttlStr + "', using default 15 minutes")
		return defaultTTL
	}
	return time.Duration(ttlMin) * time.Minute
}

// HoldOrder arms the expiry timer for a freshly created pending order. The
// key's expiry event is the fast path into the sweeper; the periodic DB scan
// is the safety net when the notification is lost.
func (h *Holds) HoldOrder(ctx context.Context, orderID string) error {
	key := HoldKeyPrefix + orderID
	ok, err := h.Client.SetNX(ctx, key, "1", h.holdTTL()).Result()
	if err != nil {
		return fmt.Errorf("set hold for order %s: %w", orderID, err)
	}
	if !ok {
		// Hold already armed by a concurrent create attempt; nothing to do.
		return nil
	}
	return nil
}

// ReleaseHold drops the expiry timer once the order reached a settled state.
func (h *Holds) ReleaseHold(ctx context.Context, orderID string) error {
	key := HoldKeyPrefix + orderID
	_, err := h.Client.Del(ctx, key).Result()
	if err != nil && err != redis.Nil {
		return fmt.Errorf("release hold for order %s: %w", orderID, err)
	}
	return nil
}

// HoldExists reports whether an order still has an armed hold key.
func (h *Holds) HoldExists(ctx context.Context, orderID string) (bool, error) {
	key := HoldKeyPrefix + orderID
	n, err := h.Client.Exists(ctx, key).Result()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}
