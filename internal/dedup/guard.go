// Package dedup is the Redis fast path in front of the ledger: a post-commit
// marker per applied event and per-user pub/sub channels for balance pushes.
package dedup

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const DefaultTTL = 24 * time.Hour

// Guard methods are no-ops on a nil receiver.
type Guard struct {
	rdb *redis.Client
	ttl time.Duration
}

func New(rdb *redis.Client, ttl time.Duration) *Guard {
	if rdb == nil {
		return nil
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Guard{rdb: rdb, ttl: ttl}
}

func eventKey(eventID string) string {
	return fmt.Sprintf("idempotency:credit:%s", eventID)
}

// Channel is the pub/sub channel carrying balance updates for userID.
func Channel(userID string) string {
	return fmt.Sprintf("credit:user:%s", userID)
}

// Seen reports whether eventID was marked as applied.
func (g *Guard) Seen(ctx context.Context, eventID string) (bool, error) {
	if g == nil {
		return false, nil
	}
	n, err := g.rdb.Exists(ctx, eventKey(eventID)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Mark records eventID as applied. Call it only after the ledger committed.
func (g *Guard) Mark(ctx context.Context, eventID string) error {
	if g == nil {
		return nil
	}
	return g.rdb.Set(ctx, eventKey(eventID), "1", g.ttl).Err()
}

func (g *Guard) Publish(ctx context.Context, userID string, payload interface{}) error {
	if g == nil || userID == "" {
		return nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return g.rdb.Publish(ctx, Channel(userID), string(data)).Err()
}

// Subscribe returns a subscription to userID's channel. The caller closes it.
func (g *Guard) Subscribe(ctx context.Context, userID string) *redis.PubSub {
	if g == nil {
		return nil
	}
	return g.rdb.Subscribe(ctx, Channel(userID))
}
