// Package cache holds the Redis read cache for ticket views. Entries are
// derived data: losing one costs a database read, keeping a stale one after
// a user deletion is a correctness bug — hence the invalidation cascade.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

type TicketView struct {
	ID         string    `json:"id"`
	CustomerID string    `json:"customer_id"`
	AgentID    string    `json:"agent_id,omitempty"`
	Subject    string    `json:"subject"`
	Status     string    `json:"status"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

type TicketCache struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewTicketCache(rdb *redis.Client, ttl time.Duration) *TicketCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &TicketCache{rdb: rdb, ttl: ttl}
}

func key(ticketID string) string {
	return "ticket:" + ticketID
}

func (c *TicketCache) Get(ctx context.Context, ticketID string) (TicketView, bool, error) {
	raw, err := c.rdb.Get(ctx, key(ticketID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return TicketView{}, false, nil
	}
	if err != nil {
		return TicketView{}, false, err
	}
	var view TicketView
	if err := json.Unmarshal(raw, &view); err != nil {
		// A corrupt entry behaves like a miss; the next Set overwrites it.
		return TicketView{}, false, nil
	}
	return view, true, nil
}

func (c *TicketCache) Set(ctx context.Context, view TicketView) error {
	raw, err := json.Marshal(view)
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, key(view.ID), raw, c.ttl).Err()
}

// Invalidate removes one cached ticket. Deleting a missing key is a no-op,
// which is what makes the deletion sweep safe to repeat.
func (c *TicketCache) Invalidate(ctx context.Context, ticketID string) error {
	return c.rdb.Del(ctx, key(ticketID)).Err()
}

func ReadyCheck(rdb *redis.Client) func(context.Context) error {
	return func(ctx context.Context) error {
		if rdb == nil {
			return errors.New("redis not configured")
		}
		return rdb.Ping(ctx).Err()
	}
}
