package ws

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const pendingKeyPrefix = "dm:pending:"

// RedisPending queues events per user in a Redis list.
type RedisPending struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisPending(rdb *redis.Client, ttl time.Duration) *RedisPending {
	return &RedisPending{rdb: rdb, ttl: ttl}
}

var _ PendingStore = (*RedisPending)(nil)

func pendingKey(userID string) string {
	return pendingKeyPrefix + userID
}

// Push appends payload and refreshes the list's expiry.
func (p *RedisPending) Push(ctx context.Context, userID string, payload []byte) error {
	key := pendingKey(userID)
	_, err := p.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.RPush(ctx, key, payload)
		if p.ttl > 0 {
			pipe.Expire(ctx, key, p.ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("push pending: %w", err)
	}
	return nil
}

// Drain reads and deletes the list in one transaction.
func (p *RedisPending) Drain(ctx context.Context, userID string) ([][]byte, error) {
	key := pendingKey(userID)
	var lrange *redis.StringSliceCmd
	_, err := p.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		lrange = pipe.LRange(ctx, key, 0, -1)
		pipe.Del(ctx, key)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("drain pending: %w", err)
	}
	vals := lrange.Val()
	out := make([][]byte, 0, len(vals))
	for _, v := range vals {
		out = append(out, []byte(v))
	}
	return out, nil
}

// Ping checks the connection at startup.
func (p *RedisPending) Ping(ctx context.Context) error {
	return p.rdb.Ping(ctx).Err()
}
