package ws

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPendingKey(t *testing.T) {
	assert.Equal(t, "dm:pending:alice", pendingKey("alice"))
}

// Runs against a real server when DMCORE_TEST_REDIS_ADDR is set.
func TestRedisPending_PushDrain(t *testing.T) {
	addr := os.Getenv("DMCORE_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("DMCORE_TEST_REDIS_ADDR not set")
	}
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { _ = rdb.Close() })

	ctx := context.Background()
	p := NewRedisPending(rdb, time.Minute)
	require.NoError(t, p.Ping(ctx))

	user := "test-" + uuid.NewString()
	require.NoError(t, p.Push(ctx, user, []byte(`{"n":1}`)))
	require.NoError(t, p.Push(ctx, user, []byte(`{"n":2}`)))

	ttl, err := rdb.TTL(ctx, pendingKey(user)).Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))

	got, err := p.Drain(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, [][]byte{[]byte(`{"n":1}`), []byte(`{"n":2}`)}, got)

	again, err := p.Drain(ctx, user)
	require.NoError(t, err)
	assert.Empty(t, again)
}
