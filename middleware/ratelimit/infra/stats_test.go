package infra

import (
	"context"
	"fmt"
	"testing"
	"time"

	"admission-gateway/middleware/ratelimit/domain"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStatsStore_CountsOutcomes(t *testing.T) {
	s := NewMemoryStatsStore(WithTrackKeys(true))
	ctx := context.Background()

	events := []domain.StatsEvent{
		{Key: "a", Outcome: domain.OutcomeGranted, Method: "GET", Path: "/x", Waited: 30 * time.Millisecond},
		{Key: "a", Outcome: domain.OutcomeDenied, Method: "GET", Path: "/x"},
		{Key: "b", Outcome: domain.OutcomeCancelled, Method: "POST", Path: "/y"},
		{Key: "b", Outcome: domain.OutcomeGranted, Method: "POST", Path: "/y"},
	}
	for _, ev := range events {
		require.NoError(t, s.Record(ctx, ev))
	}

	assert.Equal(t, Counters{Granted: 2, Denied: 1, Cancelled: 1, Waited: 30 * time.Millisecond}, s.Total())
	assert.Equal(t, int64(1), s.ByRoute()["GET /x"].Denied)
	assert.Equal(t, int64(1), s.ByKey()["b"].Cancelled)
}

func TestMemoryStatsStore_KeysNotTrackedByDefault(t *testing.T) {
	s := NewMemoryStatsStore()
	require.NoError(t, s.Record(context.Background(), domain.StatsEvent{Key: "a"}))
	assert.Empty(t, s.ByKey())
}

func TestRedisStatsStore_NilIsNoop(t *testing.T) {
	var s *RedisStatsStore
	assert.NoError(t, s.Record(context.Background(), domain.StatsEvent{}))
}

func TestRedisStatsStore_Integration(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("Skipping integration test: Redis not available (%v)", err)
	}

	prefix := fmt.Sprintf("it_stats_%d", time.Now().UnixNano())
	s := NewRedisStatsStore(client, WithStatsPrefix(prefix+":"), WithStatsTrackKeys(true))
	t.Cleanup(func() {
		keys, _ := client.Keys(context.Background(), prefix+":*").Result()
		if len(keys) > 0 {
			client.Del(context.Background(), keys...)
		}
	})

	at := time.Date(2024, 5, 1, 12, 30, 0, 0, time.UTC)
	require.NoError(t, s.Record(ctx, domain.StatsEvent{Key: "ip-1", Outcome: domain.OutcomeGranted, Method: "GET", Path: "/a", Waited: 250 * time.Millisecond, At: at}))
	require.NoError(t, s.Record(ctx, domain.StatsEvent{Key: "ip-1", Outcome: domain.OutcomeDenied, Method: "GET", Path: "/a", At: at}))

	total, err := client.HGetAll(ctx, prefix+":total").Result()
	require.NoError(t, err)
	assert.Equal(t, "1", total["granted"])
	assert.Equal(t, "1", total["denied"])
	assert.Equal(t, "250", total["waited_ms"])

	minute, err := client.HGet(ctx, prefix+":minute:202405011230", "denied").Result()
	require.NoError(t, err)
	assert.Equal(t, "1", minute)

	route, err := client.HGet(ctx, prefix+":route", "GET /a:granted").Result()
	require.NoError(t, err)
	assert.Equal(t, "1", route)

	ttl, err := client.TTL(ctx, prefix+":key:ip-1").Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))
}
