package testutil

import (
	"context"
	"testing"

	"github.com/redis/go-redis/v9"
)

// LocalRedis returns a client for DB 15 of a Redis on localhost, flushed
// before and after the test. The test is skipped when no Redis answers.
func LocalRedis(t testing.TB) *redis.Client {
	t.Helper()

	client := redis.NewClient(&redis.Options{
		Addr: "localhost:6379",
		DB:   15,
	})

	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		t.Skipf("Redis not available for testing: %v", err)
	}
	if err := client.FlushDB(ctx).Err(); err != nil {
		client.Close()
		t.Fatalf("Failed to flush test DB: %v", err)
	}

	t.Cleanup(func() {
		client.FlushDB(context.Background())
		client.Close()
	})
	return client
}
