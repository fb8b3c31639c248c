// Package redistest connects integration tests to a running Redis.
package redistest

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
)

// Address returns REDIS_ADDR, "redis:6379" under CI, or "localhost:6379".
func Address() string {
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		return addr
	}
	if os.Getenv("CI") == "true" {
		return "redis:6379"
	}
	return "localhost:6379"
}

// SetupRedisClient returns a client for Address and fails the test if Redis does not answer PING.
func SetupRedisClient(t *testing.T) *redis.Client {
	t.Helper()
	addr := Address()
	client := redis.NewClient(&redis.Options{Addr: addr})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Fatalf("Redis at %s is not reachable: %v", addr, err)
	}
	return client
}

// CleanupControllers deletes every window log key under the given controller keys,
// using SCAN so that keys sharing a prefix are removed too.
func CleanupControllers(t *testing.T, client *redis.Client, controllerKeys ...string) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	var stale []string
	for _, key := range controllerKeys {
		iter := client.Scan(ctx, 0, "admission:"+key+"*", 50).Iterator()
		for iter.Next(ctx) {
			stale = append(stale, iter.Val())
		}
		if err := iter.Err(); err != nil {
			t.Errorf("cleanup: scan for controller '%s' failed: %v", key, err)
		}
	}
	if len(stale) == 0 {
		return
	}
	if err := client.Del(ctx, stale...).Err(); err != nil {
		t.Errorf("cleanup: failed to delete %v: %v", stale, err)
	}
}
