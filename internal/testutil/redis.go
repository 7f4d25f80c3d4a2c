//go:build integration

package testutil

import (
	"context"
	"os"
	"testing"

	"github.com/go-redis/redis/v8"
)

// RedisDB is the database the journal integration tests write to.
const RedisDB = 9

// RedisAddr returns the address of the test Redis, skipping the test when
// CONSOLIDATE_TEST_REDIS_ADDR is unset.
func RedisAddr(t *testing.T) string {
	t.Helper()
	addr := os.Getenv("CONSOLIDATE_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("CONSOLIDATE_TEST_REDIS_ADDR not set")
	}
	return addr
}

// FlushDB flushes a specific Redis database.
func FlushDB(t *testing.T, addr string, db int) {
	t.Helper()

	client := redis.NewClient(&redis.Options{Addr: addr, DB: db})
	defer client.Close()

	if err := client.FlushDB(context.Background()).Err(); err != nil {
		t.Fatalf("flushing DB %d: %v", db, err)
	}
}

// ReadEntry reads a hash entry from a specific Redis DB.
func ReadEntry(t *testing.T, addr string, db int, key string) map[string]string {
	t.Helper()

	client := redis.NewClient(&redis.Options{Addr: addr, DB: db})
	defer client.Close()

	vals, err := client.HGetAll(context.Background(), key).Result()
	if err != nil {
		t.Fatalf("reading %s: %v", key, err)
	}
	return vals
}

// EntryExists checks if a key exists in a specific Redis DB.
func EntryExists(t *testing.T, addr string, db int, key string) bool {
	t.Helper()

	client := redis.NewClient(&redis.Options{Addr: addr, DB: db})
	defer client.Close()

	n, err := client.Exists(context.Background(), key).Result()
	if err != nil {
		t.Fatalf("checking existence of %s: %v", key, err)
	}
	return n > 0
}
