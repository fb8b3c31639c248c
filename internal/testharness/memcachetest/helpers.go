// Package memcachetest connects integration tests to a running memcached.
package memcachetest

import (
	"errors"
	"os"
	"testing"

	"github.com/bradfitz/gomemcache/memcache"
)

// Address returns MEMCACHED_ADDR, "memcached:11211" under CI, or "localhost:11211".
func Address() string {
	if addr := os.Getenv("MEMCACHED_ADDR"); addr != "" {
		return addr
	}
	if os.Getenv("CI") == "true" {
		return "memcached:11211"
	}
	return "localhost:11211"
}

// SetupMemcachedClient returns a client for Address. memcached has no ping, so a
// throwaway item is written and read back; the test fails if either step does.
func SetupMemcachedClient(t *testing.T) *memcache.Client {
	t.Helper()
	addr := Address()
	mc := memcache.New(addr)

	const probe = "admission_probe"
	if err := mc.Set(&memcache.Item{Key: probe, Value: []byte("1"), Expiration: 10}); err != nil {
		t.Fatalf("memcached at %s is not reachable (set): %v", addr, err)
	}
	if _, err := mc.Get(probe); err != nil {
		t.Fatalf("memcached at %s is not reachable (get): %v", addr, err)
	}
	_ = mc.Delete(probe)
	return mc
}

// CleanupControllers deletes the window log items of the given controller keys.
// Failures are logged only.
func CleanupControllers(t *testing.T, client *memcache.Client, controllerKeys ...string) {
	t.Helper()
	for _, key := range controllerKeys {
		err := client.Delete("admission:" + key)
		if err != nil && !errors.Is(err, memcache.ErrCacheMiss) {
			t.Logf("cleanup: failed to delete window log of controller '%s': %v", key, err)
		}
	}
}
