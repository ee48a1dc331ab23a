//go:build integration
// +build integration

package cache

import (
	"context"
	"testing"
	"time"
)

// TestMemcachedStore_Contract_Integration runs the shared partition contract against a
// memcached server on localhost:11211. Each subtest uses a flushed server.
func TestMemcachedStore_Contract_Integration(t *testing.T) {
	probe, err := NewMemcachedStore("localhost:11211", 500*time.Millisecond, 2, nil)
	if err != nil {
		t.Fatalf("NewMemcachedStore() error = %v", err)
	}
	if err := probe.Ping(context.Background()); err != nil {
		t.Skipf("memcached not running: %v", err)
	}
	_ = probe.Close()

	runStoreContract(t, func(t *testing.T) Store {
		s, err := NewMemcachedStore("localhost:11211", 500*time.Millisecond, 2, nil)
		if err != nil {
			t.Fatalf("NewMemcachedStore() error = %v", err)
		}
		if err := s.client.FlushAll(); err != nil {
			t.Fatalf("FlushAll() error = %v", err)
		}
		t.Cleanup(func() { _ = s.Close() })
		return s
	})
}
