//go:build integration
// +build integration

package cache

import (
	"context"
	"os"
	"testing"
	"time"
)

func redisURL() string {
	if u := os.Getenv("REDIS_URL"); u != "" {
		return u
	}
	return "redis://localhost:6379/0"
}

func TestRedisCache_GetSet_Integration(t *testing.T) {
	c, err := NewRedisCache(redisURL())
	if err != nil {
		t.Fatalf("NewRedisCache() error = %v", err)
	}
	defer c.Close()

	ctx := context.Background()
	if err := c.Ping(ctx); err != nil {
		t.Skipf("redis not reachable: %v", err)
	}

	val := testResult("Port Angeles")
	if err := c.Set(ctx, "integration-pa", val, time.Minute); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	got, ok, err := c.Get(ctx, "integration-pa")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if !ok || got.LocationLabel != val.LocationLabel {
		t.Errorf("Get() = %+v, %v, want %+v, true", got, ok, val)
	}
}

func TestRedisCache_Expiry_Integration(t *testing.T) {
	c, err := NewRedisCache(redisURL())
	if err != nil {
		t.Fatalf("NewRedisCache() error = %v", err)
	}
	defer c.Close()

	ctx := context.Background()
	if err := c.Ping(ctx); err != nil {
		t.Skipf("redis not reachable: %v", err)
	}

	if err := c.Set(ctx, "integration-short", testResult("x"), 100*time.Millisecond); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	time.Sleep(250 * time.Millisecond)
	if _, ok, err := c.Get(ctx, "integration-short"); err != nil || ok {
		t.Errorf("Get() = %v, %v, want miss after expiry", ok, err)
	}
}
