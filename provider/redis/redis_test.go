package redis

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

func TestNewRequiresClient(t *testing.T) {
	if _, err := New(Config{}); !errors.Is(err, ErrNilClient) {
		t.Fatalf("expected ErrNilClient, got %v", err)
	}
}

// Runs against a live server when ENTCACHE_REDIS_ADDR is set.
func TestRedisRoundTrip(t *testing.T) {
	addr := os.Getenv("ENTCACHE_REDIS_ADDR")
	if addr == "" {
		t.Skip("ENTCACHE_REDIS_ADDR not set")
	}
	ctx := context.Background()
	p, err := New(Config{Client: goredis.NewClient(&goredis.Options{Addr: addr}), CloseClient: true})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = p.Close(ctx) })

	key := "entcache:test:" + time.Now().Format(time.RFC3339Nano)
	if ok, err := p.Set(ctx, key, []byte("v"), 1, time.Minute); err != nil || !ok {
		t.Fatalf("Set ok=%v err=%v", ok, err)
	}
	if ok, err := p.Exists(ctx, key); err != nil || !ok {
		t.Fatalf("Exists ok=%v err=%v", ok, err)
	}
	if b, ok, err := p.Get(ctx, key); err != nil || !ok || string(b) != "v" {
		t.Fatalf("Get b=%q ok=%v err=%v", b, ok, err)
	}
	if err := p.Del(ctx, key); err != nil {
		t.Fatal(err)
	}
	if _, ok, _ := p.Get(ctx, key); ok {
		t.Fatalf("expected miss after Del")
	}
}
