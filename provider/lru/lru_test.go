package lru

import (
	"context"
	"testing"
	"time"
)

func TestLRUTTLAndNoExpiry(t *testing.T) {
	ctx := context.Background()
	p, err := New(Config{Size: 8})
	if err != nil {
		t.Fatal(err)
	}
	now := time.Unix(1_700_000_000, 0)
	p.now = func() time.Time { return now }

	if _, err := p.Set(ctx, "ttl", []byte("a"), 1, time.Minute); err != nil {
		t.Fatal(err)
	}
	if _, err := p.Set(ctx, "forever", []byte("b"), 1, 0); err != nil {
		t.Fatal(err)
	}

	now = now.Add(2 * time.Minute)

	if _, ok, _ := p.Get(ctx, "ttl"); ok {
		t.Fatalf("expired entry served")
	}
	if ok, _ := p.Exists(ctx, "forever"); !ok {
		t.Fatalf("zero-TTL entry should not expire")
	}
	if b, ok, _ := p.Get(ctx, "forever"); !ok || string(b) != "b" {
		t.Fatalf("Get forever: %q %v", b, ok)
	}
}

func TestLRUEvictsAndReports(t *testing.T) {
	ctx := context.Background()
	var evicted []string
	p, err := New(Config{Size: 2, OnEvict: func(k string) { evicted = append(evicted, k) }})
	if err != nil {
		t.Fatal(err)
	}
	for _, k := range []string{"a", "b", "c"} {
		_, _ = p.Set(ctx, k, []byte(k), 1, 0)
	}
	if len(evicted) != 1 || evicted[0] != "a" {
		t.Fatalf("expected a evicted, got %v", evicted)
	}
	if p.Len() != 2 {
		t.Fatalf("Len=%d", p.Len())
	}
}

func TestLRUCopiesValue(t *testing.T) {
	ctx := context.Background()
	p, _ := New(Config{})
	buf := []byte("abc")
	_, _ = p.Set(ctx, "k", buf, 1, 0)
	buf[0] = 'X'
	b, _, _ := p.Get(ctx, "k")
	if string(b) != "abc" {
		t.Fatalf("stored value aliased caller buffer: %q", b)
	}
}
