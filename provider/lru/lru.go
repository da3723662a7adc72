// Package lru is an in-process provider backed by hashicorp/golang-lru.
// Entries carry their own deadline, so per-call TTLs are honored and a
// zero TTL never expires (only LRU pressure evicts it).
package lru

import (
	"context"
	"errors"
	"time"

	hlru "github.com/hashicorp/golang-lru/v2"

	pr "github.com/unkn0wn-root/entcache/provider"
)

type entry struct {
	v   []byte
	exp time.Time // zero => no TTL
}

type Provider struct {
	c   *hlru.Cache[string, entry]
	now func() time.Time
}

var (
	_ pr.Provider = (*Provider)(nil)
	_ pr.Exister  = (*Provider)(nil)
)

type Config struct {
	Size int // max entries; 0 => 10_000
	// OnEvict is called when an entry is pushed out by size pressure.
	OnEvict func(key string)
}

func New(cfg Config) (*Provider, error) {
	size := cfg.Size
	if size == 0 {
		size = 10_000
	}
	if size < 0 {
		return nil, errors.New("lru: negative size")
	}
	var (
		c   *hlru.Cache[string, entry]
		err error
	)
	if cfg.OnEvict != nil {
		c, err = hlru.NewWithEvict(size, func(k string, _ entry) { cfg.OnEvict(k) })
	} else {
		c, err = hlru.New[string, entry](size)
	}
	if err != nil {
		return nil, err
	}
	return &Provider{c: c, now: time.Now}, nil
}

func (p *Provider) Get(_ context.Context, key string) ([]byte, bool, error) {
	e, ok := p.c.Get(key)
	if !ok {
		return nil, false, nil
	}
	if !e.exp.IsZero() && p.now().After(e.exp) {
		p.c.Remove(key)
		return nil, false, nil
	}
	return e.v, true, nil
}

func (p *Provider) Set(_ context.Context, key string, value []byte, _ int64, ttl time.Duration) (bool, error) {
	var exp time.Time
	if ttl > 0 {
		exp = p.now().Add(ttl)
	}
	// copy so callers can reuse their buffer
	v := make([]byte, len(value))
	copy(v, value)
	p.c.Add(key, entry{v: v, exp: exp})
	return true, nil
}

func (p *Provider) Del(_ context.Context, key string) error {
	p.c.Remove(key)
	return nil
}

func (p *Provider) Exists(_ context.Context, key string) (bool, error) {
	e, ok := p.c.Peek(key)
	if !ok {
		return false, nil
	}
	if !e.exp.IsZero() && p.now().After(e.exp) {
		p.c.Remove(key)
		return false, nil
	}
	return true, nil
}

// Len reports the number of stored entries, expired ones included.
func (p *Provider) Len() int { return p.c.Len() }

func (p *Provider) Close(_ context.Context) error {
	p.c.Purge()
	return nil
}
