// Package breaker wraps a provider in a circuit breaker. While the breaker
// is open, reads are served as misses and writes are reported as rejected,
// so an unavailable backend degrades to recomputation instead of latency.
// Deletes still fail loudly: a lost delete means a stale association.
package breaker

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker"

	pr "github.com/unkn0wn-root/entcache/provider"
)

type Provider struct {
	inner pr.Provider
	cb    *gobreaker.CircuitBreaker
}

var _ pr.Provider = (*Provider)(nil)

type Config struct {
	Name string
	// ConsecutiveFailures opens the breaker; 0 => 5.
	ConsecutiveFailures uint32
	// OpenTimeout is how long the breaker stays open before probing; 0 => 30s.
	OpenTimeout time.Duration
	// HalfOpenRequests allowed while probing; 0 => 1.
	HalfOpenRequests uint32
	OnStateChange    func(name string, from, to gobreaker.State)
}

func New(inner pr.Provider, cfg Config) (*Provider, error) {
	if inner == nil {
		return nil, errors.New("breaker: nil provider")
	}
	failures := cfg.ConsecutiveFailures
	if failures == 0 {
		failures = 5
	}
	timeout := cfg.OpenTimeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	name := cfg.Name
	if name == "" {
		name = "entcache"
	}
	st := gobreaker.Settings{
		Name:        name,
		MaxRequests: cfg.HalfOpenRequests,
		Timeout:     timeout,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= failures
		},
		OnStateChange: cfg.OnStateChange,
	}
	return &Provider{inner: inner, cb: gobreaker.NewCircuitBreaker(st)}, nil
}

func isOpen(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}

type getResult struct {
	b  []byte
	ok bool
}

func (p *Provider) Get(ctx context.Context, key string) ([]byte, bool, error) {
	res, err := p.cb.Execute(func() (interface{}, error) {
		b, ok, err := p.inner.Get(ctx, key)
		return getResult{b: b, ok: ok}, err
	})
	if isOpen(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	r := res.(getResult)
	return r.b, r.ok, nil
}

func (p *Provider) Set(ctx context.Context, key string, value []byte, cost int64, ttl time.Duration) (bool, error) {
	res, err := p.cb.Execute(func() (interface{}, error) {
		return p.inner.Set(ctx, key, value, cost, ttl)
	})
	if isOpen(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return res.(bool), nil
}

func (p *Provider) Del(ctx context.Context, key string) error {
	_, err := p.cb.Execute(func() (interface{}, error) {
		return nil, p.inner.Del(ctx, key)
	})
	return err
}

func (p *Provider) Close(ctx context.Context) error { return p.inner.Close(ctx) }

// State exposes the breaker state for health checks.
func (p *Provider) State() gobreaker.State { return p.cb.State() }
