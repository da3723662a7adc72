package config

import (
	"context"
	"errors"

	goredis "github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"

	"github.com/unkn0wn-root/entcache"
	c "github.com/unkn0wn-root/entcache/codec"
	gen "github.com/unkn0wn-root/entcache/genstore"
	pr "github.com/unkn0wn-root/entcache/provider"
	"github.com/unkn0wn-root/entcache/provider/badger"
	"github.com/unkn0wn-root/entcache/provider/bigcache"
	"github.com/unkn0wn-root/entcache/provider/breaker"
	"github.com/unkn0wn-root/entcache/provider/lru"
	"github.com/unkn0wn-root/entcache/provider/redis"
	"github.com/unkn0wn-root/entcache/provider/ristretto"
)

// Open builds the provider and generation store described by cfg and returns
// a Cache owning both. logger and hooks may be nil.
func Open(ctx context.Context, cfg Config, logger entcache.Logger, hooks entcache.Hooks) (*entcache.Cache, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = entcache.NopLogger{}
	}

	p, client, err := openProvider(ctx, cfg.Provider, logger)
	if err != nil {
		return nil, err
	}
	gs, err := openGenStore(cfg, client)
	if err != nil {
		_ = p.Close(ctx)
		return nil, err
	}
	codec, err := recordCodec(cfg.Codec)
	if err != nil {
		_ = p.Close(ctx)
		return nil, err
	}

	cache, err := entcache.New(entcache.Options{
		Namespace:       cfg.Namespace,
		Version:         cfg.Version,
		Provider:        p,
		Codec:           codec,
		Logger:          logger,
		Hooks:           hooks,
		GenStore:        gs,
		CleanupInterval: cfg.GenStore.CleanupInterval,
		GenRetention:    cfg.GenStore.Retention,
		Disabled:        cfg.Disabled,
		MaxDecodeBytes:  cfg.MaxDecodeBytes,
	})
	if err != nil {
		if gs != nil {
			_ = gs.Close(ctx)
		}
		_ = p.Close(ctx)
		return nil, err
	}
	logger.Info("cache opened", entcache.Fields{"namespace": cfg.Namespace, "provider": cfg.Provider.Kind, "version": cfg.Version})
	return cache, nil
}

// openProvider returns the redis client it created, if any, so the
// generation store can share it.
func openProvider(ctx context.Context, pc ProviderConfig, logger entcache.Logger) (pr.Provider, goredis.UniversalClient, error) {
	var (
		p      pr.Provider
		client goredis.UniversalClient
		err    error
	)
	switch pc.Kind {
	case "lru":
		var lc lru.Config
		if pc.LRU != nil {
			lc.Size = pc.LRU.Size
		}
		p, err = lru.New(lc)
	case "badger":
		p, err = badger.Open(badger.Config{Dir: pc.Badger.Dir, InMemory: pc.Badger.InMemory})
	case "bigcache":
		p, err = bigcache.New(ctx, bigcache.Config{
			LifeWindow:         pc.BigCache.LifeWindow,
			CleanWindow:        pc.BigCache.CleanWindow,
			MaxEntriesInWindow: pc.BigCache.MaxEntriesInWindow,
			MaxEntrySize:       pc.BigCache.MaxEntrySize,
			HardMaxCacheSizeMB: pc.BigCache.HardMaxCacheSizeMB,
		})
	case "ristretto":
		p, err = ristretto.New(ristretto.Config{
			NumCounters: pc.Ristretto.NumCounters,
			MaxCost:     pc.Ristretto.MaxCost,
			BufferItems: pc.Ristretto.BufferItems,
			Metrics:     pc.Ristretto.Metrics,
			SyncWrites:  pc.Ristretto.SyncWrites,
		})
	case "redis":
		client = newRedisClient(pc.Redis)
		p, err = redis.New(redis.Config{Client: client, CloseClient: true})
	default:
		err = errors.New("config: unknown provider kind " + pc.Kind)
	}
	if err != nil {
		if client != nil {
			_ = client.Close()
		}
		return nil, nil, err
	}

	if pc.Breaker != nil {
		wrapped, err := breaker.New(p, breaker.Config{
			Name:                pc.Breaker.Name,
			ConsecutiveFailures: pc.Breaker.ConsecutiveFailures,
			OpenTimeout:         pc.Breaker.OpenTimeout,
			HalfOpenRequests:    pc.Breaker.HalfOpenRequests,
			OnStateChange: func(name string, from, to gobreaker.State) {
				logger.Warn("provider breaker state change", entcache.Fields{"breaker": name, "from": from.String(), "to": to.String()})
			},
		})
		if err != nil {
			_ = p.Close(ctx)
			return nil, nil, err
		}
		p = wrapped
	}
	return p, client, nil
}

// openGenStore returns nil for the local store; entcache.New builds it from
// the cleanup and retention settings.
func openGenStore(cfg Config, shared goredis.UniversalClient) (gen.GenStore, error) {
	if cfg.GenStore.Kind != "redis" {
		return nil, nil
	}
	rc := gen.RedisConfig{Namespace: cfg.Namespace, TTL: cfg.GenStore.TTL}
	switch {
	case cfg.GenStore.Redis != nil:
		rc.Client = newRedisClient(cfg.GenStore.Redis)
		rc.CloseClient = true
	case shared != nil:
		// the provider closes the shared client
		rc.Client = shared
	}
	return gen.NewRedisGenStore(rc)
}

func newRedisClient(rc *RedisConfig) goredis.UniversalClient {
	return goredis.NewUniversalClient(&goredis.UniversalOptions{
		Addrs:    rc.Addrs,
		Username: rc.Username,
		Password: rc.Password,
		DB:       rc.DB,
	})
}

func recordCodec(name string) (c.Codec[entcache.ContainerRecord], error) {
	switch name {
	case "", "msgpack":
		return c.Msgpack[entcache.ContainerRecord]{}, nil
	case "json":
		return c.JSON[entcache.ContainerRecord]{}, nil
	case "cbor":
		return c.NewCBOR[entcache.ContainerRecord](true)
	}
	return nil, errors.New("config: unknown codec " + name)
}
