package prefetch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/unkn0wn-root/entcache"
	c "github.com/unkn0wn-root/entcache/codec"
	"github.com/unkn0wn-root/entcache/deferred"
)

const (
	queryNamespace = "query"
	resultsSubKey  = "results"
)

// QueryEngine answers queries on a cache miss.
type QueryEngine interface {
	GetQueryResult(ctx context.Context, q Query) (*Result, error)
}

type QueryEngineFunc func(ctx context.Context, q Query) (*Result, error)

func (f QueryEngineFunc) GetQueryResult(ctx context.Context, q Query) (*Result, error) {
	return f(ctx, q)
}

type QueryResultOptions struct {
	// Required
	Cache *entcache.Cache
	Queue *deferred.Queue

	// NonEmbeddedTTL bounds results of standalone queries; <= 0 disables
	// caching for them. Embedded results never expire and are evicted with
	// their subject.
	NonEmbeddedTTL time.Duration
	StatsID        string // "query" by default
	// ResultCodec encodes the stored result; nil => msgpack. It is bounded
	// by the cache's MaxDecodeBytes.
	ResultCodec c.Codec[StoredResult]
}

// QueryResultCache serves query results from the container store and
// persists misses in the background.
type QueryResultCache struct {
	cache *entcache.Cache
	queue *deferred.Queue
	ttl   time.Duration
	codec c.Codec[StoredResult]
	stats *entcache.StatsCollector
	log   entcache.Logger
	hooks entcache.Hooks

	mu     sync.RWMutex
	engine QueryEngine
}

func NewQueryResultCache(opts QueryResultOptions) (*QueryResultCache, error) {
	if opts.Cache == nil || opts.Queue == nil {
		return nil, errors.New("prefetch: cache and queue are required")
	}
	statsID := opts.StatsID
	if statsID == "" {
		statsID = queryNamespace
	}
	var cd c.Codec[StoredResult] = c.Msgpack[StoredResult]{}
	if opts.ResultCodec != nil {
		cd = opts.ResultCodec
	}
	return &QueryResultCache{
		cache: opts.Cache,
		queue: opts.Queue,
		ttl:   opts.NonEmbeddedTTL,
		codec: c.WithLimit(cd, opts.Cache.MaxDecodeBytes()),
		stats: opts.Cache.NewStatsCollector(statsID),
		log:   opts.Cache.Logger(),
		hooks: opts.Cache.Hooks(),
	}, nil
}

func (qc *QueryResultCache) SetEngine(e QueryEngine) {
	qc.mu.Lock()
	qc.engine = e
	qc.mu.Unlock()
}

// GetResult returns the cached result for q, or computes it and schedules
// the write. A hit is reported with Result.FromCache.
func (qc *QueryResultCache) GetResult(ctx context.Context, q Query) (*Result, error) {
	qc.mu.RLock()
	engine := qc.engine
	qc.mu.RUnlock()
	if engine == nil {
		return nil, ErrNoEngine
	}

	if reason := qc.ineligible(q); reason != "" {
		qc.stats.Incr("noCache." + reason)
		return engine.GetQueryResult(ctx, q)
	}

	started := time.Now()
	key := qc.rootKey(q.Signature())
	ec := qc.cache.Entities()

	var gen uint64
	if q.IsEmbedded() {
		gen = ec.Generation(ctx, *q.Subject)
	}

	if res, ok := qc.fetch(ctx, key, gen); ok {
		if q.IsEmbedded() {
			qc.stats.Incr("hits.embedded")
		} else {
			qc.stats.Incr("hits.nonEmbedded")
		}
		qc.stats.Median("medianRetrievalResponseTime.cached", time.Since(started).Seconds())
		return res, nil
	}

	res, err := engine.GetQueryResult(ctx, q)
	if err != nil {
		return nil, err
	}
	qc.stats.Incr("misses")
	qc.stats.Median("medianRetrievalResponseTime.uncached", time.Since(started).Seconds())

	if res != nil {
		qc.schedulePersist(ctx, q, key, gen, toStored(res))
	}
	return res, nil
}

// ResetCacheBy deletes cached results. Items may be a Subject (every result
// embedded in that subject), a query signature string, or a Query.
func (qc *QueryResultCache) ResetCacheBy(ctx context.Context, items ...any) error {
	store := qc.cache.Containers()
	var errs []error
	for _, it := range items {
		var key string
		switch v := it.(type) {
		case entcache.Subject:
			key = qc.subjectKey(v)
		case *entcache.Subject:
			key = qc.subjectKey(*v)
		case string:
			key = qc.rootKey(v)
		case Query:
			key = qc.rootKey(v.Signature())
		case *Query:
			key = qc.rootKey(v.Signature())
		default:
			errs = append(errs, fmt.Errorf("prefetch: cannot reset cache by %T", it))
			continue
		}
		if err := store.Delete(ctx, key); err != nil {
			errs = append(errs, err)
			continue
		}
		qc.stats.Incr("deletes.byResetCacheBy")
	}
	return errors.Join(errs...)
}

// Stats returns collected statistics, including unflushed counts.
func (qc *QueryResultCache) Stats(ctx context.Context) entcache.Report { return qc.stats.Stats(ctx) }

// Close flushes statistics.
func (qc *QueryResultCache) Close(ctx context.Context) error { return qc.stats.Close(ctx) }

func (qc *QueryResultCache) ineligible(q Query) string {
	switch {
	case q.NoCache:
		return "disabled"
	case q.Limit < 1:
		return "byLimit"
	case !q.IsEmbedded() && qc.ttl <= 0:
		return "byNonEmbeddedTTL"
	}
	return ""
}

func (qc *QueryResultCache) fetch(ctx context.Context, key string, gen uint64) (*Result, bool) {
	store := qc.cache.Containers()
	ct := store.Read(ctx, key)
	stored, ok, err := entcache.GetAs(ct, resultsSubKey, qc.codec)
	if !ok && err == nil {
		return nil, false
	}
	if err == nil && ct.Gen() != gen {
		err = errGenMismatch
	}
	var res *Result
	if err == nil {
		res, err = fromStored(stored)
	}
	if err != nil {
		reason := "decode"
		if errors.Is(err, errGenMismatch) {
			reason = "gen_mismatch"
		}
		_ = store.Delete(ctx, key)
		qc.hooks.SelfHeal(key, reason)
		qc.log.Debug("dropped unusable query result", entcache.Fields{"key": key, "reason": reason})
		return nil, false
	}
	return res, true
}

func (qc *QueryResultCache) schedulePersist(ctx context.Context, q Query, key string, gen uint64, stored StoredResult) {
	qc.queue.NewUpdate(func(ctx context.Context) error {
		return qc.persist(ctx, q, key, gen, stored)
	}).
		SetFingerprint(queryNamespace, key).
		SetOrigin("QueryResultCache.persist").
		Push(ctx)
}

func (qc *QueryResultCache) persist(ctx context.Context, q Query, key string, gen uint64, stored StoredResult) error {
	ec := qc.cache.Entities()
	store := qc.cache.Containers()

	if q.IsEmbedded() && ec.Generation(ctx, *q.Subject) != gen {
		qc.hooks.StaleWriteSkipped(key)
		qc.log.Debug("query result persist skipped (gen moved)", entcache.Fields{"key": key, "gen": gen})
		return nil
	}

	ct := store.Read(ctx, key)
	if err := entcache.SetAs(ct, resultsSubKey, stored, qc.codec); err != nil {
		return err
	}
	ct.SetGen(gen)
	if !q.IsEmbedded() {
		return store.Save(ctx, ct, qc.ttl)
	}

	base := q.Subject.Base()
	ct.SetSubject(base.Hash())
	if err := store.Save(ctx, ct, 0); err != nil {
		return err
	}

	// chain into the subject container so resetting the subject drops it
	subjectKey := qc.subjectKey(base)
	sc := store.Read(ctx, subjectKey)
	if sc.AddToLinkedList(key) || sc.Subject() == "" {
		sc.SetSubject(base.Hash())
		if err := store.Save(ctx, sc, 0); err != nil {
			return err
		}
	}
	return ec.Associate(ctx, base, subjectKey)
}

func (qc *QueryResultCache) rootKey(signature string) string {
	return qc.cache.Keys().Make(queryNamespace, signature)
}

func (qc *QueryResultCache) subjectKey(s entcache.Subject) string {
	return qc.cache.Keys().Make(queryNamespace, s.Base())
}

var errGenMismatch = errors.New("prefetch: generation mismatch")
