package prefetch

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/unkn0wn-root/entcache"
	"github.com/unkn0wn-root/entcache/deferred"
	gen "github.com/unkn0wn-root/entcache/genstore"
	"github.com/unkn0wn-root/entcache/provider/lru"
)

type valueEngine struct {
	mu      sync.Mutex
	batches [][]string
	values  map[string][]string
}

func (e *valueEngine) FetchPropertyValues(_ context.Context, subjects []entcache.Subject, _ string, _ ValueOptions) (map[string][]string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	batch := make([]string, 0, len(subjects))
	out := make(map[string][]string)
	for _, s := range subjects {
		batch = append(batch, s.Hash())
		if v, ok := e.values[s.Hash()]; ok {
			out[s.Hash()] = v
		}
	}
	e.batches = append(e.batches, batch)
	return out, nil
}

func (e *valueEngine) calls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.batches)
}

func newValueCache(t *testing.T, f fixture, engine PropertyValueEngine) *PropertyValueCache {
	t.Helper()
	pc, err := NewPropertyValueCache(PropertyValueOptions{
		Cache:  f.cache,
		Queue:  deferred.New(deferred.Options{Immediate: true}),
		Engine: engine,
	})
	require.NoError(t, err)
	return pc
}

func TestPrefetchBatchesMisses(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	engine := &valueEngine{values: map[string][]string{
		berlin.Hash(): {"3645000"},
		paris.Hash():  {"2161000"},
	}}
	pc := newValueCache(t, f, engine)
	rome := entcache.NewSubject("Rome", 0)

	got, err := pc.Prefetch(ctx, []entcache.Subject{berlin, paris, rome, berlin}, "Population", ValueOptions{})
	require.NoError(t, err)
	require.Equal(t, 1, engine.calls())
	require.Len(t, engine.batches[0], 3, "duplicates are fetched once")
	require.Equal(t, []string{"3645000"}, got[berlin.Hash()])
	require.Empty(t, got[rome.Hash()])

	// persisted values survive a fresh memo
	pc.Reset()
	v, err := pc.GetPropertyValues(ctx, paris, "Population", ValueOptions{})
	require.NoError(t, err)
	require.Equal(t, []string{"2161000"}, v)
	require.Equal(t, 1, engine.calls())

	// different options are a different sub-key
	_, err = pc.GetPropertyValues(ctx, paris, "Population", ValueOptions{Limit: 1})
	require.NoError(t, err)
	require.Equal(t, 2, engine.calls())
}

func TestPropertyValuesEvictedByInvalidate(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	engine := &valueEngine{values: map[string][]string{berlin.Hash(): {"3645000"}}}
	pc := newValueCache(t, f, engine)

	_, err := pc.GetPropertyValues(ctx, berlin, "Population", ValueOptions{})
	require.NoError(t, err)
	require.True(t, f.cache.Containers().Exists(ctx, pc.rootKey(berlin)))

	engine.values[berlin.Hash()] = []string{"3700000"}
	require.NoError(t, f.cache.Entities().Invalidate(ctx, berlin))
	require.False(t, f.cache.Containers().Exists(ctx, pc.rootKey(berlin)))

	// the memo is keyed by generation, so the bump hides the old value
	v, err := pc.GetPropertyValues(ctx, berlin, "Population", ValueOptions{})
	require.NoError(t, err)
	require.Equal(t, []string{"3700000"}, v)
	require.Equal(t, 2, engine.calls())
}

func TestPropertyValuesResetCacheBy(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	engine := &valueEngine{values: map[string][]string{berlin.Hash(): {"a"}}}
	pc := newValueCache(t, f, engine)

	sub := entcache.Subject{Title: "Berlin", SubObject: "district"}
	_, err := pc.Prefetch(ctx, []entcache.Subject{berlin, sub}, "Population", ValueOptions{})
	require.NoError(t, err)

	require.NoError(t, pc.ResetCacheBy(ctx, berlin))
	_, err = pc.GetPropertyValues(ctx, sub, "Population", ValueOptions{})
	require.NoError(t, err)
	require.Equal(t, 2, engine.calls(), "sub-objects share the base subject container")
}

func TestPropertySpecLookup(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	prop := entcache.NewSubject("Population", 102)

	calls := 0
	sl, err := NewPropertySpecLookup(PropertySpecOptions{
		Cache: f.cache,
		Engine: SpecEngineFunc(func(_ context.Context, _ entcache.Subject, field string) ([]string, error) {
			calls++
			switch field {
			case "type":
				return []string{"_num"}, nil
			case "description:en":
				return []string{"Number of inhabitants"}, nil
			}
			return nil, nil
		}),
	})
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		v, err := sl.GetSpecification(ctx, prop, "type")
		require.NoError(t, err)
		require.Equal(t, []string{"_num"}, v)
	}
	desc, err := sl.GetPropertyDescription(ctx, prop, "en")
	require.NoError(t, err)
	require.Equal(t, "Number of inhabitants", desc)
	require.Equal(t, 2, calls)

	require.NoError(t, f.cache.Entities().Invalidate(ctx, prop))
	_, err = sl.GetSpecification(ctx, prop, "type")
	require.NoError(t, err)
	require.Equal(t, 3, calls)

	require.NoError(t, sl.ResetCacheBy(ctx, prop))
	_, err = sl.GetSpecification(ctx, prop, "type")
	require.NoError(t, err)
	require.Equal(t, 4, calls)
}

func TestPropertySpecOversizedEntryIsRecomputed(t *testing.T) {
	ctx := context.Background()
	p, err := lru.New(lru.Config{Size: 64})
	require.NoError(t, err)
	cache, err := entcache.New(entcache.Options{Namespace: "smw", Provider: p, MaxDecodeBytes: 32})
	require.NoError(t, err)
	t.Cleanup(func() { _ = cache.Close(ctx) })

	prop := entcache.NewSubject("Has_allowed_values", 102)
	calls := 0
	sl, err := NewPropertySpecLookup(PropertySpecOptions{
		Cache: cache,
		Engine: SpecEngineFunc(func(context.Context, entcache.Subject, string) ([]string, error) {
			calls++
			return []string{"Monday", "Tuesday", "Wednesday", "Thursday", "Friday"}, nil
		}),
	})
	require.NoError(t, err)

	for i := 1; i <= 2; i++ {
		v, err := sl.GetSpecification(ctx, prop, "allows")
		require.NoError(t, err)
		require.Len(t, v, 5)
		require.Equal(t, i, calls, "an entry over the decode bound is never served")
	}
}

type countingGenStore struct {
	gen.GenStore
	mu           sync.Mutex
	single, many int
}

func (g *countingGenStore) Snapshot(ctx context.Context, subject string) (uint64, error) {
	g.mu.Lock()
	g.single++
	g.mu.Unlock()
	return g.GenStore.Snapshot(ctx, subject)
}

func (g *countingGenStore) SnapshotMany(ctx context.Context, subjects []string) (map[string]uint64, error) {
	g.mu.Lock()
	g.many++
	g.mu.Unlock()
	return g.GenStore.SnapshotMany(ctx, subjects)
}

func TestPrefetchSnapshotsGenerationsOncePerBatch(t *testing.T) {
	ctx := context.Background()
	p, err := lru.New(lru.Config{Size: 256})
	require.NoError(t, err)
	gs := &countingGenStore{GenStore: gen.NewLocalGenStore(0, 0)}
	cache, err := entcache.New(entcache.Options{Namespace: "smw", Provider: p, GenStore: gs})
	require.NoError(t, err)
	t.Cleanup(func() { _ = cache.Close(ctx) })

	queue := deferred.New(deferred.Options{Scheduler: deferred.NewRequestScheduler()})
	pc, err := NewPropertyValueCache(PropertyValueOptions{
		Cache:  cache,
		Queue:  queue,
		Engine: &valueEngine{values: map[string][]string{}},
	})
	require.NoError(t, err)

	subjects := []entcache.Subject{berlin, paris, entcache.NewSubject("Rome", 0), entcache.NewSubject("Vienna", 0)}
	_, err = pc.Prefetch(ctx, subjects, "Population", ValueOptions{})
	require.NoError(t, err)
	require.Equal(t, 1, gs.many)
	require.Zero(t, gs.single)
}

func TestPropertyValuesAreCopies(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	pc := newValueCache(t, f, &valueEngine{values: map[string][]string{berlin.Hash(): {"3645000"}}})

	v, err := pc.GetPropertyValues(ctx, berlin, "Population", ValueOptions{})
	require.NoError(t, err)
	v[0] = "mutated"
	_ = append(v, "extra")

	again, err := pc.GetPropertyValues(ctx, berlin, "Population", ValueOptions{})
	require.NoError(t, err)
	require.Equal(t, []string{"3645000"}, again)
	again[0] = "mutated again"

	third, err := pc.GetPropertyValues(ctx, berlin, "Population", ValueOptions{})
	require.NoError(t, err)
	require.Equal(t, []string{"3645000"}, third)
}

func TestPropertyValueSubKeysAreUnambiguous(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	engine := PropertyValueEngineFunc(func(_ context.Context, subjects []entcache.Subject, property string, _ ValueOptions) (map[string][]string, error) {
		out := make(map[string][]string, len(subjects))
		for _, s := range subjects {
			out[s.Hash()] = []string{property}
		}
		return out, nil
	})
	pc := newValueCache(t, f, engine)

	// both live in the base container of "Town"; their identity parts only
	// differ in where a ':' falls
	s1 := entcache.Subject{Title: "Town", SubObject: "a"}
	s2 := entcache.Subject{Title: "Town", SubObject: "a:b"}
	a, err := pc.GetPropertyValues(ctx, s1, "b:p", ValueOptions{})
	require.NoError(t, err)
	pc.Reset()
	b, err := pc.GetPropertyValues(ctx, s2, "p", ValueOptions{})
	require.NoError(t, err)
	require.Equal(t, []string{"b:p"}, a)
	require.Equal(t, []string{"p"}, b)
}
