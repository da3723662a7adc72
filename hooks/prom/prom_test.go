package promhooks

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/unkn0wn-root/entcache"
	"github.com/unkn0wn-root/entcache/deferred"
	"github.com/unkn0wn-root/entcache/provider/lru"
)

func TestCountsEvents(t *testing.T) {
	reg := prometheus.NewRegistry()
	h, err := New(reg, "smw")
	require.NoError(t, err)

	h.SelfHeal("k1", "corrupt")
	h.SelfHeal("k2", "corrupt")
	h.SelfHeal("k3", "gen_mismatch")
	h.GenBumpError("Berlin#0##", errors.New("down"))
	h.StaleWriteSkipped("k4")

	require.Equal(t, 2.0, testutil.ToFloat64(h.selfHeal.WithLabelValues("corrupt")))
	require.Equal(t, 1.0, testutil.ToFloat64(h.selfHeal.WithLabelValues("gen_mismatch")))
	require.Equal(t, 1.0, testutil.ToFloat64(h.genErrors.WithLabelValues("bump")))
	require.Equal(t, 1.0, testutil.ToFloat64(h.staleWrites))

	families, err := reg.Gather()
	require.NoError(t, err)
	var names []string
	for _, mf := range families {
		names = append(names, mf.GetName())
	}
	require.Contains(t, names, "entcache_self_heal_total")
	require.Contains(t, names, "entcache_stale_writes_skipped_total")
}

func TestDuplicateRegistrationFails(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := New(reg, "smw")
	require.NoError(t, err)
	_, err = New(reg, "smw")
	require.Error(t, err)

	// another cache label registers a distinct series set
	_, err = New(reg, "other")
	require.NoError(t, err)
}

func TestWiredIntoDeferredQueue(t *testing.T) {
	h, err := New(prometheus.NewRegistry(), "smw")
	require.NoError(t, err)

	q := deferred.New(deferred.Options{Hooks: h, Scheduler: deferred.NewRequestScheduler()})
	for i := 0; i < 3; i++ {
		q.NewUpdate(func(context.Context) error { return nil }).
			SetFingerprint("same").
			SetOrigin("test").
			Push(context.Background())
	}
	require.Equal(t, 2.0, testutil.ToFloat64(h.duplicates.WithLabelValues("test")))

	p, err := lru.New(lru.Config{Size: 16})
	require.NoError(t, err)
	cache, err := entcache.New(entcache.Options{Namespace: "smw", Provider: p, Hooks: h})
	require.NoError(t, err)
	defer cache.Close(context.Background())

	key := cache.Keys().Make("raw", "x")
	_, _ = p.Set(context.Background(), key, []byte("garbage"), 1, 0)
	cache.Containers().Read(context.Background(), key)
	require.Equal(t, 1.0, testutil.ToFloat64(h.selfHeal.WithLabelValues("corrupt")))
}
