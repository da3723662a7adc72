// usage:
//
// import (
//
//	"log/slog"
//
//	"github.com/unkn0wn-root/entcache"
//	"github.com/unkn0wn-root/entcache/hooks/async"
//	"github.com/unkn0wn-root/entcache/sloghooks"
//
// )
//
//	raw := sloghooks.New(slog.Default(), sloghooks.Options{
//	    SelfHealEvery:  10,  // sample logs: ~every 10th self-heal
//	    DuplicateEvery: 100, // deferred dedup is frequent and expected
//	})
//
// hooks := asynchook.New(raw, 1, 1000) // 1 worker; queue 1000 events
// defer hooks.Close()
//
//	cache, _ := entcache.New(entcache.Options{
//	    Namespace: "smw",
//	    Provider:  provider,
//	    Hooks:     hooks, // or `raw` if you don’t want async
//	})
package asynchook

import (
	"sync"

	"github.com/unkn0wn-root/entcache"
)

// Hooks forwards events to inner on a small worker pool. Events are dropped
// when the queue is full or after Close.
type Hooks struct {
	inner entcache.Hooks
	q     chan func()
	wg    sync.WaitGroup
	once  sync.Once

	mu     sync.RWMutex
	closed bool
}

var _ entcache.Hooks = (*Hooks)(nil)

func New(inner entcache.Hooks, workers, qlen int) *Hooks {
	if workers <= 0 {
		workers = 1
	}
	if qlen <= 0 {
		qlen = 1024
	}

	h := &Hooks{inner: inner, q: make(chan func(), qlen)}
	h.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer h.wg.Done()
			for f := range h.q {
				f()
			}
		}()
	}
	return h
}

// Close drains queued events and stops the workers. Deferred units may
// still report after Close; those events are dropped.
func (h *Hooks) Close() {
	h.once.Do(func() {
		h.mu.Lock()
		h.closed = true
		close(h.q)
		h.mu.Unlock()
		h.wg.Wait()
	})
}

func (h *Hooks) try(f func()) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		return
	}
	select {
	case h.q <- f:
	default: // drop
	}
}

func (h *Hooks) SelfHeal(k, r string)             { h.try(func() { h.inner.SelfHeal(k, r) }) }
func (h *Hooks) ProviderSetRejected(k string)     { h.try(func() { h.inner.ProviderSetRejected(k) }) }
func (h *Hooks) GenBumpError(s string, err error) { h.try(func() { h.inner.GenBumpError(s, err) }) }
func (h *Hooks) StaleWriteSkipped(k string)       { h.try(func() { h.inner.StaleWriteSkipped(k) }) }
func (h *Hooks) GenSnapshotError(s string, err error) {
	h.try(func() { h.inner.GenSnapshotError(s, err) })
}
func (h *Hooks) InvalidateOutage(s string, err error) {
	h.try(func() { h.inner.InvalidateOutage(s, err) })
}
func (h *Hooks) DuplicateDropped(fp, origin string) {
	h.try(func() { h.inner.DuplicateDropped(fp, origin) })
}
func (h *Hooks) DeferredFailed(origin string, err error) {
	h.try(func() { h.inner.DeferredFailed(origin, err) })
}
