// Package promhooks counts cache events with Prometheus counters.
//
//	hooks, err := promhooks.New(prometheus.DefaultRegisterer, "smw")
//	cache, _ := entcache.New(entcache.Options{Namespace: "smw", Provider: p, Hooks: hooks})
//
// Labels carry reasons and origins only; keys and subjects are never exported.
package promhooks

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/unkn0wn-root/entcache"
)

type Hooks struct {
	selfHeal          *prometheus.CounterVec
	setRejected       prometheus.Counter
	genErrors         *prometheus.CounterVec
	staleWrites       prometheus.Counter
	invalidateOutages prometheus.Counter
	duplicates        *prometheus.CounterVec
	deferredFailed    *prometheus.CounterVec
}

var _ entcache.Hooks = (*Hooks)(nil)

// New registers the counters with reg under the entcache_ prefix. namespace
// becomes a constant label so several caches can share a registry.
func New(reg prometheus.Registerer, namespace string) (*Hooks, error) {
	labels := prometheus.Labels{"cache": namespace}
	counter := func(name, help string) prometheus.Counter {
		return prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "entcache", Name: name, Help: help, ConstLabels: labels,
		})
	}
	vec := func(name, help, label string) *prometheus.CounterVec {
		return prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "entcache", Name: name, Help: help, ConstLabels: labels,
		}, []string{label})
	}

	h := &Hooks{
		selfHeal:          vec("self_heal_total", "Stored entries deleted on read.", "reason"),
		setRejected:       counter("provider_set_rejected_total", "Writes the provider refused under pressure."),
		genErrors:         vec("generation_errors_total", "Generation store failures.", "op"),
		staleWrites:       counter("stale_writes_skipped_total", "Deferred writes dropped after the subject generation moved."),
		invalidateOutages: counter("invalidate_outages_total", "Invalidations that left keys behind."),
		duplicates:        vec("deferred_duplicates_total", "Deferred units collapsed by fingerprint.", "origin"),
		deferredFailed:    vec("deferred_failures_total", "Deferred units that failed or panicked.", "origin"),
	}
	for _, c := range []prometheus.Collector{
		h.selfHeal, h.setRejected, h.genErrors, h.staleWrites,
		h.invalidateOutages, h.duplicates, h.deferredFailed,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return h, nil
}

func (h *Hooks) SelfHeal(_, reason string)             { h.selfHeal.WithLabelValues(reason).Inc() }
func (h *Hooks) ProviderSetRejected(string)            { h.setRejected.Inc() }
func (h *Hooks) GenSnapshotError(string, error)        { h.genErrors.WithLabelValues("snapshot").Inc() }
func (h *Hooks) GenBumpError(string, error)            { h.genErrors.WithLabelValues("bump").Inc() }
func (h *Hooks) StaleWriteSkipped(string)              { h.staleWrites.Inc() }
func (h *Hooks) InvalidateOutage(string, error)        { h.invalidateOutages.Inc() }
func (h *Hooks) DuplicateDropped(_, origin string)     { h.duplicates.WithLabelValues(origin).Inc() }
func (h *Hooks) DeferredFailed(origin string, _ error) { h.deferredFailed.WithLabelValues(origin).Inc() }
