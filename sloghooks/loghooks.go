package sloghooks

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"sync/atomic"

	"github.com/unkn0wn-root/entcache"
)

type Options struct {
	// Sampling to avoid floods; 0/1 = log all.
	SelfHealEvery  uint64
	DuplicateEvery uint64
	// Optional key redactor. Defaults to SHA-256 prefix.
	Redact func(string) string
}

type Hooks struct {
	l    *slog.Logger
	opts Options

	selfHealCtr  atomic.Uint64
	duplicateCtr atomic.Uint64
}

var _ entcache.Hooks = (*Hooks)(nil)

func New(l *slog.Logger, opts Options) *Hooks {
	return &Hooks{l: l, opts: opts}
}

func (h *Hooks) redact(k string) string {
	if h.opts.Redact != nil {
		return h.opts.Redact(k)
	}
	sum := sha256.Sum256([]byte(k))
	return hex.EncodeToString(sum[:8])
}

func sample(n uint64, ctr *atomic.Uint64) bool {
	if n == 0 || n == 1 {
		return true
	}
	return ctr.Add(1)%n == 0
}

func (h *Hooks) SelfHeal(storageKey, reason string) {
	if h.l == nil || !sample(h.opts.SelfHealEvery, &h.selfHealCtr) {
		return
	}
	h.l.Debug("entcache.self_heal",
		"key", h.redact(storageKey),
		"reason", reason)
}

func (h *Hooks) ProviderSetRejected(storageKey string) {
	if h.l == nil {
		return
	}
	h.l.Warn("entcache.provider_set_rejected",
		"key", h.redact(storageKey))
}

func (h *Hooks) GenSnapshotError(subject string, err error) {
	if h.l == nil {
		return
	}
	h.l.Warn("entcache.gen_snapshot_error",
		"subject", h.redact(subject),
		"err", err)
}

func (h *Hooks) GenBumpError(subject string, err error) {
	if h.l == nil {
		return
	}
	h.l.Warn("entcache.gen_bump_error",
		"subject", h.redact(subject),
		"err", err)
}

func (h *Hooks) StaleWriteSkipped(storageKey string) {
	if h.l == nil {
		return
	}
	h.l.Debug("entcache.stale_write_skipped",
		"key", h.redact(storageKey))
}

func (h *Hooks) InvalidateOutage(subject string, err error) {
	if h.l == nil {
		return
	}
	h.l.Error("entcache.invalidate_outage",
		"subject", h.redact(subject),
		"err", err)
}

func (h *Hooks) DuplicateDropped(fingerprint, origin string) {
	if h.l == nil || !sample(h.opts.DuplicateEvery, &h.duplicateCtr) {
		return
	}
	h.l.Debug("entcache.duplicate_dropped",
		"fingerprint", fingerprint,
		"origin", origin)
}

func (h *Hooks) DeferredFailed(origin string, err error) {
	if h.l == nil {
		return
	}
	h.l.Error("entcache.deferred_failed",
		"origin", origin,
		"err", err)
}
