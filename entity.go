package entcache

import (
	"context"
	"sort"
	"time"

	gen "github.com/unkn0wn-root/entcache/genstore"
	"github.com/unkn0wn-root/entcache/internal/util"
	"github.com/unkn0wn-root/entcache/internal/wire"
	pr "github.com/unkn0wn-root/entcache/provider"
)

const entityNamespace = "entity"

// EntityCache stores raw values and sub-keyed values, and tracks which keys
// were derived from which subject so that they can be purged together.
type EntityCache struct {
	store          *ContainerStore
	provider       pr.Provider
	keys           KeyBuilder
	gen            gen.GenStore
	log            Logger
	hooks          Hooks
	computeSetCost SetCostFunc
	enabled        bool
}

// MakeKey derives a backend key (see KeyBuilder.Make).
func (e *EntityCache) MakeKey(namespace string, parts ...any) string {
	return e.keys.Make(namespace, parts...)
}

// Fetch returns the raw value at key. Backend errors read as a miss.
func (e *EntityCache) Fetch(ctx context.Context, key string) ([]byte, bool) {
	if !e.enabled {
		return nil, false
	}
	v, ok, err := e.provider.Get(ctx, key)
	if err != nil {
		e.log.Warn("entity fetch failed; treating as miss", Fields{"key": key, "err": err})
		return nil, false
	}
	return v, ok
}

// Save stores a raw value. ttl <= 0 means no expiry.
func (e *EntityCache) Save(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if !e.enabled {
		return nil
	}
	return e.set(ctx, key, value, ttl)
}

func (e *EntityCache) Delete(ctx context.Context, key string) error {
	if !e.enabled {
		return nil
	}
	return e.provider.Del(ctx, key)
}

func (e *EntityCache) Contains(ctx context.Context, key string) bool {
	if !e.enabled {
		return false
	}
	ok, err := pr.Contains(ctx, e.provider, key)
	if err != nil {
		e.log.Warn("entity contains failed", Fields{"key": key, "err": err})
		return false
	}
	return ok
}

// FetchSub returns the value stored under subID inside the sub-keyed value at key.
func (e *EntityCache) FetchSub(ctx context.Context, key, subID string) ([]byte, bool) {
	if !e.enabled {
		return nil, false
	}
	m := e.readSubMap(ctx, key)
	v, ok := m[subKey(subID)]
	return v, ok
}

// SaveSub merges subID into the sub-keyed value at key; other sub-keys are kept.
// ttl applies to the whole value.
func (e *EntityCache) SaveSub(ctx context.Context, key, subID string, value []byte, ttl time.Duration) error {
	if !e.enabled {
		return nil
	}
	m := e.readSubMap(ctx, key)
	m[subKey(subID)] = value
	return e.writeSubMap(ctx, key, m, ttl)
}

// OverrideSub replaces the sub-keyed value at key with the single entry subID.
func (e *EntityCache) OverrideSub(ctx context.Context, key, subID string, value []byte, ttl time.Duration) error {
	if !e.enabled {
		return nil
	}
	return e.writeSubMap(ctx, key, map[string][]byte{subKey(subID): value}, ttl)
}

// DeleteSub removes subID. The value at key is deleted once no sub-keys remain;
// otherwise the rest is rewritten with ttl, which replaces the previous expiry
// (<= 0 means none) as in SaveSub.
func (e *EntityCache) DeleteSub(ctx context.Context, key, subID string, ttl time.Duration) error {
	if !e.enabled {
		return nil
	}
	m := e.readSubMap(ctx, key)
	sk := subKey(subID)
	if _, ok := m[sk]; !ok {
		return nil
	}
	delete(m, sk)
	if len(m) == 0 {
		return e.provider.Del(ctx, key)
	}
	return e.writeSubMap(ctx, key, m, ttl)
}

// Associate records that key was derived from subject. Sub-objects are
// associated with their base subject. The association record never expires.
func (e *EntityCache) Associate(ctx context.Context, subject Subject, key string) error {
	if !e.enabled {
		return nil
	}
	base := subject.Base()
	ct := e.store.Read(ctx, e.associationKey(base))
	if ct.IsAssociated(key) && ct.Subject() != "" {
		return nil
	}
	ct.SetSubject(base.Hash())
	ct.Associate(key)
	return e.store.Save(ctx, ct, 0)
}

// AssociatedKeys lists the keys currently associated with subject.
func (e *EntityCache) AssociatedKeys(ctx context.Context, subject Subject) []string {
	if !e.enabled {
		return nil
	}
	return e.store.Read(ctx, e.associationKey(subject.Base())).Associations()
}

// Invalidate bumps the subject generation, deletes every key associated with
// subject and then the association record itself. A subject that was never
// associated is a no-op. Backend failures are reported as *InvalidateError;
// a failed bump alone is only logged since the deletes already took effect.
func (e *EntityCache) Invalidate(ctx context.Context, subject Subject) error {
	if !e.enabled {
		return nil
	}
	base := subject.Base()
	h := base.Hash()

	newGen, bumpErr := e.gen.Bump(ctx, h)
	if bumpErr != nil {
		e.hooks.GenBumpError(h, bumpErr)
		e.log.Error("gen bump failed", Fields{"subject": h, "err": bumpErr})
	}

	recKey := e.associationKey(base)
	ct := e.store.Read(ctx, recKey)
	if ct.IsEmpty() {
		return nil
	}
	ierr := &InvalidateError{Subject: h}
	for _, k := range ct.Associations() {
		if err := e.store.Delete(ctx, k); err != nil {
			if ierr.KeyErrs == nil {
				ierr.KeyErrs = make(map[string]error)
			}
			ierr.KeyErrs[k] = err
		}
	}
	if err := e.store.Delete(ctx, recKey); err != nil {
		ierr.DelErr = err
	}

	if ierr.empty() {
		e.log.Debug("invalidated subject", Fields{"subject": h, "keys": len(ct.Associations()), "newGen": newGen})
		return nil
	}
	ierr.BumpErr = bumpErr
	e.hooks.InvalidateOutage(h, ierr)
	e.log.Error("invalidate incomplete", Fields{"subject": h, "failedKeys": len(ierr.KeyErrs), "err": ierr})
	return ierr
}

// Generation returns the current generation of subject's base; errors read as 0.
func (e *EntityCache) Generation(ctx context.Context, subject Subject) uint64 {
	h := subject.Base().Hash()
	g, err := e.gen.Snapshot(ctx, h)
	if err != nil {
		e.hooks.GenSnapshotError(h, err)
		e.log.Warn("gen snapshot failed", Fields{"subject": h, "err": err})
		return 0
	}
	return g
}

// Generations snapshots the base subjects of a batch in one GenStore call.
// The result is keyed by base subject hash; on error every subject reads as 0.
func (e *EntityCache) Generations(ctx context.Context, subjects []Subject) map[string]uint64 {
	hashes := make([]string, 0, len(subjects))
	seen := make(map[string]struct{}, len(subjects))
	for _, s := range subjects {
		h := s.Base().Hash()
		if _, ok := seen[h]; ok {
			continue
		}
		seen[h] = struct{}{}
		hashes = append(hashes, h)
	}
	if len(hashes) == 0 {
		return map[string]uint64{}
	}
	gens, err := e.gen.SnapshotMany(ctx, hashes)
	if err != nil {
		for _, h := range hashes {
			e.hooks.GenSnapshotError(h, err)
		}
		e.log.Warn("gen snapshot failed", Fields{"subjects": len(hashes), "err": err})
		return make(map[string]uint64, len(hashes))
	}
	return gens
}

func (e *EntityCache) associationKey(base Subject) string {
	return e.keys.Make(entityNamespace, base)
}

func (e *EntityCache) set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	ok, err := e.provider.Set(ctx, key, value, e.computeSetCost(key, value), ttl)
	if err != nil {
		return err
	}
	if !ok {
		e.hooks.ProviderSetRejected(key)
		e.log.Debug("entity save rejected by provider (pressure)", Fields{"key": key})
	}
	return nil
}

func (e *EntityCache) readSubMap(ctx context.Context, key string) map[string][]byte {
	out := make(map[string][]byte)
	raw, ok, err := e.provider.Get(ctx, key)
	if err != nil {
		e.log.Warn("sub-map read failed; treating as miss", Fields{"key": key, "err": err})
		return out
	}
	if !ok {
		return out
	}
	items, err := wire.DecodeSubMap(raw)
	if err != nil {
		_ = e.provider.Del(ctx, key)
		e.hooks.SelfHeal(key, "corrupt")
		return out
	}
	for _, it := range items {
		out[it.Key] = it.Payload
	}
	return out
}

func (e *EntityCache) writeSubMap(ctx context.Context, key string, m map[string][]byte, ttl time.Duration) error {
	items := make([]wire.SubItem, 0, len(m))
	for k, v := range m {
		items = append(items, wire.SubItem{Key: k, Payload: v})
	}
	// stable byte output for identical maps
	sort.Slice(items, func(i, j int) bool { return items[i].Key < items[j].Key })
	b, err := wire.EncodeSubMap(items)
	if err != nil {
		return err
	}
	return e.set(ctx, key, b, ttl)
}

func subKey(subID string) string { return util.Digest(subID) }
