package prefetch

import (
	"context"
	"encoding/json"
	"errors"
	"slices"
	"sort"
	"strconv"
	"strings"

	hlru "github.com/hashicorp/golang-lru/v2"

	"github.com/unkn0wn-root/entcache"
	c "github.com/unkn0wn-root/entcache/codec"
	"github.com/unkn0wn-root/entcache/deferred"
)

const pvaluesNamespace = "pvalues"

// ValueOptions narrow a property value lookup.
type ValueOptions struct {
	Limit  int    `json:"l,omitempty"`
	Offset int    `json:"o,omitempty"`
	Sort   string `json:"s,omitempty"`
	Lang   string `json:"lang,omitempty"`
}

func (o ValueOptions) Signature() string {
	raw, _ := json.Marshal(o)
	return string(raw)
}

// PropertyValueEngine fetches values of one property for many subjects in one
// call. The result is keyed by subject hash; absent subjects have no values.
type PropertyValueEngine interface {
	FetchPropertyValues(ctx context.Context, subjects []entcache.Subject, property string, opts ValueOptions) (map[string][]string, error)
}

type PropertyValueEngineFunc func(ctx context.Context, subjects []entcache.Subject, property string, opts ValueOptions) (map[string][]string, error)

func (f PropertyValueEngineFunc) FetchPropertyValues(ctx context.Context, subjects []entcache.Subject, property string, opts ValueOptions) (map[string][]string, error) {
	return f(ctx, subjects, property, opts)
}

type PropertyValueOptions struct {
	// Required
	Cache  *entcache.Cache
	Queue  *deferred.Queue
	Engine PropertyValueEngine

	MemoSize int               // in-process memo entries; 0 => 1024
	Codec    c.Codec[[]string] // nil => msgpack; bounded by the cache's MaxDecodeBytes
}

// PropertyValueCache keeps prefetched property values per subject. Each base
// subject owns one container; every (subject, property, options) lookup is a
// sub-key in it. Containers are associated with their subject.
type PropertyValueCache struct {
	cache  *entcache.Cache
	queue  *deferred.Queue
	engine PropertyValueEngine
	codec  c.Codec[[]string]
	memo   *hlru.Cache[string, []string]
	log    entcache.Logger
	hooks  entcache.Hooks
}

func NewPropertyValueCache(opts PropertyValueOptions) (*PropertyValueCache, error) {
	if opts.Cache == nil || opts.Queue == nil || opts.Engine == nil {
		return nil, errors.New("prefetch: cache, queue and engine are required")
	}
	size := opts.MemoSize
	if size <= 0 {
		size = 1024
	}
	memo, err := hlru.New[string, []string](size)
	if err != nil {
		return nil, err
	}
	var cd c.Codec[[]string] = c.Msgpack[[]string]{}
	if opts.Codec != nil {
		cd = opts.Codec
	}
	return &PropertyValueCache{
		cache:  opts.Cache,
		queue:  opts.Queue,
		engine: opts.Engine,
		codec:  c.WithLimit(cd, opts.Cache.MaxDecodeBytes()),
		memo:   memo,
		log:    opts.Cache.Logger(),
		hooks:  opts.Cache.Hooks(),
	}, nil
}

type lookup struct {
	subject entcache.Subject
	rootKey string
	subKey  string
	gen     uint64
}

func (l lookup) memoKey() string {
	return l.rootKey + "|" + l.subKey + "|" + strconv.FormatUint(l.gen, 10)
}

// Prefetch makes the values of property for subjects available, fetching all
// misses with a single engine call. The result is keyed by subject hash.
func (pc *PropertyValueCache) Prefetch(ctx context.Context, subjects []entcache.Subject, property string, opts ValueOptions) (map[string][]string, error) {
	out := make(map[string][]string, len(subjects))
	store := pc.cache.Containers()
	containers := make(map[string]*entcache.Container)

	gens := pc.cache.Entities().Generations(ctx, subjects)

	var misses []lookup
	seen := make(map[string]struct{}, len(subjects))
	for _, s := range subjects {
		if _, dup := seen[s.Hash()]; dup {
			continue
		}
		seen[s.Hash()] = struct{}{}
		l := pc.lookupFor(s, property, opts, gens[s.Base().Hash()])
		// callers own the returned slices; the memo keeps its own
		if v, ok := pc.memo.Get(l.memoKey()); ok {
			out[s.Hash()] = slices.Clone(v)
			continue
		}
		ct, ok := containers[l.rootKey]
		if !ok {
			ct = pc.readContainer(ctx, store, l)
			containers[l.rootKey] = ct
		}
		if v, ok := pc.decode(ct, l); ok {
			pc.memo.Add(l.memoKey(), v)
			out[s.Hash()] = slices.Clone(v)
			continue
		}
		misses = append(misses, l)
	}
	if len(misses) == 0 {
		return out, nil
	}

	batch := make([]entcache.Subject, len(misses))
	for i, l := range misses {
		batch[i] = l.subject
	}
	fetched, err := pc.engine.FetchPropertyValues(ctx, batch, property, opts)
	if err != nil {
		return nil, err
	}
	fresh := make(map[string][]string, len(misses))
	for _, l := range misses {
		v := fetched[l.subject.Hash()]
		if v == nil {
			v = []string{}
		}
		pc.memo.Add(l.memoKey(), v)
		out[l.subject.Hash()] = slices.Clone(v)
		fresh[l.subject.Hash()] = v
	}
	pc.schedulePersist(ctx, misses, fresh, property, opts)
	return out, nil
}

// GetPropertyValues returns the values of property for one subject.
func (pc *PropertyValueCache) GetPropertyValues(ctx context.Context, subject entcache.Subject, property string, opts ValueOptions) ([]string, error) {
	m, err := pc.Prefetch(ctx, []entcache.Subject{subject}, property, opts)
	if err != nil {
		return nil, err
	}
	return m[subject.Hash()], nil
}

// ResetCacheBy drops every cached value of the given subjects.
func (pc *PropertyValueCache) ResetCacheBy(ctx context.Context, subjects ...entcache.Subject) error {
	store := pc.cache.Containers()
	var errs []error
	for _, s := range subjects {
		rootKey := pc.rootKey(s)
		if err := store.Delete(ctx, rootKey); err != nil {
			errs = append(errs, err)
		}
		for _, k := range pc.memo.Keys() {
			if strings.HasPrefix(k, rootKey+"|") {
				pc.memo.Remove(k)
			}
		}
	}
	return errors.Join(errs...)
}

// Reset clears the in-process memo.
func (pc *PropertyValueCache) Reset() { pc.memo.Purge() }

func (pc *PropertyValueCache) lookupFor(s entcache.Subject, property string, opts ValueOptions, gen uint64) lookup {
	return lookup{
		subject: s,
		rootKey: pc.rootKey(s),
		subKey:  entcache.Fingerprint(s.Hash(), property, opts.Signature()),
		gen:     gen,
	}
}

func (pc *PropertyValueCache) rootKey(s entcache.Subject) string {
	return pc.cache.Keys().Make(pvaluesNamespace, s.Base())
}

// readContainer drops containers written under an older generation.
func (pc *PropertyValueCache) readContainer(ctx context.Context, store *entcache.ContainerStore, l lookup) *entcache.Container {
	ct := store.Read(ctx, l.rootKey)
	if ct.IsEmpty() || ct.Gen() == l.gen {
		return ct
	}
	_ = store.Delete(ctx, l.rootKey)
	pc.hooks.SelfHeal(l.rootKey, "gen_mismatch")
	return entcache.NewContainer(l.rootKey)
}

func (pc *PropertyValueCache) decode(ct *entcache.Container, l lookup) ([]string, bool) {
	v, ok, err := entcache.GetAs(ct, l.subKey, pc.codec)
	if err != nil {
		pc.log.Debug("undecodable property values; refetching", entcache.Fields{"key": l.rootKey, "err": err})
		return nil, false
	}
	return v, ok
}

func (pc *PropertyValueCache) schedulePersist(ctx context.Context, misses []lookup, values map[string][]string, property string, opts ValueOptions) {
	byRoot := make(map[string][]lookup)
	hashes := make([]string, 0, len(misses))
	for _, l := range misses {
		byRoot[l.rootKey] = append(byRoot[l.rootKey], l)
		hashes = append(hashes, l.subject.Hash())
	}
	sort.Strings(hashes)
	fpParts := append([]string{pvaluesNamespace, property, opts.Signature()}, hashes...)

	pc.queue.NewUpdate(func(ctx context.Context) error {
		bases := make([]entcache.Subject, 0, len(byRoot))
		for _, ls := range byRoot {
			bases = append(bases, ls[0].subject.Base())
		}
		current := pc.cache.Entities().Generations(ctx, bases)

		var errs []error
		for rootKey, ls := range byRoot {
			if err := pc.persist(ctx, rootKey, ls, values, current[ls[0].subject.Base().Hash()]); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	}).
		SetFingerprint(fpParts...).
		SetOrigin("PropertyValueCache.persist").
		Push(ctx)
}

func (pc *PropertyValueCache) persist(ctx context.Context, rootKey string, ls []lookup, values map[string][]string, current uint64) error {
	ec := pc.cache.Entities()
	store := pc.cache.Containers()
	base := ls[0].subject.Base()

	gen := ls[0].gen
	if current != gen {
		pc.hooks.StaleWriteSkipped(rootKey)
		return nil
	}

	ct := store.Read(ctx, rootKey)
	if !ct.IsEmpty() && ct.Gen() != gen {
		ct = entcache.NewContainer(rootKey)
	}
	for _, l := range ls {
		if err := entcache.SetAs(ct, l.subKey, values[l.subject.Hash()], pc.codec); err != nil {
			return err
		}
	}
	ct.SetGen(gen)
	ct.SetSubject(base.Hash())
	if err := store.Save(ctx, ct, 0); err != nil {
		return err
	}
	return ec.Associate(ctx, base, rootKey)
}
