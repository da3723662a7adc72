package prefetch

import (
	"context"
	"errors"
	"time"

	"github.com/unkn0wn-root/entcache"
	c "github.com/unkn0wn-root/entcache/codec"
)

const specNamespace = "propertyspec"

// SpecEngine reads one specification field (type, unit, description, ...)
// of a property page.
type SpecEngine interface {
	PropertySpecification(ctx context.Context, property entcache.Subject, field string) ([]string, error)
}

type SpecEngineFunc func(ctx context.Context, property entcache.Subject, field string) ([]string, error)

func (f SpecEngineFunc) PropertySpecification(ctx context.Context, property entcache.Subject, field string) ([]string, error) {
	return f(ctx, property, field)
}

type PropertySpecOptions struct {
	// Required
	Cache  *entcache.Cache
	Engine SpecEngine

	TTL   time.Duration     // 0 => no expiry
	Codec c.Codec[[]string] // nil => cbor; bounded by the cache's MaxDecodeBytes
}

// PropertySpecLookup caches property specifications as sub-keyed entity
// entries, one entry per property and one sub-key per field.
type PropertySpecLookup struct {
	cache  *entcache.Cache
	engine SpecEngine
	ttl    time.Duration
	codec  c.Codec[[]string]
	log    entcache.Logger
	hooks  entcache.Hooks
}

func NewPropertySpecLookup(opts PropertySpecOptions) (*PropertySpecLookup, error) {
	if opts.Cache == nil || opts.Engine == nil {
		return nil, errors.New("prefetch: cache and engine are required")
	}
	cd := opts.Codec
	if cd == nil {
		cbor, err := c.NewCBOR[[]string](true)
		if err != nil {
			return nil, err
		}
		cd = cbor
	}
	return &PropertySpecLookup{
		cache:  opts.Cache,
		engine: opts.Engine,
		ttl:    opts.TTL,
		codec:  c.WithLimit(cd, opts.Cache.MaxDecodeBytes()),
		log:    opts.Cache.Logger(),
		hooks:  opts.Cache.Hooks(),
	}, nil
}

// GetSpecification returns field of property, asking the engine on a miss.
// Values computed across an invalidation of property are returned but not stored.
func (sl *PropertySpecLookup) GetSpecification(ctx context.Context, property entcache.Subject, field string) ([]string, error) {
	ec := sl.cache.Entities()
	key := sl.key(property)

	if raw, ok := ec.FetchSub(ctx, key, field); ok {
		if v, err := sl.codec.Decode(raw); err == nil {
			return v, nil
		}
		_ = ec.DeleteSub(ctx, key, field, sl.ttl)
	}

	gen := ec.Generation(ctx, property)
	v, err := sl.engine.PropertySpecification(ctx, property, field)
	if err != nil {
		return nil, err
	}
	if ec.Generation(ctx, property) != gen {
		sl.hooks.StaleWriteSkipped(key)
		return v, nil
	}

	raw, err := sl.codec.Encode(v)
	if err != nil {
		return nil, err
	}
	if err := ec.SaveSub(ctx, key, field, raw, sl.ttl); err != nil {
		sl.log.Warn("property spec save failed", entcache.Fields{"key": key, "err": err})
		return v, nil
	}
	if err := ec.Associate(ctx, property, key); err != nil {
		sl.log.Warn("property spec associate failed", entcache.Fields{"key": key, "err": err})
	}
	return v, nil
}

// GetPropertyDescription is the "description" field for a language.
func (sl *PropertySpecLookup) GetPropertyDescription(ctx context.Context, property entcache.Subject, lang string) (string, error) {
	v, err := sl.GetSpecification(ctx, property, "description:"+lang)
	if err != nil || len(v) == 0 {
		return "", err
	}
	return v[0], nil
}

// ResetCacheBy drops every cached field of property.
func (sl *PropertySpecLookup) ResetCacheBy(ctx context.Context, property entcache.Subject) error {
	return sl.cache.Entities().Delete(ctx, sl.key(property))
}

func (sl *PropertySpecLookup) key(property entcache.Subject) string {
	return sl.cache.Entities().MakeKey(specNamespace, property.Base())
}
