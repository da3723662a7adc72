package entcache

import (
	"context"
	"errors"
	"fmt"
	"time"

	c "github.com/unkn0wn-root/entcache/codec"
	gen "github.com/unkn0wn-root/entcache/genstore"
	pr "github.com/unkn0wn-root/entcache/provider"
)

type SetCostFunc func(key string, raw []byte) int64

const (
	defaultGenRetention = 30 * 24 * time.Hour
	defaultSweep        = time.Hour
)

// Options configure a Cache. Only Namespace and Provider are required;
// others have sensible defaults.
type Options struct {
	// Required
	Namespace string // key prefix shared by every derived key, e.g. "smw"
	Provider  pr.Provider

	// Version is mixed into every key; bump it to retire all cached entries.
	Version int

	Codec           c.Codec[ContainerRecord]    // nil => msgpack
	StatsCodec      c.Codec[map[string]float64] // nil => protobuf NumberMap
	Logger          Logger                      // nil => NopLogger
	Hooks           Hooks                       // nil => NopHooks
	GenStore        gen.GenStore                // nil => LocalGenStore (in-process)
	CleanupInterval time.Duration               // local gen sweep; 0 => 1h
	GenRetention    time.Duration               // local gen retention; 0 => 30d
	ComputeSetCost  SetCostFunc                 // default 1
	Disabled        bool                        // reads miss, writes are dropped

	// MaxDecodeBytes bounds every record, stats map and prefetched value
	// decoded from the backend; larger entries read as undecodable. 0 => unbounded.
	MaxDecodeBytes int
}

// Cache wires the key builder, container store, entity cache and stats
// collectors around one provider.
type Cache struct {
	ns         string
	keys       KeyBuilder
	provider   pr.Provider
	gen        gen.GenStore
	log        Logger
	hooks      Hooks
	statsCodec c.Codec[map[string]float64]
	enabled    bool
	maxDecode  int

	containers *ContainerStore
	entities   *EntityCache
}

func New(opts Options) (*Cache, error) {
	if opts.Provider == nil {
		return nil, errors.New("entcache: provider is required")
	}
	if opts.Namespace == "" {
		return nil, errors.New("entcache: namespace is required")
	}
	if opts.Version < 0 {
		return nil, fmt.Errorf("entcache: negative version %d", opts.Version)
	}
	if opts.MaxDecodeBytes < 0 {
		return nil, fmt.Errorf("entcache: negative MaxDecodeBytes %d", opts.MaxDecodeBytes)
	}

	cc := &Cache{
		ns:       opts.Namespace,
		keys:     KeyBuilder{Prefix: opts.Namespace, Version: opts.Version},
		provider:  opts.Provider,
		enabled:   !opts.Disabled,
		maxDecode: opts.MaxDecodeBytes,
	}

	// defaults
	cc.log = coalesce[Logger](opts.Logger, NopLogger{})
	cc.hooks = coalesce[Hooks](opts.Hooks, NopHooks{})
	cc.statsCodec = c.WithLimit(coalesce[c.Codec[map[string]float64]](opts.StatsCodec, c.NumberMap{}), cc.maxDecode)
	recCodec := c.WithLimit(coalesce[c.Codec[ContainerRecord]](opts.Codec, c.Msgpack[ContainerRecord]{}), cc.maxDecode)
	sweep := coalesce[time.Duration](opts.CleanupInterval, defaultSweep)
	retention := coalesce[time.Duration](opts.GenRetention, defaultGenRetention)

	setCost := opts.ComputeSetCost
	if setCost == nil {
		setCost = func(string, []byte) int64 { return 1 }
	}

	if opts.GenStore != nil {
		cc.gen = opts.GenStore
	} else {
		cc.gen = gen.NewLocalGenStore(sweep, retention)
	}

	cc.containers = &ContainerStore{
		provider:       cc.provider,
		codec:          recCodec,
		log:            cc.log,
		hooks:          cc.hooks,
		computeSetCost: setCost,
		enabled:        cc.enabled,
	}
	cc.entities = &EntityCache{
		store:          cc.containers,
		provider:       cc.provider,
		keys:           cc.keys,
		gen:            cc.gen,
		log:            cc.log,
		hooks:          cc.hooks,
		computeSetCost: setCost,
		enabled:        cc.enabled,
	}
	return cc, nil
}

func (cc *Cache) Enabled() bool               { return cc.enabled }
func (cc *Cache) Keys() KeyBuilder            { return cc.keys }
func (cc *Cache) Containers() *ContainerStore { return cc.containers }
func (cc *Cache) Entities() *EntityCache      { return cc.entities }
func (cc *Cache) Logger() Logger              { return cc.log }
func (cc *Cache) Hooks() Hooks                { return cc.hooks }

// MaxDecodeBytes is the decode bound prefetchers apply to their own codecs.
func (cc *Cache) MaxDecodeBytes() int { return cc.maxDecode }

// NewStatsCollector returns a collector persisting under id.
// Collectors sharing an id share one persisted record.
func (cc *Cache) NewStatsCollector(id string) *StatsCollector {
	return &StatsCollector{
		id:    id,
		key:   cc.keys.Make(statsNamespace, id),
		store: cc.containers,
		codec: cc.statsCodec,
		log:   cc.log,
		meta: map[string]any{
			"collector": id,
			"namespace": cc.ns,
			"version":   cc.keys.Version,
		},
		ops:  make(map[string]statOp),
		vals: make(map[string]float64),
	}
}

func (cc *Cache) Close(ctx context.Context) error {
	// close gen store first (best effort)
	if cc.gen != nil {
		_ = cc.gen.Close(ctx)
	}
	return cc.provider.Close(ctx)
}
