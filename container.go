package entcache

import (
	"context"
	"errors"
	"slices"
	"sort"
	"time"

	c "github.com/unkn0wn-root/entcache/codec"
	"github.com/unkn0wn-root/entcache/internal/wire"
	pr "github.com/unkn0wn-root/entcache/provider"
)

// Reserved sub-keys of a container record.
const (
	SubjectKey = "__subject"
	AssocKey   = "__assoc"
	ListKey    = "__list"
)

// ContainerRecord is the persisted shape of a Container.
type ContainerRecord struct {
	Subject string            `json:"__subject,omitempty" msgpack:"__subject,omitempty" cbor:"__subject,omitempty"`
	Assoc   map[string]bool   `json:"__assoc,omitempty" msgpack:"__assoc,omitempty" cbor:"__assoc,omitempty"`
	List    []string          `json:"__list,omitempty" msgpack:"__list,omitempty" cbor:"__list,omitempty"`
	Data    map[string][]byte `json:"data,omitempty" msgpack:"data,omitempty" cbor:"data,omitempty"`
}

// Container is a bag of sub-keys sharing one backend entry. It is read as a
// snapshot, mutated in memory and written back wholesale by ContainerStore.Save.
// A Container is not safe for concurrent mutation.
type Container struct {
	key string
	gen uint64
	rec ContainerRecord
}

func NewContainer(key string) *Container {
	return &Container{key: key}
}

func (ct *Container) Key() string { return ct.key }

// Gen is the subject generation the container was written under.
func (ct *Container) Gen() uint64 { return ct.gen }

func (ct *Container) SetGen(g uint64) { ct.gen = g }

func (ct *Container) Subject() string { return ct.rec.Subject }

func (ct *Container) SetSubject(s string) { ct.rec.Subject = s }

func (ct *Container) Has(k string) bool {
	_, ok := ct.rec.Data[k]
	return ok
}

func (ct *Container) Get(k string) ([]byte, bool) {
	v, ok := ct.rec.Data[k]
	return v, ok
}

func (ct *Container) Set(k string, v []byte) {
	if ct.rec.Data == nil {
		ct.rec.Data = make(map[string][]byte)
	}
	ct.rec.Data[k] = v
}

func (ct *Container) Delete(k string) { delete(ct.rec.Data, k) }

// Keys returns the data sub-keys in sorted order.
func (ct *Container) Keys() []string {
	out := make([]string, 0, len(ct.rec.Data))
	for k := range ct.rec.Data {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// IsEmpty reports whether the container holds nothing worth persisting.
func (ct *Container) IsEmpty() bool {
	return ct.rec.Subject == "" && len(ct.rec.Assoc) == 0 && len(ct.rec.List) == 0 && len(ct.rec.Data) == 0
}

// Associate records key in the reserved association set.
func (ct *Container) Associate(key string) {
	if ct.rec.Assoc == nil {
		ct.rec.Assoc = make(map[string]bool)
	}
	ct.rec.Assoc[key] = true
}

func (ct *Container) IsAssociated(key string) bool { return ct.rec.Assoc[key] }

// Associations returns the associated keys in sorted order.
func (ct *Container) Associations() []string {
	out := make([]string, 0, len(ct.rec.Assoc))
	for k := range ct.rec.Assoc {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// AddToLinkedList appends key to the linked list; returns false if it was already present.
func (ct *Container) AddToLinkedList(key string) bool {
	if key == "" || key == ct.key || slices.Contains(ct.rec.List, key) {
		return false
	}
	ct.rec.List = append(ct.rec.List, key)
	return true
}

// LinkedList returns a copy of the linked container keys in insertion order.
func (ct *Container) LinkedList() []string {
	return slices.Clone(ct.rec.List)
}

// GetAs decodes sub-key k with cd. A missing key is (zero, false, nil).
func GetAs[V any](ct *Container, k string, cd c.Codec[V]) (V, bool, error) {
	var zero V
	raw, ok := ct.Get(k)
	if !ok {
		return zero, false, nil
	}
	v, err := cd.Decode(raw)
	if err != nil {
		return zero, false, err
	}
	return v, true, nil
}

// SetAs encodes v with cd into sub-key k.
func SetAs[V any](ct *Container, k string, v V, cd c.Codec[V]) error {
	raw, err := cd.Encode(v)
	if err != nil {
		return err
	}
	ct.Set(k, raw)
	return nil
}

// ContainerStore reads and writes containers. Read-modify-write is not
// atomic: concurrent writers of one container resolve last-writer-wins.
type ContainerStore struct {
	provider       pr.Provider
	codec          c.Codec[ContainerRecord]
	log            Logger
	hooks          Hooks
	computeSetCost SetCostFunc
	enabled        bool
}

// Read fetches the container at key or returns an empty one bound to key.
// It never fails: backend errors, corrupt frames and undecodable records all
// read as empty (the latter two are deleted).
func (s *ContainerStore) Read(ctx context.Context, key string) *Container {
	ct := NewContainer(key)
	if !s.enabled {
		return ct
	}
	raw, ok, err := s.provider.Get(ctx, key)
	if err != nil {
		s.log.Warn("container read failed; treating as miss", Fields{"key": key, "err": err})
		return ct
	}
	if !ok {
		return ct
	}
	gen, payload, err := wire.DecodeContainer(raw)
	if err != nil {
		s.selfHeal(ctx, key, "corrupt")
		return ct
	}
	rec, err := s.codec.Decode(payload)
	if err != nil {
		s.selfHeal(ctx, key, "decode")
		return ct
	}
	ct.gen = gen
	ct.rec = rec
	return ct
}

// Save writes the container back. ttl <= 0 means the entry does not expire.
func (s *ContainerStore) Save(ctx context.Context, ct *Container, ttl time.Duration) error {
	if !s.enabled {
		return nil
	}
	payload, err := s.codec.Encode(ct.rec)
	if err != nil {
		return err
	}
	b := wire.EncodeContainer(ct.gen, payload)
	ok, err := s.provider.Set(ctx, ct.key, b, s.computeSetCost(ct.key, b), ttl)
	if err != nil {
		return err
	}
	if !ok {
		s.hooks.ProviderSetRejected(ct.key)
		s.log.Debug("container save rejected by provider (pressure)", Fields{"key": ct.key})
	}
	return nil
}

func (s *ContainerStore) Exists(ctx context.Context, key string) bool {
	if !s.enabled {
		return false
	}
	ok, err := pr.Contains(ctx, s.provider, key)
	if err != nil {
		s.log.Warn("container exists check failed", Fields{"key": key, "err": err})
		return false
	}
	return ok
}

// Delete removes the container and every container reachable through its
// linked list. Cycles are tolerated.
func (s *ContainerStore) Delete(ctx context.Context, key string) error {
	if !s.enabled {
		return nil
	}
	return s.deleteLinked(ctx, key, make(map[string]struct{}))
}

func (s *ContainerStore) deleteLinked(ctx context.Context, key string, seen map[string]struct{}) error {
	if _, ok := seen[key]; ok {
		return nil
	}
	seen[key] = struct{}{}

	var errs []error
	// foreign or corrupt bytes at key are deleted without following anything
	if raw, ok, err := s.provider.Get(ctx, key); err == nil && ok {
		if _, payload, err := wire.DecodeContainer(raw); err == nil {
			if rec, err := s.codec.Decode(payload); err == nil {
				for _, linked := range rec.List {
					if err := s.deleteLinked(ctx, linked, seen); err != nil {
						errs = append(errs, err)
					}
				}
			}
		}
	}
	if err := s.provider.Del(ctx, key); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// AddToLinkedList chains otherKey to ct so that deleting ct also deletes otherKey.
// The change is persisted by the next Save.
func (s *ContainerStore) AddToLinkedList(ct *Container, otherKey string) {
	ct.AddToLinkedList(otherKey)
}

func (s *ContainerStore) selfHeal(ctx context.Context, key, reason string) {
	_ = s.provider.Del(ctx, key)
	s.hooks.SelfHeal(key, reason)
	s.log.Debug("dropped unreadable container", Fields{"key": key, "reason": reason})
}
