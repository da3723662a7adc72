package entcache

import (
	"bytes"
	"context"
	"encoding/json"
	"math"
	"sort"
	"strings"
	"sync"

	c "github.com/unkn0wn-root/entcache/codec"
)

const (
	statsNamespace = "stats"
	statsSubKey    = "stats"
)

type statOp uint8

const (
	opInit statOp = iota + 1
	opIncr
	opSet
	opMedian
)

// StatsCollector accumulates named counters in memory and merges them into
// the persisted record on Flush. Merge rules per name:
//
//	init    keep the persisted value unless it is zero
//	incr    add to the persisted value
//	set     overwrite
//	median  average with the persisted value, if any
//
// Names use dots for grouping ("hits.embedded"). Safe for concurrent use.
type StatsCollector struct {
	mu    sync.Mutex
	id    string
	key   string
	store *ContainerStore
	codec c.Codec[map[string]float64]
	log   Logger
	meta  map[string]any

	ops  map[string]statOp
	vals map[string]float64
}

// ID names the collector; it selects the container the stats persist in.
func (s *StatsCollector) ID() string { return s.id }

// Init sets a default for name, used only when nothing was persisted yet.
// It does not override an operation already recorded for name.
func (s *StatsCollector) Init(name string, def float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.ops[name]; ok {
		return
	}
	s.ops[name] = opInit
	s.vals[name] = def
}

func (s *StatsCollector) Incr(name string) { s.IncrBy(name, 1) }

// IncrBy adds n. A name previously recorded with another operation starts
// counting from zero.
func (s *StatsCollector) IncrBy(name string, n float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ops[name] != opIncr {
		s.ops[name] = opIncr
		s.vals[name] = 0
	}
	s.vals[name] += n
}

func (s *StatsCollector) Set(name string, v float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ops[name] = opSet
	s.vals[name] = v
}

// Median folds v into a running pairwise average.
func (s *StatsCollector) Median(name string, v float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ops[name] == opMedian {
		s.vals[name] = (s.vals[name] + v) / 2
		return
	}
	s.ops[name] = opMedian
	s.vals[name] = v
}

// Flush merges pending values into the persisted record and writes it once.
// A collector with nothing pending does not touch the backend.
func (s *StatsCollector) Flush(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.ops) == 0 {
		return nil
	}
	ct := s.store.Read(ctx, s.key)
	merged := s.merge(s.persisted(ct))
	if err := SetAs(ct, statsSubKey, merged, s.codec); err != nil {
		return err
	}
	if err := s.store.Save(ctx, ct, 0); err != nil {
		return err
	}
	s.ops = make(map[string]statOp)
	s.vals = make(map[string]float64)
	return nil
}

// Close flushes pending values.
func (s *StatsCollector) Close(ctx context.Context) error { return s.Flush(ctx) }

// Stats returns persisted values merged with anything still pending.
func (s *StatsCollector) Stats(ctx context.Context) Report {
	s.mu.Lock()
	defer s.mu.Unlock()
	flat := s.merge(s.persisted(s.store.Read(ctx, s.key)))
	return newReport(flat, s.meta)
}

func (s *StatsCollector) persisted(ct *Container) map[string]float64 {
	m, ok, err := GetAs(ct, statsSubKey, s.codec)
	if err != nil {
		s.log.Warn("unreadable stats record; starting over", Fields{"key": s.key, "err": err})
		return map[string]float64{}
	}
	if !ok || m == nil {
		return map[string]float64{}
	}
	return m
}

func (s *StatsCollector) merge(persisted map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(persisted)+len(s.ops))
	for k, v := range persisted {
		out[k] = v
	}
	for name, op := range s.ops {
		v := s.vals[name]
		old, had := persisted[name]
		switch op {
		case opInit:
			if !had || old == 0 {
				out[name] = v
			}
		case opIncr:
			out[name] = old + v
		case opSet:
			out[name] = v
		case opMedian:
			if had && old != 0 {
				out[name] = (old + v) / 2
			} else {
				out[name] = v
			}
		}
	}
	return out
}

// Report is a read-only view over collected statistics.
type Report struct {
	flat    map[string]float64
	tree    map[string]any
	meta    map[string]any
	ratioOK bool
}

func newReport(flat map[string]float64, meta map[string]any) Report {
	r := Report{flat: flat, tree: make(map[string]any), meta: meta}
	for _, name := range sortedNames(flat) {
		setPath(r.tree, name, flat[name])
	}

	var hits, misses float64
	for name, v := range flat {
		switch {
		case name == "hits" || strings.HasPrefix(name, "hits."):
			hits += v
		case name == "misses" || strings.HasPrefix(name, "misses."):
			misses += v
		}
	}
	if total := hits + misses; total > 0 {
		r.ratioOK = true
		r.tree["ratio"] = map[string]any{
			"hit":  round4(hits / total),
			"miss": round4(misses / total),
		}
	}
	return r
}

// Value returns a flat value by its dotted name. Ratios are available as
// "ratio.hit" and "ratio.miss".
func (r Report) Value(name string) (float64, bool) {
	if v, ok := r.flat[name]; ok {
		return v, true
	}
	if r.ratioOK && strings.HasPrefix(name, "ratio.") {
		if v, ok := r.tree["ratio"].(map[string]any)[strings.TrimPrefix(name, "ratio.")].(float64); ok {
			return v, true
		}
	}
	return 0, false
}

// Section returns the nested value for a top-level key.
func (r Report) Section(key string) (any, bool) {
	if key == "meta" {
		return r.meta, r.meta != nil
	}
	v, ok := r.tree[key]
	return v, ok
}

// Keys lists top-level sections sorted, with "meta" always last.
func (r Report) Keys() []string {
	out := make([]string, 0, len(r.tree)+1)
	for k := range r.tree {
		out = append(out, k)
	}
	sort.Strings(out)
	if r.meta != nil {
		out = append(out, "meta")
	}
	return out
}

func (r Report) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range r.Keys() {
		if i > 0 {
			buf.WriteByte(',')
		}
		kb, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		buf.Write(kb)
		buf.WriteByte(':')
		v, _ := r.Section(k)
		vb, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		buf.Write(vb)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// setPath stores v at the dotted name. A name whose prefix already holds a
// leaf value stays flat at the top level.
func setPath(tree map[string]any, name string, v float64) {
	parts := strings.Split(name, ".")
	node := tree
	for _, p := range parts[:len(parts)-1] {
		next, ok := node[p]
		if !ok {
			m := make(map[string]any)
			node[p] = m
			node = m
			continue
		}
		m, ok := next.(map[string]any)
		if !ok {
			tree[name] = v
			return
		}
		node = m
	}
	leaf := parts[len(parts)-1]
	if _, isMap := node[leaf].(map[string]any); isMap {
		tree[name] = v
		return
	}
	node[leaf] = v
}

func sortedNames(m map[string]float64) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func round4(f float64) float64 { return math.Round(f*10000) / 10000 }
