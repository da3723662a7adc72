// Package prefetch caches the results of expensive entity-derived lookups:
// query results, property values and property specifications.
//
// Reads go straight to the container store. Misses are computed by an
// engine, returned to the caller at once and persisted later through the
// deferred queue. Every persisted facet is tied to its subject, so
// invalidating the subject evicts it.
package prefetch

import (
	"encoding/json"
	"errors"

	"github.com/unkn0wn-root/entcache"
)

var ErrNoEngine = errors.New("prefetch: no query engine attached")

type SortKey struct {
	Property string `json:"p"`
	Desc     bool   `json:"d,omitempty"`
}

// Query describes one query execution. Caption and Printouts only shape
// presentation and do not affect which subjects match.
type Query struct {
	Conditions string
	Limit      int
	Offset     int
	Sort       []SortKey
	// Subject is the page embedding the query; nil for standalone queries.
	Subject *entcache.Subject
	NoCache bool

	Caption   string
	Printouts []string
}

func (q Query) IsEmbedded() bool { return q.Subject != nil }

// Signature identifies the result set: conditions, paging, sort and, for
// embedded queries, the embedding subject.
func (q Query) Signature() string {
	sig := struct {
		Conditions string    `json:"c"`
		Limit      int       `json:"l"`
		Offset     int       `json:"o"`
		Sort       []SortKey `json:"s,omitempty"`
		Subject    string    `json:"sub,omitempty"`
	}{q.Conditions, q.Limit, q.Offset, q.Sort, ""}
	if q.Subject != nil {
		sig.Subject = q.Subject.Hash()
	}
	raw, _ := json.Marshal(sig) // plain strings and ints; cannot fail
	return entcache.Fingerprint(string(raw))
}

// Result is what the engine returns and what callers receive.
type Result struct {
	Subjects  []entcache.Subject
	HasMore   bool
	Count     int
	FromCache bool
}

// StoredResult is the persisted form of a Result: subject hashes, the
// has-more flag and the count. Printout values are not stored.
type StoredResult struct {
	Subjects []string `json:"s" msgpack:"s"`
	HasMore  bool     `json:"m,omitempty" msgpack:"m,omitempty"`
	Count    int      `json:"c" msgpack:"c"`
}

func toStored(r *Result) StoredResult {
	s := StoredResult{Subjects: make([]string, 0, len(r.Subjects)), HasMore: r.HasMore, Count: r.Count}
	for _, sub := range r.Subjects {
		s.Subjects = append(s.Subjects, sub.Hash())
	}
	return s
}

func fromStored(s StoredResult) (*Result, error) {
	r := &Result{Subjects: make([]entcache.Subject, 0, len(s.Subjects)), HasMore: s.HasMore, Count: s.Count, FromCache: true}
	for _, h := range s.Subjects {
		sub, err := entcache.ParseSubject(h)
		if err != nil {
			return nil, err
		}
		r.Subjects = append(r.Subjects, sub)
	}
	return r, nil
}
