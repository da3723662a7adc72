package entcache

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/unkn0wn-root/entcache/internal/util"
)

// Hasher is implemented by key parts that have a canonical identity string.
type Hasher interface {
	Hash() string
}

// Subject identifies the entity cached data is derived from: a page, or a
// sub-object embedded in a page.
type Subject struct {
	Title     string `json:"title"`
	Namespace int    `json:"ns"`
	Interwiki string `json:"iw,omitempty"`
	SubObject string `json:"subobject,omitempty"`
}

func NewSubject(title string, ns int) Subject {
	return Subject{Title: title, Namespace: ns}
}

// Base drops the sub-object part. Associations and generations are always
// recorded against the base subject.
func (s Subject) Base() Subject {
	s.SubObject = ""
	return s
}

func (s Subject) IsSubObject() bool { return s.SubObject != "" }

// Hash is "Title#Namespace#Interwiki#SubObject".
func (s Subject) Hash() string {
	return s.Title + "#" + strconv.Itoa(s.Namespace) + "#" + s.Interwiki + "#" + s.SubObject
}

func (s Subject) String() string { return s.Hash() }

// ParseSubject reverses Subject.Hash.
func ParseSubject(hash string) (Subject, error) {
	parts := strings.SplitN(hash, "#", 4)
	if len(parts) != 4 || parts[0] == "" {
		return Subject{}, fmt.Errorf("entcache: malformed subject hash %q", hash)
	}
	ns, err := strconv.Atoi(parts[1])
	if err != nil {
		return Subject{}, fmt.Errorf("entcache: malformed subject namespace %q: %w", hash, err)
	}
	return Subject{Title: parts[0], Namespace: ns, Interwiki: parts[2], SubObject: parts[3]}, nil
}

// KeyBuilder derives backend keys. Keys have the form
// <prefix>:<namespace>:<md5>, where the digest covers the JSON encoding of
// [version, parts...]. Parts implementing Hasher contribute their Hash.
// Bumping Version changes every key, which retires old entries without a purge.
type KeyBuilder struct {
	Prefix  string
	Version int
}

func (b KeyBuilder) Make(namespace string, parts ...any) string {
	args := make([]any, 0, len(parts)+1)
	args = append(args, b.Version)
	for _, p := range parts {
		if h, ok := p.(Hasher); ok {
			args = append(args, h.Hash())
			continue
		}
		args = append(args, p)
	}
	raw, err := json.Marshal(args)
	if err != nil {
		// unencodable parts (funcs, channels) fall back to their printed form
		raw = []byte(fmt.Sprintf("%#v", args))
	}
	return util.PrefixedKey(b.Prefix, namespace, util.DigestBytes(raw))
}

// RootHash is the key of the container aggregating every cached facet of subject.
func (b KeyBuilder) RootHash(namespace string, subject Subject) string {
	return b.Make(namespace, subject)
}

// Fingerprint returns an md5 identity for deduplicating deferred work.
func Fingerprint(parts ...string) string {
	return util.Digest(parts...)
}
