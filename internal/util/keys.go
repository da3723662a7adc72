package util

import (
	"crypto/md5"
	"encoding/hex"
	"strconv"
	"strings"
)

// Digest returns the hex md5 of the parts, each written as "<len>:<part>" so
// that no two part lists share an input.
func Digest(parts ...string) string {
	h := md5.New()
	var n [20]byte
	for _, p := range parts {
		h.Write(strconv.AppendInt(n[:0], int64(len(p)), 10))
		h.Write([]byte{':'})
		h.Write([]byte(p))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// DigestBytes returns the hex md5 of b.
func DigestBytes(b []byte) string {
	sum := md5.Sum(b)
	return hex.EncodeToString(sum[:])
}

// PrefixedKey returns prefix + ":" + ns + ":" + digest.
// Empty prefix or namespace segments are omitted.
func PrefixedKey(prefix, ns, digest string) string {
	var b strings.Builder
	b.Grow(len(prefix) + len(ns) + len(digest) + 2)
	if prefix != "" {
		b.WriteString(prefix)
		b.WriteByte(':')
	}
	if ns != "" {
		b.WriteString(ns)
		b.WriteByte(':')
	}
	b.WriteString(digest)
	return b.String()
}
