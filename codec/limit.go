package codec

import (
	"errors"
	"fmt"
)

// ErrTooLarge is returned by Limit.Decode for payloads over the bound.
var ErrTooLarge = errors.New("codec: payload too large")

// Limit bounds what Inner may decode. Entries in a shared backend can be
// written by other processes or versions; a record over Max bytes is rejected
// before it is parsed, and the caller treats it like any undecodable entry.
type Limit[V any] struct {
	Inner Codec[V]
	Max   int
}

// WithLimit wraps cd when max is positive and returns cd unchanged otherwise.
func WithLimit[V any](cd Codec[V], max int) Codec[V] {
	if max <= 0 {
		return cd
	}
	return Limit[V]{Inner: cd, Max: max}
}

func (l Limit[V]) Encode(v V) ([]byte, error) { return l.Inner.Encode(v) }

func (l Limit[V]) Decode(b []byte) (V, error) {
	if len(b) > l.Max {
		var zero V
		return zero, fmt.Errorf("%w: %d bytes, limit %d", ErrTooLarge, len(b), l.Max)
	}
	return l.Inner.Decode(b)
}
