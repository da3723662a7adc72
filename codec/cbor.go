package codec

import "github.com/fxamacker/cbor/v2"

// CBOR encodes with fxamacker/cbor. Build it with NewCBOR; the zero value
// has no modes and panics on use.
//
// Property specifications default to the deterministic form so two
// processes caching the same field write identical bytes.
type CBOR[V any] struct {
	enc cbor.EncMode
	dec cbor.DecMode
}

var _ Codec[[]string] = CBOR[[]string]{}

// NewCBOR returns a codec using core deterministic encoding (sorted map keys,
// shortest integers) when deterministic is set, and preferred unsorted
// encoding otherwise. Decoding rejects duplicate map keys, which only a
// foreign or corrupted writer can produce.
func NewCBOR[V any](deterministic bool) (CBOR[V], error) {
	eo := cbor.PreferredUnsortedEncOptions()
	if deterministic {
		eo = cbor.CoreDetEncOptions()
	}
	em, err := eo.EncMode()
	if err != nil {
		return CBOR[V]{}, err
	}
	dm, err := cbor.DecOptions{DupMapKey: cbor.DupMapKeyEnforcedAPF}.DecMode()
	if err != nil {
		return CBOR[V]{}, err
	}
	return CBOR[V]{enc: em, dec: dm}, nil
}

// MustCBOR panics if NewCBOR fails; for package-level codecs.
func MustCBOR[V any](deterministic bool) CBOR[V] {
	cd, err := NewCBOR[V](deterministic)
	if err != nil {
		panic(err)
	}
	return cd
}

func (c CBOR[V]) Encode(v V) ([]byte, error) { return c.enc.Marshal(v) }

func (c CBOR[V]) Decode(b []byte) (V, error) {
	var v V
	if err := c.dec.Unmarshal(b, &v); err != nil {
		return v, err
	}
	return v, nil
}
