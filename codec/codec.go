// Package codec holds the serializers used for container records, cached
// results and statistics. Every codec must round-trip its own output.
package codec

// Codec encodes/decodes values V to []byte for storage.
type Codec[V any] interface {
	Encode(V) ([]byte, error)
	Decode([]byte) (V, error)
}
