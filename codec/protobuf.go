package codec

import (
	"fmt"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

type Protobuf[T proto.Message] struct {
	new func() T // constructor for a concrete message (e.g., func() *structpb.Struct { return &structpb.Struct{} })
}

func NewProtobuf[T proto.Message](ctor func() T) Protobuf[T] {
	return Protobuf[T]{new: ctor}
}

func (c Protobuf[T]) Encode(v T) ([]byte, error) {
	return proto.MarshalOptions{Deterministic: true}.Marshal(v)
}
func (c Protobuf[T]) Decode(b []byte) (T, error) {
	m := c.new()
	err := proto.Unmarshal(b, m)
	return m, err
}

// NumberMap stores a name -> float64 map as a protobuf Struct.
// Used for persisted statistics.
type NumberMap struct{}

var structCodec = NewProtobuf(func() *structpb.Struct { return &structpb.Struct{} })

func (NumberMap) Encode(m map[string]float64) ([]byte, error) {
	s := &structpb.Struct{Fields: make(map[string]*structpb.Value, len(m))}
	for k, v := range m {
		s.Fields[k] = structpb.NewNumberValue(v)
	}
	return structCodec.Encode(s)
}

func (NumberMap) Decode(b []byte) (map[string]float64, error) {
	s, err := structCodec.Decode(b)
	if err != nil {
		return nil, err
	}
	out := make(map[string]float64, len(s.GetFields()))
	for k, v := range s.GetFields() {
		n, ok := v.GetKind().(*structpb.Value_NumberValue)
		if !ok {
			return nil, fmt.Errorf("codec: field %q is not a number", k)
		}
		out[k] = n.NumberValue
	}
	return out, nil
}
