package codec

import (
	"bytes"
	"errors"
	"testing"
)

func TestNumberMapRoundTrip(t *testing.T) {
	in := map[string]float64{"misses": 3, "hits.embedded": 1, "median": 0.25}
	b, err := NumberMap{}.Encode(in)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	out, err := NumberMap{}.Decode(b)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(out) != len(in) {
		t.Fatalf("len mismatch: got %v want %v", out, in)
	}
	for k, v := range in {
		if out[k] != v {
			t.Fatalf("%s: got %v want %v", k, out[k], v)
		}
	}
}

func TestNumberMapDeterministic(t *testing.T) {
	in := map[string]float64{"a": 1, "b": 2, "c": 3, "d": 4}
	first, _ := NumberMap{}.Encode(in)
	for i := 0; i < 10; i++ {
		again, _ := NumberMap{}.Encode(in)
		if string(again) != string(first) {
			t.Fatalf("non-deterministic encoding")
		}
	}
}

func TestNumberMapRejectsGarbage(t *testing.T) {
	if _, err := (NumberMap{}).Decode([]byte{0xff, 0xff, 0xff}); err == nil {
		t.Fatalf("expected decode error on garbage")
	}
}

func TestLimitRejectsOversizedPayload(t *testing.T) {
	cd := WithLimit[[]string](Msgpack[[]string]{}, 16)
	small, err := cd.Encode([]string{"a", "b"})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if v, err := cd.Decode(small); err != nil || len(v) != 2 {
		t.Fatalf("Decode small: v=%v err=%v", v, err)
	}

	big, err := cd.Encode([]string{"Berlin", "Paris", "Rome", "Vienna"})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if _, err := cd.Decode(big); !errors.Is(err, ErrTooLarge) {
		t.Fatalf("expected ErrTooLarge for %d bytes, got %v", len(big), err)
	}
}

func TestWithLimitDisabled(t *testing.T) {
	var inner Codec[[]string] = Msgpack[[]string]{}
	if cd := WithLimit(inner, 0); cd != inner {
		t.Fatalf("non-positive limit should return the inner codec, got %T", cd)
	}
}

func TestMsgpackStableBytes(t *testing.T) {
	in := map[string][]byte{"z": []byte("1"), "a": []byte("2"), "m": []byte("3"), "q": nil}
	first, err := Msgpack[map[string][]byte]{}.Encode(in)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	for i := 0; i < 20; i++ {
		again, _ := Msgpack[map[string][]byte]{}.Encode(in)
		if !bytes.Equal(first, again) {
			t.Fatalf("map encoding not stable")
		}
	}
}

func TestCBORRejectsDuplicateKeys(t *testing.T) {
	// {"a": 1, "a": 2}
	dup := []byte{0xa2, 0x61, 'a', 0x01, 0x61, 'a', 0x02}
	if _, err := MustCBOR[map[string]int](true).Decode(dup); err == nil {
		t.Fatalf("expected duplicate key error")
	}
}

type record struct {
	Subject string            `json:"s" msgpack:"s" cbor:"s"`
	Data    map[string][]byte `json:"d" msgpack:"d" cbor:"d"`
}

func TestStructCodecsAgree(t *testing.T) {
	in := record{Subject: "Foo#0##", Data: map[string][]byte{"results": []byte("x")}}
	codecs := map[string]Codec[record]{
		"json":    JSON[record]{},
		"msgpack": Msgpack[record]{},
		"cbor":    MustCBOR[record](true),
	}
	for name, c := range codecs {
		b, err := c.Encode(in)
		if err != nil {
			t.Fatalf("%s encode: %v", name, err)
		}
		out, err := c.Decode(b)
		if err != nil {
			t.Fatalf("%s decode: %v", name, err)
		}
		if out.Subject != in.Subject || string(out.Data["results"]) != "x" {
			t.Fatalf("%s: got %+v", name, out)
		}
	}
}
