package wire

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	version       byte = 1
	kindContainer byte = 1
	kindSubMap    byte = 2
)

var (
	ErrCorrupt = errors.New("entcache: corrupt entry")
	magic4     = [...]byte{'E', 'N', 'T', 'C'}
)

func hasMagic(b []byte) bool {
	return len(b) >= 4 && bytes.Equal(b[:4], magic4[:])
}

// Container: magic(4) | ver(1) | kind(1=container) | gen(u64 be) | plen(u32 be) | payload(plen)
func EncodeContainer(gen uint64, payload []byte) []byte {
	var buf bytes.Buffer
	buf.Grow(4 + 1 + 1 + 8 + 4 + len(payload))

	buf.Write(magic4[:])
	buf.WriteByte(version)
	buf.WriteByte(kindContainer)

	var u8 [8]byte
	var u4 [4]byte

	binary.BigEndian.PutUint64(u8[:], gen)
	buf.Write(u8[:])

	binary.BigEndian.PutUint32(u4[:], uint32(len(payload)))
	buf.Write(u4[:])

	buf.Write(payload)
	return buf.Bytes()
}

func DecodeContainer(b []byte) (gen uint64, payload []byte, err error) {
	const hdr = 4 + 1 + 1 + 8 + 4
	if len(b) < hdr || !hasMagic(b) || b[4] != version || b[5] != kindContainer {
		return 0, nil, ErrCorrupt
	}

	off := 6
	gen = binary.BigEndian.Uint64(b[off : off+8])
	off += 8

	plen := int(binary.BigEndian.Uint32(b[off : off+4]))
	off += 4
	// strict framing: payload must end exactly at the buffer end
	if plen < 0 || plen != len(b)-off {
		return 0, nil, ErrCorrupt
	}
	return gen, b[off : off+plen], nil
}

// SubItem is one entry of a sub-keyed value.
type SubItem struct {
	Key     string
	Payload []byte
}

// Sub map:
//
//	magic(4) | ver(1) | kind(2=submap) | n(u32 be)
//	keyLen(u16 be) | key(keyLen) | vlen(u32 be) | payload(vlen) * n
func EncodeSubMap(items []SubItem) ([]byte, error) {
	total := 4 + 1 + 1 + 4
	for _, it := range items {
		if l := len(it.Key); l == 0 || l > 0xFFFF {
			return nil, fmt.Errorf("entcache: invalid sub key length %d", l)
		}
		total += 2 + len(it.Key) + 4 + len(it.Payload)
	}

	var buf bytes.Buffer
	buf.Grow(total)

	buf.Write(magic4[:])
	buf.WriteByte(version)
	buf.WriteByte(kindSubMap)

	var u4 [4]byte
	var u2 [2]byte

	binary.BigEndian.PutUint32(u4[:], uint32(len(items)))
	buf.Write(u4[:])

	for _, it := range items {
		binary.BigEndian.PutUint16(u2[:], uint16(len(it.Key)))
		buf.Write(u2[:])
		buf.WriteString(it.Key)

		binary.BigEndian.PutUint32(u4[:], uint32(len(it.Payload)))
		buf.Write(u4[:])
		buf.Write(it.Payload)
	}
	return buf.Bytes(), nil
}

func DecodeSubMap(b []byte) ([]SubItem, error) {
	const hdr = 4 + 1 + 1 + 4
	if len(b) < hdr || !hasMagic(b) || b[4] != version || b[5] != kindSubMap {
		return nil, ErrCorrupt
	}

	off := 6
	n := int(binary.BigEndian.Uint32(b[off : off+4]))
	off += 4

	// every item needs at least 6 bytes; reject bogus counts before allocating
	if n < 0 || n > (len(b)-off)/6 {
		return nil, ErrCorrupt
	}

	items := make([]SubItem, 0, n)
	for i := 0; i < n; i++ {
		if off+2 > len(b) {
			return nil, ErrCorrupt
		}
		klen := int(binary.BigEndian.Uint16(b[off : off+2]))
		off += 2
		if klen <= 0 || klen > len(b)-off {
			return nil, ErrCorrupt
		}
		keyBytes := b[off : off+klen]
		off += klen

		if off+4 > len(b) {
			return nil, ErrCorrupt
		}
		vlen := int(binary.BigEndian.Uint32(b[off : off+4]))
		off += 4
		if vlen < 0 || vlen > len(b)-off {
			return nil, ErrCorrupt
		}
		payload := b[off : off+vlen]
		off += vlen

		items = append(items, SubItem{Key: string(keyBytes), Payload: payload})
	}
	if off != len(b) {
		return nil, ErrCorrupt
	}
	return items, nil
}
