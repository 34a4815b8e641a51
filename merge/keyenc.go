package merge

import (
	"encoding/binary"
	"math"

	"github.com/cespare/xxhash/v2"
)

// Key128 is the canonical composite-key encoding: a fixed-width hash of a
// row's key-column values, so the key tracker and confirmation scanner can
// work with O(1) set operations regardless of how many columns, or how wide
// they are, make up the declared key (§9, "composite-key encoding").
//
// The two lanes are independent xxhash digests seeded from disjoint prefix
// bytes, rather than one digest split in half, so collisions would require
// defeating both lanes at once.
type Key128 [16]byte

// EncodeKey canonicalizes the key-column values of one row into a Key128.
// Every value is length-prefixed before hashing so "ab","c" and "a","bc"
// never collide.
func EncodeKey(schema Schema, keyIdx []int, row Row) Key128 {
	buf := encodeKeyBytes(schema, keyIdx, row)

	var out Key128
	h1 := xxhash.New()
	h1.Write([]byte{0x01})
	h1.Write(buf)
	binary.BigEndian.PutUint64(out[0:8], h1.Sum64())

	h2 := xxhash.New()
	h2.Write([]byte{0x02})
	h2.Write(buf)
	binary.BigEndian.PutUint64(out[8:16], h2.Sum64())
	return out
}

func encodeKeyBytes(schema Schema, keyIdx []int, row Row) []byte {
	var buf []byte
	var lenBuf [4]byte
	for _, idx := range keyIdx {
		f := schema.Fields[idx]
		if row[idx] == nil {
			binary.BigEndian.PutUint32(lenBuf[:], math.MaxUint32)
			buf = append(buf, lenBuf[:]...)
			continue
		}
		enc := encodeValueBytes(f.Type, row[idx])
		binary.BigEndian.PutUint32(lenBuf[:], uint32(len(enc)))
		buf = append(buf, lenBuf[:]...)
		buf = append(buf, enc...)
	}
	return buf
}

// encodeValueBytes renders a single key value to a canonical byte form. Nil
// encodes as an empty slice here; encodeKeyBytes never calls it for nil and
// instead writes a reserved length prefix (MaxUint32), which keeps a null
// distinct from a present-but-empty string.
func encodeValueBytes(t LogicalType, v Value) []byte {
	if v == nil {
		return nil
	}
	switch t {
	case TypeBool:
		if v.(bool) {
			return []byte{1}
		}
		return []byte{0}
	case TypeInt64:
		var b [8]byte
		binary.BigEndian.PutUint64(b[:], uint64(v.(int64)))
		return b[:]
	case TypeFloat64:
		var b [8]byte
		binary.BigEndian.PutUint64(b[:], math.Float64bits(v.(float64)))
		return b[:]
	case TypeDecimal:
		return []byte(decimalValue(v).String())
	case TypeString:
		return []byte(v.(string))
	case TypeTimestamp:
		var b [8]byte
		binary.BigEndian.PutUint64(b[:], uint64(timestampValue(v).UnixNano()))
		return b[:]
	default:
		return nil
	}
}
