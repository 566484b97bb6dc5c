package value

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Encode serializes v into a compact tagged binary form, following the
// module's length-prefixed binary framing convention (see pkg/wal's
// record format and pkg/lsm/sstable's block encoding) rather than a
// reflection-driven format.
func Encode(v Value) []byte {
	buf := make([]byte, 0, 32)
	return appendValue(buf, v)
}

func appendValue(buf []byte, v Value) []byte {
	buf = append(buf, byte(v.kind))
	switch v.kind {
	case KindNull:
	case KindBool:
		if v.b {
			buf = append(buf, 1)
		} else {
			buf = append(buf, 0)
		}
	case KindInt:
		var tmp [8]byte
		binary.BigEndian.PutUint64(tmp[:], uint64(v.i))
		buf = append(buf, tmp[:]...)
	case KindFloat:
		var tmp [8]byte
		binary.BigEndian.PutUint64(tmp[:], math.Float64bits(v.f))
		buf = append(buf, tmp[:]...)
	case KindStr:
		buf = appendLenBytes(buf, []byte(v.s))
	case KindBytes:
		buf = appendLenBytes(buf, v.by)
	case KindArray:
		buf = appendUint32(buf, uint32(len(v.arr)))
		for _, e := range v.arr {
			buf = appendValue(buf, e)
		}
	case KindObject:
		keys := sortedKeys(v.obj)
		buf = appendUint32(buf, uint32(len(keys)))
		for _, k := range keys {
			buf = appendLenBytes(buf, []byte(k))
			buf = appendValue(buf, v.obj[k])
		}
	}
	return buf
}

func appendUint32(buf []byte, n uint32) []byte {
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], n)
	return append(buf, tmp[:]...)
}

func appendLenBytes(buf []byte, b []byte) []byte {
	buf = appendUint32(buf, uint32(len(b)))
	return append(buf, b...)
}

// Decode parses the output of Encode, returning the value and the number
// of bytes consumed.
func Decode(buf []byte) (Value, int, error) {
	if len(buf) < 1 {
		return Value{}, 0, fmt.Errorf("value: empty buffer")
	}
	kind := Kind(buf[0])
	pos := 1
	switch kind {
	case KindNull:
		return Null(), pos, nil
	case KindBool:
		if pos >= len(buf) {
			return Value{}, 0, fmt.Errorf("value: truncated bool")
		}
		return Bool(buf[pos] != 0), pos + 1, nil
	case KindInt:
		if pos+8 > len(buf) {
			return Value{}, 0, fmt.Errorf("value: truncated int")
		}
		n := int64(binary.BigEndian.Uint64(buf[pos : pos+8]))
		return Int(n), pos + 8, nil
	case KindFloat:
		if pos+8 > len(buf) {
			return Value{}, 0, fmt.Errorf("value: truncated float")
		}
		bits := binary.BigEndian.Uint64(buf[pos : pos+8])
		return Float(math.Float64frombits(bits)), pos + 8, nil
	case KindStr:
		s, n, err := readLenBytes(buf[pos:])
		if err != nil {
			return Value{}, 0, err
		}
		return Str(string(s)), pos + n, nil
	case KindBytes:
		b, n, err := readLenBytes(buf[pos:])
		if err != nil {
			return Value{}, 0, err
		}
		return Bytes(b), pos + n, nil
	case KindArray:
		if pos+4 > len(buf) {
			return Value{}, 0, fmt.Errorf("value: truncated array length")
		}
		count := binary.BigEndian.Uint32(buf[pos : pos+4])
		pos += 4
		arr := make([]Value, 0, count)
		for i := uint32(0); i < count; i++ {
			elem, n, err := Decode(buf[pos:])
			if err != nil {
				return Value{}, 0, err
			}
			arr = append(arr, elem)
			pos += n
		}
		return Array(arr), pos, nil
	case KindObject:
		if pos+4 > len(buf) {
			return Value{}, 0, fmt.Errorf("value: truncated object length")
		}
		count := binary.BigEndian.Uint32(buf[pos : pos+4])
		pos += 4
		obj := make(map[string]Value, count)
		for i := uint32(0); i < count; i++ {
			key, n, err := readLenBytes(buf[pos:])
			if err != nil {
				return Value{}, 0, err
			}
			pos += n
			val, n, err := Decode(buf[pos:])
			if err != nil {
				return Value{}, 0, err
			}
			obj[string(key)] = val
			pos += n
		}
		return Object(obj), pos, nil
	default:
		return Value{}, 0, fmt.Errorf("value: unknown kind tag %d", kind)
	}
}

func readLenBytes(buf []byte) ([]byte, int, error) {
	if len(buf) < 4 {
		return nil, 0, fmt.Errorf("value: truncated length prefix")
	}
	n := binary.BigEndian.Uint32(buf[:4])
	if uint32(len(buf)-4) < n {
		return nil, 0, fmt.Errorf("value: truncated payload")
	}
	return buf[4 : 4+n], int(4 + n), nil
}
