package wal

import (
	"bufio"
	"encoding/binary"
	"hash/crc32"
	"io"

	"github.com/serengeti-db/serengeti/pkg/pools"
)

// On-disk frame:
//   length   uint32  // bytes following, i.e. everything below
//   crc32    uint32  // IEEE CRC over everything after this field
//   sequence uint64
//   type     uint8
//   keyLen   uint32
//   key      []byte
//   valueLen uint32  // only for RecordPut
//   value    []byte  // only for RecordPut
//
// RecordDelete and RecordCommit omit valueLen/value entirely.

func encodeFrame(w io.Writer, seq uint64, typ RecordType, key, value []byte) error {
	hasValue := typ == RecordPut
	bodyLen := 8 + 1 + 4 + len(key)
	if hasValue {
		bodyLen += 4 + len(value)
	}
	buf := pools.GetBuf(4 + 4 + bodyLen)[:4+4+bodyLen]
	defer pools.PutBuf(buf)

	// The length prefix counts everything that follows it, CRC included.
	binary.BigEndian.PutUint32(buf[0:4], uint32(4+bodyLen))
	binary.BigEndian.PutUint64(buf[8:16], seq)
	buf[16] = byte(typ)
	binary.BigEndian.PutUint32(buf[17:21], uint32(len(key)))
	copy(buf[21:21+len(key)], key)
	off := 21 + len(key)
	if hasValue {
		binary.BigEndian.PutUint32(buf[off:off+4], uint32(len(value)))
		copy(buf[off+4:], value)
	}
	crc := crc32.ChecksumIEEE(buf[8:])
	binary.BigEndian.PutUint32(buf[4:8], crc)

	_, err := w.Write(buf)
	return err
}

// decodeFrame reads one frame from r. io.EOF (clean) or io.ErrUnexpectedEOF
// (partial tail) both signal "no more complete records" to the caller;
// any other error, or a CRC mismatch, is a genuine corruption.
func decodeFrame(r *bufio.Reader) (Record, error) {
	lenPrefix := make([]byte, 4)
	if _, err := io.ReadFull(r, lenPrefix); err != nil {
		return Record{}, err
	}
	bodyLen := binary.BigEndian.Uint32(lenPrefix)
	body := make([]byte, bodyLen)
	if _, err := io.ReadFull(r, body); err != nil {
		return Record{}, io.ErrUnexpectedEOF
	}

	if len(body) < 4+8+1+4 {
		return Record{}, io.ErrUnexpectedEOF
	}
	wantCRC := binary.BigEndian.Uint32(body[0:4])
	gotCRC := crc32.ChecksumIEEE(body[4:])
	if wantCRC != gotCRC {
		return Record{}, errCRCMismatch
	}
	seq := binary.BigEndian.Uint64(body[4:12])
	typ := RecordType(body[12])
	keyLen := binary.BigEndian.Uint32(body[13:17])
	off := 17
	if uint32(len(body)-off) < keyLen {
		return Record{}, io.ErrUnexpectedEOF
	}
	key := append([]byte(nil), body[off:off+int(keyLen)]...)
	off += int(keyLen)

	rec := Record{Sequence: seq, Type: typ, Key: key}
	if typ == RecordPut {
		if len(body)-off < 4 {
			return Record{}, io.ErrUnexpectedEOF
		}
		valLen := binary.BigEndian.Uint32(body[off : off+4])
		off += 4
		if uint32(len(body)-off) < valLen {
			return Record{}, io.ErrUnexpectedEOF
		}
		rec.Value = append([]byte(nil), body[off:off+int(valLen)]...)
	}
	return rec, nil
}
