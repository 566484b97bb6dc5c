package lsm

import (
	"encoding/binary"
	"fmt"

	"github.com/serengeti-db/serengeti/pkg/errs"
)

func encodeFooter(f Footer) []byte {
	buf := make([]byte, footerSize)
	binary.BigEndian.PutUint32(buf[0:4], f.Magic)
	binary.BigEndian.PutUint32(buf[4:8], f.Version)
	binary.BigEndian.PutUint32(buf[8:12], f.Level)
	binary.BigEndian.PutUint64(buf[12:20], f.EntryCount)
	binary.BigEndian.PutUint64(buf[20:28], f.MinKeyOff)
	binary.BigEndian.PutUint32(buf[28:32], f.MinKeyLen)
	binary.BigEndian.PutUint64(buf[32:40], f.MaxKeyOff)
	binary.BigEndian.PutUint32(buf[40:44], f.MaxKeyLen)
	binary.BigEndian.PutUint64(buf[44:52], f.IndexOff)
	binary.BigEndian.PutUint64(buf[52:60], f.IndexLen)
	binary.BigEndian.PutUint64(buf[60:68], f.BloomOff)
	binary.BigEndian.PutUint64(buf[68:76], f.BloomLen)
	return buf
}

func decodeFooter(buf []byte) (Footer, error) {
	if len(buf) != footerSize {
		return Footer{}, fmt.Errorf("sstable: footer size %d", len(buf))
	}
	f := Footer{
		Magic:      binary.BigEndian.Uint32(buf[0:4]),
		Version:    binary.BigEndian.Uint32(buf[4:8]),
		Level:      binary.BigEndian.Uint32(buf[8:12]),
		EntryCount: binary.BigEndian.Uint64(buf[12:20]),
		MinKeyOff:  binary.BigEndian.Uint64(buf[20:28]),
		MinKeyLen:  binary.BigEndian.Uint32(buf[28:32]),
		MaxKeyOff:  binary.BigEndian.Uint64(buf[32:40]),
		MaxKeyLen:  binary.BigEndian.Uint32(buf[40:44]),
		IndexOff:   binary.BigEndian.Uint64(buf[44:52]),
		IndexLen:   binary.BigEndian.Uint64(buf[52:60]),
		BloomOff:   binary.BigEndian.Uint64(buf[60:68]),
		BloomLen:   binary.BigEndian.Uint64(buf[68:76]),
	}
	if f.Magic != sstableMagic {
		return Footer{}, errs.CorruptData("sstable footer", fmt.Errorf("bad magic %x", f.Magic))
	}
	return f, nil
}

// encodeBlockEntry appends one (key,type,seq,value?) record to buf.
func encodeBlockEntry(buf []byte, e blockEntry) []byte {
	tmp := make([]byte, 4)
	binary.BigEndian.PutUint32(tmp, uint32(len(e.Key)))
	buf = append(buf, tmp...)
	buf = append(buf, e.Key...)
	buf = append(buf, byte(e.Type))
	seqBuf := make([]byte, 8)
	binary.BigEndian.PutUint64(seqBuf, e.Seq)
	buf = append(buf, seqBuf...)
	if e.Type == EntryPut {
		binary.BigEndian.PutUint32(tmp, uint32(len(e.Value)))
		buf = append(buf, tmp...)
		buf = append(buf, e.Value...)
	}
	return buf
}

// decodeBlock parses every entry out of a decompressed block.
func decodeBlock(buf []byte) ([]blockEntry, error) {
	var entries []blockEntry
	off := 0
	for off < len(buf) {
		if off+4 > len(buf) {
			return nil, errs.CorruptData("sstable block", fmt.Errorf("truncated key length"))
		}
		keyLen := int(binary.BigEndian.Uint32(buf[off : off+4]))
		off += 4
		if off+keyLen+1+8 > len(buf) {
			return nil, errs.CorruptData("sstable block", fmt.Errorf("truncated entry"))
		}
		key := buf[off : off+keyLen]
		off += keyLen
		typ := EntryType(buf[off])
		off++
		seq := binary.BigEndian.Uint64(buf[off : off+8])
		off += 8
		e := blockEntry{Key: key, Type: typ, Seq: seq}
		if typ == EntryPut {
			if off+4 > len(buf) {
				return nil, errs.CorruptData("sstable block", fmt.Errorf("truncated value length"))
			}
			valLen := int(binary.BigEndian.Uint32(buf[off : off+4]))
			off += 4
			if off+valLen > len(buf) {
				return nil, errs.CorruptData("sstable block", fmt.Errorf("truncated value"))
			}
			e.Value = buf[off : off+valLen]
			off += valLen
		}
		entries = append(entries, e)
	}
	return entries, nil
}

func encodeIndex(entries []IndexEntry) []byte {
	var buf []byte
	tmp := make([]byte, 8)
	for _, e := range entries {
		l := make([]byte, 4)
		binary.BigEndian.PutUint32(l, uint32(len(e.FirstKey)))
		buf = append(buf, l...)
		buf = append(buf, e.FirstKey...)
		binary.BigEndian.PutUint64(tmp, e.Offset)
		buf = append(buf, tmp...)
		binary.BigEndian.PutUint64(tmp, e.Length)
		buf = append(buf, tmp...)
	}
	return buf
}

// encodeBloom prefixes the filter's size/hashCount so a reader can
// reconstruct an identical bit array, rather than guessing parameters
// from entry count alone.
func encodeBloom(bf *BloomFilter) []byte {
	header := make([]byte, 12)
	binary.BigEndian.PutUint64(header[0:8], uint64(bf.Size()))
	binary.BigEndian.PutUint32(header[8:12], uint32(bf.HashCount()))
	return append(header, bf.MarshalBinary()...)
}

func decodeBloom(buf []byte) (*BloomFilter, error) {
	if len(buf) < 12 {
		return nil, errs.CorruptData("sstable bloom", fmt.Errorf("truncated header"))
	}
	size := int(binary.BigEndian.Uint64(buf[0:8]))
	hashCount := int(binary.BigEndian.Uint32(buf[8:12]))
	bf := newBloomFromParams(size, hashCount)
	if err := bf.UnmarshalBinary(buf[12:]); err != nil {
		return nil, err
	}
	return bf, nil
}

func decodeIndex(buf []byte) ([]IndexEntry, error) {
	var out []IndexEntry
	off := 0
	for off < len(buf) {
		if off+4 > len(buf) {
			return nil, errs.CorruptData("sstable index", fmt.Errorf("truncated"))
		}
		keyLen := int(binary.BigEndian.Uint32(buf[off : off+4]))
		off += 4
		if off+keyLen+16 > len(buf) {
			return nil, errs.CorruptData("sstable index", fmt.Errorf("truncated entry"))
		}
		firstKey := append([]byte(nil), buf[off:off+keyLen]...)
		off += keyLen
		offset := binary.BigEndian.Uint64(buf[off : off+8])
		off += 8
		length := binary.BigEndian.Uint64(buf[off : off+8])
		off += 8
		out = append(out, IndexEntry{FirstKey: firstKey, Offset: offset, Length: length})
	}
	return out, nil
}
