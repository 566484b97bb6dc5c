package lsm

import (
	"hash/fnv"
	"math"
)

// BloomFilter answers "might this SSTable contain key?" with no false
// negatives: a false answer is definitive, a true answer means the block
// index must be consulted.
type BloomFilter struct {
	words     []uint64
	nbits     int
	hashCount int
}

// bloomMaxBits caps the bit array so a corrupt or absurd entry count
// cannot balloon the allocation.
const bloomMaxBits = 1 << 30

// NewBloomFilter sizes a filter for expectedItems at the target false
// positive rate, using the standard m = -n·ln(p)/ln(2)² and
// k = (m/n)·ln(2) parameters.
func NewBloomFilter(expectedItems int, falsePositiveRate float64) *BloomFilter {
	if expectedItems <= 0 {
		expectedItems = 1
	}
	if falsePositiveRate <= 0 || falsePositiveRate >= 1 {
		falsePositiveRate = 0.01
	}

	nbits := int(math.Ceil(-float64(expectedItems) * math.Log(falsePositiveRate) / (math.Ln2 * math.Ln2)))
	if nbits < 64 {
		nbits = 64
	}
	if nbits > bloomMaxBits {
		nbits = bloomMaxBits
	}
	hashCount := int(math.Round(float64(nbits) / float64(expectedItems) * math.Ln2))
	if hashCount < 1 {
		hashCount = 1
	}
	if hashCount > 30 {
		hashCount = 30
	}
	return newBloomFromParams(nbits, hashCount)
}

func newBloomFromParams(nbits, hashCount int) *BloomFilter {
	return &BloomFilter{
		words:     make([]uint64, (nbits+63)/64),
		nbits:     nbits,
		hashCount: hashCount,
	}
}

// baseHashes derives the two independent hash values the double-hashing
// scheme combines as g_i(key) = h1 + i·h2. One FNV pass per key; h2 is
// forced odd so the probe sequence covers the whole bit array.
func (bf *BloomFilter) baseHashes(key []byte) (uint64, uint64) {
	h := fnv.New64a()
	h.Write(key)
	h1 := h.Sum64()
	h.Write([]byte{0xFF})
	h2 := h.Sum64() | 1
	return h1, h2
}

// Add sets the filter bits for key.
func (bf *BloomFilter) Add(key []byte) {
	h1, h2 := bf.baseHashes(key)
	for i := 0; i < bf.hashCount; i++ {
		bit := (h1 + uint64(i)*h2) % uint64(bf.nbits)
		bf.words[bit/64] |= 1 << (bit % 64)
	}
}

// MayContain reports whether key might be present. False means key was
// never added.
func (bf *BloomFilter) MayContain(key []byte) bool {
	h1, h2 := bf.baseHashes(key)
	for i := 0; i < bf.hashCount; i++ {
		bit := (h1 + uint64(i)*h2) % uint64(bf.nbits)
		if bf.words[bit/64]&(1<<(bit%64)) == 0 {
			return false
		}
	}
	return true
}

// Size returns the bit-array length.
func (bf *BloomFilter) Size() int { return bf.nbits }

// HashCount returns the number of probe positions per key.
func (bf *BloomFilter) HashCount() int { return bf.hashCount }

// MarshalBinary packs the bit array little-endian, 8 bits per byte, for
// the SSTable bloom section.
func (bf *BloomFilter) MarshalBinary() []byte {
	data := make([]byte, (bf.nbits+7)/8)
	for i := range data {
		data[i] = byte(bf.words[i/8] >> ((i % 8) * 8))
	}
	return data
}

// UnmarshalBinary restores a bit array written by MarshalBinary into a
// filter already sized by its on-disk parameters.
func (bf *BloomFilter) UnmarshalBinary(data []byte) error {
	for i, b := range data {
		if i/8 >= len(bf.words) {
			break
		}
		bf.words[i/8] |= uint64(b) << ((i % 8) * 8)
	}
	return nil
}
