// Package bitset implements the bit-array and counter-array primitives
// underneath the Bloom family (the Count-Min and Cuckoo packages keep their
// own byte-backed arrays and do not use it): flat, byte-oriented
// arrays with endian-aware accessors, following the zero-copy style of
// the teacher's internal/limite/{bloom,cms} packages (wrap a []byte, read
// and write directly through it, no intermediate Go-typed copy).
package bitset

import "encoding/binary"

// BitBackend is the contract spec.md §9 names for any structure backing a
// Bloom filter's bit array, in-memory or memory-mapped. BitArray satisfies
// it directly; the ondisk package's MappedBits satisfies it over a file.
type BitBackend interface {
	GetBit(i uint64) bool
	SetBit(i uint64)
	PopCount() uint64
	Flush() error
	Bytes() []byte
}

// BitArray is a flat, byte-packed bit array backed by a []byte.
type BitArray struct {
	data []byte
	bits uint64
}

// NewBitArray allocates a zeroed bit array of the given length in bits.
func NewBitArray(bits uint64) *BitArray {
	return &BitArray{data: make([]byte, (bits+7)/8), bits: bits}
}

// WrapBitArray views an existing byte slice as a bit array of the given
// length in bits. len(data) must be >= ceil(bits/8).
func WrapBitArray(data []byte, bits uint64) *BitArray {
	return &BitArray{data: data, bits: bits}
}

func (b *BitArray) Len() uint64 { return b.bits }

func (b *BitArray) GetBit(i uint64) bool {
	return b.data[i/8]&(1<<(i%8)) != 0
}

func (b *BitArray) SetBit(i uint64) {
	b.data[i/8] |= 1 << (i % 8)
}

func (b *BitArray) ClearBit(i uint64) {
	b.data[i/8] &^= 1 << (i % 8)
}

func (b *BitArray) Flush() error { return nil }

func (b *BitArray) Bytes() []byte { return b.data }

// PopCount returns the number of set bits, using the trailing-byte mask so
// that padding bits beyond b.bits never count.
func (b *BitArray) PopCount() uint64 {
	var count uint64
	full := b.bits / 8
	for i := uint64(0); i < full; i++ {
		count += uint64(popcountByte(b.data[i]))
	}
	if rem := b.bits % 8; rem != 0 {
		mask := byte(1<<rem) - 1
		count += uint64(popcountByte(b.data[full] & mask))
	}
	return count
}

func popcountByte(b byte) int {
	n := 0
	for b != 0 {
		n += int(b & 1)
		b >>= 1
	}
	return n
}

// Union computes the bitwise OR of two equal-length bit arrays into a new one.
func Union(a, b *BitArray) *BitArray {
	out := NewBitArray(a.bits)
	for i := range out.data {
		out.data[i] = a.data[i] | b.data[i]
	}
	return out
}

// Intersect computes the bitwise AND of two equal-length bit arrays into a new one.
func Intersect(a, b *BitArray) *BitArray {
	out := NewBitArray(a.bits)
	for i := range out.data {
		out.data[i] = a.data[i] & b.data[i]
	}
	return out
}

// Counters32 is a flat array of saturating 32-bit unsigned counters backed
// by a []byte, used by CountingBloom (spec.md §3/§4.3). Counter i occupies
// bytes [i*4, i*4+4) in little-endian order.
type Counters32 struct {
	data []byte
	n    uint64
}

// NewCounters32 allocates a zeroed counter array of n cells.
func NewCounters32(n uint64) *Counters32 {
	return &Counters32{data: make([]byte, n*4), n: n}
}

// WrapCounters32 views an existing byte slice as n 32-bit counters.
func WrapCounters32(data []byte, n uint64) *Counters32 {
	return &Counters32{data: data, n: n}
}

func (c *Counters32) Len() uint64 { return c.n }

func (c *Counters32) Bytes() []byte { return c.data }

func (c *Counters32) Get(i uint64) uint32 {
	return binary.LittleEndian.Uint32(c.data[i*4 : i*4+4])
}

func (c *Counters32) set(i uint64, v uint32) {
	binary.LittleEndian.PutUint32(c.data[i*4:i*4+4], v)
}

// Add increments counter i by delta, saturating at 2^32-1, and returns the
// counter's value after the increment.
func (c *Counters32) Add(i uint64, delta uint32) uint32 {
	cur := c.Get(i)
	next := cur + delta
	if next < cur { // overflow
		next = ^uint32(0)
	}
	c.set(i, next)
	return next
}

// Sub decrements counter i by delta, saturating at 0, and returns the
// counter's value after the decrement.
func (c *Counters32) Sub(i uint64, delta uint32) uint32 {
	cur := c.Get(i)
	if delta > cur {
		c.set(i, 0)
		return 0
	}
	next := cur - delta
	c.set(i, next)
	return next
}

// NonZeroCount returns the number of counters with a nonzero value, used by
// CountingBloom's estimate_elements (spec.md §4.3).
func (c *Counters32) NonZeroCount() uint64 {
	var n uint64
	for i := uint64(0); i < c.n; i++ {
		if c.Get(i) != 0 {
			n++
		}
	}
	return n
}
