// Package hash implements the hashing substrate shared by every sketch in
// this module: a uniform contract for turning a key into a vector of d
// independent-looking 64-bit hashes.
//
// Two hash families are part of the on-disk contract (spec.md's on-disk
// formats do not record which hasher produced a structure's bits, so an
// importer must reproduce the same family the exporter used):
//
//   - FNV1aSeeded, the default: each round reseeds the FNV-1a accumulator
//     with the previous round's output.
//   - SHA256, which derives hash_i from the low 64 bits of
//     SHA256(big-endian(i) || key).
//
// A third family, XXHash, wraps github.com/cespare/xxhash/v2. It is not
// part of any on-disk contract; it exists for callers who want a faster
// in-memory-only hasher and are not persisting the result cross-process.
package hash

import (
	"crypto/sha256"
	"encoding/binary"

	"github.com/cespare/xxhash/v2"
)

// HashVector is an ordered sequence of d 64-bit hashes produced for a key.
type HashVector []uint64

// Hasher is a pure function (key, depth) -> HashVector of length >= depth.
// Implementations MUST be deterministic across runs and platforms and MUST
// treat byte and UTF-8 string encodings of the same content identically.
type Hasher interface {
	HashMany(key []byte, depth int) HashVector
}

// ToKey UTF-8 encodes a string key. String and []byte inputs carrying the
// same bytes MUST hash identically, so this is the only place a string is
// ever converted before hashing.
func ToKey(s string) []byte {
	return []byte(s)
}

// fnvOffsetBasis is h_{-1} in the FNV-1a-seeded family: the standard FNV
// 64-bit offset basis.
const fnvOffsetBasis uint64 = 0xCBF29CE484222325

// fnvPrime is the FNV-1a 64-bit prime.
const fnvPrime uint64 = 0x100000001B3

// FNV1aSeeded is the default hash family and the one every on-disk format
// in this module assumes when a structure does not otherwise record which
// hasher produced it.
//
// For round i, the running hash is seeded with h_{i-1} (h_{-1} is the FNV
// offset basis), then each input byte is XORed into the running hash and
// the hash is multiplied by the FNV prime, modulo 2^64 (free via uint64
// wraparound).
type FNV1aSeeded struct{}

func (FNV1aSeeded) HashMany(key []byte, depth int) HashVector {
	out := make(HashVector, depth)
	seed := fnvOffsetBasis
	for i := 0; i < depth; i++ {
		h := seed
		for _, b := range key {
			h ^= uint64(b)
			h *= fnvPrime
		}
		out[i] = h
		seed = h
	}
	return out
}

// SHA256 derives hash_i from the low 64 bits of SHA256(seed_i || key),
// where seed_i is the big-endian 8-byte encoding of i.
type SHA256 struct{}

func (SHA256) HashMany(key []byte, depth int) HashVector {
	out := make(HashVector, depth)
	var seedBuf [8]byte
	buf := make([]byte, 0, 8+len(key))
	for i := 0; i < depth; i++ {
		binary.BigEndian.PutUint64(seedBuf[:], uint64(i))
		buf = buf[:0]
		buf = append(buf, seedBuf[:]...)
		buf = append(buf, key...)
		sum := sha256.Sum256(buf)
		out[i] = binary.BigEndian.Uint64(sum[24:])
	}
	return out
}

// XXHash is the teacher's own fast, non-cryptographic hasher, offered as a
// third pluggable family for callers who only need in-memory, single-process
// determinism. It is never assumed by an importer reading a file exported
// by a different implementation.
type XXHash struct{}

func (XXHash) HashMany(key []byte, depth int) HashVector {
	out := make(HashVector, depth)
	h := xxhash.Sum64(key)
	for i := 0; i < depth; i++ {
		out[i] = h
		h = mix(h)
	}
	return out
}

// mix is the SplitMix64 finalizer, used to decorrelate successive rounds
// of the XXHash family without re-reading the key bytes.
func mix(x uint64) uint64 {
	x ^= x >> 30
	x *= 0xbf58476d1ce4e5b9
	x ^= x >> 27
	x *= 0x94d049bb133111eb
	x ^= x >> 31
	return x
}

// LegacyFNV1a reproduces the pre-0.5.0 hash family for reading old exports.
// It chains plain (unseeded) FNV-1a over key||i instead of reseeding the
// accumulator, which is the documented backward-incompatible change noted
// in spec.md's Open Questions. It is never selected automatically; a caller
// importing a file that predates the current format must construct it
// explicitly.
type LegacyFNV1a struct{}

func (LegacyFNV1a) HashMany(key []byte, depth int) HashVector {
	out := make(HashVector, depth)
	for i := 0; i < depth; i++ {
		h := fnvOffsetBasis
		for _, b := range key {
			h ^= uint64(b)
			h *= fnvPrime
		}
		h ^= uint64(i)
		h *= fnvPrime
		out[i] = h
	}
	return out
}

// seedAdapter lifts a scalar hasher f(key, seed) -> u64 into the
// depth-producing form by threading the previous output as the next seed.
type seedAdapter struct {
	f           func(key []byte, seed uint64) uint64
	initialSeed uint64
}

// NewSeedAdapter implements hash_with_depth_int: it lifts f(key, seed) -> u64
// by chaining seed_{i+1} = h_i, starting from initialSeed.
func NewSeedAdapter(f func(key []byte, seed uint64) uint64, initialSeed uint64) Hasher {
	return seedAdapter{f: f, initialSeed: initialSeed}
}

func (a seedAdapter) HashMany(key []byte, depth int) HashVector {
	out := make(HashVector, depth)
	seed := a.initialSeed
	for i := 0; i < depth; i++ {
		h := a.f(key, seed)
		out[i] = h
		seed = h
	}
	return out
}

// byteAdapter lifts a scalar hasher f(key) -> bytes into the depth-producing
// form by prepending a 1-byte depth index to the key before each call.
type byteAdapter struct {
	f func(key []byte) []byte
}

// NewByteAdapter implements hash_with_depth_bytes: f(key) -> bytes is called
// once per round with a 1-byte depth index prefixed to key, and the low 64
// bits of the result (little-endian) become that round's hash.
func NewByteAdapter(f func(key []byte) []byte) Hasher {
	return byteAdapter{f: f}
}

func (a byteAdapter) HashMany(key []byte, depth int) HashVector {
	out := make(HashVector, depth)
	prefixed := make([]byte, 1+len(key))
	copy(prefixed[1:], key)
	for i := 0; i < depth; i++ {
		prefixed[0] = byte(i)
		sum := a.f(prefixed)
		var v uint64
		for j := 0; j < 8 && j < len(sum); j++ {
			v |= uint64(sum[j]) << (8 * uint(j))
		}
		out[i] = v
	}
	return out
}
