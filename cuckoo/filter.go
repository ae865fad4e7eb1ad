// Package cuckoo implements a cuckoo filter: bounded-size buckets of
// fingerprints supporting Add, Check, and (unlike Bloom) Remove (spec.md
// §4.8). Fingerprints are derived from this module's own hash substrate
// rather than an external siphash dependency, so fingerprint bytes stay
// reproducible across implementations sharing the same hash family.
package cuckoo

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"os"

	"probex.lopezb.com/hash"
)

var (
	ErrInitialization = errors.New("cuckoo: initialization error")
	ErrPersistence    = errors.New("cuckoo: persistence error")
	ErrFull           = errors.New("cuckoo: filter full")
	ErrNotFound       = errors.New("cuckoo: fingerprint not found")
)

// Config configures a new Filter.
type Config struct {
	NumBuckets      uint32
	BucketSize      uint32
	FingerprintSize uint32
	MaxSwaps        uint32
	ExpansionRate   uint32
	AutoExpand      bool
	Hasher          hash.Hasher
}

// DefaultConfig returns a Config with conventional cuckoo filter
// parameters: 4-slot buckets, 1-byte fingerprints, 500 max swaps,
// auto-expansion enabled with a 2x growth rate.
func DefaultConfig() Config {
	return Config{
		NumBuckets:      1 << 10,
		BucketSize:      4,
		FingerprintSize: 1,
		MaxSwaps:        500,
		ExpansionRate:   2,
		AutoExpand:      true,
		Hasher:          hash.FNV1aSeeded{},
	}
}

// NewFromRate derives NumBuckets from an expected element count and target
// false positive rate, holding BucketSize at 4 (spec.md §4.8's sizing note).
func NewFromRate(estimatedElements uint64, falsePositiveRate float64) (*Filter, error) {
	cfg := DefaultConfig()
	cfg.BucketSize = 4
	loadFactor := 0.95
	needed := float64(estimatedElements) / (loadFactor * float64(cfg.BucketSize))
	buckets := uint32(1)
	for float64(buckets) < needed {
		buckets <<= 1
	}
	if buckets == 0 {
		buckets = 1
	}
	cfg.NumBuckets = buckets

	fpBits := math.Ceil(math.Log2(2 * float64(cfg.BucketSize) / falsePositiveRate))
	cfg.FingerprintSize = uint32(math.Ceil(fpBits / 8))
	if cfg.FingerprintSize == 0 {
		cfg.FingerprintSize = 1
	}
	return New(cfg)
}

const headerSize = 4*6 + 1 // bucketSize,maxSwaps,expansionRate,fingerprintSize,numBuckets,numElements (u32 each) + autoExpand (u8)

// Filter is a cuckoo filter: numBuckets slots of bucketSize fingerprints,
// each fingerprint fingerprintSize bytes wide. The bucket matrix is a flat
// []byte, identical in spirit to bloom's zero-copy backing.
type Filter struct {
	buckets       []byte
	numBuckets    uint32
	bucketSize    uint32
	fpSize        uint32
	maxSwaps      uint32
	expansionRate uint32
	autoExpand    bool
	numElements   uint32
	hasher        hash.Hasher
	rng           *rand.Rand
}

// New constructs an empty Filter from cfg. NumBuckets is rounded up to the
// next power of two, the conventional cuckoo filter sizing spec.md §4.8
// assumes (indicesFromFingerprint itself works for any NumBuckets > 0, via
// plain modulo).
func New(cfg Config) (*Filter, error) {
	if cfg.NumBuckets == 0 || cfg.BucketSize == 0 || cfg.FingerprintSize == 0 {
		return nil, fmt.Errorf("%w: num buckets, bucket size, and fingerprint size must be > 0", ErrInitialization)
	}
	if cfg.Hasher == nil {
		cfg.Hasher = hash.FNV1aSeeded{}
	}
	if cfg.MaxSwaps == 0 {
		cfg.MaxSwaps = 500
	}
	if cfg.ExpansionRate == 0 {
		cfg.ExpansionRate = 2
	}
	numBuckets := nextPowerOfTwo(cfg.NumBuckets)
	return &Filter{
		buckets:       make([]byte, uint64(numBuckets)*uint64(cfg.BucketSize)*uint64(cfg.FingerprintSize)),
		numBuckets:    numBuckets,
		bucketSize:    cfg.BucketSize,
		fpSize:        cfg.FingerprintSize,
		maxSwaps:      cfg.MaxSwaps,
		expansionRate: cfg.ExpansionRate,
		autoExpand:    cfg.AutoExpand,
		hasher:        cfg.Hasher,
		rng:           rand.New(rand.NewSource(1)),
	}, nil
}

// nextPowerOfTwo rounds n up to the nearest power of two, never returning
// less than 1.
func nextPowerOfTwo(n uint32) uint32 {
	if n <= 1 {
		return 1
	}
	p := uint32(1)
	for p < n {
		p <<= 1
	}
	return p
}

// SetRand overrides the filter's eviction RNG, enabling deterministic tests
// of swap behavior (spec.md's Open Question recommendation).
func (f *Filter) SetRand(r *rand.Rand) { f.rng = r }

func (f *Filter) NumBuckets() uint32      { return f.numBuckets }
func (f *Filter) BucketSize() uint32      { return f.bucketSize }
func (f *Filter) FingerprintSize() uint32 { return f.fpSize }
func (f *Filter) NumElements() uint32     { return f.numElements }

// fingerprint derives a nonzero fingerprint of fpSize bytes from key. A
// zero fingerprint would be indistinguishable from an empty slot, so the
// low bits are forced nonzero (spec.md §4.8: fp = max(1, h mod 2^(8*size))).
func (f *Filter) fingerprint(key []byte) []byte {
	hashes := f.hasher.HashMany(key, 1)
	h := hashes[0]
	mod := uint64(1) << (8 * f.fpSize)
	if mod == 0 {
		mod = math.MaxUint64
	}
	v := h % mod
	if v == 0 {
		v = 1
	}
	fp := make([]byte, f.fpSize)
	for i := uint32(0); i < f.fpSize; i++ {
		fp[i] = byte(v >> (8 * i))
	}
	return fp
}

// indicesFromFingerprint derives both candidate bucket indices from fp
// alone, never from the original key: a slot only ever stores the
// fingerprint, so after numBuckets changes (expand) the indices must be
// re-derivable from that fingerprint and the current numBuckets, not from a
// key nobody kept around. Mirrors the original's
// _indicies_from_fingerprint (idx_1 = fingerprint % capacity, idx_2 =
// hash(fingerprint) % capacity).
func (f *Filter) indicesFromFingerprint(fp []byte) (uint32, uint32) {
	i1 := uint32(fpToUint64(fp) % uint64(f.numBuckets))
	h := f.hasher.HashMany(fp, 1)
	i2 := uint32(h[0] % uint64(f.numBuckets))
	return i1, i2
}

// fpToUint64 decodes a fingerprint back into the integer fingerprint()
// encoded into it (little-endian, byte i holds v>>(8*i)).
func fpToUint64(fp []byte) uint64 {
	var v uint64
	for i, b := range fp {
		v |= uint64(b) << (8 * i)
	}
	return v
}

func (f *Filter) slot(bucket, slot uint32) []byte {
	off := (uint64(bucket)*uint64(f.bucketSize) + uint64(slot)) * uint64(f.fpSize)
	return f.buckets[off : off+uint64(f.fpSize)]
}

func isZero(b []byte) bool {
	for _, v := range b {
		if v != 0 {
			return false
		}
	}
	return true
}

func fpEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// insertIntoBucket places fp into the first empty slot of bucket i, if any.
func (f *Filter) insertIntoBucket(i uint32, fp []byte) bool {
	for s := uint32(0); s < f.bucketSize; s++ {
		slot := f.slot(i, s)
		if isZero(slot) {
			copy(slot, fp)
			return true
		}
	}
	return false
}

// Add inserts key, trying both candidate buckets before falling back to
// bounded random eviction. If key's fingerprint is already present in
// either candidate bucket, Add is a noop (spec.md §4.8 step 1: adding an
// already-present key does not duplicate it or grow NumElements). When the
// filter is full and AutoExpand is set, it expands and retries the Add (the
// retry may expand again); the expansion is rolled back if expand itself
// fails or the retry still fails.
func (f *Filter) Add(key []byte) error {
	fp := f.fingerprint(key)
	i1, i2 := f.indicesFromFingerprint(fp)

	if f.bucketContains(i1, fp) || f.bucketContains(i2, fp) {
		return nil
	}

	if err := f.insertFingerprint(fp, i1, i2); err != nil {
		if f.autoExpand {
			snapshot := f.snapshot()
			snapElements := f.numElements
			if expErr := f.expand(); expErr != nil {
				f.restore(snapshot)
				f.numElements = snapElements
				return expErr
			}
			if addErr := f.Add(key); addErr != nil {
				f.restore(snapshot)
				return fmt.Errorf("%w: expansion did not create room", ErrFull)
			}
			return nil
		}
		return err
	}
	return nil
}

// insertFingerprint places fp into bucket i1 or i2, falling back to bounded
// random eviction: the displaced fingerprint is re-homed using indices
// recomputed from itself (not the original key), exactly like Add's own
// placement, so a chain of evictions stays internally consistent. If the
// eviction chain exhausts MaxSwaps, every swap it performed is rolled back
// before returning ErrFull, so a failed insert never leaves the bucket
// matrix partially mutated (spec.md §7).
func (f *Filter) insertFingerprint(fp []byte, i1, i2 uint32) error {
	if f.insertIntoBucket(i1, fp) || f.insertIntoBucket(i2, fp) {
		f.numElements++
		return nil
	}

	pre := f.snapshot()

	i := i1
	if f.rng.Intn(2) == 1 {
		i = i2
	}
	curFp := append([]byte(nil), fp...)
	for n := uint32(0); n < f.maxSwaps; n++ {
		victim := uint32(f.rng.Intn(int(f.bucketSize)))
		slot := f.slot(i, victim)
		evicted := append([]byte(nil), slot...)
		copy(slot, curFp)
		curFp = evicted
		idx1, idx2 := f.indicesFromFingerprint(curFp)
		if i == idx1 {
			i = idx2
		} else {
			i = idx1
		}
		if f.insertIntoBucket(i, curFp) {
			f.numElements++
			return nil
		}
	}
	f.restore(pre)
	return ErrFull
}

type snapshot struct {
	buckets    []byte
	numBuckets uint32
}

func (f *Filter) snapshot() snapshot {
	return snapshot{buckets: append([]byte(nil), f.buckets...), numBuckets: f.numBuckets}
}

func (f *Filter) restore(s snapshot) {
	f.buckets = s.buckets
	f.numBuckets = s.numBuckets
}

// expand doubles (by expansionRate) the bucket count and rehashes every
// existing fingerprint against indicesFromFingerprint recomputed under the
// new numBuckets. Recomputing from the fingerprint (rather than keeping the
// old physical bucket index) is required for correctness: a key's Check
// recomputes its candidate buckets from scratch against the current
// numBuckets, so a fingerprint left at its pre-expand bucket position would
// become unreachable for every key whose new index falls in the grown half
// of the table (spec.md §8: "After expand(), check(k) remains true for
// every previously added k").
func (f *Filter) expand() error {
	old := f.buckets
	oldNumBuckets := f.numBuckets
	newNumBuckets := f.numBuckets * f.expansionRate
	if newNumBuckets <= f.numBuckets {
		return fmt.Errorf("%w: expansion rate must increase bucket count", ErrInitialization)
	}

	f.buckets = make([]byte, uint64(newNumBuckets)*uint64(f.bucketSize)*uint64(f.fpSize))
	f.numBuckets = newNumBuckets
	f.numElements = 0

	for b := uint32(0); b < oldNumBuckets; b++ {
		for s := uint32(0); s < f.bucketSize; s++ {
			off := (uint64(b)*uint64(f.bucketSize) + uint64(s)) * uint64(f.fpSize)
			fp := old[off : off+uint64(f.fpSize)]
			if isZero(fp) {
				continue
			}
			i1, i2 := f.indicesFromFingerprint(fp)
			if err := f.insertFingerprint(fp, i1, i2); err != nil {
				return fmt.Errorf("%w: rehash failed to place existing fingerprint", ErrInitialization)
			}
		}
	}
	return nil
}

// Check reports whether key's fingerprint is present in either candidate bucket.
func (f *Filter) Check(key []byte) bool {
	fp := f.fingerprint(key)
	i1, i2 := f.indicesFromFingerprint(fp)
	return f.bucketContains(i1, fp) || f.bucketContains(i2, fp)
}

func (f *Filter) bucketContains(i uint32, fp []byte) bool {
	for s := uint32(0); s < f.bucketSize; s++ {
		if fpEqual(f.slot(i, s), fp) {
			return true
		}
	}
	return false
}

// Remove deletes one instance of key's fingerprint from either candidate
// bucket. Removing a key that was never added, when its fingerprint
// collides with a present one, silently removes the colliding entry
// instead (the filter cannot distinguish the two); this matches the
// standard cuckoo filter's documented Remove caveat.
func (f *Filter) Remove(key []byte) error {
	fp := f.fingerprint(key)
	i1, i2 := f.indicesFromFingerprint(fp)

	if f.removeFromBucket(i1, fp) || f.removeFromBucket(i2, fp) {
		f.numElements--
		return nil
	}
	return ErrNotFound
}

func (f *Filter) removeFromBucket(i uint32, fp []byte) bool {
	for s := uint32(0); s < f.bucketSize; s++ {
		slot := f.slot(i, s)
		if fpEqual(slot, fp) {
			for j := range slot {
				slot[j] = 0
			}
			return true
		}
	}
	return false
}

// Bytes serializes the filter to the on-disk layout: six u32 header fields
// followed by auto_expand (u8) and the raw bucket matrix (spec.md §6.5).
// No magic number is reserved for this format.
func (f *Filter) Bytes() []byte {
	out := make([]byte, headerSize+len(f.buckets))
	binary.LittleEndian.PutUint32(out[0:4], f.bucketSize)
	binary.LittleEndian.PutUint32(out[4:8], f.maxSwaps)
	binary.LittleEndian.PutUint32(out[8:12], f.expansionRate)
	binary.LittleEndian.PutUint32(out[12:16], f.fpSize)
	binary.LittleEndian.PutUint32(out[16:20], f.numBuckets)
	binary.LittleEndian.PutUint32(out[20:24], f.numElements)
	if f.autoExpand {
		out[24] = 1
	}
	copy(out[headerSize:], f.buckets)
	return out
}

// Export writes the filter to path.
func (f *Filter) Export(path string) error {
	return os.WriteFile(path, f.Bytes(), 0o644)
}

// LoadBytes reconstructs a Filter from raw bytes. hasher is not part of the
// on-disk format and must be supplied by the caller.
func LoadBytes(data []byte, hasher hash.Hasher) (*Filter, error) {
	if len(data) < headerSize {
		return nil, fmt.Errorf("%w: data too short for header", ErrPersistence)
	}
	bucketSize := binary.LittleEndian.Uint32(data[0:4])
	maxSwaps := binary.LittleEndian.Uint32(data[4:8])
	expansionRate := binary.LittleEndian.Uint32(data[8:12])
	fpSize := binary.LittleEndian.Uint32(data[12:16])
	numBuckets := binary.LittleEndian.Uint32(data[16:20])
	numElements := binary.LittleEndian.Uint32(data[20:24])
	autoExpand := data[24] != 0

	want := headerSize + uint64(numBuckets)*uint64(bucketSize)*uint64(fpSize)
	if uint64(len(data)) != want {
		return nil, fmt.Errorf("%w: expected %d bytes, got %d", ErrPersistence, want, len(data))
	}
	if hasher == nil {
		hasher = hash.FNV1aSeeded{}
	}
	buckets := make([]byte, len(data)-headerSize)
	copy(buckets, data[headerSize:])

	return &Filter{
		buckets:       buckets,
		numBuckets:    numBuckets,
		bucketSize:    bucketSize,
		fpSize:        fpSize,
		maxSwaps:      maxSwaps,
		expansionRate: expansionRate,
		autoExpand:    autoExpand,
		numElements:   numElements,
		hasher:        hasher,
		rng:           rand.New(rand.NewSource(1)),
	}, nil
}

// Load reads a cuckoo filter file from path.
func Load(path string, hasher hash.Hasher) (*Filter, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	return LoadBytes(data, hasher)
}
