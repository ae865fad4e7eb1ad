package bloom

import (
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"reflect"

	"probex.lopezb.com/bitset"
	"probex.lopezb.com/hash"
)

// CountingFilter is a Bloom filter whose array holds 32-bit saturating
// counters in place of bits (spec.md §3/§4.3), enabling Remove. The m
// counters are sized exactly as a classical Filter's m bits would be.
type CountingFilter struct {
	counters *bitset.Counters32
	m        uint64
	k        uint64
	p        float64
	nEst     uint64
	nIns     uint64
	hasher   hash.Hasher
}

// NewCounting constructs a fresh CountingFilter sized from
// (EstimatedElements, FalsePositiveRate).
func NewCounting(cfg Config) (*CountingFilter, error) {
	if cfg.EstimatedElements == 0 {
		return nil, fmt.Errorf("%w: estimated elements must be > 0", ErrInitialization)
	}
	if cfg.FalsePositiveRate <= 0 || cfg.FalsePositiveRate >= 1 {
		return nil, fmt.Errorf("%w: false positive rate must be in (0,1)", ErrInitialization)
	}
	if cfg.Hasher == nil {
		cfg.Hasher = hash.FNV1aSeeded{}
	}
	m, k := deriveMK(cfg.EstimatedElements, cfg.FalsePositiveRate)
	return &CountingFilter{
		counters: bitset.NewCounters32(m),
		m:        m,
		k:        k,
		p:        cfg.FalsePositiveRate,
		nEst:     cfg.EstimatedElements,
		hasher:   cfg.Hasher,
	}, nil
}

func (f *CountingFilter) M() uint64                      { return f.m }
func (f *CountingFilter) K() uint64                      { return f.k }
func (f *CountingFilter) EstimatedElements() uint64      { return f.nEst }
func (f *CountingFilter) TargetFalsePositiveRate() float64 { return f.p }
func (f *CountingFilter) InsertedCount() uint64          { return f.nIns }

func (f *CountingFilter) indices(key []byte) hash.HashVector {
	return f.hasher.HashMany(key, int(f.k))
}

// Add increments the k counters for key by 1 (saturating) and increments
// n_ins. Returns the minimum counter value across the k positions after
// the increment.
func (f *CountingFilter) Add(key []byte) uint32 {
	hashes := f.indices(key)
	var minVal uint32 = math.MaxUint32
	for i := uint64(0); i < f.k; i++ {
		v := f.counters.Add(hashes[i]%f.m, 1)
		if v < minVal {
			minVal = v
		}
	}
	f.nIns++
	return minVal
}

// Check reports whether all k counters for key are nonzero.
func (f *CountingFilter) Check(key []byte) bool {
	hashes := f.indices(key)
	for i := uint64(0); i < f.k; i++ {
		if f.counters.Get(hashes[i]%f.m) == 0 {
			return false
		}
	}
	return true
}

// Remove decrements the k counters for key by 1 (saturating at 0) and
// returns the minimum counter value across the k positions after the
// decrement.
func (f *CountingFilter) Remove(key []byte) uint32 {
	hashes := f.indices(key)
	var minVal uint32 = math.MaxUint32
	for i := uint64(0); i < f.k; i++ {
		v := f.counters.Sub(hashes[i]%f.m, 1)
		if v < minVal {
			minVal = v
		}
	}
	return minVal
}

// EstimateElements applies the Bloom estimator over the count of nonzero
// cells in place of a bit popcount.
func (f *CountingFilter) EstimateElements() uint64 {
	x := f.counters.NonZeroCount()
	if x >= f.m {
		return f.nIns
	}
	ratio := float64(x) / float64(f.m)
	est := -(float64(f.m) / float64(f.k)) * math.Log(1-ratio)
	if est < 0 || math.IsNaN(est) || math.IsInf(est, 0) {
		return f.nIns
	}
	return uint64(math.Round(est))
}

func (f *CountingFilter) sameShape(other *CountingFilter) bool {
	return f.m == other.m && f.k == other.k && reflect.TypeOf(f.hasher) == reflect.TypeOf(other.hasher)
}

// Union returns a new CountingFilter with cell-wise saturating addition of
// f and other's counters.
func (f *CountingFilter) Union(other *CountingFilter) (*CountingFilter, error) {
	if !f.sameShape(other) {
		return nil, fmt.Errorf("%w: union requires identical (m, k, hash family)", ErrInitialization)
	}
	merged := bitset.NewCounters32(f.m)
	for i := uint64(0); i < f.m; i++ {
		merged.Add(i, f.counters.Get(i))
		merged.Add(i, other.counters.Get(i))
	}
	nIns := f.nIns + other.nIns
	if nIns > f.nEst {
		nIns = f.nEst
	}
	return &CountingFilter{counters: merged, m: f.m, k: f.k, p: f.p, nEst: f.nEst, nIns: nIns, hasher: f.hasher}, nil
}

// Intersection returns a new CountingFilter with cell-wise minimum of f
// and other's counters.
func (f *CountingFilter) Intersection(other *CountingFilter) (*CountingFilter, error) {
	if !f.sameShape(other) {
		return nil, fmt.Errorf("%w: intersection requires identical (m, k, hash family)", ErrInitialization)
	}
	merged := bitset.NewCounters32(f.m)
	for i := uint64(0); i < f.m; i++ {
		a, b := f.counters.Get(i), other.counters.Get(i)
		if b < a {
			a = b
		}
		merged.Add(i, a)
	}
	nIns := f.nIns
	if other.nIns < nIns {
		nIns = other.nIns
	}
	return &CountingFilter{counters: merged, m: f.m, k: f.k, p: f.p, nEst: f.nEst, nIns: nIns, hasher: f.hasher}, nil
}

// Bytes serializes the filter to the .cbm layout: m u32 counters followed
// by the standard footer.
func (f *CountingFilter) Bytes() []byte {
	body := f.counters.Bytes()
	out := make([]byte, len(body)+FooterSize)
	copy(out, body)
	off := len(body)
	binary.LittleEndian.PutUint64(out[off:], f.nEst)
	off += 8
	binary.LittleEndian.PutUint32(out[off:], math.Float32bits(float32(f.p)))
	off += 4
	binary.LittleEndian.PutUint64(out[off:], f.nIns)
	return out
}

// Export writes the .cbm layout to path.
func (f *CountingFilter) Export(path string) error {
	return os.WriteFile(path, f.Bytes(), 0o644)
}

// LoadCountingBytes reconstructs a CountingFilter from raw .cbm bytes.
func LoadCountingBytes(data []byte, hasher hash.Hasher) (*CountingFilter, error) {
	if len(data) < FooterSize {
		return nil, fmt.Errorf("%w: file too short for footer", ErrPersistence)
	}
	if hasher == nil {
		hasher = hash.FNV1aSeeded{}
	}
	bodyLen := len(data) - FooterSize
	footer := data[bodyLen:]
	nEst := binary.LittleEndian.Uint64(footer[0:8])
	p := float64(math.Float32frombits(binary.LittleEndian.Uint32(footer[8:12])))
	nIns := binary.LittleEndian.Uint64(footer[12:20])

	if nEst == 0 || p <= 0 || p >= 1 {
		return nil, fmt.Errorf("%w: invalid stored parameters", ErrPersistence)
	}
	m, k := deriveMK(nEst, p)
	if uint64(bodyLen) != m*4 {
		return nil, fmt.Errorf("%w: counter array length %d does not match derived m=%d (%d bytes)", ErrPersistence, bodyLen, m, m*4)
	}

	body := make([]byte, bodyLen)
	copy(body, data[:bodyLen])

	return &CountingFilter{
		counters: bitset.WrapCounters32(body, m),
		m:        m,
		k:        k,
		p:        p,
		nEst:     nEst,
		nIns:     nIns,
		hasher:   hasher,
	}, nil
}

// LoadCounting reads a .cbm file from path and reconstructs the CountingFilter.
func LoadCounting(path string, hasher hash.Hasher) (*CountingFilter, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	return LoadCountingBytes(data, hasher)
}
