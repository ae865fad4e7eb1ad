// Package bloom implements the classical Bloom filter and its family:
// Counting Bloom (saturating counters in place of bits), Expanding Bloom
// (append-on-saturation chain), and Rotating Bloom (bounded ring with
// age-based eviction). See spec.md §3-4 for the invariants and §6.1/6.3/6.7
// for the exact on-disk layouts, which are part of this package's public
// contract: other implementations importing a file this package exported
// MUST reproduce the byte layout exactly.
//
// Structures here are zero-copy over a bitset.BitBackend, following the
// teacher's internal/limite/{bloom,cms} packages: accessors read and write
// directly through the backing array instead of deserializing into
// parallel Go fields, so Export is just "write the backing bytes".
package bloom

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"os"
	"reflect"

	"probex.lopezb.com/bitset"
	"probex.lopezb.com/hash"
)

var (
	// ErrInitialization signals invalid construction parameters: a
	// non-positive estimated-elements count, an error rate outside (0,1),
	// or mismatched operand shapes for Union/Intersection.
	ErrInitialization = errors.New("bloom: invalid initialization parameters")

	// ErrPersistence signals a short, truncated, or internally
	// inconsistent byte stream on import.
	ErrPersistence = errors.New("bloom: corrupt or undersized data")

	// ErrNotSupported signals an operation unavailable on the current
	// structure, e.g. Remove on a plain Filter.
	ErrNotSupported = errors.New("bloom: operation not supported")
)

// FooterSize is the length in bytes of the trailing footer shared by the
// classic Bloom (.blm) and Counting Bloom (.cbm) formats: est_elements
// (u64) + fpr (f32) + n_ins (u64).
const FooterSize = 8 + 4 + 8

// Config holds the initialization parameters for a new Filter.
type Config struct {
	// EstimatedElements is the expected set size (n_est).
	EstimatedElements uint64
	// FalsePositiveRate is the target false positive rate (p), in (0,1).
	FalsePositiveRate float64
	// Hasher produces the depth-many hash vector for a key. Defaults to
	// hash.FNV1aSeeded{}, the on-disk contract default, when nil.
	Hasher hash.Hasher
}

// DefaultConfig returns a Filter configuration for 1000 elements at a 1%
// false positive rate using the default hash family.
func DefaultConfig() Config {
	return Config{EstimatedElements: 1000, FalsePositiveRate: 0.01, Hasher: hash.FNV1aSeeded{}}
}

// deriveMK implements the classical Bloom formulas from spec.md §3:
// m = ceil(-n*ln(p) / ln(2)^2), k = ceil((m/n) * ln(2)), both clamped to >= 1.
func deriveMK(n uint64, p float64) (m, k uint64) {
	ln2 := math.Log(2)
	mf := math.Ceil(-float64(n) * math.Log(p) / (ln2 * ln2))
	if mf < 1 {
		mf = 1
	}
	m = uint64(mf)
	kf := math.Ceil((mf / float64(n)) * ln2)
	if kf < 1 {
		kf = 1
	}
	k = uint64(kf)
	return m, k
}

// Filter is a classical Bloom filter: an m-bit array checked with k hash
// functions.
type Filter struct {
	backend bitset.BitBackend
	m       uint64
	k       uint64
	p       float64
	nEst    uint64
	nIns    uint64
	hasher  hash.Hasher
}

// New constructs a fresh Filter sized from (EstimatedElements, FalsePositiveRate).
func New(cfg Config) (*Filter, error) {
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
	return &Filter{
		backend: bitset.NewBitArray(m),
		m:       m,
		k:       k,
		p:       cfg.FalsePositiveRate,
		nEst:    cfg.EstimatedElements,
		hasher:  cfg.Hasher,
	}, nil
}

// NewWithMK constructs a Filter from explicit (m, k) parameters, bypassing
// the rate-based derivation. nEst and p are recorded as reported (used only
// for later estimate/rate computations and for export); they are not
// re-derived from m and k.
func NewWithMK(m, k, estimatedElements uint64, falsePositiveRate float64, hasher hash.Hasher) (*Filter, error) {
	if m == 0 || k == 0 {
		return nil, fmt.Errorf("%w: m and k must be > 0", ErrInitialization)
	}
	if hasher == nil {
		hasher = hash.FNV1aSeeded{}
	}
	return &Filter{
		backend: bitset.NewBitArray(m),
		m:       m,
		k:       k,
		p:       falsePositiveRate,
		nEst:    estimatedElements,
		hasher:  hasher,
	}, nil
}

// NewOnDisk constructs a fresh Filter backed by the given BitBackend
// (typically an *ondisk.MappedBits) instead of an in-memory bit array.
// The backend must already be sized for the m spec.md's formulas would
// derive from cfg; callers normally obtain that size via EstimateMK.
func NewOnDisk(backend bitset.BitBackend, m, k uint64, cfg Config) (*Filter, error) {
	if cfg.EstimatedElements == 0 {
		return nil, fmt.Errorf("%w: estimated elements must be > 0", ErrInitialization)
	}
	if cfg.FalsePositiveRate <= 0 || cfg.FalsePositiveRate >= 1 {
		return nil, fmt.Errorf("%w: false positive rate must be in (0,1)", ErrInitialization)
	}
	if cfg.Hasher == nil {
		cfg.Hasher = hash.FNV1aSeeded{}
	}
	return &Filter{backend: backend, m: m, k: k, p: cfg.FalsePositiveRate, nEst: cfg.EstimatedElements, hasher: cfg.Hasher}, nil
}

// EstimateMK exposes the classical sizing formulas so on-disk backends can
// be pre-allocated to the right length before construction.
func EstimateMK(n uint64, p float64) (m, k uint64) { return deriveMK(n, p) }

// M returns the bit array length.
func (f *Filter) M() uint64 { return f.m }

// K returns the number of hash functions.
func (f *Filter) K() uint64 { return f.k }

// EstimatedElements returns the capacity this filter was sized for.
func (f *Filter) EstimatedElements() uint64 { return f.nEst }

// TargetFalsePositiveRate returns the configured target rate p.
func (f *Filter) TargetFalsePositiveRate() float64 { return f.p }

// InsertedCount returns n_ins, the number of Add calls made so far.
func (f *Filter) InsertedCount() uint64 { return f.nIns }

func (f *Filter) indices(key []byte) hash.HashVector {
	return f.hasher.HashMany(key, int(f.k))
}

// Add sets the bits corresponding to key's k hashes and unconditionally
// increments the inserted-elements counter. Returns the new count.
func (f *Filter) Add(key []byte) uint64 {
	return f.AddAlt(f.indices(key))
}

// AddAlt is Add taking a precomputed hash vector of length >= k.
func (f *Filter) AddAlt(hashes hash.HashVector) uint64 {
	for i := uint64(0); i < f.k; i++ {
		f.backend.SetBit(hashes[i] % f.m)
	}
	f.nIns++
	return f.nIns
}

// Check reports whether all of key's k bits are set.
func (f *Filter) Check(key []byte) bool {
	return f.CheckAlt(f.indices(key))
}

// CheckAlt is Check taking a precomputed hash vector of length >= k.
func (f *Filter) CheckAlt(hashes hash.HashVector) bool {
	for i := uint64(0); i < f.k; i++ {
		if !f.backend.GetBit(hashes[i] % f.m) {
			return false
		}
	}
	return true
}

// sameShape reports whether f and other can be combined by Union/Intersection:
// identical (m, k) and the same hash family.
func (f *Filter) sameShape(other *Filter) bool {
	return f.m == other.m && f.k == other.k && reflect.TypeOf(f.hasher) == reflect.TypeOf(other.hasher)
}

// Union returns a new Filter whose bit array is the bitwise OR of f and
// other's. Both operands must share (m, k, hash family).
func (f *Filter) Union(other *Filter) (*Filter, error) {
	if !f.sameShape(other) {
		return nil, fmt.Errorf("%w: union requires identical (m, k, hash family)", ErrInitialization)
	}
	fa, ok1 := f.backend.(*bitset.BitArray)
	oa, ok2 := other.backend.(*bitset.BitArray)
	if !ok1 || !ok2 {
		return nil, fmt.Errorf("%w: union requires in-memory backends", ErrNotSupported)
	}
	merged := bitset.Union(fa, oa)
	nIns := f.nIns + other.nIns
	if nIns > f.nEst {
		nIns = f.nEst
	}
	return &Filter{backend: merged, m: f.m, k: f.k, p: f.p, nEst: f.nEst, nIns: nIns, hasher: f.hasher}, nil
}

// Intersection returns a new Filter whose bit array is the bitwise AND of
// f and other's. Both operands must share (m, k, hash family).
func (f *Filter) Intersection(other *Filter) (*Filter, error) {
	if !f.sameShape(other) {
		return nil, fmt.Errorf("%w: intersection requires identical (m, k, hash family)", ErrInitialization)
	}
	fa, ok1 := f.backend.(*bitset.BitArray)
	oa, ok2 := other.backend.(*bitset.BitArray)
	if !ok1 || !ok2 {
		return nil, fmt.Errorf("%w: intersection requires in-memory backends", ErrNotSupported)
	}
	merged := bitset.Intersect(fa, oa)
	nIns := f.nIns
	if other.nIns < nIns {
		nIns = other.nIns
	}
	return &Filter{backend: merged, m: f.m, k: f.k, p: f.p, nEst: f.nEst, nIns: nIns, hasher: f.hasher}, nil
}

// JaccardIndex returns |A ∩ B| / |A ∪ B| computed via popcounts over the two
// equal-shaped bit arrays. Returns 1.0 when both filters are empty.
func (f *Filter) JaccardIndex(other *Filter) (float64, error) {
	if !f.sameShape(other) {
		return 0, fmt.Errorf("%w: jaccard index requires identical (m, k, hash family)", ErrInitialization)
	}
	fa, ok1 := f.backend.(*bitset.BitArray)
	oa, ok2 := other.backend.(*bitset.BitArray)
	if !ok1 || !ok2 {
		return 0, fmt.Errorf("%w: jaccard index requires in-memory backends", ErrNotSupported)
	}
	union := bitset.Union(fa, oa).PopCount()
	if union == 0 {
		return 1.0, nil
	}
	inter := bitset.Intersect(fa, oa).PopCount()
	return float64(inter) / float64(union), nil
}

// EstimateElements returns -(m/k) * ln(1 - X/m), where X is the number of
// set bits. When X == m (fully saturated), returns n_ins instead of raising
// a domain error, per spec.md's Open Questions.
func (f *Filter) EstimateElements() uint64 {
	x := f.backend.PopCount()
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

// CurrentFalsePositiveRate returns (1 - (1 - 1/m)^(k*n_ins))^k.
func (f *Filter) CurrentFalsePositiveRate() float64 {
	inner := math.Pow(1-1/float64(f.m), float64(f.k)*float64(f.nIns))
	return math.Pow(1-inner, float64(f.k))
}

// Bytes serializes the filter to the .blm layout: the packed bit array
// followed by the footer (est_elements u64, fpr f32, n_ins u64), all
// little-endian.
func (f *Filter) Bytes() []byte {
	bits := f.backend.Bytes()
	out := make([]byte, len(bits)+FooterSize)
	copy(out, bits)
	off := len(bits)
	binary.LittleEndian.PutUint64(out[off:], f.nEst)
	off += 8
	binary.LittleEndian.PutUint32(out[off:], math.Float32bits(float32(f.p)))
	off += 4
	binary.LittleEndian.PutUint64(out[off:], f.nIns)
	return out
}

// Export writes the .blm layout to path.
func (f *Filter) Export(path string) error {
	return os.WriteFile(path, f.Bytes(), 0o644)
}

// ExportToHex returns the uppercase hex encoding of the exported bytes,
// with no separators.
func (f *Filter) ExportToHex() string {
	const digits = "0123456789ABCDEF"
	data := f.Bytes()
	out := make([]byte, len(data)*2)
	for i, b := range data {
		out[i*2] = digits[b>>4]
		out[i*2+1] = digits[b&0xF]
	}
	return string(out)
}

// ExportCHeader writes a C header declaring the exported bytes as a
// `const unsigned char` array, plus #define macros for EST_ELEMENTS, FPR,
// and ELEMENTS_ADDED.
func (f *Filter) ExportCHeader(path string) error {
	data := f.Bytes()
	var b []byte
	b = append(b, []byte(fmt.Sprintf("#define EST_ELEMENTS %dULL\n", f.nEst))...)
	b = append(b, []byte(fmt.Sprintf("#define FPR %g\n", f.p))...)
	b = append(b, []byte(fmt.Sprintf("#define ELEMENTS_ADDED %dULL\n", f.nIns))...)
	b = append(b, []byte(fmt.Sprintf("const unsigned char bloom_filter_data[%d] = {\n", len(data)))...)
	for i, v := range data {
		if i%12 == 0 {
			b = append(b, '\t')
		}
		b = append(b, []byte(fmt.Sprintf("0x%02X,", v))...)
		if i%12 == 11 {
			b = append(b, '\n')
		} else {
			b = append(b, ' ')
		}
	}
	b = append(b, []byte("\n};\n")...)
	return os.WriteFile(path, b, 0o644)
}

// LoadBytes reconstructs a Filter from raw .blm bytes. If hasher is nil,
// the default FNV1aSeeded family is assumed, per the on-disk contract.
func LoadBytes(data []byte, hasher hash.Hasher) (*Filter, error) {
	if len(data) < FooterSize {
		return nil, fmt.Errorf("%w: file too short for footer", ErrPersistence)
	}
	if hasher == nil {
		hasher = hash.FNV1aSeeded{}
	}
	bitsLen := len(data) - FooterSize
	footer := data[bitsLen:]
	nEst := binary.LittleEndian.Uint64(footer[0:8])
	p := float64(math.Float32frombits(binary.LittleEndian.Uint32(footer[8:12])))
	nIns := binary.LittleEndian.Uint64(footer[12:20])

	if nEst == 0 || p <= 0 || p >= 1 {
		return nil, fmt.Errorf("%w: invalid stored parameters", ErrPersistence)
	}
	m, k := deriveMK(nEst, p)
	expectedBytes := int((m + 7) / 8)
	if bitsLen != expectedBytes {
		return nil, fmt.Errorf("%w: bit array length %d does not match derived m=%d (%d bytes)", ErrPersistence, bitsLen, m, expectedBytes)
	}

	bits := make([]byte, bitsLen)
	copy(bits, data[:bitsLen])

	return &Filter{
		backend: bitset.WrapBitArray(bits, m),
		m:       m,
		k:       k,
		p:       p,
		nEst:    nEst,
		nIns:    nIns,
		hasher:  hasher,
	}, nil
}

// Load reads a .blm file from path and reconstructs the Filter. Behavior
// is identical to LoadBytes(os.ReadFile(path), hasher).
func Load(path string, hasher hash.Hasher) (*Filter, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	return LoadBytes(data, hasher)
}
