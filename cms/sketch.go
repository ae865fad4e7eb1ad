// Package cms implements Count-Min Sketch frequency estimation, plus the
// HeavyHitters and StreamThreshold structures built on top of it (spec.md
// §4.5-§4.7). Like the bloom package, Sketch wraps a single []byte and
// exposes typed accessors with encoding/binary, so Bytes/Load round-trip
// the exact on-disk layout without an intermediate struct copy.
package cms

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"os"
	"reflect"

	"probex.lopezb.com/hash"
)

var (
	ErrInitialization = errors.New("cms: initialization error")
	ErrPersistence    = errors.New("cms: persistence error")
)

// Policy selects how Query aggregates the depth candidate cells for a key
// (spec.md §4.5).
type Policy int

const (
	PolicyMin Policy = iota
	PolicyMean
	PolicyMeanMin
)

// Config configures a new Sketch by explicit dimensions; to size from
// error bounds instead, derive Width and Depth with DimensionsFromProb.
type Config struct {
	Width  uint32
	Depth  uint32
	Policy Policy
	Hasher hash.Hasher
}

// DefaultConfig returns a Config sized for roughly 0.1% relative error with
// 99% confidence, using PolicyMin (the standard Count-Min guarantee).
func DefaultConfig() Config {
	w, d := DimensionsFromProb(0.001, 0.01)
	return Config{Width: w, Depth: d, Policy: PolicyMin, Hasher: hash.FNV1aSeeded{}}
}

// DimensionsFromProb derives (width, depth) from an error bound epsilon and
// failure probability delta: width = ceil(e/epsilon), depth = ceil(ln(1/delta)).
func DimensionsFromProb(epsilon, delta float64) (width, depth uint32) {
	w := math.Ceil(math.E / epsilon)
	d := math.Ceil(math.Log(1 / delta))
	if w < 1 {
		w = 1
	}
	if d < 1 {
		d = 1
	}
	return uint32(w), uint32(d)
}

// headerSize is width(4) + depth(4) + nInserts(8); no magic number, per
// spec.md §6.4.
const headerSize = 4 + 4 + 8

// Sketch is a depth x width matrix of signed 32-bit counters backed by a
// single []byte, width and depth fixed at construction.
type Sketch struct {
	data   []byte
	width  uint32
	depth  uint32
	policy Policy
	hasher hash.Hasher
}

// New constructs an empty Sketch from cfg.
func New(cfg Config) (*Sketch, error) {
	if cfg.Width == 0 || cfg.Depth == 0 {
		return nil, fmt.Errorf("%w: width and depth must be > 0", ErrInitialization)
	}
	if cfg.Hasher == nil {
		cfg.Hasher = hash.FNV1aSeeded{}
	}
	body := make([]byte, headerSize+int(cfg.Width)*int(cfg.Depth)*4)
	binary.LittleEndian.PutUint32(body[0:4], cfg.Width)
	binary.LittleEndian.PutUint32(body[4:8], cfg.Depth)
	return &Sketch{data: body, width: cfg.Width, depth: cfg.Depth, policy: cfg.Policy, hasher: cfg.Hasher}, nil
}

func (s *Sketch) Width() uint32   { return s.width }
func (s *Sketch) Depth() uint32   { return s.depth }
func (s *Sketch) Policy() Policy  { return s.policy }
func (s *Sketch) Hasher() hash.Hasher { return s.hasher }

func (s *Sketch) totalInserts() int64 {
	return int64(binary.LittleEndian.Uint64(s.data[8:16]))
}

func (s *Sketch) setTotalInserts(v int64) {
	binary.LittleEndian.PutUint64(s.data[8:16], uint64(v))
}

// InsertedCount returns the running sum of the deltas passed to Add
// (Remove lowers it), stored as spec.md §6.4's n_inserts field.
func (s *Sketch) InsertedCount() int64 { return s.totalInserts() }

func (s *Sketch) cellOffset(row uint32, col uint32) int {
	return headerSize + (int(row)*int(s.width)+int(col))*4
}

func (s *Sketch) getCell(row, col uint32) int32 {
	off := s.cellOffset(row, col)
	return int32(binary.LittleEndian.Uint32(s.data[off:]))
}

func (s *Sketch) setCell(row, col uint32, v int32) {
	off := s.cellOffset(row, col)
	binary.LittleEndian.PutUint32(s.data[off:], uint32(v))
}

// addCell adds delta to the cell, clamping the result to the i32 range
// instead of wrapping (spec.md §4.5).
func (s *Sketch) addCell(row, col uint32, delta int32) int32 {
	v := int64(s.getCell(row, col)) + int64(delta)
	if v > math.MaxInt32 {
		v = math.MaxInt32
	}
	if v < math.MinInt32 {
		v = math.MinInt32
	}
	s.setCell(row, col, int32(v))
	return int32(v)
}

func (s *Sketch) columns(key []byte) hash.HashVector {
	hashes := s.hasher.HashMany(key, int(s.depth))
	cols := make(hash.HashVector, s.depth)
	for i := range cols {
		cols[i] = hashes[i] % uint64(s.width)
	}
	return cols
}

// Add increments the depth candidate cells for key by delta (delta may be
// negative to decrement, e.g. when expiring a window), increments the
// running insert count by delta, and returns key's post-update estimate
// under the Sketch's configured Policy (spec.md §4.5: add(key, x=1) -> estimate).
func (s *Sketch) Add(key []byte, delta int32) int64 {
	cols := s.columns(key)
	for row := uint32(0); row < s.depth; row++ {
		s.addCell(row, uint32(cols[row]), delta)
	}
	s.setTotalInserts(s.totalInserts() + int64(delta))
	return s.Query(key)
}

// Remove decrements the depth candidate cells for key by x (spec.md §4.5:
// remove(key, x=1)) and returns key's post-update estimate.
func (s *Sketch) Remove(key []byte, x int32) int64 {
	return s.Add(key, -x)
}

// Query estimates key's frequency using the Sketch's configured Policy.
func (s *Sketch) Query(key []byte) int64 {
	cols := s.columns(key)
	switch s.policy {
	case PolicyMean:
		return s.queryMean(cols)
	case PolicyMeanMin:
		return s.queryMeanMin(cols)
	default:
		return s.queryMin(cols)
	}
}

func (s *Sketch) queryMin(cols hash.HashVector) int64 {
	min := int64(math.MaxInt64)
	for row := uint32(0); row < s.depth; row++ {
		v := int64(s.getCell(row, uint32(cols[row])))
		if v < min {
			min = v
		}
	}
	return min
}

// queryMean returns the integer-truncated arithmetic mean of the depth
// candidate cells (spec.md §4.5's MEAN policy).
func (s *Sketch) queryMean(cols hash.HashVector) int64 {
	var sum int64
	for row := uint32(0); row < s.depth; row++ {
		sum += int64(s.getCell(row, uint32(cols[row])))
	}
	return sum / int64(s.depth)
}

// queryMeanMin returns the median of (c_i - noise_i), where noise_i
// estimates the expected collision contribution to cell i from all other
// inserted items (spec.md §4.5's MEAN_MIN policy).
func (s *Sketch) queryMeanMin(cols hash.HashVector) int64 {
	n := s.totalInserts()
	estimates := make([]int64, s.depth)
	for row := uint32(0); row < s.depth; row++ {
		c := int64(s.getCell(row, uint32(cols[row])))
		var noise int64
		if s.width > 1 {
			noise = (n - c) / int64(s.width-1)
		}
		estimates[row] = c - noise
	}
	return median(estimates)
}

func median(vals []int64) int64 {
	sorted := append([]int64(nil), vals...)
	for i := 1; i < len(sorted); i++ {
		for j := i; j > 0 && sorted[j-1] > sorted[j]; j-- {
			sorted[j-1], sorted[j] = sorted[j], sorted[j-1]
		}
	}
	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return sorted[mid]
	}
	return (sorted[mid-1] + sorted[mid]) / 2
}

func (s *Sketch) sameShape(other *Sketch) bool {
	return s.width == other.width && s.depth == other.depth &&
		reflect.TypeOf(s.hasher) == reflect.TypeOf(other.hasher)
}

// Join merges other's cells into s cell-wise via saturating addition,
// requiring identical (width, depth, hash family) per spec.md §4.5.
func (s *Sketch) Join(other *Sketch) error {
	if !s.sameShape(other) {
		return fmt.Errorf("%w: join requires identical (width, depth, hash family)", ErrInitialization)
	}
	for row := uint32(0); row < s.depth; row++ {
		for col := uint32(0); col < s.width; col++ {
			sum := int64(s.getCell(row, col)) + int64(other.getCell(row, col))
			if sum > math.MaxInt32 {
				sum = math.MaxInt32
			}
			if sum < math.MinInt32 {
				sum = math.MinInt32
			}
			s.setCell(row, col, int32(sum))
		}
	}
	s.setTotalInserts(s.totalInserts() + other.totalInserts())
	return nil
}

// Bytes returns the exact on-disk layout: [width u32][depth u32][n_inserts
// i64][depth x width x i32 matrix], all little-endian (spec.md §6.4).
func (s *Sketch) Bytes() []byte {
	out := make([]byte, len(s.data))
	copy(out, s.data)
	return out
}

// Export writes the sketch to path.
func (s *Sketch) Export(path string) error {
	return os.WriteFile(path, s.Bytes(), 0o644)
}

// LoadBytes reconstructs a Sketch from raw bytes. policy and hasher are not
// part of the on-disk format and must be supplied by the caller.
func LoadBytes(data []byte, policy Policy, hasher hash.Hasher) (*Sketch, error) {
	if len(data) < headerSize {
		return nil, fmt.Errorf("%w: data too short for header", ErrPersistence)
	}
	width := binary.LittleEndian.Uint32(data[0:4])
	depth := binary.LittleEndian.Uint32(data[4:8])
	if width == 0 || depth == 0 {
		return nil, fmt.Errorf("%w: invalid width/depth", ErrPersistence)
	}
	want := headerSize + int(width)*int(depth)*4
	if len(data) != want {
		return nil, fmt.Errorf("%w: expected %d bytes, got %d", ErrPersistence, want, len(data))
	}
	if hasher == nil {
		hasher = hash.FNV1aSeeded{}
	}
	body := make([]byte, len(data))
	copy(body, data)
	return &Sketch{data: body, width: width, depth: depth, policy: policy, hasher: hasher}, nil
}

// Load reads a sketch file from path.
func Load(path string, policy Policy, hasher hash.Hasher) (*Sketch, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	return LoadBytes(data, policy, hasher)
}
