package bloom

import (
	"encoding/binary"
	"fmt"
	"os"

	"probex.lopezb.com/hash"
)

// RotatingFilter is a bounded ring of Filter instances sharing identical
// (EstimatedElements, FalsePositiveRate). Rotate appends a fresh active
// filter and, once the ring exceeds MaxQueue entries, pops the oldest
// (spec.md §3/§4.4). This was a historical bug fix in the source system:
// filters restored from disk previously lost their per-filter insert count
// and refused to rotate on reload, so Bytes/Load round-trip n_ins exactly.
type RotatingFilter struct {
	cfg      Config
	maxQueue int
	filters  []*Filter
}

// NewRotating constructs a RotatingFilter with one active sub-filter and
// the given ring capacity.
func NewRotating(cfg Config, maxQueue int) (*RotatingFilter, error) {
	if maxQueue <= 0 {
		return nil, fmt.Errorf("%w: max queue must be > 0", ErrInitialization)
	}
	if cfg.Hasher == nil {
		cfg.Hasher = hash.FNV1aSeeded{}
	}
	first, err := New(cfg)
	if err != nil {
		return nil, err
	}
	return &RotatingFilter{cfg: cfg, maxQueue: maxQueue, filters: []*Filter{first}}, nil
}

func (r *RotatingFilter) active() *Filter { return r.filters[len(r.filters)-1] }

// Filters returns the ring, oldest first. The returned slice must not be mutated.
func (r *RotatingFilter) Filters() []*Filter { return r.filters }

// Add inserts key into the active sub-filter, rotating first if the active
// filter has reached its estimated capacity.
func (r *RotatingFilter) Add(key []byte) error {
	if r.active().nIns >= r.active().nEst {
		if err := r.Rotate(); err != nil {
			return err
		}
	}
	r.active().Add(key)
	return nil
}

// Check reports true iff any sub-filter, newest first, reports key present.
func (r *RotatingFilter) Check(key []byte) bool {
	for i := len(r.filters) - 1; i >= 0; i-- {
		if r.filters[i].Check(key) {
			return true
		}
	}
	return false
}

// Rotate appends a fresh active sub-filter and pops the oldest if the ring
// now exceeds MaxQueue.
func (r *RotatingFilter) Rotate() error {
	next, err := New(r.cfg)
	if err != nil {
		return err
	}
	r.filters = append(r.filters, next)
	if len(r.filters) > r.maxQueue {
		r.Pop()
	}
	return nil
}

// Push appends the given filter as the new active entry without popping,
// even if that exceeds MaxQueue. Intended for advanced callers assembling
// a ring from externally-built filters; Rotate is the normal path.
func (r *RotatingFilter) Push(f *Filter) {
	r.filters = append(r.filters, f)
}

// Pop removes and returns the oldest sub-filter. Pop on a single-filter
// ring leaves the ring empty; a subsequent Add will panic on out-of-range
// indexing, mirroring that an entirely-popped ring has no active filter
// until Rotate or Push is called again.
func (r *RotatingFilter) Pop() *Filter {
	oldest := r.filters[0]
	r.filters = r.filters[1:]
	return oldest
}

// MaxQueue returns the ring's bound.
func (r *RotatingFilter) MaxQueue() int { return r.maxQueue }

// Bytes serializes the ring identically to ExpandingFilter.Bytes: concatenated
// .blm records followed by a trailing u64 sub-filter count (spec.md §6.7).
func (r *RotatingFilter) Bytes() []byte {
	var out []byte
	for _, f := range r.filters {
		out = append(out, f.Bytes()...)
	}
	var countBuf [8]byte
	binary.LittleEndian.PutUint64(countBuf[:], uint64(len(r.filters)))
	out = append(out, countBuf[:]...)
	return out
}

// Export writes the ring to path.
func (r *RotatingFilter) Export(path string) error {
	return os.WriteFile(path, r.Bytes(), 0o644)
}

// LoadRotatingBytes reconstructs a RotatingFilter from raw bytes. maxQueue
// must be supplied by the caller since it is not part of the on-disk
// format (spec.md §6.7 records only the sub-filter count).
func LoadRotatingBytes(data []byte, maxQueue int, hasher hash.Hasher) (*RotatingFilter, error) {
	expanding, err := LoadExpandingBytes(data, hasher)
	if err != nil {
		return nil, err
	}
	if maxQueue <= 0 {
		return nil, fmt.Errorf("%w: max queue must be > 0", ErrInitialization)
	}
	return &RotatingFilter{cfg: expanding.cfg, maxQueue: maxQueue, filters: expanding.filters}, nil
}

// LoadRotating reads a Rotating Bloom file from path.
func LoadRotating(path string, maxQueue int, hasher hash.Hasher) (*RotatingFilter, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	return LoadRotatingBytes(data, maxQueue, hasher)
}
