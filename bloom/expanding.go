package bloom

import (
	"encoding/binary"
	"fmt"
	"os"

	"probex.lopezb.com/hash"
)

// ExpandingFilter is an ordered, growing chain of Filter instances sharing
// identical (EstimatedElements, FalsePositiveRate). Only the last filter
// is active; earlier ones are frozen. When the active filter's inserted
// count reaches its capacity, a new filter is appended and becomes active
// (spec.md §3/§4.4).
type ExpandingFilter struct {
	cfg     Config
	filters []*Filter
}

// NewExpanding constructs an ExpandingFilter with one active sub-filter.
func NewExpanding(cfg Config) (*ExpandingFilter, error) {
	if cfg.Hasher == nil {
		cfg.Hasher = hash.FNV1aSeeded{}
	}
	first, err := New(cfg)
	if err != nil {
		return nil, err
	}
	return &ExpandingFilter{cfg: cfg, filters: []*Filter{first}}, nil
}

// active returns the current (last) sub-filter.
func (e *ExpandingFilter) active() *Filter { return e.filters[len(e.filters)-1] }

// Filters returns the sub-filter chain, oldest first. The returned slice
// must not be mutated.
func (e *ExpandingFilter) Filters() []*Filter { return e.filters }

// Add inserts key into the active sub-filter, appending a new one first if
// the active filter has reached its estimated capacity.
func (e *ExpandingFilter) Add(key []byte) error {
	active := e.active()
	if active.nIns >= active.nEst {
		next, err := New(e.cfg)
		if err != nil {
			return err
		}
		e.filters = append(e.filters, next)
		active = next
	}
	active.Add(key)
	return nil
}

// Check reports true iff any sub-filter, newest first, reports key present.
func (e *ExpandingFilter) Check(key []byte) bool {
	for i := len(e.filters) - 1; i >= 0; i-- {
		if e.filters[i].Check(key) {
			return true
		}
	}
	return false
}

// Bytes serializes the chain as concatenated .blm records (bit array +
// footer, each) followed by a trailing u64 sub-filter count, per spec.md
// §6.7. The trailing count distinguishes this format from a bare .blm file.
func (e *ExpandingFilter) Bytes() []byte {
	var out []byte
	for _, f := range e.filters {
		out = append(out, f.Bytes()...)
	}
	var countBuf [8]byte
	binary.LittleEndian.PutUint64(countBuf[:], uint64(len(e.filters)))
	out = append(out, countBuf[:]...)
	return out
}

// Export writes the chain to path.
func (e *ExpandingFilter) Export(path string) error {
	return os.WriteFile(path, e.Bytes(), 0o644)
}

// LoadExpandingBytes reconstructs an ExpandingFilter from raw bytes. Every
// sub-filter in a chain this package writes shares identical (m, k), so
// each record occupies the same number of bytes; that shared size, not a
// per-record peek, is what lets Load find each record's footer (which sits
// at the *end* of a record, the way Filter.Bytes writes it) without first
// knowing m. body is split into count equal slices and each is handed to
// LoadBytes, which reads the footer from its own tail.
func LoadExpandingBytes(data []byte, hasher hash.Hasher) (*ExpandingFilter, error) {
	if len(data) < 8 {
		return nil, fmt.Errorf("%w: file too short for trailing count", ErrPersistence)
	}
	count := binary.LittleEndian.Uint64(data[len(data)-8:])
	if count == 0 {
		return nil, fmt.Errorf("%w: expanding filter must have at least one sub-filter", ErrPersistence)
	}
	body := data[:len(data)-8]
	if uint64(len(body))%count != 0 {
		return nil, fmt.Errorf("%w: sub-filter records are not evenly sized", ErrPersistence)
	}
	recordSize := uint64(len(body)) / count
	if recordSize < FooterSize {
		return nil, fmt.Errorf("%w: sub-filter record too short for footer", ErrPersistence)
	}

	filters := make([]*Filter, 0, count)
	offset := uint64(0)
	for i := uint64(0); i < count; i++ {
		sub, err := LoadBytes(body[offset:offset+recordSize], hasher)
		if err != nil {
			return nil, fmt.Errorf("%w: sub-filter %d: %v", ErrPersistence, i, err)
		}
		filters = append(filters, sub)
		offset += recordSize
	}
	last := filters[len(filters)-1]
	cfg := Config{EstimatedElements: last.nEst, FalsePositiveRate: last.p, Hasher: hasher}
	return &ExpandingFilter{cfg: cfg, filters: filters}, nil
}

// LoadExpanding reads an Expanding Bloom file from path.
func LoadExpanding(path string, hasher hash.Hasher) (*ExpandingFilter, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	return LoadExpandingBytes(data, hasher)
}
