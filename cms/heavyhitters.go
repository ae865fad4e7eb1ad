package cms

import (
	"probex.lopezb.com/hash"
)

// entry tracks one candidate's observed key and estimated count.
type entry struct {
	key   string
	count int64
}

// HeavyHitters tracks the top-N most frequent keys seen by an embedded
// Sketch, evicting the current minimum tracked entry whenever a new key's
// estimate exceeds it (spec.md §4.6). Unlike the teacher's lazily-hydrated
// min-heap, the tracked set here is small and bounded by capacity, so a
// linear scan for the minimum is simple and fast enough.
type HeavyHitters struct {
	*Sketch
	capacity int
	tracked  map[string]*entry
}

// NewHeavyHitters wraps a fresh Sketch built from cfg with a bounded
// tracking set of the given capacity.
func NewHeavyHitters(cfg Config, capacity int) (*HeavyHitters, error) {
	sk, err := New(cfg)
	if err != nil {
		return nil, err
	}
	return &HeavyHitters{Sketch: sk, capacity: capacity, tracked: make(map[string]*entry, capacity)}, nil
}

// Add records one occurrence of key, updating the underlying sketch and the
// tracked top-N set.
func (h *HeavyHitters) Add(key []byte) {
	count := h.Sketch.Add(key, 1)
	k := string(key)

	if e, ok := h.tracked[k]; ok {
		e.count = count
		return
	}
	if len(h.tracked) < h.capacity {
		h.tracked[k] = &entry{key: k, count: count}
		return
	}
	minKey, minCount := h.minTracked()
	if count > minCount {
		delete(h.tracked, minKey)
		h.tracked[k] = &entry{key: k, count: count}
	}
}

func (h *HeavyHitters) minTracked() (string, int64) {
	var minKey string
	minCount := int64(1<<63 - 1)
	for k, e := range h.tracked {
		if e.count < minCount {
			minCount = e.count
			minKey = k
		}
	}
	return minKey, minCount
}

// HeavyHitter is a snapshot of one tracked key/count pair.
type HeavyHitter struct {
	Key   []byte
	Count int64
}

// List returns the currently tracked top-N keys and their estimated
// counts, in no particular order.
func (h *HeavyHitters) List() []HeavyHitter {
	out := make([]HeavyHitter, 0, len(h.tracked))
	for _, e := range h.tracked {
		out = append(out, HeavyHitter{Key: []byte(e.key), Count: e.count})
	}
	return out
}

// Len reports the number of currently tracked keys.
func (h *HeavyHitters) Len() int { return len(h.tracked) }

// LoadHeavyHittersBytes reconstructs a HeavyHitters' underlying Sketch from
// raw bytes. The tracked top-N set is not part of the on-disk format (the
// sketch alone is sufficient to re-derive frequency estimates); callers
// that need the tracked set preserved across restarts must re-feed keys or
// persist the List() output separately.
func LoadHeavyHittersBytes(data []byte, capacity int, policy Policy, hasher hash.Hasher) (*HeavyHitters, error) {
	sk, err := LoadBytes(data, policy, hasher)
	if err != nil {
		return nil, err
	}
	return &HeavyHitters{Sketch: sk, capacity: capacity, tracked: make(map[string]*entry, capacity)}, nil
}
