package cms

import "probex.lopezb.com/hash"

// StreamThreshold tracks every key whose estimated frequency has crossed a
// fixed threshold, without bounding the tracked set's size (spec.md §4.7).
// This differs from HeavyHitters, which bounds cardinality and evicts the
// minimum; StreamThreshold instead gates membership on the threshold and
// lets the tracked set grow with the stream.
type StreamThreshold struct {
	*Sketch
	threshold int64
	tracked   map[string]int64
}

// NewStreamThreshold wraps a fresh Sketch built from cfg, tracking any key
// whose estimate reaches threshold.
func NewStreamThreshold(cfg Config, threshold int64) (*StreamThreshold, error) {
	sk, err := New(cfg)
	if err != nil {
		return nil, err
	}
	return &StreamThreshold{Sketch: sk, threshold: threshold, tracked: make(map[string]int64)}, nil
}

// Add records one occurrence of key. Once key's estimate reaches the
// threshold it is added to (and kept up to date in) the tracked set; Add
// never removes it, even if the estimate later regresses below threshold
// due to hash collisions. Only Remove evicts a tracked key.
func (s *StreamThreshold) Add(key []byte) {
	count := s.Sketch.Add(key, 1)
	k := string(key)
	if count >= s.threshold {
		s.tracked[k] = count
	} else if _, ok := s.tracked[k]; ok {
		s.tracked[k] = count
	}
}

// Remove decrements key's estimate by x and, once it falls below threshold,
// evicts it from the tracked set (spec.md §4.7: remove(key, x=1)).
func (s *StreamThreshold) Remove(key []byte, x int32) {
	count := s.Sketch.Remove(key, x)
	k := string(key)
	if count < s.threshold {
		delete(s.tracked, k)
	} else if _, ok := s.tracked[k]; ok {
		s.tracked[k] = count
	}
}

// Threshold returns the configured gating threshold.
func (s *StreamThreshold) Threshold() int64 { return s.threshold }

// TrackedEntry is a snapshot of one key crossing the threshold.
type TrackedEntry struct {
	Key   []byte
	Count int64
}

// List returns every currently tracked key and its latest estimate.
func (s *StreamThreshold) List() []TrackedEntry {
	out := make([]TrackedEntry, 0, len(s.tracked))
	for k, c := range s.tracked {
		out = append(out, TrackedEntry{Key: []byte(k), Count: c})
	}
	return out
}

// LoadStreamThresholdBytes reconstructs a StreamThreshold's underlying
// Sketch from raw bytes; like HeavyHitters, the tracked set itself is not
// part of the on-disk sketch format.
func LoadStreamThresholdBytes(data []byte, threshold int64, policy Policy, hasher hash.Hasher) (*StreamThreshold, error) {
	sk, err := LoadBytes(data, policy, hasher)
	if err != nil {
		return nil, err
	}
	return &StreamThreshold{Sketch: sk, threshold: threshold, tracked: make(map[string]int64)}, nil
}
