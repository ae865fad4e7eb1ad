package cuckoo

import (
	"fmt"
	"math/rand"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFilterAddCheckRemove(t *testing.T) {
	f, err := New(DefaultConfig())
	require.NoError(t, err)

	require.False(t, f.Check([]byte("absent")))
	require.NoError(t, f.Add([]byte("present")))
	require.True(t, f.Check([]byte("present")))
	require.NoError(t, f.Remove([]byte("present")))
	require.False(t, f.Check([]byte("present")))
}

func TestFilterAddIsNoopOnDuplicate(t *testing.T) {
	f, err := New(DefaultConfig())
	require.NoError(t, err)

	require.NoError(t, f.Add([]byte("k")))
	require.Equal(t, uint32(1), f.NumElements())

	require.NoError(t, f.Add([]byte("k")))
	require.Equal(t, uint32(1), f.NumElements(), "adding an already-present key must not duplicate it")
}

func TestFilterAddRollsBackFailedEviction(t *testing.T) {
	cfg := DefaultConfig()
	cfg.NumBuckets = 2
	cfg.BucketSize = 2
	cfg.AutoExpand = false
	cfg.MaxSwaps = 3
	f, err := New(cfg)
	require.NoError(t, err)
	f.SetRand(rand.New(rand.NewSource(3)))

	var inserted []string
	var failedAt string
	for i := 0; i < 100; i++ {
		key := fmt.Sprintf("v%d", i)
		if err := f.Add([]byte(key)); err != nil {
			failedAt = key
			break
		}
		inserted = append(inserted, key)
	}
	require.NotEmpty(t, failedAt)

	before := append([]byte(nil), f.Bytes()...)
	require.ErrorIs(t, f.Add([]byte(failedAt)), ErrFull)
	require.Equal(t, before, f.Bytes(), "a failed Add must leave the filter's bytes unchanged")

	for _, key := range inserted {
		require.True(t, f.Check([]byte(key)), "previously inserted key %s must still be present after a failed Add", key)
	}
}

func TestFilterRemoveMissingReturnsError(t *testing.T) {
	f, err := New(DefaultConfig())
	require.NoError(t, err)
	require.ErrorIs(t, f.Remove([]byte("nope")), ErrNotFound)
}

func TestFilterNoFalseNegatives(t *testing.T) {
	cfg := DefaultConfig()
	cfg.NumBuckets = 1 << 12
	f, err := New(cfg)
	require.NoError(t, err)
	f.SetRand(rand.New(rand.NewSource(42)))

	inserted := make([]string, 0, 2000)
	for i := 0; i < 2000; i++ {
		key := fmt.Sprintf("key-%d", i)
		if err := f.Add([]byte(key)); err == nil {
			inserted = append(inserted, key)
		}
	}
	for _, key := range inserted {
		require.True(t, f.Check([]byte(key)), "no false negatives for inserted key %s", key)
	}
}

func TestFilterAutoExpandOnFull(t *testing.T) {
	cfg := DefaultConfig()
	cfg.NumBuckets = 4
	cfg.BucketSize = 2
	cfg.AutoExpand = true
	cfg.MaxSwaps = 10
	f, err := New(cfg)
	require.NoError(t, err)
	f.SetRand(rand.New(rand.NewSource(7)))

	var inserted []string
	for i := 0; i < 50; i++ {
		key := fmt.Sprintf("k%d", i)
		require.NoError(t, f.Add([]byte(key)))
		inserted = append(inserted, key)
	}
	require.Greater(t, f.NumBuckets(), cfg.NumBuckets)

	for _, key := range inserted {
		require.True(t, f.Check([]byte(key)), "key %s must remain checkable after auto-expand", key)
	}
}

func TestFilterWithoutAutoExpandReturnsFull(t *testing.T) {
	cfg := DefaultConfig()
	cfg.NumBuckets = 2
	cfg.BucketSize = 2
	cfg.AutoExpand = false
	cfg.MaxSwaps = 5
	f, err := New(cfg)
	require.NoError(t, err)
	f.SetRand(rand.New(rand.NewSource(3)))

	var lastErr error
	for i := 0; i < 100; i++ {
		if err := f.Add([]byte(fmt.Sprintf("v%d", i))); err != nil {
			lastErr = err
			break
		}
	}
	require.ErrorIs(t, lastErr, ErrFull)
}

func TestFilterBytesRoundTrip(t *testing.T) {
	f, err := New(DefaultConfig())
	require.NoError(t, err)
	require.NoError(t, f.Add([]byte("round-trip")))

	loaded, err := LoadBytes(f.Bytes(), nil)
	require.NoError(t, err)
	require.True(t, loaded.Check([]byte("round-trip")))
	require.Equal(t, f.NumElements(), loaded.NumElements())
}

func TestFilterExportLoadEquivalence(t *testing.T) {
	f, err := New(DefaultConfig())
	require.NoError(t, err)
	require.NoError(t, f.Add([]byte("on-disk")))

	path := filepath.Join(t.TempDir(), "filter.cko")
	require.NoError(t, f.Export(path))

	loaded, err := Load(path, nil)
	require.NoError(t, err)
	require.Equal(t, f.Bytes(), loaded.Bytes())
}

func TestNewFromRateSizesBuckets(t *testing.T) {
	f, err := NewFromRate(10000, 0.01)
	require.NoError(t, err)
	require.Greater(t, f.NumBuckets(), uint32(0))
}

func TestCountingFilterAddCheckCount(t *testing.T) {
	f, err := NewCounting(DefaultConfig())
	require.NoError(t, err)

	require.NoError(t, f.Add([]byte("dup")))
	require.NoError(t, f.Add([]byte("dup")))
	require.Equal(t, 2, f.Count([]byte("dup")))
	require.NoError(t, f.Remove([]byte("dup")))
	require.Equal(t, 1, f.Count([]byte("dup")))
	require.NoError(t, f.Remove([]byte("dup")))
	require.False(t, f.Check([]byte("dup")))
}

func TestCountingFilterCountExceedsByteRange(t *testing.T) {
	f, err := NewCounting(DefaultConfig())
	require.NoError(t, err)
	for i := 0; i < 300; i++ {
		require.NoError(t, f.Add([]byte("hot")))
	}
	require.Equal(t, 300, f.Count([]byte("hot")), "count must not saturate at a single byte's range")
}

func TestNewRoundsNumBucketsToPowerOfTwo(t *testing.T) {
	cfg := DefaultConfig()
	cfg.NumBuckets = 5
	f, err := New(cfg)
	require.NoError(t, err)
	require.Equal(t, uint32(8), f.NumBuckets())
}

func TestCountingFilterBytesRoundTrip(t *testing.T) {
	f, err := NewCounting(DefaultConfig())
	require.NoError(t, err)
	require.NoError(t, f.Add([]byte("x")))
	require.NoError(t, f.Add([]byte("x")))

	loaded, err := LoadCountingBytes(f.Bytes(), nil)
	require.NoError(t, err)
	require.Equal(t, 2, loaded.Count([]byte("x")))
}

func TestCountingFilterAutoExpandPreservesCountsAndPresence(t *testing.T) {
	cfg := DefaultConfig()
	cfg.NumBuckets = 4
	cfg.BucketSize = 2
	cfg.AutoExpand = true
	cfg.MaxSwaps = 10
	f, err := NewCounting(cfg)
	require.NoError(t, err)
	f.SetRand(rand.New(rand.NewSource(7)))

	keys := make([]string, 0, 30)
	wantCounts := make(map[string]int)
	for i := 0; i < 30; i++ {
		key := fmt.Sprintf("k%d", i)
		require.NoError(t, f.Add([]byte(key)))
		keys = append(keys, key)
		wantCounts[key]++
		if i%5 == 0 {
			require.NoError(t, f.Add([]byte(key)))
			wantCounts[key]++
		}
	}
	require.Greater(t, f.NumBuckets(), cfg.NumBuckets)

	var wantTotal uint32
	for _, key := range keys {
		require.True(t, f.Check([]byte(key)), "key %s must remain checkable after auto-expand", key)
		require.Equal(t, wantCounts[key], f.Count([]byte(key)), "count for key %s must survive auto-expand", key)
		wantTotal += uint32(wantCounts[key])
	}
	require.Equal(t, wantTotal, f.NumElements(), "NumElements must count occurrences, not distinct fingerprints, after auto-expand")
}
