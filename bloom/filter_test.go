package bloom

import (
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"probex.lopezb.com/hash"
)

func TestFilterNoFalseNegatives(t *testing.T) {
	f, err := New(Config{EstimatedElements: 1000, FalsePositiveRate: 0.01})
	require.NoError(t, err)

	keys := make([]string, 500)
	for i := range keys {
		keys[i] = fmt.Sprintf("key-%d", i)
		f.Add([]byte(keys[i]))
	}
	for _, k := range keys {
		require.True(t, f.Check([]byte(k)))
	}
}

func TestFilterEmpiricalFalsePositiveRateBounded(t *testing.T) {
	n := uint64(2000)
	p := 0.01
	f, err := New(Config{EstimatedElements: n, FalsePositiveRate: p})
	require.NoError(t, err)

	for i := uint64(0); i < n; i++ {
		f.Add([]byte(fmt.Sprintf("member-%d", i)))
	}

	falsePositives := 0
	trials := 20000
	for i := 0; i < trials; i++ {
		if f.Check([]byte(fmt.Sprintf("absent-%d", i))) {
			falsePositives++
		}
	}
	rate := float64(falsePositives) / float64(trials)
	require.Less(t, rate, p*3, "empirical FPR should stay within a small multiple of target")
}

func TestFilterBytesRoundTrip(t *testing.T) {
	f, err := New(DefaultConfig())
	require.NoError(t, err)
	f.Add([]byte("a"))
	f.Add([]byte("b"))

	loaded, err := LoadBytes(f.Bytes(), nil)
	require.NoError(t, err)
	require.True(t, loaded.Check([]byte("a")))
	require.True(t, loaded.Check([]byte("b")))
	require.False(t, loaded.Check([]byte("z")))
	require.Equal(t, f.InsertedCount(), loaded.InsertedCount())
}

func TestFilterExportPathEquivalentToBytes(t *testing.T) {
	f, err := New(DefaultConfig())
	require.NoError(t, err)
	f.Add([]byte("disk"))

	path := filepath.Join(t.TempDir(), "filter.blm")
	require.NoError(t, f.Export(path))

	loaded, err := Load(path, nil)
	require.NoError(t, err)
	require.Equal(t, f.Bytes(), loaded.Bytes())
}

func TestFilterUnionIsSupersetOfOperands(t *testing.T) {
	cfg := Config{EstimatedElements: 1000, FalsePositiveRate: 0.01}
	a, _ := New(cfg)
	b, _ := New(cfg)
	a.Add([]byte("only-a"))
	b.Add([]byte("only-b"))

	union, err := a.Union(b)
	require.NoError(t, err)
	require.True(t, union.Check([]byte("only-a")))
	require.True(t, union.Check([]byte("only-b")))
}

func TestFilterIntersectionRequiresSameShape(t *testing.T) {
	a, _ := New(Config{EstimatedElements: 1000, FalsePositiveRate: 0.01})
	b, _ := New(Config{EstimatedElements: 500, FalsePositiveRate: 0.01})
	_, err := a.Intersection(b)
	require.ErrorIs(t, err, ErrInitialization)
}

func TestFilterJaccardIndexIdentical(t *testing.T) {
	cfg := Config{EstimatedElements: 1000, FalsePositiveRate: 0.01}
	a, _ := New(cfg)
	a.Add([]byte("shared"))
	b, _ := New(cfg)
	b.Add([]byte("shared"))

	j, err := a.JaccardIndex(b)
	require.NoError(t, err)
	require.Equal(t, 1.0, j)
}

func TestFilterJaccardIndexEmptyFilters(t *testing.T) {
	cfg := Config{EstimatedElements: 1000, FalsePositiveRate: 0.01}
	a, _ := New(cfg)
	b, _ := New(cfg)
	j, err := a.JaccardIndex(b)
	require.NoError(t, err)
	require.Equal(t, 1.0, j)
}

func TestEstimateElementsFallsBackWhenSaturated(t *testing.T) {
	f, err := NewWithMK(8, 1, 100, 0.01, hash.FNV1aSeeded{})
	require.NoError(t, err)
	for i := 0; i < 50; i++ {
		f.Add([]byte(fmt.Sprintf("x-%d", i)))
	}
	require.Equal(t, f.InsertedCount(), f.EstimateElements())
}

func TestExportToHexIsUppercaseNoSeparators(t *testing.T) {
	f, err := New(DefaultConfig())
	require.NoError(t, err)
	hexStr := f.ExportToHex()
	require.NotContains(t, hexStr, " ")
	require.Equal(t, hexStr, fmt.Sprintf("%X", f.Bytes()))
}

func TestCurrentFalsePositiveRateIncreasesWithInserts(t *testing.T) {
	f, err := New(Config{EstimatedElements: 100, FalsePositiveRate: 0.01})
	require.NoError(t, err)
	r0 := f.CurrentFalsePositiveRate()
	for i := 0; i < 50; i++ {
		f.Add([]byte(fmt.Sprintf("k-%d", i)))
	}
	r1 := f.CurrentFalsePositiveRate()
	require.Greater(t, r1, r0)
}
