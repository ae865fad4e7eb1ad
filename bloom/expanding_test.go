package bloom

import (
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestExpandingFilterGrowsOnSaturation(t *testing.T) {
	cfg := Config{EstimatedElements: 10, FalsePositiveRate: 0.01}
	e, err := NewExpanding(cfg)
	require.NoError(t, err)

	for i := 0; i < 35; i++ {
		require.NoError(t, e.Add([]byte(fmt.Sprintf("k-%d", i))))
	}
	require.Greater(t, len(e.Filters()), 1)
}

func TestExpandingFilterChecksAcrossAllSubFilters(t *testing.T) {
	cfg := Config{EstimatedElements: 5, FalsePositiveRate: 0.01}
	e, err := NewExpanding(cfg)
	require.NoError(t, err)

	for i := 0; i < 20; i++ {
		require.NoError(t, e.Add([]byte(fmt.Sprintf("k-%d", i))))
	}
	for i := 0; i < 20; i++ {
		require.True(t, e.Check([]byte(fmt.Sprintf("k-%d", i))))
	}
}

func TestExpandingFilterBytesRoundTrip(t *testing.T) {
	cfg := Config{EstimatedElements: 5, FalsePositiveRate: 0.01}
	e, err := NewExpanding(cfg)
	require.NoError(t, err)
	for i := 0; i < 20; i++ {
		require.NoError(t, e.Add([]byte(fmt.Sprintf("k-%d", i))))
	}

	loaded, err := LoadExpandingBytes(e.Bytes(), nil)
	require.NoError(t, err)
	require.Equal(t, len(e.Filters()), len(loaded.Filters()))
	for i := 0; i < 20; i++ {
		require.True(t, loaded.Check([]byte(fmt.Sprintf("k-%d", i))))
	}
}

func TestExpandingFilterExportLoadEquivalence(t *testing.T) {
	cfg := Config{EstimatedElements: 5, FalsePositiveRate: 0.01}
	e, err := NewExpanding(cfg)
	require.NoError(t, err)
	for i := 0; i < 12; i++ {
		require.NoError(t, e.Add([]byte(fmt.Sprintf("k-%d", i))))
	}

	path := filepath.Join(t.TempDir(), "expanding.blm")
	require.NoError(t, e.Export(path))

	loaded, err := LoadExpanding(path, nil)
	require.NoError(t, err)
	require.Equal(t, e.Bytes(), loaded.Bytes())
}
