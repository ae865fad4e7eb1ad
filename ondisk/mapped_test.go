package ondisk

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"probex.lopezb.com/bloom"
)

func TestMappedBitsSetGetPopCount(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bits.map")
	m, err := OpenMapped(path, 100)
	require.NoError(t, err)
	defer m.Close()

	require.False(t, m.GetBit(5))
	m.SetBit(5)
	m.SetBit(63)
	m.SetBit(99)
	require.True(t, m.GetBit(5))
	require.True(t, m.GetBit(63))
	require.True(t, m.GetBit(99))
	require.Equal(t, uint64(3), m.PopCount())
	require.NoError(t, m.Flush())
}

func TestMappedBitsReopenPersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bits.map")
	m1, err := OpenMapped(path, 64)
	require.NoError(t, err)
	m1.SetBit(10)
	require.NoError(t, m1.Close())

	m2, err := OpenMapped(path, 64)
	require.NoError(t, err)
	defer m2.Close()
	require.True(t, m2.GetBit(10))
}

func TestFilterOnMappedBackend(t *testing.T) {
	path := filepath.Join(t.TempDir(), "filter.map")
	cfg := bloom.Config{EstimatedElements: 1000, FalsePositiveRate: 0.01}
	m, k := bloom.EstimateMK(cfg.EstimatedElements, cfg.FalsePositiveRate)

	backend, err := OpenMapped(path, m)
	require.NoError(t, err)
	defer backend.Close()

	f, err := bloom.NewOnDisk(backend, m, k, cfg)
	require.NoError(t, err)

	f.Add([]byte("on-disk-key"))
	require.True(t, f.Check([]byte("on-disk-key")))
	require.False(t, f.Check([]byte("absent-key")))
	require.NoError(t, backend.Flush())
}
