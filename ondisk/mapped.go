// Package ondisk provides a memory-mapped bit backend so Bloom filters can
// live directly on disk instead of in the process heap (spec.md §4.9). It
// implements bitset.BitBackend over a file opened with golang.org/x/sys/unix,
// the same mmap family used elsewhere in the example pack for zero-copy
// access to on-disk structures.
package ondisk

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// MappedBits is a bitset.BitBackend backed by an mmap'd file. The file is
// grown to at least ceil(bits/8) bytes and only that prefix is mapped;
// MappedBits reserves no footer region and writes no footer.
type MappedBits struct {
	file *os.File
	data []byte
	bits uint64
}

// OpenMapped mmaps path for read/write, creating and zero-filling it to the
// byte length required for bits if it does not already exist or is shorter
// than required. path is not removed on Close.
func OpenMapped(path string, bits uint64) (*MappedBits, error) {
	need := int64((bits + 7) / 8)

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("ondisk: open %s: %w", path, err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("ondisk: stat %s: %w", path, err)
	}
	if info.Size() < need {
		if err := f.Truncate(need); err != nil {
			f.Close()
			return nil, fmt.Errorf("ondisk: truncate %s: %w", path, err)
		}
	}

	data, err := unix.Mmap(int(f.Fd()), 0, int(need), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("ondisk: mmap %s: %w", path, err)
	}

	return &MappedBits{file: f, data: data, bits: bits}, nil
}

func (m *MappedBits) GetBit(i uint64) bool {
	byteIdx := i / 8
	bitIdx := i % 8
	return m.data[byteIdx]&(1<<bitIdx) != 0
}

func (m *MappedBits) SetBit(i uint64) {
	byteIdx := i / 8
	bitIdx := i % 8
	m.data[byteIdx] |= 1 << bitIdx
}

// PopCount counts set bits across the mapped region, masking any padding
// bits in the final byte beyond m.bits.
func (m *MappedBits) PopCount() uint64 {
	var count uint64
	full := len(m.data)
	last := full - 1
	if m.bits%8 != 0 {
		full--
	}
	for i := 0; i < full; i++ {
		count += uint64(popcountByte(m.data[i]))
	}
	if m.bits%8 != 0 {
		rem := m.bits % 8
		mask := byte(1<<rem) - 1
		count += uint64(popcountByte(m.data[last] & mask))
	}
	return count
}

func popcountByte(b byte) int {
	n := 0
	for b != 0 {
		n += int(b & 1)
		b >>= 1
	}
	return n
}

// Flush calls msync to push mapped pages back to the file.
func (m *MappedBits) Flush() error {
	if err := unix.Msync(m.data, unix.MS_SYNC); err != nil {
		return fmt.Errorf("ondisk: msync: %w", err)
	}
	return nil
}

// Bytes returns the mapped region directly. Callers must not retain it past Close.
func (m *MappedBits) Bytes() []byte { return m.data }

// Close flushes, unmaps, and closes the underlying file.
func (m *MappedBits) Close() error {
	if err := m.Flush(); err != nil {
		return err
	}
	if err := unix.Munmap(m.data); err != nil {
		m.file.Close()
		return fmt.Errorf("ondisk: munmap: %w", err)
	}
	return m.file.Close()
}
