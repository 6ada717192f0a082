package storage

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
)

// ErasedByte is the value of an erased medium cell.
const ErasedByte = 0xFF

// Medium is the byte-addressable non-volatile memory behind the manager
// (EEPROM, flash emulation, a file). Reads and writes are absolute offsets.
type Medium interface {
	io.ReaderAt
	io.WriterAt
	Size() int64
}

// ErrOutOfRange is returned by media for accesses beyond their capacity.
var ErrOutOfRange = errors.New("storage: access out of medium range")

// MemMedium is a RAM-backed medium. It starts erased and counts write calls,
// which makes it the medium of choice for tests.
type MemMedium struct {
	mu     sync.Mutex
	data   []byte
	writes int

	// FailWrites makes every WriteAt fail when set.
	FailWrites bool
}

// NewMemMedium creates an erased medium of the given capacity.
func NewMemMedium(capacity int) *MemMedium {
	m := &MemMedium{data: make([]byte, capacity)}
	for i := range m.data {
		m.data[i] = ErasedByte
	}
	return m
}

// Size implements Medium.
func (m *MemMedium) Size() int64 { return int64(len(m.data)) }

// ReadAt implements io.ReaderAt.
func (m *MemMedium) ReadAt(p []byte, off int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if off < 0 || off+int64(len(p)) > int64(len(m.data)) {
		return 0, ErrOutOfRange
	}
	return copy(p, m.data[off:]), nil
}

// WriteAt implements io.WriterAt.
func (m *MemMedium) WriteAt(p []byte, off int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailWrites {
		return 0, errors.New("storage: simulated write failure")
	}
	if off < 0 || off+int64(len(p)) > int64(len(m.data)) {
		return 0, ErrOutOfRange
	}
	m.writes++
	return copy(m.data[off:], p), nil
}

// Writes returns the number of successful WriteAt calls.
func (m *MemMedium) Writes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writes
}

// Bytes returns a copy of the medium contents.
func (m *MemMedium) Bytes() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]byte(nil), m.data...)
}

// Corrupt flips the bits of one byte.
func (m *MemMedium) Corrupt(off int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[off] ^= 0xFF
}

// FileMedium is a medium backed by a regular file of fixed capacity.
type FileMedium struct {
	f    *os.File
	size int64
}

// OpenFileMedium opens or creates path. A new file is filled with the
// erased pattern up to capacity; an existing file must have that size.
func OpenFileMedium(path string, capacity int64) (*FileMedium, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, fmt.Errorf("open medium: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stat medium: %w", err)
	}

	switch info.Size() {
	case capacity:
	case 0:
		blank := make([]byte, capacity)
		for i := range blank {
			blank[i] = ErasedByte
		}
		if _, err := f.WriteAt(blank, 0); err != nil {
			f.Close()
			return nil, fmt.Errorf("initialise medium: %w", err)
		}
	default:
		f.Close()
		return nil, fmt.Errorf("medium %s has %d bytes, want %d: %w", path, info.Size(), capacity, ErrOutOfRange)
	}

	return &FileMedium{f: f, size: capacity}, nil
}

// Size implements Medium.
func (m *FileMedium) Size() int64 { return m.size }

// ReadAt implements io.ReaderAt.
func (m *FileMedium) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 || off+int64(len(p)) > m.size {
		return 0, ErrOutOfRange
	}
	return m.f.ReadAt(p, off)
}

// WriteAt implements io.WriterAt. Data is synced before returning.
func (m *FileMedium) WriteAt(p []byte, off int64) (int, error) {
	if off < 0 || off+int64(len(p)) > m.size {
		return 0, ErrOutOfRange
	}
	n, err := m.f.WriteAt(p, off)
	if err != nil {
		return n, err
	}
	return n, m.f.Sync()
}

// Close closes the backing file.
func (m *FileMedium) Close() error {
	return m.f.Close()
}

// Compile-time interface satisfaction checks.
var (
	_ Medium = (*MemMedium)(nil)
	_ Medium = (*FileMedium)(nil)
)
