package block

import (
	"fmt"
	"os"
)

// memoryStorage is a byte-slice-backed Storage, used for tests and for
// filesystems that never need to persist beyond process lifetime.
type memoryStorage struct {
	data []byte
}

// NewMemory creates an in-memory Storage of the given size, zero-filled.
func NewMemory(size int64) Storage {
	return &memoryStorage{data: make([]byte, size)}
}

func (m *memoryStorage) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 || off > int64(len(m.data)) {
		return 0, fmt.Errorf("memory storage: offset %d out of range: %w", off, ErrOutOfRange)
	}
	n := copy(p, m.data[off:])
	if n < len(p) {
		return n, fmt.Errorf("memory storage: short read at offset %d", off)
	}
	return n, nil
}

func (m *memoryStorage) WriteAt(p []byte, off int64) (int, error) {
	if off < 0 || off+int64(len(p)) > int64(len(m.data)) {
		return 0, fmt.Errorf("memory storage: offset %d out of range: %w", off, ErrOutOfRange)
	}
	return copy(m.data[off:], p), nil
}

func (m *memoryStorage) Close() error { return nil }

func (m *memoryStorage) Sys() (*os.File, error) {
	return nil, ErrNotSuitable
}
