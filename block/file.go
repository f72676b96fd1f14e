package block

import (
	"fmt"
	"os"
)

// fileStorage backs a Storage with an *os.File, for images on disk or for
// real block devices.
type fileStorage struct {
	f        *os.File
	readOnly bool
}

// OpenFromPath opens an existing file or block device at pathName.
func OpenFromPath(pathName string, readOnly bool) (Storage, error) {
	if pathName == "" {
		return nil, fmt.Errorf("block: must pass a device or file path")
	}
	mode := os.O_RDONLY
	if !readOnly {
		mode = os.O_RDWR
	}
	f, err := os.OpenFile(pathName, mode, 0o600)
	if err != nil {
		return nil, fmt.Errorf("block: could not open %s: %w", pathName, err)
	}
	return &fileStorage{f: f, readOnly: readOnly}, nil
}

// CreateFromPath creates a new image file of the given size at pathName.
// The file must not already exist.
func CreateFromPath(pathName string, size int64) (Storage, error) {
	if pathName == "" {
		return nil, fmt.Errorf("block: must pass a device or file path")
	}
	if size <= 0 {
		return nil, fmt.Errorf("block: size must be positive, got %d", size)
	}
	f, err := os.OpenFile(pathName, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o666)
	if err != nil {
		return nil, fmt.Errorf("block: could not create %s: %w", pathName, err)
	}
	if err := f.Truncate(size); err != nil {
		return nil, fmt.Errorf("block: could not size %s to %d bytes: %w", pathName, size, err)
	}
	return &fileStorage{f: f}, nil
}

func (s *fileStorage) ReadAt(p []byte, off int64) (int, error) {
	return s.f.ReadAt(p, off)
}

func (s *fileStorage) WriteAt(p []byte, off int64) (int, error) {
	if s.readOnly {
		return 0, ErrIncorrectOpenMode
	}
	return s.f.WriteAt(p, off)
}

func (s *fileStorage) Close() error {
	return s.f.Close()
}

func (s *fileStorage) Sys() (*os.File, error) {
	return s.f, nil
}
