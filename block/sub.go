package block

import "os"

// SubStorage offsets all reads and writes against an underlying Storage by a
// fixed number of bytes, the way go-diskfs's backend.Sub lets a filesystem
// live inside a partition rather than owning the whole device. Useful when
// an ext4 image is embedded at a known offset inside a larger disk image.
type SubStorage struct {
	underlying Storage
	offset     int64
}

// Sub returns a Storage view of underlying starting offset bytes in.
func Sub(underlying Storage, offset int64) Storage {
	return &SubStorage{underlying: underlying, offset: offset}
}

func (s *SubStorage) ReadAt(p []byte, off int64) (int, error) {
	return s.underlying.ReadAt(p, s.offset+off)
}

func (s *SubStorage) WriteAt(p []byte, off int64) (int, error) {
	return s.underlying.WriteAt(p, s.offset+off)
}

func (s *SubStorage) Close() error {
	return s.underlying.Close()
}

func (s *SubStorage) Sys() (*os.File, error) {
	return s.underlying.Sys()
}
