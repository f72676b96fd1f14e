package block

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// storageDevice adapts a byte-addressed Storage into the whole-block Device
// contract by pinning every access to a Size-byte-aligned offset.
type storageDevice struct {
	storage Storage
	size    int64
}

// NewDevice wraps storage as a Device. size is the usable size of storage in
// bytes; reads and writes past it fail with ErrOutOfRange.
func NewDevice(storage Storage, size int64) Device {
	return &storageDevice{storage: storage, size: size}
}

// SizeOf reports the usable size of storage in bytes. For a plain file this
// is its length; for a real block device (no meaningful file length) it
// falls back to the BLKGETSIZE64 ioctl, the same call go-diskfs uses
// BLKRRPART alongside to manage raw devices.
func SizeOf(storage Storage) (int64, error) {
	f, err := storage.Sys()
	if err != nil {
		return 0, fmt.Errorf("block: cannot determine size: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		return 0, fmt.Errorf("block: stat failed: %w", err)
	}
	if info.Mode()&os.ModeDevice == 0 {
		return info.Size(), nil
	}
	size, err := unix.IoctlGetUint64(int(f.Fd()), unix.BLKGETSIZE64)
	if err != nil {
		return 0, fmt.Errorf("block: BLKGETSIZE64 failed: %w", err)
	}
	return int64(size), nil
}

func (d *storageDevice) ReadBlock(id uint64) (*Block, error) {
	off := int64(id) * Size
	if off < 0 || off+Size > d.size {
		return nil, fmt.Errorf("block %d out of range for device of size %d: %w", id, d.size, ErrOutOfRange)
	}
	b := &Block{ID: id}
	if _, err := d.storage.ReadAt(b.Data[:], off); err != nil {
		return nil, fmt.Errorf("read block %d: %w", id, err)
	}
	return b, nil
}

func (d *storageDevice) WriteBlock(b *Block) error {
	off := int64(b.ID) * Size
	if off < 0 || off+Size > d.size {
		return fmt.Errorf("block %d out of range for device of size %d: %w", b.ID, d.size, ErrOutOfRange)
	}
	if _, err := d.storage.WriteAt(b.Data[:], off); err != nil {
		return fmt.Errorf("write block %d: %w", b.ID, err)
	}
	return nil
}
