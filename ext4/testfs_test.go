package ext4

import (
	"testing"

	"github.com/ext4fs/ext4fs/block"
)

// newTestFS formats a small in-memory filesystem for use across tests:
// 8 MiB, default geometry, small enough that a single group covers it.
func newTestFS(t *testing.T) *FileSystem {
	t.Helper()
	const size = 8 * 1024 * 1024
	storage := block.NewMemory(size)
	dev := block.NewDevice(storage, size)
	fs, err := Format(dev, size, nil)
	if err != nil {
		t.Fatalf("Format: %v", err)
	}
	return fs
}

// newLargeTestFS formats a 32 MiB in-memory filesystem for the larger
// end-to-end scenarios (a 16 MiB file, a 200-entry directory); the 16 MiB
// file does not fit newTestFS's 8 MiB device.
func newLargeTestFS(t *testing.T) *FileSystem {
	t.Helper()
	const size = 32 * 1024 * 1024
	storage := block.NewMemory(size)
	dev := block.NewDevice(storage, size)
	fs, err := Format(dev, size, nil)
	if err != nil {
		t.Fatalf("Format: %v", err)
	}
	return fs
}
