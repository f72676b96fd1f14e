package block

import "testing"

func TestMemoryDeviceReadWriteRoundTrip(t *testing.T) {
	storage := NewMemory(4 * Size)
	dev := NewDevice(storage, 4*Size)

	want := &Block{ID: 2}
	for i := range want.Data {
		want.Data[i] = byte(i % 251)
	}
	if err := dev.WriteBlock(want); err != nil {
		t.Fatalf("WriteBlock: %v", err)
	}

	got, err := dev.ReadBlock(2)
	if err != nil {
		t.Fatalf("ReadBlock: %v", err)
	}
	if got.Data != want.Data {
		t.Fatalf("round trip mismatch at block 2")
	}
}

func TestDeviceOutOfRange(t *testing.T) {
	storage := NewMemory(2 * Size)
	dev := NewDevice(storage, 2*Size)

	if _, err := dev.ReadBlock(5); err == nil {
		t.Fatal("expected out-of-range read to fail")
	}
	if err := dev.WriteBlock(&Block{ID: 5}); err == nil {
		t.Fatal("expected out-of-range write to fail")
	}
}

func TestSubStorageOffsets(t *testing.T) {
	backing := NewMemory(10 * Size)
	sub := Sub(backing, 3*Size)

	payload := []byte("hello, ext4")
	if _, err := sub.WriteAt(payload, 0); err != nil {
		t.Fatalf("WriteAt via sub: %v", err)
	}

	direct := make([]byte, len(payload))
	if _, err := backing.ReadAt(direct, 3*Size); err != nil {
		t.Fatalf("ReadAt on backing: %v", err)
	}
	if string(direct) != string(payload) {
		t.Fatalf("sub storage did not offset writes: got %q", direct)
	}
}

func TestFileStorageReadOnlyRejectsWrites(t *testing.T) {
	// A read-only fileStorage should refuse WriteAt regardless of the
	// underlying file's own permissions, matching ErrIncorrectOpenMode.
	s := &fileStorage{readOnly: true}
	if _, err := s.WriteAt([]byte{1}, 0); err != ErrIncorrectOpenMode {
		t.Fatalf("expected ErrIncorrectOpenMode, got %v", err)
	}
}
