package ext4

import (
	"testing"

	"github.com/google/uuid"
)

func TestSuperblockToBytesFromBytesRoundTrip(t *testing.T) {
	id := uuid.MustParse("01234567-89ab-cdef-0123-456789abcdef")
	sb := newSuperblock(id, 4096, 8192, 64, "testvol")
	sb.freeInodesCount = 50
	sb.freeBlocksCount = 3000

	encoded := sb.toBytes()
	got, err := superblockFromBytes(encoded)
	if err != nil {
		t.Fatalf("superblockFromBytes: %v", err)
	}
	if got.blocksPerGroup != sb.blocksPerGroup {
		t.Errorf("blocksPerGroup mismatch: got %d want %d", got.blocksPerGroup, sb.blocksPerGroup)
	}
	if got.inodesPerGroup != sb.inodesPerGroup {
		t.Errorf("inodesPerGroup mismatch: got %d want %d", got.inodesPerGroup, sb.inodesPerGroup)
	}
	if got.blockCount != sb.blockCount {
		t.Errorf("blockCount mismatch: got %d want %d", got.blockCount, sb.blockCount)
	}
	if got.freeInodesCount != 50 {
		t.Errorf("freeInodesCount mismatch: got %d", got.freeInodesCount)
	}
	if got.is64Bit() != sb.is64Bit() {
		t.Errorf("is64Bit mismatch: got %v want %v", got.is64Bit(), sb.is64Bit())
	}
}

func TestSuperblockChecksumDetectsCorruption(t *testing.T) {
	id := uuid.MustParse("01234567-89ab-cdef-0123-456789abcdef")
	sb := newSuperblock(id, 4096, 8192, 64, "testvol")
	encoded := sb.toBytes()

	encoded[0] ^= 0xFF
	if _, err := superblockFromBytes(encoded); err == nil {
		t.Fatal("expected corrupted superblock to fail checksum verification")
	}
}

func TestGroupCountRoundsUp(t *testing.T) {
	id := uuid.MustParse("01234567-89ab-cdef-0123-456789abcdef")
	sb := newSuperblock(id, 100, 64, 32, "v")
	if got := sb.groupCount(); got != 2 {
		t.Fatalf("expected 2 groups for 100 blocks / 64 per group, got %d", got)
	}
}
