package ext4

import "testing"

func TestInodeWriteReadRoundTrip(t *testing.T) {
	fs := newTestFS(t)

	ref, err := fs.createInode(RegFile | 0o644)
	if err != nil {
		t.Fatalf("createInode: %v", err)
	}
	ref.rec.uid = 1000
	ref.rec.gid = 1000
	ref.rec.size = 12345
	ref.rec.linkCount = 3
	if err := fs.writeInode(ref); err != nil {
		t.Fatalf("writeInode: %v", err)
	}

	got, err := fs.readInode(ref.id)
	if err != nil {
		t.Fatalf("readInode: %v", err)
	}
	if got.rec.mode != RegFile|0o644 {
		t.Errorf("mode mismatch: got %#o", got.rec.mode)
	}
	if got.rec.uid != 1000 || got.rec.gid != 1000 {
		t.Errorf("uid/gid mismatch: %d/%d", got.rec.uid, got.rec.gid)
	}
	if got.rec.size != 12345 {
		t.Errorf("size mismatch: got %d", got.rec.size)
	}
	if got.rec.linkCount != 3 {
		t.Errorf("linkCount mismatch: got %d", got.rec.linkCount)
	}
}

func TestInodeChecksumDetectsCorruption(t *testing.T) {
	fs := newTestFS(t)
	ref, err := fs.createInode(RegFile | 0o600)
	if err != nil {
		t.Fatalf("createInode: %v", err)
	}

	blockID, byteOffset := fs.inodeTableOffset(ref.id)
	raw, err := fs.readRaw(blockID)
	if err != nil {
		t.Fatalf("readRaw: %v", err)
	}
	raw[byteOffset] ^= 0xFF // corrupt the mode field
	if err := fs.writeRaw(blockID, raw); err != nil {
		t.Fatalf("writeRaw: %v", err)
	}

	if _, err := fs.readInode(ref.id); err == nil {
		t.Fatal("expected checksum mismatch to surface as an error")
	}
}

func TestCreateInodeAllocatesExtentsFlag(t *testing.T) {
	fs := newTestFS(t)
	ref, err := fs.createInode(RegFile | 0o644)
	if err != nil {
		t.Fatalf("createInode: %v", err)
	}
	if ref.rec.flags&inodeUsesExtents == 0 {
		t.Fatal("expected newly created inode to have the extents flag set")
	}
}

func TestFreeInodeReleasesBlocksAndBit(t *testing.T) {
	fs := newTestFS(t)
	ref, err := fs.createInode(RegFile | 0o644)
	if err != nil {
		t.Fatalf("createInode: %v", err)
	}
	if _, _, err := fs.appendBlock(ref); err != nil {
		t.Fatalf("appendBlock: %v", err)
	}
	ref.rec.size = BlockSize
	if err := fs.writeInode(ref); err != nil {
		t.Fatalf("writeInode: %v", err)
	}

	freeBlocksBefore := fs.sb.freeBlocksCount
	if err := fs.freeInode(ref); err != nil {
		t.Fatalf("freeInode: %v", err)
	}
	if fs.sb.freeBlocksCount <= freeBlocksBefore {
		t.Fatalf("expected freeing the inode to reclaim its data block")
	}

	if _, err := fs.readInode(ref.id); err == nil {
		t.Fatal("expected reading a freed inode to fail checksum verification")
	}
}
