package ext4

import "testing"

func TestAllocateInodeIncrementsAndDecrements(t *testing.T) {
	fs := newTestFS(t)
	freeBefore := fs.sb.freeInodesCount

	id, err := fs.allocateInode(false)
	if err != nil {
		t.Fatalf("allocateInode: %v", err)
	}
	if id == RootIno {
		t.Fatalf("expected a fresh id distinct from root, got %d", id)
	}
	if fs.sb.freeInodesCount != freeBefore-1 {
		t.Fatalf("expected free inode count to drop by one, got %d -> %d", freeBefore, fs.sb.freeInodesCount)
	}

	if err := fs.freeInodeBit(id, false); err != nil {
		t.Fatalf("freeInodeBit: %v", err)
	}
	if fs.sb.freeInodesCount != freeBefore {
		t.Fatalf("expected free inode count restored, got %d want %d", fs.sb.freeInodesCount, freeBefore)
	}
}

func TestAllocateInodeDirTracksUsedDirsCount(t *testing.T) {
	fs := newTestFS(t)
	before := fs.gdt[0].usedDirsCount

	id, err := fs.allocateInode(true)
	if err != nil {
		t.Fatalf("allocateInode: %v", err)
	}
	if fs.gdt[0].usedDirsCount != before+1 {
		t.Fatalf("expected usedDirsCount to increment, got %d want %d", fs.gdt[0].usedDirsCount, before+1)
	}

	if err := fs.freeInodeBit(id, true); err != nil {
		t.Fatalf("freeInodeBit: %v", err)
	}
	if fs.gdt[0].usedDirsCount != before {
		t.Fatalf("expected usedDirsCount to decrement back, got %d want %d", fs.gdt[0].usedDirsCount, before)
	}
}

func TestFreeInodeBitRejectsDoubleFree(t *testing.T) {
	fs := newTestFS(t)
	id, err := fs.allocateInode(false)
	if err != nil {
		t.Fatalf("allocateInode: %v", err)
	}
	if err := fs.freeInodeBit(id, false); err != nil {
		t.Fatalf("first free: %v", err)
	}
	err = fs.freeInodeBit(id, false)
	if CodeOf(err) != EINVAL {
		t.Fatalf("expected EINVAL on double free, got %v", err)
	}
}

func TestAllocateBlockMarksBitmapAndCounters(t *testing.T) {
	fs := newTestFS(t)
	freeBefore := fs.sb.freeBlocksCount

	pblock, err := fs.allocateBlock()
	if err != nil {
		t.Fatalf("allocateBlock: %v", err)
	}
	if fs.sb.freeBlocksCount != freeBefore-1 {
		t.Fatalf("expected superblock free blocks to drop by one")
	}

	g, idx := fs.blockLocation(pblock)
	raw, err := fs.readRaw(fs.gdt[g].blockBitmapBlock)
	if err != nil {
		t.Fatalf("readRaw bitmap: %v", err)
	}
	bm := bitmapFromBytes(raw)
	set, err := bm.isSet(idx)
	if err != nil || !set {
		t.Fatalf("expected allocated block's bit to be set, isSet=%v err=%v", set, err)
	}

	if err := fs.freeBlock(pblock); err != nil {
		t.Fatalf("freeBlock: %v", err)
	}
	if fs.sb.freeBlocksCount != freeBefore {
		t.Fatalf("expected free block count restored")
	}
}

func TestAllocateBlockExhaustion(t *testing.T) {
	fs := newTestFS(t)
	var allocated []uint64
	for {
		pblock, err := fs.allocateBlock()
		if err != nil {
			if CodeOf(err) != ENOSPC {
				t.Fatalf("expected ENOSPC at exhaustion, got %v", err)
			}
			break
		}
		allocated = append(allocated, pblock)
		if len(allocated) > 100000 {
			t.Fatal("allocateBlock never exhausted, loop runaway")
		}
	}
	if len(allocated) == 0 {
		t.Fatal("expected at least one block to have been allocatable")
	}
}
