package ext4

import "testing"

func TestExtentHeaderRoundTrip(t *testing.T) {
	b := make([]byte, extHeaderLen)
	extWriteHeader(b, 2, 3, 4, 99)
	depth, entries, max, gen, err := extReadHeader(b)
	if err != nil {
		t.Fatalf("extReadHeader: %v", err)
	}
	if depth != 2 || entries != 3 || max != 4 || gen != 99 {
		t.Fatalf("round trip mismatch: depth=%d entries=%d max=%d gen=%d", depth, entries, max, gen)
	}
}

func TestExtentLeafEncodeDecode(t *testing.T) {
	b := make([]byte, extHeaderLen+extEntryLen)
	extSetLeafAt(b, 0, 7, 42, 0x1_0000_0005)
	first, cnt, start := extLeafAt(b, 0)
	if first != 7 || cnt != 42 || start != 0x1_0000_0005 {
		t.Fatalf("leaf round trip mismatch: first=%d cnt=%d start=%#x", first, cnt, start)
	}
}

func TestExtentUninitializedBit(t *testing.T) {
	if extIsUninitialized(100) {
		t.Fatal("100 should not be flagged uninitialized")
	}
	marked := uint16(UninitializedBit + 50)
	if !extIsUninitialized(marked) {
		t.Fatal("expected block count above UninitializedBit to be flagged")
	}
	if extActualLen(marked) != 50 {
		t.Fatalf("expected actual length 50, got %d", extActualLen(marked))
	}
}

func TestExtQueryOrCreateThenQuery(t *testing.T) {
	fs := newTestFS(t)
	ref, err := fs.createInode(RegFile | 0o644)
	if err != nil {
		t.Fatalf("createInode: %v", err)
	}

	pblock, err := fs.extQueryOrCreate(ref, 0, 1)
	if err != nil {
		t.Fatalf("extQueryOrCreate: %v", err)
	}
	if err := fs.writeInode(ref); err != nil {
		t.Fatalf("writeInode: %v", err)
	}

	again, err := fs.extQuery(ref, 0)
	if err != nil {
		t.Fatalf("extQuery: %v", err)
	}
	if again != pblock {
		t.Fatalf("expected repeated query to resolve to the same block, got %d want %d", again, pblock)
	}
}

func TestExtQueryMissReturnsENOENT(t *testing.T) {
	fs := newTestFS(t)
	ref, err := fs.createInode(RegFile | 0o644)
	if err != nil {
		t.Fatalf("createInode: %v", err)
	}
	_, err = fs.extQuery(ref, 5)
	if CodeOf(err) != ENOENT {
		t.Fatalf("expected ENOENT for unmapped logical block, got %v", err)
	}
}

func TestExtentSplitsWhenRootOverflows(t *testing.T) {
	fs := newTestFS(t)
	ref, err := fs.createInode(RegFile | 0o644)
	if err != nil {
		t.Fatalf("createInode: %v", err)
	}

	// The inline root holds 4 entries; forcing a 5th, non-contiguous extent
	// (so none of them coalesce into an existing entry) must split the
	// root rather than silently dropping data.
	maxEntries := extNodeMaxEntries(60)
	var lblocks []uint32
	for i := 0; i <= maxEntries; i++ {
		lblocks = append(lblocks, uint32(i*4)) // gaps prevent merging
	}
	for _, lb := range lblocks {
		if _, err := fs.extQueryOrCreate(ref, lb, 1); err != nil {
			t.Fatalf("extQueryOrCreate(%d): %v", lb, err)
		}
	}
	if err := fs.writeInode(ref); err != nil {
		t.Fatalf("writeInode: %v", err)
	}

	depth, _, _, _, err := extReadHeader(ref.rec.inline[:])
	if err != nil {
		t.Fatalf("extReadHeader: %v", err)
	}
	if depth == 0 {
		t.Fatal("expected root to have split to depth > 0 after overflow")
	}

	for _, lb := range lblocks {
		if _, err := fs.extQuery(ref, lb); err != nil {
			t.Fatalf("extQuery(%d) after split: %v", lb, err)
		}
	}
}

func TestCollectExtentBlocksIncludesInteriorNodes(t *testing.T) {
	fs := newTestFS(t)
	ref, err := fs.createInode(RegFile | 0o644)
	if err != nil {
		t.Fatalf("createInode: %v", err)
	}

	maxEntries := extNodeMaxEntries(60)
	for i := 0; i <= maxEntries; i++ {
		if _, err := fs.extQueryOrCreate(ref, uint32(i*4), 1); err != nil {
			t.Fatalf("extQueryOrCreate: %v", err)
		}
	}
	if err := fs.writeInode(ref); err != nil {
		t.Fatalf("writeInode: %v", err)
	}

	blocks, err := fs.collectExtentBlocks(ref)
	if err != nil {
		t.Fatalf("collectExtentBlocks: %v", err)
	}
	// maxEntries+1 data blocks plus at least the two leaf children created
	// by the root split.
	if len(blocks) < maxEntries+1+2 {
		t.Fatalf("expected data blocks plus interior nodes, got %d blocks", len(blocks))
	}
}
