package ext4

import (
	"strconv"
	"testing"
)

func newTestDir(t *testing.T, fs *FileSystem) *inodeRef {
	t.Helper()
	dir, err := fs.createInode(Directory | 0o755)
	if err != nil {
		t.Fatalf("createInode: %v", err)
	}
	if _, _, err := fs.appendBlock(dir); err != nil {
		t.Fatalf("appendBlock: %v", err)
	}
	dir.rec.size = BlockSize
	if err := fs.writeInode(dir); err != nil {
		t.Fatalf("writeInode: %v", err)
	}
	return dir
}

func TestDirAddFindRemove(t *testing.T) {
	fs := newTestFS(t)
	dir := newTestDir(t, fs)

	if err := fs.dirAdd(dir, 42, FtRegFile, "hello.txt"); err != nil {
		t.Fatalf("dirAdd: %v", err)
	}

	id, err := fs.dirFind(dir, "hello.txt")
	if err != nil {
		t.Fatalf("dirFind: %v", err)
	}
	if id != 42 {
		t.Fatalf("expected inode id 42, got %d", id)
	}

	if err := fs.dirRemove(dir, "hello.txt"); err != nil {
		t.Fatalf("dirRemove: %v", err)
	}
	if _, err := fs.dirFind(dir, "hello.txt"); CodeOf(err) != ENOENT {
		t.Fatalf("expected ENOENT after remove, got %v", err)
	}
}

func TestDirAddReusesFreedSpace(t *testing.T) {
	fs := newTestFS(t)
	dir := newTestDir(t, fs)

	if err := fs.dirAdd(dir, 10, FtRegFile, "a"); err != nil {
		t.Fatalf("dirAdd a: %v", err)
	}
	if err := fs.dirAdd(dir, 11, FtRegFile, "b"); err != nil {
		t.Fatalf("dirAdd b: %v", err)
	}
	if err := fs.dirRemove(dir, "a"); err != nil {
		t.Fatalf("dirRemove a: %v", err)
	}

	blocksBefore := fs.dirBlockCount(dir)
	if err := fs.dirAdd(dir, 12, FtRegFile, "c"); err != nil {
		t.Fatalf("dirAdd c: %v", err)
	}
	if fs.dirBlockCount(dir) != blocksBefore {
		t.Fatalf("expected dirAdd to reuse freed space rather than grow the directory")
	}

	id, err := fs.dirFind(dir, "c")
	if err != nil || id != 12 {
		t.Fatalf("expected to find c -> 12, got id=%d err=%v", id, err)
	}
}

func TestDirAddGrowsWhenBlockIsFull(t *testing.T) {
	fs := newTestFS(t)
	dir := newTestDir(t, fs)

	blocksBefore := fs.dirBlockCount(dir)
	// Long names exhaust a 4096-byte block quickly (well under 255 names
	// of ~20 bytes each).
	for i := 0; i < 300; i++ {
		name := "entry-number-" + strconv.Itoa(i)
		if err := fs.dirAdd(dir, uint32(i+100), FtRegFile, name); err != nil {
			t.Fatalf("dirAdd(%s): %v", name, err)
		}
	}
	if fs.dirBlockCount(dir) <= blocksBefore {
		t.Fatal("expected directory to grow past one block")
	}

	id, err := fs.dirFind(dir, "entry-number-299")
	if err != nil || id != 399 {
		t.Fatalf("expected to find the last entry, got id=%d err=%v", id, err)
	}
}

func TestDirListOmitsRemovedEntries(t *testing.T) {
	fs := newTestFS(t)
	dir := newTestDir(t, fs)

	_ = fs.dirAdd(dir, 1, FtRegFile, "keep")
	_ = fs.dirAdd(dir, 2, FtRegFile, "drop")
	_ = fs.dirRemove(dir, "drop")

	entries, err := fs.dirList(dir)
	if err != nil {
		t.Fatalf("dirList: %v", err)
	}
	if len(entries) != 1 || entries[0].name != "keep" {
		t.Fatalf("expected only 'keep' to remain, got %+v", entries)
	}
}

func TestDirTailChecksumChangesWithContent(t *testing.T) {
	fs := newTestFS(t)
	dir := newTestDir(t, fs)

	if err := fs.dirAdd(dir, 1, FtRegFile, "one"); err != nil {
		t.Fatalf("dirAdd: %v", err)
	}
	pblock, err := fs.extQuery(dir, 0)
	if err != nil {
		t.Fatalf("extQuery: %v", err)
	}
	before, err := fs.readRaw(pblock)
	if err != nil {
		t.Fatalf("readRaw: %v", err)
	}

	if err := fs.dirAdd(dir, 2, FtRegFile, "two"); err != nil {
		t.Fatalf("dirAdd: %v", err)
	}
	after, err := fs.readRaw(pblock)
	if err != nil {
		t.Fatalf("readRaw: %v", err)
	}

	tailOff := BlockSize - DirTailSize
	if string(before[tailOff+8:tailOff+12]) == string(after[tailOff+8:tailOff+12]) {
		t.Fatal("expected tail checksum to change when directory content changes")
	}
}
