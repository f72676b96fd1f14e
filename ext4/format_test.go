package ext4

import (
	"testing"

	"github.com/ext4fs/ext4fs/block"
)

func TestFormatRootIsDirectoryWithDotEntries(t *testing.T) {
	fs := newTestFS(t)

	root, err := fs.readInode(RootIno)
	if err != nil {
		t.Fatalf("readInode(root): %v", err)
	}
	if root.rec.mode&TypeMask != Directory {
		t.Fatalf("expected root to be a directory, mode=%#o", root.rec.mode)
	}
	if root.rec.linkCount < 2 {
		t.Fatalf("expected root link count >= 2 for '.' and no parent, got %d", root.rec.linkCount)
	}

	entries, err := fs.dirList(root)
	if err != nil {
		t.Fatalf("dirList(root): %v", err)
	}
	names := map[string]bool{}
	for _, e := range entries {
		names[e.name] = true
	}
	if !names["."] || !names[".."] {
		t.Fatalf("expected root to contain '.' and '..', got %+v", entries)
	}
}

func TestFormatSuperblockAndGroupDescriptorsVerify(t *testing.T) {
	fs := newTestFS(t)

	// Re-reading the GDT re-verifies its checksums; a failure here would
	// mean Format wrote an inconsistent descriptor.
	if _, err := fs.readGDT(); err != nil {
		t.Fatalf("readGDT: %v", err)
	}
	if fs.sb.inodeCount == 0 {
		t.Fatal("expected a non-zero inode count after Format")
	}
}

func TestFormatRejectsTooSmallDevice(t *testing.T) {
	storage := block.NewMemory(4096)
	dev := block.NewDevice(storage, 4096)
	_, err := Format(dev, 4096, nil)
	if CodeOf(err) != EINVAL {
		t.Fatalf("expected EINVAL for an undersized device, got %v", err)
	}
}
