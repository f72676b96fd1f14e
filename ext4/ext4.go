// Package ext4 implements a user-space, read/write core of the ext4 on-disk
// format: block-group bitmap allocation, the per-inode extent tree, the
// directory block engine, and the high-level path operations built on top
// of them.
package ext4

import (
	"path"
	"strings"
	"time"

	"github.com/ext4fs/ext4fs/block"
)

// FileSystem is a mounted ext4 core instance: one open device, its
// superblock, and its group descriptor table, all kept in memory and
// written through synchronously on every mutation.
type FileSystem struct {
	dev block.Device
	sb  *superblock
	gdt []*groupDescriptor
}

// Open reads the superblock and group descriptor table from dev and
// returns a ready-to-use FileSystem.
func Open(dev block.Device) (*FileSystem, error) {
	blk, err := dev.ReadBlock(0)
	if err != nil {
		return nil, newErr("Open", EIO, err)
	}
	sb, err := superblockFromBytes(blk.Data[SuperblockOffset : SuperblockOffset+SuperblockSize])
	if err != nil {
		return nil, newErr("Open", EIO, err)
	}
	fs := &FileSystem{dev: dev, sb: sb}
	gdt, err := fs.readGDT()
	if err != nil {
		return nil, newErr("Open", EIO, err)
	}
	fs.gdt = gdt
	return fs, nil
}

// Stat is the subset of an inode's metadata high-level operations return
// to callers, trimmed to what the core actually models.
type Stat struct {
	Ino        uint32
	Mode       uint16
	UID        uint32
	GID        uint32
	Size       uint64
	BlockCount uint64 // in InodeBlockSize units, per spec §9
	LinkCount  uint16
	Atime      time.Time
	Mtime      time.Time
	Ctime      time.Time
	Crtime     time.Time
}

func statFrom(ref *inodeRef) Stat {
	return Stat{
		Ino:        ref.id,
		Mode:       ref.rec.mode,
		UID:        ref.rec.uid,
		GID:        ref.rec.gid,
		Size:       ref.rec.size,
		BlockCount: ref.rec.blockCount,
		LinkCount:  ref.rec.linkCount,
		Atime:      time.Unix(int64(ref.rec.atime), 0),
		Mtime:      time.Unix(int64(ref.rec.mtime), 0),
		Ctime:      time.Unix(int64(ref.rec.ctime), 0),
		Crtime:     time.Unix(int64(ref.rec.crtime), 0),
	}
}

func splitPath(p string) []string {
	p = path.Clean("/" + p)
	if p == "/" {
		return nil
	}
	return strings.Split(strings.TrimPrefix(p, "/"), "/")
}

// resolveParent walks p's directory components, returning the inode ref of
// the final containing directory and the leaf name. An empty leaf name
// means p names the root itself.
func (fs *FileSystem) resolveParent(p string) (*inodeRef, string, error) {
	parts := splitPath(p)
	dir, err := fs.readInode(RootIno)
	if err != nil {
		return nil, "", newErr("resolveParent", EIO, err)
	}
	if len(parts) == 0 {
		return dir, "", nil
	}
	for _, name := range parts[:len(parts)-1] {
		if dir.rec.mode&TypeMask != Directory {
			return nil, "", newErr("resolveParent", ENOTDIR, nil)
		}
		childID, err := fs.dirFind(dir, name)
		if err != nil {
			return nil, "", err
		}
		dir, err = fs.readInode(childID)
		if err != nil {
			return nil, "", newErr("resolveParent", EIO, err)
		}
	}
	return dir, parts[len(parts)-1], nil
}

// Lookup resolves p to its inode's Stat.
func (fs *FileSystem) Lookup(p string) (Stat, error) {
	parts := splitPath(p)
	if len(parts) == 0 {
		ref, err := fs.readInode(RootIno)
		if err != nil {
			return Stat{}, newErr("Lookup", EIO, err)
		}
		return statFrom(ref), nil
	}
	dir, name, err := fs.resolveParent(p)
	if err != nil {
		return Stat{}, err
	}
	if dir.rec.mode&TypeMask != Directory {
		return Stat{}, newErr("Lookup", ENOTDIR, nil)
	}
	id, err := fs.dirFind(dir, name)
	if err != nil {
		return Stat{}, err
	}
	ref, err := fs.readInode(id)
	if err != nil {
		return Stat{}, newErr("Lookup", EIO, err)
	}
	return statFrom(ref), nil
}

// Create makes a new regular file (or device/fifo/socket, via mode) at p.
func (fs *FileSystem) Create(p string, mode uint16) (stat Stat, err error) {
	h := fs.start()
	defer func() {
		if err != nil {
			h.abort()
		}
	}()

	dir, name, err := fs.resolveParent(p)
	if err != nil {
		return Stat{}, err
	}
	if name == "" {
		return Stat{}, newErr("Create", EEXIST, nil)
	}
	if dir.rec.mode&TypeMask != Directory {
		return Stat{}, newErr("Create", ENOTDIR, nil)
	}
	if _, err := fs.dirFind(dir, name); err == nil {
		return Stat{}, newErr("Create", EEXIST, nil)
	}
	child, err := fs.createInode(mode)
	if err != nil {
		return Stat{}, err
	}
	child.rec.linkCount = 1
	if err := fs.writeInode(child); err != nil {
		return Stat{}, err
	}
	if err := fs.dirAdd(dir, child.id, fileTypeOf(mode), name); err != nil {
		return Stat{}, err
	}
	return statFrom(child), nil
}

// Mkdir makes a new directory at p, with the standard "." and ".." entries.
func (fs *FileSystem) Mkdir(p string, mode uint16) (stat Stat, err error) {
	h := fs.start()
	defer func() {
		if err != nil {
			h.abort()
		}
	}()

	dir, name, err := fs.resolveParent(p)
	if err != nil {
		return Stat{}, err
	}
	if name == "" {
		return Stat{}, newErr("Mkdir", EEXIST, nil)
	}
	if dir.rec.mode&TypeMask != Directory {
		return Stat{}, newErr("Mkdir", ENOTDIR, nil)
	}
	if _, err := fs.dirFind(dir, name); err == nil {
		return Stat{}, newErr("Mkdir", EEXIST, nil)
	}

	child, err := fs.createInode((mode &^ TypeMask) | Directory)
	if err != nil {
		return Stat{}, err
	}
	child.rec.linkCount = 2 // "." plus the parent's new entry
	if _, _, err := fs.appendBlock(child); err != nil {
		return Stat{}, err
	}
	child.rec.size = BlockSize
	if err := fs.writeInode(child); err != nil {
		return Stat{}, err
	}
	if err := fs.dirAdd(child, child.id, FtDir, "."); err != nil {
		return Stat{}, err
	}
	if err := fs.dirAdd(child, dir.id, FtDir, ".."); err != nil {
		return Stat{}, err
	}

	if err := fs.dirAdd(dir, child.id, FtDir, name); err != nil {
		return Stat{}, err
	}
	dir.rec.linkCount++
	if err := fs.writeInode(dir); err != nil {
		return Stat{}, err
	}
	return statFrom(child), nil
}

// Unlink removes name from its parent directory, freeing the target inode
// once its link count reaches zero.
func (fs *FileSystem) Unlink(p string) (err error) {
	h := fs.start()
	defer func() {
		if err != nil {
			h.abort()
		}
	}()

	dir, name, err := fs.resolveParent(p)
	if err != nil {
		return err
	}
	if name == "" {
		return newErr("Unlink", EPERM, nil)
	}
	id, err := fs.dirFind(dir, name)
	if err != nil {
		return err
	}
	target, err := fs.readInode(id)
	if err != nil {
		return newErr("Unlink", EIO, err)
	}
	if target.rec.mode&TypeMask == Directory {
		return newErr("Unlink", EISDIR, nil)
	}
	if err := fs.dirRemove(dir, name); err != nil {
		return err
	}
	if target.rec.linkCount > 0 {
		target.rec.linkCount--
	}
	if target.rec.linkCount == 0 {
		return fs.freeInode(target)
	}
	return fs.writeInode(target)
}

// Rmdir removes the empty directory at p.
func (fs *FileSystem) Rmdir(p string) (err error) {
	h := fs.start()
	defer func() {
		if err != nil {
			h.abort()
		}
	}()

	dir, name, err := fs.resolveParent(p)
	if err != nil {
		return err
	}
	if name == "" {
		return newErr("Rmdir", EPERM, nil)
	}
	id, err := fs.dirFind(dir, name)
	if err != nil {
		return err
	}
	target, err := fs.readInode(id)
	if err != nil {
		return newErr("Rmdir", EIO, err)
	}
	if target.rec.mode&TypeMask != Directory {
		return newErr("Rmdir", ENOTDIR, nil)
	}
	entries, err := fs.dirList(target)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if e.name != "." && e.name != ".." {
			return newErr("Rmdir", ENOTEMPTY, nil)
		}
	}
	if err := fs.dirRemove(dir, name); err != nil {
		return err
	}
	if dir.rec.linkCount > 0 {
		dir.rec.linkCount--
	}
	if err := fs.writeInode(dir); err != nil {
		return err
	}
	return fs.freeInode(target)
}

// Link adds a new name (newPath) referring to the inode already at oldPath.
func (fs *FileSystem) Link(oldPath, newPath string) (err error) {
	h := fs.start()
	defer func() {
		if err != nil {
			h.abort()
		}
	}()

	oldDir, oldName, err := fs.resolveParent(oldPath)
	if err != nil {
		return err
	}
	id, err := fs.dirFind(oldDir, oldName)
	if err != nil {
		return err
	}
	target, err := fs.readInode(id)
	if err != nil {
		return newErr("Link", EIO, err)
	}
	if target.rec.mode&TypeMask == Directory {
		return newErr("Link", EPERM, nil)
	}

	newDir, newName, err := fs.resolveParent(newPath)
	if err != nil {
		return err
	}
	if newName == "" {
		return newErr("Link", EEXIST, nil)
	}
	if _, err := fs.dirFind(newDir, newName); err == nil {
		return newErr("Link", EEXIST, nil)
	}
	if err := fs.dirAdd(newDir, target.id, fileTypeOf(target.rec.mode), newName); err != nil {
		return newErr("Link", ELINKFAIL, err)
	}
	target.rec.linkCount++
	return fs.writeInode(target)
}

// Rename moves the entry at oldPath to newPath. Not atomic: it links the
// new name in before unlinking the old one, so a crash mid-rename can leave
// both names pointing at the same inode rather than losing it.
func (fs *FileSystem) Rename(oldPath, newPath string) (err error) {
	h := fs.start()
	defer func() {
		if err != nil {
			h.abort()
		}
	}()

	if err := fs.Link(oldPath, newPath); err != nil {
		return err
	}
	return fs.Unlink(oldPath)
}

// Attr holds the optional field updates SetAttr applies; a nil field is left
// untouched. Size only ever shrinks a file here (including truncating to
// zero, which releases its extent blocks); growing a file happens through
// Write.
type Attr struct {
	Mode   *uint16
	UID    *uint32
	GID    *uint32
	Size   *uint64
	Atime  *time.Time
	Mtime  *time.Time
	Ctime  *time.Time
	Crtime *time.Time
}

// SetAttr applies the optional field updates in attr to the inode at p.
// Fails with EINVAL if the inode's mode is zero (an unused/freed inode).
func (fs *FileSystem) SetAttr(p string, attr Attr) (stat Stat, err error) {
	h := fs.start()
	defer func() {
		if err != nil {
			h.abort()
		}
	}()

	dir, name, err := fs.resolveParent(p)
	if err != nil {
		return Stat{}, err
	}
	var ref *inodeRef
	if name == "" {
		ref, err = fs.readInode(RootIno)
		if err != nil {
			return Stat{}, newErr("SetAttr", EIO, err)
		}
	} else {
		id, fErr := fs.dirFind(dir, name)
		if fErr != nil {
			return Stat{}, fErr
		}
		ref, err = fs.readInode(id)
		if err != nil {
			return Stat{}, newErr("SetAttr", EIO, err)
		}
	}
	if ref.rec.mode == 0 {
		return Stat{}, newErr("SetAttr", EINVAL, nil)
	}

	if attr.Mode != nil {
		ref.rec.mode = (ref.rec.mode & TypeMask) | (*attr.Mode & PermMask)
	}
	if attr.UID != nil {
		ref.rec.uid = *attr.UID
	}
	if attr.GID != nil {
		ref.rec.gid = *attr.GID
	}
	if attr.Size != nil {
		if *attr.Size > ref.rec.size {
			return Stat{}, newErr("SetAttr", EINVAL, nil)
		}
		if *attr.Size == 0 && ref.rec.size > 0 {
			blocks, err := fs.collectExtentBlocks(ref)
			if err != nil {
				return Stat{}, err
			}
			for _, pblock := range blocks {
				if err := fs.freeBlock(pblock); err != nil {
					return Stat{}, err
				}
			}
			initExtentRoot(&ref.rec.inline)
			ref.rec.blockCount = 0
		}
		ref.rec.size = *attr.Size
	}
	if attr.Atime != nil {
		ref.rec.atime = uint32(attr.Atime.Unix())
	}
	if attr.Mtime != nil {
		ref.rec.mtime = uint32(attr.Mtime.Unix())
	}
	if attr.Crtime != nil {
		ref.rec.crtime = uint32(attr.Crtime.Unix())
	}
	if attr.Ctime != nil {
		ref.rec.ctime = uint32(attr.Ctime.Unix())
	} else {
		ref.rec.ctime = uint32(time.Now().Unix())
	}
	if err := fs.writeInode(ref); err != nil {
		return Stat{}, err
	}
	return statFrom(ref), nil
}

// Read fills buf with data starting at offset, returning the number of
// bytes actually read (fewer than len(buf) at end of file).
func (fs *FileSystem) Read(p string, offset int64, buf []byte) (int, error) {
	dir, name, err := fs.resolveParent(p)
	if err != nil {
		return 0, err
	}
	var ref *inodeRef
	if name == "" {
		ref = dir
	} else {
		id, fErr := fs.dirFind(dir, name)
		if fErr != nil {
			return 0, fErr
		}
		ref, err = fs.readInode(id)
		if err != nil {
			return 0, newErr("Read", EIO, err)
		}
	}
	if ref.rec.mode&TypeMask == Directory {
		return 0, newErr("Read", EISDIR, nil)
	}
	if offset < 0 {
		return 0, newErr("Read", EINVAL, nil)
	}
	if uint64(offset) >= ref.rec.size {
		return 0, nil
	}
	remaining := ref.rec.size - uint64(offset)
	want := len(buf)
	if uint64(want) > remaining {
		want = int(remaining)
	}

	read := 0
	for read < want {
		lblock := uint32((uint64(offset) + uint64(read)) / BlockSize)
		inBlock := int((uint64(offset) + uint64(read)) % BlockSize)
		pblock, err := fs.extQuery(ref, lblock)
		n := BlockSize - inBlock
		if n > want-read {
			n = want - read
		}
		if err != nil {
			if CodeOf(err) == ENOENT {
				// Sparse region: reads as zero.
				for i := 0; i < n; i++ {
					buf[read+i] = 0
				}
				read += n
				continue
			}
			return read, err
		}
		raw, err := fs.readRaw(pblock)
		if err != nil {
			return read, newErr("Read", EIO, err)
		}
		copy(buf[read:read+n], raw[inBlock:inBlock+n])
		read += n
	}
	return read, nil
}

// Write writes data at offset, extending the file as needed. Blocks in a
// gap between the old end of file and offset are not allocated; Read
// returns zeros for them.
func (fs *FileSystem) Write(p string, offset int64, data []byte) (written int, err error) {
	h := fs.start()
	defer func() {
		if err != nil {
			h.abort()
		}
	}()

	dir, name, err := fs.resolveParent(p)
	if err != nil {
		return 0, err
	}
	if name == "" {
		return 0, newErr("Write", EISDIR, nil)
	}
	id, err := fs.dirFind(dir, name)
	if err != nil {
		return 0, err
	}
	ref, err := fs.readInode(id)
	if err != nil {
		return 0, newErr("Write", EIO, err)
	}
	if ref.rec.mode&TypeMask == Directory {
		return 0, newErr("Write", EISDIR, nil)
	}
	if offset < 0 {
		return 0, newErr("Write", EINVAL, nil)
	}

	for written < len(data) {
		lblock := uint32((uint64(offset) + uint64(written)) / BlockSize)
		inBlock := int((uint64(offset) + uint64(written)) % BlockSize)
		n := BlockSize - inBlock
		if n > len(data)-written {
			n = len(data) - written
		}

		pblock, err := fs.extQueryOrCreate(ref, lblock, 1)
		if err != nil {
			return written, err
		}
		end := uint64(lblock)*BlockSize + BlockSize
		if end > ref.rec.size {
			if uint64(lblock)*BlockSize >= ref.rec.size {
				ref.rec.blockCount += BlockSize / InodeBlockSize
			}
		}

		raw, err := fs.readRaw(pblock)
		if err != nil {
			return written, newErr("Write", EIO, err)
		}
		copy(raw[inBlock:inBlock+n], data[written:written+n])
		if err := fs.writeRaw(pblock, raw); err != nil {
			return written, newErr("Write", EIO, err)
		}
		written += n

		newSize := uint64(offset) + uint64(written)
		if newSize > ref.rec.size {
			ref.rec.size = newSize
		}
	}
	ref.rec.mtime = uint32(time.Now().Unix())
	if err := fs.writeInode(ref); err != nil {
		return written, err
	}
	return written, nil
}

// List returns the names present in the directory at p, in on-disk order.
func (fs *FileSystem) List(p string) ([]string, error) {
	dir, name, err := fs.resolveParent(p)
	if err != nil {
		return nil, err
	}
	var ref *inodeRef
	if name == "" {
		ref = dir
	} else {
		id, fErr := fs.dirFind(dir, name)
		if fErr != nil {
			return nil, fErr
		}
		ref, err = fs.readInode(id)
		if err != nil {
			return nil, newErr("List", EIO, err)
		}
	}
	if ref.rec.mode&TypeMask != Directory {
		return nil, newErr("List", ENOTDIR, nil)
	}
	entries, err := fs.dirList(ref)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.name)
	}
	return names, nil
}
