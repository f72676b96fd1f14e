package ext4

import (
	"github.com/ext4fs/ext4fs/internal/crc32c"
)

// bitmapChecksum covers the bitmap's bytes seeded with crc32c(uuid), as
// used for both the inode and block bitmap checksum fields in the group
// descriptor.
func (fs *FileSystem) bitmapChecksum(bm *bitmap) uint32 {
	return crc32c.Checksum(fs.sb.checksumSeed, bm.toBytes())
}

func (fs *FileSystem) writeSuperblock() error {
	return fs.writeRaw(0, padToBlock(fs.sb.toBytes(), SuperblockOffset))
}

// padToBlock places region at byteOffset within a zero-filled block-sized
// buffer; used for the superblock, which occupies bytes 1024-2047 of block 0.
func padToBlock(region []byte, byteOffset int) []byte {
	out := make([]byte, BlockSize)
	copy(out[byteOffset:], region)
	return out
}

// allocateInode finds the first group with a free inode, marks it used, and
// returns the absolute 1-based inode id.
func (fs *FileSystem) allocateInode(isDir bool) (uint32, error) {
	for g := uint32(0); g < fs.sb.groupCount(); g++ {
		gd := fs.gdt[g]
		if gd.freeInodesCount == 0 {
			continue
		}
		raw, err := fs.readRaw(gd.inodeBitmapBlock)
		if err != nil {
			return 0, newErr("allocateInode", EIO, err)
		}
		bm := bitmapFromBytes(raw)
		idx := bm.firstClearIn(0, int(fs.sb.inodesPerGroup))
		if idx < 0 {
			continue
		}
		if err := fs.writeRaw(gd.inodeBitmapBlock, bm.toBytes()); err != nil {
			return 0, newErr("allocateInode", EIO, err)
		}
		gd.inodeBitmapCsum = fs.bitmapChecksum(bm)

		gd.freeInodesCount--
		if isDir {
			gd.usedDirsCount++
		}
		if uint32(idx+1) > fs.sb.inodesPerGroup-gd.unusedInodesCount {
			gd.unusedInodesCount = fs.sb.inodesPerGroup - uint32(idx+1)
		}
		if err := fs.writeGroupDescriptor(g, gd); err != nil {
			return 0, newErr("allocateInode", EIO, err)
		}

		fs.sb.freeInodesCount--
		if err := fs.writeSuperblock(); err != nil {
			return 0, newErr("allocateInode", EIO, err)
		}

		return g*fs.sb.inodesPerGroup + uint32(idx) + 1, nil
	}
	return 0, newErr("allocateInode", ENOSPC, nil)
}

// freeInodeBit clears the inode bitmap bit and reverses the counters
// allocateInode touched.
func (fs *FileSystem) freeInodeBit(id uint32, wasDir bool) error {
	g, idx := fs.inodeLocation(id)
	gd := fs.gdt[g]

	raw, err := fs.readRaw(gd.inodeBitmapBlock)
	if err != nil {
		return newErr("freeInode", EIO, err)
	}
	bm := bitmapFromBytes(raw)
	set, err := bm.isSet(idx)
	if err != nil {
		return newErr("freeInode", EIO, err)
	}
	if !set {
		return newErr("freeInode", EINVAL, nil)
	}
	if err := bm.clear(idx); err != nil {
		return newErr("freeInode", EIO, err)
	}
	if err := fs.writeRaw(gd.inodeBitmapBlock, bm.toBytes()); err != nil {
		return newErr("freeInode", EIO, err)
	}
	gd.inodeBitmapCsum = fs.bitmapChecksum(bm)

	gd.freeInodesCount++
	if wasDir && gd.usedDirsCount > 0 {
		gd.usedDirsCount--
	}
	if err := fs.writeGroupDescriptor(g, gd); err != nil {
		return newErr("freeInode", EIO, err)
	}

	fs.sb.freeInodesCount++
	return fs.writeSuperblock()
}

func (fs *FileSystem) inodeLocation(id uint32) (group uint32, indexInGroup int) {
	group = (id - 1) / fs.sb.inodesPerGroup
	indexInGroup = int((id - 1) % fs.sb.inodesPerGroup)
	return
}

// allocateBlock finds the first group with a free block, marks it used, and
// returns the absolute physical block id.
func (fs *FileSystem) allocateBlock() (uint64, error) {
	for g := uint32(0); g < fs.sb.groupCount(); g++ {
		gd := fs.gdt[g]
		if gd.freeBlocksCount == 0 {
			continue
		}
		raw, err := fs.readRaw(gd.blockBitmapBlock)
		if err != nil {
			return 0, newErr("allocateBlock", EIO, err)
		}
		bm := bitmapFromBytes(raw)
		idx := bm.firstClearIn(0, 8*BlockSize)
		if idx < 0 {
			continue
		}
		if err := fs.writeRaw(gd.blockBitmapBlock, bm.toBytes()); err != nil {
			return 0, newErr("allocateBlock", EIO, err)
		}
		gd.blockBitmapCsum = fs.bitmapChecksum(bm)

		gd.freeBlocksCount--
		if err := fs.writeGroupDescriptor(g, gd); err != nil {
			return 0, newErr("allocateBlock", EIO, err)
		}

		fs.sb.freeBlocksCount--
		if err := fs.writeSuperblock(); err != nil {
			return 0, newErr("allocateBlock", EIO, err)
		}

		pblock := uint64(g)*uint64(fs.sb.blocksPerGroup) + uint64(idx) + uint64(fs.sb.firstDataBlock)
		return pblock, nil
	}
	return 0, newErr("allocateBlock", ENOSPC, nil)
}

func (fs *FileSystem) blockLocation(pblock uint64) (group uint32, indexInGroup int) {
	rel := pblock - uint64(fs.sb.firstDataBlock)
	group = uint32(rel / uint64(fs.sb.blocksPerGroup))
	indexInGroup = int(rel % uint64(fs.sb.blocksPerGroup))
	return
}

// freeBlock clears the block bitmap bit and zeroes the block's contents.
func (fs *FileSystem) freeBlock(pblock uint64) error {
	g, idx := fs.blockLocation(pblock)
	gd := fs.gdt[g]

	raw, err := fs.readRaw(gd.blockBitmapBlock)
	if err != nil {
		return newErr("freeBlock", EIO, err)
	}
	bm := bitmapFromBytes(raw)
	set, err := bm.isSet(idx)
	if err != nil {
		return newErr("freeBlock", EIO, err)
	}
	if !set {
		return newErr("freeBlock", EINVAL, nil)
	}
	if err := bm.clear(idx); err != nil {
		return newErr("freeBlock", EIO, err)
	}
	if err := fs.writeRaw(gd.blockBitmapBlock, bm.toBytes()); err != nil {
		return newErr("freeBlock", EIO, err)
	}
	gd.blockBitmapCsum = fs.bitmapChecksum(bm)

	gd.freeBlocksCount++
	if err := fs.writeGroupDescriptor(g, gd); err != nil {
		return newErr("freeBlock", EIO, err)
	}

	fs.sb.freeBlocksCount++
	if err := fs.writeSuperblock(); err != nil {
		return newErr("freeBlock", EIO, err)
	}

	return fs.writeRaw(pblock, make([]byte, BlockSize))
}
