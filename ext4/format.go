package ext4

import (
	"github.com/google/uuid"

	"github.com/ext4fs/ext4fs/block"
)

// Params configures Format. Zero values pick the same defaults mke2fs does
// for a plain data volume: one inode per 8192 bytes of device, 8 blocks per
// byte of bitmap (32768 blocks/group).
type Params struct {
	VolumeName     string
	BlocksPerGroup uint32
	InodeRatio     uint32 // bytes per inode
}

const defaultInodeRatio = 8192

// Format lays down a fresh ext4 filesystem across dev, which must expose
// exactly size bytes, and returns it mounted and ready for use.
func Format(dev block.Device, size int64, p *Params) (*FileSystem, error) {
	if p == nil {
		p = &Params{}
	}
	blocksPerGroup := p.BlocksPerGroup
	if blocksPerGroup == 0 {
		blocksPerGroup = 8 * BlockSize // one bitmap block's worth of bits
	}
	inodeRatio := p.InodeRatio
	if inodeRatio == 0 {
		inodeRatio = defaultInodeRatio
	}

	blockCount := uint64(size) / BlockSize
	if blockCount < 8 {
		return nil, newErr("Format", EINVAL, nil)
	}

	groupCount := blockCount / uint64(blocksPerGroup)
	if blockCount%uint64(blocksPerGroup) != 0 {
		groupCount++
	}

	inodesPerGroup := uint32(blockCount*BlockSize/uint64(inodeRatio)) / groupCountFloor(groupCount)
	if inodesPerGroup == 0 {
		inodesPerGroup = 8
	}
	// Round to a multiple of 8 so the inode bitmap ends on a byte boundary.
	inodesPerGroup = (inodesPerGroup + 7) &^ 7

	id, err := uuid.NewRandom()
	if err != nil {
		return nil, newErr("Format", EIO, err)
	}
	sb := newSuperblock(id, blockCount, blocksPerGroup, inodesPerGroup, p.VolumeName)
	sb.inodeCount = inodesPerGroup * uint32(groupCount)

	fs := &FileSystem{dev: dev, sb: sb}

	gdtBlocks := fs.gdtBlockCount()

	gdt := make([]*groupDescriptor, groupCount)
	// Lay out each group's own bitmaps and inode table immediately after
	// the shared superblock + GDT region reserved in group 0.
	metaStart := fs.gdtFirstBlock() + gdtBlocks
	inodeTableBlocksPerGroup := uint64((uint32(inodesPerGroup)*uint32(sb.inodeSize) + BlockSize - 1) / BlockSize)

	for g := uint64(0); g < groupCount; g++ {
		var base uint64
		if g == 0 {
			base = metaStart
		} else {
			base = uint64(sb.firstDataBlock) + g*uint64(blocksPerGroup)
		}
		gd := &groupDescriptor{
			blockBitmapBlock: base,
			inodeBitmapBlock: base + 1,
			inodeTableBlock:  base + 2,
			freeInodesCount:  inodesPerGroup,
			unusedInodesCount: inodesPerGroup,
		}
		groupBlocks := uint64(blocksPerGroup)
		if g == groupCount-1 {
			rem := blockCount - (uint64(sb.firstDataBlock) + g*uint64(blocksPerGroup))
			if rem < groupBlocks {
				groupBlocks = rem
			}
		}
		reservedInGroup := uint64(0)
		if g == 0 {
			reservedInGroup = metaStart - uint64(sb.firstDataBlock)
		}
		usedInGroup := reservedInGroup + 2 + inodeTableBlocksPerGroup
		if groupBlocks > usedInGroup {
			gd.freeBlocksCount = uint32(groupBlocks - usedInGroup)
		}
		gdt[g] = gd
	}
	fs.gdt = gdt

	// Zero every metadata block this layout claims, then write bitmaps,
	// inode tables, GDT and superblock.
	for g := uint64(0); g < groupCount; g++ {
		gd := gdt[g]
		if err := fs.writeRaw(gd.blockBitmapBlock, make([]byte, BlockSize)); err != nil {
			return nil, newErr("Format", EIO, err)
		}
		if err := fs.writeRaw(gd.inodeBitmapBlock, make([]byte, BlockSize)); err != nil {
			return nil, newErr("Format", EIO, err)
		}
		for i := uint64(0); i < inodeTableBlocksPerGroup; i++ {
			if err := fs.writeRaw(gd.inodeTableBlock+i, make([]byte, BlockSize)); err != nil {
				return nil, newErr("Format", EIO, err)
			}
		}

		// Mark the group's own metadata blocks used in its block bitmap.
		raw, err := fs.readRaw(gd.blockBitmapBlock)
		if err != nil {
			return nil, newErr("Format", EIO, err)
		}
		bm := bitmapFromBytes(raw)
		reserved := 2 + inodeTableBlocksPerGroup
		if g == 0 {
			reserved = (metaStart - uint64(sb.firstDataBlock)) + 2 + inodeTableBlocksPerGroup
		}
		for i := uint64(0); i < reserved; i++ {
			_ = bm.set(int(i))
		}
		if err := fs.writeRaw(gd.blockBitmapBlock, bm.toBytes()); err != nil {
			return nil, newErr("Format", EIO, err)
		}
		gd.blockBitmapCsum = fs.bitmapChecksum(bm)

		ibm := bitmap{bits: make([]byte, BlockSize)}
		gd.inodeBitmapCsum = fs.bitmapChecksum(&ibm)

		if err := fs.writeGroupDescriptor(uint32(g), gd); err != nil {
			return nil, newErr("Format", EIO, err)
		}
	}

	if err := fs.writeSuperblock(); err != nil {
		return nil, newErr("Format", EIO, err)
	}

	// Reserve inodes below RootIno+1 if RootIno > 1 in some future layout;
	// with RootIno == 1 this core's first allocation is the root itself.
	root, err := fs.createInode(Directory | 0o755)
	if err != nil {
		return nil, newErr("Format", EIO, err)
	}
	if root.id != RootIno {
		return nil, newErr("Format", EIO, nil)
	}
	root.rec.linkCount = 2
	if _, _, err := fs.appendBlock(root); err != nil {
		return nil, newErr("Format", EIO, err)
	}
	root.rec.size = BlockSize
	if err := fs.writeInode(root); err != nil {
		return nil, newErr("Format", EIO, err)
	}
	if err := fs.dirAdd(root, root.id, FtDir, "."); err != nil {
		return nil, newErr("Format", EIO, err)
	}
	if err := fs.dirAdd(root, root.id, FtDir, ".."); err != nil {
		return nil, newErr("Format", EIO, err)
	}

	if _, err := fs.Mkdir("/lost+found", Directory|0o700); err != nil {
		return nil, newErr("Format", EIO, err)
	}

	return fs, nil
}

func groupCountFloor(n uint64) uint32 {
	if n == 0 {
		return 1
	}
	return uint32(n)
}
