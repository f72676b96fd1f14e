package ext4

import (
	"encoding/binary"
	"fmt"

	"github.com/ext4fs/ext4fs/internal/crc32c"
)

// groupDescriptor is the per-group metadata record: bitmap/table locations
// and the counters the bitmap allocator maintains.
type groupDescriptor struct {
	blockBitmapBlock  uint64
	inodeBitmapBlock  uint64
	inodeTableBlock   uint64
	freeBlocksCount   uint32
	freeInodesCount   uint32
	usedDirsCount     uint32
	unusedInodesCount uint32
	blockBitmapCsum   uint32
	inodeBitmapCsum   uint32
	checksum          uint16
}

func groupDescriptorFromBytes(b []byte, is64Bit bool) *groupDescriptor {
	gd := &groupDescriptor{}
	var bbLo, ibLo, itLo uint32
	bbLo = binary.LittleEndian.Uint32(b[0x0:0x4])
	ibLo = binary.LittleEndian.Uint32(b[0x4:0x8])
	itLo = binary.LittleEndian.Uint32(b[0x8:0xc])
	freeBlocksLo := binary.LittleEndian.Uint16(b[0xc:0xe])
	freeInodesLo := binary.LittleEndian.Uint16(b[0xe:0x10])
	usedDirsLo := binary.LittleEndian.Uint16(b[0x10:0x12])
	bbCsumLo := binary.LittleEndian.Uint16(b[0x18:0x1a])
	ibCsumLo := binary.LittleEndian.Uint16(b[0x1a:0x1c])
	unusedInodesLo := binary.LittleEndian.Uint16(b[0x1c:0x1e])
	gd.checksum = binary.LittleEndian.Uint16(b[0x1e:0x20])

	var bbHi, ibHi, itHi uint32
	var freeBlocksHi, freeInodesHi, usedDirsHi, unusedInodesHi, bbCsumHi, ibCsumHi uint16
	if is64Bit && len(b) >= 64 {
		bbHi = binary.LittleEndian.Uint32(b[0x20:0x24])
		ibHi = binary.LittleEndian.Uint32(b[0x24:0x28])
		itHi = binary.LittleEndian.Uint32(b[0x28:0x2c])
		freeBlocksHi = binary.LittleEndian.Uint16(b[0x2c:0x2e])
		freeInodesHi = binary.LittleEndian.Uint16(b[0x2e:0x30])
		usedDirsHi = binary.LittleEndian.Uint16(b[0x30:0x32])
		unusedInodesHi = binary.LittleEndian.Uint16(b[0x32:0x34])
		bbCsumHi = binary.LittleEndian.Uint16(b[0x38:0x3a])
		ibCsumHi = binary.LittleEndian.Uint16(b[0x3a:0x3c])
	}
	gd.blockBitmapCsum = uint32(bbCsumHi)<<16 | uint32(bbCsumLo)
	gd.inodeBitmapCsum = uint32(ibCsumHi)<<16 | uint32(ibCsumLo)

	gd.blockBitmapBlock = uint64(bbHi)<<32 | uint64(bbLo)
	gd.inodeBitmapBlock = uint64(ibHi)<<32 | uint64(ibLo)
	gd.inodeTableBlock = uint64(itHi)<<32 | uint64(itLo)
	gd.freeBlocksCount = uint32(freeBlocksHi)<<16 | uint32(freeBlocksLo)
	gd.freeInodesCount = uint32(freeInodesHi)<<16 | uint32(freeInodesLo)
	gd.usedDirsCount = uint32(usedDirsHi)<<16 | uint32(usedDirsLo)
	gd.unusedInodesCount = uint32(unusedInodesHi)<<16 | uint32(unusedInodesLo)
	return gd
}

func (gd *groupDescriptor) toBytes(size int) []byte {
	b := make([]byte, size)
	binary.LittleEndian.PutUint32(b[0x0:0x4], uint32(gd.blockBitmapBlock))
	binary.LittleEndian.PutUint32(b[0x4:0x8], uint32(gd.inodeBitmapBlock))
	binary.LittleEndian.PutUint32(b[0x8:0xc], uint32(gd.inodeTableBlock))
	binary.LittleEndian.PutUint16(b[0xc:0xe], uint16(gd.freeBlocksCount))
	binary.LittleEndian.PutUint16(b[0xe:0x10], uint16(gd.freeInodesCount))
	binary.LittleEndian.PutUint16(b[0x10:0x12], uint16(gd.usedDirsCount))
	binary.LittleEndian.PutUint16(b[0x18:0x1a], uint16(gd.blockBitmapCsum))
	binary.LittleEndian.PutUint16(b[0x1a:0x1c], uint16(gd.inodeBitmapCsum))
	binary.LittleEndian.PutUint16(b[0x1c:0x1e], uint16(gd.unusedInodesCount))
	if size >= 64 {
		binary.LittleEndian.PutUint32(b[0x20:0x24], uint32(gd.blockBitmapBlock>>32))
		binary.LittleEndian.PutUint32(b[0x24:0x28], uint32(gd.inodeBitmapBlock>>32))
		binary.LittleEndian.PutUint32(b[0x28:0x2c], uint32(gd.inodeTableBlock>>32))
		binary.LittleEndian.PutUint16(b[0x2c:0x2e], uint16(gd.freeBlocksCount>>16))
		binary.LittleEndian.PutUint16(b[0x2e:0x30], uint16(gd.freeInodesCount>>16))
		binary.LittleEndian.PutUint16(b[0x30:0x32], uint16(gd.usedDirsCount>>16))
		binary.LittleEndian.PutUint16(b[0x32:0x34], uint16(gd.unusedInodesCount>>16))
		binary.LittleEndian.PutUint16(b[0x38:0x3a], uint16(gd.blockBitmapCsum>>16))
		binary.LittleEndian.PutUint16(b[0x3a:0x3c], uint16(gd.inodeBitmapCsum>>16))
	}
	return b
}

// groupDescriptorChecksum implements the descriptor checksum spec: zero the
// checksum field, CRC32C over uuid || le32(group) || descriptor_prefix,
// take the low 16 bits.
func groupDescriptorChecksum(uuid [16]byte, groupID uint32, descBytes []byte, descSize int) uint16 {
	prefix := append([]byte(nil), descBytes...)
	if len(prefix) >= 0x20 {
		prefix[0x1e] = 0
		prefix[0x1f] = 0
	}
	if len(prefix) > descSize {
		prefix = prefix[:descSize]
	}
	var groupBytes [4]byte
	binary.LittleEndian.PutUint32(groupBytes[:], groupID)

	seed := crc32c.Of(uuid[:])
	seed = crc32c.Checksum(seed, groupBytes[:])
	full := crc32c.Checksum(seed, prefix)
	return uint16(full & 0xffff)
}

// gdtBlockFor returns the (table-relative block index, byte offset) for
// group g's descriptor, given the descriptor size in bytes.
func gdtBlockFor(g uint32, descSize int) (blockOffset uint64, byteOffset int) {
	perBlock := BlockSize / descSize
	return uint64(g) / uint64(perBlock), int(g%uint32(perBlock)) * descSize
}

func (fs *FileSystem) gdtFirstBlock() uint64 {
	return uint64(fs.sb.firstDataBlock) + 1
}

func (fs *FileSystem) gdtBlockCount() uint64 {
	descSize := fs.sb.groupDescSize()
	total := int(fs.sb.groupCount()) * descSize
	blocks := (total + BlockSize - 1) / BlockSize
	return uint64(blocks) + uint64(fs.sb.reservedGDT)
}

// readGDT loads every group descriptor from the on-disk descriptor table.
func (fs *FileSystem) readGDT() ([]*groupDescriptor, error) {
	descSize := fs.sb.groupDescSize()
	n := fs.sb.groupCount()
	gdt := make([]*groupDescriptor, n)
	for g := uint32(0); g < n; g++ {
		blkOff, byteOff := gdtBlockFor(g, descSize)
		blk, err := fs.dev.ReadBlock(fs.gdtFirstBlock() + blkOff)
		if err != nil {
			return nil, fmt.Errorf("read group descriptor table block %d: %w", blkOff, err)
		}
		raw := blk.Data[byteOff : byteOff+descSize]
		gd := groupDescriptorFromBytes(raw, fs.sb.is64Bit())
		if fs.sb.gdtChecksum() {
			want := gd.checksum
			got := groupDescriptorChecksum(fs.sb.uuid, g, raw, descSize)
			if want != got {
				return nil, fmt.Errorf("group %d descriptor checksum mismatch: have %#x want %#x", g, got, want)
			}
		}
		gdt[g] = gd
	}
	return gdt, nil
}

// writeGroupDescriptor recomputes the checksum for group g and writes its
// descriptor back into the GDT.
func (fs *FileSystem) writeGroupDescriptor(g uint32, gd *groupDescriptor) error {
	descSize := fs.sb.groupDescSize()
	blkOff, byteOff := gdtBlockFor(g, descSize)
	blkID := fs.gdtFirstBlock() + blkOff
	blk, err := fs.dev.ReadBlock(blkID)
	if err != nil {
		return fmt.Errorf("read group descriptor table block %d: %w", blkOff, err)
	}
	raw := gd.toBytes(descSize)
	gd.checksum = groupDescriptorChecksum(fs.sb.uuid, g, raw, descSize)
	binary.LittleEndian.PutUint16(raw[0x1e:0x20], gd.checksum)
	copy(blk.Data[byteOff:byteOff+descSize], raw)
	blk.ID = blkID
	if err := fs.dev.WriteBlock(blk); err != nil {
		return fmt.Errorf("write group descriptor table block %d: %w", blkOff, err)
	}
	fs.gdt[g] = gd
	return nil
}
