package ext4

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/ext4fs/ext4fs/internal/crc32c"
)

// inodeUsesExtents is the only inode flag this core sets or reads; every
// inode it creates addresses its data through an extent tree.
const inodeUsesExtents uint32 = 0x80000

// inodeRecord is the fixed-size on-disk inode, trimmed to the fields the
// core's operations read or mutate.
type inodeRecord struct {
	mode       uint16
	uid        uint32
	gid        uint32
	size       uint64
	atime      uint32
	ctime      uint32
	mtime      uint32
	dtime      uint32
	crtime     uint32
	linkCount  uint16
	blockCount uint64
	flags      uint32
	inline     [60]byte
	generation uint32
}

// inodeRef pairs an inode id with its record, the unit of read-modify-write
// at this layer.
type inodeRef struct {
	id  uint32
	rec *inodeRecord
}

func newInodeRecord(mode uint16) *inodeRecord {
	now := uint32(time.Now().Unix())
	rec := &inodeRecord{
		mode:       mode,
		atime:      now,
		ctime:      now,
		mtime:      now,
		crtime:     now,
		linkCount:  0,
		blockCount: 0,
		flags:      inodeUsesExtents,
	}
	initExtentRoot(&rec.inline)
	return rec
}

func inodeRecordFromBytes(b []byte, checksumSeed uint32, id uint32) (*inodeRecord, error) {
	if len(b) < 128 {
		return nil, fmt.Errorf("inode: record too short: %d bytes", len(b))
	}
	checksumLo := binary.LittleEndian.Uint16(b[0x7c:0x7e])
	var checksumHi uint16
	if len(b) > 0x84 {
		checksumHi = binary.LittleEndian.Uint16(b[0x82:0x84])
	}
	want := uint32(checksumHi)<<16 | uint32(checksumLo)

	chk := append([]byte(nil), b...)
	chk[0x7c], chk[0x7d] = 0, 0
	if len(chk) > 0x84 {
		chk[0x82], chk[0x83] = 0, 0
	}
	generation := binary.LittleEndian.Uint32(chk[0x64:0x68])
	got := inodeChecksum(chk, checksumSeed, id, generation)
	if len(b) <= 0x84 {
		// inode_size == 128: only the low 16 bits are stored.
		if uint16(got) != checksumLo {
			return nil, fmt.Errorf("inode %d: checksum mismatch: have %#x want %#x", id, uint16(got), checksumLo)
		}
	} else if got != want {
		return nil, fmt.Errorf("inode %d: checksum mismatch: have %#x want %#x", id, got, want)
	}

	rec := &inodeRecord{}
	rec.mode = binary.LittleEndian.Uint16(b[0x0:0x2])
	uidLo := binary.LittleEndian.Uint16(b[0x2:0x4])
	gidLo := binary.LittleEndian.Uint16(b[0x18:0x1a])
	rec.linkCount = binary.LittleEndian.Uint16(b[0x1a:0x1c])
	sizeLo := binary.LittleEndian.Uint32(b[0x4:0x8])
	rec.atime = binary.LittleEndian.Uint32(b[0x8:0xc])
	rec.ctime = binary.LittleEndian.Uint32(b[0xc:0x10])
	rec.mtime = binary.LittleEndian.Uint32(b[0x10:0x14])
	rec.dtime = binary.LittleEndian.Uint32(b[0x14:0x18])
	blocksLo := binary.LittleEndian.Uint32(b[0x1c:0x20])
	rec.flags = binary.LittleEndian.Uint32(b[0x20:0x24])
	copy(rec.inline[:], b[0x28:0x64])
	rec.generation = generation

	var uidHi, gidHi uint16
	var sizeHi uint32
	var blocksHi uint16
	var crtime uint32
	if len(b) > 0x9c {
		sizeHi = binary.LittleEndian.Uint32(b[0x6c:0x70])
		blocksHi = binary.LittleEndian.Uint16(b[0x74:0x76])
		uidHi = binary.LittleEndian.Uint16(b[0x78:0x7a])
		gidHi = binary.LittleEndian.Uint16(b[0x7a:0x7c])
		crtime = binary.LittleEndian.Uint32(b[0x90:0x94])
	}
	rec.uid = uint32(uidHi)<<16 | uint32(uidLo)
	rec.gid = uint32(gidHi)<<16 | uint32(gidLo)
	rec.size = uint64(sizeHi)<<32 | uint64(sizeLo)
	rec.blockCount = uint64(blocksHi)<<32 | uint64(blocksLo)
	rec.crtime = crtime

	return rec, nil
}

func (rec *inodeRecord) toBytes(inodeSize int, checksumSeed uint32, id uint32) []byte {
	b := make([]byte, inodeSize)
	binary.LittleEndian.PutUint16(b[0x0:0x2], rec.mode)
	binary.LittleEndian.PutUint16(b[0x2:0x4], uint16(rec.uid))
	binary.LittleEndian.PutUint32(b[0x4:0x8], uint32(rec.size))
	binary.LittleEndian.PutUint32(b[0x8:0xc], rec.atime)
	binary.LittleEndian.PutUint32(b[0xc:0x10], rec.ctime)
	binary.LittleEndian.PutUint32(b[0x10:0x14], rec.mtime)
	binary.LittleEndian.PutUint32(b[0x14:0x18], rec.dtime)
	binary.LittleEndian.PutUint16(b[0x18:0x1a], uint16(rec.gid))
	binary.LittleEndian.PutUint16(b[0x1a:0x1c], rec.linkCount)
	binary.LittleEndian.PutUint32(b[0x1c:0x20], uint32(rec.blockCount))
	binary.LittleEndian.PutUint32(b[0x20:0x24], rec.flags)
	copy(b[0x28:0x64], rec.inline[:])
	binary.LittleEndian.PutUint32(b[0x64:0x68], rec.generation)

	if inodeSize > 128 {
		binary.LittleEndian.PutUint32(b[0x6c:0x70], uint32(rec.size>>32))
		binary.LittleEndian.PutUint16(b[0x74:0x76], uint16(rec.blockCount>>32))
		binary.LittleEndian.PutUint16(b[0x78:0x7a], uint16(rec.uid>>16))
		binary.LittleEndian.PutUint16(b[0x7a:0x7c], uint16(rec.gid>>16))
		binary.LittleEndian.PutUint16(b[0x80:0x82], uint16(inodeSize-128))
		binary.LittleEndian.PutUint32(b[0x90:0x94], rec.crtime)
	}

	checksum := inodeChecksum(b, checksumSeed, id, rec.generation)
	binary.LittleEndian.PutUint16(b[0x7c:0x7e], uint16(checksum))
	if inodeSize > 128 {
		binary.LittleEndian.PutUint16(b[0x82:0x84], uint16(checksum>>16))
	}
	return b
}

// inodeChecksum seeds CRC32C(uuid), mixes in id and generation, then the
// record with its checksum fields zeroed.
func inodeChecksum(withChecksumZeroed []byte, checksumSeed, id, generation uint32) uint32 {
	var idBytes, genBytes [4]byte
	binary.LittleEndian.PutUint32(idBytes[:], id)
	binary.LittleEndian.PutUint32(genBytes[:], generation)
	c := crc32c.Checksum(checksumSeed, idBytes[:])
	c = crc32c.Checksum(c, genBytes[:])
	return crc32c.Checksum(c, withChecksumZeroed)
}

func (fs *FileSystem) inodeTableOffset(id uint32) (blockID uint64, byteOffset int) {
	g, idx := fs.inodeLocation(id)
	gd := fs.gdt[g]
	inodeSize := int(fs.sb.inodeSize)
	byteInTable := idx * inodeSize
	return gd.inodeTableBlock + uint64(byteInTable/BlockSize), byteInTable % BlockSize
}

// readInode loads inode id's record from its group's inode table.
func (fs *FileSystem) readInode(id uint32) (*inodeRef, error) {
	if id == 0 {
		return nil, newErr("readInode", ENOENT, nil)
	}
	inodeSize := int(fs.sb.inodeSize)
	blockID, byteOffset := fs.inodeTableOffset(id)
	raw, err := fs.readRaw(blockID)
	if err != nil {
		return nil, newErr("readInode", EIO, err)
	}
	if byteOffset+inodeSize > BlockSize {
		// Straddles a block boundary when inodeSize doesn't divide BlockSize
		// evenly; not reachable with the 256-byte inode size this core
		// formats with, but handled for robustness against other layouts.
		next, err := fs.readRaw(blockID + 1)
		if err != nil {
			return nil, newErr("readInode", EIO, err)
		}
		raw = append(raw[byteOffset:], next...)
		byteOffset = 0
	}
	rec, err := inodeRecordFromBytes(raw[byteOffset:byteOffset+inodeSize], fs.sb.checksumSeed, id)
	if err != nil {
		return nil, newErr("readInode", EIO, err)
	}
	return &inodeRef{id: id, rec: rec}, nil
}

// writeInode writes ref back with a freshly computed checksum.
func (fs *FileSystem) writeInode(ref *inodeRef) error {
	return fs.writeInodeRaw(ref, true)
}

// writeInodeNoChecksum writes ref back with both checksum fields set to
// zero instead of a computed checksum, used when freeing an inode: the
// zeroed record is not expected to verify.
func (fs *FileSystem) writeInodeNoChecksum(ref *inodeRef) error {
	return fs.writeInodeRaw(ref, false)
}

func (fs *FileSystem) writeInodeRaw(ref *inodeRef, withChecksum bool) error {
	inodeSize := int(fs.sb.inodeSize)
	blockID, byteOffset := fs.inodeTableOffset(ref.id)
	raw, err := fs.readRaw(blockID)
	if err != nil {
		return newErr("writeInode", EIO, err)
	}
	var encoded []byte
	if withChecksum {
		encoded = ref.rec.toBytes(inodeSize, fs.sb.checksumSeed, ref.id)
	} else {
		encoded = ref.rec.toBytes(inodeSize, fs.sb.checksumSeed, ref.id)
		binary.LittleEndian.PutUint16(encoded[0x7c:0x7e], 0)
		if inodeSize > 128 {
			binary.LittleEndian.PutUint16(encoded[0x82:0x84], 0)
		}
	}
	if byteOffset+inodeSize > BlockSize {
		return newErr("writeInode", EIO, fmt.Errorf("inode %d straddles a block boundary, unsupported", ref.id))
	}
	copy(raw[byteOffset:byteOffset+inodeSize], encoded)
	if err := fs.writeRaw(blockID, raw); err != nil {
		return newErr("writeInode", EIO, err)
	}
	return nil
}

// createInode allocates a new inode for mode and initialises its record.
func (fs *FileSystem) createInode(mode uint16) (*inodeRef, error) {
	isDir := mode&TypeMask == Directory
	id, err := fs.allocateInode(isDir)
	if err != nil {
		return nil, err
	}
	rec := newInodeRecord(mode)
	ref := &inodeRef{id: id, rec: rec}
	if err := fs.writeInode(ref); err != nil {
		return nil, err
	}
	return ref, nil
}

// freeInode walks the extent tree freeing every physical block, then frees
// the inode bitmap bit and zeroes the record without a checksum.
func (fs *FileSystem) freeInode(ref *inodeRef) error {
	blocks, err := fs.collectExtentBlocks(ref)
	if err != nil {
		return err
	}
	for _, pblock := range blocks {
		if err := fs.freeBlock(pblock); err != nil {
			return err
		}
	}
	wasDir := ref.rec.mode&TypeMask == Directory
	if err := fs.freeInodeBit(ref.id, wasDir); err != nil {
		return err
	}
	ref.rec = &inodeRecord{}
	return fs.writeInodeNoChecksum(ref)
}
