package ext4

import (
	"encoding/binary"
	"fmt"

	"github.com/ext4fs/ext4fs/internal/crc32c"
)

// dirEntry is one decoded directory record.
type dirEntry struct {
	inodeID  uint32
	recLen   uint16
	fileType uint8
	name     string
}

func dirEntryUsed(nameLen int) int {
	return roundUp4(8 + nameLen)
}

func dirEntryDecode(b []byte, offset int) (dirEntry, error) {
	if offset+8 > len(b) {
		return dirEntry{}, fmt.Errorf("directory: record header runs past block end")
	}
	e := dirEntry{}
	e.inodeID = binary.LittleEndian.Uint32(b[offset : offset+4])
	e.recLen = binary.LittleEndian.Uint16(b[offset+4 : offset+6])
	nameLen := int(b[offset+6])
	e.fileType = b[offset+7]
	if offset+8+nameLen > len(b) {
		return dirEntry{}, fmt.Errorf("directory: name runs past block end")
	}
	e.name = string(b[offset+8 : offset+8+nameLen])
	return e, nil
}

func dirEntryEncode(b []byte, offset int, id uint32, recLen uint16, fileType uint8, name string) {
	binary.LittleEndian.PutUint32(b[offset:offset+4], id)
	binary.LittleEndian.PutUint16(b[offset+4:offset+6], recLen)
	b[offset+6] = uint8(len(name))
	b[offset+7] = fileType
	copy(b[offset+8:offset+8+len(name)], name)
}

// dirTailChecksum covers uuid || le32(inode id) || le32(generation) ||
// block bytes with the tail's own checksum field zeroed.
func (fs *FileSystem) dirTailChecksum(blockBuf []byte, dirID, generation uint32) uint32 {
	var idBytes, genBytes [4]byte
	binary.LittleEndian.PutUint32(idBytes[:], dirID)
	binary.LittleEndian.PutUint32(genBytes[:], generation)

	zeroed := append([]byte(nil), blockBuf...)
	tailOff := BlockSize - DirTailSize
	binary.LittleEndian.PutUint32(zeroed[tailOff+8:tailOff+12], 0)

	seed := crc32c.Checksum(fs.sb.checksumSeed, idBytes[:])
	seed = crc32c.Checksum(seed, genBytes[:])
	return crc32c.Checksum(seed, zeroed)
}

// dirWriteTail stamps the 12-byte tail sentinel (fake entry with inode 0,
// rec_len 12, name_len 0, file_type 0xDE, then the block's CRC32C) at the
// end of a directory block.
func (fs *FileSystem) dirWriteTail(blockBuf []byte, dirID, generation uint32) {
	tailOff := BlockSize - DirTailSize
	binary.LittleEndian.PutUint32(blockBuf[tailOff:tailOff+4], 0)
	binary.LittleEndian.PutUint16(blockBuf[tailOff+4:tailOff+6], DirTailSize)
	blockBuf[tailOff+6] = 0
	blockBuf[tailOff+7] = DirTailEntryType
	checksum := fs.dirTailChecksum(blockBuf, dirID, generation)
	binary.LittleEndian.PutUint32(blockBuf[tailOff+8:tailOff+12], checksum)
}

func (fs *FileSystem) dirBlockCount(dirRef *inodeRef) uint32 {
	return uint32((dirRef.rec.size + BlockSize - 1) / BlockSize)
}

// dirFind returns the inode id of name within dirRef, or ENOENT.
func (fs *FileSystem) dirFind(dirRef *inodeRef, name string) (uint32, error) {
	nBlocks := fs.dirBlockCount(dirRef)
	for ib := uint32(0); ib < nBlocks; ib++ {
		pblock, err := fs.extQuery(dirRef, ib)
		if err != nil {
			return 0, newErr("dirFind", EIO, err)
		}
		raw, err := fs.readRaw(pblock)
		if err != nil {
			return 0, newErr("dirFind", EIO, err)
		}
		limit := BlockSize - DirTailSize
		for off := 0; off < limit; {
			e, err := dirEntryDecode(raw, off)
			if err != nil {
				return 0, newErr("dirFind", EIO, err)
			}
			if e.recLen == 0 {
				break
			}
			if e.inodeID != 0 && e.name == name {
				return e.inodeID, nil
			}
			off += int(e.recLen)
		}
	}
	return 0, newErr("dirFind", ENOENT, nil)
}

// dirAdd inserts a (childID, name) record, reusing free space in an
// existing block or appending a fresh one.
func (fs *FileSystem) dirAdd(dirRef *inodeRef, childID uint32, fileType uint8, name string) error {
	if len(name) > NameMax {
		return newErr("dirAdd", EINVAL, nil)
	}
	required := dirEntryUsed(len(name))
	nBlocks := fs.dirBlockCount(dirRef)
	limit := BlockSize - DirTailSize

	for ib := uint32(0); ib < nBlocks; ib++ {
		pblock, err := fs.extQuery(dirRef, ib)
		if err != nil {
			return newErr("dirAdd", EIO, err)
		}
		raw, err := fs.readRaw(pblock)
		if err != nil {
			return newErr("dirAdd", EIO, err)
		}

		for off := 0; off < limit; {
			e, err := dirEntryDecode(raw, off)
			if err != nil {
				return newErr("dirAdd", EIO, err)
			}
			if e.recLen == 0 {
				if off != 0 {
					break
				}
				// A zeroed block holds no records yet: treat it as one
				// unused record spanning the whole record area.
				e = dirEntry{recLen: uint16(limit)}
			}
			used := dirEntryUsed(len(e.name))
			if e.inodeID == 0 {
				used = 0
			}
			free := int(e.recLen) - used
			if free >= required {
				newRecLen := e.recLen
				if e.inodeID != 0 {
					dirEntryEncode(raw, off, e.inodeID, uint16(used), e.fileType, e.name)
					newRecLen = uint16(free)
					off += used
				}
				dirEntryEncode(raw, off, childID, uint16(newRecLen), fileType, name)
				fs.dirWriteTail(raw, dirRef.id, dirRef.rec.generation)
				return writeWrap("dirAdd", fs.writeRaw(pblock, raw))
			}
			off += int(e.recLen)
		}
	}

	// No room anywhere: append a fresh block holding a single record that
	// fills the block minus the tail sentinel.
	_, pblock, err := fs.appendBlock(dirRef)
	if err != nil {
		return err
	}
	raw := make([]byte, BlockSize)
	dirEntryEncode(raw, 0, childID, uint16(limit), fileType, name)
	fs.dirWriteTail(raw, dirRef.id, dirRef.rec.generation)
	if err := fs.writeRaw(pblock, raw); err != nil {
		return newErr("dirAdd", EIO, err)
	}
	dirRef.rec.size += BlockSize
	return fs.writeInode(dirRef)
}

// dirRemove zeroes the named record's inode id, leaving rec_len intact so
// neighbouring records stay addressable. No compaction is performed.
func (fs *FileSystem) dirRemove(dirRef *inodeRef, name string) error {
	nBlocks := fs.dirBlockCount(dirRef)
	limit := BlockSize - DirTailSize
	for ib := uint32(0); ib < nBlocks; ib++ {
		pblock, err := fs.extQuery(dirRef, ib)
		if err != nil {
			return newErr("dirRemove", EIO, err)
		}
		raw, err := fs.readRaw(pblock)
		if err != nil {
			return newErr("dirRemove", EIO, err)
		}
		for off := 0; off < limit; {
			e, err := dirEntryDecode(raw, off)
			if err != nil {
				return newErr("dirRemove", EIO, err)
			}
			if e.recLen == 0 {
				break
			}
			if e.inodeID != 0 && e.name == name {
				binary.LittleEndian.PutUint32(raw[off:off+4], 0)
				fs.dirWriteTail(raw, dirRef.id, dirRef.rec.generation)
				return writeWrap("dirRemove", fs.writeRaw(pblock, raw))
			}
			off += int(e.recLen)
		}
	}
	return newErr("dirRemove", ENOENT, nil)
}

// dirList returns every non-unused record, in on-disk encounter order.
func (fs *FileSystem) dirList(dirRef *inodeRef) ([]dirEntry, error) {
	var out []dirEntry
	nBlocks := fs.dirBlockCount(dirRef)
	limit := BlockSize - DirTailSize
	for ib := uint32(0); ib < nBlocks; ib++ {
		pblock, err := fs.extQuery(dirRef, ib)
		if err != nil {
			return nil, newErr("dirList", EIO, err)
		}
		raw, err := fs.readRaw(pblock)
		if err != nil {
			return nil, newErr("dirList", EIO, err)
		}
		for off := 0; off < limit; {
			e, err := dirEntryDecode(raw, off)
			if err != nil {
				return nil, newErr("dirList", EIO, err)
			}
			if e.recLen == 0 {
				break
			}
			if e.inodeID != 0 {
				out = append(out, e)
			}
			off += int(e.recLen)
		}
	}
	return out, nil
}

func writeWrap(op string, err error) error {
	if err != nil {
		return newErr(op, EIO, err)
	}
	return nil
}
