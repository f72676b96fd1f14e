package ext4

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ext4fs/ext4fs/internal/crc32c"
)

// feature bits this core reads and honours. Only the subset that changes
// decoding or checksum behaviour is tracked; unrecognised bits round-trip
// untouched in featureCompat/featureIncompat/featureRoCompat.
const (
	incompatExtents      uint32 = 0x40
	incompatFiletype     uint32 = 0x2
	incompat64Bit        uint32 = 0x80
	roCompatMetadataCsum uint32 = 0x400
	roCompatGDTChecksum  uint32 = 0x10
)

// superblock is the in-memory form of the 1024-byte region at device offset
// 1024. Only the fields the core's operations read or update are broken out
// individually; everything else round-trips through the reserved padding
// implicitly because toBytes only ever overwrites the offsets it knows
// about on top of the previously read raw buffer.
type superblock struct {
	raw []byte // the 1024 bytes this superblock was read from (zeroed for a fresh one), kept for round-trip of fields this core never touches

	inodeCount       uint32
	blockCount       uint64
	freeBlocksCount  uint64
	freeInodesCount  uint32
	firstDataBlock   uint32
	logBlockSize     uint32
	blocksPerGroup   uint32
	inodesPerGroup   uint32
	mountTime        time.Time
	writeTime        time.Time
	state            uint16
	creatorOS        uint32
	firstIno         uint32
	inodeSize        uint16
	featureCompat    uint32
	featureIncompat  uint32
	featureRoCompat  uint32
	uuid             [16]byte
	volumeName       [16]byte
	reservedGDT      uint16
	descSize         uint16
	defaultMountOpts uint32
	checksumType     byte
	checksumSeed     uint32
}

func (sb *superblock) is64Bit() bool      { return sb.featureIncompat&incompat64Bit != 0 }
func (sb *superblock) hasMetaCsum() bool  { return sb.featureRoCompat&roCompatMetadataCsum != 0 }
func (sb *superblock) gdtChecksum() bool  { return sb.featureRoCompat&roCompatGDTChecksum != 0 }
func (sb *superblock) groupDescSize() int {
	if sb.is64Bit() && sb.descSize > 32 {
		return int(sb.descSize)
	}
	return 32
}

func (sb *superblock) groupCount() uint32 {
	n := sb.blockCount / uint64(sb.blocksPerGroup)
	if sb.blockCount%uint64(sb.blocksPerGroup) != 0 {
		n++
	}
	return uint32(n)
}

func superblockFromBytes(b []byte) (*superblock, error) {
	if len(b) != SuperblockSize {
		return nil, fmt.Errorf("superblock: need %d bytes, got %d", SuperblockSize, len(b))
	}
	magic := binary.LittleEndian.Uint16(b[0x38:0x3a])
	if magic != ExtMagic {
		return nil, fmt.Errorf("superblock: bad magic %#x", magic)
	}

	sb := &superblock{raw: append([]byte(nil), b...)}
	sb.inodeCount = binary.LittleEndian.Uint32(b[0x0:0x4])

	var blockCountLo, blockCountHi, freeBlocksLo, freeBlocksHi uint32
	blockCountLo = binary.LittleEndian.Uint32(b[0x4:0x8])
	freeBlocksLo = binary.LittleEndian.Uint32(b[0xc:0x10])
	sb.freeInodesCount = binary.LittleEndian.Uint32(b[0x10:0x14])
	sb.firstDataBlock = binary.LittleEndian.Uint32(b[0x14:0x18])
	sb.logBlockSize = binary.LittleEndian.Uint32(b[0x18:0x1c])
	sb.blocksPerGroup = binary.LittleEndian.Uint32(b[0x20:0x24])
	sb.inodesPerGroup = binary.LittleEndian.Uint32(b[0x28:0x2c])
	sb.mountTime = time.Unix(int64(binary.LittleEndian.Uint32(b[0x2c:0x30])), 0)
	sb.writeTime = time.Unix(int64(binary.LittleEndian.Uint32(b[0x30:0x34])), 0)
	sb.state = binary.LittleEndian.Uint16(b[0x3a:0x3c])
	sb.creatorOS = binary.LittleEndian.Uint32(b[0x48:0x4c])
	sb.firstIno = binary.LittleEndian.Uint32(b[0x54:0x58])
	sb.inodeSize = binary.LittleEndian.Uint16(b[0x58:0x5a])
	sb.featureCompat = binary.LittleEndian.Uint32(b[0x5c:0x60])
	sb.featureIncompat = binary.LittleEndian.Uint32(b[0x60:0x64])
	sb.featureRoCompat = binary.LittleEndian.Uint32(b[0x64:0x68])
	copy(sb.uuid[:], b[0x68:0x78])
	copy(sb.volumeName[:], b[0x78:0x88])
	sb.reservedGDT = binary.LittleEndian.Uint16(b[0xce:0xd0])
	sb.defaultMountOpts = binary.LittleEndian.Uint32(b[0x100:0x104])
	sb.descSize = binary.LittleEndian.Uint16(b[0xfe:0x100])

	if sb.is64Bit() {
		blockCountHi = binary.LittleEndian.Uint32(b[0x150:0x154])
		freeBlocksHi = binary.LittleEndian.Uint32(b[0x158:0x15c])
	}
	sb.blockCount = uint64(blockCountHi)<<32 | uint64(blockCountLo)
	sb.freeBlocksCount = uint64(freeBlocksHi)<<32 | uint64(freeBlocksLo)

	sb.checksumType = b[0x175]
	sb.checksumSeed = binary.LittleEndian.Uint32(b[0x270:0x274])
	if sb.checksumSeed == 0 {
		sb.checksumSeed = crc32c.Of(sb.uuid[:])
	}

	if sb.hasMetaCsum() {
		want := binary.LittleEndian.Uint32(b[0x3fc:0x400])
		got := crc32c.Of(b[0:0x3fc])
		if got != want {
			return nil, fmt.Errorf("superblock: checksum mismatch: have %#x, want %#x", got, want)
		}
	}

	return sb, nil
}

func (sb *superblock) toBytes() []byte {
	b := append([]byte(nil), sb.raw...)
	if len(b) != SuperblockSize {
		b = make([]byte, SuperblockSize)
	}

	binary.LittleEndian.PutUint32(b[0x0:0x4], sb.inodeCount)
	binary.LittleEndian.PutUint32(b[0x4:0x8], uint32(sb.blockCount))
	binary.LittleEndian.PutUint32(b[0xc:0x10], uint32(sb.freeBlocksCount))
	binary.LittleEndian.PutUint32(b[0x10:0x14], sb.freeInodesCount)
	binary.LittleEndian.PutUint32(b[0x14:0x18], sb.firstDataBlock)
	binary.LittleEndian.PutUint32(b[0x18:0x1c], sb.logBlockSize)
	binary.LittleEndian.PutUint32(b[0x20:0x24], sb.blocksPerGroup)
	binary.LittleEndian.PutUint32(b[0x28:0x2c], sb.inodesPerGroup)
	binary.LittleEndian.PutUint32(b[0x2c:0x30], uint32(sb.mountTime.Unix()))
	binary.LittleEndian.PutUint32(b[0x30:0x34], uint32(sb.writeTime.Unix()))
	binary.LittleEndian.PutUint16(b[0x38:0x3a], ExtMagic)
	binary.LittleEndian.PutUint16(b[0x3a:0x3c], sb.state)
	binary.LittleEndian.PutUint32(b[0x48:0x4c], sb.creatorOS)
	binary.LittleEndian.PutUint32(b[0x54:0x58], sb.firstIno)
	binary.LittleEndian.PutUint16(b[0x58:0x5a], sb.inodeSize)
	binary.LittleEndian.PutUint32(b[0x5c:0x60], sb.featureCompat)
	binary.LittleEndian.PutUint32(b[0x60:0x64], sb.featureIncompat)
	binary.LittleEndian.PutUint32(b[0x64:0x68], sb.featureRoCompat)
	copy(b[0x68:0x78], sb.uuid[:])
	copy(b[0x78:0x88], sb.volumeName[:])
	binary.LittleEndian.PutUint16(b[0xce:0xd0], sb.reservedGDT)
	b[0x175] = sb.checksumType
	binary.LittleEndian.PutUint16(b[0xfe:0x100], sb.descSize)
	binary.LittleEndian.PutUint32(b[0x100:0x104], sb.defaultMountOpts)

	if sb.is64Bit() {
		binary.LittleEndian.PutUint32(b[0x150:0x154], uint32(sb.blockCount>>32))
		binary.LittleEndian.PutUint32(b[0x158:0x15c], uint32(sb.freeBlocksCount>>32))
	}
	binary.LittleEndian.PutUint32(b[0x270:0x274], sb.checksumSeed)

	if sb.hasMetaCsum() {
		binary.LittleEndian.PutUint32(b[0x3fc:0x400], crc32c.Of(b[0:0x3fc]))
	}
	return b
}

// newSuperblock builds a fresh superblock for Format, given a UUID, the
// total device size and the chosen group geometry.
func newSuperblock(id uuid.UUID, blockCount uint64, blocksPerGroup, inodesPerGroup uint32, volumeName string) *superblock {
	var uuidBytes [16]byte
	copy(uuidBytes[:], id[:])
	var name [16]byte
	copy(name[:], volumeName)

	sb := &superblock{
		raw:              make([]byte, SuperblockSize),
		inodeCount:       inodesPerGroup, // adjusted by caller once group count is known
		blockCount:       blockCount,
		firstDataBlock:   1,
		logBlockSize:     2, // 1024 << 2 == 4096
		blocksPerGroup:   blocksPerGroup,
		inodesPerGroup:   inodesPerGroup,
		mountTime:        time.Unix(0, 0),
		writeTime:        time.Unix(0, 0),
		state:            1,
		creatorOS:        0,
		firstIno:         RootIno + 1,
		inodeSize:        256,
		featureCompat:    0,
		featureIncompat:  incompatExtents | incompatFiletype | incompat64Bit,
		featureRoCompat:  roCompatMetadataCsum | roCompatGDTChecksum,
		uuid:             uuidBytes,
		volumeName:       name,
		reservedGDT:      0,
		descSize:         64,
		defaultMountOpts: 0,
		checksumType:     1,
	}
	sb.checksumSeed = crc32c.Of(sb.uuid[:])
	return sb
}
