package ext4

import (
	"fmt"

	"github.com/ext4fs/ext4fs/block"
)

// readRaw returns a copy of block id's contents.
func (fs *FileSystem) readRaw(id uint64) ([]byte, error) {
	blk, err := fs.dev.ReadBlock(id)
	if err != nil {
		return nil, fmt.Errorf("read block %d: %w", id, err)
	}
	out := make([]byte, block.Size)
	copy(out, blk.Data[:])
	return out, nil
}

// writeRaw writes data (must be exactly block.Size bytes) to block id.
func (fs *FileSystem) writeRaw(id uint64, data []byte) error {
	if len(data) != block.Size {
		return fmt.Errorf("write block %d: need %d bytes, got %d", id, block.Size, len(data))
	}
	blk := &block.Block{ID: id}
	copy(blk.Data[:], data)
	if err := fs.dev.WriteBlock(blk); err != nil {
		return fmt.Errorf("write block %d: %w", id, err)
	}
	return nil
}
