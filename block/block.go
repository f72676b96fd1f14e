// Package block defines the fixed-size block read/write surface that the
// ext4 core is built on top of. It mirrors the role of
// github.com/diskfs/go-diskfs/backend, trimmed to the contract the ext4
// metadata engine actually needs: whole-block reads and writes, nothing
// byte-addressed leaks above this layer.
package block

import "errors"

// Size is the fixed block size the core operates on. ext4 supports other
// block sizes (1024, 2048), but this implementation standardizes on 4096
// throughout, per the target on-disk layout.
const Size = 4096

// ErrOutOfRange is returned when a block id falls outside the device.
var ErrOutOfRange = errors.New("block: id out of range")

// Block is a single fixed-size block tagged with its physical block id.
type Block struct {
	ID   uint64
	Data [Size]byte
}

// Device is the block-level I/O surface the ext4 core consumes. Device
// errors (a failed read or write at the backing store) are reported through
// the returned error and are fatal to the calling operation; the core does
// not retry or attempt partial recovery.
type Device interface {
	ReadBlock(id uint64) (*Block, error)
	WriteBlock(b *Block) error
}
