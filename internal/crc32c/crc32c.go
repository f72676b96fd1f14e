// Package crc32c computes CRC-32C (Castagnoli) checksums, the variant ext4
// uses for superblock, group descriptor, inode, extent tail, and directory
// tail checksums. The upstream ext4 package this module is adapted from
// imported a dedicated crc subpackage for this; that subpackage is not part
// of this module's dependency set, and hash/crc32's Castagnoli table is
// exactly the algorithm ext4 calls for, so it is used directly here rather
// than reimplementing the table by hand.
package crc32c

import "hash/crc32"

var table = crc32.MakeTable(crc32.Castagnoli)

// Checksum returns the CRC-32C of data seeded with crc.
func Checksum(crc uint32, data []byte) uint32 {
	return crc32.Update(crc, table, data)
}

// Of returns the CRC-32C of data with a zero seed.
func Of(data []byte) uint32 {
	return Checksum(0, data)
}
