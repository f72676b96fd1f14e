package ext4

import (
	"encoding/binary"
	"fmt"
)

// Extent tree node layout, 12 bytes per header and per entry, matching the
// on-disk ext4 extent header/index/leaf records: magic, entries count, max
// entries, depth, generation, then either ExtentIndex or Extent entries.
const (
	extHeaderLen = 12
	extEntryLen  = 12
)

// extNodeMaxEntries returns how many entries fit after the header in a
// buffer of the given length (60 bytes for the inline root, BlockSize for
// any node living in its own block).
func extNodeMaxEntries(bufLen int) int {
	return (bufLen - extHeaderLen) / extEntryLen
}

func extReadHeader(b []byte) (depth, entries, max uint16, generation uint32, err error) {
	if len(b) < extHeaderLen {
		return 0, 0, 0, 0, fmt.Errorf("extent: node buffer too short")
	}
	magic := binary.LittleEndian.Uint16(b[0:2])
	if magic != ExtentMagic {
		return 0, 0, 0, 0, fmt.Errorf("extent: bad header magic %#x", magic)
	}
	entries = binary.LittleEndian.Uint16(b[2:4])
	max = binary.LittleEndian.Uint16(b[4:6])
	depth = binary.LittleEndian.Uint16(b[6:8])
	generation = binary.LittleEndian.Uint32(b[8:12])
	return
}

func extWriteHeader(b []byte, depth, entries, max uint16, generation uint32) {
	binary.LittleEndian.PutUint16(b[0:2], ExtentMagic)
	binary.LittleEndian.PutUint16(b[2:4], entries)
	binary.LittleEndian.PutUint16(b[4:6], max)
	binary.LittleEndian.PutUint16(b[6:8], depth)
	binary.LittleEndian.PutUint32(b[8:12], generation)
}

// initExtentRoot sets up an empty depth-0 root with room for 4 entries, the
// inline area's full capacity.
func initExtentRoot(inline *[60]byte) {
	for i := range inline {
		inline[i] = 0
	}
	extWriteHeader(inline[:], 0, 0, uint16(extNodeMaxEntries(60)), 0)
}

// leaf entry: first_lblock(4) block_count(2) start_pblock_hi(2) start_pblock_lo(4)
func extLeafAt(b []byte, i int) (firstLblock uint32, blockCount uint16, startPblock uint64) {
	off := extHeaderLen + i*extEntryLen
	firstLblock = binary.LittleEndian.Uint32(b[off : off+4])
	blockCount = binary.LittleEndian.Uint16(b[off+4 : off+6])
	hi := binary.LittleEndian.Uint16(b[off+6 : off+8])
	lo := binary.LittleEndian.Uint32(b[off+8 : off+12])
	startPblock = uint64(hi)<<32 | uint64(lo)
	return
}

func extSetLeafAt(b []byte, i int, firstLblock uint32, blockCount uint16, startPblock uint64) {
	off := extHeaderLen + i*extEntryLen
	binary.LittleEndian.PutUint32(b[off:off+4], firstLblock)
	binary.LittleEndian.PutUint16(b[off+4:off+6], blockCount)
	binary.LittleEndian.PutUint16(b[off+6:off+8], uint16(startPblock>>32))
	binary.LittleEndian.PutUint32(b[off+8:off+12], uint32(startPblock))
}

// index entry: first_lblock(4) child_pblock_lo(4) child_pblock_hi(2) unused(2)
func extIdxAt(b []byte, i int) (firstLblock uint32, child uint64) {
	off := extHeaderLen + i*extEntryLen
	firstLblock = binary.LittleEndian.Uint32(b[off : off+4])
	lo := binary.LittleEndian.Uint32(b[off+4 : off+8])
	hi := binary.LittleEndian.Uint16(b[off+8 : off+10])
	child = uint64(hi)<<32 | uint64(lo)
	return
}

func extSetIdxAt(b []byte, i int, firstLblock uint32, child uint64) {
	off := extHeaderLen + i*extEntryLen
	binary.LittleEndian.PutUint32(b[off:off+4], firstLblock)
	binary.LittleEndian.PutUint32(b[off+4:off+8], uint32(child))
	binary.LittleEndian.PutUint16(b[off+8:off+10], uint16(child>>32))
	binary.LittleEndian.PutUint16(b[off+10:off+12], 0)
}

func extIsUninitialized(blockCount uint16) bool {
	return blockCount > UninitializedBit
}

func extActualLen(blockCount uint16) uint16 {
	if extIsUninitialized(blockCount) {
		return blockCount - UninitializedBit
	}
	return blockCount
}

// extNode is an in-memory handle on one extent tree node's bytes, along
// with where it lives so it can be written back.
type extNode struct {
	buf     []byte
	blockID uint64 // 0 means this is the inode's inline root
	isRoot  bool
}

// Node buffers carry capacity for one entry past the node's size, so an
// insertion into a full node can land before the node is split.
func (fs *FileSystem) extRootNode(ref *inodeRef) *extNode {
	buf := make([]byte, len(ref.rec.inline), len(ref.rec.inline)+extEntryLen)
	copy(buf, ref.rec.inline[:])
	return &extNode{buf: buf, isRoot: true}
}

func (fs *FileSystem) extLoadNode(blockID uint64) (*extNode, error) {
	raw, err := fs.readRaw(blockID)
	if err != nil {
		return nil, newErr("extent", EIO, err)
	}
	buf := make([]byte, len(raw), len(raw)+extEntryLen)
	copy(buf, raw)
	return &extNode{buf: buf, blockID: blockID}, nil
}

func (n *extNode) save(fs *FileSystem, ref *inodeRef) error {
	if n.isRoot {
		copy(ref.rec.inline[:], n.buf)
		return nil
	}
	return fs.writeRaw(n.blockID, n.buf)
}

// extPathStep records the node visited during a descent and the index
// within it that was followed (interior) or matched/would-insert-at (leaf).
type extPathStep struct {
	node  *extNode
	index int
}

// extDescend walks from the root toward lblock, recording each interior
// step taken. Returns the full path (root first, leaf last) and whether the
// leaf actually contains an extent covering lblock.
func (fs *FileSystem) extDescend(ref *inodeRef, lblock uint32) ([]extPathStep, bool, error) {
	node := fs.extRootNode(ref)
	var path []extPathStep

	for {
		depth, entries, _, _, err := extReadHeader(node.buf)
		if err != nil {
			return nil, false, newErr("extent", EIO, err)
		}
		if depth == 0 {
			idx, found := extFindLeaf(node.buf, int(entries), lblock)
			path = append(path, extPathStep{node: node, index: idx})
			return path, found, nil
		}
		idx := extFindIndex(node.buf, int(entries), lblock)
		path = append(path, extPathStep{node: node, index: idx})
		_, child := extIdxAt(node.buf, idx)
		node, err = fs.extLoadNode(child)
		if err != nil {
			return nil, false, err
		}
	}
}

// extFindLeaf returns the index of the extent covering lblock, or the
// insertion index and false if none does.
func extFindLeaf(b []byte, entries int, lblock uint32) (int, bool) {
	lo, hi := 0, entries-1
	pos := 0
	for lo <= hi {
		mid := (lo + hi) / 2
		first, cnt, _ := extLeafAt(b, mid)
		length := uint32(extActualLen(cnt))
		switch {
		case lblock < first:
			hi = mid - 1
			pos = mid
		case lblock >= first+length:
			lo = mid + 1
			pos = lo
		default:
			return mid, true
		}
	}
	return pos, false
}

// extFindIndex returns the greatest index with first_lblock <= lblock,
// clamped to 0 if lblock precedes every entry.
func extFindIndex(b []byte, entries int, lblock uint32) int {
	best := 0
	for i := 0; i < entries; i++ {
		first, _ := extIdxAt(b, i)
		if first <= lblock {
			best = i
		} else {
			break
		}
	}
	return best
}

// Query resolves lblock to a physical block, or ENOENT if uncovered.
func (fs *FileSystem) extQuery(ref *inodeRef, lblock uint32) (uint64, error) {
	path, found, err := fs.extDescend(ref, lblock)
	if err != nil {
		return 0, err
	}
	if !found {
		return 0, newErr("extQuery", ENOENT, nil)
	}
	leaf := path[len(path)-1]
	first, _, start := extLeafAt(leaf.node.buf, leaf.index)
	return start + uint64(lblock-first), nil
}

// extQueryOrCreate resolves lblock, allocating and inserting a new
// single-block extent on miss. count caps how many logical blocks the new
// extent covers (spec's QueryOrCreate signature); this core only ever
// allocates one physical block per call; count is clamped for the extent's
// length field.
func (fs *FileSystem) extQueryOrCreate(ref *inodeRef, lblock uint32, count uint32) (uint64, error) {
	path, found, err := fs.extDescend(ref, lblock)
	if err != nil {
		return 0, err
	}
	if found {
		leaf := path[len(path)-1]
		first, _, start := extLeafAt(leaf.node.buf, leaf.index)
		return start + uint64(lblock-first), nil
	}

	pblock, err := fs.allocateBlock()
	if err != nil {
		return 0, err
	}
	length := count
	if length == 0 || length > ExtMaxBlocks-lblock {
		length = 1
	}
	if length > UninitializedBit-1 {
		length = UninitializedBit - 1
	}
	if err := fs.extInsert(ref, path, lblock, pblock, uint16(length)); err != nil {
		return 0, err
	}
	return pblock, nil
}

// extInsert places a new leaf entry at the recorded insertion point,
// splitting nodes (and the root) as needed to keep entries_count within
// max_entries_count, per the spec's insertion-with-split algorithm.
func (fs *FileSystem) extInsert(ref *inodeRef, path []extPathStep, lblock uint32, pblock uint64, count uint16) error {
	leafStep := path[len(path)-1]
	leaf := leafStep.node
	depth, entries, max, generation, err := extReadHeader(leaf.buf)
	if err != nil {
		return newErr("extInsert", EIO, err)
	}

	extInsertLeafAt(leaf.buf, int(entries), leafStep.index, lblock, count, pblock)
	entries++
	extWriteHeader(leaf.buf, depth, entries, max, generation)

	if entries <= max {
		return fs.saveExtPath(ref, path)
	}

	// Leaf overflowed: split it, propagating a new index entry upward.
	return fs.extSplitUp(ref, path, len(path)-1)
}

func extInsertLeafAt(b []byte, entries, at int, lblock uint32, count uint16, pblock uint64) {
	for i := entries; i > at; i-- {
		first, cnt, start := extLeafAt(b, i-1)
		extSetLeafAt(b, i, first, cnt, start)
	}
	extSetLeafAt(b, at, lblock, count, pblock)
}

func extInsertIdxAt(b []byte, entries, at int, lblock uint32, child uint64) {
	for i := entries; i > at; i-- {
		first, ch := extIdxAt(b, i-1)
		extSetIdxAt(b, i, first, ch)
	}
	extSetIdxAt(b, at, lblock, child)
}

// extSplitUp splits the overflowing node at path[level] into two siblings,
// inserting an index entry for the new right sibling into path[level-1], or
// performing a root-split (depth+1) if level is 0.
func (fs *FileSystem) extSplitUp(ref *inodeRef, path []extPathStep, level int) error {
	node := path[level].node
	depth, entries, max, generation, err := extReadHeader(node.buf)
	if err != nil {
		return newErr("extSplitUp", EIO, err)
	}

	if level == 0 {
		return fs.extSplitRoot(ref, node, depth, entries, generation)
	}

	rightCount := int(entries) / 2
	leftCount := int(entries) - rightCount

	rightBlock, err := fs.allocateBlock()
	if err != nil {
		return err
	}
	rightBuf := make([]byte, BlockSize)
	rightMax := extNodeMaxEntries(BlockSize)
	extWriteHeader(rightBuf, depth, uint16(rightCount), uint16(rightMax), 0)

	var splitFirst uint32
	for i := 0; i < rightCount; i++ {
		srcIdx := leftCount + i
		if depth == 0 {
			first, cnt, start := extLeafAt(node.buf, srcIdx)
			if i == 0 {
				splitFirst = first
			}
			extSetLeafAt(rightBuf, i, first, cnt, start)
		} else {
			first, child := extIdxAt(node.buf, srcIdx)
			if i == 0 {
				splitFirst = first
			}
			extSetIdxAt(rightBuf, i, first, child)
		}
	}
	extWriteHeader(node.buf, depth, uint16(leftCount), max, generation)

	if err := fs.writeRaw(rightBlock, rightBuf); err != nil {
		return newErr("extSplitUp", EIO, err)
	}
	if err := node.save(fs, ref); err != nil {
		return err
	}

	parentStep := path[level-1]
	parent := parentStep.node
	pDepth, pEntries, pMax, pGen, err := extReadHeader(parent.buf)
	if err != nil {
		return newErr("extSplitUp", EIO, err)
	}
	insertAt := parentStep.index + 1
	extInsertIdxAt(parent.buf, int(pEntries), insertAt, splitFirst, rightBlock)
	pEntries++
	extWriteHeader(parent.buf, pDepth, pEntries, pMax, pGen)

	if pEntries <= pMax {
		return fs.saveExtPath(ref, path[:level])
	}
	return fs.extSplitUp(ref, path, level-1)
}

// extSplitRoot handles overflow of the root itself: depth increases by one,
// two fresh children are allocated, the lower half of the entries moves to
// the left child and the upper half to the right child, and the root is rewritten
// with two index entries pointing at them.
func (fs *FileSystem) extSplitRoot(ref *inodeRef, root *extNode, depth, entries uint16, generation uint32) error {
	rightCount := int(entries) / 2
	leftCount := int(entries) - rightCount

	leftBlock, err := fs.allocateBlock()
	if err != nil {
		return err
	}
	rightBlock, err := fs.allocateBlock()
	if err != nil {
		return err
	}

	leftBuf := make([]byte, BlockSize)
	rightBuf := make([]byte, BlockSize)
	blockMax := extNodeMaxEntries(BlockSize)
	extWriteHeader(leftBuf, depth, uint16(leftCount), uint16(blockMax), 0)
	extWriteHeader(rightBuf, depth, uint16(rightCount), uint16(blockMax), 0)

	var leftFirst, rightFirst uint32
	for i := 0; i < leftCount; i++ {
		if depth == 0 {
			first, cnt, start := extLeafAt(root.buf, i)
			if i == 0 {
				leftFirst = first
			}
			extSetLeafAt(leftBuf, i, first, cnt, start)
		} else {
			first, child := extIdxAt(root.buf, i)
			if i == 0 {
				leftFirst = first
			}
			extSetIdxAt(leftBuf, i, first, child)
		}
	}
	for i := 0; i < rightCount; i++ {
		srcIdx := leftCount + i
		if depth == 0 {
			first, cnt, start := extLeafAt(root.buf, srcIdx)
			if i == 0 {
				rightFirst = first
			}
			extSetLeafAt(rightBuf, i, first, cnt, start)
		} else {
			first, child := extIdxAt(root.buf, srcIdx)
			if i == 0 {
				rightFirst = first
			}
			extSetIdxAt(rightBuf, i, first, child)
		}
	}

	if err := fs.writeRaw(leftBlock, leftBuf); err != nil {
		return newErr("extSplitRoot", EIO, err)
	}
	if err := fs.writeRaw(rightBlock, rightBuf); err != nil {
		return newErr("extSplitRoot", EIO, err)
	}

	rootMax := extNodeMaxEntries(len(root.buf))
	for i := range root.buf {
		root.buf[i] = 0
	}
	extWriteHeader(root.buf, depth+1, 2, uint16(rootMax), generation)
	extSetIdxAt(root.buf, 0, leftFirst, leftBlock)
	extSetIdxAt(root.buf, 1, rightFirst, rightBlock)

	return root.save(fs, ref)
}

func (fs *FileSystem) saveExtPath(ref *inodeRef, path []extPathStep) error {
	for _, step := range path {
		if err := step.node.save(fs, ref); err != nil {
			return err
		}
	}
	return nil
}

// collectExtentBlocks walks the entire tree, returning every physical block
// it touches: both leaf-referenced data blocks and the tree's own interior
// node blocks, so freeInode can release all of them.
func (fs *FileSystem) collectExtentBlocks(ref *inodeRef) ([]uint64, error) {
	var out []uint64
	var walk func(node *extNode) error
	walk = func(node *extNode) error {
		depth, entries, _, _, err := extReadHeader(node.buf)
		if err != nil {
			return newErr("collectExtentBlocks", EIO, err)
		}
		if depth == 0 {
			for i := 0; i < int(entries); i++ {
				_, cnt, start := extLeafAt(node.buf, i)
				n := extActualLen(cnt)
				for j := uint16(0); j < n; j++ {
					out = append(out, start+uint64(j))
				}
			}
			return nil
		}
		for i := 0; i < int(entries); i++ {
			_, child := extIdxAt(node.buf, i)
			childNode, err := fs.extLoadNode(child)
			if err != nil {
				return err
			}
			if err := walk(childNode); err != nil {
				return err
			}
			out = append(out, child)
		}
		return nil
	}
	if err := walk(fs.extRootNode(ref)); err != nil {
		return nil, err
	}
	return out, nil
}

// appendBlock allocates (or reuses, via QueryOrCreate) the next logical
// block after the inode's current size and returns its logical/physical
// pair, bumping the inode's block count.
func (fs *FileSystem) appendBlock(ref *inodeRef) (uint32, uint64, error) {
	iblock := uint32((ref.rec.size + BlockSize - 1) / BlockSize)
	pblock, err := fs.extQueryOrCreate(ref, iblock, 1)
	if err != nil {
		return 0, 0, err
	}
	ref.rec.blockCount += BlockSize / InodeBlockSize
	return iblock, pblock, nil
}
