package shmcache

import (
	"encoding/binary"
	"fmt"
)

// SHC1 segment format constants.
const (
	shc1Magic   uint32 = 0x53484331 // "SHC1"
	shc1Version uint32 = 1

	headerSize  = 128
	bucketCount = 1 << 16
	bucketMask  = bucketCount - 1

	hashTableOffset = headerSize
	nextsOffset     = hashTableOffset + bucketCount*4
)

// Header field offsets.
const (
	offMagic           = 0x00
	offVersion         = 0x04
	offBlocksTotal     = 0x08
	offBlocksAvailable = 0x0C
	offDirty           = 0x10
	offBlockShift      = 0x14
	offFirstBlock      = 0x18
	offCursor          = 0x1C
	offBlocksUsed      = 0x20
	offHead            = 0x24
	offTail            = 0x28
	offEntries         = 0x2C
	offSize            = 0x30
	offResets          = 0x38
)

// Node field offsets, relative to the entry's first block.
const (
	nodePrev      = 0
	nodeNext      = 4
	nodeHashNext  = 8
	nodeBlocks    = 12
	nodeValLen    = 16
	nodeHash      = 20
	nodeKeyLen    = 24
	nodeKeyOffset = 28
)

var le = binary.LittleEndian

// metadataSize returns the bytes occupied by header, hash table, next-block
// array and bitmap for a pool of the given block count.
func metadataSize(blocks int64) int64 {
	return nextsOffset + blocks*4 + blocks/8
}

// segment is a view over a mapped SHC1 region. Geometry is copied out of the
// header once on attach and never re-read, so a scribbled header can not
// steer offsets outside the mapping.
type segment struct {
	data []byte
	geo  Geometry

	bitmapOffset int

	// onEvict, if set, is called with the key of every evicted entry.
	onEvict func(key string)
}

func newSegment(data []byte, geo Geometry) *segment {
	return &segment{
		data:         data,
		geo:          geo,
		bitmapOffset: nextsOffset + int(geo.BlocksTotal)*4,
	}
}

func (s *segment) u32(off int) uint32 {
	return le.Uint32(s.data[off:])
}

func (s *segment) putU32(off int, v uint32) {
	le.PutUint32(s.data[off:], v)
}

func (s *segment) u64(off int) uint64 {
	return le.Uint64(s.data[off:])
}

func (s *segment) putU64(off int, v uint64) {
	le.PutUint64(s.data[off:], v)
}

func (s *segment) dirty() bool { return s.u32(offDirty) != 0 }
func (s *segment) setDirty(d bool) { s.putU32(offDirty, boolToU32(d)) }
func (s *segment) cursor() uint32 { return s.u32(offCursor) }
func (s *segment) setCursor(w uint32) { s.putU32(offCursor, w) }
func (s *segment) blocksUsed() uint32 { return s.u32(offBlocksUsed) }
func (s *segment) setBlocksUsed(n uint32) { s.putU32(offBlocksUsed, n) }
func (s *segment) head() uint32 { return s.u32(offHead) }
func (s *segment) setHead(b uint32) { s.putU32(offHead, b) }
func (s *segment) tail() uint32 { return s.u32(offTail) }
func (s *segment) setTail(b uint32) { s.putU32(offTail, b) }
func (s *segment) entries() uint32 { return s.u32(offEntries) }
func (s *segment) setEntries(n uint32) { s.putU32(offEntries, n) }
func (s *segment) resets() uint64 { return s.u64(offResets) }

// bucket returns the first block of the chain for bucket i.
func (s *segment) bucket(i uint32) uint32 {
	return s.u32(hashTableOffset + int(i)*4)
}

func (s *segment) setBucket(i uint32, block uint32) {
	s.putU32(hashTableOffset+int(i)*4, block)
}

// nextBlock returns the continuation of block b, 0 at the chain end.
func (s *segment) nextBlock(b uint32) uint32 {
	return s.u32(nextsOffset + int(b)*4)
}

func (s *segment) setNextBlock(b, next uint32) {
	s.putU32(nextsOffset+int(b)*4, next)
}

// blockOffset returns the byte offset of block b.
func (s *segment) blockOffset(b uint32) int {
	return int(b) << s.geo.BlockShift
}

// validBlock reports whether b addresses a block in the pool.
func (s *segment) validBlock(b uint32) bool {
	return b >= s.geo.FirstBlock && b < s.geo.BlocksTotal
}

func (s *segment) nodeU32(b uint32, field int) uint32 {
	return s.u32(s.blockOffset(b) + field)
}

func (s *segment) setNodeU32(b uint32, field int, v uint32) {
	s.putU32(s.blockOffset(b)+field, v)
}

func (s *segment) nodeKeyLen(b uint32) int {
	return int(le.Uint16(s.data[s.blockOffset(b)+nodeKeyLen:]))
}

// nodeKey returns the stored key bytes (UTF-16LE) of the entry at b.
func (s *segment) nodeKey(b uint32) []byte {
	off := s.blockOffset(b) + nodeKeyOffset

	return s.data[off : off+2*s.nodeKeyLen(b)]
}

// writeNodeHeader initializes a fresh entry at b. LRU and bucket links are
// left zeroed for the caller to set.
func (s *segment) writeNodeHeader(b uint32, blocks uint32, hash uint32, key []byte) {
	off := s.blockOffset(b)
	clear(s.data[off : off+nodeKeyOffset])
	le.PutUint32(s.data[off+nodeBlocks:], blocks)
	le.PutUint32(s.data[off+nodeHash:], hash)
	le.PutUint16(s.data[off+nodeKeyLen:], uint16(len(key)/2))
	copy(s.data[off+nodeKeyOffset:], key)
}

// format resets the segment to an empty cache. The dirty flag is cleared
// last so a crash mid-format leaves the segment marked dirty.
func (s *segment) format() {
	geo := s.geo

	s.setDirty(true)
	s.putU32(offMagic, shc1Magic)
	s.putU32(offVersion, shc1Version)
	s.putU32(offBlocksTotal, geo.BlocksTotal)
	s.putU32(offBlocksAvailable, geo.BlocksAvailable)
	s.putU32(offBlockShift, geo.BlockShift)
	s.putU32(offFirstBlock, geo.FirstBlock)
	s.putU64(offSize, uint64(geo.Size))

	clear(s.data[hashTableOffset:nextsOffset])

	bitmap := s.data[s.bitmapOffset : s.bitmapOffset+int(geo.BlocksTotal)/8]
	clear(bitmap)

	// Blocks overlapping the metadata are permanently used.
	for b := uint32(0); b < geo.FirstBlock; b++ {
		bitmap[b>>3] |= 1 << (b & 7)
	}

	s.setCursor(geo.FirstBlock >> 5)
	s.setBlocksUsed(0)
	s.setHead(0)
	s.setTail(0)
	s.setEntries(0)
	s.setDirty(false)
}

// reset formats a segment found dirty and counts the reset.
func (s *segment) reset() {
	s.putU64(offResets, s.resets()+1)
	s.format()
}

// initializeOrAttach formats the segment if it is new (force) or carries no
// magic, and otherwise verifies that the stored geometry matches geo.
func (s *segment) initializeOrAttach(force bool) (created bool, err error) {
	if !force && s.u32(offMagic) == shc1Magic {
		return false, s.checkGeometry()
	}

	s.putU64(offResets, 0)
	s.format()

	return true, nil
}

func (s *segment) checkGeometry() error {
	geo := s.geo

	if v := s.u32(offVersion); v != shc1Version {
		return fmt.Errorf("%w: unsupported segment version %d", ErrConfiguration, v)
	}

	if s.u32(offBlockShift) != geo.BlockShift ||
		s.u32(offBlocksTotal) != geo.BlocksTotal ||
		s.u32(offBlocksAvailable) != geo.BlocksAvailable ||
		s.u32(offFirstBlock) != geo.FirstBlock ||
		s.u64(offSize) != uint64(geo.Size) {
		return fmt.Errorf("%w: initialized with different size/block size (size=%d, block_shift=%d)",
			ErrConfiguration, s.u64(offSize), s.u32(offBlockShift))
	}

	return nil
}

func boolToU32(b bool) uint32 {
	if b {
		return 1
	}

	return 0
}
