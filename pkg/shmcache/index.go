package shmcache

import (
	"bytes"
	"fmt"
	"unicode/utf16"
)

// encodedKey is a key converted to its stored form.
type encodedKey struct {
	bytes []byte // UTF-16LE code units
	units int
	hash  uint32
}

// hashUnits is the bucket hash: h = h*31 + u over UTF-16 code units,
// seeded with 0xFFFFFFFF, wrapping at 32 bits.
func hashUnits(units []uint16) uint32 {
	h := uint32(0xFFFFFFFF)
	for _, u := range units {
		h = h*31 + uint32(u)
	}

	return h
}

// encodeKey converts key to UTF-16 and checks it against the key limits for
// geo. Invalid UTF-8 is stored as U+FFFD.
func encodeKey(key string, geo Geometry) (encodedKey, error) {
	units := utf16.Encode([]rune(key))

	if len(units) > geo.MaxKeyLen() {
		return encodedKey{}, fmt.Errorf("%w: %d code units, limit %d for %d byte blocks",
			ErrKeyTooLong, len(units), geo.MaxKeyLen(), geo.BlockSize)
	}

	b := make([]byte, 2*len(units))
	for i, u := range units {
		le.PutUint16(b[2*i:], u)
	}

	return encodedKey{bytes: b, units: len(units), hash: hashUnits(units)}, nil
}

// decodeKey converts stored UTF-16LE key bytes back to a string.
func decodeKey(b []byte) string {
	units := make([]uint16, len(b)/2)
	for i := range units {
		units[i] = le.Uint16(b[2*i:])
	}

	return string(utf16.Decode(units))
}

// find returns the first block of the entry for k, or 0.
func (s *segment) find(k encodedKey) (uint32, error) {
	b := s.bucket(k.hash & bucketMask)

	for range s.geo.BlocksTotal {
		if b == 0 {
			return 0, nil
		}

		if !s.validBlock(b) {
			return 0, fmt.Errorf("%w: bucket chain references block %d", ErrCorrupt, b)
		}

		if s.nodeKeyLen(b) == k.units && s.nodeU32(b, nodeHash) == k.hash && bytes.Equal(s.nodeKey(b), k.bytes) {
			return b, nil
		}

		b = s.nodeU32(b, nodeHashNext)
	}

	return 0, fmt.Errorf("%w: bucket chain does not terminate", ErrCorrupt)
}

// insertBucket prepends the entry at b to its bucket.
func (s *segment) insertBucket(b uint32) {
	i := s.nodeU32(b, nodeHash) & bucketMask
	s.setNodeU32(b, nodeHashNext, s.bucket(i))
	s.setBucket(i, b)
}

// removeBucket splices the entry at b out of its bucket.
func (s *segment) removeBucket(b uint32) error {
	i := s.nodeU32(b, nodeHash) & bucketMask
	next := s.nodeU32(b, nodeHashNext)

	cur := s.bucket(i)
	if cur == b {
		s.setBucket(i, next)

		return nil
	}

	for range s.geo.BlocksTotal {
		if cur == 0 || !s.validBlock(cur) {
			break
		}

		if s.nodeU32(cur, nodeHashNext) == b {
			s.setNodeU32(cur, nodeHashNext, next)

			return nil
		}

		cur = s.nodeU32(cur, nodeHashNext)
	}

	return fmt.Errorf("%w: block %d missing from bucket %d", ErrCorrupt, b, i)
}
