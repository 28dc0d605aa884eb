package shmcache

import (
	"bytes"
	"fmt"
	"math"

	"github.com/calvinalkan/shmcache/pkg/codec"
)

// valueOffset returns the offset of the value inside the entry's first block.
func (s *segment) valueOffset(b uint32) int {
	return nodeKeyOffset + 2*s.nodeKeyLen(b)
}

// spans calls fn with consecutive slices covering n bytes of the chain at b,
// starting at offset off of the first block.
func (s *segment) spans(b uint32, off int, n int, fn func(p []byte)) error {
	bs := int(s.geo.BlockSize)

	for n > 0 {
		if off == bs {
			b = s.nextBlock(b)
			if !s.validBlock(b) {
				return fmt.Errorf("%w: value runs past its chain at block %d", ErrCorrupt, b)
			}

			off = 0
		}

		start := s.blockOffset(b) + off
		chunk := min(n, bs-off)

		fn(s.data[start : start+chunk])

		n -= chunk
		off += chunk
	}

	return nil
}

// readValue appends the value of the entry at b to dst.
func (s *segment) readValue(b uint32, dst []byte) ([]byte, error) {
	n := int(s.nodeU32(b, nodeValLen))
	if int64(s.valueOffset(b))+int64(n) > int64(s.nodeU32(b, nodeBlocks))*int64(s.geo.BlockSize) {
		return nil, fmt.Errorf("%w: value length %d exceeds entry at block %d", ErrCorrupt, n, b)
	}

	err := s.spans(b, s.valueOffset(b), n, func(p []byte) {
		dst = append(dst, p...)
	})

	return dst, err
}

// writeValue stores val in the entry at b, which must already span enough
// blocks.
func (s *segment) writeValue(b uint32, val []byte) error {
	s.setNodeU32(b, nodeValLen, uint32(len(val)))

	return s.spans(b, s.valueOffset(b), len(val), func(p []byte) {
		val = val[copy(p, val):]
	})
}

// resize grows or truncates the chain of the entry at b to need blocks.
func (s *segment) resize(b uint32, need uint32) error {
	have := s.nodeU32(b, nodeBlocks)

	switch {
	case need > have:
		extra, err := s.allocate(need-have, b)
		if err != nil {
			return err
		}

		last, err := s.chainBlock(b, have-1)
		if err != nil {
			return err
		}

		s.setNextBlock(last, extra)
	case need < have:
		cut, err := s.chainBlock(b, need-1)
		if err != nil {
			return err
		}

		rest := s.nextBlock(cut)
		s.setNextBlock(cut, 0)

		err = s.release(rest)
		if err != nil {
			return err
		}
	}

	s.setNodeU32(b, nodeBlocks, need)

	return nil
}

// checkFits returns ErrValueTooLarge if an entry of this size could never be
// stored, even after evicting everything else.
func (s *segment) checkFits(k encodedKey, valLen int) (uint32, error) {
	// The stored length field is 32 bits wide.
	if uint64(valLen) > math.MaxUint32 {
		return 0, fmt.Errorf("%w: %d byte value exceeds the 4 GiB entry limit", ErrValueTooLarge, valLen)
	}

	need := s.geo.blocksFor(k.units, valLen)
	if need > int64(s.geo.BlocksAvailable) {
		return 0, fmt.Errorf("%w: %d byte value needs %d blocks, cache holds %d",
			ErrValueTooLarge, valLen, need, s.geo.BlocksAvailable)
	}

	return uint32(need), nil
}

// insert allocates and links a new entry for k spanning need blocks.
func (s *segment) insert(k encodedKey, need uint32) (uint32, error) {
	b, err := s.allocate(need, 0)
	if err != nil {
		return 0, err
	}

	s.writeNodeHeader(b, need, k.hash, k.bytes)
	s.appendTail(b)
	s.insertBucket(b)
	s.setEntries(s.entries() + 1)

	return b, nil
}

// set stores val under k. If prev is non-nil the previous value, if any, is
// appended to it.
func (s *segment) set(k encodedKey, val []byte, prev *[]byte) (found bool, err error) {
	need, err := s.checkFits(k, len(val))
	if err != nil {
		return false, err
	}

	b, err := s.find(k)
	if err != nil {
		return false, err
	}

	found = b != 0

	if found {
		if prev != nil {
			*prev, err = s.readValue(b, *prev)
			if err != nil {
				return false, err
			}
		}

		s.touch(b)

		err = s.resize(b, need)
		if err != nil {
			return false, err
		}
	} else {
		b, err = s.insert(k, need)
		if err != nil {
			return false, err
		}
	}

	return found, s.writeValue(b, val)
}

// get promotes the entry for k and appends its value to dst.
func (s *segment) get(k encodedKey, dst []byte) ([]byte, bool, error) {
	b, err := s.find(k)
	if err != nil || b == 0 {
		return nil, false, err
	}

	s.touch(b)

	val, err := s.readValue(b, dst)
	if err != nil {
		return nil, false, err
	}

	return val, true, nil
}

// del removes the entry for k.
func (s *segment) del(k encodedKey) (bool, error) {
	b, err := s.find(k)
	if err != nil || b == 0 {
		return false, err
	}

	return true, s.remove(b)
}

// increase adds delta to the Int32 counter stored under k. A missing entry,
// or one holding anything but a single encoded Int32, restarts from 0.
func (s *segment) increase(k encodedKey, delta int32) (int32, error) {
	need, err := s.checkFits(k, codec.Int32Size)
	if err != nil {
		return 0, err
	}

	b, err := s.find(k)
	if err != nil {
		return 0, err
	}

	var current int32

	switch {
	case b == 0:
		b, err = s.insert(k, need)
		if err != nil {
			return 0, err
		}
	default:
		s.touch(b)

		var counter bool
		if s.nodeU32(b, nodeValLen) == codec.Int32Size {
			var raw []byte

			raw, err = s.readValue(b, make([]byte, 0, codec.Int32Size))
			if err != nil {
				return 0, err
			}

			current, counter = codec.IsInt32(raw)
		}

		if !counter {
			current = 0

			err = s.resize(b, need)
			if err != nil {
				return 0, err
			}
		}
	}

	current += delta

	return current, s.writeValue(b, codec.AppendInt32(make([]byte, 0, codec.Int32Size), current))
}

// keys returns every key from least to most recently used.
func (s *segment) keys() ([]string, error) {
	keys := make([]string, 0, s.entries())

	err := s.walk(func(b uint32) {
		keys = append(keys, decodeKey(s.nodeKey(b)))
	})

	return keys, err
}

// Entry is a key and its stored bytes.
type Entry struct {
	Key   string
	Value []byte
}

// dump copies every entry whose key starts with prefix, least recently used
// first.
func (s *segment) dump(prefix encodedKey) ([]Entry, error) {
	var (
		entries []Entry
		readErr error
	)

	err := s.walk(func(b uint32) {
		if readErr != nil {
			return
		}

		key := s.nodeKey(b)
		if !bytes.HasPrefix(key, prefix.bytes) {
			return
		}

		val, err := s.readValue(b, nil)
		if err != nil {
			readErr = err

			return
		}

		if val == nil {
			val = []byte{}
		}

		entries = append(entries, Entry{Key: decodeKey(key), Value: val})
	})
	if err != nil {
		return nil, err
	}

	return entries, readErr
}
