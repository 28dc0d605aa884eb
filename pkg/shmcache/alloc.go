package shmcache

import (
	"fmt"
	"math/bits"
)

const fullWord = ^uint32(0)

func (s *segment) bitmapWord(w uint32) uint32 {
	return s.u32(s.bitmapOffset + int(w)*4)
}

func (s *segment) setBitmapWord(w uint32, v uint32) {
	s.putU32(s.bitmapOffset+int(w)*4, v)
}

// selectOne claims one free block by next-fit: the scan starts at the cursor
// word and wraps from the end of the pool back to the first usable word. The
// cursor is left on the word the block came from.
func (s *segment) selectOne() (uint32, error) {
	words := s.geo.BlocksTotal >> 5
	firstWord := s.geo.FirstBlock >> 5

	w := s.cursor()
	for range words + 1 {
		if w >= words || w < firstWord {
			w = firstWord
		}

		word := s.bitmapWord(w)
		if word != fullWord {
			bit := uint32(bits.TrailingZeros32(^word))
			s.setBitmapWord(w, word|1<<bit)
			s.setCursor(w)

			return w<<5 | bit, nil
		}

		w++
	}

	return 0, fmt.Errorf("%w: no free block with %d of %d blocks used", ErrCorrupt, s.blocksUsed(), s.geo.BlocksAvailable)
}

// allocate returns the head of a fresh chain of n blocks linked through the
// next-block array. Entries are evicted from the LRU head until n blocks fit.
// protect is an entry that must survive; reaching it means the accounting is
// broken.
func (s *segment) allocate(n uint32, protect uint32) (uint32, error) {
	if n == 0 || n > s.geo.BlocksAvailable {
		return 0, fmt.Errorf("%w: cannot allocate %d blocks", ErrCorrupt, n)
	}

	for s.blocksUsed() > s.geo.BlocksAvailable-n {
		head := s.head()
		if head == 0 || head == protect {
			return 0, fmt.Errorf("%w: %d blocks used with nothing left to evict", ErrCorrupt, s.blocksUsed())
		}

		err := s.evict(head)
		if err != nil {
			return 0, err
		}
	}

	var first, prev uint32

	for i := range n {
		b, err := s.selectOne()
		if err != nil {
			return 0, err
		}

		if i == 0 {
			first = b
		} else {
			s.setNextBlock(prev, b)
		}

		prev = b
	}

	s.setNextBlock(prev, 0)
	s.setBlocksUsed(s.blocksUsed() + n)

	return first, nil
}

// release frees every block of the chain starting at b.
func (s *segment) release(b uint32) error {
	for range s.geo.BlocksTotal {
		if b == 0 {
			return nil
		}

		if !s.validBlock(b) {
			return fmt.Errorf("%w: chain references block %d", ErrCorrupt, b)
		}

		w, bit := b>>5, b&31

		word := s.bitmapWord(w)
		if word&(1<<bit) == 0 || s.blocksUsed() == 0 {
			return fmt.Errorf("%w: releasing free block %d", ErrCorrupt, b)
		}

		s.setBitmapWord(w, word&^(1<<bit))
		s.setBlocksUsed(s.blocksUsed() - 1)

		next := s.nextBlock(b)
		s.setNextBlock(b, 0)
		b = next
	}

	return fmt.Errorf("%w: block chain does not terminate", ErrCorrupt)
}

// chainBlock returns the i-th block of the chain starting at b.
func (s *segment) chainBlock(b uint32, i uint32) (uint32, error) {
	for range i {
		b = s.nextBlock(b)
		if !s.validBlock(b) {
			return 0, fmt.Errorf("%w: chain references block %d", ErrCorrupt, b)
		}
	}

	return b, nil
}
