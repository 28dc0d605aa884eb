package shmcache

import "fmt"

// appendTail links the entry at b as most recently used.
func (s *segment) appendTail(b uint32) {
	tail := s.tail()

	s.setNodeU32(b, nodePrev, tail)
	s.setNodeU32(b, nodeNext, 0)

	if tail == 0 {
		s.setHead(b)
	} else {
		s.setNodeU32(tail, nodeNext, b)
	}

	s.setTail(b)
}

// unlink removes the entry at b from the LRU list.
func (s *segment) unlink(b uint32) {
	prev := s.nodeU32(b, nodePrev)
	next := s.nodeU32(b, nodeNext)

	if prev == 0 {
		s.setHead(next)
	} else {
		s.setNodeU32(prev, nodeNext, next)
	}

	if next == 0 {
		s.setTail(prev)
	} else {
		s.setNodeU32(next, nodePrev, prev)
	}

	s.setNodeU32(b, nodePrev, 0)
	s.setNodeU32(b, nodeNext, 0)
}

// touch marks the entry at b as most recently used.
func (s *segment) touch(b uint32) {
	if s.tail() == b {
		return
	}

	s.unlink(b)
	s.appendTail(b)
}

// remove drops the entry at b from the list, its bucket and the pool.
func (s *segment) remove(b uint32) error {
	s.unlink(b)

	err := s.removeBucket(b)
	if err != nil {
		return err
	}

	err = s.release(b)
	if err != nil {
		return err
	}

	n := s.entries()
	if n == 0 {
		return fmt.Errorf("%w: entry count underflow", ErrCorrupt)
	}

	s.setEntries(n - 1)

	return nil
}

// evict removes the least recently used entry b and reports it.
func (s *segment) evict(b uint32) error {
	if s.onEvict != nil {
		s.onEvict(decodeKey(s.nodeKey(b)))
	}

	return s.remove(b)
}

// walk calls fn for each entry from least to most recently used.
func (s *segment) walk(fn func(b uint32)) error {
	b := s.head()

	for range s.entries() {
		if b == 0 {
			break
		}

		if !s.validBlock(b) {
			return fmt.Errorf("%w: LRU list references block %d", ErrCorrupt, b)
		}

		fn(b)
		b = s.nodeU32(b, nodeNext)
	}

	if b != 0 {
		return fmt.Errorf("%w: LRU list longer than %d entries", ErrCorrupt, s.entries())
	}

	return nil
}
