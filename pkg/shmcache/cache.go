package shmcache

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	ifs "github.com/calvinalkan/shmcache/internal/fs"
)

// fsys is the filesystem used for segment and lock files.
var fsys ifs.FS = ifs.NewReal()

// locker coordinates access to segments across processes.
var locker = ifs.NewLocker(fsys)

// Cache is a handle to a shared segment.
//
// A Cache is safe for concurrent use. Every operation takes the segment's
// cross-process lock on a fresh file description, so goroutines sharing one
// handle exclude each other exactly like separate processes do.
type Cache struct {
	// mu guards closed and the lifetime of the mapping. Operations hold it
	// shared; Close holds it exclusively.
	mu     sync.RWMutex
	closed bool

	path     string
	lockPath string
	seg      *segment

	lockTimeout time.Duration
	logger      *slog.Logger
	metrics     Metrics
}

// Stats is a point-in-time view of a segment's geometry and usage.
type Stats struct {
	Path            string
	Size            int64
	BlockSize       uint32
	BlocksTotal     uint32
	BlocksAvailable uint32
	FirstBlock      uint32
	BlocksUsed      uint32
	Entries         uint32
	Resets          uint64
	Dirty           bool
}

// Open attaches to the segment named by opts, creating and formatting it if
// it does not exist yet.
//
// Creation happens under the exclusive lock, so racing first-time openers
// all observe one formatted segment. Attaching with a different size or
// block size fails with [ErrConfiguration].
func Open(opts Options) (*Cache, error) {
	name, err := segmentName(opts.Name)
	if err != nil {
		return nil, err
	}

	geo, err := ComputeGeometry(opts.Size, opts.BlockShift)
	if err != nil {
		return nil, err
	}

	if opts.LockTimeout < 0 {
		return nil, fmt.Errorf("%w: lock timeout must not be negative", ErrConfiguration)
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	metrics := opts.Metrics
	if metrics == nil {
		metrics = NoopMetrics{}
	}

	path := filepath.Join(segmentDir(opts.Dir), name)

	c := &Cache{
		path:        path,
		lockPath:    lockPath(path),
		lockTimeout: opts.LockTimeout,
		logger:      logger.With("cache", name),
		metrics:     metrics,
	}

	lk, err := c.lock(false)
	if err != nil {
		return nil, err
	}

	defer c.unlock(lk)

	data, created, err := mapSegment(path, geo)
	if err != nil {
		return nil, err
	}

	seg := newSegment(data, geo)

	initialized, err := seg.initializeOrAttach(created)
	if err != nil {
		return nil, errors.Join(err, unmap(data))
	}

	seg.onEvict = func(key string) {
		c.logger.Debug("evicted entry", "key", key)
		c.metrics.Evict()
	}

	c.seg = seg

	if initialized {
		c.logger.Debug("created segment", "path", path, "size", geo.Size, "block_size", geo.BlockSize, "blocks", geo.BlocksAvailable)
	} else {
		c.logger.Debug("attached segment", "path", path, "entries", seg.entries(), "dirty", seg.dirty())
	}

	return c, nil
}

// mapSegment opens or creates the backing file and maps it shared. created
// reports whether the file was new and must be formatted.
func mapSegment(path string, geo Geometry) (data []byte, created bool, err error) {
	f, err := fsys.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o600)
	if err != nil {
		return nil, false, fmt.Errorf("%w: open segment: %w", ErrResource, err)
	}

	defer func() {
		closeErr := f.Close()
		if closeErr != nil && err == nil {
			err = fmt.Errorf("%w: close segment: %w", ErrResource, closeErr)
		}
	}()

	info, err := f.Stat()
	if err != nil {
		return nil, false, fmt.Errorf("%w: stat segment: %w", ErrResource, err)
	}

	switch info.Size() {
	case 0:
		err = f.Truncate(geo.Size)
		if err != nil {
			return nil, false, fmt.Errorf("%w: size segment: %w", ErrResource, err)
		}

		created = true
	case geo.Size:
	default:
		return nil, false, fmt.Errorf("%w: initialized with different size/block size (file is %d bytes, want %d)",
			ErrConfiguration, info.Size(), geo.Size)
	}

	data, err = unix.Mmap(int(f.Fd()), 0, int(geo.Size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, false, fmt.Errorf("%w: mmap segment: %w", ErrResource, err)
	}

	return data, created, nil
}

func unmap(data []byte) error {
	err := unix.Munmap(data)
	if err != nil {
		return fmt.Errorf("%w: munmap segment: %w", ErrResource, err)
	}

	return nil
}

// Release removes the segment and lock files for name in dir. Handles that
// are still open keep their mapping; the next Open creates a new segment.
func Release(dir, name string) error {
	path, err := SegmentPath(dir, name)
	if err != nil {
		return err
	}

	lk, err := locker.Lock(lockPath(path))
	if err != nil {
		return fmt.Errorf("%w: %w", ErrLock, err)
	}

	err = fsys.Remove(path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return errors.Join(fmt.Errorf("%w: remove segment: %w", ErrResource, err), lk.Close())
	}

	// Waiters holding the old lock file notice the unlink and reopen.
	err = fsys.Remove(lockPath(path))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return errors.Join(fmt.Errorf("%w: remove lock file: %w", ErrResource, err), lk.Close())
	}

	return lk.Close()
}

// Close unmaps the segment. The segment itself stays in place for other
// handles and processes. Close is idempotent.
func (c *Cache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}

	c.closed = true

	return unmap(c.seg.data)
}

// Path returns the segment file path.
func (c *Cache) Path() string {
	return c.path
}

// Geometry returns the segment layout.
func (c *Cache) Geometry() Geometry {
	return c.seg.geo
}

// Sync flushes the mapping to its backing file. Segments under /dev/shm
// have no backing store and Sync is a no-op there.
func (c *Cache) Sync() error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed {
		return ErrClosed
	}

	err := unix.Msync(c.seg.data, unix.MS_SYNC)
	if err != nil {
		return fmt.Errorf("%w: msync segment: %w", ErrResource, err)
	}

	return nil
}

func (c *Cache) lock(shared bool) (*ifs.Lock, error) {
	var (
		lk  *ifs.Lock
		err error
	)

	switch {
	case c.lockTimeout > 0 && shared:
		lk, err = locker.RLockWithTimeout(c.lockPath, c.lockTimeout)
	case c.lockTimeout > 0:
		lk, err = locker.LockWithTimeout(c.lockPath, c.lockTimeout)
	case shared:
		lk, err = locker.RLock(c.lockPath)
	default:
		lk, err = locker.Lock(c.lockPath)
	}

	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLock, err)
	}

	return lk, nil
}

func (c *Cache) unlock(lk *ifs.Lock) {
	err := lk.Close()
	if err != nil {
		c.logger.Warn("unlock failed", "path", c.lockPath, "error", err)
	}
}

// resetSegment formats a segment left dirty by a writer that died mid-mutation.
func (c *Cache) resetSegment(seg *segment, reason string) {
	seg.reset()
	c.metrics.Reset()
	c.logger.Warn("segment reset", "reason", reason, "resets", seg.resets())
}

// mutate runs fn under the exclusive lock inside a dirty bracket. A segment
// found dirty is formatted first; ErrCorrupt from fn formats it afterwards.
func (c *Cache) mutate(fn func(seg *segment) error) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed {
		return ErrClosed
	}

	lk, err := c.lock(false)
	if err != nil {
		return err
	}

	defer c.unlock(lk)

	seg := c.seg

	if seg.dirty() {
		c.resetSegment(seg, "dirty flag set")
	}

	seg.setDirty(true)

	err = fn(seg)
	if errors.Is(err, ErrCorrupt) {
		c.resetSegment(seg, err.Error())
	} else {
		seg.setDirty(false)
	}

	c.metrics.Size(int(seg.entries()), int64(seg.blocksUsed()))

	return err
}

// view runs fn under the shared lock. A dirty segment reads as empty and fn
// is not called.
func (c *Cache) view(fn func(seg *segment) error) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed {
		return ErrClosed
	}

	lk, err := c.lock(true)
	if err != nil {
		return err
	}

	defer c.unlock(lk)

	if c.seg.dirty() {
		return nil
	}

	return fn(c.seg)
}

func (c *Cache) key(key string) (encodedKey, error) {
	return encodeKey(key, c.seg.geo)
}

// Get returns a copy of the value stored under key and marks the entry most
// recently used. Get takes the exclusive lock.
func (c *Cache) Get(key string) ([]byte, bool, error) {
	return c.GetInto(key, nil)
}

// GetInto is Get appending the value to buf[:0], reusing buf when it is
// large enough.
func (c *Cache) GetInto(key string, buf []byte) ([]byte, bool, error) {
	k, err := c.key(key)
	if err != nil {
		return nil, false, err
	}

	var (
		val   []byte
		found bool
	)

	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed {
		return nil, false, ErrClosed
	}

	lk, err := c.lock(false)
	if err != nil {
		return nil, false, err
	}

	defer c.unlock(lk)

	seg := c.seg

	// A dirty segment reads as empty. It is formatted by the next mutation.
	if !seg.dirty() {
		seg.setDirty(true)

		val, found, err = seg.get(k, buf[:0])
		if errors.Is(err, ErrCorrupt) {
			c.resetSegment(seg, err.Error())
		} else {
			seg.setDirty(false)
		}

		if err != nil {
			return nil, false, err
		}
	}

	if !found {
		c.metrics.Miss()

		return nil, false, nil
	}

	c.metrics.Hit()

	if val == nil {
		val = []byte{}
	}

	return val, true, nil
}

// Set stores val under key, evicting least recently used entries as needed.
func (c *Cache) Set(key string, val []byte) error {
	k, err := c.key(key)
	if err != nil {
		return err
	}

	return c.mutate(func(seg *segment) error {
		_, err := seg.set(k, val, nil)

		return err
	})
}

// Swap stores val under key and returns the value it replaced.
func (c *Cache) Swap(key string, val []byte) (prev []byte, found bool, err error) {
	k, err := c.key(key)
	if err != nil {
		return nil, false, err
	}

	err = c.mutate(func(seg *segment) error {
		var err error

		found, err = seg.set(k, val, &prev)

		return err
	})
	if err != nil {
		return nil, false, err
	}

	if found && prev == nil {
		prev = []byte{}
	}

	return prev, found, nil
}

// Delete removes key and reports whether it was present.
func (c *Cache) Delete(key string) (bool, error) {
	k, err := c.key(key)
	if err != nil {
		return false, err
	}

	var found bool

	err = c.mutate(func(seg *segment) error {
		var err error

		found, err = seg.del(k)

		return err
	})

	return found, err
}

// Contains reports whether key is present without changing its recency.
func (c *Cache) Contains(key string) (bool, error) {
	k, err := c.key(key)
	if err != nil {
		return false, err
	}

	var found bool

	err = c.view(func(seg *segment) error {
		b, err := seg.find(k)
		found = b != 0

		return err
	})

	return found, err
}

// Keys returns every key from least to most recently used.
func (c *Cache) Keys() ([]string, error) {
	keys := []string{}

	err := c.view(func(seg *segment) error {
		var err error

		keys, err = seg.keys()

		return err
	})
	if err != nil {
		return nil, err
	}

	return keys, nil
}

// Dump copies every entry whose key starts with prefix, from least to most
// recently used. An empty prefix matches every key; a prefix longer than
// any key can be matches nothing.
func (c *Cache) Dump(prefix string) ([]Entry, error) {
	p, err := encodeKey(prefix, Geometry{BlockSize: keyOverhead + 2*MaxKeyUnits})
	if errors.Is(err, ErrKeyTooLong) {
		return []Entry{}, nil
	}

	entries := []Entry{}

	err = c.view(func(seg *segment) error {
		var err error

		entries, err = seg.dump(p)

		return err
	})
	if err != nil {
		return nil, err
	}

	if entries == nil {
		entries = []Entry{}
	}

	return entries, nil
}

// Clear removes every entry.
func (c *Cache) Clear() error {
	return c.mutate(func(seg *segment) error {
		seg.format()

		return nil
	})
}

// Increase adds delta to the counter stored under key and returns the new
// value. A missing key, or one holding anything other than an encoded Int32,
// starts from 0. Arithmetic wraps at 32 bits.
func (c *Cache) Increase(key string, delta int32) (int32, error) {
	k, err := c.key(key)
	if err != nil {
		return 0, err
	}

	var n int32

	err = c.mutate(func(seg *segment) error {
		var err error

		n, err = seg.increase(k, delta)

		return err
	})

	return n, err
}

// Len returns the number of entries.
func (c *Cache) Len() (int, error) {
	var n int

	err := c.view(func(seg *segment) error {
		n = int(seg.entries())

		return nil
	})

	return n, err
}

// Stats returns geometry and usage counters. Unlike the other reads it
// reports a dirty segment as is.
func (c *Cache) Stats() (Stats, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed {
		return Stats{}, ErrClosed
	}

	lk, err := c.lock(true)
	if err != nil {
		return Stats{}, err
	}

	defer c.unlock(lk)

	seg := c.seg

	return Stats{
		Path:            c.path,
		Size:            seg.geo.Size,
		BlockSize:       seg.geo.BlockSize,
		BlocksTotal:     seg.geo.BlocksTotal,
		BlocksAvailable: seg.geo.BlocksAvailable,
		FirstBlock:      seg.geo.FirstBlock,
		BlocksUsed:      seg.blocksUsed(),
		Entries:         seg.entries(),
		Resets:          seg.resets(),
		Dirty:           seg.dirty(),
	}, nil
}
