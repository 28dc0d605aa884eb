package shmcache

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Block size shifts accepted by [Options.BlockShift].
const (
	BlockShift64  = 6
	BlockShift128 = 7
	BlockShift256 = 8
	BlockShift512 = 9
	BlockShift1K  = 10
	BlockShift2K  = 11
	BlockShift4K  = 12
	BlockShift8K  = 13
	BlockShift16K = 14

	DefaultBlockShift = BlockShift64
)

// Hardcoded implementation limits.
const (
	// MinSize is the smallest segment accepted, after rounding.
	MinSize = 512 << 10

	// MaxKeyUnits is the longest key in UTF-16 code units.
	MaxKeyUnits = 256

	// maxSize keeps byte offsets far from int overflow.
	maxSize = int64(1) << 40

	// maxBlocks keeps block indices, counts and bitmap positions in uint32.
	maxBlocks = int64(1) << 31

	// keyOverhead is the per-key slack required in the first block.
	keyOverhead = 32
)

// DefaultDir is where segments live when [Options.Dir] is empty. It is the
// directory shm_open(3) uses on Linux.
const DefaultDir = "/dev/shm"

// Options configure opening or creating a cache.
type Options struct {
	// Name identifies the cache. Processes opening the same Name in the same
	// Dir share one segment. A single leading "/" is ignored, as with
	// shm_open(3); other path separators are rejected.
	Name string

	// Dir holds the segment and lock files. Empty means [DefaultDir], or
	// [os.TempDir] where /dev/shm does not exist.
	Dir string

	// Size is the segment size in bytes, rounded down to a multiple of 32
	// blocks. It must be at least [MinSize] after rounding.
	Size int64

	// BlockShift is log2 of the block size, between [BlockShift64] and
	// [BlockShift16K]. Zero means [DefaultBlockShift].
	BlockShift uint32

	// LockTimeout bounds every lock acquisition. Zero blocks indefinitely.
	LockTimeout time.Duration

	// Logger receives structured events. Nil discards them.
	Logger *slog.Logger

	// Metrics receives operation counters. Nil uses [NoopMetrics].
	Metrics Metrics
}

// Geometry describes the fixed layout of a segment.
type Geometry struct {
	BlockShift      uint32
	BlockSize       uint32
	BlocksTotal     uint32
	BlocksAvailable uint32
	FirstBlock      uint32
	Size            int64
}

// ComputeGeometry derives the segment layout for a requested size and block
// shift. size is rounded down to a multiple of 32 blocks.
func ComputeGeometry(size int64, shift uint32) (Geometry, error) {
	if shift == 0 {
		shift = DefaultBlockShift
	}

	if shift < BlockShift64 {
		return Geometry{}, fmt.Errorf("%w: block size should not be smaller than 64 bytes", ErrConfiguration)
	}

	if shift > BlockShift16K {
		return Geometry{}, fmt.Errorf("%w: block size should not be larger than 16 KB", ErrConfiguration)
	}

	if size > maxSize {
		return Geometry{}, fmt.Errorf("%w: size %d exceeds maximum %d", ErrConfiguration, size, maxSize)
	}

	blocks := size >> (5 + shift) << 5
	rounded := blocks << shift

	if rounded < MinSize {
		return Geometry{}, fmt.Errorf("%w: total size should be at least 512 KB, got %d", ErrConfiguration, rounded)
	}

	if blocks > maxBlocks {
		return Geometry{}, fmt.Errorf("%w: %d blocks exceeds maximum %d, use a larger block size", ErrConfiguration, blocks, maxBlocks)
	}

	blockSize := int64(1) << shift
	meta := metadataSize(blocks)
	first := (meta + blockSize - 1) / blockSize

	if first >= blocks {
		return Geometry{}, fmt.Errorf("%w: size %d leaves no room for blocks after metadata", ErrConfiguration, rounded)
	}

	return Geometry{
		BlockShift:      shift,
		BlockSize:       uint32(blockSize),
		BlocksTotal:     uint32(blocks),
		BlocksAvailable: uint32(blocks - first),
		FirstBlock:      uint32(first),
		Size:            rounded,
	}, nil
}

// MaxKeyLen returns the longest key, in UTF-16 code units, this geometry
// accepts.
func (g Geometry) MaxKeyLen() int {
	return min(MaxKeyUnits, (int(g.BlockSize)-keyOverhead)/2)
}

// blocksFor returns how many blocks an entry with the given key length (in
// code units) and value length occupies.
func (g Geometry) blocksFor(keyUnits int, valLen int) int64 {
	total := int64(nodeKeyOffset) + int64(keyUnits)*2 + int64(valLen)
	bs := int64(g.BlockSize)

	return (total + bs - 1) / bs
}

// segmentName validates a cache name and strips a leading "/".
func segmentName(name string) (string, error) {
	name = strings.TrimPrefix(name, "/")

	if name == "" {
		return "", fmt.Errorf("%w: name is required", ErrConfiguration)
	}

	if strings.ContainsRune(name, '/') || name == "." || name == ".." {
		return "", fmt.Errorf("%w: name %q must not contain path separators", ErrConfiguration, name)
	}

	return name, nil
}

// segmentDir resolves the directory holding segment files.
func segmentDir(dir string) string {
	if dir != "" {
		return dir
	}

	info, err := os.Stat(DefaultDir)
	if err == nil && info.IsDir() {
		return DefaultDir
	}

	return os.TempDir()
}

// SegmentPath returns the path of the segment file for name in dir, applying
// the same defaults as [Open].
func SegmentPath(dir, name string) (string, error) {
	base, err := segmentName(name)
	if err != nil {
		return "", err
	}

	return filepath.Join(segmentDir(dir), base), nil
}

func lockPath(segPath string) string {
	return segPath + ".lock"
}
