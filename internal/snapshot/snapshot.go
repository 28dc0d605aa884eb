// Package snapshot exports a cache's entries to a file and imports them back.
//
// A snapshot file is a snappy block holding:
//
//	"SHCS" | u32 version | u32 count | count × (u32 keylen | key | u32 vallen | value) | u32 crc32
//
// Integers are little-endian, keys are UTF-8, and the CRC-32 (IEEE) covers
// everything before it. Entries are written least recently used first so an
// import replays them into the same relative recency.
package snapshot

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"

	"github.com/golang/snappy"

	"github.com/calvinalkan/shmcache/internal/fs"
	"github.com/calvinalkan/shmcache/pkg/shmcache"
)

const (
	magic   = "SHCS"
	version = 1

	headerLen = len(magic) + 4 + 4
)

// ErrInvalid indicates a file that is not a readable snapshot.
var ErrInvalid = errors.New("snapshot: invalid file")

var le = binary.LittleEndian

// Source is the part of *shmcache.Cache Export reads.
type Source interface {
	Dump(prefix string) ([]shmcache.Entry, error)
}

// Sink is the part of *shmcache.Cache Import writes.
type Sink interface {
	Set(key string, val []byte) error
}

// Encode serializes entries into the snapshot format.
func Encode(entries []shmcache.Entry) []byte {
	size := headerLen + 4
	for _, e := range entries {
		size += 8 + len(e.Key) + len(e.Value)
	}

	buf := make([]byte, 0, size)
	buf = append(buf, magic...)
	buf = le.AppendUint32(buf, version)
	buf = le.AppendUint32(buf, uint32(len(entries)))

	for _, e := range entries {
		buf = le.AppendUint32(buf, uint32(len(e.Key)))
		buf = append(buf, e.Key...)
		buf = le.AppendUint32(buf, uint32(len(e.Value)))
		buf = append(buf, e.Value...)
	}

	buf = le.AppendUint32(buf, crc32.ChecksumIEEE(buf))

	return snappy.Encode(nil, buf)
}

// Decode parses a snapshot produced by Encode.
func Decode(data []byte) ([]shmcache.Entry, error) {
	payload, err := snappy.Decode(nil, data)
	if err != nil {
		return nil, fmt.Errorf("%w: decompress: %w", ErrInvalid, err)
	}

	if len(payload) < headerLen+4 || string(payload[:len(magic)]) != magic {
		return nil, fmt.Errorf("%w: bad magic", ErrInvalid)
	}

	body, sum := payload[:len(payload)-4], le.Uint32(payload[len(payload)-4:])
	if crc32.ChecksumIEEE(body) != sum {
		return nil, fmt.Errorf("%w: checksum mismatch", ErrInvalid)
	}

	if v := le.Uint32(body[4:]); v != version {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrInvalid, v)
	}

	count := le.Uint32(body[8:])
	pos := headerLen

	// Every entry needs at least its two length fields.
	if uint64(count)*8 > uint64(len(body)-pos) {
		return nil, fmt.Errorf("%w: entry count %d exceeds file", ErrInvalid, count)
	}

	field := func() ([]byte, error) {
		if len(body)-pos < 4 {
			return nil, fmt.Errorf("%w: truncated at offset %d", ErrInvalid, pos)
		}

		n := int(le.Uint32(body[pos:]))
		pos += 4

		if n < 0 || len(body)-pos < n {
			return nil, fmt.Errorf("%w: truncated at offset %d", ErrInvalid, pos)
		}

		b := body[pos : pos+n : pos+n]
		pos += n

		return b, nil
	}

	entries := make([]shmcache.Entry, 0, count)

	for range count {
		k, err := field()
		if err != nil {
			return nil, err
		}

		v, err := field()
		if err != nil {
			return nil, err
		}

		entries = append(entries, shmcache.Entry{Key: string(k), Value: v})
	}

	if pos != len(body) {
		return nil, fmt.Errorf("%w: %d trailing bytes", ErrInvalid, len(body)-pos)
	}

	return entries, nil
}

// Export writes every entry of src to path atomically and returns how many
// were written.
func Export(fsys fs.FS, src Source, path string) (int, error) {
	entries, err := src.Dump("")
	if err != nil {
		return 0, fmt.Errorf("dump: %w", err)
	}

	err = fsys.WriteFileAtomic(path, Encode(entries), 0o644)
	if err != nil {
		return 0, fmt.Errorf("write %s: %w", path, err)
	}

	return len(entries), nil
}

// Import reads the snapshot at path and stores its entries in dst in file
// order. It stops at the first failing Set and returns how many were stored.
func Import(fsys fs.FS, dst Sink, path string) (int, error) {
	data, err := fsys.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("read %s: %w", path, err)
	}

	entries, err := Decode(data)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", path, err)
	}

	for i, e := range entries {
		err = dst.Set(e.Key, e.Value)
		if err != nil {
			return i, fmt.Errorf("set %q: %w", e.Key, err)
		}
	}

	return len(entries), nil
}
