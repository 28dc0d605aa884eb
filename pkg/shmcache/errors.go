package shmcache

import "errors"

// Sentinel errors returned by shmcache operations.
//
// Callers should use [errors.Is] to check error types:
//
//	if errors.Is(err, shmcache.ErrConfiguration) {
//	    shmcache.Release(dir, name)
//	    // recreate the cache with the new geometry
//	}
var (
	// ErrConfiguration indicates invalid options, or a segment that already
	// exists with a different size or block size.
	//
	// Geometry is fixed when a segment is created. Recovery: open with the
	// original geometry, or [Release] the segment and recreate it.
	ErrConfiguration = errors.New("shmcache: configuration error")

	// ErrKeyTooLong indicates a key longer than 256 UTF-16 code units, or one
	// that does not fit in the first block ((block size - 32) / 2 units).
	//
	// This is a programming error; keys are never truncated.
	ErrKeyTooLong = errors.New("shmcache: key too long")

	// ErrValueTooLarge indicates an entry that would not fit even if every
	// other entry were evicted.
	ErrValueTooLarge = errors.New("shmcache: value too large")

	// ErrResource indicates that the backing file could not be created,
	// sized, mapped or removed. The OS error is wrapped unmodified.
	ErrResource = errors.New("shmcache: resource error")

	// ErrLock indicates the cross-process lock could not be acquired.
	ErrLock = errors.New("shmcache: lock failure")

	// ErrCorrupt indicates an impossible structural state in the segment.
	// When found during a mutation the segment is reformatted before this
	// error is returned; readers only report it.
	ErrCorrupt = errors.New("shmcache: corrupt segment")

	// ErrClosed indicates the [Cache] has already been closed.
	//
	// This is a programming error.
	ErrClosed = errors.New("shmcache: closed")
)

// Kind classifies an error returned by this package.
type Kind int

// Error kinds, one per sentinel error.
const (
	KindUnknown Kind = iota
	KindConfiguration
	KindKeyTooLong
	KindValueTooLarge
	KindResource
	KindLock
	KindCorrupt
	KindClosed
)

var kindSentinels = []struct {
	kind Kind
	err  error
	name string
}{
	{KindConfiguration, ErrConfiguration, "ConfigurationError"},
	{KindKeyTooLong, ErrKeyTooLong, "KeyTooLong"},
	{KindValueTooLarge, ErrValueTooLarge, "ValueTooLarge"},
	{KindResource, ErrResource, "ResourceError"},
	{KindLock, ErrLock, "LockFailure"},
	{KindCorrupt, ErrCorrupt, "Corrupt"},
	{KindClosed, ErrClosed, "Closed"},
}

func (k Kind) String() string {
	for _, s := range kindSentinels {
		if s.kind == k {
			return s.name
		}
	}

	return "Unknown"
}

// KindOf returns the kind of err, or [KindUnknown] if err does not wrap one
// of this package's sentinels. Together with err.Error() it gives the
// (kind, message) pair collaborators report.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}

	for _, s := range kindSentinels {
		if errors.Is(err, s.err) {
			return s.kind
		}
	}

	return KindUnknown
}
