// Package shmcache provides a fixed-size LRU key-value cache that lives in a
// shared memory segment.
//
// Any number of processes may open the same named cache and see the same
// entries. There is no broker: the segment file is mapped MAP_SHARED and an
// advisory flock on a sidecar lock file serializes access.
//
// # Basic Usage
//
//	cache, err := shmcache.Open(shmcache.Options{
//	    Name: "sessions",
//	    Size: 64 << 20,
//	})
//	if err != nil {
//	    // [ErrConfiguration]: the segment exists with another geometry
//	}
//	defer cache.Close()
//
//	err = cache.Set("user:42", []byte("..."))
//	val, found, err := cache.Get("user:42")
//
//	// Structured values go through the codec.
//	err = cache.SetValue("env", map[string]any{"HOME": "/root"})
//	n, err := cache.Increase("hits", 1)
//
// # Layout
//
// The segment is carved into fixed-size blocks. A 128-byte header, a
// 65536-bucket hash table, a next-block array and a free-block bitmap come
// first; the blocks they overlap are never handed out. An entry occupies a
// chain of blocks: the first holds the entry header, the UTF-16 key and the
// start of the value, continuation blocks hold the rest.
//
// When the pool is full, least recently used entries are evicted whole
// until the new entry fits.
//
// # Concurrency
//
// Mutations and Get (which updates recency) take the lock exclusively.
// Contains, Keys, Dump, Len and Stats take it shared.
//
// # Crash Safety
//
// Every mutation sets a dirty flag in the header first and clears it last.
// A process that dies in between leaves the flag set; the next mutation
// finds it and formats the segment, and reads report nothing until then.
// A crash invalidates the cache contents, it never corrupts them.
package shmcache
