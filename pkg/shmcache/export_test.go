package shmcache

// Export internal functions and variables for testing.
// This file is only compiled during tests.

// SetDirtyForTesting marks the segment as if a writer died mid-mutation.
func SetDirtyForTesting(c *Cache) {
	c.seg.setDirty(true)
}

// ScribbleBucketForTesting points the bucket of key at a block outside the
// pool.
func ScribbleBucketForTesting(c *Cache, key string) {
	k, err := c.key(key)
	if err != nil {
		panic(err)
	}

	c.seg.setBucket(k.hash&bucketMask, c.seg.geo.BlocksTotal+1)
}

// HashKeyForTesting returns the bucket hash of key.
func HashKeyForTesting(key string) uint32 {
	k, err := encodeKey(key, Geometry{BlockSize: keyOverhead + 2*MaxKeyUnits})
	if err != nil {
		panic(err)
	}

	return k.hash
}

// CheckFitsForTesting runs the entry size check for a key and value length
// against geo without mapping a segment.
func CheckFitsForTesting(geo Geometry, key string, valLen int) error {
	k, err := encodeKey(key, geo)
	if err != nil {
		return err
	}

	_, err = newSegment(nil, geo).checkFits(k, valLen)

	return err
}
