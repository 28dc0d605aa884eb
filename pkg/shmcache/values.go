package shmcache

import (
	"errors"
	"fmt"

	"github.com/calvinalkan/shmcache/pkg/codec"
)

// SetValue encodes v with [codec.Encode] and stores it under key.
func (c *Cache) SetValue(key string, v any) error {
	data, err := codec.Encode(v)
	if err != nil {
		return fmt.Errorf("encode %q: %w", key, err)
	}

	return c.Set(key, data)
}

// GetValue returns the decoded value stored under key.
func (c *Cache) GetValue(key string) (any, bool, error) {
	data, found, err := c.Get(key)
	if err != nil || !found {
		return nil, false, err
	}

	v, err := codec.Decode(data)
	if err != nil {
		return nil, false, fmt.Errorf("decode %q: %w", key, err)
	}

	return v, true, nil
}

// DumpValues is [Cache.Dump] with every value decoded. Entries whose value
// does not decode are skipped and reported in the returned error.
func (c *Cache) DumpValues(prefix string) (map[string]any, error) {
	entries, err := c.Dump(prefix)
	if err != nil {
		return nil, err
	}

	values := make(map[string]any, len(entries))

	var errs []error

	for _, e := range entries {
		v, err := codec.Decode(e.Value)
		if err != nil {
			errs = append(errs, fmt.Errorf("decode %q: %w", e.Key, err))

			continue
		}

		values[e.Key] = v
	}

	return values, errors.Join(errs...)
}
