package snapshot_test

import (
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/golang/snappy"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/calvinalkan/shmcache/internal/fs"
	"github.com/calvinalkan/shmcache/internal/snapshot"
	"github.com/calvinalkan/shmcache/pkg/shmcache"
)

func openCache(t *testing.T, shift uint32) *shmcache.Cache {
	t.Helper()

	c, err := shmcache.Open(shmcache.Options{
		Name:       "snap",
		Dir:        t.TempDir(),
		Size:       shmcache.MinSize,
		BlockShift: shift,
	})
	require.NoError(t, err)

	t.Cleanup(func() { _ = c.Close() })

	return c
}

func Test_Export_Then_Import_Restores_Entries_When_Cache_Was_Cleared(t *testing.T) {
	t.Parallel()

	c := openCache(t, shmcache.BlockShift1K)
	fsys := fs.NewReal()
	path := filepath.Join(t.TempDir(), "cache.snap")

	require.NoError(t, c.Set("a", []byte("1")))
	require.NoError(t, c.SetValue("env", map[string]any{"HOME": "/root"}))
	require.NoError(t, c.Set("big", []byte(strings.Repeat("x", 5000))))
	require.NoError(t, c.Set("empty", nil))

	_, _, err := c.Get("a")
	require.NoError(t, err)

	before, err := c.Dump("")
	require.NoError(t, err)

	n, err := snapshot.Export(fsys, c, path)
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	require.NoError(t, c.Clear())

	n, err = snapshot.Import(fsys, c, path)
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	after, err := c.Dump("")
	require.NoError(t, err)

	if diff := cmp.Diff(before, after); diff != "" {
		t.Fatalf("entries differ after import (-before +after):\n%s", diff)
	}
}

func Test_Decode_Returns_ErrInvalid_When_File_Is_Damaged(t *testing.T) {
	t.Parallel()

	good := snapshot.Encode([]shmcache.Entry{{Key: "k", Value: []byte("v")}})

	payload, err := snappy.Decode(nil, good)
	require.NoError(t, err)

	flipped := append([]byte(nil), payload...)
	flipped[len(flipped)-6] ^= 0xFF

	badMagic := append([]byte(nil), payload...)
	badMagic[0] = 'X'

	tests := []struct {
		name string
		data []byte
	}{
		{name: "not_snappy", data: []byte("plain text")},
		{name: "empty_payload", data: snappy.Encode(nil, nil)},
		{name: "bad_magic", data: snappy.Encode(nil, badMagic)},
		{name: "checksum_mismatch", data: snappy.Encode(nil, flipped)},
		{name: "truncated", data: snappy.Encode(nil, payload[:len(payload)-3])},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := snapshot.Decode(tt.data)
			if !errors.Is(err, snapshot.ErrInvalid) {
				t.Fatalf("Decode: err=%v, want %v", err, snapshot.ErrInvalid)
			}
		})
	}
}

func Test_Import_Stops_At_First_Failure_When_Entry_Does_Not_Fit(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "long.snap")
	fsys := fs.NewReal()

	entries := []shmcache.Entry{
		{Key: "short", Value: []byte("ok")},
		{Key: strings.Repeat("k", 40), Value: []byte("too long for 64 byte blocks")},
		{Key: "never", Value: []byte("reached")},
	}
	require.NoError(t, fsys.WriteFileAtomic(path, snapshot.Encode(entries), 0o644))

	c := openCache(t, shmcache.BlockShift64)

	n, err := snapshot.Import(fsys, c, path)
	require.ErrorIs(t, err, shmcache.ErrKeyTooLong)
	assert.Equal(t, 1, n)

	keys, err := c.Keys()
	require.NoError(t, err)
	assert.Equal(t, []string{"short"}, keys)
}
