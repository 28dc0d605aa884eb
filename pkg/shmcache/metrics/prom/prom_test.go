package prom_test

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/calvinalkan/shmcache/pkg/shmcache"
	"github.com/calvinalkan/shmcache/pkg/shmcache/metrics/prom"
)

// gathered returns the value of every single-sample family in reg, keyed by
// family name.
func gathered(t *testing.T, reg *prometheus.Registry) map[string]float64 {
	t.Helper()

	families, err := reg.Gather()
	require.NoError(t, err)

	out := make(map[string]float64, len(families))

	for _, f := range families {
		require.Len(t, f.GetMetric(), 1, "family %s", f.GetName())

		m := f.GetMetric()[0]

		switch {
		case m.GetCounter() != nil:
			out[f.GetName()] = m.GetCounter().GetValue()
		case m.GetGauge() != nil:
			out[f.GetName()] = m.GetGauge().GetValue()
		}
	}

	return out
}

func Test_Adapter_Counts_Cache_Operations(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	adapter := prom.New(reg, "shmcache", "test", prometheus.Labels{"cache": "unit"})

	c, err := shmcache.Open(shmcache.Options{
		Name:       "prom",
		Dir:        t.TempDir(),
		Size:       shmcache.MinSize,
		BlockShift: shmcache.BlockShift4K,
		Metrics:    adapter,
	})
	require.NoError(t, err)

	defer func() { _ = c.Close() }()

	require.NoError(t, c.Set("a", []byte("1")))

	_, _, err = c.Get("a")
	require.NoError(t, err)

	_, _, err = c.Get("b")
	require.NoError(t, err)

	got := gathered(t, reg)

	assert.Equal(t, 1.0, got["shmcache_test_hits_total"])
	assert.Equal(t, 1.0, got["shmcache_test_misses_total"])
	assert.Equal(t, 0.0, got["shmcache_test_evictions_total"])
	assert.Equal(t, 1.0, got["shmcache_test_last_entries"])
	assert.Equal(t, 1.0, got["shmcache_test_last_blocks_used"])
}

func Test_Collector_Reports_Segment_Stats_On_Scrape(t *testing.T) {
	t.Parallel()

	c, err := shmcache.Open(shmcache.Options{
		Name:       "collect",
		Dir:        t.TempDir(),
		Size:       shmcache.MinSize,
		BlockShift: shmcache.BlockShift4K,
	})
	require.NoError(t, err)

	defer func() { _ = c.Close() }()

	reg := prometheus.NewRegistry()
	reg.MustRegister(prom.NewCollector(c, "shmcache", "", nil))

	require.NoError(t, c.Set("a", []byte("1")))
	require.NoError(t, c.Set("b", []byte("2")))

	got := gathered(t, reg)

	assert.Equal(t, 1.0, got["shmcache_up"])
	assert.Equal(t, 2.0, got["shmcache_entries"])
	assert.Equal(t, 2.0, got["shmcache_blocks_used"])
	assert.Equal(t, 63.0, got["shmcache_blocks_available"])
	assert.Equal(t, 4096.0, got["shmcache_block_size_bytes"])
	assert.Equal(t, 0.0, got["shmcache_dirty"])
}

type failingSource struct{}

func (failingSource) Stats() (shmcache.Stats, error) {
	return shmcache.Stats{}, errors.New("gone")
}

func Test_Collector_Reports_Down_When_Stats_Fail(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	reg.MustRegister(prom.NewCollector(failingSource{}, "shmcache", "", nil))

	got := gathered(t, reg)

	assert.Equal(t, map[string]float64{"shmcache_up": 0}, got)
}
