package cli

import (
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/calvinalkan/shmcache/internal/config"
	"github.com/calvinalkan/shmcache/pkg/codec"
	"github.com/calvinalkan/shmcache/pkg/shmcache"
)

func mustEncode(t *testing.T, v any) []byte {
	t.Helper()

	data, err := codec.Encode(v)
	require.NoError(t, err)

	return data
}

func Test_Render_Marks_Cycles_When_Value_Contains_Itself(t *testing.T) {
	t.Parallel()

	obj := map[string]any{"name": "root"}
	obj["self"] = obj

	assert.Equal(t, `{"name":"root","self":"[Circular]"}`, render(mustEncode(t, obj)))
}

func Test_Render_Prints_Shared_Values_In_Full_When_Not_Cyclic(t *testing.T) {
	t.Parallel()

	shared := map[string]any{"n": 1}
	v := []any{shared, shared}

	assert.Equal(t, `[{"n":1},{"n":1}]`, render(mustEncode(t, v)))
}

func Test_Render_Handles_Values_JSON_Cannot_Express(t *testing.T) {
	t.Parallel()

	assert.Equal(t, `null`, render(mustEncode(t, codec.Undefined)))
	assert.Equal(t, `"NaN"`, render(mustEncode(t, math.NaN())))
	assert.Equal(t, `"+Inf"`, render(mustEncode(t, math.Inf(1))))
	assert.Equal(t, "plain text", render([]byte("plain text")))
}

func Test_ParseValue_Keeps_Integers_When_Parsing_JSON(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want any
		ok   bool
	}{
		{in: `42`, want: int64(42), ok: true},
		{in: `-1.5`, want: -1.5, ok: true},
		{in: `1e400`, want: "1e400", ok: true},
		{in: `{"a":[1,true,null]}`, want: map[string]any{"a": []any{int64(1), true, nil}}, ok: true},
		{in: `"s"`, want: "s", ok: true},
		{in: `hello`, ok: false},
		{in: `1 2`, ok: false},
		{in: ``, ok: false},
	}

	for _, tt := range tests {
		got, ok := parseValue(tt.in)

		if ok != tt.ok {
			t.Errorf("parseValue(%q) ok=%v, want %v", tt.in, ok, tt.ok)

			continue
		}

		if diff := cmp.Diff(tt.want, got); diff != "" {
			t.Errorf("parseValue(%q) mismatch (-want +got):\n%s", tt.in, diff)
		}
	}
}

func Test_Metrics_Handler_Serves_Segment_Stats_When_Scraped(t *testing.T) {
	t.Parallel()

	sess := &session{
		cfg: config.Config{
			Name:       "scraped",
			Dir:        t.TempDir(),
			Size:       config.ByteSize(shmcache.MinSize),
			BlockShift: shmcache.BlockShift4K,
		},
		logger: slog.New(slog.DiscardHandler),
	}

	defer func() { _ = sess.close() }()

	reg, err := metricsRegistry(sess)
	require.NoError(t, err)

	require.NoError(t, sess.cache.Set("a", []byte("1")))

	_, _, err = sess.cache.Get("a")
	require.NoError(t, err)

	srv := httptest.NewServer(metricsHandler(reg))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)

	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	AssertContains(t, string(body), `shmcache_up{cache="scraped"} 1`)
	AssertContains(t, string(body), `shmcache_entries{cache="scraped"} 1`)
	AssertContains(t, string(body), `shmcache_block_size_bytes{cache="scraped"} 4096`)
	AssertContains(t, string(body), `shmcache_hits_total{cache="scraped"} 1`)
}
