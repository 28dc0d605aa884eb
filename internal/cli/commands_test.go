package cli_test

import (
	"errors"
	"io/fs"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/calvinalkan/shmcache/internal/cli"
)

func Test_Set_Then_Get_Prints_JSON_When_Value_Is_JSON(t *testing.T) {
	t.Parallel()

	c := cli.NewCLI(t)
	c.MustRun("set", "doc", `{"b":[1,2.5,"x"],"a":null}`)

	assert.Equal(t, `{"a":null,"b":[1,2.5,"x"]}`, c.MustRun("get", "doc"))
}

func Test_Set_Stores_String_When_Value_Is_Not_JSON(t *testing.T) {
	t.Parallel()

	c := cli.NewCLI(t)
	c.MustRun("set", "greeting", "hello")

	assert.Equal(t, `"hello"`, c.MustRun("get", "greeting"))
}

func Test_Set_Raw_Stores_Bytes_Unchanged_When_Raw_Flag_Given(t *testing.T) {
	t.Parallel()

	c := cli.NewCLI(t)
	c.MustRun("set", "--raw", "plain", "hello")

	assert.Equal(t, "hello", c.MustRun("get", "plain"))
	assert.Equal(t, "hello", c.MustRun("get", "--raw", "plain"))
}

func Test_Set_Prints_Previous_When_Print_Previous_Flag_Given(t *testing.T) {
	t.Parallel()

	c := cli.NewCLI(t)

	assert.Empty(t, c.MustRun("set", "--print-previous", "k", "1"))
	assert.Equal(t, "1", c.MustRun("set", "--print-previous", "k", "2"))
	assert.Equal(t, "2", c.MustRun("get", "k"))
}

func Test_Get_Fails_When_Key_Is_Absent(t *testing.T) {
	t.Parallel()

	c := cli.NewCLI(t)

	cli.AssertContains(t, c.MustFail("get", "missing"), "key not found: missing")
}

func Test_Del_And_Has_Report_Presence_When_Invoked(t *testing.T) {
	t.Parallel()

	c := cli.NewCLI(t)
	c.MustRun("set", "k", "1")

	assert.Equal(t, "true", c.MustRun("has", "k"))
	assert.Equal(t, "true", c.MustRun("del", "k"))
	assert.Equal(t, "false", c.MustRun("del", "k"))
	assert.Equal(t, "false", c.MustRun("has", "k"))
}

func Test_Incr_Counts_When_Invoked_Repeatedly(t *testing.T) {
	t.Parallel()

	c := cli.NewCLI(t)

	assert.Equal(t, "1", c.MustRun("incr", "n"))
	assert.Equal(t, "6", c.MustRun("incr", "n", "5"))
	assert.Equal(t, "-4", c.MustRun("incr", "n", "-10"))
	assert.Equal(t, "-4", c.MustRun("get", "n"))

	cli.AssertContains(t, c.MustFail("incr", "n", "many"), "not a 32-bit integer")
	cli.AssertContains(t, c.MustFail("incr", "n", "4294967296"), "not a 32-bit integer")
}

func Test_Keys_Lists_Least_Recent_First_When_Get_Touches_Entry(t *testing.T) {
	t.Parallel()

	c := cli.NewCLI(t)
	c.MustRun("set", "a", "1")
	c.MustRun("set", "b", "2")
	c.MustRun("set", "c", "3")
	c.MustRun("get", "a")

	assert.Equal(t, "b\nc\na", c.MustRun("keys"))
}

func Test_Dump_Filters_By_Prefix_When_Prefix_Given(t *testing.T) {
	t.Parallel()

	c := cli.NewCLI(t)
	c.MustRun("set", "user:1", `"ann"`)
	c.MustRun("set", "other", "0")
	c.MustRun("set", "--raw", "user:2", "bob")

	assert.Equal(t, "user:1\t\"ann\"\nuser:2\tbob", c.MustRun("dump", "user:"))
	assert.Equal(t, 3, strings.Count(c.MustRun("dump"), "\n")+1)
}

func Test_Clear_Removes_All_Entries_When_Invoked(t *testing.T) {
	t.Parallel()

	c := cli.NewCLI(t)
	c.MustRun("set", "a", "1")
	c.MustRun("set", "b", "2")
	c.MustRun("clear")

	assert.Empty(t, c.MustRun("keys"))
	cli.AssertContains(t, c.MustRun("stats"), "entries=0")
}

func Test_Stats_Fails_When_Geometry_Differs_From_Segment(t *testing.T) {
	t.Parallel()

	c := cli.NewCLI(t)
	c.MustRun("set", "a", "1")

	cli.AssertContains(t, c.MustFail("--size", "512K", "stats"), "initialized with different")
}

func Test_Stats_Reports_Geometry_When_Invoked(t *testing.T) {
	t.Parallel()

	c := cli.NewCLI(t)
	c.MustRun("--size", "512K", "--block-shift", "12", "set", "a", "1")

	stdout := c.MustRun("--size", "512K", "--block-shift", "12", "stats")

	cli.AssertContains(t, stdout, "path="+c.SegmentPath("shmcache"))
	cli.AssertContains(t, stdout, "block_size=4096")
	cli.AssertContains(t, stdout, "blocks_total=128")
	cli.AssertContains(t, stdout, "blocks_available=63")
	cli.AssertContains(t, stdout, "entries=1")
	cli.AssertContains(t, stdout, "blocks_used=1")
	cli.AssertContains(t, stdout, "dirty=false")
}

func Test_Release_Removes_Segment_Files_When_Invoked(t *testing.T) {
	t.Parallel()

	c := cli.NewCLI(t)
	c.MustRun("set", "k", "1")

	_, err := os.Stat(c.SegmentPath("shmcache"))
	require.NoError(t, err)

	c.MustRun("release")

	_, err = os.Stat(c.SegmentPath("shmcache"))
	assert.True(t, errors.Is(err, fs.ErrNotExist), "segment still exists: %v", err)

	_, err = os.Stat(c.SegmentPath("shmcache.lock"))
	assert.True(t, errors.Is(err, fs.ErrNotExist), "lock file still exists: %v", err)

	c.MustFail("get", "k")
}

func Test_Export_Then_Import_Restores_Entries_When_Cache_Was_Cleared(t *testing.T) {
	t.Parallel()

	c := cli.NewCLI(t)
	c.MustRun("set", "a", "1")
	c.MustRun("set", "b", `{"x":true}`)
	c.MustRun("set", "--raw", "c", "raw")

	assert.Equal(t, "exported 3 entries", c.MustRun("export", "backup.snap"))

	c.MustRun("clear")

	assert.Equal(t, "imported 3 entries", c.MustRun("import", "backup.snap"))
	assert.Equal(t, "a\nb\nc", c.MustRun("keys"))
	assert.Equal(t, `{"x":true}`, c.MustRun("get", "b"))
	assert.Equal(t, "raw", c.MustRun("get", "c"))
}

func Test_Import_Fails_When_File_Is_Missing(t *testing.T) {
	t.Parallel()

	c := cli.NewCLI(t)

	cli.AssertContains(t, c.MustFail("import", "nope.snap"), "nope.snap")
}

func Test_Import_Fails_When_File_Is_Not_A_Snapshot(t *testing.T) {
	t.Parallel()

	c := cli.NewCLI(t)
	c.WriteFile("bad.snap", "definitely not snappy")

	cli.AssertContains(t, c.MustFail("import", "bad.snap"), "snapshot: invalid file")
}

func Test_Bench_Reports_Throughput_When_Invoked(t *testing.T) {
	t.Parallel()

	c := cli.NewCLI(t)
	stdout := c.MustRun("--size", "1M", "bench", "--workers", "3", "--ops", "200", "--keys", "50")

	cli.AssertContains(t, stdout, "workers=3 keys=50")
	cli.AssertContains(t, stdout, "ops=600 ")
	cli.AssertContains(t, stdout, "hit_rate=")
}

func Test_Bench_Fails_When_Options_Are_Out_Of_Range(t *testing.T) {
	t.Parallel()

	c := cli.NewCLI(t)

	cli.AssertContains(t, c.MustFail("bench", "--workers", "0"), "must be positive")
	cli.AssertContains(t, c.MustFail("bench", "--reads", "101"), "--reads")
}
