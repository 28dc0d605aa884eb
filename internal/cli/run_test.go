package cli_test

import (
	"testing"

	"github.com/calvinalkan/shmcache/internal/cli"
)

func Test_Run_Prints_Usage_When_No_Command_Given(t *testing.T) {
	t.Parallel()

	c := cli.NewCLI(t)
	stdout, stderr, exitCode := c.Run()

	if got, want := exitCode, 0; got != want {
		t.Errorf("exitCode=%d, want=%d", got, want)
	}

	if got, want := stderr, ""; got != want {
		t.Errorf("stderr=%q, want=%q", got, want)
	}

	cli.AssertContains(t, stdout, "Usage: shmcache")
	cli.AssertContains(t, stdout, "Commands:")
	cli.AssertContains(t, stdout, "get [--raw] <key>")
	cli.AssertContains(t, stdout, "serve-metrics")
	cli.AssertContains(t, stdout, "Global flags:")
}

func Test_Invalid_Global_Flag_When_Invoked(t *testing.T) {
	t.Parallel()

	c := cli.NewCLI(t)
	stdout, stderr, exitCode := c.Run("--invalid-flag", "keys")

	if got, want := exitCode, 1; got != want {
		t.Errorf("exitCode=%d, want=%d", got, want)
	}

	if got, want := stdout, ""; got != want {
		t.Errorf("stdout=%q, want=%q", got, want)
	}

	cli.AssertContains(t, stderr, "unknown flag")
	cli.AssertContains(t, stderr, "--invalid-flag")

	// Should show valid global options
	cli.AssertContains(t, stderr, "Global flags:")
	cli.AssertContains(t, stderr, "--help")
	cli.AssertContains(t, stderr, "--cwd")
	cli.AssertContains(t, stderr, "--config")
	cli.AssertContains(t, stderr, "--block-shift")
}

func Test_Unknown_Command_When_Invoked(t *testing.T) {
	t.Parallel()

	c := cli.NewCLI(t)
	stderr := c.MustFail("frobnicate")

	cli.AssertContains(t, stderr, "unknown command: frobnicate")
	cli.AssertContains(t, stderr, "Commands:")
}

func Test_Command_Help_When_Help_Flag_Given(t *testing.T) {
	t.Parallel()

	c := cli.NewCLI(t)
	stdout := c.MustRun("incr", "--help")

	cli.AssertContains(t, stdout, "Usage: shmcache incr <key> [delta]")
	cli.AssertContains(t, stdout, "wraps at 32 bits")
}

func Test_Command_Fails_When_Arguments_Are_Missing(t *testing.T) {
	t.Parallel()

	c := cli.NewCLI(t)

	cli.AssertContains(t, c.MustFail("get"), "usage: shmcache get [--raw] <key>")
	cli.AssertContains(t, c.MustFail("set", "only-key"), "usage: shmcache set")
	cli.AssertContains(t, c.MustFail("dump", "a", "b"), "usage: shmcache dump")
}

func Test_Global_Flags_Fail_When_Geometry_Is_Invalid(t *testing.T) {
	t.Parallel()

	c := cli.NewCLI(t)

	cli.AssertContains(t, c.MustFail("--size", "100K", "keys"), "at least 512 KB")
	cli.AssertContains(t, c.MustFail("--block-shift", "20", "keys"), "larger than 16 KB")
	cli.AssertContains(t, c.MustFail("--size", "lots", "keys"), "invalid argument")
	cli.AssertContains(t, c.MustFail("--log-level", "loud", "keys"), "log_level")
}
