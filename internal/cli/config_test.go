package cli_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/calvinalkan/shmcache/internal/cli"
)

// Tests for print-config command.

func Test_Print_Config_Defaults_When_Invoked(t *testing.T) {
	t.Parallel()

	c := cli.NewCLI(t)
	stdout := c.MustRun("print-config")

	cli.AssertContains(t, stdout, "name=shmcache")
	cli.AssertContains(t, stdout, "segment="+c.SegmentPath("shmcache"))
	cli.AssertContains(t, stdout, "size=64M")
	cli.AssertContains(t, stdout, "block_shift=6")
	cli.AssertContains(t, stdout, "log_level=warn")
	cli.AssertContains(t, stdout, "(defaults only)")
}

func Test_Print_Config_From_Config_File_With_Comments_When_Invoked(t *testing.T) {
	t.Parallel()

	c := cli.NewCLI(t)
	c.WriteFile(".shmcache.json", `{
		// project cache
		"name": "sessions",
		"size": "2M",
		"block_shift": 10,
		"lock_timeout": "250ms",
	}`)

	stdout := c.MustRun("print-config")

	cli.AssertContains(t, stdout, "name=sessions")
	cli.AssertContains(t, stdout, "size=2M")
	cli.AssertContains(t, stdout, "block_shift=10")
	cli.AssertContains(t, stdout, "lock_timeout=250ms")
	cli.AssertContains(t, stdout, "project_config="+filepath.Join(c.Dir, ".shmcache.json"))
}

func Test_Print_Config_Explicit_Config_Flag_When_Invoked(t *testing.T) {
	t.Parallel()

	c := cli.NewCLI(t)
	c.WriteFile(".shmcache.json", `{"name": "ignored"}`)
	c.WriteFile("custom.json", `{"name": "custom"}`)

	stdout := c.MustRun("--config=custom.json", "print-config")

	cli.AssertContains(t, stdout, "name=custom")
	cli.AssertContains(t, stdout, "project_config="+filepath.Join(c.Dir, "custom.json"))
}

func Test_Print_Config_Flag_Overrides_File_When_Both_Set(t *testing.T) {
	t.Parallel()

	c := cli.NewCLI(t)
	c.WriteFile(".shmcache.json", `{"name": "from-file", "size": 1048576}`)

	stdout := c.MustRun("--name", "from-cli", "print-config")

	cli.AssertContains(t, stdout, "name=from-cli")
	cli.AssertContains(t, stdout, "size=1M")
}

func Test_Print_Config_Global_Config_When_XDG_Set(t *testing.T) {
	t.Parallel()

	c := cli.NewCLI(t)
	xdg := filepath.Join(c.Dir, "xdg")

	if err := os.MkdirAll(filepath.Join(xdg, "shmcache"), 0o750); err != nil {
		t.Fatal(err)
	}

	c.WriteFile(filepath.Join("xdg", "shmcache", "config.json"), `{"name": "global", "log_level": "debug"}`)
	c.WriteFile(".shmcache.json", `{"name": "project"}`)
	c.Env["XDG_CONFIG_HOME"] = xdg

	stdout := c.MustRun("print-config")

	cli.AssertContains(t, stdout, "name=project")
	cli.AssertContains(t, stdout, "log_level=debug")
	cli.AssertContains(t, stdout, "global_config="+filepath.Join(xdg, "shmcache", "config.json"))
}

func Test_Print_Config_Fails_When_Explicit_Config_Is_Missing(t *testing.T) {
	t.Parallel()

	c := cli.NewCLI(t)

	cli.AssertContains(t, c.MustFail("-c", "nope.json", "print-config"), "config file not found")
}

func Test_Print_Config_Fails_When_Config_Has_Unknown_Field(t *testing.T) {
	t.Parallel()

	c := cli.NewCLI(t)
	c.WriteFile(".shmcache.json", `{"ticket_dir": "x"}`)

	stderr := c.MustFail("print-config")

	cli.AssertContains(t, stderr, "invalid config file")
	cli.AssertContains(t, stderr, "ticket_dir")
}

func Test_Config_Name_Selects_Segment_When_Commands_Run(t *testing.T) {
	t.Parallel()

	c := cli.NewCLI(t)
	c.WriteFile(".shmcache.json", `{"name": "app", "size": "512K"}`)
	c.MustRun("set", "k", "1")

	if _, err := os.Stat(c.SegmentPath("app")); err != nil {
		t.Fatalf("segment for configured name missing: %v", err)
	}

	cli.AssertContains(t, c.MustFail("--name", "other", "get", "k"), "key not found")
}
