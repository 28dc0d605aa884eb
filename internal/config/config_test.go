package config_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/calvinalkan/shmcache/internal/config"
	"github.com/calvinalkan/shmcache/internal/fs"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()

	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o750))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
}

func Test_Load_Returns_Defaults_When_No_Files_Exist(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	cfg, err := config.Load(config.LoadInput{WorkDir: dir, Env: map[string]string{"HOME": dir}})
	require.NoError(t, err)

	if diff := cmp.Diff(config.Default(), cfg); diff != "" {
		t.Fatalf("config mismatch (-want +got):\n%s", diff)
	}
}

func Test_Load_Applies_Precedence_When_All_Layers_Set(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	xdg := filepath.Join(dir, "xdg")

	writeFile(t, filepath.Join(xdg, "shmcache", "config.json"), `{
		"name": "global",
		"size": "1M",
		"log_level": "info",
		"lock_timeout": "1s"
	}`)
	writeFile(t, filepath.Join(dir, config.FileName), `{
		// trailing commas and comments are fine
		"name": "project",
		"block_shift": 8,
		"dir": "segments",
	}`)

	name := "flag"
	timeout := config.Duration(50 * time.Millisecond)

	cfg, err := config.Load(config.LoadInput{
		WorkDir: dir,
		Env:     map[string]string{"XDG_CONFIG_HOME": xdg},
		Overrides: config.Overrides{
			Name:        &name,
			LockTimeout: &timeout,
		},
	})
	require.NoError(t, err)

	want := config.Config{
		Name:        "flag",
		Dir:         filepath.Join(dir, "segments"),
		Size:        1 << 20,
		BlockShift:  8,
		LockTimeout: config.Duration(50 * time.Millisecond),
		LogLevel:    "info",
		Sources: config.Sources{
			Global:  filepath.Join(xdg, "shmcache", "config.json"),
			Project: filepath.Join(dir, config.FileName),
		},
	}

	if diff := cmp.Diff(want, cfg); diff != "" {
		t.Fatalf("config mismatch (-want +got):\n%s", diff)
	}
}

func Test_Load_Uses_Home_Config_When_XDG_Unset(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, ".config", "shmcache", "config.json"), `{"name": "home"}`)

	cfg, err := config.Load(config.LoadInput{WorkDir: dir, Env: map[string]string{"HOME": dir}})
	require.NoError(t, err)

	assert.Equal(t, "home", cfg.Name)
	assert.Equal(t, filepath.Join(dir, ".config", "shmcache", "config.json"), cfg.Sources.Global)
}

func Test_Load_Returns_Error_When_Config_Is_Bad(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		content string
		path    string
		want    error
	}{
		{name: "explicit_missing", path: "missing.json", want: config.ErrConfigFileNotFound},
		{name: "not_jsonc", content: `{"name": `, want: config.ErrConfigInvalid},
		{name: "unknown_field", content: `{"nmae": "typo"}`, want: config.ErrConfigInvalid},
		{name: "explicit_empty_name", content: `{"name": ""}`, want: config.ErrNameEmpty},
		{name: "bad_size", content: `{"size": "12X"}`, want: config.ErrInvalidValue},
		{name: "negative_size", content: `{"size": -1}`, want: config.ErrInvalidValue},
		{name: "bad_duration", content: `{"lock_timeout": 5}`, want: config.ErrInvalidValue},
		{name: "negative_duration", content: `{"lock_timeout": "-1s"}`, want: config.ErrInvalidValue},
		{name: "too_small", content: `{"size": "256K"}`, want: config.ErrInvalidValue},
		{name: "bad_shift", content: `{"block_shift": 3}`, want: config.ErrInvalidValue},
		{name: "bad_level", content: `{"log_level": "chatty"}`, want: config.ErrInvalidValue},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			dir := t.TempDir()

			if tt.content != "" {
				writeFile(t, filepath.Join(dir, config.FileName), tt.content)
			}

			_, err := config.Load(config.LoadInput{
				WorkDir:    dir,
				ConfigPath: tt.path,
				Env:        map[string]string{},
			})
			if !errors.Is(err, tt.want) {
				t.Fatalf("Load: err=%v, want %v", err, tt.want)
			}
		})
	}
}

// memFS serves ReadFile from memory. Other methods are not used by Load.
type memFS struct {
	fs.FS

	files map[string]string
	err   error
}

func (m memFS) ReadFile(path string) ([]byte, error) {
	if m.err != nil {
		return nil, m.err
	}

	content, ok := m.files[path]
	if !ok {
		return nil, os.ErrNotExist
	}

	return []byte(content), nil
}

func Test_Load_Reads_Files_Through_FS_When_Given(t *testing.T) {
	t.Parallel()

	fsys := memFS{files: map[string]string{
		"/home/u/.config/shmcache/config.json": `{"log_level": "debug"}`,
		"/work/" + config.FileName:             `{"name": "mem", "size": "1M"}`,
	}}

	cfg, err := config.Load(config.LoadInput{
		WorkDir: "/work",
		Env:     map[string]string{"HOME": "/home/u"},
		FS:      fsys,
	})
	require.NoError(t, err)

	assert.Equal(t, "mem", cfg.Name)
	assert.Equal(t, config.ByteSize(1<<20), cfg.Size)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "/work/"+config.FileName, cfg.Sources.Project)
}

func Test_Load_Returns_ErrConfigFileRead_When_FS_Fails(t *testing.T) {
	t.Parallel()

	readErr := errors.New("disk on fire")

	_, err := config.Load(config.LoadInput{
		WorkDir: "/work",
		Env:     map[string]string{},
		FS:      memFS{err: readErr},
	})
	require.ErrorIs(t, err, config.ErrConfigFileRead)
	require.ErrorIs(t, err, readErr)
}

func Test_ParseByteSize_Accepts_Suffixes(t *testing.T) {
	t.Parallel()

	tests := map[string]config.ByteSize{
		"65536": 65536,
		"512K":  512 << 10,
		"512kb": 512 << 10,
		"64M":   64 << 20,
		"64MiB": 64 << 20,
		"1G":    1 << 30,
		" 2m ":  2 << 20,
	}

	for in, want := range tests {
		got, err := config.ParseByteSize(in)
		require.NoError(t, err, "input %q", in)
		assert.Equal(t, want, got, "input %q", in)
	}

	for _, in := range []string{"", "M", "-1K", "1T", "1.5M", "99999999999G"} {
		_, err := config.ParseByteSize(in)
		assert.ErrorIs(t, err, config.ErrInvalidValue, "input %q", in)
	}
}

func Test_ByteSize_String_Uses_Largest_Exact_Suffix(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "0", config.ByteSize(0).String())
	assert.Equal(t, "1000", config.ByteSize(1000).String())
	assert.Equal(t, "1536K", config.ByteSize(1536<<10).String())
	assert.Equal(t, "64M", config.ByteSize(64<<20).String())
	assert.Equal(t, "2G", config.ByteSize(2<<30).String())
}

func Test_Options_Maps_Config_Fields(t *testing.T) {
	t.Parallel()

	cfg := config.Config{
		Name:        "x",
		Dir:         "/tmp/seg",
		Size:        1 << 20,
		BlockShift:  10,
		LockTimeout: config.Duration(time.Second),
	}

	opts := cfg.Options(nil, nil)

	want := struct {
		Name        string
		Dir         string
		Size        int64
		BlockShift  uint32
		LockTimeout time.Duration
	}{"x", "/tmp/seg", 1 << 20, 10, time.Second}

	got := struct {
		Name        string
		Dir         string
		Size        int64
		BlockShift  uint32
		LockTimeout time.Duration
	}{opts.Name, opts.Dir, opts.Size, opts.BlockShift, opts.LockTimeout}

	if diff := cmp.Diff(want, got, cmpopts.EquateEmpty()); diff != "" {
		t.Fatalf("options mismatch (-want +got):\n%s", diff)
	}
}
