// Package config loads shmcache CLI configuration from JSONC files and
// command-line overrides.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/tailscale/hujson"

	"github.com/calvinalkan/shmcache/internal/fs"
	"github.com/calvinalkan/shmcache/pkg/shmcache"
)

// Config errors.
var (
	ErrConfigFileNotFound = errors.New("config file not found")
	ErrConfigFileRead     = errors.New("cannot read config file")
	ErrConfigInvalid      = errors.New("invalid config file")
	ErrNameEmpty          = errors.New("name cannot be empty")
	ErrInvalidValue       = errors.New("invalid config value")
)

// Config holds all configuration options.
type Config struct {
	// From config files (serialized)
	Name        string   `json:"name"`
	Dir         string   `json:"dir,omitempty"` // relative to the work dir
	Size        ByteSize `json:"size"`
	BlockShift  uint32   `json:"block_shift,omitempty"`
	LockTimeout Duration `json:"lock_timeout,omitempty"`
	LogLevel    string   `json:"log_level,omitempty"`

	// Sources tracks which config files were loaded (for diagnostics)
	Sources Sources `json:"-"`
}

// Sources tracks which config files were loaded.
type Sources struct {
	Global  string // Path to global config if loaded, empty otherwise
	Project string // Path to project or explicit config if loaded, empty otherwise
}

// Default returns the default configuration.
func Default() Config {
	return Config{
		Name:     "shmcache",
		Size:     64 << 20,
		LogLevel: "warn",
	}
}

// FileName is the project config file name.
const FileName = ".shmcache.json"

// globalPath returns the path to the global config file.
// Uses $XDG_CONFIG_HOME/shmcache/config.json if set, otherwise
// ~/.config/shmcache/config.json. Returns "" if neither is known.
func globalPath(env map[string]string) string {
	if xdg := env["XDG_CONFIG_HOME"]; xdg != "" {
		return filepath.Join(xdg, "shmcache", "config.json")
	}

	if home := env["HOME"]; home != "" {
		return filepath.Join(home, ".config", "shmcache", "config.json")
	}

	return ""
}

// Overrides are values set on the command line. Nil fields are unset.
type Overrides struct {
	Name        *string
	Dir         *string
	Size        *ByteSize
	BlockShift  *uint32
	LockTimeout *Duration
	LogLevel    *string
}

// LoadInput holds the inputs for Load.
type LoadInput struct {
	WorkDir    string            // directory searched for .shmcache.json; "" means os.Getwd()
	ConfigPath string            // -c/--config flag value
	Env        map[string]string // environment variables
	Overrides  Overrides
	FS         fs.FS             // nil means fs.NewReal()
}

// Load loads configuration with the following precedence (highest wins):
// 1. Defaults
// 2. Global user config ($XDG_CONFIG_HOME/shmcache/config.json)
// 3. Project config file (.shmcache.json in the work dir, if it exists)
// 4. Explicit config file via ConfigPath (replaces 3, must exist)
// 5. CLI overrides.
func Load(input LoadInput) (Config, error) {
	workDir := input.WorkDir
	if workDir == "" {
		var err error

		workDir, err = os.Getwd()
		if err != nil {
			return Config{}, fmt.Errorf("cannot get working directory: %w", err)
		}
	}

	fsys := input.FS
	if fsys == nil {
		fsys = fs.NewReal()
	}

	cfg := Default()

	if path := globalPath(input.Env); path != "" {
		global, loaded, err := loadFile(fsys, path, false)
		if err != nil {
			return Config{}, err
		}

		if loaded {
			cfg.Sources.Global = path
			cfg = merge(cfg, global)
		}
	}

	projectPath, mustExist := filepath.Join(workDir, FileName), false

	if input.ConfigPath != "" {
		projectPath, mustExist = input.ConfigPath, true
		if !filepath.IsAbs(projectPath) {
			projectPath = filepath.Join(workDir, projectPath)
		}
	}

	project, loaded, err := loadFile(fsys, projectPath, mustExist)
	if err != nil {
		return Config{}, err
	}

	if loaded {
		cfg.Sources.Project = projectPath
		cfg = merge(cfg, project)
	}

	cfg = apply(cfg, input.Overrides)

	if cfg.Dir != "" && !filepath.IsAbs(cfg.Dir) {
		cfg.Dir = filepath.Join(workDir, cfg.Dir)
	}

	err = Validate(cfg)
	if err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// loadFile reads a config file. A missing file is an error only if
// mustExist.
func loadFile(fsys fs.FS, path string, mustExist bool) (Config, bool, error) {
	data, err := fsys.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			if mustExist {
				return Config{}, false, fmt.Errorf("%w: %s", ErrConfigFileNotFound, path)
			}

			return Config{}, false, nil
		}

		return Config{}, false, fmt.Errorf("%w %s: %w", ErrConfigFileRead, path, err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return Config{}, false, fmt.Errorf("%w %s: %w", ErrConfigInvalid, path, err)
	}

	return cfg, true, nil
}

// Parse decodes a JSONC config document. Unknown fields are rejected.
func Parse(data []byte) (Config, error) {
	standardized, err := hujson.Standardize(data)
	if err != nil {
		return Config{}, fmt.Errorf("invalid JSONC: %w", err)
	}

	var cfg Config

	dec := json.NewDecoder(strings.NewReader(string(standardized)))
	dec.DisallowUnknownFields()

	err = dec.Decode(&cfg)
	if err != nil {
		return Config{}, fmt.Errorf("invalid JSON: %w", err)
	}

	// An explicit "name": "" would otherwise silently keep the default.
	var raw map[string]any

	_ = json.Unmarshal(standardized, &raw)

	if v, ok := raw["name"].(string); ok && v == "" {
		return Config{}, ErrNameEmpty
	}

	return cfg, nil
}

func merge(base, overlay Config) Config {
	if overlay.Name != "" {
		base.Name = overlay.Name
	}

	if overlay.Dir != "" {
		base.Dir = overlay.Dir
	}

	if overlay.Size != 0 {
		base.Size = overlay.Size
	}

	if overlay.BlockShift != 0 {
		base.BlockShift = overlay.BlockShift
	}

	if overlay.LockTimeout != 0 {
		base.LockTimeout = overlay.LockTimeout
	}

	if overlay.LogLevel != "" {
		base.LogLevel = overlay.LogLevel
	}

	return base
}

func apply(cfg Config, o Overrides) Config {
	if o.Name != nil {
		cfg.Name = *o.Name
	}

	if o.Dir != nil {
		cfg.Dir = *o.Dir
	}

	if o.Size != nil {
		cfg.Size = *o.Size
	}

	if o.BlockShift != nil {
		cfg.BlockShift = *o.BlockShift
	}

	if o.LockTimeout != nil {
		cfg.LockTimeout = *o.LockTimeout
	}

	if o.LogLevel != nil {
		cfg.LogLevel = *o.LogLevel
	}

	return cfg
}

// Validate checks cfg for values Open would reject.
func Validate(cfg Config) error {
	if cfg.Name == "" {
		return ErrNameEmpty
	}

	if _, err := ParseLevel(cfg.LogLevel); err != nil {
		return err
	}

	if cfg.LockTimeout < 0 {
		return fmt.Errorf("%w: lock_timeout %s is negative", ErrInvalidValue, cfg.LockTimeout)
	}

	_, err := shmcache.ComputeGeometry(int64(cfg.Size), cfg.BlockShift)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidValue, err)
	}

	return nil
}

// ParseLevel maps a log level name to a slog level.
func ParseLevel(s string) (slog.Level, error) {
	var level slog.Level

	err := level.UnmarshalText([]byte(s))
	if err != nil {
		return 0, fmt.Errorf("%w: log_level %q (want debug, info, warn or error)", ErrInvalidValue, s)
	}

	return level, nil
}

// Options returns the shmcache options described by cfg.
func (c Config) Options(logger *slog.Logger, metrics shmcache.Metrics) shmcache.Options {
	return shmcache.Options{
		Name:        c.Name,
		Dir:         c.Dir,
		Size:        int64(c.Size),
		BlockShift:  c.BlockShift,
		LockTimeout: c.LockTimeout.Std(),
		Logger:      logger,
		Metrics:     metrics,
	}
}
