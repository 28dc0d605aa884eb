// Package cli implements the shmcache command-line tool.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	flag "github.com/spf13/pflag"

	"github.com/calvinalkan/shmcache/internal/config"
	"github.com/calvinalkan/shmcache/pkg/shmcache"
)

// CLI errors.
var (
	ErrUsage          = errors.New("wrong arguments")
	ErrUnknownCommand = errors.New("unknown command")
)

// session holds what every command of one invocation shares. The cache is
// opened on first use so print-config and release never attach.
type session struct {
	cfg     config.Config
	workDir string
	env     map[string]string
	in      io.Reader
	logger  *slog.Logger
	metrics shmcache.Metrics

	cache *shmcache.Cache
}

func (s *session) open() (*shmcache.Cache, error) {
	if s.cache != nil {
		return s.cache, nil
	}

	c, err := shmcache.Open(s.cfg.Options(s.logger, s.metrics))
	if err != nil {
		return nil, fmt.Errorf("open cache %q: %w", s.cfg.Name, err)
	}

	s.cache = c

	return c, nil
}

// path resolves p against the work dir.
func (s *session) path(p string) string {
	if filepath.IsAbs(p) {
		return p
	}

	return filepath.Join(s.workDir, p)
}

func (s *session) close() error {
	if s.cache == nil {
		return nil
	}

	err := s.cache.Close()
	s.cache = nil

	return err
}

// globalFlags are parsed before the command name.
type globalFlags struct {
	set *flag.FlagSet

	help        bool
	workDir     string
	configPath  string
	name        string
	dir         string
	size        config.ByteSize
	blockShift  uint32
	lockTimeout config.Duration
	logLevel    string
}

func newGlobalFlags() *globalFlags {
	g := &globalFlags{set: flag.NewFlagSet("shmcache", flag.ContinueOnError)}

	g.set.SetInterspersed(false)
	g.set.SetOutput(&strings.Builder{})
	g.set.BoolVarP(&g.help, "help", "h", false, "Show help")
	g.set.StringVarP(&g.workDir, "cwd", "C", "", "Run as if started in `dir`")
	g.set.StringVarP(&g.configPath, "config", "c", "", "Use specified config `file`")
	g.set.StringVar(&g.name, "name", "", "Cache `name`")
	g.set.StringVar(&g.dir, "dir", "", "Directory holding the segment (default /dev/shm)")
	g.set.Var(&g.size, "size", "Segment size, e.g. 64M")
	g.set.Uint32Var(&g.blockShift, "block-shift", 0, "log2 of the block size (6..14)")
	g.set.Var(&g.lockTimeout, "lock-timeout", "Give up waiting for the lock after this long")
	g.set.StringVar(&g.logLevel, "log-level", "", "Log level: debug, info, warn, error")

	return g
}

func (g *globalFlags) overrides() config.Overrides {
	var o config.Overrides

	if g.set.Changed("name") {
		o.Name = &g.name
	}

	if g.set.Changed("dir") {
		o.Dir = &g.dir
	}

	if g.set.Changed("size") {
		o.Size = &g.size
	}

	if g.set.Changed("block-shift") {
		o.BlockShift = &g.blockShift
	}

	if g.set.Changed("lock-timeout") {
		o.LockTimeout = &g.lockTimeout
	}

	if g.set.Changed("log-level") {
		o.LogLevel = &g.logLevel
	}

	return o
}

// Run is the main entry point. Returns exit code.
func Run(in io.Reader, out io.Writer, errOut io.Writer, args []string, env map[string]string, sigCh <-chan os.Signal) int {
	g := newGlobalFlags()

	err := g.set.Parse(args[1:])
	if err != nil {
		fprintln(errOut, "error:", err)
		fprintln(errOut)
		printUsage(errOut, g, nil)

		return 1
	}

	rest := g.set.Args()

	if g.help || len(rest) == 0 {
		printUsage(out, g, commandList(&session{}))

		return 0
	}

	cfg, err := config.Load(config.LoadInput{
		WorkDir:    g.workDir,
		ConfigPath: g.configPath,
		Env:        env,
		Overrides:  g.overrides(),
	})
	if err != nil {
		fprintln(errOut, "error:", err)

		return 1
	}

	workDir := g.workDir
	if workDir == "" {
		workDir, err = os.Getwd()
		if err != nil {
			fprintln(errOut, "error: cannot get working directory:", err)

			return 1
		}
	}

	level, _ := config.ParseLevel(cfg.LogLevel)

	sess := &session{
		cfg:     cfg,
		workDir: workDir,
		env:     env,
		in:      in,
		logger:  slog.New(slog.NewTextHandler(errOut, &slog.HandlerOptions{Level: level})),
		metrics: shmcache.NoopMetrics{},
	}

	defer func() {
		if err := sess.close(); err != nil {
			fprintln(errOut, "error: close cache:", err)
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		select {
		case <-sigCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	cmds := commandList(sess)

	cmd := lookup(cmds, rest[0])
	if cmd == nil {
		fprintln(errOut, "error:", fmt.Errorf("%w: %s", ErrUnknownCommand, rest[0]))
		fprintln(errOut)
		printUsage(errOut, g, cmds)

		return 1
	}

	o := NewIO(out, errOut)
	code := cmd.Run(ctx, o, rest[1:])
	o.Finish()

	return code
}

// commandList returns every command bound to sess, in help order.
func commandList(sess *session) []*Command {
	return []*Command{
		GetCmd(sess),
		SetCmd(sess),
		DelCmd(sess),
		HasCmd(sess),
		KeysCmd(sess),
		DumpCmd(sess),
		IncrCmd(sess),
		ClearCmd(sess),
		StatsCmd(sess),
		ReleaseCmd(sess),
		ExportCmd(sess),
		ImportCmd(sess),
		BenchCmd(sess),
		ServeMetricsCmd(sess),
		ShellCmd(sess),
		PrintConfigCmd(sess),
	}
}

func lookup(cmds []*Command, name string) *Command {
	for _, c := range cmds {
		if c.Name() == name {
			return c
		}
	}

	return nil
}

func printUsage(w io.Writer, g *globalFlags, cmds []*Command) {
	fprintln(w, "Usage: shmcache [global flags] <command> [args]")
	fprintln(w)
	fprintln(w, "A shared-memory key/value cache with LRU eviction.")

	if len(cmds) > 0 {
		fprintln(w)
		fprintln(w, "Commands:")

		for _, c := range cmds {
			fprintln(w, c.HelpLine())
		}
	}

	fprintln(w)
	fprintln(w, "Global flags:")
	fprintf(w, "%s", g.set.FlagUsages())
	fprintln(w)
	fprintln(w, "Run 'shmcache <command> --help' for more information on a command.")
}

func fprintln(w io.Writer, a ...any) {
	_, _ = fmt.Fprintln(w, a...)
}

func fprintf(w io.Writer, format string, a ...any) {
	_, _ = fmt.Fprintf(w, format, a...)
}
