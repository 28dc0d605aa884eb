package cli

import (
	"context"

	flag "github.com/spf13/pflag"

	"github.com/calvinalkan/shmcache/pkg/shmcache"
)

// ClearCmd returns the clear command.
func ClearCmd(sess *session) *Command {
	return &Command{
		Flags: flag.NewFlagSet("clear", flag.ContinueOnError),
		Usage: "clear",
		Short: "Remove every entry",
		Exec: func(_ context.Context, _ *IO, args []string) error {
			if err := argsExactly(args, 0, "clear"); err != nil {
				return err
			}

			c, err := sess.open()
			if err != nil {
				return err
			}

			return c.Clear()
		},
	}
}

// StatsCmd returns the stats command.
func StatsCmd(sess *session) *Command {
	return &Command{
		Flags: flag.NewFlagSet("stats", flag.ContinueOnError),
		Usage: "stats",
		Short: "Show segment geometry and usage",
		Exec: func(_ context.Context, o *IO, args []string) error {
			if err := argsExactly(args, 0, "stats"); err != nil {
				return err
			}

			c, err := sess.open()
			if err != nil {
				return err
			}

			st, err := c.Stats()
			if err != nil {
				return err
			}

			o.Printf("path=%s\n", st.Path)
			o.Printf("size=%d\n", st.Size)
			o.Printf("block_size=%d\n", st.BlockSize)
			o.Printf("blocks_total=%d\n", st.BlocksTotal)
			o.Printf("blocks_available=%d\n", st.BlocksAvailable)
			o.Printf("first_block=%d\n", st.FirstBlock)
			o.Printf("blocks_used=%d\n", st.BlocksUsed)
			o.Printf("entries=%d\n", st.Entries)
			o.Printf("resets=%d\n", st.Resets)
			o.Printf("dirty=%t\n", st.Dirty)

			return nil
		},
	}
}

// ReleaseCmd returns the release command.
func ReleaseCmd(sess *session) *Command {
	return &Command{
		Flags: flag.NewFlagSet("release", flag.ContinueOnError),
		Usage: "release",
		Short: "Delete the segment and its lock file",
		Long: "Delete the segment and its lock file. Processes that still have it mapped\n" +
			"keep their view; the next open creates a fresh segment.",
		Exec: func(_ context.Context, _ *IO, args []string) error {
			if err := argsExactly(args, 0, "release"); err != nil {
				return err
			}

			err := shmcache.Release(sess.cfg.Dir, sess.cfg.Name)
			if err != nil {
				return err
			}

			sess.logger.Info("released segment", "cache", sess.cfg.Name)

			return nil
		},
	}
}

// PrintConfigCmd returns the print-config command.
func PrintConfigCmd(sess *session) *Command {
	return &Command{
		Flags: flag.NewFlagSet("print-config", flag.ContinueOnError),
		Usage: "print-config",
		Short: "Show resolved configuration",
		Long:  "Display the effective configuration and which files it was loaded from.",
		Exec: func(_ context.Context, o *IO, _ []string) error {
			execPrintConfig(o, sess)

			return nil
		},
	}
}

func execPrintConfig(o *IO, sess *session) {
	cfg := sess.cfg

	path, err := shmcache.SegmentPath(cfg.Dir, cfg.Name)
	if err != nil {
		path = "(invalid: " + err.Error() + ")"
	}

	shift := cfg.BlockShift
	if shift == 0 {
		shift = shmcache.DefaultBlockShift
	}

	o.Println("name=" + cfg.Name)
	o.Println("segment=" + path)
	o.Println("size=" + cfg.Size.String())
	o.Printf("block_shift=%d\n", shift)
	o.Println("lock_timeout=" + cfg.LockTimeout.String())
	o.Println("log_level=" + cfg.LogLevel)

	o.Println("")
	o.Println("# sources")

	if cfg.Sources.Global == "" && cfg.Sources.Project == "" {
		o.Println("(defaults only)")
	} else {
		if cfg.Sources.Global != "" {
			o.Println("global_config=" + cfg.Sources.Global)
		}

		if cfg.Sources.Project != "" {
			o.Println("project_config=" + cfg.Sources.Project)
		}
	}
}
