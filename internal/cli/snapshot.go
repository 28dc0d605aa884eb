package cli

import (
	"context"

	flag "github.com/spf13/pflag"

	"github.com/calvinalkan/shmcache/internal/fs"
	"github.com/calvinalkan/shmcache/internal/snapshot"
)

// ExportCmd returns the export command.
func ExportCmd(sess *session) *Command {
	return &Command{
		Flags: flag.NewFlagSet("export", flag.ContinueOnError),
		Usage: "export <file>",
		Short: "Write all entries to a snapshot file",
		Long: "Write all entries to file, replacing it atomically. Entries are stored\n" +
			"least recently used first so import restores their relative recency.",
		Exec: func(_ context.Context, o *IO, args []string) error {
			if err := argsExactly(args, 1, "export <file>"); err != nil {
				return err
			}

			c, err := sess.open()
			if err != nil {
				return err
			}

			n, err := snapshot.Export(fs.NewReal(), c, sess.path(args[0]))
			if err != nil {
				return err
			}

			o.Printf("exported %d entries\n", n)

			return nil
		},
	}
}

// ImportCmd returns the import command.
func ImportCmd(sess *session) *Command {
	return &Command{
		Flags: flag.NewFlagSet("import", flag.ContinueOnError),
		Usage: "import <file>",
		Short: "Store the entries of a snapshot file",
		Long: "Store every entry of a snapshot file, overwriting existing keys. Entries\n" +
			"that no longer fit may evict older ones. Stops at the first entry that\n" +
			"cannot be stored.",
		Exec: func(_ context.Context, o *IO, args []string) error {
			if err := argsExactly(args, 1, "import <file>"); err != nil {
				return err
			}

			c, err := sess.open()
			if err != nil {
				return err
			}

			n, err := snapshot.Import(fs.NewReal(), c, sess.path(args[0]))
			if err != nil {
				if n > 0 {
					o.Note("%d entries were imported before the failure", n)
				}

				return err
			}

			o.Printf("imported %d entries\n", n)

			return nil
		},
	}
}
