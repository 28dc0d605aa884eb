package cli

import (
	"context"
	"fmt"

	flag "github.com/spf13/pflag"
)

// KeysCmd returns the keys command.
func KeysCmd(sess *session) *Command {
	return &Command{
		Flags: flag.NewFlagSet("keys", flag.ContinueOnError),
		Usage: "keys",
		Short: "List keys, least recently used first",
		Exec: func(_ context.Context, o *IO, args []string) error {
			if err := argsExactly(args, 0, "keys"); err != nil {
				return err
			}

			c, err := sess.open()
			if err != nil {
				return err
			}

			keys, err := c.Keys()
			if err != nil {
				return err
			}

			for _, k := range keys {
				o.Println(quoteKey(k))
			}

			return nil
		},
	}
}

// DumpCmd returns the dump command.
func DumpCmd(sess *session) *Command {
	flags := flag.NewFlagSet("dump", flag.ContinueOnError)
	raw := flags.Bool("raw", false, "Print stored bytes without decoding")

	return &Command{
		Flags: flags,
		Usage: "dump [--raw] [prefix]",
		Short: "Print entries whose key starts with prefix",
		Long: "Print one \"key<TAB>value\" line per entry whose key starts with prefix,\n" +
			"least recently used first. Does not change recency.",
		Exec: func(_ context.Context, o *IO, args []string) error {
			if len(args) > 1 {
				return fmt.Errorf("%w: usage: shmcache dump [--raw] [prefix]", ErrUsage)
			}

			prefix := ""
			if len(args) == 1 {
				prefix = args[0]
			}

			c, err := sess.open()
			if err != nil {
				return err
			}

			entries, err := c.Dump(prefix)
			if err != nil {
				return err
			}

			for _, e := range entries {
				val := string(e.Value)
				if !*raw {
					val = render(e.Value)
				}

				o.Printf("%s\t%s\n", quoteKey(e.Key), val)
			}

			return nil
		},
	}
}
