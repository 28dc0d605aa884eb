package cli

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	flag "github.com/spf13/pflag"
)

// ErrNotFound is returned by get for an absent key.
var ErrNotFound = errors.New("key not found")

// GetCmd returns the get command.
func GetCmd(sess *session) *Command {
	flags := flag.NewFlagSet("get", flag.ContinueOnError)
	raw := flags.Bool("raw", false, "Print the stored bytes without decoding")

	return &Command{
		Flags: flags,
		Usage: "get [--raw] <key>",
		Short: "Print a value",
		Long:  "Print the value stored under key. Codec values print as JSON.",
		Exec: func(_ context.Context, o *IO, args []string) error {
			if err := argsExactly(args, 1, "get [--raw] <key>"); err != nil {
				return err
			}

			c, err := sess.open()
			if err != nil {
				return err
			}

			val, found, err := c.Get(args[0])
			if err != nil {
				return err
			}

			if !found {
				return fmt.Errorf("%w: %s", ErrNotFound, quoteKey(args[0]))
			}

			if *raw {
				o.Printf("%s\n", val)
			} else {
				o.Println(render(val))
			}

			return nil
		},
	}
}

// SetCmd returns the set command.
func SetCmd(sess *session) *Command {
	flags := flag.NewFlagSet("set", flag.ContinueOnError)
	flags.SetInterspersed(false) // values may start with "-"
	raw := flags.Bool("raw", false, "Store the argument bytes as-is")
	swap := flags.Bool("print-previous", false, "Print the replaced value, if any")

	return &Command{
		Flags: flags,
		Usage: "set [flags] <key> <value>",
		Short: "Store a value",
		Long: "Store value under key. The value is parsed as JSON and stored in the codec format;\n" +
			"text that is not JSON is stored as a string. With --raw the bytes are stored unchanged.",
		Exec: func(_ context.Context, o *IO, args []string) error {
			if err := argsExactly(args, 2, "set [flags] <key> <value>"); err != nil {
				return err
			}

			c, err := sess.open()
			if err != nil {
				return err
			}

			key, text := args[0], args[1]

			val := []byte(text)
			if !*raw {
				v, ok := parseValue(text)
				if !ok {
					v = text
				}

				val, err = encodeValue(v)
				if err != nil {
					return err
				}
			}

			prev, found, err := c.Swap(key, val)
			if err != nil {
				return err
			}

			if *swap && found {
				o.Println(render(prev))
			}

			return nil
		},
	}
}

// DelCmd returns the del command.
func DelCmd(sess *session) *Command {
	return &Command{
		Flags: flag.NewFlagSet("del", flag.ContinueOnError),
		Usage: "del <key>",
		Short: "Delete a key",
		Long:  "Delete key. Prints true if it existed.",
		Exec: func(_ context.Context, o *IO, args []string) error {
			if err := argsExactly(args, 1, "del <key>"); err != nil {
				return err
			}

			c, err := sess.open()
			if err != nil {
				return err
			}

			found, err := c.Delete(args[0])
			if err != nil {
				return err
			}

			o.Println(formatBool(found))

			return nil
		},
	}
}

// HasCmd returns the has command.
func HasCmd(sess *session) *Command {
	return &Command{
		Flags: flag.NewFlagSet("has", flag.ContinueOnError),
		Usage: "has <key>",
		Short: "Check whether a key exists",
		Long:  "Print true if key exists. Does not change recency.",
		Exec: func(_ context.Context, o *IO, args []string) error {
			if err := argsExactly(args, 1, "has <key>"); err != nil {
				return err
			}

			c, err := sess.open()
			if err != nil {
				return err
			}

			found, err := c.Contains(args[0])
			if err != nil {
				return err
			}

			o.Println(formatBool(found))

			return nil
		},
	}
}

// IncrCmd returns the incr command.
func IncrCmd(sess *session) *Command {
	flags := flag.NewFlagSet("incr", flag.ContinueOnError)
	flags.SetInterspersed(false) // negative deltas

	return &Command{
		Flags: flags,
		Usage: "incr <key> [delta]",
		Short: "Add to a 32-bit counter",
		Long: "Add delta (default 1) to the counter under key and print the result.\n" +
			"A missing or non-counter value counts from 0. The result wraps at 32 bits.",
		Exec: func(_ context.Context, o *IO, args []string) error {
			if len(args) < 1 || len(args) > 2 {
				return fmt.Errorf("%w: usage: shmcache incr <key> [delta]", ErrUsage)
			}

			delta := int32(1)

			if len(args) == 2 {
				n, err := strconv.ParseInt(args[1], 10, 32)
				if err != nil {
					return fmt.Errorf("%w: delta %q is not a 32-bit integer", ErrUsage, args[1])
				}

				delta = int32(n)
			}

			c, err := sess.open()
			if err != nil {
				return err
			}

			n, err := c.Increase(args[0], delta)
			if err != nil {
				return err
			}

			o.Println(n)

			return nil
		},
	}
}
