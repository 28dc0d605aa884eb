package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/peterh/liner"
	flag "github.com/spf13/pflag"
)

// ErrShellFailures is returned when lines read from a non-terminal input
// failed.
var ErrShellFailures = errors.New("shell commands failed")

// lineReader is the part of *liner.State the shell loop uses.
type lineReader interface {
	Prompt(prompt string) (string, error)
	AppendHistory(item string)
}

// scanLines reads commands from a pipe or file.
type scanLines struct {
	sc *bufio.Scanner
}

func (s *scanLines) Prompt(string) (string, error) {
	if s.sc.Scan() {
		return s.sc.Text(), nil
	}

	if err := s.sc.Err(); err != nil {
		return "", err
	}

	return "", io.EOF
}

func (*scanLines) AppendHistory(string) {}

// ShellCmd returns the shell command.
func ShellCmd(sess *session) *Command {
	return &Command{
		Flags: flag.NewFlagSet("shell", flag.ContinueOnError),
		Usage: "shell",
		Short: "Run commands interactively",
		Long: "Read commands line by line against one open handle. On a terminal the\n" +
			"shell offers history and tab completion; otherwise it reads stdin.",
		Exec: func(ctx context.Context, o *IO, args []string) error {
			if err := argsExactly(args, 0, "shell"); err != nil {
				return err
			}

			return execShell(ctx, o, sess)
		},
	}
}

// shellCommands returns the commands usable inside the shell.
func shellCommands(sess *session) []*Command {
	var cmds []*Command

	for _, c := range commandList(sess) {
		switch c.Name() {
		case "shell", "serve-metrics", "release":
			continue
		}

		cmds = append(cmds, c)
	}

	return cmds
}

func historyFile(env map[string]string) string {
	home := env["HOME"]
	if home == "" {
		return ""
	}

	return filepath.Join(home, ".shmcache_history")
}

func execShell(ctx context.Context, o *IO, sess *session) error {
	c, err := sess.open()
	if err != nil {
		return err
	}

	var lr lineReader

	f, isFile := sess.in.(*os.File)
	interactive := isFile && f == os.Stdin && liner.TerminalSupported()

	if interactive {
		st := liner.NewLiner()
		defer st.Close()

		st.SetCtrlCAborts(true)
		st.SetCompleter(func(line string) []string {
			return completeCommand(sess, line)
		})

		history := historyFile(sess.env)
		if h, err := os.Open(history); err == nil {
			_, _ = st.ReadHistory(h)
			_ = h.Close()
		}

		defer func() {
			if history == "" {
				return
			}

			if h, err := os.Create(history); err == nil {
				_, _ = st.WriteHistory(h)
				_ = h.Close()
			}
		}()

		lr = st

		geo := c.Geometry()
		o.Printf("shmcache %s (%s, block_size=%d, blocks=%d)\n", sess.cfg.Name, c.Path(), geo.BlockSize, geo.BlocksAvailable)
		o.Println("Type 'help' for available commands.")
	} else {
		in := sess.in
		if in == nil {
			in = strings.NewReader("")
		}

		lr = &scanLines{sc: bufio.NewScanner(in)}
	}

	failed := 0

	for ctx.Err() == nil {
		line, err := lr.Prompt("shmcache> ")
		if err != nil {
			if errors.Is(err, liner.ErrPromptAborted) || errors.Is(err, io.EOF) {
				break
			}

			return fmt.Errorf("reading input: %w", err)
		}

		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		lr.AppendHistory(line)

		fields := strings.Fields(line)

		switch fields[0] {
		case "exit", "quit", "q":
			return shellResult(failed, interactive)
		case "help", "?":
			printShellHelp(o, sess)

			continue
		}

		// Fresh flag sets per line so flags do not leak between commands.
		cmd := lookup(shellCommands(sess), fields[0])
		if cmd == nil {
			o.ErrPrintln("error:", fmt.Errorf("%w: %s (type 'help' for commands)", ErrUnknownCommand, fields[0]))

			failed++

			continue
		}

		if cmd.Run(ctx, o, fields[1:]) != 0 {
			failed++
		}
	}

	return shellResult(failed, interactive)
}

func shellResult(failed int, interactive bool) error {
	if failed > 0 && !interactive {
		return fmt.Errorf("%w: %d", ErrShellFailures, failed)
	}

	return nil
}

func completeCommand(sess *session, line string) []string {
	names := []string{"help", "exit", "quit"}
	for _, c := range shellCommands(sess) {
		names = append(names, c.Name())
	}

	var completions []string

	for _, n := range names {
		if strings.HasPrefix(n, strings.ToLower(line)) {
			completions = append(completions, n)
		}
	}

	return completions
}

func printShellHelp(o *IO, sess *session) {
	o.Println("Commands:")

	for _, c := range shellCommands(sess) {
		o.Println(c.HelpLine())
	}

	o.Printf("  %-26s %s\n", "help", "Show this help")
	o.Printf("  %-26s %s\n", "exit / quit / q", "Leave the shell")
	o.Println()
	o.Println("Arguments are split on whitespace; keys and values cannot contain spaces here.")
}
