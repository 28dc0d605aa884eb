package cli

import (
	"fmt"
	"io"
)

// IO routes command output. Commands write results to stdout and
// diagnostics to stderr; notes are collected and printed after the result
// so they survive piping stdout into another program.
type IO struct {
	out    io.Writer
	errOut io.Writer
	notes  []string
}

// NewIO creates a new IO instance.
func NewIO(out, errOut io.Writer) *IO {
	return &IO{out: out, errOut: errOut}
}

// Note records a message for stderr, printed by Finish.
func (o *IO) Note(format string, a ...any) {
	o.notes = append(o.notes, fmt.Sprintf(format, a...))
}

// Println writes to stdout.
func (o *IO) Println(a ...any) {
	_, _ = fmt.Fprintln(o.out, a...)
}

// Printf writes formatted output to stdout.
func (o *IO) Printf(format string, a ...any) {
	_, _ = fmt.Fprintf(o.out, format, a...)
}

// ErrPrintln writes to stderr.
func (o *IO) ErrPrintln(a ...any) {
	_, _ = fmt.Fprintln(o.errOut, a...)
}

// Finish prints collected notes to stderr.
func (o *IO) Finish() {
	for _, n := range o.notes {
		_, _ = fmt.Fprintln(o.errOut, "note:", n)
	}

	o.notes = nil
}
