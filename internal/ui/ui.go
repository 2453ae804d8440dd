// Package ui formats CK3Raven's CLI status output: colored labels around
// plain messages, disabled automatically when stdout isn't a terminal.
// Grounded on the color.GreenString/RedString/YellowString-wrapped-in-
// log.Println idiom seen across the retrieved pack's CLI tools, using the
// teacher's own fatih/color and mattn/go-isatty dependencies (present in
// go.mod but unexercised by any teacher file retrieved into this pack).
package ui

import (
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
)

func init() {
	if !isatty.IsTerminal(os.Stdout.Fd()) && !isatty.IsCygwinTerminal(os.Stdout.Fd()) {
		color.NoColor = true
	}
}

// Disable force-disables color output, for the CLI's --no-color / NO_COLOR
// path regardless of what the stdout isatty check found.
func Disable() {
	color.NoColor = true
}

var (
	successColor = color.New(color.FgGreen)
	warnColor    = color.New(color.FgYellow)
	errorColor   = color.New(color.FgRed)
	infoColor    = color.New(color.FgCyan)
)

// Success prints a green-prefixed message to stdout, e.g. a completed
// build or a clean status check.
func Success(format string, args ...any) {
	fprintLabeled(os.Stdout, successColor, "ok", format, args...)
}

// Warn prints a yellow-prefixed message to stderr, e.g. a reclaimed lease
// or a skipped file during discovery.
func Warn(format string, args ...any) {
	fprintLabeled(os.Stderr, warnColor, "warn", format, args...)
}

// Error prints a red-prefixed message to stderr, e.g. a fatal CLI error
// before exit.
func Error(format string, args ...any) {
	fprintLabeled(os.Stderr, errorColor, "error", format, args...)
}

// Info prints a cyan-prefixed message to stdout for routine progress
// output (queue counts, file counts, elapsed time).
func Info(format string, args ...any) {
	fprintLabeled(os.Stdout, infoColor, "info", format, args...)
}

func fprintLabeled(w io.Writer, c *color.Color, label, format string, args ...any) {
	prefix := c.Sprintf("[%s]", label)
	fmt.Fprintf(w, "%s %s\n", prefix, fmt.Sprintf(format, args...))
}
