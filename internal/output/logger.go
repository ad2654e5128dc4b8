// Package output provides the CLI's user-facing printer and the structured
// logger handed to library packages.
package output

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
	"golang.org/x/term"
)

// Logger provides colored output functions for CLI feedback.
type Logger struct {
	out      io.Writer
	errOut   io.Writer
	noColor  bool
	verbose  bool
	jsonMode bool
}

// NewLogger creates a Logger writing to stdout and stderr. Color is disabled
// when stdout is not a terminal.
func NewLogger() *Logger {
	l := &Logger{
		out:    os.Stdout,
		errOut: os.Stderr,
	}
	if !term.IsTerminal(int(os.Stdout.Fd())) {
		l.SetNoColor(true)
	}
	return l
}

// NewLoggerTo creates a Logger writing both streams to the given writers.
// Color is always off.
func NewLoggerTo(out, errOut io.Writer) *Logger {
	l := &Logger{out: out, errOut: errOut}
	l.SetNoColor(true)
	return l
}

// SetNoColor disables colored output.
func (l *Logger) SetNoColor(noColor bool) {
	l.noColor = noColor
	color.NoColor = noColor
}

// SetVerbose enables verbose logging.
func (l *Logger) SetVerbose(verbose bool) {
	l.verbose = verbose
}

// SetJSONMode enables JSON output mode (suppresses text output).
func (l *Logger) SetJSONMode(jsonMode bool) {
	l.jsonMode = jsonMode
}

// IsVerbose reports whether debug output is enabled.
func (l *Logger) IsVerbose() bool { return l.verbose }

// IsJSON reports whether JSON mode is enabled.
func (l *Logger) IsJSON() bool { return l.jsonMode }

// Writer returns the standard output writer.
func (l *Logger) Writer() io.Writer { return l.out }

// Info prints an informational message in default color.
func (l *Logger) Info(format string, args ...interface{}) {
	if l.jsonMode {
		return
	}
	fmt.Fprintf(l.out, format+"\n", args...)
}

// Warn prints a warning message in yellow.
func (l *Logger) Warn(format string, args ...interface{}) {
	if l.jsonMode {
		return
	}
	color.New(color.FgYellow).Fprintf(l.errOut, "Warning: "+format+"\n", args...)
}

// Error prints an error message in red. Errors are printed in JSON mode too.
func (l *Logger) Error(format string, args ...interface{}) {
	color.New(color.FgRed).Fprintf(l.errOut, "Error: "+format+"\n", args...)
}

// Success prints a success message in green with checkmark.
func (l *Logger) Success(format string, args ...interface{}) {
	if l.jsonMode {
		return
	}
	color.New(color.FgGreen).Fprintf(l.out, "✓ "+format+"\n", args...)
}

// Debug prints a debug message if verbose mode is enabled.
func (l *Logger) Debug(format string, args ...interface{}) {
	if l.jsonMode || !l.verbose {
		return
	}
	color.New(color.FgHiBlack).Fprintf(l.out, "[DEBUG] "+format+"\n", args...)
}

// Bold prints a message in bold.
func (l *Logger) Bold(format string, args ...interface{}) {
	if l.jsonMode {
		return
	}
	color.New(color.Bold).Fprintf(l.out, format+"\n", args...)
}

// JSON writes v as indented JSON. It is the only output in JSON mode.
func (l *Logger) JSON(v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(l.out, string(data))
	return err
}
