package output

import (
	"io"

	"github.com/hashicorp/go-hclog"
)

// NewHCLogger returns the structured logger handed to library packages.
// Verbose enables debug level; otherwise only warnings and errors are shown.
func NewHCLogger(name string, w io.Writer, verbose, jsonFormat bool) hclog.Logger {
	level := hclog.Warn
	if verbose {
		level = hclog.Debug
	}
	return hclog.New(&hclog.LoggerOptions{
		Name:       name,
		Level:      level,
		Output:     w,
		JSONFormat: jsonFormat,
		Color:      hclog.AutoColor,
	})
}
