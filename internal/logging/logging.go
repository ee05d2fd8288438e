// Package logging builds the process logger.
package logging

import (
	"io"
	"os"
	"time"

	"github.com/charmbracelet/log"
)

// New creates a logger writing to w at the named level. Unknown levels
// fall back to info. format selects "json" or "logfmt" output; anything
// else gives the human-readable text format.
func New(w io.Writer, level, format string) *log.Logger {
	lvl, err := log.ParseLevel(level)
	if err != nil {
		lvl = log.InfoLevel
	}

	opts := log.Options{
		Level:           lvl,
		ReportTimestamp: true,
		TimeFormat:      time.RFC3339,
	}
	switch format {
	case "json":
		opts.Formatter = log.JSONFormatter
	case "logfmt":
		opts.Formatter = log.LogfmtFormatter
	}

	logger := log.NewWithOptions(w, opts)
	if err != nil && level != "" {
		logger.Warn("unknown log level, using info", "level", level)
	}
	return logger
}

// Setup creates the process logger on stderr and installs it as the
// package default, so code logging through log.Default agrees with it.
func Setup(level, format string) *log.Logger {
	logger := New(os.Stderr, level, format)
	log.SetDefault(logger)
	return logger
}
