// Package logging builds the structured loggers used by the daemons and the
// CLI.
package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/term"
)

// Config holds logger configuration.
type Config struct {
	Level  string
	Output io.Writer
	// Logfmt forces logfmt output. When unset, logfmt is used whenever
	// Output is not a terminal (e.g. a supervisor log file).
	Logfmt bool
}

// New returns a logger for component.
func New(component string, cfg Config) *log.Logger {
	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	formatter := log.TextFormatter
	if cfg.Logfmt || !isTerminal(out) {
		formatter = log.LogfmtFormatter
	}
	l := log.NewWithOptions(out, log.Options{
		Prefix:          component,
		ReportTimestamp: true,
		TimeFormat:      time.RFC3339,
		Formatter:       formatter,
	})
	l.SetLevel(ParseLevel(cfg.Level))
	return l
}

// Discard returns a logger that drops everything. Used by tests.
func Discard() *log.Logger {
	return log.NewWithOptions(io.Discard, log.Options{Level: log.FatalLevel + 1})
}

// ParseLevel maps a config string onto a level, defaulting to info.
func ParseLevel(s string) log.Level {
	if s == "" {
		return log.InfoLevel
	}
	lvl, err := log.ParseLevel(strings.ToLower(strings.TrimSpace(s)))
	if err != nil {
		return log.InfoLevel
	}
	return lvl
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}
