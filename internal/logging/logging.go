// Package logging builds the process logger: a coloured console handler and,
// optionally, a plain text handler writing to a log file.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"
	"github.com/openmined/mirrorbox/internal/utils"
)

const timeFormat = "2006-01-02T15:04:05.000Z07:00"

type Options struct {
	Level   string
	File    string
	Console io.Writer
}

// ParseLevel maps debug, info, warn and error to slog levels. Empty means
// info.
func ParseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if s == "" {
		return slog.LevelInfo, nil
	}
	if err := level.UnmarshalText([]byte(strings.ToUpper(s))); err != nil {
		return slog.LevelInfo, fmt.Errorf("log level %q: %w", s, err)
	}
	return level, nil
}

// Setup returns the logger described by opts and a func that flushes and
// closes the log file.
func Setup(opts Options) (*slog.Logger, func() error, error) {
	level, err := ParseLevel(opts.Level)
	if err != nil {
		return nil, nil, err
	}

	console := opts.Console
	if console == nil {
		console = os.Stdout
	}
	noColor := true
	if f, ok := console.(*os.File); ok {
		noColor = !isatty.IsTerminal(f.Fd())
	}

	consoleHandler := tint.NewHandler(console, &tint.Options{
		Level:      level,
		TimeFormat: timeFormat,
		NoColor:    noColor,
	})

	if opts.File == "" {
		return slog.New(consoleHandler), func() error { return nil }, nil
	}

	if err := utils.EnsureParent(opts.File); err != nil {
		return nil, nil, fmt.Errorf("create log directory: %w", err)
	}
	file, err := os.OpenFile(opts.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("open log file: %w", err)
	}

	lines := NewLineWriter(file)
	fileHandler := slog.NewTextHandler(lines, &slog.HandlerOptions{
		Level: level,
		// LineWriter stamps the time
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey && len(groups) == 0 {
				return slog.Attr{}
			}
			return a
		},
	})

	closer := func() error {
		if err := lines.Close(); err != nil {
			file.Close()
			return err
		}
		return file.Close()
	}
	return slog.New(NewMultiHandler(consoleHandler, fileHandler)), closer, nil
}
