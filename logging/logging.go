// Package logging configures slog with the charm handler and the optional
// rotating log file and MQTT mirror.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	chlog "github.com/charmbracelet/log"
	"github.com/muesli/termenv"
	"gopkg.in/natefinch/lumberjack.v2"
)

type Options struct {
	Level   string
	Verbose bool
	// File enables a rotated log file next to the console output.
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Prefix     string
}

// ParseLevel maps a config level name to a charm level. Unknown names are info.
func ParseLevel(name string) chlog.Level {
	switch strings.ToLower(name) {
	case "debug":
		return chlog.DebugLevel
	case "warn", "warning":
		return chlog.WarnLevel
	case "error":
		return chlog.ErrorLevel
	}
	return chlog.InfoLevel
}

// New builds the console logger. The returned closer flushes the log file.
func New(w io.Writer, o Options) (*slog.Logger, io.Closer) {
	var closer io.Closer = nopCloser{}
	if o.File != "" {
		file := &lumberjack.Logger{
			Filename:   o.File,
			MaxSize:    o.MaxSizeMB,
			MaxBackups: o.MaxBackups,
			MaxAge:     o.MaxAgeDays,
		}
		w = io.MultiWriter(w, file)
		closer = file
	}
	charm := chlog.NewWithOptions(w, chlog.Options{
		ReportCaller:    true,
		ReportTimestamp: true,
		TimeFormat:      time.DateTime,
		Prefix:          o.Prefix,
	})
	charm.SetColorProfile(termenv.TrueColor)
	charm.SetLevel(ParseLevel(o.Level))
	if o.Verbose {
		charm.SetLevel(chlog.DebugLevel)
	}
	return slog.New(charm), closer
}

// Setup installs the console logger as the slog default.
func Setup(o Options) (*slog.Logger, io.Closer) {
	logger, closer := New(os.Stdout, o)
	slog.SetDefault(logger)
	return logger, closer
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
