// Package sysutil holds process-level helpers for the autoreplyd binary:
// logger setup and build version discovery.
package sysutil

import (
	"io"
	"os"
	"runtime/debug"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// ParseLevel maps a configured level (case-insensitive) to a zerolog level.
// Unknown values fall back to info.
func ParseLevel(lvl string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(lvl)) {
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "fatal":
		return zerolog.FatalLevel
	case "panic":
		return zerolog.PanicLevel
	default:
		return zerolog.InfoLevel
	}
}

// SetupLogger installs the process logger: global level, JSON (or console
// when pretty) output to w, service/version fields, and the context default
// so zerolog.Ctx on a bare context still reaches it.
func SetupLogger(w io.Writer, level string, pretty bool, service, version string) zerolog.Logger {
	zerolog.SetGlobalLevel(ParseLevel(level))
	zerolog.TimeFieldFormat = time.RFC3339Nano

	out := w
	if pretty {
		out = zerolog.ConsoleWriter{Out: w, TimeFormat: time.Kitchen}
	}
	l := zerolog.New(out).With().
		Timestamp().
		Str("service", service).
		Str("version", version).
		Logger()

	log.Logger = l
	zerolog.DefaultContextLogger = &log.Logger
	return l
}

// Version reports the running build: $APP_VERSION, then the module version
// stamped by the toolchain, then "dev".
func Version() string {
	var build string
	if bi, ok := debug.ReadBuildInfo(); ok && bi.Main.Version != "(devel)" {
		build = bi.Main.Version
	}
	return FirstNonEmpty(os.Getenv("APP_VERSION"), build, "dev")
}

// FirstNonEmpty returns the first value that is not blank, or "".
func FirstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
