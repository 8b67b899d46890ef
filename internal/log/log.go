// Package log configures apex/log for rpmannotate.
//
// Components do not log through a package global; they are handed a
// log.Interface by the command that builds them. Init builds that logger
// from the configured level and format, with the RPMANNOTATE_LOG environment
// variable overriding the level.
package log

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/apex/log"
	"github.com/apex/log/handlers/json"
	"github.com/apex/log/handlers/text"
)

// EnvLevel overrides the configured log level when set.
const EnvLevel = "RPMANNOTATE_LOG"

// Init returns a logger writing to w at the given level and format
// ("text" or "json"). It also installs the logger as apex's default so
// third-party code calling log.* directly ends up in the same stream.
func Init(level, format string, w io.Writer) (*log.Logger, error) {
	if env := os.Getenv(EnvLevel); env != "" {
		level = env
	}

	lvl, err := ParseLevel(level)
	if err != nil {
		return nil, err
	}

	if w == nil {
		w = os.Stderr
	}

	var handler log.Handler
	switch strings.ToLower(format) {
	case "", "text":
		handler = text.New(w)
	case "json":
		handler = json.New(w)
	default:
		return nil, fmt.Errorf("unknown log format %q (want text or json)", format)
	}

	logger := &log.Logger{Handler: handler, Level: lvl}
	log.Log = logger
	return logger, nil
}

// ParseLevel maps a case-insensitive level name to an apex level.
// "warning" is accepted as an alias for "warn".
func ParseLevel(level string) (log.Level, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug", "trace":
		return log.DebugLevel, nil
	case "", "info":
		return log.InfoLevel, nil
	case "warn", "warning":
		return log.WarnLevel, nil
	case "error":
		return log.ErrorLevel, nil
	case "fatal":
		return log.FatalLevel, nil
	default:
		return log.InfoLevel, fmt.Errorf("unknown log level %q", level)
	}
}

// Discard returns a logger that drops everything. Useful as a default when a
// constructor is handed a nil logger.
func Discard() log.Interface {
	return &log.Logger{Handler: log.HandlerFunc(func(*log.Entry) error { return nil }), Level: log.FatalLevel}
}

// OrDiscard returns l, or a discarding logger if l is nil.
func OrDiscard(l log.Interface) log.Interface {
	if l == nil {
		return Discard()
	}
	return l
}
