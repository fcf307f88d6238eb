// Package logging builds the process-wide slog.Logger used by every
// weaved actor, following the teacher's configureLogger: JSON output by
// default, text output in -dev mode, level parsed from the config's
// log_level string.
package logging

import (
	"log/slog"
	"os"
	"strings"
)

// New returns a slog.Logger writing to stderr: JSON-formatted unless dev
// is true, at the level named by logLevel (debug, info, warn, error;
// unrecognized values fall back to info).
func New(logLevel string, dev bool) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(logLevel)}
	if dev {
		return slog.New(slog.NewTextHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, opts))
}

func parseLevel(logLevel string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(logLevel)) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
