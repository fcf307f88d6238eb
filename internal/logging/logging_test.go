package logging

import (
	"log/slog"
	"testing"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"DEBUG":   slog.LevelDebug,
		" warn ":  slog.LevelWarn,
		"error":   slog.LevelError,
		"info":    slog.LevelInfo,
		"":        slog.LevelInfo,
		"bogus":   slog.LevelInfo,
	}
	for input, want := range cases {
		if got := parseLevel(input); got != want {
			t.Errorf("parseLevel(%q) = %v, want %v", input, got, want)
		}
	}
}

func TestNew_ReturnsUsableLogger(t *testing.T) {
	logger := New("debug", true)
	if logger == nil {
		t.Fatal("New returned nil")
	}
	if !logger.Enabled(nil, slog.LevelDebug) {
		t.Fatal("debug logger should have debug enabled")
	}

	prod := New("warn", false)
	if prod.Enabled(nil, slog.LevelInfo) {
		t.Fatal("warn-level logger should not have info enabled")
	}
}
