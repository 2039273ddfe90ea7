package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

// Config holds logger configuration.
type Config struct {
	// Level is the minimum level: debug, info, warn or error.
	Level string
	// Format is json (default) or text.
	Format string
	// Output defaults to os.Stderr.
	Output    io.Writer
	AddSource bool
}

// level is shared by every logger New builds, so SetLevel reaches loggers
// already handed to components.
var level = new(slog.LevelVar)

// New builds a logger with redaction and the shared dynamic level.
func New(cfg Config) (*slog.Logger, error) {
	lv, err := ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	level.Set(lv)

	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: cfg.AddSource,
		ReplaceAttr: func(_ []string, a slog.Attr) slog.Attr {
			return redactSensitive(a)
		},
	}
	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}

	switch strings.ToLower(cfg.Format) {
	case "", "json":
		return slog.New(slog.NewJSONHandler(out, opts)), nil
	case "text":
		return slog.New(slog.NewTextHandler(out, opts)), nil
	default:
		return nil, fmt.Errorf("logger: unknown format %q", cfg.Format)
	}
}

// SetLevel changes the level of every logger built by New.
func SetLevel(s string) error {
	lv, err := ParseLevel(s)
	if err != nil {
		return err
	}
	level.Set(lv)
	return nil
}

// Level returns the current shared level.
func Level() slog.Level {
	return level.Level()
}

// ParseLevel parses debug, info, warn (or warning) and error, case
// insensitively. The empty string is info.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("logger: unknown level %q", s)
	}
}
