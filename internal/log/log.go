// Package log provides the logging infrastructure shared across atlas.
//
// Components receive a logger via their constructor (dependency
// injection, no globals) and add context with logger.With():
//
//	store := session.NewStore(querier, logger.With("component", "session"))
//
// In tests, use [NewNop] or capture output with [NewWithWriter].
package log

import (
	"io"
	"log/slog"
	"os"
)

// Logger is a type alias for *slog.Logger. Using the standard library
// type directly keeps full compatibility with the slog ecosystem and
// avoids a custom interface.
type Logger = *slog.Logger

// Config defines logger options.
type Config struct {
	// Level sets the minimum log level. Default: slog.LevelInfo.
	Level slog.Level

	// JSON enables JSON output. Default: text format.
	JSON bool

	// AddSource adds source file positions to log entries.
	AddSource bool
}

// New creates a logger writing to os.Stderr.
func New(cfg Config) Logger {
	return NewWithWriter(os.Stderr, cfg)
}

// NewWithWriter creates a logger writing to w. Useful for tests that
// inspect log output.
func NewWithWriter(w io.Writer, cfg Config) Logger {
	opts := &slog.HandlerOptions{
		Level:     cfg.Level,
		AddSource: cfg.AddSource,
	}

	var handler slog.Handler
	if cfg.JSON {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}

	return slog.New(handler)
}

// NewNop creates a logger that discards all output. Tests only;
// production code should always configure a real destination.
func NewNop() Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
