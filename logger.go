package maxsim

import (
	"context"
	"io"
	"log/slog"
	"os"
)

// Logger wraps slog.Logger for structured logging of engine operations.
type Logger struct {
	*slog.Logger
}

// NewLogger creates a logger backed by the given handler.
//
// If handler is nil, a text handler writing to stderr at info level is used.
func NewLogger(handler slog.Handler) *Logger {
	if handler == nil {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		})
	}

	return &Logger{Logger: slog.New(handler)}
}

// NewJSONLogger creates a logger that writes JSON records to stderr.
func NewJSONLogger(level slog.Level) *Logger {
	return NewLogger(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
}

// NewTextLogger creates a logger that writes human-readable records to
// stderr.
func NewTextLogger(level slog.Level) *Logger {
	return NewLogger(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
}

// NoopLogger returns a logger that discards all records.
func NoopLogger() *Logger {
	return &Logger{Logger: slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{
		Level: slog.Level(1000),
	}))}
}

// LogBuild logs an index build.
func (l *Logger) LogBuild(ctx context.Context, docs, chunks int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "build failed",
			slog.Int("docs", docs),
			slog.Any("error", err),
		)

		return
	}

	l.InfoContext(ctx, "build completed",
		slog.Int("docs", docs),
		slog.Int("chunks", chunks),
	)
}

// LogOpen logs an engine open.
func (l *Logger) LogOpen(ctx context.Context, version uint64, docs int64, err error) {
	if err != nil {
		l.ErrorContext(ctx, "open failed", slog.Any("error", err))

		return
	}

	l.InfoContext(ctx, "open completed",
		slog.Uint64("version", version),
		slog.Int64("docs", docs),
	)
}

// LogSearch logs a query. Successful queries log at debug level to keep
// steady-state output quiet.
func (l *Logger) LogSearch(ctx context.Context, k, results int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "search failed",
			slog.Int("k", k),
			slog.Any("error", err),
		)

		return
	}

	l.DebugContext(ctx, "search completed",
		slog.Int("k", k),
		slog.Int("results", results),
	)
}
