package semindex

import (
	"context"
	"io"
	"log/slog"
	"os"
	"time"
)

// Logger wraps slog.Logger with semindex-specific context.
// This provides structured logging with consistent field names.
type Logger struct {
	*slog.Logger
}

// NewLogger creates a new Logger with the given handler.
// If handler is nil, uses default text handler to stderr.
func NewLogger(handler slog.Handler) *Logger {
	if handler == nil {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		})
	}
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NewJSONLogger creates a Logger that outputs JSON-formatted logs.
// level sets the minimum log level (e.g., slog.LevelDebug, slog.LevelInfo).
func NewJSONLogger(level slog.Level) *Logger {
	return NewLogger(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
}

// NewTextLogger creates a Logger that outputs human-readable text logs.
func NewTextLogger(level slog.Level) *Logger {
	return NewLogger(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
}

// NoopLogger creates a Logger that discards all log output.
func NoopLogger() *Logger {
	return NewLogger(slog.NewTextHandler(io.Discard, nil))
}

// WithRoot adds the index root to the logger.
func (l *Logger) WithRoot(root string) *Logger {
	return &Logger{
		Logger: l.Logger.With("root", root),
	}
}

// WithPath adds a document path field to the logger.
func (l *Logger) WithPath(path string) *Logger {
	return &Logger{
		Logger: l.Logger.With("path", path),
	}
}

// WithComponent scopes the logger to one subsystem.
func (l *Logger) WithComponent(name string) *Logger {
	return &Logger{
		Logger: l.Logger.With("component", name),
	}
}

// LogCommit logs the outcome of one indexing job.
func (l *Logger) LogCommit(ctx context.Context, path string, rows int, d time.Duration, err error) {
	if err != nil {
		l.ErrorContext(ctx, "indexing failed",
			"path", path,
			"duration", d,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "indexing completed",
			"path", path,
			"rows", rows,
			"duration", d,
		)
	}
}

// LogSearch logs a search operation.
func (l *Logger) LogSearch(ctx context.Context, mode string, k, resultsFound int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "search failed",
			"mode", mode,
			"k", k,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "search completed",
			"mode", mode,
			"k", k,
			"results", resultsFound,
		)
	}
}

// LogTaskFailed logs a failed scheduler task.
func (l *Logger) LogTaskFailed(ctx context.Context, task, priority string, err error) {
	l.WarnContext(ctx, "task failed",
		"task", task,
		"priority", priority,
		"error", err,
	)
}

// LogRecovery logs the state restored by Open.
func (l *Logger) LogRecovery(ctx context.Context, segments, resumed int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "recovery failed",
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "index opened",
			"segments", segments,
			"resumed_jobs", resumed,
		)
	}
}

// LogIntegrity logs the outcome of an integrity check.
func (l *Logger) LogIntegrity(ctx context.Context, report VerifyReport) {
	if report.OK {
		l.InfoContext(ctx, "integrity check passed",
			"segments", report.Stats.Segments,
			"rows", report.Stats.Rows,
			"orphans", len(report.Orphans),
		)
	} else {
		l.WarnContext(ctx, "integrity check failed",
			"issues", len(report.Issues),
			"orphans", len(report.Orphans),
		)
	}
}
