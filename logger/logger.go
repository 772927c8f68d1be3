package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
)

type ContextKey string

const (
	RequestIDKey    ContextKey = "request_id"
	ConversionIDKey ContextKey = "conversion_id"
	WorkerKey       ContextKey = "worker"
)

type Config struct {
	Level  string // debug, info, warn, error
	Format string // json, text
}

// Init installs the default slog logger writing to stdout.
func Init(cfg *Config) {
	slog.SetDefault(New(os.Stdout, cfg))
}

func New(w io.Writer, cfg *Config) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler)
}

// WithContext returns the default logger annotated with the values the
// request or worker placed on ctx.
func WithContext(ctx context.Context) *slog.Logger {
	l := slog.Default()

	if requestID, ok := ctx.Value(RequestIDKey).(string); ok && requestID != "" {
		l = l.With("request_id", requestID)
	}
	if id, ok := ctx.Value(ConversionIDKey).(int64); ok && id != 0 {
		l = l.With("conversion_id", id)
	}
	if worker, ok := ctx.Value(WorkerKey).(int); ok {
		l = l.With("worker", worker)
	}
	return l
}

func WithConversion(ctx context.Context, id int64) context.Context {
	return context.WithValue(ctx, ConversionIDKey, id)
}

func WithWorker(ctx context.Context, worker int) context.Context {
	return context.WithValue(ctx, WorkerKey, worker)
}
