package observability

import (
	"context"
	"io"
	"log/slog"

	"github.com/snowchat/snowchat/internal/config"
	"gopkg.in/natefinch/lumberjack.v2"
)

type ctxKey string

const traceIDKey ctxKey = "trace_id"

func NewLogger(cfg config.Config, writer io.Writer) *slog.Logger {
	if writer == nil {
		writer = io.Discard
	}
	var handler slog.Handler
	if cfg.Observability.LogJSON {
		handler = slog.NewJSONHandler(writer, &slog.HandlerOptions{Level: cfg.Observability.LogLevel})
	} else {
		handler = slog.NewTextHandler(writer, &slog.HandlerOptions{Level: cfg.Observability.LogLevel})
	}
	return slog.New(handler).With(
		slog.String("service", cfg.Service.Name),
		slog.String("profile", string(cfg.Profile)),
	)
}

// LogWriter tees console output into a size-rotated log file when
// SNOWCHAT_LOG_FILE is set. The returned closer must be called on shutdown.
func LogWriter(cfg config.Config, console io.Writer) (io.Writer, func() error) {
	if cfg.Observability.LogFile == "" {
		return console, func() error { return nil }
	}
	file := &lumberjack.Logger{
		Filename:   cfg.Observability.LogFile,
		MaxSize:    cfg.Observability.LogMaxSizeMB,
		MaxBackups: cfg.Observability.LogMaxBackups,
		Compress:   true,
	}
	if console == nil {
		return file, file.Close
	}
	return io.MultiWriter(console, file), file.Close
}

func ContextWithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceIDKey, traceID)
}

func TraceIDFromContext(ctx context.Context) string {
	value, ok := ctx.Value(traceIDKey).(string)
	if !ok {
		return ""
	}
	return value
}
