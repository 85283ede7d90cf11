package observability

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"log/slog"

	"github.com/askdb/askdb/internal/config"
)

type ctxKey string

const traceIDKey ctxKey = "trace_id"

func NewLogger(cfg config.Config, writer io.Writer) *slog.Logger {
	if writer == nil {
		writer = io.Discard
	}
	opts := &slog.HandlerOptions{Level: cfg.Observability.LogLevel}
	var handler slog.Handler
	if cfg.Observability.LogJSON {
		handler = slog.NewJSONHandler(writer, opts)
	} else {
		handler = slog.NewTextHandler(writer, opts)
	}
	return slog.New(handler).With(
		slog.String("service", cfg.Service.Name),
		slog.String("profile", string(cfg.Profile)),
		slog.String("db_dialect", cfg.Database.Dialect),
	)
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

// SQLAttrs describes a generated statement for logs. The statement text is
// included only when includeText is set; otherwise a fingerprint stands in.
func SQLAttrs(sqlText string, includeText bool) []slog.Attr {
	attrs := []slog.Attr{
		slog.Int("sql_len", len(sqlText)),
		slog.String("sql_fingerprint", SQLFingerprint(sqlText)),
	}
	if includeText {
		attrs = append(attrs, slog.String("sql", sqlText))
	}
	return attrs
}

func SQLFingerprint(sqlText string) string {
	if sqlText == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(sqlText))
	return hex.EncodeToString(sum[:6])
}
