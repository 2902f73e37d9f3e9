package logger

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"
)

// AuditEntry is one security event as written to the structured log
type AuditEntry struct {
	EventKind string
	ActorID   string
	SubjectID string
	Success   bool
	Details   map[string]any
}

// AuditLogger writes audit events as "audit" log lines
type AuditLogger struct {
	logger *slog.Logger
}

func NewAuditLogger(logger *slog.Logger) *AuditLogger {
	return &AuditLogger{logger: logger}
}

// Log emits the entry at info level on success and warn level on failure.
// Detail keys are emitted in sorted order.
func (al *AuditLogger) Log(ctx context.Context, entry AuditEntry) {
	attrs := []slog.Attr{
		slog.String("audit_type", "auth"),
		slog.String("event_kind", entry.EventKind),
		slog.Bool("success", entry.Success),
		slog.String("timestamp", time.Now().UTC().Format(time.RFC3339)),
	}

	if entry.ActorID != "" {
		attrs = append(attrs, slog.String("actor_id", entry.ActorID))
	}
	if entry.SubjectID != "" {
		attrs = append(attrs, slog.String("subject_id", entry.SubjectID))
	}

	keys := make([]string, 0, len(entry.Details))
	for k := range entry.Details {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		attrs = append(attrs, detailAttr(k, entry.Details[k]))
	}

	level := slog.LevelInfo
	if !entry.Success {
		level = slog.LevelWarn
	}
	al.logger.LogAttrs(ctx, level, "audit", attrs...)
}

func detailAttr(key string, v any) slog.Attr {
	switch val := v.(type) {
	case string:
		if key == "email" {
			return slog.String(key, SanitizedEmail(val))
		}
		return slog.String(key, val)
	case int:
		return slog.Int(key, val)
	case bool:
		return slog.Bool(key, val)
	case time.Time:
		return slog.Time(key, val)
	case fmt.Stringer:
		return slog.String(key, val.String())
	}
	return slog.Any(key, v)
}
