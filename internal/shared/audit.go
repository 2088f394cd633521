package shared

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// AuditEvent describes a single mutation for compliance review.
type AuditEvent struct {
	ID        uuid.UUID
	EventType string
	ActorID   int64
	Target    string
	Meta      map[string]any
	At        time.Time
}

// AuditSink receives mutation events. Implementations must be safe for
// concurrent use; delivery is fire-and-forget from the caller's view.
type AuditSink interface {
	Record(ctx context.Context, event AuditEvent)
}

// AuditLogger writes events into audit_events.
type AuditLogger struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewAuditLogger returns a Postgres backed sink.
func NewAuditLogger(pool *pgxpool.Pool, logger *slog.Logger) *AuditLogger {
	return &AuditLogger{pool: pool, logger: logger}
}

// Record persists the event. Failures are logged, never propagated; an
// authorization mutation must not roll back because the audit write failed.
func (l *AuditLogger) Record(ctx context.Context, event AuditEvent) {
	if l == nil || l.pool == nil {
		return
	}
	if err := l.record(ctx, event); err != nil && l.logger != nil {
		l.logger.Error("audit record", slog.String("event", event.EventType), slog.Any("error", err))
	}
}

func (l *AuditLogger) record(ctx context.Context, event AuditEvent) error {
	if event.EventType == "" || event.Target == "" {
		return errors.New("audit event requires event_type and target")
	}
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	if event.At.IsZero() {
		event.At = time.Now().UTC()
	}
	metaJSON, err := json.Marshal(event.Meta)
	if err != nil {
		return err
	}
	_, err = l.pool.Exec(ctx,
		`INSERT INTO audit_events (id, event_type, actor_id, target, meta, occurred_at) VALUES ($1, $2, $3, $4, $5, $6)`,
		event.ID, event.EventType, event.ActorID, event.Target, metaJSON, event.At)
	return err
}

// NopAuditSink discards events. Used in tests.
type NopAuditSink struct{}

// Record implements AuditSink.
func (NopAuditSink) Record(context.Context, AuditEvent) {}
