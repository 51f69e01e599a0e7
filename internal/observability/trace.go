package observability

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"greenhouse/internal/core"
)

// Tracer emits one debug line per finished span.
type Tracer struct {
	zl zerolog.Logger
}

// NewTracer returns a zerolog-backed tracer.
func NewTracer(zl zerolog.Logger) *Tracer {
	return &Tracer{zl: zl}
}

// Start opens a span for operation.
func (t *Tracer) Start(ctx context.Context, operation string) (context.Context, core.TraceSpan) {
	return ctx, &span{tracer: t, operation: operation, started: time.Now()}
}

type span struct {
	tracer    *Tracer
	operation string
	started   time.Time
}

func (s *span) End(err error) {
	event := s.tracer.zl.Debug()
	if err != nil {
		event = s.tracer.zl.Warn().AnErr("error", err)
	}
	event.
		Str("operation", s.operation).
		Dur("duration", time.Since(s.started)).
		Msg("span")
}

// AuditLog writes audit entries as structured log lines.
type AuditLog struct {
	zl zerolog.Logger
}

// NewAuditLog returns an audit recorder tagged with component=audit.
func NewAuditLog(zl zerolog.Logger) *AuditLog {
	return &AuditLog{zl: zl.With().Str("component", "audit").Logger()}
}

// Record implements core.AuditRecorder.
func (a *AuditLog) Record(_ context.Context, entry core.AuditEntry) {
	event := a.zl.Info()
	if entry.Status == core.AuditStatusError {
		event = a.zl.Warn().Str("error", entry.Error)
	}
	event.
		Str("operation", entry.Operation).
		Str("status", string(entry.Status)).
		Str("entity_id", entry.EntityID).
		Dur("duration", entry.Duration).
		Time("occurred_at", entry.OccurredAt).
		Msg("audit")
}
