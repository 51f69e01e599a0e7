package core

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"greenhouse/pkg/domain"
)

type captureLogger struct{ calls []string }

func (c *captureLogger) Debug(msg string, _ ...any) { c.calls = append(c.calls, "d:"+msg) }
func (c *captureLogger) Info(msg string, _ ...any)  { c.calls = append(c.calls, "i:"+msg) }
func (c *captureLogger) Warn(msg string, _ ...any)  { c.calls = append(c.calls, "w:"+msg) }
func (c *captureLogger) Error(msg string, _ ...any) { c.calls = append(c.calls, "e:"+msg) }

func (c *captureLogger) has(call string) bool {
	for _, got := range c.calls {
		if got == call {
			return true
		}
	}
	return false
}

type capturePhases struct{ calls []string }

func (c *capturePhases) PhaseAdvanced(_ context.Context, from, to string) {
	c.calls = append(c.calls, from+"->"+to)
}

type captureAuditRecorder struct {
	entries []AuditEntry
}

func (c *captureAuditRecorder) Record(_ context.Context, entry AuditEntry) {
	c.entries = append(c.entries, entry)
}

func (c *captureAuditRecorder) has(op string, status AuditStatus, predicate func(AuditEntry) bool) bool {
	for _, entry := range c.entries {
		if entry.Operation == op && entry.Status == status {
			if predicate == nil || predicate(entry) {
				return true
			}
		}
	}
	return false
}

type metricsCall struct {
	op      string
	success bool
}

type captureMetricsRecorder struct {
	calls []metricsCall
}

func (c *captureMetricsRecorder) Observe(_ context.Context, op string, success bool, _ time.Duration) {
	c.calls = append(c.calls, metricsCall{op: op, success: success})
}

func (c *captureMetricsRecorder) has(op string, success bool) bool {
	for _, call := range c.calls {
		if call.op == op && call.success == success {
			return true
		}
	}
	return false
}

type spanRecord struct {
	op  string
	err error
}

type captureTracer struct {
	started []string
	ended   []spanRecord
}

func (c *captureTracer) Start(ctx context.Context, op string) (context.Context, TraceSpan) {
	c.started = append(c.started, op)
	return ctx, &captureSpan{tracer: c, op: op}
}

func (c *captureTracer) has(op string, success bool) bool {
	for _, record := range c.ended {
		if record.op == op && (record.err == nil) == success {
			return true
		}
	}
	return false
}

type captureSpan struct {
	tracer *captureTracer
	op     string
}

func (s *captureSpan) End(err error) {
	s.tracer.ended = append(s.tracer.ended, spanRecord{op: s.op, err: err})
}

func TestServiceObservability(t *testing.T) {
	ctx := context.Background()
	audit := &captureAuditRecorder{}
	metrics := &captureMetricsRecorder{}
	tracer := &captureTracer{}
	log := &captureLogger{}

	svc := NewInMemoryService(nil,
		WithAuditRecorder(audit),
		WithMetricsRecorder(metrics),
		WithTracer(tracer),
		WithLogger(log),
	)

	gh, _, err := svc.CreateGreenhouse(ctx, domain.Greenhouse{Name: "Main"})
	if err != nil {
		t.Fatalf("create greenhouse: %v", err)
	}
	if !audit.has("create_greenhouse", AuditStatusSuccess, func(entry AuditEntry) bool { return entry.EntityID == gh.ID }) {
		t.Fatalf("expected audit entry for create_greenhouse success")
	}
	if !metrics.has("create_greenhouse", true) || !tracer.has("create_greenhouse", true) {
		t.Fatalf("expected metrics and trace for create_greenhouse")
	}

	if _, _, err := svc.AdvanceSeed(ctx, "missing", FeedbackRequest{}); err == nil {
		t.Fatalf("expected error for missing seed")
	}
	if !audit.has("advance_seed", AuditStatusError, func(entry AuditEntry) bool {
		return entry.EntityID == "missing" && strings.Contains(entry.Error, "not found")
	}) {
		t.Fatalf("expected audit entry for failed advance")
	}
	if !metrics.has("advance_seed", false) || !tracer.has("advance_seed", false) {
		t.Fatalf("expected failure metrics and trace for advance_seed")
	}
	if !log.has("e:operation failed") || !log.has("d:operation completed") {
		t.Fatalf("unexpected log calls %v", log.calls)
	}
}

type warnRule struct{}

func (warnRule) Name() string { return "warn" }

func (warnRule) Evaluate(context.Context, domain.RuleView, []domain.Change) (domain.Result, error) {
	return domain.Result{Violations: []domain.Violation{{Rule: "warn", Severity: domain.SeverityWarn, Message: "heads up"}}}, nil
}

func TestServiceLogsNonBlockingViolations(t *testing.T) {
	engine := NewDefaultRulesEngine()
	engine.Register(warnRule{})
	log := &captureLogger{}
	svc := NewInMemoryService(engine, WithLogger(log))
	_, res, err := svc.CreateSubstrate(context.Background(), domain.Substrate{Name: "Peat"})
	if err != nil {
		t.Fatalf("create substrate: %v", err)
	}
	if len(res.Violations) != 1 || !log.has("w:rule violation") {
		t.Fatalf("expected warn violation to be logged, got %v / %v", res, log.calls)
	}
}

func TestServiceRunDefaultsNilContext(t *testing.T) {
	svc := NewInMemoryService(nil)
	//nolint:staticcheck // exercising nil context handling
	res, err := svc.run(nil, "noop", func(ctx context.Context) (string, Result, error) {
		if ctx == nil {
			return "", Result{}, errors.New("nil ctx")
		}
		return "id", Result{}, nil
	})
	if err != nil || len(res.Violations) != 0 {
		t.Fatalf("run: %v", err)
	}
}
