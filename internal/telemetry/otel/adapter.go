package otel

import (
	"context"
	"time"

	otellog "go.opentelemetry.io/otel/log"
	sdklog "go.opentelemetry.io/otel/sdk/log"

	"sessionguard/agent/internal/audit"
	"sessionguard/agent/internal/audit/domain"
)

// NewAuditSink returns an audit.Sink that records audit events as OTel log records via the given LoggerProvider.
// If provider is nil, returns a no-op sink.
func NewAuditSink(provider *sdklog.LoggerProvider) audit.Sink {
	if provider == nil {
		return noopSink{}
	}
	return &otelSink{logger: provider.Logger("sessionguard.audit")}
}

type noopSink struct{}

func (noopSink) Write(context.Context, *domain.Event) error { return nil }

type otelSink struct {
	logger otellog.Logger
}

// Write converts the audit event to an OTel log record and emits it.
func (s *otelSink) Write(ctx context.Context, e *domain.Event) error {
	if e == nil {
		return nil
	}
	rec := otellog.Record{}
	if !e.CreatedAt.IsZero() {
		rec.SetTimestamp(e.CreatedAt)
	} else {
		rec.SetTimestamp(time.Now().UTC())
	}
	rec.SetBody(otellog.StringValue(e.Action))
	if e.ID != "" {
		rec.AddAttributes(otellog.String("audit_id", e.ID))
	}
	if e.UserID != "" {
		rec.AddAttributes(otellog.String("user_id", e.UserID))
	}
	if e.Resource != "" {
		rec.AddAttributes(otellog.String("resource", e.Resource))
	}
	if e.TargetID != "" {
		rec.AddAttributes(otellog.String("target_id", e.TargetID))
	}
	if e.Outcome != "" {
		rec.AddAttributes(otellog.String("outcome", e.Outcome))
	}
	if e.Detail != "" {
		rec.AddAttributes(otellog.String("detail", e.Detail))
	}
	s.logger.Emit(ctx, rec)
	return nil
}
