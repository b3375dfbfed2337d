// Package audit records every mutating action the agent performs, so a
// clinic administrator can reconstruct who terminated or trusted what.
package audit

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"

	"sessionguard/agent/internal/audit/domain"
)

// Sink receives audit events. Implementations decide where they go
// (operational log, OTel log export).
type Sink interface {
	Write(ctx context.Context, e *domain.Event) error
}

// AuditLogger writes a single audit event with explicit action/resource.
// LogEvent is best-effort: failures are logged and do not affect the caller.
type AuditLogger interface {
	LogEvent(ctx context.Context, action, resource, targetID, outcome, detail string)
}

// Logger implements AuditLogger on a Sink.
type Logger struct {
	sink   Sink
	userID string
}

// NewLogger returns an AuditLogger writing to sink on behalf of userID.
// sink may be nil; then events go to the operational log only.
func NewLogger(sink Sink, userID string) *Logger {
	return &Logger{sink: sink, userID: userID}
}

// LogEvent writes one audit event. Best-effort: errors are logged and
// not returned.
func (l *Logger) LogEvent(ctx context.Context, action, resource, targetID, outcome, detail string) {
	e := &domain.Event{
		ID:        uuid.New().String(),
		UserID:    l.userID,
		Action:    action,
		Resource:  resource,
		TargetID:  targetID,
		Outcome:   outcome,
		Detail:    detail,
		CreatedAt: time.Now().UTC(),
	}
	if l.sink == nil {
		log.Printf("audit: %s %s/%s %s %s", e.Action, e.Resource, e.TargetID, e.Outcome, e.Detail)
		return
	}
	if err := l.sink.Write(ctx, e); err != nil {
		log.Printf("audit: failed to record %s/%s: %v", action, resource, err)
	}
}
