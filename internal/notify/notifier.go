// Package notify delivers user-visible notifications about mutation
// outcomes: every failed mutation produces a dismissable notice naming
// the action and reason, every successful one a confirmation.
package notify

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"
)

// Level grades a notification.
type Level string

const (
	LevelSuccess Level = "success"
	LevelError   Level = "error"
	LevelWarning Level = "warning"
)

// Notification is one transient, dismissable notice for the user.
type Notification struct {
	ID        string
	Level     Level
	Action    string // e.g. "terminate session"
	Message   string
	CreatedAt time.Time
}

// Notifier receives notifications. Implementations must be safe for
// concurrent use and must not block the caller for long.
type Notifier interface {
	Notify(ctx context.Context, n Notification)
}

// Success reports a completed action through n.
func Success(ctx context.Context, n Notifier, action, message string) {
	emit(ctx, n, Notification{Level: LevelSuccess, Action: action, Message: message})
}

// Failure reports a failed action through n with the reason.
func Failure(ctx context.Context, n Notifier, action string, err error) {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	emit(ctx, n, Notification{Level: LevelError, Action: action, Message: msg})
}

// Warning reports a degraded condition, e.g. persistent background
// refresh failures.
func Warning(ctx context.Context, n Notifier, action, message string) {
	emit(ctx, n, Notification{Level: LevelWarning, Action: action, Message: message})
}

// emitTimeout bounds one async delivery.
const emitTimeout = 5 * time.Second

// emit fills in id and timestamp and delivers asynchronously so the
// caller is never blocked. The goroutine uses context.Background() with
// a timeout so request cancellation does not swallow the notice.
func emit(ctx context.Context, n Notifier, note Notification) {
	if n == nil {
		return
	}
	note.ID = uuid.New().String()
	note.CreatedAt = time.Now().UTC()
	go func() {
		emitCtx, cancel := context.WithTimeout(context.Background(), emitTimeout)
		defer cancel()
		n.Notify(emitCtx, note)
	}()
}

// LogNotifier writes notifications to the operational log. It is the
// default sink when the embedding application registers nothing else.
type LogNotifier struct{}

// Notify implements Notifier.
func (LogNotifier) Notify(_ context.Context, n Notification) {
	log.Printf("notify: [%s] %s: %s", n.Level, n.Action, n.Message)
}
