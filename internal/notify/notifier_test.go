package notify

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// captureNotifier collects notifications for assertions.
type captureNotifier struct {
	mu    sync.Mutex
	notes []Notification
}

func (c *captureNotifier) Notify(_ context.Context, n Notification) {
	c.mu.Lock()
	c.notes = append(c.notes, n)
	c.mu.Unlock()
}

func (c *captureNotifier) wait(t *testing.T, n int) []Notification {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		c.mu.Lock()
		if len(c.notes) >= n {
			out := make([]Notification, len(c.notes))
			copy(out, c.notes)
			c.mu.Unlock()
			return out
		}
		c.mu.Unlock()
		if time.Now().After(deadline) {
			t.Fatalf("got %d notifications, want %d", len(c.notes), n)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestSuccess_FillsIDAndTimestamp(t *testing.T) {
	n := &captureNotifier{}
	Success(context.Background(), n, "terminate session", "session sess-1")

	notes := n.wait(t, 1)
	note := notes[0]
	if note.Level != LevelSuccess {
		t.Errorf("level = %q, want %q", note.Level, LevelSuccess)
	}
	if note.Action != "terminate session" {
		t.Errorf("action = %q, want terminate session", note.Action)
	}
	if note.ID == "" {
		t.Error("notification ID should be set")
	}
	if note.CreatedAt.IsZero() {
		t.Error("notification CreatedAt should be set")
	}
}

func TestFailure_CarriesReason(t *testing.T) {
	n := &captureNotifier{}
	Failure(context.Background(), n, "trust device", errors.New("session is blocked"))

	notes := n.wait(t, 1)
	if notes[0].Level != LevelError {
		t.Errorf("level = %q, want %q", notes[0].Level, LevelError)
	}
	if notes[0].Message != "session is blocked" {
		t.Errorf("message = %q, want the failure reason", notes[0].Message)
	}
}

func TestFailure_NilError(t *testing.T) {
	n := &captureNotifier{}
	Failure(context.Background(), n, "trust device", nil)

	notes := n.wait(t, 1)
	if notes[0].Message != "unknown error" {
		t.Errorf("message = %q, want unknown error", notes[0].Message)
	}
}

func TestEmit_NilNotifierIsNoop(t *testing.T) {
	// Must not panic.
	Success(context.Background(), nil, "x", "y")
	Warning(context.Background(), nil, "x", "y")
	Failure(context.Background(), nil, "x", nil)
}
