package domain

import "time"

// Event records one mutating action the agent performed against the
// Remote Session Store, and how it went.
type Event struct {
	ID        string
	UserID    string
	Action    string // e.g. terminate, trust_device, report_suspicious
	Resource  string // e.g. session, alert, settings
	TargetID  string // id of the affected resource; may be empty for bulk actions
	Outcome   string // "ok" or "error"
	Detail    string // reason, error text, or counts
	CreatedAt time.Time
}
