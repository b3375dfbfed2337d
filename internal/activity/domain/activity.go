package domain

import "time"

// Type classifies a session activity event.
type Type string

const (
	TypeLogin          Type = "login"
	TypePageView       Type = "page_view"
	TypeAPICall        Type = "api_call"
	TypeDownload       Type = "download"
	TypeUpload         Type = "upload"
	TypeSettingsChange Type = "settings_change"
	TypeSuspicious     Type = "suspicious_activity"
)

// Activity is an immutable event tied to a session. Append-only on the
// backend; the agent never mutates or deletes activities.
type Activity struct {
	ID          string         `json:"id"`
	SessionID   string         `json:"sessionId"`
	Type        Type           `json:"type"`
	Description string         `json:"description"`
	IPAddress   string         `json:"ipAddress"`
	Details     map[string]any `json:"details,omitempty"`
	CreatedAt   time.Time      `json:"createdAt"`
}

// Page is one page of an activity listing.
type Page struct {
	Items      []*Activity `json:"items"`
	Total      int         `json:"total"`
	Page       int         `json:"page"`
	TotalPages int         `json:"totalPages"`
}
