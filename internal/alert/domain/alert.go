package domain

import "time"

// Severity ranks a security alert.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Alert is a security alert produced by the backend's analysis for a
// session. Only the Read and Dismissed flags are mutable; everything
// else is immutable once created.
type Alert struct {
	ID        string            `json:"id"`
	SessionID string            `json:"sessionId"`
	Type      string            `json:"type"` // e.g. new_device, impossible_travel, brute_force
	Severity  Severity          `json:"severity"`
	Message   string            `json:"message"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	Read      bool              `json:"read"`
	Dismissed bool              `json:"dismissed"`
	CreatedAt time.Time         `json:"createdAt"`
}

// Page is one page of an alert listing.
type Page struct {
	Items      []*Alert `json:"items"`
	Total      int      `json:"total"`
	Page       int      `json:"page"`
	TotalPages int      `json:"totalPages"`
}
