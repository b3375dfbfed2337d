package domain

import "time"

// Status is the lifecycle state of a session as observed by the agent.
// Active is the only state that accepts further activity; the rest are terminal.
type Status string

const (
	StatusActive     Status = "active"
	StatusInactive   Status = "inactive" // idle timeout elapsed
	StatusExpired    Status = "expired"
	StatusTerminated Status = "terminated"
	StatusBlocked    Status = "blocked" // security action; also refuses device trust
)

// RiskLevel is the backend's risk classification for a session.
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// Device describes the client device a session runs on.
type Device struct {
	Type    string `json:"type"` // desktop, mobile, tablet, kiosk
	OS      string `json:"os"`
	Browser string `json:"browser"`
	Trusted bool   `json:"trusted"`
}

// Location describes where a session connects from.
type Location struct {
	IPAddress string `json:"ipAddress"`
	City      string `json:"city"`
	Country   string `json:"country"`
}

// Session represents one authenticated device/browser connection for a user.
// The Remote Session Store is authoritative; the agent holds time-bounded copies.
type Session struct {
	ID             string    `json:"id"`
	UserID         string    `json:"userId"`
	Device         Device    `json:"device"`
	Location       Location  `json:"location"`
	Status         Status    `json:"status"`
	RiskLevel      RiskLevel `json:"riskLevel"`
	Current        bool      `json:"current"` // at most one per user
	CreatedAt      time.Time `json:"createdAt"`
	LastActivityAt time.Time `json:"lastActivityAt"`
	ExpiresAt      time.Time `json:"expiresAt"`
}

// IsActive reports whether the session still accepts activity.
func (s *Session) IsActive() bool {
	return s.Status == StatusActive
}

// CanTrustDevice reports whether the device-trust flag may be toggled on.
// Blocked sessions refuse trust.
func (s *Session) CanTrustDevice() bool {
	return s.Status != StatusBlocked
}

// Filters narrows a session listing. Zero values mean "no filter".
type Filters struct {
	UserID    string
	Status    Status
	RiskLevel RiskLevel
	// SortBy overrides the default last-activity-descending ordering
	// when set (e.g. "createdAt").
	SortBy string
}

// Page is one page of a session listing with the backend's list envelope.
type Page struct {
	Items      []*Session `json:"items"`
	Total      int        `json:"total"`
	Page       int        `json:"page"`
	TotalPages int        `json:"totalPages"`
}

// Settings is the per-user session configuration. Singleton per user;
// replaced or merged wholesale via the settings endpoint.
type Settings struct {
	MaxConcurrentSessions int           `json:"maxConcurrentSessions"`
	SessionTimeout        time.Duration `json:"sessionTimeout"`
	RequireTwoFactor      bool          `json:"requireTwoFactor"`
	LockoutThreshold      int           `json:"lockoutThreshold"`
}

// SettingsPatch carries a partial settings update. Nil fields are left unchanged.
type SettingsPatch struct {
	MaxConcurrentSessions *int           `json:"maxConcurrentSessions,omitempty"`
	SessionTimeout        *time.Duration `json:"sessionTimeout,omitempty"`
	RequireTwoFactor      *bool          `json:"requireTwoFactor,omitempty"`
	LockoutThreshold      *int           `json:"lockoutThreshold,omitempty"`
}

// Stats is the backend's aggregate view of a user's sessions,
// consumed by dashboards and by the security score.
type Stats struct {
	TotalSessions    int `json:"totalSessions"`
	ActiveSessions   int `json:"activeSessions"`
	BlockedSessions  int `json:"blockedSessions"`
	HighRiskSessions int `json:"highRiskSessions"`
	TrustedDevices   int `json:"trustedDevices"`
}
