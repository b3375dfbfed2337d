// Package score derives the security score shown on the dashboard: a
// deterministic, stateless function of current counts. The weights are
// configuration, not a validated risk model.
package score

// Weights are the fixed point deductions and bonuses.
type Weights struct {
	PerBlockedSession      int
	PerHighRiskSession     int
	PerUnreadCriticalAlert int
	TwoFactorBonus         int
}

// DefaultWeights returns the stock weights used when config is silent.
func DefaultWeights() Weights {
	return Weights{
		PerBlockedSession:      15,
		PerHighRiskSession:     10,
		PerUnreadCriticalAlert: 5,
		TwoFactorBonus:         10,
	}
}

// Inputs are the counts the score is derived from.
type Inputs struct {
	BlockedSessions      int
	HighRiskSessions     int
	UnreadCriticalAlerts int
	TwoFactorEnabled     bool
}

// Compute returns the score: start at 100, subtract per-count
// penalties, add the two-factor bonus, clamp to [0, 100].
func Compute(w Weights, in Inputs) int {
	s := 100
	s -= in.BlockedSessions * w.PerBlockedSession
	s -= in.HighRiskSessions * w.PerHighRiskSession
	s -= in.UnreadCriticalAlerts * w.PerUnreadCriticalAlert
	if in.TwoFactorEnabled {
		s += w.TwoFactorBonus
	}
	if s < 0 {
		return 0
	}
	if s > 100 {
		return 100
	}
	return s
}
