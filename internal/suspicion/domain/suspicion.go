package domain

import (
	"time"

	sessiondomain "vote-integrity/backend/internal/session/domain"
)

// Reasons recorded on a session when it is escalated.
const (
	ReasonIPChanges           = "ip_changes"
	ReasonRateLimitViolations = "rate_limit_violations"
	ReasonRapidVoting         = "rapid_voting"
	ReasonIPCap               = "ip_cap"
)

// reasonOrder ranks reasons when several apply; the first present wins.
var reasonOrder = []string{ReasonRateLimitViolations, ReasonIPChanges, ReasonRapidVoting, ReasonIPCap}

// Signals are the observations the engine scores for one fingerprint.
type Signals struct {
	IPTransitions int  // distinct (old_ip, new_ip) pairs
	Violations    int  // rate-limit violations recorded for the fingerprint
	RecentVotes   int  // votes inside the rapid-vote window, excluding the one being cast
	IPCapHit      bool // the request's IP has exhausted its vote cap
}

// Thresholds parameterize the built-in rules. A zero violation or rapid-vote threshold disables that rule.
type Thresholds struct {
	MaxIPChanges         int
	FlagAfterViolations  int
	BlockAfterViolations int
	RapidVoteThreshold   int
}

// Decision is the engine's verdict. Level never lowers a session's state; callers escalate only.
type Decision struct {
	Level  sessiondomain.Suspicion
	Reason string
}

// Policy is an operator-supplied Rego module replacing the built-in policy while enabled.
type Policy struct {
	ID        string
	Rules     string
	Enabled   bool
	CreatedAt time.Time
}

// Decide applies the built-in rules in Go. The Rego policy encodes the same rules.
func (t Thresholds) Decide(s Signals) Decision {
	var reasons []string
	blocked := t.BlockAfterViolations > 0 && s.Violations >= t.BlockAfterViolations
	if s.IPTransitions > t.MaxIPChanges {
		reasons = append(reasons, ReasonIPChanges)
	}
	if blocked || (t.FlagAfterViolations > 0 && s.Violations >= t.FlagAfterViolations) {
		reasons = append(reasons, ReasonRateLimitViolations)
	}
	if t.RapidVoteThreshold > 0 && s.RecentVotes >= t.RapidVoteThreshold {
		reasons = append(reasons, ReasonRapidVoting)
	}
	if s.IPCapHit {
		reasons = append(reasons, ReasonIPCap)
	}
	switch {
	case blocked:
		return Decision{Level: sessiondomain.SuspicionBlocked, Reason: ReasonRateLimitViolations}
	case len(reasons) > 0:
		return Decision{Level: sessiondomain.SuspicionFlagged, Reason: PrimaryReason(reasons)}
	default:
		return Decision{Level: sessiondomain.SuspicionClean}
	}
}

// PrimaryReason picks the highest-ranked known reason from reasons, else the first one given.
func PrimaryReason(reasons []string) string {
	for _, want := range reasonOrder {
		for _, r := range reasons {
			if r == want {
				return r
			}
		}
	}
	if len(reasons) > 0 {
		return reasons[0]
	}
	return ""
}

// RapidWindowStart returns the start of the cadence window ending at now.
func RapidWindowStart(now time.Time, window time.Duration) time.Time {
	return now.Add(-window)
}
