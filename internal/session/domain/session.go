package domain

import (
	"time"

	"vote-integrity/backend/internal/security"
)

// Suspicion is the one-way escalation state of a session: clean, then flagged, then blocked.
// The core only ever raises it.
type Suspicion int

const (
	SuspicionClean Suspicion = iota
	// SuspicionFlagged requires a freshly verified proof on every vote.
	SuspicionFlagged
	// SuspicionBlocked rejects every vote; not recoverable by the client.
	SuspicionBlocked
)

func (s Suspicion) String() string {
	switch s {
	case SuspicionClean:
		return "clean"
	case SuspicionFlagged:
		return "flagged"
	case SuspicionBlocked:
		return "blocked"
	default:
		return "unknown"
	}
}

// Session binds a fingerprint to its current token, last-seen IP, suspicion state and vote count.
type Session struct {
	ID              int64
	Fingerprint     string
	Token           string
	TokenExpiresAt  time.Time
	IPAddress       string // last observed client IP; empty for legacy rows
	VotesUsed       int    // projection of the vote ledger for this fingerprint
	Suspicion       Suspicion
	SuspicionReason string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// IsSuspicious reports whether the session is flagged or blocked.
func (s *Session) IsSuspicious() bool {
	return s.Suspicion >= SuspicionFlagged
}

// TokenExpired reports whether the token is no longer valid at now. Expiry is inclusive.
func (s *Session) TokenExpired(now time.Time) bool {
	return !now.Before(s.TokenExpiresAt)
}

// TokenValid reports whether token is this session's current, unexpired token and the session
// belongs to fingerprint. A nil session is never valid.
func (s *Session) TokenValid(token, fingerprint string, now time.Time) bool {
	if s == nil {
		return false
	}
	match := security.TokenEqual(token, s.Token)
	return match && s.Fingerprint == fingerprint && !s.TokenExpired(now)
}
