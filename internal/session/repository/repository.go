package repository

import (
	"context"
	"time"

	"vote-integrity/backend/internal/session/domain"
)

// Repository defines persistence for vote sessions. Lookups return (nil, nil) when no row exists.
type Repository interface {
	GetByFingerprint(ctx context.Context, fingerprint string) (*domain.Session, error)
	// Create inserts s unless a session for s.Fingerprint already exists. Reports whether it inserted.
	Create(ctx context.Context, s *domain.Session) (bool, error)
	// RotateToken replaces the token only while the stored token still equals oldToken.
	RotateToken(ctx context.Context, fingerprint, oldToken, newToken string, expiresAt time.Time) (bool, error)
	// SwapIP sets the last-seen IP to newIP only while it still equals oldIP.
	SwapIP(ctx context.Context, fingerprint, oldIP, newIP string) (bool, error)
	// Escalate raises the suspicion level; a lower or equal level is a no-op. Reports whether it changed.
	Escalate(ctx context.Context, fingerprint string, level domain.Suspicion, reason string) (bool, error)
	// EscalateByIP raises suspicion on every session last seen on ip and returns the fingerprints it changed.
	EscalateByIP(ctx context.Context, ip string, level domain.Suspicion, reason string) ([]string, error)
	IncrementVotes(ctx context.Context, fingerprint string) error
	// Stats returns the total number of sessions and how many are flagged or blocked.
	Stats(ctx context.Context) (total, suspicious int, err error)
}
