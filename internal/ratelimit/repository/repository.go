package repository

import (
	"context"

	"vote-integrity/backend/internal/ratelimit/domain"
)

// Repository persists rate-limit violations.
type Repository interface {
	Record(ctx context.Context, v *domain.Violation) error
	CountByFingerprint(ctx context.Context, fingerprint string) (int, error)
	CountByIP(ctx context.Context, ip string) (int, error)
}
