package repository

import (
	"context"

	"vote-integrity/backend/internal/mobility/domain"
)

// Repository is the append-only IP change log.
type Repository interface {
	Append(ctx context.Context, c *domain.IPChange) error
	// DistinctTransitions counts distinct (old_ip, new_ip) pairs recorded for fingerprint.
	DistinctTransitions(ctx context.Context, fingerprint string) (int, error)
	ListByFingerprint(ctx context.Context, fingerprint string) ([]*domain.IPChange, error)
}
