package repository

import (
	"context"

	"vote-integrity/backend/internal/audit/domain"
)

// Repository defines persistence for audit logs.
type Repository interface {
	GetByID(ctx context.Context, id string) (*domain.AuditLog, error)
	// ListByFingerprint returns the newest entries first.
	ListByFingerprint(ctx context.Context, fingerprint string, limit, offset int32) ([]*domain.AuditLog, error)
	Create(ctx context.Context, a *domain.AuditLog) error
}
