package repository

import (
	"context"

	"vote-integrity/backend/internal/suspicion/domain"
)

// Repository defines persistence for operator suspicion policies.
type Repository interface {
	GetByID(ctx context.Context, id string) (*domain.Policy, error)
	ListEnabled(ctx context.Context) ([]*domain.Policy, error)
	// Upsert creates the policy or replaces its rules and enabled flag.
	Upsert(ctx context.Context, p *domain.Policy) error
}
