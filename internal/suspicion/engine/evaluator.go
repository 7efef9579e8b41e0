package engine

import (
	"context"

	"vote-integrity/backend/internal/suspicion/domain"
)

// Evaluator scores integrity signals for one fingerprint.
type Evaluator interface {
	// Evaluate never fails open: when a policy cannot be evaluated the built-in rules decide.
	Evaluate(ctx context.Context, sig domain.Signals) domain.Decision
}
