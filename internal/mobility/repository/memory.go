package repository

import (
	"context"
	"sync"
	"time"

	"vote-integrity/backend/internal/mobility/domain"
)

// MemoryRepository is an in-process Repository.
type MemoryRepository struct {
	mu      sync.RWMutex
	changes []domain.IPChange
	nextID  int64
}

// NewMemoryRepository returns an empty in-memory IP change log.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{}
}

var _ Repository = (*MemoryRepository)(nil)

func (r *MemoryRepository) Append(ctx context.Context, c *domain.IPChange) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	c.ID = r.nextID
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	r.changes = append(r.changes, *c)
	return nil
}

func (r *MemoryRepository) DistinctTransitions(ctx context.Context, fingerprint string) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	seen := make(map[[2]string]struct{})
	for i := range r.changes {
		c := &r.changes[i]
		if c.Fingerprint == fingerprint {
			seen[[2]string{c.OldIP, c.NewIP}] = struct{}{}
		}
	}
	return len(seen), nil
}

func (r *MemoryRepository) ListByFingerprint(ctx context.Context, fingerprint string) ([]*domain.IPChange, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*domain.IPChange
	for i := range r.changes {
		if r.changes[i].Fingerprint == fingerprint {
			c := r.changes[i]
			out = append(out, &c)
		}
	}
	return out, nil
}
