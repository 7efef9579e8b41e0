package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"vote-integrity/backend/internal/suspicion/domain"
)

// MemoryRepository is an in-process Repository.
type MemoryRepository struct {
	mu       sync.RWMutex
	policies map[string]domain.Policy
}

// NewMemoryRepository returns an empty policy store.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{policies: make(map[string]domain.Policy)}
}

var _ Repository = (*MemoryRepository)(nil)

func (r *MemoryRepository) GetByID(ctx context.Context, id string) (*domain.Policy, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.policies[id]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (r *MemoryRepository) ListEnabled(ctx context.Context) ([]*domain.Policy, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*domain.Policy
	for _, p := range r.policies {
		if p.Enabled {
			cp := p
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *MemoryRepository) Upsert(ctx context.Context, p *domain.Policy) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.policies[p.ID]; ok {
		p.CreatedAt = existing.CreatedAt
	} else if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	r.policies[p.ID] = *p
	return nil
}
