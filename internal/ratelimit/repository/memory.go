package repository

import (
	"context"
	"sync"
	"time"

	"vote-integrity/backend/internal/ratelimit/domain"
)

// MemoryRepository is an in-process Repository.
type MemoryRepository struct {
	mu         sync.RWMutex
	violations []domain.Violation
	nextID     int64
}

// NewMemoryRepository returns an empty in-memory violation log.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{}
}

var _ Repository = (*MemoryRepository)(nil)

func (r *MemoryRepository) Record(ctx context.Context, v *domain.Violation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	v.ID = r.nextID
	if v.CreatedAt.IsZero() {
		v.CreatedAt = time.Now().UTC()
	}
	r.violations = append(r.violations, *v)
	return nil
}

func (r *MemoryRepository) CountByFingerprint(ctx context.Context, fingerprint string) (int, error) {
	if fingerprint == "" {
		return 0, nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for i := range r.violations {
		if r.violations[i].Fingerprint == fingerprint {
			n++
		}
	}
	return n, nil
}

func (r *MemoryRepository) CountByIP(ctx context.Context, ip string) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for i := range r.violations {
		if r.violations[i].IPAddress == ip {
			n++
		}
	}
	return n, nil
}
