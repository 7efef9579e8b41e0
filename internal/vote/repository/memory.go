package repository

import (
	"context"
	"sync"
	"time"

	"vote-integrity/backend/internal/vote/domain"
)

// MemoryRepository is an in-process Repository.
type MemoryRepository struct {
	mu     sync.RWMutex
	votes  []domain.Vote
	nextID int64
	nowF   func() time.Time
}

// NewMemoryRepository returns an empty in-memory ledger.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{nowF: func() time.Time { return time.Now().UTC() }}
}

// SetClock replaces the clock used to stamp CreatedAt when the caller leaves it zero.
func (r *MemoryRepository) SetClock(now func() time.Time) {
	r.mu.Lock()
	r.nowF = now
	r.mu.Unlock()
}

var _ Repository = (*MemoryRepository)(nil)

func (r *MemoryRepository) Exists(ctx context.Context, fingerprint, contestant string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for i := range r.votes {
		if r.votes[i].Fingerprint == fingerprint && r.votes[i].Contestant == contestant {
			return true, nil
		}
	}
	return false, nil
}

func (r *MemoryRepository) CountByFingerprint(ctx context.Context, fingerprint string) (int, error) {
	return r.count(func(v *domain.Vote) bool { return v.Fingerprint == fingerprint }), nil
}

func (r *MemoryRepository) CountByIP(ctx context.Context, ip string) (int, error) {
	return r.count(func(v *domain.Vote) bool { return v.IPAddress == ip }), nil
}

func (r *MemoryRepository) CountSince(ctx context.Context, fingerprint string, since time.Time) (int, error) {
	return r.count(func(v *domain.Vote) bool {
		return v.Fingerprint == fingerprint && !v.CreatedAt.Before(since)
	}), nil
}

func (r *MemoryRepository) Append(ctx context.Context, v *domain.Vote) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.votes {
		if r.votes[i].Fingerprint == v.Fingerprint && r.votes[i].Contestant == v.Contestant {
			return ErrDuplicate
		}
	}
	r.nextID++
	v.ID = r.nextID
	if v.CreatedAt.IsZero() {
		v.CreatedAt = r.nowF()
	}
	r.votes = append(r.votes, *v)
	return nil
}

func (r *MemoryRepository) Tally(ctx context.Context) (int, map[string]int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	by := make(map[string]int)
	for i := range r.votes {
		by[r.votes[i].Contestant]++
	}
	return len(r.votes), by, nil
}

func (r *MemoryRepository) count(match func(*domain.Vote) bool) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for i := range r.votes {
		if match(&r.votes[i]) {
			n++
		}
	}
	return n
}
