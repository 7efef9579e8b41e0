package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"vote-integrity/backend/internal/session/domain"
)

// MemoryRepository is an in-process Repository. Returned sessions are copies.
type MemoryRepository struct {
	mu     sync.RWMutex
	m      map[string]*domain.Session
	nextID int64
	nowF   func() time.Time
}

// NewMemoryRepository returns an empty in-memory session repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		m:    make(map[string]*domain.Session),
		nowF: func() time.Time { return time.Now().UTC() },
	}
}

var _ Repository = (*MemoryRepository)(nil)

func (r *MemoryRepository) GetByFingerprint(ctx context.Context, fingerprint string) (*domain.Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.m[fingerprint]
	if !ok {
		return nil, nil
	}
	cp := *s
	return &cp, nil
}

func (r *MemoryRepository) Create(ctx context.Context, s *domain.Session) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.m[s.Fingerprint]; ok {
		return false, nil
	}
	r.nextID++
	now := r.nowF()
	cp := *s
	cp.ID = r.nextID
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = now
	}
	cp.UpdatedAt = now
	r.m[s.Fingerprint] = &cp
	s.ID = cp.ID
	return true, nil
}

func (r *MemoryRepository) RotateToken(ctx context.Context, fingerprint, oldToken, newToken string, expiresAt time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.m[fingerprint]
	if !ok || s.Token != oldToken {
		return false, nil
	}
	s.Token = newToken
	s.TokenExpiresAt = expiresAt
	s.UpdatedAt = r.nowF()
	return true, nil
}

func (r *MemoryRepository) SwapIP(ctx context.Context, fingerprint, oldIP, newIP string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.m[fingerprint]
	if !ok || s.IPAddress != oldIP {
		return false, nil
	}
	s.IPAddress = newIP
	s.UpdatedAt = r.nowF()
	return true, nil
}

func (r *MemoryRepository) Escalate(ctx context.Context, fingerprint string, level domain.Suspicion, reason string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.m[fingerprint]
	if !ok || s.Suspicion >= level {
		return false, nil
	}
	s.Suspicion = level
	s.SuspicionReason = reason
	s.UpdatedAt = r.nowF()
	return true, nil
}

func (r *MemoryRepository) EscalateByIP(ctx context.Context, ip string, level domain.Suspicion, reason string) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var changed []string
	now := r.nowF()
	for fp, s := range r.m {
		if s.IPAddress != ip || s.Suspicion >= level {
			continue
		}
		s.Suspicion = level
		s.SuspicionReason = reason
		s.UpdatedAt = now
		changed = append(changed, fp)
	}
	sort.Strings(changed)
	return changed, nil
}

func (r *MemoryRepository) IncrementVotes(ctx context.Context, fingerprint string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.m[fingerprint]; ok {
		s.VotesUsed++
		s.UpdatedAt = r.nowF()
	}
	return nil
}

func (r *MemoryRepository) Stats(ctx context.Context) (int, int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	suspicious := 0
	for _, s := range r.m {
		if s.IsSuspicious() {
			suspicious++
		}
	}
	return len(r.m), suspicious, nil
}
