package store

import (
	"context"
	"sync"

	mobilityrepo "vote-integrity/backend/internal/mobility/repository"
	ratelimitrepo "vote-integrity/backend/internal/ratelimit/repository"
	sessionrepo "vote-integrity/backend/internal/session/repository"
	voterepo "vote-integrity/backend/internal/vote/repository"
)

// Memory is a UnitOfWork over in-memory repositories guarded by keyed mutexes.
// It does not roll back writes made before fn returns an error.
type Memory struct {
	repos Repos

	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	mu   sync.Mutex
	refs int
}

// NewMemory returns a unit of work over fresh in-memory repositories.
func NewMemory() *Memory {
	return NewMemoryWith(Repos{
		Sessions:   sessionrepo.NewMemoryRepository(),
		Votes:      voterepo.NewMemoryRepository(),
		IPChanges:  mobilityrepo.NewMemoryRepository(),
		Violations: ratelimitrepo.NewMemoryRepository(),
	})
}

// NewMemoryWith returns a unit of work over the given repositories.
func NewMemoryWith(r Repos) *Memory {
	return &Memory{repos: r, locks: make(map[string]*keyLock)}
}

var _ UnitOfWork = (*Memory)(nil)

func (m *Memory) Repos() Repos { return m.repos }

func (m *Memory) Do(ctx context.Context, keys []string, fn func(ctx context.Context, r Repos) error) error {
	ordered := lockOrder(keys)
	held := make([]string, 0, len(ordered))
	defer func() {
		for i := len(held) - 1; i >= 0; i-- {
			m.release(held[i])
		}
	}()
	for _, k := range ordered {
		if err := ctx.Err(); err != nil {
			return err
		}
		m.acquire(k)
		held = append(held, k)
	}
	return fn(ctx, m.repos)
}

func (m *Memory) acquire(key string) {
	m.mu.Lock()
	l, ok := m.locks[key]
	if !ok {
		l = &keyLock{}
		m.locks[key] = l
	}
	l.refs++
	m.mu.Unlock()
	l.mu.Lock()
}

func (m *Memory) release(key string) {
	m.mu.Lock()
	l := m.locks[key]
	l.refs--
	if l.refs == 0 {
		delete(m.locks, key)
	}
	m.mu.Unlock()
	l.mu.Unlock()
}
