package repository

import (
	"context"
	"errors"
	"time"

	"vote-integrity/backend/internal/vote/domain"
)

// ErrDuplicate is returned by Append when the fingerprint already voted for the contestant.
var ErrDuplicate = errors.New("vote: duplicate (fingerprint, contestant)")

// Repository is the append-only vote ledger.
type Repository interface {
	Exists(ctx context.Context, fingerprint, contestant string) (bool, error)
	CountByFingerprint(ctx context.Context, fingerprint string) (int, error)
	CountByIP(ctx context.Context, ip string) (int, error)
	// CountSince counts votes for fingerprint created at or after since.
	CountSince(ctx context.Context, fingerprint string, since time.Time) (int, error)
	// Append stores v and sets v.ID. Returns ErrDuplicate on a (fingerprint, contestant) conflict.
	Append(ctx context.Context, v *domain.Vote) error
	// Tally returns the total vote count and the count per contestant.
	Tally(ctx context.Context) (total int, byContestant map[string]int, err error)
}
