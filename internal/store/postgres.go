package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/rs/zerolog/log"

	"vote-integrity/backend/internal/db"
	mobilityrepo "vote-integrity/backend/internal/mobility/repository"
	ratelimitrepo "vote-integrity/backend/internal/ratelimit/repository"
	sessionrepo "vote-integrity/backend/internal/session/repository"
	voterepo "vote-integrity/backend/internal/vote/repository"
)

// Postgres is a UnitOfWork that runs fn in one transaction after taking a transaction-scoped
// advisory lock per key.
type Postgres struct {
	db *sql.DB
}

// NewPostgres returns a unit of work over conn.
func NewPostgres(conn *sql.DB) *Postgres {
	return &Postgres{db: conn}
}

var _ UnitOfWork = (*Postgres)(nil)

func (p *Postgres) Repos() Repos { return reposFor(p.db) }

func (p *Postgres) Do(ctx context.Context, keys []string, fn func(ctx context.Context, r Repos) error) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			if rbErr := tx.Rollback(); rbErr != nil && rbErr != sql.ErrTxDone {
				log.Error().Err(rbErr).Msg("store: rollback failed")
			}
		}
	}()
	for _, k := range lockOrder(keys) {
		if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, k); err != nil {
			return fmt.Errorf("advisory lock %q: %w", k, err)
		}
	}
	if err := fn(ctx, reposFor(tx)); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	committed = true
	return nil
}

func reposFor(conn db.DBTX) Repos {
	return Repos{
		Sessions:   sessionrepo.NewPostgresRepository(conn),
		Votes:      voterepo.NewPostgresRepository(conn),
		IPChanges:  mobilityrepo.NewPostgresRepository(conn),
		Violations: ratelimitrepo.NewPostgresRepository(conn),
	}
}
