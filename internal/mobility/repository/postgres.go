package repository

import (
	"context"
	"database/sql"
	"time"

	"vote-integrity/backend/internal/db"
	"vote-integrity/backend/internal/mobility/domain"
)

// PostgresRepository stores IP changes in ip_change_logs.
type PostgresRepository struct {
	db db.DBTX
}

// NewPostgresRepository returns an IP change log over conn.
func NewPostgresRepository(conn db.DBTX) *PostgresRepository {
	return &PostgresRepository{db: conn}
}

var _ Repository = (*PostgresRepository)(nil)

func (r *PostgresRepository) Append(ctx context.Context, c *domain.IPChange) error {
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	return r.db.QueryRowContext(ctx, `
		INSERT INTO ip_change_logs (fingerprint, old_ip, new_ip, created_at)
		VALUES ($1, $2, $3, $4)
		RETURNING id`,
		c.Fingerprint, sql.NullString{String: c.OldIP, Valid: c.OldIP != ""}, c.NewIP, c.CreatedAt,
	).Scan(&c.ID)
}

func (r *PostgresRepository) DistinctTransitions(ctx context.Context, fingerprint string) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `
		SELECT count(*) FROM (
			SELECT DISTINCT COALESCE(old_ip, ''), new_ip FROM ip_change_logs WHERE fingerprint = $1
		) t`, fingerprint).Scan(&n)
	return n, err
}

func (r *PostgresRepository) ListByFingerprint(ctx context.Context, fingerprint string) ([]*domain.IPChange, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, fingerprint, old_ip, new_ip, created_at
		FROM ip_change_logs WHERE fingerprint = $1 ORDER BY id`, fingerprint)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*domain.IPChange
	for rows.Next() {
		var (
			c   domain.IPChange
			old sql.NullString
		)
		if err := rows.Scan(&c.ID, &c.Fingerprint, &old, &c.NewIP, &c.CreatedAt); err != nil {
			return nil, err
		}
		c.OldIP = old.String
		out = append(out, &c)
	}
	return out, rows.Err()
}
