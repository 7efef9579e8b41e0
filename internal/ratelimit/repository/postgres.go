package repository

import (
	"context"
	"time"

	"vote-integrity/backend/internal/db"
	"vote-integrity/backend/internal/ratelimit/domain"
)

// PostgresRepository stores violations in rate_limit_logs.
type PostgresRepository struct {
	db db.DBTX
}

// NewPostgresRepository returns a violation log over conn.
func NewPostgresRepository(conn db.DBTX) *PostgresRepository {
	return &PostgresRepository{db: conn}
}

var _ Repository = (*PostgresRepository)(nil)

func (r *PostgresRepository) Record(ctx context.Context, v *domain.Violation) error {
	if v.CreatedAt.IsZero() {
		v.CreatedAt = time.Now().UTC()
	}
	return r.db.QueryRowContext(ctx, `
		INSERT INTO rate_limit_logs (ip_address, fingerprint, endpoint, created_at)
		VALUES ($1, $2, $3, $4)
		RETURNING id`,
		v.IPAddress, v.Fingerprint, v.Endpoint, v.CreatedAt,
	).Scan(&v.ID)
}

func (r *PostgresRepository) CountByFingerprint(ctx context.Context, fingerprint string) (int, error) {
	if fingerprint == "" {
		return 0, nil
	}
	var n int
	err := r.db.QueryRowContext(ctx, `SELECT count(*) FROM rate_limit_logs WHERE fingerprint = $1`, fingerprint).Scan(&n)
	return n, err
}

func (r *PostgresRepository) CountByIP(ctx context.Context, ip string) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `SELECT count(*) FROM rate_limit_logs WHERE ip_address = $1`, ip).Scan(&n)
	return n, err
}
