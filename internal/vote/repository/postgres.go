package repository

import (
	"context"
	"fmt"
	"time"

	"vote-integrity/backend/internal/db"
	"vote-integrity/backend/internal/vote/domain"
)

// PostgresRepository stores the ledger in the votes table.
type PostgresRepository struct {
	db db.DBTX
}

// NewPostgresRepository returns a ledger over conn, which may be a *sql.DB or a *sql.Tx.
func NewPostgresRepository(conn db.DBTX) *PostgresRepository {
	return &PostgresRepository{db: conn}
}

var _ Repository = (*PostgresRepository)(nil)

func (r *PostgresRepository) Exists(ctx context.Context, fingerprint, contestant string) (bool, error) {
	var ok bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM votes WHERE fingerprint = $1 AND contestant = $2)`,
		fingerprint, contestant).Scan(&ok)
	return ok, err
}

func (r *PostgresRepository) CountByFingerprint(ctx context.Context, fingerprint string) (int, error) {
	return r.countOne(ctx, `SELECT count(*) FROM votes WHERE fingerprint = $1`, fingerprint)
}

func (r *PostgresRepository) CountByIP(ctx context.Context, ip string) (int, error) {
	return r.countOne(ctx, `SELECT count(*) FROM votes WHERE ip_address = $1`, ip)
}

func (r *PostgresRepository) CountSince(ctx context.Context, fingerprint string, since time.Time) (int, error) {
	return r.countOne(ctx, `SELECT count(*) FROM votes WHERE fingerprint = $1 AND created_at >= $2`, fingerprint, since)
}

// Append inserts v. A unique violation on (fingerprint, contestant) maps to ErrDuplicate.
func (r *PostgresRepository) Append(ctx context.Context, v *domain.Vote) error {
	createdAt := v.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO votes (fingerprint, contestant, ip_address, verified_via_captcha, verified_via_sms, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id`,
		v.Fingerprint, v.Contestant, v.IPAddress, v.VerifiedViaCaptcha, v.VerifiedViaSMS, createdAt,
	).Scan(&v.ID)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("insert vote: %w", err)
	}
	v.CreatedAt = createdAt
	return nil
}

func (r *PostgresRepository) Tally(ctx context.Context) (int, map[string]int, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT contestant, count(*) FROM votes GROUP BY contestant`)
	if err != nil {
		return 0, nil, err
	}
	defer rows.Close()
	total := 0
	by := make(map[string]int)
	for rows.Next() {
		var (
			name string
			n    int
		)
		if err := rows.Scan(&name, &n); err != nil {
			return 0, nil, err
		}
		by[name] = n
		total += n
	}
	return total, by, rows.Err()
}

func (r *PostgresRepository) countOne(ctx context.Context, query string, args ...any) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}
