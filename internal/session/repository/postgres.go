package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"vote-integrity/backend/internal/db"
	"vote-integrity/backend/internal/session/domain"
)

// PostgresRepository persists sessions in vote_sessions.
type PostgresRepository struct {
	db db.DBTX
}

// NewPostgresRepository returns a session repository over db, which may be a *sql.DB or a *sql.Tx.
func NewPostgresRepository(conn db.DBTX) *PostgresRepository {
	return &PostgresRepository{db: conn}
}

var _ Repository = (*PostgresRepository)(nil)

const sessionColumns = `id, fingerprint, token, token_expires_at, votes_used, ip_address, suspicion, suspicion_reason, created_at, updated_at`

// GetByFingerprint returns the session for fingerprint, or nil if not found.
// It returns an error only for database failures, not for missing rows.
func (r *PostgresRepository) GetByFingerprint(ctx context.Context, fingerprint string) (*domain.Session, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM vote_sessions WHERE fingerprint = $1`, fingerprint)
	var (
		s  domain.Session
		ip sql.NullString
	)
	err := row.Scan(&s.ID, &s.Fingerprint, &s.Token, &s.TokenExpiresAt, &s.VotesUsed, &ip, &s.Suspicion, &s.SuspicionReason, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	s.IPAddress = ip.String
	return &s, nil
}

// Create inserts the session unless the fingerprint already has one.
func (r *PostgresRepository) Create(ctx context.Context, s *domain.Session) (bool, error) {
	var id int64
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO vote_sessions (fingerprint, token, token_expires_at, votes_used, ip_address, suspicion, suspicion_reason, is_suspicious)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (fingerprint) DO NOTHING
		RETURNING id`,
		s.Fingerprint, s.Token, s.TokenExpiresAt, s.VotesUsed,
		sql.NullString{String: s.IPAddress, Valid: s.IPAddress != ""},
		s.Suspicion, s.SuspicionReason, s.IsSuspicious(),
	).Scan(&id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, err
	}
	s.ID = id
	return true, nil
}

// RotateToken swaps the token when the stored token still equals oldToken.
func (r *PostgresRepository) RotateToken(ctx context.Context, fingerprint, oldToken, newToken string, expiresAt time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE vote_sessions SET token = $3, token_expires_at = $4, updated_at = now()
		WHERE fingerprint = $1 AND token = $2`,
		fingerprint, oldToken, newToken, expiresAt)
	return affected(res, err)
}

// SwapIP compares-and-sets ip_address. A NULL stored IP matches an empty oldIP.
func (r *PostgresRepository) SwapIP(ctx context.Context, fingerprint, oldIP, newIP string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE vote_sessions SET ip_address = $3, updated_at = now()
		WHERE fingerprint = $1 AND COALESCE(ip_address, '') = $2`,
		fingerprint, oldIP, newIP)
	return affected(res, err)
}

// Escalate raises suspicion; the WHERE clause keeps it monotonic under concurrent writers.
func (r *PostgresRepository) Escalate(ctx context.Context, fingerprint string, level domain.Suspicion, reason string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE vote_sessions
		SET suspicion = $2, suspicion_reason = $3, is_suspicious = $2 >= 1, updated_at = now()
		WHERE fingerprint = $1 AND suspicion < $2`,
		fingerprint, level, reason)
	return affected(res, err)
}

// EscalateByIP raises suspicion on all sessions last seen on ip.
func (r *PostgresRepository) EscalateByIP(ctx context.Context, ip string, level domain.Suspicion, reason string) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `
		UPDATE vote_sessions
		SET suspicion = $2, suspicion_reason = $3, is_suspicious = $2 >= 1, updated_at = now()
		WHERE ip_address = $1 AND suspicion < $2
		RETURNING fingerprint`,
		ip, level, reason)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var fp string
		if err := rows.Scan(&fp); err != nil {
			return nil, err
		}
		out = append(out, fp)
	}
	return out, rows.Err()
}

// IncrementVotes bumps the cached vote count. Callers run it in the same transaction as the ledger insert.
func (r *PostgresRepository) IncrementVotes(ctx context.Context, fingerprint string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE vote_sessions SET votes_used = votes_used + 1, updated_at = now() WHERE fingerprint = $1`, fingerprint)
	return err
}

// Stats counts sessions and suspicious sessions.
func (r *PostgresRepository) Stats(ctx context.Context) (int, int, error) {
	var total, suspicious int
	err := r.db.QueryRowContext(ctx, `SELECT count(*), count(*) FILTER (WHERE suspicion >= 1) FROM vote_sessions`).Scan(&total, &suspicious)
	return total, suspicious, err
}

func affected(res sql.Result, err error) (bool, error) {
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
