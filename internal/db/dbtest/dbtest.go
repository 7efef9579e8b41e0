// Package dbtest opens the Postgres database named by DATABASE_URL for integration tests.
// Tests that use it are skipped when DATABASE_URL is unset.
package dbtest

import (
	"context"
	"database/sql"
	"os"
	"strings"
	"testing"

	"github.com/google/uuid"

	"vote-integrity/backend/internal/db"
	"vote-integrity/backend/internal/db/migrate"
)

// Open migrates the database up and returns a connection closed at test cleanup.
func Open(t *testing.T) *sql.DB {
	t.Helper()
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL not set")
	}
	if err := migrate.Run(dsn, "up"); err != nil {
		t.Fatalf("migrate up: %v", err)
	}
	conn, err := db.Open(dsn)
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

// Prefix returns a per-test prefix for fingerprints and IPs. Rows whose fingerprint or IP
// starts with it are deleted at test cleanup, so tests can share one database.
func Prefix(t *testing.T, conn *sql.DB) string {
	t.Helper()
	p := "t" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12] + "-"
	t.Cleanup(func() {
		ctx := context.Background()
		like := p + "%"
		for _, q := range []string{
			`DELETE FROM votes WHERE fingerprint LIKE $1 OR ip_address LIKE $1`,
			`DELETE FROM ip_change_logs WHERE fingerprint LIKE $1`,
			`DELETE FROM rate_limit_logs WHERE fingerprint LIKE $1 OR ip_address LIKE $1`,
			`DELETE FROM vote_sessions WHERE fingerprint LIKE $1`,
		} {
			if _, err := conn.ExecContext(ctx, q, like); err != nil {
				t.Logf("cleanup: %v", err)
			}
		}
	})
	return p
}
