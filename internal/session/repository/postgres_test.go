package repository

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"vote-integrity/backend/internal/db/dbtest"
	"vote-integrity/backend/internal/session/domain"
)

func TestPostgresRepository_ConcurrentCreateConverges(t *testing.T) {
	conn := dbtest.Open(t)
	p := dbtest.Prefix(t, conn)
	r := NewPostgresRepository(conn)
	fp := p + "fp1"

	var inserted atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s := &domain.Session{Fingerprint: fp, Token: string(rune('a' + i)), TokenExpiresAt: time.Now().Add(time.Minute), IPAddress: p + "ip"}
			ok, err := r.Create(context.Background(), s)
			if err != nil {
				t.Errorf("Create: %v", err)
			}
			if ok {
				inserted.Add(1)
			}
		}(i)
	}
	wg.Wait()
	if inserted.Load() != 1 {
		t.Errorf("inserted = %d, want 1", inserted.Load())
	}
	var rows int
	if err := conn.QueryRow(`SELECT count(*) FROM vote_sessions WHERE fingerprint = $1`, fp).Scan(&rows); err != nil || rows != 1 {
		t.Errorf("rows = %d, %v, want 1", rows, err)
	}
}

func TestPostgresRepository_CompareAndSwap(t *testing.T) {
	conn := dbtest.Open(t)
	p := dbtest.Prefix(t, conn)
	r := NewPostgresRepository(conn)
	ctx := context.Background()
	fp := p + "fp1"

	if _, err := r.Create(ctx, &domain.Session{Fingerprint: fp, Token: "old", TokenExpiresAt: time.Now().Add(time.Minute)}); err != nil {
		t.Fatalf("Create: %v", err)
	}

	exp := time.Now().Add(time.Hour).UTC().Truncate(time.Microsecond)
	if ok, err := r.RotateToken(ctx, fp, "old", "new", exp); err != nil || !ok {
		t.Fatalf("RotateToken = %v, %v", ok, err)
	}
	if ok, _ := r.RotateToken(ctx, fp, "old", "other", exp); ok {
		t.Error("RotateToken with a stale token should not swap")
	}

	// A session with no IP on record swaps from the empty string.
	if ok, err := r.SwapIP(ctx, fp, "", p+"ip1"); err != nil || !ok {
		t.Fatalf("SwapIP from empty = %v, %v", ok, err)
	}
	if ok, _ := r.SwapIP(ctx, fp, "", p+"ip2"); ok {
		t.Error("SwapIP with a stale ip should not swap")
	}

	s, err := r.GetByFingerprint(ctx, fp)
	if err != nil || s == nil {
		t.Fatalf("GetByFingerprint: %v, %v", s, err)
	}
	if s.Token != "new" || !s.TokenExpiresAt.Equal(exp) || s.IPAddress != p+"ip1" {
		t.Errorf("session = %+v", s)
	}
}

func TestPostgresRepository_EscalateIsMonotonic(t *testing.T) {
	conn := dbtest.Open(t)
	p := dbtest.Prefix(t, conn)
	r := NewPostgresRepository(conn)
	ctx := context.Background()
	ip := p + "ip1"
	for _, fp := range []string{p + "fp1", p + "fp2"} {
		if _, err := r.Create(ctx, &domain.Session{Fingerprint: fp, Token: fp, TokenExpiresAt: time.Now().Add(time.Minute), IPAddress: ip}); err != nil {
			t.Fatalf("Create: %v", err)
		}
	}

	if ok, err := r.Escalate(ctx, p+"fp1", domain.SuspicionBlocked, "violations"); err != nil || !ok {
		t.Fatalf("Escalate = %v, %v", ok, err)
	}
	if ok, _ := r.Escalate(ctx, p+"fp1", domain.SuspicionFlagged, "ip_changes"); ok {
		t.Error("lowering suspicion should be a no-op")
	}
	fps, err := r.EscalateByIP(ctx, ip, domain.SuspicionFlagged, "ip_cap")
	if err != nil {
		t.Fatalf("EscalateByIP: %v", err)
	}
	if len(fps) != 1 || fps[0] != p+"fp2" {
		t.Errorf("EscalateByIP changed %v, want only fp2", fps)
	}

	s, _ := r.GetByFingerprint(ctx, p+"fp1")
	if s.Suspicion != domain.SuspicionBlocked || s.SuspicionReason != "violations" {
		t.Errorf("fp1 = %v (%s), want blocked (violations)", s.Suspicion, s.SuspicionReason)
	}
}
