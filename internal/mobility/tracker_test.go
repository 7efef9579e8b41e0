package mobility

import (
	"context"
	"testing"
	"time"

	sessiondomain "vote-integrity/backend/internal/session/domain"
	"vote-integrity/backend/internal/store"
	"vote-integrity/backend/internal/suspicion"
	suspiciondomain "vote-integrity/backend/internal/suspicion/domain"
	"vote-integrity/backend/internal/suspicion/engine"
)

func newTracker(t *testing.T) *Tracker {
	t.Helper()
	eval, err := engine.NewOPAEvaluator(nil, suspiciondomain.Thresholds{
		MaxIPChanges:         1,
		FlagAfterViolations:  2,
		BlockAfterViolations: 5,
		RapidVoteThreshold:   2,
	})
	if err != nil {
		t.Fatalf("NewOPAEvaluator: %v", err)
	}
	return NewTracker(suspicion.NewAssessor(eval, time.Minute))
}

func createSession(t *testing.T, r store.Repos, fp, ip string) *sessiondomain.Session {
	t.Helper()
	s := &sessiondomain.Session{Fingerprint: fp, Token: "t", TokenExpiresAt: time.Now().Add(time.Minute), IPAddress: ip}
	if _, err := r.Sessions.Create(context.Background(), s); err != nil {
		t.Fatalf("Create: %v", err)
	}
	return s
}

func TestTracker_SameIPIsNoop(t *testing.T) {
	ctx := context.Background()
	r := store.NewMemory().Repos()
	sess := createSession(t, r, "fp1", "1.1.1.1")

	obs, err := newTracker(t).Observe(ctx, r, sess, "1.1.1.1")
	if err != nil {
		t.Fatalf("Observe: %v", err)
	}
	if obs.Changed {
		t.Error("same IP should not record a change")
	}
	if n, _ := r.IPChanges.DistinctTransitions(ctx, "fp1"); n != 0 {
		t.Errorf("transitions = %d, want 0", n)
	}
}

func TestTracker_SecondChangeFlags(t *testing.T) {
	ctx := context.Background()
	r := store.NewMemory().Repos()
	sess := createSession(t, r, "fp1", "1.1.1.1")
	tr := newTracker(t)

	obs, err := tr.Observe(ctx, r, sess, "2.2.2.2")
	if err != nil {
		t.Fatalf("Observe: %v", err)
	}
	if !obs.Changed || obs.Escalation != nil {
		t.Fatalf("first change = %+v, want changed without escalation", obs)
	}
	if sess.IsSuspicious() {
		t.Fatal("one change within the allowance should not flag")
	}

	obs, err = tr.Observe(ctx, r, sess, "3.3.3.3")
	if err != nil {
		t.Fatalf("Observe: %v", err)
	}
	if obs.Escalation == nil || obs.Escalation.Reason != suspiciondomain.ReasonIPChanges {
		t.Fatalf("second change escalation = %+v, want ip_changes", obs.Escalation)
	}
	stored, _ := r.Sessions.GetByFingerprint(ctx, "fp1")
	if !stored.IsSuspicious() || stored.IPAddress != "3.3.3.3" {
		t.Errorf("stored = suspicious %v ip %q, want true / 3.3.3.3", stored.IsSuspicious(), stored.IPAddress)
	}
}

func TestTracker_RepeatedPairCountsOnce(t *testing.T) {
	ctx := context.Background()
	r := store.NewMemory().Repos()
	sess := createSession(t, r, "fp1", "1.1.1.1")
	tr := newTracker(t)

	for _, ip := range []string{"2.2.2.2", "1.1.1.1"} {
		if _, err := tr.Observe(ctx, r, sess, ip); err != nil {
			t.Fatalf("Observe(%s): %v", ip, err)
		}
	}
	// 1->2 and 2->1 are two distinct transitions, which exceeds an allowance of one.
	if !sess.IsSuspicious() {
		t.Error("bouncing back should count as a second distinct transition")
	}

	r2 := store.NewMemory().Repos()
	sess2 := createSession(t, r2, "fp2", "1.1.1.1")
	_, _ = tr.Observe(ctx, r2, sess2, "2.2.2.2")
	_, _ = r2.Sessions.SwapIP(ctx, "fp2", "2.2.2.2", "1.1.1.1")
	sess2.IPAddress = "1.1.1.1"
	_, _ = tr.Observe(ctx, r2, sess2, "2.2.2.2")
	if n, _ := r2.IPChanges.DistinctTransitions(ctx, "fp2"); n != 1 {
		t.Errorf("transitions = %d, want 1 for a repeated pair", n)
	}
	if sess2.IsSuspicious() {
		t.Error("a repeated pair should not flag")
	}
}

func TestTracker_LostSwapReloads(t *testing.T) {
	ctx := context.Background()
	r := store.NewMemory().Repos()
	sess := createSession(t, r, "fp1", "1.1.1.1")
	stale := *sess
	_, _ = r.Sessions.SwapIP(ctx, "fp1", "1.1.1.1", "9.9.9.9")

	obs, err := newTracker(t).Observe(ctx, r, &stale, "2.2.2.2")
	if err != nil {
		t.Fatalf("Observe: %v", err)
	}
	if obs.Changed {
		t.Error("losing the swap should not record a change")
	}
	if stale.IPAddress != "9.9.9.9" {
		t.Errorf("session IP = %q, want reloaded 9.9.9.9", stale.IPAddress)
	}
}
