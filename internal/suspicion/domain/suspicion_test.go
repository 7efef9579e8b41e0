package domain

import (
	"testing"

	sessiondomain "vote-integrity/backend/internal/session/domain"
)

var defaultThresholds = Thresholds{
	MaxIPChanges:         1,
	FlagAfterViolations:  2,
	BlockAfterViolations: 5,
	RapidVoteThreshold:   2,
}

func TestThresholds_Decide(t *testing.T) {
	testCases := []struct {
		name       string
		sig        Signals
		wantLevel  sessiondomain.Suspicion
		wantReason string
	}{
		{"clean", Signals{}, sessiondomain.SuspicionClean, ""},
		{"one ip change allowed", Signals{IPTransitions: 1}, sessiondomain.SuspicionClean, ""},
		{"second ip change flags", Signals{IPTransitions: 2}, sessiondomain.SuspicionFlagged, ReasonIPChanges},
		{"one violation", Signals{Violations: 1}, sessiondomain.SuspicionClean, ""},
		{"two violations flag", Signals{Violations: 2}, sessiondomain.SuspicionFlagged, ReasonRateLimitViolations},
		{"five violations block", Signals{Violations: 5}, sessiondomain.SuspicionBlocked, ReasonRateLimitViolations},
		{"one prior vote", Signals{RecentVotes: 1}, sessiondomain.SuspicionClean, ""},
		{"two prior votes flag", Signals{RecentVotes: 2}, sessiondomain.SuspicionFlagged, ReasonRapidVoting},
		{"ip cap", Signals{IPCapHit: true}, sessiondomain.SuspicionFlagged, ReasonIPCap},
		{"violations outrank ip changes", Signals{IPTransitions: 3, Violations: 2}, sessiondomain.SuspicionFlagged, ReasonRateLimitViolations},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got := defaultThresholds.Decide(tc.sig)
			if got.Level != tc.wantLevel || got.Reason != tc.wantReason {
				t.Errorf("Decide(%+v) = %v/%q, want %v/%q", tc.sig, got.Level, got.Reason, tc.wantLevel, tc.wantReason)
			}
		})
	}
}

func TestThresholds_DecideZeroDisablesRules(t *testing.T) {
	th := Thresholds{MaxIPChanges: 1}
	got := th.Decide(Signals{Violations: 100, RecentVotes: 100})
	if got.Level != sessiondomain.SuspicionClean {
		t.Errorf("Decide with disabled rules = %v, want clean", got.Level)
	}
}

func TestPrimaryReason(t *testing.T) {
	if got := PrimaryReason([]string{"ip_cap", "rapid_voting"}); got != ReasonRapidVoting {
		t.Errorf("PrimaryReason = %q, want %q", got, ReasonRapidVoting)
	}
	if got := PrimaryReason([]string{"custom"}); got != "custom" {
		t.Errorf("PrimaryReason unknown = %q, want custom", got)
	}
	if got := PrimaryReason(nil); got != "" {
		t.Errorf("PrimaryReason(nil) = %q, want empty", got)
	}
}
