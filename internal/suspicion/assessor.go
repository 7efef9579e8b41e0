// Package suspicion gathers integrity signals for a fingerprint, scores them with the
// policy engine and applies the resulting escalation to the session.
package suspicion

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	sessiondomain "vote-integrity/backend/internal/session/domain"
	"vote-integrity/backend/internal/store"
	"vote-integrity/backend/internal/suspicion/domain"
	"vote-integrity/backend/internal/suspicion/engine"
)

// Escalation describes a suspicion change that was written.
type Escalation struct {
	Fingerprint string
	From        sessiondomain.Suspicion
	To          sessiondomain.Suspicion
	Reason      string
}

// Assessor collects signals inside a unit of work and escalates sessions.
type Assessor struct {
	eval        engine.Evaluator
	rapidWindow time.Duration
	nowF        func() time.Time
}

// NewAssessor returns an Assessor scoring with eval. rapidWindow bounds the vote-cadence signal.
func NewAssessor(eval engine.Evaluator, rapidWindow time.Duration) *Assessor {
	return &Assessor{eval: eval, rapidWindow: rapidWindow, nowF: time.Now}
}

// Collect reads the durable signals for fingerprint. RecentVotes counts every vote already in
// the ledger inside the cadence window, so callers collect before appending a new vote.
func (a *Assessor) Collect(ctx context.Context, r store.Repos, fingerprint string) (domain.Signals, error) {
	var sig domain.Signals
	var err error
	if sig.IPTransitions, err = r.IPChanges.DistinctTransitions(ctx, fingerprint); err != nil {
		return sig, fmt.Errorf("count ip transitions: %w", err)
	}
	if sig.Violations, err = r.Violations.CountByFingerprint(ctx, fingerprint); err != nil {
		return sig, fmt.Errorf("count violations: %w", err)
	}
	since := domain.RapidWindowStart(a.nowF().UTC(), a.rapidWindow)
	if sig.RecentVotes, err = r.Votes.CountSince(ctx, fingerprint, since); err != nil {
		return sig, fmt.Errorf("count recent votes: %w", err)
	}
	return sig, nil
}

// Apply scores sig and raises sess to the resulting level. sess is updated in place when
// the write lands. A nil Escalation means nothing changed.
func (a *Assessor) Apply(ctx context.Context, r store.Repos, sess *sessiondomain.Session, sig domain.Signals) (*Escalation, error) {
	d := a.eval.Evaluate(ctx, sig)
	if d.Level <= sess.Suspicion {
		return nil, nil
	}
	changed, err := r.Sessions.Escalate(ctx, sess.Fingerprint, d.Level, d.Reason)
	if err != nil {
		return nil, fmt.Errorf("escalate session: %w", err)
	}
	if !changed {
		return nil, nil
	}
	esc := &Escalation{Fingerprint: sess.Fingerprint, From: sess.Suspicion, To: d.Level, Reason: d.Reason}
	sess.Suspicion = d.Level
	sess.SuspicionReason = d.Reason
	log.Info().
		Str("fingerprint", sess.Fingerprint).
		Str("from", esc.From.String()).
		Str("to", esc.To.String()).
		Str("reason", esc.Reason).
		Msg("suspicion: session escalated")
	return esc, nil
}

// Reassess is Collect followed by Apply.
func (a *Assessor) Reassess(ctx context.Context, r store.Repos, sess *sessiondomain.Session) (*Escalation, error) {
	sig, err := a.Collect(ctx, r, sess.Fingerprint)
	if err != nil {
		return nil, err
	}
	return a.Apply(ctx, r, sess, sig)
}
