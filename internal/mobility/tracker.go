// Package mobility tracks how often a fingerprint's client IP changes and escalates
// sessions that move between networks more than allowed.
package mobility

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"vote-integrity/backend/internal/mobility/domain"
	sessiondomain "vote-integrity/backend/internal/session/domain"
	"vote-integrity/backend/internal/store"
	"vote-integrity/backend/internal/suspicion"
)

// Observation is the outcome of observing one request IP for a session.
type Observation struct {
	Changed    bool                  // this call recorded an IP change
	Escalation *suspicion.Escalation // non-nil when the session was escalated
}

// Tracker records IP transitions and re-scores the session after each one.
type Tracker struct {
	assessor *suspicion.Assessor
	nowF     func() time.Time
}

// NewTracker returns a Tracker that escalates through assessor.
func NewTracker(assessor *suspicion.Assessor) *Tracker {
	return &Tracker{assessor: assessor, nowF: time.Now}
}

// Observe compares ip with the session's stored IP. When they differ it swaps the stored IP,
// appends an IP change record if this call won the swap, and re-scores the session. A session
// with no IP on record adopts ip without counting a change.
// sess is updated in place. Must run inside a unit of work holding the fingerprint key.
func (t *Tracker) Observe(ctx context.Context, r store.Repos, sess *sessiondomain.Session, ip string) (Observation, error) {
	var obs Observation
	if ip == "" || ip == sess.IPAddress {
		return obs, nil
	}
	old := sess.IPAddress
	won, err := r.Sessions.SwapIP(ctx, sess.Fingerprint, old, ip)
	if err != nil {
		return obs, fmt.Errorf("swap ip: %w", err)
	}
	if !won {
		fresh, err := r.Sessions.GetByFingerprint(ctx, sess.Fingerprint)
		if err != nil {
			return obs, fmt.Errorf("reload session: %w", err)
		}
		if fresh != nil {
			*sess = *fresh
		}
		return obs, nil
	}
	sess.IPAddress = ip
	if old == "" {
		return obs, nil
	}
	change := &domain.IPChange{Fingerprint: sess.Fingerprint, OldIP: old, NewIP: ip, CreatedAt: t.nowF().UTC()}
	if err := r.IPChanges.Append(ctx, change); err != nil {
		return obs, fmt.Errorf("record ip change: %w", err)
	}
	obs.Changed = true
	log.Debug().Str("fingerprint", sess.Fingerprint).Str("old_ip", old).Str("ip", ip).Msg("mobility: ip changed")

	esc, err := t.assessor.Reassess(ctx, r, sess)
	if err != nil {
		return obs, err
	}
	obs.Escalation = esc
	return obs, nil
}
