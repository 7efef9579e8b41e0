package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	"vote-integrity/backend/internal/audit"
	"vote-integrity/backend/internal/mobility"
	"vote-integrity/backend/internal/security"
	"vote-integrity/backend/internal/session/domain"
	"vote-integrity/backend/internal/store"
	"vote-integrity/backend/internal/suspicion"
	"vote-integrity/backend/internal/telemetry"
	telemetrydomain "vote-integrity/backend/internal/telemetry/domain"
)

// ErrEmptyFingerprint is returned when ObtainSession is called without a fingerprint.
var ErrEmptyFingerprint = errors.New("session: fingerprint is required")

const telemetrySource = "session"

// View is what a client learns about its session.
type View struct {
	Token             string
	Fingerprint       string
	ExpiresAt         time.Time
	VotesUsedByDevice int
	VotesUsedByIP     int
	IsSuspicious      bool
	Suspicion         domain.Suspicion
}

// Manager issues and rotates vote tokens and keeps the session's last-seen IP current.
type Manager struct {
	uow      store.UnitOfWork
	tracker  *mobility.Tracker
	ttl      time.Duration
	auditLog audit.AuditLogger
	emitter  telemetry.EventEmitter
	nowF     func() time.Time
	newToken func() (string, error)
}

// NewManager returns a Manager. auditLog and emitter may be nil.
func NewManager(uow store.UnitOfWork, tracker *mobility.Tracker, ttl time.Duration, auditLog audit.AuditLogger, emitter telemetry.EventEmitter) *Manager {
	return &Manager{
		uow:      uow,
		tracker:  tracker,
		ttl:      ttl,
		auditLog: auditLog,
		emitter:  emitter,
		nowF:     time.Now,
		newToken: security.NewToken,
	}
}

// outcome collects what happened inside the unit of work for reporting after commit.
type outcome struct {
	created    bool
	rotated    bool
	escalation *suspicion.Escalation
}

// ObtainSession returns the session for fingerprint, creating it on first sight. An expired token
// is rotated, and a changed IP is recorded and scored before the view is built.
func (m *Manager) ObtainSession(ctx context.Context, fingerprint, ip string) (*View, error) {
	if fingerprint == "" {
		return nil, ErrEmptyFingerprint
	}
	var (
		view View
		out  outcome
	)
	err := m.uow.Do(ctx, []string{store.FingerprintKey(fingerprint)}, func(ctx context.Context, r store.Repos) error {
		now := m.nowF().UTC()
		sess, err := m.loadOrCreate(ctx, r, fingerprint, ip, now, &out)
		if err != nil {
			return err
		}
		if sess.TokenExpired(now) {
			if err := m.rotate(ctx, r, sess, now, &out); err != nil {
				return err
			}
		}
		if m.tracker != nil && ip != "" && ip != sess.IPAddress {
			obs, err := m.tracker.Observe(ctx, r, sess, ip)
			if err != nil {
				return fmt.Errorf("observe ip: %w", err)
			}
			out.escalation = obs.Escalation
		}
		devVotes, err := r.Votes.CountByFingerprint(ctx, fingerprint)
		if err != nil {
			return fmt.Errorf("count device votes: %w", err)
		}
		ipVotes, err := r.Votes.CountByIP(ctx, ip)
		if err != nil {
			return fmt.Errorf("count ip votes: %w", err)
		}
		view = View{
			Token:             sess.Token,
			Fingerprint:       sess.Fingerprint,
			ExpiresAt:         sess.TokenExpiresAt,
			VotesUsedByDevice: devVotes,
			VotesUsedByIP:     ipVotes,
			IsSuspicious:      sess.IsSuspicious(),
			Suspicion:         sess.Suspicion,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	m.report(ctx, fingerprint, ip, out)
	return &view, nil
}

func (m *Manager) loadOrCreate(ctx context.Context, r store.Repos, fingerprint, ip string, now time.Time, out *outcome) (*domain.Session, error) {
	sess, err := r.Sessions.GetByFingerprint(ctx, fingerprint)
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	if sess != nil {
		return sess, nil
	}
	token, err := m.newToken()
	if err != nil {
		return nil, err
	}
	sess = &domain.Session{
		Fingerprint:    fingerprint,
		Token:          token,
		TokenExpiresAt: now.Add(m.ttl),
		IPAddress:      ip,
		Suspicion:      domain.SuspicionClean,
	}
	created, err := r.Sessions.Create(ctx, sess)
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	if created {
		out.created = true
		return sess, nil
	}
	sess, err = r.Sessions.GetByFingerprint(ctx, fingerprint)
	if err != nil {
		return nil, fmt.Errorf("reload session: %w", err)
	}
	if sess == nil {
		return nil, fmt.Errorf("session for fingerprint vanished after conflicting create")
	}
	return sess, nil
}

func (m *Manager) rotate(ctx context.Context, r store.Repos, sess *domain.Session, now time.Time, out *outcome) error {
	token, err := m.newToken()
	if err != nil {
		return err
	}
	expiresAt := now.Add(m.ttl)
	ok, err := r.Sessions.RotateToken(ctx, sess.Fingerprint, sess.Token, token, expiresAt)
	if err != nil {
		return fmt.Errorf("rotate token: %w", err)
	}
	if !ok {
		fresh, err := r.Sessions.GetByFingerprint(ctx, sess.Fingerprint)
		if err != nil {
			return fmt.Errorf("reload session: %w", err)
		}
		if fresh != nil {
			*sess = *fresh
		}
		return nil
	}
	sess.Token = token
	sess.TokenExpiresAt = expiresAt
	out.rotated = true
	return nil
}

func (m *Manager) report(ctx context.Context, fingerprint, ip string, out outcome) {
	if out.created || out.rotated {
		action := audit.ActionTokenIssued
		if out.rotated && !out.created {
			action = audit.ActionTokenRotated
		}
		if m.auditLog != nil {
			m.auditLog.LogEvent(ctx, fingerprint, action, audit.ResourceToken, "created="+strconv.FormatBool(out.created))
		}
		ev := telemetry.NewEvent(telemetrydomain.EventTokenIssued, telemetrySource, fingerprint, ip)
		ev.Outcome = action
		telemetry.EmitAsync(m.emitter, ctx, ev)
	}
	if esc := out.escalation; esc != nil {
		ReportEscalation(ctx, m.auditLog, m.emitter, telemetrySource, ip, esc)
	}
}

// ValidateToken reports whether token is the current, unexpired token for fingerprint.
// Lookup failures are treated as invalid.
func (m *Manager) ValidateToken(ctx context.Context, token, fingerprint string) bool {
	if token == "" || fingerprint == "" {
		return false
	}
	sess, err := m.uow.Repos().Sessions.GetByFingerprint(ctx, fingerprint)
	if err != nil {
		log.Error().Err(err).Str("fingerprint", fingerprint).Msg("session: token validation lookup failed")
		return false
	}
	return sess.TokenValid(token, fingerprint, m.nowF().UTC())
}

// ReportEscalation audits and emits one suspicion escalation. Best-effort.
func ReportEscalation(ctx context.Context, auditLog audit.AuditLogger, emitter telemetry.EventEmitter, source, ip string, esc *suspicion.Escalation) {
	if esc == nil {
		return
	}
	action := audit.ActionSessionFlag
	if esc.To >= domain.SuspicionBlocked {
		action = audit.ActionSessionBlock
	}
	if auditLog != nil {
		auditLog.LogEvent(ctx, esc.Fingerprint, action, audit.ResourceSession, "reason="+esc.Reason)
	}
	ev := telemetry.NewEvent(telemetrydomain.EventSuspicionEscalated, source, esc.Fingerprint, ip)
	ev.Outcome = esc.To.String()
	ev.Attributes = map[string]string{"reason": esc.Reason, "from": esc.From.String()}
	telemetry.EmitAsync(emitter, ctx, ev)
}
