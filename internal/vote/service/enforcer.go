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
	"vote-integrity/backend/internal/ratelimit"
	ratelimitdomain "vote-integrity/backend/internal/ratelimit/domain"
	sessiondomain "vote-integrity/backend/internal/session/domain"
	sessionservice "vote-integrity/backend/internal/session/service"
	"vote-integrity/backend/internal/store"
	"vote-integrity/backend/internal/suspicion"
	suspiciondomain "vote-integrity/backend/internal/suspicion/domain"
	"vote-integrity/backend/internal/telemetry"
	telemetrydomain "vote-integrity/backend/internal/telemetry/domain"
	"vote-integrity/backend/internal/verification"
	votedomain "vote-integrity/backend/internal/vote/domain"
	voterepo "vote-integrity/backend/internal/vote/repository"
)

// Sentinel errors for the vote path; the HTTP handler maps them to status codes.
var (
	ErrInvalidToken         = errors.New("invalid or expired vote token")
	ErrInvalidContestant    = errors.New("invalid contestant")
	ErrDuplicateVote        = errors.New("already voted for this contestant")
	ErrLimitReached         = errors.New("vote limit reached")
	ErrRateLimited          = errors.New("too many vote attempts")
	ErrVerificationRequired = errors.New("verification required")
	ErrSuspiciousBlocked    = errors.New("session blocked due to suspicious activity")
)

// VoteEndpoint is recorded on rate-limit violations raised by SubmitVote.
const VoteEndpoint = "/vote"

const telemetrySource = "vote"

// LimitScope names which ceiling a LimitError hit.
type LimitScope string

const (
	ScopeDevice LimitScope = "device"
	ScopeIP     LimitScope = "ip"
)

// LimitError is returned when a vote cap is exhausted. It matches ErrLimitReached.
type LimitError struct {
	Scope LimitScope
}

func (e *LimitError) Error() string {
	return fmt.Sprintf("vote limit reached (%s)", e.Scope)
}

func (e *LimitError) Is(target error) bool { return target == ErrLimitReached }

// Code returns a stable short name for a vote rejection, used in audit metadata, telemetry and metrics.
func Code(err error) string {
	var le *LimitError
	switch {
	case err == nil:
		return "accepted"
	case errors.As(err, &le):
		return "limit_reached_" + string(le.Scope)
	case errors.Is(err, ErrInvalidToken):
		return "invalid_token"
	case errors.Is(err, ErrInvalidContestant):
		return "invalid_contestant"
	case errors.Is(err, ErrDuplicateVote):
		return "duplicate_vote"
	case errors.Is(err, ErrLimitReached):
		return "limit_reached"
	case errors.Is(err, ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, ErrVerificationRequired):
		return "verification_required"
	case errors.Is(err, ErrSuspiciousBlocked):
		return "blocked"
	default:
		return "internal"
	}
}

// Request is one vote submission.
type Request struct {
	Fingerprint string
	Contestant  string
	IP          string
	Token       string
	Proof       string // verification proof; only consulted for flagged sessions
}

// Result is returned with every accepted vote and every rejection past token validation.
type Result struct {
	Contestant           string
	VotesRemaining       int
	RequiresVerification bool
	VerifiedViaCaptcha   bool
}

// Limits are the enforcer's configured ceilings.
type Limits struct {
	MaxVotesPerDevice   int
	MaxVotesPerIP       int
	FlagSessionsOnIPCap bool
	// Contestants is the eligible list. Empty accepts any non-empty name.
	Contestants []string
}

// Stats is the public tally.
type Stats struct {
	TotalVotes         int
	TotalSessions      int
	SuspiciousSessions int
	VotesByContestant  map[string]int
}

// Enforcer admits or rejects votes. Each decision runs in one unit of work holding the
// fingerprint and IP keys so the cap checks and the ledger write cannot interleave.
type Enforcer struct {
	uow      store.UnitOfWork
	tracker  *mobility.Tracker
	assessor *suspicion.Assessor
	limiter  ratelimit.Limiter
	gate     verification.Gate
	limits   Limits
	allowed  map[string]struct{}
	auditLog audit.AuditLogger
	emitter  telemetry.EventEmitter
	nowF     func() time.Time
}

// NewEnforcer returns an Enforcer. limiter, gate, auditLog and emitter may be nil: without a
// limiter nothing is rate limited, and without a gate flagged sessions can never vote.
func NewEnforcer(
	uow store.UnitOfWork,
	tracker *mobility.Tracker,
	assessor *suspicion.Assessor,
	limiter ratelimit.Limiter,
	gate verification.Gate,
	limits Limits,
	auditLog audit.AuditLogger,
	emitter telemetry.EventEmitter,
) *Enforcer {
	allowed := make(map[string]struct{}, len(limits.Contestants))
	for _, c := range limits.Contestants {
		if n := votedomain.NormalizeContestant(c); n != "" {
			allowed[n] = struct{}{}
		}
	}
	return &Enforcer{
		uow:      uow,
		tracker:  tracker,
		assessor: assessor,
		limiter:  limiter,
		gate:     gate,
		limits:   limits,
		allowed:  allowed,
		auditLog: auditLog,
		emitter:  emitter,
		nowF:     time.Now,
	}
}

// decision accumulates what happened inside one unit of work.
type decision struct {
	result      Result
	reject      error
	violation   bool
	accepted    *votedomain.Vote
	escalations []*suspicion.Escalation
}

func (d *decision) escalated(esc *suspicion.Escalation) {
	if esc != nil {
		d.escalations = append(d.escalations, esc)
	}
}

// SubmitVote runs the admission checks in order and appends the vote when all pass.
// A rejection returns its sentinel error together with a non-nil Result, except for
// ErrInvalidToken. Evidence gathered while rejecting (IP changes, violations, escalations)
// is committed.
func (e *Enforcer) SubmitVote(ctx context.Context, req Request) (*Result, error) {
	contestant := votedomain.NormalizeContestant(req.Contestant)
	keys := []string{store.FingerprintKey(req.Fingerprint), store.IPKey(req.IP)}

	var d decision
	err := e.uow.Do(ctx, keys, func(ctx context.Context, r store.Repos) error {
		d = decision{result: Result{Contestant: contestant}}
		return e.decide(ctx, r, req, contestant, &d)
	})
	switch {
	case errors.Is(err, ErrDuplicateVote):
		// Lost a ledger race the locks did not cover; the unit was rolled back.
		d.reject = ErrDuplicateVote
		d.accepted = nil
		d.escalations = nil
		d.violation = false
	case err != nil:
		log.Error().Err(err).Str("fingerprint", req.Fingerprint).Str("ip", req.IP).Msg("vote: submission failed")
		return nil, err
	}

	e.report(ctx, req, &d)
	if d.reject != nil {
		if errors.Is(d.reject, ErrInvalidToken) {
			return nil, d.reject
		}
		return &d.result, d.reject
	}
	return &d.result, nil
}

func (e *Enforcer) decide(ctx context.Context, r store.Repos, req Request, contestant string, d *decision) error {
	now := e.nowF().UTC()

	sess, err := r.Sessions.GetByFingerprint(ctx, req.Fingerprint)
	if err != nil {
		return fmt.Errorf("load session: %w", err)
	}
	if !sess.TokenValid(req.Token, req.Fingerprint, now) {
		d.reject = ErrInvalidToken
		return nil
	}
	if e.tracker != nil {
		obs, err := e.tracker.Observe(ctx, r, sess, req.IP)
		if err != nil {
			return fmt.Errorf("observe ip: %w", err)
		}
		d.escalated(obs.Escalation)
	}

	devVotes, err := r.Votes.CountByFingerprint(ctx, req.Fingerprint)
	if err != nil {
		return fmt.Errorf("count device votes: %w", err)
	}
	ipVotes, err := r.Votes.CountByIP(ctx, req.IP)
	if err != nil {
		return fmt.Errorf("count ip votes: %w", err)
	}
	d.result.VotesRemaining = e.remaining(devVotes, ipVotes)

	reject := func(err error) error {
		d.reject = err
		d.result.RequiresVerification = sess.Suspicion == sessiondomain.SuspicionFlagged
		return nil
	}

	if !e.eligible(contestant) {
		return reject(ErrInvalidContestant)
	}
	exists, err := r.Votes.Exists(ctx, req.Fingerprint, contestant)
	if err != nil {
		return fmt.Errorf("check duplicate: %w", err)
	}
	if exists {
		return reject(ErrDuplicateVote)
	}
	if devVotes >= e.limits.MaxVotesPerDevice {
		return reject(&LimitError{Scope: ScopeDevice})
	}
	if ipVotes >= e.limits.MaxVotesPerIP {
		if e.limits.FlagSessionsOnIPCap {
			if err := e.flagIP(ctx, r, sess, req.IP, d); err != nil {
				return err
			}
		}
		return reject(&LimitError{Scope: ScopeIP})
	}

	if !e.allow(ctx, req) {
		v := &ratelimitdomain.Violation{
			IPAddress:   req.IP,
			Fingerprint: req.Fingerprint,
			Endpoint:    VoteEndpoint,
			CreatedAt:   now,
		}
		if err := r.Violations.Record(ctx, v); err != nil {
			return fmt.Errorf("record violation: %w", err)
		}
		d.violation = true
		esc, err := e.assessor.Reassess(ctx, r, sess)
		if err != nil {
			return err
		}
		d.escalated(esc)
		return reject(ErrRateLimited)
	}

	verified := false
	switch {
	case sess.Suspicion >= sessiondomain.SuspicionBlocked:
		return reject(ErrSuspiciousBlocked)
	case sess.Suspicion == sessiondomain.SuspicionFlagged:
		if req.Proof == "" || e.gate == nil {
			return reject(ErrVerificationRequired)
		}
		if out := e.gate.Verify(ctx, req.Proof, req.IP); !out.Verified {
			return reject(ErrVerificationRequired)
		}
		verified = true
	}

	// Cadence is scored on the votes already in the ledger.
	sig, err := e.assessor.Collect(ctx, r, req.Fingerprint)
	if err != nil {
		return err
	}
	vote := &votedomain.Vote{
		Fingerprint:        req.Fingerprint,
		Contestant:         contestant,
		IPAddress:          req.IP,
		VerifiedViaCaptcha: verified,
		CreatedAt:          now,
	}
	if err := r.Votes.Append(ctx, vote); err != nil {
		if errors.Is(err, voterepo.ErrDuplicate) {
			// The unit rolls back, so only the result survives.
			d.result.RequiresVerification = sess.Suspicion == sessiondomain.SuspicionFlagged
			return ErrDuplicateVote
		}
		return fmt.Errorf("append vote: %w", err)
	}
	if err := r.Sessions.IncrementVotes(ctx, req.Fingerprint); err != nil {
		return fmt.Errorf("increment votes: %w", err)
	}
	esc, err := e.assessor.Apply(ctx, r, sess, sig)
	if err != nil {
		return err
	}
	d.escalated(esc)

	d.accepted = vote
	d.result.VerifiedViaCaptcha = verified
	d.result.VotesRemaining = e.remaining(devVotes+1, ipVotes+1)
	d.result.RequiresVerification = sess.Suspicion == sessiondomain.SuspicionFlagged
	return nil
}

// flagIP escalates every session last seen on ip, the current one included.
func (e *Enforcer) flagIP(ctx context.Context, r store.Repos, sess *sessiondomain.Session, ip string, d *decision) error {
	fps, err := r.Sessions.EscalateByIP(ctx, ip, sessiondomain.SuspicionFlagged, suspiciondomain.ReasonIPCap)
	if err != nil {
		return fmt.Errorf("flag sessions on ip: %w", err)
	}
	for _, fp := range fps {
		d.escalated(&suspicion.Escalation{
			Fingerprint: fp,
			From:        sessiondomain.SuspicionClean,
			To:          sessiondomain.SuspicionFlagged,
			Reason:      suspiciondomain.ReasonIPCap,
		})
		if fp == sess.Fingerprint {
			sess.Suspicion = sessiondomain.SuspicionFlagged
			sess.SuspicionReason = suspiciondomain.ReasonIPCap
		}
	}
	if len(fps) > 0 {
		log.Info().Str("ip", ip).Int("sessions", len(fps)).Msg("vote: ip cap reached, sessions flagged")
	}
	return nil
}

// allow checks the IP window, then the fingerprint window. Limiter errors admit the hit.
func (e *Enforcer) allow(ctx context.Context, req Request) bool {
	if e.limiter == nil {
		return true
	}
	for _, key := range []string{ratelimit.IPKey(req.IP), ratelimit.FingerprintKey(req.Fingerprint)} {
		ok, err := e.limiter.Allow(ctx, key)
		if err != nil {
			log.Warn().Err(err).Str("key", key).Msg("vote: rate limiter unavailable, admitting")
			continue
		}
		if !ok {
			return false
		}
	}
	return true
}

func (e *Enforcer) eligible(contestant string) bool {
	if contestant == "" {
		return false
	}
	if len(e.allowed) == 0 {
		return true
	}
	_, ok := e.allowed[contestant]
	return ok
}

func (e *Enforcer) remaining(devVotes, ipVotes int) int {
	n := min(e.limits.MaxVotesPerDevice-devVotes, e.limits.MaxVotesPerIP-ipVotes)
	return max(n, 0)
}

func (e *Enforcer) report(ctx context.Context, req Request, d *decision) {
	for _, esc := range d.escalations {
		sessionservice.ReportEscalation(ctx, e.auditLog, e.emitter, telemetrySource, req.IP, esc)
	}
	if d.violation {
		if e.auditLog != nil {
			e.auditLog.LogEvent(ctx, req.Fingerprint, audit.ActionRateLimited, audit.ResourceVote, "endpoint="+VoteEndpoint)
		}
		ev := telemetry.NewEvent(telemetrydomain.EventRateLimited, telemetrySource, req.Fingerprint, req.IP)
		ev.Outcome = Code(ErrRateLimited)
		ev.Attributes = map[string]string{"endpoint": VoteEndpoint}
		telemetry.EmitAsync(e.emitter, ctx, ev)
	}

	if d.reject != nil {
		code := Code(d.reject)
		log.Info().Str("fingerprint", req.Fingerprint).Str("ip", req.IP).Str("reason", code).Msg("vote: rejected")
		if e.auditLog != nil {
			e.auditLog.LogEvent(ctx, req.Fingerprint, audit.ActionVoteRejected, audit.ResourceVote, "reason="+code)
		}
		ev := telemetry.NewEvent(telemetrydomain.EventVoteRejected, telemetrySource, req.Fingerprint, req.IP)
		ev.Outcome = code
		telemetry.EmitAsync(e.emitter, ctx, ev)
		return
	}
	if v := d.accepted; v != nil {
		if e.auditLog != nil {
			e.auditLog.LogEvent(ctx, v.Fingerprint, audit.ActionVoteAccepted, audit.ResourceVote, "contestant="+v.Contestant)
		}
		ev := telemetry.NewEvent(telemetrydomain.EventVoteAccepted, telemetrySource, v.Fingerprint, v.IPAddress)
		ev.Outcome = Code(nil)
		ev.Attributes = map[string]string{
			"contestant":           v.Contestant,
			"verified_via_captcha": strconv.FormatBool(v.VerifiedViaCaptcha),
			"votes_remaining":      strconv.Itoa(d.result.VotesRemaining),
		}
		telemetry.EmitAsync(e.emitter, ctx, ev)
	}
}

// Stats returns vote and session totals read outside any unit of work.
func (e *Enforcer) Stats(ctx context.Context) (*Stats, error) {
	r := e.uow.Repos()
	total, byContestant, err := r.Votes.Tally(ctx)
	if err != nil {
		return nil, fmt.Errorf("tally votes: %w", err)
	}
	sessions, suspicious, err := r.Sessions.Stats(ctx)
	if err != nil {
		return nil, fmt.Errorf("session stats: %w", err)
	}
	return &Stats{
		TotalVotes:         total,
		TotalSessions:      sessions,
		SuspiciousSessions: suspicious,
		VotesByContestant:  byContestant,
	}, nil
}
