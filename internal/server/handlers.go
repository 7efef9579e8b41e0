package server

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"vote-integrity/backend/internal/audit"
	"vote-integrity/backend/internal/identity"
	ratelimitdomain "vote-integrity/backend/internal/ratelimit/domain"
	"vote-integrity/backend/internal/server/middleware"
	"vote-integrity/backend/internal/telemetry"
	telemetrydomain "vote-integrity/backend/internal/telemetry/domain"
	"vote-integrity/backend/internal/verification"
	voteservice "vote-integrity/backend/internal/vote/service"
)

// TokenEndpoint is the token route; its rate-limit violations are recorded under this name.
const TokenEndpoint = "/token"

const voteTokenHeader = "X-Vote-Token"

func (a *api) handleRoot(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok", "service": a.deps.ServiceName})
}

type tokenResponse struct {
	Token           string `json:"token"`
	Fingerprint     string `json:"fingerprint"`
	ExpiresAt       string `json:"expires_at"`
	VotesUsed       int    `json:"votes_used"`
	VotesUsedFromIP int    `json:"votes_used_from_ip"`
	IsSuspicious    bool   `json:"is_suspicious"`
}

// handleToken resolves the device fingerprint from visitorId and returns its session.
// localId is accepted and ignored.
func (a *api) handleToken(w http.ResponseWriter, r *http.Request) {
	fp, err := identity.Fingerprint(r.URL.Query().Get("visitorId"))
	if err != nil {
		a.metrics.Tokens.WithLabelValues("invalid").Inc()
		respondError(w, http.StatusBadRequest, "visitorId is required")
		return
	}
	ip := middleware.ClientIP(r.Context())
	view, err := a.deps.Sessions.ObtainSession(r.Context(), fp, ip)
	if err != nil {
		a.metrics.Tokens.WithLabelValues("error").Inc()
		log.Error().Err(err).Str("fingerprint", fp).Str("ip", ip).Msg("http: obtain session failed")
		respondError(w, http.StatusInternalServerError, "internal error")
		return
	}
	a.metrics.Tokens.WithLabelValues("issued").Inc()
	respondJSON(w, http.StatusOK, tokenResponse{
		Token:           view.Token,
		Fingerprint:     view.Fingerprint,
		ExpiresAt:       view.ExpiresAt.UTC().Format(time.RFC3339),
		VotesUsed:       view.VotesUsedByDevice,
		VotesUsedFromIP: view.VotesUsedByIP,
		IsSuspicious:    view.IsSuspicious,
	})
}

// handleTokenRateLimited records the violation and answers 429.
func (a *api) handleTokenRateLimited(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ip := middleware.ClientIP(ctx)
	a.metrics.Tokens.WithLabelValues("rate_limited").Inc()
	if a.deps.Violations != nil {
		v := &ratelimitdomain.Violation{IPAddress: ip, Endpoint: TokenEndpoint, CreatedAt: time.Now().UTC()}
		if err := a.deps.Violations.Record(ctx, v); err != nil {
			log.Warn().Err(err).Str("ip", ip).Msg("http: record token violation failed")
		}
	}
	if a.deps.AuditLog != nil {
		ar := audit.ParseRoute(r.Method, r.URL.Path)
		a.deps.AuditLog.LogEvent(ctx, "", audit.ActionRateLimited, ar.Resource, "endpoint="+TokenEndpoint)
	}
	ev := telemetry.NewEvent(telemetrydomain.EventRateLimited, "http", "", ip)
	ev.Outcome = "rate_limited"
	ev.Attributes = map[string]string{"endpoint": TokenEndpoint}
	telemetry.EmitAsync(a.deps.Emitter, ctx, ev)

	log.Info().Str("ip", ip).Msg("http: token rate limit exceeded")
	respondError(w, http.StatusTooManyRequests, "too many token requests, try again later")
}

type voteRequest struct {
	Contestant     string `json:"contestant"`
	Fingerprint    string `json:"fingerprint"`
	RecaptchaToken string `json:"recaptcha_token"`
}

type voteResponse struct {
	Success              bool   `json:"success"`
	Message              string `json:"message"`
	VotesRemaining       int    `json:"votes_remaining"`
	RequiresVerification bool   `json:"requires_verification"`
}

func (a *api) handleVote(w http.ResponseWriter, r *http.Request) {
	var req voteRequest
	if err := decodeJSON(w, r, &req); err != nil {
		a.metrics.Votes.WithLabelValues("bad_request").Inc()
		respondJSON(w, http.StatusBadRequest, voteResponse{Message: "invalid request body"})
		return
	}
	res, err := a.deps.Enforcer.SubmitVote(r.Context(), voteservice.Request{
		Fingerprint: strings.TrimSpace(req.Fingerprint),
		Contestant:  req.Contestant,
		IP:          middleware.ClientIP(r.Context()),
		Token:       strings.TrimSpace(r.Header.Get(voteTokenHeader)),
		Proof:       req.RecaptchaToken,
	})
	code := voteservice.Code(err)
	a.metrics.Votes.WithLabelValues(code).Inc()

	status, msg := voteStatus(err)
	resp := voteResponse{Success: err == nil, Message: msg}
	if res != nil {
		resp.VotesRemaining = res.VotesRemaining
		resp.RequiresVerification = res.RequiresVerification
	}
	respondJSON(w, status, resp)
}

// voteStatus maps a SubmitVote error to the HTTP status and client message.
func voteStatus(err error) (int, string) {
	var le *voteservice.LimitError
	switch {
	case err == nil:
		return http.StatusOK, "Vote recorded"
	case errors.Is(err, voteservice.ErrInvalidToken):
		return http.StatusUnauthorized, "Invalid or expired token"
	case errors.Is(err, voteservice.ErrInvalidContestant):
		return http.StatusBadRequest, "Invalid contestant"
	case errors.Is(err, voteservice.ErrDuplicateVote):
		return http.StatusConflict, "You have already voted for this contestant"
	case errors.As(err, &le) && le.Scope == voteservice.ScopeIP:
		return http.StatusForbidden, "Vote limit reached for this network"
	case errors.Is(err, voteservice.ErrLimitReached):
		return http.StatusForbidden, "Vote limit reached for this device"
	case errors.Is(err, voteservice.ErrRateLimited):
		return http.StatusTooManyRequests, "Too many vote attempts, slow down"
	case errors.Is(err, voteservice.ErrVerificationRequired):
		return http.StatusForbidden, "Verification required"
	case errors.Is(err, voteservice.ErrSuspiciousBlocked):
		return http.StatusForbidden, "Voting blocked due to suspicious activity"
	default:
		return http.StatusInternalServerError, "Internal error"
	}
}

func (a *api) handleSiteKey(w http.ResponseWriter, r *http.Request) {
	if a.deps.Gate == nil {
		respondError(w, http.StatusInternalServerError, "captcha not configured")
		return
	}
	ch, err := a.deps.Gate.IssueChallenge(r.Context())
	if err != nil {
		if !errors.Is(err, verification.ErrNotConfigured) {
			log.Error().Err(err).Msg("http: issue challenge failed")
		}
		respondError(w, http.StatusInternalServerError, "captcha not configured")
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"site_key": ch.SiteKey})
}

type statsResponse struct {
	TotalVotes         int            `json:"total_votes"`
	TotalSessions      int            `json:"total_sessions"`
	SuspiciousSessions int            `json:"suspicious_sessions"`
	VotesByContestant  map[string]int `json:"votes_by_contestant"`
}

func (a *api) handleStats(w http.ResponseWriter, r *http.Request) {
	st, err := a.deps.Enforcer.Stats(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("http: stats failed")
		respondError(w, http.StatusInternalServerError, "internal error")
		return
	}
	byContestant := st.VotesByContestant
	if byContestant == nil {
		byContestant = map[string]int{}
	}
	respondJSON(w, http.StatusOK, statsResponse{
		TotalVotes:         st.TotalVotes,
		TotalSessions:      st.TotalSessions,
		SuspiciousSessions: st.SuspiciousSessions,
		VotesByContestant:  byContestant,
	})
}
