// Package verification defines the human-verification capability the vote path relies on for
// flagged sessions, plus the replay protection that makes every proof single-use.
package verification

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// ErrNotConfigured is returned by IssueChallenge when no provider site key is configured.
var ErrNotConfigured = errors.New("verification: provider not configured")

// DefaultTimeout bounds one provider call when the caller does not set one.
const DefaultTimeout = 5 * time.Second

// replayTTL is how long a claimed proof is remembered. Provider tokens expire well before this.
const replayTTL = 10 * time.Minute

// Challenge tells a client which widget to render.
type Challenge struct {
	Provider string
	SiteKey  string
}

// Outcome is the result of verifying one proof.
type Outcome struct {
	Verified bool
	Score    float64
	HasScore bool
}

// Provider verifies a proof with an external challenge service.
type Provider interface {
	Name() string
	SiteKey() string
	// Verify returns an error only when the provider could not be reached or answered garbage.
	Verify(ctx context.Context, proof, remoteIP string) (Outcome, error)
}

// Gate issues challenges and verifies proofs. Implementations fail closed.
type Gate interface {
	IssueChallenge(ctx context.Context) (Challenge, error)
	Verify(ctx context.Context, proof, remoteIP string) Outcome
}

// ProviderGate is a Gate delegating to one Provider with replay protection and a timeout.
type ProviderGate struct {
	provider Provider
	replay   ReplayStore
	timeout  time.Duration
	minScore float64
}

// NewProviderGate returns a Gate over provider. replay may be nil to disable replay protection;
// minScore <= 0 accepts any score the provider reports.
func NewProviderGate(provider Provider, replay ReplayStore, timeout time.Duration, minScore float64) *ProviderGate {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &ProviderGate{provider: provider, replay: replay, timeout: timeout, minScore: minScore}
}

var _ Gate = (*ProviderGate)(nil)

func (g *ProviderGate) IssueChallenge(ctx context.Context) (Challenge, error) {
	if g.provider == nil || g.provider.SiteKey() == "" {
		return Challenge{}, ErrNotConfigured
	}
	return Challenge{Provider: g.provider.Name(), SiteKey: g.provider.SiteKey()}, nil
}

// Verify claims the proof, then asks the provider. A replayed proof, a provider error,
// a timeout or a score below minScore all yield an unverified Outcome.
func (g *ProviderGate) Verify(ctx context.Context, proof, remoteIP string) Outcome {
	proof = strings.TrimSpace(proof)
	if proof == "" || g.provider == nil {
		return Outcome{}
	}
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	if g.replay != nil {
		fresh, err := g.replay.Claim(ctx, proofDigest(proof), replayTTL)
		if err != nil {
			log.Warn().Err(err).Msg("verification: replay store unavailable, rejecting proof")
			return Outcome{}
		}
		if !fresh {
			log.Info().Str("ip", remoteIP).Msg("verification: replayed proof rejected")
			return Outcome{}
		}
	}

	out, err := g.provider.Verify(ctx, proof, remoteIP)
	if err != nil {
		log.Warn().Err(err).Str("provider", g.provider.Name()).Msg("verification: provider call failed")
		return Outcome{}
	}
	if out.Verified && out.HasScore && g.minScore > 0 && out.Score < g.minScore {
		log.Info().Float64("score", out.Score).Float64("min_score", g.minScore).Msg("verification: score below minimum")
		out.Verified = false
	}
	return out
}

func proofDigest(proof string) string {
	h := sha256.Sum256([]byte(proof))
	return hex.EncodeToString(h[:])
}
