package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/open-policy-agent/opa/v1/ast"
	"github.com/open-policy-agent/opa/v1/rego"
	"github.com/rs/zerolog/log"

	sessiondomain "vote-integrity/backend/internal/session/domain"
	"vote-integrity/backend/internal/suspicion/domain"
	"vote-integrity/backend/internal/suspicion/repository"
)

const (
	levelQuery   = "data.vote.suspicion.level"
	reasonsQuery = "data.vote.suspicion.reasons"

	policyCacheTTL = 30 * time.Second
)

// DefaultPolicyID is the id under which the built-in policy is seeded into suspicion_policies.
const DefaultPolicyID = "default"

// DefaultRegoPolicy encodes the built-in escalation rules. Operator policies must use the
// same package and expose level (0 clean, 1 flagged, 2 blocked) and a reasons set.
const DefaultRegoPolicy = `package vote.suspicion

default blocked = false

default level = 0

blocked if {
	input.thresholds.block_after_violations > 0
	input.signals.violations >= input.thresholds.block_after_violations
}

reasons contains "ip_changes" if {
	input.signals.ip_transitions > input.thresholds.max_ip_changes
}

reasons contains "rate_limit_violations" if {
	input.thresholds.flag_after_violations > 0
	input.signals.violations >= input.thresholds.flag_after_violations
}

reasons contains "rate_limit_violations" if blocked

reasons contains "rapid_voting" if {
	input.thresholds.rapid_vote_threshold > 0
	input.signals.recent_votes >= input.thresholds.rapid_vote_threshold
}

reasons contains "ip_cap" if input.signals.ip_cap_hit

level = 2 if blocked

level = 1 if {
	not blocked
	count(reasons) > 0
}
`

// OPAEvaluator evaluates suspicion policies using OPA Rego.
type OPAEvaluator struct {
	policyRepo repository.Repository
	thresholds domain.Thresholds
	nowF       func() time.Time

	defaultCompiler *ast.Compiler

	mu       sync.Mutex
	cached   *ast.Compiler
	cachedAt time.Time
}

// NewOPAEvaluator returns an OPA-based evaluator. policyRepo may be nil; then only the
// built-in policy is used.
func NewOPAEvaluator(policyRepo repository.Repository, th domain.Thresholds) (*OPAEvaluator, error) {
	compiler, err := ast.CompileModules(map[string]string{"policy_0.rego": DefaultRegoPolicy})
	if err != nil {
		return nil, fmt.Errorf("compile default policy: %w", err)
	}
	return &OPAEvaluator{
		policyRepo:      policyRepo,
		thresholds:      th,
		nowF:            time.Now,
		defaultCompiler: compiler,
	}, nil
}

var _ Evaluator = (*OPAEvaluator)(nil)

// ValidatePolicy compiles rules and checks that they define the queried package.
func ValidatePolicy(rules string) error {
	compiler, err := ast.CompileModules(map[string]string{"policy.rego": rules})
	if err != nil {
		return fmt.Errorf("compile policy: %w", err)
	}
	for _, m := range compiler.Modules {
		if m.Package.Path.String() == "data.vote.suspicion" {
			return nil
		}
	}
	return errors.New("policy must declare package vote.suspicion")
}

// HealthCheck verifies that the in-process OPA Rego engine can evaluate the built-in policy.
// Does not call the policy repo or database. Returns nil on success.
func (e *OPAEvaluator) HealthCheck(ctx context.Context) error {
	_, err := e.evaluate(ctx, e.defaultCompiler, buildInput(e.thresholds, domain.Signals{}))
	if err != nil {
		return fmt.Errorf("eval default policy: %w", err)
	}
	return nil
}

// Evaluate scores sig with the enabled operator policies, or the built-in policy when none
// are enabled. Any load, compile or evaluation failure falls back to the built-in rules in Go.
func (e *OPAEvaluator) Evaluate(ctx context.Context, sig domain.Signals) domain.Decision {
	compiler := e.compiler(ctx)
	d, err := e.evaluate(ctx, compiler, buildInput(e.thresholds, sig))
	if err != nil {
		log.Warn().Err(err).Msg("suspicion: policy evaluation failed, using built-in rules")
		return e.thresholds.Decide(sig)
	}
	return d
}

// compiler returns the compiled operator policies, refreshed at most every policyCacheTTL.
func (e *OPAEvaluator) compiler(ctx context.Context) *ast.Compiler {
	if e.policyRepo == nil {
		return e.defaultCompiler
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cached != nil && e.nowF().Sub(e.cachedAt) < policyCacheTTL {
		return e.cached
	}
	compiler := e.defaultCompiler
	policies, err := e.policyRepo.ListEnabled(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("suspicion: failed to load policies, using built-in policy")
		return compiler
	}
	modules := make(map[string]string)
	for i, p := range policies {
		if p.Enabled && p.Rules != "" {
			modules[fmt.Sprintf("policy_%d.rego", i)] = p.Rules
		}
	}
	if len(modules) > 0 {
		c, err := ast.CompileModules(modules)
		if err != nil {
			log.Error().Err(err).Msg("suspicion: operator policies do not compile, using built-in policy")
		} else {
			compiler = c
		}
	}
	e.cached = compiler
	e.cachedAt = e.nowF()
	return compiler
}

func buildInput(th domain.Thresholds, sig domain.Signals) map[string]interface{} {
	return map[string]interface{}{
		"signals": map[string]interface{}{
			"ip_transitions": sig.IPTransitions,
			"violations":     sig.Violations,
			"recent_votes":   sig.RecentVotes,
			"ip_cap_hit":     sig.IPCapHit,
		},
		"thresholds": map[string]interface{}{
			"max_ip_changes":         th.MaxIPChanges,
			"flag_after_violations":  th.FlagAfterViolations,
			"block_after_violations": th.BlockAfterViolations,
			"rapid_vote_threshold":   th.RapidVoteThreshold,
		},
	}
}

func (e *OPAEvaluator) evaluate(ctx context.Context, compiler *ast.Compiler, input map[string]interface{}) (domain.Decision, error) {
	levelRS, err := rego.New(
		rego.Query(levelQuery),
		rego.Compiler(compiler),
		rego.Input(input),
	).Eval(ctx)
	if err != nil {
		return domain.Decision{}, fmt.Errorf("eval level: %w", err)
	}
	if len(levelRS) == 0 || len(levelRS[0].Expressions) == 0 {
		return domain.Decision{}, fmt.Errorf("policy query returned no level")
	}
	level, ok := toInt(levelRS[0].Expressions[0].Value)
	if !ok || level < int(sessiondomain.SuspicionClean) || level > int(sessiondomain.SuspicionBlocked) {
		return domain.Decision{}, fmt.Errorf("policy returned invalid level %v", levelRS[0].Expressions[0].Value)
	}

	var reasons []string
	reasonsRS, err := rego.New(
		rego.Query(reasonsQuery),
		rego.Compiler(compiler),
		rego.Input(input),
	).Eval(ctx)
	if err == nil && len(reasonsRS) > 0 && len(reasonsRS[0].Expressions) > 0 {
		if list, ok := reasonsRS[0].Expressions[0].Value.([]interface{}); ok {
			for _, r := range list {
				if s, ok := r.(string); ok {
					reasons = append(reasons, s)
				}
			}
		}
	}

	d := domain.Decision{Level: sessiondomain.Suspicion(level)}
	if d.Level > sessiondomain.SuspicionClean {
		d.Reason = domain.PrimaryReason(reasons)
		if d.Reason == "" {
			d.Reason = "policy"
		}
	}
	return d, nil
}

func toInt(v interface{}) (int, bool) {
	switch n := v.(type) {
	case json.Number:
		i, err := n.Int64()
		return int(i), err == nil
	case float64:
		return int(n), true
	case int64:
		return int(n), true
	case int:
		return n, true
	}
	return 0, false
}
