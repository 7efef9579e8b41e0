// Package handler serves liveness and readiness probes for Kubernetes, load balancers and CI.
package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
)

// checkTimeout bounds each readiness dependency check.
const checkTimeout = 2 * time.Second

// Pinger is satisfied by *sql.DB.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// PolicyChecker is satisfied by the suspicion policy engine.
type PolicyChecker interface {
	HealthCheck(ctx context.Context) error
}

// Check is one named readiness dependency.
type Check struct {
	Name string
	Fn   func(ctx context.Context) error
}

// Handler reports process liveness and dependency readiness.
type Handler struct {
	checks []Check
}

// NewHandler returns a Handler checking db and policy when non-nil, plus any extra checks.
func NewHandler(db Pinger, policy PolicyChecker, extra ...Check) *Handler {
	var checks []Check
	if db != nil {
		checks = append(checks, Check{Name: "database", Fn: db.PingContext})
	}
	if policy != nil {
		checks = append(checks, Check{Name: "policy_engine", Fn: policy.HealthCheck})
	}
	for _, c := range extra {
		if c.Fn != nil {
			checks = append(checks, c)
		}
	}
	return &Handler{checks: checks}
}

type probeResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// Liveness always answers 200 while the process serves requests.
func (h *Handler) Liveness(w http.ResponseWriter, r *http.Request) {
	writeProbe(w, http.StatusOK, probeResponse{Status: "ok"})
}

// Readiness runs every check and answers 503 when any fails.
func (h *Handler) Readiness(w http.ResponseWriter, r *http.Request) {
	resp := probeResponse{Status: "ready", Checks: make(map[string]string, len(h.checks))}
	code := http.StatusOK
	for _, c := range h.checks {
		ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
		err := c.Fn(ctx)
		cancel()
		if err != nil {
			log.Warn().Err(err).Str("check", c.Name).Msg("health: readiness check failed")
			resp.Checks[c.Name] = "unavailable"
			resp.Status = "not_ready"
			code = http.StatusServiceUnavailable
			continue
		}
		resp.Checks[c.Name] = "ok"
	}
	writeProbe(w, code, resp)
}

func writeProbe(w http.ResponseWriter, code int, resp probeResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(resp)
}
