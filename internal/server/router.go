// Package server builds the HTTP API: the chi router, its middleware stack and the handlers
// for token issuance, vote submission, health, metrics and stats.
package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"vote-integrity/backend/internal/audit"
	healthhandler "vote-integrity/backend/internal/health/handler"
	ratelimitrepo "vote-integrity/backend/internal/ratelimit/repository"
	"vote-integrity/backend/internal/server/middleware"
	sessionservice "vote-integrity/backend/internal/session/service"
	"vote-integrity/backend/internal/telemetry"
	"vote-integrity/backend/internal/verification"
	voteservice "vote-integrity/backend/internal/vote/service"
)

// DefaultServiceName names the service in GET / and in HTTP spans.
const DefaultServiceName = "vote-integrity"

// Deps holds the services and settings the HTTP handlers use.
type Deps struct {
	// Sessions issues and validates vote tokens. Required.
	Sessions *sessionservice.Manager
	// Enforcer admits votes and serves stats. Required.
	Enforcer *voteservice.Enforcer
	// Gate serves the challenge site key. If nil, /captcha/site-key answers 500.
	Gate verification.Gate
	// Health answers /healthz and /readyz. If nil, readiness has no checks.
	Health *healthhandler.Handler
	// Violations records token-endpoint rate-limit violations. If nil, they are only logged.
	Violations ratelimitrepo.Repository
	// AuditLog and Emitter receive token-endpoint rate-limit events. Both may be nil.
	AuditLog audit.AuditLogger
	Emitter  telemetry.EventEmitter
	// Metrics backs /metrics. If nil, a fresh set is created.
	Metrics *Metrics
	// AllowedOrigins is the CORS allow list. Empty allows any origin without credentials.
	AllowedOrigins []string
	// TokenRateLimit is the number of GET /token requests allowed per client IP per minute; <= 0 disables it.
	TokenRateLimit int
	ServiceName    string
}

type api struct {
	deps    Deps
	metrics *Metrics
}

// NewRouter returns the API handler wrapped in OpenTelemetry HTTP instrumentation.
func NewRouter(deps Deps) (http.Handler, error) {
	if deps.Sessions == nil {
		return nil, errors.New("server: session manager is required")
	}
	if deps.Enforcer == nil {
		return nil, errors.New("server: vote enforcer is required")
	}
	if deps.Metrics == nil {
		deps.Metrics = NewMetrics()
	}
	if deps.Health == nil {
		deps.Health = healthhandler.NewHandler(nil, nil)
	}
	if deps.ServiceName == "" {
		deps.ServiceName = DefaultServiceName
	}
	a := &api{deps: deps, metrics: deps.Metrics}

	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(middleware.ClientIPContext)
	r.Use(middleware.RequestLogger)
	r.Use(chimiddleware.Recoverer)
	r.Use(corsHandler(deps.AllowedOrigins))
	r.Use(a.metrics.Instrument)

	r.Get("/", a.handleRoot)
	r.Get("/healthz", deps.Health.Liveness)
	r.Get("/readyz", deps.Health.Readiness)
	r.Method(http.MethodGet, "/metrics", a.metrics.Handler())

	r.Group(func(r chi.Router) {
		if deps.TokenRateLimit > 0 {
			r.Use(httprate.Limit(
				deps.TokenRateLimit,
				time.Minute,
				httprate.WithKeyFuncs(middleware.KeyByClientIP),
				httprate.WithLimitHandler(a.handleTokenRateLimited),
			))
		}
		r.Get(TokenEndpoint, a.handleToken)
	})
	r.Post(voteservice.VoteEndpoint, a.handleVote)
	r.Get("/captcha/site-key", a.handleSiteKey)
	r.Get("/stats", a.handleStats)

	return otelhttp.NewHandler(r, deps.ServiceName), nil
}

func corsHandler(origins []string) func(http.Handler) http.Handler {
	credentials := len(origins) > 0
	if !credentials {
		origins = []string{"*"}
	}
	return cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", voteTokenHeader},
		AllowCredentials: credentials,
		MaxAge:           int((10 * time.Minute).Seconds()),
	})
}
