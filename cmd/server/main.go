// server runs the vote integrity HTTP API. With no database configured it runs on the
// in-memory store; with no Redis configured the rate limiter and proof replay store are in-process.
package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"vote-integrity/backend/internal/audit"
	auditrepo "vote-integrity/backend/internal/audit/repository"
	"vote-integrity/backend/internal/config"
	"vote-integrity/backend/internal/db"
	"vote-integrity/backend/internal/db/migrate"
	healthhandler "vote-integrity/backend/internal/health/handler"
	"vote-integrity/backend/internal/logging"
	"vote-integrity/backend/internal/mobility"
	"vote-integrity/backend/internal/ratelimit"
	"vote-integrity/backend/internal/server"
	"vote-integrity/backend/internal/server/middleware"
	sessionservice "vote-integrity/backend/internal/session/service"
	"vote-integrity/backend/internal/store"
	"vote-integrity/backend/internal/suspicion"
	suspiciondomain "vote-integrity/backend/internal/suspicion/domain"
	"vote-integrity/backend/internal/suspicion/engine"
	suspicionrepo "vote-integrity/backend/internal/suspicion/repository"
	"vote-integrity/backend/internal/telemetry"
	otelsetup "vote-integrity/backend/internal/telemetry/otel"
	"vote-integrity/backend/internal/telemetry/producer"
	"vote-integrity/backend/internal/verification"
	"vote-integrity/backend/internal/verification/recaptcha"
	voteservice "vote-integrity/backend/internal/vote/service"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("config")
	}
	logging.Setup(cfg.LogLevel, cfg.LogFormat)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		log.Fatal().Err(err).Msg("server")
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	providers, err := otelsetup.NewProviders(ctx, cfg.OTLPEndpoint, server.DefaultServiceName, cfg.OTLPInsecure)
	if err != nil {
		return err
	}
	providers.SetGlobal()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = providers.Shutdown(shutdownCtx)
	}()

	var (
		uow        store.UnitOfWork
		policyRepo suspicionrepo.Repository
		auditRepo  auditrepo.Repository
		pinger     healthhandler.Pinger
	)
	if cfg.DatabaseURL != "" {
		if err := migrate.Run(cfg.DatabaseURL, "up"); err != nil {
			return err
		}
		var conn *sql.DB
		conn, err = db.Open(cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer conn.Close()
		uow = store.NewPostgres(conn)
		policyRepo = suspicionrepo.NewPostgresRepository(conn)
		auditRepo = auditrepo.NewPostgresRepository(conn)
		pinger = conn
	} else {
		log.Warn().Msg("server: no database configured, using the in-memory store")
		uow = store.NewMemory()
		policyRepo = suspicionrepo.NewMemoryRepository()
	}

	var (
		limiter ratelimit.Limiter
		replay  verification.ReplayStore
		checks  []healthhandler.Check
	)
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, DB: cfg.RedisDB})
		defer rdb.Close()
		rl := ratelimit.NewRedisLimiter(rdb, cfg.RateLimitVotesPerMinute, cfg.RateLimitWindowDuration())
		if err := rl.Ping(ctx); err != nil {
			log.Warn().Err(err).Str("addr", cfg.RedisAddr).Msg("server: redis unavailable, using in-process rate limiting")
		} else {
			limiter = rl
			replay = verification.NewRedisReplayStore(rdb)
			checks = append(checks, healthhandler.Check{Name: "redis", Fn: rl.Ping})
		}
	}
	if limiter == nil {
		ml := ratelimit.NewMemoryLimiter(cfg.RateLimitVotesPerMinute, cfg.RateLimitWindowDuration())
		go pruneLoop(ctx, ml, cfg.RateLimitWindowDuration())
		limiter = ml
		replay = verification.NewMemoryReplayStore()
	}

	evaluator, err := engine.NewOPAEvaluator(policyRepo, suspiciondomain.Thresholds{
		MaxIPChanges:         cfg.MaxIPChangesAllowed,
		FlagAfterViolations:  cfg.SuspicionFlagAfterViolations,
		BlockAfterViolations: cfg.SuspicionBlockAfterViolations,
		RapidVoteThreshold:   cfg.RapidVoteThreshold,
	})
	if err != nil {
		return err
	}

	var gate verification.Gate
	if cfg.RecaptchaSecretKey != "" {
		provider := recaptcha.NewClient(cfg.RecaptchaSiteKey, cfg.RecaptchaSecretKey, cfg.RecaptchaVerifyURL)
		gate = verification.NewProviderGate(provider, replay, cfg.VerificationTimeoutDuration(), cfg.RecaptchaMinScore)
	} else {
		log.Warn().Msg("server: RECAPTCHA_SECRET_KEY not set, flagged sessions cannot be verified")
	}

	emitters := telemetry.Multi{otelsetup.NewEventEmitter(providers.LoggerProvider)}
	if kp := producer.NewKafkaProducer(cfg.TelemetryKafkaBrokersList(), cfg.TelemetryKafkaTopic); kp != nil {
		defer kp.Close()
		emitters = append(emitters, kp)
	}
	auditLog := audit.NewLogger(auditRepo, middleware.ClientIP)

	assessor := suspicion.NewAssessor(evaluator, cfg.RapidVoteWindowDuration())
	tracker := mobility.NewTracker(assessor)
	sessions := sessionservice.NewManager(uow, tracker, cfg.TokenTTL(), auditLog, emitters)
	enforcer := voteservice.NewEnforcer(uow, tracker, assessor, limiter, gate, voteservice.Limits{
		MaxVotesPerDevice:   cfg.MaxVotesPerDevice,
		MaxVotesPerIP:       cfg.MaxVotesPerIP,
		FlagSessionsOnIPCap: cfg.FlagSessionsOnIPCap,
		Contestants:         cfg.Contestants(),
	}, auditLog, emitters)

	handler, err := server.NewRouter(server.Deps{
		Sessions:       sessions,
		Enforcer:       enforcer,
		Gate:           gate,
		Health:         healthhandler.NewHandler(pinger, evaluator, checks...),
		Violations:     uow.Repos().Violations,
		AuditLog:       auditLog,
		Emitter:        emitters,
		AllowedOrigins: cfg.AllowedOriginsList(),
		TokenRateLimit: cfg.TokenRateLimitPerMinute,
	})
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.HTTPAddr).Msg("server: listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info().Msg("server: shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server: shutdown")
	}
	// Let in-flight async telemetry finish before the exporters close.
	time.Sleep(telemetry.ShutdownDrainDuration)
	log.Info().Msg("server: stopped")
	return nil
}

func pruneLoop(ctx context.Context, l *ratelimit.MemoryLimiter, every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			l.Prune()
		}
	}
}
