// Package config loads and validates app config from env and an optional .env file using Viper.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	// HTTPAddr is the address the HTTP API listens on (e.g. :8000).
	HTTPAddr string `mapstructure:"HTTP_ADDR"`
	// DatabaseURL is the Postgres DSN. When empty it is assembled from DB_HOST, DB_PORT, DB_USER, DB_PASSWORD and DB_NAME;
	// when those are empty too the server runs on the in-memory store.
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	DBHost      string `mapstructure:"DB_HOST"`
	DBPort      int    `mapstructure:"DB_PORT"`
	DBUser      string `mapstructure:"DB_USER"`
	DBPassword  string `mapstructure:"DB_PASSWORD"`
	DBName      string `mapstructure:"DB_NAME"`

	// RedisAddr is host:port of the Redis used for rate-limit windows and proof replay. Empty means in-process stores.
	RedisAddr string `mapstructure:"REDIS_ADDR"`
	RedisHost string `mapstructure:"REDIS_HOST"`
	RedisPort int    `mapstructure:"REDIS_PORT"`
	RedisDB   int    `mapstructure:"REDIS_DB"`

	// TokenExpiryMinutes is the vote token lifetime.
	TokenExpiryMinutes int `mapstructure:"TOKEN_EXPIRY_MINUTES"`
	// MaxVotesPerDevice caps votes per fingerprint.
	MaxVotesPerDevice int `mapstructure:"MAX_VOTES_PER_DEVICE"`
	// MaxVotesPerIP caps votes per client IP across all fingerprints.
	MaxVotesPerIP int `mapstructure:"MAX_VOTES_PER_IP"`
	// MaxIPChangesAllowed is the number of distinct IP transitions tolerated before a session is flagged.
	MaxIPChangesAllowed int `mapstructure:"MAX_IP_CHANGES_ALLOWED"`
	// RateLimitVotesPerMinute is the vote submission threshold per window, applied to IP and fingerprint separately.
	RateLimitVotesPerMinute int `mapstructure:"RATE_LIMIT_VOTES_PER_MINUTE"`
	// RateLimitWindow is the sliding window length (e.g. "60s").
	RateLimitWindow string `mapstructure:"RATE_LIMIT_WINDOW"`
	// TokenRateLimitPerMinute is the per-IP limit on GET /token.
	TokenRateLimitPerMinute int `mapstructure:"TOKEN_RATE_LIMIT_PER_MINUTE"`
	// RapidVoteThreshold is the number of prior votes inside RapidVoteWindow that marks the cadence as abnormal.
	RapidVoteThreshold int    `mapstructure:"RAPID_VOTE_THRESHOLD"`
	RapidVoteWindow    string `mapstructure:"RAPID_VOTE_WINDOW"`
	// SuspicionFlagAfterViolations flags a session once it has this many rate-limit violations.
	SuspicionFlagAfterViolations int `mapstructure:"SUSPICION_FLAG_AFTER_VIOLATIONS"`
	// SuspicionBlockAfterViolations blocks a session outright once it has this many rate-limit violations.
	SuspicionBlockAfterViolations int `mapstructure:"SUSPICION_BLOCK_AFTER_VIOLATIONS"`
	// FlagSessionsOnIPCap flags every session last seen on an IP when that IP hits its vote cap.
	FlagSessionsOnIPCap bool `mapstructure:"FLAG_SESSIONS_ON_IP_CAP"`

	// AllowedContestants is the comma-separated eligible contestant list; normalized by Contestants.
	AllowedContestants string `mapstructure:"ALLOWED_CONTESTANTS"`
	// AllowedOrigins is the comma-separated CORS origin list.
	AllowedOrigins string `mapstructure:"ALLOWED_ORIGINS"`

	// RecaptchaSiteKey is handed to clients to render the challenge widget.
	RecaptchaSiteKey string `mapstructure:"RECAPTCHA_SITE_KEY"`
	// RecaptchaSecretKey authenticates siteverify calls.
	RecaptchaSecretKey string `mapstructure:"RECAPTCHA_SECRET_KEY"`
	// RecaptchaVerifyURL is the siteverify endpoint (default Google).
	RecaptchaVerifyURL string `mapstructure:"RECAPTCHA_VERIFY_URL"`
	// RecaptchaMinScore rejects proofs whose provider score is below it; 0 disables the check.
	RecaptchaMinScore float64 `mapstructure:"RECAPTCHA_MIN_SCORE"`
	// VerificationTimeout bounds each call to the verification provider (e.g. "5s").
	VerificationTimeout string `mapstructure:"VERIFICATION_TIMEOUT"`

	// Telemetry (optional). When Kafka brokers are set, integrity events are emitted to Kafka.
	// TelemetryKafkaBrokers is a comma-separated list of Kafka broker addresses (e.g. "localhost:9092").
	TelemetryKafkaBrokers string `mapstructure:"KAFKA_BROKERS"`
	// TelemetryKafkaTopic is the Kafka topic for integrity events.
	TelemetryKafkaTopic string `mapstructure:"TELEMETRY_KAFKA_TOPIC"`
	// OTLPEndpoint is the OpenTelemetry collector endpoint; empty disables export.
	OTLPEndpoint string `mapstructure:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	// OTLPInsecure forces plaintext to the collector even for https endpoints.
	OTLPInsecure bool `mapstructure:"OTEL_EXPORTER_OTLP_INSECURE"`

	// Worker-only: Loki URL for the telemetry worker to push logs (e.g. http://localhost:3100).
	LokiURL string `mapstructure:"LOKI_URL"`
	// KafkaGroupID is the consumer group ID for the telemetry worker.
	KafkaGroupID string `mapstructure:"KAFKA_GROUP_ID"`

	// LogLevel is a zerolog level name (debug, info, warn, error).
	LogLevel string `mapstructure:"LOG_LEVEL"`
	// LogFormat is "json" or "console".
	LogFormat string `mapstructure:"LOG_FORMAT"`
	// Env is the application environment (e.g. "development", "production").
	Env string `mapstructure:"APP_ENV"`
}

// Load reads .env (if present), then builds and validates Config from the environment via Viper.
// Missing .env is ignored (e.g. in CI). Env vars override .env. Returns an error if required fields are invalid.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig() // ignore ErrConfigFileNotFound

	v.AutomaticEnv()

	v.SetDefault("HTTP_ADDR", ":8000")
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("DB_HOST", "")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "")
	v.SetDefault("DB_PASSWORD", "")
	v.SetDefault("DB_NAME", "")
	v.SetDefault("REDIS_ADDR", "")
	v.SetDefault("REDIS_HOST", "")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("TOKEN_EXPIRY_MINUTES", 15)
	v.SetDefault("MAX_VOTES_PER_DEVICE", 3)
	v.SetDefault("MAX_VOTES_PER_IP", 3)
	v.SetDefault("MAX_IP_CHANGES_ALLOWED", 1)
	v.SetDefault("RATE_LIMIT_VOTES_PER_MINUTE", 5)
	v.SetDefault("RATE_LIMIT_WINDOW", "60s")
	v.SetDefault("TOKEN_RATE_LIMIT_PER_MINUTE", 10)
	v.SetDefault("RAPID_VOTE_THRESHOLD", 2)
	v.SetDefault("RAPID_VOTE_WINDOW", "60s")
	v.SetDefault("SUSPICION_FLAG_AFTER_VIOLATIONS", 2)
	v.SetDefault("SUSPICION_BLOCK_AFTER_VIOLATIONS", 5)
	v.SetDefault("FLAG_SESSIONS_ON_IP_CAP", true)
	v.SetDefault("ALLOWED_CONTESTANTS", "")
	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("RECAPTCHA_SITE_KEY", "")
	v.SetDefault("RECAPTCHA_SECRET_KEY", "")
	v.SetDefault("RECAPTCHA_VERIFY_URL", "https://www.google.com/recaptcha/api/siteverify")
	v.SetDefault("RECAPTCHA_MIN_SCORE", 0)
	v.SetDefault("VERIFICATION_TIMEOUT", "5s")
	v.SetDefault("KAFKA_BROKERS", "")
	v.SetDefault("TELEMETRY_KAFKA_TOPIC", "vote-integrity-events")
	v.SetDefault("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	v.SetDefault("OTEL_EXPORTER_OTLP_INSECURE", false)
	v.SetDefault("LOKI_URL", "")
	v.SetDefault("KAFKA_GROUP_ID", "vote-integrity-worker")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")
	v.SetDefault("APP_ENV", "")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if cfg.HTTPAddr == "" {
		return nil, errors.New("config: HTTP_ADDR must be set")
	}
	if cfg.TokenExpiryMinutes <= 0 {
		return nil, errors.New("config: TOKEN_EXPIRY_MINUTES must be positive")
	}
	if cfg.MaxVotesPerDevice <= 0 || cfg.MaxVotesPerIP <= 0 {
		return nil, errors.New("config: MAX_VOTES_PER_DEVICE and MAX_VOTES_PER_IP must be positive")
	}
	if cfg.MaxIPChangesAllowed < 0 {
		return nil, errors.New("config: MAX_IP_CHANGES_ALLOWED must not be negative")
	}
	if cfg.RateLimitVotesPerMinute <= 0 {
		return nil, errors.New("config: RATE_LIMIT_VOTES_PER_MINUTE must be positive")
	}
	if cfg.SuspicionBlockAfterViolations < cfg.SuspicionFlagAfterViolations {
		return nil, errors.New("config: SUSPICION_BLOCK_AFTER_VIOLATIONS must be >= SUSPICION_FLAG_AFTER_VIOLATIONS")
	}
	if cfg.RecaptchaMinScore < 0 || cfg.RecaptchaMinScore > 1 {
		return nil, errors.New("config: RECAPTCHA_MIN_SCORE must be between 0 and 1")
	}
	if cfg.DatabaseURL == "" {
		cfg.DatabaseURL = cfg.composeDatabaseURL()
	}
	if cfg.RedisAddr == "" && cfg.RedisHost != "" {
		cfg.RedisAddr = fmt.Sprintf("%s:%d", cfg.RedisHost, cfg.RedisPort)
	}

	return &cfg, nil
}

func (c *Config) composeDatabaseURL() string {
	if c.DBHost == "" || c.DBName == "" {
		return ""
	}
	u := url.URL{
		Scheme: "postgres",
		Host:   fmt.Sprintf("%s:%d", c.DBHost, c.DBPort),
		Path:   "/" + c.DBName,
	}
	if c.DBUser != "" {
		u.User = url.UserPassword(c.DBUser, c.DBPassword)
	}
	return u.String()
}

// TokenTTL returns the vote token lifetime. Returns 15m if unset or invalid.
func (c *Config) TokenTTL() time.Duration {
	if c.TokenExpiryMinutes <= 0 {
		return 15 * time.Minute
	}
	return time.Duration(c.TokenExpiryMinutes) * time.Minute
}

// RateLimitWindowDuration parses RateLimitWindow. Returns 60s if unset or invalid.
func (c *Config) RateLimitWindowDuration() time.Duration {
	return parseDuration(c.RateLimitWindow, time.Minute)
}

// RapidVoteWindowDuration parses RapidVoteWindow. Returns 60s if unset or invalid.
func (c *Config) RapidVoteWindowDuration() time.Duration {
	return parseDuration(c.RapidVoteWindow, time.Minute)
}

// VerificationTimeoutDuration parses VerificationTimeout. Returns 5s if unset or invalid.
func (c *Config) VerificationTimeoutDuration() time.Duration {
	return parseDuration(c.VerificationTimeout, 5*time.Second)
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

// Contestants returns the eligible contestant names, trimmed and lowercased, without empties or duplicates.
func (c *Config) Contestants() []string {
	if c == nil {
		return nil
	}
	seen := make(map[string]bool)
	var out []string
	for _, p := range strings.Split(c.AllowedContestants, ",") {
		s := strings.ToLower(strings.TrimSpace(p))
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}

// AllowedOriginsList returns CORS origins from the comma-separated config.
func (c *Config) AllowedOriginsList() []string {
	return splitList(c.AllowedOrigins)
}

// TelemetryKafkaBrokersList returns Kafka broker addresses from the comma-separated config.
// Used to decide if Kafka emission is enabled (non-empty list) and to create the producer.
func (c *Config) TelemetryKafkaBrokersList() []string {
	if c == nil {
		return nil
	}
	return splitList(c.TelemetryKafkaBrokers)
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if v := strings.TrimSpace(p); v != "" {
			out = append(out, v)
		}
	}
	return out
}
