// migrate runs DB migrations from embedded SQL; use with go run ./cmd/migrate -direction up|down.
package main

import (
	"flag"

	"github.com/rs/zerolog/log"

	"vote-integrity/backend/internal/config"
	"vote-integrity/backend/internal/db/migrate"
	"vote-integrity/backend/internal/logging"
)

func main() {
	direction := flag.String("direction", "up", "Migration direction: up or down")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("config")
	}
	logging.Setup(cfg.LogLevel, cfg.LogFormat)

	if cfg.DatabaseURL == "" {
		log.Fatal().Msg("DATABASE_URL is not set; create a .env or set DATABASE_URL (or DB_HOST/DB_NAME)")
	}
	files, err := migrate.Files()
	if err != nil {
		log.Fatal().Err(err).Msg("list migrations")
	}
	if err := migrate.Run(cfg.DatabaseURL, *direction); err != nil {
		log.Fatal().Err(err).Str("direction", *direction).Msg("migrate")
	}
	log.Info().Str("direction", *direction).Int("files", len(files)).Msg("migrate: done")
}
