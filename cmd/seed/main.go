// seed stores the built-in suspicion policy as an enabled row so operators can edit it in place.
// Idempotent: skips the insert if the policy already exists unless -force is given.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog/log"

	"vote-integrity/backend/internal/config"
	"vote-integrity/backend/internal/db"
	"vote-integrity/backend/internal/logging"
	"vote-integrity/backend/internal/suspicion/domain"
	"vote-integrity/backend/internal/suspicion/engine"
	suspicionrepo "vote-integrity/backend/internal/suspicion/repository"
)

func main() {
	force := flag.Bool("force", false, "Replace the stored policy even if it exists")
	file := flag.String("file", "", "Rego file to store instead of the built-in policy")
	id := flag.String("id", engine.DefaultPolicyID, "Policy id")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("config")
	}
	logging.Setup(cfg.LogLevel, cfg.LogFormat)

	if cfg.DatabaseURL == "" {
		log.Fatal().Msg("DATABASE_URL is not set; create a .env or set DATABASE_URL (or DB_HOST/DB_NAME)")
	}

	rules := engine.DefaultRegoPolicy
	if *file != "" {
		b, err := os.ReadFile(*file)
		if err != nil {
			log.Fatal().Err(err).Str("file", *file).Msg("read policy")
		}
		rules = string(b)
	}

	conn, err := db.Open(cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("open database")
	}
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	stored, err := seedPolicy(ctx, suspicionrepo.NewPostgresRepository(conn), *id, rules, *force)
	if err != nil {
		log.Fatal().Err(err).Str("id", *id).Msg("seed")
	}
	if !stored {
		log.Info().Str("id", *id).Msg("seed: policy already present, skipping (use -force to replace)")
		return
	}
	log.Info().Str("id", *id).Msg("seed: policy stored")
}

// seedPolicy validates rules and stores them as an enabled policy. It reports whether it wrote.
func seedPolicy(ctx context.Context, repo suspicionrepo.Repository, id, rules string, force bool) (bool, error) {
	if err := engine.ValidatePolicy(rules); err != nil {
		return false, err
	}
	if !force {
		existing, err := repo.GetByID(ctx, id)
		if err != nil {
			return false, fmt.Errorf("lookup policy: %w", err)
		}
		if existing != nil {
			return false, nil
		}
	}
	p := &domain.Policy{ID: id, Rules: rules, Enabled: true, CreatedAt: time.Now().UTC()}
	if err := repo.Upsert(ctx, p); err != nil {
		return false, fmt.Errorf("store policy: %w", err)
	}
	return true, nil
}
