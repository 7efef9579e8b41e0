// worker consumes integrity events from Kafka and pushes them to Loki.
// Set KAFKA_BROKERS, TELEMETRY_KAFKA_TOPIC, KAFKA_GROUP_ID and LOKI_URL.
package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"

	"vote-integrity/backend/internal/config"
	"vote-integrity/backend/internal/logging"
	"vote-integrity/backend/internal/telemetry/loki"
)

const pushTimeout = 10 * time.Second

// Read failures back off exponentially between these bounds; a successful read resets the delay.
var (
	readBackoffMin = 200 * time.Millisecond
	readBackoffMax = 10 * time.Second
)

// messageReader is the subset of *kafka.Reader the worker uses.
type messageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
}

// eventPusher is satisfied by *loki.Client.
type eventPusher interface {
	PushEventJSON(ctx context.Context, raw []byte) error
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("config")
	}
	logging.Setup(cfg.LogLevel, cfg.LogFormat)

	brokers := cfg.TelemetryKafkaBrokersList()
	if len(brokers) == 0 {
		log.Fatal().Msg("worker: KAFKA_BROKERS is required")
	}
	if cfg.LokiURL == "" {
		log.Fatal().Msg("worker: LOKI_URL is required")
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        brokers,
		Topic:          cfg.TelemetryKafkaTopic,
		GroupID:        cfg.KafkaGroupID,
		MinBytes:       1,
		MaxBytes:       10e6,
		MaxWait:        time.Second,
		CommitInterval: time.Second,
	})
	defer reader.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Info().
		Str("topic", cfg.TelemetryKafkaTopic).
		Str("group", cfg.KafkaGroupID).
		Str("loki", cfg.LokiURL).
		Msg("worker: consuming")
	n := forward(ctx, reader, loki.NewClient(cfg.LokiURL))
	log.Info().Int("forwarded", n).Msg("worker: stopped")
}

// forward copies messages from r to p until ctx is done and returns how many were pushed.
// Read and push failures are logged and skipped.
func forward(ctx context.Context, r messageReader, p eventPusher) int {
	pushed := 0
	var backoff time.Duration
	for {
		msg, err := r.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return pushed
			}
			backoff = nextBackoff(backoff)
			log.Warn().Err(err).Dur("retry_in", backoff).Msg("worker: kafka read failed")
			if !sleepCtx(ctx, backoff) {
				return pushed
			}
			continue
		}
		backoff = 0
		pushCtx, cancel := context.WithTimeout(ctx, pushTimeout)
		err = p.PushEventJSON(pushCtx, msg.Value)
		cancel()
		if err != nil {
			log.Warn().Err(err).Int64("offset", msg.Offset).Msg("worker: loki push failed")
			continue
		}
		pushed++
	}
}

func nextBackoff(prev time.Duration) time.Duration {
	if prev < readBackoffMin {
		return readBackoffMin
	}
	if next := prev * 2; next < readBackoffMax {
		return next
	}
	return readBackoffMax
}

// sleepCtx waits for d and reports false if ctx ended first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
