package telemetry

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"vote-integrity/backend/internal/telemetry/domain"
)

// EventEmitter emits integrity events (e.g. to OTel Logs or Kafka). Best-effort; callers log and ignore errors.
type EventEmitter interface {
	Emit(ctx context.Context, event *domain.Event) error
}

// Multi fans one event out to every non-nil emitter and joins their errors.
type Multi []EventEmitter

func (m Multi) Emit(ctx context.Context, event *domain.Event) error {
	var errs []error
	for _, e := range m {
		if e == nil {
			continue
		}
		if err := e.Emit(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// NewEvent returns an event with ID and CreatedAt set.
func NewEvent(eventType, source, fingerprint, ip string) *domain.Event {
	return &domain.Event{
		ID:          uuid.New().String(),
		EventType:   eventType,
		Source:      source,
		Fingerprint: fingerprint,
		IP:          ip,
		CreatedAt:   time.Now().UTC(),
	}
}
