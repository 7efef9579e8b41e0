package otel

import (
	"context"
	"time"

	otellog "go.opentelemetry.io/otel/log"
	sdklog "go.opentelemetry.io/otel/sdk/log"

	"vote-integrity/backend/internal/telemetry"
	"vote-integrity/backend/internal/telemetry/domain"
)

const instrumentationName = "vote-integrity.events"

// NewEventEmitter returns an EventEmitter that sends events as OTel log records via the given LoggerProvider.
// If provider is nil, returns a no-op emitter.
func NewEventEmitter(provider *sdklog.LoggerProvider) telemetry.EventEmitter {
	if provider == nil {
		return noopEmitter{}
	}
	return &otelEmitter{logger: provider.Logger(instrumentationName)}
}

type noopEmitter struct{}

func (noopEmitter) Emit(context.Context, *domain.Event) error { return nil }

type otelEmitter struct {
	logger otellog.Logger
}

// Emit converts the event to an OTel log record and emits it.
func (e *otelEmitter) Emit(ctx context.Context, event *domain.Event) error {
	if event == nil {
		return nil
	}
	e.logger.Emit(ctx, toRecord(event))
	return nil
}

func toRecord(event *domain.Event) otellog.Record {
	rec := otellog.Record{}
	ts := event.CreatedAt
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	rec.SetTimestamp(ts)
	rec.SetBody(otellog.StringValue(event.EventType))
	rec.SetSeverity(otellog.SeverityInfo)
	if event.EventType == domain.EventVoteRejected || event.EventType == domain.EventSuspicionEscalated {
		rec.SetSeverity(otellog.SeverityWarn)
	}
	attrs := []otellog.KeyValue{
		otellog.String("event_id", event.ID),
		otellog.String("event_type", event.EventType),
	}
	if event.Source != "" {
		attrs = append(attrs, otellog.String("source", event.Source))
	}
	if event.Fingerprint != "" {
		attrs = append(attrs, otellog.String("fingerprint", event.Fingerprint))
	}
	if event.IP != "" {
		attrs = append(attrs, otellog.String("ip", event.IP))
	}
	if event.Outcome != "" {
		attrs = append(attrs, otellog.String("outcome", event.Outcome))
	}
	for k, v := range event.Attributes {
		attrs = append(attrs, otellog.String(k, v))
	}
	rec.AddAttributes(attrs...)
	return rec
}
