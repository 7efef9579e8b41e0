package producer

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"

	"vote-integrity/backend/internal/telemetry/domain"
)

// mockWriter implements messageWriter for tests.
type mockWriter struct {
	msgs   []kafka.Message
	err    error
	closed int
}

func (m *mockWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	if m.err != nil {
		return m.err
	}
	m.msgs = append(m.msgs, msgs...)
	return nil
}

func (m *mockWriter) Close() error {
	m.closed++
	return nil
}

func TestNewKafkaProducer_Optional(t *testing.T) {
	if p := NewKafkaProducer(nil, "topic"); p != nil {
		t.Error("no brokers should yield nil producer")
	}
	if p := NewKafkaProducer([]string{"k:9092"}, ""); p != nil {
		t.Error("no topic should yield nil producer")
	}
	var p *KafkaProducer
	if err := p.Emit(context.Background(), &domain.Event{}); err != nil {
		t.Errorf("nil producer Emit = %v, want nil", err)
	}
	if err := p.Close(); err != nil {
		t.Errorf("nil producer Close = %v, want nil", err)
	}
}

func TestKafkaProducer_Emit(t *testing.T) {
	w := &mockWriter{}
	p := &KafkaProducer{writer: w, topic: "events"}
	ev := &domain.Event{ID: "e1", EventType: domain.EventVoteAccepted, Fingerprint: "fp1", CreatedAt: time.Now().UTC()}

	if err := p.Emit(context.Background(), ev); err != nil {
		t.Fatalf("Emit: %v", err)
	}
	if len(w.msgs) != 1 {
		t.Fatalf("messages = %d, want 1", len(w.msgs))
	}
	if string(w.msgs[0].Key) != "fp1" {
		t.Errorf("key = %q, want fp1", w.msgs[0].Key)
	}
	var decoded domain.Event
	if err := json.Unmarshal(w.msgs[0].Value, &decoded); err != nil {
		t.Fatalf("payload is not JSON: %v", err)
	}
	if decoded.EventType != domain.EventVoteAccepted {
		t.Errorf("event_type = %q", decoded.EventType)
	}

	w.err = errors.New("broker down")
	if err := p.Emit(context.Background(), ev); err == nil {
		t.Error("Emit should return writer errors")
	}
	_ = p.Close()
	if w.closed != 1 {
		t.Errorf("Close calls = %d, want 1", w.closed)
	}
}
