package telemetry

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"vote-integrity/backend/internal/telemetry/domain"
)

// mockEventEmitter implements EventEmitter for tests.
type mockEventEmitter struct {
	mu      sync.Mutex
	events  []*domain.Event
	emitErr error
	delay   time.Duration
}

func (m *mockEventEmitter) Emit(ctx context.Context, event *domain.Event) error {
	if m.delay > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(m.delay):
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
	return m.emitErr
}

func (m *mockEventEmitter) getEvents() []*domain.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.events
}

func waitForEvents(t *testing.T, m *mockEventEmitter, n int) []*domain.Event {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if ev := m.getEvents(); len(ev) >= n {
			return ev
		}
		time.Sleep(5 * time.Millisecond)
	}
	return m.getEvents()
}

func TestEmitAsync_NilEmitter(t *testing.T) {
	// Should not panic
	EmitAsync(nil, context.Background(), NewEvent(domain.EventVoteAccepted, "test", "fp1", "1.1.1.1"))
}

func TestEmitAsync_NilEvent(t *testing.T) {
	emitter := &mockEventEmitter{}
	EmitAsync(emitter, context.Background(), nil)
	time.Sleep(10 * time.Millisecond)
	if events := emitter.getEvents(); len(events) != 0 {
		t.Errorf("expected 0 events, got %d", len(events))
	}
}

func TestEmitAsync_SuccessfulEmit(t *testing.T) {
	emitter := &mockEventEmitter{}
	event := NewEvent(domain.EventVoteRejected, "vote", "fp1", "1.1.1.1")
	event.Outcome = "duplicate_vote"

	EmitAsync(emitter, context.Background(), event)

	events := waitForEvents(t, emitter, 1)
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	got := events[0]
	if got.EventType != domain.EventVoteRejected || got.Fingerprint != "fp1" || got.Outcome != "duplicate_vote" {
		t.Errorf("event = %+v", got)
	}
	if got.ID == "" || got.CreatedAt.IsZero() {
		t.Error("NewEvent should set ID and CreatedAt")
	}
}

func TestEmitAsync_UsesBackgroundContext(t *testing.T) {
	emitter := &mockEventEmitter{}
	ctx, cancel := context.WithCancel(context.Background())
	cancel() // Cancel the request context immediately

	// Should still emit even though request context is cancelled
	EmitAsync(emitter, ctx, NewEvent(domain.EventTokenIssued, "session", "fp1", ""))

	if events := waitForEvents(t, emitter, 1); len(events) != 1 {
		t.Errorf("expected 1 event (context.Background used), got %d", len(events))
	}
}

func TestEmitAsync_ConcurrentAccess(t *testing.T) {
	emitter := &mockEventEmitter{}
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			EmitAsync(emitter, ctx, NewEvent(domain.EventVoteAccepted, "vote", "fp", ""))
		}()
	}
	wg.Wait()

	if events := waitForEvents(t, emitter, 10); len(events) != 10 {
		t.Errorf("expected 10 events, got %d", len(events))
	}
}

func TestMulti_FansOutAndJoinsErrors(t *testing.T) {
	a := &mockEventEmitter{}
	b := &mockEventEmitter{emitErr: errors.New("kafka down")}
	m := Multi{a, nil, b}

	err := m.Emit(context.Background(), NewEvent(domain.EventRateLimited, "vote", "fp1", "1.1.1.1"))
	if err == nil {
		t.Fatal("Multi should return the failing emitter's error")
	}
	if len(a.getEvents()) != 1 || len(b.getEvents()) != 1 {
		t.Error("every emitter should receive the event")
	}
}
