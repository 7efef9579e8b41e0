package main

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
)

// scriptedReader returns queued results, then cancels the context and reports it.
type scriptedReader struct {
	msgs   []kafka.Message
	errs   []error
	cancel context.CancelFunc
	i      int
}

func (r *scriptedReader) ReadMessage(ctx context.Context) (kafka.Message, error) {
	if r.i >= len(r.msgs) {
		r.cancel()
		return kafka.Message{}, ctx.Err()
	}
	m, err := r.msgs[r.i], r.errs[r.i]
	r.i++
	return m, err
}

type mockPusher struct {
	lines [][]byte
	fail  map[string]bool
}

func (p *mockPusher) PushEventJSON(ctx context.Context, raw []byte) error {
	if p.fail[string(raw)] {
		return errors.New("loki down")
	}
	p.lines = append(p.lines, raw)
	return nil
}

func TestForward(t *testing.T) {
	readBackoffMin = time.Millisecond
	defer func() { readBackoffMin = 200 * time.Millisecond }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r := &scriptedReader{
		msgs: []kafka.Message{
			{Value: []byte(`{"event_type":"vote_accepted"}`)},
			{},
			{Value: []byte(`bad`)},
			{Value: []byte(`{"event_type":"rate_limited"}`)},
		},
		errs:   []error{nil, errors.New("rebalance"), nil, nil},
		cancel: cancel,
	}
	p := &mockPusher{fail: map[string]bool{"bad": true}}

	if n := forward(ctx, r, p); n != 2 {
		t.Errorf("forwarded = %d, want 2", n)
	}
	if len(p.lines) != 2 || string(p.lines[1]) != `{"event_type":"rate_limited"}` {
		t.Errorf("pushed = %q", p.lines)
	}
}

// brokenReader fails every read.
type brokenReader struct {
	calls atomic.Int32
}

func (r *brokenReader) ReadMessage(ctx context.Context) (kafka.Message, error) {
	r.calls.Add(1)
	return kafka.Message{}, errors.New("broker unavailable")
}

func TestForward_BacksOffOnReadErrors(t *testing.T) {
	readBackoffMin, readBackoffMax = 20*time.Millisecond, 40*time.Millisecond
	defer func() { readBackoffMin, readBackoffMax = 200*time.Millisecond, 10*time.Second }()

	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()
	r := &brokenReader{}

	start := time.Now()
	if n := forward(ctx, r, &mockPusher{}); n != 0 {
		t.Errorf("forwarded = %d, want 0", n)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("forward returned %v after cancellation", elapsed)
	}
	if calls := r.calls.Load(); calls > 10 {
		t.Errorf("ReadMessage called %d times in 150ms, want backoff between attempts", calls)
	}
}

func TestNextBackoff(t *testing.T) {
	readBackoffMin, readBackoffMax = 100*time.Millisecond, 500*time.Millisecond
	defer func() { readBackoffMin, readBackoffMax = 200*time.Millisecond, 10*time.Second }()

	want := []time.Duration{100, 200, 400, 500, 500}
	var d time.Duration
	for i, w := range want {
		d = nextBackoff(d)
		if d != w*time.Millisecond {
			t.Errorf("step %d = %v, want %v", i, d, w*time.Millisecond)
		}
	}
}
