package loki

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"
)

func TestPushEventJSON_LabelsAndTimestamp(t *testing.T) {
	var got PushRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/loki/api/v1/push" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Fatalf("decode: %v", err)
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	raw := []byte(`{"id":"e1","event_type":"vote_rejected","source":"vote","fingerprint":"abc","outcome":"limit reached","created_at":"2024-05-01T10:00:00Z"}`)
	if err := NewClient(server.URL+"/").PushEventJSON(context.Background(), raw); err != nil {
		t.Fatalf("PushEventJSON: %v", err)
	}
	if len(got.Streams) != 1 {
		t.Fatalf("streams = %d, want 1", len(got.Streams))
	}
	s := got.Streams[0]
	if s.Stream["job"] != jobLabel || s.Stream["event_type"] != "vote_rejected" || s.Stream["outcome"] != "limit_reached" {
		t.Errorf("labels = %v", s.Stream)
	}
	if _, ok := s.Stream["fingerprint"]; ok {
		t.Error("fingerprint must not become a label")
	}
	want := strconv.FormatInt(time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC).UnixNano(), 10)
	if s.Values[0][0] != want || s.Values[0][1] != string(raw) {
		t.Errorf("values = %v", s.Values)
	}
}

func TestPushEventJSON_UnparseableLine(t *testing.T) {
	var got PushRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&got)
	}))
	defer server.Close()

	if err := NewClient(server.URL).PushEventJSON(context.Background(), []byte("not json")); err != nil {
		t.Fatalf("PushEventJSON: %v", err)
	}
	if len(got.Streams[0].Stream) != 1 {
		t.Errorf("labels = %v, want only job", got.Streams[0].Stream)
	}
}

func TestPushEvent_Errors(t *testing.T) {
	if err := NewClient("").PushEvent(context.Background(), time.Now(), "x", nil); err == nil {
		t.Error("empty base URL should fail")
	}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()
	if err := NewClient(server.URL).PushEvent(context.Background(), time.Now(), "x", nil); err == nil {
		t.Error("non-2xx should fail")
	}
}
