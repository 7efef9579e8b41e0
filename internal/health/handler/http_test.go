package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

type mockPinger struct{ err error }

func (m mockPinger) PingContext(ctx context.Context) error { return m.err }

type mockPolicyChecker struct{ err error }

func (m mockPolicyChecker) HealthCheck(ctx context.Context) error { return m.err }

func TestLiveness(t *testing.T) {
	h := NewHandler(mockPinger{err: errors.New("down")}, nil)
	rec := httptest.NewRecorder()
	h.Liveness(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
}

func TestReadiness(t *testing.T) {
	testCases := []struct {
		name       string
		h          *Handler
		wantCode   int
		wantChecks map[string]string
	}{
		{"no dependencies", NewHandler(nil, nil), http.StatusOK, map[string]string{}},
		{
			"all healthy",
			NewHandler(mockPinger{}, mockPolicyChecker{}),
			http.StatusOK,
			map[string]string{"database": "ok", "policy_engine": "ok"},
		},
		{
			"database down",
			NewHandler(mockPinger{err: errors.New("refused")}, mockPolicyChecker{}),
			http.StatusServiceUnavailable,
			map[string]string{"database": "unavailable", "policy_engine": "ok"},
		},
		{
			"extra check fails",
			NewHandler(nil, mockPolicyChecker{}, Check{Name: "redis", Fn: func(context.Context) error { return errors.New("timeout") }}),
			http.StatusServiceUnavailable,
			map[string]string{"policy_engine": "ok", "redis": "unavailable"},
		},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			tc.h.Readiness(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
			if rec.Code != tc.wantCode {
				t.Errorf("status = %d, want %d", rec.Code, tc.wantCode)
			}
			var resp probeResponse
			if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if len(resp.Checks) != len(tc.wantChecks) {
				t.Fatalf("checks = %v, want %v", resp.Checks, tc.wantChecks)
			}
			for k, v := range tc.wantChecks {
				if resp.Checks[k] != v {
					t.Errorf("check %s = %q, want %q", k, resp.Checks[k], v)
				}
			}
		})
	}
}
