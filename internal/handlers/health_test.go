package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	domain "github.com/gymhub/api/internal/domain"
	"github.com/gymhub/api/internal/services"
)

type stubSystemService struct {
	report services.SystemHealthReport
	err    error
}

func (s *stubSystemService) HealthReport(context.Context) (services.SystemHealthReport, error) {
	return s.report, s.err
}

var _ services.SystemService = (*stubSystemService)(nil)

func TestHealthHandlersHealthz(t *testing.T) {
	start := time.Date(2025, 5, 1, 8, 0, 0, 0, time.UTC)
	handlers := NewHealthHandlers(
		WithHealthBuildInfo(services.BuildInfo{
			Version:     "2.3.0",
			CommitSHA:   "f00dbab",
			Environment: "staging",
			StartedAt:   start,
		}),
		WithHealthClock(func() time.Time { return start.Add(90 * time.Second) }),
	)

	rr := httptest.NewRecorder()
	handlers.Healthz(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	var body healthzResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if body.Status != domain.HealthStatusOK || body.Version != "2.3.0" || body.CommitSHA != "f00dbab" || body.Environment != "staging" {
		t.Fatalf("unexpected build info %+v", body)
	}
	if body.Uptime != "1m30s" {
		t.Fatalf("expected uptime 1m30s, got %s", body.Uptime)
	}
}

func TestHealthHandlersReadyz(t *testing.T) {
	now := time.Date(2025, 5, 1, 8, 5, 0, 0, time.UTC)

	cases := []struct {
		name    string
		system  services.SystemService
		status  int
		body    string
		details []string
	}{
		{
			name: "healthy",
			system: &stubSystemService{report: services.SystemHealthReport{
				Status:      domain.HealthStatusOK,
				GeneratedAt: now,
				Checks: map[string]domain.SystemHealthCheck{
					"firestore": {Status: domain.HealthStatusOK, Latency: 12 * time.Millisecond, CheckedAt: now},
					"pubsub":    {Status: domain.HealthStatusOK, Latency: 3 * time.Millisecond, CheckedAt: now},
				},
			}},
			status: http.StatusOK,
			body:   domain.HealthStatusOK,
		},
		{
			name: "degraded dependency",
			system: &stubSystemService{report: services.SystemHealthReport{
				Status: domain.HealthStatusDegraded,
				Checks: map[string]domain.SystemHealthCheck{
					"storage": {Status: domain.HealthStatusDegraded, Error: "bucket unreachable"},
				},
			}},
			status:  http.StatusServiceUnavailable,
			body:    domain.HealthStatusDegraded,
			details: []string{"storage: bucket unreachable"},
		},
		{
			name:    "report failed",
			system:  &stubSystemService{err: errors.New("health repository offline")},
			status:  http.StatusServiceUnavailable,
			body:    domain.HealthStatusError,
			details: []string{"health repository offline"},
		},
		{
			name:    "not configured",
			status:  http.StatusServiceUnavailable,
			body:    domain.HealthStatusError,
			details: []string{"system service not configured"},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			opts := []HealthOption{WithHealthClock(func() time.Time { return now })}
			if tc.system != nil {
				opts = append(opts, WithHealthSystemService(tc.system))
			}
			handlers := NewHealthHandlers(opts...)

			rr := httptest.NewRecorder()
			handlers.Readyz(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))

			if rr.Code != tc.status {
				t.Fatalf("expected status %d, got %d", tc.status, rr.Code)
			}
			var body readyzResponse
			if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
				t.Fatalf("failed to parse response: %v", err)
			}
			if body.Status != tc.body {
				t.Fatalf("expected body status %s, got %s", tc.body, body.Status)
			}
			if len(body.Details) != len(tc.details) {
				t.Fatalf("expected details %v, got %v", tc.details, body.Details)
			}
			for i := range tc.details {
				if body.Details[i] != tc.details[i] {
					t.Fatalf("expected details %v, got %v", tc.details, body.Details)
				}
			}
			if tc.name == "healthy" && body.Checks["firestore"].LatencyMS != 12 {
				t.Fatalf("expected firestore latency 12ms, got %+v", body.Checks["firestore"])
			}
		})
	}
}
