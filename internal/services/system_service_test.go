package services

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/gymhub/api/internal/domain"
)

type stubProbes struct {
	collectFn func(ctx context.Context) (domain.SystemHealthReport, error)
}

func (s stubProbes) Collect(ctx context.Context) (domain.SystemHealthReport, error) {
	return s.collectFn(ctx)
}

func probesReturning(checks map[string]domain.SystemHealthCheck) stubProbes {
	return stubProbes{collectFn: func(context.Context) (domain.SystemHealthReport, error) {
		return domain.SystemHealthReport{Checks: checks}, nil
	}}
}

func TestHealthReportAddsBuildMetadata(t *testing.T) {
	started := time.Date(2025, 6, 1, 6, 0, 0, 0, time.UTC)
	now := started.Add(90 * time.Minute)
	svc, err := NewSystemService(SystemServiceDeps{
		HealthRepository: probesReturning(map[string]domain.SystemHealthCheck{"firestore": {Status: domain.HealthStatusOK}}),
		Clock:            func() time.Time { return now },
		Build:            BuildInfo{Version: "v0.4.0", CommitSHA: "9f1c2e", Environment: "stg", StartedAt: started},
	})
	if err != nil {
		t.Fatalf("NewSystemService: %v", err)
	}

	report, err := svc.HealthReport(context.Background())
	if err != nil {
		t.Fatalf("HealthReport: %v", err)
	}
	if report.Status != domain.HealthStatusOK || report.Version != "v0.4.0" || report.CommitSHA != "9f1c2e" || report.Environment != "stg" {
		t.Fatalf("unexpected report %+v", report)
	}
	if report.Uptime != 90*time.Minute || !report.GeneratedAt.Equal(now) {
		t.Fatalf("unexpected timing uptime=%s generated=%s", report.Uptime, report.GeneratedAt)
	}
}

func TestHealthReportStatusFolding(t *testing.T) {
	cases := []struct {
		name   string
		checks map[string]domain.SystemHealthCheck
		want   string
	}{
		{"empty", nil, domain.HealthStatusOK},
		{"degraded", map[string]domain.SystemHealthCheck{
			"pubsub":  {Status: domain.HealthStatusDegraded},
			"secrets": {Status: domain.HealthStatusOK},
		}, domain.HealthStatusDegraded},
		{"error wins", map[string]domain.SystemHealthCheck{
			"pubsub":    {Status: domain.HealthStatusDegraded},
			"firestore": {Status: domain.HealthStatusError},
		}, domain.HealthStatusError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc, err := NewSystemService(SystemServiceDeps{HealthRepository: probesReturning(tc.checks)})
			if err != nil {
				t.Fatalf("NewSystemService: %v", err)
			}
			report, err := svc.HealthReport(context.Background())
			if err != nil {
				t.Fatalf("HealthReport: %v", err)
			}
			if report.Status != tc.want {
				t.Fatalf("status = %s, want %s", report.Status, tc.want)
			}
		})
	}
}

func TestHealthReportPersistenceDriverCheck(t *testing.T) {
	now := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	svc, _ := NewSystemService(SystemServiceDeps{
		HealthRepository: probesReturning(map[string]domain.SystemHealthCheck{"storage": {Status: domain.HealthStatusOK}}),
		Clock:            func() time.Time { return now },
		Driver:           "memory",
	})
	report, err := svc.HealthReport(context.Background())
	if err != nil {
		t.Fatalf("HealthReport: %v", err)
	}
	if check := report.Checks["persistence"]; check.Detail != "memory" || !check.CheckedAt.Equal(now) {
		t.Fatalf("expected persistence check, got %+v", report.Checks)
	}

	svc, _ = NewSystemService(SystemServiceDeps{
		HealthRepository: probesReturning(map[string]domain.SystemHealthCheck{"persistence": {Status: domain.HealthStatusError, Detail: "probe"}}),
		Driver:           "firestore",
	})
	report, _ = svc.HealthReport(context.Background())
	if check := report.Checks["persistence"]; check.Detail != "probe" || report.Status != domain.HealthStatusError {
		t.Fatalf("probed persistence check must be kept, got %+v", report)
	}
}

func TestHealthReportPropagatesProbeFailure(t *testing.T) {
	boom := errors.New("collect failed")
	svc, _ := NewSystemService(SystemServiceDeps{HealthRepository: stubProbes{collectFn: func(context.Context) (domain.SystemHealthReport, error) {
		return domain.SystemHealthReport{}, boom
	}}})
	if _, err := svc.HealthReport(context.Background()); !errors.Is(err, boom) {
		t.Fatalf("expected %v, got %v", boom, err)
	}
	if _, err := NewSystemService(SystemServiceDeps{}); err == nil {
		t.Fatal("expected error without health repository")
	}
}
