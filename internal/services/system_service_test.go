package services

import (
	"context"
	"testing"
	"time"

	domain "github.com/craftbazaar/api/internal/domain"
)

type stubHealthRepo struct {
	collectFn func(context.Context) (domain.SystemHealthReport, error)
}

func (s *stubHealthRepo) Collect(ctx context.Context) (domain.SystemHealthReport, error) {
	if s.collectFn != nil {
		return s.collectFn(ctx)
	}
	return domain.SystemHealthReport{}, nil
}

func TestSystemServiceHealthReportDerivesStatus(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	started := now.Add(-90 * time.Minute)

	repo := &stubHealthRepo{
		collectFn: func(context.Context) (domain.SystemHealthReport, error) {
			return domain.SystemHealthReport{
				Checks: map[string]domain.SystemHealthCheck{
					"firestore": {Status: domain.HealthStatusOK},
					"pubsub":    {Status: domain.HealthStatusDegraded, Detail: "slow publish"},
				},
			}, nil
		},
	}

	svc, err := NewSystemService(SystemServiceDeps{
		HealthRepository: repo,
		Clock:            func() time.Time { return now },
		Build:            BuildInfo{Version: "1.4.0", Environment: "staging", StartedAt: started},
	})
	if err != nil {
		t.Fatalf("new system service: %v", err)
	}

	report, err := svc.HealthReport(context.Background())
	if err != nil {
		t.Fatalf("health report: %v", err)
	}
	if report.Status != domain.HealthStatusDegraded {
		t.Fatalf("expected degraded status, got %s", report.Status)
	}
	if report.Version != "1.4.0" || report.Environment != "staging" {
		t.Fatalf("expected build info fallback, got %+v", report)
	}
	if report.Uptime != 90*time.Minute {
		t.Fatalf("expected uptime 90m, got %s", report.Uptime)
	}
	if report.GeneratedAt.IsZero() {
		t.Fatalf("expected generatedAt stamped")
	}
}

func TestSystemServiceHealthReportErrorWins(t *testing.T) {
	repo := &stubHealthRepo{
		collectFn: func(context.Context) (domain.SystemHealthReport, error) {
			return domain.SystemHealthReport{
				Checks: map[string]domain.SystemHealthCheck{
					"firestore": {Status: domain.HealthStatusError, Error: "dial timeout"},
					"pubsub":    {Status: domain.HealthStatusOK},
				},
			}, nil
		},
	}

	svc, err := NewSystemService(SystemServiceDeps{HealthRepository: repo})
	if err != nil {
		t.Fatalf("new system service: %v", err)
	}

	report, err := svc.HealthReport(context.Background())
	if err != nil {
		t.Fatalf("health report: %v", err)
	}
	if report.Status != domain.HealthStatusError {
		t.Fatalf("expected error status, got %s", report.Status)
	}
}
