package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"perpguard/internal/bot"
	"perpguard/internal/models"
	"perpguard/internal/repository"
)

func newTestReconciliationService(repo *MockReconciliationRepository) (*ReconciliationService, *bot.CircuitBreakerManager) {
	breakers := bot.NewCircuitBreakerManager(nil, nil, nil)
	s := NewReconciliationService(repo, breakers, nil)
	s.persistRetry.InitialDelay = time.Millisecond
	s.persistRetry.MaxDelay = 5 * time.Millisecond
	return s, breakers
}

func testReport(id string) *models.ReconciliationReport {
	return &models.ReconciliationReport{
		ID:             id,
		Timestamp:      time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		TotalPositions: 2,
		Matched:        1,
		Discrepancies:  1,
		Results:        []*models.ReconciliationResult{},
	}
}

func TestReconciliationService_SaveReport(t *testing.T) {
	repo := NewMockReconciliationRepository()
	hub := &MockBroadcaster{}
	s, breakers := newTestReconciliationService(repo)
	s.SetBroadcaster(hub)

	s.SaveReport(testReport("r-1"))
	s.SaveReport(nil)

	got, err := s.GetReport(context.Background(), "r-1")
	if err != nil || got.Discrepancies != 1 {
		t.Fatalf("report must be persisted, got %+v, %v", got, err)
	}
	if len(hub.reports) != 1 {
		t.Errorf("report must be broadcast once, got %d", len(hub.reports))
	}
	if m, _ := breakers.GetMetrics(bot.BreakerDatabase); m.SuccessfulCalls != 1 {
		t.Errorf("write must go through database breaker, got %+v", m)
	}
}

func TestReconciliationService_SaveReportFailures(t *testing.T) {
	repo := NewMockReconciliationRepository()
	repo.saveErr = errors.New("database down")
	hub := &MockBroadcaster{}
	s, breakers := newTestReconciliationService(repo)
	s.SetBroadcaster(hub)

	s.SaveReport(testReport("r-1"))

	if len(hub.reports) != 1 {
		t.Error("report must be broadcast even when persistence fails")
	}
	status, _ := breakers.GetBreakerStatus(bot.BreakerDatabase)
	if status.ErrorCount != 1 {
		t.Errorf("expected one breaker failure, got %d", status.ErrorCount)
	}

	if _, err := s.GetReport(context.Background(), "r-1"); !errors.Is(err, repository.ErrReportNotFound) {
		t.Errorf("expected ErrReportNotFound, got %v", err)
	}

	// ошибка рассылки не должна паниковать или блокировать
	hub.err = errors.New("hub closed")
	repo.saveErr = nil
	s.SaveReport(testReport("r-2"))
	if _, err := s.GetReport(context.Background(), "r-2"); err != nil {
		t.Errorf("report must be persisted, got %v", err)
	}
}

func TestReconciliationService_Limits(t *testing.T) {
	tests := []struct {
		name      string
		reports   bool
		limit     int
		wantLimit int
	}{
		{name: "reports default", reports: true, limit: 0, wantLimit: 20},
		{name: "reports capped", reports: true, limit: 1000, wantLimit: 200},
		{name: "reports explicit", reports: true, limit: 5, wantLimit: 5},
		{name: "adjustments default", reports: false, limit: -1, wantLimit: 50},
		{name: "adjustments capped", reports: false, limit: 10000, wantLimit: 500},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := NewMockReconciliationRepository()
			s, _ := newTestReconciliationService(repo)

			var err error
			if tt.reports {
				_, err = s.GetReports(context.Background(), tt.limit)
			} else {
				_, err = s.GetAdjustments(context.Background(), "", tt.limit)
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if repo.lastLimit != tt.wantLimit {
				t.Errorf("limit = %d, want %d", repo.lastLimit, tt.wantLimit)
			}
		})
	}
}

func TestReconciliationService_AsReportCallback(t *testing.T) {
	repo := NewMockReconciliationRepository()
	s, _ := newTestReconciliationService(repo)

	r := bot.NewReconciler(bot.DefaultReconcilerConfig(), nil, nil)
	r.SetReportCallback(s.SaveReport)

	report := r.ReconcilePositions(context.Background(),
		[]*models.LocalPosition{{Symbol: "BTCUSDT", Side: models.PositionLong, Quantity: 1, Price: 100}},
		[]*models.VenuePosition{{Symbol: "BTCUSDT", Side: models.PositionLong, Quantity: 1, Price: 100}},
	)

	reports, _ := s.GetReports(context.Background(), 10)
	if len(reports) != 1 || reports[0].ID != report.ID {
		t.Errorf("reconciler report must be journaled, got %+v", reports)
	}
}
