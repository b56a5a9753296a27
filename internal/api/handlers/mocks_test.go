package handlers

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"perpguard/internal/models"
	"perpguard/internal/repository"
)

var errMockDB = errors.New("database unavailable")

// ============ MockNotificationService ============

type MockNotificationService struct {
	mu            sync.Mutex
	notifications []*models.Notification
	err           error
	lastTypes     []string
	lastLimit     int
}

func NewMockNotificationService() *MockNotificationService {
	return &MockNotificationService{}
}

func (m *MockNotificationService) GetNotifications(ctx context.Context, types []string, limit int) ([]*models.Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.lastTypes = types
	m.lastLimit = limit
	if m.err != nil {
		return nil, m.err
	}

	filter := make(map[string]bool, len(types))
	for _, t := range types {
		filter[t] = true
	}

	result := make([]*models.Notification, 0)
	for i := len(m.notifications) - 1; i >= 0 && len(result) < limit; i-- {
		n := m.notifications[i]
		if len(filter) > 0 && !filter[n.Type] {
			continue
		}
		result = append(result, n)
	}
	return result, nil
}

func (m *MockNotificationService) AddNotification(notifType, severity, message string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.notifications = append(m.notifications, &models.Notification{
		ID:        len(m.notifications) + 1,
		Timestamp: time.Date(2026, 3, 1, 12, 0, len(m.notifications), 0, time.UTC),
		Type:      notifType,
		Severity:  severity,
		Source:    "test",
		Message:   message,
	})
}

// ============ MockReconciliationJournal ============

type MockReconciliationJournal struct {
	mu          sync.Mutex
	reports     map[string]*models.ReconciliationReport
	adjustments []*models.AdjustmentRecord
	err         error
}

func NewMockReconciliationJournal() *MockReconciliationJournal {
	return &MockReconciliationJournal{reports: make(map[string]*models.ReconciliationReport)}
}

func (m *MockReconciliationJournal) GetReports(ctx context.Context, limit int) ([]*models.ReconciliationReport, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.err != nil {
		return nil, m.err
	}
	result := make([]*models.ReconciliationReport, 0, len(m.reports))
	for _, r := range m.reports {
		result = append(result, r)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Timestamp.After(result[j].Timestamp) })
	if len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (m *MockReconciliationJournal) GetReport(ctx context.Context, id string) (*models.ReconciliationReport, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.err != nil {
		return nil, m.err
	}
	r, ok := m.reports[id]
	if !ok {
		return nil, repository.ErrReportNotFound
	}
	return r, nil
}

func (m *MockReconciliationJournal) GetAdjustments(ctx context.Context, symbol string, limit int) ([]*models.AdjustmentRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.err != nil {
		return nil, m.err
	}
	result := make([]*models.AdjustmentRecord, 0)
	for _, a := range m.adjustments {
		if symbol != "" && a.Symbol != symbol {
			continue
		}
		result = append(result, a)
		if len(result) == limit {
			break
		}
	}
	return result, nil
}

func (m *MockReconciliationJournal) AddReport(r *models.ReconciliationReport) {
	m.mu.Lock()
	m.reports[r.ID] = r
	m.mu.Unlock()
}

func (m *MockReconciliationJournal) AddAdjustment(a *models.AdjustmentRecord) {
	m.mu.Lock()
	m.adjustments = append(m.adjustments, a)
	m.mu.Unlock()
}

// ============ MockOverfillAudit ============

type MockOverfillAudit struct {
	records []*models.OverfillRecord
	err     error
}

func (m *MockOverfillAudit) GetRecent(ctx context.Context, limit int) ([]*models.OverfillRecord, error) {
	if m.err != nil {
		return nil, m.err
	}
	if len(m.records) > limit {
		return m.records[:limit], nil
	}
	return m.records, nil
}

func (m *MockOverfillAudit) GetByOrderID(ctx context.Context, orderID string) ([]*models.OverfillRecord, error) {
	if m.err != nil {
		return nil, m.err
	}
	result := make([]*models.OverfillRecord, 0)
	for _, r := range m.records {
		if r.OrderID == orderID {
			result = append(result, r)
		}
	}
	return result, nil
}

// ============ mockBroadcaster ============

type mockBroadcaster struct {
	mu       sync.Mutex
	breakers []*models.BreakerState
	health   []*models.HealthSummary
	err      error
}

func (b *mockBroadcaster) BroadcastBreakerUpdate(state *models.BreakerState) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.breakers = append(b.breakers, state)
	return b.err
}

func (b *mockBroadcaster) BroadcastHealthUpdate(summary *models.HealthSummary) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.health = append(b.health, summary)
	return b.err
}

// ============ stubVenue ============

type stubVenue struct {
	positions []*models.VenuePosition
	err       error
}

func (v *stubVenue) GetName() string { return "stub" }

func (v *stubVenue) GetOpenPositions(ctx context.Context) ([]*models.VenuePosition, error) {
	return v.positions, v.err
}

func (v *stubVenue) Ping(ctx context.Context) error { return v.err }
