package service

import (
	"context"
	"sync"
	"time"

	"perpguard/internal/models"
	"perpguard/internal/repository"
)

// ============ Mock NotificationRepository ============

type MockNotificationRepository struct {
	mu            sync.Mutex
	notifications []*models.Notification
	createErrs    []error // ошибки для последовательных вызовов Create
	createCalls   int
	getErr        error
	lastTypes     []string
	lastLimit     int
	deleted       int64
	lastCutoff    time.Time
	nextID        int
}

func NewMockNotificationRepository() *MockNotificationRepository {
	return &MockNotificationRepository{nextID: 1}
}

func (m *MockNotificationRepository) Create(ctx context.Context, n *models.Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.createCalls++
	if len(m.createErrs) > 0 {
		err := m.createErrs[0]
		m.createErrs = m.createErrs[1:]
		if err != nil {
			return err
		}
	}
	n.ID = m.nextID
	m.nextID++
	m.notifications = append(m.notifications, n)
	return nil
}

func (m *MockNotificationRepository) GetRecent(ctx context.Context, limit int) ([]*models.Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.lastTypes = nil
	m.lastLimit = limit
	if m.getErr != nil {
		return nil, m.getErr
	}
	return m.notifications, nil
}

func (m *MockNotificationRepository) GetByTypes(ctx context.Context, types []string, limit int) ([]*models.Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.lastTypes = types
	m.lastLimit = limit
	if m.getErr != nil {
		return nil, m.getErr
	}
	result := make([]*models.Notification, 0)
	for _, n := range m.notifications {
		for _, t := range types {
			if n.Type == t {
				result = append(result, n)
			}
		}
	}
	return result, nil
}

func (m *MockNotificationRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.lastCutoff = cutoff
	return m.deleted, nil
}

func (m *MockNotificationRepository) stored() []*models.Notification {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*models.Notification(nil), m.notifications...)
}

// ============ Mock ReconciliationRepository ============

type MockReconciliationRepository struct {
	mu          sync.Mutex
	reports     map[string]*models.ReconciliationReport
	adjustments []*models.AdjustmentRecord
	saveErr     error
	adjustErr   error
	lastLimit   int
	nextID      int
}

func NewMockReconciliationRepository() *MockReconciliationRepository {
	return &MockReconciliationRepository{
		reports: make(map[string]*models.ReconciliationReport),
		nextID:  1,
	}
}

func (m *MockReconciliationRepository) SaveReport(ctx context.Context, report *models.ReconciliationReport) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.saveErr != nil {
		return m.saveErr
	}
	m.reports[report.ID] = report
	return nil
}

func (m *MockReconciliationRepository) GetReport(ctx context.Context, id string) (*models.ReconciliationReport, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.reports[id]
	if !ok {
		return nil, repository.ErrReportNotFound
	}
	return r, nil
}

func (m *MockReconciliationRepository) GetRecentReports(ctx context.Context, limit int) ([]*models.ReconciliationReport, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.lastLimit = limit
	result := make([]*models.ReconciliationReport, 0, len(m.reports))
	for _, r := range m.reports {
		result = append(result, r)
	}
	return result, nil
}

func (m *MockReconciliationRepository) SaveAdjustment(ctx context.Context, rec *models.AdjustmentRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.adjustErr != nil {
		return m.adjustErr
	}
	rec.ID = m.nextID
	m.nextID++
	m.adjustments = append(m.adjustments, rec)
	return nil
}

func (m *MockReconciliationRepository) GetAdjustments(ctx context.Context, symbol string, limit int) ([]*models.AdjustmentRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.lastLimit = limit
	result := make([]*models.AdjustmentRecord, 0)
	for _, a := range m.adjustments {
		if symbol == "" || a.Symbol == symbol {
			result = append(result, a)
		}
	}
	return result, nil
}

func (m *MockReconciliationRepository) savedAdjustments() []*models.AdjustmentRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*models.AdjustmentRecord(nil), m.adjustments...)
}

// ============ Mock OverfillRepository ============

type MockOverfillRepository struct {
	mu        sync.Mutex
	records   []*models.OverfillRecord
	createErr error
	block     chan struct{} // если задан, Create ждёт закрытия
}

func NewMockOverfillRepository() *MockOverfillRepository {
	return &MockOverfillRepository{}
}

func (m *MockOverfillRepository) Create(ctx context.Context, rec *models.OverfillRecord) error {
	if m.block != nil {
		<-m.block
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.createErr != nil {
		return m.createErr
	}
	m.records = append(m.records, rec)
	return nil
}

func (m *MockOverfillRepository) GetRecent(ctx context.Context, limit int) ([]*models.OverfillRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if limit < len(m.records) {
		return m.records[:limit], nil
	}
	return m.records, nil
}

func (m *MockOverfillRepository) GetByOrderID(ctx context.Context, orderID string) ([]*models.OverfillRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	result := make([]*models.OverfillRecord, 0)
	for _, r := range m.records {
		if r.OrderID == orderID {
			result = append(result, r)
		}
	}
	return result, nil
}

func (m *MockOverfillRepository) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records)
}

// ============ Mock WebSocket Hub ============

type MockBroadcaster struct {
	mu            sync.Mutex
	notifications []*models.Notification
	reports       []*models.ReconciliationReport
	err           error
}

func (m *MockBroadcaster) BroadcastNotification(n *models.Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.err != nil {
		return m.err
	}
	m.notifications = append(m.notifications, n)
	return nil
}

func (m *MockBroadcaster) BroadcastReconciliationReport(r *models.ReconciliationReport) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.err != nil {
		return m.err
	}
	m.reports = append(m.reports, r)
	return nil
}

func (m *MockBroadcaster) received() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.notifications)
}
