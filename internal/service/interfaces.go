package service

import (
	"context"
	"time"

	"perpguard/internal/bot"
	"perpguard/internal/models"
	"perpguard/internal/repository"
)

// NotificationRepositoryInterface определяет интерфейс репозитория уведомлений
type NotificationRepositoryInterface interface {
	Create(ctx context.Context, n *models.Notification) error
	GetRecent(ctx context.Context, limit int) ([]*models.Notification, error)
	GetByTypes(ctx context.Context, types []string, limit int) ([]*models.Notification, error)
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// ReconciliationRepositoryInterface определяет интерфейс репозитория сверок
type ReconciliationRepositoryInterface interface {
	SaveReport(ctx context.Context, report *models.ReconciliationReport) error
	GetReport(ctx context.Context, id string) (*models.ReconciliationReport, error)
	GetRecentReports(ctx context.Context, limit int) ([]*models.ReconciliationReport, error)
	SaveAdjustment(ctx context.Context, rec *models.AdjustmentRecord) error
	GetAdjustments(ctx context.Context, symbol string, limit int) ([]*models.AdjustmentRecord, error)
}

// OverfillRepositoryInterface определяет интерфейс репозитория overfill
type OverfillRepositoryInterface interface {
	Create(ctx context.Context, rec *models.OverfillRecord) error
	GetRecent(ctx context.Context, limit int) ([]*models.OverfillRecord, error)
	GetByOrderID(ctx context.Context, orderID string) ([]*models.OverfillRecord, error)
}

// Проверяем, что реальные репозитории реализуют интерфейсы
var _ NotificationRepositoryInterface = (*repository.NotificationRepository)(nil)
var _ ReconciliationRepositoryInterface = (*repository.ReconciliationRepository)(nil)
var _ OverfillRepositoryInterface = (*repository.OverfillRepository)(nil)

// ============ Интерфейсы сервисов для Dependency Injection ============

// NotificationServiceInterface определяет интерфейс сервиса уведомлений
type NotificationServiceInterface interface {
	GetNotifications(ctx context.Context, types []string, limit int) ([]*models.Notification, error)
}

// ReconciliationServiceInterface определяет интерфейс журнала сверок
type ReconciliationServiceInterface interface {
	GetReports(ctx context.Context, limit int) ([]*models.ReconciliationReport, error)
	GetReport(ctx context.Context, id string) (*models.ReconciliationReport, error)
	GetAdjustments(ctx context.Context, symbol string, limit int) ([]*models.AdjustmentRecord, error)
}

// OverfillAuditInterface определяет интерфейс журнала overfill
type OverfillAuditInterface interface {
	GetRecent(ctx context.Context, limit int) ([]*models.OverfillRecord, error)
	GetByOrderID(ctx context.Context, orderID string) ([]*models.OverfillRecord, error)
}

// Проверяем, что реальные сервисы реализуют интерфейсы
var _ NotificationServiceInterface = (*NotificationService)(nil)
var _ ReconciliationServiceInterface = (*ReconciliationService)(nil)
var _ OverfillAuditInterface = (*OverfillAudit)(nil)

// AdjustmentService исполняет корректировки сверки и отдаёт локальные позиции
var _ bot.PositionMutator = (*AdjustmentService)(nil)
var _ bot.LocalPositionSource = (*AdjustmentService)(nil)

// normalizeLimit приводит limit к диапазону [1, max], 0 и меньше - def
func normalizeLimit(limit, def, max int) int {
	if limit <= 0 {
		return def
	}
	if limit > max {
		return max
	}
	return limit
}
